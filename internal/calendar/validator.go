package calendar

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

const (
	eventSchemaURL = "calendar-event.json"
	datePattern    = `^\d{4}-\d{2}-\d{2}$`
	clockPattern   = `^\d{2}:\d{2}$`
)

// fieldOrder is the order in which violations are reported.
var fieldOrder = []string{"title", "date", "start", "end"}

// eventSchema is the JSON schema every event must satisfy. It doubles as the
// structured-output shape requested from the model.
func eventSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string", "description": "活動標題"},
			"date":  map[string]any{"type": "string", "pattern": datePattern, "description": "YYYY-MM-DD"},
			"start": map[string]any{"type": "string", "pattern": clockPattern, "description": "HH:MM, 24 小時制"},
			"end":   map[string]any{"type": "string", "pattern": clockPattern, "description": "HH:MM, 24 小時制, 晚於 start"},
		},
		"required": []any{"title", "date", "start", "end"},
	}
}

// Validator checks candidate event records against the event schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the event schema.
func NewValidator() (*Validator, error) {
	// Round-trip through JSON so the compiler sees plain decoded values.
	raw, err := json.Marshal(eventSchema())
	if err != nil {
		return nil, fmt.Errorf("encode event schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode event schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(eventSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add event schema: %w", err)
	}
	schema, err := compiler.Compile(eventSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks a decoded record with keys title, date, start and end.
// It returns a *SchemaError naming the first violated field.
func (v *Validator) Validate(record map[string]any) error {
	if err := v.schema.Validate(record); err != nil {
		var verr *jsonschema.ValidationError
		if !errors.As(err, &verr) {
			return &SchemaError{Field: "event", Reason: err.Error()}
		}
		return firstViolation(verr)
	}

	start, _ := record["start"].(string)
	end, _ := record["end"].(string)
	// Zero-padded HH:MM strings order the same as the times they encode.
	if end <= start {
		return &SchemaError{Field: "end", Reason: fmt.Sprintf("must be after start (%s - %s)", start, end)}
	}
	return nil
}

// ValidateEvent validates an already typed event.
func (v *Validator) ValidateEvent(e Event) error {
	return v.Validate(e.record())
}

// ValidateJSON decodes raw into a record and validates it.
func (v *Validator) ValidateJSON(raw []byte) (Event, error) {
	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return Event{}, &SchemaError{Field: "event", Reason: "not a JSON object"}
	}
	if err := v.Validate(record); err != nil {
		return Event{}, err
	}
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, &SchemaError{Field: "event", Reason: err.Error()}
	}
	return e, nil
}

type violation struct {
	field  string
	reason string
}

// firstViolation flattens the validation error tree and picks the violation
// on the earliest field in fieldOrder.
func firstViolation(verr *jsonschema.ValidationError) *SchemaError {
	var found []violation
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, cause := range e.Causes {
				walk(cause)
			}
			return
		}
		switch k := e.ErrorKind.(type) {
		case *kind.Required:
			for _, missing := range k.Missing {
				found = append(found, violation{field: missing, reason: "is required"})
			}
		case *kind.Pattern:
			found = append(found, violation{field: instanceField(e), reason: fmt.Sprintf("%q does not match %s", k.Got, k.Want)})
		case *kind.Type:
			found = append(found, violation{field: instanceField(e), reason: "must be a string"})
		default:
			found = append(found, violation{field: instanceField(e), reason: "is invalid"})
		}
	}
	walk(verr)

	for _, field := range fieldOrder {
		for _, v := range found {
			if v.field == field {
				return &SchemaError{Field: v.field, Reason: v.reason}
			}
		}
	}
	if len(found) > 0 {
		return &SchemaError{Field: found[0].field, Reason: found[0].reason}
	}
	return &SchemaError{Field: "event", Reason: verr.Error()}
}

func instanceField(e *jsonschema.ValidationError) string {
	if len(e.InstanceLocation) == 0 {
		return "event"
	}
	return e.InstanceLocation[0]
}
