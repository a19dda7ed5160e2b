package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenRouterProviderChat_RequestAndResponse(t *testing.T) {
	var gotAuth string
	var gotReq map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","content":"好的"}}],
			"usage":{"prompt_tokens":11,"completion_tokens":7,"total_tokens":18,"cost":"0.0012"}
		}`))
	}))
	defer srv.Close()

	p, err := newOpenRouterProviderForTest("test-key", "deepseek/deepseek-chat", 8192, srv.URL+"/api/v1/chat/completions", srv.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	resp, err := p.Chat(context.Background(), ChatRequest{
		SystemPrompt: "be concise",
		MaxTokens:    123,
		Messages:     []ChatMessage{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotReq["model"] != "deepseek/deepseek-chat" {
		t.Fatalf("unexpected model in request: %#v", gotReq["model"])
	}
	if int(gotReq["max_tokens"].(float64)) != 123 {
		t.Fatalf("unexpected max_tokens: %#v", gotReq["max_tokens"])
	}
	msgs, _ := gotReq["messages"].([]any)
	if len(msgs) != 2 || msgs[0].(map[string]any)["role"] != "system" {
		t.Fatalf("expected system message first, got %#v", gotReq["messages"])
	}
	if _, ok := gotReq["response_format"]; ok {
		t.Fatalf("expected no response_format for plain chat")
	}

	if resp.Content != "好的" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if resp.Usage.InputTokens != 11 || resp.Usage.OutputTokens != 7 || resp.Usage.TotalTokens != 18 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
	if resp.Usage.CostUSD == nil || *resp.Usage.CostUSD != 0.0012 {
		t.Fatalf("unexpected cost: %v", resp.Usage.CostUSD)
	}
}

func TestOpenRouterProviderChat_StructuredUsesJSONSchema(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","content":"` + "```json\\n{\\\"count\\\":0,\\\"events\\\":[]}\\n```" + `"}}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}
		}`))
	}))
	defer srv.Close()

	p, err := newOpenRouterProviderForTest("k", "m", 0, srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	raw, err := Complete(context.Background(), p, "sys", "user", ResponseFormat{
		Name:   "calendar_events",
		Schema: map[string]any{"type": "object"},
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	format, _ := gotReq["response_format"].(map[string]any)
	if format["type"] != "json_schema" {
		t.Fatalf("expected json_schema response format, got %#v", gotReq["response_format"])
	}
	schema, _ := format["json_schema"].(map[string]any)
	if schema["name"] != "calendar_events" || schema["strict"] != true {
		t.Fatalf("unexpected json_schema block: %#v", schema)
	}
	if string(raw) != `{"count":0,"events":[]}` {
		t.Fatalf("expected fence-stripped JSON, got %s", raw)
	}
}

func TestOpenRouterProviderChat_InvalidJSONIsModelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"not json"}}],"usage":{}}`))
	}))
	defer srv.Close()

	p, err := newOpenRouterProviderForTest("k", "m", 0, srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	_, err = Complete(context.Background(), p, "sys", "user", ResponseFormat{Name: "x"})
	var modelErr *ModelError
	if !errors.As(err, &modelErr) {
		t.Fatalf("expected ModelError, got %v", err)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                  `{"a":1}`,
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
	}
	for in, want := range cases {
		if got := stripCodeFence(in); got != want {
			t.Fatalf("stripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
