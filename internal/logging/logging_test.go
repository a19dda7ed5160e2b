package logging

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestSetLevel_FiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(slog.LevelInfo)
	})

	Logger().Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug to be filtered at info level, got %q", buf.String())
	}

	SetLevel(slog.LevelDebug)
	Logger().Debug("shown", "character", "secretary")
	if !strings.Contains(buf.String(), "shown") || !strings.Contains(buf.String(), "secretary") {
		t.Fatalf("expected debug line after lowering level, got %q", buf.String())
	}
}
