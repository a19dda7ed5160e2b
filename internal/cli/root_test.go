package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	for _, name := range []string{"start", "chat", "pair", "config", "version"} {
		sub, _, err := cmd.Find([]string{name})
		if err != nil {
			t.Fatalf("find %s command: %v", name, err)
		}
		if sub == nil || sub.Name() != name {
			t.Fatalf("%s command not registered", name)
		}
	}
}

func TestVersionPrintsBuildInfo(t *testing.T) {
	createTestHome(t)

	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "talkclaw dev") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestStartRequiresTelegram(t *testing.T) {
	homeDir := createTestHome(t)
	writeTestConfig(t, homeDir, `
[llm.default]
api_key = "test-key"
provider = "anthropic"
model = "claude-sonnet-4-6"

[calendar]
timezone = "UTC"
`)
	useFakeProvider(t, fakeProvider{})

	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"start"})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "telegram") {
		t.Fatalf("expected telegram error, got %v", err)
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	homeDir := createTestHome(t)
	writeTestConfig(t, homeDir, `
[llm.default]
api_key = "test-key"
provider = "anthropic"
model = "claude-sonnet-4-6"

[calendar]
timezone = "Mars/Olympus"
`)

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"start"})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "timezone") {
		t.Fatalf("expected timezone error, got %v", err)
	}
}
