package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runConfigCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append([]string{"config"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigPrintsMergedConfig(t *testing.T) {
	homeDir := createTestHome(t)
	writeValidConfig(t, homeDir)

	got, err := runConfigCmd(t)
	if err != nil {
		t.Fatalf("execute config: %v", err)
	}
	for _, want := range []string{"[llm.default]", "provider = 'anthropic'", "[calendar]", "[persona]", "default_scene = ", "bind_timeout = '1m0s'"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in merged config, got %q", want, got)
		}
	}
	if _, err := os.Stat(filepath.Join(homeDir, "data")); !os.IsNotExist(err) {
		t.Fatalf("expected config command not to bootstrap the home tree, stat err=%v", err)
	}
}

func TestConfigCheckSummarisesValidConfig(t *testing.T) {
	homeDir := createTestHome(t)
	writeTestConfig(t, homeDir, `
[llm.default]
api_key = "test-key"
provider = "openrouter"
model = "anthropic/claude-3.5-sonnet"

[calendar]
timezone = "Asia/Taipei"
reminders = true
reminder_lead = "15m"

[persona]
default_scene = "咖啡廳"
`)

	got, err := runConfigCmd(t, "--check")
	if err != nil {
		t.Fatalf("execute config --check: %v", err)
	}
	for _, want := range []string{
		"Config OK: " + filepath.Join(homeDir, "config.toml"),
		"Model: openrouter/anthropic/claude-3.5-sonnet",
		"Timezone: Asia/Taipei",
		"Starting scene: 咖啡廳",
		"Telegram: disabled",
		"Reminders: every minute, 15m0s ahead",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in summary, got %q", want, got)
		}
	}
}

func TestConfigCheckRejectsInvalidTimezone(t *testing.T) {
	homeDir := createTestHome(t)
	writeTestConfig(t, homeDir, `
[llm.default]
api_key = "test-key"
provider = "anthropic"
model = "claude-sonnet-4-6"

[calendar]
timezone = "Mars/Olympus"
`)

	_, err := runConfigCmd(t, "--check")
	if err == nil || !strings.Contains(err.Error(), "invalid config") || !strings.Contains(err.Error(), "timezone") {
		t.Fatalf("expected invalid timezone error, got %v", err)
	}
}
