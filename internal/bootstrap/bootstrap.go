// Package bootstrap creates the talkclaw home tree on first run.
package bootstrap

import (
	"errors"
	"fmt"
	"os"

	"github.com/neoclaw-ai/talkclaw/internal/config"
	"github.com/neoclaw-ai/talkclaw/internal/store"
)

// Initialize creates the expected talkclaw data tree if missing. Existing
// files are never overwritten.
func Initialize(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	dirs := []string{
		cfg.HomeDir,
		cfg.DataDir(),
		cfg.PolicyDir(),
		cfg.LogsDir(),
		cfg.CustomDir(),
		cfg.CalendarDir(),
		cfg.SessionsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	userConfig, err := config.DefaultUserConfigTOML()
	if err != nil {
		return err
	}

	files := []struct {
		path    string
		content string
	}{
		{path: cfg.ConfigPath(), content: userConfig},
		{path: cfg.AllowedUsersPath(), content: "{\n  \"users\": []\n}\n"},
		{path: cfg.RemindersPath(), content: "[]\n"},
		{path: cfg.CostsPath(), content: ""},
	}
	for _, file := range files {
		if err := writeFileIfMissing(file.path, file.content); err != nil {
			return err
		}
	}
	return nil
}

func writeFileIfMissing(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %q: %w", path, err)
	}

	if err := store.WriteFile(path, []byte(content)); err != nil {
		return fmt.Errorf("write file %q: %w", path, err)
	}
	return nil
}
