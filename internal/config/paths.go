package config

import "path/filepath"

const (
	// Global layout under TALKCLAW_HOME.
	ConfigFilePath = "config.toml"
	DotEnvFilePath = ".env"
	DataDirPath    = "data"
	PolicyDirPath  = "policy"
	LogsDirPath    = "logs"

	// Data layout under TALKCLAW_HOME/data/.
	CustomDirPath     = "custom"
	CalendarDirPath   = "calendar"
	SessionsDirPath   = "sessions"
	RemindersFileName = "reminders.json"

	AllowedUsersFileName = "allowed_users.json"
	CostsFileName        = "costs.jsonl"
)

func homeConfigPath(home string) string {
	return filepath.Join(home, ConfigFilePath)
}

func defaultHomePath(home string) string {
	return filepath.Join(home, ".talkclaw")
}

func homeDataPath(home string) string {
	return filepath.Join(home, DataDirPath)
}

func (c *Config) ConfigPath() string {
	return homeConfigPath(c.HomeDir)
}

func (c *Config) DataDir() string {
	return homeDataPath(c.HomeDir)
}

func (c *Config) PolicyDir() string {
	return filepath.Join(c.DataDir(), PolicyDirPath)
}

func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir(), LogsDirPath)
}

// CustomDir holds user-created characters and scenes, one JSON file each.
func (c *Config) CustomDir() string {
	return filepath.Join(c.DataDir(), CustomDirPath)
}

func (c *Config) CalendarDir() string {
	return filepath.Join(c.DataDir(), CalendarDirPath)
}

func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir(), SessionsDirPath)
}

func (c *Config) RemindersPath() string {
	return filepath.Join(c.DataDir(), RemindersFileName)
}

func (c *Config) AllowedUsersPath() string {
	return filepath.Join(c.PolicyDir(), AllowedUsersFileName)
}

func (c *Config) CostsPath() string {
	return filepath.Join(c.LogsDir(), CostsFileName)
}
