package cli

import (
	"fmt"

	"github.com/neoclaw-ai/talkclaw/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print merged configuration as TOML, or validate it with --check",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !check {
				return config.Write(cmd.OutOrStdout())
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config %s: %w", cfg.ConfigPath(), err)
			}

			llm := cfg.DefaultLLM()
			telegram := "disabled"
			if cfg.TelegramChannel().Enabled {
				telegram = "enabled"
			}
			reminders := "off"
			if cfg.Calendar.Reminders {
				reminders = "every minute, " + cfg.Calendar.ReminderLead.String() + " ahead"
			}
			_, err = fmt.Fprintf(
				cmd.OutOrStdout(),
				"Config OK: %s\nModel: %s/%s\nTimezone: %s\nStarting scene: %s\nTelegram: %s\nReminders: %s\n",
				cfg.ConfigPath(),
				llm.Provider, llm.Model,
				cfg.Calendar.Timezone,
				cfg.Persona.DefaultScene,
				telegram,
				reminders,
			)
			return err
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Validate the config and print a summary")
	return cmd
}
