package cli

import (
	"context"

	"github.com/neoclaw-ai/talkclaw/internal/channels"
	"github.com/neoclaw-ai/talkclaw/internal/config"
	"github.com/neoclaw-ai/talkclaw/internal/scheduler"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Use the assistant interactively in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			svc, err := buildServices(cfg)
			if err != nil {
				return err
			}

			listener := channels.NewCLI(cmd.InOrStdin(), cmd.OutOrStdout())
			reminders := svc.reminderService(map[string]scheduler.Sender{
				channels.CLIChannel: listener,
			})
			return serve(cmd.Context(), reminders, func(ctx context.Context) error {
				return listener.Listen(ctx, svc.router(listener, listener))
			})
		},
	}
}
