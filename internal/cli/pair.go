package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/neoclaw-ai/talkclaw/internal/channels"
	"github.com/neoclaw-ai/talkclaw/internal/config"
	"github.com/spf13/cobra"
)

const (
	pairTimeout     = 15 * time.Minute
	maxPairAttempts = 3
)

type pairSession interface {
	BotUsername() string
	Username() string
	Name() string
	SubmitCode(ctx context.Context, entered string) error
}

var beginPairing = func(ctx context.Context, token, allowedUsersPath string) (pairSession, error) {
	session, err := channels.BeginTelegramPairing(ctx, token, allowedUsersPath)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func newPairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Authorize a Telegram user for bot access",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			token := strings.TrimSpace(cfg.TelegramChannel().Token)
			if token == "" {
				return errors.New("telegram bot token is not configured. Set [channels.telegram] token in config.toml")
			}

			pidPath := pidFilePath(cfg)
			if _, err := os.Stat(pidPath); err == nil {
				return errors.New("server appears to be running. Stop it first, then run talkclaw pair")
			} else if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("stat pid file %q: %w", pidPath, err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), pairTimeout)
			defer cancel()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Pairing mode active for 15 minutes. Message your bot in Telegram to receive a pairing code.")

			session, err := beginPairing(ctx, token, cfg.AllowedUsersPath())
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					fmt.Fprintln(out, "Pairing timed out.")
				}
				return err
			}

			who := session.Username()
			if who == "" {
				who = session.Name()
			}
			fmt.Fprintf(out, "Message received from %s via @%s.\n", who, session.BotUsername())
			return submitPairCode(ctx, session, cmd.InOrStdin(), out)
		},
	}
}

func submitPairCode(ctx context.Context, session pairSession, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	for attempt := 1; attempt <= maxPairAttempts; attempt++ {
		fmt.Fprint(out, "Enter pairing code: ")
		line, err := reader.ReadString('\n')
		if err != nil && strings.TrimSpace(line) == "" {
			return fmt.Errorf("read pairing code: %w", err)
		}

		err = session.SubmitCode(ctx, line)
		switch {
		case err == nil:
			fmt.Fprintln(out, "Pairing complete. Restart talkclaw to apply.")
			return nil
		case errors.Is(err, channels.ErrWrongCode):
			fmt.Fprintln(out, "Wrong code.")
		default:
			return err
		}
	}
	return fmt.Errorf("pairing failed after %d attempts: %w", maxPairAttempts, channels.ErrWrongCode)
}
