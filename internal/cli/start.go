package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/neoclaw-ai/talkclaw/internal/channels"
	"github.com/neoclaw-ai/talkclaw/internal/config"
	"github.com/neoclaw-ai/talkclaw/internal/logging"
	"github.com/neoclaw-ai/talkclaw/internal/scheduler"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	pidFileName     = "talkclaw.pid"
	shutdownTimeout = 5 * time.Second
)

func pidFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir(), pidFileName)
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the Telegram bot and reminder service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			telegram := cfg.TelegramChannel()
			if !telegram.Enabled || strings.TrimSpace(telegram.Token) == "" {
				return errors.New("telegram channel is not enabled. Set [channels.telegram] enabled and token in config.toml, or run talkclaw chat")
			}

			svc, err := buildServices(cfg)
			if err != nil {
				return err
			}

			llm := cfg.DefaultLLM()
			logging.Logger().Info(
				"starting server",
				"provider", llm.Provider,
				"model", llm.Model,
				"home_dir", cfg.HomeDir,
				"timezone", cfg.Calendar.Timezone,
			)

			pidPath := pidFilePath(cfg)
			if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
				return fmt.Errorf("write pid file %q: %w", pidPath, err)
			}
			defer func() {
				os.Remove(pidPath)
			}()

			listener := channels.NewTelegram(telegram.Token, cfg.AllowedUsersPath())
			reminders := svc.reminderService(map[string]scheduler.Sender{
				channels.TelegramChannel: listener,
			})

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err = serve(runCtx, reminders, func(ctx context.Context) error {
				return listener.Listen(ctx, svc.router(listener, listener))
			})
			if err != nil {
				return err
			}
			logging.Logger().Info("server stopped")
			return nil
		},
	}
}

// serve runs listen alongside the reminder service until listen returns or
// ctx ends. reminders may be nil.
func serve(ctx context.Context, reminders *scheduler.Service, listen func(context.Context) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if reminders != nil {
		if err := reminders.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			return reminders.Stop(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return listen(gctx)
	})
	return g.Wait()
}
