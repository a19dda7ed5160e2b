package cli

import (
	"fmt"
	"time"

	"github.com/neoclaw-ai/talkclaw/internal/app"
	"github.com/neoclaw-ai/talkclaw/internal/approval"
	"github.com/neoclaw-ai/talkclaw/internal/binding"
	"github.com/neoclaw-ai/talkclaw/internal/calendar"
	"github.com/neoclaw-ai/talkclaw/internal/character"
	"github.com/neoclaw-ai/talkclaw/internal/commands"
	"github.com/neoclaw-ai/talkclaw/internal/config"
	"github.com/neoclaw-ai/talkclaw/internal/costs"
	"github.com/neoclaw-ai/talkclaw/internal/persona"
	"github.com/neoclaw-ai/talkclaw/internal/provider"
	"github.com/neoclaw-ai/talkclaw/internal/runtime"
	"github.com/neoclaw-ai/talkclaw/internal/scheduler"
	"github.com/neoclaw-ai/talkclaw/internal/store"
)

var providerFactory = provider.NewProviderFromConfig

// services is the wired application shared by every channel command.
type services struct {
	app       *app.App
	tracker   *costs.Tracker
	reminders *scheduler.Store
	loc       *time.Location
	cfg       *config.Config
}

func buildServices(cfg *config.Config) (*services, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	llmCfg := cfg.DefaultLLM()
	base, err := providerFactory(llmCfg)
	if err != nil {
		return nil, err
	}
	tracker := costs.New(cfg.CostsPath(), costs.Limits{
		DailyUSD:   cfg.Costs.DailyLimit,
		MonthlyUSD: cfg.Costs.MonthlyLimit,
	})
	model := provider.WithUsage(base, tracker, llmCfg.Provider, llmCfg.Model)

	registry, err := character.NewRegistry(store.NewRecords(cfg.CustomDir()))
	if err != nil {
		return nil, fmt.Errorf("load characters: %w", err)
	}
	extractor, err := calendar.NewExtractor(model, loc)
	if err != nil {
		return nil, err
	}
	backend, err := calendar.NewLocalBackend(cfg.CalendarDir(), loc)
	if err != nil {
		return nil, err
	}
	responder := persona.NewResponder(
		model,
		persona.NewComposer(cfg.Persona.HistoryWindow),
		cfg.Persona.MaxTokens,
		cfg.Persona.DevelopmentThreshold,
	)

	var reminders *scheduler.Store
	if cfg.Calendar.Reminders {
		reminders = scheduler.NewStore(cfg.RemindersPath())
	}

	a, err := app.New(app.Deps{
		Registry:  registry,
		Bindings:  binding.New(),
		Extractor: extractor,
		Backend:   backend,
		Responder: responder,
		Reminders: reminders,
	}, app.Options{
		CalendarID:    cfg.Calendar.CalendarID,
		ListLimit:     cfg.Calendar.ListLimit,
		HistoryLimit:  cfg.Persona.HistoryLimit,
		HistoryWindow: cfg.Persona.HistoryWindow,
		SessionsDir:   cfg.SessionsDir(),
		DefaultScene:  cfg.Persona.DefaultScene,
	})
	if err != nil {
		return nil, err
	}

	return &services{
		app:       a,
		tracker:   tracker,
		reminders: reminders,
		loc:       loc,
		cfg:       cfg,
	}, nil
}

// router builds the message handler for one channel. The channel's listener
// answers follow-up prompts and approvals.
func (s *services) router(prompter runtime.Prompter, approver approval.Approver) runtime.Handler {
	handler := commands.New(s.app, prompter, approver, s.tracker, commands.Options{
		CreateTimeout: s.cfg.Flows.CreateTimeout,
		DeleteTimeout: s.cfg.Flows.DeleteTimeout,
		BindTimeout:   s.cfg.Flows.BindTimeout,
	})
	return commands.NewRouter(handler)
}

// reminderService returns nil when reminders are disabled.
func (s *services) reminderService(senders map[string]scheduler.Sender) *scheduler.Service {
	if s.reminders == nil {
		return nil
	}
	runner := scheduler.NewRunner(senders, s.loc)
	return scheduler.NewService(s.reminders, runner, s.cfg.Calendar.ReminderLead, s.loc)
}
