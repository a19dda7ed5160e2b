package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/neoclaw-ai/talkclaw/internal/binding"
	"github.com/neoclaw-ai/talkclaw/internal/calendar"
	"github.com/neoclaw-ai/talkclaw/internal/character"
	"github.com/neoclaw-ai/talkclaw/internal/logging"
	"github.com/neoclaw-ai/talkclaw/internal/session"
)

// Tier selects how much state a reset discards.
type Tier string

const (
	// TierSoft clears conversations, staged events and bindings.
	TierSoft Tier = "soft"
	// TierHard additionally deletes custom characters, scenes and drafts.
	TierHard Tier = "hard"
	// TierFull additionally wipes the custom storage area and returns to the
	// default scene.
	TierFull Tier = "full"
)

// ResetResult reports what a reset removed.
type ResetResult struct {
	ResetType string         `json:"reset_type"`
	Success   bool           `json:"success"`
	Details   map[string]int `json:"details,omitempty"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Reset discards state according to tier. Any failure is reported in the
// result rather than returned.
func (a *App) Reset(ctx context.Context, tier Tier) ResetResult {
	tier = Tier(strings.ToLower(strings.TrimSpace(string(tier))))
	result := ResetResult{ResetType: string(tier), Details: map[string]int{}}

	switch tier {
	case TierSoft, TierHard, TierFull:
	default:
		result.Error = fmt.Sprintf("不支援的重置類型: %s", tier)
		return result
	}

	transcripts := a.resetMemory(result.Details)
	for _, t := range transcripts {
		if err := t.Reset(ctx); err != nil {
			logging.Logger().Warn("clear transcript failed", "err", err)
		}
	}

	switch tier {
	case TierHard:
		counts, err := a.registry.ClearAllCustom()
		addClearCounts(result.Details, counts)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		a.mu.Lock()
		if scene, ok := a.registry.Scene(a.scene.Name); ok {
			a.scene = scene
		} else {
			a.scene = defaultScene(a.registry, a.opts.DefaultScene)
		}
		a.mu.Unlock()
	case TierFull:
		counts, err := a.registry.ResetToFactory()
		addClearCounts(result.Details, counts)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		a.mu.Lock()
		a.scene = defaultScene(a.registry, a.opts.DefaultScene)
		a.conversations = make(map[string]*conversation)
		a.mu.Unlock()
	}

	result.Success = true
	result.Message = fmt.Sprintf("系統已成功初始化 (%s重置)", tier)
	logging.Logger().Info("system reset", "tier", tier, "details", result.Details)
	return result
}

// resetMemory performs the soft tier under the lock and returns the
// transcripts to clear once it is released.
func (a *App) resetMemory(details map[string]int) []*session.Store {
	a.mu.Lock()
	defer a.mu.Unlock()

	var transcripts []*session.Store
	history := 0
	for _, conv := range a.conversations {
		history += conv.history.Clear()
		if conv.transcript != nil {
			transcripts = append(transcripts, conv.transcript)
		}
	}
	details["conversation_history"] = history

	active := 0
	for _, events := range a.pending {
		active += len(events)
	}
	a.pending = make(map[string][]calendar.Event)
	details["active_events"] = active

	addBindingCounts(details, a.bindings.ClearAll())
	return transcripts
}

func addBindingCounts(details map[string]int, c binding.Counts) {
	details["bound_characters"] = c.Characters
	details["stories"] = c.Stories
	details["personal_events"] = c.Events
	details["character_arc"] = c.Arc
	details["secrets"] = c.Secrets
	details["motivations"] = c.Motivations
}

func addClearCounts(details map[string]int, c character.ClearCounts) {
	details["custom_characters"] = c.Characters
	details["custom_scenes"] = c.Scenes
	details["background_drafts"] = c.Backgrounds
}
