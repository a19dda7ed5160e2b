// Package persona composes in-character replies from a character profile,
// the current scene, bound background material and recent conversation.
package persona

import (
	"time"

	"github.com/neoclaw-ai/talkclaw/internal/provider"
)

// Entry is one line of a persona conversation.
type Entry struct {
	Role      provider.Role `json:"role"`
	Content   string        `json:"content"`
	Character string        `json:"character"`
	Scene     string        `json:"scene"`
	At        time.Time     `json:"timestamp"`
}

// History is a bounded conversation log. The oldest entries are dropped once
// the limit is exceeded. It is not safe for concurrent use.
type History struct {
	limit   int
	entries []Entry
}

// NewHistory returns a history that keeps at most limit entries. A
// non-positive limit keeps everything.
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Append adds entries and trims to the limit.
func (h *History) Append(entries ...Entry) {
	h.entries = append(h.entries, entries...)
	if h.limit > 0 && len(h.entries) > h.limit {
		h.entries = append([]Entry(nil), h.entries[len(h.entries)-h.limit:]...)
	}
}

// Recent returns a copy of the last n entries.
func (h *History) Recent(n int) []Entry {
	if n <= 0 || len(h.entries) == 0 {
		return nil
	}
	start := len(h.entries) - n
	if start < 0 {
		start = 0
	}
	return append([]Entry(nil), h.entries[start:]...)
}

// Entries returns a copy of the whole history.
func (h *History) Entries() []Entry {
	return append([]Entry(nil), h.entries...)
}

// Len reports the number of entries kept.
func (h *History) Len() int {
	return len(h.entries)
}

// Clear drops every entry and reports how many there were.
func (h *History) Clear() int {
	n := len(h.entries)
	h.entries = nil
	return n
}
