// Package session persists persona conversation transcripts as JSONL, one
// file per user, with append, load and reset operations.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/neoclaw-ai/talkclaw/internal/persona"
	"github.com/neoclaw-ai/talkclaw/internal/store"
)

// Store persists one user's conversation in a JSONL file.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a session store for one transcript file.
func New(path string) *Store {
	return &Store{path: path}
}

// ForUser returns the store for userID under dir.
func ForUser(dir, userID string) (*Store, error) {
	key, err := store.SanitizeName(userID)
	if err != nil {
		return nil, fmt.Errorf("session user id: %w", err)
	}
	return New(filepath.Join(dir, key+".jsonl")), nil
}

// Load reads all valid JSONL records from disk. Malformed lines are skipped.
func (s *Store) Load(ctx context.Context) ([]persona.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.path == "" {
		return nil, errors.New("session path is required")
	}

	content, err := store.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []persona.Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	entries := make([]persona.Entry, 0)
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry persona.Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan session file: %w", err)
	}
	return entries, nil
}

// Append appends entries as JSONL records.
func (s *Store) Append(ctx context.Context, entries []persona.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	if s == nil || s.path == "" {
		return errors.New("session path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := encode(entries)
	if err != nil {
		return err
	}
	if err := store.AppendFile(s.path, data); err != nil {
		return fmt.Errorf("append session record: %w", err)
	}
	return nil
}

// Rewrite replaces the transcript with entries.
func (s *Store) Rewrite(ctx context.Context, entries []persona.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.path == "" {
		return errors.New("session path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := encode(entries)
	if err != nil {
		return err
	}
	if err := store.WriteFile(s.path, data); err != nil {
		return fmt.Errorf("rewrite session record: %w", err)
	}
	return nil
}

// Reset clears the persisted transcript.
func (s *Store) Reset(ctx context.Context) error {
	return s.Rewrite(ctx, nil)
}

func encode(entries []persona.Entry) ([]byte, error) {
	var b strings.Builder
	for _, entry := range entries {
		encoded, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("marshal session record: %w", err)
		}
		b.Write(encoded)
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}
