package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

// FileStore keeps the catalog in memory and persists it as one JSON file
// with the same atomic-replace discipline as the dedup store. It is the
// default backend for single-host deployments and matches the original
// all-tickets file the dashboard read.
type FileStore struct {
	mu    sync.RWMutex
	path  string
	byKey map[string]ticket.Ticket
}

// OpenFile loads (or initializes) the catalog file at path.
func OpenFile(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}

	s := &FileStore{path: path, byKey: make(map[string]ticket.Ticket)}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var tickets []ticket.Ticket
	if err := json.Unmarshal(data, &tickets); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	for _, t := range tickets {
		s.byKey[t.Key()] = t
	}
	return s, nil
}

// Upsert replaces records by (source, fingerprint) so repeated crawls keep
// the latest cosmetic fields, then persists the whole set.
func (s *FileStore) Upsert(_ context.Context, tickets []ticket.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tickets {
		s.byKey[t.Key()] = t
	}
	return s.persistLocked()
}

// Query returns a filtered, ordered snapshot of the catalog.
func (s *FileStore) Query(_ context.Context, q ticket.Query) ([]ticket.Ticket, error) {
	s.mu.RLock()
	snapshot := make([]ticket.Ticket, 0, len(s.byKey))
	for _, t := range s.byKey {
		snapshot = append(snapshot, t)
	}
	s.mu.RUnlock()

	return Apply(snapshot, q), nil
}

// Count returns the catalog cardinality.
func (s *FileStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey), nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) persistLocked() error {
	tickets := make([]ticket.Ticket, 0, len(s.byKey))
	for _, t := range s.byKey {
		tickets = append(tickets, t)
	}
	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].Key() < tickets[j].Key()
	})

	data, err := json.MarshalIndent(tickets, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".catalog-*.json")
	if err != nil {
		return fmt.Errorf("create temp catalog file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp catalog file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp catalog file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace catalog file: %w", err)
	}
	return nil
}
