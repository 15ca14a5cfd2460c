// Package dedup persists the set of already-notified listing fingerprints.
//
// The whole store is loaded into memory at startup (cardinality is tens of
// thousands at most) and every commit is written through to disk with an
// atomic replace before it is acknowledged, so a crash mid-write can never
// corrupt the file or lose previously committed records.
package dedup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

// Store is a file-backed ticket.DedupStore. It is safe for concurrent use
// within one process; an advisory lock file guards against a second
// orchestrator process writing the same store.
type Store struct {
	mu       sync.RWMutex
	path     string
	lockPath string
	records  map[string]ticket.DedupRecord
	clock    ticket.Clock
}

// Open loads the store at path, creating an empty one if the file does not
// exist, and acquires the writer lock. The caller must Close it.
func Open(path string, clock ticket.Clock) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("dedup store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create dedup store directory: %w", err)
	}

	s := &Store{
		path:     path,
		lockPath: path + ".lock",
		records:  make(map[string]ticket.DedupRecord),
		clock:    clock,
	}
	if err := s.acquireLock(); err != nil {
		return nil, err
	}
	if err := s.load(); err != nil {
		s.releaseLock()
		return nil, err
	}
	return s, nil
}

// Close releases the writer lock.
func (s *Store) Close() error {
	s.releaseLock()
	return nil
}

// IsKnown reports whether the (source, fingerprint) key was notified.
func (s *Store) IsKnown(source ticket.Source, fingerprint string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[string(source)+"\x1f"+fingerprint]
	return ok
}

// FilterNew returns the tickets not yet known, in input order. Repeats of
// the same key within the input collapse to the first occurrence. The
// store is not mutated; mutation happens only via Commit.
func (s *Store) FilterNew(tickets []ticket.Ticket) []ticket.Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ticket.Ticket, 0, len(tickets))
	seen := make(map[string]struct{}, len(tickets))
	for _, t := range tickets {
		key := t.Key()
		if _, ok := s.records[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Commit durably records the ticket's key. Committing an already-known key
// is a no-op success. On a persistence failure the in-memory set is rolled
// back and a DedupStoreError is returned, so the caller never bookkeeps an
// unconfirmed notification.
func (s *Store) Commit(t ticket.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := t.Key()
	if _, ok := s.records[key]; ok {
		return nil
	}
	s.records[key] = ticket.DedupRecord{
		Source:      t.Source,
		Fingerprint: t.Fingerprint,
		NotifiedAt:  s.clock.Now(),
	}
	if err := s.persistLocked(); err != nil {
		delete(s.records, key)
		return &ticket.DedupStoreError{Err: err}
	}
	return nil
}

// Len returns the number of known records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// PruneOlderThan drops records whose notification timestamp is before
// cutoff. Operator-driven housekeeping; never required for correctness.
func (s *Store) PruneOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]ticket.DedupRecord)
	for key, rec := range s.records {
		if rec.NotifiedAt.Before(cutoff) {
			removed[key] = rec
			delete(s.records, key)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}
	if err := s.persistLocked(); err != nil {
		for key, rec := range removed {
			s.records[key] = rec
		}
		return 0, &ticket.DedupStoreError{Err: err}
	}
	return len(removed), nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read dedup store: %w", err)
	}
	var recs []ticket.DedupRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return fmt.Errorf("decode dedup store %s: %w", s.path, err)
	}
	for _, r := range recs {
		s.records[string(r.Source)+"\x1f"+r.Fingerprint] = r
	}
	return nil
}

// persistLocked writes the full record set to a temp file in the store's
// directory and renames it into place. Rename within one filesystem is
// atomic, so readers and crashed writers only ever observe a complete file.
func (s *Store) persistLocked() error {
	recs := make([]ticket.DedupRecord, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Source != recs[j].Source {
			return recs[i].Source < recs[j].Source
		}
		return recs[i].Fingerprint < recs[j].Fingerprint
	})

	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dedup store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".dedup-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace dedup store: %w", err)
	}
	return nil
}

// acquireLock takes an advisory lock file containing this process's pid.
// A lock held by a process that no longer exists is taken over, so a crash
// does not wedge restarts.
func (s *Store) acquireLock() error {
	for i := 0; i < 2; i++ {
		f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			return f.Close()
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create dedup lock: %w", err)
		}
		if !s.lockIsStale() {
			return fmt.Errorf("dedup store %s is locked by another process", s.path)
		}
		os.Remove(s.lockPath)
	}
	return fmt.Errorf("dedup store %s: could not take over stale lock", s.path)
}

func (s *Store) lockIsStale() bool {
	data, err := os.ReadFile(s.lockPath)
	if err != nil {
		return true
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true
	}
	if pid == os.Getpid() {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	return proc.Signal(syscall.Signal(0)) != nil
}

func (s *Store) releaseLock() {
	os.Remove(s.lockPath)
}
