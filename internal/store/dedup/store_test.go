package dedup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketwatch/ticketwatch/internal/clock/clocktest"
	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

func newTicket(source ticket.Source, url string) ticket.Ticket {
	t := ticket.Ticket{Source: source, Title: "t", URL: url}
	t.Fingerprint = ticket.Fingerprint(t)
	return t
}

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, clocktest.At(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCommitIsIdempotent(t *testing.T) {
	t.Parallel()

	s := openStore(t, filepath.Join(t.TempDir(), "sent.json"))
	tk := newTicket("melon", "https://example.com/1")

	require.NoError(t, s.Commit(tk))
	require.NoError(t, s.Commit(tk), "recommitting a known key must succeed as a no-op")
	assert.Equal(t, 1, s.Len())

	// A second ticket with the same (source, fingerprint) is the same
	// listing; membership answers identically for both.
	other := tk
	other.ImageURL = "https://cdn.example.com/x.jpg"
	assert.True(t, s.IsKnown(other.Source, other.Fingerprint))
}

func TestFilterNewPreservesOrderAndIsPure(t *testing.T) {
	t.Parallel()

	s := openStore(t, filepath.Join(t.TempDir(), "sent.json"))
	a := newTicket("melon", "https://example.com/a")
	b := newTicket("melon", "https://example.com/b")
	c := newTicket("yes24", "https://example.com/c")
	require.NoError(t, s.Commit(b))

	in := []ticket.Ticket{a, b, c}
	first := s.FilterNew(in)
	second := s.FilterNew(in)

	require.Len(t, first, 2)
	assert.Equal(t, a.Key(), first[0].Key())
	assert.Equal(t, c.Key(), first[1].Key())
	assert.Equal(t, first, second, "filter without intervening commit must be stable")
	assert.Equal(t, 1, s.Len(), "filter must not mutate the store")
}

func TestFilterNewCollapsesInputRepeats(t *testing.T) {
	t.Parallel()

	s := openStore(t, filepath.Join(t.TempDir(), "sent.json"))
	a := newTicket("melon", "https://example.com/a")

	got := s.FilterNew([]ticket.Ticket{a, a, a})
	assert.Len(t, got, 1)
}

func TestReloadAfterRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sent.json")
	tk := newTicket("interpark", "https://example.com/restart")

	s, err := Open(path, clocktest.At(time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.Commit(tk))
	require.NoError(t, s.Close())

	reopened := openStore(t, path)
	assert.True(t, reopened.IsKnown(tk.Source, tk.Fingerprint))
	assert.Equal(t, 1, reopened.Len())
}

func TestCommitFailureRollsBack(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "sent.json")
	s := openStore(t, path)

	// Make the directory unwritable so the temp-file write fails.
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { os.Chmod(dir, 0o750) })

	tk := newTicket("melon", "https://example.com/fail")
	err := s.Commit(tk)
	require.Error(t, err)

	var derr *ticket.DedupStoreError
	assert.True(t, errors.As(err, &derr))
	assert.False(t, s.IsKnown(tk.Source, tk.Fingerprint), "failed commit must not be remembered")

	// Once the directory is writable again the same commit succeeds.
	require.NoError(t, os.Chmod(dir, 0o750))
	require.NoError(t, s.Commit(tk))
}

func TestSecondWriterRejected(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sent.json")
	_ = openStore(t, path)

	_, err := Open(path, clocktest.At(time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
}

func TestPruneOlderThan(t *testing.T) {
	t.Parallel()

	clk := clocktest.At(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "sent.json")
	s, err := Open(path, clk)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	old := newTicket("melon", "https://example.com/old")
	require.NoError(t, s.Commit(old))

	clk.Advance(90 * 24 * time.Hour)
	fresh := newTicket("melon", "https://example.com/fresh")
	require.NoError(t, s.Commit(fresh))

	removed, err := s.PruneOlderThan(clk.Now().Add(-30 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, s.IsKnown(old.Source, old.Fingerprint))
	assert.True(t, s.IsKnown(fresh.Source, fresh.Fingerprint))
}
