package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ticketwatch/ticketwatch/internal/archive"
	"github.com/ticketwatch/ticketwatch/internal/clock/clocktest"
	"github.com/ticketwatch/ticketwatch/internal/metrics"
	"github.com/ticketwatch/ticketwatch/internal/normalize"
	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fakeAdapter struct {
	name     ticket.Source
	listings []ticket.RawListing
	errs     []error
	mu       sync.Mutex
	calls    int
}

func (a *fakeAdapter) Name() ticket.Source { return a.name }

func (a *fakeAdapter) Fetch(_ context.Context) ([]ticket.RawListing, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	call := a.calls
	a.calls++
	if call < len(a.errs) && a.errs[call] != nil {
		return nil, a.errs[call]
	}
	return a.listings, nil
}

type fakeDedup struct {
	mu        sync.Mutex
	known     map[string]struct{}
	commitErr error
}

func newFakeDedup(seed ...ticket.Ticket) *fakeDedup {
	d := &fakeDedup{known: make(map[string]struct{})}
	for _, t := range seed {
		d.known[t.Key()] = struct{}{}
	}
	return d
}

func (d *fakeDedup) IsKnown(source ticket.Source, fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.known[string(source)+"\x1f"+fingerprint]
	return ok
}

func (d *fakeDedup) FilterNew(tickets []ticket.Ticket) []ticket.Ticket {
	d.mu.Lock()
	defer d.mu.Unlock()
	var fresh []ticket.Ticket
	seen := make(map[string]struct{})
	for _, t := range tickets {
		key := t.Key()
		if _, ok := d.known[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, t)
	}
	return fresh
}

func (d *fakeDedup) Commit(t ticket.Ticket) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.commitErr != nil {
		return d.commitErr
	}
	d.known[t.Key()] = struct{}{}
	return nil
}

func (d *fakeDedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.known)
}

type fakeCatalog struct {
	mu       sync.Mutex
	upserted []ticket.Ticket
	err      error
}

func (c *fakeCatalog) Upsert(_ context.Context, tickets []ticket.Ticket) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.upserted = append(c.upserted, tickets...)
	return nil
}

func (c *fakeCatalog) Query(_ context.Context, _ ticket.Query) ([]ticket.Ticket, error) {
	return nil, nil
}

func (c *fakeCatalog) Count(_ context.Context) (int, error) { return 0, nil }

func (c *fakeCatalog) Close() error { return nil }

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []ticket.Ticket
	failFor map[string]error
}

func (n *fakeNotifier) Send(_ context.Context, t ticket.Ticket) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err, ok := n.failFor[t.Title]; ok {
		return err
	}
	n.sent = append(n.sent, t)
	return nil
}

var testNow = time.Date(2024, 7, 20, 9, 0, 0, 0, time.UTC)

func rawListing(title, openDate, u string) ticket.RawListing {
	return ticket.RawListing{
		Title:       title,
		OpenDateRaw: openDate,
		Place:       "Test Hall",
		URL:         u,
	}
}

func normalized(t *testing.T, source ticket.Source, raw ticket.RawListing) ticket.Ticket {
	t.Helper()
	tk, err := normalize.New(nil).Normalize(source, raw, testNow)
	require.NoError(t, err)
	return tk
}

type fixture struct {
	orch     *Orchestrator
	dedup    *fakeDedup
	catalog  *fakeCatalog
	notifier *fakeNotifier
}

func newFixture(t *testing.T, cfg Config, entries []Entry, seed ...ticket.Ticket) *fixture {
	t.Helper()
	f := &fixture{
		dedup:    newFakeDedup(seed...),
		catalog:  &fakeCatalog{},
		notifier: &fakeNotifier{},
	}
	f.orch = New(
		entries,
		normalize.New(nil),
		f.dedup,
		f.catalog,
		f.notifier,
		archive.NoOp{},
		clocktest.At(testNow),
		cfg,
		zap.NewNop(),
	)
	return f
}

func TestRunCycleEndToEnd(t *testing.T) {
	t.Parallel()

	knownRaw := rawListing("Known Show", "2024-08-05 18:00", "https://c.example.com/9")
	known := normalized(t, "siteC", knownRaw)

	entries := []Entry{
		{Adapter: &fakeAdapter{name: "siteA", listings: []ticket.RawListing{
			rawListing("Late Opener", "2024-09-01 12:00", "https://a.example.com/2"),
			rawListing("Early Opener", "2024-08-01 14:00", "https://a.example.com/1"),
		}}},
		{Adapter: &fakeAdapter{name: "siteB", errs: []error{
			ticket.NewFetchError("siteB", ticket.FetchTimeout, context.DeadlineExceeded),
		}}},
		{Adapter: &fakeAdapter{name: "siteC", listings: []ticket.RawListing{knownRaw}}},
	}

	f := newFixture(t, Config{}, entries, known)
	result := f.orch.RunCycle(context.Background())

	require.Len(t, result.Outcomes, 3)
	assert.True(t, result.Outcomes["siteA"].OK)
	assert.Equal(t, 2, result.Outcomes["siteA"].TicketCount)
	assert.False(t, result.Outcomes["siteB"].OK)
	assert.Equal(t, ticket.FetchTimeout, result.Outcomes["siteB"].Cause)
	assert.True(t, result.Outcomes["siteC"].OK)

	// Known ticket filtered; new ones ordered by open date ascending.
	require.Len(t, result.NewTickets, 2)
	assert.Equal(t, "Early Opener", result.NewTickets[0].Title)
	assert.Equal(t, "Late Opener", result.NewTickets[1].Title)

	assert.Equal(t, 2, result.Notified)
	assert.Zero(t, result.Deferred)
	assert.Zero(t, result.Failed)

	// Catalog sees everything, including the known ticket.
	assert.Len(t, f.catalog.upserted, 3)

	// Delivered tickets are now committed.
	for _, tk := range result.NewTickets {
		assert.True(t, f.dedup.IsKnown(tk.Source, tk.Fingerprint))
	}
}

func TestRunCycleRetriesFetch(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		name:     "flaky",
		errs:     []error{ticket.NewFetchError("flaky", ticket.FetchUnknown, errors.New("reset"))},
		listings: []ticket.RawListing{rawListing("Recovered", "2024-08-10", "https://f.example.com/1")},
	}
	f := newFixture(t, Config{RetryBackoff: time.Millisecond}, []Entry{{Adapter: adapter, Retries: 2}})

	result := f.orch.RunCycle(context.Background())
	assert.True(t, result.Outcomes["flaky"].OK)
	assert.Equal(t, 2, adapter.calls)
	assert.Equal(t, 1, result.Notified)
}

func TestRunCyclePerCycleCapDefers(t *testing.T) {
	t.Parallel()

	listings := []ticket.RawListing{
		rawListing("One", "2024-08-01", "https://a.example.com/1"),
		rawListing("Two", "2024-08-02", "https://a.example.com/2"),
		rawListing("Three", "2024-08-03", "https://a.example.com/3"),
	}
	entries := []Entry{{Adapter: &fakeAdapter{name: "siteA", listings: listings}}}
	f := newFixture(t, Config{PerCycleCap: 2}, entries)

	result := f.orch.RunCycle(context.Background())
	assert.Equal(t, 2, result.Notified)
	assert.Equal(t, 1, result.Deferred)

	// The deferred ticket was not committed and surfaces next cycle.
	second := f.orch.RunCycle(context.Background())
	require.Len(t, second.NewTickets, 1)
	assert.Equal(t, "Three", second.NewTickets[0].Title)
	assert.Equal(t, 1, second.Notified)
}

func TestRunCycleDeliveryFailureLeavesUncommitted(t *testing.T) {
	t.Parallel()

	listings := []ticket.RawListing{
		rawListing("Delivered", "2024-08-01", "https://a.example.com/1"),
		rawListing("Undeliverable", "2024-08-02", "https://a.example.com/2"),
	}
	entries := []Entry{{Adapter: &fakeAdapter{name: "siteA", listings: listings}}}
	f := newFixture(t, Config{}, entries)
	f.notifier.failFor = map[string]error{
		"Undeliverable": &ticket.DeliveryError{StatusCode: 500, Err: errors.New("boom")},
	}

	result := f.orch.RunCycle(context.Background())
	assert.Equal(t, 1, result.Notified)
	assert.Equal(t, 1, result.Failed)

	// The failed ticket reappears as new once delivery recovers.
	f.notifier.failFor = nil
	second := f.orch.RunCycle(context.Background())
	require.Len(t, second.NewTickets, 1)
	assert.Equal(t, "Undeliverable", second.NewTickets[0].Title)
}

func TestRunCycleDropsInvalidListings(t *testing.T) {
	t.Parallel()

	listings := []ticket.RawListing{
		rawListing("Valid", "2024-08-01", "https://a.example.com/1"),
		{Title: "", URL: "https://a.example.com/2"},
	}
	entries := []Entry{{Adapter: &fakeAdapter{name: "siteA", listings: listings}}}
	f := newFixture(t, Config{}, entries)

	result := f.orch.RunCycle(context.Background())
	assert.Equal(t, 1, result.Outcomes["siteA"].TicketCount)
	assert.Equal(t, 1, result.Outcomes["siteA"].Dropped)
}

func TestRunCycleAllSourcesFailStatus(t *testing.T) {
	t.Parallel()

	entries := []Entry{{Adapter: &fakeAdapter{name: "down", errs: []error{
		ticket.NewFetchError("down", ticket.FetchBlocked, errors.New("403")),
	}}}}
	f := newFixture(t, Config{}, entries)

	result := f.orch.RunCycle(context.Background())
	assert.False(t, result.Outcomes["down"].OK)
	assert.Empty(t, result.NewTickets)
	assert.Zero(t, result.Notified)
}
