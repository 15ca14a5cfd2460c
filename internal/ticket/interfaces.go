package ticket

import (
	"context"
	"time"
)

// Adapter fetches raw listings from one external ticketing site. Adapter
// internals (markup, selectors, rendering) are the adapter's business;
// the orchestrator only sees this contract.
type Adapter interface {
	Name() Source
	Fetch(ctx context.Context) ([]RawListing, error)
}

// DedupStore answers membership for already-notified listings and records
// new ones durably.
type DedupStore interface {
	// IsKnown reports whether a record exists for the (source, fingerprint)
	// key.
	IsKnown(source Source, fingerprint string) bool

	// FilterNew returns the subsequence of tickets not yet known,
	// preserving input order. It is a pure read.
	FilterNew(tickets []Ticket) []Ticket

	// Commit durably records the ticket's key. Committing an already-known
	// key is a no-op success.
	Commit(t Ticket) error

	// Len returns the number of known records.
	Len() int
}

// SortOrder selects how catalog queries are ordered.
type SortOrder string

// Supported catalog sort orders. SortRecency orders by collected_at
// descending; the original dashboard labeled it "popularity" without a
// real popularity signal, and that naming survives only as an alias.
const (
	SortOpenDateAsc  SortOrder = "open_date"
	SortOpenDateDesc SortOrder = "open_date_desc"
	SortPerformance  SortOrder = "performance_date"
	SortTitle        SortOrder = "title"
	SortRecency      SortOrder = "recency"
	SortRecencyAlias SortOrder = "popularity"
)

// Query filters and orders the accumulated catalog for dashboard reads.
type Query struct {
	Source  Source
	Genre   string
	Keyword string
	From    time.Time
	To      time.Time
	Sort    SortOrder
	Limit   int
}

// Catalog is the continuously appended full-listing store the dashboard
// reads. It observes an eventually consistent snapshot; it is not on the
// notification critical path.
type Catalog interface {
	Upsert(ctx context.Context, tickets []Ticket) error
	Query(ctx context.Context, q Query) ([]Ticket, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Notifier delivers one ticket to the external chat webhook. A nil error
// means confirmed delivery; anything else leaves the ticket uncommitted.
type Notifier interface {
	Send(ctx context.Context, t Ticket) error
}

// Archive persists raw per-cycle crawl dumps for replay and debugging.
// Archive failures never fail a cycle.
type Archive interface {
	Save(ctx context.Context, name string, data []byte) error
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}
