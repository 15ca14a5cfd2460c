// Package ticket defines the canonical data model and the collaborator
// interfaces shared across the collection pipeline.
package ticket

import "time"

// Source identifies the ticketing site a listing came from. Values are
// stable across runs and participate in dedup keys.
type Source string

// Sentinel field values used when a source does not supply the data.
const (
	GenreUnknown         = "unknown"
	PlaceUnspecified     = "unspecified"
	OpenDateUndetermined = "undetermined"
)

// RawListing is the shape produced by a SourceAdapter before validation.
// All fields are strings straight out of the page or API payload; date
// fields keep whatever text the site showed.
type RawListing struct {
	Title              string `json:"title"`
	Genre              string `json:"genre,omitempty"`
	Place              string `json:"place,omitempty"`
	OpenDateRaw        string `json:"open_date_raw,omitempty"`
	PerformanceDateRaw string `json:"performance_date_raw,omitempty"`
	URL                string `json:"url,omitempty"`
	ImageURL           string `json:"image_url,omitempty"`
}

// Ticket is a normalized sale-open listing.
type Ticket struct {
	Source Source `json:"source"`
	Title  string `json:"title"`
	Genre  string `json:"genre"`
	Place  string `json:"place"`

	// OpenDate is the sale-open instant. The zero value means the source
	// gave no usable date ("undetermined"); such tickets are still valid
	// and notifiable, they just sort last in date-ordered views.
	OpenDate time.Time `json:"open_date,omitzero"`

	// PerformanceDate is the start of the event itself, when known.
	// PerformanceDateText keeps the original text, which may be a range.
	PerformanceDate     time.Time `json:"performance_date,omitzero"`
	PerformanceDateText string    `json:"performance_date_text,omitempty"`

	URL         string    `json:"url,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	CollectedAt time.Time `json:"collected_at"`

	// Fingerprint is the listing's identity for dedup. It is assigned once
	// during normalization and never recomputed within a cycle.
	Fingerprint string `json:"fingerprint"`

	// Highlight marks a keyword match; cosmetic only and excluded from
	// the fingerprint.
	Highlight bool `json:"highlight,omitempty"`
}

// HasOpenDate reports whether the sale-open date was determined.
func (t Ticket) HasOpenDate() bool {
	return !t.OpenDate.IsZero()
}

// OpenDateLabel renders the open date for payloads and fallback keys.
func (t Ticket) OpenDateLabel() string {
	if !t.HasOpenDate() {
		return OpenDateUndetermined
	}
	return t.OpenDate.Format(time.RFC3339)
}

// Key returns the (source, fingerprint) dedup key. Source is part of the
// key so identical titles on different sites never collide.
func (t Ticket) Key() string {
	return string(t.Source) + "\x1f" + t.Fingerprint
}

// DedupRecord is the persisted proof that a fingerprint was notified.
type DedupRecord struct {
	Source      Source    `json:"source"`
	Fingerprint string    `json:"fingerprint"`
	NotifiedAt  time.Time `json:"notified_at"`
}

// SourceOutcome records how one source fared within a cycle. A source
// that fetched successfully but returned nothing has OK=true and
// TicketCount=0, which is distinct from a source that errored.
type SourceOutcome struct {
	OK          bool       `json:"ok"`
	TicketCount int        `json:"ticket_count"`
	Dropped     int        `json:"dropped"`
	Error       string     `json:"error,omitempty"`
	Cause       FetchCause `json:"cause,omitempty"`
}

// CycleResult is the ephemeral summary of one orchestrator run.
type CycleResult struct {
	ID        string                   `json:"id"`
	StartedAt time.Time                `json:"started_at"`
	Duration  time.Duration            `json:"duration"`
	Outcomes  map[Source]SourceOutcome `json:"outcomes"`

	// NewTickets is the deduplicated new set, ordered by open date
	// ascending with undetermined dates last.
	NewTickets []Ticket `json:"new_tickets"`

	Notified int `json:"notified"`
	Deferred int `json:"deferred"`
	Failed   int `json:"failed"`
}
