// Package normalize validates and coerces adapter output into canonical
// Ticket records and assigns their fingerprints.
package normalize

import (
	"net/url"
	"strings"
	"time"

	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

// Validation rejection reasons.
const (
	ReasonMissingTitle = "missing_title"
	ReasonMissingURL   = "missing_url"
	ReasonBadURL       = "bad_url"
)

// Normalizer turns raw listings into Tickets. Keywords mark highlighted
// titles; they never influence identity or delivery.
type Normalizer struct {
	keywords []string
}

// New builds a Normalizer with the configured highlight keywords.
func New(keywords []string) *Normalizer {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return &Normalizer{keywords: lowered}
}

// Normalize validates one raw listing. A missing title rejects the record.
// A missing URL is tolerated only when the fallback fingerprint basis
// (title + open date + place) carries enough signal. Unparseable dates
// degrade to the undetermined sentinel instead of failing the record.
func (n *Normalizer) Normalize(source ticket.Source, raw ticket.RawListing, now time.Time) (ticket.Ticket, error) {
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return ticket.Ticket{}, &ticket.ValidationError{Reason: ReasonMissingTitle}
	}

	t := ticket.Ticket{
		Source:      source,
		Title:       title,
		Genre:       orDefault(raw.Genre, ticket.GenreUnknown),
		Place:       orDefault(raw.Place, ticket.PlaceUnspecified),
		ImageURL:    strings.TrimSpace(raw.ImageURL),
		CollectedAt: now,
	}

	if openAt, ok := ParseOpenDate(raw.OpenDateRaw, now); ok {
		t.OpenDate = openAt
	}
	if perfAt, ok := ParseOpenDate(raw.PerformanceDateRaw, now); ok {
		t.PerformanceDate = perfAt
	}
	t.PerformanceDateText = strings.TrimSpace(raw.PerformanceDateRaw)

	rawURL := strings.TrimSpace(raw.URL)
	if rawURL == "" {
		// No URL: require the fallback basis to distinguish listings.
		if !t.HasOpenDate() && t.Place == ticket.PlaceUnspecified {
			return ticket.Ticket{}, &ticket.ValidationError{Reason: ReasonMissingURL}
		}
	} else {
		u, err := url.Parse(rawURL)
		if err != nil || !u.IsAbs() {
			return ticket.Ticket{}, &ticket.ValidationError{Reason: ReasonBadURL}
		}
		t.URL = u.String()
	}

	t.Highlight = n.matchesKeyword(title)
	t.Fingerprint = ticket.Fingerprint(t)
	return t, nil
}

func (n *Normalizer) matchesKeyword(title string) bool {
	lowered := strings.ToLower(title)
	for _, k := range n.keywords {
		if strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
