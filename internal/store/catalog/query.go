// Package catalog maintains the accumulated full-listing store the
// dashboard reads, with file and Postgres backends.
package catalog

import (
	"sort"
	"strings"

	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

// Apply filters and orders tickets in memory per the query. Used by the
// file backend and by tests as the reference behavior for the SQL backend.
func Apply(tickets []ticket.Ticket, q ticket.Query) []ticket.Ticket {
	out := make([]ticket.Ticket, 0, len(tickets))
	keyword := strings.ToLower(strings.TrimSpace(q.Keyword))
	for _, t := range tickets {
		if q.Source != "" && t.Source != q.Source {
			continue
		}
		if q.Genre != "" && !strings.EqualFold(t.Genre, q.Genre) {
			continue
		}
		if keyword != "" && !matchesKeyword(t, keyword) {
			continue
		}
		if !inRange(t, q) {
			continue
		}
		out = append(out, t)
	}

	sortTickets(out, q.Sort)

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// matchesKeyword does a case-insensitive substring match over title and
// venue, mirroring the dashboard's free-text search.
func matchesKeyword(t ticket.Ticket, keyword string) bool {
	return strings.Contains(strings.ToLower(t.Title), keyword) ||
		strings.Contains(strings.ToLower(t.Place), keyword)
}

// inRange applies the open-date range filter. Tickets with an undetermined
// open date never match a date-bounded query.
func inRange(t ticket.Ticket, q ticket.Query) bool {
	if q.From.IsZero() && q.To.IsZero() {
		return true
	}
	if !t.HasOpenDate() {
		return false
	}
	if !q.From.IsZero() && t.OpenDate.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && t.OpenDate.After(q.To) {
		return false
	}
	return true
}

func sortTickets(ts []ticket.Ticket, order ticket.SortOrder) {
	switch order {
	case ticket.SortOpenDateDesc:
		sort.SliceStable(ts, func(i, j int) bool {
			a, b := ts[i], ts[j]
			if a.HasOpenDate() != b.HasOpenDate() {
				return a.HasOpenDate()
			}
			return a.OpenDate.After(b.OpenDate)
		})
	case ticket.SortPerformance:
		sort.SliceStable(ts, func(i, j int) bool {
			a, b := ts[i], ts[j]
			if a.PerformanceDate.IsZero() != b.PerformanceDate.IsZero() {
				return !a.PerformanceDate.IsZero()
			}
			return a.PerformanceDate.Before(b.PerformanceDate)
		})
	case ticket.SortTitle:
		sort.SliceStable(ts, func(i, j int) bool {
			return ts[i].Title < ts[j].Title
		})
	case ticket.SortRecency, ticket.SortRecencyAlias:
		sort.SliceStable(ts, func(i, j int) bool {
			return ts[i].CollectedAt.After(ts[j].CollectedAt)
		})
	default: // open_date ascending, undetermined last
		SortByOpenDate(ts)
	}
}

// SortByOpenDate orders by open date ascending, undetermined dates last,
// ties broken by collection time ascending. This is also the delivery
// order of new tickets within a cycle.
func SortByOpenDate(ts []ticket.Ticket) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if a.HasOpenDate() != b.HasOpenDate() {
			return a.HasOpenDate()
		}
		if a.HasOpenDate() && !a.OpenDate.Equal(b.OpenDate) {
			return a.OpenDate.Before(b.OpenDate)
		}
		return a.CollectedAt.Before(b.CollectedAt)
	})
}
