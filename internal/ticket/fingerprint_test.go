package ticket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintStableAcrossCosmeticChanges(t *testing.T) {
	t.Parallel()

	base := Ticket{
		Source:   "melon",
		Title:    "Spring Concert",
		URL:      "https://ticket.example.com/show/123",
		OpenDate: time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC),
		Place:    "Olympic Hall",
	}
	changed := base
	changed.ImageURL = "https://cdn.example.com/poster.jpg"
	changed.Genre = "concert"
	changed.CollectedAt = time.Now()
	changed.Highlight = true

	assert.Equal(t, Fingerprint(base), Fingerprint(changed))
}

func TestFingerprintUsesURLWhenPresent(t *testing.T) {
	t.Parallel()

	a := Ticket{Source: "yes24", Title: "Show A", URL: "https://example.com/a"}
	b := Ticket{Source: "yes24", Title: "Show B", URL: "https://example.com/a"}
	assert.Equal(t, Fingerprint(a), Fingerprint(b), "same source+url must collide regardless of title")

	c := Ticket{Source: "yes24", Title: "Show A", URL: "https://example.com/c"}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
}

func TestFingerprintFallbackBasis(t *testing.T) {
	t.Parallel()

	open := time.Date(2026, 5, 2, 20, 0, 0, 0, time.UTC)
	a := Ticket{Source: "interpark", Title: "Encore", OpenDate: open, Place: "Jamsil Arena"}
	same := Ticket{Source: "interpark", Title: "Encore", OpenDate: open, Place: "Jamsil Arena"}
	require.Equal(t, Fingerprint(a), Fingerprint(same))

	otherPlace := a
	otherPlace.Place = "KSPO Dome"
	assert.NotEqual(t, Fingerprint(a), Fingerprint(otherPlace))

	undetermined := a
	undetermined.OpenDate = time.Time{}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(undetermined))
}

func TestFingerprintSourceSeparation(t *testing.T) {
	t.Parallel()

	a := Ticket{Source: "melon", Title: "Same Title", Place: "Same Hall"}
	b := Ticket{Source: "ticketlink", Title: "Same Title", Place: "Same Hall"}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestKeyIncludesSource(t *testing.T) {
	t.Parallel()

	tk := Ticket{Source: "melon", Fingerprint: "abc"}
	assert.Equal(t, "melon\x1fabc", tk.Key())
}
