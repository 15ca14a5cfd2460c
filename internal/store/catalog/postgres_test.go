package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

func TestNewPostgresWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresWithPool(mock, "tickets; DROP TABLE tickets")
	require.Error(t, err)

	s, err := NewPostgresWithPool(mock, "")
	require.NoError(t, err)
	assert.Equal(t, "tickets", s.table)
}

func TestPostgresUpsert(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock, "tickets")
	require.NoError(t, err)

	open := time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC)
	tk := mkTicket("melon", "Upsert Show", "concert", "Olympic Hall", open, open.Add(-time.Hour))

	mock.ExpectExec("INSERT INTO tickets").
		WithArgs("melon", tk.Fingerprint, tk.Title, tk.Genre, tk.Place,
			pgxmock.AnyArg(), pgxmock.AnyArg(), tk.PerformanceDateText,
			tk.URL, tk.ImageURL, tk.CollectedAt, tk.Highlight).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Upsert(context.Background(), []ticket.Ticket{tk}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueryBuildsFiltersAndScans(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock, "tickets")
	require.NoError(t, err)

	open := time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC)
	collected := open.Add(-2 * time.Hour)
	cols := []string{"source", "fingerprint", "title", "genre", "place",
		"open_date", "performance_date", "performance_date_text", "url",
		"image_url", "collected_at", "highlight"}

	mock.ExpectQuery("SELECT (.+) FROM tickets WHERE source = \\$1 AND \\(LOWER\\(title\\) LIKE \\$2 OR LOWER\\(place\\) LIKE \\$2\\) ORDER BY open_date ASC NULLS LAST").
		WithArgs("melon", "%concert%").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("melon", "fp1", "Big Concert", "concert", "Olympic Hall",
				&open, (*time.Time)(nil), "", "https://example.com/1", "",
				collected, false).
			AddRow("melon", "fp2", "Undated Concert", "concert", "Olympic Hall",
				(*time.Time)(nil), (*time.Time)(nil), "", "https://example.com/2", "",
				collected, true))

	got, err := s.Query(context.Background(), ticket.Query{
		Source:  "melon",
		Keyword: "Concert",
		Sort:    ticket.SortOpenDateAsc,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, ticket.Source("melon"), got[0].Source)
	assert.True(t, got[0].HasOpenDate())
	assert.False(t, got[1].HasOpenDate(), "NULL open_date maps to the undetermined sentinel")
	assert.True(t, got[1].Highlight)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCount(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock, "tickets")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM tickets").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
