package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/webgraph/linkcrawler/internal/crawler"
)

func TestGetOrCreateInsertsNewURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewURLStore(mock)

	mock.ExpectQuery(`INSERT INTO found_urls`).
		WithArgs("http://a.test/b").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, created, err := store.GetOrCreate(context.Background(), "http://a.test/b")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateReturnsExistingIDOnConflict(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewURLStore(mock)

	// ON CONFLICT DO NOTHING yields no row for the loser of the race;
	// the follow-up select must return the winner's id.
	mock.ExpectQuery(`INSERT INTO found_urls`).
		WithArgs("http://a.test/b").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT id FROM found_urls WHERE url`).
		WithArgs("http://a.test/b").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))

	id, created, err := store.GetOrCreate(context.Background(), "http://a.test/b")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, int64(3), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateClassifiesConnectionFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewURLStore(mock)

	mock.ExpectQuery(`INSERT INTO found_urls`).
		WithArgs("http://a.test/").
		WillReturnError(errors.New("dial tcp: connection refused"))

	_, _, err = store.GetOrCreate(context.Background(), "http://a.test/")
	require.Error(t, err)
	require.True(t, crawler.IsStoreUnavailable(err))
}

func TestMarkResultUpdatesStatusAndErrorFlag(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewURLStore(mock)

	mock.ExpectExec(`UPDATE found_urls SET status`).
		WithArgs(int64(5), false, true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.MarkResult(context.Background(), 5, false, true)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkResultUnknownID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewURLStore(mock)

	mock.ExpectExec(`UPDATE found_urls SET status`).
		WithArgs(int64(99), true, false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.MarkResult(context.Background(), 99, true, false)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestGetURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewURLStore(mock)

	mock.ExpectQuery(`SELECT url FROM found_urls WHERE id`).
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"url"}).AddRow("http://a.test/"))

	u, err := store.GetURL(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, "http://a.test/", u)

	mock.ExpectQuery(`SELECT url FROM found_urls WHERE id`).
		WithArgs(int64(404)).
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetURL(context.Background(), 404)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestUnknownIDsSnapshot(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewURLStore(mock)

	mock.ExpectQuery(`SELECT id FROM found_urls WHERE status IS NULL`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).
			AddRow(int64(1)).
			AddRow(int64(4)).
			AddRow(int64(9)))

	ids, err := store.UnknownIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{1, 4, 9}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewURLStore(mock)

	mock.ExpectQuery(`SELECT`).
		WillReturnRows(pgxmock.NewRows(
			[]string{"total", "succeeded", "failed", "errors", "edges"}).
			AddRow(int64(10), int64(6), int64(4), int64(1), int64(17)))

	c, err := store.Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawler.Counts{
		Total:           10,
		Succeeded:       6,
		Failed:          4,
		TransportErrors: 1,
		Edges:           17,
	}, c)
}
