package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/webgraph/linkcrawler/internal/crawler"
)

// URLStore implements crawler.URLStore on top of the found_urls table.
// The unique index on url is the single point of truth for "has this URL
// been seen": concurrent GetOrCreate calls for the same URL are
// serialized by the database, not by application locks.
type URLStore struct {
	pool dbPool
}

// NewURLStore wraps an existing pool.
func NewURLStore(pool dbPool) *URLStore {
	return &URLStore{pool: pool}
}

// GetOrCreate upserts a normalized URL. The insert-if-absent runs
// against the uniqueness index; losers of a concurrent race fall back to
// reading the winner's row.
func (s *URLStore) GetOrCreate(ctx context.Context, normalizedURL string) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO found_urls (url) VALUES ($1) ON CONFLICT (url) DO NOTHING RETURNING id`,
		normalizedURL,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, classify("get or create url", err)
	}

	// Row already existed, or we lost the race: read the winner.
	err = s.pool.QueryRow(ctx,
		`SELECT id FROM found_urls WHERE url = $1`,
		normalizedURL,
	).Scan(&id)
	if err != nil {
		return 0, false, classify("lookup url after conflict", err)
	}
	return id, false, nil
}

// MarkResult records one fetch attempt. succeeded maps onto the nullable
// status column (TRUE/FALSE; unattempted rows stay NULL), transportError
// onto the error flag. Last write wins if it is ever called twice.
func (s *URLStore) MarkResult(ctx context.Context, id int64, succeeded bool, transportError bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE found_urls SET status = $2, error = $3 WHERE id = $1`,
		id, succeeded, transportError,
	)
	if err != nil {
		return classify("mark result", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark result for id %d: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// GetURL resolves an id to its stored URL.
func (s *URLStore) GetURL(ctx context.Context, id int64) (string, error) {
	var u string
	err := s.pool.QueryRow(ctx, `SELECT url FROM found_urls WHERE id = $1`, id).Scan(&u)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("url id %d: %w", id, crawler.ErrNotFound)
		}
		return "", classify("get url", err)
	}
	return u, nil
}

// UnknownIDs returns the ids of rows that have never been attempted, as
// a consistent snapshot at call time. The recovery sweep feeds these
// back into the frontier after an unclean shutdown.
func (s *URLStore) UnknownIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM found_urls WHERE status IS NULL ORDER BY id`,
	)
	if err != nil {
		return nil, classify("list unknown ids", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan unknown id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate unknown ids", err)
	}
	return ids, nil
}

// Counts reports aggregate totals for the end-of-run summary.
func (s *URLStore) Counts(ctx context.Context) (crawler.Counts, error) {
	var c crawler.Counts
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status IS TRUE),
			COUNT(*) FILTER (WHERE status IS FALSE),
			COUNT(*) FILTER (WHERE error),
			(SELECT COUNT(*) FROM url_relations)
		FROM found_urls`,
	).Scan(&c.Total, &c.Succeeded, &c.Failed, &c.TransportErrors, &c.Edges)
	if err != nil {
		return crawler.Counts{}, classify("count urls", err)
	}
	return c, nil
}
