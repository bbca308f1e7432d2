package postgres

import "context"

// LinkStore implements crawler.LinkGraphStore on the url_relations
// table. It exclusively owns edge rows; workers only request insertion.
type LinkStore struct {
	pool dbPool
}

// NewLinkStore wraps an existing pool.
func NewLinkStore(pool dbPool) *LinkStore {
	return &LinkStore{pool: pool}
}

// AddEdge inserts a referencing→referenced edge. Re-inserting an
// existing edge is a no-op: the composite primary key plus ON CONFLICT
// DO NOTHING makes repeated discovery of the same link idempotent.
// Self-loops pass through unfiltered.
func (s *LinkStore) AddEdge(ctx context.Context, referencingID, referencedID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO url_relations (referencing_url, referenced_url)
		 VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		referencingID, referencedID,
	)
	if err != nil {
		return classify("add edge", err)
	}
	return nil
}
