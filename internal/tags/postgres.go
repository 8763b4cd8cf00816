package tags

import (
	"context"

	"agora/api/internal/store"
)

// Postgres adapts *store.PostgresStore to Store.
type Postgres struct {
	*store.PostgresStore
}

func NewPostgres(s *store.PostgresStore) Postgres {
	return Postgres{PostgresStore: s}
}

func (p Postgres) WithTx(ctx context.Context, reason string, fn func(Tx) error) error {
	return p.PostgresStore.WithTx(ctx, reason, func(tx *store.Tx) error {
		return fn(tx)
	})
}
