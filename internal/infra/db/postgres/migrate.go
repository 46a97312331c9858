package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// The one-active-session-per-buyer-per-product policy lives in the partial
// unique index: the redis open lock only narrows the race window, this is
// authoritative.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS negotiation_sessions (
		id            UUID PRIMARY KEY,
		product_id    TEXT NOT NULL,
		product_title TEXT NOT NULL,
		listed_price  BIGINT NOT NULL,
		currency      TEXT NOT NULL,
		buyer_id      TEXT NOT NULL,
		seller_id     TEXT NOT NULL,
		status        TEXT NOT NULL,
		initial_offer BIGINT NOT NULL,
		current_offer BIGINT,
		final_price   BIGINT,
		version       BIGINT NOT NULL,
		last_activity TIMESTAMPTZ NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS negotiation_sessions_one_active
		ON negotiation_sessions (buyer_id, product_id) WHERE status = 'active';`,
	`CREATE INDEX IF NOT EXISTS negotiation_sessions_by_buyer
		ON negotiation_sessions (buyer_id, last_activity DESC);`,
	`CREATE INDEX IF NOT EXISTS negotiation_sessions_by_seller
		ON negotiation_sessions (seller_id, last_activity DESC);`,
	`CREATE TABLE IF NOT EXISTS negotiation_messages (
		seq         BIGSERIAL PRIMARY KEY,
		id          TEXT NOT NULL UNIQUE,
		session_id  UUID NOT NULL REFERENCES negotiation_sessions(id),
		sender_id   TEXT NOT NULL,
		sender_role TEXT NOT NULL,
		kind        TEXT NOT NULL,
		price_offer BIGINT,
		body        TEXT NOT NULL DEFAULT '',
		is_read     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS negotiation_messages_by_session
		ON negotiation_messages (session_id, seq);`,
}

// Migrate applies the schema idempotently.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
