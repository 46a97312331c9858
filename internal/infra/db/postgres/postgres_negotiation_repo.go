package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"marketplace-bargain/internal/domain"
	"marketplace-bargain/internal/domain/model"
	"marketplace-bargain/internal/domain/ports/repository"
)

// NegotiationRepo is the durable session store. All state writes run
// through version-guarded UPDATEs so concurrent transitions against the
// same session serialize; the message append rides the same transaction so
// a message is never persisted without its resulting session state.
var _ repository.SessionRepository = (*NegotiationRepo)(nil)

type NegotiationRepo struct {
	pool *pgxpool.Pool
}

func NewNegotiationRepo(pool *pgxpool.Pool) *NegotiationRepo {
	return &NegotiationRepo{pool: pool}
}

// querier is the subset of pgx shared by pool, conn, and tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *NegotiationRepo) querier(qx any) querier {
	switch v := qx.(type) {
	case pgx.Tx:
		return v
	case *pgxpool.Conn:
		return v
	default:
		return r.pool
	}
}

const sessionColumns = `id, product_id, product_title, listed_price, currency,
buyer_id, seller_id, status, initial_offer, current_offer, final_price,
version, last_activity, created_at, updated_at`

func (r *NegotiationRepo) Create(ctx context.Context, qx any, s *model.NegotiationSession) error {
	run := func(ctx context.Context, q querier) error {
		const insSession = `
INSERT INTO negotiation_sessions (` + sessionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15);`
		_, err := q.Exec(ctx, insSession,
			s.ID, s.Product.ProductID, s.Product.Title, s.Product.ListedPrice, s.Product.Currency,
			s.BuyerID, s.SellerID, string(s.Status), s.InitialOffer, s.CurrentOffer, s.FinalPrice,
			s.Version, s.LastActivity, s.CreatedAt, s.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateActiveSession
			}
			return fmt.Errorf("insert session: %w", err)
		}
		for i := range s.Messages {
			if err := insertMessage(ctx, q, &s.Messages[i]); err != nil {
				return err
			}
		}
		return nil
	}

	if tx, ok := qx.(pgx.Tx); ok {
		return run(ctx, tx)
	}
	return r.inTx(ctx, run)
}

func (r *NegotiationRepo) FindByID(ctx context.Context, qx any, id string) (*model.NegotiationSession, error) {
	q := r.querier(qx)
	const sel = `SELECT ` + sessionColumns + ` FROM negotiation_sessions WHERE id=$1;`
	s, err := scanSession(q.QueryRow(ctx, sel, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadMessages(ctx, q, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *NegotiationRepo) CompareAndSwap(ctx context.Context, qx any, expectedVersion int64, s *model.NegotiationSession, newMessage *model.Message) error {
	run := func(ctx context.Context, q querier) error {
		const upd = `
UPDATE negotiation_sessions
SET status=$1, current_offer=$2, final_price=$3, version=$4,
    last_activity=$5, updated_at=$6
WHERE id=$7 AND version=$8;`
		ct, err := q.Exec(ctx, upd,
			string(s.Status), s.CurrentOffer, s.FinalPrice, s.Version,
			s.LastActivity, s.UpdatedAt, s.ID, expectedVersion)
		if err != nil {
			return fmt.Errorf("cas update: %w", err)
		}
		if ct.RowsAffected() == 0 {
			var exists bool
			if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM negotiation_sessions WHERE id=$1);`, s.ID).Scan(&exists); err != nil {
				return fmt.Errorf("cas existence check: %w", err)
			}
			if !exists {
				return domain.ErrNotFound
			}
			return domain.ErrVersionConflict
		}
		if newMessage != nil {
			return insertMessage(ctx, q, newMessage)
		}
		return nil
	}

	if tx, ok := qx.(pgx.Tx); ok {
		return run(ctx, tx)
	}
	return r.inTx(ctx, run)
}

func (r *NegotiationRepo) FindActiveByBuyerAndProduct(ctx context.Context, qx any, buyerID, productID string) (*model.NegotiationSession, error) {
	q := r.querier(qx)
	const sel = `SELECT ` + sessionColumns + `
FROM negotiation_sessions
WHERE buyer_id=$1 AND product_id=$2 AND status='active';`
	s, err := scanSession(q.QueryRow(ctx, sel, buyerID, productID))
	if err != nil {
		return nil, err
	}
	if err := r.loadMessages(ctx, q, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *NegotiationRepo) FindAllByParty(ctx context.Context, qx any, partyID string, roleFilter model.PartyRole) ([]*model.NegotiationSession, error) {
	q := r.querier(qx)
	sel := `SELECT ` + sessionColumns + ` FROM negotiation_sessions WHERE `
	switch roleFilter {
	case model.RoleBuyer:
		sel += `buyer_id=$1`
	case model.RoleSeller:
		sel += `seller_id=$1`
	default:
		sel += `(buyer_id=$1 OR seller_id=$1)`
	}
	sel += ` ORDER BY last_activity DESC;`

	rows, err := q.Query(ctx, sel, partyID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*model.NegotiationSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	for _, s := range out {
		if err := r.loadMessages(ctx, q, s); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *NegotiationRepo) FindActiveIdleBefore(ctx context.Context, qx any, cutoff time.Time, limit int) ([]string, error) {
	q := r.querier(qx)
	const sel = `
SELECT id FROM negotiation_sessions
WHERE status='active' AND last_activity < $1
ORDER BY last_activity ASC
LIMIT $2;`
	rows, err := q.Query(ctx, sel, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("idle scan: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *NegotiationRepo) MarkMessagesRead(ctx context.Context, qx any, sessionID string, senderRole model.PartyRole) error {
	q := r.querier(qx)
	const upd = `
UPDATE negotiation_messages SET is_read=TRUE
WHERE session_id=$1 AND sender_role=$2 AND NOT is_read;`
	if _, err := q.Exec(ctx, upd, sessionID, string(senderRole)); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// ---- helpers ----

func (r *NegotiationRepo) inTx(ctx context.Context, fn func(context.Context, querier) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertMessage(ctx context.Context, q querier, m *model.Message) error {
	const ins = `
INSERT INTO negotiation_messages (id, session_id, sender_id, sender_role, kind, price_offer, body, is_read, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`
	if _, err := q.Exec(ctx, ins,
		m.ID, m.SessionID, m.SenderID, string(m.SenderRole), string(m.Kind),
		m.PriceOffer, m.Body, m.IsRead, m.Timestamp); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*model.NegotiationSession, error) {
	var s model.NegotiationSession
	var status string
	err := row.Scan(
		&s.ID, &s.Product.ProductID, &s.Product.Title, &s.Product.ListedPrice, &s.Product.Currency,
		&s.BuyerID, &s.SellerID, &status, &s.InitialOffer, &s.CurrentOffer, &s.FinalPrice,
		&s.Version, &s.LastActivity, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.Status = model.SessionStatus(status)
	return &s, nil
}

func (r *NegotiationRepo) loadMessages(ctx context.Context, q querier, s *model.NegotiationSession) error {
	const sel = `
SELECT id, session_id, sender_id, sender_role, kind, price_offer, body, is_read, created_at
FROM negotiation_messages
WHERE session_id=$1
ORDER BY seq ASC;`
	rows, err := q.Query(ctx, sel, s.ID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	s.Messages = s.Messages[:0]
	for rows.Next() {
		var m model.Message
		var role, kind string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &role, &kind,
			&m.PriceOffer, &m.Body, &m.IsRead, &m.Timestamp); err != nil {
			return fmt.Errorf("scan message: %w", err)
		}
		m.SenderRole = model.PartyRole(role)
		m.Kind = model.MessageKind(kind)
		s.Messages = append(s.Messages, m)
	}
	return rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
