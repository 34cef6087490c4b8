package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"planetq-generation/internal/domain/model"
	"planetq-generation/internal/domain/ports/repository"
)

var _ repository.CreditLogRepository = (*creditLogRepo)(nil)

type creditLogRepo struct {
	pool *pgxpool.Pool
}

func NewCreditLogRepo(pool *pgxpool.Pool) *creditLogRepo {
	return &creditLogRepo{pool: pool}
}

const creditLogColumns = `id, user_id, amount, balance_after, reason, related_id, description, created_at`

// Append is insert-only. There is deliberately no update or delete here.
func (r *creditLogRepo) Append(ctx context.Context, tx repository.Tx, e *model.CreditLogEntry) error {
	const q = `
INSERT INTO credit_log (id, user_id, amount, balance_after, reason, related_id, description, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`
	_, err := execSQL(ctx, r.pool, tx, q,
		e.ID, e.UserID, e.Amount, e.BalanceAfter, e.Reason, e.RelatedID, e.Description, e.CreatedAt)
	return err
}

func (r *creditLogRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, offset, limit int) ([]*model.CreditLogEntry, error) {
	rows, err := pickRows(ctx, r.pool, tx,
		`SELECT `+creditLogColumns+` FROM credit_log WHERE user_id=$1 ORDER BY created_at DESC OFFSET $2 LIMIT $3;`,
		userID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCreditLogs(rows)
}

func (r *creditLogRepo) ListByRelatedID(ctx context.Context, tx repository.Tx, relatedID string) ([]*model.CreditLogEntry, error) {
	rows, err := pickRows(ctx, r.pool, tx,
		`SELECT `+creditLogColumns+` FROM credit_log WHERE related_id=$1 ORDER BY created_at;`, relatedID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCreditLogs(rows)
}

func scanCreditLogs(rows pgx.Rows) ([]*model.CreditLogEntry, error) {
	var out []*model.CreditLogEntry
	for rows.Next() {
		var e model.CreditLogEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.BalanceAfter, &e.Reason, &e.RelatedID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
