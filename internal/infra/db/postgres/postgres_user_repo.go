package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"planetq-generation/internal/domain"
	"planetq-generation/internal/domain/model"
	"planetq-generation/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*userRepo)(nil)

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *userRepo {
	return &userRepo{pool: pool}
}

const userColumns = `id, email, name, credits, total_used, registered_at, last_active_at, is_admin`

func (r *userRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (id, email, name, credits, total_used, registered_at, last_active_at, is_admin)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  email=$2, name=$3, last_active_at=$7, is_admin=$8;`
	_, err := execSQL(ctx, r.pool, tx, q,
		u.ID, u.Email, u.Name, u.Credits, u.TotalUsed, u.RegisteredAt, u.LastActiveAt, u.IsAdmin)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		// email is unique; a different id with the same email is a duplicate signup
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *userRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+userColumns+` FROM users WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanUser(row)
}

func (r *userRepo) FindByEmail(ctx context.Context, tx repository.Tx, email string) (*model.User, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+userColumns+` FROM users WHERE email=$1;`, email)
	if err != nil {
		return nil, err
	}
	return scanUser(row)
}

func (r *userRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+userColumns+` FROM users WHERE id=$1 FOR UPDATE;`, id)
	if err != nil {
		return nil, err
	}
	return scanUser(row)
}

// AdjustCredits applies a signed delta. The balance CHECK constraint backs up
// the ledger's in-transaction sufficiency check; deductions also grow total_used.
func (r *userRepo) AdjustCredits(ctx context.Context, tx repository.Tx, id string, delta int64) error {
	const q = `
UPDATE users SET
  credits = credits + $2,
  total_used = total_used + CASE WHEN $2 < 0 THEN -$2 ELSE 0 END,
  last_active_at = now()
WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *userRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM users;`)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Credits, &u.TotalUsed, &u.RegisteredAt, &u.LastActiveAt, &u.IsAdmin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	return &u, nil
}
