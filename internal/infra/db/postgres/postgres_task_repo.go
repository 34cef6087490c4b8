package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"planetq-generation/internal/domain"
	"planetq-generation/internal/domain/model"
	"planetq-generation/internal/domain/ports/repository"
)

var _ repository.TaskRepository = (*taskRepo)(nil)

type taskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *taskRepo {
	return &taskRepo{pool: pool}
}

const taskColumns = `
id, user_id, provider, kind, external_id, status, prompt, style, title,
artifact_url, estimated_cost, charged_cost, credits_deducted, progress,
lease_token, fail_reason, last_error, created_at, updated_at, completed_at`

func (r *taskRepo) Save(ctx context.Context, tx repository.Tx, t *model.GenerationTask) error {
	t.UpdatedAt = time.Now()
	const q = `
INSERT INTO generation_tasks (
  id, user_id, provider, kind, external_id, status, prompt, style, title,
  artifact_url, estimated_cost, charged_cost, credits_deducted, progress,
  lease_token, fail_reason, last_error, created_at, updated_at, completed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
ON CONFLICT (id) DO UPDATE SET
  external_id = EXCLUDED.external_id,
  status = EXCLUDED.status,
  artifact_url = EXCLUDED.artifact_url,
  charged_cost = EXCLUDED.charged_cost,
  credits_deducted = EXCLUDED.credits_deducted,
  progress = EXCLUDED.progress,
  lease_token = EXCLUDED.lease_token,
  fail_reason = EXCLUDED.fail_reason,
  last_error = EXCLUDED.last_error,
  updated_at = EXCLUDED.updated_at,
  completed_at = EXCLUDED.completed_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		t.ID, t.UserID, t.Provider, t.Kind, t.ExternalID, t.Status, t.Prompt, t.Style, t.Title,
		t.ArtifactURL, t.EstimatedCost, t.ChargedCost, t.CreditsDeducted, t.Progress,
		t.LeaseToken, t.FailReason, t.LastError, t.CreatedAt, t.UpdatedAt, t.CompletedAt)
	return err
}

func (r *taskRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.GenerationTask, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+taskColumns+` FROM generation_tasks WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanTask(row)
}

func (r *taskRepo) FindByExternalID(ctx context.Context, tx repository.Tx, provider, externalID string) (*model.GenerationTask, error) {
	row, err := pickRow(ctx, r.pool, tx,
		`SELECT `+taskColumns+` FROM generation_tasks WHERE provider=$1 AND external_id=$2;`, provider, externalID)
	if err != nil {
		return nil, err
	}
	return scanTask(row)
}

func (r *taskRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.GenerationTask, error) {
	row, err := pickRow(ctx, r.pool, tx,
		`SELECT `+taskColumns+` FROM generation_tasks WHERE id=$1 FOR UPDATE;`, id)
	if err != nil {
		return nil, err
	}
	return scanTask(row)
}

func (r *taskRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, offset, limit int) ([]*model.GenerationTask, error) {
	rows, err := pickRows(ctx, r.pool, tx,
		`SELECT `+taskColumns+` FROM generation_tasks WHERE user_id=$1 ORDER BY created_at DESC OFFSET $2 LIMIT $3;`,
		userID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (r *taskRepo) ListUnfinishedOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.GenerationTask, error) {
	rows, err := pickRows(ctx, r.pool, tx,
		`SELECT `+taskColumns+` FROM generation_tasks
		  WHERE status IN ('pending','processing') AND created_at < $1
		  ORDER BY created_at LIMIT $2;`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTask(row pgx.Row) (*model.GenerationTask, error) {
	var t model.GenerationTask
	var status, kind string
	err := row.Scan(
		&t.ID, &t.UserID, &t.Provider, &kind, &t.ExternalID, &status, &t.Prompt, &t.Style, &t.Title,
		&t.ArtifactURL, &t.EstimatedCost, &t.ChargedCost, &t.CreditsDeducted, &t.Progress,
		&t.LeaseToken, &t.FailReason, &t.LastError, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	t.Status = model.TaskStatus(status)
	t.Kind = model.MediaKind(kind)
	return &t, nil
}

func scanTasks(rows pgx.Rows) ([]*model.GenerationTask, error) {
	var out []*model.GenerationTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
