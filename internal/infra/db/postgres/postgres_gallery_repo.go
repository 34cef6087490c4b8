package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"planetq-generation/internal/domain/model"
	"planetq-generation/internal/domain/ports/repository"
)

var _ repository.GalleryRepository = (*galleryRepo)(nil)

type galleryRepo struct {
	pool *pgxpool.Pool
}

func NewGalleryRepo(pool *pgxpool.Pool) *galleryRepo {
	return &galleryRepo{pool: pool}
}

func (r *galleryRepo) Save(ctx context.Context, tx repository.Tx, item *model.GalleryItem) error {
	const q = `
INSERT INTO gallery_items (id, user_id, task_id, kind, title, artifact_url, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (user_id, artifact_url) DO NOTHING;`
	_, err := execSQL(ctx, r.pool, tx, q,
		item.ID, item.UserID, item.TaskID, item.Kind, item.Title, item.ArtifactURL, item.CreatedAt)
	return err
}

func (r *galleryRepo) ExistsByArtifactURL(ctx context.Context, tx repository.Tx, userID, artifactURL string) (bool, error) {
	row, err := pickRow(ctx, r.pool, tx,
		`SELECT EXISTS (SELECT 1 FROM gallery_items WHERE user_id=$1 AND artifact_url=$2);`, userID, artifactURL)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *galleryRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, offset, limit int) ([]*model.GalleryItem, error) {
	rows, err := pickRows(ctx, r.pool, tx,
		`SELECT id, user_id, task_id, kind, title, artifact_url, created_at
		   FROM gallery_items WHERE user_id=$1 ORDER BY created_at DESC OFFSET $2 LIMIT $3;`,
		userID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.GalleryItem
	for rows.Next() {
		var it model.GalleryItem
		var kind string
		if err := rows.Scan(&it.ID, &it.UserID, &it.TaskID, &kind, &it.Title, &it.ArtifactURL, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.Kind = model.MediaKind(kind)
		out = append(out, &it)
	}
	return out, rows.Err()
}
