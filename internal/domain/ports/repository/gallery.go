package repository

import (
	"context"

	"planetq-generation/internal/domain/model"
)

type GalleryRepository interface {
	Save(ctx context.Context, tx Tx, item *model.GalleryItem) error
	// ExistsByArtifactURL is the dedup check used before inserting on
	// reconciliation; the same artifact never shows up twice for a user.
	ExistsByArtifactURL(ctx context.Context, tx Tx, userID, artifactURL string) (bool, error)
	ListByUser(ctx context.Context, tx Tx, userID string, offset, limit int) ([]*model.GalleryItem, error)
}
