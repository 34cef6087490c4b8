package model

import (
	"time"

	"github.com/google/uuid"
)

// GalleryItem links a finished artifact into the user's library. One item per
// artifact URL per user; reconciliation dedups on the URL before inserting.
type GalleryItem struct {
	ID          string
	UserID      string
	TaskID      string
	Kind        MediaKind
	Title       string
	ArtifactURL string
	CreatedAt   time.Time
}

func NewGalleryItem(userID, taskID string, kind MediaKind, title, artifactURL string) *GalleryItem {
	return &GalleryItem{
		ID:          uuid.NewString(),
		UserID:      userID,
		TaskID:      taskID,
		Kind:        kind,
		Title:       title,
		ArtifactURL: artifactURL,
		CreatedAt:   time.Now(),
	}
}
