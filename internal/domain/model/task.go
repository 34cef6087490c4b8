package model

import (
	"time"

	"planetq-generation/internal/domain"

	"github.com/oklog/ulid/v2"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Failure reasons recorded alongside TaskStatusFailed. A "timeout" failure is a
// local verdict (polling budget exhausted), not a provider one, and may later be
// overridden by a provider-reported success.
const (
	FailReasonTimeout  = "timeout"
	FailReasonStale    = "stale"
	FailReasonProvider = "provider"
	FailReasonInternal = "internal"
)

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// GenerationTask is one request to an external provider to produce an artifact.
// Credits are estimated at submit time and charged at most once, on completion,
// guarded by the CreditsDeducted flag inside the reconciliation transaction.
type GenerationTask struct {
	ID              string
	UserID          string
	Provider        string
	Kind            MediaKind
	ExternalID      string // provider task handle; empty until accepted
	Status          TaskStatus
	Prompt          string
	Style           string
	Title           string
	ArtifactURL     string // empty until completed
	EstimatedCost   int64
	ChargedCost     int64
	CreditsDeducted bool
	Progress        float64 // 0..100, best effort from the provider
	LeaseToken      string  // holder token for the per-user generation lease
	FailReason      string
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

func NewGenerationTask(userID, provider string, kind MediaKind, prompt, style, title string, cost int64) (*GenerationTask, error) {
	if userID == "" || provider == "" || prompt == "" {
		return nil, domain.ErrInvalidArgument
	}
	if cost < 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &GenerationTask{
		ID:            ulid.Make().String(),
		UserID:        userID,
		Provider:      provider,
		Kind:          kind,
		Status:        TaskStatusPending,
		Prompt:        prompt,
		Style:         style,
		Title:         title,
		EstimatedCost: cost,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (t *GenerationTask) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// TimedOutLocally reports whether the task failed only because the local polling
// budget ran out, in which case a later provider success still wins.
func (t *GenerationTask) TimedOutLocally() bool {
	return t.Status == TaskStatusFailed && t.FailReason == FailReasonTimeout
}

func (t *GenerationTask) MarkProcessing(externalID string) {
	t.ExternalID = externalID
	t.Status = TaskStatusProcessing
	t.UpdatedAt = time.Now()
}

func (t *GenerationTask) MarkFailed(reason, detail string) {
	t.Status = TaskStatusFailed
	t.FailReason = reason
	t.LastError = detail
	t.UpdatedAt = time.Now()
}

func (t *GenerationTask) MarkCompleted(artifactURL string, at time.Time) {
	t.Status = TaskStatusCompleted
	t.ArtifactURL = artifactURL
	t.Progress = 100
	t.FailReason = ""
	t.CompletedAt = &at
	t.UpdatedAt = time.Now()
}
