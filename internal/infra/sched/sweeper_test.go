//go:build !integration

package sched_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"planetq-generation/internal/domain"
	"planetq-generation/internal/domain/model"
	"planetq-generation/internal/domain/ports/adapter"
	"planetq-generation/internal/domain/ports/repository"
	"planetq-generation/internal/infra/sched"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	return &l
}

type stubTaskRepo struct {
	repository.TaskRepository
	unfinished []*model.GenerationTask
}

func (s *stubTaskRepo) ListUnfinishedOlderThan(_ context.Context, _ repository.Tx, cutoff time.Time, limit int) ([]*model.GenerationTask, error) {
	var out []*model.GenerationTask
	for _, t := range s.unfinished {
		if t.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

type stubRecon struct {
	reconciled []string
	failed     map[string]string // task id -> reason
}

func newStubRecon() *stubRecon { return &stubRecon{failed: make(map[string]string)} }

func (s *stubRecon) Reconcile(_ context.Context, taskID string) (*model.GenerationTask, error) {
	s.reconciled = append(s.reconciled, taskID)
	return &model.GenerationTask{ID: taskID, Status: model.TaskStatusProcessing}, nil
}

func (s *stubRecon) Apply(context.Context, string, *adapter.StatusResult) (*model.GenerationTask, error) {
	return nil, domain.ErrInvalidArgument
}

func (s *stubRecon) PollUntilDone(context.Context, string) (*model.GenerationTask, error) {
	return nil, domain.ErrInvalidArgument
}

func (s *stubRecon) FailLocally(_ context.Context, taskID, reason, _ string) (*model.GenerationTask, error) {
	s.failed[taskID] = reason
	return &model.GenerationTask{ID: taskID, Status: model.TaskStatusFailed, FailReason: reason}, nil
}

func (s *stubRecon) FindByExternalID(context.Context, string, string) (*model.GenerationTask, error) {
	return nil, domain.ErrNotFound
}

func oldTask(id, externalID string, age time.Duration) *model.GenerationTask {
	return &model.GenerationTask{
		ID:         id,
		UserID:     "u-1",
		Provider:   "suno",
		ExternalID: externalID,
		Status:     model.TaskStatusProcessing,
		CreatedAt:  time.Now().Add(-age),
	}
}

func TestSweeper_SweepOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("re-checks unfinished tasks with a handle", func(t *testing.T) {
		// Arrange
		recon := newStubRecon()
		tasks := &stubTaskRepo{unfinished: []*model.GenerationTask{
			oldTask("t-1", "ext-1", 20*time.Minute),
			oldTask("t-2", "ext-2", 30*time.Minute),
		}}
		sw := sched.NewSweeper(recon, tasks, time.Minute, 10*time.Minute, time.Hour, 200, newTestLogger())

		// Act
		checked, err := sw.SweepOnce(ctx)

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if checked != 2 {
			t.Errorf("expected 2 checked, got %d", checked)
		}
		if len(recon.reconciled) != 2 {
			t.Errorf("expected both tasks reconciled, got %v", recon.reconciled)
		}
	})

	t.Run("fresh tasks are left alone", func(t *testing.T) {
		recon := newStubRecon()
		tasks := &stubTaskRepo{unfinished: []*model.GenerationTask{
			oldTask("t-1", "ext-1", time.Minute),
		}}
		sw := sched.NewSweeper(recon, tasks, time.Minute, 10*time.Minute, time.Hour, 200, newTestLogger())

		checked, err := sw.SweepOnce(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if checked != 0 || len(recon.reconciled) != 0 {
			t.Errorf("fresh task must not be swept, checked=%d", checked)
		}
	})

	t.Run("handle-less tasks past max age are given up on", func(t *testing.T) {
		recon := newStubRecon()
		tasks := &stubTaskRepo{unfinished: []*model.GenerationTask{
			oldTask("t-old", "", 2*time.Hour),
			oldTask("t-young", "", 20*time.Minute),
		}}
		sw := sched.NewSweeper(recon, tasks, time.Minute, 10*time.Minute, time.Hour, 200, newTestLogger())

		if _, err := sw.SweepOnce(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reason := recon.failed["t-old"]; reason != model.FailReasonStale {
			t.Errorf("expected t-old marked stale, got %q", reason)
		}
		if _, ok := recon.failed["t-young"]; ok {
			t.Error("t-young is within max age and must be kept")
		}
		if len(recon.reconciled) != 0 {
			t.Error("handle-less tasks must not be reconciled against the provider")
		}
	})

	t.Run("respects the batch size", func(t *testing.T) {
		recon := newStubRecon()
		tasks := &stubTaskRepo{unfinished: []*model.GenerationTask{
			oldTask("t-1", "ext-1", 20*time.Minute),
			oldTask("t-2", "ext-2", 20*time.Minute),
			oldTask("t-3", "ext-3", 20*time.Minute),
		}}
		sw := sched.NewSweeper(recon, tasks, time.Minute, 10*time.Minute, time.Hour, 2, newTestLogger())

		checked, err := sw.SweepOnce(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if checked != 2 {
			t.Errorf("expected batch limited to 2, got %d", checked)
		}
	})
}
