package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"planetq-generation/internal/domain"
	"planetq-generation/internal/domain/model"
	"planetq-generation/internal/domain/ports/adapter"
	"planetq-generation/internal/domain/ports/repository"
	"planetq-generation/internal/infra/logging"
	"planetq-generation/internal/infra/metrics"
)

// Compile-time check
var _ ReconcileUseCase = (*reconcileUC)(nil)

// ReconcileUseCase is the single idempotent path that advances a task from a
// provider status, no matter which trigger observed it: the in-process poll
// loop, the inbound webhook, or the periodic sweep. All side effects of a
// success (credit deduction, log entry, gallery insert, flag flip) happen in
// one transaction, serialized on the locked task row.
type ReconcileUseCase interface {
	// Reconcile polls the provider once for the task's current status and applies it.
	Reconcile(ctx context.Context, taskID string) (*model.GenerationTask, error)
	// Apply advances the task according to an already-known provider status
	// (webhook path). Reconciling an already-terminal task is a no-op.
	Apply(ctx context.Context, taskID string, st *adapter.StatusResult) (*model.GenerationTask, error)
	// PollUntilDone drives the bounded poll loop for one task. Individual poll
	// errors are swallowed; when the attempt budget runs out the task is marked
	// failed locally with a timeout reason.
	PollUntilDone(ctx context.Context, taskID string) (*model.GenerationTask, error)
	// FailLocally marks a non-terminal task failed for a local reason (timeout,
	// stale). No credit movement. A later provider success can still override a
	// timeout failure.
	FailLocally(ctx context.Context, taskID, reason, message string) (*model.GenerationTask, error)
	// FindByExternalID resolves a webhook's task handle to our task.
	FindByExternalID(ctx context.Context, provider, externalID string) (*model.GenerationTask, error)
}

type reconcileUC struct {
	tasks     repository.TaskRepository
	gallery   repository.GalleryRepository
	ledger    CreditLedgerUseCase
	providers adapter.ProviderRegistry
	lease     adapter.GenerationLease
	notifier  adapter.ProgressNotifier
	tm        repository.TransactionManager

	pollInterval time.Duration
	maxAttempts  int

	log *zerolog.Logger
}

func NewReconcileUseCase(
	tasks repository.TaskRepository,
	gallery repository.GalleryRepository,
	ledger CreditLedgerUseCase,
	providers adapter.ProviderRegistry,
	lease adapter.GenerationLease,
	notifier adapter.ProgressNotifier,
	tm repository.TransactionManager,
	pollInterval time.Duration,
	maxAttempts int,
	logger *zerolog.Logger,
) *reconcileUC {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 60
	}
	return &reconcileUC{
		tasks:        tasks,
		gallery:      gallery,
		ledger:       ledger,
		providers:    providers,
		lease:        lease,
		notifier:     notifier,
		tm:           tm,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		log:          logger,
	}
}

func (u *reconcileUC) Reconcile(ctx context.Context, taskID string) (*model.GenerationTask, error) {
	task, err := u.tasks.FindByID(ctx, nil, taskID)
	if err != nil {
		return nil, err
	}
	if task.IsTerminal() && !task.TimedOutLocally() {
		return task, nil
	}
	if task.ExternalID == "" {
		// Never reached the provider; nothing to query.
		return task, nil
	}
	provider, ok := u.providers.Get(task.Provider)
	if !ok {
		return nil, domain.ErrInvalidArgument
	}
	st, err := provider.Status(ctx, task.ExternalID)
	if err != nil {
		return nil, err
	}
	return u.Apply(ctx, taskID, st)
}

func (u *reconcileUC) Apply(ctx context.Context, taskID string, st *adapter.StatusResult) (*model.GenerationTask, error) {
	if st == nil {
		return nil, domain.ErrInvalidArgument
	}
	defer logging.TraceDuration(u.log, "ReconcileUC.Apply")()

	var (
		result   *model.GenerationTask
		events   []adapter.ProgressEvent
		finished bool
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		task, err := u.tasks.FindByIDForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		result = task
		finished = false

		// Terminal states are sticky. The one exception: a provider-reported
		// success overrides a purely local timeout failure, since a timeout is
		// our verdict, not the provider's. The deducted flag still guarantees
		// at-most-once billing either way.
		if task.IsTerminal() {
			if !(task.TimedOutLocally() && st.Status == model.TaskStatusCompleted) {
				return nil
			}
		}

		switch st.Status {
		case model.TaskStatusPending, model.TaskStatusProcessing:
			if st.Progress > task.Progress {
				task.Progress = st.Progress
			}
			task.Status = model.TaskStatusProcessing
			task.UpdatedAt = time.Now()
			if err := u.tasks.Save(ctx, tx, task); err != nil {
				return err
			}
			events = append(events, adapter.ProgressEvent{
				TaskID: task.ID, Status: string(task.Status), Progress: task.Progress, Message: st.Message,
			})
			return nil

		case model.TaskStatusFailed:
			task.MarkFailed(model.FailReasonProvider, st.Message)
			finished = true
			if err := u.tasks.Save(ctx, tx, task); err != nil {
				return err
			}
			events = append(events, adapter.ProgressEvent{
				TaskID: task.ID, Status: string(task.Status), Progress: task.Progress, Message: st.Message,
			})
			return nil

		case model.TaskStatusCompleted:
			if st.ArtifactURL == "" {
				// A success without an artifact is not a success we can honor.
				task.MarkFailed(model.FailReasonProvider, "provider reported success without artifact URL")
				finished = true
				if err := u.tasks.Save(ctx, tx, task); err != nil {
					return err
				}
				events = append(events, adapter.ProgressEvent{
					TaskID: task.ID, Status: string(task.Status), Message: task.LastError,
				})
				return nil
			}
			if !task.CreditsDeducted {
				if _, err := u.ledger.DeductInTx(ctx, tx, task.UserID, task.EstimatedCost,
					model.CreditReasonGeneration, task.ID, "generation charge"); err != nil {
					return err
				}
				task.ChargedCost = task.EstimatedCost
				task.CreditsDeducted = true
			}
			exists, err := u.gallery.ExistsByArtifactURL(ctx, tx, task.UserID, st.ArtifactURL)
			if err != nil {
				return err
			}
			if !exists {
				item := model.NewGalleryItem(task.UserID, task.ID, task.Kind, task.Title, st.ArtifactURL)
				if err := u.gallery.Save(ctx, tx, item); err != nil {
					return err
				}
			}
			task.MarkCompleted(st.ArtifactURL, time.Now())
			finished = true
			if err := u.tasks.Save(ctx, tx, task); err != nil {
				return err
			}
			events = append(events, adapter.ProgressEvent{
				TaskID: task.ID, Status: string(task.Status), Progress: 100, Message: st.ArtifactURL,
			})
			return nil

		default:
			return domain.ErrInvalidArgument
		}
	})
	if err != nil {
		return nil, err
	}

	for _, ev := range events {
		u.notifier.Publish(ctx, ev)
	}
	// Only the call that actually transitioned the task runs the terminal
	// bookkeeping; webhook re-deliveries over an already-terminal task must not
	// re-count it finished or re-touch the lease.
	if finished {
		u.finishTask(ctx, result)
	}
	return result, nil
}

func (u *reconcileUC) PollUntilDone(ctx context.Context, taskID string) (*model.GenerationTask, error) {
	ctx = logging.WithTaskID(ctx, taskID)
	ticker := time.NewTicker(u.pollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < u.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		task, err := u.Reconcile(ctx, taskID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			// Transient poll failure: swallow and retry on the next tick.
			u.log.Warn().Err(err).Str("task_id", taskID).Int("attempt", attempt+1).Msg("poll failed")
			continue
		}
		if task.IsTerminal() {
			return task, nil
		}
	}
	return u.FailLocally(ctx, taskID, model.FailReasonTimeout, "polling attempts exhausted")
}

func (u *reconcileUC) FindByExternalID(ctx context.Context, provider, externalID string) (*model.GenerationTask, error) {
	return u.tasks.FindByExternalID(ctx, nil, provider, externalID)
}

func (u *reconcileUC) FailLocally(ctx context.Context, taskID, reason, message string) (*model.GenerationTask, error) {
	var (
		result *model.GenerationTask
		failed bool
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		task, err := u.tasks.FindByIDForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		result = task
		failed = false
		if task.IsTerminal() {
			return nil
		}
		task.MarkFailed(reason, message)
		failed = true
		return u.tasks.Save(ctx, tx, task)
	})
	if err != nil {
		return nil, err
	}
	if failed {
		u.notifier.Publish(ctx, adapter.ProgressEvent{
			TaskID: result.ID, Status: string(result.Status), Message: message,
		})
		u.finishTask(ctx, result)
	}
	return result, nil
}

// finishTask runs post-terminal bookkeeping: metrics and lease release.
func (u *reconcileUC) finishTask(ctx context.Context, task *model.GenerationTask) {
	metrics.IncTaskFinished(task.Provider, string(task.Status))
	if task.LeaseToken != "" {
		if err := u.lease.Release(ctx, task.UserID, task.LeaseToken); err != nil {
			u.log.Warn().Err(err).Str("task_id", task.ID).Msg("lease release failed")
		}
	}
}
