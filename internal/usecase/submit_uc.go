package usecase

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"

	"planetq-generation/internal/domain"
	"planetq-generation/internal/domain/model"
	"planetq-generation/internal/domain/ports/adapter"
	"planetq-generation/internal/domain/ports/repository"
	"planetq-generation/internal/infra/metrics"
)

// Compile-time check
var _ SubmitUseCase = (*submitUC)(nil)

// SubmitInput is what a client sends to start a generation.
type SubmitInput struct {
	Provider string
	Kind     model.MediaKind
	Prompt   string
	Style    string
	Title    string
	Model    string
}

// SubmitUseCase accepts a generation request: verifies the balance covers the
// estimated cost, creates the pending task row, calls the provider, and stores
// the returned handle. Credits are NOT deducted here; that happens once, on
// successful reconciliation.
type SubmitUseCase interface {
	Submit(ctx context.Context, userID string, in SubmitInput) (*model.GenerationTask, error)
	Get(ctx context.Context, taskID string) (*model.GenerationTask, error)
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]*model.GenerationTask, error)
}

type submitUC struct {
	users     repository.UserRepository
	tasks     repository.TaskRepository
	providers adapter.ProviderRegistry
	estimator *CostEstimator
	lease     adapter.GenerationLease
	notifier  adapter.ProgressNotifier
	baseURL   string // public base URL webhooks are built from
	secret    string // shared secret embedded in the callback URL
	log       *zerolog.Logger
}

func NewSubmitUseCase(
	users repository.UserRepository,
	tasks repository.TaskRepository,
	providers adapter.ProviderRegistry,
	estimator *CostEstimator,
	lease adapter.GenerationLease,
	notifier adapter.ProgressNotifier,
	baseURL, webhookSecret string,
	logger *zerolog.Logger,
) *submitUC {
	return &submitUC{
		users:     users,
		tasks:     tasks,
		providers: providers,
		estimator: estimator,
		lease:     lease,
		notifier:  notifier,
		baseURL:   baseURL,
		secret:    webhookSecret,
		log:       logger,
	}
}

func (u *submitUC) Submit(ctx context.Context, userID string, in SubmitInput) (*model.GenerationTask, error) {
	if in.Prompt == "" || in.Provider == "" {
		return nil, domain.ErrInvalidArgument
	}
	provider, ok := u.providers.Get(in.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidArgument, in.Provider)
	}

	user, err := u.users.FindByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}

	cost := u.estimator.Estimate(in.Provider, in.Prompt)
	if !user.CanAfford(cost) {
		metrics.IncSubmitRejected("insufficient_credits")
		return nil, &domain.InsufficientCreditsError{Required: cost, Available: user.Credits}
	}

	token, err := u.lease.Acquire(ctx, userID)
	if err != nil {
		metrics.IncSubmitRejected("busy")
		return nil, err
	}

	task, err := model.NewGenerationTask(userID, provider.Name(), in.Kind, in.Prompt, in.Style, in.Title, cost)
	if err != nil {
		_ = u.lease.Release(ctx, userID, token)
		return nil, err
	}
	task.LeaseToken = token
	if err := u.tasks.Save(ctx, nil, task); err != nil {
		_ = u.lease.Release(ctx, userID, token)
		return nil, err
	}

	extID, err := provider.Submit(ctx, adapter.SubmitRequest{
		Kind:        in.Kind,
		Prompt:      in.Prompt,
		Style:       in.Style,
		Title:       in.Title,
		Model:       in.Model,
		CallbackURL: u.callbackURL(provider.Name()),
	})
	if err != nil || extID == "" {
		detail := "provider returned no task handle"
		if err != nil {
			detail = err.Error()
		}
		task.MarkFailed(model.FailReasonProvider, detail)
		if saveErr := u.tasks.Save(ctx, nil, task); saveErr != nil {
			u.log.Error().Err(saveErr).Str("task_id", task.ID).Msg("failed to persist provider failure")
		}
		_ = u.lease.Release(ctx, userID, token)
		metrics.IncTaskFinished(provider.Name(), string(model.TaskStatusFailed))
		return nil, &domain.ProviderError{Provider: provider.Name(), Detail: detail}
	}

	task.MarkProcessing(extID)
	if err := u.tasks.Save(ctx, nil, task); err != nil {
		// The provider accepted the job but we could not persist its handle.
		// Fail the task and free the slot instead of leaving it stuck pending
		// with the lease held until TTL.
		task.MarkFailed(model.FailReasonInternal, "failed to persist provider handle")
		if saveErr := u.tasks.Save(ctx, nil, task); saveErr != nil {
			u.log.Error().Err(saveErr).Str("task_id", task.ID).Msg("failed to persist task failure")
		}
		_ = u.lease.Release(ctx, userID, token)
		return nil, err
	}
	metrics.IncTaskSubmitted(provider.Name())
	u.notifier.Publish(ctx, adapter.ProgressEvent{
		TaskID:   task.ID,
		Status:   string(task.Status),
		Progress: 0,
		Message:  "queued with provider",
	})
	u.log.Info().Str("task_id", task.ID).Str("provider", provider.Name()).
		Str("external_id", extID).Int64("estimated_cost", cost).Msg("generation submitted")
	return task, nil
}

func (u *submitUC) Get(ctx context.Context, taskID string) (*model.GenerationTask, error) {
	return u.tasks.FindByID(ctx, nil, taskID)
}

func (u *submitUC) ListByUser(ctx context.Context, userID string, offset, limit int) ([]*model.GenerationTask, error) {
	return u.tasks.ListByUser(ctx, nil, userID, offset, limit)
}

func (u *submitUC) callbackURL(provider string) string {
	if u.baseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/api/v1/webhooks/%s?token=%s", u.baseURL, provider, url.QueryEscape(u.secret))
}
