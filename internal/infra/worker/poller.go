package worker

import (
	"context"

	"github.com/rs/zerolog"

	"planetq-generation/internal/usecase"
)

// Poller drives the bounded poll loop for freshly submitted tasks on the
// shared pool. Webhooks usually land first; the poll loop is the fallback for
// providers (or deployments) without a reachable callback URL.
type Poller struct {
	pool  *Pool
	recon usecase.ReconcileUseCase
	log   *zerolog.Logger
}

func NewPoller(pool *Pool, recon usecase.ReconcileUseCase, logger *zerolog.Logger) *Poller {
	return &Poller{pool: pool, recon: recon, log: logger}
}

// Watch enqueues a poll loop for the task. A full queue is not an error worth
// surfacing to the submitting client; the sweep job will pick the task up.
func (p *Poller) Watch(taskID string) {
	err := p.pool.Submit(func(ctx context.Context) error {
		_, err := p.recon.PollUntilDone(ctx, taskID)
		return err
	})
	if err != nil {
		p.log.Warn().Err(err).Str("task_id", taskID).Msg("poll watch not scheduled")
	}
}
