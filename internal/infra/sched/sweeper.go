package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"planetq-generation/internal/domain/model"
	"planetq-generation/internal/domain/ports/repository"
	"planetq-generation/internal/infra/metrics"
	"planetq-generation/internal/usecase"
)

// Sweeper periodically re-checks tasks still unfinished past a freshness
// window. It is the safety net for missed webhooks and crashed poll loops: any
// trigger may reconcile a task, so the reconciler's idempotence does the real
// work and the sweeper just supplies the trigger.
type Sweeper struct {
	recon      usecase.ReconcileUseCase
	tasks      repository.TaskRepository
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old an unfinished task must be to re-check
	maxAge     time.Duration // handle-less tasks older than this are given up on
	batchSize  int
	log        *zerolog.Logger
}

func NewSweeper(recon usecase.ReconcileUseCase, tasks repository.TaskRepository, interval, staleAfter, maxAge time.Duration, batchSize int, logger *zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Sweeper{
		recon:      recon,
		tasks:      tasks,
		interval:   interval,
		staleAfter: staleAfter,
		maxAge:     maxAge,
		batchSize:  batchSize,
		log:        logger,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// SweepOnce returns how many tasks it re-checked. Also reachable through the
// operator endpoint.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.staleAfter)
	stale, err := s.tasks.ListUnfinishedOlderThan(ctx, nil, cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}

	checked := 0
	for _, t := range stale {
		if t.ExternalID == "" {
			// Never obtained a provider handle. Past maxAge there is nothing
			// left to query; give up on it.
			if time.Since(t.CreatedAt) > s.maxAge {
				if _, err := s.recon.FailLocally(ctx, t.ID, model.FailReasonStale, "abandoned before provider accepted it"); err != nil {
					s.log.Error().Err(err).Str("task_id", t.ID).Msg("sweep: mark stale failed")
				}
			}
			continue
		}
		if _, err := s.recon.Reconcile(ctx, t.ID); err != nil {
			s.log.Warn().Err(err).Str("task_id", t.ID).Msg("sweep: reconcile failed")
			continue
		}
		metrics.IncSweepReconciled()
		checked++
	}
	if checked > 0 {
		s.log.Info().Int("checked", checked).Int("batch", len(stale)).Msg("sweep complete")
	}
	return checked, nil
}
