package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"planetq-generation/internal/domain/ports/repository"
	"planetq-generation/internal/infra/sched"
	"planetq-generation/internal/infra/sse"
	"planetq-generation/internal/infra/worker"
	"planetq-generation/internal/usecase"
)

// SubmitLimiter bounds how often one user may start a generation. A nil
// limiter disables the check.
type SubmitLimiter interface {
	AllowSubmit(ctx context.Context, userID string) (bool, error)
}

// Server exposes the generation API: submit, status, progress stream, webhook
// receiver, and the operator sweep trigger.
type Server struct {
	submitUC usecase.SubmitUseCase
	reconUC  usecase.ReconcileUseCase
	ledger   usecase.CreditLedgerUseCase
	gallery  repository.GalleryRepository
	sweeper  *sched.Sweeper
	poller   *worker.Poller
	hub      *sse.Hub
	auth     *AuthManager
	limiter  SubmitLimiter

	webhookSecret string
	sweepKey      string

	server *http.Server
	log    *zerolog.Logger
}

func NewServer(
	submitUC usecase.SubmitUseCase,
	reconUC usecase.ReconcileUseCase,
	ledger usecase.CreditLedgerUseCase,
	gallery repository.GalleryRepository,
	sweeper *sched.Sweeper,
	poller *worker.Poller,
	hub *sse.Hub,
	auth *AuthManager,
	limiter SubmitLimiter,
	webhookSecret, sweepKey string,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		submitUC:      submitUC,
		reconUC:       reconUC,
		ledger:        ledger,
		gallery:       gallery,
		sweeper:       sweeper,
		poller:        poller,
		hub:           hub,
		auth:          auth,
		limiter:       limiter,
		webhookSecret: webhookSecret,
		sweepKey:      sweepKey,
		log:           logger,
	}
}

// Router builds the chi router. Split out so tests can drive handlers without
// binding a port.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID)
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Provider-facing and operator-facing routes authenticate by shared
	// secret, not user session.
	r.Post("/api/v1/webhooks/{provider}", s.handleWebhook)
	r.Get("/internal/sweep", s.handleSweep)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/api/v1/generations", s.handleSubmit)
		r.Get("/api/v1/generations", s.handleListTasks)
		r.Get("/api/v1/generations/{id}", s.handleGetTask)
		r.Get("/api/v1/generations/{id}/events", s.handleEvents)
		r.Get("/api/v1/gallery", s.handleGallery)
		r.Get("/api/v1/credits/history", s.handleCreditHistory)
	})

	return r
}

func (s *Server) Start(port int) error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
		// No WriteTimeout: SSE streams stay open until terminal.
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
