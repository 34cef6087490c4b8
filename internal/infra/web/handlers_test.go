//go:build !integration

package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"planetq-generation/internal/domain"
	"planetq-generation/internal/domain/model"
	"planetq-generation/internal/domain/ports/adapter"
	"planetq-generation/internal/domain/ports/repository"
	"planetq-generation/internal/infra/sched"
	"planetq-generation/internal/infra/sse"
	"planetq-generation/internal/infra/worker"
	"planetq-generation/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	return &l
}

// ===== Stubs =====

type stubSubmitUC struct {
	submitFunc func(ctx context.Context, userID string, in usecase.SubmitInput) (*model.GenerationTask, error)
	getFunc    func(ctx context.Context, taskID string) (*model.GenerationTask, error)
}

func (s *stubSubmitUC) Submit(ctx context.Context, userID string, in usecase.SubmitInput) (*model.GenerationTask, error) {
	return s.submitFunc(ctx, userID, in)
}

func (s *stubSubmitUC) Get(ctx context.Context, taskID string) (*model.GenerationTask, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, taskID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubSubmitUC) ListByUser(context.Context, string, int, int) ([]*model.GenerationTask, error) {
	return nil, nil
}

type stubReconUC struct {
	findFunc  func(ctx context.Context, provider, externalID string) (*model.GenerationTask, error)
	applyFunc func(ctx context.Context, taskID string, st *adapter.StatusResult) (*model.GenerationTask, error)
}

func (s *stubReconUC) Reconcile(context.Context, string) (*model.GenerationTask, error) {
	return nil, domain.ErrNotFound
}

func (s *stubReconUC) Apply(ctx context.Context, taskID string, st *adapter.StatusResult) (*model.GenerationTask, error) {
	if s.applyFunc != nil {
		return s.applyFunc(ctx, taskID, st)
	}
	return nil, domain.ErrNotFound
}

func (s *stubReconUC) PollUntilDone(context.Context, string) (*model.GenerationTask, error) {
	return nil, domain.ErrNotFound
}

func (s *stubReconUC) FailLocally(context.Context, string, string, string) (*model.GenerationTask, error) {
	return nil, domain.ErrNotFound
}

func (s *stubReconUC) FindByExternalID(ctx context.Context, provider, externalID string) (*model.GenerationTask, error) {
	if s.findFunc != nil {
		return s.findFunc(ctx, provider, externalID)
	}
	return nil, domain.ErrNotFound
}

type stubLedger struct {
	usecase.CreditLedgerUseCase
}

func (s *stubLedger) History(context.Context, string, int, int) ([]*model.CreditLogEntry, error) {
	return nil, nil
}

type stubGallery struct {
	repository.GalleryRepository
}

func (s *stubGallery) ListByUser(context.Context, repository.Tx, string, int, int) ([]*model.GalleryItem, error) {
	return nil, nil
}

type stubTaskRepo struct {
	repository.TaskRepository
}

func (s *stubTaskRepo) ListUnfinishedOlderThan(context.Context, repository.Tx, time.Time, int) ([]*model.GenerationTask, error) {
	return nil, nil
}

type stubLimiter struct {
	allow bool
}

func (s *stubLimiter) AllowSubmit(context.Context, string) (bool, error) {
	return s.allow, nil
}

// ===== Fixture =====

type serverFixture struct {
	router  http.Handler
	auth    *AuthManager
	submit  *stubSubmitUC
	recon   *stubReconUC
	limiter *stubLimiter
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	log := newTestLogger()
	submit := &stubSubmitUC{
		submitFunc: func(context.Context, string, usecase.SubmitInput) (*model.GenerationTask, error) {
			return nil, domain.ErrInvalidArgument
		},
	}
	recon := &stubReconUC{}
	limiter := &stubLimiter{allow: true}
	sweeper := sched.NewSweeper(recon, &stubTaskRepo{}, time.Minute, time.Minute, time.Hour, 10, log)
	poller := worker.NewPoller(worker.NewPool(1, log), recon, log)
	auth := NewAuthManager("session-secret", time.Hour)

	srv := NewServer(submit, recon, &stubLedger{}, &stubGallery{}, sweeper, poller,
		sse.NewHub(log), auth, limiter, "hook-secret", "sweep-key", log)
	return &serverFixture{router: srv.Router(), auth: auth, submit: submit, recon: recon, limiter: limiter}
}

func (f *serverFixture) bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := f.auth.Mint(userID)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func processingTask(userID string) *model.GenerationTask {
	return &model.GenerationTask{
		ID:            "t-1",
		UserID:        userID,
		Provider:      "suno",
		Kind:          model.MediaKindAudio,
		ExternalID:    "ext-1",
		Status:        model.TaskStatusProcessing,
		Prompt:        "a song",
		EstimatedCost: 80,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
}

// ===== Tests =====

func TestAuthMiddleware(t *testing.T) {
	f := newServerFixture(t)

	t.Run("rejects missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/generations", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("rejects a token signed with another secret", func(t *testing.T) {
		other := NewAuthManager("other-secret", time.Hour)
		token, _ := other.Mint("u-1")
		req := httptest.NewRequest(http.MethodGet, "/api/v1/generations", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("accepts a minted token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/generations", nil)
		req.Header.Set("Authorization", f.bearer(t, "u-1"))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})
}

func TestHandleSubmit(t *testing.T) {
	t.Run("returns 202 with the pending task", func(t *testing.T) {
		// Arrange
		f := newServerFixture(t)
		f.submit.submitFunc = func(_ context.Context, userID string, in usecase.SubmitInput) (*model.GenerationTask, error) {
			if userID != "u-1" {
				t.Errorf("expected session user u-1, got %q", userID)
			}
			if in.Kind != model.MediaKindAudio {
				t.Errorf("expected default kind audio, got %s", in.Kind)
			}
			return processingTask(userID), nil
		}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/generations",
			strings.NewReader(`{"provider":"suno","prompt":"a song"}`))
		req.Header.Set("Authorization", f.bearer(t, "u-1"))

		// Act
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		// Assert
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp taskResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.ID != "t-1" || resp.Status != "processing" || resp.EstimatedCost != 80 {
			t.Errorf("unexpected response %+v", resp)
		}
	})

	t.Run("maps insufficient credits to 402 with the shortfall", func(t *testing.T) {
		f := newServerFixture(t)
		f.submit.submitFunc = func(context.Context, string, usecase.SubmitInput) (*model.GenerationTask, error) {
			return nil, &domain.InsufficientCreditsError{Required: 80, Available: 50}
		}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/generations",
			strings.NewReader(`{"provider":"suno","prompt":"a song"}`))
		req.Header.Set("Authorization", f.bearer(t, "u-1"))

		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusPaymentRequired {
			t.Fatalf("expected 402, got %d", rec.Code)
		}
		var resp errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Shortfall != 30 {
			t.Errorf("expected shortfall 30, got %d", resp.Shortfall)
		}
	})

	t.Run("maps a held lease to 409", func(t *testing.T) {
		f := newServerFixture(t)
		f.submit.submitFunc = func(context.Context, string, usecase.SubmitInput) (*model.GenerationTask, error) {
			return nil, domain.ErrGenerationBusy
		}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/generations",
			strings.NewReader(`{"provider":"suno","prompt":"a song"}`))
		req.Header.Set("Authorization", f.bearer(t, "u-1"))

		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("rate limited users get 429", func(t *testing.T) {
		f := newServerFixture(t)
		f.limiter.allow = false
		f.submit.submitFunc = func(context.Context, string, usecase.SubmitInput) (*model.GenerationTask, error) {
			t.Error("submit must not run once rate limited")
			return nil, nil
		}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/generations",
			strings.NewReader(`{"provider":"suno","prompt":"a song"}`))
		req.Header.Set("Authorization", f.bearer(t, "u-1"))

		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("expected 429, got %d", rec.Code)
		}
	})

	t.Run("rejects a malformed body", func(t *testing.T) {
		f := newServerFixture(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/generations", strings.NewReader("{"))
		req.Header.Set("Authorization", f.bearer(t, "u-1"))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestHandleGetTask(t *testing.T) {
	t.Run("another user's task reads as not found", func(t *testing.T) {
		f := newServerFixture(t)
		f.submit.getFunc = func(context.Context, string) (*model.GenerationTask, error) {
			return processingTask("someone-else"), nil
		}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/generations/t-1", nil)
		req.Header.Set("Authorization", f.bearer(t, "u-1"))

		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("ownership must not leak, expected 404, got %d", rec.Code)
		}
	})

	t.Run("owner sees the task", func(t *testing.T) {
		f := newServerFixture(t)
		f.submit.getFunc = func(context.Context, string) (*model.GenerationTask, error) {
			return processingTask("u-1"), nil
		}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/generations/t-1", nil)
		req.Header.Set("Authorization", f.bearer(t, "u-1"))

		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})
}

func TestHandleWebhook(t *testing.T) {
	t.Run("rejects a bad token", func(t *testing.T) {
		f := newServerFixture(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/suno?token=wrong",
			strings.NewReader(`{"task_id":"ext-1","status":"completed"}`))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("acknowledges an unknown handle so retries stop", func(t *testing.T) {
		f := newServerFixture(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/suno?token=hook-secret",
			strings.NewReader(`{"task_id":"no-such","status":"completed"}`))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "ignored") {
			t.Errorf("expected an ignored marker, got %s", rec.Body.String())
		}
	})

	t.Run("applies a unified completion payload", func(t *testing.T) {
		// Arrange
		f := newServerFixture(t)
		f.recon.findFunc = func(_ context.Context, provider, externalID string) (*model.GenerationTask, error) {
			if provider != "goapi" || externalID != "ext-1" {
				t.Errorf("unexpected lookup %s/%s", provider, externalID)
			}
			return processingTask("u-1"), nil
		}
		var applied *adapter.StatusResult
		f.recon.applyFunc = func(_ context.Context, taskID string, st *adapter.StatusResult) (*model.GenerationTask, error) {
			if taskID != "t-1" {
				t.Errorf("unexpected task id %q", taskID)
			}
			applied = st
			return processingTask("u-1"), nil
		}
		body := `{"task_id":"ext-1","status":"completed","output":{"audio_url":"https://cdn/a.mp3"}}`

		// Act
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
			"/api/v1/webhooks/goapi?token=hook-secret", strings.NewReader(body)))

		// Assert
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if applied == nil {
			t.Fatal("expected Apply to be called")
		}
		if applied.Status != model.TaskStatusCompleted || applied.ArtifactURL != "https://cdn/a.mp3" {
			t.Errorf("unexpected status %+v", applied)
		}
	})

	t.Run("applies a Suno callback envelope", func(t *testing.T) {
		f := newServerFixture(t)
		f.recon.findFunc = func(_ context.Context, _, externalID string) (*model.GenerationTask, error) {
			if externalID != "suno-1" {
				t.Errorf("unexpected external id %q", externalID)
			}
			return processingTask("u-1"), nil
		}
		var applied *adapter.StatusResult
		f.recon.applyFunc = func(_ context.Context, _ string, st *adapter.StatusResult) (*model.GenerationTask, error) {
			applied = st
			return processingTask("u-1"), nil
		}
		body := `{"data":{"callbackType":"complete","task_id":"suno-1","data":[{"audio_url":"https://cdn/s.mp3"}]}}`

		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
			"/api/v1/webhooks/suno?token=hook-secret", strings.NewReader(body)))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if applied == nil || applied.Status != model.TaskStatusCompleted || applied.ArtifactURL != "https://cdn/s.mp3" {
			t.Errorf("unexpected status %+v", applied)
		}
	})

	t.Run("rejects a payload without a handle", func(t *testing.T) {
		f := newServerFixture(t)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
			"/api/v1/webhooks/suno?token=hook-secret", strings.NewReader(`{"status":"completed"}`)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestHandleSweep(t *testing.T) {
	t.Run("rejects a bad key", func(t *testing.T) {
		f := newServerFixture(t)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/sweep?key=wrong", nil))
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("runs one sweep with the right key", func(t *testing.T) {
		f := newServerFixture(t)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/sweep?key=sweep-key", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp map[string]int
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if _, ok := resp["checked"]; !ok {
			t.Errorf("expected a checked count, got %s", rec.Body.String())
		}
	})
}

func TestHandleEvents(t *testing.T) {
	t.Run("terminal task streams its state and closes", func(t *testing.T) {
		f := newServerFixture(t)
		f.submit.getFunc = func(context.Context, string) (*model.GenerationTask, error) {
			task := processingTask("u-1")
			now := time.Now()
			task.MarkCompleted("https://cdn/a.mp3", now)
			return task, nil
		}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/generations/t-1/events", nil)
		req.Header.Set("Authorization", f.bearer(t, "u-1"))

		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
			t.Errorf("expected event stream content type, got %q", got)
		}
		body := rec.Body.String()
		if !strings.HasPrefix(body, "data: ") {
			t.Fatalf("expected an SSE data frame, got %q", body)
		}
		var ev adapter.ProgressEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(body, "data: "))), &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.Status != string(model.TaskStatusCompleted) {
			t.Errorf("expected completed event, got %+v", ev)
		}
	})

	t.Run("task completing during the snapshot read still closes the stream", func(t *testing.T) {
		// Arrange: the first read returns a still-processing snapshot, then the
		// task goes terminal before the handler subscribes. The re-read taken
		// after subscribing must observe the terminal state and end the stream.
		f := newServerFixture(t)
		calls := 0
		f.submit.getFunc = func(context.Context, string) (*model.GenerationTask, error) {
			calls++
			task := processingTask("u-1")
			if calls > 1 {
				task.MarkCompleted("https://cdn/a.mp3", time.Now())
			}
			return task, nil
		}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/generations/t-1/events", nil)
		req.Header.Set("Authorization", f.bearer(t, "u-1"))

		// Act
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		// Assert: ServeHTTP returned, so the handler closed rather than idling
		// on keepalives, and the one frame it wrote is the terminal event.
		if calls < 2 {
			t.Fatalf("expected the task to be re-read after subscribing, got %d reads", calls)
		}
		body := rec.Body.String()
		if !strings.HasPrefix(body, "data: ") {
			t.Fatalf("expected an SSE data frame, got %q", body)
		}
		var ev adapter.ProgressEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(body, "data: "))), &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.Status != string(model.TaskStatusCompleted) {
			t.Errorf("expected completed event, got %+v", ev)
		}
	})
}

func TestWebhookPayloadNormalize(t *testing.T) {
	t.Run("image fallback order", func(t *testing.T) {
		var p webhookPayload
		if err := json.Unmarshal([]byte(`{"task_id":"x","status":"success","output":{"image_urls":["https://cdn/i.png"]}}`), &p); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		id, st := p.normalize()
		if id != "x" || st.ArtifactURL != "https://cdn/i.png" {
			t.Errorf("got %q %+v", id, st)
		}
	})

	t.Run("suno error callback fails the task", func(t *testing.T) {
		var p webhookPayload
		if err := json.Unmarshal([]byte(`{"data":{"callbackType":"error","task_id":"s-1"},"msg":"generation failed"}`), &p); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		id, st := p.normalize()
		if id != "s-1" || st.Status != model.TaskStatusFailed || st.Message != "generation failed" {
			t.Errorf("got %q %+v", id, st)
		}
	})
}
