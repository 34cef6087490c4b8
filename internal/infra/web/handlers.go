package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"planetq-generation/internal/domain"
	"planetq-generation/internal/domain/model"
	"planetq-generation/internal/domain/ports/adapter"
	"planetq-generation/internal/infra/metrics"
	"planetq-generation/internal/usecase"
)

// ===== DTOs =====

type submitRequest struct {
	Provider string `json:"provider"`
	Kind     string `json:"kind"`
	Prompt   string `json:"prompt"`
	Style    string `json:"style,omitempty"`
	Title    string `json:"title,omitempty"`
	Model    string `json:"model,omitempty"`
}

type taskResponse struct {
	ID            string     `json:"id"`
	Provider      string     `json:"provider"`
	Kind          string     `json:"kind"`
	Status        string     `json:"status"`
	Prompt        string     `json:"prompt"`
	Title         string     `json:"title,omitempty"`
	ArtifactURL   string     `json:"artifactUrl,omitempty"`
	EstimatedCost int64      `json:"estimatedCost"`
	ChargedCost   int64      `json:"chargedCost"`
	Progress      float64    `json:"progress"`
	FailReason    string     `json:"failReason,omitempty"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

func toTaskResponse(t *model.GenerationTask) taskResponse {
	return taskResponse{
		ID:            t.ID,
		Provider:      t.Provider,
		Kind:          string(t.Kind),
		Status:        string(t.Status),
		Prompt:        t.Prompt,
		Title:         t.Title,
		ArtifactURL:   t.ArtifactURL,
		EstimatedCost: t.EstimatedCost,
		ChargedCost:   t.ChargedCost,
		Progress:      t.Progress,
		FailReason:    t.FailReason,
		Error:         t.LastError,
		CreatedAt:     t.CreatedAt,
		CompletedAt:   t.CompletedAt,
	}
}

// ===== Handlers =====

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	kind := model.MediaKind(req.Kind)
	if kind == "" {
		kind = model.MediaKindAudio
	}

	if s.limiter != nil {
		allowed, err := s.limiter.AllowSubmit(r.Context(), UserID(r.Context()))
		if err != nil {
			// Redis trouble should not block paying users; log and carry on.
			s.log.Warn().Err(err).Msg("submit rate limit check failed")
		} else if !allowed {
			metrics.IncSubmitRejected("rate_limited")
			writeError(w, http.StatusTooManyRequests, "too many submissions, slow down")
			return
		}
	}

	task, err := s.submitUC.Submit(r.Context(), UserID(r.Context()), usecase.SubmitInput{
		Provider: req.Provider,
		Kind:     kind,
		Prompt:   req.Prompt,
		Style:    req.Style,
		Title:    req.Title,
		Model:    req.Model,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.poller.Watch(task.ID)
	writeJSON(w, http.StatusAccepted, toTaskResponse(task))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.ownedTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	tasks, err := s.submitUC.ListByUser(r.Context(), UserID(r.Context()), offset, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	items, err := s.gallery.ListByUser(r.Context(), nil, UserID(r.Context()), offset, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreditHistory(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	entries, err := s.ledger.History(r.Context(), UserID(r.Context()), offset, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleEvents streams progress for one task as server-sent events, one JSON
// object per event, closing after the terminal event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	task, ok := s.ownedTask(w, r)
	if !ok {
		return
	}

	flusher, okf := w.(http.Flusher)
	if !okf {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE := func(ev adapter.ProgressEvent) {
		b, _ := json.Marshal(ev)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}

	// Subscribe before reading the snapshot. Reconciliation commits before it
	// publishes, so any event published while we were not yet subscribed is
	// already visible in the re-read; the other order can miss the terminal
	// event and leave the stream open on keepalives forever.
	ch := make(chan []byte, 16)
	s.hub.Subscribe(ch, task.ID)
	defer s.hub.Unsubscribe(ch, task.ID)

	if fresh, err := s.submitUC.Get(r.Context(), task.ID); err == nil {
		task = fresh
	}

	// Current state first, so late subscribers see something immediately.
	writeSSE(adapter.ProgressEvent{
		TaskID:   task.ID,
		Status:   string(task.Status),
		Progress: task.Progress,
		Message:  task.LastError,
	})
	if task.IsTerminal() {
		return
	}

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case b := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
			var ev adapter.ProgressEvent
			if json.Unmarshal(b, &ev) == nil && terminalStatus(ev.Status) {
				return
			}
		}
	}
}

// webhookPayload accepts both the unified task-API shape and the Suno callback
// envelope.
type webhookPayload struct {
	TaskID   string  `json:"task_id"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Output   struct {
		AudioURL  string   `json:"audio_url"`
		ImageURL  string   `json:"image_url"`
		VideoURL  string   `json:"video_url"`
		ImageURLs []string `json:"image_urls"`
	} `json:"output"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Data *struct {
		CallbackType string `json:"callbackType"`
		TaskID       string `json:"task_id"`
		Data         []struct {
			AudioURL string `json:"audio_url"`
		} `json:"data"`
	} `json:"data"`
	Msg string `json:"msg"`
}

func (p *webhookPayload) normalize() (externalID string, st *adapter.StatusResult) {
	if p.Data != nil && p.Data.TaskID != "" {
		// Suno envelope
		res := &adapter.StatusResult{Message: p.Msg}
		switch strings.ToLower(p.Data.CallbackType) {
		case "complete":
			res.Status = model.TaskStatusCompleted
			res.Progress = 100
			if len(p.Data.Data) > 0 {
				res.ArtifactURL = p.Data.Data[0].AudioURL
			}
		case "error":
			res.Status = model.TaskStatusFailed
		default: // text, first
			res.Status = model.TaskStatusProcessing
			res.Progress = 50
		}
		return p.Data.TaskID, res
	}

	res := &adapter.StatusResult{Progress: p.Progress, Message: p.Error.Message}
	switch strings.ToLower(p.Status) {
	case "pending", "staged":
		res.Status = model.TaskStatusPending
	case "processing":
		res.Status = model.TaskStatusProcessing
	case "completed", "success":
		res.Status = model.TaskStatusCompleted
		res.Progress = 100
		res.ArtifactURL = p.Output.AudioURL
		if res.ArtifactURL == "" {
			res.ArtifactURL = p.Output.ImageURL
		}
		if res.ArtifactURL == "" {
			res.ArtifactURL = p.Output.VideoURL
		}
		if res.ArtifactURL == "" && len(p.Output.ImageURLs) > 0 {
			res.ArtifactURL = p.Output.ImageURLs[0]
		}
	default:
		res.Status = model.TaskStatusFailed
	}
	return p.TaskID, res
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhookSecret == "" ||
		subtle.ConstantTimeCompare([]byte(r.URL.Query().Get("token")), []byte(s.webhookSecret)) != 1 {
		writeError(w, http.StatusForbidden, "bad webhook token")
		return
	}
	provider := chi.URLParam(r, "provider")

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	externalID, st := payload.normalize()
	if externalID == "" {
		writeError(w, http.StatusBadRequest, "missing task_id")
		return
	}

	task, err := s.reconUC.FindByExternalID(r.Context(), provider, externalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Unknown handle: acknowledge so the provider stops retrying.
			writeJSON(w, http.StatusOK, map[string]string{"result": "ignored"})
			return
		}
		s.writeDomainError(w, err)
		return
	}

	// Idempotent: re-delivery of an already-applied status is a no-op.
	if _, err := s.reconUC.Apply(r.Context(), task.ID, st); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.sweepKey == "" ||
		subtle.ConstantTimeCompare([]byte(r.URL.Query().Get("key")), []byte(s.sweepKey)) != 1 {
		writeError(w, http.StatusForbidden, "bad sweep key")
		return
	}
	checked, err := s.sweeper.SweepOnce(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"checked": checked})
}

// ===== Helpers =====

// ownedTask loads the path task and enforces that the session user owns it.
func (s *Server) ownedTask(w http.ResponseWriter, r *http.Request) (*model.GenerationTask, bool) {
	task, err := s.submitUC.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return nil, false
	}
	if task.UserID != UserID(r.Context()) {
		writeError(w, http.StatusNotFound, "task not found")
		return nil, false
	}
	return task, true
}

func terminalStatus(s string) bool {
	return s == string(model.TaskStatusCompleted) || s == string(model.TaskStatusFailed)
}

func pagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return offset, limit
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error     string `json:"error"`
	Shortfall int64  `json:"shortfall,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var insufficient *domain.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusPaymentRequired, errorResponse{
			Error:     insufficient.Error(),
			Shortfall: insufficient.Shortfall(),
		})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrGenerationBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrProviderFailure):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
