package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"planetq-generation/internal/domain/model"
	"planetq-generation/internal/domain/ports/adapter"
	"planetq-generation/internal/infra/metrics"
)

// taskAPIAdapter speaks the unified task API shared by GoAPI and PiAPI:
// Submit: POST /api/v1/task {model, task_type, input, config.webhook_config}
//         -> {code, data:{task_id}}
// Status: GET /api/v1/task/{id} -> {code, data:{status, output, error}}
// Authorization: x-api-key header.
type taskAPIAdapter struct {
	name     string
	apiKey   string
	base     string
	model    string
	taskType string
	client   *http.Client
}

var _ adapter.GenerationProvider = (*taskAPIAdapter)(nil)

// NewGoAPIAdapter targets GoAPI's Diffrhythm music models.
func NewGoAPIAdapter(apiKey, base, mdl string) (*taskAPIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("goapi key empty")
	}
	if base == "" {
		base = "https://api.goapi.ai"
	}
	if mdl == "" {
		mdl = "Qubico/diffrhythm"
	}
	return &taskAPIAdapter{
		name:     "goapi",
		apiKey:   apiKey,
		base:     strings.TrimRight(base, "/"),
		model:    mdl,
		taskType: "txt2audio-base",
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// NewPiAPIAdapter targets PiAPI's image/video models (same wire shape).
func NewPiAPIAdapter(apiKey, base, mdl string) (*taskAPIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("piapi key empty")
	}
	if base == "" {
		base = "https://api.piapi.ai"
	}
	if mdl == "" {
		mdl = "Qubico/flux1-dev"
	}
	return &taskAPIAdapter{
		name:     "piapi",
		apiKey:   apiKey,
		base:     strings.TrimRight(base, "/"),
		model:    mdl,
		taskType: "txt2img",
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (a *taskAPIAdapter) Name() string { return a.name }

func (a *taskAPIAdapter) Submit(ctx context.Context, req adapter.SubmitRequest) (string, error) {
	mdl := req.Model
	if mdl == "" {
		mdl = a.model
	}
	type webhookConfig struct {
		Endpoint string `json:"endpoint"`
	}
	reqBody := struct {
		Model    string                 `json:"model"`
		TaskType string                 `json:"task_type"`
		Input    map[string]interface{} `json:"input"`
		Config   struct {
			WebhookConfig *webhookConfig `json:"webhook_config,omitempty"`
		} `json:"config"`
	}{
		Model:    mdl,
		TaskType: a.taskType,
		Input: map[string]interface{}{
			"prompt": req.Prompt,
		},
	}
	if req.Style != "" {
		reqBody.Input["style_prompt"] = req.Style
	}
	if req.CallbackURL != "" {
		reqBody.Config.WebhookConfig = &webhookConfig{Endpoint: req.CallbackURL}
	}

	start := time.Now()
	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			TaskID string `json:"task_id"`
		} `json:"data"`
	}
	err := a.doJSON(ctx, http.MethodPost, a.base+"/api/v1/task", reqBody, &payload)
	metrics.ObserveProviderCall(a.name, "submit", time.Since(start).Milliseconds(), err == nil)
	if err != nil {
		return "", err
	}
	if payload.Code != 200 {
		return "", fmt.Errorf("%s code %d: %s", a.name, payload.Code, payload.Message)
	}
	return payload.Data.TaskID, nil
}

func (a *taskAPIAdapter) Status(ctx context.Context, externalID string) (*adapter.StatusResult, error) {
	start := time.Now()
	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Status string `json:"status"`
			Output struct {
				AudioURL string   `json:"audio_url"`
				ImageURL string   `json:"image_url"`
				VideoURL string   `json:"video_url"`
				URLs     []string `json:"image_urls"`
			} `json:"output"`
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"data"`
	}
	err := a.doJSON(ctx, http.MethodGet, a.base+"/api/v1/task/"+externalID, nil, &payload)
	metrics.ObserveProviderCall(a.name, "status", time.Since(start).Milliseconds(), err == nil)
	if err != nil {
		return nil, err
	}
	if payload.Code != 200 {
		return nil, fmt.Errorf("%s code %d: %s", a.name, payload.Code, payload.Message)
	}

	res := &adapter.StatusResult{Message: payload.Data.Error.Message}
	switch strings.ToLower(payload.Data.Status) {
	case "pending", "staged":
		res.Status = model.TaskStatusPending
	case "processing":
		res.Status = model.TaskStatusProcessing
		res.Progress = 50
	case "completed", "success":
		res.Status = model.TaskStatusCompleted
		res.Progress = 100
		res.ArtifactURL = firstNonEmpty(
			payload.Data.Output.AudioURL,
			payload.Data.Output.ImageURL,
			payload.Data.Output.VideoURL,
		)
		if res.ArtifactURL == "" && len(payload.Data.Output.URLs) > 0 {
			res.ArtifactURL = payload.Data.Output.URLs[0]
		}
	default: // failed, cancelled
		res.Status = model.TaskStatusFailed
		if res.Message == "" {
			res.Message = payload.Data.Status
		}
	}
	return res, nil
}

func (a *taskAPIAdapter) doJSON(ctx context.Context, method, url string, in, out interface{}) error {
	var body *bytes.Reader
	if in != nil {
		b, _ := json.Marshal(in)
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s http %d", a.name, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
