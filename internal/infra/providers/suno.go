package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"planetq-generation/internal/domain/model"
	"planetq-generation/internal/domain/ports/adapter"
	"planetq-generation/internal/infra/metrics"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.GenerationProvider = (*SunoAdapter)(nil)

// SunoAdapter implements adapter.GenerationProvider against a Suno API gateway.
// Submit path: POST /api/v1/generate  -> {code, data:{taskId}}
// Status path: GET /api/v1/generate/record-info?taskId=... -> {code, data:{status, response:{sunoData:[{audioUrl}]}}}
// Authorization: Bearer <SUNO_API_KEY>
type SunoAdapter struct {
	apiKey string
	base   string
	model  string
	client *http.Client
}

func NewSunoAdapter(apiKey, base, model string) (*SunoAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("suno api key empty")
	}
	if base == "" {
		base = "https://api.sunoapi.org"
	}
	if model == "" {
		model = "V4"
	}
	return &SunoAdapter{
		apiKey: apiKey,
		base:   strings.TrimRight(base, "/"),
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *SunoAdapter) Name() string { return "suno" }

func (s *SunoAdapter) Submit(ctx context.Context, req adapter.SubmitRequest) (string, error) {
	mdl := req.Model
	if mdl == "" {
		mdl = s.model
	}
	reqBody := struct {
		Prompt      string `json:"prompt"`
		Style       string `json:"style,omitempty"`
		Title       string `json:"title,omitempty"`
		Model       string `json:"model"`
		CustomMode  bool   `json:"customMode"`
		CallBackURL string `json:"callBackUrl,omitempty"`
	}{
		Prompt:      req.Prompt,
		Style:       req.Style,
		Title:       req.Title,
		Model:       mdl,
		CustomMode:  req.Style != "",
		CallBackURL: req.CallbackURL,
	}

	start := time.Now()
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	err := s.doJSON(ctx, http.MethodPost, s.base+"/api/v1/generate", reqBody, &payload)
	metrics.ObserveProviderCall(s.Name(), "submit", time.Since(start).Milliseconds(), err == nil)
	if err != nil {
		return "", err
	}
	if payload.Code != 200 {
		return "", fmt.Errorf("suno code %d: %s", payload.Code, payload.Msg)
	}
	return payload.Data.TaskID, nil
}

func (s *SunoAdapter) Status(ctx context.Context, externalID string) (*adapter.StatusResult, error) {
	u := s.base + "/api/v1/generate/record-info?taskId=" + url.QueryEscape(externalID)

	start := time.Now()
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			Status   string `json:"status"`
			ErrorMsg string `json:"errorMessage"`
			Response struct {
				SunoData []struct {
					AudioURL string `json:"audioUrl"`
				} `json:"sunoData"`
			} `json:"response"`
		} `json:"data"`
	}
	err := s.doJSON(ctx, http.MethodGet, u, nil, &payload)
	metrics.ObserveProviderCall(s.Name(), "status", time.Since(start).Milliseconds(), err == nil)
	if err != nil {
		return nil, err
	}
	if payload.Code != 200 {
		return nil, fmt.Errorf("suno code %d: %s", payload.Code, payload.Msg)
	}

	res := &adapter.StatusResult{Message: payload.Data.ErrorMsg}
	switch strings.ToUpper(payload.Data.Status) {
	case "PENDING":
		res.Status = model.TaskStatusPending
	case "TEXT_SUCCESS", "FIRST_SUCCESS", "PROCESSING":
		res.Status = model.TaskStatusProcessing
		res.Progress = 50
	case "SUCCESS":
		res.Status = model.TaskStatusCompleted
		res.Progress = 100
		if len(payload.Data.Response.SunoData) > 0 {
			res.ArtifactURL = payload.Data.Response.SunoData[0].AudioURL
		}
	default: // CREATE_TASK_FAILED, GENERATE_AUDIO_FAILED, SENSITIVE_WORD_ERROR, ...
		res.Status = model.TaskStatusFailed
		if res.Message == "" {
			res.Message = payload.Data.Status
		}
	}
	return res, nil
}

func (s *SunoAdapter) doJSON(ctx context.Context, method, url string, in, out interface{}) error {
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
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("suno http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
