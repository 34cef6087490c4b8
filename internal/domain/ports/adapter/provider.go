package adapter

import (
	"context"

	"planetq-generation/internal/domain/model"
)

// SubmitRequest is the provider-agnostic shape of a generation request.
type SubmitRequest struct {
	Kind        model.MediaKind
	Prompt      string
	Style       string
	Title       string
	Model       string
	CallbackURL string // webhook target, including the shared secret
}

// StatusResult is the provider-agnostic view of a task's remote state.
type StatusResult struct {
	Status      model.TaskStatus
	Progress    float64 // 0..100 when the provider reports it
	ArtifactURL string  // set on completion
	Message     string  // provider error or progress detail
}

// GenerationProvider is the outbound port to one external generation API
// (Suno, GoAPI/Diffrhythm, PiAPI). Submit returns the provider's task handle;
// Status polls it. Implementations live in internal/infra/providers.
type GenerationProvider interface {
	Name() string
	Submit(ctx context.Context, req SubmitRequest) (externalID string, err error)
	Status(ctx context.Context, externalID string) (*StatusResult, error)
}

// ProviderRegistry resolves a provider adapter by name.
type ProviderRegistry interface {
	Get(name string) (GenerationProvider, bool)
}
