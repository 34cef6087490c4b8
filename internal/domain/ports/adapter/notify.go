package adapter

import "context"

// ProgressEvent is pushed to clients watching a task. Terminal statuses close
// the stream.
type ProgressEvent struct {
	TaskID   string  `json:"taskId"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
}

// ProgressNotifier fans a task's progress out to any attached stream. The SSE
// hub implements it; use cases only see this port.
type ProgressNotifier interface {
	Publish(ctx context.Context, ev ProgressEvent)
}

// GenerationLease is the single-slot per-user mutual-exclusion lease: at most
// one generation in flight per user. Acquire returns a holder token; Release
// must present the same token. Expiry frees the slot if the holder never does.
type GenerationLease interface {
	Acquire(ctx context.Context, userID string) (token string, err error)
	Release(ctx context.Context, userID, token string) error
}
