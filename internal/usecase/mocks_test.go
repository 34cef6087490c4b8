//go:build !integration

package usecase_test

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"planetq-generation/internal/domain"
	"planetq-generation/internal/domain/model"
	"planetq-generation/internal/domain/ports/adapter"
	"planetq-generation/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	return &l
}

// --- TxManager ---

// MockTxManager just invokes the callback; the mock repositories below are
// already atomic in-memory, so there is nothing to begin or commit.
type MockTxManager struct {
	mu sync.Mutex
}

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

func (m *MockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	// Serialize callers the way row locks would.
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, nil)
}

// --- User repository ---

type MockUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User

	SaveFunc func(ctx context.Context, tx repository.Tx, u *model.User) error
}

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{users: make(map[string]*model.User)}
}

func (m *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, u)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MockUserRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockUserRepo) FindByEmail(_ context.Context, _ repository.Tx, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockUserRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	return m.FindByID(ctx, tx, id)
}

func (m *MockUserRepo) AdjustCredits(_ context.Context, _ repository.Tx, id string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Credits += delta
	if delta < 0 {
		u.TotalUsed += -delta
	}
	return nil
}

func (m *MockUserRepo) CountUsers(_ context.Context, _ repository.Tx) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}

// Balance is a test helper.
func (m *MockUserRepo) Balance(id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u.Credits
	}
	return -1
}

// --- Task repository ---

type MockTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*model.GenerationTask

	SaveFunc func(ctx context.Context, tx repository.Tx, t *model.GenerationTask) error
}

func NewMockTaskRepo() *MockTaskRepo {
	return &MockTaskRepo{tasks: make(map[string]*model.GenerationTask)}
}

func (m *MockTaskRepo) Save(ctx context.Context, tx repository.Tx, t *model.GenerationTask) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *MockTaskRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.GenerationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MockTaskRepo) FindByExternalID(_ context.Context, _ repository.Tx, provider, externalID string) (*model.GenerationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.Provider == provider && t.ExternalID == externalID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockTaskRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.GenerationTask, error) {
	return m.FindByID(ctx, tx, id)
}

func (m *MockTaskRepo) ListByUser(_ context.Context, _ repository.Tx, userID string, _, _ int) ([]*model.GenerationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.GenerationTask
	for _, t := range m.tasks {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockTaskRepo) ListUnfinishedOlderThan(_ context.Context, _ repository.Tx, cutoff time.Time, limit int) ([]*model.GenerationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.GenerationTask
	for _, t := range m.tasks {
		if !t.IsTerminal() && t.CreatedAt.Before(cutoff) && len(out) < limit {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Count is a test helper.
func (m *MockTaskRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// --- Credit log repository ---

type MockCreditLogRepo struct {
	mu      sync.Mutex
	entries []*model.CreditLogEntry
}

func NewMockCreditLogRepo() *MockCreditLogRepo { return &MockCreditLogRepo{} }

func (m *MockCreditLogRepo) Append(_ context.Context, _ repository.Tx, e *model.CreditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MockCreditLogRepo) ListByUser(_ context.Context, _ repository.Tx, userID string, _, _ int) ([]*model.CreditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.CreditLogEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockCreditLogRepo) ListByRelatedID(_ context.Context, _ repository.Tx, relatedID string) ([]*model.CreditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.CreditLogEntry
	for _, e := range m.entries {
		if e.RelatedID == relatedID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockCreditLogRepo) All() []*model.CreditLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.CreditLogEntry(nil), m.entries...)
}

// --- Gallery repository ---

type MockGalleryRepo struct {
	mu    sync.Mutex
	items []*model.GalleryItem
}

func NewMockGalleryRepo() *MockGalleryRepo { return &MockGalleryRepo{} }

func (m *MockGalleryRepo) Save(_ context.Context, _ repository.Tx, item *model.GalleryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.UserID == item.UserID && it.ArtifactURL == item.ArtifactURL {
			return nil // conflict: do nothing, matching the ON CONFLICT clause
		}
	}
	cp := *item
	m.items = append(m.items, &cp)
	return nil
}

func (m *MockGalleryRepo) ExistsByArtifactURL(_ context.Context, _ repository.Tx, userID, artifactURL string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.UserID == userID && it.ArtifactURL == artifactURL {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockGalleryRepo) ListByUser(_ context.Context, _ repository.Tx, userID string, _, _ int) ([]*model.GalleryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.GalleryItem
	for _, it := range m.items {
		if it.UserID == userID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *MockGalleryRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// --- Provider / registry ---

type MockProvider struct {
	NameVal    string
	SubmitFunc func(ctx context.Context, req adapter.SubmitRequest) (string, error)
	StatusFunc func(ctx context.Context, externalID string) (*adapter.StatusResult, error)
}

func (m *MockProvider) Name() string {
	if m.NameVal == "" {
		return "mock"
	}
	return m.NameVal
}

func (m *MockProvider) Submit(ctx context.Context, req adapter.SubmitRequest) (string, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, req)
	}
	return "ext-1", nil
}

func (m *MockProvider) Status(ctx context.Context, externalID string) (*adapter.StatusResult, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, externalID)
	}
	return &adapter.StatusResult{Status: model.TaskStatusProcessing}, nil
}

type MockRegistry struct {
	provider *MockProvider
}

func (m *MockRegistry) Get(name string) (adapter.GenerationProvider, bool) {
	if m.provider == nil || m.provider.Name() != name {
		return nil, false
	}
	return m.provider, true
}

// --- Lease ---

type MockLease struct {
	mu       sync.Mutex
	held     map[string]string
	Acquired int
	Released int

	AcquireFunc func(ctx context.Context, userID string) (string, error)
}

func NewMockLease() *MockLease { return &MockLease{held: make(map[string]string)} }

func (m *MockLease) Acquire(ctx context.Context, userID string) (string, error) {
	if m.AcquireFunc != nil {
		return m.AcquireFunc(ctx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[userID]; ok {
		return "", domain.ErrGenerationBusy
	}
	token := "lease-token"
	m.held[userID] = token
	m.Acquired++
	return token, nil
}

func (m *MockLease) Release(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Released++
	if m.held[userID] == token {
		delete(m.held, userID)
	}
	return nil
}

// --- Notifier ---

type MockNotifier struct {
	mu     sync.Mutex
	events []adapter.ProgressEvent
}

func (m *MockNotifier) Publish(_ context.Context, ev adapter.ProgressEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *MockNotifier) Events() []adapter.ProgressEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]adapter.ProgressEvent(nil), m.events...)
}
