package auth

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

// --- モック定義 ---

// memorySessionRepo はテスト用のインメモリSessionRepository。
type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	finds    int
	touches  int
	findErr  error
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{sessions: map[string]*model.Session{}}
}

func (m *memorySessionRepo) Create(_ context.Context, session *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *session
	m.sessions[session.ID] = &s
	return nil
}

func (m *memorySessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	if m.findErr != nil {
		return nil, m.findErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (m *memorySessionRepo) Touch(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touches++
	if s, ok := m.sessions[id]; ok {
		s.ExpiresAt = expiresAt
	}
	return nil
}

func (m *memorySessionRepo) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memorySessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memorySessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

type mockUserFinder struct {
	findByIDFn         func(ctx context.Context, id string) (*model.User, error)
	findByExternalIDFn func(ctx context.Context, externalID string) (*model.User, error)
}

func (m *mockUserFinder) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserFinder) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	if m.findByExternalIDFn != nil {
		return m.findByExternalIDFn(ctx, externalID)
	}
	return nil, nil
}

type mockAccountStore struct {
	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
	createFn      func(ctx context.Context, user *model.User) error
}

func (m *mockAccountStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockAccountStore) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

type mockFailureRecorder struct {
	reasons []string
}

func (m *mockFailureRecorder) RecordAuthFailure(reason string) {
	m.reasons = append(m.reasons, reason)
}
