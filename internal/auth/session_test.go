package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestSessionManager(repo *memorySessionRepo, now *time.Time) *SessionManager {
	m := NewSessionManager(repo, CookieConfig{MaxAge: 3600, Secure: true})
	m.now = func() time.Time { return *now }
	return m
}

// createSession はセッションを発行し、そのCookieを付けたリクエストを返す。
func createSession(t *testing.T, m *SessionManager, userID string) *http.Request {
	t.Helper()
	w := httptest.NewRecorder()
	if _, err := m.Create(context.Background(), w, userID); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	r := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	r.AddCookie(cookies[0])
	return r
}

func TestSessionManager_Create_SetsSecureCookie(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := newMemorySessionRepo()
	m := newTestSessionManager(repo, &now)

	w := httptest.NewRecorder()
	session, err := m.Create(context.Background(), w, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(session.ID) != 64 {
		t.Errorf("token length = %d, want 64", len(session.ID))
	}
	if !session.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, now.Add(time.Hour))
	}

	cookie := w.Result().Cookies()[0]
	if cookie.Name != DefaultSessionCookieName {
		t.Errorf("cookie name = %q, want %q", cookie.Name, DefaultSessionCookieName)
	}
	if cookie.Value != session.ID {
		t.Errorf("cookie value = %q, want session ID", cookie.Value)
	}
	if !cookie.HttpOnly {
		t.Error("cookie should be HttpOnly")
	}
	if !cookie.Secure {
		t.Error("cookie should be Secure")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", cookie.SameSite)
	}
	if cookie.Path != "/" {
		t.Errorf("Path = %q, want /", cookie.Path)
	}
}

func TestSessionManager_Create_UniqueTokens(t *testing.T) {
	now := time.Now()
	repo := newMemorySessionRepo()
	m := newTestSessionManager(repo, &now)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		s, err := m.Create(context.Background(), httptest.NewRecorder(), "user-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[s.ID] {
			t.Fatalf("duplicate token %q", s.ID)
		}
		seen[s.ID] = true
	}
}

func TestSessionManager_Resolve_ReturnsUserID(t *testing.T) {
	now := time.Now()
	repo := newMemorySessionRepo()
	m := newTestSessionManager(repo, &now)

	r := createSession(t, m, "user-1")

	userID, err := m.Resolve(context.Background(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-1" {
		t.Errorf("userID = %q, want %q", userID, "user-1")
	}
}

func TestSessionManager_Resolve_MissingOrMalformedCookie(t *testing.T) {
	now := time.Now()
	repo := newMemorySessionRepo()
	m := newTestSessionManager(repo, &now)

	tests := []struct {
		name  string
		value string
	}{
		{"no cookie", ""},
		{"short token", "abc123"},
		{"non-hex token", strings.Repeat("z", 64)},
		{"uppercase hex", strings.Repeat("A", 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.value != "" {
				r.AddCookie(&http.Cookie{Name: DefaultSessionCookieName, Value: tt.value})
			}
			userID, err := m.Resolve(context.Background(), r)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if userID != "" {
				t.Errorf("userID = %q, want empty", userID)
			}
		})
	}

	// 形式が不正なトークンではストアに問い合わせない
	if repo.finds != 0 {
		t.Errorf("store was queried %d times, want 0", repo.finds)
	}
}

func TestSessionManager_Resolve_UnknownToken(t *testing.T) {
	now := time.Now()
	repo := newMemorySessionRepo()
	m := newTestSessionManager(repo, &now)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: DefaultSessionCookieName, Value: strings.Repeat("a", 64)})

	userID, err := m.Resolve(context.Background(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "" {
		t.Errorf("userID = %q, want empty", userID)
	}
}

func TestSessionManager_Resolve_Expired(t *testing.T) {
	now := time.Now()
	repo := newMemorySessionRepo()
	m := newTestSessionManager(repo, &now)

	r := createSession(t, m, "user-1")
	now = now.Add(2 * time.Hour)

	userID, err := m.Resolve(context.Background(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "" {
		t.Errorf("expired session resolved to %q", userID)
	}
}

func TestSessionManager_Resolve_SlidingRefresh(t *testing.T) {
	start := time.Now()
	now := start
	repo := newMemorySessionRepo()
	m := newTestSessionManager(repo, &now)

	r := createSession(t, m, "user-1")

	// 有効期間の半分未満ではTouchしない
	now = start.Add(10 * time.Minute)
	if _, err := m.Resolve(context.Background(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.touches != 0 {
		t.Errorf("touches = %d, want 0", repo.touches)
	}

	// 半分を過ぎたら延長する
	now = start.Add(40 * time.Minute)
	if _, err := m.Resolve(context.Background(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.touches != 1 {
		t.Errorf("touches = %d, want 1", repo.touches)
	}

	// 延長後は元の期限を過ぎても有効
	now = start.Add(90 * time.Minute)
	userID, err := m.Resolve(context.Background(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-1" {
		t.Errorf("userID = %q, want user-1 after refresh", userID)
	}
}

func TestSessionManager_Resolve_StoreError(t *testing.T) {
	now := time.Now()
	repo := newMemorySessionRepo()
	m := newTestSessionManager(repo, &now)

	r := createSession(t, m, "user-1")
	repo.findErr = errors.New("db down")

	if _, err := m.Resolve(context.Background(), r); err == nil {
		t.Fatal("expected error when store fails")
	}
}

func TestSessionManager_Destroy_IsIdempotent(t *testing.T) {
	now := time.Now()
	repo := newMemorySessionRepo()
	m := newTestSessionManager(repo, &now)

	r := createSession(t, m, "user-1")

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		if err := m.Destroy(context.Background(), w, r); err != nil {
			t.Fatalf("Destroy #%d returned error: %v", i+1, err)
		}
		cookie := w.Result().Cookies()[0]
		if cookie.MaxAge >= 0 {
			t.Errorf("cookie MaxAge = %d, want negative", cookie.MaxAge)
		}
	}

	userID, _ := m.Resolve(context.Background(), r)
	if userID != "" {
		t.Errorf("destroyed session resolved to %q", userID)
	}
}

func TestSessionManager_Destroy_WithoutCookie(t *testing.T) {
	now := time.Now()
	m := newTestSessionManager(newMemorySessionRepo(), &now)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/auth/sign-out", nil)
	if err := m.Destroy(context.Background(), w, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.Result().Cookies()) != 1 {
		t.Error("expected the session cookie to be cleared")
	}
}

func TestSessionManager_DestroyAll(t *testing.T) {
	now := time.Now()
	repo := newMemorySessionRepo()
	m := newTestSessionManager(repo, &now)

	r1 := createSession(t, m, "user-1")
	r2 := createSession(t, m, "user-1")
	other := createSession(t, m, "user-2")

	if err := m.DestroyAll(context.Background(), httptest.NewRecorder(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, r := range []*http.Request{r1, r2} {
		if id, _ := m.Resolve(context.Background(), r); id != "" {
			t.Errorf("session for user-1 still resolves")
		}
	}
	if id, _ := m.Resolve(context.Background(), other); id != "user-2" {
		t.Errorf("other user's session = %q, want user-2", id)
	}
}

func TestSessionManager_ConcurrentResolve(t *testing.T) {
	now := time.Now()
	repo := newMemorySessionRepo()
	m := NewSessionManager(repo, CookieConfig{MaxAge: 3600})
	m.now = func() time.Time { return now }

	r := createSession(t, m, "user-1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if id, err := m.Resolve(context.Background(), r.Clone(context.Background())); err != nil || id != "user-1" {
				t.Errorf("Resolve = %q, %v", id, err)
			}
		}()
	}
	wg.Wait()
}
