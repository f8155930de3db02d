package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
)

// DefaultSessionCookieName はセッションCookieの名前。
const DefaultSessionCookieName = "session_id"

// sessionTokenBytes はセッショントークンの乱数バイト数。16進表現で64文字になる。
const sessionTokenBytes = 32

// CookieConfig はセッションCookieの設定。
type CookieConfig struct {
	Name   string
	Domain string
	Secure bool
	MaxAge int // 有効期間（秒）
}

// SessionManager はセッションの発行・解決・破棄を行う。
// 状態はすべてSessionRepositoryに置き、複数リクエストから並行に呼び出してよい。
type SessionManager struct {
	repo   repository.SessionRepository
	cookie CookieConfig
	now    func() time.Time
}

// NewSessionManager はSessionManagerを生成する。
func NewSessionManager(repo repository.SessionRepository, cookie CookieConfig) *SessionManager {
	if cookie.Name == "" {
		cookie.Name = DefaultSessionCookieName
	}
	return &SessionManager{
		repo:   repo,
		cookie: cookie,
		now:    time.Now,
	}
}

// CookieName はセッションCookieの名前を返す。
func (m *SessionManager) CookieName() string {
	return m.cookie.Name
}

// Create は新しいセッションを発行し、Cookieをレスポンスに設定する。
func (m *SessionManager) Create(ctx context.Context, w http.ResponseWriter, userID string) (*model.Session, error) {
	token, err := generateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := m.now()
	session := &model.Session{
		ID:        token,
		UserID:    userID,
		ExpiresAt: now.Add(m.maxAge()),
		CreatedAt: now,
	}
	if err := m.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	http.SetCookie(w, m.newCookie(token, m.cookie.MaxAge))
	return session, nil
}

// Resolve はリクエストのCookieからユーザーIDを解決する。
// Cookieがない・形式が不正・期限切れの場合は空文字列を返す。
// 有効期間の半分以上が経過していれば期限を延長する。
func (m *SessionManager) Resolve(ctx context.Context, r *http.Request) (string, error) {
	token := m.tokenFromRequest(r)
	if !validSessionToken(token) {
		return "", nil
	}

	session, err := m.repo.FindByID(ctx, token)
	if err != nil {
		return "", fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return "", nil
	}

	now := m.now()
	if !session.ExpiresAt.After(now) {
		return "", nil
	}

	if session.ExpiresAt.Sub(now) < m.maxAge()/2 {
		if err := m.repo.Touch(ctx, token, now.Add(m.maxAge())); err != nil {
			// 延長に失敗しても現在のセッションは有効
			slog.Warn("failed to refresh session",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
		}
	}

	return session.UserID, nil
}

// Destroy はセッションを破棄し、Cookieをクリアする。
// 存在しないセッションの破棄はエラーにしない。
func (m *SessionManager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	defer http.SetCookie(w, m.newCookie("", -1))

	token := m.tokenFromRequest(r)
	if !validSessionToken(token) {
		return nil
	}
	if err := m.repo.DeleteByID(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DestroyAll は指定ユーザーの全セッションを破棄し、Cookieをクリアする。
func (m *SessionManager) DestroyAll(ctx context.Context, w http.ResponseWriter, userID string) error {
	defer http.SetCookie(w, m.newCookie("", -1))

	if err := m.repo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

func (m *SessionManager) tokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(m.cookie.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (m *SessionManager) maxAge() time.Duration {
	return time.Duration(m.cookie.MaxAge) * time.Second
}

func (m *SessionManager) newCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookie.Name,
		Value:    value,
		Path:     "/",
		Domain:   m.cookie.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// generateSessionToken は暗号的に安全なセッショントークンを生成する。
func generateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// validSessionToken はトークンが64文字の小文字16進数かを判定する。
func validSessionToken(token string) bool {
	if len(token) != sessionTokenBytes*2 {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
