package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/taskman/internal/model"
	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // 認証済みAPIのレート（req/sec、ユーザー単位）
	GeneralBurst    int           // 認証済みAPIのバーストサイズ
	SignInRate      rate.Limit    // サインイン・サインアップのレート（req/sec、IP単位）
	SignInBurst     int           // サインイン・サインアップのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 認証済みAPI 120 req/min/user、サインイン 10 req/min/IP。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfigPerMinute(120, 10)
}

// RateLimiterConfigPerMinute は分あたりのリクエスト数からRateLimiterConfigを生成する。
// バーストサイズは1分間の上限と同じにする。
func RateLimiterConfigPerMinute(general, signIn int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(general) / 60.0),
		GeneralBurst:    general,
		SignInRate:      rate.Limit(float64(signIn) / 60.0),
		SignInBurst:     signIn,
		CleanupInterval: 5 * time.Minute,
	}
}

// AuthFailureRecorder はサインイン制限の発動を記録する。
type AuthFailureRecorder interface {
	RecordAuthFailure(reason string)
}

// keyedLimiter はキーごとのレートリミッターと最終アクセス時刻を保持する。
type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet はキー（ユーザーIDやIP）ごとのリミッターの集合。
type limiterSet struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*keyedLimiter
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{limit: limit, burst: burst, entries: make(map[string]*keyedLimiter)}
}

func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	kl, ok := s.entries[key]
	if !ok {
		kl = &keyedLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[key] = kl
	}
	kl.lastAccess = time.Now()
	s.mu.Unlock()

	return kl.limiter.Allow()
}

func (s *limiterSet) prune(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, kl := range s.entries {
		if kl.lastAccess.Before(cutoff) {
			delete(s.entries, key)
		}
	}
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RateLimiter はユーザー単位の一般レート制限とIP単位のサインイン制限を管理する。
type RateLimiter struct {
	config   RateLimiterConfig
	general  *limiterSet
	signIn   *limiterSet
	recorder AuthFailureRecorder

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。recorderはnilでもよい。
func NewRateLimiter(config RateLimiterConfig, recorder AuthFailureRecorder) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		general:  newLimiterSet(config.GeneralRate, config.GeneralBurst),
		signIn:   newLimiterSet(config.SignInRate, config.SignInBurst),
		recorder: recorder,
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware は認証済みAPIのレート制限ミドルウェアを返す。
// RequireUserの後に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if !rl.general.allow(userID) {
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", "general"),
				)
				writeRateLimitResponse(w, rl.config.GeneralRate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SignInMiddleware はサインイン・サインアップのレート制限ミドルウェアを返す。
// 未認証リクエストが対象のため、クライアントIPをキーにする。
func (rl *RateLimiter) SignInMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !rl.signIn.allow(ip) {
				slog.Warn("rate limit exceeded",
					slog.String("client_ip", ip),
					slog.String("limit_type", "sign_in"),
				)
				if rl.recorder != nil {
					rl.recorder.RecordAuthFailure("rate_limited")
				}
				writeRateLimitResponse(w, rl.config.SignInRate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は一般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// SignInLimiterCount はサインインリミッターのエントリ数を返す。
func (rl *RateLimiter) SignInLimiterCount() int {
	return rl.signIn.len()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	rl.general.prune(ttl)
	rl.signIn.prune(ttl)
}

// clientIP はRemoteAddrからポートを除いたIPを返す。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが1つ補充されるまでの秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
