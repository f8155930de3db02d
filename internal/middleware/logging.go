package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// Unwrap はhttp.ResponseControllerが元のWriterに到達できるようにする。
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// requestLog は内側のミドルウェアが確定させた値をログ出力まで運ぶ。
type requestLog struct {
	userID string
}

var requestLogContextKey = contextKey("request_log")

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、user_id（認証済みの場合）を含む。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)
			info := &requestLog{}
			ctx := context.WithValue(r.Context(), requestLogContextKey, info)

			next.ServeHTTP(rec, r.WithContext(ctx))

			durationMs := float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond)

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}

			userID := info.userID
			if userID == "" {
				userID, _ = UserIDFromContext(r.Context())
			}
			if userID != "" {
				args = append(args, slog.String("user_id", userID))
			}

			level := slog.LevelInfo
			switch {
			case rec.statusCode >= 500:
				level = slog.LevelError
			case rec.statusCode >= 400:
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}

// noteUserID はログ出力用にユーザーIDを記録する。
func noteUserID(ctx context.Context, userID string) {
	if info, ok := ctx.Value(requestLogContextKey).(*requestLog); ok {
		info.userID = userID
	}
}
