package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// HTTPRecorder はHTTPリクエストのメトリクスを記録する。
type HTTPRecorder interface {
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
}

// unmatchedRoute はどのルートにも一致しなかったリクエストのラベル。
// 生のパスをラベルにするとカーディナリティが際限なく増える。
const unmatchedRoute = "unmatched"

// NewMetricsMiddleware はリクエスト数と処理時間を記録するミドルウェアを返す。
// ルートラベルにはchiのルートパターン（/tasks/{id}など）を使用する。
func NewMetricsMiddleware(recorder HTTPRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			route := unmatchedRoute
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			recorder.RecordHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
		})
	}
}
