// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限（1 MiB）。
const maxRequestBodySize = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディを厳密にデコードする。
// 未知のフィールド、複数のJSON値、上限超過のボディはエラーにする。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: trailing data")
	}
	return nil
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPレスポンスに変換する。
// APIError以外のエラーは詳細をログに記録し、500を返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, middleware.StatusForError(apiErr), apiErr)
		return
	}

	slog.Error("internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// requireUserID はコンテキストから内部ユーザーIDを取り出す。
// 取り出せない場合は401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}
