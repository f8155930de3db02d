package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/taskman/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// StatusForError はAPIErrorのコードに対応するHTTPステータスを返す。
func StatusForError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeCSRF:
		return http.StatusForbidden
	case model.ErrCodeTaskNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeValidation, model.ErrCodeInvalidRequest, model.ErrCodeInvalidPage:
		return http.StatusBadRequest
	case model.ErrCodeEmailTaken:
		return http.StatusConflict
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
