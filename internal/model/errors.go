// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, task, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeTaskNotFound       = "TASK_NOT_FOUND"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidPage        = "INVALID_PAGE"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeCSRF               = "CSRF_VALIDATION_FAILED"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は他ユーザーのリソースへのアクセスを拒否するエラーを生成する。
// リソースの内容は含めない。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "このリソースへのアクセス権限がありません。",
		Category: "auth",
		Action:   "自分が作成したタスクのみ操作できます。",
	}
}

// NewTaskNotFoundError はタスク未検出エラーを生成する。
func NewTaskNotFoundError(taskID string) *APIError {
	return &APIError{
		Code:     ErrCodeTaskNotFound,
		Message:  fmt.Sprintf("指定されたタスクが見つかりません: %s", taskID),
		Category: "task",
		Action:   "タスク一覧を再読み込みしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("%s: %s", field, reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidPageError はページ番号が不正な場合のエラーを生成する。
func NewInvalidPageError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPage,
		Message:  fmt.Sprintf("無効なページ番号です: %s", raw),
		Category: "validation",
		Action:   "ページ番号には1以上の整数を指定してください。",
	}
}

// NewInvalidCredentialsError はサインイン失敗エラーを生成する。
// メールアドレスの存在有無が推測できないよう、失敗理由は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewEmailTakenError はメールアドレスが既に登録済みの場合のエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "サインインするか、別のメールアドレスを使用してください。",
	}
}

// NewCSRFError はCSRFトークンの検証失敗エラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRF,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーの汎用レスポンスを生成する。
// 詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
