package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, upstream, capacity, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInvalidBatchSize    = "INVALID_BATCH_SIZE"
	ErrCodeInvalidModel        = "INVALID_MODEL"
	ErrCodeInvalidAction       = "INVALID_ACTION"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeCapacityExceeded    = "CAPACITY_EXCEEDED"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "正しい共有シークレットを指定してください。",
	}
}

// NewInvalidBatchSizeError は無効なバッチサイズエラーを生成する。
func NewInvalidBatchSizeError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidBatchSize,
		Message:  fmt.Sprintf("無効なバッチサイズです: %s", raw),
		Category: "validation",
		Action:   "batchには1〜100の整数を指定してください。",
	}
}

// NewInvalidModelError は無効なモデル番号エラーを生成する。
func NewInvalidModelError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidModel,
		Message:  fmt.Sprintf("無効なモデル番号です: %s", raw),
		Category: "validation",
		Action:   fmt.Sprintf("モデル番号には%d〜%dの整数を指定してください。", MinModel, MaxModel),
	}
}

// NewInvalidActionError は無効なブレーカー操作エラーを生成する。
func NewInvalidActionError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAction,
		Message:  fmt.Sprintf("無効な操作です: %s", action),
		Category: "validation",
		Action:   "actionには reset、test-failure、test-success のいずれかを指定してください。",
	}
}

// NewCapacityExceededError は接続数上限エラーを生成する。
func NewCapacityExceededError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeCapacityExceeded,
		Message:  fmt.Sprintf("ライブ接続数が上限に達しています: %d", limit),
		Category: "capacity",
		Action:   "しばらく待ってから再接続してください。",
	}
}
