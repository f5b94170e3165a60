package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIや呼び出し元（Webhook送信元）に返す原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, webhook, purchase, course, system
	Action   string // 対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeVerificationFailed         = "VERIFICATION_FAILED"
	ErrCodeInvalidPayload             = "INVALID_PAYLOAD"
	ErrCodeInvalidRequest             = "INVALID_REQUEST"
	ErrCodeCorrelationNotFound        = "CORRELATION_NOT_FOUND"
	ErrCodePurchaseNotFound           = "PURCHASE_NOT_FOUND"
	ErrCodeReferenceNotFound          = "REFERENCE_NOT_FOUND"
	ErrCodePaymentProviderUnavailable = "PAYMENT_PROVIDER_UNAVAILABLE"
	ErrCodeCourseNotFound             = "COURSE_NOT_FOUND"
	ErrCodeUserNotFound               = "USER_NOT_FOUND"
	ErrCodeAlreadyEnrolled            = "ALREADY_ENROLLED"
	ErrCodeNotEnrolled                = "NOT_ENROLLED"
	ErrCodeInvalidRating              = "INVALID_RATING"
	ErrCodeInvalidCourse              = "INVALID_COURSE"
	ErrCodeUnauthorized               = "UNAUTHORIZED"
	ErrCodeForbidden                  = "FORBIDDEN"
)

// NewVerificationFailedError はWebhook署名検証失敗エラーを生成する。
func NewVerificationFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeVerificationFailed,
		Message:  fmt.Sprintf("Webhook Error: %s", reason),
		Category: "webhook",
		Action:   "署名シークレットと送信元を確認してください。",
	}
}

// NewInvalidPayloadError は署名検証後のペイロード解析失敗エラーを生成する。
func NewInvalidPayloadError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPayload,
		Message:  fmt.Sprintf("イベントペイロードの解析に失敗しました: %s", reason),
		Category: "webhook",
		Action:   "イベントのスキーマを確認してください。",
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

// NewCorrelationNotFoundError は決済試行IDから購入IDを解決できない場合のエラーを生成する。
// 重複配信や不正な配信の可能性があるため、クライアントエラーとして扱う。
func NewCorrelationNotFoundError(paymentIntentID, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeCorrelationNotFound,
		Message:  fmt.Sprintf("決済 %s に対応する購入を解決できません: %s", paymentIntentID, reason),
		Category: "webhook",
		Action:   "Checkout Sessionのmetadataに purchaseId が設定されているか確認してください。",
	}
}

// NewPurchaseNotFoundError は購入が見つからない場合のエラーを生成する。
func NewPurchaseNotFoundError(purchaseID string) *APIError {
	return &APIError{
		Code:     ErrCodePurchaseNotFound,
		Message:  fmt.Sprintf("指定された購入が見つかりません: %s", purchaseID),
		Category: "purchase",
		Action:   "購入IDを確認してください。",
	}
}

// NewReferenceNotFoundError は購入が参照するユーザーまたは講座が存在しない場合のエラーを生成する。
// データは存在するはずなので、送信元に再送させるためサーバーエラーとして扱う。
func NewReferenceNotFoundError(kind, id string) *APIError {
	return &APIError{
		Code:     ErrCodeReferenceNotFound,
		Message:  fmt.Sprintf("購入が参照する%sが見つかりません: %s", kind, id),
		Category: "purchase",
		Action:   "データの同期を確認してください。イベントは再送されます。",
	}
}

// NewPaymentProviderUnavailableError は決済プロバイダーへの問い合わせ失敗エラーを生成する。
func NewPaymentProviderUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodePaymentProviderUnavailable,
		Message:  fmt.Sprintf("決済プロバイダーへの問い合わせに失敗しました: %s", reason),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCourseNotFoundError は講座が見つからない場合のエラーを生成する。
func NewCourseNotFoundError(courseID string) *APIError {
	return &APIError{
		Code:     ErrCodeCourseNotFound,
		Message:  fmt.Sprintf("指定された講座が見つかりません: %s", courseID),
		Category: "course",
		Action:   "講座IDを確認してください。",
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

// NewAlreadyEnrolledError は受講済み講座を再購入しようとした場合のエラーを生成する。
func NewAlreadyEnrolledError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyEnrolled,
		Message:  "この講座は既に受講しています。",
		Category: "purchase",
		Action:   "マイコースから講座を開いてください。",
	}
}

// NewNotEnrolledError は未受講の講座を評価しようとした場合のエラーを生成する。
func NewNotEnrolledError() *APIError {
	return &APIError{
		Code:     ErrCodeNotEnrolled,
		Message:  "この講座を受講していません。",
		Category: "course",
		Action:   "講座を購入してから評価してください。",
	}
}

// NewInvalidRatingError は評価値が範囲外の場合のエラーを生成する。
func NewInvalidRatingError(rating int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRating,
		Message:  fmt.Sprintf("無効な評価値です: %d", rating),
		Category: "validation",
		Action:   "評価は1から5の整数で指定してください。",
	}
}

// NewInvalidCourseError は講座データの検証失敗エラーを生成する。
func NewInvalidCourseError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCourse,
		Message:  fmt.Sprintf("講座データが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUnauthorizedError は認証が必要な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は講師ロールが必要な場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作には講師ロールが必要です。",
		Category: "auth",
		Action:   "講師として登録してから再度お試しください。",
	}
}
