package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/edumarket/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
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
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// StatusForAPIError はAPIErrorコードをHTTPステータスコードに変換する。
// Webhook送信元は5xxのみ再送するため、再送で解決し得るものだけを5xxにする。
func StatusForAPIError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeVerificationFailed,
		model.ErrCodeInvalidPayload,
		model.ErrCodeInvalidRequest,
		model.ErrCodeInvalidRating,
		model.ErrCodeInvalidCourse,
		model.ErrCodeCorrelationNotFound:
		return http.StatusBadRequest
	case model.ErrCodePurchaseNotFound,
		model.ErrCodeCourseNotFound,
		model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeAlreadyEnrolled:
		return http.StatusConflict
	case model.ErrCodeNotEnrolled, model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodePaymentProviderUnavailable:
		return http.StatusBadGateway
	default:
		// REFERENCE_NOT_FOUNDを含む
		return http.StatusInternalServerError
	}
}
