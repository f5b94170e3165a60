package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/edumarket/internal/metrics"
	"github.com/hitoshi/edumarket/internal/middleware"
	"github.com/hitoshi/edumarket/internal/model"
)

// Webhook送信元の識別子。監査ログとメトリクスのラベルに使う。
const (
	ProviderClerk  = "clerk"
	ProviderStripe = "stripe"
)

// IdentityEventParser はSvix署名を検証してIdPイベントに変換する。
type IdentityEventParser interface {
	ParseEvent(payload []byte, headers http.Header) (model.IdentityEvent, error)
}

// IdentityEventHandler は検証済みのIdPイベントを処理する。
type IdentityEventHandler interface {
	Handle(ctx context.Context, ev model.IdentityEvent) (model.Ack, error)
}

// PaymentEventParser はStripe-Signatureを検証して決済イベントに変換する。
type PaymentEventParser interface {
	ParseEvent(payload []byte, signature string) (model.PaymentEvent, error)
}

// PaymentEventHandler は検証済みの決済イベントを処理する。
type PaymentEventHandler interface {
	Handle(ctx context.Context, ev model.PaymentEvent) (model.Ack, error)
}

// EventRecorder はWebhook受信の監査ログを記録する。
type EventRecorder interface {
	Record(ctx context.Context, provider, eventID, eventType, outcome string) error
}

// WebhookHandler はIdPと決済プロバイダーからのWebhookを受け付ける。
// 重複排除は行わず、冪等性はストア操作に委ねる。
type WebhookHandler struct {
	identityParser  IdentityEventParser
	identityHandler IdentityEventHandler
	paymentParser   PaymentEventParser
	paymentHandler  PaymentEventHandler
	events          EventRecorder
	metrics         metrics.MetricsCollector
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(
	identityParser IdentityEventParser,
	identityHandler IdentityEventHandler,
	paymentParser PaymentEventParser,
	paymentHandler PaymentEventHandler,
	events EventRecorder,
	m metrics.MetricsCollector,
) *WebhookHandler {
	return &WebhookHandler{
		identityParser:  identityParser,
		identityHandler: identityHandler,
		paymentParser:   paymentParser,
		paymentHandler:  paymentHandler,
		events:          events,
		metrics:         m,
	}
}

// Clerk はIdPのユーザーライフサイクルイベントを処理する。
// POST /api/webhooks/clerk
func (h *WebhookHandler) Clerk(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readPayload(w, r, ProviderClerk)
	if !ok {
		return
	}

	ev, err := h.identityParser.ParseEvent(payload, r.Header)
	if err != nil {
		h.rejectInvalid(w, ProviderClerk, err)
		return
	}

	ack, err := h.identityHandler.Handle(r.Context(), ev)
	if err != nil {
		h.fail(w, r, ProviderClerk, ev.ID, string(ev.Type), err)
		return
	}
	h.record(r.Context(), ProviderClerk, ev.ID, string(ev.Type), ack.Outcome)

	if ack.Outcome == model.OutcomeUnhandled {
		writeJSON(w, http.StatusOK, map[string]string{"message": ack.Message})
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// Stripe は決済イベントを処理する。
// POST /api/webhooks/stripe
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readPayload(w, r, ProviderStripe)
	if !ok {
		return
	}

	ev, err := h.paymentParser.ParseEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.rejectInvalid(w, ProviderStripe, err)
		return
	}

	ack, err := h.paymentHandler.Handle(r.Context(), ev)
	if err != nil {
		h.fail(w, r, ProviderStripe, ev.ID, string(ev.Type), err)
		return
	}
	h.record(r.Context(), ProviderStripe, ev.ID, string(ev.Type), ack.Outcome)

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// readPayload は署名検証用に生のリクエストボディを読み込む。
func (h *WebhookHandler) readPayload(w http.ResponseWriter, r *http.Request, provider string) ([]byte, bool) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		h.metrics.RecordWebhook(provider, "invalid_payload")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidPayloadError(err.Error()))
		return nil, false
	}
	return payload, true
}

// rejectInvalid は署名検証またはペイロード解析の失敗を400で返す。
// 検証前のペイロードは信頼できないため監査ログには記録しない。
func (h *WebhookHandler) rejectInvalid(w http.ResponseWriter, provider string, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		apiErr = model.NewInvalidPayloadError(err.Error())
	}

	if apiErr.Code == model.ErrCodeVerificationFailed {
		h.metrics.RecordVerificationFailure(provider)
		h.metrics.RecordWebhook(provider, "verification_failed")
	} else {
		h.metrics.RecordWebhook(provider, "invalid_payload")
	}
	slog.Warn("Webhookを拒否しました",
		slog.String("provider", provider),
		slog.String("code", apiErr.Code),
		slog.String("error", apiErr.Message),
	)
	middleware.WriteErrorResponse(w, middleware.StatusForAPIError(apiErr), apiErr)
}

// fail は処理失敗をエラーコードに応じたステータスで返す。5xxの場合は送信元が再送する。
func (h *WebhookHandler) fail(w http.ResponseWriter, r *http.Request, provider, eventID, eventType string, err error) {
	outcome := "error"
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		outcome = "rejected"
		if middleware.StatusForAPIError(apiErr) >= 500 {
			outcome = "error"
		}
	}
	h.record(r.Context(), provider, eventID, eventType, outcome)
	slog.Warn("Webhookの処理に失敗しました",
		slog.String("provider", provider),
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("outcome", outcome),
		slog.String("error", err.Error()),
	)
	handleServiceError(w, err)
}

// record は監査ログとメトリクスに処理結果を記録する。監査ログの失敗は応答に影響させない。
func (h *WebhookHandler) record(ctx context.Context, provider, eventID, eventType, outcome string) {
	h.metrics.RecordWebhook(provider, outcome)
	if eventID == "" {
		return
	}
	if err := h.events.Record(ctx, provider, eventID, eventType, outcome); err != nil {
		slog.Warn("Webhook監査ログの記録に失敗しました",
			slog.String("provider", provider),
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}
}
