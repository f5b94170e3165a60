// Package payment は決済プロバイダー（Stripe）との連携を提供する。
// Webhookの署名検証、Checkout Sessionの作成、決済試行IDから購入IDへの解決を含む。
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/hitoshi/edumarket/internal/model"
)

// MetadataPurchaseID はCheckout Sessionのmetadataに格納する購入IDのキー。
const MetadataPurchaseID = "purchaseId"

// StripeConfig はStripeクライアントの設定。
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

// StripeClient はStripe APIとWebhook検証をまとめたクライアント。
// プロセス起動時に1回だけ生成し、利用するコンポーネントへ明示的に渡す。
type StripeClient struct {
	api           *client.API
	webhookSecret string
	currency      string
}

// NewStripeClient はStripeClientを生成する。
func NewStripeClient(cfg StripeConfig) *StripeClient {
	return &StripeClient{
		api:           client.New(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
		currency:      strings.ToLower(cfg.Currency),
	}
}

// ParseEvent はStripe-Signatureヘッダーを検証し、決済イベントに変換する。
// 署名検証に失敗した場合はVERIFICATION_FAILED、
// 検証後にpayment_intentオブジェクトを解析できない場合はINVALID_PAYLOADを返す。
func (c *StripeClient) ParseEvent(payload []byte, signature string) (model.PaymentEvent, error) {
	return parseEvent(payload, signature, c.webhookSecret)
}

func parseEvent(payload []byte, signature, secret string) (model.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return model.PaymentEvent{}, model.NewVerificationFailedError(err.Error())
	}

	pe := model.PaymentEvent{
		ID:   event.ID,
		Type: model.PaymentEventType(event.Type),
	}
	if !strings.HasPrefix(string(event.Type), "payment_intent.") {
		return pe, nil
	}
	if event.Data == nil {
		return model.PaymentEvent{}, model.NewInvalidPayloadError("event data is missing")
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return model.PaymentEvent{}, model.NewInvalidPayloadError(err.Error())
	}
	if intent.ID == "" {
		return model.PaymentEvent{}, model.NewInvalidPayloadError("payment intent id is missing")
	}
	pe.PaymentIntentID = intent.ID
	return pe, nil
}

// FirstSessionMetadata は決済試行に紐づく最初のCheckout Sessionのmetadataを返す。
// セッションが1件もない場合はfound=falseを返す。
func (c *StripeClient) FirstSessionMetadata(ctx context.Context, paymentIntentID string) (map[string]string, bool, error) {
	params := &stripe.CheckoutSessionListParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true

	it := c.api.CheckoutSessions.List(params)
	if it.Next() {
		return it.CheckoutSession().Metadata, true, nil
	}
	if err := it.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to list checkout sessions: %w", err)
	}
	return nil, false, nil
}

// CheckoutRequest はCheckout Session作成の入力。
type CheckoutRequest struct {
	PurchaseID  string
	CourseTitle string
	Amount      decimal.Decimal
	Origin      string // 決済後のリダイレクト先オリジン
}

// CreateCheckoutSession は購入IDをmetadataに付与したCheckout Sessionを作成し、決済ページのURLを返す。
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	params := buildSessionParams(req, c.currency)
	params.Context = ctx

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return session.URL, nil
}

func buildSessionParams(req CheckoutRequest, currency string) *stripe.CheckoutSessionParams {
	origin := strings.TrimRight(req.Origin, "/")
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(origin + "/loading/my-enrollments"),
		CancelURL:  stripe.String(origin + "/"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.CourseTitle),
				},
				UnitAmount: stripe.Int64(MinorUnits(req.Amount)),
			},
			Quantity: stripe.Int64(1),
		}},
	}
	params.AddMetadata(MetadataPurchaseID, req.PurchaseID)
	return params
}

// MinorUnits は金額を通貨の最小単位（セント等）に変換する。
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// IsRetryable は決済プロバイダー呼び出しのエラーが再試行対象かを判定する。
// 429と5xx、およびHTTPステータスを持たない通信エラーを再試行対象とする。
func IsRetryable(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return true
	}
	switch {
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests:
		return true
	case stripeErr.HTTPStatusCode >= 500:
		return true
	case stripeErr.HTTPStatusCode == 0:
		return true
	default:
		return false
	}
}
