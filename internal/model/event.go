package model

// IdentityEventType はIdPから届くユーザーライフサイクルイベントの種別。
type IdentityEventType string

const (
	IdentityUserCreated IdentityEventType = "user.created"
	IdentityUserUpdated IdentityEventType = "user.updated"
	IdentityUserDeleted IdentityEventType = "user.deleted"
)

// IdentityEvent は署名検証とスキーマ解析を通過したIdPイベント。
// Profileはcreated/updatedでのみ意味を持つ。
type IdentityEvent struct {
	ID      string // svix-id（監査用）
	Type    IdentityEventType
	UserID  string
	Profile UserProfile
}

// PaymentEventType は決済プロバイダーから届くイベントの種別。
type PaymentEventType string

const (
	PaymentIntentSucceeded PaymentEventType = "payment_intent.succeeded"
	PaymentIntentFailed    PaymentEventType = "payment_intent.payment_failed"
)

// PaymentEvent は署名検証を通過した決済イベント。
// PaymentIntentIDは決済試行の外部ID（相関ID）であり、内部の購入IDではない。
type PaymentEvent struct {
	ID              string
	Type            PaymentEventType
	PaymentIntentID string
}

// Ack はイベント処理が受理されたことを表す。
// Outcomeはログ・メトリクス・監査に使う処理結果ラベル。
type Ack struct {
	Outcome string
	Message string
}

// イベント処理結果のラベル。
const (
	OutcomeApplied   = "applied"
	OutcomeNoop      = "noop"
	OutcomeAnomaly   = "anomaly"
	OutcomeIgnored   = "ignored"
	OutcomeUnhandled = "unhandled"
)
