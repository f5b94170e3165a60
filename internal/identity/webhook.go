// Package identity はIdP（Clerk）との連携を提供する。
// Svix署名付きWebhookの検証と解析、セッショントークンの検証、ロールメタデータの読み書きを含む。
package identity

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	svix "github.com/svix/svix-webhooks/go"

	"github.com/hitoshi/edumarket/internal/model"
)

// WebhookVerifier はSvix署名を検証し、IdPのユーザーライフサイクルイベントに変換する。
type WebhookVerifier struct {
	wh *svix.Webhook
}

// NewWebhookVerifier は共有シークレット（whsec_...）からWebhookVerifierを生成する。
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create svix webhook verifier: %w", err)
	}
	return &WebhookVerifier{wh: wh}, nil
}

// clerkEvent はClerk Webhookのペイロード。必要なフィールドのみ定義する。
type clerkEvent struct {
	Type string `json:"type"`
	Data struct {
		ID             string `json:"id"`
		FirstName      string `json:"first_name"`
		LastName       string `json:"last_name"`
		ImageURL       string `json:"image_url"`
		EmailAddresses []struct {
			EmailAddress string `json:"email_address"`
		} `json:"email_addresses"`
	} `json:"data"`
}

// ParseEvent はsvix-id / svix-timestamp / svix-signature ヘッダーで署名を検証してから
// ペイロードを解析する。検証前にペイロードのフィールドを参照しない。
// 署名検証に失敗した場合はVERIFICATION_FAILED、JSONが不正な場合はINVALID_PAYLOADを返す。
func (v *WebhookVerifier) ParseEvent(payload []byte, headers http.Header) (model.IdentityEvent, error) {
	if err := v.wh.Verify(payload, headers); err != nil {
		return model.IdentityEvent{}, model.NewVerificationFailedError(err.Error())
	}
	return decodeEvent(payload, headers.Get("svix-id"))
}

func decodeEvent(payload []byte, deliveryID string) (model.IdentityEvent, error) {
	var raw clerkEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return model.IdentityEvent{}, model.NewInvalidPayloadError(err.Error())
	}
	if raw.Type == "" {
		return model.IdentityEvent{}, model.NewInvalidPayloadError("event type is missing")
	}

	// 未知のイベントは未処理として応答するため、data.idはuser.*のみ必須とする
	switch model.IdentityEventType(raw.Type) {
	case model.IdentityUserCreated, model.IdentityUserUpdated, model.IdentityUserDeleted:
		if raw.Data.ID == "" {
			return model.IdentityEvent{}, model.NewInvalidPayloadError("data.id is missing")
		}
	}

	ev := model.IdentityEvent{
		ID:     deliveryID,
		Type:   model.IdentityEventType(raw.Type),
		UserID: raw.Data.ID,
		Profile: model.UserProfile{
			Name:     strings.TrimSpace(raw.Data.FirstName + " " + raw.Data.LastName),
			ImageURL: raw.Data.ImageURL,
		},
	}
	if len(raw.Data.EmailAddresses) > 0 {
		ev.Profile.Email = raw.Data.EmailAddresses[0].EmailAddress
	}
	return ev, nil
}
