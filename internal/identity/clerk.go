package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clerk/clerk-sdk-go/v2"
	"github.com/clerk/clerk-sdk-go/v2/jwks"
	"github.com/clerk/clerk-sdk-go/v2/jwt"
	"github.com/clerk/clerk-sdk-go/v2/user"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hitoshi/edumarket/internal/model"
)

// ErrInvalidToken はセッショントークンの検証に失敗した場合に返る。
var ErrInvalidToken = errors.New("invalid session token")

// jwkCacheSize は保持する署名鍵の数。鍵のローテーション中に新旧2本あれば足りる。
const jwkCacheSize = 8

// ClerkClient はClerk Backend APIのクライアント。
// セッショントークンの検証と、public metadataのroleの読み書きを行う。
type ClerkClient struct {
	users *user.Client
	jwks  *jwks.Client
	keys  *lru.Cache[string, *clerk.JSONWebKey]
}

// NewClerkClient はシークレットキーからClerkClientを生成する。
func NewClerkClient(secretKey string) (*ClerkClient, error) {
	config := &clerk.ClientConfig{}
	config.Key = clerk.String(secretKey)

	keys, err := lru.New[string, *clerk.JSONWebKey](jwkCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create jwk cache: %w", err)
	}

	return &ClerkClient{
		users: user.NewClient(config),
		jwks:  jwks.NewClient(config),
		keys:  keys,
	}, nil
}

// VerifySessionToken はセッショントークン（JWT）を検証し、ユーザーIDを返す。
// 署名鍵はkidごとにキャッシュし、未知のkidの場合のみJWKSを取得する。
func (c *ClerkClient) VerifySessionToken(ctx context.Context, token string) (string, error) {
	unverified, err := jwt.Decode(ctx, &jwt.DecodeParams{Token: token})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	key, ok := c.keys.Get(unverified.KeyID)
	if !ok {
		key, err = jwt.GetJSONWebKey(ctx, &jwt.GetJSONWebKeyParams{
			KeyID:      unverified.KeyID,
			JWKSClient: c.jwks,
		})
		if err != nil {
			return "", fmt.Errorf("failed to fetch signing key: %w", err)
		}
		c.keys.Add(unverified.KeyID, key)
	}

	claims, err := jwt.Verify(ctx, &jwt.VerifyParams{Token: token, JWK: key})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: subject is empty", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// roleMetadata はpublic metadataのうちロールに関する部分。
type roleMetadata struct {
	Role string `json:"role"`
}

// Role はユーザーのpublic metadataに設定されたロールを返す。未設定の場合は空文字。
func (c *ClerkClient) Role(ctx context.Context, userID string) (string, error) {
	u, err := c.users.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get clerk user: %w", err)
	}
	return parseRole(u.PublicMetadata)
}

func parseRole(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var meta roleMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", fmt.Errorf("failed to decode public metadata: %w", err)
	}
	return meta.Role, nil
}

// GrantEducatorRole はユーザーのpublic metadataにrole=educatorを設定する。
// public metadataは浅いマージで更新されるため、role以外のキーは保持される。
func (c *ClerkClient) GrantEducatorRole(ctx context.Context, userID string) error {
	raw, err := json.Marshal(roleMetadata{Role: model.RoleEducator})
	if err != nil {
		return fmt.Errorf("failed to encode public metadata: %w", err)
	}
	metadata := json.RawMessage(raw)

	if _, err := c.users.UpdateMetadata(ctx, userID, &user.UpdateMetadataParams{
		PublicMetadata: &metadata,
	}); err != nil {
		return fmt.Errorf("failed to update clerk user metadata: %w", err)
	}
	return nil
}
