// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/edumarket/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// TokenVerifier はセッショントークンを検証してユーザーIDを返す。
// identity.ClerkClientが実装する。
type TokenVerifier interface {
	VerifySessionToken(ctx context.Context, token string) (string, error)
}

// RoleReader はユーザーのロールを取得する。
type RoleReader interface {
	Role(ctx context.Context, userID string) (string, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// 認証済みユーザーIDをリクエストコンテキストに注入するミドルウェアを返す。
// トークンがない、または検証に失敗した場合は401を返す。
func NewAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			userID, err := verifier.VerifySessionToken(r.Context(), token)
			if err != nil {
				slog.Warn("セッショントークンの検証に失敗しました",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

// NewEducatorOnlyMiddleware は講師ロールを持たないユーザーに403を返すミドルウェアを返す。
// NewAuthMiddlewareの後に配置する。
func NewEducatorOnlyMiddleware(roles RoleReader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			role, err := roles.Role(r.Context(), userID)
			if err != nil {
				slog.Error("ロールの取得に失敗しました",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if role != model.RoleEducator {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// errNoUserID はコンテキストにユーザーIDがない場合のエラー。
var errNoUserID = errors.New("user ID not found in context")

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", errNoUserID
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// 外側のロギングミドルウェアにもユーザーIDを伝える。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if h, ok := ctx.Value(userIDHolderKey).(*userIDHolder); ok {
		h.id = userID
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}

// userIDHolderKey はuserIDHolderを格納するためのキー。
var userIDHolderKey = contextKey("user_id_holder")

// userIDHolder は内側のミドルウェアで確定したユーザーIDを外側へ渡す。
// 1リクエスト内でのみ使用する。
type userIDHolder struct {
	id string
}

func withUserIDHolder(ctx context.Context, h *userIDHolder) context.Context {
	return context.WithValue(ctx, userIDHolderKey, h)
}

func (h *userIDHolder) resolve(ctx context.Context) string {
	if h.id != "" {
		return h.id
	}
	userID, _ := UserIDFromContext(ctx)
	return userID
}
