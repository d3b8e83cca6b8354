// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/recruitman/internal/auth"
	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// actorContextKey はリクエストコンテキストに実行者を格納するためのキー。
	actorContextKey = contextKey("actor")
	// actorHolderContextKey はログ出力用に実行者IDを書き戻す入れ物のキー。
	actorHolderContextKey = contextKey("actor_holder")
)

type actorHolder struct {
	id string
}

func contextWithActorHolder(ctx context.Context, h *actorHolder) context.Context {
	return context.WithValue(ctx, actorHolderContextKey, h)
}

// Authenticator はトークンから実行者を解決するインターフェース。
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (policy.Actor, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// 実行者をリクエストコンテキストに注入するミドルウェアを返す。
// EventSourceはヘッダーを設定できないため、access_tokenクエリパラメータも受け付ける。
// 未認証リクエストには401 Unauthorizedを返す。
func NewAuthMiddleware(authenticator Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			actor, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				if !errors.Is(err, auth.ErrInvalidToken) {
					slog.Error("実行者の解決に失敗しました", slog.String("error", err.Error()))
					WriteInternalServerError(w)
					return
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// ActorFromContext はリクエストコンテキストから実行者を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func ActorFromContext(ctx context.Context) (policy.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(policy.Actor)
	if !ok || actor.ID == "" {
		return policy.Actor{}, false
	}
	return actor, true
}

// ContextWithActor はコンテキストに実行者を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithActor(ctx context.Context, actor policy.Actor) context.Context {
	if h, ok := ctx.Value(actorHolderContextKey).(*actorHolder); ok {
		h.id = actor.ID
	}
	return context.WithValue(ctx, actorContextKey, actor)
}
