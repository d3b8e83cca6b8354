package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/recruitman/internal/auth"
	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
)

type mockAuthenticator struct {
	authenticateFn func(ctx context.Context, token string) (policy.Actor, error)
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, token string) (policy.Actor, error) {
	return m.authenticateFn(ctx, token)
}

func tokenAuthenticator(valid string, actor policy.Actor) *mockAuthenticator {
	return &mockAuthenticator{authenticateFn: func(_ context.Context, token string) (policy.Actor, error) {
		if token != valid {
			return policy.Actor{}, auth.ErrInvalidToken
		}
		return actor, nil
	}}
}

func TestAuthMiddleware_ValidBearer_InjectsActor(t *testing.T) {
	want := policy.Actor{ID: "user-1", Role: model.RoleHR}
	mw := NewAuthMiddleware(tokenAuthenticator("good", want))

	var got policy.Actor
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got != want {
		t.Errorf("actor = %+v, want %+v", got, want)
	}
}

func TestAuthMiddleware_QueryTokenForStream(t *testing.T) {
	mw := NewAuthMiddleware(tokenAuthenticator("good", policy.Actor{ID: "user-1"}))

	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/stream?access_token=good", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("handler should have been called")
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic good"},
		{"invalid token", "Bearer bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewAuthMiddleware(tokenAuthenticator("good", policy.Actor{ID: "user-1"}))
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Code != model.ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_LookupFailure_Returns500(t *testing.T) {
	mw := NewAuthMiddleware(&mockAuthenticator{authenticateFn: func(context.Context, string) (policy.Actor, error) {
		return policy.Actor{}, errors.New("connection refused")
	}})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestActorFromContext_Missing(t *testing.T) {
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Error("expected no actor in empty context")
	}
}
