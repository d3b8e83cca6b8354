package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/recruitman/internal/middleware"
	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
)

const (
	testHRID        = "10000000-0000-0000-0000-000000000001"
	testCandidateID = "20000000-0000-0000-0000-000000000002"
)

var (
	testHR        = policy.Actor{ID: testHRID, Role: model.RoleHR}
	testCandidate = policy.Actor{ID: testCandidateID, Role: model.RoleCandidate}
)

// withActor はテスト用に実行者をコンテキストに注入するヘルパー。
func withActor(r *http.Request, actor policy.Actor) *http.Request {
	return r.WithContext(middleware.ContextWithActor(r.Context(), actor))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

func decodeError(t *testing.T, body *bytes.Buffer) middleware.ErrorResponseBody {
	t.Helper()
	var resp middleware.ErrorResponseBody
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func TestHandleServiceError_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unauthorized", model.NewUnauthorizedError(), http.StatusUnauthorized, model.ErrCodeUnauthorized},
		{"forbidden", model.NewForbiddenError(), http.StatusForbidden, model.ErrCodeForbidden},
		{"profile required", model.NewProfileRequiredError(), http.StatusForbidden, model.ErrCodeProfileRequired},
		{"not found", model.NewNotFoundError("求人"), http.StatusNotFound, model.ErrCodeNotFound},
		{"validation", model.NewValidationError("title", "必須です"), http.StatusBadRequest, model.ErrCodeValidationFailed},
		{"invalid request", model.NewInvalidRequestError(), http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"constraint", model.NewConstraintViolationError("job_offer_id", "参照先がありません"), http.StatusUnprocessableEntity, model.ErrCodeConstraintViolation},
		{"profile exists", model.NewProfileExistsError(), http.StatusConflict, model.ErrCodeProfileExists},
		{"upstream", model.NewUpstreamError("ストレージ"), http.StatusBadGateway, model.ErrCodeUpstreamFailure},
		{"wrapped api error", fmt.Errorf("outer: %w", model.NewForbiddenError()), http.StatusForbidden, model.ErrCodeForbidden},
		{"plain error", errors.New("connection reset"), http.StatusInternalServerError, model.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/job-offers", nil)
			w := httptest.NewRecorder()

			handleServiceError(w, req, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if resp := decodeError(t, w.Body); resp.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestHandleServiceError_InternalDetailsAreLoggedNotReturned(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	req := httptest.NewRequest(http.MethodPost, "/api/messages", nil)
	w := httptest.NewRecorder()
	handleServiceError(w, req, errors.New("pq: deadlock detected"))

	if strings.Contains(w.Body.String(), "deadlock") {
		t.Errorf("response leaks internal error: %s", w.Body.String())
	}
	if !strings.Contains(logs.String(), "deadlock") || !strings.Contains(logs.String(), "/api/messages") {
		t.Errorf("expected error log with path, got %s", logs.String())
	}
}

func TestValidationErrorCarriesField(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	w := httptest.NewRecorder()
	handleServiceError(w, req, model.NewValidationError("score", "0から100の範囲で指定してください"))

	if resp := decodeError(t, w.Body); resp.Field != "score" {
		t.Errorf("field = %q, want score", resp.Field)
	}
}

func TestDecodeJSON_Malformed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	w := httptest.NewRecorder()

	var v map[string]any
	if decodeJSON(w, req, &v) {
		t.Fatal("decodeJSON should fail")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if resp := decodeError(t, w.Body); resp.Code != model.ErrCodeInvalidRequest {
		t.Errorf("code = %s", resp.Code)
	}
}

func TestDate_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{`"2026-05-01"`, "2026-05-01T00:00:00Z", false},
		{`"2026-05-01T09:30:00+09:00"`, "2026-05-01T00:30:00Z", false},
		{`"05/01/2026"`, "", true},
		{`12`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d date
			err := json.Unmarshal([]byte(tt.in), &d)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := d.UTC().Format("2006-01-02T15:04:05Z07:00"); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	var nilDate *date
	if nilDate.timePtr() != nil {
		t.Error("nil date should stay nil")
	}
}

func TestQueryLimit(t *testing.T) {
	tests := map[string]int{
		"/api/messages":           0,
		"/api/messages?limit=20":  20,
		"/api/messages?limit=-1":  0,
		"/api/messages?limit=abc": 0,
	}
	for target, want := range tests {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		if got := queryLimit(req); got != want {
			t.Errorf("queryLimit(%s) = %d, want %d", target, got, want)
		}
	}
}

func TestRequireActor_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	w := httptest.NewRecorder()

	if _, ok := requireActor(w, req); ok {
		t.Fatal("requireActor should fail without actor")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
