package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/recruitman/internal/assessment"
	"github.com/hitoshi/recruitman/internal/auth"
	"github.com/hitoshi/recruitman/internal/document"
	"github.com/hitoshi/recruitman/internal/fanout"
	"github.com/hitoshi/recruitman/internal/inbox"
	"github.com/hitoshi/recruitman/internal/joboffer"
	"github.com/hitoshi/recruitman/internal/metrics"
	"github.com/hitoshi/recruitman/internal/middleware"
	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
	"github.com/hitoshi/recruitman/internal/profile"
	"github.com/hitoshi/recruitman/internal/realtime"
	"github.com/hitoshi/recruitman/internal/repository/memrepo"
	"github.com/hitoshi/recruitman/internal/security"
	"github.com/hitoshi/recruitman/internal/selection"
	"github.com/prometheus/client_golang/prometheus"
)

const testSecret = "router-test-secret"

// failingChecker はDB疎通に失敗するHealthChecker。
type failingChecker struct{}

func (failingChecker) PingContext(context.Context) error { return errors.New("connection refused") }

type routerFixture struct {
	router http.Handler
	store  *memrepo.Store
}

// newRouterFixture はインメモリストア上の実サービスで完全なルーターを構築する。
func newRouterFixture(t *testing.T, writePerMinute int) *routerFixture {
	t.Helper()
	store := memrepo.New()
	store.PutProfile(model.Profile{ID: testHRID, Role: model.RoleHR, FullName: "採用 太郎", Email: "hr@example.com"})
	store.PutProfile(model.Profile{ID: testCandidateID, Role: model.RoleCandidate, FullName: "応募 花子", Email: "hanako@example.com"})

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	policies := policy.New(store.Relations())
	policies.OnDeny(collector.PolicyDenied)
	rules := fanout.NewRules(0)
	dispatcher := fanout.NewDispatcher(collector, logger, 0, 0)
	sanitizer := security.NewTextSanitizer()
	var publisher realtime.Publisher = realtime.Noop{}

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(600, writePerMinute))
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Logger:            logger,
		Authenticator:     auth.NewService(auth.NewVerifier(auth.VerifierConfig{Secret: testSecret}), store.Repos().Profiles),
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		StatusRecorder:    collector,
		Metrics:           metrics.Handler(reg),

		ProfileService:    profile.NewService(store, policies),
		JobOfferService:   joboffer.NewService(store, policies, rules, dispatcher, publisher, sanitizer, logger),
		SelectionService:  selection.NewService(store, policies, store.Relations(), rules, dispatcher, publisher, sanitizer, logger),
		AssessmentService: assessment.NewService(store, policies, sanitizer, logger),
		DocumentService:   document.NewService(store, policies, nil, rules, dispatcher, publisher, logger, 0),
		InboxService:      inbox.NewService(store, policies, rules, dispatcher, publisher, sanitizer, logger),
	})
	return &routerFixture{router: router, store: store}
}

func token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := auth.Sign(testSecret, subject, time.Hour, "", "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func (f *routerFixture) do(t *testing.T, method, target, subject, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, subject))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestRouter_Health(t *testing.T) {
	f := newRouterFixture(t, 30)
	w := f.do(t, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)
	down := NewRouter(&RouterDeps{
		Logger:        slog.New(slog.NewJSONHandler(io.Discard, nil)),
		HealthChecker: failingChecker{},
		RateLimiter:   rl,
	})
	rec := httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRouter_RequiresBearerToken(t *testing.T) {
	f := newRouterFixture(t, 30)

	for _, target := range []string{"/api/me", "/api/job-offers", "/api/notifications", "/api/stream"} {
		w := f.do(t, http.MethodGet, target, "", "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want 401", target, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("invalid token status = %d, want 401", w.Code)
	}
}

func TestRouter_SecurityAndCORSHeaders(t *testing.T) {
	f := newRouterFixture(t, 30)
	req := httptest.NewRequest(http.MethodOptions, "/api/job-offers", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow-origin = %s", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("nosniff header = %s", got)
	}
}

func TestRouter_ProfileLifecycle(t *testing.T) {
	f := newRouterFixture(t, 30)
	newcomer := "30000000-0000-0000-0000-000000000003"

	// プロフィール作成前は他のAPIを使えない
	if w := f.do(t, http.MethodGet, "/api/job-offers", newcomer, ""); w.Code != http.StatusForbidden {
		t.Errorf("before profile status = %d, want 403", w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/me", newcomer, `{"role":"candidate","full_name":"新規 次郎","birth_date":"1995-04-01"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPost, "/api/me", newcomer, `{"role":"hr"}`); w.Code != http.StatusConflict {
		t.Errorf("second create status = %d, want 409", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/me", newcomer, "")
	var me profileResponse
	if err := json.NewDecoder(w.Body).Decode(&me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me.Role != "candidate" || me.FullName != "新規 次郎" || me.BirthDate == nil {
		t.Errorf("me = %+v", me)
	}

	// 応募者同士はプロフィールを参照できない
	if w := f.do(t, http.MethodGet, "/api/profiles/"+testCandidateID, newcomer, ""); w.Code != http.StatusNotFound {
		t.Errorf("foreign profile status = %d, want 404", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/profiles/"+newcomer, testHRID, ""); w.Code != http.StatusOK {
		t.Errorf("hr view status = %d, want 200", w.Code)
	}
}

func TestRouter_JobOfferBroadcastReachesCandidate(t *testing.T) {
	f := newRouterFixture(t, 30)

	if w := f.do(t, http.MethodPost, "/api/job-offers", testCandidateID, `{"title":"x"}`); w.Code != http.StatusForbidden {
		t.Errorf("candidate create status = %d, want 403", w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/job-offers", testHRID, `{"title":"データエンジニア","description":"<b>SQL</b><script>x</script>"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	var offer jobOfferResponse
	if err := json.NewDecoder(w.Body).Decode(&offer); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Contains(offer.Description, "script") {
		t.Errorf("description not sanitized: %s", offer.Description)
	}

	w = f.do(t, http.MethodGet, "/api/notifications?unread=true", testCandidateID, "")
	var ns []notificationResponse
	if err := json.NewDecoder(w.Body).Decode(&ns); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ns) != 1 || ns[0].Type != string(model.NotificationNewJobOffer) || ns[0].RelatedID != offer.ID {
		t.Fatalf("notifications = %+v", ns)
	}

	if w := f.do(t, http.MethodPost, "/api/notifications/"+ns[0].ID+"/read", testCandidateID, ""); w.Code != http.StatusOK {
		t.Errorf("mark read status = %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/api/notifications?unread=true", testCandidateID, "")
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("unread after mark = %s", got)
	}

	// 採用担当者には一斉通知が届かない
	w = f.do(t, http.MethodGet, "/api/notifications", testHRID, "")
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("hr notifications = %s", got)
	}

	// 監査ログ
	w = f.do(t, http.MethodGet, "/api/activities", testHRID, "")
	var acts []activityResponse
	if err := json.NewDecoder(w.Body).Decode(&acts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(acts) != 1 || acts[0].Type != "create" {
		t.Errorf("activities = %+v", acts)
	}
}

func TestRouter_ApplicationFlow(t *testing.T) {
	f := newRouterFixture(t, 30)

	w := f.do(t, http.MethodPost, "/api/job-offers", testHRID, `{"title":"営業"}`)
	var offer jobOfferResponse
	json.NewDecoder(w.Body).Decode(&offer)

	w = f.do(t, http.MethodPost, "/api/applications", testCandidateID, `{"job_offer_id":"`+offer.ID+`","cover_letter":"よろしくお願いします"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("apply status = %d: %s", w.Code, w.Body.String())
	}
	var app applicationResponse
	json.NewDecoder(w.Body).Decode(&app)

	if w := f.do(t, http.MethodPut, "/api/applications/"+app.ID+"/status", testCandidateID, `{"status":"accepted"}`); w.Code != http.StatusForbidden {
		t.Errorf("candidate status change = %d, want 403", w.Code)
	}
	if w := f.do(t, http.MethodPut, "/api/applications/"+app.ID+"/status", testHRID, `{"status":"accepted"}`); w.Code != http.StatusOK {
		t.Fatalf("hr status change = %d: %s", w.Code, w.Body.String())
	}

	emails := f.store.Emails()
	if len(emails) != 1 || emails[0].Recipient != "hanako@example.com" {
		t.Errorf("emails = %+v", emails)
	}

	w = f.do(t, http.MethodGet, "/api/email-queue", testHRID, "")
	if w.Code != http.StatusOK {
		t.Errorf("email queue status = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/email-queue", testCandidateID, ""); w.Code != http.StatusForbidden {
		t.Errorf("candidate email queue status = %d, want 403", w.Code)
	}
}

func TestRouter_NotFoundHidesExistence(t *testing.T) {
	f := newRouterFixture(t, 30)
	processID := "40000000-0000-0000-0000-000000000004"
	f.store.PutOffer(model.JobOffer{ID: testOfferID, Title: "x", Status: model.OfferStatusOpen, CreatedBy: testHRID})
	f.store.PutProcess(model.SelectionProcess{ID: processID, JobOfferID: testOfferID, CandidateID: testHRID, Status: model.ProcessStatusPending})

	missing := f.do(t, http.MethodGet, "/api/selection-processes/"+model.NewID(), testCandidateID, "")
	hidden := f.do(t, http.MethodGet, "/api/selection-processes/"+processID, testCandidateID, "")
	if missing.Code != http.StatusNotFound || hidden.Code != http.StatusNotFound {
		t.Fatalf("missing = %d hidden = %d, want 404", missing.Code, hidden.Code)
	}
	if missing.Body.String() != hidden.Body.String() {
		t.Errorf("bodies differ: %s vs %s", missing.Body.String(), hidden.Body.String())
	}
}

func TestRouter_WriteRateLimit(t *testing.T) {
	f := newRouterFixture(t, 1)
	body := `{"receiver_id":"` + testHRID + `","content":"質問です"}`

	if w := f.do(t, http.MethodPost, "/api/messages", testCandidateID, body); w.Code != http.StatusCreated {
		t.Fatalf("first send = %d: %s", w.Code, w.Body.String())
	}
	w := f.do(t, http.MethodPost, "/api/messages", testCandidateID, body)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second send = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}

	// 読み取りは書き込み用の制限を受けない
	if w := f.do(t, http.MethodGet, "/api/messages", testCandidateID, ""); w.Code != http.StatusOK {
		t.Errorf("list after limit = %d", w.Code)
	}
}

func TestRouter_StreamWithoutSubscriber(t *testing.T) {
	f := newRouterFixture(t, 30)

	req := httptest.NewRequest(http.MethodGet, "/api/stream?access_token="+token(t, testCandidateID), nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestRouter_MetricsExposesPolicyDenials(t *testing.T) {
	f := newRouterFixture(t, 30)
	f.do(t, http.MethodPost, "/api/job-offers", testCandidateID, `{"title":"x"}`)

	w := f.do(t, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `recruitman_policy_denied_total{op="insert",table="job_offers"} 1`) {
		t.Errorf("metrics missing policy denial:\n%s", body)
	}
	if !strings.Contains(body, "recruitman_http_status_total") {
		t.Error("metrics missing http status counter")
	}
}
