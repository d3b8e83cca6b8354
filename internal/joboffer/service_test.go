package joboffer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/recruitman/internal/fanout"
	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
	"github.com/hitoshi/recruitman/internal/realtime"
	"github.com/hitoshi/recruitman/internal/repository/memrepo"
	"github.com/hitoshi/recruitman/internal/security"
)

const (
	hrID         = "10000000-0000-0000-0000-000000000001"
	candidateID  = "20000000-0000-0000-0000-000000000002"
	candidate2ID = "30000000-0000-0000-0000-000000000003"
	otherHRID    = "40000000-0000-0000-0000-000000000004"
	offerID      = "50000000-0000-0000-0000-000000000005"
	closedID     = "60000000-0000-0000-0000-000000000006"
	appID        = "70000000-0000-0000-0000-000000000007"
)

var (
	hr        = policy.Actor{ID: hrID, Role: model.RoleHR}
	candidate = policy.Actor{ID: candidateID, Role: model.RoleCandidate}
	fixedNow  = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
)

// mockPublisher はrealtime.Publisherのモック。
type mockPublisher struct {
	publishFn func(ctx context.Context, userID string, ev realtime.Event) error
	events    []string
}

func (m *mockPublisher) Publish(ctx context.Context, userID string, ev realtime.Event) error {
	m.events = append(m.events, userID+":"+string(ev.Type))
	if m.publishFn != nil {
		return m.publishFn(ctx, userID, ev)
	}
	return nil
}

type fixture struct {
	svc   *Service
	store *memrepo.Store
	pub   *mockPublisher
	logs  *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memrepo.New()
	store.PutProfile(model.Profile{ID: hrID, Role: model.RoleHR, FullName: "採用 太郎", Email: "hr@example.com"})
	store.PutProfile(model.Profile{ID: otherHRID, Role: model.RoleHR, FullName: "採用 次郎"})
	store.PutProfile(model.Profile{ID: candidateID, Role: model.RoleCandidate, FullName: "応募 花子", Email: "hanako@example.com"})
	store.PutProfile(model.Profile{ID: candidate2ID, Role: model.RoleCandidate, FullName: "応募 一郎"})
	store.PutOffer(model.JobOffer{ID: offerID, Title: "バックエンドエンジニア", Status: model.OfferStatusOpen, CreatedBy: hrID, CreatedAt: fixedNow})
	store.PutOffer(model.JobOffer{ID: closedID, Title: "募集終了", Status: model.OfferStatusClosed, CreatedBy: otherHRID, CreatedAt: fixedNow})

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	pub := &mockPublisher{}
	svc := NewService(
		store,
		policy.New(store.Relations()),
		fanout.NewRules(0),
		fanout.NewDispatcher(nil, logger, 0, 0),
		pub,
		security.NewTextSanitizer(),
		logger,
	)
	svc.now = func() time.Time { return fixedNow }
	return &fixture{svc: svc, store: store, pub: pub, logs: &logs}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Fatalf("code = %s, want %s (%v)", apiErr.Code, code, err)
	}
}

func TestCreateOffer_BroadcastsToNonHR(t *testing.T) {
	f := newFixture(t)

	o, err := f.svc.CreateOffer(context.Background(), hr, OfferInput{
		Title:       " フロントエンドエンジニア ",
		Description: `<p>React経験者</p><script>alert(1)</script>`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Status != model.OfferStatusOpen {
		t.Errorf("Status = %s, want open", o.Status)
	}
	if o.Title != "フロントエンドエンジニア" {
		t.Errorf("Title = %q", o.Title)
	}
	if strings.Contains(o.Description, "script") {
		t.Errorf("Description was not sanitized: %q", o.Description)
	}

	got := map[string]bool{}
	for _, n := range f.store.Notifications() {
		if n.Type != model.NotificationNewJobOffer || n.RelatedID != o.ID {
			t.Errorf("unexpected notification %+v", n)
		}
		got[n.UserID] = true
	}
	if len(got) != 2 || !got[candidateID] || !got[candidate2ID] {
		t.Errorf("broadcast recipients = %v, want both candidates only", got)
	}
	if len(f.store.Emails()) != 0 {
		t.Errorf("broadcast must not queue email, got %d", len(f.store.Emails()))
	}

	acts := f.store.Activities()
	if len(acts) != 1 || acts[0].Type != model.ActivityCreate || acts[0].RelatedOfferID != o.ID || acts[0].ActorID != hrID {
		t.Fatalf("activities = %+v", acts)
	}
	if !strings.Contains(acts[0].Description, "フロントエンドエンジニア") {
		t.Errorf("activity description = %q", acts[0].Description)
	}
	// コミット後に各応募者のリアルタイムフィードへ配信する
	want := []string{candidateID + ":notification", candidate2ID + ":notification"}
	if strings.Join(f.pub.events, ",") != strings.Join(want, ",") {
		t.Errorf("published events = %v, want %v", f.pub.events, want)
	}
}

func TestCreateOffer_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		actor policy.Actor
		in    OfferInput
		code  string
	}{
		{"candidate", candidate, OfferInput{Title: "x"}, model.ErrCodeForbidden},
		{"no profile", policy.Actor{ID: candidateID}, OfferInput{Title: "x"}, model.ErrCodeProfileRequired},
		{"empty title", hr, OfferInput{Title: "   "}, model.ErrCodeValidationFailed},
		{"bad status", hr, OfferInput{Title: "x", Status: "draft"}, model.ErrCodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.CreateOffer(context.Background(), tt.actor, tt.in)
			assertCode(t, err, tt.code)
			if f.store.Count("job_offers") != 2 {
				t.Errorf("job_offers = %d, want 2", f.store.Count("job_offers"))
			}
			if len(f.store.Activities()) != 0 {
				t.Error("no activity should be recorded")
			}
		})
	}
}

func TestCreateOffer_FanoutFailureStillCommits(t *testing.T) {
	f := newFixture(t)
	f.store.Fail["notifications.broadcast"] = errors.New("disk full")

	o, err := f.svc.CreateOffer(context.Background(), hr, OfferInput{Title: "SRE"})
	if err != nil {
		t.Fatalf("fan-out failure must not fail the write: %v", err)
	}
	if got, _ := f.store.Repos().JobOffers.FindByID(context.Background(), o.ID); got == nil {
		t.Fatal("offer should be committed")
	}
	if len(f.store.Notifications()) != 0 {
		t.Errorf("notifications = %d, want 0", len(f.store.Notifications()))
	}
	if !strings.Contains(f.logs.String(), "通知のファンアウトに失敗しました") {
		t.Errorf("expected fan-out failure log, got %s", f.logs.String())
	}
	if len(f.pub.events) != 0 {
		t.Errorf("rolled back notifications must not be published, got %v", f.pub.events)
	}
}

func TestCreateOffer_ActivityFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.Fail["activities.insert"] = errors.New("boom")

	if _, err := f.svc.CreateOffer(context.Background(), hr, OfferInput{Title: "SRE"}); err == nil {
		t.Fatal("expected error")
	}
	if f.store.Count("job_offers") != 2 {
		t.Errorf("offer should be rolled back, job_offers = %d", f.store.Count("job_offers"))
	}
	if len(f.store.Notifications()) != 0 {
		t.Error("notifications should be rolled back")
	}
}

func TestOfferVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	offers, err := f.svc.ListOffers(ctx, candidate, OfferFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(offers) != 1 || offers[0].ID != offerID {
		t.Errorf("candidate sees %d offers, want only the open one", len(offers))
	}

	_, err = f.svc.GetOffer(ctx, candidate, closedID)
	assertCode(t, err, model.ErrCodeNotFound)

	// 募集終了の求人は作成者本人のみ参照できる
	_, err = f.svc.GetOffer(ctx, hr, closedID)
	assertCode(t, err, model.ErrCodeNotFound)
	if _, err := f.svc.GetOffer(ctx, policy.Actor{ID: otherHRID, Role: model.RoleHR}, closedID); err != nil {
		t.Errorf("creator should see closed offer: %v", err)
	}

	_, err = f.svc.GetOffer(ctx, candidate, "not-a-uuid")
	assertCode(t, err, model.ErrCodeNotFound)

	_, err = f.svc.ListOffers(ctx, candidate, OfferFilter{Status: "draft"})
	assertCode(t, err, model.ErrCodeValidationFailed)
}

func TestUpdateOffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	closed := model.OfferStatusClosed

	_, err := f.svc.UpdateOffer(ctx, candidate, offerID, OfferPatch{Status: &closed})
	assertCode(t, err, model.ErrCodeForbidden)

	o, err := f.svc.UpdateOffer(ctx, hr, offerID, OfferPatch{Status: &closed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Status != model.OfferStatusClosed || o.Title != "バックエンドエンジニア" {
		t.Errorf("offer = %+v", o)
	}
	acts := f.store.Activities()
	if len(acts) != 1 || acts[0].Type != model.ActivityModify {
		t.Errorf("activities = %+v", acts)
	}
	if len(f.store.Notifications()) != 0 {
		t.Error("offer update must not notify")
	}
}

func TestDeleteOffer_KeepsActivityHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutApplication(model.Application{ID: appID, JobOfferID: offerID, UserID: candidateID, Status: model.ApplicationStatusPending})

	assertCode(t, f.svc.DeleteOffer(ctx, candidate, offerID), model.ErrCodeForbidden)

	if err := f.svc.DeleteOffer(ctx, hr, offerID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.store.Count("applications") != 0 {
		t.Error("applications should cascade")
	}
	acts := f.store.Activities()
	if len(acts) != 1 || acts[0].Type != model.ActivityDelete || acts[0].RelatedOfferID != offerID {
		t.Errorf("activities = %+v", acts)
	}
}

func TestApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Apply(ctx, candidate, ApplyInput{JobOfferID: offerID, CoverLetter: `<b>よろしく</b><img src=x onerror=alert(1)>`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != model.ApplicationStatusPending || a.UserID != candidateID {
		t.Errorf("application = %+v", a)
	}
	if strings.Contains(a.CoverLetter, "onerror") {
		t.Errorf("cover letter not sanitized: %q", a.CoverLetter)
	}

	// 同一求人への重複応募は許可する
	if _, err := f.svc.Apply(ctx, candidate, ApplyInput{JobOfferID: offerID}); err != nil {
		t.Fatalf("duplicate application should be permitted: %v", err)
	}
	if f.store.Count("applications") != 2 {
		t.Errorf("applications = %d, want 2", f.store.Count("applications"))
	}

	_, err = f.svc.Apply(ctx, candidate, ApplyInput{JobOfferID: closedID})
	assertCode(t, err, model.ErrCodeNotFound)

	_, err = f.svc.Apply(ctx, hr, ApplyInput{JobOfferID: offerID})
	assertCode(t, err, model.ErrCodeForbidden)
}

func TestListApplications_CandidateSeesOwnOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutApplication(model.Application{ID: appID, JobOfferID: offerID, UserID: candidateID, Status: model.ApplicationStatusPending, CreatedAt: fixedNow})
	f.store.PutApplication(model.Application{ID: model.NewID(), JobOfferID: offerID, UserID: candidate2ID, Status: model.ApplicationStatusPending, CreatedAt: fixedNow})

	own, err := f.svc.ListApplications(ctx, candidate, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(own) != 1 || own[0].ID != appID {
		t.Errorf("candidate applications = %d, want 1", len(own))
	}

	all, err := f.svc.ListApplications(ctx, hr, offerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("hr applications = %d, want 2", len(all))
	}
}

func TestUpdateApplicationStatus_NotifiesApplicant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutApplication(model.Application{ID: appID, JobOfferID: offerID, UserID: candidateID, Status: model.ApplicationStatusPending})

	_, err := f.svc.UpdateApplicationStatus(ctx, candidate, appID, model.ApplicationStatusAccepted)
	assertCode(t, err, model.ErrCodeForbidden)

	a, err := f.svc.UpdateApplicationStatus(ctx, hr, appID, model.ApplicationStatusAccepted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != model.ApplicationStatusAccepted {
		t.Errorf("Status = %s", a.Status)
	}

	ns := f.store.Notifications()
	if len(ns) != 1 || ns[0].UserID != candidateID || ns[0].Type != model.NotificationApplicationStatus {
		t.Fatalf("notifications = %+v", ns)
	}
	if !strings.Contains(ns[0].Content, "accepted") {
		t.Errorf("content should carry the raw status, got %q", ns[0].Content)
	}
	emails := f.store.Emails()
	if len(emails) != 1 || emails[0].Recipient != "hanako@example.com" || emails[0].Status != model.EmailStatusPending {
		t.Fatalf("emails = %+v", emails)
	}
	if len(f.pub.events) != 1 || f.pub.events[0] != candidateID+":notification" {
		t.Errorf("published = %v", f.pub.events)
	}

	// 同じステータスへの更新は通知しない
	if _, err := f.svc.UpdateApplicationStatus(ctx, hr, appID, model.ApplicationStatusAccepted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.store.Notifications()) != 1 {
		t.Errorf("notifications = %d, want 1", len(f.store.Notifications()))
	}

	_, err = f.svc.UpdateApplicationStatus(ctx, hr, appID, "hired")
	assertCode(t, err, model.ErrCodeValidationFailed)
}

func TestUpdateApplicationStatus_EmailFailureRollsBackFanoutOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutApplication(model.Application{ID: appID, JobOfferID: offerID, UserID: candidateID, Status: model.ApplicationStatusPending})
	f.store.Fail["email_notifications.insert"] = errors.New("queue down")

	a, err := f.svc.UpdateApplicationStatus(ctx, hr, appID, model.ApplicationStatusRejected)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := f.store.Repos().Applications.FindByID(ctx, a.ID)
	if stored.Status != model.ApplicationStatusRejected {
		t.Errorf("stored status = %s, want rejected", stored.Status)
	}
	if len(f.store.Notifications()) != 0 || len(f.store.Emails()) != 0 {
		t.Error("fan-out rows should be rolled back to the savepoint")
	}
	if len(f.pub.events) != 0 {
		t.Errorf("nothing should be published, got %v", f.pub.events)
	}
}

func TestWithdrawApplication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutApplication(model.Application{ID: appID, JobOfferID: offerID, UserID: candidateID, Status: model.ApplicationStatusAccepted})

	assertCode(t, f.svc.WithdrawApplication(ctx, candidate, appID), model.ErrCodeForbidden)

	pendingID := model.NewID()
	f.store.PutApplication(model.Application{ID: pendingID, JobOfferID: offerID, UserID: candidateID, Status: model.ApplicationStatusPending})
	if err := f.svc.WithdrawApplication(ctx, candidate, pendingID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertCode(t, f.svc.WithdrawApplication(ctx, policy.Actor{ID: candidate2ID, Role: model.RoleCandidate}, appID), model.ErrCodeNotFound)
}

func TestListActivities_CandidateSeesAppliedOffersOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutActivity(model.Activity{ID: model.NewID(), Type: model.ActivityCreate, ActorID: hrID, RelatedOfferID: offerID, CreatedAt: fixedNow})
	f.store.PutActivity(model.Activity{ID: model.NewID(), Type: model.ActivityCreate, ActorID: otherHRID, RelatedOfferID: closedID, CreatedAt: fixedNow.Add(time.Minute)})
	f.store.PutApplication(model.Application{ID: appID, JobOfferID: offerID, UserID: candidateID, Status: model.ApplicationStatusPending})

	acts, err := f.svc.ListActivities(ctx, candidate, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(acts) != 1 || acts[0].RelatedOfferID != offerID {
		t.Errorf("candidate activities = %+v", acts)
	}

	acts, err = f.svc.ListActivities(ctx, hr, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(acts) != 1 || acts[0].RelatedOfferID != closedID {
		t.Errorf("hr activities (limit 1, newest first) = %+v", acts)
	}
}
