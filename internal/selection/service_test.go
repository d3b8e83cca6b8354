package selection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
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
	offerID      = "50000000-0000-0000-0000-000000000005"
	processID    = "60000000-0000-0000-0000-000000000006"
	stageID      = "70000000-0000-0000-0000-000000000007"
	evalID       = "80000000-0000-0000-0000-000000000008"
	templateID   = "90000000-0000-0000-0000-000000000009"
	assessmentA  = "a0000000-0000-0000-0000-00000000000a"
	assessmentB  = "b0000000-0000-0000-0000-00000000000b"
)

var (
	hr         = policy.Actor{ID: hrID, Role: model.RoleHR}
	candidate  = policy.Actor{ID: candidateID, Role: model.RoleCandidate}
	candidate2 = policy.Actor{ID: candidate2ID, Role: model.RoleCandidate}
	fixedNow   = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
)

// mockPublisher はrealtime.Publisherのモック。
type mockPublisher struct {
	events []string
}

func (m *mockPublisher) Publish(_ context.Context, userID string, ev realtime.Event) error {
	m.events = append(m.events, userID+":"+string(ev.Type))
	return nil
}

type fixture struct {
	svc   *Service
	store *memrepo.Store
	pub   *mockPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memrepo.New()
	store.PutProfile(model.Profile{ID: hrID, Role: model.RoleHR, Email: "hr@example.com"})
	store.PutProfile(model.Profile{ID: candidateID, Role: model.RoleCandidate, Email: "hanako@example.com"})
	store.PutProfile(model.Profile{ID: candidate2ID, Role: model.RoleCandidate})
	store.PutOffer(model.JobOffer{ID: offerID, Title: "バックエンドエンジニア", Status: model.OfferStatusOpen, CreatedBy: hrID})
	store.PutProcess(model.SelectionProcess{
		ID: processID, JobOfferID: offerID, CandidateID: candidateID,
		Status: model.ProcessStatusPending, StartDate: fixedNow, CreatedBy: hrID, CreatedAt: fixedNow,
	})
	store.PutStage(model.ProcessStage{ID: stageID, ProcessID: processID, Name: "一次面接", Position: 1})

	rel := store.Relations()
	pub := &mockPublisher{}
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	svc := NewService(
		store,
		policy.New(rel),
		rel,
		fanout.NewRules(0),
		fanout.NewDispatcher(nil, logger, 0, 0),
		pub,
		security.NewTextSanitizer(),
		logger,
	)
	svc.now = func() time.Time { return fixedNow }
	return &fixture{svc: svc, store: store, pub: pub}
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

func ptrTo[T any](v T) *T { return &v }

func notificationTypes(ns []model.Notification) map[model.NotificationType]int {
	out := map[model.NotificationType]int{}
	for _, n := range ns {
		out[n.Type]++
	}
	return out
}

func TestCreateProcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.CreateProcess(ctx, hr, ProcessInput{
		JobOfferID:          offerID,
		CandidateID:         candidate2ID,
		RequiredAssessments: []string{assessmentA, " " + assessmentA + " "},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != model.ProcessStatusPending || !p.StartDate.Equal(fixedNow) {
		t.Errorf("process = %+v", p)
	}
	if len(p.RequiredAssessments) != 1 {
		t.Errorf("RequiredAssessments = %v, want deduplicated", p.RequiredAssessments)
	}
	if len(f.store.Notifications()) != 0 {
		t.Error("process insert must not notify")
	}

	tests := []struct {
		name  string
		actor policy.Actor
		in    ProcessInput
		code  string
	}{
		{"candidate", candidate, ProcessInput{JobOfferID: offerID, CandidateID: candidateID}, model.ErrCodeForbidden},
		{"bad offer id", hr, ProcessInput{JobOfferID: "x", CandidateID: candidateID}, model.ErrCodeValidationFailed},
		{"bad status", hr, ProcessInput{JobOfferID: offerID, CandidateID: candidateID, Status: "hired"}, model.ErrCodeValidationFailed},
		{"bad assessment id", hr, ProcessInput{JobOfferID: offerID, CandidateID: candidateID, RequiredAssessments: []string{"nope"}}, model.ErrCodeValidationFailed},
		{"end before start", hr, ProcessInput{JobOfferID: offerID, CandidateID: candidateID, EndDate: ptrTo(fixedNow.Add(-time.Hour))}, model.ErrCodeValidationFailed},
		{"unknown offer", hr, ProcessInput{JobOfferID: model.NewID(), CandidateID: candidateID}, model.ErrCodeConstraintViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateProcess(ctx, tt.actor, tt.in)
			assertCode(t, err, tt.code)
		})
	}
}

func TestProcessVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.GetProcess(ctx, candidate, processID); err != nil {
		t.Errorf("candidate should see own process: %v", err)
	}
	_, err := f.svc.GetProcess(ctx, candidate2, processID)
	assertCode(t, err, model.ErrCodeNotFound)

	ps, err := f.svc.ListProcesses(ctx, candidate2, ProcessFilter{CandidateID: candidateID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ps) != 0 {
		t.Errorf("candidate filter must be forced to self, got %d", len(ps))
	}

	ps, err = f.svc.ListProcesses(ctx, hr, ProcessFilter{JobOfferID: offerID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ps) != 1 {
		t.Errorf("hr processes = %d, want 1", len(ps))
	}
}

func TestUpdateProcess_StatusNotifies(t *testing.T) {
	tests := []struct {
		status    model.ProcessStatus
		wantTitle string
	}{
		{model.ProcessStatusInProgress, "選考が開始されました"},
		{model.ProcessStatusCompleted, "選考が完了しました"},
		{model.ProcessStatusRejected, "選考結果のお知らせ"},
		// 同じ値の再設定でも通知する
		{model.ProcessStatusPending, "選考状況が更新されました"},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newFixture(t)
			if _, err := f.svc.UpdateProcess(context.Background(), hr, processID, ProcessPatch{Status: ptrTo(tt.status)}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			ns := f.store.Notifications()
			if len(ns) != 1 || ns[0].Type != model.NotificationProcessStatus || ns[0].UserID != candidateID {
				t.Fatalf("notifications = %+v", ns)
			}
			if ns[0].Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", ns[0].Title, tt.wantTitle)
			}
			if len(f.store.Emails()) != 1 {
				t.Errorf("emails = %d, want 1", len(f.store.Emails()))
			}
			if len(f.pub.events) != 1 {
				t.Errorf("published = %v", f.pub.events)
			}
		})
	}
}

func TestUpdateProcess_AssessmentsAssigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	end := fixedNow.Add(24 * time.Hour)
	p, err := f.svc.UpdateProcess(ctx, hr, processID, ProcessPatch{
		RequiredAssessments: &[]string{assessmentA, assessmentB},
		EndDate:             &end,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.EndDate == nil || !p.EndDate.Equal(end) {
		t.Errorf("EndDate = %v", p.EndDate)
	}
	types := notificationTypes(f.store.Notifications())
	if types[model.NotificationAssessmentAssigned] != 1 || types[model.NotificationProcessStatus] != 0 {
		t.Fatalf("notification types = %v", types)
	}

	// 同じ割り当ての再設定と空配列は通知しない
	if _, err := f.svc.UpdateProcess(ctx, hr, processID, ProcessPatch{RequiredAssessments: &[]string{assessmentA, assessmentB}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.UpdateProcess(ctx, hr, processID, ProcessPatch{RequiredAssessments: &[]string{}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(f.store.Notifications()); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}

	_, err = f.svc.UpdateProcess(ctx, candidate, processID, ProcessPatch{Status: ptrTo(model.ProcessStatusCompleted)})
	assertCode(t, err, model.ErrCodeForbidden)
}

func TestUpdateProcess_FanoutFailureKeepsUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Fail["notifications.insert"] = errors.New("boom")

	if _, err := f.svc.UpdateProcess(ctx, hr, processID, ProcessPatch{Status: ptrTo(model.ProcessStatusInProgress)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := f.store.Repos().Processes.FindByID(ctx, processID)
	if stored.Status != model.ProcessStatusInProgress {
		t.Errorf("Status = %s, want in_progress", stored.Status)
	}
	if len(f.store.Notifications()) != 0 || len(f.store.Emails()) != 0 {
		t.Error("fan-out rows must be rolled back")
	}
}

func TestDeleteProcess_Cascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutEvaluation(model.CandidateEvaluation{ID: evalID, StageID: stageID, CandidateID: candidateID, EvaluatorID: hrID, Status: model.EvaluationStatusPending})

	assertCode(t, f.svc.DeleteProcess(ctx, candidate, processID), model.ErrCodeForbidden)
	if err := f.svc.DeleteProcess(ctx, hr, processID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, table := range []string{"selection_processes", "process_stages", "candidate_evaluations"} {
		if n := f.store.Count(table); n != 0 {
			t.Errorf("%s = %d, want 0", table, n)
		}
	}
}

func TestStages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.svc.AddStage(ctx, hr, processID, StageInput{Name: "二次面接", IsRequired: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Position != 2 {
		t.Errorf("Position = %d, want 2", st.Position)
	}

	_, err = f.svc.AddStage(ctx, candidate, processID, StageInput{Name: "x"})
	assertCode(t, err, model.ErrCodeForbidden)
	_, err = f.svc.AddStage(ctx, hr, processID, StageInput{Name: " "})
	assertCode(t, err, model.ErrCodeValidationFailed)
	_, err = f.svc.AddStage(ctx, hr, processID, StageInput{Name: "x", Position: ptrTo(0)})
	assertCode(t, err, model.ErrCodeValidationFailed)

	stages, err := f.svc.ListStages(ctx, candidate, processID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stages) != 2 || stages[0].ID != stageID {
		t.Errorf("stages = %+v", stages)
	}
	_, err = f.svc.ListStages(ctx, candidate2, processID)
	assertCode(t, err, model.ErrCodeNotFound)

	assertCode(t, f.svc.DeleteStage(ctx, candidate, st.ID), model.ErrCodeForbidden)
	if err := f.svc.DeleteStage(ctx, hr, st.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertCode(t, f.svc.DeleteStage(ctx, candidate2, stageID), model.ErrCodeNotFound)
}

func TestCreateEvaluation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.svc.CreateEvaluation(ctx, hr, EvaluationInput{StageID: stageID, Score: 80, Notes: "<b>良い</b><script>x</script>"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.CandidateID != candidateID || e.EvaluatorID != hrID || e.Status != model.EvaluationStatusPending {
		t.Errorf("evaluation = %+v", e)
	}
	if string(e.CriteriaScores) != "{}" {
		t.Errorf("CriteriaScores = %s, want {}", e.CriteriaScores)
	}
	if e.Notes != "<b>良い</b>" {
		t.Errorf("Notes = %q", e.Notes)
	}
	if len(f.store.Notifications()) != 0 {
		t.Error("evaluation insert must not notify")
	}

	tests := []struct {
		name  string
		actor policy.Actor
		in    EvaluationInput
		code  string
	}{
		{"candidate", candidate, EvaluationInput{StageID: stageID}, model.ErrCodeForbidden},
		{"stranger stage", candidate2, EvaluationInput{StageID: stageID}, model.ErrCodeNotFound},
		{"score too high", hr, EvaluationInput{StageID: stageID, Score: 101}, model.ErrCodeValidationFailed},
		{"negative score", hr, EvaluationInput{StageID: stageID, Score: -1}, model.ErrCodeValidationFailed},
		{"bad status", hr, EvaluationInput{StageID: stageID, Status: "done"}, model.ErrCodeValidationFailed},
		{"bad json", hr, EvaluationInput{StageID: stageID, CriteriaScores: json.RawMessage(`{"a":`)}, model.ErrCodeValidationFailed},
		{"unknown template", hr, EvaluationInput{StageID: stageID, TemplateID: templateID}, model.ErrCodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateEvaluation(ctx, tt.actor, tt.in)
			assertCode(t, err, tt.code)
		})
	}
}

func TestUpdateEvaluation_CompletionNotifiesProcessCandidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutEvaluation(model.CandidateEvaluation{
		ID: evalID, StageID: stageID, CandidateID: candidateID, EvaluatorID: hrID,
		Status: model.EvaluationStatusPending, CriteriaScores: json.RawMessage(`{}`),
	})

	if _, err := f.svc.UpdateEvaluation(ctx, hr, evalID, EvaluationPatch{Score: ptrTo(70)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.store.Notifications()) != 0 {
		t.Fatal("score-only update must not notify")
	}

	e, err := f.svc.UpdateEvaluation(ctx, hr, evalID, EvaluationPatch{Status: ptrTo(model.EvaluationStatusPassed)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Score != 70 {
		t.Errorf("Score = %d, want 70", e.Score)
	}
	ns := f.store.Notifications()
	if len(ns) != 1 || ns[0].Type != model.NotificationEvaluation || ns[0].UserID != candidateID {
		t.Fatalf("notifications = %+v", ns)
	}
	if len(f.store.Emails()) != 1 {
		t.Errorf("emails = %d, want 1", len(f.store.Emails()))
	}

	// passedからfailedへの変更も完了状態への遷移として通知する
	if _, err := f.svc.UpdateEvaluation(ctx, hr, evalID, EvaluationPatch{Status: ptrTo(model.EvaluationStatusFailed)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(f.store.Notifications()); n != 2 {
		t.Errorf("notifications = %d, want 2", n)
	}

	_, err = f.svc.UpdateEvaluation(ctx, candidate, evalID, EvaluationPatch{Score: ptrTo(100)})
	assertCode(t, err, model.ErrCodeForbidden)
	_, err = f.svc.UpdateEvaluation(ctx, candidate2, evalID, EvaluationPatch{Score: ptrTo(100)})
	assertCode(t, err, model.ErrCodeNotFound)
}

func TestListEvaluations_CandidateSeesOwn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutEvaluation(model.CandidateEvaluation{ID: evalID, StageID: stageID, CandidateID: candidateID, EvaluatorID: hrID, Status: model.EvaluationStatusPending})

	own, err := f.svc.ListEvaluations(ctx, candidate, EvaluationFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(own) != 1 {
		t.Errorf("candidate evaluations = %d, want 1", len(own))
	}
	other, err := f.svc.ListEvaluations(ctx, candidate2, EvaluationFilter{CandidateID: candidateID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("other candidate evaluations = %d, want 0", len(other))
	}
}

func TestTemplates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tmpl, err := f.svc.CreateTemplate(ctx, hr, TemplateInput{Name: "面接評価", MaxScore: 100, PassingScore: 60})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.AddCriterion(ctx, hr, tmpl.ID, CriterionInput{Name: "技術力", Weight: 0.6, MaxScore: 10}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := f.svc.GetTemplate(ctx, hr, tmpl.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Criteria) != 1 || got.Criteria[0].Name != "技術力" {
		t.Errorf("criteria = %+v", got.Criteria)
	}

	// 応募者には存在しないものとして扱う
	_, err = f.svc.GetTemplate(ctx, candidate, tmpl.ID)
	assertCode(t, err, model.ErrCodeNotFound)
	list, err := f.svc.ListTemplates(ctx, candidate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("candidate templates = %d, want 0", len(list))
	}

	invalid := []struct {
		name string
		in   TemplateInput
	}{
		{"empty name", TemplateInput{MaxScore: 10}},
		{"zero max", TemplateInput{Name: "x"}},
		{"passing over max", TemplateInput{Name: "x", MaxScore: 10, PassingScore: 11}},
		{"negative passing", TemplateInput{Name: "x", MaxScore: 10, PassingScore: -1}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateTemplate(ctx, hr, tt.in)
			assertCode(t, err, model.ErrCodeValidationFailed)
		})
	}
	_, err = f.svc.CreateTemplate(ctx, candidate, TemplateInput{Name: "x", MaxScore: 10})
	assertCode(t, err, model.ErrCodeForbidden)
	_, err = f.svc.AddCriterion(ctx, hr, tmpl.ID, CriterionInput{Name: "x", Weight: 0, MaxScore: 1})
	assertCode(t, err, model.ErrCodeValidationFailed)
}

func TestDeleteTemplate_DetachesEvaluations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutTemplate(model.EvaluationTemplate{ID: templateID, Name: "t", MaxScore: 10, CreatedBy: hrID})
	f.store.PutEvaluation(model.CandidateEvaluation{ID: evalID, StageID: stageID, CandidateID: candidateID, EvaluatorID: hrID, TemplateID: templateID, Status: model.EvaluationStatusPending})

	assertCode(t, f.svc.DeleteTemplate(ctx, candidate, templateID), model.ErrCodeNotFound)
	if err := f.svc.DeleteTemplate(ctx, hr, templateID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e, _ := f.store.Repos().Evaluations.FindByID(ctx, evalID)
	if e == nil || e.TemplateID != "" {
		t.Errorf("evaluation should survive with template detached, got %+v", e)
	}
}
