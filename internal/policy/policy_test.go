package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/recruitman/internal/model"
)

// --- モック ---

type fakeRelations struct {
	processCandidates map[string]string
	stageCandidates   map[string]string
	documentOwners    map[string]string
	assigned          map[string]bool // candidateID + "/" + assessmentID
	applied           map[string]bool // candidateID + "/" + offerID
	err               error
}

func (f *fakeRelations) ProcessCandidate(ctx context.Context, processID string) (string, error) {
	return f.processCandidates[processID], f.err
}
func (f *fakeRelations) StageCandidate(ctx context.Context, stageID string) (string, error) {
	return f.stageCandidates[stageID], f.err
}
func (f *fakeRelations) DocumentOwner(ctx context.Context, documentID string) (string, error) {
	return f.documentOwners[documentID], f.err
}
func (f *fakeRelations) AssessmentAssigned(ctx context.Context, candidateID, assessmentID string) (bool, error) {
	return f.assigned[candidateID+"/"+assessmentID], f.err
}
func (f *fakeRelations) HasApplied(ctx context.Context, candidateID, offerID string) (bool, error) {
	return f.applied[candidateID+"/"+offerID], f.err
}

var (
	candidate = Actor{ID: "cand-1", Role: model.RoleCandidate}
	other     = Actor{ID: "cand-2", Role: model.RoleCandidate}
	recruiter = Actor{ID: "hr-1", Role: model.RoleHR}
	noProfile = Actor{ID: "new-1"}
)

func mustAllow(t *testing.T, ok bool, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected allow, got deny")
	}
}

func mustDeny(t *testing.T, ok bool, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected deny, got allow")
	}
}

// --- コンビネータ ---

func TestEmptyPolicy_DeniesEverything(t *testing.T) {
	p := &Policy[model.Notification]{Table: "x"}
	n := &model.Notification{UserID: candidate.ID}
	ctx := context.Background()

	ok, err := p.CanSelect(ctx, candidate, n)
	mustDeny(t, ok, err)
	ok, err = p.CanInsert(ctx, candidate, n)
	mustDeny(t, ok, err)
	ok, err = p.CanUpdate(ctx, candidate, n, n)
	mustDeny(t, ok, err)
	ok, err = p.CanDelete(ctx, candidate, n)
	mustDeny(t, ok, err)
}

func TestSelfOwned(t *testing.T) {
	pred := SelfOwned(func(m *model.Message) string { return m.SenderID })
	ctx := context.Background()

	ok, err := pred(ctx, candidate, &model.Message{SenderID: candidate.ID})
	mustAllow(t, ok, err)
	ok, err = pred(ctx, other, &model.Message{SenderID: candidate.ID})
	mustDeny(t, ok, err)
	// 空IDの行と空IDの実行者は一致とみなさない
	ok, err = pred(ctx, Actor{}, &model.Message{})
	mustDeny(t, ok, err)
}

func TestRoleIs(t *testing.T) {
	pred := RoleIs[model.JobOffer](model.RoleHR)
	ctx := context.Background()

	ok, err := pred(ctx, recruiter, &model.JobOffer{})
	mustAllow(t, ok, err)
	ok, err = pred(ctx, candidate, &model.JobOffer{})
	mustDeny(t, ok, err)
	ok, err = pred(ctx, noProfile, &model.JobOffer{})
	mustDeny(t, ok, err)
}

func TestRelated_PropagatesError(t *testing.T) {
	wantErr := errors.New("db down")
	pred := Related(func(ctx context.Context, s *model.ProcessStage) (string, error) {
		return "", wantErr
	})
	_, err := pred(context.Background(), candidate, &model.ProcessStage{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestRelated_MissingParentDenies(t *testing.T) {
	pred := Related(func(ctx context.Context, s *model.ProcessStage) (string, error) {
		return "", nil
	})
	ok, err := pred(context.Background(), candidate, &model.ProcessStage{})
	mustDeny(t, ok, err)
}

func TestAll_ShortCircuits(t *testing.T) {
	called := false
	second := func(ctx context.Context, a Actor, o *model.JobOffer) (bool, error) {
		called = true
		return true, nil
	}
	pred := All(RoleIs[model.JobOffer](model.RoleHR), second)

	ok, err := pred(context.Background(), candidate, &model.JobOffer{})
	mustDeny(t, ok, err)
	if called {
		t.Error("second predicate must not be evaluated after a deny")
	}
}

func TestLift_RequiresBothRows(t *testing.T) {
	pred := Lift(SelfOwned(func(d *model.Document) string { return d.UserID }))
	ctx := context.Background()
	mine := &model.Document{UserID: candidate.ID}
	theirs := &model.Document{UserID: other.ID}

	ok, err := pred(ctx, candidate, mine, mine)
	mustAllow(t, ok, err)
	// 所有者の付け替えは拒否
	ok, err = pred(ctx, candidate, mine, theirs)
	mustDeny(t, ok, err)
	ok, err = pred(ctx, candidate, theirs, mine)
	mustDeny(t, ok, err)
}

func TestPolicy_DenyObserver(t *testing.T) {
	p := New(&fakeRelations{})
	var gotTable string
	var gotOp Operation
	p.OnDeny(func(table string, op Operation) {
		gotTable, gotOp = table, op
	})

	ok, err := p.Templates.CanInsert(context.Background(), candidate, &model.EvaluationTemplate{})
	mustDeny(t, ok, err)
	if gotTable != "evaluation_templates" || gotOp != OpInsert {
		t.Errorf("observer got (%q, %q), want (evaluation_templates, insert)", gotTable, gotOp)
	}
}

// --- テーブル別ポリシー ---

func TestJobOffers_ClosedOfferInvisibleToCandidates(t *testing.T) {
	p := New(&fakeRelations{})
	ctx := context.Background()
	closed := &model.JobOffer{ID: "o1", Status: model.OfferStatusClosed, CreatedBy: recruiter.ID}
	open := &model.JobOffer{ID: "o2", Status: model.OfferStatusOpen, CreatedBy: recruiter.ID}

	ok, err := p.JobOffers.CanSelect(ctx, candidate, closed)
	mustDeny(t, ok, err)
	ok, err = p.JobOffers.CanSelect(ctx, candidate, open)
	mustAllow(t, ok, err)
	// 作成者は非公開でも参照できる
	ok, err = p.JobOffers.CanSelect(ctx, recruiter, closed)
	mustAllow(t, ok, err)
	// 他の採用担当者の非公開求人は見えない
	ok, err = p.JobOffers.CanSelect(ctx, Actor{ID: "hr-2", Role: model.RoleHR}, closed)
	mustDeny(t, ok, err)

	rows, err := p.JobOffers.Filter(ctx, candidate, []*model.JobOffer{closed, open})
	if err != nil {
		t.Fatalf("Filter returned error: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "o2" {
		t.Errorf("Filter = %v, want only o2", rows)
	}
}

func TestJobOffers_InsertRequiresHRCreator(t *testing.T) {
	p := New(&fakeRelations{})
	ctx := context.Background()

	ok, err := p.JobOffers.CanInsert(ctx, recruiter, &model.JobOffer{CreatedBy: recruiter.ID})
	mustAllow(t, ok, err)
	ok, err = p.JobOffers.CanInsert(ctx, recruiter, &model.JobOffer{CreatedBy: "hr-2"})
	mustDeny(t, ok, err)
	ok, err = p.JobOffers.CanInsert(ctx, candidate, &model.JobOffer{CreatedBy: candidate.ID})
	mustDeny(t, ok, err)
}

func TestMessages_ReadAndMonotonicFlag(t *testing.T) {
	p := New(&fakeRelations{})
	ctx := context.Background()
	msg := &model.Message{ID: "m1", SenderID: candidate.ID, ReceiverID: recruiter.ID, Content: "hi"}

	ok, err := p.Messages.CanSelect(ctx, candidate, msg)
	mustAllow(t, ok, err)
	ok, err = p.Messages.CanSelect(ctx, recruiter, msg)
	mustAllow(t, ok, err)
	ok, err = p.Messages.CanSelect(ctx, other, msg)
	mustDeny(t, ok, err)

	read := *msg
	read.Read = true

	tests := []struct {
		name  string
		actor Actor
		old   *model.Message
		new   *model.Message
		allow bool
	}{
		{"receiver marks read", recruiter, msg, &read, true},
		{"sender cannot mark read", candidate, msg, &read, false},
		{"third party cannot mark read", other, msg, &read, false},
		{"receiver cannot unread", recruiter, &read, msg, false},
		{"receiver cannot edit content", recruiter, msg, &model.Message{ID: "m1", SenderID: candidate.ID, ReceiverID: recruiter.ID, Content: "edited", Read: true}, false},
		{"re-marking read is allowed", recruiter, &read, &read, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := p.Messages.CanUpdate(ctx, tt.actor, tt.old, tt.new)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.allow {
				t.Errorf("CanUpdate = %v, want %v", ok, tt.allow)
			}
		})
	}
}

func TestNotifications_OnlyRecipient(t *testing.T) {
	p := New(&fakeRelations{})
	ctx := context.Background()
	n := &model.Notification{ID: "n1", UserID: candidate.ID, Content: "accepted"}

	ok, err := p.Notifications.CanSelect(ctx, candidate, n)
	mustAllow(t, ok, err)
	ok, err = p.Notifications.CanSelect(ctx, recruiter, n)
	mustDeny(t, ok, err)
	ok, err = p.Notifications.CanInsert(ctx, candidate, n)
	mustDeny(t, ok, err)
}

func TestProfiles_RoleImmutable(t *testing.T) {
	p := New(&fakeRelations{})
	ctx := context.Background()
	old := &model.Profile{ID: candidate.ID, Role: model.RoleCandidate, FullName: "A"}
	renamed := &model.Profile{ID: candidate.ID, Role: model.RoleCandidate, FullName: "B"}
	promoted := &model.Profile{ID: candidate.ID, Role: model.RoleHR, FullName: "A"}

	ok, err := p.Profiles.CanUpdate(ctx, candidate, old, renamed)
	mustAllow(t, ok, err)
	ok, err = p.Profiles.CanUpdate(ctx, candidate, old, promoted)
	mustDeny(t, ok, err)
	ok, err = p.Profiles.CanSelect(ctx, recruiter, old)
	mustAllow(t, ok, err)
	ok, err = p.Profiles.CanSelect(ctx, other, old)
	mustDeny(t, ok, err)
	ok, err = p.Profiles.CanInsert(ctx, noProfile, &model.Profile{ID: noProfile.ID})
	mustAllow(t, ok, err)
}

func TestApplications(t *testing.T) {
	p := New(&fakeRelations{})
	ctx := context.Background()
	app := &model.Application{ID: "a1", UserID: candidate.ID, Status: model.ApplicationStatusPending}
	accepted := *app
	accepted.Status = model.ApplicationStatusAccepted

	ok, err := p.Applications.CanInsert(ctx, candidate, app)
	mustAllow(t, ok, err)
	// 候補者は採否済みで作成できない
	ok, err = p.Applications.CanInsert(ctx, candidate, &accepted)
	mustDeny(t, ok, err)
	// 採用担当者は応募できない
	ok, err = p.Applications.CanInsert(ctx, recruiter, &model.Application{UserID: recruiter.ID, Status: model.ApplicationStatusPending})
	mustDeny(t, ok, err)

	ok, err = p.Applications.CanUpdate(ctx, recruiter, app, &accepted)
	mustAllow(t, ok, err)
	ok, err = p.Applications.CanUpdate(ctx, candidate, app, &accepted)
	mustDeny(t, ok, err)

	ok, err = p.Applications.CanDelete(ctx, candidate, app)
	mustAllow(t, ok, err)
	ok, err = p.Applications.CanDelete(ctx, candidate, &accepted)
	mustDeny(t, ok, err)
}

func TestStages_RelationshipChain(t *testing.T) {
	rel := &fakeRelations{processCandidates: map[string]string{"p1": candidate.ID}}
	p := New(rel)
	ctx := context.Background()
	stage := &model.ProcessStage{ID: "s1", ProcessID: "p1"}

	ok, err := p.Stages.CanSelect(ctx, candidate, stage)
	mustAllow(t, ok, err)
	ok, err = p.Stages.CanSelect(ctx, other, stage)
	mustDeny(t, ok, err)
	ok, err = p.Stages.CanInsert(ctx, candidate, stage)
	mustDeny(t, ok, err)
	ok, err = p.Stages.CanInsert(ctx, recruiter, stage)
	mustAllow(t, ok, err)
}

func TestAssessments_AssignedOnly(t *testing.T) {
	rel := &fakeRelations{assigned: map[string]bool{candidate.ID + "/sa1": true}}
	p := New(rel)
	ctx := context.Background()

	ok, err := p.Assessments.CanSelect(ctx, candidate, &model.SkillAssessment{ID: "sa1"})
	mustAllow(t, ok, err)
	ok, err = p.Assessments.CanSelect(ctx, candidate, &model.SkillAssessment{ID: "sa2"})
	mustDeny(t, ok, err)
	ok, err = p.Questions.CanSelect(ctx, candidate, &model.AssessmentQuestion{AssessmentID: "sa1"})
	mustAllow(t, ok, err)
	ok, err = p.Questions.CanSelect(ctx, other, &model.AssessmentQuestion{AssessmentID: "sa1"})
	mustDeny(t, ok, err)

	ok, err = p.Results.CanInsert(ctx, candidate, &model.AssessmentResult{AssessmentID: "sa1", CandidateID: candidate.ID})
	mustAllow(t, ok, err)
	ok, err = p.Results.CanInsert(ctx, candidate, &model.AssessmentResult{AssessmentID: "sa2", CandidateID: candidate.ID})
	mustDeny(t, ok, err)
}

func TestResults_UpdateOnlyWhileInProgress(t *testing.T) {
	p := New(&fakeRelations{})
	ctx := context.Background()
	inProgress := &model.AssessmentResult{ID: "r1", CandidateID: candidate.ID, Status: model.ResultStatusInProgress}
	completed := &model.AssessmentResult{ID: "r1", CandidateID: candidate.ID, Status: model.ResultStatusCompleted}

	ok, err := p.Results.CanUpdate(ctx, candidate, inProgress, completed)
	mustAllow(t, ok, err)
	ok, err = p.Results.CanUpdate(ctx, candidate, completed, completed)
	mustDeny(t, ok, err)
	ok, err = p.Results.CanUpdate(ctx, recruiter, inProgress, completed)
	mustDeny(t, ok, err)
}

func TestActivities_AppliedSlice(t *testing.T) {
	rel := &fakeRelations{applied: map[string]bool{candidate.ID + "/o1": true}}
	p := New(rel)
	ctx := context.Background()

	ok, err := p.Activities.CanSelect(ctx, candidate, &model.Activity{RelatedOfferID: "o1"})
	mustAllow(t, ok, err)
	ok, err = p.Activities.CanSelect(ctx, candidate, &model.Activity{RelatedOfferID: "o2"})
	mustDeny(t, ok, err)
	ok, err = p.Activities.CanSelect(ctx, candidate, &model.Activity{})
	mustDeny(t, ok, err)
	ok, err = p.Activities.CanSelect(ctx, recruiter, &model.Activity{})
	mustAllow(t, ok, err)
}

func TestDocuments_ApprovalsAndVersions(t *testing.T) {
	rel := &fakeRelations{documentOwners: map[string]string{"d1": candidate.ID}}
	p := New(rel)
	ctx := context.Background()

	ok, err := p.Versions.CanInsert(ctx, candidate, &model.DocumentVersion{DocumentID: "d1"})
	mustAllow(t, ok, err)
	ok, err = p.Versions.CanInsert(ctx, other, &model.DocumentVersion{DocumentID: "d1"})
	mustDeny(t, ok, err)

	ok, err = p.Approvals.CanInsert(ctx, recruiter, &model.DocumentApproval{DocumentID: "d1", ApproverID: recruiter.ID})
	mustAllow(t, ok, err)
	ok, err = p.Approvals.CanInsert(ctx, candidate, &model.DocumentApproval{DocumentID: "d1", ApproverID: candidate.ID})
	mustDeny(t, ok, err)
	ok, err = p.Approvals.CanSelect(ctx, candidate, &model.DocumentApproval{DocumentID: "d1"})
	mustAllow(t, ok, err)

	doc := &model.Document{ID: "d1", UserID: candidate.ID}
	ok, err = p.Documents.CanUpdate(ctx, recruiter, doc, doc)
	mustAllow(t, ok, err)
	ok, err = p.Documents.CanDelete(ctx, recruiter, doc)
	mustDeny(t, ok, err)
}

func TestEmails_HROnly(t *testing.T) {
	p := New(&fakeRelations{})
	ctx := context.Background()
	e := &model.EmailNotification{UserID: candidate.ID}

	ok, err := p.Emails.CanSelect(ctx, candidate, e)
	mustDeny(t, ok, err)
	ok, err = p.Emails.CanSelect(ctx, recruiter, e)
	mustAllow(t, ok, err)
}

func TestCanAccessBlobPath(t *testing.T) {
	tests := []struct {
		name  string
		actor Actor
		path  string
		want  bool
	}{
		{"owner prefix", candidate, "cand-1/doc/v1/cv.pdf", true},
		{"leading slash", candidate, "/cand-1/doc/v1/cv.pdf", true},
		{"other owner", candidate, "cand-2/doc/v1/cv.pdf", false},
		{"prefix collision", candidate, "cand-10/doc/v1/cv.pdf", false},
		{"hr reads all", recruiter, "cand-2/doc/v1/cv.pdf", true},
		{"anonymous", Actor{}, "/doc", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanAccessBlobPath(tt.actor, tt.path); got != tt.want {
				t.Errorf("CanAccessBlobPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestActor_RequireProfile(t *testing.T) {
	tests := []struct {
		name  string
		actor Actor
		want  string
	}{
		{"anonymous", Actor{}, model.ErrCodeUnauthorized},
		{"no profile", Actor{ID: "u-1"}, model.ErrCodeProfileRequired},
		{"candidate", Actor{ID: "u-1", Role: model.RoleCandidate}, ""},
		{"hr", Actor{ID: "u-1", Role: model.RoleHR}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.actor.RequireProfile()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != tt.want {
				t.Errorf("err = %v, want code %s", err, tt.want)
			}
		})
	}
}

func TestVisible(t *testing.T) {
	p := New(&fakeRelations{})
	ctx := context.Background()
	own := &model.Document{ID: "d-1", UserID: "u-1"}

	if err := Visible(ctx, p.Documents, Actor{ID: "u-1", Role: model.RoleCandidate}, own, "書類"); err != nil {
		t.Errorf("owner should see own document: %v", err)
	}

	var apiErr *model.APIError
	err := Visible(ctx, p.Documents, Actor{ID: "u-2", Role: model.RoleCandidate}, own, "書類")
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNotFound {
		t.Errorf("other candidate: err = %v, want NOT_FOUND", err)
	}

	err = Visible[model.Document](ctx, p.Documents, Actor{ID: "u-1", Role: model.RoleHR}, nil, "書類")
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNotFound {
		t.Errorf("missing row: err = %v, want NOT_FOUND", err)
	}
}

func TestAllowed(t *testing.T) {
	if err := Allowed(true, nil); err != nil {
		t.Errorf("Allowed(true) = %v", err)
	}

	var apiErr *model.APIError
	if err := Allowed(false, nil); !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeForbidden {
		t.Errorf("Allowed(false) = %v, want FORBIDDEN", err)
	}

	lookup := errors.New("lookup failed")
	if err := Allowed(false, lookup); !errors.Is(err, lookup) || errors.As(err, &apiErr) {
		t.Errorf("Allowed(err) = %v, want wrapped lookup error", err)
	}
}
