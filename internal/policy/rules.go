package policy

import (
	"context"
	"strings"

	"github.com/hitoshi/recruitman/internal/model"
)

// Relations は関係チェーンの解決に使う参照系。リポジトリ層が実装する。
// 参照先が存在しない場合は空文字またはfalseを返す。
type Relations interface {
	ProcessCandidate(ctx context.Context, processID string) (string, error)
	StageCandidate(ctx context.Context, stageID string) (string, error)
	DocumentOwner(ctx context.Context, documentID string) (string, error)
	AssessmentAssigned(ctx context.Context, candidateID, assessmentID string) (bool, error)
	HasApplied(ctx context.Context, candidateID, offerID string) (bool, error)
}

// Policies は全テーブルのポリシー一式。
type Policies struct {
	Profiles      *Policy[model.Profile]
	JobOffers     *Policy[model.JobOffer]
	Applications  *Policy[model.Application]
	Processes     *Policy[model.SelectionProcess]
	Stages        *Policy[model.ProcessStage]
	Evaluations   *Policy[model.CandidateEvaluation]
	Templates     *Policy[model.EvaluationTemplate]
	Criteria      *Policy[model.EvaluationCriterion]
	Assessments   *Policy[model.SkillAssessment]
	Questions     *Policy[model.AssessmentQuestion]
	Results       *Policy[model.AssessmentResult]
	Documents     *Policy[model.Document]
	Versions      *Policy[model.DocumentVersion]
	Approvals     *Policy[model.DocumentApproval]
	Messages      *Policy[model.Message]
	Notifications *Policy[model.Notification]
	Emails        *Policy[model.EmailNotification]
	Activities    *Policy[model.Activity]

	observer DenyObserver
}

// New は関係参照relを使って全テーブルのポリシーを構築する。
func New(rel Relations) *Policies {
	p := &Policies{}
	obs := &p.observer

	hr := model.RoleHR

	p.Profiles = &Policy[model.Profile]{
		Table:    "profiles",
		observer: obs,
		Select: []Predicate[model.Profile]{
			SelfOwned(profileID),
			RoleIs[model.Profile](hr),
		},
		Insert: []Predicate[model.Profile]{
			SelfOwned(profileID),
		},
		Update: []UpdatePredicate[model.Profile]{
			AllUpdate(
				Lift(SelfOwned(profileID)),
				Unchanged(func(p *model.Profile) model.Role { return p.Role }),
			),
		},
	}

	offerVisible := []Predicate[model.JobOffer]{
		StatusIs(func(o *model.JobOffer) model.OfferStatus { return o.Status }, model.OfferStatusOpen),
		SelfOwned(offerCreator),
	}
	hrVisibleOffer := All(RoleIs[model.JobOffer](hr), anyPred(offerVisible...))
	p.JobOffers = &Policy[model.JobOffer]{
		Table:    "job_offers",
		observer: obs,
		Select:   offerVisible,
		Insert: []Predicate[model.JobOffer]{
			All(RoleIs[model.JobOffer](hr), SelfOwned(offerCreator)),
		},
		Update: []UpdatePredicate[model.JobOffer]{
			LiftOld(hrVisibleOffer),
		},
		Delete: []Predicate[model.JobOffer]{hrVisibleOffer},
	}

	appOwner := SelfOwned(func(a *model.Application) string { return a.UserID })
	appPending := StatusIs(func(a *model.Application) model.ApplicationStatus { return a.Status }, model.ApplicationStatusPending)
	p.Applications = &Policy[model.Application]{
		Table:    "applications",
		observer: obs,
		Select:   []Predicate[model.Application]{appOwner, RoleIs[model.Application](hr)},
		Insert: []Predicate[model.Application]{
			All(appOwner, RoleIs[model.Application](model.RoleCandidate), appPending),
		},
		Update: []UpdatePredicate[model.Application]{
			LiftOld(RoleIs[model.Application](hr)),
		},
		Delete: []Predicate[model.Application]{All(appOwner, appPending)},
	}

	p.Processes = &Policy[model.SelectionProcess]{
		Table:    "selection_processes",
		observer: obs,
		Select: []Predicate[model.SelectionProcess]{
			SelfOwned(func(sp *model.SelectionProcess) string { return sp.CandidateID }),
			RoleIs[model.SelectionProcess](hr),
		},
		Insert: hrOnly[model.SelectionProcess](),
		Update: hrOnlyUpdate[model.SelectionProcess](),
		Delete: hrOnly[model.SelectionProcess](),
	}

	p.Stages = &Policy[model.ProcessStage]{
		Table:    "process_stages",
		observer: obs,
		Select: []Predicate[model.ProcessStage]{
			Related(func(ctx context.Context, s *model.ProcessStage) (string, error) {
				return rel.ProcessCandidate(ctx, s.ProcessID)
			}),
			RoleIs[model.ProcessStage](hr),
		},
		Insert: hrOnly[model.ProcessStage](),
		Update: hrOnlyUpdate[model.ProcessStage](),
		Delete: hrOnly[model.ProcessStage](),
	}

	p.Evaluations = &Policy[model.CandidateEvaluation]{
		Table:    "candidate_evaluations",
		observer: obs,
		Select: []Predicate[model.CandidateEvaluation]{
			SelfOwned(func(e *model.CandidateEvaluation) string { return e.CandidateID }),
			RoleIs[model.CandidateEvaluation](hr),
		},
		Insert: []Predicate[model.CandidateEvaluation]{
			All(
				RoleIs[model.CandidateEvaluation](hr),
				SelfOwned(func(e *model.CandidateEvaluation) string { return e.EvaluatorID }),
			),
		},
		Update: hrOnlyUpdate[model.CandidateEvaluation](),
		Delete: hrOnly[model.CandidateEvaluation](),
	}

	p.Templates = &Policy[model.EvaluationTemplate]{
		Table:    "evaluation_templates",
		observer: obs,
		Select:   hrOnly[model.EvaluationTemplate](),
		Insert:   hrOnly[model.EvaluationTemplate](),
		Update:   hrOnlyUpdate[model.EvaluationTemplate](),
		Delete:   hrOnly[model.EvaluationTemplate](),
	}
	p.Criteria = &Policy[model.EvaluationCriterion]{
		Table:    "evaluation_criteria",
		observer: obs,
		Select:   hrOnly[model.EvaluationCriterion](),
		Insert:   hrOnly[model.EvaluationCriterion](),
		Update:   hrOnlyUpdate[model.EvaluationCriterion](),
		Delete:   hrOnly[model.EvaluationCriterion](),
	}

	p.Assessments = &Policy[model.SkillAssessment]{
		Table:    "skill_assessments",
		observer: obs,
		Select: []Predicate[model.SkillAssessment]{
			assigned(rel, func(sa *model.SkillAssessment) string { return sa.ID }),
			RoleIs[model.SkillAssessment](hr),
		},
		Insert: hrOnly[model.SkillAssessment](),
		Update: hrOnlyUpdate[model.SkillAssessment](),
		Delete: hrOnly[model.SkillAssessment](),
	}
	p.Questions = &Policy[model.AssessmentQuestion]{
		Table:    "assessment_questions",
		observer: obs,
		Select: []Predicate[model.AssessmentQuestion]{
			assigned(rel, func(q *model.AssessmentQuestion) string { return q.AssessmentID }),
			RoleIs[model.AssessmentQuestion](hr),
		},
		Insert: hrOnly[model.AssessmentQuestion](),
		Update: hrOnlyUpdate[model.AssessmentQuestion](),
		Delete: hrOnly[model.AssessmentQuestion](),
	}

	resultOwner := SelfOwned(func(r *model.AssessmentResult) string { return r.CandidateID })
	p.Results = &Policy[model.AssessmentResult]{
		Table:    "assessment_results",
		observer: obs,
		Select:   []Predicate[model.AssessmentResult]{resultOwner, RoleIs[model.AssessmentResult](hr)},
		Insert: []Predicate[model.AssessmentResult]{
			All(resultOwner, assigned(rel, func(r *model.AssessmentResult) string { return r.AssessmentID })),
		},
		Update: []UpdatePredicate[model.AssessmentResult]{
			AllUpdate(
				Lift(resultOwner),
				LiftOld(StatusIs(func(r *model.AssessmentResult) model.ResultStatus { return r.Status }, model.ResultStatusInProgress)),
			),
		},
	}

	docOwner := SelfOwned(func(d *model.Document) string { return d.UserID })
	p.Documents = &Policy[model.Document]{
		Table:    "documents",
		observer: obs,
		Select:   []Predicate[model.Document]{docOwner, RoleIs[model.Document](hr)},
		Insert:   []Predicate[model.Document]{docOwner},
		Update: []UpdatePredicate[model.Document]{
			Lift(docOwner),
			LiftOld(RoleIs[model.Document](hr)),
		},
		Delete: []Predicate[model.Document]{docOwner},
	}

	versionChain := Related(func(ctx context.Context, v *model.DocumentVersion) (string, error) {
		return rel.DocumentOwner(ctx, v.DocumentID)
	})
	p.Versions = &Policy[model.DocumentVersion]{
		Table:    "document_versions",
		observer: obs,
		Select:   []Predicate[model.DocumentVersion]{versionChain, RoleIs[model.DocumentVersion](hr)},
		Insert:   []Predicate[model.DocumentVersion]{versionChain},
	}

	p.Approvals = &Policy[model.DocumentApproval]{
		Table:    "document_approvals",
		observer: obs,
		Select: []Predicate[model.DocumentApproval]{
			Related(func(ctx context.Context, a *model.DocumentApproval) (string, error) {
				return rel.DocumentOwner(ctx, a.DocumentID)
			}),
			RoleIs[model.DocumentApproval](hr),
		},
		Insert: []Predicate[model.DocumentApproval]{
			All(
				RoleIs[model.DocumentApproval](hr),
				SelfOwned(func(a *model.DocumentApproval) string { return a.ApproverID }),
			),
		},
	}

	p.Messages = &Policy[model.Message]{
		Table:    "messages",
		observer: obs,
		Select: []Predicate[model.Message]{
			SelfOwned(func(m *model.Message) string { return m.SenderID }),
			SelfOwned(func(m *model.Message) string { return m.ReceiverID }),
		},
		Insert: []Predicate[model.Message]{
			SelfOwned(func(m *model.Message) string { return m.SenderID }),
		},
		Update: []UpdatePredicate[model.Message]{
			MonotonicFlag(
				func(m *model.Message) string { return m.ReceiverID },
				func(m *model.Message) bool { return m.Read },
				func(old, new *model.Message) bool {
					o, n := *old, *new
					o.Read, n.Read = false, false
					return o == n
				},
			),
		},
	}

	p.Notifications = &Policy[model.Notification]{
		Table:    "notifications",
		observer: obs,
		Select: []Predicate[model.Notification]{
			SelfOwned(func(n *model.Notification) string { return n.UserID }),
		},
		Update: []UpdatePredicate[model.Notification]{
			MonotonicFlag(
				func(n *model.Notification) string { return n.UserID },
				func(n *model.Notification) bool { return n.Read },
				func(old, new *model.Notification) bool {
					o, n := *old, *new
					o.Read, n.Read = false, false
					return o == n
				},
			),
		},
	}

	p.Emails = &Policy[model.EmailNotification]{
		Table:    "email_notifications",
		observer: obs,
		Select:   hrOnly[model.EmailNotification](),
	}

	p.Activities = &Policy[model.Activity]{
		Table:    "activities",
		observer: obs,
		Select: []Predicate[model.Activity]{
			RoleIs[model.Activity](hr),
			Holds(func(ctx context.Context, a Actor, act *model.Activity) (bool, error) {
				if a.ID == "" || act.RelatedOfferID == "" {
					return false, nil
				}
				return rel.HasApplied(ctx, a.ID, act.RelatedOfferID)
			}),
		},
	}

	return p
}

// OnDeny は拒否時のコールバックを設定する。メトリクス計上に使う。
func (p *Policies) OnDeny(fn DenyObserver) {
	p.observer = fn
}

// CanAccessBlobPath はストレージ上のパスにアクセスできるかを判定する。
// パスの先頭セグメントが実行者IDと一致するか、実行者が採用担当者であれば許可する。
func CanAccessBlobPath(a Actor, path string) bool {
	if a.IsHR() {
		return true
	}
	if a.ID == "" {
		return false
	}
	first, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return first == a.ID
}

func profileID(p *model.Profile) string  { return p.ID }
func offerCreator(o *model.JobOffer) string { return o.CreatedBy }

func hrOnly[T any]() []Predicate[T] {
	return []Predicate[T]{RoleIs[T](model.RoleHR)}
}

func hrOnlyUpdate[T any]() []UpdatePredicate[T] {
	return []UpdatePredicate[T]{LiftOld(RoleIs[T](model.RoleHR))}
}

// assigned は実行者に割り当て済みのスキル評価に属する行を許可する。
func assigned[T any](rel Relations, assessmentID func(*T) string) Predicate[T] {
	return Holds(func(ctx context.Context, a Actor, row *T) (bool, error) {
		if a.ID == "" {
			return false, nil
		}
		return rel.AssessmentAssigned(ctx, a.ID, assessmentID(row))
	})
}

func anyPred[T any](preds ...Predicate[T]) Predicate[T] {
	return func(ctx context.Context, a Actor, row *T) (bool, error) {
		return anyOf(ctx, a, row, preds)
	}
}
