// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/recruitman/internal/model"
)

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)
	Create(ctx context.Context, p *model.Profile) error
	// Update は役割以外の項目を更新する。
	Update(ctx context.Context, p *model.Profile) error
}

// OfferQuery は求人一覧の絞り込み条件。
type OfferQuery struct {
	Status   model.OfferStatus
	Category string
	Limit    int
}

// JobOfferRepository は求人の永続化インターフェース。
type JobOfferRepository interface {
	FindByID(ctx context.Context, id string) (*model.JobOffer, error)
	List(ctx context.Context, q OfferQuery) ([]*model.JobOffer, error)
	Create(ctx context.Context, o *model.JobOffer) error
	Update(ctx context.Context, o *model.JobOffer) error
	// Delete は求人を削除する。応募・選考プロセスはCASCADE削除される。
	Delete(ctx context.Context, id string) error
}

// ApplicationQuery は応募一覧の絞り込み条件。空のフィールドは条件にしない。
type ApplicationQuery struct {
	UserID     string
	JobOfferID string
}

// ApplicationRepository は応募の永続化インターフェース。
type ApplicationRepository interface {
	FindByID(ctx context.Context, id string) (*model.Application, error)
	List(ctx context.Context, q ApplicationQuery) ([]*model.Application, error)
	Create(ctx context.Context, a *model.Application) error
	UpdateStatus(ctx context.Context, a *model.Application) error
	Delete(ctx context.Context, id string) error
}

// ActivityRepository は活動履歴の永続化インターフェース。追記のみ。
type ActivityRepository interface {
	Create(ctx context.Context, a *model.Activity) error
	List(ctx context.Context, limit int) ([]*model.Activity, error)
}

// ProcessQuery は選考プロセス一覧の絞り込み条件。
type ProcessQuery struct {
	CandidateID string
	JobOfferID  string
}

// ProcessRepository は選考プロセスの永続化インターフェース。
type ProcessRepository interface {
	FindByID(ctx context.Context, id string) (*model.SelectionProcess, error)
	List(ctx context.Context, q ProcessQuery) ([]*model.SelectionProcess, error)
	Create(ctx context.Context, p *model.SelectionProcess) error
	Update(ctx context.Context, p *model.SelectionProcess) error
	Delete(ctx context.Context, id string) error
}

// StageRepository は選考ステージの永続化インターフェース。
type StageRepository interface {
	FindByID(ctx context.Context, id string) (*model.ProcessStage, error)
	// ListByProcess はposition順にステージを返す。
	ListByProcess(ctx context.Context, processID string) ([]*model.ProcessStage, error)
	Create(ctx context.Context, s *model.ProcessStage) error
	Delete(ctx context.Context, id string) error
}

// EvaluationQuery は評価一覧の絞り込み条件。
type EvaluationQuery struct {
	StageID     string
	CandidateID string
}

// EvaluationRepository は候補者評価の永続化インターフェース。
type EvaluationRepository interface {
	FindByID(ctx context.Context, id string) (*model.CandidateEvaluation, error)
	List(ctx context.Context, q EvaluationQuery) ([]*model.CandidateEvaluation, error)
	Create(ctx context.Context, e *model.CandidateEvaluation) error
	Update(ctx context.Context, e *model.CandidateEvaluation) error
}

// TemplateRepository は評価テンプレートと評価基準の永続化インターフェース。
type TemplateRepository interface {
	// FindByID はテンプレートを評価基準付きで取得する。
	FindByID(ctx context.Context, id string) (*model.EvaluationTemplate, error)
	List(ctx context.Context) ([]*model.EvaluationTemplate, error)
	Create(ctx context.Context, t *model.EvaluationTemplate) error
	// Delete はテンプレートを削除する。評価基準はCASCADE削除される。
	Delete(ctx context.Context, id string) error
	AddCriterion(ctx context.Context, c *model.EvaluationCriterion) error
}

// AssessmentRepository はスキル評価と設問の永続化インターフェース。
type AssessmentRepository interface {
	FindByID(ctx context.Context, id string) (*model.SkillAssessment, error)
	List(ctx context.Context) ([]*model.SkillAssessment, error)
	Create(ctx context.Context, a *model.SkillAssessment) error
	ListQuestions(ctx context.Context, assessmentID string) ([]*model.AssessmentQuestion, error)
	AddQuestion(ctx context.Context, q *model.AssessmentQuestion) error
}

// ResultQuery は受験結果一覧の絞り込み条件。
type ResultQuery struct {
	CandidateID  string
	AssessmentID string
}

// ResultRepository は受験結果の永続化インターフェース。
type ResultRepository interface {
	FindByID(ctx context.Context, id string) (*model.AssessmentResult, error)
	List(ctx context.Context, q ResultQuery) ([]*model.AssessmentResult, error)
	Create(ctx context.Context, r *model.AssessmentResult) error
	Update(ctx context.Context, r *model.AssessmentResult) error
	// ExpireOverdue は制限時間を過ぎた受験中の結果をexpiredにし、件数を返す。
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// DocumentRepository は書類・書類バージョン・承認履歴の永続化インターフェース。
type DocumentRepository interface {
	FindByID(ctx context.Context, id string) (*model.Document, error)
	// List はuserIDが空の場合は全件を返す。
	List(ctx context.Context, userID string) ([]*model.Document, error)
	Create(ctx context.Context, d *model.Document) error
	Update(ctx context.Context, d *model.Document) error
	Delete(ctx context.Context, id string) error
	AddVersion(ctx context.Context, v *model.DocumentVersion) error
	ListVersions(ctx context.Context, documentID string) ([]*model.DocumentVersion, error)
	AddApproval(ctx context.Context, a *model.DocumentApproval) error
	ListApprovals(ctx context.Context, documentID string) ([]*model.DocumentApproval, error)
}

// MessageRepository はメッセージの永続化インターフェース。
type MessageRepository interface {
	FindByID(ctx context.Context, id string) (*model.Message, error)
	// ListForUser は送信または受信したメッセージを新しい順に返す。
	ListForUser(ctx context.Context, userID string, limit int) ([]*model.Message, error)
	Create(ctx context.Context, m *model.Message) error
	MarkRead(ctx context.Context, id string) error
}

// NotificationRepository は利用者向け通知の参照・既読化インターフェース。
type NotificationRepository interface {
	FindByID(ctx context.Context, id string) (*model.Notification, error)
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*model.Notification, error)
	MarkRead(ctx context.Context, id string) error
}

// OutboxRepository はファンアウトの書き込み先。fanout.Sinkを満たす。
type OutboxRepository interface {
	Savepoint(ctx context.Context, name string, fn func() error) error
	InsertNotification(ctx context.Context, n *model.Notification) error
	// BroadcastNotification は採用担当者以外のプロフィールのうちafterIDより大きいIDを持つ
	// 最大limit件に通知を挿入し、挿入した通知を宛先IDの昇順で返す。
	// moreは挿入しなかった対象者がまだ残っているかどうか。
	BroadcastNotification(ctx context.Context, tmpl *model.Notification, afterID string, limit int) (created []*model.Notification, more bool, err error)
	QueueEmail(ctx context.Context, e *model.EmailNotification) error
	RecipientEmail(ctx context.Context, userID string) (string, error)
}

// EmailRepository はメール送信キューの処理インターフェース。
type EmailRepository interface {
	// ClaimPending はnow時点で次回送信時刻に達した送信待ちのメールをFOR UPDATE SKIP LOCKEDで取得する。
	// トランザクション内で呼び出すこと。
	ClaimPending(ctx context.Context, now time.Time, limit int) ([]*model.EmailNotification, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	// MarkRetry は試行回数を加算し、pendingのままnextAttemptAtまで送信対象から外す。
	MarkRetry(ctx context.Context, id, message string, nextAttemptAt time.Time) error
	// MarkFailed は試行回数を加算し、failedにする。
	MarkFailed(ctx context.Context, id, message string) error
	List(ctx context.Context, limit int) ([]*model.EmailNotification, error)
}

// 一覧取得の件数上限。
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// PageLimit は一覧取得の件数を既定値と上限の範囲に収める。
func PageLimit(n int) int {
	if n <= 0 {
		return DefaultPageLimit
	}
	return min(n, MaxPageLimit)
}
