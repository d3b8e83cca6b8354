// Package memrepo はサービス層のテストに使うインメモリのStore実装を提供する。
// トランザクションとセーブポイントはスナップショットの復元で再現する。
package memrepo

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/repository"
)

// tables は全テーブルの行を保持する。値で保持してスナップショットを安価にする。
type tables struct {
	profiles      map[string]model.Profile
	offers        map[string]model.JobOffer
	applications  map[string]model.Application
	activities    map[string]model.Activity
	processes     map[string]model.SelectionProcess
	stages        map[string]model.ProcessStage
	evaluations   map[string]model.CandidateEvaluation
	templates     map[string]model.EvaluationTemplate
	criteria      map[string]model.EvaluationCriterion
	assessments   map[string]model.SkillAssessment
	questions     map[string]model.AssessmentQuestion
	results       map[string]model.AssessmentResult
	documents     map[string]model.Document
	versions      map[string]model.DocumentVersion
	approvals     map[string]model.DocumentApproval
	messages      map[string]model.Message
	notifications map[string]model.Notification
	emails        map[string]model.EmailNotification
}

func newTables() *tables {
	return &tables{
		profiles:      map[string]model.Profile{},
		offers:        map[string]model.JobOffer{},
		applications:  map[string]model.Application{},
		activities:    map[string]model.Activity{},
		processes:     map[string]model.SelectionProcess{},
		stages:        map[string]model.ProcessStage{},
		evaluations:   map[string]model.CandidateEvaluation{},
		templates:     map[string]model.EvaluationTemplate{},
		criteria:      map[string]model.EvaluationCriterion{},
		assessments:   map[string]model.SkillAssessment{},
		questions:     map[string]model.AssessmentQuestion{},
		results:       map[string]model.AssessmentResult{},
		documents:     map[string]model.Document{},
		versions:      map[string]model.DocumentVersion{},
		approvals:     map[string]model.DocumentApproval{},
		messages:      map[string]model.Message{},
		notifications: map[string]model.Notification{},
		emails:        map[string]model.EmailNotification{},
	}
}

func (t *tables) clone() *tables {
	return &tables{
		profiles:      cloneMap(t.profiles),
		offers:        cloneMap(t.offers),
		applications:  cloneMap(t.applications),
		activities:    cloneMap(t.activities),
		processes:     cloneMap(t.processes),
		stages:        cloneMap(t.stages),
		evaluations:   cloneMap(t.evaluations),
		templates:     cloneMap(t.templates),
		criteria:      cloneMap(t.criteria),
		assessments:   cloneMap(t.assessments),
		questions:     cloneMap(t.questions),
		results:       cloneMap(t.results),
		documents:     cloneMap(t.documents),
		versions:      cloneMap(t.versions),
		approvals:     cloneMap(t.approvals),
		messages:      cloneMap(t.messages),
		notifications: cloneMap(t.notifications),
		emails:        cloneMap(t.emails),
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store はrepository.Storeのインメモリ実装。
type Store struct {
	mu   sync.Mutex
	data *tables

	// Fail はopごとに注入するエラー。opは "notifications.insert" のような "<table>.<操作>" 形式。
	Fail map[string]error

	// Commits はコミットされたトランザクション数。
	Commits int
	// Rollbacks はロールバックされたトランザクション数。
	Rollbacks int

	repos *repository.Repos
}

// New は空のStoreを生成する。
func New() *Store {
	s := &Store{data: newTables(), Fail: map[string]error{}}
	s.repos = s.newRepos()
	return s
}

func (s *Store) newRepos() *repository.Repos {
	return &repository.Repos{
		Profiles:      &profileRepo{s},
		JobOffers:     &offerRepo{s},
		Applications:  &applicationRepo{s},
		Activities:    &activityRepo{s},
		Processes:     &processRepo{s},
		Stages:        &stageRepo{s},
		Evaluations:   &evaluationRepo{s},
		Templates:     &templateRepo{s},
		Assessments:   &assessmentRepo{s},
		Results:       &resultRepo{s},
		Documents:     &documentRepo{s},
		Messages:      &messageRepo{s},
		Notifications: &notificationRepo{s},
		Outbox:        &outboxRepo{s},
		Emails:        &emailRepo{s},
	}
}

func (s *Store) Repos() *repository.Repos {
	return s.repos
}

// InTx はfnを実行し、エラーの場合は実行前の状態に戻す。
// 呼び出しは直列化されないため、テストでは並行に使わないこと。
func (s *Store) InTx(ctx context.Context, fn func(r *repository.Repos) error) error {
	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(s.repos); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.Rollbacks++
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.Commits++
	s.mu.Unlock()
	return nil
}

// Relations はpolicy.Relationsを満たす参照を返す。
func (s *Store) Relations() *Relations {
	return &Relations{s}
}

func (s *Store) fail(op string) error {
	if err, ok := s.Fail[op]; ok {
		return err
	}
	return nil
}

// --- シード・参照用ヘルパー ---

// PutProfile はプロフィールを直接登録する。
func (s *Store) PutProfile(p model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.profiles[p.ID] = p
}

// PutOffer は求人を直接登録する。
func (s *Store) PutOffer(o model.JobOffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.offers[o.ID] = o
}

// PutApplication は応募を直接登録する。
func (s *Store) PutApplication(a model.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.applications[a.ID] = a
}

// PutProcess は選考プロセスを直接登録する。
func (s *Store) PutProcess(p model.SelectionProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.RequiredAssessments = slices.Clone(p.RequiredAssessments)
	p.CompletedAssessments = slices.Clone(p.CompletedAssessments)
	s.data.processes[p.ID] = p
}

// PutStage は選考ステージを直接登録する。
func (s *Store) PutStage(st model.ProcessStage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.stages[st.ID] = st
}

// PutEvaluation は評価を直接登録する。
func (s *Store) PutEvaluation(e model.CandidateEvaluation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.evaluations[e.ID] = e
}

// PutTemplate は評価テンプレートを直接登録する。評価基準は登録しない。
func (s *Store) PutTemplate(t model.EvaluationTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Criteria = nil
	s.data.templates[t.ID] = t
}

// PutAssessment はスキル評価を直接登録する。
func (s *Store) PutAssessment(a model.SkillAssessment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.assessments[a.ID] = a
}

// PutQuestion は設問を直接登録する。
func (s *Store) PutQuestion(q model.AssessmentQuestion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.questions[q.ID] = q
}

// PutResult は受験結果を直接登録する。
func (s *Store) PutResult(r model.AssessmentResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.results[r.ID] = r
}

// PutDocument は書類を直接登録する。
func (s *Store) PutDocument(d model.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.documents[d.ID] = d
}

// PutMessage はメッセージを直接登録する。
func (s *Store) PutMessage(m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.messages[m.ID] = m
}

// PutNotification は通知を直接登録する。
func (s *Store) PutNotification(n model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.notifications[n.ID] = n
}

// PutActivity は活動履歴を直接登録する。
func (s *Store) PutActivity(a model.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.activities[a.ID] = a
}

// PutEmail はメール送信キューの行を直接登録する。
func (s *Store) PutEmail(e model.EmailNotification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.emails[e.ID] = e
}

// Notifications は作成日時順の全通知を返す。
func (s *Store) Notifications() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.data.notifications, func(n model.Notification) (time.Time, string) { return n.CreatedAt, n.ID })
}

// Emails は作成日時順の全メール送信キューを返す。
func (s *Store) Emails() []model.EmailNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.data.emails, func(e model.EmailNotification) (time.Time, string) { return e.CreatedAt, e.ID })
}

// Activities は作成日時順の全活動履歴を返す。
func (s *Store) Activities() []model.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.data.activities, func(a model.Activity) (time.Time, string) { return a.CreatedAt, a.ID })
}

// Versions は書類のバージョンを版数順に返す。
func (s *Store) Versions(documentID string) []model.DocumentVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DocumentVersion
	for _, v := range s.data.versions {
		if v.DocumentID == documentID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// Count はテーブルの行数を返す。
func (s *Store) Count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch table {
	case "profiles":
		return len(s.data.profiles)
	case "job_offers":
		return len(s.data.offers)
	case "applications":
		return len(s.data.applications)
	case "activities":
		return len(s.data.activities)
	case "selection_processes":
		return len(s.data.processes)
	case "process_stages":
		return len(s.data.stages)
	case "candidate_evaluations":
		return len(s.data.evaluations)
	case "evaluation_templates":
		return len(s.data.templates)
	case "evaluation_criteria":
		return len(s.data.criteria)
	case "skill_assessments":
		return len(s.data.assessments)
	case "assessment_questions":
		return len(s.data.questions)
	case "assessment_results":
		return len(s.data.results)
	case "documents":
		return len(s.data.documents)
	case "document_versions":
		return len(s.data.versions)
	case "document_approvals":
		return len(s.data.approvals)
	case "messages":
		return len(s.data.messages)
	case "notifications":
		return len(s.data.notifications)
	case "email_notifications":
		return len(s.data.emails)
	}
	return 0
}

// sortedValues は作成日時の新しい順（同時刻はID順）に並べた値を返す。
func sortedValues[V any](m map[string]V, key func(V) (time.Time, string)) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, idi := key(out[i])
		tj, idj := key(out[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return idi < idj
	})
	return out
}

func newestFirst[V any](vs []V) []V {
	slices.Reverse(vs)
	return vs
}

func limited[V any](vs []V, limit int) []V {
	if limit > 0 && len(vs) > limit {
		return vs[:limit]
	}
	return vs
}

func ptr[V any](v V) *V {
	return &v
}

var _ repository.Store = (*Store)(nil)
