package model

import (
	"encoding/json"
	"time"
)

// ProcessStatus は選考プロセスのライフサイクル状態を表す。
type ProcessStatus string

const (
	ProcessStatusPending    ProcessStatus = "pending"
	ProcessStatusInProgress ProcessStatus = "in_progress"
	ProcessStatusCompleted  ProcessStatus = "completed"
	ProcessStatusRejected   ProcessStatus = "rejected"
)

// Valid は定義済みの状態かどうかを返す。
func (s ProcessStatus) Valid() bool {
	switch s {
	case ProcessStatusPending, ProcessStatusInProgress, ProcessStatusCompleted, ProcessStatusRejected:
		return true
	}
	return false
}

// SelectionProcess は応募者と求人に対する選考プロセス。
type SelectionProcess struct {
	ID                   string
	JobOfferID           string
	CandidateID          string
	Status               ProcessStatus
	RequiredAssessments  []string
	CompletedAssessments []string
	StartDate            time.Time
	EndDate              *time.Time
	CreatedBy            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ProcessStage は選考プロセス内の順序付きステップ。
type ProcessStage struct {
	ID           string
	ProcessID    string
	Name         string
	Requirements string
	Position     int
	IsRequired   bool
	CreatedAt    time.Time
}

// EvaluationStatus は評価の状態を表す。
type EvaluationStatus string

const (
	EvaluationStatusPending EvaluationStatus = "pending"
	EvaluationStatusPassed  EvaluationStatus = "passed"
	EvaluationStatusFailed  EvaluationStatus = "failed"
)

// Valid は定義済みの状態かどうかを返す。
func (s EvaluationStatus) Valid() bool {
	switch s {
	case EvaluationStatusPending, EvaluationStatusPassed, EvaluationStatusFailed:
		return true
	}
	return false
}

// Completed は評価が確定済み（合否が出た）状態かどうかを返す。
func (s EvaluationStatus) Completed() bool {
	return s == EvaluationStatusPassed || s == EvaluationStatusFailed
}

// MaxEvaluationScore は評価スコアの上限。
const MaxEvaluationScore = 100

// CandidateEvaluation はステージごとの応募者評価。
type CandidateEvaluation struct {
	ID             string
	StageID        string
	CandidateID    string
	EvaluatorID    string
	TemplateID     string
	Score          int
	Status         EvaluationStatus
	CriteriaScores json.RawMessage
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EvaluationTemplate は再利用可能な採点ルーブリック。
type EvaluationTemplate struct {
	ID           string
	Name         string
	Description  string
	MaxScore     int
	PassingScore int
	CreatedBy    string
	CreatedAt    time.Time
	Criteria     []EvaluationCriterion
}

// EvaluationCriterion はテンプレート内の重み付き評価項目。
type EvaluationCriterion struct {
	ID          string
	TemplateID  string
	Name        string
	Description string
	Weight      float64
	MaxScore    int
}
