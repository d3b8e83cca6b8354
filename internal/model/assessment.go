package model

import (
	"encoding/json"
	"time"
)

// SkillAssessment は制限時間付きのスキルテスト定義。
type SkillAssessment struct {
	ID               string
	Title            string
	Description      string
	TimeLimitMinutes int
	PassingScore     int
	CreatedBy        string
	CreatedAt        time.Time
}

// AssessmentQuestion はスキルテストの設問。
type AssessmentQuestion struct {
	ID           string
	AssessmentID string
	Question     string
	QuestionType string
	Options      json.RawMessage
	Points       int
	Position     int
}

// ResultStatus は受験結果の状態を表す。
type ResultStatus string

const (
	ResultStatusInProgress ResultStatus = "in_progress"
	ResultStatusCompleted  ResultStatus = "completed"
	ResultStatusExpired    ResultStatus = "expired"
)

// Valid は定義済みの状態かどうかを返す。
func (s ResultStatus) Valid() bool {
	switch s {
	case ResultStatusInProgress, ResultStatusCompleted, ResultStatusExpired:
		return true
	}
	return false
}

// AssessmentResult は応募者の受験（進行中または完了）を表す。
type AssessmentResult struct {
	ID           string
	AssessmentID string
	CandidateID  string
	ProcessID    string
	Status       ResultStatus
	Answers      json.RawMessage
	Score        *int
	StartTime    time.Time
	EndTime      *time.Time
}

// Deadline は制限時間から算出した受験期限を返す。
func (r *AssessmentResult) Deadline(timeLimitMinutes int) time.Time {
	return r.StartTime.Add(time.Duration(timeLimitMinutes) * time.Minute)
}
