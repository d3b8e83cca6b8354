package model

import "time"

// OfferStatus は求人の公開状態を表す。
type OfferStatus string

const (
	// OfferStatusOpen は募集中。
	OfferStatusOpen OfferStatus = "open"
	// OfferStatusClosed は募集終了。
	OfferStatusClosed OfferStatus = "closed"
)

// Valid は定義済みの状態かどうかを返す。
func (s OfferStatus) Valid() bool {
	return s == OfferStatusOpen || s == OfferStatusClosed
}

// JobOffer は求人票を表す。
type JobOffer struct {
	ID           string
	Title        string
	Description  string
	Requirements string
	Category     string
	WorkType     string
	Status       OfferStatus
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ApplicationStatus は応募の状態を表す。
type ApplicationStatus string

const (
	ApplicationStatusPending  ApplicationStatus = "pending"
	ApplicationStatusAccepted ApplicationStatus = "accepted"
	ApplicationStatusRejected ApplicationStatus = "rejected"
)

// Valid は定義済みの状態かどうかを返す。
func (s ApplicationStatus) Valid() bool {
	switch s {
	case ApplicationStatusPending, ApplicationStatusAccepted, ApplicationStatusRejected:
		return true
	}
	return false
}

// Application は応募者と求人の紐付けを表す。
// 同一(応募者, 求人)の重複応募は制約で禁止していない。
type Application struct {
	ID          string
	JobOfferID  string
	UserID      string
	Status      ApplicationStatus
	CoverLetter string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ActivityType は監査ログの操作種別を表す。
type ActivityType string

const (
	ActivityCreate ActivityType = "create"
	ActivityModify ActivityType = "modify"
	ActivityDelete ActivityType = "delete"
)

// Activity は追記専用の監査ログエントリ。
type Activity struct {
	ID             string
	Type           ActivityType
	Description    string
	ActorID        string
	RelatedOfferID string
	CreatedAt      time.Time
}
