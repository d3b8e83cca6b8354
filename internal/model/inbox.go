package model

import "time"

// Message は2者間のメッセージ。
type Message struct {
	ID            string
	SenderID      string
	ReceiverID    string
	ApplicationID string
	Content       string
	AttachmentURL string
	Read          bool
	CreatedAt     time.Time
}

// NotificationType は通知の種別を表す。
type NotificationType string

const (
	NotificationProcessStatus      NotificationType = "process_status"
	NotificationAssessmentAssigned NotificationType = "assessment_assigned"
	NotificationEvaluation         NotificationType = "evaluation_completed"
	NotificationDocumentStatus     NotificationType = "document_status"
	NotificationDocumentExpiry     NotificationType = "document_expiry"
	NotificationNewJobOffer        NotificationType = "new_job_offer"
	NotificationApplicationStatus  NotificationType = "application_status"
	NotificationNewMessage         NotificationType = "new_message"
)

// Notification は受信者ごとのアプリ内通知。
type Notification struct {
	ID        string
	UserID    string
	Type      NotificationType
	Title     string
	Content   string
	Read      bool
	RelatedID string
	CreatedAt time.Time
}

// EmailStatus は送信キューの配信状態を表す。
type EmailStatus string

const (
	EmailStatusPending EmailStatus = "pending"
	EmailStatusSent    EmailStatus = "sent"
	EmailStatusFailed  EmailStatus = "failed"
)

// EmailNotification は外部メーラーが処理する送信待ちメール。
type EmailNotification struct {
	ID            string
	UserID        string
	Type          NotificationType
	Recipient     string
	Subject       string
	Content       string
	Status        EmailStatus
	ErrorMessage  string
	Attempts      int
	CreatedAt     time.Time
	NextAttemptAt time.Time // この時刻以降に送信対象になる
	SentAt        *time.Time
}
