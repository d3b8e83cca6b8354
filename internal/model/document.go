package model

import "time"

// DocumentStatus は書類の承認状態を表す。
type DocumentStatus string

const (
	DocumentStatusPending  DocumentStatus = "pending"
	DocumentStatusApproved DocumentStatus = "approved"
	DocumentStatusRejected DocumentStatus = "rejected"
)

// Valid は定義済みの状態かどうかを返す。
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentStatusPending, DocumentStatusApproved, DocumentStatusRejected:
		return true
	}
	return false
}

// Document はバージョン管理されたアップロード書類。
// ファイル更新のたびにDocumentVersionが追記され、状態はpendingに戻る。
type Document struct {
	ID             string
	UserID         string
	Name           string
	DocumentType   string
	FileURL        string
	Status         DocumentStatus
	ExpiryDate     *time.Time
	CurrentVersion int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DocumentVersion は書類ファイルの1版。追記専用。
type DocumentVersion struct {
	ID         string
	DocumentID string
	Version    int
	FileURL    string
	UploadedBy string
	CreatedAt  time.Time
}

// DocumentApproval は採用担当者による承認・却下の記録。追記専用。
type DocumentApproval struct {
	ID         string
	DocumentID string
	ApproverID string
	Status     DocumentStatus
	Comment    string
	CreatedAt  time.Time
}
