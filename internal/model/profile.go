package model

import "time"

// Role はアイデンティティの役割を表す。
type Role string

const (
	// RoleCandidate は応募者。
	RoleCandidate Role = "candidate"
	// RoleHR は採用担当者。
	RoleHR Role = "hr"
)

// Valid は定義済みの役割かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleCandidate || r == RoleHR
}

// Profile はアイデンティティに1:1で紐づく個人・職務情報。
// IDは外部IdPが発行したアイデンティティIDと同一。
type Profile struct {
	ID         string
	Role       Role
	FullName   string
	Email      string
	Phone      string
	BirthDate  *time.Time
	CVURL      string
	LicenseURL string
	TitleURL   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DisplayName は通知文面に埋め込む表示名を返す。
func (p *Profile) DisplayName() string {
	if p == nil || p.FullName == "" {
		return "不明なユーザー"
	}
	return p.FullName
}
