package model

import "github.com/google/uuid"

// NewID は新しい行IDを生成する。
func NewID() string {
	return uuid.New().String()
}

// ValidID はUUID形式のIDかどうかを返す。
// 形式外のIDはデータベースに問い合わせず未検出として扱う。
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
