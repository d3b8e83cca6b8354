package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/recruitman/internal/database"
	"github.com/hitoshi/recruitman/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db database.DBTX
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db database.DBTX) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

const profileColumns = `id, role, full_name, email, phone, birth_date,
	cv_url, license_url, title_url, created_at, updated_at`

func scanProfile(s scanner) (*model.Profile, error) {
	p := &model.Profile{}
	var birthDate sql.NullTime
	var cvURL, licenseURL, titleURL sql.NullString

	if err := s.Scan(
		&p.ID, &p.Role, &p.FullName, &p.Email, &p.Phone, &birthDate,
		&cvURL, &licenseURL, &titleURL, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.BirthDate = nullTimeValue(birthDate)
	p.CVURL = nullStringValue(cvURL)
	p.LicenseURL = nullStringValue(licenseURL)
	p.TitleURL = nullStringValue(titleURL)
	return p, nil
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(err, "プロフィールの取得に失敗しました")
	}
	return p, nil
}

// Create はプロフィールを作成する。
func (r *PostgresProfileRepo) Create(ctx context.Context, p *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, role, full_name, email, phone, birth_date,
		                       cv_url, license_url, title_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Role, p.FullName, p.Email, p.Phone, nullTime(p.BirthDate),
		nullString(p.CVURL), nullString(p.LicenseURL), nullString(p.TitleURL),
		p.CreatedAt, p.UpdatedAt,
	)
	return wrapError(err, "プロフィールの作成に失敗しました")
}

// Update はプロフィールを更新する。roleは更新しない。
func (r *PostgresProfileRepo) Update(ctx context.Context, p *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET
		    full_name = $2, email = $3, phone = $4, birth_date = $5,
		    cv_url = $6, license_url = $7, title_url = $8, updated_at = $9
		 WHERE id = $1`,
		p.ID, p.FullName, p.Email, p.Phone, nullTime(p.BirthDate),
		nullString(p.CVURL), nullString(p.LicenseURL), nullString(p.TitleURL),
		p.UpdatedAt,
	)
	return wrapError(err, "プロフィールの更新に失敗しました")
}

var _ ProfileRepository = (*PostgresProfileRepo)(nil)
