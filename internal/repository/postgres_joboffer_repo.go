package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/recruitman/internal/database"
	"github.com/hitoshi/recruitman/internal/model"
)

// PostgresJobOfferRepo はPostgreSQLを使用した求人リポジトリ。
type PostgresJobOfferRepo struct {
	db database.DBTX
}

// NewPostgresJobOfferRepo はPostgresJobOfferRepoを生成する。
func NewPostgresJobOfferRepo(db database.DBTX) *PostgresJobOfferRepo {
	return &PostgresJobOfferRepo{db: db}
}

const jobOfferColumns = `id, title, description, requirements, category, work_type,
	status, created_by, created_at, updated_at`

func scanJobOffer(s scanner) (*model.JobOffer, error) {
	o := &model.JobOffer{}
	if err := s.Scan(
		&o.ID, &o.Title, &o.Description, &o.Requirements, &o.Category, &o.WorkType,
		&o.Status, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return o, nil
}

// FindByID は指定IDの求人を取得する。見つからない場合はnilを返す。
func (r *PostgresJobOfferRepo) FindByID(ctx context.Context, id string) (*model.JobOffer, error) {
	o, err := scanJobOffer(r.db.QueryRowContext(ctx,
		`SELECT `+jobOfferColumns+` FROM job_offers WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(err, "求人の取得に失敗しました")
	}
	return o, nil
}

// List は条件に合う求人を新しい順に返す。
func (r *PostgresJobOfferRepo) List(ctx context.Context, q OfferQuery) ([]*model.JobOffer, error) {
	var conds []string
	var args []any
	if q.Status != "" {
		args = append(args, q.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if q.Category != "" {
		args = append(args, q.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}

	query := `SELECT ` + jobOfferColumns + ` FROM job_offers`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err, "求人一覧の取得に失敗しました")
	}
	defer rows.Close()

	var offers []*model.JobOffer
	for rows.Next() {
		o, err := scanJobOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("求人の読み取りに失敗しました: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// Create は求人を作成する。
func (r *PostgresJobOfferRepo) Create(ctx context.Context, o *model.JobOffer) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO job_offers (id, title, description, requirements, category, work_type,
		                         status, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.Title, o.Description, o.Requirements, o.Category, o.WorkType,
		o.Status, o.CreatedBy, o.CreatedAt, o.UpdatedAt,
	)
	return wrapError(err, "求人の作成に失敗しました")
}

// Update は求人を更新する。created_byは更新しない。
func (r *PostgresJobOfferRepo) Update(ctx context.Context, o *model.JobOffer) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE job_offers SET
		    title = $2, description = $3, requirements = $4, category = $5,
		    work_type = $6, status = $7, updated_at = $8
		 WHERE id = $1`,
		o.ID, o.Title, o.Description, o.Requirements, o.Category,
		o.WorkType, o.Status, o.UpdatedAt,
	)
	return wrapError(err, "求人の更新に失敗しました")
}

// Delete は求人を削除する。
func (r *PostgresJobOfferRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM job_offers WHERE id = $1`, id)
	return wrapError(err, "求人の削除に失敗しました")
}

var _ JobOfferRepository = (*PostgresJobOfferRepo)(nil)

// PostgresApplicationRepo はPostgreSQLを使用した応募リポジトリ。
type PostgresApplicationRepo struct {
	db database.DBTX
}

// NewPostgresApplicationRepo はPostgresApplicationRepoを生成する。
func NewPostgresApplicationRepo(db database.DBTX) *PostgresApplicationRepo {
	return &PostgresApplicationRepo{db: db}
}

const applicationColumns = `id, job_offer_id, user_id, status, cover_letter, created_at, updated_at`

func scanApplication(s scanner) (*model.Application, error) {
	a := &model.Application{}
	if err := s.Scan(
		&a.ID, &a.JobOfferID, &a.UserID, &a.Status, &a.CoverLetter, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return a, nil
}

// FindByID は指定IDの応募を取得する。見つからない場合はnilを返す。
func (r *PostgresApplicationRepo) FindByID(ctx context.Context, id string) (*model.Application, error) {
	a, err := scanApplication(r.db.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(err, "応募の取得に失敗しました")
	}
	return a, nil
}

// List は条件に合う応募を新しい順に返す。
func (r *PostgresApplicationRepo) List(ctx context.Context, q ApplicationQuery) ([]*model.Application, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM applications
		 WHERE ($1::text = '' OR user_id::text = $1)
		   AND ($2::text = '' OR job_offer_id::text = $2)
		 ORDER BY created_at DESC`,
		q.UserID, q.JobOfferID,
	)
	if err != nil {
		return nil, wrapError(err, "応募一覧の取得に失敗しました")
	}
	defer rows.Close()

	var apps []*model.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("応募の読み取りに失敗しました: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// Create は応募を作成する。
func (r *PostgresApplicationRepo) Create(ctx context.Context, a *model.Application) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO applications (id, job_offer_id, user_id, status, cover_letter, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.JobOfferID, a.UserID, a.Status, a.CoverLetter, a.CreatedAt, a.UpdatedAt,
	)
	return wrapError(err, "応募の作成に失敗しました")
}

// UpdateStatus は応募のステータスを更新する。
func (r *PostgresApplicationRepo) UpdateStatus(ctx context.Context, a *model.Application) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE applications SET status = $2, updated_at = $3 WHERE id = $1`,
		a.ID, a.Status, a.UpdatedAt,
	)
	return wrapError(err, "応募ステータスの更新に失敗しました")
}

// Delete は応募を削除する。
func (r *PostgresApplicationRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, id)
	return wrapError(err, "応募の削除に失敗しました")
}

var _ ApplicationRepository = (*PostgresApplicationRepo)(nil)

// PostgresActivityRepo はPostgreSQLを使用した活動履歴リポジトリ。
type PostgresActivityRepo struct {
	db database.DBTX
}

// NewPostgresActivityRepo はPostgresActivityRepoを生成する。
func NewPostgresActivityRepo(db database.DBTX) *PostgresActivityRepo {
	return &PostgresActivityRepo{db: db}
}

// Create は活動履歴を追記する。
func (r *PostgresActivityRepo) Create(ctx context.Context, a *model.Activity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activities (id, type, description, actor_id, related_offer_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.Type, a.Description, nullString(a.ActorID), nullString(a.RelatedOfferID), a.CreatedAt,
	)
	return wrapError(err, "活動履歴の作成に失敗しました")
}

// List は活動履歴を新しい順に返す。
func (r *PostgresActivityRepo) List(ctx context.Context, limit int) ([]*model.Activity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, type, description, actor_id, related_offer_id, created_at
		 FROM activities ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, wrapError(err, "活動履歴の取得に失敗しました")
	}
	defer rows.Close()

	var activities []*model.Activity
	for rows.Next() {
		a := &model.Activity{}
		var actorID, offerID sql.NullString
		if err := rows.Scan(&a.ID, &a.Type, &a.Description, &actorID, &offerID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("活動履歴の読み取りに失敗しました: %w", err)
		}
		a.ActorID = nullStringValue(actorID)
		a.RelatedOfferID = nullStringValue(offerID)
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

var _ ActivityRepository = (*PostgresActivityRepo)(nil)
