package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/recruitman/internal/database"
	"github.com/hitoshi/recruitman/internal/model"
)

// PostgresDocumentRepo はPostgreSQLを使用した書類リポジトリ。
type PostgresDocumentRepo struct {
	db database.DBTX
}

// NewPostgresDocumentRepo はPostgresDocumentRepoを生成する。
func NewPostgresDocumentRepo(db database.DBTX) *PostgresDocumentRepo {
	return &PostgresDocumentRepo{db: db}
}

const documentColumns = `id, user_id, name, document_type, file_url, status,
	expiry_date, current_version, created_at, updated_at`

func scanDocument(s scanner) (*model.Document, error) {
	d := &model.Document{}
	var expiry sql.NullTime
	if err := s.Scan(
		&d.ID, &d.UserID, &d.Name, &d.DocumentType, &d.FileURL, &d.Status,
		&expiry, &d.CurrentVersion, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.ExpiryDate = nullTimeValue(expiry)
	return d, nil
}

// FindByID は指定IDの書類を取得する。見つからない場合はnilを返す。
func (r *PostgresDocumentRepo) FindByID(ctx context.Context, id string) (*model.Document, error) {
	d, err := scanDocument(r.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(err, "書類の取得に失敗しました")
	}
	return d, nil
}

// List は書類を新しい順に返す。userIDが空の場合は全件を返す。
func (r *PostgresDocumentRepo) List(ctx context.Context, userID string) ([]*model.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE ($1::text = '' OR user_id::text = $1)
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, wrapError(err, "書類一覧の取得に失敗しました")
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("書類の読み取りに失敗しました: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Create は書類を作成する。
func (r *PostgresDocumentRepo) Create(ctx context.Context, d *model.Document) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (id, user_id, name, document_type, file_url, status,
		                        expiry_date, current_version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.UserID, d.Name, d.DocumentType, d.FileURL, d.Status,
		nullTime(d.ExpiryDate), d.CurrentVersion, d.CreatedAt, d.UpdatedAt,
	)
	return wrapError(err, "書類の作成に失敗しました")
}

// Update は書類を更新する。user_idは更新しない。
func (r *PostgresDocumentRepo) Update(ctx context.Context, d *model.Document) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE documents SET
		    name = $2, document_type = $3, file_url = $4, status = $5,
		    expiry_date = $6, current_version = $7, updated_at = $8
		 WHERE id = $1`,
		d.ID, d.Name, d.DocumentType, d.FileURL, d.Status,
		nullTime(d.ExpiryDate), d.CurrentVersion, d.UpdatedAt,
	)
	return wrapError(err, "書類の更新に失敗しました")
}

// Delete は書類を削除する。
func (r *PostgresDocumentRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return wrapError(err, "書類の削除に失敗しました")
}

// AddVersion は書類バージョンを追加する。
func (r *PostgresDocumentRepo) AddVersion(ctx context.Context, v *model.DocumentVersion) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO document_versions (id, document_id, version, file_url, uploaded_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.DocumentID, v.Version, v.FileURL, nullString(v.UploadedBy), v.CreatedAt,
	)
	return wrapError(err, "書類バージョンの作成に失敗しました")
}

// ListVersions は書類バージョンを新しい順に返す。
func (r *PostgresDocumentRepo) ListVersions(ctx context.Context, documentID string) ([]*model.DocumentVersion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, document_id, version, file_url, uploaded_by, created_at
		 FROM document_versions WHERE document_id = $1 ORDER BY version DESC`,
		documentID,
	)
	if err != nil {
		return nil, wrapError(err, "書類バージョンの取得に失敗しました")
	}
	defer rows.Close()

	var versions []*model.DocumentVersion
	for rows.Next() {
		v := &model.DocumentVersion{}
		var uploadedBy sql.NullString
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.Version, &v.FileURL, &uploadedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("書類バージョンの読み取りに失敗しました: %w", err)
		}
		v.UploadedBy = nullStringValue(uploadedBy)
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// AddApproval は承認履歴を追加する。
func (r *PostgresDocumentRepo) AddApproval(ctx context.Context, a *model.DocumentApproval) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO document_approvals (id, document_id, approver_id, status, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.DocumentID, nullString(a.ApproverID), a.Status, a.Comment, a.CreatedAt,
	)
	return wrapError(err, "承認履歴の作成に失敗しました")
}

// ListApprovals は承認履歴を新しい順に返す。
func (r *PostgresDocumentRepo) ListApprovals(ctx context.Context, documentID string) ([]*model.DocumentApproval, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, document_id, approver_id, status, comment, created_at
		 FROM document_approvals WHERE document_id = $1 ORDER BY created_at DESC`,
		documentID,
	)
	if err != nil {
		return nil, wrapError(err, "承認履歴の取得に失敗しました")
	}
	defer rows.Close()

	var approvals []*model.DocumentApproval
	for rows.Next() {
		a := &model.DocumentApproval{}
		var approverID sql.NullString
		if err := rows.Scan(&a.ID, &a.DocumentID, &approverID, &a.Status, &a.Comment, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("承認履歴の読み取りに失敗しました: %w", err)
		}
		a.ApproverID = nullStringValue(approverID)
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

var _ DocumentRepository = (*PostgresDocumentRepo)(nil)
