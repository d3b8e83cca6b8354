package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/recruitman/internal/database"
	"github.com/hitoshi/recruitman/internal/policy"
)

// PostgresRelations はアクセスポリシーが参照する行間の関係を解決する。
type PostgresRelations struct {
	db database.DBTX
}

// NewPostgresRelations はPostgresRelationsを生成する。
func NewPostgresRelations(db database.DBTX) *PostgresRelations {
	return &PostgresRelations{db: db}
}

func (r *PostgresRelations) owner(ctx context.Context, query, id, msg string) (string, error) {
	var owner string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", wrapError(err, msg)
	}
	return owner, nil
}

// ProcessCandidate は選考プロセスの候補者IDを返す。プロセスがない場合は空文字列を返す。
func (r *PostgresRelations) ProcessCandidate(ctx context.Context, processID string) (string, error) {
	return r.owner(ctx,
		`SELECT candidate_id FROM selection_processes WHERE id = $1`,
		processID, "選考プロセスの候補者の取得に失敗しました",
	)
}

// StageCandidate はステージが属する選考プロセスの候補者IDを返す。
func (r *PostgresRelations) StageCandidate(ctx context.Context, stageID string) (string, error) {
	return r.owner(ctx,
		`SELECT sp.candidate_id FROM process_stages ps
		 JOIN selection_processes sp ON sp.id = ps.process_id
		 WHERE ps.id = $1`,
		stageID, "選考ステージの候補者の取得に失敗しました",
	)
}

// DocumentOwner は書類の所有者IDを返す。
func (r *PostgresRelations) DocumentOwner(ctx context.Context, documentID string) (string, error) {
	return r.owner(ctx,
		`SELECT user_id FROM documents WHERE id = $1`,
		documentID, "書類の所有者の取得に失敗しました",
	)
}

// AssessmentAssigned は候補者のいずれかの選考プロセスにスキル評価が割り当てられているかを返す。
func (r *PostgresRelations) AssessmentAssigned(ctx context.Context, candidateID, assessmentID string) (bool, error) {
	var assigned bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM selection_processes
		     WHERE candidate_id = $1 AND $2::uuid = ANY(required_assessments)
		 )`,
		candidateID, assessmentID,
	).Scan(&assigned)
	if err != nil {
		return false, wrapError(err, "スキル評価の割り当て確認に失敗しました")
	}
	return assigned, nil
}

// HasApplied は候補者が求人に応募済みかを返す。
func (r *PostgresRelations) HasApplied(ctx context.Context, candidateID, offerID string) (bool, error) {
	var applied bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM applications WHERE user_id = $1 AND job_offer_id = $2)`,
		candidateID, offerID,
	).Scan(&applied)
	if err != nil {
		return false, wrapError(err, "応募状況の確認に失敗しました")
	}
	return applied, nil
}

var _ policy.Relations = (*PostgresRelations)(nil)
