package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/recruitman/internal/database"
	"github.com/hitoshi/recruitman/internal/model"
)

// PostgresAssessmentRepo はPostgreSQLを使用したスキル評価リポジトリ。
type PostgresAssessmentRepo struct {
	db database.DBTX
}

// NewPostgresAssessmentRepo はPostgresAssessmentRepoを生成する。
func NewPostgresAssessmentRepo(db database.DBTX) *PostgresAssessmentRepo {
	return &PostgresAssessmentRepo{db: db}
}

const assessmentColumns = `id, title, description, time_limit_minutes, passing_score, created_by, created_at`

func scanAssessment(s scanner) (*model.SkillAssessment, error) {
	a := &model.SkillAssessment{}
	var createdBy sql.NullString
	if err := s.Scan(
		&a.ID, &a.Title, &a.Description, &a.TimeLimitMinutes, &a.PassingScore, &createdBy, &a.CreatedAt,
	); err != nil {
		return nil, err
	}
	a.CreatedBy = nullStringValue(createdBy)
	return a, nil
}

// FindByID は指定IDのスキル評価を取得する。見つからない場合はnilを返す。
func (r *PostgresAssessmentRepo) FindByID(ctx context.Context, id string) (*model.SkillAssessment, error) {
	a, err := scanAssessment(r.db.QueryRowContext(ctx,
		`SELECT `+assessmentColumns+` FROM skill_assessments WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(err, "スキル評価の取得に失敗しました")
	}
	return a, nil
}

// List はスキル評価を新しい順に返す。
func (r *PostgresAssessmentRepo) List(ctx context.Context) ([]*model.SkillAssessment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+assessmentColumns+` FROM skill_assessments ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, wrapError(err, "スキル評価一覧の取得に失敗しました")
	}
	defer rows.Close()

	var assessments []*model.SkillAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("スキル評価の読み取りに失敗しました: %w", err)
		}
		assessments = append(assessments, a)
	}
	return assessments, rows.Err()
}

// Create はスキル評価を作成する。
func (r *PostgresAssessmentRepo) Create(ctx context.Context, a *model.SkillAssessment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO skill_assessments (id, title, description, time_limit_minutes, passing_score, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Title, a.Description, a.TimeLimitMinutes, a.PassingScore, nullString(a.CreatedBy), a.CreatedAt,
	)
	return wrapError(err, "スキル評価の作成に失敗しました")
}

// ListQuestions は設問をposition順に返す。
func (r *PostgresAssessmentRepo) ListQuestions(ctx context.Context, assessmentID string) ([]*model.AssessmentQuestion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, assessment_id, question, question_type, options, points, position
		 FROM assessment_questions WHERE assessment_id = $1 ORDER BY position`,
		assessmentID,
	)
	if err != nil {
		return nil, wrapError(err, "設問の取得に失敗しました")
	}
	defer rows.Close()

	var questions []*model.AssessmentQuestion
	for rows.Next() {
		q := &model.AssessmentQuestion{}
		var options []byte
		if err := rows.Scan(&q.ID, &q.AssessmentID, &q.Question, &q.QuestionType, &options, &q.Points, &q.Position); err != nil {
			return nil, fmt.Errorf("設問の読み取りに失敗しました: %w", err)
		}
		q.Options = options
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// AddQuestion は設問を追加する。
func (r *PostgresAssessmentRepo) AddQuestion(ctx context.Context, q *model.AssessmentQuestion) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO assessment_questions (id, assessment_id, question, question_type, options, points, position)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		q.ID, q.AssessmentID, q.Question, q.QuestionType, jsonParam(q.Options, "[]"), q.Points, q.Position,
	)
	return wrapError(err, "設問の作成に失敗しました")
}

var _ AssessmentRepository = (*PostgresAssessmentRepo)(nil)

// PostgresResultRepo はPostgreSQLを使用した受験結果リポジトリ。
type PostgresResultRepo struct {
	db database.DBTX
}

// NewPostgresResultRepo はPostgresResultRepoを生成する。
func NewPostgresResultRepo(db database.DBTX) *PostgresResultRepo {
	return &PostgresResultRepo{db: db}
}

const resultColumns = `id, assessment_id, candidate_id, process_id, status, answers, score, start_time, end_time`

func scanResult(s scanner) (*model.AssessmentResult, error) {
	res := &model.AssessmentResult{}
	var processID sql.NullString
	var answers []byte
	var score sql.NullInt64
	var endTime sql.NullTime

	if err := s.Scan(
		&res.ID, &res.AssessmentID, &res.CandidateID, &processID, &res.Status,
		&answers, &score, &res.StartTime, &endTime,
	); err != nil {
		return nil, err
	}

	res.ProcessID = nullStringValue(processID)
	res.Answers = answers
	if score.Valid {
		v := int(score.Int64)
		res.Score = &v
	}
	res.EndTime = nullTimeValue(endTime)
	return res, nil
}

// FindByID は指定IDの受験結果を取得する。見つからない場合はnilを返す。
func (r *PostgresResultRepo) FindByID(ctx context.Context, id string) (*model.AssessmentResult, error) {
	res, err := scanResult(r.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM assessment_results WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(err, "受験結果の取得に失敗しました")
	}
	return res, nil
}

// List は条件に合う受験結果を新しい順に返す。
func (r *PostgresResultRepo) List(ctx context.Context, q ResultQuery) ([]*model.AssessmentResult, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM assessment_results
		 WHERE ($1::text = '' OR candidate_id::text = $1)
		   AND ($2::text = '' OR assessment_id::text = $2)
		 ORDER BY start_time DESC`,
		q.CandidateID, q.AssessmentID,
	)
	if err != nil {
		return nil, wrapError(err, "受験結果一覧の取得に失敗しました")
	}
	defer rows.Close()

	var results []*model.AssessmentResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("受験結果の読み取りに失敗しました: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// Create は受験結果を作成する。
func (r *PostgresResultRepo) Create(ctx context.Context, res *model.AssessmentResult) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO assessment_results (id, assessment_id, candidate_id, process_id, status,
		                                 answers, score, start_time, end_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		res.ID, res.AssessmentID, res.CandidateID, nullString(res.ProcessID), res.Status,
		jsonParam(res.Answers, "{}"), res.Score, res.StartTime, nullTime(res.EndTime),
	)
	return wrapError(err, "受験結果の作成に失敗しました")
}

// Update は受験結果を更新する。
func (r *PostgresResultRepo) Update(ctx context.Context, res *model.AssessmentResult) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE assessment_results SET status = $2, answers = $3, score = $4, end_time = $5
		 WHERE id = $1`,
		res.ID, res.Status, jsonParam(res.Answers, "{}"), res.Score, nullTime(res.EndTime),
	)
	return wrapError(err, "受験結果の更新に失敗しました")
}

// ExpireOverdue は制限時間を過ぎた受験中の結果をexpiredにする。
func (r *PostgresResultRepo) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE assessment_results ar SET status = 'expired', end_time = $1
		 FROM skill_assessments sa
		 WHERE ar.assessment_id = sa.id
		   AND ar.status = 'in_progress'
		   AND ar.start_time + make_interval(mins => sa.time_limit_minutes) < $1`,
		now,
	)
	if err != nil {
		return 0, wrapError(err, "期限切れ受験結果の更新に失敗しました")
	}
	return result.RowsAffected()
}

var _ ResultRepository = (*PostgresResultRepo)(nil)
