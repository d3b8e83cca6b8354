package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/recruitman/internal/database"
	"github.com/hitoshi/recruitman/internal/model"
	"github.com/lib/pq"
)

// PostgresProcessRepo はPostgreSQLを使用した選考プロセスリポジトリ。
type PostgresProcessRepo struct {
	db database.DBTX
}

// NewPostgresProcessRepo はPostgresProcessRepoを生成する。
func NewPostgresProcessRepo(db database.DBTX) *PostgresProcessRepo {
	return &PostgresProcessRepo{db: db}
}

const processColumns = `id, job_offer_id, candidate_id, status, required_assessments,
	completed_assessments, start_date, end_date, created_by, created_at, updated_at`

func scanProcess(s scanner) (*model.SelectionProcess, error) {
	p := &model.SelectionProcess{}
	var required, completed pq.StringArray
	var endDate sql.NullTime
	var createdBy sql.NullString

	if err := s.Scan(
		&p.ID, &p.JobOfferID, &p.CandidateID, &p.Status, &required,
		&completed, &p.StartDate, &endDate, &createdBy, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.RequiredAssessments = []string(required)
	p.CompletedAssessments = []string(completed)
	p.EndDate = nullTimeValue(endDate)
	p.CreatedBy = nullStringValue(createdBy)
	return p, nil
}

// FindByID は指定IDの選考プロセスを取得する。見つからない場合はnilを返す。
func (r *PostgresProcessRepo) FindByID(ctx context.Context, id string) (*model.SelectionProcess, error) {
	p, err := scanProcess(r.db.QueryRowContext(ctx,
		`SELECT `+processColumns+` FROM selection_processes WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(err, "選考プロセスの取得に失敗しました")
	}
	return p, nil
}

// List は条件に合う選考プロセスを新しい順に返す。
func (r *PostgresProcessRepo) List(ctx context.Context, q ProcessQuery) ([]*model.SelectionProcess, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+processColumns+` FROM selection_processes
		 WHERE ($1::text = '' OR candidate_id::text = $1)
		   AND ($2::text = '' OR job_offer_id::text = $2)
		 ORDER BY created_at DESC`,
		q.CandidateID, q.JobOfferID,
	)
	if err != nil {
		return nil, wrapError(err, "選考プロセス一覧の取得に失敗しました")
	}
	defer rows.Close()

	var processes []*model.SelectionProcess
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("選考プロセスの読み取りに失敗しました: %w", err)
		}
		processes = append(processes, p)
	}
	return processes, rows.Err()
}

// Create は選考プロセスを作成する。
func (r *PostgresProcessRepo) Create(ctx context.Context, p *model.SelectionProcess) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO selection_processes (id, job_offer_id, candidate_id, status, required_assessments,
		                                  completed_assessments, start_date, end_date, created_by,
		                                  created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.JobOfferID, p.CandidateID, p.Status, uuidArray(p.RequiredAssessments),
		uuidArray(p.CompletedAssessments), p.StartDate, nullTime(p.EndDate), nullString(p.CreatedBy),
		p.CreatedAt, p.UpdatedAt,
	)
	return wrapError(err, "選考プロセスの作成に失敗しました")
}

// Update は選考プロセスを更新する。
func (r *PostgresProcessRepo) Update(ctx context.Context, p *model.SelectionProcess) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE selection_processes SET
		    status = $2, required_assessments = $3, completed_assessments = $4,
		    end_date = $5, updated_at = $6
		 WHERE id = $1`,
		p.ID, p.Status, uuidArray(p.RequiredAssessments), uuidArray(p.CompletedAssessments),
		nullTime(p.EndDate), p.UpdatedAt,
	)
	return wrapError(err, "選考プロセスの更新に失敗しました")
}

// Delete は選考プロセスを削除する。
func (r *PostgresProcessRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM selection_processes WHERE id = $1`, id)
	return wrapError(err, "選考プロセスの削除に失敗しました")
}

var _ ProcessRepository = (*PostgresProcessRepo)(nil)

// PostgresStageRepo はPostgreSQLを使用した選考ステージリポジトリ。
type PostgresStageRepo struct {
	db database.DBTX
}

// NewPostgresStageRepo はPostgresStageRepoを生成する。
func NewPostgresStageRepo(db database.DBTX) *PostgresStageRepo {
	return &PostgresStageRepo{db: db}
}

const stageColumns = `id, process_id, name, requirements, position, is_required, created_at`

func scanStage(s scanner) (*model.ProcessStage, error) {
	st := &model.ProcessStage{}
	if err := s.Scan(
		&st.ID, &st.ProcessID, &st.Name, &st.Requirements, &st.Position, &st.IsRequired, &st.CreatedAt,
	); err != nil {
		return nil, err
	}
	return st, nil
}

// FindByID は指定IDのステージを取得する。見つからない場合はnilを返す。
func (r *PostgresStageRepo) FindByID(ctx context.Context, id string) (*model.ProcessStage, error) {
	st, err := scanStage(r.db.QueryRowContext(ctx,
		`SELECT `+stageColumns+` FROM process_stages WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(err, "選考ステージの取得に失敗しました")
	}
	return st, nil
}

// ListByProcess はプロセスのステージをposition順に返す。
func (r *PostgresStageRepo) ListByProcess(ctx context.Context, processID string) ([]*model.ProcessStage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+stageColumns+` FROM process_stages WHERE process_id = $1 ORDER BY position, created_at`,
		processID,
	)
	if err != nil {
		return nil, wrapError(err, "選考ステージ一覧の取得に失敗しました")
	}
	defer rows.Close()

	var stages []*model.ProcessStage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("選考ステージの読み取りに失敗しました: %w", err)
		}
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

// Create はステージを作成する。
func (r *PostgresStageRepo) Create(ctx context.Context, st *model.ProcessStage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO process_stages (id, process_id, name, requirements, position, is_required, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		st.ID, st.ProcessID, st.Name, st.Requirements, st.Position, st.IsRequired, st.CreatedAt,
	)
	return wrapError(err, "選考ステージの作成に失敗しました")
}

// Delete はステージを削除する。
func (r *PostgresStageRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM process_stages WHERE id = $1`, id)
	return wrapError(err, "選考ステージの削除に失敗しました")
}

var _ StageRepository = (*PostgresStageRepo)(nil)

// PostgresEvaluationRepo はPostgreSQLを使用した候補者評価リポジトリ。
type PostgresEvaluationRepo struct {
	db database.DBTX
}

// NewPostgresEvaluationRepo はPostgresEvaluationRepoを生成する。
func NewPostgresEvaluationRepo(db database.DBTX) *PostgresEvaluationRepo {
	return &PostgresEvaluationRepo{db: db}
}

const evaluationColumns = `id, stage_id, candidate_id, evaluator_id, template_id, score,
	status, criteria_scores, notes, created_at, updated_at`

func scanEvaluation(s scanner) (*model.CandidateEvaluation, error) {
	e := &model.CandidateEvaluation{}
	var evaluatorID, templateID sql.NullString
	var criteria []byte

	if err := s.Scan(
		&e.ID, &e.StageID, &e.CandidateID, &evaluatorID, &templateID, &e.Score,
		&e.Status, &criteria, &e.Notes, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	e.EvaluatorID = nullStringValue(evaluatorID)
	e.TemplateID = nullStringValue(templateID)
	e.CriteriaScores = criteria
	return e, nil
}

// FindByID は指定IDの評価を取得する。見つからない場合はnilを返す。
func (r *PostgresEvaluationRepo) FindByID(ctx context.Context, id string) (*model.CandidateEvaluation, error) {
	e, err := scanEvaluation(r.db.QueryRowContext(ctx,
		`SELECT `+evaluationColumns+` FROM candidate_evaluations WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(err, "評価の取得に失敗しました")
	}
	return e, nil
}

// List は条件に合う評価を新しい順に返す。
func (r *PostgresEvaluationRepo) List(ctx context.Context, q EvaluationQuery) ([]*model.CandidateEvaluation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+evaluationColumns+` FROM candidate_evaluations
		 WHERE ($1::text = '' OR stage_id::text = $1)
		   AND ($2::text = '' OR candidate_id::text = $2)
		 ORDER BY created_at DESC`,
		q.StageID, q.CandidateID,
	)
	if err != nil {
		return nil, wrapError(err, "評価一覧の取得に失敗しました")
	}
	defer rows.Close()

	var evaluations []*model.CandidateEvaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("評価の読み取りに失敗しました: %w", err)
		}
		evaluations = append(evaluations, e)
	}
	return evaluations, rows.Err()
}

// Create は評価を作成する。
func (r *PostgresEvaluationRepo) Create(ctx context.Context, e *model.CandidateEvaluation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO candidate_evaluations (id, stage_id, candidate_id, evaluator_id, template_id, score,
		                                    status, criteria_scores, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.StageID, e.CandidateID, nullString(e.EvaluatorID), nullString(e.TemplateID), e.Score,
		e.Status, jsonParam(e.CriteriaScores, "{}"), e.Notes, e.CreatedAt, e.UpdatedAt,
	)
	return wrapError(err, "評価の作成に失敗しました")
}

// Update は評価を更新する。
func (r *PostgresEvaluationRepo) Update(ctx context.Context, e *model.CandidateEvaluation) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE candidate_evaluations SET
		    evaluator_id = $2, template_id = $3, score = $4, status = $5,
		    criteria_scores = $6, notes = $7, updated_at = $8
		 WHERE id = $1`,
		e.ID, nullString(e.EvaluatorID), nullString(e.TemplateID), e.Score, e.Status,
		jsonParam(e.CriteriaScores, "{}"), e.Notes, e.UpdatedAt,
	)
	return wrapError(err, "評価の更新に失敗しました")
}

var _ EvaluationRepository = (*PostgresEvaluationRepo)(nil)

// PostgresTemplateRepo はPostgreSQLを使用した評価テンプレートリポジトリ。
type PostgresTemplateRepo struct {
	db database.DBTX
}

// NewPostgresTemplateRepo はPostgresTemplateRepoを生成する。
func NewPostgresTemplateRepo(db database.DBTX) *PostgresTemplateRepo {
	return &PostgresTemplateRepo{db: db}
}

const templateColumns = `id, name, description, max_score, passing_score, created_by, created_at`

func scanTemplate(s scanner) (*model.EvaluationTemplate, error) {
	t := &model.EvaluationTemplate{}
	var createdBy sql.NullString
	if err := s.Scan(
		&t.ID, &t.Name, &t.Description, &t.MaxScore, &t.PassingScore, &createdBy, &t.CreatedAt,
	); err != nil {
		return nil, err
	}
	t.CreatedBy = nullStringValue(createdBy)
	return t, nil
}

// FindByID は指定IDのテンプレートを評価基準付きで取得する。見つからない場合はnilを返す。
func (r *PostgresTemplateRepo) FindByID(ctx context.Context, id string) (*model.EvaluationTemplate, error) {
	t, err := scanTemplate(r.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM evaluation_templates WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(err, "評価テンプレートの取得に失敗しました")
	}

	criteria, err := r.listCriteria(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Criteria = criteria
	return t, nil
}

// List はテンプレートを名前順に返す。評価基準は含まない。
func (r *PostgresTemplateRepo) List(ctx context.Context) ([]*model.EvaluationTemplate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM evaluation_templates ORDER BY name`,
	)
	if err != nil {
		return nil, wrapError(err, "評価テンプレート一覧の取得に失敗しました")
	}
	defer rows.Close()

	var templates []*model.EvaluationTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("評価テンプレートの読み取りに失敗しました: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func (r *PostgresTemplateRepo) listCriteria(ctx context.Context, templateID string) ([]model.EvaluationCriterion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, template_id, name, description, weight, max_score
		 FROM evaluation_criteria WHERE template_id = $1 ORDER BY name`,
		templateID,
	)
	if err != nil {
		return nil, wrapError(err, "評価基準の取得に失敗しました")
	}
	defer rows.Close()

	var criteria []model.EvaluationCriterion
	for rows.Next() {
		var c model.EvaluationCriterion
		if err := rows.Scan(&c.ID, &c.TemplateID, &c.Name, &c.Description, &c.Weight, &c.MaxScore); err != nil {
			return nil, fmt.Errorf("評価基準の読み取りに失敗しました: %w", err)
		}
		criteria = append(criteria, c)
	}
	return criteria, rows.Err()
}

// Create はテンプレートを作成する。Criteriaは別途AddCriterionで追加する。
func (r *PostgresTemplateRepo) Create(ctx context.Context, t *model.EvaluationTemplate) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO evaluation_templates (id, name, description, max_score, passing_score, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, t.Description, t.MaxScore, t.PassingScore, nullString(t.CreatedBy), t.CreatedAt,
	)
	return wrapError(err, "評価テンプレートの作成に失敗しました")
}

// Delete はテンプレートを削除する。
func (r *PostgresTemplateRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM evaluation_templates WHERE id = $1`, id)
	return wrapError(err, "評価テンプレートの削除に失敗しました")
}

// AddCriterion は評価基準を追加する。
func (r *PostgresTemplateRepo) AddCriterion(ctx context.Context, c *model.EvaluationCriterion) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO evaluation_criteria (id, template_id, name, description, weight, max_score)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.TemplateID, c.Name, c.Description, c.Weight, c.MaxScore,
	)
	return wrapError(err, "評価基準の作成に失敗しました")
}

var _ TemplateRepository = (*PostgresTemplateRepo)(nil)
