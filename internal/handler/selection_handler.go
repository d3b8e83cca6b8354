package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
	"github.com/hitoshi/recruitman/internal/selection"
)

// SelectionServiceInterface は選考ハンドラーが必要とするサービスインターフェース。
type SelectionServiceInterface interface {
	ListProcesses(ctx context.Context, actor policy.Actor, f selection.ProcessFilter) ([]*model.SelectionProcess, error)
	GetProcess(ctx context.Context, actor policy.Actor, id string) (*model.SelectionProcess, error)
	CreateProcess(ctx context.Context, actor policy.Actor, in selection.ProcessInput) (*model.SelectionProcess, error)
	UpdateProcess(ctx context.Context, actor policy.Actor, id string, in selection.ProcessPatch) (*model.SelectionProcess, error)
	DeleteProcess(ctx context.Context, actor policy.Actor, id string) error

	ListStages(ctx context.Context, actor policy.Actor, processID string) ([]*model.ProcessStage, error)
	AddStage(ctx context.Context, actor policy.Actor, processID string, in selection.StageInput) (*model.ProcessStage, error)
	DeleteStage(ctx context.Context, actor policy.Actor, id string) error

	ListEvaluations(ctx context.Context, actor policy.Actor, f selection.EvaluationFilter) ([]*model.CandidateEvaluation, error)
	CreateEvaluation(ctx context.Context, actor policy.Actor, in selection.EvaluationInput) (*model.CandidateEvaluation, error)
	UpdateEvaluation(ctx context.Context, actor policy.Actor, id string, in selection.EvaluationPatch) (*model.CandidateEvaluation, error)

	ListTemplates(ctx context.Context, actor policy.Actor) ([]*model.EvaluationTemplate, error)
	GetTemplate(ctx context.Context, actor policy.Actor, id string) (*model.EvaluationTemplate, error)
	CreateTemplate(ctx context.Context, actor policy.Actor, in selection.TemplateInput) (*model.EvaluationTemplate, error)
	DeleteTemplate(ctx context.Context, actor policy.Actor, id string) error
	AddCriterion(ctx context.Context, actor policy.Actor, templateID string, in selection.CriterionInput) (*model.EvaluationCriterion, error)
}

// SelectionHandler は選考プロセス・ステージ・評価のHTTPハンドラー。
type SelectionHandler struct {
	service SelectionServiceInterface
}

// NewSelectionHandler はSelectionHandlerを生成する。
func NewSelectionHandler(service SelectionServiceInterface) *SelectionHandler {
	return &SelectionHandler{service: service}
}

type createProcessRequest struct {
	JobOfferID          string   `json:"job_offer_id"`
	CandidateID         string   `json:"candidate_id"`
	Status              string   `json:"status"`
	RequiredAssessments []string `json:"required_assessments"`
	StartDate           *date    `json:"start_date"`
	EndDate             *date    `json:"end_date"`
}

type updateProcessRequest struct {
	Status              *model.ProcessStatus `json:"status"`
	RequiredAssessments *[]string            `json:"required_assessments"`
	EndDate             *date                `json:"end_date"`
}

type createStageRequest struct {
	Name         string `json:"name"`
	Requirements string `json:"requirements"`
	Position     *int   `json:"position"`
	IsRequired   bool   `json:"is_required"`
}

type createEvaluationRequest struct {
	StageID        string          `json:"stage_id"`
	TemplateID     string          `json:"template_id"`
	Score          int             `json:"score"`
	Status         string          `json:"status"`
	CriteriaScores json.RawMessage `json:"criteria_scores"`
	Notes          string          `json:"notes"`
}

type updateEvaluationRequest struct {
	Score          *int                    `json:"score"`
	Status         *model.EvaluationStatus `json:"status"`
	CriteriaScores json.RawMessage         `json:"criteria_scores"`
	Notes          *string                 `json:"notes"`
}

type createTemplateRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	MaxScore     int    `json:"max_score"`
	PassingScore int    `json:"passing_score"`
}

type createCriterionRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
	MaxScore    int     `json:"max_score"`
}

// ListProcesses は選考プロセス一覧を返す。
// GET /api/selection-processes?candidate_id=...&job_offer_id=...
func (h *SelectionHandler) ListProcesses(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	ps, err := h.service.ListProcesses(r.Context(), actor, selection.ProcessFilter{
		CandidateID: q.Get("candidate_id"),
		JobOfferID:  q.Get("job_offer_id"),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(ps, toProcessResponse))
}

// GetProcess は選考プロセス詳細を返す。
// GET /api/selection-processes/{id}
func (h *SelectionHandler) GetProcess(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetProcess(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProcessResponse(p))
}

// CreateProcess は選考プロセスを作成する。
// POST /api/selection-processes
func (h *SelectionHandler) CreateProcess(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createProcessRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.service.CreateProcess(r.Context(), actor, selection.ProcessInput{
		JobOfferID:          req.JobOfferID,
		CandidateID:         req.CandidateID,
		Status:              model.ProcessStatus(req.Status),
		RequiredAssessments: req.RequiredAssessments,
		StartDate:           req.StartDate.timePtr(),
		EndDate:             req.EndDate.timePtr(),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProcessResponse(p))
}

// UpdateProcess は選考プロセスを部分更新する。
// PATCH /api/selection-processes/{id}
func (h *SelectionHandler) UpdateProcess(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req updateProcessRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.service.UpdateProcess(r.Context(), actor, chi.URLParam(r, "id"), selection.ProcessPatch{
		Status:              req.Status,
		RequiredAssessments: req.RequiredAssessments,
		EndDate:             req.EndDate.timePtr(),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProcessResponse(p))
}

// DeleteProcess は選考プロセスを削除する。
// DELETE /api/selection-processes/{id}
func (h *SelectionHandler) DeleteProcess(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteProcess(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListStages はプロセスのステージを順序どおりに返す。
// GET /api/selection-processes/{id}/stages
func (h *SelectionHandler) ListStages(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	stages, err := h.service.ListStages(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(stages, toStageResponse))
}

// AddStage はプロセスにステージを追加する。
// POST /api/selection-processes/{id}/stages
func (h *SelectionHandler) AddStage(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createStageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := h.service.AddStage(r.Context(), actor, chi.URLParam(r, "id"), selection.StageInput{
		Name:         req.Name,
		Requirements: req.Requirements,
		Position:     req.Position,
		IsRequired:   req.IsRequired,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStageResponse(st))
}

// DeleteStage はステージを削除する。
// DELETE /api/stages/{id}
func (h *SelectionHandler) DeleteStage(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteStage(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEvaluations は評価一覧を返す。
// GET /api/evaluations?stage_id=...&candidate_id=...
func (h *SelectionHandler) ListEvaluations(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	es, err := h.service.ListEvaluations(r.Context(), actor, selection.EvaluationFilter{
		StageID:     q.Get("stage_id"),
		CandidateID: q.Get("candidate_id"),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(es, toEvaluationResponse))
}

// CreateEvaluation はステージの評価を作成する。
// POST /api/evaluations
func (h *SelectionHandler) CreateEvaluation(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createEvaluationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := h.service.CreateEvaluation(r.Context(), actor, selection.EvaluationInput{
		StageID:        req.StageID,
		TemplateID:     req.TemplateID,
		Score:          req.Score,
		Status:         model.EvaluationStatus(req.Status),
		CriteriaScores: req.CriteriaScores,
		Notes:          req.Notes,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEvaluationResponse(e))
}

// UpdateEvaluation は評価を部分更新する。
// PATCH /api/evaluations/{id}
func (h *SelectionHandler) UpdateEvaluation(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req updateEvaluationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := h.service.UpdateEvaluation(r.Context(), actor, chi.URLParam(r, "id"), selection.EvaluationPatch{
		Score:          req.Score,
		Status:         req.Status,
		CriteriaScores: req.CriteriaScores,
		Notes:          req.Notes,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEvaluationResponse(e))
}

// ListTemplates は評価テンプレート一覧を返す。
// GET /api/evaluation-templates
func (h *SelectionHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	ts, err := h.service.ListTemplates(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(ts, toTemplateResponse))
}

// GetTemplate は評価項目を含むテンプレートを返す。
// GET /api/evaluation-templates/{id}
func (h *SelectionHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	t, err := h.service.GetTemplate(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateResponse(t))
}

// CreateTemplate は評価テンプレートを作成する。
// POST /api/evaluation-templates
func (h *SelectionHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createTemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.service.CreateTemplate(r.Context(), actor, selection.TemplateInput{
		Name:         req.Name,
		Description:  req.Description,
		MaxScore:     req.MaxScore,
		PassingScore: req.PassingScore,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateResponse(t))
}

// DeleteTemplate は評価テンプレートを削除する。
// DELETE /api/evaluation-templates/{id}
func (h *SelectionHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteTemplate(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddCriterion はテンプレートに評価項目を追加する。
// POST /api/evaluation-templates/{id}/criteria
func (h *SelectionHandler) AddCriterion(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createCriterionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.service.AddCriterion(r.Context(), actor, chi.URLParam(r, "id"), selection.CriterionInput{
		Name:        req.Name,
		Description: req.Description,
		Weight:      req.Weight,
		MaxScore:    req.MaxScore,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCriterionResponse(c))
}
