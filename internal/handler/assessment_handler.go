package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/recruitman/internal/assessment"
	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
)

// AssessmentServiceInterface はスキル評価ハンドラーが必要とするサービスインターフェース。
type AssessmentServiceInterface interface {
	ListAssessments(ctx context.Context, actor policy.Actor) ([]*model.SkillAssessment, error)
	GetAssessment(ctx context.Context, actor policy.Actor, id string) (*model.SkillAssessment, error)
	CreateAssessment(ctx context.Context, actor policy.Actor, in assessment.AssessmentInput) (*model.SkillAssessment, error)
	ListQuestions(ctx context.Context, actor policy.Actor, assessmentID string) ([]*model.AssessmentQuestion, error)
	AddQuestion(ctx context.Context, actor policy.Actor, assessmentID string, in assessment.QuestionInput) (*model.AssessmentQuestion, error)

	ListResults(ctx context.Context, actor policy.Actor, f assessment.ResultFilter) ([]*model.AssessmentResult, error)
	StartAttempt(ctx context.Context, actor policy.Actor, in assessment.StartInput) (*model.AssessmentResult, error)
	UpdateAttempt(ctx context.Context, actor policy.Actor, id string, in assessment.AttemptPatch) (*model.AssessmentResult, error)
}

// AssessmentHandler はスキル評価と受験のHTTPハンドラー。
type AssessmentHandler struct {
	service AssessmentServiceInterface
}

// NewAssessmentHandler はAssessmentHandlerを生成する。
func NewAssessmentHandler(service AssessmentServiceInterface) *AssessmentHandler {
	return &AssessmentHandler{service: service}
}

type createAssessmentRequest struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	TimeLimitMinutes int    `json:"time_limit_minutes"`
	PassingScore     int    `json:"passing_score"`
}

type createQuestionRequest struct {
	Question     string          `json:"question"`
	QuestionType string          `json:"question_type"`
	Options      json.RawMessage `json:"options"`
	Points       int             `json:"points"`
	Position     *int            `json:"position"`
}

type startAttemptRequest struct {
	AssessmentID string `json:"assessment_id"`
	ProcessID    string `json:"process_id"`
}

// updateAttemptRequest は回答の途中保存と提出のリクエスト。
// submitがtrueの場合は採点して受験を完了する。
type updateAttemptRequest struct {
	Answers json.RawMessage `json:"answers"`
	Submit  bool            `json:"submit"`
}

// ListAssessments は参照可能なスキル評価の一覧を返す。
// GET /api/assessments
func (h *AssessmentHandler) ListAssessments(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	as, err := h.service.ListAssessments(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(as, toAssessmentResponse))
}

// GetAssessment はスキル評価の詳細を返す。
// GET /api/assessments/{id}
func (h *AssessmentHandler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	a, err := h.service.GetAssessment(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssessmentResponse(a))
}

// CreateAssessment はスキル評価を作成する。
// POST /api/assessments
func (h *AssessmentHandler) CreateAssessment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createAssessmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.service.CreateAssessment(r.Context(), actor, assessment.AssessmentInput{
		Title:            req.Title,
		Description:      req.Description,
		TimeLimitMinutes: req.TimeLimitMinutes,
		PassingScore:     req.PassingScore,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssessmentResponse(a))
}

// ListQuestions は設問一覧を返す。応募者には正解を含めない。
// GET /api/assessments/{id}/questions
func (h *AssessmentHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	qs, err := h.service.ListQuestions(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(qs, toQuestionResponse))
}

// AddQuestion は設問を追加する。
// POST /api/assessments/{id}/questions
func (h *AssessmentHandler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createQuestionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	q, err := h.service.AddQuestion(r.Context(), actor, chi.URLParam(r, "id"), assessment.QuestionInput{
		Question:     req.Question,
		QuestionType: req.QuestionType,
		Options:      req.Options,
		Points:       req.Points,
		Position:     req.Position,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toQuestionResponse(q))
}

// ListResults は受験結果の一覧を返す。
// GET /api/assessment-results?assessment_id=...&candidate_id=...
func (h *AssessmentHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	rs, err := h.service.ListResults(r.Context(), actor, assessment.ResultFilter{
		AssessmentID: q.Get("assessment_id"),
		CandidateID:  q.Get("candidate_id"),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(rs, toResultResponse))
}

// StartAttempt は受験を開始する。進行中の受験がある場合はそれを返す。
// POST /api/assessment-results
func (h *AssessmentHandler) StartAttempt(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req startAttemptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.service.StartAttempt(r.Context(), actor, assessment.StartInput{
		AssessmentID: req.AssessmentID,
		ProcessID:    req.ProcessID,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResultResponse(res))
}

// UpdateAttempt は回答を保存し、submit指定時は採点して完了する。
// PATCH /api/assessment-results/{id}
func (h *AssessmentHandler) UpdateAttempt(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req updateAttemptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.service.UpdateAttempt(r.Context(), actor, chi.URLParam(r, "id"), assessment.AttemptPatch{
		Answers: req.Answers,
		Submit:  req.Submit,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultResponse(res))
}
