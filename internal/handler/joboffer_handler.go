package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/recruitman/internal/joboffer"
	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
)

// JobOfferServiceInterface は求人・応募ハンドラーが必要とするサービスインターフェース。
type JobOfferServiceInterface interface {
	ListOffers(ctx context.Context, actor policy.Actor, f joboffer.OfferFilter) ([]*model.JobOffer, error)
	GetOffer(ctx context.Context, actor policy.Actor, id string) (*model.JobOffer, error)
	CreateOffer(ctx context.Context, actor policy.Actor, in joboffer.OfferInput) (*model.JobOffer, error)
	UpdateOffer(ctx context.Context, actor policy.Actor, id string, in joboffer.OfferPatch) (*model.JobOffer, error)
	DeleteOffer(ctx context.Context, actor policy.Actor, id string) error
	ListActivities(ctx context.Context, actor policy.Actor, limit int) ([]*model.Activity, error)

	ListApplications(ctx context.Context, actor policy.Actor, jobOfferID string) ([]*model.Application, error)
	Apply(ctx context.Context, actor policy.Actor, in joboffer.ApplyInput) (*model.Application, error)
	UpdateApplicationStatus(ctx context.Context, actor policy.Actor, id string, status model.ApplicationStatus) (*model.Application, error)
	WithdrawApplication(ctx context.Context, actor policy.Actor, id string) error
}

// JobOfferHandler は求人と応募のHTTPハンドラー。
type JobOfferHandler struct {
	service JobOfferServiceInterface
}

// NewJobOfferHandler はJobOfferHandlerを生成する。
func NewJobOfferHandler(service JobOfferServiceInterface) *JobOfferHandler {
	return &JobOfferHandler{service: service}
}

type createOfferRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Requirements string `json:"requirements"`
	Category     string `json:"category"`
	WorkType     string `json:"work_type"`
	Status       string `json:"status"`
}

type updateOfferRequest struct {
	Title        *string            `json:"title"`
	Description  *string            `json:"description"`
	Requirements *string            `json:"requirements"`
	Category     *string            `json:"category"`
	WorkType     *string            `json:"work_type"`
	Status       *model.OfferStatus `json:"status"`
}

type applyRequest struct {
	JobOfferID  string `json:"job_offer_id"`
	CoverLetter string `json:"cover_letter"`
}

type applicationStatusRequest struct {
	Status string `json:"status"`
}

// ListOffers は求人一覧を返す。
// GET /api/job-offers?status=open&category=engineering
func (h *JobOfferHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	offers, err := h.service.ListOffers(r.Context(), actor, joboffer.OfferFilter{
		Status:   model.OfferStatus(q.Get("status")),
		Category: q.Get("category"),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(offers, toJobOfferResponse))
}

// GetOffer は求人詳細を返す。
// GET /api/job-offers/{id}
func (h *JobOfferHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	o, err := h.service.GetOffer(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobOfferResponse(o))
}

// CreateOffer は求人を作成する。
// POST /api/job-offers
func (h *JobOfferHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createOfferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	o, err := h.service.CreateOffer(r.Context(), actor, joboffer.OfferInput{
		Title:        req.Title,
		Description:  req.Description,
		Requirements: req.Requirements,
		Category:     req.Category,
		WorkType:     req.WorkType,
		Status:       model.OfferStatus(req.Status),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobOfferResponse(o))
}

// UpdateOffer は求人を部分更新する。
// PATCH /api/job-offers/{id}
func (h *JobOfferHandler) UpdateOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req updateOfferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	o, err := h.service.UpdateOffer(r.Context(), actor, chi.URLParam(r, "id"), joboffer.OfferPatch{
		Title:        req.Title,
		Description:  req.Description,
		Requirements: req.Requirements,
		Category:     req.Category,
		WorkType:     req.WorkType,
		Status:       req.Status,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobOfferResponse(o))
}

// DeleteOffer は求人を削除する。
// DELETE /api/job-offers/{id}
func (h *JobOfferHandler) DeleteOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteOffer(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListActivities は監査ログを新しい順に返す。
// GET /api/activities?limit=50
func (h *JobOfferHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	acts, err := h.service.ListActivities(r.Context(), actor, queryLimit(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(acts, toActivityResponse))
}

// ListApplications は応募一覧を返す。応募者には自身の応募のみ返る。
// GET /api/applications?job_offer_id=...
func (h *JobOfferHandler) ListApplications(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	apps, err := h.service.ListApplications(r.Context(), actor, r.URL.Query().Get("job_offer_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(apps, toApplicationResponse))
}

// Apply は求人に応募する。
// POST /api/applications
func (h *JobOfferHandler) Apply(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req applyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.service.Apply(r.Context(), actor, joboffer.ApplyInput{
		JobOfferID:  req.JobOfferID,
		CoverLetter: req.CoverLetter,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toApplicationResponse(a))
}

// UpdateApplicationStatus は応募ステータスを変更する。
// PUT /api/applications/{id}/status
func (h *JobOfferHandler) UpdateApplicationStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req applicationStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.service.UpdateApplicationStatus(r.Context(), actor, chi.URLParam(r, "id"), model.ApplicationStatus(req.Status))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationResponse(a))
}

// WithdrawApplication は応募を取り下げる。
// DELETE /api/applications/{id}
func (h *JobOfferHandler) WithdrawApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := h.service.WithdrawApplication(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
