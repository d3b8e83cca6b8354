package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
	"github.com/hitoshi/recruitman/internal/profile"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Me(ctx context.Context, actor policy.Actor) (*model.Profile, error)
	Get(ctx context.Context, actor policy.Actor, id string) (*model.Profile, error)
	Create(ctx context.Context, actor policy.Actor, in profile.CreateInput) (*model.Profile, error)
	Update(ctx context.Context, actor policy.Actor, in profile.UpdateInput) (*model.Profile, error)
}

// ProfileHandler はプロフィール管理のHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

type createProfileRequest struct {
	Role       string `json:"role"`
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	BirthDate  *date  `json:"birth_date"`
	CVURL      string `json:"cv_url"`
	LicenseURL string `json:"license_url"`
	TitleURL   string `json:"title_url"`
}

type updateProfileRequest struct {
	Role       *model.Role `json:"role"`
	FullName   *string     `json:"full_name"`
	Email      *string     `json:"email"`
	Phone      *string     `json:"phone"`
	BirthDate  *date       `json:"birth_date"`
	CVURL      *string     `json:"cv_url"`
	LicenseURL *string     `json:"license_url"`
	TitleURL   *string     `json:"title_url"`
}

// Me は実行者自身のプロフィールを返す。
// GET /api/me
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	p, err := h.service.Me(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// Create は初回ログイン時のプロフィールを作成する。
// POST /api/me
func (h *ProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.service.Create(r.Context(), actor, profile.CreateInput{
		Role:       model.Role(req.Role),
		FullName:   req.FullName,
		Email:      req.Email,
		Phone:      req.Phone,
		BirthDate:  req.BirthDate.timePtr(),
		CVURL:      req.CVURL,
		LicenseURL: req.LicenseURL,
		TitleURL:   req.TitleURL,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfileResponse(p))
}

// Update は実行者自身のプロフィールを部分更新する。
// PUT /api/me
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.service.Update(r.Context(), actor, profile.UpdateInput{
		Role:       req.Role,
		FullName:   req.FullName,
		Email:      req.Email,
		Phone:      req.Phone,
		BirthDate:  req.BirthDate.timePtr(),
		CVURL:      req.CVURL,
		LicenseURL: req.LicenseURL,
		TitleURL:   req.TitleURL,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// Get は指定されたプロフィールを返す。
// GET /api/profiles/{id}
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// SetupProfileRoutes はプロフィール関連のルーティングを設定したchi.Routerを返す。
// 実行者はミドルウェアで注入済みであることを前提とする。
func SetupProfileRoutes(service ProfileServiceInterface) http.Handler {
	r := chi.NewRouter()
	h := NewProfileHandler(service)
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.Me)
		r.Post("/me", h.Create)
		r.Put("/me", h.Update)
		r.Get("/profiles/{id}", h.Get)
	})
	return r
}
