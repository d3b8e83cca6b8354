package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/recruitman/internal/document"
	"github.com/hitoshi/recruitman/internal/middleware"
	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
)

// multipartOverhead はファイル本体以外のフォームフィールドに許容するバイト数。
const multipartOverhead = 1 << 20

// DocumentServiceInterface は書類ハンドラーが必要とするサービスインターフェース。
type DocumentServiceInterface interface {
	ListDocuments(ctx context.Context, actor policy.Actor, userID string) ([]*model.Document, error)
	GetDocument(ctx context.Context, actor policy.Actor, id string) (*model.Document, error)
	Upload(ctx context.Context, actor policy.Actor, in document.UploadInput) (*model.Document, error)
	ReplaceFile(ctx context.Context, actor policy.Actor, id string, in document.FileInput) (*model.Document, error)
	UpdateDocument(ctx context.Context, actor policy.Actor, id string, in document.DocumentPatch) (*model.Document, error)
	DeleteDocument(ctx context.Context, actor policy.Actor, id string) error
	Content(ctx context.Context, actor policy.Actor, id string, version int) (*document.File, error)

	ListVersions(ctx context.Context, actor policy.Actor, documentID string) ([]*model.DocumentVersion, error)
	ListApprovals(ctx context.Context, actor policy.Actor, documentID string) ([]*model.DocumentApproval, error)
	Approve(ctx context.Context, actor policy.Actor, documentID string, in document.ApprovalInput) (*model.DocumentApproval, error)
}

// DocumentHandler は書類管理のHTTPハンドラー。
type DocumentHandler struct {
	service DocumentServiceInterface
	maxSize int64
}

// NewDocumentHandler はDocumentHandlerを生成する。
// maxSizeはアップロードファイルの上限バイト数で、0以下の場合は既定値を使う。
func NewDocumentHandler(service DocumentServiceInterface, maxSize int64) *DocumentHandler {
	if maxSize <= 0 {
		maxSize = document.DefaultMaxSize
	}
	return &DocumentHandler{service: service, maxSize: maxSize}
}

type updateDocumentRequest struct {
	Name         *string `json:"name"`
	DocumentType *string `json:"document_type"`
	ExpiryDate   *date   `json:"expiry_date"`
}

type approvalRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
}

// ListDocuments は書類一覧を返す。採用担当者はuser_idで絞り込める。
// GET /api/documents?user_id=...
func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	ds, err := h.service.ListDocuments(r.Context(), actor, r.URL.Query().Get("user_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(ds, toDocumentResponse))
}

// GetDocument は書類のメタデータを返す。
// GET /api/documents/{id}
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	d, err := h.service.GetDocument(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(d))
}

// Upload はmultipart/form-dataで書類をアップロードする。
// POST /api/documents (name, document_type, expiry_date, file)
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	file, closeFn, ok := h.readFile(w, r)
	if !ok {
		return
	}
	defer closeFn()

	expiry, err := parseFormDate(r.FormValue("expiry_date"))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("expiry_date", "日付の形式が不正です"))
		return
	}

	d, err := h.service.Upload(r.Context(), actor, document.UploadInput{
		Name:         r.FormValue("name"),
		DocumentType: r.FormValue("document_type"),
		ExpiryDate:   expiry,
		File:         file,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentResponse(d))
}

// ReplaceFile は書類ファイルを差し替えて新しい版を作成する。
// PUT /api/documents/{id}/file
func (h *DocumentHandler) ReplaceFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	file, closeFn, ok := h.readFile(w, r)
	if !ok {
		return
	}
	defer closeFn()

	d, err := h.service.ReplaceFile(r.Context(), actor, chi.URLParam(r, "id"), file)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(d))
}

// UpdateDocument は書類のメタデータを部分更新する。
// PATCH /api/documents/{id}
func (h *DocumentHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req updateDocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := h.service.UpdateDocument(r.Context(), actor, chi.URLParam(r, "id"), document.DocumentPatch{
		Name:         req.Name,
		DocumentType: req.DocumentType,
		ExpiryDate:   req.ExpiryDate.timePtr(),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(d))
}

// DeleteDocument は書類を削除する。
// DELETE /api/documents/{id}
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteDocument(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Content は書類ファイルの本体を返す。versionを省略した場合は最新版。
// GET /api/documents/{id}/content?version=1
func (h *DocumentHandler) Content(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	version := 0
	if v := r.URL.Query().Get("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("version", "版番号が不正です"))
			return
		}
		version = n
	}

	f, err := h.service.Content(r.Context(), actor, chi.URLParam(r, "id"), version)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	defer f.Body.Close()

	contentType := mime.TypeByExtension(path.Ext(f.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Name}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f.Body); err != nil {
		slog.Warn("書類ファイルの送信に失敗しました",
			slog.String("document_id", chi.URLParam(r, "id")),
			slog.String("error", err.Error()),
		)
	}
}

// ListVersions は書類の版履歴を返す。
// GET /api/documents/{id}/versions
func (h *DocumentHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	vs, err := h.service.ListVersions(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(vs, toVersionResponse))
}

// ListApprovals は書類の承認履歴を返す。
// GET /api/documents/{id}/approvals
func (h *DocumentHandler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	as, err := h.service.ListApprovals(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(as, toApprovalResponse))
}

// Approve は書類を承認または却下する。
// POST /api/documents/{id}/approvals
func (h *DocumentHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req approvalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.service.Approve(r.Context(), actor, chi.URLParam(r, "id"), document.ApprovalInput{
		Status:  model.DocumentStatus(req.Status),
		Comment: req.Comment,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toApprovalResponse(a))
}

// readFile はmultipartフォームのfileフィールドを取り出す。
// 失敗時はエラーレスポンスを書き込みfalseを返す。
func (h *DocumentHandler) readFile(w http.ResponseWriter, r *http.Request) (document.FileInput, func(), bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("file", "ファイルサイズが上限を超えています"))
			return document.FileInput{}, nil, false
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return document.FileInput{}, nil, false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("file", "ファイルは必須です"))
		return document.FileInput{}, nil, false
	}
	closeFn := func() {
		f.Close()
		if r.MultipartForm != nil {
			r.MultipartForm.RemoveAll()
		}
	}
	return document.FileInput{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        f,
	}, closeFn, true
}
