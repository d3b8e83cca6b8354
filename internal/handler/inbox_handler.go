package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/recruitman/internal/inbox"
	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
)

// InboxServiceInterface はメッセージ・通知ハンドラーが必要とするサービスインターフェース。
type InboxServiceInterface interface {
	ListMessages(ctx context.Context, actor policy.Actor, limit int) ([]*model.Message, error)
	Send(ctx context.Context, actor policy.Actor, in inbox.SendInput) (*model.Message, error)
	MarkMessageRead(ctx context.Context, actor policy.Actor, id string) (*model.Message, error)
	ListNotifications(ctx context.Context, actor policy.Actor, unreadOnly bool, limit int) ([]*model.Notification, error)
	MarkNotificationRead(ctx context.Context, actor policy.Actor, id string) (*model.Notification, error)
	ListEmails(ctx context.Context, actor policy.Actor, limit int) ([]*model.EmailNotification, error)
}

// InboxHandler はメッセージ・通知・メール送信キューのHTTPハンドラー。
type InboxHandler struct {
	service InboxServiceInterface
}

// NewInboxHandler はInboxHandlerを生成する。
func NewInboxHandler(service InboxServiceInterface) *InboxHandler {
	return &InboxHandler{service: service}
}

type sendMessageRequest struct {
	ReceiverID    string `json:"receiver_id"`
	ApplicationID string `json:"application_id"`
	Content       string `json:"content"`
	AttachmentURL string `json:"attachment_url"`
}

// ListMessages は送受信したメッセージを返す。
// GET /api/messages?limit=50
func (h *InboxHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	ms, err := h.service.ListMessages(r.Context(), actor, queryLimit(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(ms, toMessageResponse))
}

// Send はメッセージを送信する。
// POST /api/messages
func (h *InboxHandler) Send(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.service.Send(r.Context(), actor, inbox.SendInput{
		ReceiverID:    req.ReceiverID,
		ApplicationID: req.ApplicationID,
		Content:       req.Content,
		AttachmentURL: req.AttachmentURL,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(m))
}

// MarkMessageRead は受信メッセージを既読にする。
// POST /api/messages/{id}/read
func (h *InboxHandler) MarkMessageRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	m, err := h.service.MarkMessageRead(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(m))
}

// ListNotifications は通知一覧を返す。
// GET /api/notifications?unread=true&limit=50
func (h *InboxHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	ns, err := h.service.ListNotifications(r.Context(), actor, unread, queryLimit(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(ns, toNotificationResponse))
}

// MarkNotificationRead は通知を既読にする。
// POST /api/notifications/{id}/read
func (h *InboxHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	n, err := h.service.MarkNotificationRead(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNotificationResponse(n))
}

// ListEmails はメール送信キューを返す。採用担当者のみ。
// GET /api/email-queue?limit=50
func (h *InboxHandler) ListEmails(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	es, err := h.service.ListEmails(r.Context(), actor, queryLimit(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(es, toEmailResponse))
}
