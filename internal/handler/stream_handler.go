package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/recruitman/internal/middleware"
	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/realtime"
)

// defaultHeartbeat はSSE接続を維持するコメント行の送信間隔。
const defaultHeartbeat = 25 * time.Second

// StreamHandler は利用者宛ての変更通知をServer-Sent Eventsで中継する。
type StreamHandler struct {
	subscriber realtime.Subscriber
	logger     *slog.Logger
	heartbeat  time.Duration
}

// NewStreamHandler はStreamHandlerを生成する。
// subscriberがnilの場合、ストリームは503を返し、クライアントは通知一覧のポーリングに切り替える。
func NewStreamHandler(subscriber realtime.Subscriber, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{subscriber: subscriber, logger: logger, heartbeat: defaultHeartbeat}
}

// Stream は接続が切れるまでイベントを送り続ける。
// GET /api/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := actor.RequireProfile(); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if h.subscriber == nil {
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
			Code:     "REALTIME_UNAVAILABLE",
			Message:  "リアルタイム配信は利用できません。",
			Category: "system",
			Action:   "通知一覧を定期的に取得してください。",
		})
		return
	}

	events, cancel, err := h.subscriber.Subscribe(r.Context(), actor.ID)
	if err != nil {
		h.logger.Error("リアルタイム購読に失敗しました",
			slog.String("actor_id", actor.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamError("リアルタイム配信"))
		return
	}
	defer cancel()

	rc := http.NewResponseController(w)
	// サーバー全体の書き込みタイムアウトを長時間接続には適用しない
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("SSEのフラッシュに失敗しました", slog.String("error", err.Error()))
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
