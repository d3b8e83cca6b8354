package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/recruitman/internal/middleware"
	"github.com/hitoshi/recruitman/internal/realtime"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	EnableHSTS        bool
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder

	// 運用
	HealthChecker HealthChecker
	Metrics       http.Handler

	// ドメインサービス
	ProfileService    ProfileServiceInterface
	JobOfferService   JobOfferServiceInterface
	SelectionService  SelectionServiceInterface
	AssessmentService AssessmentServiceInterface
	DocumentService   DocumentServiceInterface
	InboxService      InboxServiceInterface

	// リアルタイム配信（nilの場合 /api/stream は503）
	Subscriber    realtime.Subscriber
	UploadMaxSize int64
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Auth → RateLimit(General)
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.EnableHSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	profileHandler := NewProfileHandler(deps.ProfileService)
	offerHandler := NewJobOfferHandler(deps.JobOfferService)
	selectionHandler := NewSelectionHandler(deps.SelectionService)
	assessmentHandler := NewAssessmentHandler(deps.AssessmentService)
	documentHandler := NewDocumentHandler(deps.DocumentService, deps.UploadMaxSize)
	inboxHandler := NewInboxHandler(deps.InboxService)
	streamHandler := NewStreamHandler(deps.Subscriber, logger)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Authenticator))

		// SSEは長時間接続のためレート制限の対象外
		r.Get("/api/stream", streamHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.GeneralMiddleware())
			write := deps.RateLimiter.WriteMiddleware()

			// プロフィール
			r.Get("/api/me", profileHandler.Me)
			r.Post("/api/me", profileHandler.Create)
			r.Put("/api/me", profileHandler.Update)
			r.Get("/api/profiles/{id}", profileHandler.Get)

			// 求人
			r.Route("/api/job-offers", func(r chi.Router) {
				r.Get("/", offerHandler.ListOffers)
				r.Post("/", offerHandler.CreateOffer)
				r.Get("/{id}", offerHandler.GetOffer)
				r.Patch("/{id}", offerHandler.UpdateOffer)
				r.Delete("/{id}", offerHandler.DeleteOffer)
			})

			// 応募
			r.Route("/api/applications", func(r chi.Router) {
				r.Get("/", offerHandler.ListApplications)
				r.Post("/", offerHandler.Apply)
				r.Put("/{id}/status", offerHandler.UpdateApplicationStatus)
				r.Delete("/{id}", offerHandler.WithdrawApplication)
			})
			r.Get("/api/activities", offerHandler.ListActivities)

			// 選考プロセスとステージ
			r.Route("/api/selection-processes", func(r chi.Router) {
				r.Get("/", selectionHandler.ListProcesses)
				r.Post("/", selectionHandler.CreateProcess)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", selectionHandler.GetProcess)
					r.Patch("/", selectionHandler.UpdateProcess)
					r.Delete("/", selectionHandler.DeleteProcess)
					r.Get("/stages", selectionHandler.ListStages)
					r.Post("/stages", selectionHandler.AddStage)
				})
			})
			r.Delete("/api/stages/{id}", selectionHandler.DeleteStage)

			// 評価
			r.Route("/api/evaluations", func(r chi.Router) {
				r.Get("/", selectionHandler.ListEvaluations)
				r.Post("/", selectionHandler.CreateEvaluation)
				r.Patch("/{id}", selectionHandler.UpdateEvaluation)
			})
			r.Route("/api/evaluation-templates", func(r chi.Router) {
				r.Get("/", selectionHandler.ListTemplates)
				r.Post("/", selectionHandler.CreateTemplate)
				r.Get("/{id}", selectionHandler.GetTemplate)
				r.Delete("/{id}", selectionHandler.DeleteTemplate)
				r.Post("/{id}/criteria", selectionHandler.AddCriterion)
			})

			// スキル評価
			r.Route("/api/assessments", func(r chi.Router) {
				r.Get("/", assessmentHandler.ListAssessments)
				r.Post("/", assessmentHandler.CreateAssessment)
				r.Get("/{id}", assessmentHandler.GetAssessment)
				r.Get("/{id}/questions", assessmentHandler.ListQuestions)
				r.Post("/{id}/questions", assessmentHandler.AddQuestion)
			})
			r.Route("/api/assessment-results", func(r chi.Router) {
				r.Get("/", assessmentHandler.ListResults)
				r.Post("/", assessmentHandler.StartAttempt)
				r.Patch("/{id}", assessmentHandler.UpdateAttempt)
			})

			// 書類（アップロード系は書き込み用レート制限を追加）
			r.Route("/api/documents", func(r chi.Router) {
				r.Get("/", documentHandler.ListDocuments)
				r.With(write).Post("/", documentHandler.Upload)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", documentHandler.GetDocument)
					r.Patch("/", documentHandler.UpdateDocument)
					r.Delete("/", documentHandler.DeleteDocument)
					r.With(write).Put("/file", documentHandler.ReplaceFile)
					r.Get("/content", documentHandler.Content)
					r.Get("/versions", documentHandler.ListVersions)
					r.Get("/approvals", documentHandler.ListApprovals)
					r.Post("/approvals", documentHandler.Approve)
				})
			})

			// メッセージ・通知
			r.Route("/api/messages", func(r chi.Router) {
				r.Get("/", inboxHandler.ListMessages)
				r.With(write).Post("/", inboxHandler.Send)
				r.Post("/{id}/read", inboxHandler.MarkMessageRead)
			})
			r.Route("/api/notifications", func(r chi.Router) {
				r.Get("/", inboxHandler.ListNotifications)
				r.Post("/{id}/read", inboxHandler.MarkNotificationRead)
			})
			r.Get("/api/email-queue", inboxHandler.ListEmails)
		})
	})

	return r
}
