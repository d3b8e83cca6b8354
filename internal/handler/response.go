package handler

import (
	"encoding/json"
	"time"

	"github.com/hitoshi/recruitman/internal/model"
)

// --- レスポンス型 ---

type profileResponse struct {
	ID         string     `json:"id"`
	Role       string     `json:"role"`
	FullName   string     `json:"full_name"`
	Email      string     `json:"email,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	BirthDate  *time.Time `json:"birth_date,omitempty"`
	CVURL      string     `json:"cv_url,omitempty"`
	LicenseURL string     `json:"license_url,omitempty"`
	TitleURL   string     `json:"title_url,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type jobOfferResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Requirements string    `json:"requirements"`
	Category     string    `json:"category"`
	WorkType     string    `json:"work_type"`
	Status       string    `json:"status"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type applicationResponse struct {
	ID          string    `json:"id"`
	JobOfferID  string    `json:"job_offer_id"`
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"`
	CoverLetter string    `json:"cover_letter"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type activityResponse struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Description    string    `json:"description"`
	ActorID        string    `json:"actor_id"`
	RelatedOfferID string    `json:"related_offer_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type processResponse struct {
	ID                   string     `json:"id"`
	JobOfferID           string     `json:"job_offer_id"`
	CandidateID          string     `json:"candidate_id"`
	Status               string     `json:"status"`
	RequiredAssessments  []string   `json:"required_assessments"`
	CompletedAssessments []string   `json:"completed_assessments"`
	StartDate            time.Time  `json:"start_date"`
	EndDate              *time.Time `json:"end_date,omitempty"`
	CreatedBy            string     `json:"created_by"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

type stageResponse struct {
	ID           string    `json:"id"`
	ProcessID    string    `json:"process_id"`
	Name         string    `json:"name"`
	Requirements string    `json:"requirements"`
	Position     int       `json:"position"`
	IsRequired   bool      `json:"is_required"`
	CreatedAt    time.Time `json:"created_at"`
}

type evaluationResponse struct {
	ID             string          `json:"id"`
	StageID        string          `json:"stage_id"`
	CandidateID    string          `json:"candidate_id"`
	EvaluatorID    string          `json:"evaluator_id"`
	TemplateID     string          `json:"template_id,omitempty"`
	Score          int             `json:"score"`
	Status         string          `json:"status"`
	CriteriaScores json.RawMessage `json:"criteria_scores"`
	Notes          string          `json:"notes"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type criterionResponse struct {
	ID          string  `json:"id"`
	TemplateID  string  `json:"template_id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
	MaxScore    int     `json:"max_score"`
}

type templateResponse struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	MaxScore     int                 `json:"max_score"`
	PassingScore int                 `json:"passing_score"`
	CreatedBy    string              `json:"created_by"`
	CreatedAt    time.Time           `json:"created_at"`
	Criteria     []criterionResponse `json:"criteria,omitempty"`
}

type assessmentResponse struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	TimeLimitMinutes int       `json:"time_limit_minutes"`
	PassingScore     int       `json:"passing_score"`
	CreatedBy        string    `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
}

type questionResponse struct {
	ID           string          `json:"id"`
	AssessmentID string          `json:"assessment_id"`
	Question     string          `json:"question"`
	QuestionType string          `json:"question_type"`
	Options      json.RawMessage `json:"options,omitempty"`
	Points       int             `json:"points"`
	Position     int             `json:"position"`
}

type resultResponse struct {
	ID           string          `json:"id"`
	AssessmentID string          `json:"assessment_id"`
	CandidateID  string          `json:"candidate_id"`
	ProcessID    string          `json:"process_id,omitempty"`
	Status       string          `json:"status"`
	Answers      json.RawMessage `json:"answers,omitempty"`
	Score        *int            `json:"score"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
}

type documentResponse struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Name           string     `json:"name"`
	DocumentType   string     `json:"document_type"`
	FileURL        string     `json:"file_url"`
	Status         string     `json:"status"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
	CurrentVersion int        `json:"current_version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type versionResponse struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Version    int       `json:"version"`
	FileURL    string    `json:"file_url"`
	UploadedBy string    `json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
}

type approvalResponse struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	ApproverID string    `json:"approver_id"`
	Status     string    `json:"status"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
}

type messageResponse struct {
	ID            string    `json:"id"`
	SenderID      string    `json:"sender_id"`
	ReceiverID    string    `json:"receiver_id"`
	ApplicationID string    `json:"application_id,omitempty"`
	Content       string    `json:"content"`
	AttachmentURL string    `json:"attachment_url,omitempty"`
	Read          bool      `json:"read"`
	CreatedAt     time.Time `json:"created_at"`
}

type notificationResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Read      bool      `json:"read"`
	RelatedID string    `json:"related_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type emailResponse struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Type         string     `json:"type"`
	Recipient    string     `json:"recipient"`
	Subject      string     `json:"subject"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Attempts     int        `json:"attempts"`
	CreatedAt    time.Time  `json:"created_at"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
}

// --- ドメインモデルからレスポンス型への変換 ---

func mapSlice[T, R any](rows []*T, f func(*T) R) []R {
	out := make([]R, len(rows))
	for i, row := range rows {
		out[i] = f(row)
	}
	return out
}

func toProfileResponse(p *model.Profile) profileResponse {
	return profileResponse{
		ID:         p.ID,
		Role:       string(p.Role),
		FullName:   p.FullName,
		Email:      p.Email,
		Phone:      p.Phone,
		BirthDate:  p.BirthDate,
		CVURL:      p.CVURL,
		LicenseURL: p.LicenseURL,
		TitleURL:   p.TitleURL,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func toJobOfferResponse(o *model.JobOffer) jobOfferResponse {
	return jobOfferResponse{
		ID:           o.ID,
		Title:        o.Title,
		Description:  o.Description,
		Requirements: o.Requirements,
		Category:     o.Category,
		WorkType:     o.WorkType,
		Status:       string(o.Status),
		CreatedBy:    o.CreatedBy,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func toApplicationResponse(a *model.Application) applicationResponse {
	return applicationResponse{
		ID:          a.ID,
		JobOfferID:  a.JobOfferID,
		UserID:      a.UserID,
		Status:      string(a.Status),
		CoverLetter: a.CoverLetter,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func toActivityResponse(a *model.Activity) activityResponse {
	return activityResponse{
		ID:             a.ID,
		Type:           string(a.Type),
		Description:    a.Description,
		ActorID:        a.ActorID,
		RelatedOfferID: a.RelatedOfferID,
		CreatedAt:      a.CreatedAt,
	}
}

func toProcessResponse(p *model.SelectionProcess) processResponse {
	return processResponse{
		ID:                   p.ID,
		JobOfferID:           p.JobOfferID,
		CandidateID:          p.CandidateID,
		Status:               string(p.Status),
		RequiredAssessments:  nonNil(p.RequiredAssessments),
		CompletedAssessments: nonNil(p.CompletedAssessments),
		StartDate:            p.StartDate,
		EndDate:              p.EndDate,
		CreatedBy:            p.CreatedBy,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func toStageResponse(s *model.ProcessStage) stageResponse {
	return stageResponse{
		ID:           s.ID,
		ProcessID:    s.ProcessID,
		Name:         s.Name,
		Requirements: s.Requirements,
		Position:     s.Position,
		IsRequired:   s.IsRequired,
		CreatedAt:    s.CreatedAt,
	}
}

func toEvaluationResponse(e *model.CandidateEvaluation) evaluationResponse {
	scores := e.CriteriaScores
	if len(scores) == 0 {
		scores = json.RawMessage(`{}`)
	}
	return evaluationResponse{
		ID:             e.ID,
		StageID:        e.StageID,
		CandidateID:    e.CandidateID,
		EvaluatorID:    e.EvaluatorID,
		TemplateID:     e.TemplateID,
		Score:          e.Score,
		Status:         string(e.Status),
		CriteriaScores: scores,
		Notes:          e.Notes,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func toCriterionResponse(c *model.EvaluationCriterion) criterionResponse {
	return criterionResponse{
		ID:          c.ID,
		TemplateID:  c.TemplateID,
		Name:        c.Name,
		Description: c.Description,
		Weight:      c.Weight,
		MaxScore:    c.MaxScore,
	}
}

func toTemplateResponse(t *model.EvaluationTemplate) templateResponse {
	resp := templateResponse{
		ID:           t.ID,
		Name:         t.Name,
		Description:  t.Description,
		MaxScore:     t.MaxScore,
		PassingScore: t.PassingScore,
		CreatedBy:    t.CreatedBy,
		CreatedAt:    t.CreatedAt,
	}
	for i := range t.Criteria {
		resp.Criteria = append(resp.Criteria, toCriterionResponse(&t.Criteria[i]))
	}
	return resp
}

func toAssessmentResponse(a *model.SkillAssessment) assessmentResponse {
	return assessmentResponse{
		ID:               a.ID,
		Title:            a.Title,
		Description:      a.Description,
		TimeLimitMinutes: a.TimeLimitMinutes,
		PassingScore:     a.PassingScore,
		CreatedBy:        a.CreatedBy,
		CreatedAt:        a.CreatedAt,
	}
}

func toQuestionResponse(q *model.AssessmentQuestion) questionResponse {
	return questionResponse{
		ID:           q.ID,
		AssessmentID: q.AssessmentID,
		Question:     q.Question,
		QuestionType: q.QuestionType,
		Options:      q.Options,
		Points:       q.Points,
		Position:     q.Position,
	}
}

func toResultResponse(r *model.AssessmentResult) resultResponse {
	return resultResponse{
		ID:           r.ID,
		AssessmentID: r.AssessmentID,
		CandidateID:  r.CandidateID,
		ProcessID:    r.ProcessID,
		Status:       string(r.Status),
		Answers:      r.Answers,
		Score:        r.Score,
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
	}
}

func toDocumentResponse(d *model.Document) documentResponse {
	return documentResponse{
		ID:             d.ID,
		UserID:         d.UserID,
		Name:           d.Name,
		DocumentType:   d.DocumentType,
		FileURL:        d.FileURL,
		Status:         string(d.Status),
		ExpiryDate:     d.ExpiryDate,
		CurrentVersion: d.CurrentVersion,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func toVersionResponse(v *model.DocumentVersion) versionResponse {
	return versionResponse{
		ID:         v.ID,
		DocumentID: v.DocumentID,
		Version:    v.Version,
		FileURL:    v.FileURL,
		UploadedBy: v.UploadedBy,
		CreatedAt:  v.CreatedAt,
	}
}

func toApprovalResponse(a *model.DocumentApproval) approvalResponse {
	return approvalResponse{
		ID:         a.ID,
		DocumentID: a.DocumentID,
		ApproverID: a.ApproverID,
		Status:     string(a.Status),
		Comment:    a.Comment,
		CreatedAt:  a.CreatedAt,
	}
}

func toMessageResponse(m *model.Message) messageResponse {
	return messageResponse{
		ID:            m.ID,
		SenderID:      m.SenderID,
		ReceiverID:    m.ReceiverID,
		ApplicationID: m.ApplicationID,
		Content:       m.Content,
		AttachmentURL: m.AttachmentURL,
		Read:          m.Read,
		CreatedAt:     m.CreatedAt,
	}
}

func toNotificationResponse(n *model.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		Type:      string(n.Type),
		Title:     n.Title,
		Content:   n.Content,
		Read:      n.Read,
		RelatedID: n.RelatedID,
		CreatedAt: n.CreatedAt,
	}
}

func toEmailResponse(e *model.EmailNotification) emailResponse {
	return emailResponse{
		ID:           e.ID,
		UserID:       e.UserID,
		Type:         string(e.Type),
		Recipient:    e.Recipient,
		Subject:      e.Subject,
		Status:       string(e.Status),
		ErrorMessage: e.ErrorMessage,
		Attempts:     e.Attempts,
		CreatedAt:    e.CreatedAt,
		SentAt:       e.SentAt,
	}
}
