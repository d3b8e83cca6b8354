package memrepo

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"time"

	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
	"github.com/hitoshi/recruitman/internal/repository"
)

// --- profiles ---

type profileRepo struct{ s *Store }

func (r *profileRepo) FindByID(_ context.Context, id string) (*model.Profile, error) {
	if err := r.s.fail("profiles.find"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *profileRepo) Create(_ context.Context, p *model.Profile) error {
	if err := r.s.fail("profiles.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.profiles[p.ID]; ok {
		return model.NewConstraintViolationError("id", "profiles_pkey")
	}
	r.s.data.profiles[p.ID] = *p
	return nil
}

func (r *profileRepo) Update(_ context.Context, p *model.Profile) error {
	if err := r.s.fail("profiles.update"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, ok := r.s.data.profiles[p.ID]
	if !ok {
		return nil
	}
	next := *p
	next.Role = old.Role
	next.CreatedAt = old.CreatedAt
	r.s.data.profiles[p.ID] = next
	return nil
}

// --- job_offers ---

type offerRepo struct{ s *Store }

func (r *offerRepo) FindByID(_ context.Context, id string) (*model.JobOffer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.data.offers[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r *offerRepo) List(_ context.Context, q repository.OfferQuery) ([]*model.JobOffer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.JobOffer
	for _, o := range newestFirst(sortedValues(r.s.data.offers, func(o model.JobOffer) (time.Time, string) { return o.CreatedAt, o.ID })) {
		if q.Status != "" && o.Status != q.Status {
			continue
		}
		if q.Category != "" && o.Category != q.Category {
			continue
		}
		out = append(out, ptr(o))
	}
	return limited(out, q.Limit), nil
}

func (r *offerRepo) Create(_ context.Context, o *model.JobOffer) error {
	if err := r.s.fail("job_offers.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.offers[o.ID] = *o
	return nil
}

func (r *offerRepo) Update(_ context.Context, o *model.JobOffer) error {
	if err := r.s.fail("job_offers.update"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.offers[o.ID]; ok {
		r.s.data.offers[o.ID] = *o
	}
	return nil
}

func (r *offerRepo) Delete(_ context.Context, id string) error {
	if err := r.s.fail("job_offers.delete"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.data.offers, id)
	for aid, a := range r.s.data.applications {
		if a.JobOfferID == id {
			delete(r.s.data.applications, aid)
		}
	}
	for pid, p := range r.s.data.processes {
		if p.JobOfferID == id {
			r.s.deleteProcessLocked(pid)
		}
	}
	return nil
}

// --- applications ---

type applicationRepo struct{ s *Store }

func (r *applicationRepo) FindByID(_ context.Context, id string) (*model.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.data.applications[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *applicationRepo) List(_ context.Context, q repository.ApplicationQuery) ([]*model.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Application
	for _, a := range newestFirst(sortedValues(r.s.data.applications, func(a model.Application) (time.Time, string) { return a.CreatedAt, a.ID })) {
		if q.UserID != "" && a.UserID != q.UserID {
			continue
		}
		if q.JobOfferID != "" && a.JobOfferID != q.JobOfferID {
			continue
		}
		out = append(out, ptr(a))
	}
	return out, nil
}

func (r *applicationRepo) Create(_ context.Context, a *model.Application) error {
	if err := r.s.fail("applications.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.offers[a.JobOfferID]; !ok {
		return model.NewConstraintViolationError("job_offer_id", "applications_job_offer_id_fkey")
	}
	r.s.data.applications[a.ID] = *a
	return nil
}

func (r *applicationRepo) UpdateStatus(_ context.Context, a *model.Application) error {
	if err := r.s.fail("applications.update"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if old, ok := r.s.data.applications[a.ID]; ok {
		old.Status = a.Status
		old.UpdatedAt = a.UpdatedAt
		r.s.data.applications[a.ID] = old
	}
	return nil
}

func (r *applicationRepo) Delete(_ context.Context, id string) error {
	if err := r.s.fail("applications.delete"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.data.applications, id)
	for mid, m := range r.s.data.messages {
		if m.ApplicationID == id {
			m.ApplicationID = ""
			r.s.data.messages[mid] = m
		}
	}
	return nil
}

// --- activities ---

type activityRepo struct{ s *Store }

func (r *activityRepo) Create(_ context.Context, a *model.Activity) error {
	if err := r.s.fail("activities.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.activities[a.ID] = *a
	return nil
}

func (r *activityRepo) List(_ context.Context, limit int) ([]*model.Activity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Activity
	for _, a := range newestFirst(sortedValues(r.s.data.activities, func(a model.Activity) (time.Time, string) { return a.CreatedAt, a.ID })) {
		out = append(out, ptr(a))
	}
	return limited(out, limit), nil
}

// --- selection_processes ---

type processRepo struct{ s *Store }

func (r *processRepo) FindByID(_ context.Context, id string) (*model.SelectionProcess, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.processes[id]
	if !ok {
		return nil, nil
	}
	p.RequiredAssessments = slices.Clone(p.RequiredAssessments)
	p.CompletedAssessments = slices.Clone(p.CompletedAssessments)
	return &p, nil
}

func (r *processRepo) List(_ context.Context, q repository.ProcessQuery) ([]*model.SelectionProcess, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.SelectionProcess
	for _, p := range newestFirst(sortedValues(r.s.data.processes, func(p model.SelectionProcess) (time.Time, string) { return p.CreatedAt, p.ID })) {
		if q.CandidateID != "" && p.CandidateID != q.CandidateID {
			continue
		}
		if q.JobOfferID != "" && p.JobOfferID != q.JobOfferID {
			continue
		}
		p.RequiredAssessments = slices.Clone(p.RequiredAssessments)
		p.CompletedAssessments = slices.Clone(p.CompletedAssessments)
		out = append(out, ptr(p))
	}
	return out, nil
}

func (r *processRepo) Create(_ context.Context, p *model.SelectionProcess) error {
	if err := r.s.fail("selection_processes.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.offers[p.JobOfferID]; !ok {
		return model.NewConstraintViolationError("job_offer_id", "selection_processes_job_offer_id_fkey")
	}
	if _, ok := r.s.data.profiles[p.CandidateID]; !ok {
		return model.NewConstraintViolationError("candidate_id", "selection_processes_candidate_id_fkey")
	}
	stored := *p
	stored.RequiredAssessments = slices.Clone(p.RequiredAssessments)
	stored.CompletedAssessments = slices.Clone(p.CompletedAssessments)
	r.s.data.processes[p.ID] = stored
	return nil
}

func (r *processRepo) Update(_ context.Context, p *model.SelectionProcess) error {
	if err := r.s.fail("selection_processes.update"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.processes[p.ID]; ok {
		stored := *p
		stored.RequiredAssessments = slices.Clone(p.RequiredAssessments)
		stored.CompletedAssessments = slices.Clone(p.CompletedAssessments)
		r.s.data.processes[p.ID] = stored
	}
	return nil
}

func (r *processRepo) Delete(_ context.Context, id string) error {
	if err := r.s.fail("selection_processes.delete"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.deleteProcessLocked(id)
	return nil
}

func (s *Store) deleteProcessLocked(id string) {
	delete(s.data.processes, id)
	for sid, st := range s.data.stages {
		if st.ProcessID == id {
			s.deleteStageLocked(sid)
		}
	}
	for rid, res := range s.data.results {
		if res.ProcessID == id {
			delete(s.data.results, rid)
		}
	}
}

func (s *Store) deleteStageLocked(id string) {
	delete(s.data.stages, id)
	for eid, e := range s.data.evaluations {
		if e.StageID == id {
			delete(s.data.evaluations, eid)
		}
	}
}

// --- process_stages ---

type stageRepo struct{ s *Store }

func (r *stageRepo) FindByID(_ context.Context, id string) (*model.ProcessStage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.data.stages[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (r *stageRepo) ListByProcess(_ context.Context, processID string) ([]*model.ProcessStage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.ProcessStage
	for _, st := range r.s.data.stages {
		if st.ProcessID == processID {
			out = append(out, ptr(st))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *stageRepo) Create(_ context.Context, st *model.ProcessStage) error {
	if err := r.s.fail("process_stages.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.processes[st.ProcessID]; !ok {
		return model.NewConstraintViolationError("process_id", "process_stages_process_id_fkey")
	}
	r.s.data.stages[st.ID] = *st
	return nil
}

func (r *stageRepo) Delete(_ context.Context, id string) error {
	if err := r.s.fail("process_stages.delete"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.deleteStageLocked(id)
	return nil
}

// --- candidate_evaluations ---

type evaluationRepo struct{ s *Store }

func (r *evaluationRepo) FindByID(_ context.Context, id string) (*model.CandidateEvaluation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.data.evaluations[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *evaluationRepo) List(_ context.Context, q repository.EvaluationQuery) ([]*model.CandidateEvaluation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.CandidateEvaluation
	for _, e := range newestFirst(sortedValues(r.s.data.evaluations, func(e model.CandidateEvaluation) (time.Time, string) { return e.CreatedAt, e.ID })) {
		if q.StageID != "" && e.StageID != q.StageID {
			continue
		}
		if q.CandidateID != "" && e.CandidateID != q.CandidateID {
			continue
		}
		out = append(out, ptr(e))
	}
	return out, nil
}

func (r *evaluationRepo) Create(_ context.Context, e *model.CandidateEvaluation) error {
	if err := r.s.fail("candidate_evaluations.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.stages[e.StageID]; !ok {
		return model.NewConstraintViolationError("stage_id", "candidate_evaluations_stage_id_fkey")
	}
	if !validJSON(e.CriteriaScores) {
		return model.NewConstraintViolationError("criteria_scores", "invalid input syntax for type json")
	}
	r.s.data.evaluations[e.ID] = *e
	return nil
}

func (r *evaluationRepo) Update(_ context.Context, e *model.CandidateEvaluation) error {
	if err := r.s.fail("candidate_evaluations.update"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.evaluations[e.ID]; ok {
		r.s.data.evaluations[e.ID] = *e
	}
	return nil
}

// --- evaluation_templates / evaluation_criteria ---

type templateRepo struct{ s *Store }

func (r *templateRepo) FindByID(_ context.Context, id string) (*model.EvaluationTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.data.templates[id]
	if !ok {
		return nil, nil
	}
	for _, c := range r.s.data.criteria {
		if c.TemplateID == id {
			t.Criteria = append(t.Criteria, c)
		}
	}
	sort.Slice(t.Criteria, func(i, j int) bool { return t.Criteria[i].ID < t.Criteria[j].ID })
	return &t, nil
}

func (r *templateRepo) List(_ context.Context) ([]*model.EvaluationTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.EvaluationTemplate
	for _, t := range sortedValues(r.s.data.templates, func(t model.EvaluationTemplate) (time.Time, string) { return t.CreatedAt, t.ID }) {
		out = append(out, ptr(t))
	}
	return out, nil
}

func (r *templateRepo) Create(_ context.Context, t *model.EvaluationTemplate) error {
	if err := r.s.fail("evaluation_templates.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := *t
	stored.Criteria = nil
	r.s.data.templates[t.ID] = stored
	return nil
}

func (r *templateRepo) Delete(_ context.Context, id string) error {
	if err := r.s.fail("evaluation_templates.delete"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.data.templates, id)
	for cid, c := range r.s.data.criteria {
		if c.TemplateID == id {
			delete(r.s.data.criteria, cid)
		}
	}
	for eid, e := range r.s.data.evaluations {
		if e.TemplateID == id {
			e.TemplateID = ""
			r.s.data.evaluations[eid] = e
		}
	}
	return nil
}

func (r *templateRepo) AddCriterion(_ context.Context, c *model.EvaluationCriterion) error {
	if err := r.s.fail("evaluation_criteria.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.templates[c.TemplateID]; !ok {
		return model.NewConstraintViolationError("template_id", "evaluation_criteria_template_id_fkey")
	}
	r.s.data.criteria[c.ID] = *c
	return nil
}

// --- skill_assessments / assessment_questions ---

type assessmentRepo struct{ s *Store }

func (r *assessmentRepo) FindByID(_ context.Context, id string) (*model.SkillAssessment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.data.assessments[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *assessmentRepo) List(_ context.Context) ([]*model.SkillAssessment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.SkillAssessment
	for _, a := range newestFirst(sortedValues(r.s.data.assessments, func(a model.SkillAssessment) (time.Time, string) { return a.CreatedAt, a.ID })) {
		out = append(out, ptr(a))
	}
	return out, nil
}

func (r *assessmentRepo) Create(_ context.Context, a *model.SkillAssessment) error {
	if err := r.s.fail("skill_assessments.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.assessments[a.ID] = *a
	return nil
}

func (r *assessmentRepo) ListQuestions(_ context.Context, assessmentID string) ([]*model.AssessmentQuestion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.AssessmentQuestion
	for _, q := range r.s.data.questions {
		if q.AssessmentID == assessmentID {
			out = append(out, ptr(q))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *assessmentRepo) AddQuestion(_ context.Context, q *model.AssessmentQuestion) error {
	if err := r.s.fail("assessment_questions.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.assessments[q.AssessmentID]; !ok {
		return model.NewConstraintViolationError("assessment_id", "assessment_questions_assessment_id_fkey")
	}
	r.s.data.questions[q.ID] = *q
	return nil
}

// --- assessment_results ---

type resultRepo struct{ s *Store }

func (r *resultRepo) FindByID(_ context.Context, id string) (*model.AssessmentResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	res, ok := r.s.data.results[id]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

func (r *resultRepo) List(_ context.Context, q repository.ResultQuery) ([]*model.AssessmentResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.AssessmentResult
	for _, res := range newestFirst(sortedValues(r.s.data.results, func(x model.AssessmentResult) (time.Time, string) { return x.StartTime, x.ID })) {
		if q.CandidateID != "" && res.CandidateID != q.CandidateID {
			continue
		}
		if q.AssessmentID != "" && res.AssessmentID != q.AssessmentID {
			continue
		}
		out = append(out, ptr(res))
	}
	return out, nil
}

func (r *resultRepo) Create(_ context.Context, res *model.AssessmentResult) error {
	if err := r.s.fail("assessment_results.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.assessments[res.AssessmentID]; !ok {
		return model.NewConstraintViolationError("assessment_id", "assessment_results_assessment_id_fkey")
	}
	r.s.data.results[res.ID] = *res
	return nil
}

func (r *resultRepo) Update(_ context.Context, res *model.AssessmentResult) error {
	if err := r.s.fail("assessment_results.update"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !validJSON(res.Answers) {
		return model.NewConstraintViolationError("answers", "invalid input syntax for type json")
	}
	if _, ok := r.s.data.results[res.ID]; ok {
		r.s.data.results[res.ID] = *res
	}
	return nil
}

func (r *resultRepo) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	if err := r.s.fail("assessment_results.expire"); err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, res := range r.s.data.results {
		if res.Status != model.ResultStatusInProgress {
			continue
		}
		a, ok := r.s.data.assessments[res.AssessmentID]
		if !ok || !res.Deadline(a.TimeLimitMinutes).Before(now) {
			continue
		}
		res.Status = model.ResultStatusExpired
		res.EndTime = ptr(now)
		r.s.data.results[id] = res
		n++
	}
	return n, nil
}

// --- documents ---

type documentRepo struct{ s *Store }

func (r *documentRepo) FindByID(_ context.Context, id string) (*model.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.data.documents[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *documentRepo) List(_ context.Context, userID string) ([]*model.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Document
	for _, d := range newestFirst(sortedValues(r.s.data.documents, func(d model.Document) (time.Time, string) { return d.CreatedAt, d.ID })) {
		if userID != "" && d.UserID != userID {
			continue
		}
		out = append(out, ptr(d))
	}
	return out, nil
}

func (r *documentRepo) Create(_ context.Context, d *model.Document) error {
	if err := r.s.fail("documents.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.documents[d.ID] = *d
	return nil
}

func (r *documentRepo) Update(_ context.Context, d *model.Document) error {
	if err := r.s.fail("documents.update"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.documents[d.ID]; ok {
		r.s.data.documents[d.ID] = *d
	}
	return nil
}

func (r *documentRepo) Delete(_ context.Context, id string) error {
	if err := r.s.fail("documents.delete"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.data.documents, id)
	for vid, v := range r.s.data.versions {
		if v.DocumentID == id {
			delete(r.s.data.versions, vid)
		}
	}
	for aid, a := range r.s.data.approvals {
		if a.DocumentID == id {
			delete(r.s.data.approvals, aid)
		}
	}
	return nil
}

func (r *documentRepo) AddVersion(_ context.Context, v *model.DocumentVersion) error {
	if err := r.s.fail("document_versions.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.documents[v.DocumentID]; !ok {
		return model.NewConstraintViolationError("document_id", "document_versions_document_id_fkey")
	}
	r.s.data.versions[v.ID] = *v
	return nil
}

func (r *documentRepo) ListVersions(_ context.Context, documentID string) ([]*model.DocumentVersion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.DocumentVersion
	for _, v := range r.s.data.versions {
		if v.DocumentID == documentID {
			out = append(out, ptr(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (r *documentRepo) AddApproval(_ context.Context, a *model.DocumentApproval) error {
	if err := r.s.fail("document_approvals.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.documents[a.DocumentID]; !ok {
		return model.NewConstraintViolationError("document_id", "document_approvals_document_id_fkey")
	}
	r.s.data.approvals[a.ID] = *a
	return nil
}

func (r *documentRepo) ListApprovals(_ context.Context, documentID string) ([]*model.DocumentApproval, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.DocumentApproval
	for _, a := range newestFirst(sortedValues(r.s.data.approvals, func(a model.DocumentApproval) (time.Time, string) { return a.CreatedAt, a.ID })) {
		if a.DocumentID == documentID {
			out = append(out, ptr(a))
		}
	}
	return out, nil
}

// --- messages ---

type messageRepo struct{ s *Store }

func (r *messageRepo) FindByID(_ context.Context, id string) (*model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.data.messages[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *messageRepo) ListForUser(_ context.Context, userID string, limit int) ([]*model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Message
	for _, m := range newestFirst(sortedValues(r.s.data.messages, func(m model.Message) (time.Time, string) { return m.CreatedAt, m.ID })) {
		if m.SenderID == userID || m.ReceiverID == userID {
			out = append(out, ptr(m))
		}
	}
	return limited(out, limit), nil
}

func (r *messageRepo) Create(_ context.Context, m *model.Message) error {
	if err := r.s.fail("messages.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.profiles[m.ReceiverID]; !ok {
		return model.NewConstraintViolationError("receiver_id", "messages_receiver_id_fkey")
	}
	r.s.data.messages[m.ID] = *m
	return nil
}

func (r *messageRepo) MarkRead(_ context.Context, id string) error {
	if err := r.s.fail("messages.update"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m, ok := r.s.data.messages[id]; ok {
		m.Read = true
		r.s.data.messages[id] = m
	}
	return nil
}

// --- notifications ---

type notificationRepo struct{ s *Store }

func (r *notificationRepo) FindByID(_ context.Context, id string) (*model.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.data.notifications[id]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (r *notificationRepo) ListByUser(_ context.Context, userID string, unreadOnly bool, limit int) ([]*model.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Notification
	for _, n := range newestFirst(sortedValues(r.s.data.notifications, func(n model.Notification) (time.Time, string) { return n.CreatedAt, n.ID })) {
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, ptr(n))
	}
	return limited(out, limit), nil
}

func (r *notificationRepo) MarkRead(_ context.Context, id string) error {
	if err := r.s.fail("notifications.update"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if n, ok := r.s.data.notifications[id]; ok {
		n.Read = true
		r.s.data.notifications[id] = n
	}
	return nil
}

// --- outbox (fanout.Sink) ---

type outboxRepo struct{ s *Store }

func (r *outboxRepo) Savepoint(_ context.Context, _ string, fn func() error) error {
	r.s.mu.Lock()
	snapshot := r.s.data.clone()
	r.s.mu.Unlock()

	if err := fn(); err != nil {
		r.s.mu.Lock()
		r.s.data = snapshot
		r.s.mu.Unlock()
		return err
	}
	return nil
}

func (r *outboxRepo) InsertNotification(_ context.Context, n *model.Notification) error {
	if err := r.s.fail("notifications.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.notifications[n.ID] = *n
	return nil
}

func (r *outboxRepo) BroadcastNotification(_ context.Context, tmpl *model.Notification, afterID string, limit int) ([]*model.Notification, bool, error) {
	if err := r.s.fail("notifications.broadcast"); err != nil {
		return nil, false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var ids []string
	for id, p := range r.s.data.profiles {
		if p.Role != model.RoleHR && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	more := limit > 0 && len(ids) > limit
	ids = limited(ids, limit)

	created := make([]*model.Notification, 0, len(ids))
	for _, id := range ids {
		n := *tmpl
		n.ID = model.NewID()
		n.UserID = id
		r.s.data.notifications[n.ID] = n
		created = append(created, ptr(n))
	}
	return created, more, nil
}

func (r *outboxRepo) QueueEmail(_ context.Context, e *model.EmailNotification) error {
	if err := r.s.fail("email_notifications.insert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.emails[e.ID] = *e
	return nil
}

func (r *outboxRepo) RecipientEmail(_ context.Context, userID string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.data.profiles[userID].Email, nil
}

// --- email_notifications ---

type emailRepo struct{ s *Store }

func (r *emailRepo) ClaimPending(_ context.Context, now time.Time, limit int) ([]*model.EmailNotification, error) {
	if err := r.s.fail("email_notifications.claim"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.EmailNotification
	for _, e := range sortedValues(r.s.data.emails, func(e model.EmailNotification) (time.Time, string) { return dueAt(e), e.ID }) {
		if e.Status == model.EmailStatusPending && !dueAt(e).After(now) {
			out = append(out, ptr(e))
		}
	}
	return limited(out, limit), nil
}

// dueAt は次回送信時刻を返す。未設定の行は作成時刻から送信対象になる。
func dueAt(e model.EmailNotification) time.Time {
	if e.NextAttemptAt.IsZero() {
		return e.CreatedAt
	}
	return e.NextAttemptAt
}

func (r *emailRepo) MarkSent(_ context.Context, id string, at time.Time) error {
	if err := r.s.fail("email_notifications.sent"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e, ok := r.s.data.emails[id]; ok {
		e.Status = model.EmailStatusSent
		e.SentAt = ptr(at)
		e.Attempts++
		e.ErrorMessage = ""
		r.s.data.emails[id] = e
	}
	return nil
}

func (r *emailRepo) MarkRetry(_ context.Context, id, message string, nextAttemptAt time.Time) error {
	if err := r.s.fail("email_notifications.retry"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e, ok := r.s.data.emails[id]; ok {
		e.Attempts++
		e.ErrorMessage = message
		e.NextAttemptAt = nextAttemptAt
		r.s.data.emails[id] = e
	}
	return nil
}

func (r *emailRepo) MarkFailed(_ context.Context, id, message string) error {
	if err := r.s.fail("email_notifications.failed"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e, ok := r.s.data.emails[id]; ok {
		e.Attempts++
		e.ErrorMessage = message
		e.Status = model.EmailStatusFailed
		r.s.data.emails[id] = e
	}
	return nil
}

func (r *emailRepo) List(_ context.Context, limit int) ([]*model.EmailNotification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.EmailNotification
	for _, e := range newestFirst(sortedValues(r.s.data.emails, func(e model.EmailNotification) (time.Time, string) { return e.CreatedAt, e.ID })) {
		out = append(out, ptr(e))
	}
	return limited(out, limit), nil
}

// --- policy.Relations ---

// Relations はpolicy.Relationsのインメモリ実装。
type Relations struct{ s *Store }

func (r *Relations) ProcessCandidate(_ context.Context, processID string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.data.processes[processID].CandidateID, nil
}

func (r *Relations) StageCandidate(_ context.Context, stageID string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.data.stages[stageID]
	if !ok {
		return "", nil
	}
	return r.s.data.processes[st.ProcessID].CandidateID, nil
}

func (r *Relations) DocumentOwner(_ context.Context, documentID string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.data.documents[documentID].UserID, nil
}

func (r *Relations) AssessmentAssigned(_ context.Context, candidateID, assessmentID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.data.processes {
		if p.CandidateID == candidateID && slices.Contains(p.RequiredAssessments, assessmentID) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Relations) HasApplied(_ context.Context, candidateID, offerID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.data.applications {
		if a.UserID == candidateID && a.JobOfferID == offerID {
			return true, nil
		}
	}
	return false, nil
}

// validJSON はjsonbカラムへの書き込みを模して不正なJSONを拒否する。
func validJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || json.Valid(raw)
}

var (
	_ repository.ProfileRepository      = (*profileRepo)(nil)
	_ repository.JobOfferRepository     = (*offerRepo)(nil)
	_ repository.ApplicationRepository  = (*applicationRepo)(nil)
	_ repository.ActivityRepository     = (*activityRepo)(nil)
	_ repository.ProcessRepository      = (*processRepo)(nil)
	_ repository.StageRepository        = (*stageRepo)(nil)
	_ repository.EvaluationRepository   = (*evaluationRepo)(nil)
	_ repository.TemplateRepository     = (*templateRepo)(nil)
	_ repository.AssessmentRepository   = (*assessmentRepo)(nil)
	_ repository.ResultRepository       = (*resultRepo)(nil)
	_ repository.DocumentRepository     = (*documentRepo)(nil)
	_ repository.MessageRepository      = (*messageRepo)(nil)
	_ repository.NotificationRepository = (*notificationRepo)(nil)
	_ repository.OutboxRepository       = (*outboxRepo)(nil)
	_ repository.EmailRepository        = (*emailRepo)(nil)
	_ policy.Relations                  = (*Relations)(nil)
)
