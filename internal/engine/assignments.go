package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"icerline/internal/domain"
	"icerline/internal/events"
	"icerline/internal/repo"
)

// Assign creates one pending assignment per rater role the milestone
// requires, all in a single transaction. Each assignment snapshots the active
// template for its (milestone, role) pair. An open assignment for the same
// triple makes the whole call fail with DuplicateAssignmentError.
func (e Engine) Assign(ctx context.Context, collaboratorID, milestone, actorID string) ([]domain.Assignment, error) {
	if !domain.ValidMilestone(milestone) {
		return nil, fmt.Errorf("invalid milestone %q", milestone)
	}
	collab, err := e.Repo.GetCollaborator(ctx, collaboratorID)
	if err != nil {
		return nil, err
	}

	roles := domain.RequiredRoles(milestone)
	templates := make(map[string]domain.Template, len(roles))
	for _, role := range roles {
		t, err := e.Repo.GetActiveTemplate(ctx, milestone, role)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, fmt.Errorf("no active template for %s/%s: %w", milestone, role, repo.ErrNotFound)
			}
			return nil, err
		}
		templates[role] = t
	}

	now := e.now().UTC()
	due := now.AddDate(0, 0, e.Config.DueDaysFor(milestone)).Format(time.RFC3339)
	ts := now.Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var created []domain.Assignment
	for _, role := range roles {
		if _, err := e.Repo.FindOpenAssignment(ctx, tx, collaboratorID, milestone, role); err == nil {
			return nil, DuplicateAssignmentError{CollaboratorID: collaboratorID, Milestone: milestone, TargetRole: role}
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		t := templates[role]
		a := domain.Assignment{
			ID:              uuid.New().String(),
			CollaboratorID:  collaboratorID,
			TemplateID:      t.ID,
			TemplateVersion: t.Version,
			Milestone:       milestone,
			TargetRole:      role,
			Status:          domain.StatusPending,
			DueDate:         due,
			CreatedAt:       ts,
			UpdatedAt:       ts,
		}
		if role == domain.RoleTeamLeader {
			a.EvaluatorUserID = collab.TeamLeaderUserID
		}
		if err := e.Repo.InsertAssignment(ctx, tx, a); err != nil {
			return nil, fmt.Errorf("insert assignment: %w", err)
		}
		if err := e.Events.Append(ctx, tx, "assignment.created", "assignment", a.ID, actorID, events.EventPayload{
			"collaborator_id": collaboratorID, "milestone": milestone, "target_role": role,
		}); err != nil {
			return nil, err
		}
		created = append(created, a)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

// SaveDraft upserts partial answers without validating completeness and moves
// a pending assignment to in-progress.
func (e Engine) SaveDraft(ctx context.Context, assignmentID string, answers []domain.Answer, actorID string) (domain.Assignment, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAssignmentTx(ctx, tx, assignmentID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if a.Status == domain.StatusCompleted {
		return domain.Assignment{}, AlreadyCompletedError{AssignmentID: assignmentID}
	}
	for _, ans := range answers {
		if err := e.Repo.UpsertAnswer(ctx, tx, assignmentID, ans); err != nil {
			return domain.Assignment{}, fmt.Errorf("save answer: %w", err)
		}
	}
	if a.Status == domain.StatusPending {
		a.Status = domain.StatusInProgress
	}
	a.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateAssignment(ctx, tx, a); err != nil {
		return domain.Assignment{}, err
	}
	if err := e.Events.Append(ctx, tx, "assignment.draft_saved", "assignment", assignmentID, actorID, events.EventPayload{
		"answers": len(answers),
	}); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	return e.Repo.GetAssignment(ctx, assignmentID)
}

// Submit validates the full answer set, computes the assignment score as the
// mean of its scale answers and marks the assignment completed. When the
// submission closes the last required role for the milestone the consolidated
// result is recomputed in a follow-on transaction; a consolidation failure is
// logged and does not undo the submission.
func (e Engine) Submit(ctx context.Context, assignmentID string, answers []domain.Answer, actorID string) (domain.Assignment, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAssignmentTx(ctx, tx, assignmentID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if a.Status == domain.StatusCompleted {
		return domain.Assignment{}, AlreadyCompletedError{AssignmentID: assignmentID}
	}
	t, err := e.Repo.GetTemplateTx(ctx, tx, a.TemplateID)
	if err != nil {
		return domain.Assignment{}, err
	}

	byQuestion := make(map[string]domain.Answer, len(answers))
	for _, ans := range answers {
		byQuestion[ans.QuestionID] = ans
	}
	// Drafted answers count unless the submission overrides them.
	for _, ans := range a.Answers {
		if _, ok := byQuestion[ans.QuestionID]; !ok {
			byQuestion[ans.QuestionID] = ans
		}
	}

	var missing []string
	var sum float64
	var scaleCount int
	final := make([]domain.Answer, 0, len(t.Questions))
	for _, q := range t.Questions {
		ans, ok := byQuestion[q.ID]
		switch q.Type {
		case domain.QuestionScale1To4:
			if !ok || ans.Value == nil || *ans.Value < 1 || *ans.Value > 4 {
				if q.Required {
					missing = append(missing, q.ID)
				}
				continue
			}
			sum += float64(*ans.Value)
			scaleCount++
			final = append(final, domain.Answer{QuestionID: q.ID, Value: ans.Value})
		case domain.QuestionOpenText:
			if !ok || ans.Text == nil || *ans.Text == "" {
				if q.Required {
					missing = append(missing, q.ID)
				}
				continue
			}
			final = append(final, domain.Answer{QuestionID: q.ID, Text: ans.Text})
		}
	}
	if len(missing) > 0 {
		return domain.Assignment{}, IncompleteAnswersError{Missing: missing}
	}

	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.ReplaceAnswers(ctx, tx, assignmentID, final); err != nil {
		return domain.Assignment{}, err
	}
	a.Status = domain.StatusCompleted
	a.CompletedAt = &now
	a.UpdatedAt = now
	if scaleCount > 0 {
		score := sum / float64(scaleCount)
		a.Score = &score
	}
	if err := e.Repo.UpdateAssignment(ctx, tx, a); err != nil {
		return domain.Assignment{}, err
	}
	if err := e.Events.Append(ctx, tx, "assignment.completed", "assignment", assignmentID, actorID, events.EventPayload{
		"collaborator_id": a.CollaboratorID, "milestone": a.Milestone, "target_role": a.TargetRole, "score": a.Score,
	}); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	a.Answers = final

	if _, err := e.Consolidate(ctx, a.CollaboratorID, a.Milestone, actorID); err != nil && !errors.Is(err, ErrNotReady) {
		log.Printf("consolidate: %s/%s failed: %v", a.CollaboratorID, a.Milestone, err)
	}
	return a, nil
}

// PendingForEvaluator lists open assignments owed by a team leader.
func (e Engine) PendingForEvaluator(ctx context.Context, evaluatorUserID string) ([]domain.Assignment, error) {
	open, err := e.Repo.ListAssignments(ctx, repo.AssignmentFilters{EvaluatorUserID: evaluatorUserID})
	if err != nil {
		return nil, err
	}
	var res []domain.Assignment
	for _, a := range open {
		if a.Status != domain.StatusCompleted {
			res = append(res, a)
		}
	}
	return res, nil
}
