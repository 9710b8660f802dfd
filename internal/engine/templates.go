package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"icerline/internal/domain"
	"icerline/internal/events"
	"icerline/internal/repo"
)

// QuestionInput describes one question when creating or editing a template.
type QuestionInput struct {
	DimensionCode string
	Text          string
	Type          string
	Required      bool
}

func (e Engine) validateQuestions(ctx context.Context, inputs []QuestionInput) (map[string]domain.Dimension, error) {
	dims := make(map[string]domain.Dimension)
	for i, q := range inputs {
		if q.Text == "" {
			return nil, fmt.Errorf("question %d: text is required", i+1)
		}
		if q.Type != domain.QuestionScale1To4 && q.Type != domain.QuestionOpenText {
			return nil, fmt.Errorf("question %d: invalid type %q", i+1, q.Type)
		}
		if q.DimensionCode == "" {
			return nil, fmt.Errorf("question %d: dimension code is required", i+1)
		}
		if _, ok := dims[q.DimensionCode]; ok {
			continue
		}
		d, err := e.Repo.GetDimensionByCode(ctx, q.DimensionCode)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, fmt.Errorf("question %d: unknown dimension code %s", i+1, q.DimensionCode)
			}
			return nil, err
		}
		dims[q.DimensionCode] = d
	}
	return dims, nil
}

// CreateTemplate stores a new template in the inactive state at version 1.
func (e Engine) CreateTemplate(ctx context.Context, milestone, targetRole, title, description string, questions []QuestionInput, actorID string) (domain.Template, error) {
	if !domain.ValidMilestone(milestone) {
		return domain.Template{}, fmt.Errorf("invalid milestone %q", milestone)
	}
	if !domain.ValidTargetRole(targetRole) {
		return domain.Template{}, fmt.Errorf("invalid target role %q", targetRole)
	}
	if title == "" {
		return domain.Template{}, errors.New("title is required")
	}
	dims, err := e.validateQuestions(ctx, questions)
	if err != nil {
		return domain.Template{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Template{
		ID:          uuid.New().String(),
		Milestone:   milestone,
		TargetRole:  targetRole,
		Title:       title,
		Description: description,
		IsActive:    false,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTemplate(ctx, tx, t); err != nil {
		return domain.Template{}, fmt.Errorf("insert template: %w", err)
	}
	for i, in := range questions {
		q := domain.Question{
			ID:          uuid.New().String(),
			TemplateID:  t.ID,
			DimensionID: dims[in.DimensionCode].ID,
			Text:        in.Text,
			Type:        in.Type,
			Order:       i + 1,
			Required:    in.Required,
		}
		if err := e.Repo.InsertQuestion(ctx, tx, q); err != nil {
			return domain.Template{}, fmt.Errorf("insert question: %w", err)
		}
		t.Questions = append(t.Questions, q)
	}
	if err := e.Events.Append(ctx, tx, "template.created", "template", t.ID, actorID, events.EventPayload{
		"milestone": milestone, "target_role": targetRole, "version": t.Version,
	}); err != nil {
		return domain.Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

// UpdateTemplate replaces a template's metadata and question list. When the
// template already has completed assignments its version is bumped so
// historical submissions keep pointing at the version they answered.
func (e Engine) UpdateTemplate(ctx context.Context, id, title, description string, questions []QuestionInput, actorID string) (domain.Template, error) {
	dims, err := e.validateQuestions(ctx, questions)
	if err != nil {
		return domain.Template{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTemplateTx(ctx, tx, id)
	if err != nil {
		return domain.Template{}, err
	}
	published, err := e.Repo.HasCompletedAssignments(ctx, tx, id)
	if err != nil {
		return domain.Template{}, err
	}
	if published {
		t.Version++
	}
	if title != "" {
		t.Title = title
	}
	t.Description = description
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateTemplate(ctx, tx, t); err != nil {
		return domain.Template{}, err
	}
	if err := e.Repo.DeleteQuestions(ctx, tx, id); err != nil {
		return domain.Template{}, err
	}
	t.Questions = nil
	for i, in := range questions {
		q := domain.Question{
			ID:          uuid.New().String(),
			TemplateID:  id,
			DimensionID: dims[in.DimensionCode].ID,
			Text:        in.Text,
			Type:        in.Type,
			Order:       i + 1,
			Required:    in.Required,
		}
		if err := e.Repo.InsertQuestion(ctx, tx, q); err != nil {
			return domain.Template{}, err
		}
		t.Questions = append(t.Questions, q)
	}
	if err := e.Events.Append(ctx, tx, "template.updated", "template", id, actorID, events.EventPayload{
		"version": t.Version, "version_bumped": published,
	}); err != nil {
		return domain.Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

// ActivateTemplate makes the template the single active one for its
// (milestone, target role) pair, deactivating any sibling in the same
// transaction. Templates without questions cannot be activated.
func (e Engine) ActivateTemplate(ctx context.Context, id, actorID string) (domain.Template, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTemplateTx(ctx, tx, id)
	if err != nil {
		return domain.Template{}, err
	}
	n, err := e.Repo.CountQuestions(ctx, tx, id)
	if err != nil {
		return domain.Template{}, err
	}
	if n == 0 {
		return domain.Template{}, ConflictError{Reason: "template has no questions"}
	}
	if err := e.Repo.DeactivatePair(ctx, tx, t.Milestone, t.TargetRole); err != nil {
		return domain.Template{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.SetTemplateActive(ctx, tx, id, true, now); err != nil {
		return domain.Template{}, err
	}
	if err := e.Events.Append(ctx, tx, "template.activated", "template", id, actorID, events.EventPayload{
		"milestone": t.Milestone, "target_role": t.TargetRole,
	}); err != nil {
		return domain.Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	t.IsActive = true
	t.UpdatedAt = now
	return t, nil
}

// DeactivateTemplate clears the active flag, leaving the pair with no active
// template until another is activated.
func (e Engine) DeactivateTemplate(ctx context.Context, id, actorID string) (domain.Template, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.SetTemplateActive(ctx, tx, id, false, now); err != nil {
		return domain.Template{}, err
	}
	if err := e.Events.Append(ctx, tx, "template.deactivated", "template", id, actorID, nil); err != nil {
		return domain.Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	return e.Repo.GetTemplate(ctx, id)
}

// ActiveTemplate resolves the template raters receive for a pair.
func (e Engine) ActiveTemplate(ctx context.Context, milestone, targetRole string) (domain.Template, error) {
	if !domain.ValidMilestone(milestone) {
		return domain.Template{}, fmt.Errorf("invalid milestone %q", milestone)
	}
	if !domain.ValidTargetRole(targetRole) {
		return domain.Template{}, fmt.Errorf("invalid target role %q", targetRole)
	}
	return e.Repo.GetActiveTemplate(ctx, milestone, targetRole)
}
