package engine

import (
	"context"
	"errors"

	"icerline/internal/domain"
	"icerline/internal/events"
	"icerline/internal/repo"
)

// Recommend proposes a follow-up plan for the consolidated result of a
// (collaborator, milestone) pair.
func (e Engine) Recommend(ctx context.Context, collaboratorID, milestone, actorID string) (domain.Recommendation, error) {
	res, err := e.Repo.GetResultForPair(ctx, collaboratorID, milestone)
	if err != nil {
		return domain.Recommendation{}, err
	}
	return e.recommendFromResult(ctx, res, actorID)
}

// RecommendByResult proposes a follow-up plan for a stored result.
func (e Engine) RecommendByResult(ctx context.Context, resultID, actorID string) (domain.Recommendation, error) {
	res, err := e.Repo.GetMilestoneResult(ctx, resultID)
	if err != nil {
		return domain.Recommendation{}, err
	}
	return e.recommendFromResult(ctx, res, actorID)
}

// recommendFromResult is the Follow-up Trigger. The proposal is advisory:
// nothing is persisted beyond an audit event, and ManualAssignment is always
// true because a human confirms type, description and due date in the
// external action-plan module.
//
// HIGH risk prefers a plan targeting the collaborator's weakest dimension;
// MEDIUM risk takes the first general MEDIUM plan; LOW and NONE carry no plan.
func (e Engine) recommendFromResult(ctx context.Context, res domain.MilestoneResult, actorID string) (domain.Recommendation, error) {
	rec := domain.Recommendation{
		ResultID:         res.ID,
		CollaboratorID:   res.CollaboratorID,
		Milestone:        res.Milestone,
		RiskLevel:        res.RiskLevel,
		ManualAssignment: true,
	}
	if collab, err := e.Repo.GetCollaborator(ctx, res.CollaboratorID); err == nil {
		rec.CollaboratorName = collab.Name
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Recommendation{}, err
	}

	switch res.RiskLevel {
	case domain.RiskHigh:
		var ids []string
		if res.CollaboratorAssignmentID != nil {
			ids = append(ids, *res.CollaboratorAssignmentID)
		}
		if res.TeamLeaderAssignmentID != nil {
			ids = append(ids, *res.TeamLeaderAssignmentID)
		}
		averages, err := e.Repo.DimensionAverages(ctx, ids)
		if err != nil {
			return domain.Recommendation{}, err
		}
		if len(averages) > 0 {
			weakest := averages[0].DimensionCode
			rec.WeakestDimension = &weakest
		}
		plans, err := e.Repo.PlansForRisk(ctx, domain.RiskHigh)
		if err != nil {
			return domain.Recommendation{}, err
		}
		pickPlan(&rec, plans)
	case domain.RiskMedium:
		plans, err := e.Repo.PlansForRisk(ctx, domain.RiskMedium)
		if err != nil {
			return domain.Recommendation{}, err
		}
		pickPlan(&rec, plans)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Recommendation{}, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "followup.recommended", "result", res.ID, actorID, events.EventPayload{
		"collaborator_id":   res.CollaboratorID,
		"milestone":         res.Milestone,
		"risk_level":        res.RiskLevel,
		"plan_code":         rec.PlanCode,
		"weakest_dimension": rec.WeakestDimension,
	}); err != nil {
		return domain.Recommendation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Recommendation{}, err
	}
	return rec, nil
}

// pickPlan selects a dimension-matched plan when the weakest dimension is
// known, otherwise the first general plan, otherwise the first plan at all.
func pickPlan(rec *domain.Recommendation, plans []domain.FollowUpPlan) {
	if len(plans) == 0 {
		return
	}
	chosen := -1
	if rec.WeakestDimension != nil {
		for i, p := range plans {
			if p.DimensionCode != nil && *p.DimensionCode == *rec.WeakestDimension {
				chosen = i
				break
			}
		}
	}
	if chosen < 0 {
		for i, p := range plans {
			if p.DimensionCode == nil {
				chosen = i
				break
			}
		}
	}
	if chosen < 0 {
		chosen = 0
	}
	rec.PlanID = &plans[chosen].ID
	rec.PlanCode = &plans[chosen].Code
}
