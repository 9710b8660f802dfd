package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"icerline/internal/domain"
	"icerline/internal/events"
	"icerline/internal/repo"
)

// ErrNotReady means consolidation was requested before every required rater
// role completed its assignment for the milestone.
var ErrNotReady = errors.New("milestone not ready for consolidation")

// Formula labels recorded with each consolidated result.
const (
	formulaDay1   = "ICER Colaborador"
	formulaWeek1  = "ICER-C Semana 1 = (ICER Col × 0.6) + (ICER TL × 0.4)"
	formulaMonth1 = "ICER-C Mes 1 = (ICER Col × 0.4) + (ICER TL × 0.6)"
)

func milestoneWeights(milestone string) map[string]float64 {
	switch milestone {
	case domain.MilestoneDay1:
		return map[string]float64{domain.RoleCollaborator: 1.0}
	case domain.MilestoneWeek1:
		return map[string]float64{domain.RoleCollaborator: 0.6, domain.RoleTeamLeader: 0.4}
	case domain.MilestoneMonth1:
		return map[string]float64{domain.RoleCollaborator: 0.4, domain.RoleTeamLeader: 0.6}
	default:
		return nil
	}
}

func milestoneFormula(milestone string) string {
	switch milestone {
	case domain.MilestoneDay1:
		return formulaDay1
	case domain.MilestoneWeek1:
		return formulaWeek1
	case domain.MilestoneMonth1:
		return formulaMonth1
	default:
		return ""
	}
}

// classifyRisk maps a final score onto the risk table. Scores outside [1,4]
// never occur for scale answers but fall through to NONE.
func classifyRisk(score *float64) string {
	if score == nil {
		return domain.RiskNone
	}
	s := *score
	switch {
	case s >= 1 && s < 2:
		return domain.RiskHigh
	case s >= 2 && s < 3:
		return domain.RiskMedium
	case s >= 3 && s <= 4:
		return domain.RiskLow
	default:
		return domain.RiskNone
	}
}

// Consolidate recomputes the milestone result for a collaborator. It is
// idempotent and re-entrant: every run re-reads the current completed
// assignments and overwrites the single result row for the pair. Until all
// required roles have a completed assignment it returns ErrNotReady and
// writes nothing.
//
// Scores with no numeric component are skipped when weighting; the remaining
// weights are renormalized so a milestone where only one rater answered scale
// questions still yields that rater's score. Only when no completed
// assignment carries a numeric score is the result stored score-less with
// risk NONE.
func (e Engine) Consolidate(ctx context.Context, collaboratorID, milestone, actorID string) (domain.MilestoneResult, error) {
	weights := milestoneWeights(milestone)
	if weights == nil {
		return domain.MilestoneResult{}, errors.New("invalid milestone " + milestone)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MilestoneResult{}, err
	}
	defer tx.Rollback()

	completed := make(map[string]domain.Assignment)
	for _, role := range domain.RequiredRoles(milestone) {
		a, err := e.Repo.CompletedAssignmentForRole(ctx, tx, collaboratorID, milestone, role)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.MilestoneResult{}, ErrNotReady
			}
			return domain.MilestoneResult{}, err
		}
		completed[role] = a
	}

	var weighted, weightSum float64
	var scored bool
	for role, a := range completed {
		if a.Score == nil {
			continue
		}
		weighted += *a.Score * weights[role]
		weightSum += weights[role]
		scored = true
	}

	res := domain.MilestoneResult{
		ID:                 uuid.New().String(),
		CollaboratorID:     collaboratorID,
		Milestone:          milestone,
		RiskLevel:          domain.RiskNone,
		CalculatedAt:       e.now().UTC().Format(time.RFC3339),
		CalculationFormula: milestoneFormula(milestone),
	}
	if a, ok := completed[domain.RoleCollaborator]; ok {
		id := a.ID
		res.CollaboratorAssignmentID = &id
	}
	if a, ok := completed[domain.RoleTeamLeader]; ok {
		id := a.ID
		res.TeamLeaderAssignmentID = &id
	}
	if scored {
		final := weighted / weightSum
		res.FinalScore = &final
		res.RiskLevel = classifyRisk(&final)
	}

	// The row id is stable across recalculations for the same pair.
	if prev, err := e.Repo.GetResultForPairTx(ctx, tx, collaboratorID, milestone); err == nil {
		res.ID = prev.ID
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.MilestoneResult{}, err
	}

	if err := e.Repo.UpsertMilestoneResult(ctx, tx, res); err != nil {
		return domain.MilestoneResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "result.consolidated", "result", res.ID, actorID, events.EventPayload{
		"collaborator_id": collaboratorID,
		"milestone":       milestone,
		"final_score":     res.FinalScore,
		"risk_level":      res.RiskLevel,
	}); err != nil {
		return domain.MilestoneResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MilestoneResult{}, err
	}
	return res, nil
}

// Recalculate forces a fresh consolidation, for operators fixing up data.
func (e Engine) Recalculate(ctx context.Context, collaboratorID, milestone, actorID string) (domain.MilestoneResult, error) {
	return e.Consolidate(ctx, collaboratorID, milestone, actorID)
}

// PendingConsolidations lists collaborators with every required assignment
// completed for a milestone but no stored result yet. Normally empty because
// submission consolidates inline; entries appear only after a consolidation
// failure.
func (e Engine) PendingConsolidations(ctx context.Context, milestone string) ([]string, error) {
	if !domain.ValidMilestone(milestone) {
		return nil, errors.New("invalid milestone " + milestone)
	}
	completed, err := e.Repo.ListAssignments(ctx, repo.AssignmentFilters{Milestone: milestone, Status: domain.StatusCompleted})
	if err != nil {
		return nil, err
	}
	byCollab := make(map[string]map[string]bool)
	for _, a := range completed {
		if byCollab[a.CollaboratorID] == nil {
			byCollab[a.CollaboratorID] = make(map[string]bool)
		}
		byCollab[a.CollaboratorID][a.TargetRole] = true
	}
	var res []string
	for collabID, roles := range byCollab {
		ready := true
		for _, role := range domain.RequiredRoles(milestone) {
			if !roles[role] {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		if _, err := e.Repo.GetResultForPair(ctx, collabID, milestone); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		res = append(res, collabID)
	}
	return res, nil
}
