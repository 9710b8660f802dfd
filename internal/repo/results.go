package repo

import (
	"context"
	"database/sql"

	"icerline/internal/domain"
)

// UpsertMilestoneResult writes or replaces the single result row for a
// (collaborator, milestone) pair.
func (r Repo) UpsertMilestoneResult(ctx context.Context, tx *sql.Tx, res domain.MilestoneResult) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO milestone_results(id,collaborator_id,milestone,collaborator_assignment_id,team_leader_assignment_id,final_score,risk_level,calculated_at,calculation_formula)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(collaborator_id,milestone) DO UPDATE SET
    collaborator_assignment_id=excluded.collaborator_assignment_id,
    team_leader_assignment_id=excluded.team_leader_assignment_id,
    final_score=excluded.final_score,
    risk_level=excluded.risk_level,
    calculated_at=excluded.calculated_at,
    calculation_formula=excluded.calculation_formula`,
		res.ID, res.CollaboratorID, res.Milestone, nullableStringPtr(res.CollaboratorAssignmentID), nullableStringPtr(res.TeamLeaderAssignmentID),
		nullableFloatPtr(res.FinalScore), res.RiskLevel, res.CalculatedAt, res.CalculationFormula)
	return err
}

const resultSelect = `SELECT id,collaborator_id,milestone,collaborator_assignment_id,team_leader_assignment_id,final_score,risk_level,calculated_at,calculation_formula FROM milestone_results`

func scanResult(row *sql.Row) (domain.MilestoneResult, error) {
	var res domain.MilestoneResult
	var colID, tlID sql.NullString
	var score sql.NullFloat64
	err := row.Scan(&res.ID, &res.CollaboratorID, &res.Milestone, &colID, &tlID, &score, &res.RiskLevel, &res.CalculatedAt, &res.CalculationFormula)
	if err == sql.ErrNoRows {
		return res, ErrNotFound
	}
	if err != nil {
		return res, err
	}
	if colID.Valid {
		res.CollaboratorAssignmentID = &colID.String
	}
	if tlID.Valid {
		res.TeamLeaderAssignmentID = &tlID.String
	}
	if score.Valid {
		res.FinalScore = &score.Float64
	}
	return res, nil
}

func (r Repo) GetMilestoneResult(ctx context.Context, id string) (domain.MilestoneResult, error) {
	return scanResult(r.DB.QueryRowContext(ctx, resultSelect+` WHERE id=?`, id))
}

func (r Repo) GetResultForPair(ctx context.Context, collaboratorID, milestone string) (domain.MilestoneResult, error) {
	return scanResult(r.DB.QueryRowContext(ctx, resultSelect+` WHERE collaborator_id=? AND milestone=?`, collaboratorID, milestone))
}

func (r Repo) GetResultForPairTx(ctx context.Context, tx *sql.Tx, collaboratorID, milestone string) (domain.MilestoneResult, error) {
	return scanResult(tx.QueryRowContext(ctx, resultSelect+` WHERE collaborator_id=? AND milestone=?`, collaboratorID, milestone))
}

func (r Repo) ListMilestoneResults(ctx context.Context, collaboratorID string) ([]domain.MilestoneResult, error) {
	rows, err := r.DB.QueryContext(ctx, resultSelect+` WHERE collaborator_id=? ORDER BY calculated_at ASC, id ASC`, collaboratorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.MilestoneResult
	for rows.Next() {
		var res domain.MilestoneResult
		var colID, tlID sql.NullString
		var score sql.NullFloat64
		if err := rows.Scan(&res.ID, &res.CollaboratorID, &res.Milestone, &colID, &tlID, &score, &res.RiskLevel, &res.CalculatedAt, &res.CalculationFormula); err != nil {
			return nil, err
		}
		if colID.Valid {
			res.CollaboratorAssignmentID = &colID.String
		}
		if tlID.Valid {
			res.TeamLeaderAssignmentID = &tlID.String
		}
		if score.Valid {
			res.FinalScore = &score.Float64
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// --- follow-up plans ---

func (r Repo) InsertFollowUpPlan(ctx context.Context, tx *sql.Tx, p domain.FollowUpPlan) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO followup_plans(id,code,title,description,target_risk_level,dimension_code,is_active,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Code, p.Title, nullable(p.Description), p.TargetRiskLevel, nullableStringPtr(p.DimensionCode), boolInt(p.IsActive), p.CreatedAt)
	return err
}

func (r Repo) EnsureFollowUpPlan(ctx context.Context, tx *sql.Tx, p domain.FollowUpPlan) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO followup_plans(id,code,title,description,target_risk_level,dimension_code,is_active,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Code, p.Title, nullable(p.Description), p.TargetRiskLevel, nullableStringPtr(p.DimensionCode), boolInt(p.IsActive), p.CreatedAt)
	return err
}

func (r Repo) ListFollowUpPlans(ctx context.Context, activeOnly bool) ([]domain.FollowUpPlan, error) {
	query := `SELECT id,code,title,description,target_risk_level,dimension_code,is_active,created_at FROM followup_plans`
	if activeOnly {
		query += ` WHERE is_active=1`
	}
	query += ` ORDER BY code ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FollowUpPlan
	for rows.Next() {
		p, err := scanPlanRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// PlansForRisk returns active plans targeting a risk level, dimension-specific
// plans first.
func (r Repo) PlansForRisk(ctx context.Context, riskLevel string) ([]domain.FollowUpPlan, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,code,title,description,target_risk_level,dimension_code,is_active,created_at FROM followup_plans
WHERE target_risk_level=? AND is_active=1
ORDER BY CASE WHEN dimension_code IS NULL THEN 1 ELSE 0 END, code ASC`, riskLevel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FollowUpPlan
	for rows.Next() {
		p, err := scanPlanRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// DimensionAverage is the mean of the scale answers tagged with one
// dimension, across a set of assignments.
type DimensionAverage struct {
	DimensionCode string
	DimensionName string
	Average       float64
}

// DimensionAverages aggregates scale answers per dimension, weakest first.
func (r Repo) DimensionAverages(ctx context.Context, assignmentIDs []string) ([]DimensionAverage, error) {
	if len(assignmentIDs) == 0 {
		return nil, nil
	}
	placeholders := "?"
	args := []any{assignmentIDs[0]}
	for _, id := range assignmentIDs[1:] {
		placeholders += ",?"
		args = append(args, id)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT d.code, d.name, AVG(a.value_num)
FROM answers a
JOIN questions q ON q.id = a.question_id
JOIN dimensions d ON d.id = q.dimension_id
WHERE a.assignment_id IN (`+placeholders+`) AND a.value_num IS NOT NULL
GROUP BY d.code, d.name
ORDER BY AVG(a.value_num) ASC, d.code ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []DimensionAverage
	for rows.Next() {
		var da DimensionAverage
		if err := rows.Scan(&da.DimensionCode, &da.DimensionName, &da.Average); err != nil {
			return nil, err
		}
		res = append(res, da)
	}
	return res, rows.Err()
}

func scanPlanRow(rows *sql.Rows) (domain.FollowUpPlan, error) {
	var p domain.FollowUpPlan
	var desc, dim sql.NullString
	var active int
	if err := rows.Scan(&p.ID, &p.Code, &p.Title, &desc, &p.TargetRiskLevel, &dim, &active, &p.CreatedAt); err != nil {
		return p, err
	}
	if desc.Valid {
		p.Description = desc.String
	}
	if dim.Valid {
		p.DimensionCode = &dim.String
	}
	p.IsActive = active != 0
	return p, nil
}
