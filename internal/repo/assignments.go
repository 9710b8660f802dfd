package repo

import (
	"context"
	"database/sql"
	"strings"

	"icerline/internal/domain"
)

func (r Repo) InsertAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assignments(id,collaborator_id,evaluator_user_id,template_id,template_version,milestone,target_role,status,due_date,completed_at,score,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.CollaboratorID, nullableStringPtr(a.EvaluatorUserID), a.TemplateID, a.TemplateVersion, a.Milestone, a.TargetRole,
		a.Status, a.DueDate, nullableStringPtr(a.CompletedAt), nullableFloatPtr(a.Score), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) UpdateAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	res, err := tx.ExecContext(ctx, `UPDATE assignments SET status=?, completed_at=?, score=?, updated_at=? WHERE id=?`,
		a.Status, nullableStringPtr(a.CompletedAt), nullableFloatPtr(a.Score), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetAssignment(ctx context.Context, id string) (domain.Assignment, error) {
	a, err := scanAssignment(r.DB.QueryRowContext(ctx, assignmentSelect+` WHERE id=?`, id))
	if err != nil {
		return a, err
	}
	a.Answers, err = r.ListAnswers(ctx, a.ID)
	return a, err
}

func (r Repo) GetAssignmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Assignment, error) {
	a, err := scanAssignment(tx.QueryRowContext(ctx, assignmentSelect+` WHERE id=?`, id))
	if err != nil {
		return a, err
	}
	a.Answers, err = r.listAnswers(ctx, tx, a.ID)
	return a, err
}

const assignmentSelect = `SELECT id,collaborator_id,evaluator_user_id,template_id,template_version,milestone,target_role,status,due_date,completed_at,score,created_at,updated_at FROM assignments`

func scanAssignment(row *sql.Row) (domain.Assignment, error) {
	var a domain.Assignment
	var evaluator, completedAt sql.NullString
	var score sql.NullFloat64
	err := row.Scan(&a.ID, &a.CollaboratorID, &evaluator, &a.TemplateID, &a.TemplateVersion, &a.Milestone, &a.TargetRole,
		&a.Status, &a.DueDate, &completedAt, &score, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if evaluator.Valid {
		a.EvaluatorUserID = &evaluator.String
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.String
	}
	if score.Valid {
		a.Score = &score.Float64
	}
	return a, nil
}

type AssignmentFilters struct {
	CollaboratorID  string
	EvaluatorUserID string
	Milestone       string
	TargetRole      string
	Status          string
}

func (r Repo) ListAssignments(ctx context.Context, f AssignmentFilters) ([]domain.Assignment, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.CollaboratorID != "" {
		clauses = append(clauses, "collaborator_id=?")
		args = append(args, f.CollaboratorID)
	}
	if f.EvaluatorUserID != "" {
		clauses = append(clauses, "evaluator_user_id=?")
		args = append(args, f.EvaluatorUserID)
	}
	if f.Milestone != "" {
		clauses = append(clauses, "milestone=?")
		args = append(args, f.Milestone)
	}
	if f.TargetRole != "" {
		clauses = append(clauses, "target_role=?")
		args = append(args, f.TargetRole)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := assignmentSelect + ` WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		var evaluator, completedAt sql.NullString
		var score sql.NullFloat64
		if err := rows.Scan(&a.ID, &a.CollaboratorID, &evaluator, &a.TemplateID, &a.TemplateVersion, &a.Milestone, &a.TargetRole,
			&a.Status, &a.DueDate, &completedAt, &score, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if evaluator.Valid {
			a.EvaluatorUserID = &evaluator.String
		}
		if completedAt.Valid {
			a.CompletedAt = &completedAt.String
		}
		if score.Valid {
			a.Score = &score.Float64
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// FindOpenAssignment returns a non-terminal assignment for the triple, if any.
func (r Repo) FindOpenAssignment(ctx context.Context, tx *sql.Tx, collaboratorID, milestone, targetRole string) (domain.Assignment, error) {
	return scanAssignment(tx.QueryRowContext(ctx,
		assignmentSelect+` WHERE collaborator_id=? AND milestone=? AND target_role=? AND status != 'COMPLETED' LIMIT 1`,
		collaboratorID, milestone, targetRole))
}

// CompletedAssignmentForRole returns the most recently completed assignment
// for the triple. Consolidation always re-reads through this query.
func (r Repo) CompletedAssignmentForRole(ctx context.Context, tx *sql.Tx, collaboratorID, milestone, targetRole string) (domain.Assignment, error) {
	a, err := scanAssignment(tx.QueryRowContext(ctx,
		assignmentSelect+` WHERE collaborator_id=? AND milestone=? AND target_role=? AND status='COMPLETED' ORDER BY completed_at DESC, id DESC LIMIT 1`,
		collaboratorID, milestone, targetRole))
	if err != nil {
		return a, err
	}
	a.Answers, err = r.listAnswers(ctx, tx, a.ID)
	return a, err
}

// --- answers ---

func (r Repo) UpsertAnswer(ctx context.Context, tx *sql.Tx, assignmentID string, ans domain.Answer) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO answers(assignment_id,question_id,value_num,value_text) VALUES (?,?,?,?)
ON CONFLICT(assignment_id,question_id) DO UPDATE SET value_num=excluded.value_num, value_text=excluded.value_text`,
		assignmentID, ans.QuestionID, nullableIntPtr(ans.Value), nullableStringPtr(ans.Text))
	return err
}

func (r Repo) ReplaceAnswers(ctx context.Context, tx *sql.Tx, assignmentID string, answers []domain.Answer) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM answers WHERE assignment_id=?`, assignmentID); err != nil {
		return err
	}
	for _, ans := range answers {
		if err := r.UpsertAnswer(ctx, tx, assignmentID, ans); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListAnswers(ctx context.Context, assignmentID string) ([]domain.Answer, error) {
	return queryAnswers(ctx, r.DB.QueryContext, assignmentID)
}

func (r Repo) listAnswers(ctx context.Context, tx *sql.Tx, assignmentID string) ([]domain.Answer, error) {
	return queryAnswers(ctx, tx.QueryContext, assignmentID)
}

func queryAnswers(ctx context.Context, query queryFn, assignmentID string) ([]domain.Answer, error) {
	rows, err := query(ctx, `SELECT question_id,value_num,value_text FROM answers WHERE assignment_id=? ORDER BY question_id ASC`, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Answer
	for rows.Next() {
		var ans domain.Answer
		var num sql.NullInt64
		var text sql.NullString
		if err := rows.Scan(&ans.QuestionID, &num, &text); err != nil {
			return nil, err
		}
		if num.Valid {
			v := int(num.Int64)
			ans.Value = &v
		}
		if text.Valid {
			ans.Text = &text.String
		}
		res = append(res, ans)
	}
	return res, rows.Err()
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
