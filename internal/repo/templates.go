package repo

import (
	"context"
	"database/sql"

	"icerline/internal/domain"
)

func (r Repo) InsertTemplate(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO templates(id,milestone,target_role,title,description,is_active,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Milestone, t.TargetRole, t.Title, nullable(t.Description), boolInt(t.IsActive), t.Version, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTemplate(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	res, err := tx.ExecContext(ctx, `UPDATE templates SET title=?, description=?, is_active=?, version=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), boolInt(t.IsActive), t.Version, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	t, err := scanTemplate(r.DB.QueryRowContext(ctx, `SELECT id,milestone,target_role,title,description,is_active,version,created_at,updated_at FROM templates WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	t.Questions, err = r.ListQuestions(ctx, t.ID)
	return t, err
}

func (r Repo) GetTemplateTx(ctx context.Context, tx *sql.Tx, id string) (domain.Template, error) {
	t, err := scanTemplate(tx.QueryRowContext(ctx, `SELECT id,milestone,target_role,title,description,is_active,version,created_at,updated_at FROM templates WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	t.Questions, err = r.listQuestions(ctx, tx, t.ID)
	return t, err
}

func scanTemplate(row *sql.Row) (domain.Template, error) {
	var t domain.Template
	var desc sql.NullString
	var active int
	err := row.Scan(&t.ID, &t.Milestone, &t.TargetRole, &t.Title, &desc, &active, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if desc.Valid {
		t.Description = desc.String
	}
	t.IsActive = active != 0
	return t, nil
}

// GetActiveTemplate returns the unique active template for a pair, or
// ErrNotFound when none is configured.
func (r Repo) GetActiveTemplate(ctx context.Context, milestone, targetRole string) (domain.Template, error) {
	t, err := scanTemplate(r.DB.QueryRowContext(ctx,
		`SELECT id,milestone,target_role,title,description,is_active,version,created_at,updated_at FROM templates WHERE milestone=? AND target_role=? AND is_active=1`,
		milestone, targetRole))
	if err != nil {
		return t, err
	}
	t.Questions, err = r.ListQuestions(ctx, t.ID)
	return t, err
}

type TemplateFilters struct {
	Milestone  string
	TargetRole string
	ActiveOnly bool
}

func (r Repo) ListTemplates(ctx context.Context, f TemplateFilters) ([]domain.Template, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Milestone != "" {
		clauses = append(clauses, "milestone=?")
		args = append(args, f.Milestone)
	}
	if f.TargetRole != "" {
		clauses = append(clauses, "target_role=?")
		args = append(args, f.TargetRole)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "is_active=1")
	}
	query := `SELECT id,milestone,target_role,title,description,is_active,version,created_at,updated_at FROM templates WHERE ` + joinAnd(clauses) + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Template
	for rows.Next() {
		var t domain.Template
		var desc sql.NullString
		var active int
		if err := rows.Scan(&t.ID, &t.Milestone, &t.TargetRole, &t.Title, &desc, &active, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			t.Description = desc.String
		}
		t.IsActive = active != 0
		res = append(res, t)
	}
	return res, rows.Err()
}

// DeactivatePair clears the active flag on every template sharing the pair.
func (r Repo) DeactivatePair(ctx context.Context, tx *sql.Tx, milestone, targetRole string) error {
	_, err := tx.ExecContext(ctx, `UPDATE templates SET is_active=0 WHERE milestone=? AND target_role=? AND is_active=1`, milestone, targetRole)
	return err
}

func (r Repo) SetTemplateActive(ctx context.Context, tx *sql.Tx, id string, active bool, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE templates SET is_active=?, updated_at=? WHERE id=?`, boolInt(active), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- questions ---

func (r Repo) InsertQuestion(ctx context.Context, tx *sql.Tx, q domain.Question) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO questions(id,template_id,dimension_id,text,type,ord,required) VALUES (?,?,?,?,?,?,?)`,
		q.ID, q.TemplateID, q.DimensionID, q.Text, q.Type, q.Order, boolInt(q.Required))
	return err
}

func (r Repo) DeleteQuestions(ctx context.Context, tx *sql.Tx, templateID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE template_id=?`, templateID)
	return err
}

func (r Repo) ListQuestions(ctx context.Context, templateID string) ([]domain.Question, error) {
	return queryQuestions(ctx, r.DB.QueryContext, templateID)
}

func (r Repo) listQuestions(ctx context.Context, tx *sql.Tx, templateID string) ([]domain.Question, error) {
	return queryQuestions(ctx, tx.QueryContext, templateID)
}

func (r Repo) CountQuestions(ctx context.Context, tx *sql.Tx, templateID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM questions WHERE template_id=?`, templateID).Scan(&n)
	return n, err
}

type queryFn func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func queryQuestions(ctx context.Context, query queryFn, templateID string) ([]domain.Question, error) {
	rows, err := query(ctx, `SELECT id,template_id,dimension_id,text,type,ord,required FROM questions WHERE template_id=? ORDER BY ord ASC, id ASC`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Question
	for rows.Next() {
		var q domain.Question
		var required int
		if err := rows.Scan(&q.ID, &q.TemplateID, &q.DimensionID, &q.Text, &q.Type, &q.Order, &required); err != nil {
			return nil, err
		}
		q.Required = required != 0
		res = append(res, q)
	}
	return res, rows.Err()
}

// HasCompletedAssignments reports whether any completed assignment references
// the template; such templates are published and version on edit.
func (r Repo) HasCompletedAssignments(ctx context.Context, tx *sql.Tx, templateID string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM assignments WHERE template_id=? AND status='COMPLETED' LIMIT 1`, templateID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}
