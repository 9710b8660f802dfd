package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"icerline/internal/config"
	"icerline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- dimensions ---

func (r Repo) InsertDimension(ctx context.Context, tx *sql.Tx, d domain.Dimension) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO dimensions(id,code,name,ord,is_active,created_at) VALUES (?,?,?,?,?,?)`,
		d.ID, d.Code, d.Name, d.Order, boolInt(d.IsActive), d.CreatedAt)
	return err
}

// EnsureDimension inserts the dimension unless its code already exists.
func (r Repo) EnsureDimension(ctx context.Context, tx *sql.Tx, d domain.Dimension) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO dimensions(id,code,name,ord,is_active,created_at) VALUES (?,?,?,?,?,?)`,
		d.ID, d.Code, d.Name, d.Order, boolInt(d.IsActive), d.CreatedAt)
	return err
}

func (r Repo) GetDimension(ctx context.Context, id string) (domain.Dimension, error) {
	return scanDimension(r.DB.QueryRowContext(ctx, `SELECT id,code,name,ord,is_active,created_at FROM dimensions WHERE id=?`, id))
}

func (r Repo) GetDimensionByCode(ctx context.Context, code string) (domain.Dimension, error) {
	return scanDimension(r.DB.QueryRowContext(ctx, `SELECT id,code,name,ord,is_active,created_at FROM dimensions WHERE code=?`, code))
}

func scanDimension(row *sql.Row) (domain.Dimension, error) {
	var d domain.Dimension
	var active int
	err := row.Scan(&d.ID, &d.Code, &d.Name, &d.Order, &active, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	d.IsActive = active != 0
	return d, err
}

func (r Repo) ListDimensions(ctx context.Context, activeOnly bool) ([]domain.Dimension, error) {
	query := `SELECT id,code,name,ord,is_active,created_at FROM dimensions`
	if activeOnly {
		query += ` WHERE is_active=1`
	}
	query += ` ORDER BY ord ASC, code ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dimension
	for rows.Next() {
		var d domain.Dimension
		var active int
		if err := rows.Scan(&d.ID, &d.Code, &d.Name, &d.Order, &active, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.IsActive = active != 0
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) SetDimensionActive(ctx context.Context, tx *sql.Tx, id string, active bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE dimensions SET is_active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- collaborators ---

func (r Repo) InsertCollaborator(ctx context.Context, tx *sql.Tx, c domain.Collaborator) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO collaborators(id,name,project,team_leader_user_id,hire_date,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.Name, nullable(c.Project), nullableStringPtr(c.TeamLeaderUserID), nullable(c.HireDate), c.CreatedAt)
	return err
}

func (r Repo) GetCollaborator(ctx context.Context, id string) (domain.Collaborator, error) {
	var c domain.Collaborator
	var project, leader, hireDate sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,project,team_leader_user_id,hire_date,created_at FROM collaborators WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &project, &leader, &hireDate, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if project.Valid {
		c.Project = project.String
	}
	if leader.Valid {
		c.TeamLeaderUserID = &leader.String
	}
	if hireDate.Valid {
		c.HireDate = hireDate.String
	}
	return c, nil
}

func (r Repo) ListCollaborators(ctx context.Context) ([]domain.Collaborator, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,project,team_leader_user_id,hire_date,created_at FROM collaborators ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Collaborator
	for rows.Next() {
		var c domain.Collaborator
		var project, leader, hireDate sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &project, &leader, &hireDate, &c.CreatedAt); err != nil {
			return nil, err
		}
		if project.Valid {
			c.Project = project.String
		}
		if leader.Valid {
			c.TeamLeaderUserID = &leader.String
		}
		if hireDate.Valid {
			c.HireDate = hireDate.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- org config ---

func (r Repo) UpsertOrgConfig(ctx context.Context, orgID string, cfg *config.Config) error {
	return upsertOrgConfig(ctx, r.DB, nil, orgID, cfg)
}

func (r Repo) UpsertOrgConfigTx(ctx context.Context, tx *sql.Tx, orgID string, cfg *config.Config) error {
	return upsertOrgConfig(ctx, nil, tx, orgID, cfg)
}

func upsertOrgConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, orgID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Org.ID = orgID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO org_configs(org_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(org_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, orgID, string(payload), now, now)
	return err
}

// SingleOrgID returns the org when exactly one is configured.
func (r Repo) SingleOrgID(ctx context.Context) (string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT org_id FROM org_configs LIMIT 2`)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(ids) != 1 {
		return "", ErrNotFound
	}
	return ids[0], nil
}

func (r Repo) GetOrgConfig(ctx context.Context, orgID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM org_configs WHERE org_id=?`, orgID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Org.ID == "" {
		cfg.Org.ID = orgID
	}
	return &cfg, cfg.Validate()
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`
	return r.queryEvents(ctx, query, cursor, limit)
}

// LatestEventID returns the highest event id, 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
