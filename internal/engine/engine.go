package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"icerline/internal/config"
	"icerline/internal/domain"
	"icerline/internal/events"
	"icerline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// SeedCatalog inserts the config's dimension and follow-up plan catalogs if
// they are not present yet. Safe to run on every startup.
func (e Engine) SeedCatalog(ctx context.Context, actorID string) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	for _, seed := range e.Config.Dimensions {
		d := domain.Dimension{
			ID:        uuid.New().String(),
			Code:      seed.Code,
			Name:      seed.Name,
			Order:     seed.Order,
			IsActive:  true,
			CreatedAt: now,
		}
		if err := e.Repo.EnsureDimension(ctx, tx, d); err != nil {
			return fmt.Errorf("seed dimension %s: %w", seed.Code, err)
		}
	}
	for _, seed := range e.Config.FollowUp.Plans {
		p := domain.FollowUpPlan{
			ID:              uuid.New().String(),
			Code:            seed.Code,
			Title:           seed.Title,
			Description:     seed.Description,
			TargetRiskLevel: seed.TargetRiskLevel,
			IsActive:        true,
			CreatedAt:       now,
		}
		if seed.DimensionCode != "" {
			p.DimensionCode = &seed.DimensionCode
		}
		if err := e.Repo.EnsureFollowUpPlan(ctx, tx, p); err != nil {
			return fmt.Errorf("seed plan %s: %w", seed.Code, err)
		}
	}
	return tx.Commit()
}

// CreateDimension registers a new evaluation dimension. Code is immutable and
// unique after creation.
func (e Engine) CreateDimension(ctx context.Context, code, name string, order int, actorID string) (domain.Dimension, error) {
	if code == "" {
		return domain.Dimension{}, errors.New("code is required")
	}
	if name == "" {
		return domain.Dimension{}, errors.New("name is required")
	}
	if _, err := e.Repo.GetDimensionByCode(ctx, code); err == nil {
		return domain.Dimension{}, ConflictError{Reason: fmt.Sprintf("dimension code %s already exists", code)}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Dimension{}, err
	}
	d := domain.Dimension{
		ID:        uuid.New().String(),
		Code:      code,
		Name:      name,
		Order:     order,
		IsActive:  true,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Dimension{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDimension(ctx, tx, d); err != nil {
		return domain.Dimension{}, fmt.Errorf("insert dimension: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "dimension.created", "dimension", d.ID, actorID, events.EventPayload{"code": d.Code}); err != nil {
		return domain.Dimension{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dimension{}, err
	}
	return d, nil
}

// SetDimensionActive soft-toggles a dimension. Dimensions are never deleted
// and stay referenced by historical templates.
func (e Engine) SetDimensionActive(ctx context.Context, id string, active bool, actorID string) (domain.Dimension, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Dimension{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetDimensionActive(ctx, tx, id, active); err != nil {
		return domain.Dimension{}, err
	}
	if err := e.Events.Append(ctx, tx, "dimension.toggled", "dimension", id, actorID, events.EventPayload{"is_active": active}); err != nil {
		return domain.Dimension{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dimension{}, err
	}
	return e.Repo.GetDimension(ctx, id)
}

// CreateCollaborator registers a collaborator in the directory.
func (e Engine) CreateCollaborator(ctx context.Context, c domain.Collaborator, actorID string) (domain.Collaborator, error) {
	if c.Name == "" {
		return c, errors.New("name is required")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCollaborator(ctx, tx, c); err != nil {
		return c, fmt.Errorf("insert collaborator: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "collaborator.created", "collaborator", c.ID, actorID, events.EventPayload{"name": c.Name}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// CreateFollowUpPlan adds a catalog entry for the follow-up trigger.
func (e Engine) CreateFollowUpPlan(ctx context.Context, p domain.FollowUpPlan, actorID string) (domain.FollowUpPlan, error) {
	if p.Code == "" {
		return p, errors.New("code is required")
	}
	if p.Title == "" {
		return p, errors.New("title is required")
	}
	if p.TargetRiskLevel != domain.RiskHigh && p.TargetRiskLevel != domain.RiskMedium {
		return p, fmt.Errorf("invalid target risk level %q", p.TargetRiskLevel)
	}
	if p.DimensionCode != nil {
		if _, err := e.Repo.GetDimensionByCode(ctx, *p.DimensionCode); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return p, fmt.Errorf("unknown dimension code %s", *p.DimensionCode)
			}
			return p, err
		}
	}
	p.ID = uuid.New().String()
	p.IsActive = true
	p.CreatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertFollowUpPlan(ctx, tx, p); err != nil {
		return p, fmt.Errorf("insert follow-up plan: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "followup_plan.created", "followup_plan", p.ID, actorID, events.EventPayload{"code": p.Code, "risk": p.TargetRiskLevel}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}
