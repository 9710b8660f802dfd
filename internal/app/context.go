package app

import (
	"context"
	"errors"
	"fmt"

	"icerline/internal/config"
	"icerline/internal/repo"
)

// ResolveOrgAndConfig picks the active org and ensures its config exists in
// the database, seeding the default when missing. It prefers the override,
// then the single org already in the DB, then the built-in default org.
func ResolveOrgAndConfig(ctx context.Context, orgOverride string, r repo.Repo) (string, *config.Config, error) {
	orgID := orgOverride
	if orgID == "" {
		if id, err := r.SingleOrgID(ctx); err == nil {
			orgID = id
		} else if errors.Is(err, repo.ErrNotFound) {
			orgID = config.DefaultOrgID
		} else {
			return "", nil, err
		}
	}
	cfg, err := r.GetOrgConfig(ctx, orgID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(orgID)
		if err := r.UpsertOrgConfig(ctx, orgID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed org config: %w", err)
		}
	}
	cfg.Org.ID = orgID
	return orgID, cfg, nil
}
