package main

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rflorenc/site-migration-workbench/internal/migration"
	"github.com/rflorenc/site-migration-workbench/internal/scan"
)

// runner performs migrations and position repairs against the configured
// store and site. It serves both the command line and the job API.
type runner struct {
	app     *app
	metrics *migration.Metrics
}

// Migrate performs one migration run. Each call opens its own store and
// site client so that log output follows the given logger.
func (r *runner) Migrate(ctx context.Context, opts migration.RunOptions, log zerolog.Logger) error {
	if err := r.app.cfg.Validate(); err != nil {
		return err
	}
	store, err := r.app.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	site, _, err := r.app.newSite(log)
	if err != nil {
		return err
	}
	m := migration.New(r.app.cfg, store, site, r.metrics, log)
	return m.Run(ctx, opts)
}

// FixPositions renumbers child positions on the remote site.
func (r *runner) FixPositions(ctx context.Context, log zerolog.Logger) error {
	store, err := r.app.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	site, _, err := r.app.newSite(log)
	if err != nil {
		return err
	}
	_, err = scan.FixPositions(ctx, store, site, r.app.cfg.Site.LegacyID, log)
	return err
}
