package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rflorenc/site-migration-workbench/internal/config"
	"github.com/rflorenc/site-migration-workbench/internal/docstore"
	"github.com/rflorenc/site-migration-workbench/internal/platform"
)

// Preflight checks everything a run needs before the first remote
// mutation: site languages, root folder paths and their records. In
// incremental mode the existing site must also answer.
func (m *Migrator) Preflight(ctx context.Context, keepSite bool) error {
	m.log.Info().Msg("=== Preflight ===")
	if _, err := m.cfg.DefaultLanguage(); err != nil {
		return err
	}

	var errs []error
	for _, root := range m.cfg.Migration.Folders {
		if strings.HasSuffix(root, "/") {
			errs = append(errs, &config.ValidationError{Field: "migration.folders",
				Message: fmt.Sprintf("migration folder path %s must not end with a trailing slash - please remove it", root)})
			continue
		}
		rec, err := m.store.GetByPath(ctx, root)
		switch {
		case errors.Is(err, docstore.ErrNotFound):
			errs = append(errs, &config.ValidationError{Field: "migration.folders",
				Message: fmt.Sprintf("no exported record for migration folder %s", root)})
		case err != nil:
			return fmt.Errorf("resolving %s: %w", root, err)
		default:
			m.log.Info().Str("root", root).Str("type", rec.Type()).Msg("  root OK")
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if keepSite {
		m.log.Info().Msg("Checking remote site...")
		info, err := m.remote.Discover(ctx)
		if err != nil {
			return fmt.Errorf("remote site %s: %w", m.cfg.Site.ID, err)
		}
		if !platform.VersionAtLeast(info.PloneVersion, platform.MinPloneVersion) {
			m.log.Warn().Str("version", info.PloneVersion).Str("minimum", platform.MinPloneVersion).
				Msg("remote site is older than supported")
		}
		m.log.Info().Str("version", info.PloneVersion).Str("restapi", info.RestAPIVersion).Msg("Remote OK")
	}
	return nil
}
