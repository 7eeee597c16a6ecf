package migration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/rflorenc/site-migration-workbench/internal/docstore"
	"github.com/rflorenc/site-migration-workbench/internal/models"
	"github.com/rflorenc/site-migration-workbench/internal/transform"
)

const (
	resultCreated = "created"
	resultFailed  = "failed"
	resultSkipped = "skipped"
)

// fatal reports errors that must stop the run instead of being logged per
// record: corrupt store data, a parent record that must exist, cancellation.
func fatal(err error) bool {
	return errors.Is(err, docstore.ErrAmbiguous) ||
		errors.Is(err, docstore.ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// MigrateRoot replays one configured root folder: folders first, then
// content, then the folder type restrictions.
func (m *Migrator) MigrateRoot(ctx context.Context, root string) error {
	m.log.Info().Str("root", root).Msg("=== Migrating folder ===")

	var recs []models.Record
	err := m.phase("enumerate", func() error {
		var err error
		recs, err = m.Enumerate(ctx, root)
		return err
	})
	if err != nil {
		return fmt.Errorf("enumerate: %w", err)
	}
	m.log.Info().Str("root", root).Int("records", len(recs)).Msg("enumerated")

	var folders []models.Record
	m.log.Info().Msg("=== Building folders ===")
	err = m.phase("build-folders", func() error {
		var err error
		folders, err = m.BuildFolders(ctx, recs)
		return err
	})
	if err != nil {
		return err
	}

	m.log.Info().Msg("=== Building content ===")
	if err := m.phase("build-content", func() error { return m.BuildContent(ctx, recs) }); err != nil {
		return err
	}

	m.log.Info().Msg("=== Folder restrictions ===")
	return m.phase("fixup-folders", func() error { return m.FixupFolders(ctx, root, folders) })
}

// Enumerate returns the root record and every record below it, grouped by
// legacy type. Folderish groups are ordered shallowest first; ties and
// other groups keep the store's path order.
func (m *Migrator) Enumerate(ctx context.Context, root string) ([]models.Record, error) {
	var recs []models.Record
	for rec, err := range m.store.Query(ctx, docstore.Query{Ancestor: root, OrSelf: true}) {
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		ti, tj := recs[i].Type(), recs[j].Type()
		if ti != tj {
			return ti < tj
		}
		if transform.IsFolderish(ti) {
			return models.Depth(recs[i].Path()) < models.Depth(recs[j].Path())
		}
		return false
	})
	return recs, nil
}

// groups splits type-sorted records into runs of the same type.
func groups(recs []models.Record) [][]models.Record {
	var out [][]models.Record
	for i := 0; i < len(recs); {
		j := i + 1
		for j < len(recs) && recs[j].Type() == recs[i].Type() {
			j++
		}
		out = append(out, recs[i:j])
		i = j
	}
	return out
}

// BuildFolders creates every folderish record together with any missing
// ancestor. It returns the folderish records it processed.
func (m *Migrator) BuildFolders(ctx context.Context, recs []models.Record) ([]models.Record, error) {
	var folders []models.Record
	for _, items := range groups(recs) {
		typ := items[0].Type()
		if !transform.IsFolderish(typ) {
			continue
		}
		m.log.Info().Str("type", typ).Msg("Processing portal_type")
		for i, rec := range items {
			if ctx.Err() != nil {
				return folders, ctx.Err()
			}
			m.log.Info().Msgf("%d/%d Folder %s", i+1, len(items), rec.Path())
			folders = append(folders, rec)
			if err := m.ensureFolder(ctx, rec); err != nil {
				if fatal(err) {
					return folders, fmt.Errorf("folder %s: %w", rec.Path(), err)
				}
				m.fail(rec, err)
			}
		}
	}
	return folders, nil
}

// ensureFolder creates the missing ancestors of rec, then rec itself unless
// it already exists remotely.
func (m *Migrator) ensureFolder(ctx context.Context, rec models.Record) error {
	rel := rec.RelativePath()
	portal := portalRoot(rec.Path())
	comps := strings.Split(rel, "/")
	for i := 1; i < len(comps); i++ {
		parent := strings.Join(comps[:i], "/")
		ok, err := m.remoteExists(ctx, parent)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		prec, err := m.store.GetByPath(ctx, portal+"/"+parent)
		if err != nil {
			return fmt.Errorf("parent %s: %w", parent, err)
		}
		m.log.Info().Str("path", prec.Path()).Msg("  creating missing parent")
		if err := m.createObject(ctx, prec); err != nil {
			return fmt.Errorf("parent %s: %w", parent, err)
		}
		m.exists[parent] = true
		m.created[parent] = true
	}

	if m.created[rel] {
		m.log.Debug().Str("path", rec.Path()).Msg("  already created as a parent")
		return nil
	}
	ok, err := m.remoteExists(ctx, rel)
	if err != nil {
		return err
	}
	if ok {
		m.log.Info().Str("path", rec.Path()).Msg("  SKIP (exists)")
		m.record(rec.Type(), resultSkipped)
		return nil
	}
	if err := m.createObject(ctx, rec); err != nil {
		return err
	}
	m.exists[rel] = true
	m.created[rel] = true
	return nil
}

// remoteExists consults the position cache before probing the remote
// site. Only positive answers are cached.
func (m *Migrator) remoteExists(ctx context.Context, rel string) (bool, error) {
	if m.exists[rel] {
		m.metrics.observeProbe("cached")
		return true, nil
	}
	ok, err := m.remote.Exists(ctx, rel)
	if err != nil {
		return false, err
	}
	if ok {
		m.exists[rel] = true
		m.metrics.observeProbe("exists")
	} else {
		m.metrics.observeProbe("absent")
	}
	return ok, nil
}

// BuildContent creates the non-folderish records of processed types that
// pass the configured type filters. A failing record is logged and the
// loop moves on.
func (m *Migrator) BuildContent(ctx context.Context, recs []models.Record) error {
	include := m.cfg.Migration.ContentTypes
	exclude := m.cfg.Migration.ExcludedContentTypes
	for _, items := range groups(recs) {
		typ := items[0].Type()
		switch {
		case transform.IsFolderish(typ):
			continue
		case slices.Contains(exclude, typ):
			m.log.Info().Msgf("Skipping processing of %q due to `excluded_content_types` configuration", typ)
			continue
		case len(include) > 0 && !slices.Contains(include, typ):
			m.log.Info().Msgf("Skipping processing of %q due to `content_types` configuration", typ)
			continue
		case !transform.IsProcessed(typ):
			m.log.Debug().Str("type", typ).Int("records", len(items)).Msg("not a processed type")
			continue
		}

		for i, rec := range items {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Info().Msgf("%d/%d %s %s", i+1, len(items), typ, rec.RelativePath())
			if err := m.createObject(ctx, rec); err != nil {
				if fatal(err) {
					return fmt.Errorf("%s: %w", rec.Path(), err)
				}
				m.fail(rec, err)
			}
		}
	}
	return nil
}

// FixupFolders applies content type restrictions to the root and every
// folder of the run, now that all content is in place.
func (m *Migrator) FixupFolders(ctx context.Context, root string, folders []models.Record) error {
	rootRec, err := m.store.GetByPath(ctx, root)
	if err != nil {
		return fmt.Errorf("root %s: %w", root, err)
	}
	all := []models.Record{rootRec}
	for _, f := range folders {
		if f.Path() != rootRec.Path() {
			all = append(all, f)
		}
	}
	for _, rec := range all {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		allowed, addable, mode, ok := transform.TypeRestrictions(rec)
		if !ok {
			continue
		}
		if err := m.remote.SetAllowedAndAddableTypes(ctx, rec.RelativePath(), allowed, addable, mode); err != nil {
			m.log.Error().Err(err).Str("path", rec.Path()).Msg("setting allowed/addable types failed")
		}
	}
	return nil
}

// fail logs a contained record failure with enough context to re-drive it.
func (m *Migrator) fail(rec models.Record, err error) {
	if errors.Is(err, transform.ErrSkipped) {
		m.log.Info().Str("path", rec.Path()).Str("reason", err.Error()).Msg("  SKIP")
		m.record(rec.Type(), resultSkipped)
		return
	}
	m.log.Error().Err(err).Str("path", rec.Path()).Str("type", rec.Type()).Msgf("MigrationError: %s", rec.Path())
	m.record(rec.Type(), resultFailed)
}

// portalRoot returns the first segment of an absolute legacy path as a
// path (/plone_portal/a/b -> /plone_portal).
func portalRoot(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.Index(p, "/"); i >= 0 {
		p = p[:i]
	}
	return "/" + p
}
