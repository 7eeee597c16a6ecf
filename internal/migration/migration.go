package migration

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"github.com/rflorenc/site-migration-workbench/internal/config"
	"github.com/rflorenc/site-migration-workbench/internal/docstore"
	"github.com/rflorenc/site-migration-workbench/internal/models"
	"github.com/rflorenc/site-migration-workbench/internal/platform"
	"github.com/rflorenc/site-migration-workbench/internal/transform"
)

// ErrAborted is returned when the operator declines the site re-creation.
var ErrAborted = errors.New("migration aborted by user")

// Store is the read side of the document store used by a run.
type Store interface {
	Query(ctx context.Context, q docstore.Query) iter.Seq2[models.Record, error]
	GetByKey(ctx context.Context, key string) (models.Record, error)
	GetByPath(ctx context.Context, path string) (models.Record, error)
	Descendants(ctx context.Context, path string) ([]models.Record, error)
}

// Remote is the target site. Paths are relative to the site root.
type Remote interface {
	CreateSite(ctx context.Context) error
	Prepare(ctx context.Context) error
	Fixup(ctx context.Context) error
	Discover(ctx context.Context) (*platform.SystemInfo, error)
	Vocabulary(ctx context.Context, name string) (map[string]string, error)

	Create(ctx context.Context, parentPath string, p *models.Payload) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error

	SetOwner(ctx context.Context, path, owner string) error
	SetLayout(ctx context.Context, path, layout string) error
	SetUnavailable(ctx context.Context, path string, annotation interface{}) error
	SetReviewState(ctx context.Context, path, state string) error
	SetLocalRoles(ctx context.Context, path string, entries []models.SharingEntry, inherit bool) error
	SetUID(ctx context.Context, path, uid string) error
	SetCreatedModified(ctx context.Context, path string, created, modified interface{}) error
	SetPositionInParent(ctx context.Context, path string, position int) error
	SetMarkerInterfaces(ctx context.Context, path string, interfaces []string) error
	BlacklistPortlets(ctx context.Context, path, manager string) error
	SetPermissions(ctx context.Context, path string, permissions map[string]interface{}) error
	SetAllowedAndAddableTypes(ctx context.Context, path string, allowed, addable []string, mode int) error

	AddPortlet(ctx context.Context, path string, a models.PortletAssignment) error
	SetDefaultPage(ctx context.Context, path, page string) error
	UpdateAllRelatedItems(ctx context.Context, related map[string][]string) error
	UpdateAllImageRefs(ctx context.Context, refs map[string]string) error
}

// RunOptions are the per-run switches of the command line.
type RunOptions struct {
	Yes               bool // skip the safety confirmation
	KeepSite          bool // incremental: do not recreate the site
	RemoveRootFolders bool // delete each root remotely before replaying it
	// Confirm asks the operator a yes/no question. Required unless Yes or
	// KeepSite is set.
	Confirm func(question string) (bool, error)
}

// Stats counts record outcomes of a run.
type Stats struct {
	Created int
	Failed  int
	Skipped int
}

// Migrator replays the exported records of the configured roots into the
// target site. It owns all per-run state; use one Migrator per run.
type Migrator struct {
	cfg         *config.Config
	store       Store
	remote      Remote
	transformer *transform.Transformer
	metrics     *Metrics
	log         zerolog.Logger

	exists   map[string]bool // site-relative paths confirmed to exist
	created  map[string]bool // site-relative paths created by this run
	deferred *Deferred
	stats    Stats
}

// New creates a Migrator. metrics may be nil.
func New(cfg *config.Config, store Store, remote Remote, metrics *Metrics, log zerolog.Logger) *Migrator {
	return &Migrator{
		cfg:         cfg,
		store:       store,
		remote:      remote,
		transformer: transform.New(cfg.Site.Languages, store, log),
		metrics:     metrics,
		log:         log,
		exists:      make(map[string]bool),
		created:     make(map[string]bool),
		deferred:    NewDeferred(),
	}
}

// Stats returns the outcome counters so far.
func (m *Migrator) Stats() Stats { return m.stats }

// Deferred returns the references collected so far.
func (m *Migrator) Deferred() *Deferred { return m.deferred }

// Run performs one full migration pass.
func (m *Migrator) Run(ctx context.Context, opts RunOptions) error {
	start := time.Now()
	m.log.Info().Str("site", m.cfg.Site.ID).Strs("folders", m.cfg.Migration.Folders).Msg("=== Starting migration ===")

	if err := m.Preflight(ctx, opts.KeepSite); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	if opts.KeepSite {
		m.log.Info().Msg("Skipping site creation (incremental mode)")
	} else {
		if !opts.Yes {
			if opts.Confirm == nil {
				return fmt.Errorf("site re-creation needs confirmation: %w", ErrAborted)
			}
			ok, err := opts.Confirm(fmt.Sprintf("Clear and recreate remote site %q", m.cfg.Site.ID))
			if err != nil {
				return fmt.Errorf("confirmation: %w", err)
			}
			if !ok {
				m.log.Warn().Msg("Aborting....")
				return ErrAborted
			}
		}
		m.log.Info().Msg("=== Creating site ===")
		if err := m.phase("create-site", func() error { return m.remote.CreateSite(ctx) }); err != nil {
			return fmt.Errorf("creating site: %w", err)
		}
	}

	m.log.Info().Msg("=== Preparing site ===")
	if err := m.phase("prepare", func() error { return m.remote.Prepare(ctx) }); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	if err := m.readVocabularies(ctx); err != nil {
		return err
	}
	m.log.Info().Strs("content_types", m.cfg.Migration.ContentTypes).
		Strs("excluded_content_types", m.cfg.Migration.ExcludedContentTypes).Msg("Content type filter")

	for _, root := range m.cfg.Migration.Folders {
		if ctx.Err() != nil {
			m.log.Warn().Msg("Migration cancelled by user")
			return ctx.Err()
		}
		if opts.RemoveRootFolders {
			rel := models.RelativePath(root)
			m.log.Info().Str("root", root).Msg("Removing remote root folder")
			if err := m.remote.Delete(ctx, rel); err != nil {
				return fmt.Errorf("removing %s: %w", root, err)
			}
		}
		if err := m.MigrateRoot(ctx, root); err != nil {
			return fmt.Errorf("migrating %s: %w", root, err)
		}
	}

	m.log.Info().Msg("=== Resolving deferred references ===")
	if err := m.phase("deferred", func() error { return m.ResolveDeferred(ctx) }); err != nil {
		return err
	}

	m.log.Info().Msg("=== Fixup ===")
	if err := m.phase("fixup", func() error { return m.remote.Fixup(ctx) }); err != nil {
		return fmt.Errorf("fixup: %w", err)
	}

	m.log.Info().
		Int("created", m.stats.Created).
		Int("failed", m.stats.Failed).
		Int("skipped", m.stats.Skipped).
		Dur("elapsed", time.Since(start)).
		Msg("=== Migration complete ===")
	return nil
}

// readVocabularies fetches the remote vocabularies the transformers check
// values against.
func (m *Migrator) readVocabularies(ctx context.Context) error {
	name := m.cfg.Migration.SubdepartmentVocabulary
	if name == "" {
		return nil
	}
	m.log.Info().Str("vocabulary", name).Msg("reading vocabulary")
	terms, err := m.remote.Vocabulary(ctx, name)
	if err != nil {
		return fmt.Errorf("reading vocabulary %s: %w", name, err)
	}
	tokens := make([]string, 0, len(terms))
	for tok := range terms {
		tokens = append(tokens, tok)
	}
	m.transformer.SetSubdepartments(tokens)
	return nil
}

// phase runs fn and records its duration.
func (m *Migrator) phase(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.metrics.observePhase(name, time.Since(start))
	m.log.Debug().Str("phase", name).Dur("elapsed", time.Since(start)).Msg("phase done")
	return err
}

func (m *Migrator) record(typ, result string) {
	switch result {
	case resultCreated:
		m.stats.Created++
	case resultFailed:
		m.stats.Failed++
	case resultSkipped:
		m.stats.Skipped++
	}
	m.metrics.observeObject(typ, result)
}
