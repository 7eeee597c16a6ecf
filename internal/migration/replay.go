package migration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rflorenc/site-migration-workbench/internal/models"
	"github.com/rflorenc/site-migration-workbench/internal/transform"
)

// step is one post-create side effect. It returns nil without calling the
// remote site when the record carries nothing for it.
type step struct {
	name string
	run  func(m *Migrator, ctx context.Context, rel string, rec models.Record) error
}

// replaySteps run strictly in this order. References and the UID come
// first: once the object exists remotely it must take part in deferred
// resolution even when a later step fails.
var replaySteps = []step{
	{"references", (*Migrator).collectReferences},
	{"uid", (*Migrator).setUID},
	{"owner", (*Migrator).setOwner},
	{"layout", (*Migrator).setLayout},
	{"unavailable", (*Migrator).setUnavailable},
	{"review state", (*Migrator).setReviewState},
	{"local roles", (*Migrator).setLocalRoles},
	{"created/modified", (*Migrator).setCreatedModified},
	{"position", (*Migrator).setPosition},
	{"marker interfaces", (*Migrator).setMarkerInterfaces},
	{"portlet blacklist", (*Migrator).setPortletBlacklist},
	{"permissions", (*Migrator).setPermissions},
}

// createObject transforms rec, creates it in its parent folder and replays
// its side effects.
func (m *Migrator) createObject(ctx context.Context, rec models.Record) error {
	start := time.Now()
	p, err := m.transformer.Transform(ctx, rec)
	if err != nil {
		return err
	}
	rel := rec.RelativePath()
	if _, err := m.remote.Create(ctx, parentOf(rel), p); err != nil {
		return err
	}
	for _, s := range replaySteps {
		if err := s.run(m, ctx, rel, rec); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	m.record(rec.Type(), resultCreated)
	m.log.Info().Str("type", p.Type).Str("path", rel).Dur("elapsed", time.Since(start)).Msg("  CREATED")
	return nil
}

// parentOf returns the parent of a site-relative path ("" for top level).
func parentOf(rel string) string {
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		return rel[:i]
	}
	return ""
}

func (m *Migrator) setOwner(ctx context.Context, rel string, rec models.Record) error {
	if rec.Owner() == "" {
		return nil
	}
	return m.remote.SetOwner(ctx, rel, rec.Owner())
}

func (m *Migrator) setLayout(ctx context.Context, rel string, rec models.Record) error {
	layout, ok := transform.Layout(rec.Type(), rec.String("_layout"))
	if !ok {
		return nil
	}
	return m.remote.SetLayout(ctx, rel, layout)
}

func (m *Migrator) setUnavailable(ctx context.Context, rel string, rec models.Record) error {
	ann, ok := transform.Unavailable(rec)
	if !ok {
		return nil
	}
	return m.remote.SetUnavailable(ctx, rel, ann)
}

func (m *Migrator) setReviewState(ctx context.Context, rel string, rec models.Record) error {
	state := rec.String("review_state")
	if state == "" {
		return nil
	}
	return m.remote.SetReviewState(ctx, rel, state)
}

// collectReferences records what can only be resolved once every object
// exists: related items, image references, default pages and portlets.
func (m *Migrator) collectReferences(_ context.Context, rel string, rec models.Record) error {
	m.deferred.Collect(rec, rel)
	return nil
}

func (m *Migrator) setLocalRoles(ctx context.Context, rel string, rec models.Record) error {
	entries, inherit := transform.SharingEntries(rec)
	if len(entries) == 0 {
		return nil
	}
	return m.remote.SetLocalRoles(ctx, rel, entries, inherit)
}

func (m *Migrator) setUID(ctx context.Context, rel string, rec models.Record) error {
	if rec.UID() == "" {
		return nil
	}
	return m.remote.SetUID(ctx, rel, rec.UID())
}

func (m *Migrator) setCreatedModified(ctx context.Context, rel string, rec models.Record) error {
	created, modified := rec["creation_date"], rec["modification_date"]
	if created == nil && modified == nil {
		return nil
	}
	return m.remote.SetCreatedModified(ctx, rel, created, modified)
}

func (m *Migrator) setPosition(ctx context.Context, rel string, rec models.Record) error {
	if !rec.Has("_gopip") {
		return nil
	}
	return m.remote.SetPositionInParent(ctx, rel, rec.Position())
}

func (m *Migrator) setMarkerInterfaces(ctx context.Context, rel string, rec models.Record) error {
	ifaces := transform.MarkerInterfaces(rec)
	if len(ifaces) == 0 {
		return nil
	}
	return m.remote.SetMarkerInterfaces(ctx, rel, ifaces)
}

func (m *Migrator) setPortletBlacklist(ctx context.Context, rel string, rec models.Record) error {
	for _, manager := range transform.BlacklistedManagers(rec) {
		if err := m.remote.BlacklistPortlets(ctx, rel, manager); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) setPermissions(ctx context.Context, rel string, rec models.Record) error {
	perms := transform.Permissions(rec)
	if len(perms) == 0 {
		return nil
	}
	return m.remote.SetPermissions(ctx, rel, perms)
}
