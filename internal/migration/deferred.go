package migration

import (
	"context"
	"errors"

	"github.com/rflorenc/site-migration-workbench/internal/models"
	"github.com/rflorenc/site-migration-workbench/internal/platform"
	"github.com/rflorenc/site-migration-workbench/internal/transform"
)

// Deferred accumulates cross-object references during a run. They are sent
// once, after every root has been replayed.
type Deferred struct {
	// RelatedItems maps a UID to the UIDs of its related items.
	RelatedItems map[string][]string
	// ImageRefs maps a UID to the UID of its referenced image.
	ImageRefs map[string]string
	// DefaultPages maps a record key to the id of its default page.
	DefaultPages map[string]string
	// Portlets maps the key of a portlet-bearing record to its site path.
	Portlets map[string]string

	pageKeys    []string
	portletKeys []string
}

// NewDeferred returns empty accumulators.
func NewDeferred() *Deferred {
	return &Deferred{
		RelatedItems: make(map[string][]string),
		ImageRefs:    make(map[string]string),
		DefaultPages: make(map[string]string),
		Portlets:     make(map[string]string),
	}
}

// Collect records the deferred references of a created object.
func (d *Deferred) Collect(rec models.Record, rel string) {
	uid := rec.UID()
	if related := rec.Strings("relatedItems"); len(related) > 0 && uid != "" {
		d.RelatedItems[uid] = related
	}
	if ref := imageRef(rec); ref != "" && uid != "" {
		d.ImageRefs[uid] = ref
	}

	key := rec.Key()
	if key == "" {
		return
	}
	if page := rec.String("_defaultpage"); page != "" {
		if _, seen := d.DefaultPages[key]; !seen {
			d.pageKeys = append(d.pageKeys, key)
		}
		d.DefaultPages[key] = page
	}
	if len(rec.Map("_portlets")) > 0 {
		if _, seen := d.Portlets[key]; !seen {
			d.portletKeys = append(d.portletKeys, key)
		}
		d.Portlets[key] = rel
	}
}

// imageRef returns the referenced image UID of a record. The export holds
// either a single UID or a one-element list.
func imageRef(rec models.Record) string {
	if s := rec.String("imageref"); s != "" {
		return s
	}
	if l := rec.Strings("imageref"); len(l) > 0 {
		return l[0]
	}
	return ""
}

// ResolveDeferred sends default pages, portlets, related items and image
// references, in that order. Failures are logged per entry; only
// cancellation stops the pass.
func (m *Migrator) ResolveDeferred(ctx context.Context) error {
	d := m.deferred

	m.log.Info().Int("count", len(d.pageKeys)).Msg("Setting default pages")
	for _, key := range d.pageKeys {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec, err := m.store.GetByKey(ctx, key)
		if err != nil {
			m.log.Error().Err(err).Str("key", key).Msg("default page: record lookup failed")
			m.metrics.observeDeferred("default-page", resultFailed)
			continue
		}
		err = m.remote.SetDefaultPage(ctx, rec.RelativePath(), d.DefaultPages[key])
		switch {
		case errors.Is(err, platform.ErrDefaultPageMissing):
			m.log.Error().Err(err).Str("path", rec.Path()).Msg("Error setting default page (404)")
			m.metrics.observeDeferred("default-page", resultFailed)
		case err != nil:
			m.log.Error().Err(err).Str("path", rec.Path()).Msg("Error setting default page")
			m.metrics.observeDeferred("default-page", resultFailed)
		default:
			m.metrics.observeDeferred("default-page", resultCreated)
		}
	}

	m.log.Info().Int("count", len(d.portletKeys)).Msg("Migrating portlets")
	for _, key := range d.portletKeys {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec, err := m.store.GetByKey(ctx, key)
		if err != nil {
			m.log.Error().Err(err).Str("key", key).Msg("portlets: record lookup failed")
			m.metrics.observeDeferred("portlet", resultFailed)
			continue
		}
		for _, a := range transform.Portlets(rec) {
			if err := m.remote.AddPortlet(ctx, d.Portlets[key], a); err != nil {
				m.log.Error().Err(err).Str("path", rec.Path()).Str("manager", a.Manager).Msg("Error adding portlet")
				m.metrics.observeDeferred("portlet", resultFailed)
				continue
			}
			m.metrics.observeDeferred("portlet", resultCreated)
		}
	}

	m.log.Info().Int("count", len(d.RelatedItems)).Msg("Updating related items")
	if err := m.remote.UpdateAllRelatedItems(ctx, d.RelatedItems); err != nil {
		m.log.Error().Err(err).Msg("Error updating related items")
		m.metrics.observeDeferred("related-items", resultFailed)
	} else {
		m.metrics.observeDeferred("related-items", resultCreated)
	}

	m.log.Info().Int("count", len(d.ImageRefs)).Msg("Updating image references")
	if err := m.remote.UpdateAllImageRefs(ctx, d.ImageRefs); err != nil {
		m.log.Error().Err(err).Msg("Error updating image references")
		m.metrics.observeDeferred("image-refs", resultFailed)
	} else {
		m.metrics.observeDeferred("image-refs", resultCreated)
	}
	return ctx.Err()
}
