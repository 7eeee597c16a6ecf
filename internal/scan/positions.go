package scan

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rflorenc/site-migration-workbench/internal/docstore"
	"github.com/rflorenc/site-migration-workbench/internal/models"
)

// PositionSetter applies absolute positions on the target site.
type PositionSetter interface {
	SetPositionsInParent(ctx context.Context, positions []models.PositionEntry) error
}

// PositionStats summarises a position repair.
type PositionStats struct {
	Folders int // containers with children
	Updated int // containers whose positions were sent
	Failed  int
}

// FixPositions renumbers the children of every Folder, and of the portal
// root, to 0..n-1 in exported position order and sends them to the target
// site, one call per container. Failures are logged and counted.
func FixPositions(ctx context.Context, store Store, remote PositionSetter, legacyRoot string, log zerolog.Logger) (PositionStats, error) {
	var stats PositionStats
	log.Info().Msg("=== Fixing positions in parent ===")

	var folders []string
	for rec, err := range store.Query(ctx, docstore.Query{Types: []string{"Folder"}}) {
		if err != nil {
			return stats, err
		}
		folders = append(folders, rec.Path())
	}
	folders = append(folders, "/"+legacyRoot)

	for i, folder := range folders {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		var positions []models.PositionEntry
		for rec, err := range store.Query(ctx, docstore.Query{ParentPath: folder, ByPosition: true}) {
			if err != nil {
				return stats, err
			}
			positions = append(positions, models.PositionEntry{Path: rec.RelativePath(), Position: len(positions)})
		}
		if len(positions) == 0 {
			continue
		}
		stats.Folders++
		log.Debug().Msgf("%d/%d %s (%d children)", i+1, len(folders), folder, len(positions))
		if err := remote.SetPositionsInParent(ctx, positions); err != nil {
			log.Error().Err(err).Str("path", folder).Msg("setting positions failed")
			stats.Failed++
			continue
		}
		stats.Updated++
	}
	log.Info().Int("folders", stats.Folders).Int("updated", stats.Updated).Int("failed", stats.Failed).Msg("DONE")
	return stats, nil
}
