package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rflorenc/site-migration-workbench/internal/models"
)

// ErrNotEmpty is returned by Load when the store already holds records and
// drop was not requested.
var ErrNotEmpty = errors.New("store already holds records - drop it first")

// LoadStats summarises one dump import.
type LoadStats struct {
	Files    int
	Inserted int
	Skipped  int
}

// Load imports every *.json file below dir into the store. Each file is one
// exported object; the derived path fields the replay queries on are
// computed here once.
func (s *Store) Load(ctx context.Context, dir string, drop bool, log zerolog.Logger) (LoadStats, error) {
	var stats LoadStats

	n, err := s.Count(ctx)
	if err != nil {
		return stats, err
	}
	if n > 0 {
		if !drop {
			return stats, ErrNotEmpty
		}
		log.Info().Int("records", n).Msg("truncating existing store")
		if err := s.Truncate(ctx); err != nil {
			return stats, err
		}
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walking %s: %w", dir, err)
	}
	stats.Files = len(files)
	log.Info().Str("dir", dir).Int("files", len(files)).Msg("=== Loading JSON dump ===")

	for i, fn := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rec, err := readDumpFile(fn)
		if err != nil {
			log.Warn().Err(err).Str("file", fn).Msg("unable to parse")
			stats.Skipped++
			continue
		}
		if err := s.Insert(ctx, rec); err != nil {
			return stats, err
		}
		stats.Inserted++
		if (i+1)%1000 == 0 {
			log.Info().Msgf("  %d/%d", i+1, len(files))
		}
	}
	log.Info().Int("inserted", stats.Inserted).Int("skipped", stats.Skipped).Msg("load complete")
	return stats, nil
}

func readDumpFile(fn string) (models.Record, error) {
	data, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}
	rec := models.Record{}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.Path() == "" {
		return nil, fmt.Errorf("no _path")
	}
	Prepare(rec, fn)
	return rec, nil
}

// Prepare adds the derived fields to one exported object: ancestor paths,
// parent and relative path, the original object id and a fresh store key.
func Prepare(rec models.Record, filename string) {
	path := rec.Path()
	ancestors := models.AncestorPaths(path)
	all := make([]interface{}, len(ancestors))
	for i, a := range ancestors {
		all[i] = a
	}
	rec["_paths_all"] = all
	rec["_parent_path"] = models.ParentPath(path)
	rec["_relative_path"] = models.RelativePath(path)

	related, _ := rec["relatedItems"].([]interface{})
	rec["hasRelatedItems"] = len(related) > 0
	rec["_import_type"] = "content"

	if id, ok := rec["_id"]; ok {
		rec["_object_id"] = id
		delete(rec, "_id")
	}
	rec["_key"] = uuid.NewString()
	rec["_json_filename"] = filename
}
