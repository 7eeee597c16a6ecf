package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/rflorenc/site-migration-workbench/internal/migration"
)

// runRequest is the body of POST /api/migrate/run. Without keep_site the
// remote site is recreated, which must be acknowledged with yes.
type runRequest struct {
	Yes               bool `json:"yes"`
	KeepSite          bool `json:"keep_site"`
	RemoveRootFolders bool `json:"remove_root_folders"`
}

// MigrationRunHandler starts a migration run as a background job.
func (s *Server) MigrationRunHandler(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if !req.KeepSite && !req.Yes {
		writeError(w, http.StatusBadRequest, `recreating the remote site must be confirmed with "yes": true`)
		return
	}

	opts := migration.RunOptions{
		Yes:               req.Yes,
		KeepSite:          req.KeepSite,
		RemoveRootFolders: req.RemoveRootFolders,
	}
	job, ok := s.startJob("migration-run", func(ctx context.Context, log zerolog.Logger) error {
		return s.Runner.Migrate(ctx, opts, log)
	})
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "a job is already running",
			"job_id": job.ID,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// FixPositionsHandler starts a position repair as a background job.
func (s *Server) FixPositionsHandler(w http.ResponseWriter, r *http.Request) {
	job, ok := s.startJob("fix-positions", s.Runner.FixPositions)
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "a job is already running",
			"job_id": job.ID,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}
