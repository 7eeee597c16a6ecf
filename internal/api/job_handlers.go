package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/rflorenc/site-migration-workbench/internal/models"
)

func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Jobs.List())
}

func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob cancels a running job.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.State() != "running" {
		writeError(w, http.StatusConflict, "job is not running")
		return
	}
	job.Cancel()
	job.AppendLog("CANCELLED: stopped by user")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// startJob creates a job and runs fn in the background under a cancellable
// context. Only one job runs at a time; ok is false when another one is
// still running.
func (s *Server) startJob(jobType string, fn func(ctx context.Context, log zerolog.Logger) error) (job *models.Job, ok bool) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if running := s.Jobs.Running(); running != nil {
		return running, false
	}

	job = s.Jobs.Create(jobType)
	ctx, cancel := context.WithCancel(context.Background())
	job.Bind(cancel)
	log := s.jobLogger(job)

	go func() {
		defer cancel()
		err := fn(ctx, log)
		switch {
		case err == nil:
			job.Complete()
		case errors.Is(err, context.Canceled):
			// Cancel already moved the job to its final state.
		default:
			job.AppendLog("ERROR: " + err.Error())
			job.Fail(err.Error())
		}
	}()
	return job, true
}

// jobLogger tees the server logger into the job's log buffer.
func (s *Server) jobLogger(job *models.Job) zerolog.Logger {
	jobOut := zerolog.ConsoleWriter{
		Out:          job,
		NoColor:      true,
		PartsExclude: []string{zerolog.TimestampFieldName},
	}
	if s.LogOutput == nil {
		return s.Log.Output(jobOut).With().Str("job", job.ID).Logger()
	}
	return s.Log.Output(zerolog.MultiLevelWriter(s.LogOutput, jobOut)).With().Str("job", job.ID).Logger()
}
