package api

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// logPollInterval is how often a stream checks the job for new lines.
var logPollInterval = 200 * time.Millisecond

// Frame kinds sent over a job log stream.
const (
	frameLog    = "log"
	framePhase  = "phase"
	frameObject = "object"
	frameStatus = "status"
)

// logFrame is one JSON message of a job log stream. Log lines are
// classified so clients can follow phases and per-object results without
// parsing text.
type logFrame struct {
	Kind    string            `json:"kind"`
	Offset  int               `json:"offset"`
	Level   string            `json:"level,omitempty"`
	Message string            `json:"message,omitempty"`
	Phase   string            `json:"phase,omitempty"`
	Result  string            `json:"result,omitempty"` // created, skipped, failed
	Fields  map[string]string `json:"fields,omitempty"`
	Status  string            `json:"status,omitempty"`
	Error   string            `json:"error,omitempty"`
}

var (
	levels     = map[string]string{"TRC": "trace", "DBG": "debug", "INF": "info", "WRN": "warn", "ERR": "error", "FTL": "fatal", "PNC": "panic"}
	fieldRe    = regexp.MustCompile(`(?:^|\s)([a-z_]+)=("(?:[^"\\]|\\.)*"|\S*)`)
	phaseRe    = regexp.MustCompile(`^=== (.+) ===$`)
	objResults = []struct{ marker, result string }{
		{"CREATED", "created"},
		{"SKIP", "skipped"},
		{"MigrationError", "failed"},
	}
)

// parseLogLine turns one console-formatted job line ("INF msg key=value")
// into a frame.
func parseLogLine(offset int, line string) logFrame {
	f := logFrame{Kind: frameLog, Offset: offset, Message: line}
	rest := line
	if tok, after, ok := strings.Cut(line, " "); ok {
		if lvl, known := levels[tok]; known {
			f.Level = lvl
			rest = after
		}
	}

	f.Message = rest
	if loc := fieldRe.FindAllStringSubmatchIndex(rest, -1); loc != nil {
		f.Message = rest[:loc[0][0]]
		f.Fields = make(map[string]string, len(loc))
		for _, m := range loc {
			key, val := rest[m[2]:m[3]], rest[m[4]:m[5]]
			if unq, err := strconv.Unquote(val); err == nil {
				val = unq
			}
			f.Fields[key] = val
		}
	}
	f.Message = strings.TrimSpace(f.Message)

	if m := phaseRe.FindStringSubmatch(f.Message); m != nil {
		f.Kind, f.Phase = framePhase, m[1]
		return f
	}
	for _, r := range objResults {
		if strings.HasPrefix(f.Message, r.marker) {
			f.Kind, f.Result = frameObject, r.result
			break
		}
	}
	return f
}

// StreamJobLogs streams job log lines over WebSocket as JSON frames. Once
// everything has been sent it writes a status frame and closes the
// connection with the final job status.
func (s *Server) StreamJobLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Debug().Err(err).Str("job", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	offset := 0
	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			// Read the state first: lines appended before the job finished
			// are then guaranteed to be in this batch.
			done := job.Done()
			lines := job.LogsSince(offset)
			for _, line := range lines {
				if err := conn.WriteJSON(parseLogLine(offset, line)); err != nil {
					return
				}
				offset++
			}
			if done && len(lines) == 0 {
				state := job.State()
				if err := conn.WriteJSON(logFrame{Kind: frameStatus, Offset: offset, Status: state, Error: job.Err()}); err != nil {
					return
				}
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, state))
				return
			}
		}
	}
}
