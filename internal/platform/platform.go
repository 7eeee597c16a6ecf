package platform

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

// ErrRemoteCallFailed matches every RemoteError.
var ErrRemoteCallFailed = errors.New("remote call failed")

// RemoteError is an unexpected status from the remote site API.
type RemoteError struct {
	Op         string
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s %s: HTTP %d: %s", e.Op, e.Method, e.URL, e.StatusCode, truncate(e.Body, 200))
}

// Is makes errors.Is(err, ErrRemoteCallFailed) true for any RemoteError.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteCallFailed
}

// Site performs content operations on one site of the remote server. Paths
// passed to its methods are relative to the site root ("" is the root).
type Site struct {
	client       *Client
	id           string
	legacyID     string
	extensionIDs []string
	log          zerolog.Logger
}

// NewSite binds a client to the site id. legacyID is the portal id of the
// exported site, used as the user folder owner reference.
func NewSite(client *Client, id, legacyID string, extensionIDs []string, log zerolog.Logger) *Site {
	return &Site{
		client:       client,
		id:           id,
		legacyID:     legacyID,
		extensionIDs: extensionIDs,
		log:          log,
	}
}

// ID returns the site id.
func (s *Site) ID() string { return s.id }

// path builds a server path below the site root.
func (s *Site) path(relPath string, view string) string {
	p := "/" + s.id
	if rel := strings.Trim(relPath, "/"); rel != "" {
		p += "/" + rel
	}
	if view != "" {
		p += "/" + view
	}
	return p
}

// call sends a request and checks the status against the accepted codes.
func (s *Site) call(ctx context.Context, op, method, path string, payload interface{}, accept ...int) (*Response, error) {
	resp, err := s.client.Do(ctx, method, path, nil, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.check(op, method, path, resp, accept...); err != nil {
		return resp, err
	}
	return resp, nil
}

func (s *Site) check(op, method, path string, resp *Response, accept ...int) error {
	if !slices.Contains(accept, resp.StatusCode) {
		return &RemoteError{
			Op:         op,
			Method:     method,
			URL:        s.client.URL(path),
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
		}
	}
	if resp.StatusCode == 204 && len(strings.TrimSpace(string(resp.Body))) > 0 {
		s.log.Warn().Str("op", op).Str("url", s.client.URL(path)).
			Str("body", truncate(string(resp.Body), 200)).Msg("unexpected body on 204 response")
	}
	return nil
}
