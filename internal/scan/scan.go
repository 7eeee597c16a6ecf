// Package scan holds the maintenance tools that run against the document
// store next to the migration itself: data checks before a run, position
// repair after it, and record inspection.
package scan

import (
	"context"
	"iter"

	"github.com/rflorenc/site-migration-workbench/internal/docstore"
	"github.com/rflorenc/site-migration-workbench/internal/models"
)

// Store is the read side of the document store the tools need.
type Store interface {
	Query(ctx context.Context, q docstore.Query) iter.Seq2[models.Record, error]
	GetByPath(ctx context.Context, path string) (models.Record, error)
}

// Finding is one problem found in an exported record.
type Finding struct {
	Path   string `json:"path"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}
