package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Inspect writes the record stored under a legacy path as indented JSON
// with sorted keys.
func Inspect(ctx context.Context, store Store, path string, w io.Writer) error {
	rec, err := store.GetByPath(ctx, path)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
