package scan

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/rflorenc/site-migration-workbench/internal/docstore"
	"github.com/rflorenc/site-migration-workbench/internal/transform"
)

// CheckImages decodes the data of every exported Image. Images that cannot
// be decoded, and TIFF data recorded under another content type, are
// reported; the target site cannot scale either.
func CheckImages(ctx context.Context, store Store, log zerolog.Logger) ([]Finding, error) {
	log.Info().Msg("=== Checking images ===")
	var findings []Finding
	report := func(path, reason string) {
		log.Error().Str("path", path).Msgf("ERROR: %s: %s", path, reason)
		findings = append(findings, Finding{Path: path, Field: "_datafield_image", Reason: reason})
	}

	n := 0
	for rec, err := range store.Query(ctx, docstore.Query{Types: []string{"Image"}}) {
		if err != nil {
			return findings, err
		}
		n++
		df := rec.Map("_datafield_image")
		if df == nil {
			report(rec.Path(), "no _datafield_image")
			continue
		}
		data, _ := df["data"].(string)
		raw, err := transform.DecodeBase64(data)
		if err != nil {
			report(rec.Path(), fmt.Sprintf("invalid base64: %v", err))
			continue
		}
		_, format, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			report(rec.Path(), err.Error())
			continue
		}
		if ct, _ := df["content_type"].(string); format == "tiff" && ct != "image/tiff" {
			report(rec.Path(), "TIFF disguised as "+ct)
		}
	}
	log.Info().Int("images", n).Int("problems", len(findings)).Msg("image check complete")
	return findings, nil
}
