package transform

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/rflorenc/site-migration-workbench/internal/models"
)

const octetStream = "application/octet-stream"

func fileFields(t *Transformer, _ context.Context, rec models.Record) (map[string]interface{}, error) {
	blob, err := t.blob(rec, "_datafield_file")
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"file": blob}, nil
}

func imageFields(t *Transformer, _ context.Context, rec models.Record) (map[string]interface{}, error) {
	blob, err := t.blob(rec, "_datafield_image")
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"image": blob}, nil
}

// blob builds the base64 blob descriptor of a File or Image. The data is
// decoded only when the recorded content type is generic, to sniff the
// real one (bitmaps were exported as application/octet-stream).
func (t *Transformer) blob(rec models.Record, field string) (map[string]interface{}, error) {
	df := rec.Map(field)
	if df == nil {
		t.log.Error().Str("path", rec.Path()).Msgf("JSON export has no %s - SKIPPING", field)
		return nil, fmt.Errorf("no %s: %w", field, ErrSkipped)
	}
	data, _ := df["data"].(string)
	ct, _ := df["content_type"].(string)
	filename, _ := df["filename"].(string)

	if ct == "" || ct == octetStream {
		if sniffed, err := SniffContentType(data); err != nil {
			t.log.Warn().Err(err).Str("path", rec.Path()).Msg("cannot decode blob for content type detection")
		} else if sniffed != octetStream {
			t.log.Debug().Str("path", rec.Path()).Str("from", ct).Str("to", sniffed).Msg("content type corrected")
			ct = sniffed
		}
	}
	if ct == "" {
		ct = octetStream
	}

	return map[string]interface{}{
		"data":         data,
		"encoding":     "base64",
		"content-type": ct,
		"filename":     filename,
	}, nil
}

// DecodeBase64 decodes export blob data, which may be wrapped over lines.
func DecodeBase64(data string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, data)
	return base64.StdEncoding.DecodeString(clean)
}

// SniffContentType detects the MIME type of base64 encoded data.
func SniffContentType(data string) (string, error) {
	raw, err := DecodeBase64(data)
	if err != nil {
		return "", err
	}
	ct := http.DetectContentType(raw)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct, nil
}
