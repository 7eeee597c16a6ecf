package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/rflorenc/site-migration-workbench/internal/docstore"
)

// TextTypes are the legacy types carrying rich text fields.
var TextTypes = []string{"Document", "Vacancy", "News Item", "Event", "PhdDefense", "LibraryDocument"}

// TextFields are the rich text fields checked per record.
var TextFields = []string{"text", "toptext", "bottomtext"}

// Elements whose end tag may be omitted, and void elements that never have
// one. Neither counts as unbalanced when left open.
var (
	optionalEnd = []atom.Atom{
		atom.P, atom.Li, atom.Dt, atom.Dd, atom.Tr, atom.Td, atom.Th,
		atom.Thead, atom.Tbody, atom.Tfoot, atom.Option, atom.Optgroup,
		atom.Colgroup, atom.Html, atom.Head, atom.Body,
	}
	voidElements = []atom.Atom{
		atom.Area, atom.Base, atom.Br, atom.Col, atom.Embed, atom.Hr,
		atom.Img, atom.Input, atom.Link, atom.Meta, atom.Source,
		atom.Track, atom.Wbr,
	}
)

// CheckHTML reports rich text that does not parse or whose markup is not
// balanced.
func CheckHTML(ctx context.Context, store Store, log zerolog.Logger) ([]Finding, error) {
	log.Info().Msg("=== Checking HTML ===")
	var findings []Finding
	n := 0
	for rec, err := range store.Query(ctx, docstore.Query{Types: TextTypes}) {
		if err != nil {
			return findings, err
		}
		n++
		if n%1000 == 0 {
			log.Info().Msgf("  %d", n)
		}
		for _, name := range TextFields {
			text := rec.String(name)
			if text == "" {
				continue
			}
			if err := CheckMarkup(text); err != nil {
				log.Error().Str("path", rec.Path()).Str("field", name).Err(err).
					Msgf("HTML error in %s, field=%s", rec.Path(), name)
				findings = append(findings, Finding{Path: rec.Path(), Field: name, Reason: err.Error()})
			}
		}
	}
	log.Info().Int("records", n).Int("problems", len(findings)).Msg("HTML check complete")
	return findings, nil
}

// CheckMarkup tokenizes an HTML fragment and returns the first structural
// problem: a stray end tag, an end tag closing the wrong element, or an
// element left open.
func CheckMarkup(s string) error {
	z := html.NewTokenizer(strings.NewReader(s))
	var open []atom.Atom
	var names []string
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return err
			}
			for i := len(open) - 1; i >= 0; i-- {
				if !slices.Contains(optionalEnd, open[i]) {
					return fmt.Errorf("unclosed <%s>", names[i])
				}
			}
			return nil

		case html.StartTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if slices.Contains(voidElements, a) {
				continue
			}
			open = append(open, a)
			names = append(names, string(name))

		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if slices.Contains(voidElements, a) {
				continue
			}
			i := lastOpen(open, names, a, string(name))
			if i < 0 {
				return fmt.Errorf("stray </%s>", name)
			}
			for j := len(open) - 1; j > i; j-- {
				if !slices.Contains(optionalEnd, open[j]) {
					return fmt.Errorf("</%s> closes unclosed <%s>", name, names[j])
				}
			}
			open, names = open[:i], names[:i]
		}
	}
}

// lastOpen returns the index of the innermost open element matching the
// end tag, or -1.
func lastOpen(open []atom.Atom, names []string, a atom.Atom, name string) int {
	for i := len(open) - 1; i >= 0; i-- {
		if a != 0 && open[i] == a {
			return i
		}
		if a == 0 && names[i] == name {
			return i
		}
	}
	return -1
}
