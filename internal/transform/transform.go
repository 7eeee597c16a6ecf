// Package transform maps exported legacy records onto the target content
// schema. Every record yields exactly one payload, or ErrSkipped.
package transform

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/rflorenc/site-migration-workbench/internal/models"
)

var (
	// ErrSkipped means no payload was produced on purpose.
	ErrSkipped = errors.New("transformation skipped")
	// ErrUnsupported marks a recognised legacy sub-type that has no mapping.
	ErrUnsupported = errors.New("unsupported")
)

// Folderish types are containers rebuilt in the folder phase.
var FolderishTypes = []string{"Folder", "RichFolder"}

// IgnoredTypes are sub-objects of forms or debugging leftovers. They are
// checked against both _type and _meta_type.
var IgnoredTypes = []string{
	"Checkbox Field",
	"FormMailerAdapter",
	"FormRichLabelField",
	"FormSaveDataAdapter",
	"FormStringField",
	"FormTextField",
	"FormThanksPage",
	"Page Template",
}

// ProcessedTypes are migrated as primary objects in the content phase.
var ProcessedTypes = []string{
	"Document",
	"News Item",
	"Link",
	"File",
	"Image",
	"RichFolder",
	"FormFolder",
	"Topic",
	"Event",
	"LibraryDocument",
}

// IsFolderish reports whether the legacy type is a container.
func IsFolderish(typ string) bool { return slices.Contains(FolderishTypes, typ) }

// IsProcessed reports whether the legacy type is migrated as primary content.
func IsProcessed(typ string) bool { return slices.Contains(ProcessedTypes, typ) }

// IsIgnored reports whether the record is skipped entirely.
func IsIgnored(rec models.Record) bool {
	return slices.Contains(IgnoredTypes, rec.Type()) ||
		(rec.MetaType() != "" && slices.Contains(IgnoredTypes, rec.MetaType()))
}

// ChildSource lists the records stored below a container, ordered by
// position in parent. Forms and saved searches are rebuilt from them.
type ChildSource interface {
	Descendants(ctx context.Context, path string) ([]models.Record, error)
}

// Transformer turns legacy records into payloads.
type Transformer struct {
	languages []string
	children  ChildSource
	log       zerolog.Logger

	// subdepartments, when set, is the token set a Document's subdepartment
	// must belong to.
	subdepartments map[string]bool
}

// New creates a Transformer. languages are the configured site languages,
// the first one being the default.
func New(languages []string, children ChildSource, log zerolog.Logger) *Transformer {
	return &Transformer{languages: languages, children: children, log: log}
}

// SetSubdepartments restricts Document subdepartments to the given tokens.
func (t *Transformer) SetSubdepartments(tokens []string) {
	t.subdepartments = make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		t.subdepartments[tok] = true
	}
}

type rule struct {
	target string // target type, empty keeps the legacy type
	fields func(t *Transformer, ctx context.Context, rec models.Record) (map[string]interface{}, error)
}

var rules = map[string]rule{
	"Document":        {fields: (*Transformer).documentFields},
	"News Item":       {fields: textFields},
	"LibraryDocument": {fields: textFields},
	"Event":           {fields: eventFields},
	"File":            {fields: fileFields},
	"Image":           {fields: imageFields},
	"Link":            {fields: linkFields},
	"Folder":          {fields: folderFields},
	"RichFolder":      {target: "Folder", fields: folderFields},
	"FormFolder":      {target: "EasyForm", fields: (*Transformer).formFields},
	"Topic":           {target: "Collection", fields: (*Transformer).collectionFields},
}

// Transform builds the payload for one record. Ignored types and records
// that cannot be migrated return an error wrapping ErrSkipped.
func (t *Transformer) Transform(ctx context.Context, rec models.Record) (*models.Payload, error) {
	if IsIgnored(rec) {
		return nil, fmt.Errorf("ignored type %s: %w", rec.Type(), ErrSkipped)
	}

	p := &models.Payload{
		Type:        rec.Type(),
		ID:          rec.ObjectID(),
		Title:       rec.Title(),
		Description: rec.String("description"),
		Fields:      t.commonFields(rec),
	}
	if p.Title == "" {
		p.Title = p.ID
	}

	r, ok := rules[rec.Type()]
	if !ok {
		return p, nil
	}
	if r.target != "" {
		p.Type = r.target
	}
	fields, err := r.fields(t, ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", rec.Type(), rec.Path(), err)
	}
	for k, v := range fields {
		p.Fields[k] = v
	}
	return p, nil
}

func (t *Transformer) commonFields(rec models.Record) map[string]interface{} {
	f := map[string]interface{}{
		"contributors":     listOrEmpty(rec["contributors"]),
		"creators":         listOrEmpty(rec["creators"]),
		"subjects":         listOrEmpty(rec["subject"]),
		"location":         rec.String("location"),
		"exclude_from_nav": true,
		"language":         t.language(rec),
	}
	if rec.Has("excludeFromNav") {
		f["exclude_from_nav"] = rec.Bool("excludeFromNav")
	}
	if d, ok := isoDate(rec.String("effectiveDate")); ok {
		f["effective"] = d
	}
	if d, ok := isoDate(rec.String("expirationDate")); ok {
		f["expires"] = d
	}
	if toc := rec["tableContents"]; truthy(toc) {
		f["table_of_contents"] = toc
	}
	return f
}

// language returns the record language if the target site has it
// configured, otherwise the default site language.
func (t *Transformer) language(rec models.Record) string {
	lang := rec.String("language")
	if lang != "" && slices.Contains(t.languages, lang) {
		return lang
	}
	if len(t.languages) == 0 {
		return lang
	}
	return t.languages[0]
}

func (t *Transformer) documentFields(_ context.Context, rec models.Record) (map[string]interface{}, error) {
	f := map[string]interface{}{"text": rec["text"]}
	if t.subdepartments == nil {
		return f, nil
	}
	sub := rec.String("subdepartment")
	if sub != "" && !t.subdepartments[sub] {
		t.log.Error().Str("path", rec.Path()).Str("subdepartment", sub).Msg("unknown subdepartment")
		sub = ""
	}
	f["subdepartment"] = sub
	return f, nil
}

func textFields(_ *Transformer, _ context.Context, rec models.Record) (map[string]interface{}, error) {
	return map[string]interface{}{"text": rec["text"]}, nil
}

func linkFields(_ *Transformer, _ context.Context, rec models.Record) (map[string]interface{}, error) {
	return map[string]interface{}{"remoteUrl": rec.String("remoteUrl")}, nil
}

func folderFields(_ *Transformer, _ context.Context, rec models.Record) (map[string]interface{}, error) {
	return map[string]interface{}{"navigation_root": rec.Bool("navigation_root")}, nil
}

func listOrEmpty(v interface{}) interface{} {
	if l, ok := v.([]interface{}); ok {
		return l
	}
	return []interface{}{}
}

// truthy follows the export's notion of an empty value.
func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case []interface{}:
		return len(x) > 0
	case map[string]interface{}:
		return len(x) > 0
	}
	return true
}
