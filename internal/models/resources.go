package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Record is one exported legacy content object as stored in the document
// store. Exported objects are heterogeneous, so the record stays a generic
// mapping with typed accessors for the well-known keys.
type Record map[string]interface{}

// Key returns the document store key (_key).
func (r Record) Key() string { return r.String("_key") }

// Path returns the absolute legacy path, e.g. /plone_portal/nl/news.
func (r Record) Path() string { return r.String("_path") }

// Type returns the legacy portal type (_type).
func (r Record) Type() string { return r.String("_type") }

// MetaType returns the legacy meta type, only present in newer exports.
func (r Record) MetaType() string { return r.String("_meta_type") }

// UID returns the stable external identifier.
func (r Record) UID() string { return r.String("_uid") }

// Owner returns the owner login name.
func (r Record) Owner() string { return r.String("_owner") }

// ObjectID returns the object id within its parent. The loader renames the
// export's _id to _object_id; older rows fall back to "id" and finally the
// last path segment.
func (r Record) ObjectID() string {
	if id := r.String("_object_id"); id != "" {
		return id
	}
	if id := r.String("id"); id != "" {
		return id
	}
	p := strings.TrimRight(r.Path(), "/")
	return p[strings.LastIndex(p, "/")+1:]
}

// Position returns the position in parent (_gopip).
func (r Record) Position() int { return r.Int("_gopip") }

// ParentPath returns _parent_path, or derives it from the path.
func (r Record) ParentPath() string {
	if p := r.String("_parent_path"); p != "" {
		return p
	}
	return ParentPath(r.Path())
}

// Ancestors returns all ancestor paths ordered root-to-leaf. When the record
// carries no _paths_all the list is synthesized from the path string.
func (r Record) Ancestors() []string {
	if all := r.Strings("_paths_all"); len(all) > 0 {
		return all
	}
	return AncestorPaths(r.Path())
}

// RelativePath returns the path below the legacy portal root
// (/plone_portal/a/b -> a/b).
func (r Record) RelativePath() string {
	if p := r.String("_relative_path"); p != "" {
		return p
	}
	return RelativePath(r.Path())
}

// Title returns the trimmed title.
func (r Record) Title() string { return strings.TrimSpace(r.String("title")) }

// String safely extracts a string field, returning "" if absent or not a string.
func (r Record) String(field string) string {
	if v, ok := r[field].(string); ok {
		return v
	}
	return ""
}

// Bool extracts a boolean field. The export writes some flags as "True"/"False".
func (r Record) Bool(field string) bool {
	switch v := r[field].(type) {
	case bool:
		return v
	case string:
		return v == "True" || v == "true" || v == "1"
	case float64:
		return v != 0
	}
	return false
}

// Int extracts a numeric field.
func (r Record) Int(field string) int {
	return ToInt(r[field])
}

// Strings extracts a list of strings, skipping non-string entries.
func (r Record) Strings(field string) []string {
	switch v := r[field].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Map extracts a nested object.
func (r Record) Map(field string) map[string]interface{} {
	if m, ok := r[field].(map[string]interface{}); ok {
		return m
	}
	return nil
}

// Has reports whether the field is present, even if null.
func (r Record) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// ToInt converts the numeric shapes JSON decoding can produce to int.
func ToInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err == nil {
			return i
		}
	}
	return 0
}

// splitPath returns the non-empty segments of a slash separated path.
func splitPath(p string) []string {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

// AncestorPaths returns every proper ancestor of an absolute path,
// root first: /a/b/c -> [/a /a/b].
func AncestorPaths(p string) []string {
	parts := splitPath(p)
	var out []string
	for i := 1; i < len(parts); i++ {
		out = append(out, "/"+strings.Join(parts[:i], "/"))
	}
	return out
}

// ParentPath returns the parent of an absolute path (/a/b/c -> /a/b).
func ParentPath(p string) string {
	parts := splitPath(p)
	if len(parts) <= 1 {
		return "/"
	}
	return "/" + strings.Join(parts[:len(parts)-1], "/")
}

// RelativePath strips the leading portal segment (/plone_portal/a/b -> a/b).
func RelativePath(p string) string {
	parts := splitPath(p)
	if len(parts) <= 1 {
		return ""
	}
	return strings.Join(parts[1:], "/")
}

// Depth returns the number of path segments.
func Depth(p string) int {
	return len(splitPath(p))
}
