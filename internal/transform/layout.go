package transform

import (
	"slices"
	"sort"
	"strings"

	"github.com/rflorenc/site-migration-workbench/internal/models"
)

// SupportedMarkerInterfaces are the directly provided interfaces carried
// over to the target. Anything else is assumed unsupported.
var SupportedMarkerInterfaces = []string{
	"plone.app.layout.navigation.interfaces.INavigationRoot",
}

// UnavailableInterface marks objects with collective.unavailable data.
const UnavailableInterface = "collective.unavailable.interfaces.IUnavailable"

// IgnoredPermissions are obsolete on the target.
var IgnoredPermissions = []string{"Change portal events"}

// PortletManagers are the columns whose blacklist flags are migrated.
var PortletManagers = []string{"plone.leftcolumn", "plone.rightcolumn"}

var droppedLayouts = []string{
	"fg_base_view_p3",
	"blog_view",
	"facetednavigation_view",
	"list.html",
	"sliderview",
	"phddefense_view",
	"manualgroup_view",
}

var layoutMap = map[string]string{
	"atct_album_view":         "album_view",
	"atct_topic_view":         "listing_view",
	"folder_full_view":        "full_view",
	"folder_summary_view":     "summary_view",
	"sortable_view":           "tabular_view",
	"sortable_view_unbatched": "tabular_view",
	"folder_tabular_view":     "tabular_view",
}

// Layout maps a legacy view name to the target one. ok is false when the
// layout is absent or has no equivalent.
func Layout(legacyType, layout string) (string, bool) {
	if layout == "" || slices.Contains(droppedLayouts, layout) {
		return "", false
	}
	if legacyType == "Topic" && layout == "folder_listing_standardview" {
		return "listing_view", true
	}
	if m, ok := layoutMap[layout]; ok {
		return m, true
	}
	return layout, true
}

// MarkerInterfaces returns the supported directly provided interfaces.
func MarkerInterfaces(rec models.Record) []string {
	var out []string
	for _, iface := range rec.Strings("_directly_provided") {
		if slices.Contains(SupportedMarkerInterfaces, iface) {
			out = append(out, iface)
		}
	}
	return out
}

// Unavailable returns the collective.unavailable annotation when the record
// provides the marker interface.
func Unavailable(rec models.Record) (interface{}, bool) {
	if !slices.Contains(rec.Strings("_directly_provided"), UnavailableInterface) {
		return nil, false
	}
	ann := rec.Map("_annotations")
	if ann == nil {
		return map[string]interface{}{}, true
	}
	return ann["collective.unavailable"], true
}

// Permissions returns the permission map without ignored permissions.
func Permissions(rec models.Record) map[string]interface{} {
	perms := rec.Map("_permissions")
	out := make(map[string]interface{}, len(perms))
	for k, v := range perms {
		if !slices.Contains(IgnoredPermissions, k) {
			out[k] = v
		}
	}
	return out
}

// SharingEntries converts local roles to sharing entries, sorted by
// principal id. inherit is false when local role acquisition is blocked.
func SharingEntries(rec models.Record) (entries []models.SharingEntry, inherit bool) {
	roles := rec.Map("_ac_local_roles")
	ids := make([]string, 0, len(roles))
	for id := range roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e := models.SharingEntry{ID: id, Type: "user", Roles: map[string]bool{}}
		if list, ok := roles[id].([]interface{}); ok {
			for _, r := range list {
				if s, ok := r.(string); ok {
					e.Roles[s] = true
				}
			}
		}
		entries = append(entries, e)
	}
	return entries, !rec.Bool("_ac_local_roles_block")
}

// BlacklistedManagers returns the portlet managers with a truthy blacklist
// entry.
func BlacklistedManagers(rec models.Record) []string {
	bl := rec.Map("_portlets_blacklist")
	var out []string
	for _, m := range PortletManagers {
		if truthy(bl[m]) {
			out = append(out, m)
		}
	}
	return out
}

// PortletClass extracts the dotted class name from an exported assignment
// repr such as "<collective.portlet.links.portlet.Assignment at 0x7f...>".
func PortletClass(name string) string {
	name = strings.TrimPrefix(name, "<")
	if i := strings.IndexByte(name, ' '); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSuffix(name, ">")
}

// Portlets returns the portlet assignments of a record, manager by manager
// in sorted order.
func Portlets(rec models.Record) []models.PortletAssignment {
	ports := rec.Map("_portlets")
	managers := make([]string, 0, len(ports))
	for m := range ports {
		managers = append(managers, m)
	}
	sort.Strings(managers)

	var out []models.PortletAssignment
	for _, m := range managers {
		list, _ := ports[m].([]interface{})
		for _, item := range list {
			p, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			name, _ := p["name"].(string)
			out = append(out, models.PortletAssignment{Manager: m, Data: p["data"], Class: PortletClass(name)})
		}
	}
	return out
}

// TypeRestrictions returns the folder content-type restrictions. ok is false
// when the folder acquires its restrictions or lists no types.
func TypeRestrictions(rec models.Record) (allowed, addable []string, mode int, ok bool) {
	mode = -1
	if rec.Has("constrainTypesMode") {
		mode = rec.Int("constrainTypesMode")
	}
	allowed = rec.Strings("locallyAllowedTypes")
	addable = rec.Strings("immediatelyAddableTypes")
	if allowed == nil {
		allowed = []string{}
	}
	if addable == nil {
		addable = []string{}
	}
	return allowed, addable, mode, mode != -1 && (len(allowed) > 0 || len(addable) > 0)
}
