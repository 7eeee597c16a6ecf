package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rflorenc/site-migration-workbench/internal/models"
)

// CreateSite drops and recreates the target site with the configured
// add-on profiles.
func (s *Site) CreateSite(ctx context.Context) error {
	data := map[string]interface{}{
		"site_id":       s.id,
		"extension_ids": s.extensionIDs,
	}
	_, err := s.call(ctx, "create site", http.MethodPost, "/@@recreate-plone-site", data, http.StatusCreated)
	return err
}

// Prepare runs the site-side hook before any content is replayed.
func (s *Site) Prepare(ctx context.Context) error {
	_, err := s.call(ctx, "prepare", http.MethodPost, s.path("", "@@prepare"), nil, http.StatusOK)
	return err
}

// Fixup runs the site-side hook after all content is replayed.
func (s *Site) Fixup(ctx context.Context) error {
	_, err := s.call(ctx, "fixup", http.MethodPost, s.path("", "@@fixup"), nil, http.StatusOK)
	return err
}

// Create posts a new object into the folder at parentPath and returns the
// response body of the server.
func (s *Site) Create(ctx context.Context, parentPath string, p *models.Payload) ([]byte, error) {
	resp, err := s.call(ctx, "create "+p.Type, http.MethodPost, s.path(parentPath, ""), p, http.StatusOK, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Exists probes whether path exists on the site.
func (s *Site) Exists(ctx context.Context, path string) (bool, error) {
	p := s.path("", "@@remote-exists")
	resp, err := s.client.Do(ctx, http.MethodGet, p, url.Values{"path": {path}}, nil)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", path, err)
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, s.check("exists "+path, http.MethodGet, p, resp)
}

// Delete removes the object at path. A missing object is not an error.
func (s *Site) Delete(ctx context.Context, path string) error {
	_, err := s.call(ctx, "delete", http.MethodDelete, s.path(path, ""), nil, http.StatusNoContent, http.StatusNotFound)
	return err
}

// post sends a JSON body to a view of the object at path, expecting 204.
func (s *Site) post(ctx context.Context, op, path, view string, data interface{}) error {
	_, err := s.call(ctx, op, http.MethodPost, s.path(path, view), data, http.StatusNoContent)
	return err
}

// SetOwner makes owner (a user of the site's user folder) the object owner.
func (s *Site) SetOwner(ctx context.Context, path, owner string) error {
	data := map[string]interface{}{
		"owner": []interface{}{[]string{s.legacyID, "acl_users"}, owner},
	}
	return s.post(ctx, "set owner", path, "@@set-owner", data)
}

// SetLayout sets the display view. The name must already be remapped.
func (s *Site) SetLayout(ctx context.Context, path, layout string) error {
	return s.post(ctx, "set layout", path, "@@set-layout", map[string]string{"layout": layout})
}

// SetUnavailable stores the unavailability annotation of the object.
func (s *Site) SetUnavailable(ctx context.Context, path string, annotation interface{}) error {
	return s.post(ctx, "set unavailable", path, "set-unavailable", annotation)
}

// SetReviewState forces the workflow state.
func (s *Site) SetReviewState(ctx context.Context, path, state string) error {
	return s.post(ctx, "set review state", path, "@@set-review-state", map[string]string{"review_state": state})
}

// SetLocalRoles replaces the sharing entries and the inheritance flag.
func (s *Site) SetLocalRoles(ctx context.Context, path string, entries []models.SharingEntry, inherit bool) error {
	data := map[string]interface{}{"entries": entries, "inherit": inherit}
	return s.post(ctx, "set local roles", path, "@sharing", data)
}

// SetUID gives the object its legacy UID.
func (s *Site) SetUID(ctx context.Context, path, uid string) error {
	return s.post(ctx, "set uid", path, "@@setuid", map[string]string{"uid": uid})
}

// SetCreatedModified restores the legacy timestamps. Either may be nil.
func (s *Site) SetCreatedModified(ctx context.Context, path string, created, modified interface{}) error {
	data := map[string]interface{}{"created": created, "modified": modified}
	return s.post(ctx, "set created/modified", path, "@@set-created-modified", data)
}

// SetPositionInParent moves the object to position among its siblings.
func (s *Site) SetPositionInParent(ctx context.Context, path string, position int) error {
	return s.post(ctx, "set position", path, "@@set-position-in-parent", map[string]int{"position": position})
}

// SetMarkerInterfaces provides the object with interfaces.
func (s *Site) SetMarkerInterfaces(ctx context.Context, path string, interfaces []string) error {
	return s.post(ctx, "set marker interfaces", path, "@@set-marker-interfaces", map[string][]string{"interfaces": interfaces})
}

// BlacklistPortlets blocks inherited portlets in one portlet manager.
func (s *Site) BlacklistPortlets(ctx context.Context, path, manager string) error {
	data := map[string]interface{}{"portlet_manager": manager, "blacklist": 1}
	return s.post(ctx, "blacklist portlets", path, "@@blacklist-portlets", data)
}

// SetPermissions applies the permission settings of the object.
func (s *Site) SetPermissions(ctx context.Context, path string, permissions map[string]interface{}) error {
	return s.post(ctx, "set permissions", path, "@@set-permissions", map[string]interface{}{"permissions": permissions})
}

// SetAllowedAndAddableTypes restricts the types a folder accepts.
func (s *Site) SetAllowedAndAddableTypes(ctx context.Context, path string, allowed, addable []string, mode int) error {
	data := map[string]interface{}{
		"allowed_types":        allowed,
		"addable_types":        addable,
		"constrain_types_mode": mode,
	}
	return s.post(ctx, "set allowed/addable types", path, "@@set-allowed-and-addable-types", data)
}

// AddPortlet assigns one portlet to the object.
func (s *Site) AddPortlet(ctx context.Context, path string, a models.PortletAssignment) error {
	return s.post(ctx, "add portlet", path, "@@add-portlet", a)
}

// ErrDefaultPageMissing is returned by SetDefaultPage when the server does
// not know the object or the page.
var ErrDefaultPageMissing = errors.New("default page target not found")

// SetDefaultPage makes page the default view of the folder at path.
func (s *Site) SetDefaultPage(ctx context.Context, path, page string) error {
	p := s.path(path, "@@set-default-page")
	resp, err := s.client.Do(ctx, http.MethodPost, p, nil, map[string]string{"default_page": page})
	if err != nil {
		return fmt.Errorf("set default page: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", s.client.URL(p), ErrDefaultPageMissing)
	}
	return s.check("set default page", http.MethodPost, p, resp, http.StatusNoContent)
}

// UpdateAllRelatedItems sends the related items of every object in one
// call, keyed by UID.
func (s *Site) UpdateAllRelatedItems(ctx context.Context, related map[string][]string) error {
	return s.post(ctx, "update related items", "", "@@update-all-related-items", related)
}

// UpdateAllImageRefs sends the image references of every object in one
// call, keyed by UID.
func (s *Site) UpdateAllImageRefs(ctx context.Context, refs map[string]string) error {
	return s.post(ctx, "update image refs", "", "@@update-all-imagerefs", refs)
}

// SetPositionsInParent sets absolute positions of many objects at once.
func (s *Site) SetPositionsInParent(ctx context.Context, positions []models.PositionEntry) error {
	_, err := s.call(ctx, "set positions", http.MethodPost, s.path("", "@@set-positions-in-parent"), positions,
		http.StatusOK, http.StatusNoContent)
	return err
}

type vocabularyResponse struct {
	Items []struct {
		Token string `json:"token"`
		Title string `json:"title"`
	} `json:"items"`
}

// Vocabulary fetches a named vocabulary as token to title.
func (s *Site) Vocabulary(ctx context.Context, name string) (map[string]string, error) {
	p := s.path("", "@vocabularies/"+name)
	resp, err := s.client.Do(ctx, http.MethodGet, p, url.Values{"b_size:int": {"99999999"}}, nil)
	if err != nil {
		return nil, fmt.Errorf("vocabulary %s: %w", name, err)
	}
	if err := s.check("vocabulary "+name, http.MethodGet, p, resp, http.StatusOK); err != nil {
		return nil, err
	}
	var v vocabularyResponse
	if err := json.Unmarshal(resp.Body, &v); err != nil {
		return nil, fmt.Errorf("parsing vocabulary %s: %w", name, err)
	}
	terms := make(map[string]string, len(v.Items))
	for _, it := range v.Items {
		terms[it.Token] = it.Title
	}
	return terms, nil
}
