package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/site-migration-workbench/internal/models"
)

type call struct {
	Method string
	Path   string
	Body   map[string]interface{}
	Raw    string
}

// fakeCMS is an in-memory remote site server.
type fakeCMS struct {
	mu      sync.Mutex
	calls   []call
	objects map[string]bool // site-relative paths
	status  map[string]int  // forced status per view name
}

func newFakeCMS() *fakeCMS {
	return &fakeCMS{objects: map[string]bool{}, status: map[string]int{}}
}

func (f *fakeCMS) record(r *http.Request) call {
	raw, _ := io.ReadAll(r.Body)
	c := call{Method: r.Method, Path: r.URL.Path, Raw: string(raw)}
	_ = json.Unmarshal(raw, &c.Body)
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	return c
}

func (f *fakeCMS) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/@@recreate-plone-site", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.WriteHeader(http.StatusCreated)
	})
	r.Route("/{site}", func(r chi.Router) {
		r.Get("/@@remote-exists", func(w http.ResponseWriter, r *http.Request) {
			f.record(r)
			f.mu.Lock()
			ok := f.objects[r.URL.Query().Get("path")]
			f.mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
		r.Get("/@vocabularies/{name}", func(w http.ResponseWriter, r *http.Request) {
			f.record(r)
			w.Write([]byte(`{"items":[{"token":"WE01","title":"Physics"},{"token":"WE02","title":"Chemistry"}]}`))
		})
		r.Get("/@system", func(w http.ResponseWriter, r *http.Request) {
			f.record(r)
			w.Write([]byte(`{"plone_version":"5.2.4","plone_restapi_version":"7.0.0"}`))
		})
		r.Post("/", f.create)
		r.Post("/*", f.post)
		r.Delete("/*", func(w http.ResponseWriter, r *http.Request) {
			f.record(r)
			rel := chi.URLParam(r, "*")
			f.mu.Lock()
			defer f.mu.Unlock()
			if !f.objects[rel] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(f.objects, rel)
			w.WriteHeader(http.StatusNoContent)
		})
	})
	return r
}

func (f *fakeCMS) post(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	i := strings.LastIndex(rel, "/")
	view := rel[i+1:]
	if !strings.HasPrefix(view, "@") && view != "set-unavailable" {
		f.create(w, r)
		return
	}
	f.record(r)
	f.mu.Lock()
	code, forced := f.status[view]
	f.mu.Unlock()
	if forced {
		w.WriteHeader(code)
		w.Write([]byte(`{"error":"forced"}`))
		return
	}
	switch view {
	case "@@prepare", "@@fixup":
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeCMS) create(w http.ResponseWriter, r *http.Request) {
	c := f.record(r)
	parent := chi.URLParam(r, "*")
	id, _ := c.Body["id"].(string)
	rel := id
	if parent != "" {
		rel = parent + "/" + id
	}
	f.mu.Lock()
	code, forced := f.status["create"]
	if !forced {
		f.objects[rel] = true
	}
	f.mu.Unlock()
	if forced {
		w.WriteHeader(code)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"@id": rel})
}

func (f *fakeCMS) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newTestSite(t *testing.T) (*Site, *fakeCMS) {
	t.Helper()
	f := newFakeCMS()
	ts := httptest.NewServer(f.router())
	t.Cleanup(ts.Close)
	return NewSite(newTestClient(ts), "site", "plone_portal", []string{"profile-a"}, zerolog.Nop()), f
}

func TestSite_CreateAndExists(t *testing.T) {
	s, f := newTestSite(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "nl")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Create(ctx, "", &models.Payload{Type: "Folder", ID: "nl", Title: "NL"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "nl", &models.Payload{Type: "Document", ID: "about", Title: "About", Fields: map[string]interface{}{"text": "<p/>"}})
	require.NoError(t, err)

	c := f.last()
	assert.Equal(t, "/site/nl", c.Path)
	assert.Equal(t, "Document", c.Body["@type"])
	assert.Equal(t, "<p/>", c.Body["text"])

	ok, err = s.Exists(ctx, "nl/about")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSite_SideEffects(t *testing.T) {
	s, f := newTestSite(t)
	ctx := context.Background()

	tests := []struct {
		name string
		do   func() error
		path string
		body string
	}{
		{"owner", func() error { return s.SetOwner(ctx, "nl/a", "jdoe") },
			"/site/nl/a/@@set-owner", `{"owner":[["plone_portal","acl_users"],"jdoe"]}`},
		{"layout", func() error { return s.SetLayout(ctx, "nl/a", "listing_view") },
			"/site/nl/a/@@set-layout", `{"layout":"listing_view"}`},
		{"unavailable", func() error { return s.SetUnavailable(ctx, "nl/a", map[string]interface{}{"until": "x"}) },
			"/site/nl/a/set-unavailable", `{"until":"x"}`},
		{"review state", func() error { return s.SetReviewState(ctx, "nl/a", "published") },
			"/site/nl/a/@@set-review-state", `{"review_state":"published"}`},
		{"sharing", func() error {
			return s.SetLocalRoles(ctx, "nl/a", []models.SharingEntry{{ID: "g", Type: "group", Roles: map[string]bool{"Editor": true}}}, false)
		}, "/site/nl/a/@sharing", `{"entries":[{"id":"g","type":"group","roles":{"Editor":true}}],"inherit":false}`},
		{"uid", func() error { return s.SetUID(ctx, "nl/a", "abc") },
			"/site/nl/a/@@setuid", `{"uid":"abc"}`},
		{"created modified", func() error { return s.SetCreatedModified(ctx, "nl/a", "2020-01-01", nil) },
			"/site/nl/a/@@set-created-modified", `{"created":"2020-01-01","modified":null}`},
		{"position", func() error { return s.SetPositionInParent(ctx, "nl/a", 3) },
			"/site/nl/a/@@set-position-in-parent", `{"position":3}`},
		{"interfaces", func() error { return s.SetMarkerInterfaces(ctx, "nl/a", []string{"x.IFoo"}) },
			"/site/nl/a/@@set-marker-interfaces", `{"interfaces":["x.IFoo"]}`},
		{"blacklist", func() error { return s.BlacklistPortlets(ctx, "nl/a", "plone.leftcolumn") },
			"/site/nl/a/@@blacklist-portlets", `{"blacklist":1,"portlet_manager":"plone.leftcolumn"}`},
		{"permissions", func() error { return s.SetPermissions(ctx, "nl/a", map[string]interface{}{"View": []interface{}{"Manager"}}) },
			"/site/nl/a/@@set-permissions", `{"permissions":{"View":["Manager"]}}`},
		{"types", func() error { return s.SetAllowedAndAddableTypes(ctx, "nl/a", []string{"Document"}, []string{}, 1) },
			"/site/nl/a/@@set-allowed-and-addable-types", `{"addable_types":[],"allowed_types":["Document"],"constrain_types_mode":1}`},
		{"portlet", func() error {
			return s.AddPortlet(ctx, "nl/a", models.PortletAssignment{Manager: "plone.rightcolumn", Data: map[string]interface{}{"x": 1}, Class: "C"})
		}, "/site/nl/a/@@add-portlet", `{"portlet_manager":"plone.rightcolumn","portlet_data":{"x":1},"class":"C"}`},
		{"default page", func() error { return s.SetDefaultPage(ctx, "nl", "index") },
			"/site/nl/@@set-default-page", `{"default_page":"index"}`},
		{"related", func() error { return s.UpdateAllRelatedItems(ctx, map[string][]string{"u1": {"u2"}}) },
			"/site/@@update-all-related-items", `{"u1":["u2"]}`},
		{"imagerefs", func() error { return s.UpdateAllImageRefs(ctx, map[string]string{"u1": "u3"}) },
			"/site/@@update-all-imagerefs", `{"u1":"u3"}`},
		{"positions", func() error { return s.SetPositionsInParent(ctx, []models.PositionEntry{{Path: "/p/a", Position: 0}}) },
			"/site/@@set-positions-in-parent", `[{"path":"/p/a","position":0}]`},
		{"prepare", func() error { return s.Prepare(ctx) }, "/site/@@prepare", ""},
		{"fixup", func() error { return s.Fixup(ctx) }, "/site/@@fixup", ""},
		{"create site", func() error { return s.CreateSite(ctx) },
			"/@@recreate-plone-site", `{"extension_ids":["profile-a"],"site_id":"site"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, tc.do())
			c := f.last()
			assert.Equal(t, "POST", c.Method)
			assert.Equal(t, tc.path, c.Path)
			if tc.body != "" {
				assert.JSONEq(t, tc.body, c.Raw)
			}
		})
	}
}

func TestSite_UnexpectedStatus(t *testing.T) {
	s, f := newTestSite(t)
	f.status["@@setuid"] = http.StatusBadRequest

	err := s.SetUID(context.Background(), "nl/a", "abc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteCallFailed))

	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusBadRequest, re.StatusCode)
	assert.Equal(t, "set uid", re.Op)
	assert.Contains(t, re.URL, "/site/nl/a/@@setuid")
	assert.Contains(t, re.Body, "forced")
}

func TestSite_ServerErrorExhaustsRetries(t *testing.T) {
	s, f := newTestSite(t)
	f.status["create"] = http.StatusInternalServerError

	_, err := s.Create(context.Background(), "nl", &models.Payload{Type: "Document", ID: "x"})
	require.ErrorIs(t, err, ErrRemoteCallFailed)

	n := 0
	for _, c := range f.calls {
		if c.Method == "POST" {
			n++
		}
	}
	assert.Equal(t, 6, n)
}

func TestSite_DefaultPageMissing(t *testing.T) {
	s, f := newTestSite(t)
	f.status["@@set-default-page"] = http.StatusNotFound
	err := s.SetDefaultPage(context.Background(), "nl", "index")
	assert.ErrorIs(t, err, ErrDefaultPageMissing)
	assert.NotErrorIs(t, err, ErrRemoteCallFailed)
}

func TestSite_Delete(t *testing.T) {
	s, f := newTestSite(t)
	f.objects["nl"] = true
	require.NoError(t, s.Delete(context.Background(), "nl"))
	assert.False(t, f.objects["nl"])
	// already gone
	require.NoError(t, s.Delete(context.Background(), "nl"))
}

func TestSite_204WithBody(t *testing.T) {
	var buf bytes.Buffer
	s := NewSite(&Client{baseURL: "http://cms"}, "site", "plone_portal", nil, zerolog.New(&buf))

	require.NoError(t, s.check("set uid", "POST", "/site/a/@@setuid", &Response{StatusCode: 204, Body: []byte("ok")}, 204))
	assert.Contains(t, buf.String(), "unexpected body on 204 response")

	buf.Reset()
	require.NoError(t, s.check("set uid", "POST", "/site/a/@@setuid", &Response{StatusCode: 204}, 204))
	assert.Empty(t, buf.String())
}

func TestSite_Vocabulary(t *testing.T) {
	s, _ := newTestSite(t)
	terms, err := s.Vocabulary(context.Background(), "collective.vocabularies.subdepartments")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"WE01": "Physics", "WE02": "Chemistry"}, terms)
}

func TestSite_Discover(t *testing.T) {
	s, _ := newTestSite(t)
	info, err := s.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5.2.4", info.PloneVersion)
	assert.True(t, VersionAtLeast(info.PloneVersion, MinPloneVersion))
}
