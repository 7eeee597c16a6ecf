package transform

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/site-migration-workbench/internal/models"
)

type fakeChildren map[string][]models.Record

func (f fakeChildren) Descendants(_ context.Context, path string) ([]models.Record, error) {
	if recs, ok := f[path]; ok {
		return recs, nil
	}
	return nil, nil
}

type failingChildren struct{}

func (failingChildren) Descendants(context.Context, string) ([]models.Record, error) {
	return nil, errors.New("store down")
}

func newTransformer(children ChildSource) *Transformer {
	if children == nil {
		children = fakeChildren{}
	}
	return New([]string{"nl", "en"}, children, zerolog.Nop())
}

func TestTransform_TitleFallsBackToID(t *testing.T) {
	tr := newTransformer(nil)
	for _, title := range []interface{}{"", "   ", "\t\n", nil} {
		rec := models.Record{"_path": "/plone_portal/nl/doc", "_type": "Document", "_object_id": "doc", "title": title}
		p, err := tr.Transform(context.Background(), rec)
		require.NoError(t, err)
		assert.Equal(t, "doc", p.Title)
	}

	rec := models.Record{"_path": "/plone_portal/nl/doc", "_type": "Document", "_object_id": "doc", "title": "  Hello "}
	p, err := tr.Transform(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "Hello", p.Title)
}

func TestTransform_CommonFields(t *testing.T) {
	tr := newTransformer(nil)
	rec := models.Record{
		"_path":          "/plone_portal/nl/doc",
		"_type":          "Document",
		"_object_id":     "doc",
		"text":           "<p>hi</p>",
		"subject":        []interface{}{"a", "b"},
		"language":       "fr",
		"excludeFromNav": false,
		"effectiveDate":  "2019/05/13 11:47:28 GMT+2",
		"expirationDate": "2030-01-01T00:00:00+01:00",
		"tableContents":  true,
	}
	p, err := tr.Transform(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "Document", p.Type)
	assert.Equal(t, "<p>hi</p>", p.Field("text"))
	assert.Equal(t, []interface{}{"a", "b"}, p.Field("subjects"))
	assert.Equal(t, "nl", p.Field("language"), "unconfigured language falls back to the default")
	assert.Equal(t, false, p.Field("exclude_from_nav"))
	assert.Equal(t, "2019-05-13T11:47:28+02:00", p.Field("effective"))
	assert.Equal(t, "2030-01-01T00:00:00+01:00", p.Field("expires"))
	assert.Equal(t, true, p.Field("table_of_contents"))

	rec["language"] = "en"
	delete(rec, "excludeFromNav")
	delete(rec, "expirationDate")
	p, err = tr.Transform(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "en", p.Field("language"))
	assert.Equal(t, true, p.Field("exclude_from_nav"))
	assert.Nil(t, p.Field("expires"))
}

func TestTransform_Ignored(t *testing.T) {
	tr := newTransformer(nil)
	tests := []models.Record{
		{"_path": "/p/f/x", "_type": "FormStringField"},
		{"_path": "/p/f/y", "_type": "Page Template"},
		{"_path": "/p/f/z", "_type": "Something", "_meta_type": "FormThanksPage"},
	}
	for _, rec := range tests {
		t.Run(rec.Path(), func(t *testing.T) {
			p, err := tr.Transform(context.Background(), rec)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, ErrSkipped)
		})
	}
}

func TestTransform_UnknownTypeIsGeneric(t *testing.T) {
	tr := newTransformer(nil)
	p, err := tr.Transform(context.Background(), models.Record{"_path": "/p/x", "_type": "Whatever", "_object_id": "x", "title": "X"})
	require.NoError(t, err)
	assert.Equal(t, "Whatever", p.Type)
	assert.Equal(t, "X", p.Title)
	assert.Nil(t, p.Field("text"))
}

func TestTransform_RichFolderBecomesFolder(t *testing.T) {
	tr := newTransformer(nil)
	p, err := tr.Transform(context.Background(), models.Record{"_path": "/p/rf", "_type": "RichFolder", "navigation_root": "True"})
	require.NoError(t, err)
	assert.Equal(t, "Folder", p.Type)
	assert.Equal(t, true, p.Field("navigation_root"))
}

func TestTransform_EventTimeCorrection(t *testing.T) {
	tr := newTransformer(nil)
	rec := models.Record{
		"_path":        "/p/ev",
		"_type":        "Event",
		"startDate":    "2020-08-25T17:00:00+02:00",
		"endDate":      "2020-08-25T19:30:00+02:00",
		"eventUrl":     "https://example.org/événement",
		"contactEmail": "",
		"contactName":  "Jan",
	}
	p, err := tr.Transform(context.Background(), rec)
	require.NoError(t, err)

	start, err := time.Parse(time.RFC3339, p.Field("start").(string))
	require.NoError(t, err)
	want, _ := time.Parse(time.RFC3339, "2020-08-25T13:00:00+02:00")
	assert.True(t, start.Equal(want), "start = %v", start)
	assert.Equal(t, "2020-08-25T15:30:00+02:00", p.Field("end"))
	assert.Equal(t, "https://example.org/vnement", p.Field("event_url"))
	assert.Equal(t, "Jan", p.Field("contact_name"))
	_, hasEmail := p.Fields["contact_email"]
	assert.False(t, hasEmail, "empty contact fields are dropped")
	_, hasPhone := p.Fields["contact_phone"]
	assert.False(t, hasPhone)
}

func TestTransform_EventBadDate(t *testing.T) {
	tr := newTransformer(nil)
	_, err := tr.Transform(context.Background(), models.Record{"_path": "/p/ev", "_type": "Event", "startDate": "soon"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSkipped)
}

// bmpHeader is the start of a Windows bitmap.
var bmpHeader = append([]byte("BM"), make([]byte, 52)...)

func TestTransform_ContentTypeSniffing(t *testing.T) {
	tr := newTransformer(nil)
	data := base64.StdEncoding.EncodeToString(bmpHeader)

	tests := []struct {
		name     string
		declared string
		want     string
	}{
		{"octet stream is sniffed", "application/octet-stream", "image/bmp"},
		{"empty is sniffed", "", "image/bmp"},
		{"declared type is kept", "image/png", "image/png"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := models.Record{"_path": "/p/img", "_type": "Image", "_datafield_image": map[string]interface{}{
				"data": data, "content_type": tc.declared, "filename": "x.bmp",
			}}
			p, err := tr.Transform(context.Background(), rec)
			require.NoError(t, err)
			img := p.Field("image").(map[string]interface{})
			assert.Equal(t, tc.want, img["content-type"])
			assert.Equal(t, data, img["data"])
			assert.Equal(t, "base64", img["encoding"])
			assert.Equal(t, "x.bmp", img["filename"])
		})
	}
}

func TestTransform_MissingBlobIsSkipped(t *testing.T) {
	tr := newTransformer(nil)
	for _, typ := range []string{"File", "Image"} {
		_, err := tr.Transform(context.Background(), models.Record{"_path": "/p/x", "_type": typ})
		assert.ErrorIs(t, err, ErrSkipped, typ)
	}
}

func TestTransform_Subdepartment(t *testing.T) {
	tr := newTransformer(nil)
	tr.SetSubdepartments([]string{"WE01"})
	p, err := tr.Transform(context.Background(), models.Record{"_path": "/p/d", "_type": "Document", "subdepartment": "XX"})
	require.NoError(t, err)
	assert.Equal(t, "", p.Field("subdepartment"))

	p, err = tr.Transform(context.Background(), models.Record{"_path": "/p/d", "_type": "Document", "subdepartment": "WE01"})
	require.NoError(t, err)
	assert.Equal(t, "WE01", p.Field("subdepartment"))
}

func TestTransform_ChildSourceFailure(t *testing.T) {
	tr := newTransformer(failingChildren{})
	_, err := tr.Transform(context.Background(), models.Record{"_path": "/p/form", "_type": "FormFolder"})
	assert.ErrorContains(t, err, "store down")
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2020-08-25T17:00:00+02:00", "2020-08-25T17:00:00+02:00"},
		{"2019/05/13 11:47:28.123 GMT+2", "2019-05-13T11:47:28+02:00"},
		{"2019/05/13 11:47:28 GMT+1", "2019-05-13T11:47:28+01:00"},
		{"2019-05-13", "2019-05-13T00:00:00Z"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			d, err := ParseDate(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, d.Format(time.RFC3339))
		})
	}
	_, ok := isoDate("None")
	assert.False(t, ok)
}

func TestLayout(t *testing.T) {
	tests := []struct {
		typ, in, want string
		ok            bool
	}{
		{"Folder", "", "", false},
		{"Folder", "blog_view", "", false},
		{"Folder", "atct_album_view", "album_view", true},
		{"Topic", "atct_topic_view", "listing_view", true},
		{"Topic", "folder_listing_standardview", "listing_view", true},
		{"Folder", "folder_listing_standardview", "folder_listing_standardview", true},
		{"Folder", "sortable_view_unbatched", "tabular_view", true},
		{"Folder", "folder_summary_view", "summary_view", true},
		{"Document", "document_view", "document_view", true},
	}
	for _, tc := range tests {
		t.Run(tc.typ+"/"+tc.in, func(t *testing.T) {
			got, ok := Layout(tc.typ, tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestReplayHelpers(t *testing.T) {
	rec := models.Record{
		"_directly_provided": []interface{}{
			"plone.app.layout.navigation.interfaces.INavigationRoot",
			"some.other.IMarker",
			UnavailableInterface,
		},
		"_annotations":        map[string]interface{}{"collective.unavailable": map[string]interface{}{"until": "x"}},
		"_permissions":        map[string]interface{}{"View": []interface{}{"Anonymous"}, "Change portal events": []interface{}{}},
		"_ac_local_roles":     map[string]interface{}{"bob": []interface{}{"Editor"}, "alice": []interface{}{"Owner", "Reader"}},
		"_portlets_blacklist": map[string]interface{}{"plone.leftcolumn": 1.0, "plone.rightcolumn": 0.0},
		"_portlets": map[string]interface{}{
			"plone.rightcolumn": []interface{}{map[string]interface{}{
				"name": "<collective.portlet.links.portlet.Assignment at 0x7f>", "data": map[string]interface{}{"x": 1.0},
			}},
		},
		"constrainTypesMode":  1.0,
		"locallyAllowedTypes": []interface{}{"Document"},
	}

	assert.Equal(t, []string{"plone.app.layout.navigation.interfaces.INavigationRoot"}, MarkerInterfaces(rec))

	ann, ok := Unavailable(rec)
	assert.True(t, ok)
	assert.Equal(t, map[string]interface{}{"until": "x"}, ann)

	perms := Permissions(rec)
	assert.Contains(t, perms, "View")
	assert.NotContains(t, perms, "Change portal events")

	entries, inherit := SharingEntries(rec)
	assert.True(t, inherit)
	require.Len(t, entries, 2)
	assert.Equal(t, "alice", entries[0].ID)
	assert.Equal(t, map[string]bool{"Owner": true, "Reader": true}, entries[0].Roles)

	assert.Equal(t, []string{"plone.leftcolumn"}, BlacklistedManagers(rec))

	ports := Portlets(rec)
	require.Len(t, ports, 1)
	assert.Equal(t, "collective.portlet.links.portlet.Assignment", ports[0].Class)
	assert.Equal(t, "plone.rightcolumn", ports[0].Manager)

	allowed, addable, mode, ok := TypeRestrictions(rec)
	assert.True(t, ok)
	assert.Equal(t, 1, mode)
	assert.Equal(t, []string{"Document"}, allowed)
	assert.Empty(t, addable)

	_, _, _, ok = TypeRestrictions(models.Record{"locallyAllowedTypes": []interface{}{"Document"}})
	assert.False(t, ok, "acquired restrictions are not sent")
}

func TestSniffContentType_BadBase64(t *testing.T) {
	_, err := SniffContentType("!!!not base64")
	assert.Error(t, err)
	ct, err := SniffContentType(base64.StdEncoding.EncodeToString([]byte(strings.Repeat("plain text ", 4))))
	require.NoError(t, err)
	assert.Equal(t, "text/plain", ct)
}
