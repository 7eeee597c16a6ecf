package migration

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/site-migration-workbench/internal/models"
	"github.com/rflorenc/site-migration-workbench/internal/platform"
)

func TestDeferred_Collect(t *testing.T) {
	d := NewDeferred()
	d.Collect(record("/p/nl/a", "Document", "_uid", "u-a", "relatedItems", []interface{}{"u-b", "u-c"}), "nl/a")
	d.Collect(record("/p/nl/b", "Document", "_uid", "u-b", "relatedItems", []interface{}{}), "nl/b")
	d.Collect(record("/p/nl/c", "News Item", "_uid", "u-c", "imageref", []interface{}{"u-img", "u-other"}), "nl/c")
	d.Collect(record("/p/nl/d", "News Item", "_uid", "u-d", "imageref", "u-img"), "nl/d")
	d.Collect(record("/p/nl/e", "Document", "relatedItems", []interface{}{"u-a"}), "nl/e")

	assert.Equal(t, map[string][]string{"u-a": {"u-b", "u-c"}}, d.RelatedItems)
	assert.Equal(t, map[string]string{"u-c": "u-img", "u-d": "u-img"}, d.ImageRefs)
	assert.Empty(t, d.DefaultPages)
	assert.Empty(t, d.Portlets)
}

func TestDeferred_RelatedItemsCompleteness(t *testing.T) {
	d := NewDeferred()
	want := map[string][]string{}
	for i := 0; i < 20; i++ {
		uid := fmt.Sprintf("u-%d", i)
		extra := []interface{}{"_uid", uid}
		if i%3 == 0 {
			related := []interface{}{fmt.Sprintf("u-%d", i+1)}
			extra = append(extra, "relatedItems", related)
			want[uid] = []string{fmt.Sprintf("u-%d", i+1)}
		}
		d.Collect(record(fmt.Sprintf("/p/nl/%d", i), "Document", extra...), fmt.Sprintf("nl/%d", i))
	}
	assert.Equal(t, want, d.RelatedItems)
}

func TestDeferred_KeepsFirstSeenOrder(t *testing.T) {
	d := NewDeferred()
	a := record("/p/nl/a", "Folder", "_defaultpage", "index")
	b := record("/p/nl/b", "Folder", "_defaultpage", "front")
	d.Collect(b, "nl/b")
	d.Collect(a, "nl/a")
	d.Collect(b, "nl/b")

	assert.Equal(t, []string{b.Key(), a.Key()}, d.pageKeys)
	assert.Len(t, d.DefaultPages, 2)
}

func portletRecord(path string) models.Record {
	return record(path, "Folder", "_portlets", map[string]interface{}{
		"plone.rightcolumn": []interface{}{
			map[string]interface{}{
				"name": "<collective.portlet.links.portlet.Assignment at 0x7f>",
				"data": map[string]interface{}{"title": "Links"},
			},
		},
		"plone.leftcolumn": []interface{}{
			map[string]interface{}{"name": "<plone.portlet.static.static.Assignment at 0x7f>", "data": map[string]interface{}{}},
		},
	})
}

func TestResolveDeferred(t *testing.T) {
	remote := newFakeRemote()
	folder := record("/plone_portal/nl/a", "Folder", "_defaultpage", "intro")
	withPortlets := portletRecord("/plone_portal/nl/b")
	m := newTestMigrator(t, testConfig(), remote, folder, withPortlets)

	m.deferred.Collect(folder, "nl/a")
	m.deferred.Collect(withPortlets, "nl/b")
	m.deferred.RelatedItems["u-1"] = []string{"u-2"}

	require.NoError(t, m.ResolveDeferred(context.Background()))
	assert.Equal(t, []string{
		"default-page nl/a intro",
		"portlet nl/b plone.leftcolumn",
		"portlet nl/b plone.rightcolumn",
		"related-items 1",
		"image-refs 0",
	}, remote.calls)
}

func TestResolveDeferred_FailuresAreContained(t *testing.T) {
	remote := newFakeRemote()
	remote.opErr["default-page"] = fmt.Errorf("set default page: %w", platform.ErrDefaultPageMissing)
	remote.opErr["portlet"] = &platform.RemoteError{Op: "add portlet", StatusCode: 500}
	remote.opErr["related-items"] = &platform.RemoteError{Op: "related items", StatusCode: 400}

	folder := record("/plone_portal/nl/a", "Folder", "_defaultpage", "gone")
	withPortlets := portletRecord("/plone_portal/nl/b")
	m := newTestMigrator(t, testConfig(), remote, folder, withPortlets)
	m.deferred.Collect(folder, "nl/a")
	m.deferred.Collect(withPortlets, "nl/b")
	// A record that disappeared from the store.
	m.deferred.Collect(record("/plone_portal/nl/c", "Folder", "_defaultpage", "x"), "nl/c")

	require.NoError(t, m.ResolveDeferred(context.Background()))
	assert.Len(t, remote.ops("portlet"), 2)
	assert.Len(t, remote.ops("related-items"), 1)
	assert.Len(t, remote.ops("image-refs"), 1)
	assert.Equal(t, []string{"default-page nl/a gone"}, remote.ops("default-page"))
}

func TestResolveDeferred_Cancelled(t *testing.T) {
	remote := newFakeRemote()
	folder := record("/plone_portal/nl/a", "Folder", "_defaultpage", "intro")
	m := newTestMigrator(t, testConfig(), remote, folder)
	m.deferred.Collect(folder, "nl/a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.ResolveDeferred(ctx), context.Canceled)
	assert.Empty(t, remote.calls)
}
