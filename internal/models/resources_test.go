package models

import (
	"encoding/json"
	"testing"
)

func TestToInt(t *testing.T) {
	tests := []struct {
		name   string
		input  interface{}
		expect int
	}{
		{"float64", float64(42), 42},
		{"int", 7, 7},
		{"json.Number", json.Number("99"), 99},
		{"numeric string", "12", 12},
		{"nil", nil, 0},
		{"string", "not a number", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ToInt(tc.input)
			if got != tc.expect {
				t.Errorf("ToInt(%v) = %d, want %d", tc.input, got, tc.expect)
			}
		})
	}
}

func TestRecord_Accessors(t *testing.T) {
	r := Record{
		"_key":       "k1",
		"_path":      "/plone_portal/nl/news/item",
		"_type":      "News Item",
		"_gopip":     float64(3),
		"title":      "  Hello  ",
		"relatedItems": []interface{}{"u1", 2, "u2"},
		"navigation_root": "True",
	}
	if r.Key() != "k1" || r.Type() != "News Item" {
		t.Errorf("Key/Type = %q/%q", r.Key(), r.Type())
	}
	if r.Position() != 3 {
		t.Errorf("Position() = %d, want 3", r.Position())
	}
	if r.Title() != "Hello" {
		t.Errorf("Title() = %q, want Hello", r.Title())
	}
	if got := r.Strings("relatedItems"); len(got) != 2 || got[1] != "u2" {
		t.Errorf("Strings(relatedItems) = %v", got)
	}
	if !r.Bool("navigation_root") {
		t.Error(`Bool("True") = false`)
	}
	if r.ObjectID() != "item" {
		t.Errorf("ObjectID() = %q, want item (from path)", r.ObjectID())
	}
	if r.ParentPath() != "/plone_portal/nl/news" {
		t.Errorf("ParentPath() = %q", r.ParentPath())
	}
	if r.RelativePath() != "nl/news/item" {
		t.Errorf("RelativePath() = %q", r.RelativePath())
	}
	anc := r.Ancestors()
	want := []string{"/plone_portal", "/plone_portal/nl", "/plone_portal/nl/news"}
	if len(anc) != len(want) {
		t.Fatalf("Ancestors() = %v, want %v", anc, want)
	}
	for i := range want {
		if anc[i] != want[i] {
			t.Errorf("Ancestors()[%d] = %q, want %q", i, anc[i], want[i])
		}
	}
}

func TestPayload_MarshalJSON(t *testing.T) {
	p := &Payload{
		Type:   "Document",
		ID:     "doc",
		Title:  "Doc",
		Fields: map[string]interface{}{"text": "<p>x</p>", "@type": "ignored"},
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if body["@type"] != "Document" || body["id"] != "doc" || body["text"] != "<p>x</p>" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["description"]; !ok {
		t.Error("description should always be present")
	}
}
