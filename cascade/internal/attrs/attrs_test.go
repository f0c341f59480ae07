package attrs

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/net/html"
)

func TestMerge_Precedence(t *testing.T) {
	tests := []struct {
		name       string
		host, page Map
		want       Map
	}{
		{"host id wins", Map{"id": "host-id"}, Map{"id": "page-id"}, Map{"id": "host-id"}},
		{"page id fills empty host", Map{}, Map{"id": "page-id"}, Map{"id": "page-id"}},
		{"blank host id yields", Map{"id": "  "}, Map{"id": "page-id"}, Map{"id": "page-id"}},
		{"class union", Map{"class": "a b"}, Map{"class": "b c"}, Map{"class": "a b c"}},
		{"page wins other keys", Map{"data-x": "1", "aria-label": "h"}, Map{"data-x": "2"}, Map{"data-x": "2", "aria-label": "h"}},
		{"boolean attribute from page", Map{}, Map{"hidden": ""}, Map{"hidden": ""}},
		{"directive removed from host", Map{"data-unify": "/a.html", "lang": "en"}, nil, Map{"lang": "en"}},
		{"directive removed from page", nil, Map{"data-unify": "/b.html"}, Map{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.host, tt.page)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Merge mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMerge_NilInputs(t *testing.T) {
	if got := Merge(nil, nil); len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
	var n *html.Node
	if got := Merge(n, 42); len(got) != 0 {
		t.Errorf("expected empty map for nil node and unsupported type, got %v", got)
	}
}

type collection []html.Attribute

func (c collection) Len() int                  { return len(c) }
func (c collection) At(i int) (string, string) { return c[i].Key, c[i].Val }

type prober map[string]string

func (p prober) GetAttribute(name string) (string, bool) {
	v, ok := p[name]
	return v, ok
}

func strPtr(s string) *string { return &s }

func TestNormalize_ShapesAgree(t *testing.T) {
	want := Map{"id": "main", "class": "a b", "data-role": "x"}

	node := &html.Node{Type: html.ElementNode, Data: "div", Attr: []html.Attribute{
		{Key: "id", Val: "main"}, {Key: "class", Val: "a b"}, {Key: "data-role", Val: "x"},
	}}
	shapes := map[string]any{
		"node":       node,
		"attributes": node.Attr,
		"collection": collection(node.Attr),
		"pairs": []Pair{
			{Name: "id", Value: strPtr("main")},
			{Name: "class", Value: strPtr("a b")},
			{Name: "data-role", Value: strPtr("x")},
			{Name: "title", Value: nil},
		},
		"nullable map": map[string]*string{"id": strPtr("main"), "class": strPtr("a b"), "data-role": strPtr("x"), "lang": nil},
	}
	for name, src := range shapes {
		if diff := cmp.Diff(want, Normalize(src)); diff != "" {
			t.Errorf("%s: mismatch (-want +got):\n%s", name, diff)
		}
	}

	// probe-only: data-role is outside the known set until asked for.
	p := prober{"id": "main", "class": "a b", "data-role": "x"}
	if got := Normalize(p); got["data-role"] != "" {
		t.Errorf("unknown name should not be probed, got %v", got)
	}
	if diff := cmp.Diff(want, Normalize(p, "data-role")); diff != "" {
		t.Errorf("prober: mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_NoNullStrings(t *testing.T) {
	got := Normalize(map[string]*string{"a": nil})
	for _, v := range got {
		if v == "null" || v == "undefined" {
			t.Fatalf("null value stored as string: %v", got)
		}
	}
	if len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
}

func TestClassUnion(t *testing.T) {
	if got := ClassUnion(" a  b a", "c b"); got != "a b c" {
		t.Errorf("ClassUnion: got %q", got)
	}
	if got := ClassUnion("", ""); got != "" {
		t.Errorf("ClassUnion empty: got %q", got)
	}
}

func TestMergeNodes_StableOrder(t *testing.T) {
	host := &html.Node{Type: html.ElementNode, Data: "main", Attr: []html.Attribute{
		{Key: "id", Val: "content"}, {Key: "class", Val: "unify-content"}, {Key: "data-unify", Val: "x"},
	}}
	page := &html.Node{Type: html.ElementNode, Data: "main", Attr: []html.Attribute{
		{Key: "class", Val: "prose"}, {Key: "data-page", Val: "1"}, {Key: "aria-label", Val: "Body"},
	}}

	got := MergeNodes(host, page)
	var keys []string
	for _, a := range got {
		keys = append(keys, a.Key+"="+a.Val)
	}
	want := "id=content class=unify-content prose data-page=1 aria-label=Body"
	if strings.Join(keys, " ") != want {
		t.Errorf("MergeNodes: got %q, want %q", strings.Join(keys, " "), want)
	}
}
