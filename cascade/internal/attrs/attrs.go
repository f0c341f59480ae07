// Package attrs merges the attributes of a layout-side host element with those
// of the page element that fills it.
//
// Rules, per key present on either side:
//
//	id          host wins when it has a non-empty id, page otherwise
//	class       union, host tokens first, duplicates dropped
//	data-unify  always removed
//	anything    page wins when it defines the key, host otherwise
//
// Every input shape is first reduced to a Map by Normalize; the rules only
// ever look at that canonical form.
package attrs

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
)

const directive = "data-unify"

// Map is the canonical attribute form: key → value. Order carries no meaning.
type Map map[string]string

// Collection is an enumerable attribute collection.
type Collection interface {
	Len() int
	At(i int) (name, value string)
}

// Prober only answers lookups by name. Normalize probes KnownNames plus any
// extra names handed to it.
type Prober interface {
	GetAttribute(name string) (string, bool)
}

// Pair is one {name, value} record. A nil Value means the attribute is unset.
type Pair struct {
	Name  string
	Value *string
}

// KnownNames is the probe list used for Prober inputs. Callers may append to
// it at init time.
var KnownNames = []string{
	"id", "class", "style", "title", "lang", "dir", "role", "hidden", "tabindex",
	"href", "src", "alt", "name", "content", "rel", "type", "target",
	"aria-label", "aria-labelledby", "aria-describedby", "aria-hidden", "aria-current",
	"data-unify",
}

// Normalize reduces any supported attribute shape to a Map. Unsupported or nil
// input yields an empty Map; unset values are dropped.
func Normalize(src any, extraNames ...string) Map {
	out := Map{}
	switch v := src.(type) {
	case nil:
	case Map:
		for k, val := range v {
			out[k] = val
		}
	case map[string]string:
		for k, val := range v {
			out[k] = val
		}
	case map[string]*string:
		for k, val := range v {
			if val != nil {
				out[k] = *val
			}
		}
	case *html.Node:
		if v != nil {
			addAttributes(out, v.Attr)
		}
	case []html.Attribute:
		addAttributes(out, v)
	case []Pair:
		for _, p := range v {
			if p.Name != "" && p.Value != nil {
				out[p.Name] = *p.Value
			}
		}
	case Collection:
		for i := 0; i < v.Len(); i++ {
			name, val := v.At(i)
			if name != "" {
				out[name] = val
			}
		}
	case Prober:
		names := append(append([]string{}, KnownNames...), extraNames...)
		for _, name := range names {
			if val, ok := v.GetAttribute(name); ok {
				out[name] = val
			}
		}
	}
	return out
}

func addAttributes(out Map, list []html.Attribute) {
	for _, a := range list {
		key := a.Key
		if a.Namespace != "" {
			key = a.Namespace + ":" + a.Key
		}
		out[key] = a.Val
	}
}

// Merge applies the merge rules to a host and a page attribute source. It
// never fails: nil or unsupported input behaves like an empty attribute set.
func Merge(host, page any) Map {
	h := Normalize(host)
	p := Normalize(page)

	out := make(Map, len(h)+len(p))
	for k, v := range h {
		out[k] = v
	}
	for k, v := range p {
		switch k {
		case "id":
			if strings.TrimSpace(h["id"]) == "" {
				out[k] = v
			}
		case "class":
		default:
			out[k] = v
		}
	}

	hc, hasHostClass := h["class"]
	pc, hasPageClass := p["class"]
	if hasHostClass || hasPageClass {
		out["class"] = ClassUnion(hc, pc)
	}

	delete(out, directive)
	return out
}

// ClassUnion joins the class tokens of a and b, first occurrence wins.
func ClassUnion(a, b string) string {
	seen := map[string]bool{}
	var tokens []string
	for _, c := range append(strings.Fields(a), strings.Fields(b)...) {
		if seen[c] {
			continue
		}
		seen[c] = true
		tokens = append(tokens, c)
	}
	return strings.Join(tokens, " ")
}

// Ordered turns m into an attribute list. Keys follow their first position in
// the hint lists; keys absent from every hint come last, sorted.
func Ordered(m Map, hints ...[]html.Attribute) []html.Attribute {
	out := make([]html.Attribute, 0, len(m))
	placed := map[string]bool{}
	for _, hint := range hints {
		for _, a := range hint {
			if a.Namespace != "" || placed[a.Key] {
				continue
			}
			if v, ok := m[a.Key]; ok {
				out = append(out, html.Attribute{Key: a.Key, Val: v})
				placed[a.Key] = true
			}
		}
	}
	var rest []string
	for k := range m {
		if !placed[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		out = append(out, html.Attribute{Key: k, Val: m[k]})
	}
	return out
}

// MergeNodes merges two elements' attributes into a stable attribute list:
// host order first, then page order.
func MergeNodes(host, page *html.Node) []html.Attribute {
	var hostAttr, pageAttr []html.Attribute
	if host != nil {
		hostAttr = host.Attr
	}
	if page != nil {
		pageAttr = page.Attr
	}
	return Ordered(Merge(host, page), hostAttr, pageAttr)
}
