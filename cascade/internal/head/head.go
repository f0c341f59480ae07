// Package head merges <head> metadata along the cascade
// layout → components → page.
//
// Deduplication keys:
//
//	meta    charset | name:<name> | property:<property> | http-equiv:<value>
//	link    rel for canonical/icon, rel:<normalised href> otherwise
//	script  exact src, or a hash of the whitespace-collapsed inline body
//	style   never deduplicated
//
// Meta and link collisions are resolved in place: the later source's entry
// takes the earlier entry's position. Scripts keep their first occurrence.
package head

import (
	"crypto/sha256"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// InlineKey holds the text body of script and style entries.
const InlineKey = "inline"

// Entry is one head element as a key → value record.
type Entry map[string]string

// Model is the mergeable view of a <head> element.
type Model struct {
	Title   string
	Meta    []Entry
	Links   []Entry
	Scripts []Entry
	Styles  []Entry

	// Extra holds serialised head elements with no merge rule (base,
	// noscript, template). Exact duplicates are dropped.
	Extra []string
}

// Normalize returns a copy of m where absent fields are empty sequences and
// nil entries are dropped. A nil model normalises to the empty model.
func Normalize(m *Model) Model {
	out := Model{
		Meta:    []Entry{},
		Links:   []Entry{},
		Scripts: []Entry{},
		Styles:  []Entry{},
		Extra:   []string{},
	}
	if m == nil {
		return out
	}
	out.Title = m.Title
	out.Meta = copyEntries(m.Meta)
	out.Links = copyEntries(m.Links)
	out.Scripts = copyEntries(m.Scripts)
	out.Styles = copyEntries(m.Styles)
	for _, x := range m.Extra {
		if strings.TrimSpace(x) != "" {
			out.Extra = append(out.Extra, x)
		}
	}
	return out
}

func copyEntries(in []Entry) []Entry {
	out := make([]Entry, 0, len(in))
	for _, e := range in {
		if e == nil {
			continue
		}
		c := make(Entry, len(e))
		for k, v := range e {
			c[k] = v
		}
		out = append(out, c)
	}
	return out
}

// Merge layers page over layout.
func Merge(layout, page *Model) Model {
	out := Normalize(layout)
	p := Normalize(page)
	layer(&out, &p)
	return out
}

// MergeWithComponents layers every component head, in processing order,
// between layout and page, then runs one more deduplication pass over meta
// and link entries.
func MergeWithComponents(layout *Model, components []*Model, page *Model) Model {
	out := Normalize(layout)
	for _, c := range components {
		cm := Normalize(c)
		layer(&out, &cm)
	}
	p := Normalize(page)
	layer(&out, &p)

	out.Meta = dedupe(out.Meta, MetaKey)
	out.Links = dedupe(out.Links, LinkKey)
	return out
}

func layer(dst, src *Model) {
	if strings.TrimSpace(src.Title) != "" {
		dst.Title = src.Title
	}
	dst.Meta = replaceInPlace(dst.Meta, src.Meta, MetaKey)
	dst.Links = replaceInPlace(dst.Links, src.Links, LinkKey)
	dst.Scripts = keepFirst(dst.Scripts, src.Scripts, ScriptKey)
	dst.Styles = append(dst.Styles, src.Styles...)
	for _, x := range src.Extra {
		if !containsString(dst.Extra, x) {
			dst.Extra = append(dst.Extra, x)
		}
	}
}

// replaceInPlace appends incoming entries; an entry whose key is already
// present overwrites that entry at its position.
func replaceInPlace(dst, incoming []Entry, key func(Entry) string) []Entry {
	index := map[string]int{}
	for i, e := range dst {
		if k := key(e); k != "" {
			if _, ok := index[k]; !ok {
				index[k] = i
			}
		}
	}
	for _, e := range incoming {
		k := key(e)
		if k == "" {
			dst = append(dst, e)
			continue
		}
		if i, ok := index[k]; ok {
			dst[i] = e
			continue
		}
		index[k] = len(dst)
		dst = append(dst, e)
	}
	return dst
}

func keepFirst(dst, incoming []Entry, key func(Entry) string) []Entry {
	seen := map[string]bool{}
	for _, e := range dst {
		if k := key(e); k != "" {
			seen[k] = true
		}
	}
	for _, e := range incoming {
		k := key(e)
		if k != "" {
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		dst = append(dst, e)
	}
	return dst
}

// dedupe collapses entries sharing a key onto the first position, keeping
// the last value.
func dedupe(in []Entry, key func(Entry) string) []Entry {
	out := make([]Entry, 0, len(in))
	index := map[string]int{}
	for _, e := range in {
		k := key(e)
		if k == "" {
			out = append(out, e)
			continue
		}
		if i, ok := index[k]; ok {
			out[i] = e
			continue
		}
		index[k] = len(out)
		out = append(out, e)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// MetaKey returns the deduplication key of a meta entry, "" when it has none.
func MetaKey(e Entry) string {
	if _, ok := e["charset"]; ok {
		return "charset"
	}
	if v, ok := e["name"]; ok && v != "" {
		return "name:" + strings.ToLower(v)
	}
	if v, ok := e["property"]; ok && v != "" {
		return "property:" + v
	}
	if v, ok := e["http-equiv"]; ok && v != "" {
		return "http-equiv:" + strings.ToLower(v)
	}
	return ""
}

// LinkKey returns the deduplication key of a link entry, "" when it has
// neither rel nor href.
func LinkKey(e Entry) string {
	rel := strings.ToLower(strings.TrimSpace(e["rel"]))
	href := e["href"]
	if rel == "" && href == "" {
		return ""
	}
	if rel == "canonical" || rel == "icon" {
		return rel
	}
	return rel + ":" + NormalizeHref(href)
}

// ScriptKey returns the deduplication key of a script entry, "" when it has
// neither src nor an inline body.
func ScriptKey(e Entry) string {
	if src, ok := e["src"]; ok && src != "" {
		return "src:" + src
	}
	if body, ok := e[InlineKey]; ok && strings.TrimSpace(body) != "" {
		return "inline:" + InlineHash(body)
	}
	return ""
}

// InlineHash hashes an inline body after trimming it and collapsing runs of
// whitespace to single spaces.
func InlineHash(body string) string {
	h := sha256.Sum256([]byte(strings.Join(strings.Fields(body), " ")))
	return fmt.Sprintf("%x", h)
}

var schemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*:`)

// NormalizeHref makes site-relative and root-relative references to the same
// file equal: "assets/x.css" and "/assets/x.css" both become "/assets/x.css".
// Scheme-qualified, protocol-relative, data and fragment-only references are
// returned unchanged.
func NormalizeHref(href string) string {
	h := strings.TrimSpace(href)
	if h == "" || strings.HasPrefix(h, "//") || strings.HasPrefix(h, "#") || schemeRe.MatchString(h) {
		return href
	}
	p, suffix := h, ""
	if i := strings.IndexAny(h, "?#"); i >= 0 {
		p, suffix = h[:i], h[i:]
	}
	return path.Clean("/"+p) + suffix
}
