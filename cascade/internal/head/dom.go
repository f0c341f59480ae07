package head

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/fwdslsh/unify-sub006/cascade/internal/attrs"
	"github.com/fwdslsh/unify-sub006/cascade/internal/dom"
)

// Extract reads a Model from a <head> element. A nil head gives the empty
// model.
func Extract(h *html.Node) Model {
	m := Normalize(nil)
	if h == nil {
		return m
	}
	for _, n := range dom.ElementChildren(h) {
		switch n.DataAtom {
		case atom.Title:
			m.Title = strings.TrimSpace(dom.TextContent(n))
		case atom.Meta:
			m.Meta = append(m.Meta, Entry(attrs.Normalize(n)))
		case atom.Link:
			m.Links = append(m.Links, Entry(attrs.Normalize(n)))
		case atom.Script:
			e := Entry(attrs.Normalize(n))
			if body := dom.TextContent(n); strings.TrimSpace(body) != "" {
				e[InlineKey] = body
			}
			m.Scripts = append(m.Scripts, e)
		case atom.Style:
			e := Entry(attrs.Normalize(n))
			e[InlineKey] = dom.TextContent(n)
			m.Styles = append(m.Styles, e)
		default:
			if raw, err := dom.OuterHTML(n); err == nil {
				m.Extra = append(m.Extra, raw)
			}
		}
	}
	return m
}

// Apply replaces the children of a <head> element with the rendering of m.
// Order: charset, title, other meta, extra elements, links, styles, scripts.
// Elements are regrouped in that order, so a script that came before a
// stylesheet in the source ends up after it. Order within a group is kept.
func Apply(h *html.Node, m Model) error {
	dom.RemoveChildren(h)

	var rest []Entry
	for _, e := range m.Meta {
		if _, ok := e["charset"]; ok {
			h.AppendChild(element(atom.Meta, e))
			continue
		}
		rest = append(rest, e)
	}
	if m.Title != "" {
		t := &html.Node{Type: html.ElementNode, Data: "title", DataAtom: atom.Title}
		t.AppendChild(&html.Node{Type: html.TextNode, Data: m.Title})
		h.AppendChild(t)
	}
	for _, e := range rest {
		h.AppendChild(element(atom.Meta, e))
	}
	for _, raw := range m.Extra {
		nodes, err := dom.ParseFragment(raw, h)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			h.AppendChild(n)
		}
	}
	for _, e := range m.Links {
		h.AppendChild(element(atom.Link, e))
	}
	for _, e := range m.Styles {
		h.AppendChild(element(atom.Style, e))
	}
	for _, e := range m.Scripts {
		h.AppendChild(element(atom.Script, e))
	}
	return nil
}

var attrOrder = []string{"charset", "name", "property", "http-equiv", "rel", "href", "src", "type", "content"}

func element(a atom.Atom, e Entry) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: a.String(), DataAtom: a}

	placed := map[string]bool{InlineKey: true}
	for _, k := range attrOrder {
		if v, ok := e[k]; ok {
			n.Attr = append(n.Attr, html.Attribute{Key: k, Val: v})
			placed[k] = true
		}
	}
	var keys []string
	for k := range e {
		if !placed[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		n.Attr = append(n.Attr, html.Attribute{Key: k, Val: e[k]})
	}

	if body, ok := e[InlineKey]; ok {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: body})
	}
	return n
}
