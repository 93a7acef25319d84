// Package scrape is the only place that knows how to look inside portal HTML.
// Call sites describe what they want as a Field (an ordered list of selectors plus
// the attribute to read) and never walk the node tree themselves, so a markup
// change on the portal means editing selectors, not parsing code.
package scrape

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/go-faster/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Selector matches a single element. Empty fields are ignored; all set fields must
// match.
type Selector struct {
	Tag     string
	ID      string
	Class   string // one token of the class attribute
	Attr    string // attribute that must be present
	Value   string // exact value of Attr
	Pattern *regexp.Regexp
}

// Field is a value to extract. Strategies are tried in order, first match wins.
// Attr names the attribute to read; empty Attr reads the element text.
type Field struct {
	Name       string
	Strategies []Selector
	Attr       string
}

type Document struct {
	root *html.Node
}

func Parse(body []byte) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "parse html")
	}
	return &Document{root: root}, nil
}

// Find returns the first element in document order matching sel.
func (d *Document) Find(sel Selector) (*html.Node, bool) {
	found := find(d.root, sel.Match)
	return found, found != nil
}

// First tries strategies in order and reports which one matched.
func (d *Document) First(strategies []Selector) (*html.Node, int, bool) {
	for i, sel := range strategies {
		if n, ok := d.Find(sel); ok {
			return n, i, true
		}
	}
	return nil, -1, false
}

// Has reports whether any strategy of f matches, regardless of the value.
func (d *Document) Has(f Field) bool {
	_, _, ok := d.First(f.Strategies)
	return ok
}

// Extract returns the trimmed value of f from the first matching element whose
// value is not empty. Strategies whose element carries no usable value are skipped.
func Extract(d *Document, f Field) (string, bool) {
	for _, sel := range f.Strategies {
		n, ok := d.Find(sel)
		if !ok {
			continue
		}
		var v string
		if f.Attr == "" {
			v = Text(n)
		} else {
			v, _ = AttrOf(n, f.Attr)
			v = strings.TrimSpace(v)
		}
		if v != "" {
			return v, true
		}
	}
	return "", false
}

// ExtractFrom parses body and extracts f in one go.
func ExtractFrom(body []byte, f Field) (string, bool) {
	d, err := Parse(body)
	if err != nil {
		return "", false
	}
	return Extract(d, f)
}

func (s Selector) Match(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.Tag != "" && !strings.EqualFold(n.Data, s.Tag) {
		return false
	}
	if s.ID != "" {
		if v, ok := AttrOf(n, "id"); !ok || v != s.ID {
			return false
		}
	}
	if s.Class != "" && !hasClass(n, s.Class) {
		return false
	}
	if s.Attr != "" {
		v, ok := AttrOf(n, s.Attr)
		if !ok {
			return false
		}
		if s.Value != "" && v != s.Value {
			return false
		}
		if s.Pattern != nil && !s.Pattern.MatchString(v) {
			return false
		}
	}
	return true
}

func AttrOf(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// Text returns the visible text below n with whitespace collapsed to single spaces.
func Text(n *html.Node) string {
	var parts []string
	walk(n, func(c *html.Node) bool {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Script || c.DataAtom == atom.Style) {
			return false
		}
		if c.Type == html.TextNode {
			parts = append(parts, strings.Fields(c.Data)...)
		}
		return true
	})
	return strings.Join(parts, " ")
}

func hasClass(n *html.Node, class string) bool {
	v, ok := AttrOf(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := find(c, match); f != nil {
			return f
		}
	}
	return nil
}

// walk visits n and its descendants depth first; visit returns false to skip the
// children of the node.
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}
