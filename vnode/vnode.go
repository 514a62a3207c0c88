// Package vnode defines the virtual tree shared by the server-side diff engine
// and the client-side patch applier.
//
// A Node is exactly one of *Element, *Text or *Comment. Children order is
// significant: it drives both visual order and path addressing. Text nodes made
// only of whitespace are not addressable (see Meaningful) and both producer and
// consumer must skip them identically.
package vnode

import (
	"sort"
	"strings"
)

// Kind identifies the variant of a Node.
type Kind uint8

const (
	KindElement Kind = iota + 1
	KindText
	KindComment
)

func (k Kind) String() string {
	switch k {
	case KindElement:
		return "element"
	case KindText:
		return "text"
	case KindComment:
		return "comment"
	}
	return "unknown"
}

// KeyAttr is the attribute carrying an element's reconciliation key.
const KeyAttr = "data-key"

// Node is a virtual tree node. The set of implementations is closed.
type Node interface {
	Kind() Kind
	sealed()
}

// Element is a tagged node with attributes and ordered children.
type Element struct {
	Tag      string
	Attrs    map[string]string
	Children []Node
}

// Text is a character data node.
type Text struct {
	Value string
}

// Comment is a markup comment.
type Comment struct {
	Value string
}

func (*Element) Kind() Kind { return KindElement }
func (*Text) Kind() Kind    { return KindText }
func (*Comment) Kind() Kind { return KindComment }

func (*Element) sealed() {}
func (*Text) sealed()    {}
func (*Comment) sealed() {}

// El builds an element. A nil attrs map is replaced with an empty one.
func El(tag string, attrs map[string]string, children ...Node) *Element {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &Element{Tag: tag, Attrs: attrs, Children: children}
}

// T builds a text node.
func T(value string) *Text { return &Text{Value: value} }

// C builds a comment node.
func C(value string) *Comment { return &Comment{Value: value} }

// Key returns the element's reconciliation key, or "" when unkeyed.
func (e *Element) Key() string {
	return e.Attrs[KeyAttr]
}

// AttrKeys returns the attribute names sorted, for deterministic iteration.
func (e *Element) AttrKeys() []string {
	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsBlank reports whether s holds only whitespace.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// Meaningful reports whether n takes part in path addressing.
func Meaningful(n Node) bool {
	if t, ok := n.(*Text); ok {
		return !IsBlank(t.Value)
	}
	return n != nil
}

// MeaningfulChildren returns the addressable children of e in order.
// The returned slice aliases nothing when filtering was needed.
func MeaningfulChildren(e *Element) []Node {
	for _, c := range e.Children {
		if !Meaningful(c) {
			out := make([]Node, 0, len(e.Children))
			for _, c := range e.Children {
				if Meaningful(c) {
					out = append(out, c)
				}
			}
			return out
		}
	}
	return e.Children
}

// SameType reports whether a and b can be diffed in place: same variant and,
// for elements, the same tag.
func SameType(a, b Node) bool {
	if a == nil || b == nil || a.Kind() != b.Kind() {
		return false
	}
	if ea, ok := a.(*Element); ok {
		return strings.EqualFold(ea.Tag, b.(*Element).Tag)
	}
	return true
}

// Equal reports structural equality, ignoring non-meaningful text nodes.
func Equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *Text:
		y, ok := b.(*Text)
		return ok && x.Value == y.Value
	case *Comment:
		y, ok := b.(*Comment)
		return ok && x.Value == y.Value
	case *Element:
		y, ok := b.(*Element)
		if !ok || !strings.EqualFold(x.Tag, y.Tag) || len(x.Attrs) != len(y.Attrs) {
			return false
		}
		for k, v := range x.Attrs {
			if w, ok := y.Attrs[k]; !ok || w != v {
				return false
			}
		}
		xc, yc := MeaningfulChildren(x), MeaningfulChildren(y)
		if len(xc) != len(yc) {
			return false
		}
		for i := range xc {
			if !Equal(xc[i], yc[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Clone returns a deep copy of n.
func Clone(n Node) Node {
	switch x := n.(type) {
	case *Text:
		return &Text{Value: x.Value}
	case *Comment:
		return &Comment{Value: x.Value}
	case *Element:
		attrs := make(map[string]string, len(x.Attrs))
		for k, v := range x.Attrs {
			attrs[k] = v
		}
		children := make([]Node, len(x.Children))
		for i, c := range x.Children {
			children[i] = Clone(c)
		}
		return &Element{Tag: x.Tag, Attrs: attrs, Children: children}
	}
	return nil
}

// At resolves path against root using meaningful-children counting.
func At(root Node, p Path) (Node, bool) {
	n := root
	for _, idx := range p {
		e, ok := n.(*Element)
		if !ok {
			return nil, false
		}
		children := MeaningfulChildren(e)
		if idx < 0 || idx >= len(children) {
			return nil, false
		}
		n = children[idx]
	}
	return n, n != nil
}
