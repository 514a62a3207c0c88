// Package patch defines the structural edits produced by the diff engine and
// replayed by the applier, together with their JSON wire form.
//
// Patch is a closed sum type. Consumers dispatch with a type switch over
// *Create, *Remove, *Replace, *UpdateText, *UpdateAttrs and *Reorder.
package patch

import (
	"fmt"

	"github.com/hazyhaar/domdiff/vnode"
)

// Type is the kind of a patch.
type Type uint8

const (
	TypeCreate Type = iota + 1
	TypeRemove
	TypeReplace
	TypeUpdateText
	TypeUpdateAttrs
	TypeReorder
)

var typeNames = [...]string{
	TypeCreate:      "create",
	TypeRemove:      "remove",
	TypeReplace:     "replace",
	TypeUpdateText:  "update_text",
	TypeUpdateAttrs: "update_attrs",
	TypeReorder:     "reorder",
}

var typeCodes = [...]string{
	TypeCreate:      "c",
	TypeRemove:      "r",
	TypeReplace:     "R",
	TypeUpdateText:  "t",
	TypeUpdateAttrs: "a",
	TypeReorder:     "o",
}

// String returns the verbose name ("create", "update_attrs", ...).
func (t Type) String() string {
	if t == 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
	return typeNames[t]
}

// Code returns the one-letter wire code.
func (t Type) Code() string {
	if t == 0 || int(t) >= len(typeCodes) {
		return ""
	}
	return typeCodes[t]
}

// ParseType accepts either the wire code or the verbose name.
func ParseType(s string) (Type, error) {
	for t := TypeCreate; t <= TypeReorder; t++ {
		if s == typeCodes[t] || s == typeNames[t] {
			return t, nil
		}
	}
	return 0, fmt.Errorf("patch: unknown type %q", s)
}

// Patch is one addressed edit.
type Patch interface {
	Type() Type
	// Target is the addressed path: the parent-plus-index for creates, the
	// node itself for everything else.
	Target() vnode.Path
	sealed()
}

// Create inserts Node under the parent at Path[:len-1]. The insertion index
// is InsertIndex when set, else the last path segment. An empty path with no
// InsertIndex denotes full replacement of the root.
type Create struct {
	Path        vnode.Path
	Node        vnode.Node
	InsertIndex *int
}

// Remove detaches the node at Path. Remove paths are old-tree paths.
type Remove struct {
	Path vnode.Path
}

// Replace substitutes the node at Path with a materialisation of Node.
type Replace struct {
	Path vnode.Path
	Node vnode.Node
}

// UpdateText sets the text of the text node at Path.
type UpdateText struct {
	Path vnode.Path
	Text string
}

// UpdateAttrs applies Set (overwrite or create) then Remove on the element
// at Path. Remove is sorted.
type UpdateAttrs struct {
	Path   vnode.Path
	Set    map[string]string
	Remove []string
}

// Move relocates the child at From to before the child currently at To.
// To equal to the child count appends.
type Move struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Reorder repositions the children of the element at Path. Moves apply in
// order, each observing the list left by the previous one.
type Reorder struct {
	Path  vnode.Path
	Moves []Move
}

func (*Create) Type() Type      { return TypeCreate }
func (*Remove) Type() Type      { return TypeRemove }
func (*Replace) Type() Type     { return TypeReplace }
func (*UpdateText) Type() Type  { return TypeUpdateText }
func (*UpdateAttrs) Type() Type { return TypeUpdateAttrs }
func (*Reorder) Type() Type     { return TypeReorder }

func (p *Create) Target() vnode.Path      { return p.Path }
func (p *Remove) Target() vnode.Path      { return p.Path }
func (p *Replace) Target() vnode.Path     { return p.Path }
func (p *UpdateText) Target() vnode.Path  { return p.Path }
func (p *UpdateAttrs) Target() vnode.Path { return p.Path }
func (p *Reorder) Target() vnode.Path     { return p.Path }

func (*Create) sealed()      {}
func (*Remove) sealed()      {}
func (*Replace) sealed()     {}
func (*UpdateText) sealed()  {}
func (*UpdateAttrs) sealed() {}
func (*Reorder) sealed()     {}

// IsFullReplacement reports whether ps is exactly one root-level create
// without an insertion index.
func IsFullReplacement(ps []Patch) bool {
	if len(ps) != 1 {
		return false
	}
	c, ok := ps[0].(*Create)
	return ok && len(c.Path) == 0 && c.InsertIndex == nil
}

// Describe renders a patch as "type@path" for logs.
func Describe(p Patch) string {
	return p.Type().String() + "@" + p.Target().String()
}
