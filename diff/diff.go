// Package diff compares two virtual trees and emits the patch sequence that
// turns a live materialisation of the first into the second.
//
// Addressing contract with the applier (package apply):
//
//   - Remove patches carry old-tree paths. The applier runs every remove
//     first, ordered so that no removal shifts a pending one.
//   - Every other patch addresses the tree as it stands once all removes are
//     done. The applier runs them deepest first; patches of equal depth run
//     in emission order.
//   - Under one parent, updates to kept children are emitted before creates,
//     and a reorder of the parent (one level shallower) runs after both.
//
// When kept children keep their relative order, creates carry their final
// index. Otherwise creates append and a single reorder on the parent moves
// everything into place, leaving a longest increasing run untouched.
package diff

import (
	"sort"

	"github.com/hazyhaar/domdiff/patch"
	"github.com/hazyhaar/domdiff/vnode"
)

// Diff returns the patches turning old into new. A nil old, or roots of
// incompatible type, yield a single full-replacement create.
func Diff(old, new vnode.Node) []patch.Patch {
	if new == nil {
		return nil
	}
	if old == nil || !vnode.SameType(old, new) {
		return []patch.Patch{&patch.Create{Path: vnode.Path{}, Node: vnode.Clone(new)}}
	}
	d := &differ{}
	d.node(old, new, vnode.Path{}, vnode.Path{})
	return d.out
}

type differ struct {
	out []patch.Patch
}

func (d *differ) emit(p patch.Patch) {
	d.out = append(d.out, p)
}

// node diffs two nodes already known to be of the same type. oldPath is the
// position in the old tree, path the position after removes.
func (d *differ) node(old, new vnode.Node, oldPath, path vnode.Path) {
	switch o := old.(type) {
	case *vnode.Text:
		n := new.(*vnode.Text)
		if o.Value != n.Value {
			d.emit(&patch.UpdateText{Path: path, Text: n.Value})
		}
	case *vnode.Comment:
		n := new.(*vnode.Comment)
		if o.Value != n.Value {
			d.emit(&patch.Replace{Path: path, Node: vnode.Clone(n)})
		}
	case *vnode.Element:
		n := new.(*vnode.Element)
		if set, rm := AttrDelta(o.Attrs, n.Attrs); len(set) > 0 || len(rm) > 0 {
			d.emit(&patch.UpdateAttrs{Path: path, Set: set, Remove: rm})
		}
		d.children(o, n, oldPath, path)
	}
}

// AttrDelta returns the attributes to set (added or changed) and the sorted
// names to remove (present in old, absent in new).
func AttrDelta(old, new map[string]string) (map[string]string, []string) {
	set := make(map[string]string)
	for k, v := range new {
		if ov, ok := old[k]; !ok || ov != v {
			set[k] = v
		}
	}
	var rm []string
	for k := range old {
		if _, ok := new[k]; !ok {
			rm = append(rm, k)
		}
	}
	sort.Strings(rm)
	return set, rm
}

func (d *differ) children(old, new *vnode.Element, oldPath, path vnode.Path) {
	oc := vnode.MeaningfulChildren(old)
	nc := vnode.MeaningfulChildren(new)
	if len(oc) == 0 && len(nc) == 0 {
		return
	}

	match := pair(oc, nc)
	kept := make([]bool, len(oc))
	for _, i := range match {
		if i >= 0 {
			kept[i] = true
		}
	}

	for i := range oc {
		if !kept[i] {
			d.emit(&patch.Remove{Path: oldPath.Child(i)})
		}
	}

	// Position of every kept old child once removes are applied.
	mid := make([]int, len(oc))
	next := 0
	for i := range oc {
		mid[i] = -1
		if kept[i] {
			mid[i] = next
			next++
		}
	}

	ordered := true
	last := -1
	for _, i := range match {
		if i < 0 {
			continue
		}
		if mid[i] < last {
			ordered = false
		}
		last = mid[i]
	}

	for j, i := range match {
		if i < 0 {
			continue
		}
		if vnode.SameType(oc[i], nc[j]) {
			d.node(oc[i], nc[j], oldPath.Child(i), path.Child(mid[i]))
		} else {
			d.emit(&patch.Replace{Path: path.Child(mid[i]), Node: vnode.Clone(nc[j])})
		}
	}

	if ordered {
		for j, i := range match {
			if i < 0 {
				d.emit(&patch.Create{Path: path.Child(j), Node: vnode.Clone(nc[j])})
			}
		}
		return
	}

	// Current child order, expressed as new indices: kept children in their
	// post-remove order, then the created ones appended.
	newIndex := make([]int, len(oc))
	for j, i := range match {
		if i >= 0 {
			newIndex[i] = j
		}
	}
	current := make([]int, 0, len(nc))
	for i := range oc {
		if kept[i] {
			current = append(current, newIndex[i])
		}
	}
	for j, i := range match {
		if i < 0 {
			d.emit(&patch.Create{Path: path.Child(len(current)), Node: vnode.Clone(nc[j])})
			current = append(current, j)
		}
	}
	if moves := Moves(current); len(moves) > 0 {
		d.emit(&patch.Reorder{Path: path, Moves: moves})
	}
}
