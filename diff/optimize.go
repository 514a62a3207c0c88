package diff

import (
	"sort"

	"github.com/hazyhaar/domdiff/patch"
	"github.com/hazyhaar/domdiff/vnode"
)

// Optimize shrinks a patch sequence produced by Diff without changing the
// tree it yields when applied. It
//
//   - drops removes nested under another remove, and exact duplicates;
//   - drops edits made pointless by a replace of the same node or an
//     ancestor, when both address the node identically;
//   - merges adjacent update_attrs on the same path;
//   - turns a remove and a create at the same unshifted position into a
//     single replace.
//
// Surviving patches keep their relative order. A full replacement is
// returned as is.
func Optimize(ps []patch.Patch) []patch.Patch {
	if len(ps) < 2 || patch.IsFullReplacement(ps) {
		return ps
	}
	out := dropNestedRemoves(ps)
	out = dropSuperseded(out)
	out = mergeAttrs(out)
	out = collapseRemoveCreate(out)
	return out
}

func dropNestedRemoves(ps []patch.Patch) []patch.Patch {
	var removes []vnode.Path
	for _, p := range ps {
		if r, ok := p.(*patch.Remove); ok {
			removes = append(removes, r.Path)
		}
	}
	out := make([]patch.Patch, 0, len(ps))
	seen := make(map[string]bool)
	for _, p := range ps {
		r, ok := p.(*patch.Remove)
		if !ok {
			out = append(out, p)
			continue
		}
		key := r.Path.String()
		if seen[key] || coveredByRemove(r.Path, removes) {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

func coveredByRemove(p vnode.Path, removes []vnode.Path) bool {
	for _, q := range removes {
		if len(q) < len(p) && p.HasPrefix(q) {
			return true
		}
	}
	return false
}

// createIndex is the position a create inserts at under its parent.
func createIndex(c *patch.Create) int {
	if c.InsertIndex != nil {
		return *c.InsertIndex
	}
	return c.Path.Last()
}

// shiftsBefore reports whether a create under the same parent as target, at
// or before target's index, appears in ps[from:to].
func shiftsBefore(ps []patch.Patch, from, to int, target vnode.Path) bool {
	if len(target) == 0 {
		return false
	}
	parent := target.Parent()
	for _, p := range ps[from:to] {
		c, ok := p.(*patch.Create)
		if !ok || len(c.Path) != len(target) || !c.Path.Parent().Equal(parent) {
			continue
		}
		if createIndex(c) <= target.Last() {
			return true
		}
	}
	return false
}

// dropSuperseded removes edits whose effect a later-applied replace erases.
// Edits strictly below a replace always run before it (deeper first); an
// edit on the same path runs before it only when emitted earlier. Either way
// the replace must address the node the edit addressed, which holds when no
// sibling create ahead of it shifts its index.
func dropSuperseded(ps []patch.Patch) []patch.Patch {
	drop := make([]bool, len(ps))
	for ri, p := range ps {
		r, ok := p.(*patch.Replace)
		if !ok || shiftsBefore(ps, 0, ri, r.Path) {
			continue
		}
		for qi, q := range ps {
			if qi == ri || drop[qi] {
				continue
			}
			switch q.(type) {
			case *patch.Remove:
				continue
			case *patch.Create:
				if len(q.Target()) > len(r.Path) && q.Target().HasPrefix(r.Path) {
					drop[qi] = true
				}
				continue
			}
			t := q.Target()
			switch {
			case len(t) > len(r.Path) && t.HasPrefix(r.Path):
				drop[qi] = true
			case qi < ri && t.Equal(r.Path):
				drop[qi] = true
			}
		}
	}

	out := make([]patch.Patch, 0, len(ps))
	seen := make(map[string]bool)
	for i, p := range ps {
		if drop[i] {
			continue
		}
		if _, ok := p.(*patch.Remove); !ok {
			if key, ok := fingerprint(p); ok {
				if seen[key] {
					continue
				}
				seen[key] = true
			}
		}
		out = append(out, p)
	}
	return out
}

// fingerprint identifies idempotent patches so exact repeats can be dropped.
// Creates are never idempotent and report false.
func fingerprint(p patch.Patch) (string, bool) {
	switch x := p.(type) {
	case *patch.UpdateText:
		return "t|" + x.Path.String() + "|" + x.Text, true
	case *patch.UpdateAttrs:
		key := "a|" + x.Path.String()
		for _, k := range sortedKeys(x.Set) {
			key += "|s" + k + "=" + x.Set[k]
		}
		for _, k := range x.Remove {
			key += "|r" + k
		}
		return key, true
	}
	return "", false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mergeAttrs folds runs of update_attrs on one path into a single patch
// equivalent to applying them in sequence.
func mergeAttrs(ps []patch.Patch) []patch.Patch {
	out := make([]patch.Patch, 0, len(ps))
	for _, p := range ps {
		b, ok := p.(*patch.UpdateAttrs)
		if ok && len(out) > 0 {
			if a, ok := out[len(out)-1].(*patch.UpdateAttrs); ok && a.Path.Equal(b.Path) {
				out[len(out)-1] = mergeTwo(a, b)
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

func mergeTwo(a, b *patch.UpdateAttrs) *patch.UpdateAttrs {
	set := make(map[string]string, len(a.Set)+len(b.Set))
	for k, v := range a.Set {
		set[k] = v
	}
	for k, v := range b.Set {
		set[k] = v
	}
	removed := make(map[string]bool)
	for _, k := range a.Remove {
		if _, reset := b.Set[k]; !reset {
			removed[k] = true
		}
	}
	for _, k := range b.Remove {
		removed[k] = true
	}
	rm := make([]string, 0, len(removed))
	for k := range removed {
		rm = append(rm, k)
		delete(set, k)
	}
	sort.Strings(rm)
	return &patch.UpdateAttrs{Path: a.Path, Set: set, Remove: rm}
}

// collapseRemoveCreate turns remove(X) + create(X) into replace(X) when X
// denotes the same slot in both coordinate spaces and nothing else touches
// that parent's children.
func collapseRemoveCreate(ps []patch.Patch) []patch.Patch {
	removed := make([]bool, len(ps))
	out := make([]patch.Patch, len(ps))
	copy(out, ps)

	for ri, p := range ps {
		r, ok := p.(*patch.Remove)
		if !ok || len(r.Path) == 0 {
			continue
		}
		ci := -1
		for i, q := range ps {
			if c, ok := q.(*patch.Create); ok && c.InsertIndex == nil && c.Path.Equal(r.Path) {
				ci = i
				break
			}
		}
		if ci < 0 || !collapsible(ps, ri, ci, r.Path) {
			continue
		}
		removed[ri] = true
		out[ci] = &patch.Replace{Path: r.Path, Node: ps[ci].(*patch.Create).Node}
	}

	result := make([]patch.Patch, 0, len(out))
	for i, p := range out {
		if !removed[i] {
			result = append(result, p)
		}
	}
	return result
}

func collapsible(ps []patch.Patch, ri, ci int, x vnode.Path) bool {
	parent := x.Parent()
	for i, q := range ps {
		if i == ri || i == ci {
			continue
		}
		t := q.Target()
		if len(t) >= len(x) && t.HasPrefix(parent) {
			return false
		}
		switch q := q.(type) {
		case *patch.Reorder:
			if q.Path.Equal(parent) {
				return false
			}
		case *patch.Remove:
			if len(t) < len(x) && x.HasPrefix(t) {
				return false
			}
			// A remove earlier in an ancestor's child list shifts X's old
			// path away from its post-remove path.
			d := len(t) - 1
			if d >= 0 && d < len(x) && x[:d].Equal(t[:d]) && t[d] < x[d] {
				return false
			}
		}
	}
	return true
}
