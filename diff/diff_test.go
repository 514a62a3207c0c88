package diff

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/hazyhaar/domdiff/patch"
	"github.com/hazyhaar/domdiff/vnode"
)

func describeAll(ps []patch.Patch) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = patch.Describe(p)
	}
	return strings.Join(parts, " ")
}

func keyed(tag, key string, children ...vnode.Node) *vnode.Element {
	return vnode.El(tag, map[string]string{vnode.KeyAttr: key}, children...)
}

func TestDiffTextChange(t *testing.T) {
	old := vnode.El("div", nil, vnode.T("hi"))
	new := vnode.El("div", nil, vnode.T("bye"))

	ps := Diff(old, new)
	if len(ps) != 1 {
		t.Fatalf("got %d patches (%s), want 1", len(ps), describeAll(ps))
	}
	ut, ok := ps[0].(*patch.UpdateText)
	if !ok || !ut.Path.Equal(vnode.Path{0}) || ut.Text != "bye" {
		t.Errorf("patch = %#v", ps[0])
	}
}

func TestDiffAbsentOldTree(t *testing.T) {
	ps := Diff(nil, vnode.El("span", nil))
	if !patch.IsFullReplacement(ps) {
		t.Fatalf("want one full replacement, got %s", describeAll(ps))
	}
}

func TestDiffIncompatibleRoot(t *testing.T) {
	ps := Diff(vnode.El("div", nil), vnode.El("section", nil))
	if !patch.IsFullReplacement(ps) {
		t.Fatalf("want one full replacement, got %s", describeAll(ps))
	}
	ps = Diff(vnode.T("a"), vnode.El("div", nil))
	if !patch.IsFullReplacement(ps) {
		t.Fatalf("text to element: got %s", describeAll(ps))
	}
}

func TestDiffAttributes(t *testing.T) {
	old := vnode.El("div", map[string]string{"class": "a", "id": "x"})
	new := vnode.El("div", map[string]string{"class": "b"})

	ps := Diff(old, new)
	if len(ps) != 1 {
		t.Fatalf("got %s", describeAll(ps))
	}
	ua := ps[0].(*patch.UpdateAttrs)
	if !reflect.DeepEqual(ua.Set, map[string]string{"class": "b"}) {
		t.Errorf("set = %v", ua.Set)
	}
	if !reflect.DeepEqual(ua.Remove, []string{"id"}) {
		t.Errorf("remove = %v", ua.Remove)
	}
	if len(ua.Path) != 0 {
		t.Errorf("path = %v", ua.Path)
	}
}

func TestDiffIdenticalTrees(t *testing.T) {
	tree := vnode.El("ul", map[string]string{"class": "x"},
		keyed("li", "a", vnode.T("A")),
		keyed("li", "b", vnode.T("B")),
		vnode.C("end"),
	)
	if ps := Diff(tree, vnode.Clone(tree)); len(ps) != 0 {
		t.Errorf("identical trees produced %s", describeAll(ps))
	}
}

func TestDiffIgnoresBlankText(t *testing.T) {
	old := vnode.El("div", nil, vnode.T("\n  "), vnode.El("p", nil, vnode.T("x")))
	new := vnode.El("div", nil, vnode.El("p", nil, vnode.T("x")), vnode.T("   "))
	if ps := Diff(old, new); len(ps) != 0 {
		t.Errorf("blank text produced %s", describeAll(ps))
	}
}

func TestDiffCommentChangeIsReplace(t *testing.T) {
	ps := Diff(vnode.El("div", nil, vnode.C("a")), vnode.El("div", nil, vnode.C("b")))
	if describeAll(ps) != "replace@0" {
		t.Errorf("got %s", describeAll(ps))
	}
}

func TestDiffTagChangeIsReplace(t *testing.T) {
	old := vnode.El("div", nil, vnode.El("p", nil, vnode.T("x")))
	new := vnode.El("div", nil, vnode.El("h1", nil, vnode.T("x")))
	ps := Diff(old, new)
	if describeAll(ps) != "replace@0" {
		t.Fatalf("got %s", describeAll(ps))
	}
	if !vnode.Equal(ps[0].(*patch.Replace).Node, new.Children[0]) {
		t.Error("replacement node differs from new child")
	}
}

func TestDiffAppend(t *testing.T) {
	old := vnode.El("ul", nil, keyed("li", "a"))
	new := vnode.El("ul", nil, keyed("li", "a"), keyed("li", "b"), keyed("li", "c"))
	if got := describeAll(Diff(old, new)); got != "create@1 create@2" {
		t.Errorf("got %s", got)
	}
}

func TestDiffInsertInMiddle(t *testing.T) {
	old := vnode.El("ul", nil, keyed("li", "a"), keyed("li", "c"))
	new := vnode.El("ul", nil, keyed("li", "a"), keyed("li", "b"), keyed("li", "c"))
	if got := describeAll(Diff(old, new)); got != "create@1" {
		t.Errorf("got %s", got)
	}
}

func TestDiffRemoveUsesOldPaths(t *testing.T) {
	old := vnode.El("ul", nil, keyed("li", "a"), keyed("li", "b"), keyed("li", "c"), keyed("li", "d"))
	new := vnode.El("ul", nil, keyed("li", "a"), keyed("li", "c"))
	if got := describeAll(Diff(old, new)); got != "remove@1 remove@3" {
		t.Errorf("got %s", got)
	}
}

func TestDiffKeptChildAddressedAfterRemoves(t *testing.T) {
	old := vnode.El("ul", nil,
		keyed("li", "a", vnode.T("A")),
		keyed("li", "b", vnode.T("B")),
	)
	new := vnode.El("ul", nil, keyed("li", "b", vnode.T("B2")))
	// b sits at 1 in the old tree and at 0 once a is gone.
	if got := describeAll(Diff(old, new)); got != "remove@0 update_text@0.0" {
		t.Errorf("got %s", got)
	}
}

func TestDiffSwapEmitsReorder(t *testing.T) {
	old := vnode.El("ul", nil, keyed("li", "a"), keyed("li", "b"))
	new := vnode.El("ul", nil, keyed("li", "b"), keyed("li", "a"))
	ps := Diff(old, new)
	if len(ps) != 1 {
		t.Fatalf("got %s", describeAll(ps))
	}
	r, ok := ps[0].(*patch.Reorder)
	if !ok || len(r.Path) != 0 || len(r.Moves) != 1 {
		t.Fatalf("got %#v", ps[0])
	}
}

func TestDiffReorderWithCreate(t *testing.T) {
	old := vnode.El("ul", nil, keyed("li", "a"), keyed("li", "b"), keyed("li", "c"))
	new := vnode.El("ul", nil, keyed("li", "c"), keyed("li", "x"), keyed("li", "a"), keyed("li", "b"))
	ps := Diff(old, new)
	if got := describeAll(ps); got != "create@3 reorder@" {
		t.Fatalf("got %s", got)
	}
	// After the append the list is [a b c x] and must become [c x a b].
	list := []string{"a", "b", "c", "x"}
	list = replay(list, ps[1].(*patch.Reorder).Moves)
	if strings.Join(list, "") != "cxab" {
		t.Errorf("replayed order = %v", list)
	}
}

func TestDiffDuplicateKeys(t *testing.T) {
	old := vnode.El("ul", nil, keyed("li", "a", vnode.T("1")), keyed("li", "a", vnode.T("2")))
	new := vnode.El("ul", nil, keyed("li", "a", vnode.T("1")))
	if got := describeAll(Diff(old, new)); got != "remove@1" {
		t.Errorf("got %s", got)
	}
	if got := Diff(old, vnode.Clone(old)); len(got) != 0 {
		t.Errorf("self diff = %s", describeAll(got))
	}

	swapped := vnode.El("ul", nil, keyed("li", "a", vnode.T("2")), keyed("li", "a", vnode.T("1")))
	if got := describeAll(Diff(old, swapped)); got != "update_text@0.0 update_text@1.0" {
		t.Errorf("swapped duplicates: %s", got)
	}
}

func TestDiffUnkeyedPositional(t *testing.T) {
	old := vnode.El("div", nil, vnode.El("p", nil, vnode.T("a")), vnode.El("p", nil, vnode.T("b")))
	new := vnode.El("div", nil, vnode.El("p", nil, vnode.T("a")), vnode.El("p", nil, vnode.T("c")), vnode.El("p", nil))
	if got := describeAll(Diff(old, new)); got != "update_text@1.0 create@2" {
		t.Errorf("got %s", got)
	}
}

func TestDiffNestedChanges(t *testing.T) {
	old := vnode.El("div", nil,
		vnode.El("header", map[string]string{"class": "top"}, vnode.T("Title")),
		vnode.El("main", nil, vnode.El("p", nil, vnode.T("one"))),
	)
	new := vnode.El("div", nil,
		vnode.El("header", map[string]string{"class": "top active"}, vnode.T("Title")),
		vnode.El("main", nil, vnode.El("p", nil, vnode.T("one")), vnode.El("p", nil, vnode.T("two"))),
	)
	if got := describeAll(Diff(old, new)); got != "update_attrs@0 create@1.1" {
		t.Errorf("got %s", got)
	}
}

func TestDiffDeterministic(t *testing.T) {
	old := vnode.El("div", map[string]string{"a": "1", "b": "2", "c": "3"},
		keyed("i", "1"), keyed("i", "2"), keyed("i", "3"), keyed("i", "4"))
	new := vnode.El("div", map[string]string{"a": "9", "d": "4"},
		keyed("i", "4"), keyed("i", "2"), keyed("i", "5"), keyed("i", "1"))

	first, err := patch.Marshal(Diff(old, new))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		again, _ := patch.Marshal(Diff(old, new))
		if string(again) != string(first) {
			t.Fatalf("run %d differs:\n%s\n%s", i, first, again)
		}
	}
}

func TestDiffDoesNotAliasNewTree(t *testing.T) {
	child := vnode.El("b", nil, vnode.T("x"))
	ps := Diff(vnode.El("div", nil), vnode.El("div", nil, child))
	child.Children[0].(*vnode.Text).Value = "mutated"
	c := ps[0].(*patch.Create)
	if c.Node.(*vnode.Element).Children[0].(*vnode.Text).Value != "x" {
		t.Error("create node aliases the new tree")
	}
}

func TestAttrDeltaEmpty(t *testing.T) {
	set, rm := AttrDelta(map[string]string{"a": "1"}, map[string]string{"a": "1"})
	if len(set) != 0 || len(rm) != 0 {
		t.Errorf("set=%v rm=%v", set, rm)
	}
}

// replay applies moves with before-node semantics on a plain slice.
func replay(list []string, moves []patch.Move) []string {
	out := append([]string(nil), list...)
	for _, m := range moves {
		ref := ""
		if m.To < len(out) {
			ref = out[m.To]
		}
		v := out[m.From]
		out = append(out[:m.From], out[m.From+1:]...)
		at := len(out)
		if ref != "" {
			for k, x := range out {
				if x == ref {
					at = k
				}
			}
		}
		out = append(out, "")
		copy(out[at+1:], out[at:])
		out[at] = v
	}
	return out
}

func TestMovesSortPermutations(t *testing.T) {
	perms := [][]int{
		{0, 1, 2},
		{2, 1, 0},
		{1, 2, 0},
		{2, 0, 1},
		{3, 0, 1, 2},
		{1, 0, 3, 2},
		{4, 3, 2, 1, 0},
		{2, 4, 0, 3, 1, 5},
		{5, 0, 4, 1, 3, 2},
	}
	for _, perm := range perms {
		list := make([]string, len(perm))
		for k, v := range perm {
			list[k] = fmt.Sprint(v)
		}
		moves := Moves(perm)
		got := replay(list, moves)
		for k, v := range got {
			if v != fmt.Sprint(k) {
				t.Errorf("%v: moves %v gave %v", perm, moves, got)
				break
			}
		}
		if want := len(perm) - len(lis(perm)); len(moves) != want {
			t.Errorf("%v: %d moves, want %d", perm, len(moves), want)
		}
	}
}

func TestMovesAllPermutationsOfFour(t *testing.T) {
	var rec func(prefix []int, rest []int)
	rec = func(prefix, rest []int) {
		if len(rest) == 0 {
			list := make([]string, len(prefix))
			for k, v := range prefix {
				list[k] = fmt.Sprint(v)
			}
			got := strings.Join(replay(list, Moves(prefix)), "")
			if got != "0123" {
				t.Errorf("%v sorted to %s", prefix, got)
			}
			return
		}
		for i := range rest {
			next := append(append([]int(nil), rest[:i]...), rest[i+1:]...)
			rec(append(append([]int(nil), prefix...), rest[i]), next)
		}
	}
	rec(nil, []int{0, 1, 2, 3})
}

func TestLIS(t *testing.T) {
	tests := []struct {
		in   []int
		want int
	}{
		{nil, 0},
		{[]int{0}, 1},
		{[]int{3, 2, 1, 0}, 1},
		{[]int{0, 1, 2, 3}, 4},
		{[]int{2, 4, 0, 3, 1, 5}, 3},
	}
	for _, tt := range tests {
		got := lis(tt.in)
		if len(got) != tt.want {
			t.Errorf("lis(%v) = %v", tt.in, got)
		}
		for i := 1; i < len(got); i++ {
			if got[i] <= got[i-1] {
				t.Errorf("lis(%v) = %v not increasing", tt.in, got)
			}
		}
	}
}
