package diff

import (
	"github.com/hazyhaar/domdiff/patch"
	"github.com/hazyhaar/domdiff/vnode"
)

// keyOf returns the reconciliation key of n, "" for unkeyed nodes.
func keyOf(n vnode.Node) string {
	if e, ok := n.(*vnode.Element); ok {
		return e.Key()
	}
	return ""
}

// pair matches new children to old ones. The result holds, for every new
// child, the index of its old counterpart or -1.
//
// Keyed children match by key. When a key repeats among siblings, its n-th
// occurrence in new matches its n-th occurrence in old. Unkeyed children
// match positionally among the unkeyed siblings.
func pair(oc, nc []vnode.Node) []int {
	byKey := make(map[string][]int)
	var unkeyed []int
	for i, c := range oc {
		if k := keyOf(c); k != "" {
			byKey[k] = append(byKey[k], i)
		} else {
			unkeyed = append(unkeyed, i)
		}
	}

	match := make([]int, len(nc))
	next := 0
	for j, c := range nc {
		match[j] = -1
		k := keyOf(c)
		if k == "" {
			if next < len(unkeyed) {
				match[j] = unkeyed[next]
				next++
			}
			continue
		}
		if olds := byKey[k]; len(olds) > 0 {
			match[j] = olds[0]
			byKey[k] = olds[1:]
		}
	}
	return match
}

// Moves returns the sequential moves that sort current into ascending order.
// current must be a permutation of 0..len-1, where current[k] is the final
// index of the child sitting at position k.
//
// Children on a longest increasing subsequence stay put; every other child is
// moved exactly once, so the move count is len(current) minus the LIS length.
// Each move's To is the position of the child it must precede, read before
// the moved child is detached, or the list length to append.
func Moves(current []int) []patch.Move {
	n := len(current)
	if n < 2 {
		return nil
	}
	stay := make([]bool, n)
	for _, v := range lis(current) {
		stay[v] = true
	}

	list := append([]int(nil), current...)
	pos := func(v int) int {
		for k, x := range list {
			if x == v {
				return k
			}
		}
		return -1
	}

	var moves []patch.Move
	anchor := -1
	for v := n - 1; v >= 0; v-- {
		if stay[v] {
			anchor = v
			continue
		}
		from := pos(v)
		to := n
		if anchor >= 0 {
			to = pos(anchor)
		}
		moves = append(moves, patch.Move{From: from, To: to})

		list = append(list[:from], list[from+1:]...)
		at := len(list)
		if anchor >= 0 {
			at = pos(anchor)
		}
		list = append(list, 0)
		copy(list[at+1:], list[at:])
		list[at] = v
		anchor = v
	}
	return moves
}

// lis returns the values of one longest strictly increasing subsequence of
// seq. Ties resolve to the earliest-ending candidate, keeping the result
// deterministic.
func lis(seq []int) []int {
	if len(seq) == 0 {
		return nil
	}
	tails := make([]int, 0, len(seq)) // indices into seq
	prev := make([]int, len(seq))
	for i, v := range seq {
		lo, hi := 0, len(tails)
		for lo < hi {
			mid := (lo + hi) / 2
			if seq[tails[mid]] < v {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		prev[i] = -1
		if lo > 0 {
			prev[i] = tails[lo-1]
		}
		if lo == len(tails) {
			tails = append(tails, i)
		} else {
			tails[lo] = i
		}
	}
	out := make([]int, len(tails))
	for k, i := len(tails)-1, tails[len(tails)-1]; k >= 0; k, i = k-1, prev[i] {
		out[k] = seq[i]
	}
	return out
}
