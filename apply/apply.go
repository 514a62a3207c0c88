// Package apply replays patch sequences against a live *html.Node tree.
//
// A batch runs in two phases. Removes go first, in reverse document order,
// addressed by old-tree paths. Every other patch then runs deepest path
// first, keeping emission order among equal depths. Paths count meaningful
// children only (see convert.Children).
//
// A target that cannot be found is skipped with a warning. A create,
// replace, update or reorder that finds its target but cannot be carried
// out aborts the batch with a *PatchError; the caller is expected to resync.
package apply

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domdiff/convert"
	"github.com/hazyhaar/domdiff/patch"
	"github.com/hazyhaar/domdiff/vnode"
)

var (
	// ErrNoRoot is returned when a full replacement targets a root with no
	// parent to hold its successor.
	ErrNoRoot = errors.New("apply: no live root")

	// ErrUnresolved is wrapped by a PatchError whose target exists but has
	// the wrong node type for the patch.
	ErrUnresolved = errors.New("apply: target cannot take patch")
)

// PatchError reports the patch that aborted a batch.
type PatchError struct {
	Index int // position in the submitted sequence
	Type  patch.Type
	Path  vnode.Path
	Err   error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("apply: patch %d (%s@%s): %v", e.Index, e.Type, e.Path, e.Err)
}

func (e *PatchError) Unwrap() error { return e.Err }

// Applier mutates live trees. The zero value is not usable; call New.
type Applier struct {
	logger *slog.Logger

	mu     sync.Mutex
	values map[*html.Node]string // live values of textarea and select controls
}

// Option configures an Applier.
type Option func(*Applier)

// WithLogger sets the logger used for skipped and failed patches.
func WithLogger(l *slog.Logger) Option {
	return func(a *Applier) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Applier.
func New(opts ...Option) *Applier {
	a := &Applier{logger: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Apply runs ps against root with a default Applier.
func Apply(root *html.Node, ps []patch.Patch) (*html.Node, error) {
	return New().Apply(root, ps)
}

type indexed struct {
	i int
	p patch.Patch
}

// Apply runs ps against root and returns the root afterwards, which differs
// from the argument when the root itself was replaced.
func (a *Applier) Apply(root *html.Node, ps []patch.Patch) (*html.Node, error) {
	if root == nil {
		a.logger.Warn("apply: no live root, batch dropped", "patches", len(ps))
		return nil, nil
	}
	if len(ps) == 0 {
		return root, nil
	}
	if patch.IsFullReplacement(ps) {
		return a.replaceRoot(root, ps[0].(*patch.Create).Node)
	}

	var removes, others []indexed
	for i, p := range ps {
		if p == nil {
			continue
		}
		if _, ok := p.(*patch.Remove); ok {
			removes = append(removes, indexed{i, p})
		} else {
			others = append(others, indexed{i, p})
		}
	}
	sort.SliceStable(removes, func(i, j int) bool {
		return removeFirst(removes[i].p.Target(), removes[j].p.Target())
	})
	sort.SliceStable(others, func(i, j int) bool {
		return len(others[i].p.Target()) > len(others[j].p.Target())
	})

	for _, r := range removes {
		a.remove(root, r.p.(*patch.Remove))
	}
	for _, o := range others {
		var err error
		root, err = a.one(root, o.p)
		if err != nil {
			pe := &PatchError{Index: o.i, Type: o.p.Type(), Path: o.p.Target(), Err: err}
			a.logger.Error("apply: batch aborted", "index", o.i, "type", o.p.Type().String(), "path", o.p.Target().String(), "error", err)
			return root, pe
		}
	}
	return root, nil
}

// removeFirst orders removes in reverse document order: at the first
// differing depth the higher index goes first; a descendant precedes its
// ancestor.
func removeFirst(p, q vnode.Path) bool {
	for i := 0; i < len(p) && i < len(q); i++ {
		if p[i] != q[i] {
			return p[i] > q[i]
		}
	}
	return len(p) > len(q)
}

func (a *Applier) replaceRoot(root *html.Node, n vnode.Node) (*html.Node, error) {
	parent := root.Parent
	if parent == nil {
		return root, fmt.Errorf("%w: full replacement of a detached root", ErrNoRoot)
	}
	next := convert.MaterializeIn(n, parent.Namespace)
	if next == nil {
		return root, &PatchError{Type: patch.TypeCreate, Path: vnode.Path{}, Err: ErrUnresolved}
	}
	parent.InsertBefore(next, root)
	parent.RemoveChild(root)
	a.forget(root)
	return next, nil
}

func (a *Applier) skip(p patch.Patch, reason string) {
	a.logger.Warn("apply: patch skipped", "type", p.Type().String(), "path", p.Target().String(), "reason", reason)
}

func (a *Applier) remove(root *html.Node, r *patch.Remove) {
	if len(r.Path) == 0 {
		a.skip(r, "root cannot be removed")
		return
	}
	n, ok := convert.Resolve(root, r.Path)
	if !ok || n.Parent == nil {
		a.skip(r, "target not found")
		return
	}
	n.Parent.RemoveChild(n)
	a.forget(n)
}

func (a *Applier) one(root *html.Node, p patch.Patch) (*html.Node, error) {
	switch x := p.(type) {
	case *patch.Create:
		return root, a.create(root, x)
	case *patch.Replace:
		return a.replace(root, x)
	}

	target, ok := convert.Resolve(root, p.Target())
	if !ok {
		a.skip(p, "target not found")
		return root, nil
	}
	switch x := p.(type) {
	case *patch.UpdateText:
		if target.Type != html.TextNode {
			return root, fmt.Errorf("%w: update_text on %s", ErrUnresolved, describe(target))
		}
		target.Data = x.Text
	case *patch.UpdateAttrs:
		if target.Type != html.ElementNode {
			return root, fmt.Errorf("%w: update_attrs on %s", ErrUnresolved, describe(target))
		}
		a.updateAttrs(target, x.Set, x.Remove)
	case *patch.Reorder:
		if target.Type != html.ElementNode {
			return root, fmt.Errorf("%w: reorder on %s", ErrUnresolved, describe(target))
		}
		if err := reorder(target, x.Moves); err != nil {
			return root, err
		}
	default:
		return root, fmt.Errorf("apply: unsupported patch %T", p)
	}
	return root, nil
}

func (a *Applier) create(root *html.Node, c *patch.Create) error {
	parentPath := c.Path.Parent()
	idx := c.Path.Last()
	if c.InsertIndex != nil {
		if len(c.Path) == 0 {
			parentPath = c.Path
		}
		idx = *c.InsertIndex
	}
	parent, ok := convert.Resolve(root, parentPath)
	if !ok {
		a.skip(c, "parent not found")
		return nil
	}
	if parent.Type != html.ElementNode {
		return fmt.Errorf("%w: create under %s", ErrUnresolved, describe(parent))
	}
	node := convert.MaterializeIn(c.Node, parent.Namespace)
	if node == nil {
		return fmt.Errorf("%w: create without node", ErrUnresolved)
	}
	children := convert.Children(parent)
	if idx >= 0 && idx < len(children) {
		parent.InsertBefore(node, children[idx])
	} else {
		parent.AppendChild(node)
	}
	return nil
}

func (a *Applier) replace(root *html.Node, r *patch.Replace) (*html.Node, error) {
	target, ok := convert.Resolve(root, r.Path)
	if !ok {
		a.skip(r, "target not found")
		return root, nil
	}
	ns := ""
	if target.Parent != nil {
		ns = target.Parent.Namespace
	}
	node := convert.MaterializeIn(r.Node, ns)
	if node == nil {
		return root, fmt.Errorf("%w: replace without node", ErrUnresolved)
	}
	if target.Parent != nil {
		target.Parent.InsertBefore(node, target)
		target.Parent.RemoveChild(target)
		a.forget(target)
	}
	if target == root {
		return node, nil
	}
	return root, nil
}

func reorder(parent *html.Node, moves []patch.Move) error {
	for _, m := range moves {
		children := convert.Children(parent)
		if m.From < 0 || m.From >= len(children) {
			return fmt.Errorf("%w: move from %d of %d children", ErrUnresolved, m.From, len(children))
		}
		node := children[m.From]
		var ref *html.Node
		if m.To >= 0 && m.To < len(children) {
			ref = children[m.To]
		}
		if ref == node {
			continue
		}
		parent.RemoveChild(node)
		if ref == nil {
			parent.AppendChild(node)
		} else {
			parent.InsertBefore(node, ref)
		}
	}
	return nil
}

func describe(n *html.Node) string {
	switch n.Type {
	case html.ElementNode:
		return "<" + n.Data + ">"
	case html.TextNode:
		return "text"
	case html.CommentNode:
		return "comment"
	}
	return "node"
}

// UpdateAttrs sets then removes attributes on an element, in key order.
func UpdateAttrs(n *html.Node, set map[string]string, remove []string) {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		convert.SetAttr(n, k, set[k])
	}
	for _, k := range remove {
		convert.RemoveAttr(n, k)
	}
}

// updateAttrs applies an update_attrs patch. A value change on a textarea
// or select is also recorded as the control's live value; the addressed
// tree itself only ever sees the attribute.
func (a *Applier) updateAttrs(n *html.Node, set map[string]string, remove []string) {
	UpdateAttrs(n, set, remove)
	if !isValueControl(n) {
		return
	}
	if v, ok := set["value"]; ok {
		a.setValue(n, v)
	}
	if slices.Contains(remove, "value") {
		a.setValue(n, "")
	}
}

func isValueControl(n *html.Node) bool {
	return n.Type == html.ElementNode && n.Namespace == "" && (n.Data == "textarea" || n.Data == "select")
}

func (a *Applier) setValue(n *html.Node, v string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.values == nil {
		a.values = make(map[*html.Node]string)
	}
	a.values[n] = v
}

// forget drops the live values recorded under a detached subtree.
func (a *Applier) forget(n *html.Node) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.values) == 0 {
		return
	}
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		delete(a.values, c)
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
}

// Value returns the live value of a form control: what a value patch last
// set, or else what the markup gives it (the value attribute of an input,
// the text of a textarea, the selected or first option of a select). It
// reports false for elements that are not form controls.
func (a *Applier) Value(n *html.Node) (string, bool) {
	if n == nil || n.Type != html.ElementNode || n.Namespace != "" {
		return "", false
	}
	switch n.Data {
	case "input":
		v, _ := convert.GetAttr(n, "value")
		return v, true
	case "textarea", "select":
	default:
		return "", false
	}

	a.mu.Lock()
	v, ok := a.values[n]
	a.mu.Unlock()
	if ok {
		return v, true
	}
	if n.Data == "textarea" {
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		return b.String(), true
	}
	var first, selected *html.Node
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		for ; c != nil && selected == nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "option" {
				if first == nil {
					first = c
				}
				if _, sel := convert.GetAttr(c, "selected"); sel {
					selected = c
				}
				continue
			}
			walk(c.FirstChild)
		}
	}
	walk(n.FirstChild)
	if selected == nil {
		selected = first
	}
	if selected == nil {
		return "", true
	}
	return optionValue(selected), true
}

func optionValue(opt *html.Node) string {
	if v, ok := convert.GetAttr(opt, "value"); ok {
		return v
	}
	var b strings.Builder
	for c := opt.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(b.String())
}
