package convert

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domdiff/vnode"
)

// Meaningful reports whether a live node takes part in path addressing.
// It mirrors vnode.Meaningful: elements, comments and non-blank text count.
func Meaningful(n *html.Node) bool {
	switch n.Type {
	case html.ElementNode, html.CommentNode:
		return true
	case html.TextNode:
		return !vnode.IsBlank(n.Data)
	}
	return false
}

// Children returns the meaningful children of a live node in order.
func Children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if Meaningful(c) {
			out = append(out, c)
		}
	}
	return out
}

// Resolve walks path from root over meaningful children.
func Resolve(root *html.Node, p vnode.Path) (*html.Node, bool) {
	n := root
	for _, idx := range p {
		if n == nil || n.Type != html.ElementNode {
			return nil, false
		}
		children := Children(n)
		if idx < 0 || idx >= len(children) {
			return nil, false
		}
		n = children[idx]
	}
	return n, n != nil
}

// Render serialises a live subtree as markup.
func Render(n *html.Node) (string, error) {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return "", err
	}
	return b.String(), nil
}
