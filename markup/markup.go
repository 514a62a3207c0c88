// Package markup parses rendered component markup into a virtual tree.
//
// The parser and the applier must agree on what a meaningful child is:
// whitespace-only text is dropped here and skipped there. Comments are kept
// because the applier addresses them; doctype and processing nodes are not.
package markup

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/domdiff/vnode"
)

// WrapperTag is the tag of the synthetic root used when markup has several
// top-level nodes.
const WrapperTag = "div"

// Parser turns markup into virtual trees. It is safe for concurrent use.
type Parser struct {
	policy *bluemonday.Policy
}

// Option configures a Parser.
type Option func(*Parser)

// WithSanitizer runs every input through policy before parsing.
func WithSanitizer(policy *bluemonday.Policy) Option {
	return func(p *Parser) { p.policy = policy }
}

// New creates a Parser.
func New(opts ...Option) *Parser {
	p := &Parser{}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Prepare returns markup as the parser sees it: sanitised when the parser
// has a policy, unchanged otherwise. Markup sent to a client must be the
// prepared form, or the client's tree will not match the parsed one.
func (p *Parser) Prepare(markup string) string {
	if p.policy == nil {
		return markup
	}
	return p.policy.Sanitize(markup)
}

// Parse prepares markup and builds its virtual tree.
func (p *Parser) Parse(markup string) (vnode.Node, error) {
	return p.ParsePrepared(p.Prepare(markup))
}

// ParsePrepared builds the virtual tree for markup returned by Prepare. A
// single top-level node is returned as the root; anything else is wrapped in
// a synthetic div. Full documents (starting with a doctype or <html>) yield
// the html element.
func (p *Parser) ParsePrepared(markup string) (vnode.Node, error) {
	if isDocument(markup) {
		doc, err := html.Parse(strings.NewReader(markup))
		if err != nil {
			return nil, fmt.Errorf("markup: parse document: %w", err)
		}
		for c := doc.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				return toVNode(c), nil
			}
		}
		return nil, fmt.Errorf("markup: document without root element")
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return nil, fmt.Errorf("markup: parse fragment: %w", err)
	}
	var roots []vnode.Node
	for _, n := range nodes {
		if v := toVNode(n); v != nil {
			roots = append(roots, v)
		}
	}
	if len(roots) == 1 {
		return roots[0], nil
	}
	return vnode.El(WrapperTag, nil, roots...), nil
}

// Parse parses markup with a default Parser.
func Parse(markup string) (vnode.Node, error) {
	return New().Parse(markup)
}

func isDocument(markup string) bool {
	head := strings.ToLower(strings.TrimSpace(markup))
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html")
}

// toVNode maps a parsed node to its virtual form, or nil when the node does
// not take part in addressing.
func toVNode(n *html.Node) vnode.Node {
	switch n.Type {
	case html.TextNode:
		if vnode.IsBlank(n.Data) {
			return nil
		}
		return vnode.T(n.Data)
	case html.CommentNode:
		return vnode.C(n.Data)
	case html.ElementNode:
		attrs := make(map[string]string, len(n.Attr))
		for _, a := range n.Attr {
			key := a.Key
			if a.Namespace != "" {
				key = a.Namespace + ":" + a.Key
			}
			attrs[key] = a.Val
		}
		e := vnode.El(strings.ToLower(n.Data), attrs)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if v := toVNode(c); v != nil {
				e.Children = append(e.Children, v)
			}
		}
		return e
	}
	return nil
}
