// Package convert turns virtual nodes into live *html.Node subtrees and back.
//
// The live tree is an x/net/html node graph. Foreign (SVG-family) elements
// are created in the "svg" namespace, and once an element is foreign every
// descendant stays foreign whatever its own tag. Foreign markup is case
// sensitive, so tag and attribute names pass through correction tables
// before they reach the live tree.
package convert

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/domdiff/vnode"
)

// NamespaceSVG is the namespace x/net/html uses for SVG elements.
const NamespaceSVG = "svg"

// foreignTags are the tag names that switch materialisation into the SVG
// namespace.
var foreignTags = map[string]bool{
	"svg": true, "path": true, "circle": true, "rect": true, "line": true,
	"polyline": true, "polygon": true, "ellipse": true, "g": true, "defs": true,
	"use": true, "text": true, "tspan": true, "image": true, "foreignobject": true,
	"clippath": true, "mask": true, "pattern": true, "lineargradient": true,
	"radialgradient": true, "stop": true, "animate": true, "animatetransform": true,
	"animatemotion": true, "title": true, "desc": true, "metadata": true,
}

var foreignTagCase = map[string]string{
	"clippath":         "clipPath",
	"lineargradient":   "linearGradient",
	"radialgradient":   "radialGradient",
	"foreignobject":    "foreignObject",
	"animatetransform": "animateTransform",
	"animatemotion":    "animateMotion",
	"animatecolor":     "animateColor",
	"textpath":         "textPath",
	"feblend":          "feBlend",
	"fecolormatrix":    "feColorMatrix",
	"fegaussianblur":   "feGaussianBlur",
	"feoffset":         "feOffset",
	"femerge":          "feMerge",
	"femergenode":      "feMergeNode",
}

var foreignAttrCase = map[string]string{
	"attributename":       "attributeName",
	"basefrequency":       "baseFrequency",
	"calcmode":            "calcMode",
	"clippathunits":       "clipPathUnits",
	"gradienttransform":   "gradientTransform",
	"gradientunits":       "gradientUnits",
	"keypoints":           "keyPoints",
	"keysplines":          "keySplines",
	"keytimes":            "keyTimes",
	"lengthadjust":        "lengthAdjust",
	"markerheight":        "markerHeight",
	"markerunits":         "markerUnits",
	"markerwidth":         "markerWidth",
	"maskcontentunits":    "maskContentUnits",
	"maskunits":           "maskUnits",
	"numoctaves":          "numOctaves",
	"pathlength":          "pathLength",
	"patterncontentunits": "patternContentUnits",
	"patterntransform":    "patternTransform",
	"patternunits":        "patternUnits",
	"preserveaspectratio": "preserveAspectRatio",
	"primitiveunits":      "primitiveUnits",
	"refx":                "refX",
	"refy":                "refY",
	"repeatcount":         "repeatCount",
	"repeatdur":           "repeatDur",
	"spreadmethod":        "spreadMethod",
	"startoffset":         "startOffset",
	"stddeviation":        "stdDeviation",
	"textlength":          "textLength",
	"viewbox":             "viewBox",
}

// IsForeignTag reports whether tag opens the SVG namespace.
func IsForeignTag(tag string) bool {
	return foreignTags[strings.ToLower(tag)]
}

// ForeignTagName returns the case-corrected name of a foreign tag.
func ForeignTagName(tag string) string {
	lower := strings.ToLower(tag)
	if fixed, ok := foreignTagCase[lower]; ok {
		return fixed
	}
	return lower
}

// ForeignAttrName returns the case-corrected name of a foreign attribute.
func ForeignAttrName(key string) string {
	if fixed, ok := foreignAttrCase[strings.ToLower(key)]; ok {
		return fixed
	}
	return key
}

// Materialize builds a detached live subtree for n in the HTML namespace.
func Materialize(n vnode.Node) *html.Node {
	return MaterializeIn(n, "")
}

// MaterializeIn builds a detached live subtree for n. ns is the namespace of
// the parent it will be attached to: "" for HTML, NamespaceSVG inside SVG.
func MaterializeIn(n vnode.Node, ns string) *html.Node {
	switch x := n.(type) {
	case *vnode.Text:
		return &html.Node{Type: html.TextNode, Data: x.Value}
	case *vnode.Comment:
		return &html.Node{Type: html.CommentNode, Data: x.Value}
	case *vnode.Element:
		return materializeElement(x, ns)
	}
	return nil
}

func materializeElement(e *vnode.Element, ns string) *html.Node {
	if ns == "" && IsForeignTag(e.Tag) {
		ns = NamespaceSVG
	}
	node := &html.Node{Type: html.ElementNode, Namespace: ns}
	if ns == "" {
		node.Data = strings.ToLower(e.Tag)
		node.DataAtom = atom.Lookup([]byte(node.Data))
	} else {
		node.Data = ForeignTagName(e.Tag)
	}
	for _, k := range e.AttrKeys() {
		SetAttr(node, k, e.Attrs[k])
	}
	for _, c := range e.Children {
		if child := MaterializeIn(c, ns); child != nil {
			node.AppendChild(child)
		}
	}
	return node
}

// splitAttr separates the namespace prefix of a foreign attribute name.
func splitAttr(n *html.Node, key string) (string, string) {
	if n.Namespace == "" {
		return "", key
	}
	if i := strings.IndexByte(key, ':'); i > 0 {
		switch prefix := key[:i]; prefix {
		case "xlink", "xml", "xmlns":
			return prefix, key[i+1:]
		}
	}
	return "", ForeignAttrName(key)
}

// GetAttr returns the value of the attribute key on n.
func GetAttr(n *html.Node, key string) (string, bool) {
	ns, k := splitAttr(n, key)
	for _, a := range n.Attr {
		if a.Namespace == ns && a.Key == k {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr overwrites or adds the attribute key on n, correcting the name
// for foreign elements.
func SetAttr(n *html.Node, key, val string) {
	ns, k := splitAttr(n, key)
	for i, a := range n.Attr {
		if a.Namespace == ns && a.Key == k {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Namespace: ns, Key: k, Val: val})
}

// RemoveAttr deletes the attribute key from n. Missing attributes are
// ignored.
func RemoveAttr(n *html.Node, key string) {
	ns, k := splitAttr(n, key)
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == ns && a.Key == k {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

// Capture builds a virtual node from a live one. Only elements and text take
// part; any other node type yields nil at the top level and is skipped as a
// child. Tags are lowercased and namespaced attributes come back as "ns:key".
func Capture(n *html.Node) vnode.Node {
	if n == nil {
		return nil
	}
	switch n.Type {
	case html.TextNode:
		return vnode.T(n.Data)
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
			if c.Type != html.ElementNode && c.Type != html.TextNode {
				continue
			}
			e.Children = append(e.Children, Capture(c))
		}
		return e
	}
	return nil
}
