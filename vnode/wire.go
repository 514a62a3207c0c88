package vnode

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Wire format. Nodes are always encoded with compact keys:
//
//	element  {"t": tag, "a": {attrs}, "c": [children]}
//	text     {"x": value}
//	comment  {"m": value}
//
// Decode also accepts the legacy verbose form:
//
//	{"type": "element", "tag": ..., "attributes": {...}, "children": [...]}
//	{"type": "text", "text": ...}  (or "value")
//	{"type": "comment", "text": ...}

// ErrMalformed is returned when a wire node matches no known shape.
var ErrMalformed = errors.New("vnode: malformed node")

type compactElement struct {
	T string            `json:"t"`
	A map[string]string `json:"a,omitempty"`
	C []Node            `json:"c,omitempty"`
}

// MarshalJSON encodes the element with compact keys.
func (e *Element) MarshalJSON() ([]byte, error) {
	return json.Marshal(compactElement{T: e.Tag, A: e.Attrs, C: e.Children})
}

// MarshalJSON encodes the text node as {"x": value}.
func (t *Text) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		X string `json:"x"`
	}{t.Value})
}

// MarshalJSON encodes the comment as {"m": value}.
func (c *Comment) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		M string `json:"m"`
	}{c.Value})
}

type wireNode struct {
	T *string                    `json:"t"`
	A map[string]json.RawMessage `json:"a"`
	C []json.RawMessage          `json:"c"`
	X *string                    `json:"x"`
	M *string                    `json:"m"`

	Type       string                     `json:"type"`
	Tag        string                     `json:"tag"`
	Attributes map[string]json.RawMessage `json:"attributes"`
	Children   []json.RawMessage          `json:"children"`
	Text       *string                    `json:"text"`
	Value      *string                    `json:"value"`
}

// Decode parses a node in either the compact or the verbose wire form.
func Decode(data []byte) (Node, error) {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("vnode: decode: %w", err)
	}
	switch {
	case w.X != nil:
		return &Text{Value: *w.X}, nil
	case w.M != nil:
		return &Comment{Value: *w.M}, nil
	case w.T != nil && w.Type == "":
		attrs := w.A
		if attrs == nil {
			attrs = w.Attributes
		}
		children := w.C
		if children == nil {
			children = w.Children
		}
		return decodeElement(*w.T, attrs, children)
	}

	switch w.Type {
	case "element":
		if w.Tag == "" {
			return nil, fmt.Errorf("%w: element without tag", ErrMalformed)
		}
		return decodeElement(w.Tag, w.Attributes, w.Children)
	case "text":
		return &Text{Value: firstString(w.Text, w.Value)}, nil
	case "comment":
		return &Comment{Value: firstString(w.Text, w.Value)}, nil
	}
	return nil, ErrMalformed
}

func decodeElement(tag string, rawAttrs map[string]json.RawMessage, rawChildren []json.RawMessage) (*Element, error) {
	e := &Element{Tag: tag, Attrs: make(map[string]string, len(rawAttrs))}
	for k, raw := range rawAttrs {
		v, err := attrString(raw)
		if err != nil {
			return nil, fmt.Errorf("vnode: attribute %q: %w", k, err)
		}
		e.Attrs[k] = v
	}
	for i, raw := range rawChildren {
		c, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("vnode: child %d of <%s>: %w", i, tag, err)
		}
		e.Children = append(e.Children, c)
	}
	return e, nil
}

// attrString stringifies an attribute value the way a browser would.
func attrString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch x := v.(type) {
	case nil:
		return "", nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	}
	return string(raw), nil
}

func firstString(vals ...*string) string {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return ""
}

// Marshal encodes n in the compact wire form.
func Marshal(n Node) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: nil node", ErrMalformed)
	}
	return json.Marshal(n)
}
