package patch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/hazyhaar/domdiff/vnode"
)

// Wire format. Patches are encoded with compact keys
//
//	{"t": code, "p": [path], "d": {data}}
//
// and decoded from either the compact keys or the verbose aliases "type",
// "path" and "data". The key "t" at the top level is always the type; the
// code "t" (update_text) is a value and never a key, so there is no clash.
//
// Data payloads per type:
//
//	create        {"node": N, "insertIndex": i}   (alias "i")
//	replace       {"node": N}
//	update_text   {"x": s}                        (alias "text")
//	update_attrs  {"s": {set}, "r": [remove]}     (aliases "set", "remove")
//	reorder       {"moves": [{"from": f, "to": t}]}

// List is a patch sequence with a JSON codec.
type List []Patch

type wirePatch struct {
	T string     `json:"t"`
	P vnode.Path `json:"p"`
	D any        `json:"d,omitempty"`
}

type nodeData struct {
	Node        vnode.Node `json:"node"`
	InsertIndex *int       `json:"insertIndex,omitempty"`
}

type textData struct {
	X string `json:"x"`
}

type attrsData struct {
	S map[string]string `json:"s"`
	R []string          `json:"r"`
}

type reorderData struct {
	Moves []Move `json:"moves"`
}

// MarshalJSON encodes every patch in the compact form.
func (l List) MarshalJSON() ([]byte, error) {
	out := make([]wirePatch, 0, len(l))
	for i, p := range l {
		w, err := encode(p)
		if err != nil {
			return nil, fmt.Errorf("patch %d: %w", i, err)
		}
		out = append(out, w)
	}
	return json.Marshal(out)
}

func encode(p Patch) (wirePatch, error) {
	if p == nil {
		return wirePatch{}, fmt.Errorf("patch: nil patch")
	}
	path := p.Target()
	if path == nil {
		path = vnode.Path{}
	}
	w := wirePatch{T: p.Type().Code(), P: path}
	switch x := p.(type) {
	case *Create:
		w.D = nodeData{Node: x.Node, InsertIndex: x.InsertIndex}
	case *Remove:
	case *Replace:
		w.D = nodeData{Node: x.Node}
	case *UpdateText:
		w.D = textData{X: x.Text}
	case *UpdateAttrs:
		set := x.Set
		if set == nil {
			set = map[string]string{}
		}
		rm := x.Remove
		if rm == nil {
			rm = []string{}
		}
		w.D = attrsData{S: set, R: rm}
	case *Reorder:
		moves := x.Moves
		if moves == nil {
			moves = []Move{}
		}
		w.D = reorderData{Moves: moves}
	default:
		return wirePatch{}, fmt.Errorf("patch: unsupported %T", p)
	}
	return w, nil
}

type rawPatch struct {
	T    *string         `json:"t"`
	Type *string         `json:"type"`
	P    vnode.Path      `json:"p"`
	Path vnode.Path      `json:"path"`
	D    json.RawMessage `json:"d"`
	Data json.RawMessage `json:"data"`
}

type rawData struct {
	Node        json.RawMessage            `json:"node"`
	InsertIndex *int                       `json:"insertIndex"`
	I           *int                       `json:"i"`
	X           *string                    `json:"x"`
	Text        *string                    `json:"text"`
	S           map[string]json.RawMessage `json:"s"`
	Set         map[string]json.RawMessage `json:"set"`
	R           []string                   `json:"r"`
	Remove      []string                   `json:"remove"`
	Moves       []Move                     `json:"moves"`
}

// UnmarshalJSON decodes a sequence in either key scheme.
func (l *List) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("patch: decode list: %w", err)
	}
	out := make(List, 0, len(raws))
	for i, raw := range raws {
		p, err := Decode(raw)
		if err != nil {
			return fmt.Errorf("patch %d: %w", i, err)
		}
		out = append(out, p)
	}
	*l = out
	return nil
}

// Decode parses one patch in either key scheme.
func Decode(data []byte) (Patch, error) {
	var r rawPatch
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("patch: decode: %w", err)
	}
	code := r.T
	if code == nil {
		code = r.Type
	}
	if code == nil {
		return nil, fmt.Errorf("patch: missing type")
	}
	typ, err := ParseType(*code)
	if err != nil {
		return nil, err
	}
	path := r.P
	if path == nil {
		path = r.Path
	}
	if path == nil {
		path = vnode.Path{}
	}
	rawD := r.D
	if len(rawD) == 0 {
		rawD = r.Data
	}
	var d rawData
	if len(rawD) > 0 && string(rawD) != "null" {
		if err := json.Unmarshal(rawD, &d); err != nil {
			return nil, fmt.Errorf("patch: decode %s data: %w", typ, err)
		}
	}

	switch typ {
	case TypeCreate:
		n, err := decodeNode(d.Node, typ)
		if err != nil {
			return nil, err
		}
		idx := d.InsertIndex
		if idx == nil {
			idx = d.I
		}
		return &Create{Path: path, Node: n, InsertIndex: idx}, nil
	case TypeRemove:
		return &Remove{Path: path}, nil
	case TypeReplace:
		n, err := decodeNode(d.Node, typ)
		if err != nil {
			return nil, err
		}
		return &Replace{Path: path, Node: n}, nil
	case TypeUpdateText:
		text := d.X
		if text == nil {
			text = d.Text
		}
		if text == nil {
			return nil, fmt.Errorf("patch: update_text without text")
		}
		return &UpdateText{Path: path, Text: *text}, nil
	case TypeUpdateAttrs:
		rawSet := d.S
		if rawSet == nil {
			rawSet = d.Set
		}
		set := make(map[string]string, len(rawSet))
		for k, v := range rawSet {
			s, err := stringValue(v)
			if err != nil {
				return nil, fmt.Errorf("patch: attribute %q: %w", k, err)
			}
			set[k] = s
		}
		rm := d.R
		if rm == nil {
			rm = d.Remove
		}
		sort.Strings(rm)
		return &UpdateAttrs{Path: path, Set: set, Remove: rm}, nil
	case TypeReorder:
		return &Reorder{Path: path, Moves: d.Moves}, nil
	}
	return nil, fmt.Errorf("patch: unsupported type %s", typ)
}

func decodeNode(raw json.RawMessage, typ Type) (vnode.Node, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("patch: %s without node", typ)
	}
	n, err := vnode.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("patch: %s node: %w", typ, err)
	}
	return n, nil
}

func stringValue(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case nil:
		return "", nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	}
	return string(raw), nil
}

// Marshal encodes ps as a compact JSON array.
func Marshal(ps []Patch) ([]byte, error) {
	return json.Marshal(List(ps))
}

// Unmarshal decodes a JSON array of patches in either key scheme.
func Unmarshal(data []byte) ([]Patch, error) {
	var l List
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return l, nil
}
