package vnode

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestMeaningfulChildren(t *testing.T) {
	e := El("ul", nil,
		T("\n  "),
		El("li", nil, T("a")),
		T("   "),
		C("marker"),
		T("tail"),
	)
	got := MeaningfulChildren(e)
	if len(got) != 3 {
		t.Fatalf("meaningful children: got %d, want 3", len(got))
	}
	if got[0].Kind() != KindElement || got[1].Kind() != KindComment || got[2].Kind() != KindText {
		t.Errorf("unexpected kinds: %v %v %v", got[0].Kind(), got[1].Kind(), got[2].Kind())
	}
}

func TestAt(t *testing.T) {
	root := El("div", nil,
		T(" "),
		El("p", nil, T("one")),
		El("p", nil, T(" "), El("b", nil, T("two"))),
	)
	n, ok := At(root, Path{1, 0, 0})
	if !ok {
		t.Fatal("path 1.0.0 should resolve")
	}
	if txt, _ := n.(*Text); txt == nil || txt.Value != "two" {
		t.Errorf("At(1.0.0) = %#v", n)
	}
	if _, ok := At(root, Path{2}); ok {
		t.Error("path 2 should be out of range")
	}
	if n, ok := At(root, nil); !ok || n != Node(root) {
		t.Error("empty path should resolve to root")
	}
}

func TestEqualIgnoresBlankText(t *testing.T) {
	a := El("div", map[string]string{"class": "x"}, T("\n"), El("span", nil, T("hi")))
	b := El("DIV", map[string]string{"class": "x"}, El("span", nil, T("hi")), T("  "))
	if !Equal(a, b) {
		t.Error("trees differing only in blank text should be equal")
	}
	c := El("div", map[string]string{"class": "y"}, El("span", nil, T("hi")))
	if Equal(a, c) {
		t.Error("attribute change should break equality")
	}
}

func TestSameType(t *testing.T) {
	tests := []struct {
		a, b Node
		want bool
	}{
		{T("a"), T("b"), true},
		{T("a"), C("a"), false},
		{El("div", nil), El("div", nil), true},
		{El("div", nil), El("span", nil), false},
		{El("div", nil), T("div"), false},
	}
	for i, tt := range tests {
		if got := SameType(tt.a, tt.b); got != tt.want {
			t.Errorf("case %d: SameType = %v, want %v", i, got, tt.want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := El("div", map[string]string{"id": "x"}, El("span", nil, T("hi")))
	cp := Clone(orig).(*Element)
	cp.Attrs["id"] = "y"
	cp.Children[0].(*Element).Children[0].(*Text).Value = "bye"
	if orig.Attrs["id"] != "x" {
		t.Error("clone shares attribute map")
	}
	if orig.Children[0].(*Element).Children[0].(*Text).Value != "hi" {
		t.Error("clone shares children")
	}
}

func TestPath(t *testing.T) {
	p := Path{1, 2}
	c := p.Child(3)
	if !c.Equal(Path{1, 2, 3}) || !p.Equal(Path{1, 2}) {
		t.Errorf("Child aliased: p=%v c=%v", p, c)
	}
	if !c.Parent().Equal(p) || c.Last() != 3 {
		t.Errorf("Parent/Last: %v %d", c.Parent(), c.Last())
	}
	if Path(nil).Last() != -1 {
		t.Error("root path Last should be -1")
	}
	if !c.HasPrefix(p) || p.HasPrefix(c) {
		t.Error("HasPrefix mismatch")
	}
	if c.String() != "1.2.3" || (Path{}).String() != "" {
		t.Errorf("String: %q", c.String())
	}
}

func TestMarshalCompact(t *testing.T) {
	n := El("a", map[string]string{"href": "/x"}, T("go"), C("c"))
	data, err := Marshal(n)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"t":"a","a":{"href":"/x"},"c":[{"x":"go"},{"m":"c"}]}`
	if string(data) != want {
		t.Errorf("Marshal:\n got %s\nwant %s", data, want)
	}
}

func TestDecodeCompactAndVerbose(t *testing.T) {
	compact := `{"t":"ul","a":{"class":"list"},"c":[{"t":"li","c":[{"x":"one"}]},{"m":"note"}]}`
	verbose := `{"type":"element","tag":"ul","attributes":{"class":"list"},"children":[
		{"type":"element","tag":"li","children":[{"type":"text","text":"one"}]},
		{"type":"comment","value":"note"}]}`

	a, err := Decode([]byte(compact))
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	b, err := Decode([]byte(verbose))
	if err != nil {
		t.Fatalf("verbose: %v", err)
	}
	if !Equal(a, b) {
		t.Error("compact and verbose decodings differ")
	}

	// Re-encoding a decoded tree yields the compact form again.
	data, _ := json.Marshal(b)
	c, err := Decode(data)
	if err != nil || !Equal(b, c) {
		t.Errorf("re-decode: %v", err)
	}
}

func TestDecodeNonStringAttributes(t *testing.T) {
	n, err := Decode([]byte(`{"t":"input","a":{"maxlength":10,"disabled":true,"step":0.5}}`))
	if err != nil {
		t.Fatal(err)
	}
	attrs := n.(*Element).Attrs
	if attrs["maxlength"] != "10" || attrs["disabled"] != "true" || attrs["step"] != "0.5" {
		t.Errorf("attrs = %v", attrs)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, in := range []string{`{}`, `{"type":"element"}`, `{"type":"widget"}`} {
		if _, err := Decode([]byte(in)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%s): err = %v, want ErrMalformed", in, err)
		}
	}
	if _, err := Decode([]byte(`[`)); err == nil {
		t.Error("invalid JSON should fail")
	}
}
