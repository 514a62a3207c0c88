package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/domdiff/internal/config"
	"github.com/hazyhaar/domdiff/markup"
	"github.com/hazyhaar/domdiff/patch"
	"github.com/hazyhaar/domdiff/render"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDiffFiles(t *testing.T) {
	dir := t.TempDir()
	oldPath := writeFile(t, dir, "old.html", `<div class="a" id="x"><p>hi</p></div>`)
	newPath := writeFile(t, dir, "new.html", `<div class="b"><p>bye</p></div>`)

	var out bytes.Buffer
	if err := diffFiles(&out, markup.New(), oldPath, newPath, true); err != nil {
		t.Fatal(err)
	}
	ps, err := patch.Unmarshal(out.Bytes())
	if err != nil {
		t.Fatalf("output: %v\n%s", err, out.String())
	}
	var got []string
	for _, p := range ps {
		got = append(got, patch.Describe(p))
	}
	if strings.Join(got, " ") != "update_attrs@ update_text@0.0" {
		t.Errorf("patches: %v", got)
	}

	out.Reset()
	if err := diffFiles(&out, markup.New(), "", newPath, true); err != nil {
		t.Fatal(err)
	}
	ps, _ = patch.Unmarshal(out.Bytes())
	if !patch.IsFullReplacement(ps) {
		t.Errorf("first render: %s", out.String())
	}

	if err := diffFiles(&out, markup.New(), "", filepath.Join(dir, "missing.html"), true); err == nil {
		t.Error("missing file accepted")
	}
}

func TestBuildRegistry(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "counter.html", `<p>{{.count}} {{.label}}</p>`)
	cfg := config.Default()
	cfg.TemplatesDir = dir
	cfg.Components = []config.Component{{
		Name:     "counter",
		Template: "counter.html",
		State:    map[string]any{"count": 1, "label": "x"},
		Writable: []string{"label"},
	}}

	reg, err := buildRegistry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	c, caps, err := reg.Resolve("counter", "cmp_1")
	if err != nil {
		t.Fatal(err)
	}
	if !caps.CanInvoke("reset") || !caps.CanWrite("label") || caps.CanWrite("count") {
		t.Errorf("caps: %v %v", caps.Actions(), caps.Writable())
	}

	tc := c.(*render.TemplateComponent)
	tc.Set("label", "changed")
	if err := tc.Invoke(context.Background(), "reset", nil); err != nil {
		t.Fatal(err)
	}
	html, err := tc.Render(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if html != "<p>1 x</p>" {
		t.Errorf("render after reset: %q", html)
	}

	cfg.Components[0].Template = "missing.html"
	if _, err := buildRegistry(cfg); err == nil {
		t.Error("missing template accepted")
	}
}
