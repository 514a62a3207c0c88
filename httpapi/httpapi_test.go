package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/domdiff/patch"
	"github.com/hazyhaar/domdiff/render"
	"github.com/hazyhaar/domdiff/shield"
	"github.com/hazyhaar/domdiff/signer"
)

var listTmpl = template.Must(template.New("list").Parse(
	`<ul>{{range .items}}<li data-key="{{.}}">{{.}}</li>{{end}}</ul>`))

type memUploads struct {
	mu    sync.Mutex
	files map[string]string
}

func (m *memUploads) Save(_ context.Context, componentID, property, filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if filename == "fail.txt" {
		return "", errors.New("disk full")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[componentID+"/"+property+"/"+filename] = string(data)
	return filename, nil
}

func setupServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	s, err := signer.New([]byte(strings.Repeat("k", 32)))
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := render.NewRegistry()
	reg.Register("list", func(id string) render.Component {
		return render.NewTemplateComponent(id, listTmpl, map[string]any{"items": []any{"a", "b"}}).
			Action("rotate", func(_ context.Context, c *render.TemplateComponent, _ []any) error {
				items := c.Get("items").([]any)
				c.Set("items", append(items[1:], items[0]))
				return nil
			}).
			Writable("items")
	})

	opts = append([]Option{
		WithLogger(logger),
		WithMiddleware(shield.DefaultStack(logger, shield.Limits{Body: 4096, Upload: 1 << 16})...),
	}, opts...)
	ts := httptest.NewServer(New(render.New(s, render.WithLogger(logger)), reg, opts...).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) (*http.Response, []byte) {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp, out
}

func TestHealth(t *testing.T) {
	ts := setupServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != `{"status":"ok"}` {
		t.Fatalf("health: %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Trace-ID") == "" {
		t.Error("no trace id header")
	}
}

func TestLazyThenUpdate(t *testing.T) {
	ts := setupServer(t)

	resp, body := postJSON(t, ts, "/update/lazy", map[string]any{"component": "list"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lazy: %d %s", resp.StatusCode, body)
	}
	var initial render.InitialEnvelope
	if err := json.Unmarshal(body, &initial); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(initial.ID, "cmp_") || initial.HTML != `<ul><li data-key="a">a</li><li data-key="b">b</li></ul>` {
		t.Fatalf("initial: %+v", initial)
	}

	resp, body = postJSON(t, ts, "/update", render.UpdateRequest{
		Component: "list",
		ID:        initial.ID,
		State:     initial.State,
		Signature: initial.Signature,
		Action:    "rotate",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: %d %s", resp.StatusCode, body)
	}
	var env struct {
		Patches   patch.List     `json:"patches"`
		State     map[string]any `json:"state"`
		Signature string         `json:"signature"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatal(err)
	}
	if len(env.Patches) != 1 || env.Patches[0].Type() != patch.TypeReorder {
		t.Fatalf("patches: %s", body)
	}

	// the returned state and signature are good for the next cycle
	resp, body = postJSON(t, ts, "/update", render.UpdateRequest{
		Component: "list", ID: initial.ID, State: env.State, Signature: env.Signature, Action: "rotate",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second update: %d %s", resp.StatusCode, body)
	}
}

func TestUpdateRefusals(t *testing.T) {
	ts := setupServer(t)
	_, body := postJSON(t, ts, "/update/lazy", map[string]any{"component": "list", "componentId": "cmp_fixed"})
	var initial render.InitialEnvelope
	if err := json.Unmarshal(body, &initial); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		req  render.UpdateRequest
		want int
	}{
		{"forged state", render.UpdateRequest{Component: "list", ID: "cmp_fixed", State: map[string]any{"items": []any{"z"}}, Signature: initial.Signature}, http.StatusForbidden},
		{"other component id", render.UpdateRequest{Component: "list", ID: "cmp_other", State: initial.State, Signature: initial.Signature}, http.StatusForbidden},
		{"action not invokable", render.UpdateRequest{Component: "list", ID: "cmp_fixed", State: initial.State, Signature: initial.Signature, Action: "drop"}, http.StatusForbidden},
		{"unknown component", render.UpdateRequest{Component: "nope", ID: "cmp_fixed"}, http.StatusNotFound},
		{"invalid id", render.UpdateRequest{Component: "list", ID: "bad id"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := postJSON(t, ts, "/update", tc.req)
			if resp.StatusCode != tc.want {
				t.Fatalf("status %d, want %d: %s", resp.StatusCode, tc.want, body)
			}
		})
	}
}

func TestUpdateBodyLimits(t *testing.T) {
	ts := setupServer(t)
	resp, err := http.Post(ts.URL+"/update", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body: %d", resp.StatusCode)
	}

	big := `{"component":"list","state":{"x":"` + strings.Repeat("y", 8192) + `"}}`
	resp, err = http.Post(ts.URL+"/update", "application/json", strings.NewReader(big))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: %d", resp.StatusCode)
	}
}

func multipartBody(t *testing.T, fields map[string]string, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(content))
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	store := &memUploads{files: map[string]string{}}
	ts := setupServer(t, WithUploads(store))

	cases := []struct {
		name     string
		fields   map[string]string
		filename string
		code     int
		success  bool
		ident    string
	}{
		{"stored", map[string]string{"componentId": "cmp_1", "property": "avatar"}, "me.png", http.StatusOK, true, "cmp_1:me.png"},
		{"path stripped", map[string]string{"componentId": "cmp_1", "property": "avatar"}, "../../etc/x.png", http.StatusOK, true, "cmp_1:x.png"},
		{"missing file", map[string]string{"componentId": "cmp_1", "property": "avatar"}, "", http.StatusBadRequest, false, ""},
		{"missing property", map[string]string{"componentId": "cmp_1"}, "a.txt", http.StatusBadRequest, false, ""},
		{"store failure", map[string]string{"componentId": "cmp_1", "property": "doc"}, "fail.txt", http.StatusInternalServerError, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartBody(t, tc.fields, tc.filename, "content")
			resp, err := http.Post(ts.URL+"/upload", ct, body)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			var out uploadResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tc.code || out.Success != tc.success || out.Identifier != tc.ident {
				t.Fatalf("got %d %+v", resp.StatusCode, out)
			}
			if !out.Success && out.Error == "" {
				t.Error("failure without error message")
			}
		})
	}
	if store.files["cmp_1/avatar/me.png"] != "content" {
		t.Errorf("stored files: %v", store.files)
	}
}

func TestUploadDisabled(t *testing.T) {
	ts := setupServer(t)
	body, ct := multipartBody(t, map[string]string{"componentId": "cmp_1", "property": "p"}, "a.txt", "x")
	resp, err := http.Post(ts.URL+"/upload", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status: %d", resp.StatusCode)
	}
}
