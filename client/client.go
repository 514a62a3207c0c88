// Package client is the browser side of the protocol written in Go: it
// mounts a component's markup as a live tree, runs update cycles against
// the server and applies the returned patches.
//
// Update cycles on a view are serialised. Starting a cycle cancels the one
// in flight; the superseded cycle returns ErrStale and its response is
// never applied. Because the server may already have rendered the
// superseded request, the next cycle asks for a full replacement. A batch
// that fails to apply is abandoned the same way, with an immediate resync.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/domdiff/apply"
	"github.com/hazyhaar/domdiff/convert"
	"github.com/hazyhaar/domdiff/markup"
	"github.com/hazyhaar/domdiff/render"
	"github.com/hazyhaar/domdiff/vnode"
)

// ErrStale is returned by an update cycle superseded by a newer one.
var ErrStale = errors.New("client: stale response discarded")

// StatusError is a non-200 answer from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client: server answered %d: %s", e.Code, e.Message)
}

// Client talks to one server.
type Client struct {
	base    string
	http    *http.Client
	applier *apply.Applier
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.applier = apply.New(apply.WithLogger(c.logger))
	return c
}

// View is a mounted component.
type View struct {
	Component string
	ID        string

	cycle sync.Mutex // held for a whole update cycle
	root  *html.Node
	state map[string]any
	sig   string
	fp    string

	resync bool

	mu     sync.Mutex // guards gen and cancel
	gen    uint64
	cancel context.CancelFunc
}

// Mount builds a view from an initial envelope. The markup is parsed the
// way the server parses it, so the live root lines up with the server's
// snapshot: several top-level nodes get the same wrapper element.
func Mount(component string, env *render.InitialEnvelope) (*View, error) {
	root, err := parseLive(env.HTML)
	if err != nil {
		return nil, err
	}
	return &View{
		Component: component,
		ID:        env.ID,
		root:      root,
		state:     env.State,
		sig:       env.Signature,
		fp:        env.Fingerprint,
	}, nil
}

func parseLive(markupText string) (*html.Node, error) {
	head := strings.ToLower(strings.TrimSpace(markupText))
	if strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html") {
		doc, err := html.Parse(strings.NewReader(markupText))
		if err != nil {
			return nil, fmt.Errorf("client: parse document: %w", err)
		}
		for c := doc.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				return c, nil
			}
		}
		return nil, errors.New("client: document without root element")
	}

	host := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markupText), host)
	if err != nil {
		return nil, fmt.Errorf("client: parse fragment: %w", err)
	}
	for _, n := range nodes {
		host.AppendChild(n)
	}
	if roots := convert.Children(host); len(roots) == 1 {
		return roots[0], nil
	}
	wrapper := &html.Node{Type: html.ElementNode, Data: markup.WrapperTag, DataAtom: atom.Lookup([]byte(markup.WrapperTag))}
	for c := host.FirstChild; c != nil; {
		next := c.NextSibling
		host.RemoveChild(c)
		wrapper.AppendChild(c)
		c = next
	}
	host.AppendChild(wrapper)
	return wrapper, nil
}

// HTML renders the live tree.
func (v *View) HTML() (string, error) {
	v.cycle.Lock()
	defer v.cycle.Unlock()
	return convert.Render(v.root)
}

// Tree captures the live tree as a virtual tree.
func (v *View) Tree() vnode.Node {
	v.cycle.Lock()
	defer v.cycle.Unlock()
	return convert.Capture(v.root)
}

// State returns the last signed state.
func (v *View) State() (map[string]any, string) {
	v.cycle.Lock()
	defer v.cycle.Unlock()
	return v.state, v.sig
}

// Fingerprint returns the component fingerprint.
func (v *View) Fingerprint() string {
	v.cycle.Lock()
	defer v.cycle.Unlock()
	return v.fp
}

// Lazy asks the server for a first render of component and mounts it. An
// empty id lets the server pick one.
func (c *Client) Lazy(ctx context.Context, component, id string) (*View, error) {
	var env render.InitialEnvelope
	body := map[string]string{"component": component, "componentId": id}
	if err := c.post(ctx, "/update/lazy", body, &env); err != nil {
		return nil, err
	}
	return Mount(component, &env)
}

// Call is what an update cycle asks the server to do.
type Call struct {
	Method  string
	Params  []any
	Updates []render.PropertyUpdate
}

// Update runs one update cycle and applies the resulting patches to v. The
// returned envelope carries the extras (errors, events, query string).
func (c *Client) Update(ctx context.Context, v *View, call Call) (*render.UpdateEnvelope, error) {
	v.mu.Lock()
	v.gen++
	seq := v.gen
	if v.cancel != nil {
		v.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.mu.Unlock()
	defer cancel()

	v.cycle.Lock()
	defer v.cycle.Unlock()
	if v.superseded(seq) {
		return nil, ErrStale
	}

	req := render.UpdateRequest{
		Component: v.Component,
		ID:        v.ID,
		State:     v.state,
		Signature: v.sig,
		Updates:   call.Updates,
		Action:    call.Method,
		Params:    call.Params,
		Resync:    v.resync,
	}
	var env render.UpdateEnvelope
	err := c.post(ctx, "/update", req, &env)
	if v.superseded(seq) {
		// the server may have rendered it; the next cycle starts from scratch
		v.resync = true
		return nil, ErrStale
	}
	if err != nil {
		if ctx.Err() != nil {
			v.resync = true
		}
		return nil, err
	}

	if err := c.applyEnvelope(ctx, v, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (v *View) superseded(seq uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.gen != seq
}

// applyEnvelope applies env to v, resyncing once if the batch fails.
func (c *Client) applyEnvelope(ctx context.Context, v *View, env *render.UpdateEnvelope) error {
	root, err := c.applier.Apply(v.root, env.Patches)
	if err == nil {
		v.root = root
		v.accept(env)
		v.resync = false
		return nil
	}
	var pe *apply.PatchError
	if !errors.As(err, &pe) {
		v.resync = true
		return err
	}

	c.logger.Warn("client: batch abandoned, resyncing", "component_id", v.ID, "patch", pe.Index, "type", pe.Type.String(), "path", pe.Path.String(), "error", pe.Err)
	v.root = root
	req := render.UpdateRequest{
		Component: v.Component,
		ID:        v.ID,
		State:     env.State,
		Signature: env.Signature,
		Resync:    true,
	}
	var full render.UpdateEnvelope
	if err := c.post(ctx, "/update", req, &full); err != nil {
		v.resync = true
		return fmt.Errorf("client: resync: %w", err)
	}
	root, err = c.applier.Apply(v.root, full.Patches)
	if err != nil {
		v.resync = true
		return fmt.Errorf("client: resync: %w", err)
	}
	v.root = root
	v.accept(&full)
	v.resync = false
	*env = full
	return nil
}

func (v *View) accept(env *render.UpdateEnvelope) {
	v.state = env.State
	v.sig = env.Signature
	if env.Fingerprint != "" {
		v.fp = env.Fingerprint
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("client: encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("client: %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: %s: read: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("client: %s: decode: %w", path, err)
	}
	return nil
}
