// Package render runs the server side of an update cycle: render a
// component to markup, parse it, diff it against the component's snapshot,
// sign the state and build the envelope sent to the client.
//
// Each cycle is an independent transaction. The snapshot is replaced only
// once the new tree has been diffed and the state signed, so a failing
// render leaves the previous baseline in place.
package render

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/hazyhaar/domdiff/diff"
	"github.com/hazyhaar/domdiff/kit"
	"github.com/hazyhaar/domdiff/markup"
	"github.com/hazyhaar/domdiff/patch"
	"github.com/hazyhaar/domdiff/signer"
	"github.com/hazyhaar/domdiff/snapshot"
	"github.com/hazyhaar/domdiff/vnode"
)

// InitialEnvelope is the response to a first render.
type InitialEnvelope struct {
	ID             string         `json:"id"`
	HTML           string         `json:"html"`
	State          map[string]any `json:"state"`
	Fingerprint    string         `json:"fingerprint"`
	Signature      string         `json:"signature"`
	EventListeners []string       `json:"eventListeners"`
}

// UpdateEnvelope is the response to an update cycle.
type UpdateEnvelope struct {
	ID            string              `json:"id"`
	Patches       patch.List          `json:"patches"`
	State         map[string]any      `json:"state"`
	Fingerprint   string              `json:"fingerprint"`
	Signature     string              `json:"signature"`
	Errors        map[string][]string `json:"errors,omitempty"`
	QueryString   map[string]any      `json:"queryString,omitempty"`
	Events        []Event             `json:"events,omitempty"`
	BrowserEvents []Event             `json:"browserEvents,omitempty"`
}

// PropertyUpdate is one client property write.
type PropertyUpdate struct {
	Property string `json:"property"`
	Value    any    `json:"value"`
}

// UpdateRequest is what the client sends for an update cycle.
type UpdateRequest struct {
	Component string           `json:"component"`
	ID        string           `json:"componentId"`
	State     map[string]any   `json:"state"`
	Signature string           `json:"signature"`
	Updates   []PropertyUpdate `json:"updates,omitempty"`
	Action    string           `json:"method,omitempty"`
	Params    []any            `json:"params,omitempty"`
	Resync    bool             `json:"resync,omitempty"`
}

// Renderer owns the snapshot store and the signer. It is safe for
// concurrent use across component ids.
type Renderer struct {
	parser *markup.Parser
	signer *signer.Signer
	store  snapshot.Store
	logger *slog.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithStore sets the snapshot store. The default is an in-memory store.
func WithStore(s snapshot.Store) Option { return func(r *Renderer) { r.store = s } }

// WithParser sets the markup parser.
func WithParser(p *markup.Parser) Option { return func(r *Renderer) { r.parser = p } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Renderer signing with s.
func New(s *signer.Signer, opts ...Option) *Renderer {
	r := &Renderer{
		parser: markup.New(),
		signer: s,
		store:  snapshot.NewMemory(),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Signer returns the signer in use.
func (r *Renderer) Signer() *signer.Signer { return r.signer }

// Parser returns the markup parser in use.
func (r *Renderer) Parser() *markup.Parser { return r.parser }

// RenderInitial renders c for the first time and stores its snapshot. The
// envelope carries the markup the snapshot was parsed from, sanitised when
// the parser sanitises.
func (r *Renderer) RenderInitial(ctx context.Context, c Component) (*InitialEnvelope, error) {
	id := c.ID()
	raw, err := c.Render(ctx)
	if err != nil {
		return nil, fmt.Errorf("render: %s: %w", id, err)
	}
	html := r.parser.Prepare(raw)
	tree, err := r.parser.ParsePrepared(html)
	if err != nil {
		return nil, fmt.Errorf("render: %s: %w", id, err)
	}
	state := c.State()
	sig, err := r.signer.Sign(state, id)
	if err != nil {
		return nil, fmt.Errorf("render: %s: %w", id, err)
	}
	if err := r.store.Put(ctx, id, tree); err != nil {
		return nil, fmt.Errorf("render: %s: store snapshot: %w", id, err)
	}

	env := &InitialEnvelope{
		ID:             id,
		HTML:           html,
		State:          state,
		Fingerprint:    Fingerprint(c),
		Signature:      sig,
		EventListeners: []string{},
	}
	if l, ok := c.(Listener); ok && l.EventListeners() != nil {
		env.EventListeners = l.EventListeners()
	}
	r.logger.DebugContext(ctx, "render: initial", "component_id", id, "bytes", len(html))
	return env, nil
}

// RenderUpdate re-renders c, diffs it against the stored snapshot and
// replaces the snapshot. Without a snapshot the patches are a single full
// replacement.
func (r *Renderer) RenderUpdate(ctx context.Context, c Component) (*UpdateEnvelope, error) {
	return r.renderUpdate(ctx, c, false)
}

// renderUpdate is RenderUpdate; with full set the stored snapshot is ignored
// and the patches are a single full replacement.
func (r *Renderer) renderUpdate(ctx context.Context, c Component, full bool) (*UpdateEnvelope, error) {
	id := c.ID()
	html, err := c.Render(ctx)
	if err != nil {
		return nil, fmt.Errorf("render: %s: %w", id, err)
	}
	tree, err := r.parser.Parse(html)
	if err != nil {
		return nil, fmt.Errorf("render: %s: %w", id, err)
	}
	var old vnode.Node
	if !full {
		if old, err = r.store.Get(ctx, id); err != nil {
			return nil, fmt.Errorf("render: %s: load snapshot: %w", id, err)
		}
	}
	patches := diff.Optimize(diff.Diff(old, tree))

	state := c.State()
	sig, err := r.signer.Sign(state, id)
	if err != nil {
		return nil, fmt.Errorf("render: %s: %w", id, err)
	}
	if err := r.store.Put(ctx, id, tree); err != nil {
		return nil, fmt.Errorf("render: %s: store snapshot: %w", id, err)
	}

	env := &UpdateEnvelope{
		ID:          id,
		Patches:     patch.List(patches),
		State:       state,
		Fingerprint: Fingerprint(c),
		Signature:   sig,
	}
	if v, ok := c.(Validator); ok {
		if errs := v.Errors(); len(errs) > 0 {
			env.Errors = errs
		}
	}
	if q, ok := c.(QueryStringer); ok {
		if qs := q.QueryString(); len(qs) > 0 {
			env.QueryString = qs
		}
	}
	if es, ok := c.(EventSource); ok {
		env.Events = es.DispatchedEvents()
		env.BrowserEvents = es.BrowserEvents()
		if len(env.Events) > 0 || len(env.BrowserEvents) > 0 {
			es.ClearEvents()
		}
		if len(env.Events) == 0 {
			env.Events = nil
		}
		if len(env.BrowserEvents) == 0 {
			env.BrowserEvents = nil
		}
	}
	r.logger.DebugContext(ctx, "render: update", "component_id", id, "patches", len(patches))
	return env, nil
}

// Update runs a client update cycle: verify the presented state, hydrate c
// from it, apply the property writes and the action allowed by caps, then
// re-render. A bad signature fails with signer.ErrInvalidSignature before c
// is touched. With req.Resync the stored snapshot is not diffed against and
// the client receives a full replacement.
func (r *Renderer) Update(ctx context.Context, c Component, caps Capabilities, req UpdateRequest) (*UpdateEnvelope, error) {
	id := c.ID()
	ctx = kit.WithComponentID(ctx, id)
	if err := r.signer.Check(req.State, id, req.Signature); err != nil {
		r.logger.WarnContext(ctx, "render: state signature rejected", "component_id", id, "trace_id", kit.GetTraceID(ctx))
		return nil, err
	}
	if h, ok := c.(Hydrator); ok {
		if err := h.Hydrate(req.State); err != nil {
			return nil, fmt.Errorf("render: %s: hydrate: %w", id, err)
		}
	}

	for _, u := range req.Updates {
		if !caps.CanWrite(u.Property) {
			return nil, fmt.Errorf("%w: %q on %s", ErrNotWritable, u.Property, id)
		}
		w, ok := c.(PropertyWriter)
		if !ok {
			return nil, fmt.Errorf("%w: %q on %s", ErrNotWritable, u.Property, id)
		}
		if err := w.SetProperty(u.Property, u.Value); err != nil {
			return nil, fmt.Errorf("render: %s: set %q: %w", id, u.Property, err)
		}
	}

	if req.Action != "" {
		if !caps.CanInvoke(req.Action) {
			return nil, fmt.Errorf("%w: %q on %s", ErrNotInvokable, req.Action, id)
		}
		inv, ok := c.(Invoker)
		if !ok {
			return nil, fmt.Errorf("%w: %q on %s", ErrNotInvokable, req.Action, id)
		}
		if err := inv.Invoke(ctx, req.Action, req.Params); err != nil {
			return nil, fmt.Errorf("render: %s: %s: %w", id, req.Action, err)
		}
	}
	return r.renderUpdate(ctx, c, req.Resync)
}

// Snapshot renders c and stores its tree without producing an envelope.
func (r *Renderer) Snapshot(ctx context.Context, c Component) error {
	html, err := c.Render(ctx)
	if err != nil {
		return fmt.Errorf("render: %s: %w", c.ID(), err)
	}
	tree, err := r.parser.Parse(html)
	if err != nil {
		return fmt.Errorf("render: %s: %w", c.ID(), err)
	}
	return r.store.Put(ctx, c.ID(), tree)
}

// ClearSnapshot drops the snapshot of a torn down component.
func (r *Renderer) ClearSnapshot(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

// Fingerprint identifies a component instance and the shape of its state:
// the id and the sorted state keys, hashed. Values do not take part, so the
// fingerprint is stable across updates.
func Fingerprint(c Component) string {
	if f, ok := c.(Fingerprinter); ok {
		return f.Fingerprint()
	}
	state := c.State()
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := blake3.New()
	h.Write([]byte(c.ID()))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}
