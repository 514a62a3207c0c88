package render

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotInvokable is returned when an update names an action outside the
	// component's capability descriptor.
	ErrNotInvokable = errors.New("render: action not invokable")

	// ErrNotWritable is returned when an update writes a property outside the
	// component's capability descriptor.
	ErrNotWritable = errors.New("render: property not writable")

	// ErrUnknownComponent is returned by Registry.Resolve for unregistered
	// names.
	ErrUnknownComponent = errors.New("render: unknown component")
)

// Component is a server-rendered view with state.
type Component interface {
	ID() string
	Render(ctx context.Context) (string, error)
	State() map[string]any
}

// Optional behaviour, detected with type assertions.
type (
	// Fingerprinter overrides the default fingerprint.
	Fingerprinter interface{ Fingerprint() string }

	// Listener names the client events the component listens to.
	Listener interface{ EventListeners() []string }

	// Validator exposes a validation error bag, field to messages.
	Validator interface{ Errors() map[string][]string }

	// QueryStringer exposes properties bound to the page URL.
	QueryStringer interface{ QueryString() map[string]any }

	// EventSource exposes events dispatched during the cycle. ClearEvents is
	// called once they have been put in an envelope.
	EventSource interface {
		DispatchedEvents() []Event
		BrowserEvents() []Event
		ClearEvents()
	}

	// Hydrator restores a component from verified client state.
	Hydrator interface {
		Hydrate(state map[string]any) error
	}

	// PropertyWriter applies a client property write.
	PropertyWriter interface {
		SetProperty(name string, value any) error
	}

	// Invoker runs a named action.
	Invoker interface {
		Invoke(ctx context.Context, action string, params []any) error
	}

	// Capable declares the component's capability descriptor.
	Capable interface{ Capabilities() Capabilities }
)

// Event is a dispatched event carried in an update envelope.
type Event struct {
	Name string `json:"name"`
	Data any    `json:"data,omitempty"`
}

// Capabilities is the set of actions a client may invoke and properties it
// may write. It is computed once per component kind and passed into the
// update path.
type Capabilities struct {
	actions  map[string]struct{}
	writable map[string]struct{}
}

// NewCapabilities builds a descriptor.
func NewCapabilities(actions, writable []string) Capabilities {
	c := Capabilities{
		actions:  make(map[string]struct{}, len(actions)),
		writable: make(map[string]struct{}, len(writable)),
	}
	for _, a := range actions {
		c.actions[a] = struct{}{}
	}
	for _, w := range writable {
		c.writable[w] = struct{}{}
	}
	return c
}

func (c Capabilities) CanInvoke(action string) bool {
	_, ok := c.actions[action]
	return ok
}

func (c Capabilities) CanWrite(property string) bool {
	_, ok := c.writable[property]
	return ok
}

// Actions returns the invokable action names, sorted.
func (c Capabilities) Actions() []string { return setKeys(c.actions) }

// Writable returns the writable property names, sorted.
func (c Capabilities) Writable() []string { return setKeys(c.writable) }

func setKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Factory creates a component instance for an id.
type Factory func(id string) Component

type registration struct {
	factory Factory
	caps    Capabilities
}

// Registry maps component names to factories and their capability
// descriptors. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]registration)}
}

// Register adds a component kind. The capability descriptor is read once
// from a probe instance when it implements Capable; otherwise the kind
// allows nothing.
func (r *Registry) Register(name string, f Factory) {
	var caps Capabilities
	if c, ok := f("").(Capable); ok {
		caps = c.Capabilities()
	}
	r.mu.Lock()
	r.kinds[name] = registration{factory: f, caps: caps}
	r.mu.Unlock()
}

// Resolve creates the named component for id with its descriptor.
func (r *Registry) Resolve(name, id string) (Component, Capabilities, error) {
	r.mu.RLock()
	reg, ok := r.kinds[name]
	r.mu.RUnlock()
	if !ok {
		return nil, Capabilities{}, fmt.Errorf("%w: %q", ErrUnknownComponent, name)
	}
	return reg.factory(id), reg.caps, nil
}

// Names returns the registered component names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
