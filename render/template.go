package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"maps"
)

// ActionFunc is an action of a TemplateComponent.
type ActionFunc func(ctx context.Context, c *TemplateComponent, params []any) error

// TemplateComponent renders an html/template with its state as data. Its
// capability descriptor is the set of registered actions and the
// properties marked writable.
type TemplateComponent struct {
	id        string
	tmpl      *template.Template
	state     map[string]any
	actions   map[string]ActionFunc
	writable  []string
	listeners []string

	errors        map[string][]string
	query         []string
	events        []Event
	browserEvents []Event
}

// NewTemplateComponent creates a component whose initial state is a copy
// of state.
func NewTemplateComponent(id string, tmpl *template.Template, state map[string]any) *TemplateComponent {
	return &TemplateComponent{
		id:      id,
		tmpl:    tmpl,
		state:   maps.Clone(state),
		actions: make(map[string]ActionFunc),
	}
}

// Action registers an invokable action.
func (c *TemplateComponent) Action(name string, fn ActionFunc) *TemplateComponent {
	c.actions[name] = fn
	return c
}

// Writable marks properties the client may write.
func (c *TemplateComponent) Writable(props ...string) *TemplateComponent {
	c.writable = append(c.writable, props...)
	return c
}

// Listen registers client events the component reacts to.
func (c *TemplateComponent) Listen(events ...string) *TemplateComponent {
	c.listeners = append(c.listeners, events...)
	return c
}

// BindQuery marks properties reflected in the page URL.
func (c *TemplateComponent) BindQuery(props ...string) *TemplateComponent {
	c.query = append(c.query, props...)
	return c
}

func (c *TemplateComponent) ID() string { return c.id }

func (c *TemplateComponent) State() map[string]any { return maps.Clone(c.state) }

func (c *TemplateComponent) Get(key string) any { return c.state[key] }

func (c *TemplateComponent) Set(key string, v any) { c.state[key] = v }

func (c *TemplateComponent) Render(_ context.Context) (string, error) {
	var buf bytes.Buffer
	data := maps.Clone(c.state)
	data["componentId"] = c.id
	data["errors"] = c.errors
	if err := c.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template %s: %w", c.tmpl.Name(), err)
	}
	return buf.String(), nil
}

func (c *TemplateComponent) Capabilities() Capabilities {
	names := make([]string, 0, len(c.actions))
	for n := range c.actions {
		names = append(names, n)
	}
	return NewCapabilities(names, c.writable)
}

// Hydrate replaces the state with the verified client state. Keys the
// client did not send keep their current value.
func (c *TemplateComponent) Hydrate(state map[string]any) error {
	maps.Copy(c.state, state)
	return nil
}

func (c *TemplateComponent) SetProperty(name string, value any) error {
	c.state[name] = value
	return nil
}

func (c *TemplateComponent) Invoke(ctx context.Context, action string, params []any) error {
	fn, ok := c.actions[action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotInvokable, action)
	}
	return fn(ctx, c, params)
}

// AddError records a validation message for field.
func (c *TemplateComponent) AddError(field, msg string) {
	if c.errors == nil {
		c.errors = make(map[string][]string)
	}
	c.errors[field] = append(c.errors[field], msg)
}

func (c *TemplateComponent) Errors() map[string][]string { return c.errors }

func (c *TemplateComponent) QueryString() map[string]any {
	if len(c.query) == 0 {
		return nil
	}
	out := make(map[string]any, len(c.query))
	for _, p := range c.query {
		if v, ok := c.state[p]; ok && v != nil && v != "" {
			out[p] = v
		}
	}
	return out
}

// Dispatch emits a component event.
func (c *TemplateComponent) Dispatch(name string, data any) {
	c.events = append(c.events, Event{Name: name, Data: data})
}

// DispatchBrowser emits a browser event.
func (c *TemplateComponent) DispatchBrowser(name string, data any) {
	c.browserEvents = append(c.browserEvents, Event{Name: name, Data: data})
}

func (c *TemplateComponent) DispatchedEvents() []Event { return c.events }
func (c *TemplateComponent) BrowserEvents() []Event    { return c.browserEvents }

func (c *TemplateComponent) ClearEvents() {
	c.events = nil
	c.browserEvents = nil
}

func (c *TemplateComponent) EventListeners() []string { return c.listeners }
