// Package httpapi serves the update wire protocol over HTTP.
//
//	POST /update       signed update cycle, answers an update envelope
//	POST /update/lazy  first render of a component, answers an initial envelope
//	POST /upload       multipart file upload handed to an UploadStore
//	GET  /health       liveness
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/domdiff/idgen"
	"github.com/hazyhaar/domdiff/kit"
	"github.com/hazyhaar/domdiff/render"
	"github.com/hazyhaar/domdiff/shield"
	"github.com/hazyhaar/domdiff/signer"
)

// UploadStore receives uploaded files. Save returns the stored file name;
// the client-facing identifier is componentID + ":" + that name.
type UploadStore interface {
	Save(ctx context.Context, componentID, property, filename string, r io.Reader) (string, error)
}

// Server holds the HTTP handlers.
type Server struct {
	renderer *render.Renderer
	registry *render.Registry
	uploads  UploadStore
	stack    []func(http.Handler) http.Handler
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithUploads enables /upload.
func WithUploads(u UploadStore) Option { return func(s *Server) { s.uploads = u } }

// WithMiddleware adds middleware in front of every route.
func WithMiddleware(mws ...func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.stack = append(s.stack, mws...) }
}

// WithLogger sets the fallback logger used outside shield.TraceID.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Server rendering the components of reg.
func New(r *render.Renderer, reg *render.Registry, opts ...Option) *Server {
	s := &Server{renderer: r, registry: reg, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RegisterHTTP registers the routes on r.
func (s *Server) RegisterHTTP(r chi.Router) {
	r.Post("/update", s.handleUpdate)
	r.Post("/update/lazy", s.handleLazy)
	r.Post("/upload", s.handleUpload)
	r.Get("/health", s.handleHealth)
}

// Handler returns a router with the configured middleware and all routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range s.stack {
		r.Use(mw)
	}
	s.RegisterHTTP(r)
	return r
}

func (s *Server) log(r *http.Request) *slog.Logger {
	if l, ok := r.Context().Value(shield.LoggerKey).(*slog.Logger); ok {
		return l
	}
	return s.logger
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req render.UpdateRequest
	if !decode(w, r, &req) {
		return
	}
	if !idgen.Valid(req.ID) {
		writeError(w, http.StatusBadRequest, errors.New("invalid componentId"))
		return
	}
	ctx := kit.WithComponentID(r.Context(), req.ID)
	c, caps, err := s.registry.Resolve(req.Component, req.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	env, err := s.renderer.Update(ctx, c, caps, req)
	if err != nil {
		code := statusOf(err)
		l := s.log(r).With("component", req.Component, "component_id", req.ID)
		if code >= 500 {
			l.Error("update failed", "error", err)
		} else {
			l.Warn("update rejected", "status", code, "error", err)
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

type lazyRequest struct {
	Component string `json:"component"`
	ID        string `json:"componentId,omitempty"`
}

func (s *Server) handleLazy(w http.ResponseWriter, r *http.Request) {
	var req lazyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = idgen.Component()
	} else if !idgen.Valid(req.ID) {
		writeError(w, http.StatusBadRequest, errors.New("invalid componentId"))
		return
	}
	c, _, err := s.registry.Resolve(req.Component, req.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	env, err := s.renderer.RenderInitial(kit.WithComponentID(r.Context(), req.ID), c)
	if err != nil {
		s.log(r).Error("lazy render failed", "component", req.Component, "component_id", req.ID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

type uploadResponse struct {
	Success    bool   `json:"success"`
	Identifier string `json:"identifier,omitempty"`
	Filename   string `json:"filename,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	fail := func(code int, msg string) {
		writeJSON(w, code, uploadResponse{Error: msg})
	}
	if s.uploads == nil {
		fail(http.StatusNotImplemented, "uploads are disabled")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		fail(http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	componentID := r.FormValue("componentId")
	property := r.FormValue("property")
	if !idgen.Valid(componentID) || property == "" {
		fail(http.StatusBadRequest, "componentId and property are required")
		return
	}

	name, err := s.uploads.Save(r.Context(), componentID, property, filepath.Base(header.Filename), file)
	if err != nil {
		s.log(r).Error("upload failed", "component_id", componentID, "property", property, "error", err)
		fail(http.StatusInternalServerError, "upload failed")
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Success:    true,
		Identifier: componentID + ":" + name,
		Filename:   name,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return false
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

// statusOf maps update failures to HTTP status codes. A bad signature and
// a capability violation are both refusals.
func statusOf(err error) int {
	switch {
	case errors.Is(err, signer.ErrInvalidSignature),
		errors.Is(err, render.ErrNotWritable),
		errors.Is(err, render.ErrNotInvokable):
		return http.StatusForbidden
	case errors.Is(err, render.ErrUnknownComponent):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
