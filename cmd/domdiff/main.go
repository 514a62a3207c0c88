// Command domdiff serves server-driven components and diffs markup.
//
// Usage:
//
//	domdiff -config domdiff.yaml               # serve the HTTP update protocol
//	domdiff -config domdiff.yaml -mcp          # MCP server on stdio
//	domdiff -old a.html -new b.html            # print the patches and exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domdiff/diff"
	"github.com/hazyhaar/domdiff/httpapi"
	"github.com/hazyhaar/domdiff/internal/config"
	"github.com/hazyhaar/domdiff/markup"
	"github.com/hazyhaar/domdiff/patch"
	"github.com/hazyhaar/domdiff/render"
	"github.com/hazyhaar/domdiff/shield"
	"github.com/hazyhaar/domdiff/signer"
	"github.com/hazyhaar/domdiff/snapshot"
	"github.com/hazyhaar/domdiff/vnode"
)

func main() {
	configPath := flag.String("config", "", "path to domdiff.yaml config file")
	oldPath := flag.String("old", "", "previous markup file (diff mode)")
	newPath := flag.String("new", "", "current markup file (diff mode)")
	raw := flag.Bool("raw", false, "diff mode: skip patch optimisation")
	mcpMode := flag.Bool("mcp", false, "serve MCP tools on stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *newPath != "" {
		if err := diffFiles(os.Stdout, markup.New(), *oldPath, *newPath, !*raw); err != nil {
			logger.Error("domdiff: diff", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, logger, *configPath, *mcpMode); err != nil {
		logger.Error("domdiff: fatal", "error", err)
		os.Exit(1)
	}
}

// diffFiles writes the patches turning oldPath into newPath. An empty
// oldPath diffs against nothing.
func diffFiles(w io.Writer, p *markup.Parser, oldPath, newPath string, optimize bool) error {
	newTree, err := parseFile(p, newPath)
	if err != nil {
		return err
	}
	var ps []patch.Patch
	if oldPath == "" {
		ps = diff.Diff(nil, newTree)
	} else {
		oldTree, err := parseFile(p, oldPath)
		if err != nil {
			return err
		}
		ps = diff.Diff(oldTree, newTree)
	}
	if optimize {
		ps = diff.Optimize(ps)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(patch.List(ps))
}

func parseFile(p *markup.Parser, path string) (vnode.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return p.Parse(string(data))
}

func resolveConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	cfg.FromEnv()
	return cfg, cfg.Validate()
}

func run(ctx context.Context, logger *slog.Logger, configPath string, mcpMode bool) error {
	cfg, err := resolveConfig(configPath)
	if err != nil {
		return err
	}

	alg, err := signer.ParseAlgorithm(cfg.Signing)
	if err != nil {
		return err
	}
	sg, err := signer.New([]byte(cfg.Secret), signer.WithAlgorithm(alg))
	if err != nil {
		return err
	}

	var store snapshot.Store = snapshot.NewMemory()
	if cfg.DBPath != "" {
		sq, err := snapshot.OpenSQLite(cfg.DBPath)
		if err != nil {
			return err
		}
		defer sq.Close()
		store = sq
	}

	var parserOpts []markup.Option
	if cfg.Sanitize {
		parserOpts = append(parserOpts, markup.WithSanitizer(bluemonday.UGCPolicy()))
	}
	r := render.New(sg,
		render.WithStore(store),
		render.WithParser(markup.New(parserOpts...)),
		render.WithLogger(logger),
	)

	if mcpMode {
		srv := mcp.NewServer(&mcp.Implementation{Name: "domdiff", Version: "1.0.0"}, nil)
		r.RegisterMCP(srv)
		logger.Info("domdiff: MCP on stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	if p, ok := store.(snapshot.Pruner); ok && cfg.SnapshotTTL > 0 {
		go pruneLoop(ctx, logger, p, cfg.SnapshotTTL)
	}
	return serve(ctx, logger, cfg, r, reg)
}

func serve(ctx context.Context, logger *slog.Logger, cfg *config.Config, r *render.Renderer, reg *render.Registry) error {
	stack := shield.DefaultStack(logger, shield.Limits{
		Body:      cfg.MaxBodyBytes(),
		Upload:    cfg.MaxUploadBytes(),
		PerMinute: cfg.RateLimit,
		Done:      ctx.Done(),
	})
	api := httpapi.New(r, reg, httpapi.WithLogger(logger), httpapi.WithMiddleware(stack...))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("domdiff: listening", "addr", cfg.Listen, "components", reg.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("domdiff: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildRegistry registers the template components of cfg. Each gets a
// "reset" action restoring its configured state.
func buildRegistry(cfg *config.Config) (*render.Registry, error) {
	reg := render.NewRegistry()
	for _, comp := range cfg.Components {
		path := filepath.Join(cfg.TemplatesDir, comp.Template)
		tmpl, err := template.ParseFiles(path)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", comp.Name, err)
		}
		initial := maps.Clone(comp.State)
		if initial == nil {
			initial = map[string]any{}
		}
		writable := comp.Writable
		reg.Register(comp.Name, func(id string) render.Component {
			return render.NewTemplateComponent(id, tmpl, initial).
				Writable(writable...).
				Action("reset", func(_ context.Context, c *render.TemplateComponent, _ []any) error {
					for k, v := range initial {
						c.Set(k, v)
					}
					return nil
				})
		})
	}
	return reg, nil
}

func pruneLoop(ctx context.Context, logger *slog.Logger, p snapshot.Pruner, ttl time.Duration) {
	every := max(ttl/4, time.Minute)
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			n, err := p.Prune(ctx, ttl)
			if err != nil {
				logger.Warn("domdiff: snapshot prune", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("domdiff: snapshots pruned", "count", n)
			}
		}
	}
}
