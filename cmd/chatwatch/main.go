// Command chatwatch monitors a live chat web page for keyword matches.
//
// Usage:
//
//	chatwatch -config chatwatch.yaml
//
// Environment:
//
//	PORT            HTTP admin/status port (default 8086)
//	LOG_LEVEL       debug, info, warn, error (default info)
//	ADMIN_PASSWORD  required; basic-auth password for admin endpoints
//	MCP_TRANSPORT   "stdio" to serve MCP tools on stdin/stdout
package main

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/chatwatch/dbopen"
	"github.com/hazyhaar/chatwatch/idgen"
	"github.com/hazyhaar/chatwatch/keywords"
	"github.com/hazyhaar/chatwatch/kit"
	"github.com/hazyhaar/chatwatch/match"
	"github.com/hazyhaar/chatwatch/monitor"
	"github.com/hazyhaar/chatwatch/notify"
	"github.com/hazyhaar/chatwatch/observability"
)

const workerName = "chatwatch-engine"

func main() {
	configPath := flag.String("config", "", "path to chatwatch.yaml config file")
	flag.Parse()

	var lvl slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// Logs go to stderr: stdout carries the notification stream (and the
	// MCP protocol in stdio mode).
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath); err != nil {
		logger.Error("chatwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string) error {
	adminPassword := os.Getenv("ADMIN_PASSWORD")
	if adminPassword == "" {
		return fmt.Errorf("ADMIN_PASSWORD is required")
	}
	adminHash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	cfg := monitor.DefaultConfig()
	if configPath != "" {
		cfg, err = monitor.LoadConfig(configPath)
		if err != nil {
			return err
		}
	}
	if cfg.Page.URL == "" {
		return fmt.Errorf("page.url is required in config")
	}

	// Keyword store + cached source, invalidated on store writes.
	store, err := keywords.Open(cfg.Store.KeywordsPath)
	if err != nil {
		return err
	}
	defer store.Close()
	source := keywords.NewSource(store, keywords.DefaultCacheTTL, logger)
	source.WatchStore(ctx, store.DB, time.Second)

	// Observability store: heartbeats, metrics, lifecycle events.
	obsDB, err := dbopen.Open(cfg.Store.ObservabilityPath, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("observability db: %w", err)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		return fmt.Errorf("observability init: %w", err)
	}
	hb := observability.NewHeartbeatWriter(obsDB, workerName, cfg.Monitor.HeartbeatInterval)
	hb.Start(ctx)
	defer hb.Stop()
	metrics := observability.NewMetricsManager(obsDB, 100, 30*time.Second)
	defer metrics.Close()
	events := observability.NewEventLogger(obsDB)
	go retentionLoop(ctx, obsDB, logger)

	// Notification sinks.
	router, err := buildSinks(cfg, logger)
	if err != nil {
		return err
	}
	defer router.Close()

	// Matching pipeline over the page surface.
	pipeline := match.NewPipeline(source,
		match.NewCache(cfg.Monitor.DedupCap, cfg.Monitor.DedupStaleness), logger)

	surface, closeSurface, err := monitor.OpenSurface(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSurface()

	engine := monitor.New(surface, pipeline, router, cfg.Monitor, cfg.Page.Selectors,
		monitor.WithLogger(logger),
		monitor.WithMetrics(metrics),
		monitor.WithEvents(events))
	go engine.Run(ctx)

	// Resume monitoring when the persisted flag says so.
	if active, err := store.Active(ctx); err != nil {
		logger.Warn("chatwatch: read active flag", "error", err)
	} else if active {
		if _, err := engine.Start(ctx); err != nil {
			logger.Warn("chatwatch: auto-start", "error", err)
		}
	}

	// Optional MCP command channel on stdio.
	if env("MCP_TRANSPORT", "") == "stdio" {
		srv := mcp.NewServer(&mcp.Implementation{Name: "chatwatch", Version: "1.0.0"}, nil)
		store.RegisterMCP(srv)
		engine.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("chatwatch: mcp", "error", err)
			}
		}()
		logger.Info("chatwatch: mcp stdio enabled")
	}

	return serveHTTP(ctx, logger, httpDeps{
		engine:    engine,
		store:     store,
		obsDB:     obsDB,
		hbPeriod:  cfg.Monitor.HeartbeatInterval,
		adminHash: adminHash,
	})
}

// buildSinks assembles the configured notification backends behind one
// fan-out router. No sinks configured means stdout JSON lines.
func buildSinks(cfg *monitor.Config, logger *slog.Logger) (*notify.Router, error) {
	var sinks []notify.Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, notify.NewStdout(nil))
		case "webhook":
			if sc.URL == "" {
				return nil, fmt.Errorf("webhook sink requires a url")
			}
			sinks = append(sinks, notify.NewWebhook(sc.URL, notify.WithWebhookLogger(logger)))
		default:
			return nil, fmt.Errorf("unknown sink type %q", sc.Type)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, notify.NewStdout(nil))
	}
	return notify.NewRouter(logger, sinks...), nil
}

// retentionLoop trims old heartbeats, metrics and event logs once a day.
func retentionLoop(ctx context.Context, db *sql.DB, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := observability.Cleanup(ctx, db, observability.RetentionConfig{
				EventLogsDays:  30,
				HeartbeatsDays: 7,
				MetricsDays:    14,
			})
			if err != nil {
				logger.Warn("chatwatch: retention cleanup", "error", err)
			}
		}
	}
}

type httpDeps struct {
	engine    *monitor.Engine
	store     *keywords.Store
	obsDB     *sql.DB
	hbPeriod  time.Duration
	adminHash []byte
}

func serveHTTP(ctx context.Context, logger *slog.Logger, deps httpDeps) error {
	port := env("PORT", "8086")

	r := chi.NewRouter()
	r.Use(requestContext)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(basicAuth(deps.adminHash))

		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			st, err := deps.engine.Status(req.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			phrases, err := deps.store.Phrases(req.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			heartbeat, err := observability.LatestHeartbeat(req.Context(), deps.obsDB,
				workerName, 3*deps.hbPeriod)
			if err != nil {
				logger.Warn("chatwatch: latest heartbeat", "error", err)
			}
			writeJSON(w, 200, map[string]any{
				"monitor":   st,
				"keywords":  len(phrases),
				"heartbeat": heartbeat,
			})
		})

		r.Post("/monitor/start", func(w http.ResponseWriter, req *http.Request) {
			st, err := deps.engine.Start(req.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			if err := deps.store.SetActive(req.Context(), true); err != nil {
				logger.Warn("chatwatch: persist active flag", "error", err)
			}
			writeJSON(w, 200, st)
		})

		r.Post("/monitor/stop", func(w http.ResponseWriter, req *http.Request) {
			st, err := deps.engine.Stop(req.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			if err := deps.store.SetActive(req.Context(), false); err != nil {
				logger.Warn("chatwatch: persist active flag", "error", err)
			}
			writeJSON(w, 200, st)
		})

		r.Get("/keywords", func(w http.ResponseWriter, req *http.Request) {
			list, err := deps.store.List(req.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, list)
		})

		r.Post("/keywords", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Phrase string `json:"phrase"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, 400, err)
				return
			}
			kw, err := deps.store.Add(req.Context(), body.Phrase)
			if err != nil {
				writeError(w, 400, err)
				return
			}
			writeJSON(w, 201, kw)
		})

		r.Delete("/keywords/{id}", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			if err := deps.store.Delete(req.Context(), id); err != nil {
				if errors.Is(err, keywords.ErrNotFound) {
					writeError(w, 404, err)
					return
				}
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]string{"deleted": id})
		})
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
	return nil
}

// requestContext stamps every request with a transport tag, a request ID
// and the caller address for downstream logging.
func requestContext(next http.Handler) http.Handler {
	newID := idgen.Prefixed("req_", idgen.UUIDv7())
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithTransport(r.Context(), "http")
		ctx = kit.WithRequestID(ctx, newID())
		ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// basicAuth verifies HTTP Basic credentials against the startup-derived
// bcrypt hash. The username is fixed.
func basicAuth(hash []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte("admin")) != 1 ||
				bcrypt.CompareHashAndPassword(hash, []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="chatwatch"`)
				writeJSON(w, 401, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
