// Package server wires the engine into an echo HTTP API with JWT auth,
// Prometheus metrics and a session janitor.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/opine-ai/opine/config"
	"github.com/opine-ai/opine/internal/artifact"
	"github.com/opine-ai/opine/internal/engine"
	"github.com/opine-ai/opine/internal/llm"
	"github.com/opine-ai/opine/internal/quality"
	"github.com/opine-ai/opine/internal/search"
	"github.com/opine-ai/opine/internal/session"
	"github.com/opine-ai/opine/internal/store"
	"github.com/opine-ai/opine/internal/telemetry"
	"github.com/opine-ai/opine/internal/tools"
)

// Run builds every collaborator from config and serves until the process
// dies. Composition lives here; the packages below stay wiring-free.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		baseLogger.Printf("migrations: %v (continuing, schema may already be current)", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Storage.SessionBackend == "redis" || cfg.Storage.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
	}
	var sessions session.Store
	if cfg.Storage.SessionBackend == "redis" {
		if rdb == nil {
			return fmt.Errorf("session backend redis selected but storage.redis.addr is empty")
		}
		sessions = session.NewRedisStore(rdb)
	} else {
		sessions = session.NewInMemoryStore()
	}

	tele := telemetry.New(cfg.Telemetry, prometheus.DefaultRegisterer, nil)

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	provider = llm.WithMetering(provider, tele.AddCost)
	searcher, err := search.NewSearcher(cfg.Search)
	if err != nil {
		return err
	}
	var enricher *search.Enricher
	if cfg.Search.Enrich {
		enricher = search.NewEnricher(cfg.Search, nil)
	}
	affinities, err := quality.LoadAffinityTable(cfg.Opinion.AffinityFile)
	if err != nil {
		return err
	}

	registry, err := tools.NewRegistry(
		tools.NewSearchTool(searcher, enricher, cfg.Search.MaxResults),
		tools.NewOpinionTool(searcher, affinities, cfg.Opinion, cfg.Search.MaxResults, nil),
		tools.NewExtractionTool(provider, cfg.LLM.Routing.Extraction),
	)
	if err != nil {
		return err
	}
	invoker := tools.NewInvoker(registry, cfg.Engine.ToolTimeout, cfg.Engine.MaxConcurrent, nil, tele)

	planner := engine.NewLLMPlanner(provider, cfg.LLM.Routing.Planning, nil)
	synthesizer := engine.NewLLMSynthesizer(provider, cfg.LLM.Routing.Synthesis, nil)

	opts := engine.Options{
		Audit:     &auditSink{store: st},
		Telemetry: tele,
	}
	if cfg.Artifact.Enabled {
		opts.Decider = artifact.NewDecider(cfg.Artifact, cfg.LLM.Routing, provider, nil)
		generator, err := artifact.NewRendererClient(cfg.Artifact, nil)
		if err != nil {
			return err
		}
		opts.Generator = generator
	}

	eng, err := engine.New(cfg.Engine, sessions, planner, synthesizer, invoker, opts)
	if err != nil {
		return err
	}

	secret, err := LoadJWTSecret(cfg)
	if err != nil {
		return err
	}
	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	protected := api.Group("", AuthMiddleware(secret))
	chat := &ChatHandler{Engine: eng, Sessions: sessions, Audit: st, Logger: baseLogger}
	chat.Register(protected)
	protected.GET("/telemetry/costs", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"llm_costs_usd": tele.Costs()})
	})

	janitor := &Janitor{
		Sessions: sessions,
		Redis:    rdb,
		Schedule: cfg.Server.JanitorSchedule,
		TTL:      cfg.Server.SessionTTL,
	}
	go janitor.Run(ctx)

	return e.Start(cfg.Server.Address)
}

// auditSink adapts the Postgres store to the engine's audit boundary,
// writing the artifact row first so the exchange's foreign key resolves.
type auditSink struct {
	store *store.Store
}

func (a *auditSink) SaveExchange(ctx context.Context, ex engine.Exchange) error {
	artifactID := ""
	if ex.Artifact != nil {
		artifactID = ex.Artifact.ID
		if err := a.store.SaveArtifact(ctx, ex.Artifact.ID, ex.SessionID,
			string(ex.Artifact.ChartType), ex.Artifact.Title, ex.Artifact.ImageURI, ex.Artifact.SpecURI); err != nil {
			return err
		}
	}
	return a.store.SaveExchange(ctx, ex.SessionID, ex.UserTurnID, ex.AssistantTurnID,
		ex.Message, ex.FinalText, ex.Citations, artifactID)
}
