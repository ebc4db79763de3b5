package server

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/loliloopp/aizoomdoc-sub000/config"
	"github.com/loliloopp/aizoomdoc-sub000/internal/agent/core"
	"github.com/loliloopp/aizoomdoc-sub000/internal/fetcher"
	"github.com/loliloopp/aizoomdoc-sub000/internal/imagecache"
	"github.com/loliloopp/aizoomdoc-sub000/internal/memory"
	"github.com/loliloopp/aizoomdoc-sub000/internal/objstore"
	"github.com/loliloopp/aizoomdoc-sub000/internal/store"
	"github.com/loliloopp/aizoomdoc-sub000/internal/telemetry"
	"github.com/loliloopp/aizoomdoc-sub000/provider"
)

// Run wires the full service and blocks serving HTTP on cfg.Server.Address.
func Run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	orchLogger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)

	prov, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}

	tele := telemetry.New(nil)

	httpFetcher := fetcher.NewHTTPFetcher(30*time.Second, 2*time.Minute)
	cache, err := imagecache.New(cfg.Cache.Dir, httpFetcher, orchLogger)
	if err != nil {
		return fmt.Errorf("image cache: %w", err)
	}

	// Postgres is optional: without it runs are in-memory only.
	var storage core.Storage
	if dsn, err := cfg.Storage.Postgres.DSN(); err == nil {
		st, err := store.New(dsn)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		storage = st
	} else {
		baseLogger.Printf("postgres not configured, persistence disabled: %v", err)
	}

	var objects core.ObjectStore
	if obj, err := objstore.New(cfg.Storage.Object); err != nil {
		return fmt.Errorf("object store: %w", err)
	} else if obj != nil {
		objects = obj
	}

	var mem core.Memory
	if cfg.Memory.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Memory.RedisAddr,
			Password: cfg.Memory.RedisPassword,
			DB:       cfg.Memory.RedisDB,
		})
		mem = memory.NewManager(prov, cfg.LLM.Model, rdb, cfg.Memory.TTL, orchLogger)
	} else {
		mem = memory.NewManager(prov, cfg.LLM.Model, nil, cfg.Memory.TTL, orchLogger)
	}

	orch := core.NewOrchestrator(cfg, orchLogger, tele, prov, cache, objects, storage, mem)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
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
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	rh := &RunsHandler{
		Orchestrator: orch,
		Logger:       orchLogger,
		runs:         make(map[string]*runHandle),
	}
	api := e.Group("/api")
	rh.Register(api.Group("/runs"))

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10041"
	}
	return e.Start(addr)
}
