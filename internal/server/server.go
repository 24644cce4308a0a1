// Package server hosts the HTTP process: routing, rate limiting, the API
// key gate, the two MCP mounts, and the operational endpoints.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/sefaria-gateway/config"
	"github.com/mohammad-safakhou/sefaria-gateway/internal/cache"
	"github.com/mohammad-safakhou/sefaria-gateway/internal/mcp"
	"github.com/mohammad-safakhou/sefaria-gateway/internal/metrics"
	"github.com/mohammad-safakhou/sefaria-gateway/internal/sefaria"
	"github.com/mohammad-safakhou/sefaria-gateway/internal/tools"
	"github.com/mohammad-safakhou/sefaria-gateway/internal/webfetch"
	"github.com/mohammad-safakhou/sefaria-gateway/internal/websearch"
)

// Version is stamped into initialize responses.
const Version = "1.0.0"

// Gateway owns every long-lived component of the process.
type Gateway struct {
	cfg     *config.Config
	echo    *echo.Echo
	metrics *metrics.Metrics
	corpus  *mcp.Server
	web     *mcp.Server
	fetcher *webfetch.Fetcher
	shared  *cache.Cache
	janitor *cache.Janitor
	logger  *log.Logger
}

// New wires the full gateway from configuration.
func New(cfg *config.Config) (*Gateway, error) {
	logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg, nil)

	shared := cache.New(cfg.Cache.Capacity, cfg.Cache.TTL())
	m.SetCacheLen(shared.Len)

	client := sefaria.NewClient(log.New(log.Writer(), "[SEFARIA] ", log.LstdFlags))
	resolver := sefaria.NewResolver(client)

	corpusTools := tools.NewCorpusRegistry(&tools.Deps{
		Client:   client,
		Resolver: resolver,
		Cache:    shared,
		Logger:   log.New(log.Writer(), "[TOOLS] ", log.LstdFlags),
	})

	gates := webfetch.NewGates(cfg.Web.MaxConcurrency, cfg.Web.PerHostConcurrency)
	fetcher := webfetch.NewFetcher(webfetch.Config{
		MaxBytes:     cfg.Web.MaxBytes,
		MaxChars:     cfg.Web.MaxChars,
		Timeout:      cfg.Web.Timeout(),
		UserAgent:    cfg.Web.RobotsUserAgent,
		ObeyRobots:   cfg.Web.RobotsObey,
		Allowlist:    cfg.Web.AllowlistHosts(),
		Blocklist:    cfg.Web.BlocklistHosts(),
		CacheEntries: cfg.Cache.WebEntries,
		CacheTTL:     cfg.Cache.TTL(),
	}, gates, m, log.New(log.Writer(), "[FETCH] ", log.LstdFlags))

	searcher := websearch.NewMultiplexer([]websearch.Provider{
		websearch.Tavily{APIKey: cfg.Providers.TavilyAPIKey},
		websearch.SerpAPI{APIKey: cfg.Providers.SerpAPIKey},
		websearch.Brave{APIKey: cfg.Providers.BraveAPIKey},
	}, cfg.Web.AllowlistHosts(), cfg.Web.BlocklistHosts(), log.New(log.Writer(), "[WEBSEARCH] ", log.LstdFlags))

	webTools := tools.NewWebRegistry(&tools.WebDeps{
		Searcher:   searcher,
		Fetcher:    fetcher,
		MaxResults: cfg.Web.MaxResults,
		Logger:     log.New(log.Writer(), "[WEBTOOLS] ", log.LstdFlags),
	})

	mcpLogger := log.New(log.Writer(), "[MCP] ", log.LstdFlags)
	g := &Gateway{
		cfg:     cfg,
		metrics: m,
		corpus:  mcp.NewServer("sefaria", Version, corpusTools, m, mcpLogger),
		web:     mcp.NewServer("web", Version, webTools, m, mcpLogger),
		fetcher: fetcher,
		shared:  shared,
		logger:  logger,
	}

	janitor, err := cache.NewJanitor(cfg.Cache.SweepCron, nil, shared)
	if err != nil {
		return nil, fmt.Errorf("cache janitor: %w", err)
	}
	g.janitor = janitor

	g.echo = g.buildEcho(reg)
	return g, nil
}

func (g *Gateway) buildEcho(reg *prometheus.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		g.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]any{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "X-API-Key"},
	}))

	limiter := newRateLimiter(g.cfg.Server.RateLimitMax, g.cfg.Server.RateLimitWindow())
	mcpMiddleware := []echo.MiddlewareFunc{limiter.middleware, g.apiKeyMiddleware}

	mountMCP(e, "/mcp", g.corpus, mcpMiddleware...)
	mountMCP(e, "/mcp-web", g.web, mcpMiddleware...)

	e.GET("/healthz", g.handleHealthz)
	e.GET("/dashboard", func(c echo.Context) error {
		return c.HTML(http.StatusOK, dashboardHTML)
	})
	e.POST("/health/python", g.handlePythonHeartbeat)
	e.GET("/image-proxy", g.handleImageProxy)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	return e
}

// mountMCP registers the three transport routes of one MCP server under a
// path prefix.
func mountMCP(e *echo.Echo, prefix string, s *mcp.Server, mws ...echo.MiddlewareFunc) {
	e.POST(prefix, func(c echo.Context) error {
		s.HandleJSON(c.Response(), c.Request())
		return nil
	}, mws...)
	e.GET(prefix+"/sse", func(c echo.Context) error {
		s.HandleSSE(c.Response(), c.Request(), prefix+"/messages")
		return nil
	}, mws...)
	e.POST(prefix+"/messages", func(c echo.Context) error {
		s.HandleMessage(c.Response(), c.Request())
		return nil
	}, mws...)
}

// apiKeyMiddleware enforces X-API-Key when a key is configured.
func (g *Gateway) apiKeyMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := g.cfg.Server.APIKey
		if key == "" {
			return next(c)
		}
		got := c.Request().Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
		}
		return next(c)
	}
}

func (g *Gateway) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, g.metrics.Snapshot())
}

func (g *Gateway) handlePythonHeartbeat(c echo.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if body.Status != "ok" && body.Status != "error" {
		return echo.NewHTTPError(http.StatusBadRequest, "status must be ok or error")
	}
	g.metrics.SetHeartbeat(body.Status)
	return c.NoContent(http.StatusNoContent)
}

func (g *Gateway) handleImageProxy(c echo.Context) error {
	target := c.QueryParam("url")
	if target == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing url parameter")
	}
	contentType, body, err := g.fetcher.FetchRaw(c.Request().Context(), target)
	if err != nil {
		if webfetch.IsPolicyError(err) {
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if !strings.HasPrefix(contentType, "image/") {
		return echo.NewHTTPError(http.StatusBadRequest, "target is not an image")
	}
	c.Response().Header().Set("Cache-Control", "public, max-age=600")
	return c.Blob(http.StatusOK, contentType, body)
}

// Echo exposes the router for tests.
func (g *Gateway) Echo() *echo.Echo { return g.echo }

// Run serves until SIGINT/SIGTERM, then drains within the configured
// shutdown timeout.
func (g *Gateway) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.janitor.Run(ctx)

	addr := g.cfg.Server.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Printf("listening on %s", addr)
		if err := g.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-sig:
	}
	g.logger.Printf("shutdown signal received")

	timeout := g.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
	defer cancelShutdown()
	return g.echo.Shutdown(shutdownCtx)
}
