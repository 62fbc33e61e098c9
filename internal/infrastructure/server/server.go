// Package server assembles the daemon: engine, registry, RPC router,
// WebSocket endpoint, and the optional REST bridge, behind one HTTP
// listener.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/streamctl/streamd/internal/api/http"
	"github.com/streamctl/streamd/internal/api/middleware"
	"github.com/streamctl/streamd/internal/api/ws"
	"github.com/streamctl/streamd/internal/domain/pipeline"
	"github.com/streamctl/streamd/internal/engine"
	"github.com/streamctl/streamd/internal/events"
	"github.com/streamctl/streamd/internal/infrastructure/config"
	"github.com/streamctl/streamd/internal/infrastructure/logging"
	"github.com/streamctl/streamd/internal/infrastructure/monitoring"
	"github.com/streamctl/streamd/internal/rpc"
)

// Version is the daemon version reported by get_version and get_info.
const Version = "1.2.0"

// Server owns every daemon component and the HTTP listener they share.
type Server struct {
	cfg     *config.Config
	log     *logging.Logger
	eng     engine.Engine
	bus     *events.Broadcaster
	reg     *pipeline.Registry
	router  *rpc.Router
	ws      *ws.Handler
	metrics *monitoring.Metrics

	gin     *gin.Engine
	httpSrv *http.Server
}

// New wires the daemon together. The engine is injected so tests can run
// against a simulated one.
func New(cfg *config.Config, eng engine.Engine) (*Server, error) {
	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return nil, err
	}

	log.Info("initializing streamd",
		zap.String("version", Version),
		zap.String("engine", eng.Version()),
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port))

	promReg := prometheus.NewRegistry()
	metrics := monitoring.New(promReg)

	bus := events.NewBroadcaster(log, cfg.Limits.EventBuffer)
	reg := pipeline.NewRegistry(eng, bus, log, cfg.Limits.MaxPipelines).WithMetrics(metrics)
	router := rpc.NewRouter(reg, eng, log, Version, cfg.Limits.MaxDescriptionSize).WithMetrics(metrics)
	wsHandler := ws.NewHandler(router, bus, log, cfg.Limits.MaxClients, cfg.Limits.EventBuffer).WithMetrics(metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	g.Use(gin.Recovery())
	g.Use(metrics.Middleware())
	g.Use(middleware.CORS())
	if cfg.RateLimit.Enabled {
		g.Use(middleware.RateLimit(cfg.RateLimit))
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		eng:     eng,
		bus:     bus,
		reg:     reg,
		router:  router,
		ws:      wsHandler,
		metrics: metrics,
		gin:     g,
	}

	g.GET("/ws", wsHandler.HandleConnection)
	g.GET("/health", s.health)
	g.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))

	if cfg.Bridge.Enabled {
		apihttp.NewBridge(router, reg, log).Register(g)
		log.Info("REST bridge enabled")
	}

	return s, nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   Version,
		"engine":    s.eng.Version(),
		"pipelines": s.reg.Count(),
		"clients":   s.ws.Clients(),
	})
}

// Handler exposes the assembled routes, mainly for tests.
func (s *Server) Handler() http.Handler { return s.gin }

// Registry exposes the pipeline registry.
func (s *Server) Registry() *pipeline.Registry { return s.reg }

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	s.httpSrv = &http.Server{Addr: addr, Handler: s.gin}

	s.log.Info("listening", zap.String("addr", addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, then tears every pipeline down to
// NULL so no engine resources outlive the process.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")

	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.reg.Shutdown()
	s.bus.Close()
	_ = s.log.Sync()
	return err
}
