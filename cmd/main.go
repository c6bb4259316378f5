package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fathima-sithara/discovery-gateway/internal/config"
	"github.com/fathima-sithara/discovery-gateway/internal/discovery"
	"github.com/fathima-sithara/discovery-gateway/internal/logger"
	"github.com/fathima-sithara/discovery-gateway/internal/metrics"
	"github.com/fathima-sithara/discovery-gateway/internal/middleware"
	"github.com/fathima-sithara/discovery-gateway/internal/proxy"
	"github.com/fathima-sithara/discovery-gateway/internal/routetable"
	"github.com/fathima-sithara/discovery-gateway/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	path := os.Getenv("GATEWAY_CONFIG")
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// logger
	zl, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	m := metrics.New()

	// routing table: discovered or fixed prefixes
	var (
		routes proxy.Lookuper
		agent  *discovery.Agent
	)
	switch cfg.Discovery.Mode {
	case config.ModeStatic:
		routes = routetable.NewPrefixTable(cfg.StaticRoutes)
		zl.Info("static routing", zap.Int("prefixes", len(cfg.StaticRoutes)))
	default:
		table := routetable.New()
		agent, err = newAgent(cfg, table, zl, m)
		if err != nil {
			zl.Fatal("discovery init failed", zap.Error(err))
		}
		routes = table
	}

	// backend credential
	var auth proxy.AuthProvider = proxy.StaticCredential(cfg.Auth.SharedSecret)
	if cfg.Auth.Mode == config.AuthJWT {
		auth, err = proxy.NewJWTCredential(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTTTL)
		if err != nil {
			zl.Fatal("jwt credential init failed", zap.Error(err))
		}
	}

	fwd := proxy.NewForwarder(routes, auth, proxy.Options{
		Timeout:          cfg.Proxy.Timeout,
		MaxResponseBytes: cfg.Proxy.MaxResponseBytes,
	}, zl, m)

	guards, closeGuards, err := buildGuards(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("middleware init failed", zap.Error(err))
	}
	defer closeGuards()

	srv := server.New(fwd, server.Options{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Docs:         cfg.Docs,
		Metrics:      m,
		Guards:       guards,
	}, zl)

	agentDone := make(chan struct{})
	if agent != nil {
		// first poll before the listener opens so early requests find routes
		warmCtx, cancel := context.WithTimeout(ctx, cfg.Discovery.PollTimeout)
		if err := agent.RefreshAll(warmCtx); err != nil {
			zl.Warn("initial route discovery incomplete", zap.Error(err))
		}
		cancel()
		for _, st := range agent.Status() {
			zl.Info("backend routes", zap.String("backend", st.Backend), zap.Int("routes", st.Routes))
		}
		go func() {
			defer close(agentDone)
			agent.Run(ctx)
		}()
	} else {
		close(agentDone)
	}

	// start server
	addr := ":" + cfg.Server.Port
	go func() {
		if err := srv.Listen(addr); err != nil {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zl.Info("shutdown requested")

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("server shutdown", zap.Error(err))
	}
	<-agentDone
	zl.Info("gateway stopped")
}

func newAgent(cfg *config.Config, table *routetable.Table, zl *zap.Logger, m *metrics.Metrics) (*discovery.Agent, error) {
	var resolver discovery.Resolver = discovery.StaticResolver{}
	if cfg.Discovery.ConsulAddr != "" {
		cr, err := discovery.NewConsulResolver(cfg.Discovery.ConsulAddr)
		if err != nil {
			return nil, err
		}
		resolver = cr
		zl.Info("resolving backends through consul", zap.String("addr", cfg.Discovery.ConsulAddr))
	}

	backends := make([]discovery.Backend, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		backends = append(backends, discovery.Backend{Name: b.Name, BaseURL: b.BaseURL})
	}

	// connection failures are retried for at most half of the poll timeout
	fetcher := discovery.NewFetcher(&http.Client{}, cfg.Discovery.PollTimeout/2)
	return discovery.NewAgent(backends, table, resolver, fetcher, discovery.AgentConfig{
		Interval: cfg.Discovery.PollInterval,
		Timeout:  cfg.Discovery.PollTimeout,
	}, zl, m), nil
}

// buildGuards returns the inbound JWT check and rate limiter, when
// configured, in the order they run.
func buildGuards(ctx context.Context, cfg *config.Config, zl *zap.Logger) ([]fiber.Handler, func(), error) {
	var guards []fiber.Handler
	closer := func() {}

	if cfg.RateLimit.PerMinute > 0 {
		if cfg.RateLimit.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
			closer = func() { _ = rdb.Close() }
			rl := middleware.NewRedisRateLimiter(rdb, "gateway:ratelimit", cfg.RateLimit.PerMinute, time.Minute, zl)
			guards = append(guards, rl.Handler(nil))
		} else {
			rl := middleware.NewIPRateLimiter(ctx, cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, zl)
			guards = append(guards, rl.Handler())
		}
	}

	if cfg.InboundJWT.Enabled() {
		jwtMw, err := middleware.NewJWTMiddleware(cfg.InboundJWT.PublicKeyPath, cfg.InboundJWT.Secret, zl)
		if err != nil {
			closer()
			return nil, nil, fmt.Errorf("jwt middleware: %w", err)
		}
		guards = append(guards, jwtMw.Handler())
	}
	return guards, closer, nil
}
