package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fathima-sithara/discovery-gateway/internal/config"
	"github.com/fathima-sithara/discovery-gateway/internal/gwerrors"
	"github.com/fathima-sithara/discovery-gateway/internal/metrics"
	"github.com/fathima-sithara/discovery-gateway/internal/middleware"
	"github.com/fathima-sithara/discovery-gateway/internal/proxy"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

// Forwarder is implemented by proxy.Forwarder.
type Forwarder interface {
	Forward(ctx context.Context, in *proxy.Request) (*proxy.Response, error)
}

type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Docs         config.DocsCfg
	Metrics      *metrics.Metrics
	// Guards run in order in front of forwarded requests only; /health,
	// / and /metrics stay open.
	Guards []fiber.Handler
}

// Server is the gateway's HTTP surface.
type Server struct {
	app  *fiber.App
	fwd  Forwarder
	docs config.DocsCfg
	log  *zap.Logger
}

func New(fwd Forwarder, opts Options, logger *zap.Logger) *Server {
	s := &Server{fwd: fwd, docs: opts.Docs, log: logger}
	s.app = fiber.New(fiber.Config{
		AppName:               "discovery-gateway",
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(recover.New())
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.RequestLogger(logger))

	s.app.Get("/health", s.health)
	s.app.Get("/", s.serviceInfo)
	if opts.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
	}

	handlers := append(append([]fiber.Handler{}, opts.Guards...), s.forward)
	s.app.All("/*", handlers...)
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen blocks serving addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.log.Info("gateway listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "healthy"})
}

func (s *Server) serviceInfo(c *fiber.Ctx) error {
	endpoints := s.docs.Services
	if endpoints == nil {
		endpoints = map[string][]config.DocEndpoint{}
	}
	return c.JSON(fiber.Map{
		"service":     s.docs.Service,
		"description": s.docs.Description,
		"endpoints":   endpoints,
	})
}

func (s *Server) forward(c *fiber.Ctx) error {
	header := make(http.Header)
	c.Request().Header.VisitAll(func(k, v []byte) {
		header.Add(string(k), string(v))
	})

	in := &proxy.Request{
		Method:     c.Method(),
		Path:       c.Path(),
		RawQuery:   string(c.Request().URI().QueryString()),
		Header:     header,
		Body:       append([]byte(nil), c.Body()...),
		RemoteAddr: c.Context().RemoteAddr().String(),
		Host:       string(c.Request().Host()),
		RequestID:  middleware.RequestIDFrom(c),
	}

	resp, err := s.fwd.Forward(c.UserContext(), in)
	if err != nil {
		return err
	}

	for k, vv := range resp.Header {
		for _, v := range vv {
			c.Response().Header.Add(k, v)
		}
	}
	return c.Status(resp.Status).Send(resp.Body)
}

// handleError turns every failure into a JSON body. Logging is left to
// middleware.RequestLogger.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := middleware.StatusOf(c, err)
	msg := gwerrors.Message(err)

	var fe *fiber.Error
	if errors.As(err, &fe) {
		msg = fe.Message
		if fe.Code == fiber.StatusNotFound {
			msg = gwerrors.Message(gwerrors.ErrRouteNotFound)
		}
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
