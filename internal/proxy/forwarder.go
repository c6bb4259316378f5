package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fathima-sithara/discovery-gateway/internal/gwerrors"
	"github.com/fathima-sithara/discovery-gateway/internal/metrics"
	"github.com/fathima-sithara/discovery-gateway/internal/routetable"
	"go.uber.org/zap"
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultMaxResponseBytes = 32 << 20
)

// Lookuper is satisfied by both routetable.Table and routetable.PrefixTable.
type Lookuper interface {
	Lookup(method, path string) (routetable.Entry, bool)
}

// Request is an inbound call, detached from the HTTP framework that
// received it.
type Request struct {
	Method     string
	Path       string
	RawQuery   string
	Header     http.Header
	Body       []byte
	RemoteAddr string
	Host       string
	RequestID  string
}

// Response is a fully read backend response. Header carries no hop-by-hop
// fields and no Content-Length.
type Response struct {
	Status  int
	Header  http.Header
	Body    []byte
	Backend string
}

type Options struct {
	Timeout          time.Duration
	MaxResponseBytes int64
	// Client overrides the outbound client. Its redirect policy is replaced.
	Client *http.Client
}

// Forwarder relays requests to the backend that owns the matching route.
type Forwarder struct {
	routes   Lookuper
	auth     AuthProvider
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewForwarder(routes Lookuper, auth AuthProvider, opts Options, logger *zap.Logger, m *metrics.Metrics) *Forwarder {
	if auth == nil {
		auth = StaticCredential("")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = DefaultMaxResponseBytes
	}

	var client http.Client
	if opts.Client != nil {
		client = *opts.Client
	} else {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.DisableCompression = true
		client.Transport = tr
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Forwarder{
		routes:   routes,
		auth:     auth,
		client:   &client,
		timeout:  opts.Timeout,
		maxBytes: opts.MaxResponseBytes,
		log:      logger,
		metrics:  m,
	}
}

// Forward sends in to the owning backend and returns its response. A miss
// returns gwerrors.ErrRouteNotFound without any outbound call.
func (f *Forwarder) Forward(ctx context.Context, in *Request) (*Response, error) {
	started := time.Now()
	entry, ok := f.routes.Lookup(in.Method, in.Path)
	if !ok {
		f.metrics.ObserveForward("", http.StatusNotFound, time.Since(started))
		return nil, fmt.Errorf("%s %s: %w", in.Method, in.Path, gwerrors.ErrRouteNotFound)
	}

	resp, err := f.do(ctx, entry, in)
	status := gwerrors.HTTPStatus(err)
	if err == nil {
		status = resp.Status
	}
	f.metrics.ObserveForward(entry.Backend, status, time.Since(started))
	if err != nil {
		f.log.Warn("forward failed",
			zap.String("backend", entry.Backend),
			zap.String("route", entry.Key.String()),
			zap.String("request_id", in.RequestID),
			zap.Error(err))
		return nil, err
	}
	f.log.Debug("forwarded",
		zap.String("backend", entry.Backend),
		zap.String("route", entry.Key.String()),
		zap.Int("status", resp.Status),
		zap.Duration("took", time.Since(started)))
	return resp, nil
}

func (f *Forwarder) do(ctx context.Context, entry routetable.Entry, in *Request) (*Response, error) {
	cred, err := f.auth.Credential(ctx)
	if err != nil {
		if !errors.Is(err, gwerrors.ErrCredential) {
			err = fmt.Errorf("%w: %v", gwerrors.ErrCredential, err)
		}
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	target := entry.TargetURL()
	if in.RawQuery != "" {
		target += "?" + in.RawQuery
	}
	req, err := http.NewRequestWithContext(ctx, entry.Key.Method, target, bytes.NewReader(in.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", gwerrors.ErrBackendUnavailable, err)
	}
	req.Header = f.outboundHeader(in, cred)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(ctx, entry.Backend, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, classify(ctx, entry.Backend, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: %s response exceeds %d bytes", gwerrors.ErrBackendUnavailable, entry.Backend, f.maxBytes)
	}

	header := cloneEndToEnd(resp.Header)
	header.Del("Content-Length")
	return &Response{
		Status:  resp.StatusCode,
		Header:  header,
		Body:    body,
		Backend: entry.Backend,
	}, nil
}

func (f *Forwarder) outboundHeader(in *Request, cred string) http.Header {
	h := cloneEndToEnd(in.Header)
	h.Del("Host")
	h.Del("Content-Length")
	if cred != "" {
		h.Set("Authorization", "Bearer "+cred)
	}
	if ip := clientIP(in.RemoteAddr); ip != "" {
		if prior := h.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		h.Set("X-Forwarded-For", ip)
	}
	if in.Host != "" {
		h.Set("X-Forwarded-Host", in.Host)
	}
	if in.RequestID != "" {
		h.Set("X-Request-Id", in.RequestID)
	}
	return h
}

func classify(ctx context.Context, backend string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", gwerrors.ErrBackendTimeout, backend, err)
	}
	return fmt.Errorf("%w: %s: %v", gwerrors.ErrBackendUnavailable, backend, err)
}
