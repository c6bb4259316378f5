package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fathima-sithara/discovery-gateway/internal/metrics"
	"github.com/fathima-sithara/discovery-gateway/internal/routetable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type AgentConfig struct {
	// Interval is the pause between two polls of the same backend.
	Interval time.Duration
	// Timeout bounds one poll, address resolution included.
	Timeout time.Duration
}

// BackendStatus is the outcome of the most recent polls of one backend.
type BackendStatus struct {
	Backend             string
	LastAttempt         time.Time
	LastSuccess         time.Time
	LastError           string
	ConsecutiveFailures int
	Routes              int
}

// Agent keeps a routing table in sync with the manifests its backends
// publish. Each backend is polled on its own schedule; a failing backend
// keeps the routes of its last successful poll.
type Agent struct {
	backends []Backend
	table    *routetable.Table
	resolver Resolver
	fetcher  *Fetcher
	cfg      AgentConfig
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu     sync.Mutex
	status map[string]*BackendStatus
}

func NewAgent(backends []Backend, table *routetable.Table, resolver Resolver, fetcher *Fetcher, cfg AgentConfig, logger *zap.Logger, m *metrics.Metrics) *Agent {
	if resolver == nil {
		resolver = StaticResolver{}
	}
	status := make(map[string]*BackendStatus, len(backends))
	for _, b := range backends {
		status[b.Name] = &BackendStatus{Backend: b.Name}
	}
	return &Agent{
		backends: backends,
		table:    table,
		resolver: resolver,
		fetcher:  fetcher,
		cfg:      cfg,
		log:      logger,
		metrics:  m,
		now:      time.Now,
		status:   status,
	}
}

// Run polls every backend immediately and then once per interval until ctx
// is cancelled.
func (a *Agent) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, b := range a.backends {
		wg.Add(1)
		go func(b Backend) {
			defer wg.Done()
			a.loop(ctx, b)
		}(b)
	}
	a.log.Info("route discovery started",
		zap.Int("backends", len(a.backends)),
		zap.Duration("interval", a.cfg.Interval))
	wg.Wait()
	a.log.Info("route discovery stopped")
}

func (a *Agent) loop(ctx context.Context, b Backend) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			a.safePoll(ctx, b)
			timer.Reset(a.cfg.Interval)
		}
	}
}

func (a *Agent) safePoll(ctx context.Context, b Backend) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("poll panicked", zap.String("backend", b.Name), zap.Any("panic", r))
		}
	}()
	_ = a.PollBackend(ctx, b)
}

// RefreshAll polls every backend once, concurrently, and returns the joined
// poll failures.
func (a *Agent) RefreshAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, b := range a.backends {
		g.Go(func() error {
			if err := a.PollBackend(ctx, b); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// PollBackend fetches b's manifest and replaces its routes. On failure the
// table is left untouched.
func (a *Agent) PollBackend(ctx context.Context, b Backend) error {
	pctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	started := a.now()
	err := a.poll(pctx, b, started)
	a.record(b.Name, started, err)
	if err != nil {
		a.metrics.ObservePoll(b.Name, false)
		a.log.Warn("route poll failed, keeping previous routes",
			zap.String("backend", b.Name),
			zap.Int("routes", a.table.CountFor(b.Name)),
			zap.Error(err))
		return fmt.Errorf("poll %s: %w", b.Name, err)
	}
	a.metrics.ObservePoll(b.Name, true)
	return nil
}

func (a *Agent) poll(ctx context.Context, b Backend, now time.Time) error {
	base, err := a.resolver.Resolve(ctx, b)
	if err != nil {
		return err
	}
	manifest, err := a.fetcher.Fetch(ctx, base)
	if err != nil {
		return err
	}

	entries, skipped := BuildEntries(b.Name, base, manifest, now)
	if skipped > 0 {
		a.log.Warn("skipped malformed manifest items",
			zap.String("backend", b.Name), zap.Int("skipped", skipped))
	}
	conflicts := a.table.ReplaceRoutesForBackend(b.Name, entries)
	for _, k := range conflicts {
		a.log.Warn("route already owned by another backend",
			zap.String("backend", b.Name), zap.String("route", k.String()))
	}

	n := a.table.CountFor(b.Name)
	a.metrics.SetRoutes(b.Name, n)
	a.log.Debug("routes refreshed",
		zap.String("backend", b.Name),
		zap.String("base_url", base),
		zap.Int("routes", n))
	return nil
}

func (a *Agent) record(name string, at time.Time, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.status[name]
	if !ok {
		st = &BackendStatus{Backend: name}
		a.status[name] = st
	}
	st.LastAttempt = at
	st.Routes = a.table.CountFor(name)
	if err != nil {
		st.LastError = err.Error()
		st.ConsecutiveFailures++
		return
	}
	st.LastSuccess = at
	st.LastError = ""
	st.ConsecutiveFailures = 0
}

// Status reports every backend ordered by name.
func (a *Agent) Status() []BackendStatus {
	a.mu.Lock()
	out := make([]BackendStatus, 0, len(a.status))
	for _, st := range a.status {
		out = append(out, *st)
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}
