package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/fathima-sithara/discovery-gateway/internal/gwerrors"
	consulapi "github.com/hashicorp/consul/api"
)

// Backend is a configured backend service. It does not change while the
// process runs.
type Backend struct {
	Name    string
	BaseURL string
}

// Resolver finds the base URL a backend is currently reachable at.
type Resolver interface {
	Resolve(ctx context.Context, b Backend) (string, error)
}

// StaticResolver uses the configured base URL as is.
type StaticResolver struct{}

func (StaticResolver) Resolve(_ context.Context, b Backend) (string, error) {
	if b.BaseURL == "" {
		return "", fmt.Errorf("backend %s has no base url: %w", b.Name, gwerrors.ErrBackendUnavailable)
	}
	return b.BaseURL, nil
}

// ConsulResolver looks up backends without a configured base URL in the
// Consul health catalog and takes the first passing instance.
type ConsulResolver struct {
	client *consulapi.Client
}

func NewConsulResolver(addr string) (*ConsulResolver, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &ConsulResolver{client: client}, nil
}

func (c *ConsulResolver) Resolve(ctx context.Context, b Backend) (string, error) {
	if b.BaseURL != "" {
		return b.BaseURL, nil
	}

	opts := (&consulapi.QueryOptions{}).WithContext(ctx)
	entries, _, err := c.client.Health().Service(b.Name, "", true, opts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("consul lookup %s: %w", b.Name, gwerrors.ErrBackendTimeout)
		}
		return "", fmt.Errorf("consul lookup %s: %v: %w", b.Name, err, gwerrors.ErrBackendUnavailable)
	}
	for _, e := range entries {
		addr := e.Service.Address
		if addr == "" {
			addr = e.Node.Address
		}
		if addr == "" {
			continue
		}
		return fmt.Sprintf("http://%s:%d", addr, e.Service.Port), nil
	}
	return "", fmt.Errorf("no healthy instances for %s: %w", b.Name, gwerrors.ErrBackendUnavailable)
}
