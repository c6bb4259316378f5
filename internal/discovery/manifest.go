package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fathima-sithara/discovery-gateway/internal/gwerrors"
	"github.com/fathima-sithara/discovery-gateway/internal/routetable"
)

const (
	manifestPath     = "/routes"
	maxManifestBytes = 4 << 20
)

var knownMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
}

// ManifestRoute is one item of a backend's GET /routes response.
type ManifestRoute struct {
	Path    string   `json:"path"`
	Methods []string `json:"methods"`
}

// Fetcher downloads route manifests.
type Fetcher struct {
	client *http.Client
	// retryFor bounds how long connection failures are retried within one
	// fetch. Status and decode errors are never retried.
	retryFor time.Duration
}

func NewFetcher(client *http.Client, retryFor time.Duration) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{client: client, retryFor: retryFor}
}

// Fetch returns the manifest served at baseURL/routes. The caller's context
// carries the poll timeout.
func (f *Fetcher) Fetch(ctx context.Context, baseURL string) ([]ManifestRoute, error) {
	url := strings.TrimRight(baseURL, "/") + manifestPath

	var routes []ManifestRoute
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request %s: %w", url, err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxManifestBytes))
			return backoff.Permanent(fmt.Errorf("%w: GET %s returned %d", gwerrors.ErrBadStatus, url, resp.StatusCode))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		routes, err = ParseManifest(body)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = f.retryFor
	if f.retryFor <= 0 {
		err := operation()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return routes, classify(ctx, err)
	}
	return routes, classify(ctx, backoff.Retry(operation, backoff.WithContext(b, ctx)))
}

func classify(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gwerrors.ErrBadStatus), errors.Is(err, gwerrors.ErrMalformedManifest):
		return err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", gwerrors.ErrBackendTimeout, err)
	default:
		return fmt.Errorf("%w: %v", gwerrors.ErrBackendUnavailable, err)
	}
}

// ParseManifest decodes a JSON array of routes. Anything else, including
// null, is malformed.
func ParseManifest(body []byte) ([]ManifestRoute, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: expected a JSON array", gwerrors.ErrMalformedManifest)
	}
	var routes []ManifestRoute
	if err := json.Unmarshal(trimmed, &routes); err != nil {
		return nil, fmt.Errorf("%w: %v", gwerrors.ErrMalformedManifest, err)
	}
	return routes, nil
}

// BuildEntries expands a manifest into one entry per (path, method). Items
// with an empty path or an unknown method are dropped and counted in skipped.
func BuildEntries(backend, baseURL string, routes []ManifestRoute, now time.Time) (entries []routetable.Entry, skipped int) {
	entries = make([]routetable.Entry, 0, len(routes))
	for _, r := range routes {
		if strings.TrimSpace(r.Path) == "" || len(r.Methods) == 0 {
			skipped++
			continue
		}
		path := routetable.NormalizePath(r.Path)
		for _, m := range r.Methods {
			key := routetable.NewKey(m, path)
			if _, ok := knownMethods[key.Method]; !ok {
				skipped++
				continue
			}
			entries = append(entries, routetable.Entry{
				Key:           key,
				TargetBaseURL: baseURL,
				TargetPath:    path,
				Backend:       backend,
				RefreshedAt:   now,
			})
		}
	}
	return entries, skipped
}
