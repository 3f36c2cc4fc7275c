// Package health probes registered endpoints in the background and
// publishes a per-path status string consumed by discovery endpoints.
package health

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	Concurrency   int
}

// Target is one endpoint to probe.
type Target struct {
	Path string
	URL  string
	// Ping probes URL+"/ping" with GET only (agents); otherwise HEAD
	// falls back to GET (servers).
	Ping bool
}

// TargetLister returns the endpoints to probe plus the paths that are
// registered but disabled.
type TargetLister interface {
	HealthTargets() (enabled []Target, disabledPaths []string)
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(success bool)

// Checker runs periodic endpoint probes and keeps the latest raw status per
// path: "checking" until first probed, "healthy", "unhealthy: <detail>", or
// "disabled".
type Checker struct {
	lister     TargetLister
	httpClient *http.Client
	cfg        Config
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger

	mu     sync.RWMutex
	status map[string]string
}

// New creates a Checker.
func New(lister TargetLister, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 10
	}
	return &Checker{
		lister:     lister,
		httpClient: &http.Client{Timeout: cfg.ProbeTimeout},
		cfg:        cfg,
		logger:     logger,
		status:     make(map[string]string),
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (c *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	c.onMetrics = fn
}

// Start runs the probe loop until done is closed.
func (c *Checker) Start(done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CheckInterval-time.Second)
			c.CheckAll(ctx)
			cancel()
		case <-done:
			return
		}
	}
}

// Status returns the raw status string for a path; missing paths yield "".
func (c *Checker) Status(path string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status[path]
}

// Snapshot returns a copy of the full status map.
func (c *Checker) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.status))
	for k, v := range c.status {
		out[k] = v
	}
	return out
}

// CheckAll probes every enabled endpoint with bounded concurrency and marks
// disabled paths as such.
func (c *Checker) CheckAll(ctx context.Context) {
	enabled, disabled := c.lister.HealthTargets()

	c.mu.Lock()
	for _, p := range disabled {
		c.status[p] = "disabled"
	}
	for _, t := range enabled {
		if _, ok := c.status[t.Path]; !ok || c.status[t.Path] == "disabled" {
			c.status[t.Path] = "checking"
		}
	}
	c.mu.Unlock()

	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, t := range enabled {
		wg.Add(1)
		go func(target Target) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			status := c.probe(ctx, target)
			success := status == "healthy"
			if c.onMetrics != nil {
				c.onMetrics(success)
			}

			c.mu.Lock()
			prev := c.status[target.Path]
			c.status[target.Path] = status
			c.mu.Unlock()

			if prev == "healthy" && !success {
				c.logger.Warn("endpoint became unhealthy",
					zap.String("path", target.Path), zap.String("status", status))
			} else if prev != "" && prev != "healthy" && prev != "checking" && success {
				c.logger.Info("endpoint recovered", zap.String("path", target.Path))
			}
		}(t)
	}

	wg.Wait()
}

// probe checks one endpoint and returns its raw status string.
func (c *Checker) probe(ctx context.Context, t Target) string {
	if t.Ping {
		url := strings.TrimRight(t.URL, "/") + "/ping"
		code, err := c.request(ctx, http.MethodGet, url)
		if err != nil {
			return "unhealthy: " + err.Error()
		}
		if code == http.StatusOK {
			return "healthy"
		}
		return "unhealthy: HTTP " + http.StatusText(code)
	}

	if code, err := c.request(ctx, http.MethodHead, t.URL); err == nil && code >= 200 && code < 300 {
		return "healthy"
	}
	code, err := c.request(ctx, http.MethodGet, t.URL)
	if err != nil {
		return "unhealthy: " + err.Error()
	}
	if code >= 200 && code < 300 {
		return "healthy"
	}
	return "unhealthy: HTTP " + http.StatusText(code)
}

func (c *Checker) request(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// Normalize maps a raw prober status onto the closed set exposed to
// clients: healthy, unhealthy, disabled, unknown.
func Normalize(raw string) string {
	switch {
	case raw == "healthy" || raw == "healthy-auth-expired":
		return "healthy"
	case strings.HasPrefix(raw, "unhealthy") || strings.HasPrefix(raw, "error"):
		return "unhealthy"
	case raw == "disabled":
		return "disabled"
	default:
		return "unknown"
	}
}
