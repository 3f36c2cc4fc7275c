package health_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/health"
)

type stubLister struct {
	enabled  []health.Target
	disabled []string
}

func (s *stubLister) HealthTargets() ([]health.Target, []string) {
	return s.enabled, s.disabled
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"healthy", "healthy"},
		{"healthy-auth-expired", "healthy"},
		{"unhealthy: HTTP Bad Gateway", "unhealthy"},
		{"error: connection refused", "unhealthy"},
		{"disabled", "disabled"},
		{"checking", "unknown"},
		{"", "unknown"},
	}
	for _, tc := range cases {
		if got := health.Normalize(tc.raw); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestCheckAll(t *testing.T) {
	var headCalls, getCalls int
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			headCalls++
		} else {
			getCalls++
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	lister := &stubLister{
		enabled: []health.Target{
			{Path: "/up", URL: ok.URL},
			{Path: "/down", URL: broken.URL},
		},
		disabled: []string{"/off"},
	}
	checker := health.New(lister, health.Config{Concurrency: 2}, zap.NewNop())

	var successes, failures int
	checker.SetMetricsRecord(func(success bool) {
		if success {
			successes++
		} else {
			failures++
		}
	})

	checker.CheckAll(context.Background())

	if got := checker.Status("/up"); got != "healthy" {
		t.Errorf("/up status: %q", got)
	}
	if got := checker.Status("/down"); got != "unhealthy: HTTP Bad Gateway" {
		t.Errorf("/down status: %q", got)
	}
	if got := checker.Status("/off"); got != "disabled" {
		t.Errorf("/off status: %q", got)
	}
	if checker.Status("/never") != "" {
		t.Error("unknown path reported a status")
	}
	if successes != 1 || failures != 1 {
		t.Errorf("metrics: %d successes, %d failures", successes, failures)
	}
	// Servers are probed with HEAD first; a 200 means no GET fallback.
	if headCalls != 1 || getCalls != 0 {
		t.Errorf("probe methods: %d HEAD, %d GET", headCalls, getCalls)
	}

	snapshot := checker.Snapshot()
	if len(snapshot) != 3 {
		t.Errorf("snapshot size: %d", len(snapshot))
	}
}

func TestCheckAll_pingTargets(t *testing.T) {
	var pinged bool
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ping" || r.Method != http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		pinged = true
		w.WriteHeader(http.StatusOK)
	}))
	defer agent.Close()

	lister := &stubLister{enabled: []health.Target{{Path: "/summarizer", URL: agent.URL, Ping: true}}}
	checker := health.New(lister, health.Config{}, zap.NewNop())
	checker.CheckAll(context.Background())

	if !pinged {
		t.Fatal("ping endpoint never hit")
	}
	if got := checker.Status("/summarizer"); got != "healthy" {
		t.Errorf("status: %q", got)
	}
}

func TestCheckAll_connectionRefused(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	dead.Close()

	lister := &stubLister{enabled: []health.Target{{Path: "/gone", URL: dead.URL}}}
	checker := health.New(lister, health.Config{}, zap.NewNop())
	checker.CheckAll(context.Background())

	if got := health.Normalize(checker.Status("/gone")); got != "unhealthy" {
		t.Errorf("status: %q", got)
	}
}

func TestCheckAll_reenableClearsDisabled(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()

	lister := &stubLister{disabled: []string{"/flappy"}}
	checker := health.New(lister, health.Config{}, zap.NewNop())
	checker.CheckAll(context.Background())
	if got := checker.Status("/flappy"); got != "disabled" {
		t.Fatalf("status: %q", got)
	}

	lister.disabled = nil
	lister.enabled = []health.Target{{Path: "/flappy", URL: ok.URL}}
	checker.CheckAll(context.Background())
	if got := checker.Status("/flappy"); got != "healthy" {
		t.Errorf("status after re-enable: %q", got)
	}
}

func TestStart_returnsWhenDoneClosed(t *testing.T) {
	checker := health.New(&stubLister{}, health.Config{CheckInterval: time.Hour}, zap.NewNop())

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		checker.Start(done)
		close(stopped)
	}()

	close(done)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after done was closed")
	}
}
