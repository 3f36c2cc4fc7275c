package scanner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
	"github.com/gatewaylabs/toolgate/internal/registry/storage"
	"github.com/gatewaylabs/toolgate/internal/scanner"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ── Fakes ────────────────────────────────────────────────────────────────

type fakeServerScanner struct {
	report *scanner.Report
	err    error
	calls  int
}

func (f *fakeServerScanner) ScanServer(_ context.Context, _, _ string, _ map[string]string, _ string) (*scanner.Report, error) {
	f.calls++
	return f.report, f.err
}

type fakeAgentScanner struct {
	report *scanner.Report
	err    error
}

func (f *fakeAgentScanner) ScanAgentCard(_ context.Context, _ []byte, _, _ string) (*scanner.Report, error) {
	return f.report, f.err
}

type nopReindexer struct{}

func (nopReindexer) ReindexServer(context.Context, *model.Server) error { return nil }
func (nopReindexer) ReindexAgent(context.Context, *model.Agent) error   { return nil }

func criticalReport() *scanner.Report {
	return &scanner.Report{
		AnalysisResults: map[string]*model.AnalyzerResult{
			"yara": {Findings: []model.Finding{{
				Severity:      model.SeverityCritical,
				ThreatNames:   []string{"command-injection"},
				ThreatSummary: "tool description embeds shell directives",
				ToolName:      "run-shell",
			}}},
		},
	}
}

func cleanReport() *scanner.Report {
	return &scanner.Report{AnalysisResults: map[string]*model.AnalyzerResult{}}
}

// ── Setup ────────────────────────────────────────────────────────────────

type orchestratorFixture struct {
	orchestrator *scanner.Orchestrator
	servers      *storage.ServerStore
	agents       *storage.AgentStore
}

func newFixture(t *testing.T, serverScan scanner.ServerScanner, agentScan scanner.AgentScanner, cfg scanner.Config) *orchestratorFixture {
	t.Helper()
	logger := zap.NewNop()

	servers := storage.NewServerStore(t.TempDir(), logger)
	if err := servers.Load(); err != nil {
		t.Fatalf("load server store: %v", err)
	}
	agents := storage.NewAgentStore(t.TempDir(), logger)
	if err := agents.Load(); err != nil {
		t.Fatalf("load agent store: %v", err)
	}

	o := scanner.New(scanner.Options{
		ServerConfig:  cfg,
		AgentConfig:   cfg,
		ServerScanner: serverScan,
		AgentScanner:  agentScan,
		ServerArchive: scanner.NewArchive(t.TempDir(), logger),
		AgentArchive:  scanner.NewArchive(t.TempDir(), logger),
		Servers:       servers,
		Agents:        agents,
		Reindexer:     nopReindexer{},
		Workers:       1,
		Logger:        logger,
	})
	return &orchestratorFixture{orchestrator: o, servers: servers, agents: agents}
}

func registerEnabledServer(t *testing.T, store *storage.ServerStore) {
	t.Helper()
	srv := &model.Server{
		Path:     "/context7",
		Name:     "Context7",
		ProxyURL: "http://localhost:9100",
		Tags:     []string{"docs"},
	}
	if _, err := store.Register(srv, "alice", false); err != nil {
		t.Fatalf("register server: %v", err)
	}
	if _, err := store.Toggle("/context7", true); err != nil {
		t.Fatalf("enable server: %v", err)
	}
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestScanServerNow_unsafeVerdictDisablesAndTags(t *testing.T) {
	cfg := scanner.Config{Enabled: true, BlockUnsafe: true, AddSecurityPendingTag: true}
	fx := newFixture(t, &fakeServerScanner{report: criticalReport()}, nil, cfg)
	registerEnabledServer(t, fx.servers)

	result, err := fx.orchestrator.ScanServerNow(context.Background(), "/context7")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if result.IsSafe {
		t.Error("critical finding must yield an unsafe verdict")
	}
	if result.CriticalIssues != 1 {
		t.Errorf("critical issues: got %d", result.CriticalIssues)
	}

	if fx.servers.IsEnabled("/context7") {
		t.Error("unsafe server still enabled with BlockUnsafe")
	}
	srv, err := fx.servers.Get("/context7")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !srv.HasTag(scanner.SecurityPendingTag) {
		t.Errorf("security-pending tag missing: %v", srv.Tags)
	}

	latest, err := fx.orchestrator.LatestServerScan("/context7")
	if err != nil {
		t.Fatalf("latest scan: %v", err)
	}
	if latest.IsSafe || latest.Path != "/context7" {
		t.Errorf("archived result: %+v", latest)
	}
}

func TestScanServerNow_safeVerdictLeavesStateAlone(t *testing.T) {
	cfg := scanner.Config{Enabled: true, BlockUnsafe: true, AddSecurityPendingTag: true}
	fx := newFixture(t, &fakeServerScanner{report: cleanReport()}, nil, cfg)
	registerEnabledServer(t, fx.servers)

	result, err := fx.orchestrator.ScanServerNow(context.Background(), "/context7")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !result.IsSafe {
		t.Error("clean report must be safe")
	}
	if !fx.servers.IsEnabled("/context7") {
		t.Error("safe server was disabled")
	}
	srv, _ := fx.servers.Get("/context7")
	if srv.HasTag(scanner.SecurityPendingTag) {
		t.Error("safe server was tagged")
	}
}

func TestScanServerNow_scannerFailureFailsClosed(t *testing.T) {
	cfg := scanner.Config{Enabled: true, BlockUnsafe: true}
	fx := newFixture(t, &fakeServerScanner{err: errors.New("scanner exited with code 2")}, nil, cfg)
	registerEnabledServer(t, fx.servers)

	result, err := fx.orchestrator.ScanServerNow(context.Background(), "/context7")
	if err != nil {
		t.Fatalf("scan should not surface scanner failure: %v", err)
	}
	if !result.ScanFailed {
		t.Error("scan_failed not set")
	}
	if result.IsSafe {
		t.Error("failed scan counted as safe")
	}
	if result.ErrorMessage == "" {
		t.Error("error message missing")
	}
	if fx.servers.IsEnabled("/context7") {
		t.Error("failed scan did not disable server with BlockUnsafe")
	}
}

func TestScanServerNow_disabledConfig(t *testing.T) {
	fx := newFixture(t, &fakeServerScanner{report: cleanReport()}, nil, scanner.Config{Enabled: false})
	registerEnabledServer(t, fx.servers)

	if _, err := fx.orchestrator.ScanServerNow(context.Background(), "/context7"); !errors.Is(err, storage.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestScanServerNow_unknownPath(t *testing.T) {
	fx := newFixture(t, &fakeServerScanner{report: cleanReport()}, nil, scanner.Config{Enabled: true})

	if _, err := fx.orchestrator.ScanServerNow(context.Background(), "/missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScanAgentNow_unsafeVerdict(t *testing.T) {
	cfg := scanner.Config{Enabled: true, BlockUnsafe: true, AddSecurityPendingTag: true}
	fx := newFixture(t, nil, &fakeAgentScanner{report: criticalReport()}, cfg)

	agent := &model.Agent{
		Path:       "/summarizer",
		Visibility: model.VisibilityPublic,
		TrustLevel: model.TrustUnverified,
		Tags:       []string{},
	}
	agent.Name = "Summarizer"
	agent.URL = "http://localhost:9200"
	if _, err := fx.agents.Register(agent, "alice"); err != nil {
		t.Fatalf("register agent: %v", err)
	}
	if _, err := fx.agents.Toggle("/summarizer", true); err != nil {
		t.Fatalf("enable agent: %v", err)
	}

	result, err := fx.orchestrator.ScanAgentNow(context.Background(), "/summarizer")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if result.IsSafe {
		t.Error("critical finding must yield an unsafe verdict")
	}
	if fx.agents.IsEnabled("/summarizer") {
		t.Error("unsafe agent still enabled")
	}
	got, _ := fx.agents.Get("/summarizer")
	if !got.HasTag(scanner.SecurityPendingTag) {
		t.Errorf("security-pending tag missing: %v", got.Tags)
	}

	latest, err := fx.orchestrator.LatestAgentScan("/summarizer")
	if err != nil {
		t.Fatalf("latest scan: %v", err)
	}
	if latest.IsSafe {
		t.Error("archived result marked safe")
	}
}

func TestScanNow_recordsMetrics(t *testing.T) {
	cfg := scanner.Config{Enabled: true}
	fx := newFixture(t, &fakeServerScanner{report: criticalReport()}, &fakeAgentScanner{report: cleanReport()}, cfg)
	registerEnabledServer(t, fx.servers)

	agent := &model.Agent{
		Path:       "/summarizer",
		Visibility: model.VisibilityPublic,
		TrustLevel: model.TrustUnverified,
		Tags:       []string{},
	}
	agent.Name = "Summarizer"
	agent.URL = "http://localhost:9200"
	if _, err := fx.agents.Register(agent, "alice"); err != nil {
		t.Fatalf("register agent: %v", err)
	}

	type record struct {
		kind string
		safe bool
	}
	var records []record
	fx.orchestrator.SetMetricsRecord(func(kind string, safe bool, elapsed time.Duration) {
		if elapsed < 0 {
			t.Errorf("negative scan duration: %v", elapsed)
		}
		records = append(records, record{kind, safe})
	})

	if _, err := fx.orchestrator.ScanServerNow(context.Background(), "/context7"); err != nil {
		t.Fatalf("server scan: %v", err)
	}
	if _, err := fx.orchestrator.ScanAgentNow(context.Background(), "/summarizer"); err != nil {
		t.Fatalf("agent scan: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("records: got %d, want 2", len(records))
	}
	if records[0].kind != "server" || records[0].safe {
		t.Errorf("server scan record: %+v", records[0])
	}
	if records[1].kind != "agent" || !records[1].safe {
		t.Errorf("agent scan record: %+v", records[1])
	}
}

func TestOrchestrator_backgroundQueue(t *testing.T) {
	cfg := scanner.Config{Enabled: true, ScanOnRegistration: true}
	fake := &fakeServerScanner{report: cleanReport()}
	fx := newFixture(t, fake, nil, cfg)
	registerEnabledServer(t, fx.servers)

	if !fx.orchestrator.ServerScanOnRegistration() {
		t.Fatal("scan-on-registration not reported")
	}

	fx.orchestrator.Start(context.Background())
	fx.orchestrator.EnqueueServerScan("/context7")

	deadline := time.After(5 * time.Second)
	for {
		if _, err := fx.orchestrator.LatestServerScan("/context7"); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("background scan never archived a result")
		case <-time.After(10 * time.Millisecond):
		}
	}
	fx.orchestrator.Close()

	if fake.calls == 0 {
		t.Error("scanner never invoked")
	}
}
