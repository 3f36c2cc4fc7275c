package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
	"github.com/gatewaylabs/toolgate/internal/registry/storage"
)

// SecurityPendingTag is appended to an entity's tags on an unsafe verdict
// when the kind's configuration asks for it.
const SecurityPendingTag = "security-pending"

// Defaults for the per-kind scan configuration.
const (
	DefaultServerAnalyzers  = "yara"
	DefaultAgentAnalyzers   = "yara,spec"
	DefaultScanTimeout      = 120
	DefaultScanConcurrency  = 4
	defaultScanQueueBacklog = 64
)

// Config is the per-kind scan configuration.
type Config struct {
	Enabled               bool
	ScanOnRegistration    bool
	BlockUnsafe           bool
	Analyzers             string
	ScanTimeoutSeconds    int
	LLMAPIKey             string
	AddSecurityPendingTag bool
}

func (c Config) timeout() time.Duration {
	secs := c.ScanTimeoutSeconds
	if secs <= 0 {
		secs = DefaultScanTimeout
	}
	return time.Duration(secs) * time.Second
}

// ServerCatalog is the registry surface the orchestrator mutates for
// servers.
type ServerCatalog interface {
	Get(path string) (*model.Server, error)
	Toggle(path string, enabled bool) (bool, error)
	Mutate(path string, fn func(*model.Server) error) (*model.Server, error)
}

// AgentCatalog is the registry surface the orchestrator mutates for agents.
type AgentCatalog interface {
	Get(path string) (*model.Agent, error)
	Toggle(path string, enabled bool) (bool, error)
	Mutate(path string, fn func(*model.Agent) error) (*model.Agent, error)
}

// Reindexer refreshes the search index after verdict-driven state changes.
type Reindexer interface {
	ReindexServer(ctx context.Context, s *model.Server) error
	ReindexAgent(ctx context.Context, a *model.Agent) error
}

type scanJob struct {
	kind string // "server" or "agent"
	path string
}

// Orchestrator runs scans off the request path through a bounded worker
// pool, writes the two-tier archive, and applies verdicts to the registry
// and index. Scanner failures are fail-closed: they count as unsafe and are
// archived, never surfaced to the registering caller.
type Orchestrator struct {
	serverCfg Config
	agentCfg  Config

	serverScanner ServerScanner
	agentScanner  AgentScanner
	serverArchive *Archive
	agentArchive  *Archive
	servers       ServerCatalog
	agents        AgentCatalog
	reindex       Reindexer
	locks         *storage.PathLocks
	onMetrics     MetricsRecordFunc
	logger        *zap.Logger

	workers int
	queue   chan scanJob
	group   *errgroup.Group
	cancel  context.CancelFunc
}

// Options wires an Orchestrator.
type Options struct {
	ServerConfig  Config
	AgentConfig   Config
	ServerScanner ServerScanner
	AgentScanner  AgentScanner
	ServerArchive *Archive
	AgentArchive  *Archive
	Servers       ServerCatalog
	Agents        AgentCatalog
	Reindexer     Reindexer
	Locks         *storage.PathLocks
	// Workers bounds concurrent scanner subprocesses; 0 means the default.
	Workers int
	Logger  *zap.Logger
}

// New creates an orchestrator. Call Start before enqueueing scans.
func New(opts Options) *Orchestrator {
	if opts.ServerConfig.Analyzers == "" {
		opts.ServerConfig.Analyzers = DefaultServerAnalyzers
	}
	if opts.AgentConfig.Analyzers == "" {
		opts.AgentConfig.Analyzers = DefaultAgentAnalyzers
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultScanConcurrency
	}
	if opts.Locks == nil {
		opts.Locks = storage.NewPathLocks()
	}
	return &Orchestrator{
		serverCfg:     opts.ServerConfig,
		agentCfg:      opts.AgentConfig,
		serverScanner: opts.ServerScanner,
		agentScanner:  opts.AgentScanner,
		serverArchive: opts.ServerArchive,
		agentArchive:  opts.AgentArchive,
		servers:       opts.Servers,
		agents:        opts.Agents,
		reindex:       opts.Reindexer,
		locks:         opts.Locks,
		logger:        opts.Logger,
		workers:       workers,
		queue:         make(chan scanJob, defaultScanQueueBacklog),
	}
}

// MetricsRecordFunc is an optional callback invoked once per finished scan.
type MetricsRecordFunc func(kind string, safe bool, elapsed time.Duration)

// SetMetricsRecord configures the scan metrics callback.
func (o *Orchestrator) SetMetricsRecord(fn MetricsRecordFunc) {
	o.onMetrics = fn
}

func (o *Orchestrator) recordMetrics(kind string, safe bool, elapsed time.Duration) {
	if o.onMetrics != nil {
		o.onMetrics(kind, safe, elapsed)
	}
}

// Start launches the worker pool. Workers drain the FIFO queue until Close
// is called or the context is canceled.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < o.workers; i++ {
		o.group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job, ok := <-o.queue:
					if !ok {
						return nil
					}
					o.runJob(ctx, job)
				}
			}
		})
	}
	o.logger.Info("scan worker pool started", zap.Int("workers", o.workers))
}

// Close stops accepting work and waits for in-flight scans to finish.
func (o *Orchestrator) Close() {
	close(o.queue)
	if o.group != nil {
		_ = o.group.Wait()
	}
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) runJob(ctx context.Context, job scanJob) {
	switch job.kind {
	case "server":
		if _, err := o.ScanServerNow(ctx, job.path); err != nil {
			o.logger.Error("background server scan failed",
				zap.String("path", job.path), zap.Error(err))
		}
	case "agent":
		if _, err := o.ScanAgentNow(ctx, job.path); err != nil {
			o.logger.Error("background agent scan failed",
				zap.String("path", job.path), zap.Error(err))
		}
	}
}

func (o *Orchestrator) enqueue(job scanJob) {
	select {
	case o.queue <- job:
	default:
		o.logger.Warn("scan queue full, dropping request",
			zap.String("kind", job.kind), zap.String("path", job.path))
	}
}

// ServerScanOnRegistration reports whether freshly registered servers get a
// background scan.
func (o *Orchestrator) ServerScanOnRegistration() bool {
	return o.serverCfg.Enabled && o.serverCfg.ScanOnRegistration
}

// AgentScanOnRegistration reports whether freshly registered agents get a
// background scan.
func (o *Orchestrator) AgentScanOnRegistration() bool {
	return o.agentCfg.Enabled && o.agentCfg.ScanOnRegistration
}

// EnqueueServerScan queues a background scan for a server path.
func (o *Orchestrator) EnqueueServerScan(path string) {
	if !o.serverCfg.Enabled {
		return
	}
	o.enqueue(scanJob{kind: "server", path: path})
}

// EnqueueAgentScan queues a background scan for an agent path.
func (o *Orchestrator) EnqueueAgentScan(path string) {
	if !o.agentCfg.Enabled {
		return
	}
	o.enqueue(scanJob{kind: "agent", path: path})
}

// LatestServerScan returns the most recent archived result for a server.
func (o *Orchestrator) LatestServerScan(path string) (*model.ScanResult, error) {
	srv, err := o.servers.Get(path)
	if err != nil {
		return nil, err
	}
	return o.serverArchive.Latest(ServerScanName(EnsureMCPSuffix(srv.ProxyURL)))
}

// LatestAgentScan returns the most recent archived result for an agent.
func (o *Orchestrator) LatestAgentScan(path string) (*model.ScanResult, error) {
	if _, err := o.agents.Get(path); err != nil {
		return nil, err
	}
	return o.agentArchive.Latest(AgentScanName(path))
}

// ScanServerNow runs a synchronous scan of the server at path, archives the
// result, and applies the verdict.
func (o *Orchestrator) ScanServerNow(ctx context.Context, path string) (*model.ScanResult, error) {
	if !o.serverCfg.Enabled {
		return nil, fmt.Errorf("server scanning is disabled: %w", storage.ErrInvalid)
	}
	srv, err := o.servers.Get(path)
	if err != nil {
		return nil, err
	}

	target := EnsureMCPSuffix(srv.ProxyURL)
	o.logger.Info("starting server security scan",
		zap.String("path", srv.Path), zap.String("analyzers", o.serverCfg.Analyzers))

	scanCtx, cancel := context.WithTimeout(ctx, o.serverCfg.timeout())
	started := time.Now()
	report, scanErr := o.serverScanner.ScanServer(scanCtx, target, o.serverCfg.Analyzers, srv.Headers, o.serverCfg.LLMAPIKey)
	cancel()

	result := o.buildResult(srv.Path, target, o.serverCfg.Analyzers, report, scanErr)
	o.recordMetrics("server", result.IsSafe, time.Since(started))
	if err := o.serverArchive.Write(ServerScanName(target), result); err != nil {
		o.logger.Error("archive server scan", zap.String("path", srv.Path), zap.Error(err))
	}

	o.applyServerVerdict(ctx, srv.Path, result)
	return result, nil
}

// ScanAgentNow runs a synchronous scan of the agent at path, archives the
// result, and applies the verdict.
func (o *Orchestrator) ScanAgentNow(ctx context.Context, path string) (*model.ScanResult, error) {
	if !o.agentCfg.Enabled {
		return nil, fmt.Errorf("agent scanning is disabled: %w", storage.ErrInvalid)
	}
	agent, err := o.agents.Get(path)
	if err != nil {
		return nil, err
	}

	card, err := json.Marshal(agent)
	if err != nil {
		return nil, fmt.Errorf("encode agent card: %w", err)
	}

	o.logger.Info("starting agent security scan",
		zap.String("path", agent.Path), zap.String("analyzers", o.agentCfg.Analyzers))

	scanCtx, cancel := context.WithTimeout(ctx, o.agentCfg.timeout())
	started := time.Now()
	report, scanErr := o.agentScanner.ScanAgentCard(scanCtx, card, o.agentCfg.Analyzers, o.agentCfg.LLMAPIKey)
	cancel()

	result := o.buildResult(agent.Path, agent.URL, o.agentCfg.Analyzers, report, scanErr)
	o.recordMetrics("agent", result.IsSafe, time.Since(started))
	if err := o.agentArchive.Write(AgentScanName(agent.Path), result); err != nil {
		o.logger.Error("archive agent scan", zap.String("path", agent.Path), zap.Error(err))
	}

	o.applyAgentVerdict(ctx, agent.Path, result)
	return result, nil
}

// buildResult turns a report (or scanner failure) into a persisted scan
// result. Failures are fail-closed: unsafe, with the error recorded.
func (o *Orchestrator) buildResult(path, url, analyzers string, report *Report, scanErr error) *model.ScanResult {
	result := &model.ScanResult{
		Path:          path,
		URL:           url,
		ScanTimestamp: time.Now().UTC().Format(time.RFC3339),
		AnalyzersUsed: splitAnalyzers(analyzers),
	}
	if scanErr != nil {
		result.IsSafe = false
		result.ScanFailed = true
		result.ErrorMessage = scanErr.Error()
		raw, _ := json.Marshal(map[string]string{"error": scanErr.Error()})
		result.RawOutput = raw
		return result
	}

	critical, high, medium, low := report.Counts()
	result.CriticalIssues = critical
	result.HighSeverity = high
	result.MediumSeverity = medium
	result.LowSeverity = low
	result.IsSafe = critical == 0 && high == 0
	if raw, err := json.Marshal(report); err == nil {
		result.RawOutput = raw
	}
	return result
}

// applyServerVerdict tags and disables an unsafe server per configuration,
// then refreshes the index. Serialized per path against toggles and
// concurrent rescans; the later verdict wins.
func (o *Orchestrator) applyServerVerdict(ctx context.Context, path string, result *model.ScanResult) {
	o.logger.Info("server scan verdict",
		zap.String("path", path),
		zap.Bool("is_safe", result.IsSafe),
		zap.Bool("scan_failed", result.ScanFailed),
		zap.Int("critical", result.CriticalIssues),
		zap.Int("high", result.HighSeverity))

	if result.IsSafe {
		return
	}

	unlock := o.locks.Lock(path)
	defer unlock()

	if o.serverCfg.AddSecurityPendingTag {
		_, err := o.servers.Mutate(path, func(s *model.Server) error {
			if !s.HasTag(SecurityPendingTag) {
				s.Tags = append(s.Tags, SecurityPendingTag)
			}
			return nil
		})
		if err != nil {
			o.logger.Error("tag unsafe server", zap.String("path", path), zap.Error(err))
		}
	}
	if o.serverCfg.BlockUnsafe {
		if _, err := o.servers.Toggle(path, false); err != nil {
			o.logger.Error("disable unsafe server", zap.String("path", path), zap.Error(err))
		} else {
			o.logger.Warn("unsafe server disabled", zap.String("path", path))
		}
	}

	srv, err := o.servers.Get(path)
	if err != nil {
		return
	}
	if err := o.reindex.ReindexServer(ctx, srv); err != nil {
		o.logger.Error("reindex server after verdict", zap.String("path", path), zap.Error(err))
	}
}

// applyAgentVerdict mirrors applyServerVerdict for agents.
func (o *Orchestrator) applyAgentVerdict(ctx context.Context, path string, result *model.ScanResult) {
	o.logger.Info("agent scan verdict",
		zap.String("path", path),
		zap.Bool("is_safe", result.IsSafe),
		zap.Bool("scan_failed", result.ScanFailed),
		zap.Int("critical", result.CriticalIssues),
		zap.Int("high", result.HighSeverity))

	if result.IsSafe {
		return
	}

	unlock := o.locks.Lock(path)
	defer unlock()

	if o.agentCfg.AddSecurityPendingTag {
		_, err := o.agents.Mutate(path, func(a *model.Agent) error {
			if !a.HasTag(SecurityPendingTag) {
				a.Tags = append(a.Tags, SecurityPendingTag)
			}
			return nil
		})
		if err != nil {
			o.logger.Error("tag unsafe agent", zap.String("path", path), zap.Error(err))
		}
	}
	if o.agentCfg.BlockUnsafe {
		if _, err := o.agents.Toggle(path, false); err != nil {
			o.logger.Error("disable unsafe agent", zap.String("path", path), zap.Error(err))
		} else {
			o.logger.Warn("unsafe agent disabled", zap.String("path", path))
		}
	}

	agent, err := o.agents.Get(path)
	if err != nil {
		return
	}
	if err := o.reindex.ReindexAgent(ctx, agent); err != nil {
		o.logger.Error("reindex agent after verdict", zap.String("path", path), zap.Error(err))
	}
}

func splitAnalyzers(analyzers string) []string {
	out := []string{}
	for _, part := range strings.Split(analyzers, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
