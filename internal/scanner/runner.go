package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Scanner binaries and the environment variables their API keys travel in.
const (
	DefaultServerScannerBin = "mcp-scanner"
	DefaultAgentScannerBin  = "a2a-scanner"

	serverScannerKeyEnv = "MCP_SCANNER_LLM_API_KEY"
	agentScannerKeyEnv  = "AZURE_OPENAI_API_KEY"
)

// ServerScanner runs a security scan against a remote MCP server.
type ServerScanner interface {
	ScanServer(ctx context.Context, serverURL, analyzers string, headers map[string]string, apiKey string) (*Report, error)
}

// AgentScanner runs a security scan against an agent card.
type AgentScanner interface {
	ScanAgentCard(ctx context.Context, card []byte, analyzers, apiKey string) (*Report, error)
}

// CommandRunner invokes the external scanner binaries as subprocesses.
// Timeouts arrive through the context; an expired context kills the whole
// process group.
type CommandRunner struct {
	serverBin string
	agentBin  string
	logger    *zap.Logger
}

// NewCommandRunner creates a runner. Empty binary names fall back to the
// defaults on PATH.
func NewCommandRunner(serverBin, agentBin string, logger *zap.Logger) *CommandRunner {
	if serverBin == "" {
		serverBin = DefaultServerScannerBin
	}
	if agentBin == "" {
		agentBin = DefaultAgentScannerBin
	}
	return &CommandRunner{serverBin: serverBin, agentBin: agentBin, logger: logger}
}

// ExtractBearerToken pulls a bearer token out of an X-Authorization header
// carrying a "Bearer " prefix.
func ExtractBearerToken(headers map[string]string) (string, bool) {
	auth := headers["X-Authorization"]
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer "), true
	}
	return "", false
}

// EnsureMCPSuffix appends the /mcp endpoint to a server URL when absent.
func EnsureMCPSuffix(serverURL string) string {
	if strings.HasSuffix(serverURL, "/mcp") {
		return serverURL
	}
	return serverURL + "/mcp"
}

// run executes a scanner command, capturing stdout separately from the log
// noise on stderr.
func (r *CommandRunner) run(ctx context.Context, bin string, args []string, extraEnv map[string]string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	cmd.Env = os.Environ()
	for k, v := range extraEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	r.logger.Debug("scanner subprocess finished",
		zap.String("bin", bin),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))

	if err != nil {
		if ctx.Err() != nil {
			return stdout.String(), fmt.Errorf("scanner timed out: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), fmt.Errorf("scanner exited with code %d: %s",
				exitErr.ExitCode(), truncate(stderr.String(), 512))
		}
		return stdout.String(), fmt.Errorf("run scanner: %w", err)
	}
	return stdout.String(), nil
}

// ScanServer invokes mcp-scanner against a remote server URL. A bearer token
// found in the X-Authorization header is forwarded; the LLM API key travels
// via the environment, never argv.
func (r *CommandRunner) ScanServer(ctx context.Context, serverURL, analyzers string, headers map[string]string, apiKey string) (*Report, error) {
	args := []string{
		"--analyzers", analyzers,
		"--raw",
		"remote",
		"--server-url", serverURL,
	}
	if token, ok := ExtractBearerToken(headers); ok {
		r.logger.Info("using bearer token authentication for scan")
		args = append(args, "--bearer-token", token)
	} else if len(headers) > 0 {
		r.logger.Warn("headers provided but no bearer token found in X-Authorization header")
	}

	env := map[string]string{}
	if apiKey != "" {
		env[serverScannerKeyEnv] = apiKey
	}

	stdout, err := r.run(ctx, r.serverBin, args, env)
	if err != nil {
		return nil, err
	}
	return ParseServerOutput(stdout)
}

// ScanAgentCard writes the card to a temp file and invokes a2a-scanner on it.
func (r *CommandRunner) ScanAgentCard(ctx context.Context, card []byte, analyzers, apiKey string) (*Report, error) {
	tmp, err := os.CreateTemp("", "agent-card-*.json")
	if err != nil {
		return nil, fmt.Errorf("create card temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, card, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(card)
	}
	if _, err := tmp.Write(pretty.Bytes()); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write card temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close card temp file: %w", err)
	}

	args := []string{
		"scan-card", tmpName,
		"--analyzers", analyzers,
		"--format", "json",
	}
	env := map[string]string{}
	if apiKey != "" {
		env[agentScannerKeyEnv] = apiKey
	}

	stdout, err := r.run(ctx, r.agentBin, args, env)
	if err != nil {
		return nil, err
	}
	return ParseAgentOutput(stdout)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
