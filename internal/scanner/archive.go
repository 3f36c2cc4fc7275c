package scanner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
	"github.com/gatewaylabs/toolgate/internal/registry/storage"
)

// Archive subdirectory names under the scans root.
const (
	ServerScanDir = "security_scans"
	AgentScanDir  = "agent_security_scans"
)

// ServerScanName converts a scan target URL into its archive name: scheme
// stripped, slashes to underscores, underscores trimmed, and a leading
// localhost_ removed.
func ServerScanName(serverURL string) string {
	name := strings.TrimPrefix(strings.TrimPrefix(serverURL, "https://"), "http://")
	name = strings.Trim(strings.ReplaceAll(name, "/", "_"), "_")
	return strings.TrimPrefix(name, "localhost_")
}

// AgentScanName converts an agent path into its archive name.
func AgentScanName(path string) string {
	return storage.SafePath(path)
}

// Archive persists scan results in a two-tier layout: a dated copy under
// <dir>/<YYYY-MM-DD>/scan_<name>_<ts>.json and an always-current latest file
// at <dir>/<name>.json.
type Archive struct {
	dir    string
	logger *zap.Logger
}

// NewArchive creates an archive rooted at dir.
func NewArchive(dir string, logger *zap.Logger) *Archive {
	return &Archive{dir: dir, logger: logger}
}

// Write stores the result in both tiers and records the latest file's path
// in result.OutputFile.
func (a *Archive) Write(name string, result *model.ScanResult) error {
	ts := time.Now().UTC()
	dateDir := filepath.Join(a.dir, ts.Format("2006-01-02"))
	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return fmt.Errorf("create scan archive dir: %w", err)
	}

	latest := filepath.Join(a.dir, name+".json")
	result.OutputFile = latest

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode scan result: %w", err)
	}

	archived := filepath.Join(dateDir, fmt.Sprintf("scan_%s_%s.json", name, ts.Format("20060102_150405")))
	if err := storage.WriteFileAtomic(archived, data); err != nil {
		return err
	}
	a.logger.Info("archived scan output", zap.String("file", archived))

	if err := storage.WriteFileAtomic(latest, data); err != nil {
		return err
	}
	a.logger.Info("latest scan output saved", zap.String("file", latest))
	return nil
}

// Latest reads the current scan result for name. A missing latest file
// yields storage.ErrNoScan.
func (a *Archive) Latest(name string) (*model.ScanResult, error) {
	data, err := os.ReadFile(filepath.Join(a.dir, name+".json"))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("scan result for %q: %w", name, storage.ErrNoScan)
	}
	if err != nil {
		return nil, fmt.Errorf("read scan result: %w", err)
	}
	var result model.ScanResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse scan result: %w", err)
	}
	return &result, nil
}
