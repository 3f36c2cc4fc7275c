package scanner_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
	"github.com/gatewaylabs/toolgate/internal/registry/storage"
	"github.com/gatewaylabs/toolgate/internal/scanner"
)

func TestServerScanName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"http://localhost:9100/mcp", "localhost:9100_mcp"},
		{"https://tools.example.com/mcp", "tools.example.com_mcp"},
		{"http://127.0.0.1:8000/mcp/", "127.0.0.1:8000_mcp"},
	}
	for _, tc := range cases {
		if got := scanner.ServerScanName(tc.in); got != tc.want {
			t.Errorf("ServerScanName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAgentScanName(t *testing.T) {
	if got := scanner.AgentScanName("/agents/summarizer"); got != "agents_summarizer" {
		t.Errorf("got %q", got)
	}
}

func TestArchive_writeAndLatest(t *testing.T) {
	dir := t.TempDir()
	archive := scanner.NewArchive(dir, zap.NewNop())

	result := &model.ScanResult{
		Path:          "/context7",
		URL:           "http://localhost:9100/mcp",
		ScanTimestamp: time.Now().UTC().Format(time.RFC3339),
		IsSafe:        true,
		AnalyzersUsed: []string{"yara"},
	}
	if err := archive.Write("9100_mcp", result); err != nil {
		t.Fatalf("write: %v", err)
	}
	if result.OutputFile != filepath.Join(dir, "9100_mcp.json") {
		t.Errorf("output file: got %q", result.OutputFile)
	}

	latest, err := archive.Latest("9100_mcp")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Path != "/context7" || !latest.IsSafe {
		t.Errorf("latest round trip: %+v", latest)
	}

	// The dated copy lives under <dir>/<YYYY-MM-DD>/.
	dateDir := filepath.Join(dir, time.Now().UTC().Format("2006-01-02"))
	entries, err := os.ReadDir(dateDir)
	if err != nil {
		t.Fatalf("read date dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dated copies: got %d, want 1", len(entries))
	}

	// A second write replaces the latest file and adds a dated copy.
	result.IsSafe = false
	if err := archive.Write("9100_mcp", result); err != nil {
		t.Fatalf("second write: %v", err)
	}
	latest, err = archive.Latest("9100_mcp")
	if err != nil {
		t.Fatalf("latest after rewrite: %v", err)
	}
	if latest.IsSafe {
		t.Error("latest not replaced by second write")
	}
}

func TestArchive_latestMissing(t *testing.T) {
	archive := scanner.NewArchive(t.TempDir(), zap.NewNop())
	if _, err := archive.Latest("nothing"); !errors.Is(err, storage.ErrNoScan) {
		t.Fatalf("expected ErrNoScan, got %v", err)
	}
}
