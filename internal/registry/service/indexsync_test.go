package service_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/embeddings"
	"github.com/gatewaylabs/toolgate/internal/registry/model"
	"github.com/gatewaylabs/toolgate/internal/registry/service"
	"github.com/gatewaylabs/toolgate/internal/search"
)

func TestIndexSync_changeObserver(t *testing.T) {
	logger := zap.NewNop()
	ix := search.NewIndex(t.TempDir(), embeddings.NewLocal(64), logger)
	if err := ix.Load(); err != nil {
		t.Fatalf("load index: %v", err)
	}
	sync := service.NewIndexSync(search.NewEngine(ix, logger), logger)

	var calls int
	sync.SetChangeObserver(func() { calls++ })

	srv := &model.Server{
		Path:     "/context7",
		Name:     "Context7",
		ProxyURL: "http://localhost:9100",
	}
	if err := sync.ReindexServer(context.Background(), srv); err != nil {
		t.Fatalf("reindex server: %v", err)
	}
	if calls != 1 {
		t.Fatalf("observer after upsert: %d calls", calls)
	}
	if ix.Size() != 1 {
		t.Fatalf("index size: %d", ix.Size())
	}

	agent := &model.Agent{Path: "/summarizer"}
	agent.Name = "Summarizer"
	agent.URL = "http://localhost:9200"
	if err := sync.ReindexAgent(context.Background(), agent); err != nil {
		t.Fatalf("reindex agent: %v", err)
	}
	if calls != 2 {
		t.Fatalf("observer after agent upsert: %d calls", calls)
	}

	if err := sync.Remove("/context7"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if calls != 3 {
		t.Fatalf("observer after remove: %d calls", calls)
	}
}
