package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
	"github.com/gatewaylabs/toolgate/internal/search"
)

// IndexSync pushes entity snapshots into the search index. It is the only
// writer of index state outside the index itself; both services and the
// scan orchestrator reindex through it.
type IndexSync struct {
	engine   *search.Engine
	onChange func()
	logger   *zap.Logger
}

// NewIndexSync creates an IndexSync over the engine's index.
func NewIndexSync(engine *search.Engine, logger *zap.Logger) *IndexSync {
	return &IndexSync{engine: engine, logger: logger}
}

// SetChangeObserver registers a callback invoked after every successful
// index write. Every registry mutation ends in a reindex, so this is where
// entity and index gauges refresh.
func (s *IndexSync) SetChangeObserver(fn func()) { s.onChange = fn }

func (s *IndexSync) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

// ReindexServer upserts a server snapshot with its current enabled flag.
func (s *IndexSync) ReindexServer(ctx context.Context, srv *model.Server) error {
	text := search.ServerEmbeddingText(srv)
	if err := s.engine.Index().Upsert(ctx, srv.Path, search.KindServer, text, srv, srv.IsEnabled); err != nil {
		return err
	}
	s.notify()
	return nil
}

// ReindexAgent upserts an agent snapshot with its current enabled flag.
func (s *IndexSync) ReindexAgent(ctx context.Context, a *model.Agent) error {
	text := search.AgentEmbeddingText(a)
	if err := s.engine.Index().Upsert(ctx, a.Path, search.KindAgent, text, a, a.IsEnabled); err != nil {
		return err
	}
	s.notify()
	return nil
}

// Remove drops an entity from the index.
func (s *IndexSync) Remove(path string) error {
	if err := s.engine.Index().Remove(path); err != nil {
		return err
	}
	s.notify()
	return nil
}

// tryReindexServer logs instead of failing: the registry write already
// succeeded and the index heals on the next upsert.
func (s *IndexSync) tryReindexServer(ctx context.Context, srv *model.Server) {
	if err := s.ReindexServer(ctx, srv); err != nil {
		s.logger.Error("index server", zap.String("path", srv.Path), zap.Error(err))
	}
}

func (s *IndexSync) tryReindexAgent(ctx context.Context, a *model.Agent) {
	if err := s.ReindexAgent(ctx, a); err != nil {
		s.logger.Error("index agent", zap.String("path", a.Path), zap.Error(err))
	}
}
