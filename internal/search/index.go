// Package search houses the vector index over registered entities and the
// hybrid query engine that fuses cosine similarity with lexical boosting.
package search

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/embeddings"
	"github.com/gatewaylabs/toolgate/internal/registry/storage"
)

// Entity kinds stored in the index.
const (
	KindServer = "mcp_server"
	KindTool   = "tool"
	KindAgent  = "a2a_agent"
)

const (
	indexFileName    = "service_index.bin"
	metadataFileName = "service_index_metadata.json"
)

// Record is the metadata kept for every indexed entity. The id is assigned
// once per path and survives re-embeddings.
type Record struct {
	ID               int             `json:"id"`
	EntityType       string          `json:"entity_type"`
	TextForEmbedding string          `json:"text_for_embedding"`
	Enabled          bool            `json:"is_enabled"`
	Snapshot         json.RawMessage `json:"snapshot"`
}

type metadataDoc struct {
	Metadata map[string]*Record `json:"metadata"`
	NextID   int                `json:"next_id"`
}

type vectorDoc struct {
	Dim     int
	Vectors map[int][]float64
}

// Hit is one kNN result. Distance uses the positive convention
// (1 − cosine, in [0,2]).
type Hit struct {
	Path     string
	Record   Record
	Distance float64
}

// Index is an inner-product index over L2-normalized embeddings, so stored
// inner products equal cosine similarity. All mutations persist both the
// vector file and the metadata document before returning.
type Index struct {
	dir      string
	embedder embeddings.Client
	logger   *zap.Logger

	mu      sync.RWMutex
	records map[string]*Record
	byID    map[int]string
	vectors map[int][]float64
	nextID  int
}

// NewIndex creates an index persisted under dir. Call Load before use.
func NewIndex(dir string, embedder embeddings.Client, logger *zap.Logger) *Index {
	return &Index{
		dir:      dir,
		embedder: embedder,
		logger:   logger,
		records:  make(map[string]*Record),
		byID:     make(map[int]string),
		vectors:  make(map[int][]float64),
	}
}

// Load restores the index from disk. A vector file whose dimension disagrees
// with the embedder's is discarded and the index starts empty.
func (ix *Index) Load() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := os.MkdirAll(ix.dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	metaPath := filepath.Join(ix.dir, metadataFileName)
	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read index metadata: %w", err)
	}
	var doc metadataDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		ix.logger.Error("corrupt index metadata, starting empty", zap.Error(err))
		return nil
	}

	vectors := map[int][]float64{}
	if f, err := os.Open(filepath.Join(ix.dir, indexFileName)); err == nil {
		var vdoc vectorDoc
		decodeErr := gob.NewDecoder(f).Decode(&vdoc)
		f.Close()
		switch {
		case decodeErr != nil:
			ix.logger.Error("corrupt vector file, starting empty", zap.Error(decodeErr))
			return nil
		case vdoc.Dim != ix.embedder.Dimensions():
			ix.logger.Warn("vector dimension mismatch, reinitializing index",
				zap.Int("stored", vdoc.Dim), zap.Int("expected", ix.embedder.Dimensions()))
			return nil
		default:
			vectors = vdoc.Vectors
		}
	}

	ix.records = make(map[string]*Record, len(doc.Metadata))
	ix.byID = make(map[int]string, len(doc.Metadata))
	ix.vectors = vectors
	ix.nextID = doc.NextID
	for path, rec := range doc.Metadata {
		if _, ok := vectors[rec.ID]; !ok {
			ix.logger.Warn("index record has no vector, dropping", zap.String("path", path))
			continue
		}
		ix.records[path] = rec
		ix.byID[rec.ID] = path
		if rec.ID >= ix.nextID {
			ix.nextID = rec.ID + 1
		}
	}
	ix.logger.Info("search index loaded",
		zap.Int("records", len(ix.records)), zap.Int("next_id", ix.nextID))
	return nil
}

// persist writes the vector file and metadata document. Callers hold the
// write lock.
func (ix *Index) persist() error {
	{
		f, err := os.CreateTemp(ix.dir, indexFileName+".tmp-*")
		if err != nil {
			return fmt.Errorf("create vector temp file: %w", err)
		}
		tmpName := f.Name()
		err = gob.NewEncoder(f).Encode(vectorDoc{Dim: ix.embedder.Dimensions(), Vectors: ix.vectors})
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("encode vector file: %w", err)
		}
		if err := os.Rename(tmpName, filepath.Join(ix.dir, indexFileName)); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("rename vector file: %w", err)
		}
	}

	doc := metadataDoc{Metadata: ix.records, NextID: ix.nextID}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index metadata: %w", err)
	}
	return storage.WriteFileAtomic(filepath.Join(ix.dir, metadataFileName), data)
}

// Normalize scales a vector to unit length in place-safe fashion. A zero
// vector is returned unchanged.
func Normalize(vec []float64) []float64 {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

// Upsert indexes an entity. When the embedding text is unchanged, only the
// snapshot and enabled flag are updated and no re-embedding happens;
// otherwise the old vector is removed and a new one stored under the same
// id (or a freshly assigned id for a new path).
func (ix *Index) Upsert(ctx context.Context, path, entityType, text string, snapshot any, enabled bool) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode index snapshot for %s: %w", path, err)
	}

	ix.mu.RLock()
	prev, known := ix.records[path]
	unchanged := known && prev.TextForEmbedding == text
	ix.mu.RUnlock()

	var vec []float64
	if !unchanged {
		vecs, err := ix.embedder.Embed(ctx, []string{text})
		if err != nil {
			return fmt.Errorf("embed %s: %w", path, err)
		}
		if len(vecs) != 1 {
			return fmt.Errorf("embed %s: got %d vectors", path, len(vecs))
		}
		vec = Normalize(vecs[0])
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	// Re-check under the write lock; another writer may have raced us.
	prev, known = ix.records[path]
	if known && prev.TextForEmbedding == text {
		prev.Snapshot = raw
		prev.Enabled = enabled
		prev.EntityType = entityType
		return ix.persist()
	}

	if vec == nil {
		vecs, err := ix.embedder.Embed(ctx, []string{text})
		if err != nil {
			return fmt.Errorf("embed %s: %w", path, err)
		}
		vec = Normalize(vecs[0])
	}

	id := ix.nextID
	if known {
		id = prev.ID
		delete(ix.vectors, prev.ID)
	} else {
		ix.nextID++
	}

	ix.records[path] = &Record{
		ID:               id,
		EntityType:       entityType,
		TextForEmbedding: text,
		Enabled:          enabled,
		Snapshot:         raw,
	}
	ix.byID[id] = path
	ix.vectors[id] = vec
	return ix.persist()
}

// Remove deletes the entity's metadata record and its vector. A vector that
// cannot be removed would simply become a tombstone: with no metadata record
// it can never surface in results.
func (ix *Index) Remove(path string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rec, ok := ix.records[path]
	if !ok {
		return nil
	}
	delete(ix.records, path)
	delete(ix.byID, rec.ID)
	delete(ix.vectors, rec.ID)
	return ix.persist()
}

// Get returns the metadata record for a path.
func (ix *Index) Get(path string) (Record, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	rec, ok := ix.records[path]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Size returns the number of live records.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

// Search embeds the query and returns the top-k hits by cosine similarity.
// Vectors without a metadata record (tombstones) are dropped.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	q := Normalize(vecs[0])

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	hits := make([]Hit, 0, len(ix.vectors))
	for id, vec := range ix.vectors {
		path, ok := ix.byID[id]
		if !ok {
			continue
		}
		rec, ok := ix.records[path]
		if !ok {
			continue
		}
		var dot float64
		for i := range vec {
			if i < len(q) {
				dot += vec[i] * q[i]
			}
		}
		hits = append(hits, Hit{Path: path, Record: *rec, Distance: 1 - dot})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
