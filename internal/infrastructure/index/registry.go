package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/core/ports"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/index/dense"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/index/sparse"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/textproc"
)

// DenseFactory builds the dense index for a freshly loaded corpus.
type DenseFactory func(ctx context.Context, entries []domain.IndexedPassage) (ports.DenseIndex, error)

// MemoryDense builds an in-process dense index from the loaded vectors.
func MemoryDense(opts dense.Options) DenseFactory {
	return func(_ context.Context, entries []domain.IndexedPassage) (ports.DenseIndex, error) {
		return dense.New(entries, opts)
	}
}

// External uses an already populated dense index such as Qdrant or pgvector.
func External(idx ports.DenseIndex) DenseFactory {
	return func(context.Context, []domain.IndexedPassage) (ports.DenseIndex, error) {
		return idx, nil
	}
}

// ReloadObserver is notified after every reload attempt.
type ReloadObserver interface {
	ObserveReload(passages int, duration time.Duration, err error)
}

// snapshot is one loaded index set. refs counts readers plus one for the
// registry while the snapshot is current; the sparse index closes at zero.
type snapshot struct {
	set       ports.IndexSet
	sparse    *sparse.Index
	refs      atomic.Int64
	closeOnce sync.Once
}

func newSnapshot(set ports.IndexSet, sparseIdx *sparse.Index) *snapshot {
	s := &snapshot{set: set, sparse: sparseIdx}
	s.refs.Store(1)
	return s
}

func (s *snapshot) acquire() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *snapshot) release() {
	if s.refs.Add(-1) != 0 {
		return
	}
	s.closeOnce.Do(func() {
		if s.sparse == nil {
			return
		}
		if err := s.sparse.Close(); err != nil {
			slog.Warn("retired_index_close_failed", slog.String("version", s.set.Version), slog.Any("error", err))
		}
	})
}

// Registry owns the current index set and swaps it atomically on reload.
type Registry struct {
	repo     ports.PassageRepository
	newDense DenseFactory
	observer ReloadObserver

	reloadMu sync.Mutex
	current  atomic.Pointer[snapshot]
}

func NewRegistry(repo ports.PassageRepository, newDense DenseFactory) *Registry {
	return &Registry{repo: repo, newDense: newDense}
}

func (r *Registry) WithObserver(observer ReloadObserver) *Registry {
	r.observer = observer
	return r
}

// Acquire pins the current index set. A set replaced by a reload is closed
// once its last reader calls release.
func (r *Registry) Acquire() (ports.IndexSet, func(), error) {
	for {
		snap := r.current.Load()
		if snap == nil {
			return ports.IndexSet{}, func() {}, domain.WrapError(domain.ErrTemporary, "index registry", errors.New("indexes are not loaded yet"))
		}
		// A failed acquire means the snapshot was retired and drained
		// between Load and acquire; the next Load sees its replacement.
		if snap.acquire() {
			var once sync.Once
			return snap.set, func() { once.Do(snap.release) }, nil
		}
	}
}

// Close retires the current index set.
func (r *Registry) Close() {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()
	if prev := r.current.Swap(nil); prev != nil {
		prev.release()
	}
}

// Reload rebuilds all indexes from the passage store. On failure the
// previous index set stays active.
func (r *Registry) Reload(ctx context.Context) error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	started := time.Now()
	passages, err := r.rebuild(ctx)
	if r.observer != nil {
		r.observer.ObserveReload(passages, time.Since(started), err)
	}
	if err != nil {
		return err
	}
	slog.Info("indexes_reloaded",
		slog.Int("passages", passages),
		slog.Int64("duration_ms", time.Since(started).Milliseconds()),
	)
	return nil
}

func (r *Registry) rebuild(ctx context.Context) (int, error) {
	manifest, err := r.repo.GetManifest(ctx)
	if err != nil {
		return 0, fmt.Errorf("load corpus manifest: %w", err)
	}
	if manifest != nil && manifest.TokenizerVersion != "" && manifest.TokenizerVersion != textproc.TokenizerVersion {
		return 0, domain.WrapError(domain.ErrTokenizerMismatch, "reload indexes",
			fmt.Errorf("corpus built with %s, runtime uses %s", manifest.TokenizerVersion, textproc.TokenizerVersion))
	}

	entries, err := r.repo.ListPassages(ctx)
	if err != nil {
		return 0, fmt.Errorf("list passages: %w", err)
	}

	catalog := NewCatalog()
	passages := make([]domain.Passage, 0, len(entries))
	for _, e := range entries {
		if err := catalog.add(e.Passage); err != nil {
			return 0, err
		}
		passages = append(passages, e.Passage)
	}

	sparseIdx, err := sparse.New(passages)
	if err != nil {
		return 0, fmt.Errorf("build sparse index: %w", err)
	}
	denseIdx, err := r.newDense(ctx, entries)
	if err != nil {
		_ = sparseIdx.Close()
		return 0, fmt.Errorf("build dense index: %w", err)
	}
	if err := checkManifest(manifest, denseIdx); err != nil {
		_ = sparseIdx.Close()
		return 0, err
	}

	version := ""
	if manifest != nil {
		version = manifest.Version
	}
	next := newSnapshot(ports.IndexSet{
		Version: version,
		Dense:   denseIdx,
		Sparse:  sparseIdx,
		Catalog: catalog,
	}, sparseIdx)
	if prev := r.current.Swap(next); prev != nil {
		prev.release()
	}
	slog.Debug("index_set_swapped",
		slog.String("version", version),
		slog.String("metric", string(denseIdx.Metric())),
		slog.Int("dimension", denseIdx.Dimension()),
	)
	return catalog.Len(), nil
}

// OnCorpusUpdated is a CorpusEvents handler that reloads the indexes.
func (r *Registry) OnCorpusUpdated(ctx context.Context, version string) error {
	slog.Info("corpus_update_received", slog.String("version", version))
	return r.Reload(ctx)
}

func checkManifest(manifest *domain.CorpusManifest, idx ports.DenseIndex) error {
	if manifest == nil {
		return nil
	}
	if manifest.Metric != "" && manifest.Metric != idx.Metric() {
		return fmt.Errorf("dense index metric %s does not match corpus metric %s", idx.Metric(), manifest.Metric)
	}
	if manifest.Dimension > 0 && idx.Dimension() > 0 && manifest.Dimension != idx.Dimension() {
		return fmt.Errorf("dense index: %w", &domain.DimensionError{Expected: manifest.Dimension, Got: idx.Dimension()})
	}
	return nil
}

// Catalog is an immutable chunk id to passage map.
type Catalog struct {
	passages map[string]domain.Passage
}

func NewCatalog() *Catalog {
	return &Catalog{passages: make(map[string]domain.Passage)}
}

func (c *Catalog) add(p domain.Passage) error {
	if _, dup := c.passages[p.ChunkID]; dup {
		return fmt.Errorf("%w: duplicate chunk id %s in passage store", domain.ErrInvalidInput, p.ChunkID)
	}
	c.passages[p.ChunkID] = p
	return nil
}

func (c *Catalog) Passage(chunkID string) (domain.Passage, bool) {
	p, ok := c.passages[chunkID]
	return p, ok
}

func (c *Catalog) Len() int {
	return len(c.passages)
}
