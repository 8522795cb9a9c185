package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/codectx-mcp/internal/cache"
	"github.com/dshills/codectx-mcp/internal/embedder"
	"github.com/dshills/codectx-mcp/pkg/types"
)

// MaxEmbedChars bounds the chunk content sent to the provider.
const MaxEmbedChars = 2000

// DefaultWeight is the semantic share of a hybrid score.
const DefaultWeight = 0.3

// ErrNoEmbeddings is returned by Hybrid when no candidate could be embedded.
var ErrNoEmbeddings = errors.New("no candidate embeddings available")

// Options configures an Engine.
type Options struct {
	Embedder embedder.Embedder
	Cache    *cache.Cache // embeddings namespace; nil disables memory caching
	Store    *VectorStore // nil disables disk caching
	Logger   *slog.Logger
}

// Engine produces query and chunk embeddings through a memory cache, the
// on-disk vector store and finally the provider. Concurrent requests for
// the same key share one provider call.
type Engine struct {
	emb    embedder.Embedder
	mem    *cache.Cache
	store  *VectorStore
	group  singleflight.Group
	logger *slog.Logger
}

// New creates an engine. Options.Embedder is required.
func New(opts Options) (*Engine, error) {
	if opts.Embedder == nil {
		return nil, embedder.ErrNoProviderEnabled
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		emb:    opts.Embedder,
		mem:    opts.Cache,
		store:  opts.Store,
		logger: logger,
	}, nil
}

// ModelName identifies the provider and model, e.g. "local/local-hashing-v1".
func (e *Engine) ModelName() string {
	return e.emb.Provider() + "/" + e.emb.Model()
}

// Close releases the provider.
func (e *Engine) Close() error {
	return e.emb.Close()
}

type textKey struct {
	Version string `json:"version"`
	Model   string `json:"model"`
	Text    string `json:"text"`
}

type chunkKey struct {
	ChunkID     string `json:"chunk_id"`
	ContentHash string `json:"content_hash"`
	Model       string `json:"model"`
}

// normalizeText lowercases and collapses whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Embed returns the embedding of free text, cached per index version.
func (e *Engine) Embed(ctx context.Context, version, text string) ([]float32, error) {
	norm := normalizeText(text)
	if norm == "" {
		return nil, embedder.ErrEmptyText
	}
	key := textKey{Version: version, Model: e.ModelName(), Text: norm}

	var vec []float32
	if e.mem != nil && e.mem.Get(key, &vec) {
		return vec, nil
	}

	flightKey := "text\x00" + version + "\x00" + norm
	v, err, _ := e.group.Do(flightKey, func() (any, error) {
		emb, err := e.emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: strings.TrimSpace(text)})
		if err != nil {
			return nil, err
		}
		e.remember(key, emb.Vector)
		return emb.Vector, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// EmbedChunk returns the embedding of a chunk's content, truncated to
// MaxEmbedChars. Cached in memory and on disk, keyed by content hash.
func (e *Engine) EmbedChunk(ctx context.Context, chunk *types.Chunk) ([]float32, error) {
	key := chunkKey{ChunkID: chunk.ID, ContentHash: chunk.ContentHash, Model: e.ModelName()}

	var vec []float32
	if e.mem != nil && e.mem.Get(key, &vec) {
		return vec, nil
	}
	if e.store != nil {
		if vec, ok := e.store.Load(chunk.ID, chunk.ContentHash, key.Model); ok {
			e.remember(key, vec)
			return vec, nil
		}
	}

	v, err, _ := e.group.Do("chunk\x00"+chunk.ID, func() (any, error) {
		text, truncated := truncate(chunk.Content)
		emb, err := e.emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		e.persist(chunk, truncated, emb.Vector)
		e.remember(key, emb.Vector)
		return emb.Vector, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// WarmChunks embeds, in provider batches, every chunk that has no stored
// vector yet. It returns the number of chunks embedded.
func (e *Engine) WarmChunks(ctx context.Context, chunks []*types.Chunk) (int, error) {
	model := e.ModelName()
	var pending []*types.Chunk
	for _, c := range chunks {
		if e.mem != nil && e.mem.Get(chunkKey{ChunkID: c.ID, ContentHash: c.ContentHash, Model: model}, nil) {
			continue
		}
		if e.store != nil {
			if _, ok := e.store.Load(c.ID, c.ContentHash, model); ok {
				continue
			}
		}
		pending = append(pending, c)
	}

	embedded := 0
	for start := 0; start < len(pending); start += embedder.DefaultBatchSize {
		if err := ctx.Err(); err != nil {
			return embedded, err
		}
		batch := pending[start:min(start+embedder.DefaultBatchSize, len(pending))]

		texts := make([]string, len(batch))
		truncated := make([]bool, len(batch))
		for i, c := range batch {
			texts[i], truncated[i] = truncate(c.Content)
		}
		resp, err := e.emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
		if err != nil {
			return embedded, fmt.Errorf("failed to embed batch: %w", err)
		}
		for i, c := range batch {
			if i >= len(resp.Embeddings) {
				break
			}
			vec := resp.Embeddings[i].Vector
			e.persist(c, truncated[i], vec)
			e.remember(chunkKey{ChunkID: c.ID, ContentHash: c.ContentHash, Model: model}, vec)
			embedded++
		}
	}

	if embedded > 0 {
		e.logger.Debug("embedded chunks", "count", embedded, "model", model)
	}
	return embedded, nil
}

// Prune drops stored vectors for chunks that are no longer indexed.
func (e *Engine) Prune(live func(chunkID string) bool) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	return e.store.Prune(live)
}

// Hybrid blends lexical scores with the cosine similarity between the query
// and each candidate chunk: (1-w)*lexical/max + w*semantic/max, where
// semantic similarity is clamped at 0. Candidates that fail to embed get a
// semantic component of 0. An error means the caller should fall back to
// lexical ranking.
func (e *Engine) Hybrid(ctx context.Context, version, query string, candidates []*types.Chunk, lexical map[string]float64, weight float64) (map[string]float64, error) {
	qvec, err := e.Embed(ctx, version, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	semantic := make(map[string]float64, len(candidates))
	var failures int
	for _, c := range candidates {
		vec, err := e.EmbedChunk(ctx, c)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures++
			e.logger.Debug("chunk embedding failed", "chunk_id", c.ID, "error", err)
			continue
		}
		semantic[c.ID] = max(0, Cosine(qvec, vec))
	}
	if len(candidates) > 0 && failures == len(candidates) {
		return nil, ErrNoEmbeddings
	}

	return Blend(lexical, semantic, weight), nil
}

// Blend combines two score maps after normalizing each by its maximum. A
// chunk missing from one map contributes 0 for that component.
func Blend(lexical, semantic map[string]float64, weight float64) map[string]float64 {
	lex := normalizeByMax(lexical)
	sem := normalizeByMax(semantic)

	out := make(map[string]float64, len(lex)+len(sem))
	for id, s := range lex {
		out[id] = (1 - weight) * s
	}
	for id, s := range sem {
		out[id] += weight * s
	}
	return out
}

func normalizeByMax(scores map[string]float64) map[string]float64 {
	var hi float64
	for _, s := range scores {
		hi = max(hi, s)
	}
	out := make(map[string]float64, len(scores))
	for id, s := range scores {
		if hi > 0 {
			out[id] = s / hi
		} else {
			out[id] = 0
		}
	}
	return out
}

func (e *Engine) remember(key any, vec []float32) {
	if e.mem == nil {
		return
	}
	if err := e.mem.Set(key, vec, 0); err != nil {
		e.logger.Debug("failed to cache embedding", "error", err)
	}
}

func (e *Engine) persist(c *types.Chunk, truncated bool, vec []float32) {
	if e.store == nil {
		return
	}
	meta := VectorMeta{
		ChunkID:       c.ID,
		ContentHash:   c.ContentHash,
		ModelName:     e.ModelName(),
		ContentLength: utf8.RuneCountInString(c.Content),
		Truncated:     truncated,
	}
	if err := e.store.Save(meta, vec); err != nil {
		e.logger.Warn("failed to store embedding", "chunk_id", c.ID, "error", err)
	}
}

// truncate cuts s to MaxEmbedChars characters.
func truncate(s string) (string, bool) {
	if utf8.RuneCountInString(s) <= MaxEmbedChars {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:MaxEmbedChars]), true
}
