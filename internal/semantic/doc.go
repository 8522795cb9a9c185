// Package semantic adds embedding similarity to lexical search.
//
// Engine resolves embeddings in three tiers: the "embeddings" cache
// namespace (keyed by index version and normalized text for queries, by
// chunk id and content hash for chunks), the on-disk VectorStore, and
// finally the configured embedder. Hybrid blends max-normalized BM25 scores
// with max-normalized, non-negative cosine similarity.
package semantic
