// Package embedder generates vector embeddings for code chunks.
//
// Three providers implement Embedder:
//
//   - local: offline feature hashing of identifiers and identifier
//     bigrams into 384 signed buckets. Deterministic and dependency free;
//     used whenever no API key is configured.
//   - jina: Jina AI embeddings API (jina-embeddings-v3, 1024 dims).
//   - openai: OpenAI embeddings API (text-embedding-3-small, 1536 dims).
//
// Both remote providers share HTTPProvider: a token bucket limiter paces
// requests, transient failures (network errors, 429, 5xx) are retried with
// exponential backoff, and other 4xx responses fail immediately. Returned
// vectors are L2-normalized so that a dot product is a cosine similarity.
//
// # Provider Selection
//
//	emb, err := embedder.FromConfig(cfg.Semantic)
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
// An explicit provider wins. Otherwise an API key selects Jina and no key
// selects the local provider. API keys are read by the config package
// (JINA_API_KEY, OPENAI_API_KEY), never here.
//
// Caching of embeddings is the caller's concern; see package semantic.
package embedder
