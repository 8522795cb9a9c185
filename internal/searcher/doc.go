// Package searcher ranks indexed chunks against free-text queries.
//
// A search runs over one index snapshot:
//
//  1. The query is tokenized with the chunker's tokenizer and scored with
//     BM25 (k1 = 1.5, b = 0.75).
//  2. Path filters drop non-matching chunks.
//  3. BM25 scores and file recency (0.5^(age_days/30)) are min-max
//     normalized and blended, 0.85 / 0.15 by default.
//  4. The best limit*3 candidates form the pool. When semantic ranking is
//     requested, pool scores are replaced by a hybrid of raw BM25 and
//     embedding similarity; any embedding failure keeps the lexical scores.
//  5. MMR, or a plain top-k, picks the final results.
//
// Ties are always broken by file path and then chunk id, so identical
// inputs produce identical output.
//
// # Usage
//
//	s := searcher.New(idx, searcher.Config{Cache: searchCache})
//	resp, err := s.Search(ctx, types.SearchRequest{Query: "parse token", Limit: 5})
//
// Results are cached under a key that includes the index version, so any
// change to the index invalidates them.
package searcher
