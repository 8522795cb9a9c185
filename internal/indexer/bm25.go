package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"

	"github.com/dshills/codectx-mcp/pkg/types"
)

// BM25 scores every chunk containing at least one query term. Repeated
// query terms contribute once per occurrence.
func (sn *Snapshot) BM25(queryTerms []string, k1, b float64) map[string]float64 {
	scores := make(map[string]float64)
	n := float64(max(1, sn.Len()))
	avgdl := sn.AvgDocLen()
	if avgdl <= 0 {
		avgdl = 1
	}

	for _, term := range queryTerms {
		posting := sn.s.postings[term]
		if len(posting) == 0 {
			continue
		}
		df := float64(len(posting))
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)

		for id, tf := range posting {
			f := float64(tf)
			dl := float64(sn.s.docLen[id])
			denom := f + k1*(1-b+b*dl/avgdl)
			if denom == 0 {
				continue
			}
			scores[id] += idf * f * (k1 + 1) / denom
		}
	}
	return scores
}

// ComputeIndexVersion returns the SHA-256 hex digest of the canonical JSON
// encoding of the sorted (chunk id, file path, start, end, content hash)
// tuples. The empty index hashes "[]".
func ComputeIndexVersion(chunks []types.Chunk) string {
	tuples := make([][]any, 0, len(chunks))
	sorted := make([]types.Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.EndLine < b.EndLine
	})
	for _, c := range sorted {
		tuples = append(tuples, []any{c.ID, c.FilePath, c.StartLine, c.EndLine, c.ContentHash})
	}

	data, _ := json.Marshal(tuples)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
