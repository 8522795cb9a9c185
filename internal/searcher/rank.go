package searcher

import "sort"

// Candidate is a scored chunk competing for a result slot.
type Candidate struct {
	ChunkID  string
	FilePath string
	Score    float64
	Terms    []string
	Content  string
}

// less orders by score descending, then file path, then chunk id.
func less(a, b *Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.FilePath != b.FilePath {
		return a.FilePath < b.FilePath
	}
	return a.ChunkID < b.ChunkID
}

// SortCandidates sorts in place by (-score, file_path, chunk_id).
func SortCandidates(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		return less(&cands[i], &cands[j])
	})
}

// TopN returns the first n candidates in tie-break order.
func TopN(cands []Candidate, n int) []Candidate {
	out := append([]Candidate(nil), cands...)
	SortCandidates(out)
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
