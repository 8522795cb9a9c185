package searcher

import (
	"context"
	"sort"

	"github.com/dshills/codectx-mcp/internal/indexer"
	"github.com/dshills/codectx-mcp/internal/semantic"
)

// DefaultLambda balances relevance against diversity.
const DefaultLambda = 0.7

// EmbedFunc returns the embedding of a candidate.
type EmbedFunc func(ctx context.Context, c Candidate) ([]float32, error)

// MMROptions configures a selection pass.
type MMROptions struct {
	Lambda float64   // <= 0 uses DefaultLambda; 1 ignores diversity
	Embed  EmbedFunc // nil selects Jaccard similarity over terms
	K1, B  float64   // BM25 parameters for SelectMMRFromIndex
}

// SelectMMRFromScores selects up to k diversified candidates using each
// candidate's Score as its relevance.
func SelectMMRFromScores(ctx context.Context, candidates []Candidate, k int, opts MMROptions) []Candidate {
	rel := make([]float64, len(candidates))
	for i, c := range candidates {
		rel[i] = c.Score
	}
	return selectMMR(ctx, candidates, rel, k, opts)
}

// SelectMMRFromIndex selects up to k diversified chunks among ids using
// their BM25 score for queryTerms, normalized by the maximum, as relevance.
// Ids missing from the snapshot are dropped; ids without postings have
// relevance 0. Returned candidates carry the normalized relevance as Score.
func SelectMMRFromIndex(ctx context.Context, snap *indexer.Snapshot, queryTerms []string, ids []string, k int, opts MMROptions) []Candidate {
	k1, b := opts.K1, opts.B
	if k1 <= 0 {
		k1 = 1.5
	}
	if b <= 0 {
		b = 0.75
	}
	bm25 := snap.BM25(queryTerms, k1, b)

	var hi float64
	cands := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		c, ok := snap.Chunk(id)
		if !ok {
			continue
		}
		hi = max(hi, bm25[id])
		cands = append(cands, Candidate{
			ChunkID:  c.ID,
			FilePath: c.FilePath,
			Score:    bm25[id],
			Terms:    c.Terms,
			Content:  c.Content,
		})
	}
	rel := make([]float64, len(cands))
	for i := range cands {
		if hi > 0 {
			cands[i].Score /= hi
		}
		rel[i] = cands[i].Score
	}
	return selectMMR(ctx, cands, rel, k, opts)
}

// selectMMR runs the greedy pass. The best candidate seeds the selection;
// each following pick maximises lambda*rel - (1-lambda)*max_sim, ties going
// to the earlier candidate in tie-break order.
func selectMMR(ctx context.Context, candidates []Candidate, rel []float64, k int, opts MMROptions) []Candidate {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	lambda := opts.Lambda
	if lambda <= 0 {
		lambda = DefaultLambda
	}
	lambda = min(lambda, 1)

	// order holds the candidates in tie-break order with relevance as score.
	order := make([]Candidate, len(candidates))
	pos := make([]int, len(candidates))
	for i, c := range candidates {
		order[i] = c
		order[i].Score = rel[i]
		pos[i] = i
	}
	sort.Sort(byRelevance{order, pos})

	sim := newSimilarity(ctx, order, opts.Embed)

	k = min(k, len(order))
	selected := make([]int, 0, k)
	used := make([]bool, len(order))
	selected = append(selected, 0)
	used[0] = true

	for len(selected) < k && ctx.Err() == nil {
		best, bestScore := -1, 0.0
		for i := range order {
			if used[i] {
				continue
			}
			maxSim := 0.0
			for _, j := range selected {
				maxSim = max(maxSim, sim(i, j))
			}
			score := lambda*order[i].Score - (1-lambda)*maxSim
			if best < 0 || score > bestScore {
				best, bestScore = i, score
			}
		}
		selected = append(selected, best)
		used[best] = true
	}

	out := make([]Candidate, len(selected))
	for n, i := range selected {
		out[n] = candidates[pos[i]]
	}
	return out
}

// byRelevance sorts candidates and their original positions together.
type byRelevance struct {
	c   []Candidate
	pos []int
}

func (s byRelevance) Len() int           { return len(s.c) }
func (s byRelevance) Less(i, j int) bool { return less(&s.c[i], &s.c[j]) }
func (s byRelevance) Swap(i, j int) {
	s.c[i], s.c[j] = s.c[j], s.c[i]
	s.pos[i], s.pos[j] = s.pos[j], s.pos[i]
}

// newSimilarity returns a pairwise similarity over order. Cosine over
// embeddings is used only when every candidate embeds; otherwise the whole
// pass uses Jaccard over term sets.
func newSimilarity(ctx context.Context, order []Candidate, embed EmbedFunc) func(i, j int) float64 {
	if embed != nil {
		vecs := make([][]float32, len(order))
		ok := true
		for i, c := range order {
			v, err := embed(ctx, c)
			if err != nil || len(v) == 0 {
				ok = false
				break
			}
			vecs[i] = v
		}
		if ok {
			return func(i, j int) float64 { return semantic.Cosine(vecs[i], vecs[j]) }
		}
	}

	sets := make([]map[string]struct{}, len(order))
	for i, c := range order {
		set := make(map[string]struct{}, len(c.Terms))
		for _, t := range c.Terms {
			set[t] = struct{}{}
		}
		sets[i] = set
	}
	return func(i, j int) float64 { return jaccard(sets[i], sets[j]) }
}

// jaccard returns |a ∩ b| / |a ∪ b|; 0 when either set is empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}
