package searcher

import (
	"math"
	"time"

	"github.com/dshills/codectx-mcp/internal/indexer"
)

// Recency defaults
const (
	DefaultHalfLifeDays  = 30.0
	DefaultRecencyWeight = 0.15
)

// RecencyWeights returns 0.5^(age_days/halfLifeDays) per chunk, where age
// is measured from the chunk's source mtime to now and clamped at 0. Ids
// absent from the snapshot are skipped.
func RecencyWeights(snap *indexer.Snapshot, ids []string, now time.Time, halfLifeDays float64) map[string]float64 {
	if halfLifeDays <= 0 {
		halfLifeDays = DefaultHalfLifeDays
	}
	out := make(map[string]float64, len(ids))
	for _, id := range ids {
		c, ok := snap.Chunk(id)
		if !ok {
			continue
		}
		ageDays := max(0, now.Sub(c.MTime).Hours()/24)
		out[id] = math.Pow(0.5, ageDays/halfLifeDays)
	}
	return out
}

// MinMaxNormalize maps scores onto [0, 1]. When every score is equal,
// positive scores map to 1 and the rest to 0.
func MinMaxNormalize(scores map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		lo = min(lo, s)
		hi = max(hi, s)
	}
	span := hi - lo
	for id, s := range scores {
		switch {
		case span > 0:
			out[id] = (s - lo) / span
		case s > 0:
			out[id] = 1
		default:
			out[id] = 0
		}
	}
	return out
}

// BlendRecency min-max normalizes both maps and returns
// (1-weight)*bm25 + weight*recency for every id in bm25.
func BlendRecency(bm25, recency map[string]float64, weight float64) map[string]float64 {
	b := MinMaxNormalize(bm25)
	r := MinMaxNormalize(recency)
	out := make(map[string]float64, len(b))
	for id, s := range b {
		out[id] = (1-weight)*s + weight*r[id]
	}
	return out
}
