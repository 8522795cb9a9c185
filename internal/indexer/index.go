package indexer

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/codectx-mcp/pkg/types"
)

// state is an immutable view of the index. A new state is built for every
// mutation and published with a single pointer swap.
type state struct {
	chunks      map[string]types.Chunk
	byFile      map[string][]string // file path -> chunk ids ordered by start line
	postings    map[string]map[string]int
	docLen      map[string]int
	avgdl       float64
	fileMTimes  map[string]time.Time
	version     string
	lastUpdated time.Time
}

func emptyState() *state {
	return buildState(nil, nil, time.Time{})
}

// buildState derives postings, lengths and the version from chunks.
func buildState(chunks map[string]types.Chunk, mtimes map[string]time.Time, lastUpdated time.Time) *state {
	if chunks == nil {
		chunks = make(map[string]types.Chunk)
	}
	if mtimes == nil {
		mtimes = make(map[string]time.Time)
	}

	s := &state{
		chunks:      chunks,
		byFile:      make(map[string][]string),
		postings:    make(map[string]map[string]int),
		docLen:      make(map[string]int, len(chunks)),
		fileMTimes:  mtimes,
		lastUpdated: lastUpdated,
	}

	total := 0
	for id, c := range chunks {
		s.byFile[c.FilePath] = append(s.byFile[c.FilePath], id)
		s.docLen[id] = c.TokenCount
		total += c.TokenCount
		for _, term := range c.Terms {
			p := s.postings[term]
			if p == nil {
				p = make(map[string]int)
				s.postings[term] = p
			}
			p[id]++
		}
	}
	for path, ids := range s.byFile {
		sort.Slice(ids, func(i, j int) bool {
			a, b := chunks[ids[i]], chunks[ids[j]]
			if a.StartLine != b.StartLine {
				return a.StartLine < b.StartLine
			}
			return a.ID < b.ID
		})
		s.byFile[path] = ids
	}

	s.avgdl = 1
	if len(chunks) > 0 && total > 0 {
		s.avgdl = float64(total) / float64(len(chunks))
	}

	list := make([]types.Chunk, 0, len(chunks))
	for _, c := range chunks {
		list = append(list, c)
	}
	s.version = ComputeIndexVersion(list)
	return s
}

// Index holds the current state. Writers serialize on mu; readers take a
// Snapshot and never block.
type Index struct {
	mu  sync.Mutex
	cur atomic.Pointer[state]
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	x := &Index{}
	x.cur.Store(emptyState())
	return x
}

// Snapshot returns a read-only view of the current state.
func (x *Index) Snapshot() *Snapshot {
	return &Snapshot{s: x.cur.Load()}
}

// Replace swaps in a state built from chunks and mtimes.
func (x *Index) Replace(chunks []types.Chunk, mtimes map[string]time.Time, lastUpdated time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()

	m := make(map[string]types.Chunk, len(chunks))
	for _, c := range chunks {
		m[c.ID] = c
	}
	mt := make(map[string]time.Time, len(mtimes))
	for k, v := range mtimes {
		mt[k] = v
	}
	x.cur.Store(buildState(m, mt, lastUpdated))
}

// mutation is a file-scoped change applied by commit.
type mutation struct {
	removed  []string
	replaced map[string]time.Time
	chunks   []types.Chunk
}

func (m *mutation) empty() bool {
	return len(m.removed) == 0 && len(m.replaced) == 0
}

// apply returns the state that results from m on top of s.
func (s *state) apply(m *mutation, now time.Time) *state {
	chunks := make(map[string]types.Chunk, len(s.chunks)+len(m.chunks))
	for id, c := range s.chunks {
		chunks[id] = c
	}
	mtimes := make(map[string]time.Time, len(s.fileMTimes)+len(m.replaced))
	for p, t := range s.fileMTimes {
		mtimes[p] = t
	}

	for _, path := range m.removed {
		for _, id := range s.byFile[path] {
			delete(chunks, id)
		}
		delete(mtimes, path)
	}
	for path, mtime := range m.replaced {
		for _, id := range s.byFile[path] {
			delete(chunks, id)
		}
		mtimes[path] = mtime
	}
	for _, c := range m.chunks {
		chunks[c.ID] = c
	}
	return buildState(chunks, mtimes, now)
}

// Snapshot is a consistent read-only view of the index.
type Snapshot struct {
	s *state
}

// Chunk returns the chunk with id.
func (sn *Snapshot) Chunk(id string) (types.Chunk, bool) {
	c, ok := sn.s.chunks[id]
	return c, ok
}

// Chunks returns all chunks ordered by file path, start line and id.
func (sn *Snapshot) Chunks() []types.Chunk {
	out := make([]types.Chunk, 0, len(sn.s.chunks))
	for _, path := range sn.Files() {
		for _, id := range sn.s.byFile[path] {
			out = append(out, sn.s.chunks[id])
		}
	}
	return out
}

// FileChunks returns the chunks of path ordered by start line.
func (sn *Snapshot) FileChunks(path string) []types.Chunk {
	ids := sn.s.byFile[path]
	out := make([]types.Chunk, 0, len(ids))
	for _, id := range ids {
		out = append(out, sn.s.chunks[id])
	}
	return out
}

// Files returns the sorted paths of files that have an mtime entry.
func (sn *Snapshot) Files() []string {
	seen := make(map[string]struct{}, len(sn.s.fileMTimes)+len(sn.s.byFile))
	for p := range sn.s.fileMTimes {
		seen[p] = struct{}{}
	}
	for p := range sn.s.byFile {
		seen[p] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of chunks.
func (sn *Snapshot) Len() int { return len(sn.s.chunks) }

// FileCount returns the number of tracked files.
func (sn *Snapshot) FileCount() int { return len(sn.s.fileMTimes) }

// AvgDocLen returns the mean chunk length in tokens, 1 when empty.
func (sn *Snapshot) AvgDocLen() float64 { return sn.s.avgdl }

// DocLen returns the token count of a chunk.
func (sn *Snapshot) DocLen(id string) int { return sn.s.docLen[id] }

// Version returns the index version digest.
func (sn *Snapshot) Version() string { return sn.s.version }

// LastUpdated returns the time of the last mutation.
func (sn *Snapshot) LastUpdated() time.Time { return sn.s.lastUpdated }

// FileMTime returns the recorded modification time of path.
func (sn *Snapshot) FileMTime(path string) (time.Time, bool) {
	t, ok := sn.s.fileMTimes[path]
	return t, ok
}

// Postings returns chunk id -> term frequency for term. The map must not be
// modified.
func (sn *Snapshot) Postings(term string) map[string]int {
	return sn.s.postings[term]
}
