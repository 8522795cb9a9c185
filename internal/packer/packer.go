package packer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/codectx-mcp/internal/chunker"
	"github.com/dshills/codectx-mcp/internal/indexer"
	"github.com/dshills/codectx-mcp/internal/searcher"
	"github.com/dshills/codectx-mcp/pkg/types"
)

// Pack defaults
const (
	DefaultBudgetTokens = 2000
	DefaultMaxChunks    = 5

	// SummaryLines caps the lines kept in a chunk summary.
	SummaryLines = 18

	// trimStep is the number of trailing lines dropped per trimming pass.
	trimStep = 3
	// minTrimChars is the shortest snippet that is still trimmed further.
	minTrimChars = 40
	// candidateFactor sizes the search relative to MaxChunks.
	candidateFactor = 3
)

// Searcher is the search surface a Builder needs.
type Searcher interface {
	Search(ctx context.Context, req types.SearchRequest) (*searcher.SearchResponse, error)
	EmbedFunc(snap *indexer.Snapshot) searcher.EmbedFunc
}

// Options configures a Builder.
type Options struct {
	MMRLambda float64
	K1, B     float64
	Logger    *slog.Logger
}

// Builder assembles token-budgeted context packs from search results.
type Builder struct {
	search Searcher
	opts   Options
	logger *slog.Logger
}

// New creates a Builder over s.
func New(s Searcher, opts Options) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{search: s, opts: opts, logger: logger}
}

// Build runs a search for req.Query, selects up to MaxChunks chunks and
// fits their summaries into BudgetTokens. The first selected chunk is
// always included; later chunks that cannot be trimmed to fit are skipped.
func (b *Builder) Build(ctx context.Context, req types.PackRequest) (*types.ContextPack, error) {
	req, err := Normalize(req)
	if err != nil {
		return nil, err
	}

	resp, err := b.search.Search(ctx, types.SearchRequest{
		Query:       req.Query,
		Limit:       req.MaxChunks * candidateFactor,
		UseSemantic: req.UseSemantic,
		UseMMR:      types.BoolPtr(false),
	})
	if err != nil {
		return nil, fmt.Errorf("context pack search: %w", err)
	}

	pack := &types.ContextPack{
		Query:        req.Query,
		Strategy:     req.Strategy,
		BudgetTokens: req.BudgetTokens,
		Chunks:       []types.PackedChunk{},
		SearchType:   resp.SearchType,
	}
	if len(resp.Results) == 0 {
		return pack, nil
	}

	snap := resp.Snapshot
	queryTerms := chunker.Tokenize(req.Query)
	ids := b.selectIDs(ctx, snap, resp, queryTerms, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qset := chunker.TokenSet(queryTerms)
	remaining := req.BudgetTokens
	for _, id := range ids {
		if len(pack.Chunks) >= req.MaxChunks || remaining <= 0 {
			break
		}
		c, ok := snap.Chunk(id)
		if !ok {
			continue
		}

		header := Header(&c)
		summary := Summarize(&c, qset, SummaryLines)
		snippet, est := Fit(summary, remaining)
		if est > remaining && len(pack.Chunks) > 0 {
			continue
		}

		raw := chunker.EstimateTokens(c.Content)
		saved := max(0, raw-est)
		pack.Chunks = append(pack.Chunks, types.PackedChunk{
			ChunkID:         c.ID,
			Header:          header,
			Summary:         summary,
			ContentSnippet:  snippet,
			TokensRaw:       raw,
			EstimatedTokens: est,
			TokensSaved:     saved,
		})
		pack.TotalTokens += est
		pack.CompressionTokensSaved += saved
		remaining -= est
	}
	pack.TokensSaved = pack.CompressionTokensSaved

	b.logger.Debug("built context pack",
		"query", req.Query,
		"chunks", len(pack.Chunks),
		"total_tokens", pack.TotalTokens,
		"budget", req.BudgetTokens,
		"search_type", pack.SearchType)
	return pack, nil
}

// selectIDs orders the search results by strategy.
func (b *Builder) selectIDs(ctx context.Context, snap *indexer.Snapshot, resp *searcher.SearchResponse, queryTerms []string, req types.PackRequest) []string {
	ids := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.ChunkID
	}
	if req.Strategy == types.StrategyTopK {
		return ids[:min(len(ids), req.MaxChunks)]
	}

	var embed searcher.EmbedFunc
	if resp.SearchType == types.SearchTypeHybrid {
		embed = b.search.EmbedFunc(snap)
	}
	picked := searcher.SelectMMRFromIndex(ctx, snap, queryTerms, ids, req.MaxChunks, searcher.MMROptions{
		Lambda: b.opts.MMRLambda,
		Embed:  embed,
		K1:     b.opts.K1,
		B:      b.opts.B,
	})
	out := make([]string, len(picked))
	for i, p := range picked {
		out[i] = p.ChunkID
	}
	return out
}

// Normalize fills request defaults and validates the strategy.
func Normalize(req types.PackRequest) (types.PackRequest, error) {
	if strings.TrimSpace(req.Query) == "" {
		return req, types.ErrEmptyQuery
	}
	if req.BudgetTokens <= 0 {
		req.BudgetTokens = DefaultBudgetTokens
	}
	if req.MaxChunks <= 0 {
		req.MaxChunks = DefaultMaxChunks
	}
	req.Strategy = strings.ToLower(strings.TrimSpace(req.Strategy))
	switch req.Strategy {
	case "":
		req.Strategy = types.StrategyMMR
	case types.StrategyMMR, types.StrategyTopK:
	default:
		return req, fmt.Errorf("%w: %q", types.ErrInvalidStrategy, req.Strategy)
	}
	return req, nil
}

// Header formats "path:start-end".
func Header(c *types.Chunk) string {
	return fmt.Sprintf("%s:%d-%d", c.FilePath, c.StartLine, c.EndLine)
}

// Summarize returns the header followed by the chunk lines that share a
// token with the query, or the leading lines when none do, capped at
// maxLines.
func Summarize(c *types.Chunk, query map[string]struct{}, maxLines int) string {
	lines := strings.Split(strings.TrimRight(c.Content, "\n"), "\n")

	picked := make([]string, 0, maxLines)
	for _, ln := range lines {
		if len(picked) >= maxLines {
			break
		}
		for _, tok := range chunker.Tokenize(ln) {
			if _, ok := query[tok]; ok {
				picked = append(picked, ln)
				break
			}
		}
	}
	if len(picked) == 0 {
		picked = lines[:min(len(lines), maxLines)]
	}
	return Header(c) + "\n" + strings.Join(picked, "\n")
}

// Fit trims trailing lines from text, trimStep at a time, until its token
// estimate fits budget or it is too short to trim. It returns the text and
// its estimate, which may still exceed budget.
func Fit(text string, budget int) (string, int) {
	est := chunker.EstimateTokens(text)
	for est > budget && strings.Contains(text, "\n") && len(text) >= minTrimChars {
		lines := strings.Split(text, "\n")
		if len(lines) > trimStep {
			lines = lines[:len(lines)-trimStep]
		} else {
			lines = lines[:1]
		}
		text = strings.Join(lines, "\n")
		est = chunker.EstimateTokens(text)
	}
	return text, est
}
