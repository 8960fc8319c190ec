package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/agentbackend/pkg/embedding"
	"github.com/codeready-toolchain/agentbackend/pkg/metrics"
	"github.com/codeready-toolchain/agentbackend/pkg/vecmath"
)

// ErrEmptyQuery is returned for a blank (or all-whitespace) query string.
var ErrEmptyQuery = errors.New("query must not be empty")

// Engine runs hybrid search over memories and notes.
type Engine struct {
	db       *sqlx.DB
	embedder *embedding.Client
}

// NewEngine builds an Engine. embedder may be nil, in which case every
// search degrades to lexical-only.
func NewEngine(db *sqlx.DB, embedder *embedding.Client) *Engine {
	return &Engine{db: db, embedder: embedder}
}

// Search executes req and returns a ranked, access-controlled result set.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}

	start := time.Now()
	defer func() { metrics.SearchDurationSeconds.Observe(time.Since(start).Seconds()) }()

	limit := req.normalizedLimit()
	k := candidateSize(limit)

	vectorEligible := e.embedder != nil && e.embedder.Configured() && tokenCount(req.Query) >= minQueryTokens

	var (
		lexical         []scoredRow
		vector          []scoredRow
		lexicalErr      error
		vectorSucceeded bool
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		lexical, lexicalErr = e.runLexical(ctx, req, k)
	}()

	var queryEmbedding []float32
	var embedErr error
	if vectorEligible {
		queryEmbedding, embedErr = e.embedder.Embed(ctx, req.Query)
		if embedErr != nil {
			slog.Warn("query embedding failed, degrading to text-only search", "error", embedErr)
			vectorEligible = false
		}
	}

	if vectorEligible {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			vector, err = e.runVector(ctx, req, queryEmbedding, k)
			if err != nil {
				slog.Warn("vector candidate query failed, continuing with text only", "error", err)
				vector = nil
				return
			}
			vectorSucceeded = true
		}()
	}

	wg.Wait()
	if lexicalErr != nil {
		return nil, lexicalErr
	}

	searchType := SearchTypeText
	if vectorSucceeded {
		searchType = SearchTypeHybrid
	}
	metrics.SearchRequestsTotal.WithLabelValues(string(searchType)).Inc()

	combined := combine(lexical, vector, req)

	vectorWeight, textWeight := req.weights()
	start, end := paginate(len(combined), req.Offset, limit)

	results := make([]Result, 0, end-start)
	for _, c := range combined[start:end] {
		results = append(results, Result{
			ID: c.ID, Source: c.Source, Title: c.Title, Content: c.Content,
			Namespace: c.Namespace, VectorScore: c.vectorScore, TextScore: c.textScore,
			CombinedScore: c.combinedScore, UpdatedAt: c.UpdatedAt,
		})
	}

	return &Response{
		Results:    results,
		SearchType: searchType,
		Weights:    Weights{Vector: vectorWeight, Text: textWeight},
	}, nil
}

func (e *Engine) runLexical(ctx context.Context, req Request, k int) ([]scoredRow, error) {
	memories, err := lexicalCandidates(ctx, e.db, "memories", "memory", req, k)
	if err != nil {
		return nil, err
	}
	notes, err := lexicalCandidates(ctx, e.db, "notes", "note", req, k)
	if err != nil {
		return nil, err
	}
	return append(memories, notes...), nil
}

func (e *Engine) runVector(ctx context.Context, req Request, queryEmbedding []float32, k int) ([]scoredRow, error) {
	memories, err := vectorCandidates(ctx, e.db, "memories", "memory", req, queryEmbedding, k)
	if err != nil {
		return nil, err
	}
	notes, err := vectorCandidates(ctx, e.db, "notes", "note", req, queryEmbedding, k)
	if err != nil {
		return nil, err
	}
	return append(memories, notes...), nil
}

// candidateSize is how many rows each of the lexical and vector queries
// fetch before combination: max(50, 4*limit), so normalization and ranking
// have enough candidates to work with even at small page sizes.
func candidateSize(limit int) int {
	if k := 4 * limit; k > minCandidates {
		return k
	}
	return minCandidates
}

func tokenCount(query string) int {
	return len(strings.Fields(query))
}

// combinedRow is one deduplicated row carrying both per-space scores.
type combinedRow struct {
	Row
	vectorScore   float64
	textScore     float64
	combinedScore float64
}

// combine normalizes each candidate set to [0,1], merges by row id (a row
// present in both sets keeps both per-space scores), applies the keyword
// boost, and sorts by combined score desc, then updated_at desc, then id
// asc.
func combine(lexical, vector []scoredRow, req Request) []combinedRow {
	textScores := normalizeByID(lexical)
	vectorScores := normalizeByID(vector)

	byID := make(map[string]*combinedRow)
	order := make([]string, 0, len(lexical)+len(vector))

	upsert := func(row Row, textScore, vectorScore float64) {
		existing, ok := byID[row.ID]
		if !ok {
			existing = &combinedRow{Row: row}
			byID[row.ID] = existing
			order = append(order, row.ID)
		}
		if textScore > 0 {
			existing.textScore = textScore
		}
		if vectorScore > 0 {
			existing.vectorScore = vectorScore
		}
	}

	for _, r := range lexical {
		upsert(r.Row, textScores[r.ID], 0)
	}
	for _, r := range vector {
		upsert(r.Row, 0, vectorScores[r.ID])
	}

	vectorWeight, textWeight := req.weights()
	queryTokens := lowerTokens(req.Query)

	out := make([]combinedRow, 0, len(order))
	for _, id := range order {
		row := byID[id]
		combinedScore := vectorWeight*row.vectorScore + textWeight*row.textScore
		if hasKeywordMatch(row.Row, queryTokens) {
			combinedScore += defaultKeywordBoost
		}
		if combinedScore > 1 {
			combinedScore = 1
		}
		row.combinedScore = combinedScore
		out = append(out, *row)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].combinedScore != out[j].combinedScore {
			return out[i].combinedScore > out[j].combinedScore
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})

	return out
}

// normalizeByID min/max-normalizes raw scores within rows and returns them
// keyed by row id; a row with no raw score normalizes to 0 (handled by the
// caller never looking it up).
func normalizeByID(rows []scoredRow) map[string]float64 {
	if len(rows) == 0 {
		return map[string]float64{}
	}
	raw := make([]float64, len(rows))
	for i, r := range rows {
		raw[i] = r.Score
	}
	normalized := vecmath.NormalizeMinMax(raw)

	out := make(map[string]float64, len(rows))
	for i, r := range rows {
		out[r.ID] = normalized[i]
	}
	return out
}

// hasKeywordMatch reports whether the combined-score boost applies: a query
// token appears in the title, or one of the row's tags appears in the
// title. A tag that merely matches a query token, without that text
// appearing in the title, does not qualify — the boost rewards title
// relevance, not an arbitrary tag/query coincidence.
func hasKeywordMatch(row Row, queryTokens map[string]struct{}) bool {
	title := strings.ToLower(row.Title)
	for token := range queryTokens {
		if strings.Contains(title, token) {
			return true
		}
	}
	for _, tag := range row.Tags {
		if strings.Contains(title, strings.ToLower(tag)) {
			return true
		}
	}
	return false
}

func lowerTokens(query string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(query))
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

func paginate(total, offset, limit int) (start, end int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	start = offset
	end = start + limit
	if end > total {
		end = total
	}
	return start, end
}
