// Package search implements the hybrid lexical+vector search engine over
// memories and notes: parallel lexical and vector candidate queries,
// per-set min/max normalization, weighted combination, keyword boost,
// dedup, and access control via namespace grants and per-row visibility.
// The two candidate queries run concurrently; pkg/vecmath supplies the
// cosine similarity for vector scores and the min/max score normalization.
package search

import "time"

// SearchType reports which scoring path(s) actually ran.
type SearchType string

// Search types.
const (
	SearchTypeHybrid SearchType = "hybrid"
	SearchTypeText   SearchType = "text"
	SearchTypeVector SearchType = "vector"
)

// defaultVectorWeight and defaultTextWeight are the documented combination
// weights; they need not sum to 1 — normalizing them would change rankings,
// so they are left as-is (see DESIGN.md's "Open Question decisions").
const (
	defaultVectorWeight = 0.7
	defaultTextWeight   = 0.3
	defaultKeywordBoost = 0.05
	minCandidates       = 50
	minQueryTokens      = 2
)

// Request is a hybrid search query.
type Request struct {
	CallerEmail  string
	Query        string
	Namespaces   []string
	Tags         []string
	MemoryType   string
	Limit        int
	Offset       int
	VectorWeight *float64
	TextWeight   *float64
}

// normalizedLimit applies the default page size of 20, capped at 100.
func (r Request) normalizedLimit() int {
	if r.Limit <= 0 {
		return 20
	}
	if r.Limit > 100 {
		return 100
	}
	return r.Limit
}

func (r Request) weights() (vector, text float64) {
	vector, text = defaultVectorWeight, defaultTextWeight
	if r.VectorWeight != nil {
		vector = *r.VectorWeight
	}
	if r.TextWeight != nil {
		text = *r.TextWeight
	}
	return
}

// Row is a search candidate, either a memory or a note, normalized to a
// common shape.
type Row struct {
	ID        string
	Source    string // "memory" or "note"
	Namespace string
	Title     string
	Content   string
	Tags      []string
	Embedding []float32
	UpdatedAt time.Time
}

// Result is one ranked hit returned to the caller.
type Result struct {
	ID            string  `json:"id"`
	Source        string  `json:"source"`
	Title         string  `json:"title"`
	Content       string  `json:"content"`
	Namespace     string  `json:"namespace"`
	VectorScore   float64 `json:"vector_score"`
	TextScore     float64 `json:"text_score"`
	CombinedScore float64 `json:"combined_score"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Weights echoes the weights actually applied.
type Weights struct {
	Vector float64 `json:"vector"`
	Text   float64 `json:"text"`
}

// Response is the hybrid search result set.
type Response struct {
	Results    []Result   `json:"results"`
	SearchType SearchType `json:"search_type"`
	Weights    Weights    `json:"weights"`
}
