package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/agentbackend/pkg/errs"
	"github.com/codeready-toolchain/agentbackend/pkg/vecmath"
)

// vectorCandidatePoolSize bounds how many embedded rows are pulled from the
// database per table before cosine-scoring in application code (no pgvector
// extension is assumed to be installed, so nearest-neighbor scoring happens
// in Go over a bounded candidate pool rather than in SQL).
const vectorCandidatePoolSize = 500

type vectorRow struct {
	ID        string    `db:"id"`
	Namespace string    `db:"namespace"`
	Title     string    `db:"title"`
	Content   string    `db:"content"`
	Tags      []string  `db:"tags"`
	UpdatedAt time.Time `db:"updated_at"`
	Embedding []byte    `db:"embedding"`
}

// vectorCandidates pulls up to vectorCandidatePoolSize embedded rows from
// table, scores each by cosine similarity to queryEmbedding, and returns the
// top k.
func vectorCandidates(ctx context.Context, db *sqlx.DB, table, source string, req Request, queryEmbedding []float32, k int) ([]scoredRow, error) {
	p := accessPredicateFor(table, req)
	p.where("embedding_status = 'complete'")
	p.where("embedding IS NOT NULL")
	limitParam := p.bind(vectorCandidatePoolSize)

	query := fmt.Sprintf(`
		SELECT id, namespace, title, content, tags, updated_at, embedding
		FROM %s
		WHERE %s
		ORDER BY updated_at DESC
		LIMIT %s`, table, p.sql(), limitParam)

	var rows []vectorRow
	if err := db.SelectContext(ctx, &rows, query, p.args...); err != nil {
		return nil, errs.NewStorageError("vector candidates for "+table, err)
	}

	scored := make([]scoredRow, 0, len(rows))
	for _, r := range rows {
		var embedding []float32
		if err := json.Unmarshal(r.Embedding, &embedding); err != nil {
			continue
		}
		scored = append(scored, scoredRow{
			Row: Row{
				ID: r.ID, Source: source, Namespace: r.Namespace, Title: r.Title,
				Content: r.Content, Tags: r.Tags, UpdatedAt: r.UpdatedAt, Embedding: embedding,
			},
			Score: vecmath.CosineSimilarity(embedding, queryEmbedding),
		})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}
