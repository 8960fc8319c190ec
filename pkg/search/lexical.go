package search

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/agentbackend/pkg/errs"
)

// scoredRow pairs a candidate row with its raw (unnormalized) score from
// whichever candidate query produced it.
type scoredRow struct {
	Row
	Score float64
}

type lexicalRow struct {
	ID        string    `db:"id"`
	Namespace string    `db:"namespace"`
	Title     string    `db:"title"`
	Content   string    `db:"content"`
	Tags      []string  `db:"tags"`
	UpdatedAt time.Time `db:"updated_at"`
	Rank      float64   `db:"rank"`
}

// lexicalCandidates runs the full-text ranking query against table
// ("memories" or "notes") using the GIN index pkg/database.CreateGINIndexes
// maintains, returning up to k candidates ordered by rank desc.
func lexicalCandidates(ctx context.Context, db *sqlx.DB, table, source string, req Request, k int) ([]scoredRow, error) {
	p := accessPredicateFor(table, req)
	queryParam := p.bind(req.Query)
	limitParam := p.bind(k)

	query := fmt.Sprintf(`
		SELECT id, namespace, title, content, tags, updated_at,
		       ts_rank(to_tsvector('english', title || ' ' || content), plainto_tsquery('english', %s)) AS rank
		FROM %s
		WHERE %s
		  AND to_tsvector('english', title || ' ' || content) @@ plainto_tsquery('english', %s)
		ORDER BY rank DESC
		LIMIT %s`, queryParam, table, p.sql(), queryParam, limitParam)

	var rows []lexicalRow
	if err := db.SelectContext(ctx, &rows, query, p.args...); err != nil {
		return nil, errs.NewStorageError("lexical candidates for "+table, err)
	}

	out := make([]scoredRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, scoredRow{
			Row: Row{
				ID: r.ID, Source: source, Namespace: r.Namespace, Title: r.Title,
				Content: r.Content, Tags: r.Tags, UpdatedAt: r.UpdatedAt,
			},
			Score: r.Rank,
		})
	}
	return out, nil
}

func accessPredicateFor(table string, req Request) *predicate {
	if table == "notes" {
		return noteAccessPredicate(req)
	}
	return memoryAccessPredicate(req)
}
