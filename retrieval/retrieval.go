// Package retrieval fetches knowledge snippets relevant to a customer
// utterance, ranked most-relevant-first by vector similarity.
package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Searcher returns context snippets for a query, most relevant first.
type Searcher interface {
	FetchContext(ctx context.Context, businessID, query string, limit int) ([]string, error)
}

// Embedder converts text into the vector space the snippet index uses.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Querier is the subset of pgx used by PgSearcher. Both *pgx.Conn and
// *pgxpool.Pool satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgSearcher ranks knowledge snippets with a pgvector nearest-neighbor
// query over per-business content.
type PgSearcher struct {
	db       Querier
	embedder Embedder
}

// NewPgSearcher creates a Postgres-backed snippet searcher.
func NewPgSearcher(db Querier, embedder Embedder) *PgSearcher {
	return &PgSearcher{db: db, embedder: embedder}
}

// FetchContext embeds the query and returns the limit nearest snippets for
// the business, most relevant first.
func (s *PgSearcher) FetchContext(ctx context.Context, businessID, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 3
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query failed: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT content FROM knowledge_snippets
		 WHERE business_id = $1
		 ORDER BY embedding <-> $2::vector
		 LIMIT $3`,
		businessID, vectorLiteral(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("snippet query failed: %w", err)
	}
	defer rows.Close()

	var snippets []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("snippet scan failed: %w", err)
		}
		snippets = append(snippets, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snippet iteration failed: %w", err)
	}
	return snippets, nil
}

// vectorLiteral renders a float slice in pgvector's input syntax.
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
