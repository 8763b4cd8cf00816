package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sqlx.DB
}

func NewPgFTS(db *sqlx.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// The tsvector expressions must match the GIN indexes in 0002_search.
const (
	postVector    = `to_tsvector('english', p.title || ' ' || p.content)`
	commentVector = `to_tsvector('english', c.content)`
)

// Search runs a UNION ALL over posts, comments and approved tags ranked by
// ts_rank, with ts_headline snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const tsQuery = "plainto_tsquery('english', $1)"
	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultPost {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'post'::text AS type, p.id, p.title,
				ts_headline('english', p.content, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS post_id, p.user_id AS author_id,
				ts_rank(%[2]s, %[1]s) AS rank
			FROM posts p
			WHERE %[2]s @@ %[1]s`, tsQuery, postVector))
	}
	if q.FilterType == "" || q.FilterType == ResultComment {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, ''::text AS title,
				ts_headline('english', c.content, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.post_id, c.user_id AS author_id,
				ts_rank(%[2]s, %[1]s) AS rank
			FROM comments c
			WHERE %[2]s @@ %[1]s`, tsQuery, commentVector))
	}
	if q.FilterType == "" || q.FilterType == ResultTag {
		subQueries = append(subQueries, `
			SELECT 'tag'::text AS type, t.id, t.name AS title, ''::text AS snippet,
				''::text AS post_id, ''::text AS author_id,
				0.1::real AS rank
			FROM tags t
			WHERE t.approved AND t.name ILIKE '%' || $1::text || '%'`)
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.GetContext(ctx, &total, fmt.Sprintf("SELECT count(*) FROM (%s) sub", union), q.Text); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	var results []Result
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, post_id, author_id
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset)
	if err := p.db.SelectContext(ctx, &results, dataSQL, q.Text); err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	return results, total, nil
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PostRecord, []CommentRecord, []TagRecord, error) {
	posts := make([]PostRecord, 0)
	if err := p.db.SelectContext(ctx, &posts, `
		SELECT id, title, content, user_id AS author_id, coalesce(category_id, '') AS category_id
		FROM posts
	`); err != nil {
		return nil, nil, nil, fmt.Errorf("load posts: %w", err)
	}

	comments := make([]CommentRecord, 0)
	if err := p.db.SelectContext(ctx, &comments, `
		SELECT id, content, post_id, user_id AS author_id
		FROM comments
	`); err != nil {
		return nil, nil, nil, fmt.Errorf("load comments: %w", err)
	}

	tags := make([]TagRecord, 0)
	if err := p.db.SelectContext(ctx, &tags, `SELECT id, name FROM tags WHERE approved`); err != nil {
		return nil, nil, nil, fmt.Errorf("load tags: %w", err)
	}
	return posts, comments, tags, nil
}
