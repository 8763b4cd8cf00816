package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPost    ResultType = "post"
	ResultComment ResultType = "comment"
	ResultTag     ResultType = "tag"
)

// Result is a single search hit returned to the caller. AuthorID is empty
// for tags.
type Result struct {
	Type     ResultType `json:"type" db:"type"`
	ID       string     `json:"id" db:"id"`
	Title    string     `json:"title" db:"title"`
	Snippet  string     `json:"snippet" db:"snippet"`
	PostID   string     `json:"postId" db:"post_id"`
	AuthorID string     `json:"authorId" db:"author_id"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexPost(p PostRecord) error
	IndexComment(c CommentRecord) error
	IndexTag(t TagRecord) error
	DeletePost(id string) error
	DeleteComment(id string) error
	DeleteTag(id string) error
}

type PostRecord struct {
	ID         string `json:"id" db:"id"`
	Title      string `json:"title" db:"title"`
	Content    string `json:"content" db:"content"`
	AuthorID   string `json:"authorId" db:"author_id"`
	CategoryID string `json:"categoryId" db:"category_id"`
}

type CommentRecord struct {
	ID       string `json:"id" db:"id"`
	Content  string `json:"content" db:"content"`
	PostID   string `json:"postId" db:"post_id"`
	AuthorID string `json:"authorId" db:"author_id"`
}

// TagRecord is indexed only once the tag is approved.
type TagRecord struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}
