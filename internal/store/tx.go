package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"runtime/debug"

	"github.com/jmoiron/sqlx"
)

// Tx exposes the statements that must run inside a single unit of work.
type Tx struct {
	tx *sqlx.Tx
}

// WithTx runs fn in a transaction. It commits when fn returns nil and rolls
// back on error or panic; a panic is re-raised after the rollback.
func (s *PostgresStore) WithTx(ctx context.Context, reason string, fn func(*Tx) error) error {
	log.Printf("store: begin tx (%s)", reason)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx %s: %w", reason, err)
	}

	committed := false
	defer func() {
		panicErr := recover()
		if panicErr != nil {
			log.Printf("store: panic in tx (%s): %v\n%s", reason, panicErr, debug.Stack())
		}
		if !committed {
			rbErr := tx.Rollback()
			switch {
			case rbErr == nil:
				log.Printf("store: rolled back tx (%s)", reason)
			case !errors.Is(rbErr, sql.ErrTxDone):
				log.Printf("store: rollback tx (%s): %v", reason, rbErr)
			}
		}
		if panicErr != nil {
			panic(panicErr)
		}
	}()

	if err := fn(&Tx{tx: tx}); err != nil {
		log.Printf("store: error in tx (%s): %v", reason, err)
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx %s: %w", reason, err)
	}
	committed = true
	log.Printf("store: committed tx (%s)", reason)
	return nil
}

// FindTagByName looks a tag up case-insensitively and holds a share lock on it
// so a concurrent approval waits for this transaction.
func (t *Tx) FindTagByName(ctx context.Context, name string) (Tag, error) {
	var tag Tag
	if err := t.tx.GetContext(ctx, &tag, `SELECT `+tagColumns+` FROM tags WHERE lower(name) = lower($1) FOR SHARE`, name); err != nil {
		return Tag{}, fmt.Errorf("find tag by name: %w", err)
	}
	return tag, nil
}

// InsertPendingTag creates an unapproved tag. It reports false when a tag with
// the same name (ignoring case) already exists.
func (t *Tx) InsertPendingTag(ctx context.Context, tag Tag) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO tags (id, name, created_by, approved)
		VALUES ($1, $2, $3, FALSE)
		ON CONFLICT ((lower(name))) DO NOTHING
	`, tag.ID, tag.Name, tag.CreatedBy)
	if err != nil {
		return false, fmt.Errorf("insert pending tag: %w", err)
	}
	return affected(result)
}

func (t *Tx) InsertPost(ctx context.Context, post Post) error {
	return insertPost(ctx, t.tx, post)
}

func (t *Tx) LinkPostTag(ctx context.Context, postID, tagID string) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO post_tags (post_id, tag_id)
		VALUES ($1, $2)
		ON CONFLICT (post_id, tag_id) DO NOTHING
	`, postID, tagID)
	if err != nil {
		return false, fmt.Errorf("link post tag: %w", err)
	}
	return affected(result)
}

// LockTag reads a tag with an exclusive row lock.
func (t *Tx) LockTag(ctx context.Context, tagID string) (Tag, error) {
	var tag Tag
	if err := t.tx.GetContext(ctx, &tag, `SELECT `+tagColumns+` FROM tags WHERE id = $1 FOR UPDATE`, tagID); err != nil {
		return Tag{}, fmt.Errorf("lock tag: %w", err)
	}
	return tag, nil
}

func (t *Tx) MarkTagApproved(ctx context.Context, tagID string) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE tags SET approved = TRUE WHERE id = $1`, tagID); err != nil {
		return fmt.Errorf("approve tag: %w", err)
	}
	return nil
}

// ListPendingPostIDs returns, locked, the posts waiting on a tag name.
func (t *Tx) ListPendingPostIDs(ctx context.Context, tagName string) ([]string, error) {
	var ids []string
	err := t.tx.SelectContext(ctx, &ids, `
		SELECT id FROM posts
		WHERE lower(pending_tag_name) = lower($1)
		ORDER BY created_at, id
		FOR UPDATE
	`, tagName)
	if err != nil {
		return nil, fmt.Errorf("list pending posts: %w", err)
	}
	return ids, nil
}

func (t *Tx) ClearPendingTags(ctx context.Context, postIDs []string) error {
	if len(postIDs) == 0 {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, `UPDATE posts SET pending_tag_name = NULL WHERE id = ANY($1)`, postIDs); err != nil {
		return fmt.Errorf("clear pending tags: %w", err)
	}
	return nil
}
