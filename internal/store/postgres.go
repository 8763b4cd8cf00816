package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// ErrDuplicate reports a write rejected by a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate row")

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, username, display_name, bio, avatar_url, role, created_at`

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	if err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID); err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) InsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, bio, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Username, user.DisplayName, user.Bio, user.Role)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// ResolveHandles returns the users whose username matches one of handles, ignoring case.
func (s *PostgresStore) ResolveHandles(ctx context.Context, handles []string) ([]UserSummary, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	lowered := make([]string, 0, len(handles))
	for _, handle := range handles {
		lowered = append(lowered, strings.ToLower(handle))
	}
	var users []UserSummary
	if err := s.db.SelectContext(ctx, &users, `SELECT id, username FROM users WHERE lower(username) = ANY($1)`, lowered); err != nil {
		return nil, fmt.Errorf("resolve handles: %w", err)
	}
	return users, nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID string, patch ProfilePatch) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET display_name = COALESCE($2, display_name),
			bio = COALESCE($3, bio),
			avatar_url = CASE WHEN $4 THEN NULL ELSE avatar_url END
		WHERE id = $1
	`, userID, patch.DisplayName, patch.Bio, patch.ClearAvatar)
	if err != nil {
		return false, fmt.Errorf("update user profile: %w", err)
	}
	return affected(result)
}

const postSelect = `
	SELECT p.id, p.user_id, u.username AS author_handle, p.category_id, p.title, p.content, p.pending_tag_name, p.created_at
	FROM posts p
	JOIN users u ON u.id = p.user_id
`

func (s *PostgresStore) InsertPost(ctx context.Context, post Post) error {
	return insertPost(ctx, s.db, post)
}

func insertPost(ctx context.Context, q sqlx.ExecerContext, post Post) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO posts (id, user_id, category_id, title, content, pending_tag_name)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, post.ID, post.UserID, post.CategoryID, post.Title, post.Content, post.PendingTagName)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPost(ctx context.Context, postID string) (Post, error) {
	var post Post
	if err := s.db.GetContext(ctx, &post, postSelect+` WHERE p.id = $1`, postID); err != nil {
		return Post{}, fmt.Errorf("get post: %w", err)
	}
	return post, nil
}

// ListPosts returns the newest posts, skipping any written by excludeAuthorIDs
// before the limit is applied.
func (s *PostgresStore) ListPosts(ctx context.Context, limit int, excludeAuthorIDs []string) ([]Post, error) {
	if limit <= 0 {
		limit = 50
	}
	if excludeAuthorIDs == nil {
		excludeAuthorIDs = []string{}
	}
	var posts []Post
	query := postSelect + ` WHERE NOT (p.user_id = ANY($2::text[])) ORDER BY p.created_at DESC, p.id DESC LIMIT $1`
	if err := s.db.SelectContext(ctx, &posts, query, limit, excludeAuthorIDs); err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

func (s *PostgresStore) DeletePost(ctx context.Context, postID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, postID)
	if err != nil {
		return false, fmt.Errorf("delete post: %w", err)
	}
	return affected(result)
}

const commentSelect = `
	SELECT c.id, c.post_id, c.user_id, u.username AS author_handle, c.parent_comment_id, c.content, c.created_at
	FROM comments c
	JOIN users u ON u.id = c.user_id
`

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, post_id, user_id, parent_comment_id, content)
		VALUES ($1, $2, $3, $4, $5)
	`, comment.ID, comment.PostID, comment.UserID, comment.ParentCommentID, comment.Content)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var comment Comment
	if err := s.db.GetContext(ctx, &comment, commentSelect+` WHERE c.id = $1`, commentID); err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return comment, nil
}

// ListComments returns a post's comments in thread order: created_at, then id.
func (s *PostgresStore) ListComments(ctx context.Context, postID string) ([]Comment, error) {
	var comments []Comment
	if err := s.db.SelectContext(ctx, &comments, commentSelect+` WHERE c.post_id = $1 ORDER BY c.created_at ASC, c.id ASC`, postID); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, commentID)
	if err != nil {
		return false, fmt.Errorf("delete comment: %w", err)
	}
	return affected(result)
}

// InsertPostVote records a vote; false means the user already voted on the post.
func (s *PostgresStore) InsertPostVote(ctx context.Context, postID, userID string, voteType int) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO post_votes (post_id, user_id, vote_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (post_id, user_id) DO NOTHING
	`, postID, userID, voteType)
	if err != nil {
		return false, fmt.Errorf("insert post vote: %w", err)
	}
	return affected(result)
}

func (s *PostgresStore) InsertCommentVote(ctx context.Context, commentID, userID string, voteType int) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO comment_votes (comment_id, user_id, vote_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (comment_id, user_id) DO NOTHING
	`, commentID, userID, voteType)
	if err != nil {
		return false, fmt.Errorf("insert comment vote: %w", err)
	}
	return affected(result)
}

func (s *PostgresStore) PostVoteTotals(ctx context.Context, postID string) (VoteTotals, error) {
	var totals VoteTotals
	err := s.db.GetContext(ctx, &totals, `
		SELECT COUNT(*) FILTER (WHERE vote_type = 1) AS upvotes,
			COUNT(*) FILTER (WHERE vote_type = -1) AS downvotes
		FROM post_votes WHERE post_id = $1
	`, postID)
	if err != nil {
		return VoteTotals{}, fmt.Errorf("post vote totals: %w", err)
	}
	return totals, nil
}

func (s *PostgresStore) CommentVoteTotals(ctx context.Context, commentID string) (VoteTotals, error) {
	var totals VoteTotals
	err := s.db.GetContext(ctx, &totals, `
		SELECT COUNT(*) FILTER (WHERE vote_type = 1) AS upvotes,
			COUNT(*) FILTER (WHERE vote_type = -1) AS downvotes
		FROM comment_votes WHERE comment_id = $1
	`, commentID)
	if err != nil {
		return VoteTotals{}, fmt.Errorf("comment vote totals: %w", err)
	}
	return totals, nil
}

func (s *PostgresStore) InsertFollow(ctx context.Context, followerID, followedID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO user_following (follower_id, followed_id)
		VALUES ($1, $2)
		ON CONFLICT (follower_id, followed_id) DO NOTHING
	`, followerID, followedID)
	if err != nil {
		return false, fmt.Errorf("insert follow: %w", err)
	}
	return affected(result)
}

func (s *PostgresStore) DeleteFollow(ctx context.Context, followerID, followedID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM user_following WHERE follower_id = $1 AND followed_id = $2`, followerID, followedID)
	if err != nil {
		return false, fmt.Errorf("delete follow: %w", err)
	}
	return affected(result)
}

func (s *PostgresStore) ListFollowerIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT follower_id FROM user_following WHERE followed_id = $1 ORDER BY created_at, follower_id`, userID); err != nil {
		return nil, fmt.Errorf("list follower ids: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) ListFollowers(ctx context.Context, userID string) ([]UserSummary, error) {
	var users []UserSummary
	err := s.db.SelectContext(ctx, &users, `
		SELECT u.id, u.username
		FROM user_following f
		JOIN users u ON u.id = f.follower_id
		WHERE f.followed_id = $1
		ORDER BY u.username
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list followers: %w", err)
	}
	return users, nil
}

func (s *PostgresStore) ListFollowing(ctx context.Context, userID string) ([]UserSummary, error) {
	var users []UserSummary
	err := s.db.SelectContext(ctx, &users, `
		SELECT u.id, u.username
		FROM user_following f
		JOIN users u ON u.id = f.followed_id
		WHERE f.follower_id = $1
		ORDER BY u.username
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list following: %w", err)
	}
	return users, nil
}

func (s *PostgresStore) InsertBlock(ctx context.Context, blockerID, blockedID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO user_blocked (blocker_id, blocked_id)
		VALUES ($1, $2)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING
	`, blockerID, blockedID)
	if err != nil {
		return false, fmt.Errorf("insert block: %w", err)
	}
	return affected(result)
}

func (s *PostgresStore) DeleteBlock(ctx context.Context, blockerID, blockedID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM user_blocked WHERE blocker_id = $1 AND blocked_id = $2`, blockerID, blockedID)
	if err != nil {
		return false, fmt.Errorf("delete block: %w", err)
	}
	return affected(result)
}

// ListBlockedIDs returns the users blockerID has blocked (outgoing edges only).
func (s *PostgresStore) ListBlockedIDs(ctx context.Context, blockerID string) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT blocked_id FROM user_blocked WHERE blocker_id = $1`, blockerID); err != nil {
		return nil, fmt.Errorf("list blocked ids: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) ListBlocked(ctx context.Context, blockerID string) ([]UserSummary, error) {
	var users []UserSummary
	err := s.db.SelectContext(ctx, &users, `
		SELECT u.id, u.username
		FROM user_blocked b
		JOIN users u ON u.id = b.blocked_id
		WHERE b.blocker_id = $1
		ORDER BY u.username
	`, blockerID)
	if err != nil {
		return nil, fmt.Errorf("list blocked: %w", err)
	}
	return users, nil
}

const tagColumns = `id, name, created_by, approved, created_at`

// InsertTag creates a tag outside of any post transaction. A case-insensitive
// name clash returns ErrDuplicate.
func (s *PostgresStore) InsertTag(ctx context.Context, tag Tag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (id, name, created_by, approved)
		VALUES ($1, $2, $3, $4)
	`, tag.ID, tag.Name, tag.CreatedBy, tag.Approved)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert tag: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTag(ctx context.Context, tagID string) (Tag, error) {
	var tag Tag
	if err := s.db.GetContext(ctx, &tag, `SELECT `+tagColumns+` FROM tags WHERE id = $1`, tagID); err != nil {
		return Tag{}, fmt.Errorf("get tag: %w", err)
	}
	return tag, nil
}

func (s *PostgresStore) ListApprovedTags(ctx context.Context) ([]Tag, error) {
	var tags []Tag
	if err := s.db.SelectContext(ctx, &tags, `SELECT `+tagColumns+` FROM tags WHERE approved ORDER BY lower(name)`); err != nil {
		return nil, fmt.Errorf("list approved tags: %w", err)
	}
	return tags, nil
}

func (s *PostgresStore) ListPendingTags(ctx context.Context) ([]Tag, error) {
	var tags []Tag
	if err := s.db.SelectContext(ctx, &tags, `SELECT `+tagColumns+` FROM tags WHERE NOT approved ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("list pending tags: %w", err)
	}
	return tags, nil
}

// ListPostTags returns the approved tags linked to a post.
func (s *PostgresStore) ListPostTags(ctx context.Context, postID string) ([]Tag, error) {
	var tags []Tag
	err := s.db.SelectContext(ctx, &tags, `
		SELECT t.id, t.name, t.created_by, t.approved, t.created_at
		FROM post_tags pt
		JOIN tags t ON t.id = pt.tag_id
		WHERE pt.post_id = $1 AND t.approved
		ORDER BY lower(t.name)
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list post tags: %w", err)
	}
	return tags, nil
}

// DeleteTag removes the tag; post_tags rows go with it by cascade.
func (s *PostgresStore) DeleteTag(ctx context.Context, tagID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id = $1`, tagID)
	if err != nil {
		return false, fmt.Errorf("delete tag: %w", err)
	}
	return affected(result)
}

const notificationColumns = `id, user_id, message, type, related_id, read, created_at`

func (s *PostgresStore) InsertNotification(ctx context.Context, notification Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, message, type, related_id)
		VALUES ($1, $2, $3, $4, $5)
	`, notification.ID, notification.UserID, notification.Message, notification.Type, notification.RelatedID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// InsertNotifications writes a batch in one statement; rows keep slice order.
func (s *PostgresStore) InsertNotifications(ctx context.Context, notifications []Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO notifications (id, user_id, message, type, related_id)
		VALUES (:id, :user_id, :message, :type, :related_id)
	`, notifications)
	if err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	var notifications []Notification
	err := s.db.SelectContext(ctx, &notifications, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

func (s *PostgresStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT read`, userID); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE user_id = $1 AND NOT read`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return rows, nil
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, notificationID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2`, notificationID, userID)
	if err != nil {
		return false, fmt.Errorf("delete notification: %w", err)
	}
	return affected(result)
}

const reportColumns = `id, user_id, content_id, content_type, reason, custom_reason, additional_comments, status, created_at, resolved_at`

func (s *PostgresStore) InsertReport(ctx context.Context, report Report) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO reports (id, user_id, content_id, content_type, reason, custom_reason, additional_comments, status)
		VALUES (:id, :user_id, :content_id, :content_type, :reason, :custom_reason, :additional_comments, :status)
	`, report)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, reportID string) (Report, error) {
	var report Report
	if err := s.db.GetContext(ctx, &report, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, reportID); err != nil {
		return Report{}, fmt.Errorf("get report: %w", err)
	}
	return report, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, status string) ([]Report, error) {
	var reports []Report
	err := s.db.SelectContext(ctx, &reports, `
		SELECT `+reportColumns+`
		FROM reports
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

func (s *PostgresStore) UpdateReportStatus(ctx context.Context, reportID, status string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reports
		SET status = $2,
			resolved_at = CASE WHEN $2 IN ('resolved', 'rejected') THEN NOW() ELSE NULL END
		WHERE id = $1
	`, reportID, status)
	if err != nil {
		return false, fmt.Errorf("update report status: %w", err)
	}
	return affected(result)
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func affected(result rowsAffecter) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}
