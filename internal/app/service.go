package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"agora/api/internal/apperr"
	"agora/api/internal/auth"
	"agora/api/internal/config"
	"agora/api/internal/inbox"
	"agora/api/internal/mention"
	"agora/api/internal/notify"
	"agora/api/internal/rbac"
	"agora/api/internal/search"
	"agora/api/internal/store"
	"agora/api/internal/tags"
	"agora/api/internal/thread"
	"agora/api/internal/util"
	"agora/api/internal/visibility"
)

type Session struct {
	Token     string
	UserID    string
	Handle    string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

type CreatePostInput struct {
	Title      string  `json:"title" validate:"notblank,max=300"`
	Content    string  `json:"content" validate:"notblank"`
	CategoryID *string `json:"categoryId"`
	// Tag, when present, is attached in the same transaction as the post.
	Tag *string `json:"tag"`
}

type CreateCommentInput struct {
	Content         string  `json:"content" validate:"notblank"`
	ParentCommentID *string `json:"parentCommentId"`
}

type VoteInput struct {
	VoteType int `json:"voteType" validate:"oneof=1 -1"`
}

type PostDetail struct {
	store.Post
	Tags  []store.Tag      `json:"tags"`
	Votes store.VoteTotals `json:"votes"`
}

type VoteSummary struct {
	Upvotes   int `json:"upvotes"`
	Downvotes int `json:"downvotes"`
	Score     int `json:"score"`
}

const defaultPostLimit = 50

type dataStore interface {
	Ping(ctx context.Context) error
	GetUser(context.Context, string) (store.User, error)
	ResolveHandles(context.Context, []string) ([]store.UserSummary, error)
	UpdateUserProfile(context.Context, string, store.ProfilePatch) (bool, error)
	InsertPost(context.Context, store.Post) error
	GetPost(context.Context, string) (store.Post, error)
	ListPosts(ctx context.Context, limit int, excludeAuthorIDs []string) ([]store.Post, error)
	DeletePost(context.Context, string) (bool, error)
	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string) (store.Comment, error)
	ListComments(context.Context, string) ([]store.Comment, error)
	DeleteComment(context.Context, string) (bool, error)
	InsertPostVote(context.Context, string, string, int) (bool, error)
	InsertCommentVote(context.Context, string, string, int) (bool, error)
	PostVoteTotals(context.Context, string) (store.VoteTotals, error)
	CommentVoteTotals(context.Context, string) (store.VoteTotals, error)
	InsertFollow(context.Context, string, string) (bool, error)
	DeleteFollow(context.Context, string, string) (bool, error)
	ListFollowerIDs(context.Context, string) ([]string, error)
	ListFollowers(context.Context, string) ([]store.UserSummary, error)
	ListFollowing(context.Context, string) ([]store.UserSummary, error)
	InsertBlock(context.Context, string, string) (bool, error)
	DeleteBlock(context.Context, string, string) (bool, error)
	ListBlockedIDs(context.Context, string) ([]string, error)
	ListBlocked(context.Context, string) ([]store.UserSummary, error)
	ListApprovedTags(context.Context) ([]store.Tag, error)
	ListPendingTags(context.Context) ([]store.Tag, error)
	ListPostTags(context.Context, string) ([]store.Tag, error)
	ListNotifications(context.Context, string, int) ([]store.Notification, error)
	CountUnread(context.Context, string) (int, error)
	MarkAllRead(context.Context, string) (int64, error)
	DeleteNotification(context.Context, string, string) (bool, error)
	InsertReport(context.Context, store.Report) error
	GetReport(context.Context, string) (store.Report, error)
	ListReports(context.Context, string) ([]store.Report, error)
	UpdateReportStatus(context.Context, string, string) (bool, error)
}

type tagLifecycle interface {
	CreatePostWithTag(context.Context, store.Post, string) (tags.Attachment, error)
	Create(context.Context, string, string) (store.Tag, error)
	Approve(context.Context, string, string) (tags.Approval, error)
	Delete(context.Context, string, string) (store.Tag, notify.Outcome, error)
}

type notifier interface {
	Notify(ctx context.Context, userID, message string, typ notify.Type, relatedID string) notify.Outcome
	NotifyAll(ctx context.Context, userIDs []string, message string, typ notify.Type, relatedID string) notify.Outcome
}

type unreadCounter interface {
	Get(context.Context, string) (int, bool, error)
	Set(context.Context, string, int) error
	Reset(context.Context, string) error
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexPost(search.PostRecord)
	IndexComment(search.CommentRecord)
	IndexTag(search.TagRecord)
	DeletePost(string)
	DeleteComment(string)
	DeleteTag(string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	tags     tagLifecycle
	notifier notifier
	unread   unreadCounter
	search   searchIndex
}

type Option func(*Service)

// WithUnreadCounter caches unread counts; a nil counter leaves the cache off.
func WithUnreadCounter(counter *inbox.RedisCounter) Option {
	return func(s *Service) {
		if counter != nil {
			s.unread = counter
		}
	}
}

func WithSearch(searchService *search.Service) Option {
	return func(s *Service) {
		if searchService != nil {
			s.search = searchService
		}
	}
}

func New(cfg config.Config, dataStore *store.PostgresStore, tagManager *tags.Manager, dispatcher *notify.Dispatcher, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		tags:     tagManager,
		notifier: dispatcher,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUser(ctx, claims.Subject)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	session := Session{
		Token:  token,
		UserID: user.ID,
		Handle: user.Username,
		Role:   user.Role,
		JTI:    claims.ID,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) blockSet(ctx context.Context, viewerID string) (visibility.Set, error) {
	return visibility.Load(ctx, s.store, viewerID)
}

// Posts

func (s *Service) CreatePost(ctx context.Context, author Session, input CreatePostInput) (PostDetail, error) {
	if err := validateInput(input); err != nil {
		return PostDetail{}, err
	}
	post := store.Post{
		ID:           util.NewID("post"),
		UserID:       author.UserID,
		AuthorHandle: author.Handle,
		CategoryID:   input.CategoryID,
		Title:        strings.TrimSpace(input.Title),
		Content:      input.Content,
		CreatedAt:    time.Now().UTC(),
	}

	detail := PostDetail{Tags: []store.Tag{}}
	if input.Tag != nil {
		attachment, err := s.tags.CreatePostWithTag(ctx, post, *input.Tag)
		if err != nil {
			return PostDetail{}, err
		}
		post = attachment.Post
		if attachment.Linked {
			detail.Tags = append(detail.Tags, attachment.Tag)
		}
	} else if err := s.store.InsertPost(ctx, post); err != nil {
		return PostDetail{}, fmt.Errorf("create post: %w", err)
	}
	detail.Post = post

	followers, err := s.store.ListFollowerIDs(ctx, author.UserID)
	if err != nil {
		log.Printf("notify: list followers of %s: %v", author.UserID, err)
	} else {
		s.notifier.NotifyAll(ctx, followers, notify.NewPostMessage(author.Handle, post.Title), notify.TypePost, post.ID)
	}
	s.notifyMentions(ctx, author, post.Title+" "+post.Content, "post", post.ID)

	if s.search != nil {
		s.search.IndexPost(search.PostRecord{
			ID:         post.ID,
			Title:      post.Title,
			Content:    post.Content,
			AuthorID:   post.UserID,
			CategoryID: derefString(post.CategoryID),
		})
	}
	return detail, nil
}

func (s *Service) ListPosts(ctx context.Context, viewerID string, limit int) ([]store.Post, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultPostLimit
	}
	blocks, err := s.blockSet(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	// Hidden authors are excluded in the query so a full page stays full.
	posts, err := s.store.ListPosts(ctx, limit, blocks.IDs())
	if err != nil {
		return nil, err
	}
	return orEmpty(visibility.Filter(blocks, posts, postAuthor)), nil
}

// GetPost hides posts by authors the viewer blocked behind NotFound.
func (s *Service) GetPost(ctx context.Context, viewerID, postID string) (PostDetail, error) {
	post, _, err := s.visiblePost(ctx, viewerID, postID)
	if err != nil {
		return PostDetail{}, err
	}
	postTags, err := s.store.ListPostTags(ctx, post.ID)
	if err != nil {
		return PostDetail{}, err
	}
	totals, err := s.store.PostVoteTotals(ctx, post.ID)
	if err != nil {
		return PostDetail{}, err
	}
	return PostDetail{Post: post, Tags: orEmpty(postTags), Votes: totals}, nil
}

// visiblePost also returns the viewer's block set so callers filtering the
// post's comments do not load it twice.
func (s *Service) visiblePost(ctx context.Context, viewerID, postID string) (store.Post, visibility.Set, error) {
	post, err := s.getPost(ctx, postID)
	if err != nil {
		return store.Post{}, nil, err
	}
	blocks, err := s.blockSet(ctx, viewerID)
	if err != nil {
		return store.Post{}, nil, err
	}
	if blocks.Hides(post.UserID) {
		return store.Post{}, nil, apperr.NotFound("post not found")
	}
	return post, blocks, nil
}

func (s *Service) DeletePost(ctx context.Context, actor Session, postID string) error {
	post, err := s.getPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.UserID != actor.UserID {
		return apperr.Forbidden("only the author can delete this post")
	}
	if err := s.removePost(ctx, postID); err != nil {
		return err
	}
	return nil
}

func (s *Service) removePost(ctx context.Context, postID string) error {
	deleted, err := s.store.DeletePost(ctx, postID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperr.NotFound("post not found")
	}
	if s.search != nil {
		s.search.DeletePost(postID)
	}
	return nil
}

func (s *Service) getPost(ctx context.Context, postID string) (store.Post, error) {
	post, err := s.store.GetPost(ctx, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Post{}, apperr.NotFound("post not found")
	}
	return post, err
}

// Comments and threads

func (s *Service) CreateComment(ctx context.Context, author Session, postID string, input CreateCommentInput) (store.Comment, error) {
	if err := validateInput(input); err != nil {
		return store.Comment{}, err
	}
	post, err := s.getPost(ctx, postID)
	if err != nil {
		return store.Comment{}, err
	}

	var parent *store.Comment
	if input.ParentCommentID != nil && strings.TrimSpace(*input.ParentCommentID) != "" {
		found, err := s.getComment(ctx, *input.ParentCommentID)
		if err != nil {
			return store.Comment{}, err
		}
		if found.PostID != post.ID {
			return store.Comment{}, apperr.Validation("parent comment belongs to a different post")
		}
		parent = &found
	}

	comment := store.Comment{
		ID:           util.NewID("cmt"),
		PostID:       post.ID,
		UserID:       author.UserID,
		AuthorHandle: author.Handle,
		Content:      input.Content,
		CreatedAt:    time.Now().UTC(),
	}
	if parent != nil {
		comment.ParentCommentID = &parent.ID
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, fmt.Errorf("create comment: %w", err)
	}

	where := "comment"
	if parent != nil {
		where = "reply"
		if parent.UserID != author.UserID {
			s.notifier.Notify(ctx, parent.UserID, notify.ReplyMessage(author.Handle, post.Title), notify.TypeCommentReply, parent.ID)
		}
	} else if post.UserID != author.UserID {
		s.notifier.Notify(ctx, post.UserID, notify.CommentMessage(author.Handle, post.Title), notify.TypeComment, post.ID)
	}
	s.notifyMentions(ctx, author, comment.Content, where, comment.ID)

	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:       comment.ID,
			Content:  comment.Content,
			PostID:   comment.PostID,
			AuthorID: comment.UserID,
		})
	}
	return comment, nil
}

func (s *Service) ViewThread(ctx context.Context, viewerID, postID string) (thread.Thread, error) {
	post, blocks, err := s.visiblePost(ctx, viewerID, postID)
	if err != nil {
		return thread.Thread{}, err
	}
	comments, err := s.store.ListComments(ctx, post.ID)
	if err != nil {
		return thread.Thread{}, err
	}
	return thread.Assemble(post, comments, blocks), nil
}

func (s *Service) getComment(ctx context.Context, commentID string) (store.Comment, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Comment{}, apperr.NotFound("comment not found")
	}
	return comment, err
}

// notifyMentions sends one mention notification per distinct user named in
// text. The author is never notified about mentioning themselves.
func (s *Service) notifyMentions(ctx context.Context, author Session, text, where, relatedID string) {
	recipients, err := mention.Recipients(ctx, handleDirectory{store: s.store}, text, author.UserID)
	if err != nil {
		log.Printf("notify: resolve mentions in %s %s: %v", where, relatedID, err)
		return
	}
	if len(recipients) == 0 {
		return
	}
	s.notifier.NotifyAll(ctx, recipients, notify.MentionMessage(author.Handle, where), notify.TypeMention, relatedID)
}

type handleDirectory struct {
	store dataStore
}

func (d handleDirectory) LookupHandles(ctx context.Context, handles []string) ([]mention.User, error) {
	users, err := d.store.ResolveHandles(ctx, handles)
	if err != nil {
		return nil, err
	}
	out := make([]mention.User, 0, len(users))
	for _, user := range users {
		out = append(out, mention.User{ID: user.ID, Username: user.Username})
	}
	return out, nil
}

// Votes

func (s *Service) VotePost(ctx context.Context, voter Session, postID string, input VoteInput) (VoteSummary, error) {
	if err := validateInput(input); err != nil {
		return VoteSummary{}, err
	}
	post, err := s.getPost(ctx, postID)
	if err != nil {
		return VoteSummary{}, err
	}
	inserted, err := s.store.InsertPostVote(ctx, post.ID, voter.UserID, input.VoteType)
	if err != nil {
		return VoteSummary{}, fmt.Errorf("vote on post: %w", err)
	}
	if !inserted {
		return VoteSummary{}, apperr.Conflict("you have already voted on this post")
	}

	s.notifier.Notify(ctx, post.UserID, notify.PostVoteMessage(voter.Handle, input.VoteType, post.Title), notify.VoteType(input.VoteType), post.ID)
	return s.PostVotes(ctx, post.ID)
}

func (s *Service) VoteComment(ctx context.Context, voter Session, commentID string, input VoteInput) (VoteSummary, error) {
	if err := validateInput(input); err != nil {
		return VoteSummary{}, err
	}
	comment, err := s.getComment(ctx, commentID)
	if err != nil {
		return VoteSummary{}, err
	}
	inserted, err := s.store.InsertCommentVote(ctx, comment.ID, voter.UserID, input.VoteType)
	if err != nil {
		return VoteSummary{}, fmt.Errorf("vote on comment: %w", err)
	}
	if !inserted {
		return VoteSummary{}, apperr.Conflict("you have already voted on this comment")
	}

	postTitle := ""
	if post, err := s.store.GetPost(ctx, comment.PostID); err == nil {
		postTitle = post.Title
	} else {
		log.Printf("notify: load post %s for comment vote: %v", comment.PostID, err)
	}
	message := notify.CommentVoteMessage(voter.Handle, input.VoteType, comment.Content, postTitle)
	s.notifier.Notify(ctx, comment.UserID, message, notify.VoteType(input.VoteType), comment.ID)

	totals, err := s.store.CommentVoteTotals(ctx, comment.ID)
	if err != nil {
		return VoteSummary{}, err
	}
	return summarize(totals), nil
}

func (s *Service) PostVotes(ctx context.Context, postID string) (VoteSummary, error) {
	if _, err := s.getPost(ctx, postID); err != nil {
		return VoteSummary{}, err
	}
	totals, err := s.store.PostVoteTotals(ctx, postID)
	if err != nil {
		return VoteSummary{}, err
	}
	return summarize(totals), nil
}

func (s *Service) CommentVotes(ctx context.Context, commentID string) (VoteSummary, error) {
	if _, err := s.getComment(ctx, commentID); err != nil {
		return VoteSummary{}, err
	}
	totals, err := s.store.CommentVoteTotals(ctx, commentID)
	if err != nil {
		return VoteSummary{}, err
	}
	return summarize(totals), nil
}

func summarize(totals store.VoteTotals) VoteSummary {
	return VoteSummary{Upvotes: totals.Upvotes, Downvotes: totals.Downvotes, Score: totals.Score()}
}

func postAuthor(p store.Post) string { return p.UserID }

// orEmpty keeps JSON list fields as [] rather than null.
func orEmpty[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
