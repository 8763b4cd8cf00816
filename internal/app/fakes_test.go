package app

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"agora/api/internal/config"
	"agora/api/internal/notify"
	"agora/api/internal/search"
	"agora/api/internal/store"
	"agora/api/internal/tags"
)

type fakeStore struct {
	getUserFn            func(context.Context, string) (store.User, error)
	resolveHandlesFn     func(context.Context, []string) ([]store.UserSummary, error)
	updateUserProfileFn  func(context.Context, string, store.ProfilePatch) (bool, error)
	insertPostFn         func(context.Context, store.Post) error
	getPostFn            func(context.Context, string) (store.Post, error)
	listPostsFn          func(context.Context, int, []string) ([]store.Post, error)
	deletePostFn         func(context.Context, string) (bool, error)
	insertCommentFn      func(context.Context, store.Comment) error
	getCommentFn         func(context.Context, string) (store.Comment, error)
	listCommentsFn       func(context.Context, string) ([]store.Comment, error)
	deleteCommentFn      func(context.Context, string) (bool, error)
	insertPostVoteFn     func(context.Context, string, string, int) (bool, error)
	insertCommentVoteFn  func(context.Context, string, string, int) (bool, error)
	insertFollowFn       func(context.Context, string, string) (bool, error)
	deleteFollowFn       func(context.Context, string, string) (bool, error)
	listFollowerIDsFn    func(context.Context, string) ([]string, error)
	insertBlockFn        func(context.Context, string, string) (bool, error)
	deleteBlockFn        func(context.Context, string, string) (bool, error)
	listBlockedIDsFn     func(context.Context, string) ([]string, error)
	countUnreadFn        func(context.Context, string) (int, error)
	markAllReadFn        func(context.Context, string) (int64, error)
	deleteNotificationFn func(context.Context, string, string) (bool, error)
	insertReportFn       func(context.Context, store.Report) error
	getReportFn          func(context.Context, string) (store.Report, error)
	updateReportStatusFn func(context.Context, string, string) (bool, error)
}

func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) GetUser(ctx context.Context, userID string) (store.User, error) {
	if f.getUserFn != nil {
		return f.getUserFn(ctx, userID)
	}
	return store.User{ID: userID, Username: userID, Role: "member"}, nil
}
func (f *fakeStore) ResolveHandles(ctx context.Context, handles []string) ([]store.UserSummary, error) {
	if f.resolveHandlesFn != nil {
		return f.resolveHandlesFn(ctx, handles)
	}
	return nil, nil
}
func (f *fakeStore) UpdateUserProfile(ctx context.Context, userID string, patch store.ProfilePatch) (bool, error) {
	if f.updateUserProfileFn != nil {
		return f.updateUserProfileFn(ctx, userID, patch)
	}
	return true, nil
}
func (f *fakeStore) InsertPost(ctx context.Context, post store.Post) error {
	if f.insertPostFn != nil {
		return f.insertPostFn(ctx, post)
	}
	return nil
}
func (f *fakeStore) GetPost(ctx context.Context, postID string) (store.Post, error) {
	if f.getPostFn != nil {
		return f.getPostFn(ctx, postID)
	}
	return store.Post{}, sql.ErrNoRows
}
func (f *fakeStore) ListPosts(ctx context.Context, limit int, excludeAuthorIDs []string) ([]store.Post, error) {
	if f.listPostsFn != nil {
		return f.listPostsFn(ctx, limit, excludeAuthorIDs)
	}
	return nil, nil
}
func (f *fakeStore) DeletePost(ctx context.Context, postID string) (bool, error) {
	if f.deletePostFn != nil {
		return f.deletePostFn(ctx, postID)
	}
	return true, nil
}
func (f *fakeStore) InsertComment(ctx context.Context, comment store.Comment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, comment)
	}
	return nil
}
func (f *fakeStore) GetComment(ctx context.Context, commentID string) (store.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, commentID)
	}
	return store.Comment{}, sql.ErrNoRows
}
func (f *fakeStore) ListComments(ctx context.Context, postID string) ([]store.Comment, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, postID)
	}
	return nil, nil
}
func (f *fakeStore) DeleteComment(ctx context.Context, commentID string) (bool, error) {
	if f.deleteCommentFn != nil {
		return f.deleteCommentFn(ctx, commentID)
	}
	return true, nil
}
func (f *fakeStore) InsertPostVote(ctx context.Context, postID, userID string, voteType int) (bool, error) {
	if f.insertPostVoteFn != nil {
		return f.insertPostVoteFn(ctx, postID, userID, voteType)
	}
	return true, nil
}
func (f *fakeStore) InsertCommentVote(ctx context.Context, commentID, userID string, voteType int) (bool, error) {
	if f.insertCommentVoteFn != nil {
		return f.insertCommentVoteFn(ctx, commentID, userID, voteType)
	}
	return true, nil
}
func (f *fakeStore) PostVoteTotals(context.Context, string) (store.VoteTotals, error) {
	return store.VoteTotals{}, nil
}
func (f *fakeStore) CommentVoteTotals(context.Context, string) (store.VoteTotals, error) {
	return store.VoteTotals{}, nil
}
func (f *fakeStore) InsertFollow(ctx context.Context, followerID, followedID string) (bool, error) {
	if f.insertFollowFn != nil {
		return f.insertFollowFn(ctx, followerID, followedID)
	}
	return true, nil
}
func (f *fakeStore) DeleteFollow(ctx context.Context, followerID, followedID string) (bool, error) {
	if f.deleteFollowFn != nil {
		return f.deleteFollowFn(ctx, followerID, followedID)
	}
	return true, nil
}
func (f *fakeStore) ListFollowerIDs(ctx context.Context, userID string) ([]string, error) {
	if f.listFollowerIDsFn != nil {
		return f.listFollowerIDsFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) ListFollowers(context.Context, string) ([]store.UserSummary, error) {
	return nil, nil
}
func (f *fakeStore) ListFollowing(context.Context, string) ([]store.UserSummary, error) {
	return nil, nil
}
func (f *fakeStore) InsertBlock(ctx context.Context, blockerID, blockedID string) (bool, error) {
	if f.insertBlockFn != nil {
		return f.insertBlockFn(ctx, blockerID, blockedID)
	}
	return true, nil
}
func (f *fakeStore) DeleteBlock(ctx context.Context, blockerID, blockedID string) (bool, error) {
	if f.deleteBlockFn != nil {
		return f.deleteBlockFn(ctx, blockerID, blockedID)
	}
	return true, nil
}
func (f *fakeStore) ListBlockedIDs(ctx context.Context, blockerID string) ([]string, error) {
	if f.listBlockedIDsFn != nil {
		return f.listBlockedIDsFn(ctx, blockerID)
	}
	return nil, nil
}
func (f *fakeStore) ListBlocked(context.Context, string) ([]store.UserSummary, error) {
	return nil, nil
}
func (f *fakeStore) ListApprovedTags(context.Context) ([]store.Tag, error) { return nil, nil }
func (f *fakeStore) ListPendingTags(context.Context) ([]store.Tag, error)  { return nil, nil }
func (f *fakeStore) ListPostTags(context.Context, string) ([]store.Tag, error) {
	return nil, nil
}
func (f *fakeStore) ListNotifications(context.Context, string, int) ([]store.Notification, error) {
	return nil, nil
}
func (f *fakeStore) CountUnread(ctx context.Context, userID string) (int, error) {
	if f.countUnreadFn != nil {
		return f.countUnreadFn(ctx, userID)
	}
	return 0, nil
}
func (f *fakeStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if f.markAllReadFn != nil {
		return f.markAllReadFn(ctx, userID)
	}
	return 0, nil
}
func (f *fakeStore) DeleteNotification(ctx context.Context, notificationID, userID string) (bool, error) {
	if f.deleteNotificationFn != nil {
		return f.deleteNotificationFn(ctx, notificationID, userID)
	}
	return true, nil
}
func (f *fakeStore) InsertReport(ctx context.Context, report store.Report) error {
	if f.insertReportFn != nil {
		return f.insertReportFn(ctx, report)
	}
	return nil
}
func (f *fakeStore) GetReport(ctx context.Context, reportID string) (store.Report, error) {
	if f.getReportFn != nil {
		return f.getReportFn(ctx, reportID)
	}
	return store.Report{}, sql.ErrNoRows
}
func (f *fakeStore) ListReports(context.Context, string) ([]store.Report, error) {
	return nil, nil
}
func (f *fakeStore) UpdateReportStatus(ctx context.Context, reportID, status string) (bool, error) {
	if f.updateReportStatusFn != nil {
		return f.updateReportStatusFn(ctx, reportID, status)
	}
	return true, nil
}

type sentNotification struct {
	UserID    string
	Message   string
	Type      notify.Type
	RelatedID string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (f *fakeNotifier) Notify(_ context.Context, userID, message string, typ notify.Type, relatedID string) notify.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{UserID: userID, Message: message, Type: typ, RelatedID: relatedID})
	return notify.Outcome{Type: typ, Delivered: 1}
}

func (f *fakeNotifier) NotifyAll(ctx context.Context, userIDs []string, message string, typ notify.Type, relatedID string) notify.Outcome {
	for _, userID := range userIDs {
		f.Notify(ctx, userID, message, typ, relatedID)
	}
	return notify.Outcome{Type: typ, Delivered: len(userIDs)}
}

func (f *fakeNotifier) ofType(typ notify.Type) []sentNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentNotification
	for _, n := range f.sent {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

type fakeTags struct {
	createPostWithTagFn func(context.Context, store.Post, string) (tags.Attachment, error)
	createFn            func(context.Context, string, string) (store.Tag, error)
	approveFn           func(context.Context, string, string) (tags.Approval, error)
	deleteFn            func(context.Context, string, string) (store.Tag, notify.Outcome, error)
}

func (f *fakeTags) CreatePostWithTag(ctx context.Context, post store.Post, name string) (tags.Attachment, error) {
	if f.createPostWithTagFn != nil {
		return f.createPostWithTagFn(ctx, post, name)
	}
	return tags.Attachment{Post: post}, nil
}
func (f *fakeTags) Create(ctx context.Context, name, creatorID string) (store.Tag, error) {
	if f.createFn != nil {
		return f.createFn(ctx, name, creatorID)
	}
	return store.Tag{ID: "tag-1", Name: strings.TrimSpace(name), CreatedBy: &creatorID}, nil
}
func (f *fakeTags) Approve(ctx context.Context, tagID, moderator string) (tags.Approval, error) {
	if f.approveFn != nil {
		return f.approveFn(ctx, tagID, moderator)
	}
	return tags.Approval{Tag: store.Tag{ID: tagID, Approved: true}}, nil
}
func (f *fakeTags) Delete(ctx context.Context, tagID, moderator string) (store.Tag, notify.Outcome, error) {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, tagID, moderator)
	}
	return store.Tag{ID: tagID}, notify.Outcome{}, nil
}

type fakeCounter struct {
	counts map[string]int
	getErr error
	resets []string
}

func (f *fakeCounter) Get(_ context.Context, userID string) (int, bool, error) {
	if f.getErr != nil {
		return 0, false, f.getErr
	}
	count, ok := f.counts[userID]
	return count, ok, nil
}
func (f *fakeCounter) Set(_ context.Context, userID string, count int) error {
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	f.counts[userID] = count
	return nil
}
func (f *fakeCounter) Reset(_ context.Context, userID string) error {
	delete(f.counts, userID)
	f.resets = append(f.resets, userID)
	return nil
}

type fakeSearch struct {
	results        []search.Result
	indexedPosts   []search.PostRecord
	indexedTags    []search.TagRecord
	deletedPosts   []string
	deletedTags    []string
	indexedComment []search.CommentRecord
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	results := append([]search.Result(nil), f.results...)
	return search.Response{Results: results, Total: len(results), Query: q.Text}
}
func (f *fakeSearch) IndexPost(p search.PostRecord) { f.indexedPosts = append(f.indexedPosts, p) }
func (f *fakeSearch) IndexComment(c search.CommentRecord) {
	f.indexedComment = append(f.indexedComment, c)
}
func (f *fakeSearch) IndexTag(t search.TagRecord) { f.indexedTags = append(f.indexedTags, t) }
func (f *fakeSearch) DeletePost(id string)        { f.deletedPosts = append(f.deletedPosts, id) }
func (f *fakeSearch) DeleteComment(string)        {}
func (f *fakeSearch) DeleteTag(id string)         { f.deletedTags = append(f.deletedTags, id) }

const testJWTSecret = "test-secret"

type testDeps struct {
	store    *fakeStore
	notifier *fakeNotifier
	tags     *fakeTags
	counter  *fakeCounter
	search   *fakeSearch
}

func newTestService(fs *fakeStore) (*Service, *testDeps) {
	deps := &testDeps{
		store:    fs,
		notifier: &fakeNotifier{},
		tags:     &fakeTags{},
		counter:  &fakeCounter{},
		search:   &fakeSearch{},
	}
	return &Service{
		cfg:      config.Config{JWTSecret: testJWTSecret},
		store:    deps.store,
		tags:     deps.tags,
		notifier: deps.notifier,
		unread:   deps.counter,
		search:   deps.search,
	}, deps
}

func session(userID string) Session {
	return Session{UserID: userID, Handle: userID, Role: "member"}
}

func postBy(id, author string) store.Post {
	return store.Post{ID: id, UserID: author, AuthorHandle: author, Title: "Post " + id, Content: "body"}
}

func ptr[T any](v T) *T {
	return &v
}
