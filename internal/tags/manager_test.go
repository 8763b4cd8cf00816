package tags

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	"agora/api/internal/apperr"
	"agora/api/internal/notify"
	"agora/api/internal/store"
)

// memStore is an in-memory Store whose WithTx restores state on error.
type memStore struct {
	tags         map[string]store.Tag
	posts        map[string]store.Post
	links        map[[2]string]bool
	insertPostFn func(store.Post) error
}

func newMemStore() *memStore {
	return &memStore{
		tags:  map[string]store.Tag{},
		posts: map[string]store.Post{},
		links: map[[2]string]bool{},
	}
}

func (m *memStore) snapshot() *memStore {
	c := newMemStore()
	for k, v := range m.tags {
		c.tags[k] = v
	}
	for k, v := range m.posts {
		c.posts[k] = v
	}
	for k, v := range m.links {
		c.links[k] = v
	}
	return c
}

func (m *memStore) WithTx(ctx context.Context, reason string, fn func(Tx) error) error {
	saved := m.snapshot()
	if err := fn(m); err != nil {
		m.tags, m.posts, m.links = saved.tags, saved.posts, saved.links
		return err
	}
	return nil
}

func (m *memStore) findByName(name string) (store.Tag, bool) {
	for _, tag := range m.tags {
		if strings.EqualFold(tag.Name, name) {
			return tag, true
		}
	}
	return store.Tag{}, false
}

func (m *memStore) FindTagByName(_ context.Context, name string) (store.Tag, error) {
	if tag, ok := m.findByName(name); ok {
		return tag, nil
	}
	return store.Tag{}, sql.ErrNoRows
}

func (m *memStore) InsertPendingTag(_ context.Context, tag store.Tag) (bool, error) {
	if _, ok := m.findByName(tag.Name); ok {
		return false, nil
	}
	tag.Approved = false
	m.tags[tag.ID] = tag
	return true, nil
}

func (m *memStore) InsertPost(_ context.Context, post store.Post) error {
	if m.insertPostFn != nil {
		if err := m.insertPostFn(post); err != nil {
			return err
		}
	}
	m.posts[post.ID] = post
	return nil
}

func (m *memStore) LinkPostTag(_ context.Context, postID, tagID string) (bool, error) {
	key := [2]string{postID, tagID}
	if m.links[key] {
		return false, nil
	}
	m.links[key] = true
	return true, nil
}

func (m *memStore) LockTag(_ context.Context, tagID string) (store.Tag, error) {
	tag, ok := m.tags[tagID]
	if !ok {
		return store.Tag{}, sql.ErrNoRows
	}
	return tag, nil
}

func (m *memStore) MarkTagApproved(_ context.Context, tagID string) error {
	tag := m.tags[tagID]
	tag.Approved = true
	m.tags[tagID] = tag
	return nil
}

func (m *memStore) ListPendingPostIDs(_ context.Context, tagName string) ([]string, error) {
	var ids []string
	for id, post := range m.posts {
		if post.PendingTagName != nil && strings.EqualFold(*post.PendingTagName, tagName) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) ClearPendingTags(_ context.Context, postIDs []string) error {
	for _, id := range postIDs {
		post := m.posts[id]
		post.PendingTagName = nil
		m.posts[id] = post
	}
	return nil
}

func (m *memStore) InsertTag(_ context.Context, tag store.Tag) error {
	if _, ok := m.findByName(tag.Name); ok {
		return store.ErrDuplicate
	}
	m.tags[tag.ID] = tag
	return nil
}

func (m *memStore) GetTag(_ context.Context, tagID string) (store.Tag, error) {
	tag, ok := m.tags[tagID]
	if !ok {
		return store.Tag{}, fmt.Errorf("get tag: %w", sql.ErrNoRows)
	}
	return tag, nil
}

func (m *memStore) DeleteTag(_ context.Context, tagID string) (bool, error) {
	if _, ok := m.tags[tagID]; !ok {
		return false, nil
	}
	delete(m.tags, tagID)
	for key := range m.links {
		if key[1] == tagID {
			delete(m.links, key)
		}
	}
	return true, nil
}

type sentNotice struct {
	userID    string
	message   string
	typ       notify.Type
	relatedID string
}

type fakeNotifier struct {
	sent []sentNotice
}

func (f *fakeNotifier) Notify(_ context.Context, userID, message string, typ notify.Type, relatedID string) notify.Outcome {
	f.sent = append(f.sent, sentNotice{userID, message, typ, relatedID})
	return notify.Outcome{Type: typ, Delivered: 1}
}

func newPost(id, author string) store.Post {
	return store.Post{ID: id, UserID: author, Title: "title " + id, Content: "body"}
}

func TestCreatePostWithUnknownTagLeavesItPending(t *testing.T) {
	st := newMemStore()
	m := NewManager(st, &fakeNotifier{})

	got, err := m.CreatePostWithTag(context.Background(), newPost("p1", "ann"), "  Rust ")
	if err != nil {
		t.Fatalf("CreatePostWithTag: %v", err)
	}
	if !got.CreatedTag || got.Linked {
		t.Fatalf("attachment = %+v, want created pending tag without link", got)
	}
	if len(st.tags) != 1 || got.Tag.Approved || got.Tag.Name != "Rust" {
		t.Fatalf("tags = %+v", st.tags)
	}
	if *got.Tag.CreatedBy != "ann" {
		t.Fatalf("creator = %q", *got.Tag.CreatedBy)
	}
	post := st.posts["p1"]
	if post.PendingTagName == nil || *post.PendingTagName != "Rust" {
		t.Fatalf("pending name = %v, want Rust", post.PendingTagName)
	}
	if len(st.links) != 0 {
		t.Fatalf("links = %v, want none", st.links)
	}
}

func TestCreatePostWithExistingPendingTagReusesIt(t *testing.T) {
	st := newMemStore()
	creator := "bob"
	st.tags["t1"] = store.Tag{ID: "t1", Name: "rust", CreatedBy: &creator}
	m := NewManager(st, &fakeNotifier{})

	got, err := m.CreatePostWithTag(context.Background(), newPost("p1", "ann"), "RUST")
	if err != nil {
		t.Fatalf("CreatePostWithTag: %v", err)
	}
	if got.CreatedTag || got.Tag.ID != "t1" {
		t.Fatalf("attachment = %+v, want reuse of t1", got)
	}
	if len(st.tags) != 1 {
		t.Fatalf("tag count = %d, want 1", len(st.tags))
	}
	if name := st.posts["p1"].PendingTagName; name == nil || *name != "RUST" {
		t.Fatalf("pending name = %v", name)
	}
}

func TestCreatePostWithApprovedTagLinksImmediately(t *testing.T) {
	st := newMemStore()
	st.tags["t1"] = store.Tag{ID: "t1", Name: "go", Approved: true}
	m := NewManager(st, &fakeNotifier{})

	got, err := m.CreatePostWithTag(context.Background(), newPost("p1", "ann"), "Go")
	if err != nil {
		t.Fatalf("CreatePostWithTag: %v", err)
	}
	if !got.Linked || !st.links[[2]string{"p1", "t1"}] {
		t.Fatalf("expected immediate link, got %+v links=%v", got, st.links)
	}
	if st.posts["p1"].PendingTagName != nil {
		t.Fatal("approved tag should not leave a pending name")
	}
}

func TestCreatePostWithBlankTagIsValidationError(t *testing.T) {
	st := newMemStore()
	_, err := NewManager(st, &fakeNotifier{}).CreatePostWithTag(context.Background(), newPost("p1", "ann"), "   ")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if len(st.posts) != 0 || len(st.tags) != 0 {
		t.Fatal("nothing should be written")
	}
}

func TestCreatePostWithTagRollsBackAsAUnit(t *testing.T) {
	st := newMemStore()
	boom := errors.New("insert failed")
	st.insertPostFn = func(store.Post) error { return boom }
	m := NewManager(st, &fakeNotifier{})

	_, err := m.CreatePostWithTag(context.Background(), newPost("p1", "ann"), "rust")
	if !apperr.Is(err, apperr.KindAtomicity) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want atomicity failure wrapping the insert error", err)
	}
	if len(st.tags) != 0 || len(st.posts) != 0 {
		t.Fatalf("pending tag must not survive a failed post insert: tags=%v posts=%v", st.tags, st.posts)
	}
}

func TestApproveLinksEveryPendingPost(t *testing.T) {
	st := newMemStore()
	notifier := &fakeNotifier{}
	m := NewManager(st, notifier)
	ctx := context.Background()

	first, err := m.CreatePostWithTag(ctx, newPost("p1", "ann"), "Rust")
	if err != nil {
		t.Fatalf("create p1: %v", err)
	}
	if _, err := m.CreatePostWithTag(ctx, newPost("p2", "bob"), "rust"); err != nil {
		t.Fatalf("create p2: %v", err)
	}

	approval, err := m.Approve(ctx, first.Tag.ID, "mod")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !approval.Tag.Approved || !st.tags[first.Tag.ID].Approved {
		t.Fatal("tag should be approved")
	}
	if len(approval.LinkedPostIDs) != 2 {
		t.Fatalf("linked = %v, want 2 posts", approval.LinkedPostIDs)
	}
	for _, id := range []string{"p1", "p2"} {
		if !st.links[[2]string{id, first.Tag.ID}] {
			t.Fatalf("post %s not linked", id)
		}
		if st.posts[id].PendingTagName != nil {
			t.Fatalf("post %s still pending", id)
		}
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(notifier.sent))
	}
	sent := notifier.sent[0]
	if sent.userID != "ann" || sent.typ != notify.TypeTagApproved || sent.relatedID != first.Tag.ID {
		t.Fatalf("notification = %+v", sent)
	}
}

func TestApproveStandaloneTagWithNoPosts(t *testing.T) {
	st := newMemStore()
	notifier := &fakeNotifier{}
	m := NewManager(st, notifier)

	tag, err := m.Create(context.Background(), "zig", "ann")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	approval, err := m.Approve(context.Background(), tag.ID, "mod")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if len(approval.LinkedPostIDs) != 0 {
		t.Fatalf("linked = %v, want none", approval.LinkedPostIDs)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("creator should still be notified, sent=%d", len(notifier.sent))
	}
}

func TestApproveErrors(t *testing.T) {
	st := newMemStore()
	st.tags["t1"] = store.Tag{ID: "t1", Name: "go", Approved: true}
	m := NewManager(st, &fakeNotifier{})

	if _, err := m.Approve(context.Background(), "missing", "mod"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("missing tag err = %v, want not found", err)
	}
	if _, err := m.Approve(context.Background(), "t1", "mod"); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("approved tag err = %v, want conflict", err)
	}
}

func TestCreateDuplicateTagIsConflict(t *testing.T) {
	st := newMemStore()
	m := NewManager(st, &fakeNotifier{})
	if _, err := m.Create(context.Background(), "Go", "ann"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create(context.Background(), "go", "bob"); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestDeleteKeepsPendingNamesAndNotifiesCreator(t *testing.T) {
	st := newMemStore()
	notifier := &fakeNotifier{}
	m := NewManager(st, notifier)
	ctx := context.Background()

	attached, err := m.CreatePostWithTag(ctx, newPost("p1", "ann"), "rust")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tag, outcome, err := m.Delete(ctx, attached.Tag.ID, "mod")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if tag.ID != attached.Tag.ID || !outcome.OK() {
		t.Fatalf("tag=%+v outcome=%+v", tag, outcome)
	}
	if len(st.tags) != 0 {
		t.Fatal("tag should be gone")
	}
	if name := st.posts["p1"].PendingTagName; name == nil || *name != "rust" {
		t.Fatalf("pending name should be left as is, got %v", name)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].typ != notify.TypeTagDeleted {
		t.Fatalf("notifications = %+v", notifier.sent)
	}

	if _, _, err := m.Delete(ctx, attached.Tag.ID, "mod"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("second delete err = %v, want not found", err)
	}
}
