// Package tags runs the tag lifecycle: pending tags attached to new posts,
// moderator approval with retroactive linking, and deletion.
package tags

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"agora/api/internal/apperr"
	"agora/api/internal/notify"
	"agora/api/internal/store"
	"agora/api/internal/util"
)

// Tx is the unit of work used for attach and approve.
type Tx interface {
	FindTagByName(ctx context.Context, name string) (store.Tag, error)
	InsertPendingTag(ctx context.Context, tag store.Tag) (bool, error)
	InsertPost(ctx context.Context, post store.Post) error
	LinkPostTag(ctx context.Context, postID, tagID string) (bool, error)
	LockTag(ctx context.Context, tagID string) (store.Tag, error)
	MarkTagApproved(ctx context.Context, tagID string) error
	ListPendingPostIDs(ctx context.Context, tagName string) ([]string, error)
	ClearPendingTags(ctx context.Context, postIDs []string) error
}

type Store interface {
	WithTx(ctx context.Context, reason string, fn func(Tx) error) error
	InsertTag(ctx context.Context, tag store.Tag) error
	GetTag(ctx context.Context, tagID string) (store.Tag, error)
	DeleteTag(ctx context.Context, tagID string) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID, message string, typ notify.Type, relatedID string) notify.Outcome
}

type Manager struct {
	store    Store
	notifier Notifier
}

func NewManager(store Store, notifier Notifier) *Manager {
	return &Manager{store: store, notifier: notifier}
}

// Normalize trims surrounding whitespace from a user-supplied tag name.
func Normalize(name string) string {
	return strings.TrimSpace(name)
}

// Attachment describes how a tag was attached to a newly created post.
type Attachment struct {
	Post store.Post
	Tag  store.Tag
	// Linked is true when the tag was already approved and a post_tags row was written.
	Linked bool
	// CreatedTag is true when this call created the pending tag.
	CreatedTag bool
}

// CreatePostWithTag inserts post together with its tag in one transaction.
// An approved tag is linked immediately; otherwise the post records the tag
// name as pending, creating the pending tag if needed. Any failure rolls the
// whole operation back.
func (m *Manager) CreatePostWithTag(ctx context.Context, post store.Post, rawName string) (Attachment, error) {
	name := Normalize(rawName)
	if name == "" {
		return Attachment{}, apperr.Validation("tag name must not be empty")
	}

	var result Attachment
	err := m.store.WithTx(ctx, "create post with tag", func(tx Tx) error {
		result = Attachment{}
		tag, err := tx.FindTagByName(ctx, name)
		if errors.Is(err, sql.ErrNoRows) {
			created, insertErr := tx.InsertPendingTag(ctx, store.Tag{
				ID:        util.NewID("tag"),
				Name:      name,
				CreatedBy: &post.UserID,
			})
			if insertErr != nil {
				return insertErr
			}
			result.CreatedTag = created
			// Re-read: a concurrent request may have created the same name first.
			tag, err = tx.FindTagByName(ctx, name)
		}
		if err != nil {
			return err
		}

		pending := post
		if tag.Approved {
			pending.PendingTagName = nil
		} else {
			pending.PendingTagName = &name
		}
		if err := tx.InsertPost(ctx, pending); err != nil {
			return err
		}
		if tag.Approved {
			if _, err := tx.LinkPostTag(ctx, pending.ID, tag.ID); err != nil {
				return err
			}
			result.Linked = true
		}
		result.Post = pending
		result.Tag = tag
		return nil
	})
	if err != nil {
		return Attachment{}, apperr.Atomicity("create post with tag", err)
	}
	return result, nil
}

// Create adds a standalone pending tag.
func (m *Manager) Create(ctx context.Context, rawName, creatorID string) (store.Tag, error) {
	name := Normalize(rawName)
	if name == "" {
		return store.Tag{}, apperr.Validation("tag name must not be empty")
	}
	tag := store.Tag{ID: util.NewID("tag"), Name: name, CreatedBy: &creatorID}
	if err := m.store.InsertTag(ctx, tag); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Tag{}, apperr.Conflict(fmt.Sprintf("tag %q already exists", name))
		}
		return store.Tag{}, err
	}
	return tag, nil
}

type Approval struct {
	Tag           store.Tag
	LinkedPostIDs []string
	Notification  notify.Outcome
}

// Approve marks a pending tag approved and links every post still waiting on
// its name. The tag row stays locked while pending posts are scanned, so a
// post created concurrently either lands before the scan or sees the tag as
// approved.
func (m *Manager) Approve(ctx context.Context, tagID, moderatorHandle string) (Approval, error) {
	var approval Approval
	err := m.store.WithTx(ctx, "approve tag", func(tx Tx) error {
		approval = Approval{}
		tag, err := tx.LockTag(ctx, tagID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("tag not found")
		}
		if err != nil {
			return err
		}
		if tag.Approved {
			return apperr.Conflict("tag is already approved")
		}
		if err := tx.MarkTagApproved(ctx, tag.ID); err != nil {
			return err
		}
		tag.Approved = true

		postIDs, err := tx.ListPendingPostIDs(ctx, tag.Name)
		if err != nil {
			return err
		}
		for _, postID := range postIDs {
			if _, err := tx.LinkPostTag(ctx, postID, tag.ID); err != nil {
				return err
			}
		}
		if err := tx.ClearPendingTags(ctx, postIDs); err != nil {
			return err
		}
		approval.Tag = tag
		approval.LinkedPostIDs = postIDs
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) != "" {
			return Approval{}, err
		}
		return Approval{}, fmt.Errorf("approve tag: %w", err)
	}

	if creator := tagCreator(approval.Tag); creator != "" {
		approval.Notification = m.notifier.Notify(ctx, creator,
			notify.TagApprovedMessage(approval.Tag.Name, moderatorHandle), notify.TypeTagApproved, approval.Tag.ID)
	}
	return approval, nil
}

// Delete removes a tag in either state. Post links go with it; pending tag
// names on posts are left untouched.
func (m *Manager) Delete(ctx context.Context, tagID, moderatorHandle string) (store.Tag, notify.Outcome, error) {
	tag, err := m.store.GetTag(ctx, tagID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Tag{}, notify.Outcome{}, apperr.NotFound("tag not found")
	}
	if err != nil {
		return store.Tag{}, notify.Outcome{}, err
	}
	deleted, err := m.store.DeleteTag(ctx, tagID)
	if err != nil {
		return store.Tag{}, notify.Outcome{}, err
	}
	if !deleted {
		return store.Tag{}, notify.Outcome{}, apperr.NotFound("tag not found")
	}

	var outcome notify.Outcome
	if creator := tagCreator(tag); creator != "" {
		outcome = m.notifier.Notify(ctx, creator,
			notify.TagDeletedMessage(tag.Name, moderatorHandle), notify.TypeTagDeleted, tag.ID)
	}
	return tag, outcome, nil
}

func tagCreator(tag store.Tag) string {
	if tag.CreatedBy == nil {
		return ""
	}
	return *tag.CreatedBy
}
