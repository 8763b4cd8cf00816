package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"agora/api/internal/apperr"
	"agora/api/internal/notify"
	"agora/api/internal/store"
)

const notificationPageSize = 100

func (s *Service) Follow(ctx context.Context, follower Session, targetID string) error {
	target, err := s.edgeTarget(ctx, follower.UserID, targetID, "follow")
	if err != nil {
		return err
	}
	inserted, err := s.store.InsertFollow(ctx, follower.UserID, target.ID)
	if err != nil {
		return fmt.Errorf("follow user: %w", err)
	}
	if !inserted {
		return apperr.Conflict("you are already following this user")
	}
	s.notifier.Notify(ctx, target.ID, notify.FollowMessage(follower.Handle), notify.TypeFollow, follower.UserID)
	return nil
}

func (s *Service) Unfollow(ctx context.Context, follower Session, targetID string) error {
	target, err := s.edgeTarget(ctx, follower.UserID, targetID, "unfollow")
	if err != nil {
		return err
	}
	deleted, err := s.store.DeleteFollow(ctx, follower.UserID, target.ID)
	if err != nil {
		return fmt.Errorf("unfollow user: %w", err)
	}
	if !deleted {
		return apperr.NotFound("you are not following this user")
	}
	s.notifier.Notify(ctx, target.ID, notify.UnfollowMessage(follower.Handle), notify.TypeUnfollow, follower.UserID)
	return nil
}

func (s *Service) ListFollowers(ctx context.Context, userID string) ([]store.UserSummary, error) {
	if _, err := s.getUser(ctx, userID); err != nil {
		return nil, err
	}
	users, err := s.store.ListFollowers(ctx, userID)
	if err != nil {
		return nil, err
	}
	return orEmpty(users), nil
}

func (s *Service) ListFollowing(ctx context.Context, userID string) ([]store.UserSummary, error) {
	if _, err := s.getUser(ctx, userID); err != nil {
		return nil, err
	}
	users, err := s.store.ListFollowing(ctx, userID)
	if err != nil {
		return nil, err
	}
	return orEmpty(users), nil
}

// Block hides the target's content from the blocker. The target is not told.
func (s *Service) Block(ctx context.Context, blocker Session, targetID string) error {
	target, err := s.edgeTarget(ctx, blocker.UserID, targetID, "block")
	if err != nil {
		return err
	}
	inserted, err := s.store.InsertBlock(ctx, blocker.UserID, target.ID)
	if err != nil {
		return fmt.Errorf("block user: %w", err)
	}
	if !inserted {
		return apperr.Conflict("you have already blocked this user")
	}
	return nil
}

func (s *Service) Unblock(ctx context.Context, blocker Session, targetID string) error {
	target, err := s.edgeTarget(ctx, blocker.UserID, targetID, "unblock")
	if err != nil {
		return err
	}
	deleted, err := s.store.DeleteBlock(ctx, blocker.UserID, target.ID)
	if err != nil {
		return fmt.Errorf("unblock user: %w", err)
	}
	if !deleted {
		return apperr.NotFound("you have not blocked this user")
	}
	return nil
}

func (s *Service) ListBlocked(ctx context.Context, blocker Session) ([]store.UserSummary, error) {
	users, err := s.store.ListBlocked(ctx, blocker.UserID)
	if err != nil {
		return nil, err
	}
	return orEmpty(users), nil
}

// edgeTarget checks the other end of a follow or block edge.
func (s *Service) edgeTarget(ctx context.Context, actorID, targetID, verb string) (store.User, error) {
	if targetID == actorID {
		return store.User{}, apperr.Validation(fmt.Sprintf("you cannot %s yourself", verb))
	}
	return s.getUser(ctx, targetID)
}

func (s *Service) getUser(ctx context.Context, userID string) (store.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, apperr.NotFound("user not found")
	}
	return user, err
}

// Notifications

func (s *Service) Notifications(ctx context.Context, user Session) ([]store.Notification, error) {
	notifications, err := s.store.ListNotifications(ctx, user.UserID, notificationPageSize)
	if err != nil {
		return nil, err
	}
	return orEmpty(notifications), nil
}

// UnreadCount reads through the cache, seeding it from Postgres on a miss.
func (s *Service) UnreadCount(ctx context.Context, user Session) (int, error) {
	if s.unread != nil {
		count, ok, err := s.unread.Get(ctx, user.UserID)
		if err != nil {
			log.Printf("inbox: read unread count for %s: %v", user.UserID, err)
		} else if ok {
			return count, nil
		}
	}

	count, err := s.store.CountUnread(ctx, user.UserID)
	if err != nil {
		return 0, err
	}
	if s.unread != nil {
		if err := s.unread.Set(ctx, user.UserID, count); err != nil {
			log.Printf("inbox: seed unread count for %s: %v", user.UserID, err)
		}
	}
	return count, nil
}

func (s *Service) MarkAllRead(ctx context.Context, user Session) (int64, error) {
	updated, err := s.store.MarkAllRead(ctx, user.UserID)
	if err != nil {
		return 0, err
	}
	if updated == 0 {
		return 0, apperr.NotFound("no unread notifications")
	}
	s.resetUnread(ctx, user.UserID)
	return updated, nil
}

func (s *Service) DeleteNotification(ctx context.Context, user Session, notificationID string) error {
	deleted, err := s.store.DeleteNotification(ctx, notificationID, user.UserID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperr.NotFound("notification not found")
	}
	s.resetUnread(ctx, user.UserID)
	return nil
}

func (s *Service) resetUnread(ctx context.Context, userID string) {
	if s.unread == nil {
		return
	}
	if err := s.unread.Reset(ctx, userID); err != nil {
		log.Printf("inbox: reset unread count for %s: %v", userID, err)
	}
}
