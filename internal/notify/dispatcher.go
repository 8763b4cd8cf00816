// Package notify records per-user notifications after a primary write has
// committed. Delivery is best effort: failures are logged and reported in the
// returned Outcome but never turned into an error for the caller.
package notify

import (
	"context"
	"log"
	"sync"

	"agora/api/internal/store"
	"agora/api/internal/util"
)

type Store interface {
	InsertNotification(ctx context.Context, notification store.Notification) error
	InsertNotifications(ctx context.Context, notifications []store.Notification) error
}

// Counter tracks cached unread counts.
type Counter interface {
	Incr(ctx context.Context, userID string, n int64) error
}

// Publisher pushes a committed notification to realtime subscribers.
type Publisher interface {
	PublishNotification(ctx context.Context, notification store.Notification) error
}

// Outcome is the result of one dispatch. Callers may log or inspect it, but a
// failed dispatch never fails the operation that triggered it.
type Outcome struct {
	Type      Type
	Delivered int
	Skipped   int
	Err       error
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

type Dispatcher struct {
	store     Store
	counter   Counter
	publisher Publisher
	wg        sync.WaitGroup
}

type Option func(*Dispatcher)

func WithCounter(counter Counter) Option {
	return func(d *Dispatcher) { d.counter = counter }
}

func WithPublisher(publisher Publisher) Option {
	return func(d *Dispatcher) { d.publisher = publisher }
}

func NewDispatcher(store Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{store: store}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify records one notification for userID. An empty userID is skipped.
func (d *Dispatcher) Notify(ctx context.Context, userID, message string, typ Type, relatedID string) Outcome {
	outcome := Outcome{Type: typ}
	if userID == "" {
		outcome.Skipped = 1
		return outcome
	}

	notification := newNotification(userID, message, typ, relatedID)
	if err := d.store.InsertNotification(ctx, notification); err != nil {
		log.Printf("notify: insert %s for %s failed: %v", typ, userID, err)
		outcome.Err = err
		return outcome
	}
	outcome.Delivered = 1
	d.afterInsert(ctx, []store.Notification{notification})
	return outcome
}

// NotifyAll records the same notification for every user in userIDs in one
// batch. Empty and repeated ids are skipped.
func (d *Dispatcher) NotifyAll(ctx context.Context, userIDs []string, message string, typ Type, relatedID string) Outcome {
	outcome := Outcome{Type: typ}
	seen := make(map[string]struct{}, len(userIDs))
	batch := make([]store.Notification, 0, len(userIDs))
	for _, userID := range userIDs {
		if userID == "" {
			outcome.Skipped++
			continue
		}
		if _, dup := seen[userID]; dup {
			outcome.Skipped++
			continue
		}
		seen[userID] = struct{}{}
		batch = append(batch, newNotification(userID, message, typ, relatedID))
	}
	if len(batch) == 0 {
		return outcome
	}

	if err := d.store.InsertNotifications(ctx, batch); err != nil {
		log.Printf("notify: insert %d %s notifications failed: %v", len(batch), typ, err)
		outcome.Err = err
		return outcome
	}
	outcome.Delivered = len(batch)
	d.afterInsert(ctx, batch)
	return outcome
}

// Wait blocks until in-flight publishes have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) afterInsert(ctx context.Context, notifications []store.Notification) {
	if d.counter != nil {
		for _, notification := range notifications {
			if err := d.counter.Incr(ctx, notification.UserID, 1); err != nil {
				log.Printf("notify: bump unread for %s: %v", notification.UserID, err)
			}
		}
	}
	if d.publisher == nil {
		return
	}

	publishCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for _, notification := range notifications {
			if err := d.publisher.PublishNotification(publishCtx, notification); err != nil {
				log.Printf("notify: publish %s to %s: %v", notification.Type, notification.UserID, err)
			}
		}
	}()
}

func newNotification(userID, message string, typ Type, relatedID string) store.Notification {
	notification := store.Notification{
		ID:      util.NewID("ntf"),
		UserID:  userID,
		Message: message,
		Type:    string(typ),
	}
	if relatedID != "" {
		notification.RelatedID = &relatedID
	}
	return notification
}
