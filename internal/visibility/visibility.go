// Package visibility hides content authored by users a viewer has blocked.
// Blocking is one-directional: only the viewer's outgoing block edges matter.
package visibility

import (
	"context"
	"fmt"
	"sort"
)

type BlockLister interface {
	ListBlockedIDs(ctx context.Context, blockerID string) ([]string, error)
}

// Set is the block set of one viewer, loaded once per request.
// The nil Set hides nothing.
type Set map[string]struct{}

// Load fetches the viewer's block set. An anonymous viewer gets a nil Set
// without touching the store.
func Load(ctx context.Context, lister BlockLister, viewerID string) (Set, error) {
	if viewerID == "" {
		return nil, nil
	}
	ids, err := lister.ListBlockedIDs(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("load block set: %w", err)
	}
	set := make(Set, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func (s Set) Hides(authorID string) bool {
	_, blocked := s[authorID]
	return blocked
}

// IDs lists the hidden author ids in sorted order. The nil Set yields nil.
func (s Set) IDs() []string {
	if len(s) == 0 {
		return nil
	}
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Filter returns the items whose author is not hidden, keeping their order.
// With an empty set the input slice is returned unchanged.
func Filter[T any](set Set, items []T, authorOf func(T) string) []T {
	if len(set) == 0 {
		return items
	}
	visible := make([]T, 0, len(items))
	for _, item := range items {
		if set.Hides(authorOf(item)) {
			continue
		}
		visible = append(visible, item)
	}
	return visible
}
