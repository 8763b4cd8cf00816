// Package mention finds @handles in free text and maps them to user ids.
package mention

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var handlePattern = regexp.MustCompile(`@(\w+)`)

// Extract returns every handle written as @handle, left to right, with its
// original case. Duplicates are kept.
func Extract(text string) []string {
	matches := handlePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	handles := make([]string, 0, len(matches))
	for _, match := range matches {
		handles = append(handles, match[1])
	}
	return handles
}

// Unique drops repeated handles, comparing case-insensitively and keeping the
// first spelling seen.
func Unique(handles []string) []string {
	seen := make(map[string]struct{}, len(handles))
	out := make([]string, 0, len(handles))
	for _, handle := range handles {
		key := strings.ToLower(handle)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, handle)
	}
	return out
}

type User struct {
	ID       string
	Username string
}

type Directory interface {
	LookupHandles(ctx context.Context, handles []string) ([]User, error)
}

// Resolve maps handles to user ids, matching usernames without regard to case.
// Handles with no matching user are dropped. The result is keyed by the handle
// as the caller passed it.
func Resolve(ctx context.Context, dir Directory, handles []string) (map[string]string, error) {
	resolved := map[string]string{}
	if len(handles) == 0 {
		return resolved, nil
	}
	users, err := dir.LookupHandles(ctx, handles)
	if err != nil {
		return nil, fmt.Errorf("resolve handles: %w", err)
	}
	byLower := make(map[string]string, len(users))
	for _, user := range users {
		byLower[strings.ToLower(user.Username)] = user.ID
	}
	for _, handle := range handles {
		if id, ok := byLower[strings.ToLower(handle)]; ok {
			resolved[handle] = id
		}
	}
	return resolved, nil
}

// Recipients extracts, de-duplicates and resolves the mentions in text and
// returns the mentioned user ids in first-mention order, skipping excludeID.
func Recipients(ctx context.Context, dir Directory, text, excludeID string) ([]string, error) {
	handles := Unique(Extract(text))
	if len(handles) == 0 {
		return nil, nil
	}
	resolved, err := Resolve(ctx, dir, handles)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var ids []string
	for _, handle := range handles {
		id, ok := resolved[handle]
		if !ok || id == excludeID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}
