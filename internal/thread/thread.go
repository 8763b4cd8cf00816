// Package thread turns a post's comments into the numbered view readers see.
//
// The post itself is floor 1, so the first visible comment is floor 2. Floors
// are assigned after block filtering, which means the same comment can carry
// different floor numbers for different viewers.
package thread

import (
	"agora/api/internal/store"
	"agora/api/internal/visibility"
)

const firstCommentFloor = 2

type DisplayComment struct {
	store.Comment
	FloorNumber int `json:"floorNumber"`
	// ParentFloorNumber is nil for top-level comments and for replies whose
	// parent is not visible to this viewer.
	ParentFloorNumber *int `json:"parentFloorNumber"`
	// Orphaned marks a reply whose parent is hidden or gone.
	Orphaned bool `json:"orphaned,omitempty"`
}

type Thread struct {
	Post     store.Post       `json:"post"`
	Comments []DisplayComment `json:"comments"`
}

// Assemble filters comments through the viewer's block set and numbers the
// survivors. comments must already be in (created_at, id) order.
func Assemble(post store.Post, comments []store.Comment, blocks visibility.Set) Thread {
	visible := visibility.Filter(blocks, comments, func(c store.Comment) string { return c.UserID })

	floors := make(map[string]int, len(visible))
	for i, comment := range visible {
		floors[comment.ID] = i + firstCommentFloor
	}

	display := make([]DisplayComment, 0, len(visible))
	for i, comment := range visible {
		entry := DisplayComment{Comment: comment, FloorNumber: i + firstCommentFloor}
		if comment.ParentCommentID != nil {
			if floor, ok := floors[*comment.ParentCommentID]; ok {
				entry.ParentFloorNumber = &floor
			} else {
				entry.Orphaned = true
			}
		}
		display = append(display, entry)
	}
	return Thread{Post: post, Comments: display}
}
