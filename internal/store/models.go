package store

import "time"

type User struct {
	ID          string    `db:"id" json:"id"`
	Username    string    `db:"username" json:"username"`
	DisplayName string    `db:"display_name" json:"displayName"`
	Bio         string    `db:"bio" json:"bio"`
	AvatarURL   *string   `db:"avatar_url" json:"avatarUrl"`
	Role        string    `db:"role" json:"role"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// UserSummary is the public handle of a user as shown in lists.
type UserSummary struct {
	ID       string `db:"id" json:"id"`
	Username string `db:"username" json:"username"`
}

type Post struct {
	ID             string    `db:"id" json:"id"`
	UserID         string    `db:"user_id" json:"userId"`
	AuthorHandle   string    `db:"author_handle" json:"authorHandle"`
	CategoryID     *string   `db:"category_id" json:"categoryId"`
	Title          string    `db:"title" json:"title"`
	Content        string    `db:"content" json:"content"`
	PendingTagName *string   `db:"pending_tag_name" json:"pendingTagName"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

type Comment struct {
	ID              string    `db:"id" json:"id"`
	PostID          string    `db:"post_id" json:"postId"`
	UserID          string    `db:"user_id" json:"userId"`
	AuthorHandle    string    `db:"author_handle" json:"authorHandle"`
	ParentCommentID *string   `db:"parent_comment_id" json:"parentCommentId"`
	Content         string    `db:"content" json:"content"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}

type Tag struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedBy *string   `db:"created_by" json:"createdBy"`
	Approved  bool      `db:"approved" json:"approved"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type VoteTotals struct {
	Upvotes   int `db:"upvotes" json:"upvotes"`
	Downvotes int `db:"downvotes" json:"downvotes"`
}

func (v VoteTotals) Score() int {
	return v.Upvotes - v.Downvotes
}

type Notification struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	Message   string    `db:"message" json:"message"`
	Type      string    `db:"type" json:"type"`
	RelatedID *string   `db:"related_id" json:"relatedId"`
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type Report struct {
	ID                 string     `db:"id" json:"id"`
	UserID             string     `db:"user_id" json:"userId"`
	ContentID          string     `db:"content_id" json:"contentId"`
	ContentType        string     `db:"content_type" json:"contentType"`
	Reason             string     `db:"reason" json:"reason"`
	CustomReason       *string    `db:"custom_reason" json:"customReason"`
	AdditionalComments *string    `db:"additional_comments" json:"additionalComments"`
	Status             string     `db:"status" json:"status"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
	ResolvedAt         *time.Time `db:"resolved_at" json:"resolvedAt"`
}

// ProfilePatch holds the moderator-editable profile fields; nil leaves a field unchanged.
type ProfilePatch struct {
	DisplayName *string
	Bio         *string
	ClearAvatar bool
}
