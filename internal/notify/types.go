package notify

import "fmt"

type Type string

const (
	TypePost           Type = "post"
	TypeComment        Type = "comment"
	TypeCommentReply   Type = "comment_reply"
	TypeMention        Type = "mention"
	TypeLike           Type = "like"
	TypeDislike        Type = "dislike"
	TypeFollow         Type = "follow"
	TypeUnfollow       Type = "unfollow"
	TypeTagApproved    Type = "tag_approved"
	TypeTagDeleted     Type = "tag_deleted"
	TypePostDeleted    Type = "post_deleted"
	TypeCommentDeleted Type = "comment_deleted"
	TypeProfileEdited  Type = "profile_edited"
	TypeReportResolved Type = "report_resolved"
)

func NewPostMessage(author, title string) string {
	return fmt.Sprintf("User %s published a new post: %q.", author, title)
}

func CommentMessage(author, postTitle string) string {
	return fmt.Sprintf("User %s commented on your post: %q.", author, postTitle)
}

func ReplyMessage(author, postTitle string) string {
	return fmt.Sprintf("User %s replied to your comment on post %q.", author, postTitle)
}

// MentionMessage describes where the mention happened: "post", "comment" or "reply".
func MentionMessage(author, where string) string {
	return fmt.Sprintf("User %s mentioned you in a %s.", author, where)
}

func PostVoteMessage(voter string, voteType int, postTitle string) string {
	return fmt.Sprintf("User %s %s your post: %q.", voter, voteVerb(voteType), postTitle)
}

func CommentVoteMessage(voter string, voteType int, commentContent, postTitle string) string {
	return fmt.Sprintf("User %s %s your comment: %s on post %q.", voter, voteVerb(voteType), commentContent, postTitle)
}

// VoteType maps a vote value to its notification type.
func VoteType(voteType int) Type {
	if voteType < 0 {
		return TypeDislike
	}
	return TypeLike
}

func voteVerb(voteType int) string {
	if voteType < 0 {
		return "disliked"
	}
	return "liked"
}

func FollowMessage(follower string) string {
	return fmt.Sprintf("User %s started following you.", follower)
}

func UnfollowMessage(follower string) string {
	return fmt.Sprintf("User %s unfollowed you.", follower)
}

func TagApprovedMessage(tagName, moderator string) string {
	return fmt.Sprintf("Your tag %q has been approved by admin %s. Everyone can use the tag you created while posting now!", tagName, moderator)
}

func TagDeletedMessage(tagName, moderator string) string {
	return fmt.Sprintf("Your tag %q has been deleted by admin %s.", tagName, moderator)
}

func PostDeletedMessage(postTitle, moderator string) string {
	return fmt.Sprintf("Your post %q has been deleted by admin %s.", postTitle, moderator)
}

func CommentDeletedMessage(moderator string) string {
	return fmt.Sprintf("Your comment has been deleted by admin %s.", moderator)
}

func ProfileEditedMessage(moderator string) string {
	return fmt.Sprintf("Your profile has been edited by admin %s.", moderator)
}

func ReportResolvedMessage(status, moderator string) string {
	if status == "rejected" {
		return fmt.Sprintf("Your report has been rejected by admin %s.", moderator)
	}
	return fmt.Sprintf("Your report has been resolved by admin %s.", moderator)
}
