package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"agora/api/internal/apperr"
	"agora/api/internal/notify"
	"agora/api/internal/search"
	"agora/api/internal/store"
	"agora/api/internal/tags"
	"agora/api/internal/util"
	"agora/api/internal/visibility"
)

type CreateTagInput struct {
	Name string `json:"name" validate:"notblank,max=64"`
}

type ReportInput struct {
	ContentType        string  `json:"contentType" validate:"oneof=post comment"`
	Reason             string  `json:"reason" validate:"notblank"`
	CustomReason       *string `json:"customReason" validate:"omitempty,max=500"`
	AdditionalComments *string `json:"additionalComments" validate:"omitempty,max=2000"`
}

type ResolveReportInput struct {
	Status string `json:"status" validate:"oneof=pending under_review resolved rejected"`
}

type ProfileEditInput struct {
	DisplayName *string `json:"displayName" validate:"omitempty,max=100"`
	Bio         *string `json:"bio" validate:"omitempty,max=1000"`
	ClearAvatar bool    `json:"clearAvatar"`
}

const reasonOther = "other"

var reportReasons = map[string]struct{}{
	"spam":                  {},
	"harassment":            {},
	"hate speech":           {},
	"inappropriate content": {},
	"impersonation":         {},
	"misinformation":        {},
	"threatening behavior":  {},
	"copyright violation":   {},
	"self-harm or suicide":  {},
	"scam or fraud":         {},
	reasonOther:             {},
}

// Tags

func (s *Service) CreateTag(ctx context.Context, creator Session, input CreateTagInput) (store.Tag, error) {
	if err := validateInput(input); err != nil {
		return store.Tag{}, err
	}
	return s.tags.Create(ctx, input.Name, creator.UserID)
}

func (s *Service) ListTags(ctx context.Context) ([]store.Tag, error) {
	approved, err := s.store.ListApprovedTags(ctx)
	if err != nil {
		return nil, err
	}
	return orEmpty(approved), nil
}

func (s *Service) ListPendingTags(ctx context.Context) ([]store.Tag, error) {
	pending, err := s.store.ListPendingTags(ctx)
	if err != nil {
		return nil, err
	}
	return orEmpty(pending), nil
}

func (s *Service) ListPostTags(ctx context.Context, postID string) ([]store.Tag, error) {
	if _, err := s.getPost(ctx, postID); err != nil {
		return nil, err
	}
	postTags, err := s.store.ListPostTags(ctx, postID)
	if err != nil {
		return nil, err
	}
	return orEmpty(postTags), nil
}

func (s *Service) ApproveTag(ctx context.Context, moderator Session, tagID string) (tags.Approval, error) {
	approval, err := s.tags.Approve(ctx, tagID, moderator.Handle)
	if err != nil {
		return tags.Approval{}, err
	}
	if approval.LinkedPostIDs == nil {
		approval.LinkedPostIDs = []string{}
	}
	if s.search != nil {
		s.search.IndexTag(search.TagRecord{ID: approval.Tag.ID, Name: approval.Tag.Name})
	}
	return approval, nil
}

func (s *Service) DeleteTag(ctx context.Context, moderator Session, tagID string) (store.Tag, error) {
	tag, _, err := s.tags.Delete(ctx, tagID, moderator.Handle)
	if err != nil {
		return store.Tag{}, err
	}
	if s.search != nil {
		s.search.DeleteTag(tag.ID)
	}
	return tag, nil
}

// Reports

func (s *Service) ReportContent(ctx context.Context, reporter Session, contentID string, input ReportInput) (store.Report, error) {
	if err := validateInput(input); err != nil {
		return store.Report{}, err
	}
	reason := strings.ToLower(strings.TrimSpace(input.Reason))
	if _, ok := reportReasons[reason]; !ok {
		return store.Report{}, apperr.Validation(fmt.Sprintf("%q is not a valid reporting reason", input.Reason))
	}

	var customReason *string
	if reason == reasonOther {
		if input.CustomReason == nil || strings.TrimSpace(*input.CustomReason) == "" {
			return store.Report{}, apperr.Validation("customReason is required when reason is other")
		}
		trimmed := strings.TrimSpace(*input.CustomReason)
		customReason = &trimmed
	}

	switch input.ContentType {
	case "post":
		if _, err := s.getPost(ctx, contentID); err != nil {
			return store.Report{}, err
		}
	case "comment":
		if _, err := s.getComment(ctx, contentID); err != nil {
			return store.Report{}, err
		}
	}

	report := store.Report{
		ID:                 util.NewID("rpt"),
		UserID:             reporter.UserID,
		ContentID:          contentID,
		ContentType:        input.ContentType,
		Reason:             reason,
		CustomReason:       customReason,
		AdditionalComments: input.AdditionalComments,
		Status:             "pending",
	}
	if err := s.store.InsertReport(ctx, report); err != nil {
		return store.Report{}, fmt.Errorf("report content: %w", err)
	}
	return report, nil
}

func (s *Service) ListReports(ctx context.Context, status string) ([]store.Report, error) {
	if status != "" {
		if err := validateInput(ResolveReportInput{Status: status}); err != nil {
			return nil, err
		}
	}
	reports, err := s.store.ListReports(ctx, status)
	if err != nil {
		return nil, err
	}
	return orEmpty(reports), nil
}

// ResolveReport moves a report to a new status. The reporter hears back
// once the report reaches resolved or rejected.
func (s *Service) ResolveReport(ctx context.Context, moderator Session, reportID string, input ResolveReportInput) (store.Report, error) {
	if err := validateInput(input); err != nil {
		return store.Report{}, err
	}
	updated, err := s.store.UpdateReportStatus(ctx, reportID, input.Status)
	if err != nil {
		return store.Report{}, err
	}
	if !updated {
		return store.Report{}, apperr.NotFound("report not found")
	}
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return store.Report{}, err
	}
	if input.Status == "resolved" || input.Status == "rejected" {
		s.notifier.Notify(ctx, report.UserID, notify.ReportResolvedMessage(input.Status, moderator.Handle), notify.TypeReportResolved, report.ID)
	}
	return report, nil
}

// Moderation

func (s *Service) ModerateDeletePost(ctx context.Context, moderator Session, postID string) error {
	post, err := s.getPost(ctx, postID)
	if err != nil {
		return err
	}
	if err := s.removePost(ctx, post.ID); err != nil {
		return err
	}
	if post.UserID != moderator.UserID {
		s.notifier.Notify(ctx, post.UserID, notify.PostDeletedMessage(post.Title, moderator.Handle), notify.TypePostDeleted, post.ID)
	}
	return nil
}

func (s *Service) ModerateDeleteComment(ctx context.Context, moderator Session, commentID string) error {
	comment, err := s.getComment(ctx, commentID)
	if err != nil {
		return err
	}
	deleted, err := s.store.DeleteComment(ctx, comment.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperr.NotFound("comment not found")
	}
	if s.search != nil {
		s.search.DeleteComment(comment.ID)
	}
	if comment.UserID != moderator.UserID {
		s.notifier.Notify(ctx, comment.UserID, notify.CommentDeletedMessage(moderator.Handle), notify.TypeCommentDeleted, comment.PostID)
	}
	return nil
}

func (s *Service) ModerateProfile(ctx context.Context, moderator Session, userID string, input ProfileEditInput) (store.User, error) {
	if err := validateInput(input); err != nil {
		return store.User{}, err
	}
	if input.DisplayName == nil && input.Bio == nil && !input.ClearAvatar {
		return store.User{}, apperr.Validation("no profile fields to change")
	}
	updated, err := s.store.UpdateUserProfile(ctx, userID, store.ProfilePatch{
		DisplayName: input.DisplayName,
		Bio:         input.Bio,
		ClearAvatar: input.ClearAvatar,
	})
	if err != nil {
		return store.User{}, err
	}
	if !updated {
		return store.User{}, apperr.NotFound("user not found")
	}
	if userID != moderator.UserID {
		s.notifier.Notify(ctx, userID, notify.ProfileEditedMessage(moderator.Handle), notify.TypeProfileEdited, userID)
	}
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, apperr.NotFound("user not found")
	}
	return user, err
}

// Search

func (s *Service) Search(ctx context.Context, viewerID string, q search.Query) (search.Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{}, apperr.Validation("q is required")
	}
	switch q.FilterType {
	case "", search.ResultPost, search.ResultComment, search.ResultTag:
	default:
		return search.Response{}, apperr.Validation("type must be one of: post, comment, tag")
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}

	blocks, err := s.blockSet(ctx, viewerID)
	if err != nil {
		return search.Response{}, err
	}
	response := s.search.Search(ctx, q)
	visible := visibility.Filter(blocks, response.Results, func(r search.Result) string { return r.AuthorID })
	response.Total -= len(response.Results) - len(visible)
	response.Results = orEmpty(visible)
	return response, nil
}
