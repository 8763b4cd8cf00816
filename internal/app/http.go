package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agora/api/internal/auth"
	"agora/api/internal/rbac"
	"agora/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "posts":
		s.handlePosts(w, r, parts)
	case "comments":
		s.handleComments(w, r, parts)
	case "tags":
		s.handleTags(w, r, parts)
	case "users":
		s.handleUsers(w, r, parts)
	case "blocks":
		s.handleBlocks(w, r, parts)
	case "notifications":
		s.handleNotifications(w, r, parts)
	case "reports":
		s.handleReports(w, r, parts)
	case "admin":
		s.handleAdmin(w, r, parts)
	case "search":
		s.handleSearch(w, r, parts)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handlePosts(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			viewer, ok := s.optionalSession(w, r)
			if !ok {
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			posts, err := s.service.ListPosts(r.Context(), viewer.UserID, limit)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
		case http.MethodPost:
			session, ok := s.requireAction(w, r, rbac.ActionWrite)
			if !ok {
				return
			}
			var body CreatePostInput
			if !decodeInto(w, r, &body) {
				return
			}
			post, err := s.service.CreatePost(r.Context(), session, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"post": post})
		default:
			writeMethodNotAllowed(w)
		}
		return
	}

	postID := parts[2]
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			viewer, ok := s.optionalSession(w, r)
			if !ok {
				return
			}
			post, err := s.service.GetPost(r.Context(), viewer.UserID, postID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"post": post})
		case http.MethodDelete:
			session, ok := s.requireAction(w, r, rbac.ActionWrite)
			if !ok {
				return
			}
			if err := s.service.DeletePost(r.Context(), session, postID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeMethodNotAllowed(w)
		}
		return
	}

	if len(parts) != 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[3] {
	case "comments":
		if r.Method == http.MethodGet {
			viewer, ok := s.optionalSession(w, r)
			if !ok {
				return
			}
			view, err := s.service.ViewThread(r.Context(), viewer.UserID, postID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, view)
			return
		}
		if r.Method == http.MethodPost {
			session, ok := s.requireAction(w, r, rbac.ActionWrite)
			if !ok {
				return
			}
			var body CreateCommentInput
			if !decodeInto(w, r, &body) {
				return
			}
			comment, err := s.service.CreateComment(r.Context(), session, postID, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"comment": comment})
			return
		}
	case "votes":
		if r.Method == http.MethodGet {
			totals, err := s.service.PostVotes(r.Context(), postID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, totals)
			return
		}
		if r.Method == http.MethodPost {
			session, ok := s.requireAction(w, r, rbac.ActionWrite)
			if !ok {
				return
			}
			var body VoteInput
			if !decodeInto(w, r, &body) {
				return
			}
			totals, err := s.service.VotePost(r.Context(), session, postID, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, totals)
			return
		}
	case "tags":
		if r.Method == http.MethodGet {
			postTags, err := s.service.ListPostTags(r.Context(), postID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"tags": postTags})
			return
		}
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	writeMethodNotAllowed(w)
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 4 || parts[3] != "votes" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	commentID := parts[2]
	switch r.Method {
	case http.MethodGet:
		totals, err := s.service.CommentVotes(r.Context(), commentID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, totals)
	case http.MethodPost:
		session, ok := s.requireAction(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		var body VoteInput
		if !decodeInto(w, r, &body) {
			return
		}
		totals, err := s.service.VoteComment(r.Context(), session, commentID, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, totals)
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *HTTPServer) handleTags(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			if r.URL.Query().Get("status") == "pending" {
				if _, ok := s.requireAction(w, r, rbac.ActionApproveTags); !ok {
					return
				}
				pending, err := s.service.ListPendingTags(r.Context())
				if err != nil {
					writeMappedError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"tags": pending})
				return
			}
			approved, err := s.service.ListTags(r.Context())
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"tags": approved})
		case http.MethodPost:
			session, ok := s.requireAction(w, r, rbac.ActionWrite)
			if !ok {
				return
			}
			var body CreateTagInput
			if !decodeInto(w, r, &body) {
				return
			}
			tag, err := s.service.CreateTag(r.Context(), session, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"tag": tag})
		default:
			writeMethodNotAllowed(w)
		}
		return
	}

	tagID := parts[2]
	if len(parts) == 4 && parts[3] == "approve" && r.Method == http.MethodPost {
		session, ok := s.requireAction(w, r, rbac.ActionApproveTags)
		if !ok {
			return
		}
		approval, err := s.service.ApproveTag(r.Context(), session, tagID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tag":           approval.Tag,
			"linkedPostIds": approval.LinkedPostIDs,
		})
		return
	}

	if len(parts) == 3 && r.Method == http.MethodDelete {
		session, ok := s.requireAction(w, r, rbac.ActionApproveTags)
		if !ok {
			return
		}
		tag, err := s.service.DeleteTag(r.Context(), session, tagID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tag": tag})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	userID := parts[2]

	switch parts[3] {
	case "followers", "following":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		list := s.service.ListFollowers
		if parts[3] == "following" {
			list = s.service.ListFollowing
		}
		users, err := list(r.Context(), userID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case "follow", "block":
		var apply func(context.Context, Session, string) error
		switch {
		case parts[3] == "follow" && r.Method == http.MethodPost:
			apply = s.service.Follow
		case parts[3] == "follow" && r.Method == http.MethodDelete:
			apply = s.service.Unfollow
		case parts[3] == "block" && r.Method == http.MethodPost:
			apply = s.service.Block
		case parts[3] == "block" && r.Method == http.MethodDelete:
			apply = s.service.Unblock
		default:
			writeMethodNotAllowed(w)
			return
		}
		session, ok := s.requireAction(w, r, rbac.ActionWrite)
		if !ok {
			return
		}
		if err := apply(r.Context(), session, userID); err != nil {
			writeMappedError(w, err)
			return
		}
		status := http.StatusOK
		if r.Method == http.MethodPost {
			status = http.StatusCreated
		}
		writeJSON(w, status, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleBlocks(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 2 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	users, err := s.service.ListBlocked(r.Context(), session)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, parts []string) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if len(parts) == 2 && r.Method == http.MethodGet {
		notifications, err := s.service.Notifications(r.Context(), session)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
		return
	}

	if len(parts) == 3 && parts[2] == "unread-count" && r.Method == http.MethodGet {
		count, err := s.service.UnreadCount(r.Context(), session)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"unread": count})
		return
	}

	if len(parts) == 3 && parts[2] == "read" && r.Method == http.MethodPost {
		updated, err := s.service.MarkAllRead(r.Context(), session)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
		return
	}

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.DeleteNotification(r.Context(), session, parts[2]); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReports(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 3 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	session, ok := s.requireAction(w, r, rbac.ActionWrite)
	if !ok {
		return
	}
	var body ReportInput
	if !decodeInto(w, r, &body) {
		return
	}
	report, err := s.service.ReportContent(r.Context(), session, parts[2], body)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"report": report})
}

func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	session, ok := s.requireAction(w, r, rbac.ActionModerate)
	if !ok {
		return
	}

	switch {
	case parts[2] == "reports" && len(parts) == 3 && r.Method == http.MethodGet:
		reports, err := s.service.ListReports(r.Context(), r.URL.Query().Get("status"))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
	case parts[2] == "reports" && len(parts) == 5 && parts[4] == "resolve" && r.Method == http.MethodPost:
		var body ResolveReportInput
		if !decodeInto(w, r, &body) {
			return
		}
		report, err := s.service.ResolveReport(r.Context(), session, parts[3], body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"report": report})
	case parts[2] == "posts" && len(parts) == 4 && r.Method == http.MethodDelete:
		if err := s.service.ModerateDeletePost(r.Context(), session, parts[3]); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case parts[2] == "comments" && len(parts) == 4 && r.Method == http.MethodDelete:
		if err := s.service.ModerateDeleteComment(r.Context(), session, parts[3]); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case parts[2] == "users" && len(parts) == 4 && r.Method == http.MethodPatch:
		var body ProfileEditInput
		if !decodeInto(w, r, &body) {
			return
		}
		user, err := s.service.ModerateProfile(r.Context(), session, parts[3], body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": user})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 2 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	viewer, ok := s.optionalSession(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	response, err := s.service.Search(r.Context(), viewer.UserID, search.Query{
		Text:       query.Get("q"),
		FilterType: search.ResultType(query.Get("type")),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		log.Printf("session lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// requireAction authenticates the caller and checks their role allows action.
func (s *HTTPServer) requireAction(w http.ResponseWriter, r *http.Request, action rbac.Action) (Session, bool) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return Session{}, false
	}
	if !s.service.Can(session.Role, action) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return Session{}, false
	}
	return session, true
}

// optionalSession returns the anonymous session when no token is sent.
// A token that is sent must be valid.
func (s *HTTPServer) optionalSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	if bearerToken(r) == "" {
		return Session{}, true
	}
	return s.requireSession(w, r)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
	}
	writeError(w, status, code, message, details)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func decodeInto(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
