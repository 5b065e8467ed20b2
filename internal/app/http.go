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

	"localehub/api/internal/auth"
	"localehub/api/internal/authpw"
	"localehub/api/internal/export"
	"localehub/api/internal/search"
	"localehub/api/internal/store"
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
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
			"email":         session.Email,
		})
		return
	}

	// Everything below is session-aware. Anonymous callers keep an empty
	// actor ID and can still reach public files and search.
	session := Session{}
	if token := bearerToken(r); token != "" {
		parsed, err := s.service.SessionFromToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		session = parsed
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := search.Query{Text: r.URL.Query().Get("q")}
		query.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
		query.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
		writeJSON(w, http.StatusOK, s.service.Search(query))
		return
	}

	if r.URL.Path == "/api/files" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListOwned(r.Context(), session.UserID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"files": metaResponses(items)})
		case http.MethodPost:
			var body CreateFileInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			file, err := s.service.CreateFile(r.Context(), session.UserID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, fileResponse(file))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/files/shared" {
		items, err := s.service.ListSharedWith(r.Context(), session.UserID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": metaResponses(items)})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/files/public" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err := s.service.ListPublic(r.Context(), limit)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": metaResponses(items)})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "files" {
		s.handleFile(w, r, session, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleFile(w http.ResponseWriter, r *http.Request, session Session, fileID string, rest []string) {
	ctx := r.Context()
	actor := session.UserID

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			file, err := s.service.GetFile(ctx, actor, fileID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, fileResponse(file))
		case http.MethodPut:
			var body UpdateFileInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			result, err := s.service.UpdateFile(ctx, actor, fileID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
		case http.MethodDelete:
			if err := s.service.DeleteFile(ctx, actor, fileID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch rest[0] {
	case "name":
		if r.Method != http.MethodPut {
			break
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.Rename(ctx, actor, fileID, body.Name); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return

	case "visibility":
		if r.Method != http.MethodPut {
			break
		}
		var body struct {
			Public bool `json:"public"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SetVisibility(ctx, actor, fileID, body.Public); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "public": body.Public})
		return

	case "stats":
		if r.Method != http.MethodGet {
			break
		}
		stats, err := s.service.Stats(ctx, actor, fileID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"totalVersions":   stats.TotalVersions,
			"firstCreatedAt":  stats.FirstCreatedAt,
			"lastCreatedAt":   stats.LastCreatedAt,
			"totalBytes":      stats.TotalBytes,
			"distinctAuthors": stats.DistinctAuthors,
		})
		return

	case "versions":
		s.handleVersions(w, r, session, fileID, rest[1:])
		return

	case "shares":
		s.handleShares(w, r, session, fileID, rest[1:])
		return

	case "export":
		if r.Method != http.MethodGet {
			break
		}
		format := export.Format(r.URL.Query().Get("format"))
		if format == "" {
			format = export.FormatXCStrings
		}
		result, err := s.service.Export(ctx, actor, fileID, format)
		if err != nil {
			s.fail(w, err)
			return
		}
		if result.URL != "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"filename": result.Filename,
				"url":      result.URL,
			})
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return

	case "translate":
		if r.Method != http.MethodPost {
			break
		}
		var body TranslateInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		suggestions, err := s.service.Translate(ctx, actor, fileID, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, suggestions)
		return

	case "proofread":
		if r.Method != http.MethodPost {
			break
		}
		var body ProofreadInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		suggestions, err := s.service.Proofread(ctx, actor, fileID, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, suggestions)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleVersions(w http.ResponseWriter, r *http.Request, session Session, fileID string, rest []string) {
	ctx := r.Context()
	actor := session.UserID

	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		versions, err := s.service.ListVersions(ctx, actor, fileID)
		if err != nil {
			s.fail(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(versions))
		for _, v := range versions {
			payload = append(payload, versionResponse(v, false))
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": payload})
		return
	}

	number, err := strconv.Atoi(rest[0])
	if err != nil || number < 1 {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "version number must be a positive integer", nil)
		return
	}

	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			version, err := s.service.GetVersion(ctx, actor, fileID, number)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, versionResponse(version, true))
		case http.MethodDelete:
			if err := s.service.DeleteVersion(ctx, actor, fileID, number); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 2 && rest[1] == "revert" && r.Method == http.MethodPost {
		var body struct {
			Comment string `json:"comment"`
		}
		_ = decodeBody(r, &body)
		result, err := s.service.Revert(ctx, actor, fileID, number, body.Comment)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleShares(w http.ResponseWriter, r *http.Request, session Session, fileID string, rest []string) {
	ctx := r.Context()
	actor := session.UserID

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			shares, err := s.service.ListShares(ctx, actor, fileID)
			if err != nil {
				s.fail(w, err)
				return
			}
			payload := make([]map[string]any, 0, len(shares))
			for _, share := range shares {
				payload = append(payload, shareResponse(share))
			}
			writeJSON(w, http.StatusOK, map[string]any{"shares": payload})
		case http.MethodPost:
			var body ShareInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			share, err := s.service.Share(ctx, actor, fileID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, shareResponse(share))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 1 && r.Method == http.MethodDelete {
		if err := s.service.Unshare(ctx, actor, fileID, rest[0]); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(session))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("http: %v", err)
	}
	writeError(w, status, code, message, details)
}

// ---------------------------------------------------------------------------
// Response shaping

func sessionResponse(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"email":        session.Email,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func fileResponse(file store.File) map[string]any {
	return map[string]any{
		"id":          file.ID,
		"ownerId":     file.OwnerID,
		"name":        file.Name,
		"content":     json.RawMessage(file.Content),
		"contentHash": file.ContentHash,
		"sizeBytes":   file.SizeBytes,
		"public":      file.IsPublic,
		"createdAt":   file.CreatedAt,
		"updatedAt":   file.UpdatedAt,
	}
}

func metaResponses(items []store.FileMeta) []map[string]any {
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, map[string]any{
			"id":        item.ID,
			"ownerId":   item.OwnerID,
			"ownerName": item.OwnerName,
			"name":      item.Name,
			"sizeBytes": item.SizeBytes,
			"public":    item.IsPublic,
			"createdAt": item.CreatedAt,
			"updatedAt": item.UpdatedAt,
		})
	}
	return payload
}

func versionResponse(v store.FileVersion, withContent bool) map[string]any {
	payload := map[string]any{
		"versionNumber": v.VersionNumber,
		"contentHash":   v.ContentHash,
		"sizeBytes":     v.SizeBytes,
		"comment":       v.Comment,
		"createdBy":     v.CreatedBy,
		"createdByName": v.CreatedByName,
		"createdAt":     v.CreatedAt,
	}
	if withContent {
		payload["content"] = json.RawMessage(v.Content)
	}
	return payload
}

func shareResponse(share store.FileShare) map[string]any {
	return map[string]any{
		"fileId":       share.FileID,
		"granteeId":    share.GranteeID,
		"granteeName":  share.GranteeName,
		"granteeEmail": share.GranteeEmail,
		"canEdit":      share.CanEdit,
	}
}

// ---------------------------------------------------------------------------
// Middleware and plumbing

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
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
