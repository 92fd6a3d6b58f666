package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"chronicle/editor/internal/auth"
	"chronicle/editor/internal/gitrepo"
	"chronicle/editor/internal/store"
)

const maxBodyBytes = 4 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	devLogin   bool
	logger     *slog.Logger
}

// NewHTTPServer builds the API. devLogin enables POST /api/session/login,
// which signs in anyone by name.
func NewHTTPServer(service *Service, corsOrigin string, devLogin bool, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, devLogin: devLogin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withRequestLog)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Head("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Post("/api/session/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Get("/api/session", s.handleSession)
		r.Get("/api/templates", s.handleListTemplates)
		r.Get("/api/exports/{taskID}/{filename}", s.handleDownload)

		r.Route("/api/documents", func(r chi.Router) {
			r.Post("/", s.handleCreateDocument)
			r.Route("/{documentID}", func(r chi.Router) {
				r.Get("/", s.handleGetDocument)
				r.Put("/", s.handleSaveDocument)
				r.Post("/templates/{templateID}/apply", s.handleApplyTemplate)

				r.Post("/suggestions", s.handleSuggest)
				r.Post("/suggestions/{suggestionID}/accept", s.handleAcceptSuggestion)
				r.Post("/suggestions/{suggestionID}/reject", s.handleRejectSuggestion)

				r.Post("/export", s.handleExportNow)
				r.Post("/exports", s.handleEnqueueExport)
				r.Get("/exports", s.handleListExports)
				r.Get("/exports/{taskID}", s.handleGetExport)

				r.Get("/versions", s.handleListVersions)
				r.Post("/versions/{versionID}/restore", s.handleRestoreVersion)

				r.Get("/presence", s.handleRoster)
				r.Post("/presence", s.handleHeartbeat)
				r.Delete("/presence", s.handleLeave)
			})
		})
	})

	return cors.New(cors.Options{
		AllowedOrigins: strings.Split(s.corsOrigin, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
	}).Handler(r)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
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
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.devLogin {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	var body LoginInput
	if !s.decode(w, r, &body) {
		return
	}
	if err := validateLogin(body); err != nil {
		s.fail(w, r, validationFailed(err))
		return
	}
	session, err := s.service.Login(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":    session.Token,
		"userId":   session.UserID,
		"userName": session.UserName,
		"role":     session.Role,
		"tier":     session.Tier,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userId":        session.UserID,
		"userName":      session.UserName,
		"role":          session.Role,
		"tier":          session.Tier,
	})
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var body CreateDocumentInput
	if !s.decode(w, r, &body) {
		return
	}
	doc, err := s.service.CreateDocument(r.Context(), sessionFrom(r.Context()), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"document": doc})
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.GetDocument(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": doc})
}

func (s *HTTPServer) handleSaveDocument(w http.ResponseWriter, r *http.Request) {
	var body SaveDocumentInput
	if !s.decode(w, r, &body) {
		return
	}
	doc, err := s.service.SaveDocument(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": doc})
}

func (s *HTTPServer) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.service.ListTemplates(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (s *HTTPServer) handleApplyTemplate(w http.ResponseWriter, r *http.Request) {
	var body ApplyTemplateInput
	if !s.decode(w, r, &body) {
		return
	}
	content, err := s.service.ApplyTemplate(r.Context(), sessionFrom(r.Context()),
		chi.URLParam(r, "documentID"), chi.URLParam(r, "templateID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": content})
}

func (s *HTTPServer) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var body SuggestInput
	if !s.decode(w, r, &body) {
		return
	}
	items, err := s.service.Suggest(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": items})
}

func (s *HTTPServer) handleAcceptSuggestion(w http.ResponseWriter, r *http.Request) {
	err := s.service.AcceptSuggestion(r.Context(), sessionFrom(r.Context()),
		chi.URLParam(r, "documentID"), chi.URLParam(r, "suggestionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleRejectSuggestion(w http.ResponseWriter, r *http.Request) {
	err := s.service.RejectSuggestion(r.Context(), sessionFrom(r.Context()),
		chi.URLParam(r, "documentID"), chi.URLParam(r, "suggestionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleExportNow(w http.ResponseWriter, r *http.Request) {
	var body ExportRequest
	if !s.decode(w, r, &body) {
		return
	}
	downloadURL, err := s.service.ExportNow(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"downloadUrl": downloadURL})
}

func (s *HTTPServer) handleEnqueueExport(w http.ResponseWriter, r *http.Request) {
	var body ExportRequest
	if !s.decode(w, r, &body) {
		return
	}
	queued, err := s.service.EnqueueExport(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, queued)
}

func (s *HTTPServer) handleListExports(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.service.ListExportJobs(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *HTTPServer) handleGetExport(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.GetExportJob(r.Context(), sessionFrom(r.Context()),
		chi.URLParam(r, "documentID"), chi.URLParam(r, "taskID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// handleDownload streams the artifact of a ready export. With ?redirect=1
// it answers with a presigned object store URL instead.
func (s *HTTPServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	taskID := chi.URLParam(r, "taskID")

	if r.URL.Query().Get("redirect") == "1" {
		target, err := s.service.PresignArtifact(r.Context(), session, taskID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		http.Redirect(w, r, target.String(), http.StatusTemporaryRedirect)
		return
	}

	artifact, err := s.service.OpenArtifact(r.Context(), session, taskID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer artifact.Body.Close()

	header := w.Header()
	header.Set("Content-Type", artifact.ContentType)
	header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
	header.Set("Cache-Control", "no-store")
	if artifact.Size >= 0 {
		header.Set("Content-Length", strconv.FormatInt(artifact.Size, 10))
	}
	if artifact.Checksum != "" {
		header.Set("X-Checksum-Blake2b", artifact.Checksum)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, artifact.Body); err != nil {
		s.logger.Warn("stream export artifact", "task_id", taskID, "error", err)
	}
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.service.ListVersions(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *HTTPServer) handleRestoreVersion(w http.ResponseWriter, r *http.Request) {
	content, err := s.service.RestoreVersion(r.Context(), sessionFrom(r.Context()),
		chi.URLParam(r, "documentID"), chi.URLParam(r, "versionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": content})
}

func (s *HTTPServer) handleRoster(w http.ResponseWriter, r *http.Request) {
	roster, err := s.service.Roster(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collaborators": roster})
}

func (s *HTTPServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body PresenceInput
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.service.Heartbeat(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID"), body); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleLeave(w http.ResponseWriter, r *http.Request) {
	if err := s.service.LeaveDocument(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "documentID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type sessionKey struct{}

func sessionFrom(ctx context.Context) Session {
	session, _ := ctx.Value(sessionKey{}).(Session)
	return session
}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func (s *HTTPServer) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

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

// decode reads the JSON body into target and answers 400 when it cannot.
func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", requestIDFrom(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
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
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, gitrepo.ErrVersionNotFound) {
		return http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
