// Package server exposes the assistant workflows over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"

	"studypal/internal/app"
	"studypal/internal/attach"
	"studypal/internal/ratelimit"
	"studypal/internal/usertoken"
	"studypal/internal/util"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App              *app.App
	TokenVerifier    *usertoken.Verifier
	SubmitLimiter    *ratelimit.FixedWindowLimiter
	MaxUploadBytes   int64
	MessageListLimit int
}

// Server exposes HTTP endpoints for the assistant.
type Server struct {
	app              *app.App
	tokenVerifier    *usertoken.Verifier
	submitLimiter    *ratelimit.FixedWindowLimiter
	mux              *http.ServeMux
	maxUploadBytes   int64
	messageListLimit int
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier required")
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 50 * 1024 * 1024
	}
	listLimit := cfg.MessageListLimit
	if listLimit <= 0 {
		listLimit = 200
	}
	s := &Server{
		app:              cfg.App,
		tokenVerifier:    cfg.TokenVerifier,
		submitLimiter:    cfg.SubmitLimiter,
		mux:              http.NewServeMux(),
		maxUploadBytes:   maxUpload,
		messageListLimit: listLimit,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("studypal", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/api/conversations", s.authenticated(s.handleConversations))
	s.mux.Handle("/api/conversations/", s.authenticated(s.handleConversationSubtree))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.tokenVerifier.UserID(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		conversations, err := s.app.ListConversations(r.Context(), userID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
	case http.MethodPost:
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		conv, err := s.app.CreateConversation(r.Context(), userID, req.Title)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	default:
		methodNotAllowed(w)
	}
}

// handleConversationSubtree dispatches /api/conversations/{id}[/messages[/{messageID}]].
func (s *Server) handleConversationSubtree(w http.ResponseWriter, r *http.Request, userID string) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleConversationByID(w, r, userID, parts[0])
	case len(parts) == 2 && parts[1] == "messages":
		s.handleMessages(w, r, userID, parts[0])
	case len(parts) == 3 && parts[1] == "messages":
		s.handleMessageByID(w, r, userID, parts[0], parts[2])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request, userID, conversationID string) {
	switch r.Method {
	case http.MethodGet:
		conv, err := s.app.GetConversation(r.Context(), userID, conversationID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	case http.MethodPatch:
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		conv, err := s.app.RenameConversation(r.Context(), userID, conversationID, req.Title)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	case http.MethodDelete:
		if err := s.app.DeleteConversation(r.Context(), userID, conversationID); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, userID, conversationID string) {
	switch r.Method {
	case http.MethodGet:
		limit := s.messageListLimit
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 && n < limit {
				limit = n
			}
		}
		messages, err := s.app.ListMessages(r.Context(), userID, conversationID, limit)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
	case http.MethodPost:
		s.handleSubmit(w, r, userID, conversationID)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMessageByID(w http.ResponseWriter, r *http.Request, userID, conversationID, messageID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteMessage(r.Context(), userID, conversationID, messageID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type submitBody struct {
	Content   string `json:"content"`
	Role      string `json:"role"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	ThinkMode bool   `json:"thinkMode"`
	Wait      *bool  `json:"wait"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, userID, conversationID string) {
	if s.submitLimiter != nil && !s.submitLimiter.Allow(userID+"|"+clientIP(r)) {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "too many messages, slow down")
		return
	}

	req := app.SubmitRequest{
		ConversationID: conversationID,
		UserID:         userID,
		RequestID:      strings.TrimSpace(r.URL.Query().Get("request_id")),
		Wait:           true,
	}

	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(contentType, "multipart/") {
		if err := s.parseMultipartSubmit(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		var body submitBody
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		applySubmitBody(&req, body)
	}

	result, err := s.app.SubmitMessage(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) parseMultipartSubmit(r *http.Request, req *app.SubmitRequest) error {
	r.Body = http.MaxBytesReader(nil, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		return fmt.Errorf("invalid multipart body")
	}
	body := submitBody{
		Content:  r.FormValue("content"),
		Role:     r.FormValue("role"),
		Provider: r.FormValue("provider"),
		Model:    r.FormValue("model"),
	}
	if raw := strings.TrimSpace(r.FormValue("thinkMode")); raw != "" {
		body.ThinkMode, _ = strconv.ParseBool(raw)
	}
	if raw := strings.TrimSpace(r.FormValue("wait")); raw != "" {
		wait, err := strconv.ParseBool(raw)
		if err == nil {
			body.Wait = &wait
		}
	}
	applySubmitBody(req, body)

	if r.MultipartForm == nil {
		return nil
	}
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			upload, err := readUpload(header)
			if err != nil {
				return err
			}
			req.Uploads = append(req.Uploads, upload)
		}
	}
	return nil
}

func applySubmitBody(req *app.SubmitRequest, body submitBody) {
	req.Content = body.Content
	req.Role = body.Role
	req.Provider = body.Provider
	req.Model = body.Model
	req.ThinkMode = body.ThinkMode
	if body.Wait != nil {
		req.Wait = *body.Wait
	}
}

func readUpload(header *multipart.FileHeader) (attach.Upload, error) {
	file, err := header.Open()
	if err != nil {
		return attach.Upload{}, fmt.Errorf("open upload %q", header.Filename)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return attach.Upload{}, fmt.Errorf("read upload %q", header.Filename)
	}
	return attach.Upload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// writeAppError maps workflow errors to HTTP statuses. Failures after the
// message is durable never surface here; the workflow annotates the result
// instead, so a 2xx with a pending marker is the worst a slow backend gets.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *attach.ValidationError
	switch {
	case errors.Is(err, app.ErrConversationBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrConversationNotFound), errors.Is(err, app.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrEmptyContent), errors.Is(err, app.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func clientIP(r *http.Request) string {
	if xfwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xfwd != "" {
		parts := strings.Split(xfwd, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
