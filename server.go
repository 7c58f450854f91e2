package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"i4.energy/across/sim800/modem"
)

const (
	defaultMaxBytes = 1024
	maxMaxBytes     = 64 * 1024
)

// Modem is the subset of *modem.Modem the server drives.
type Modem interface {
	SendSMS(ctx context.Context, recipient, message string) error
	Call(ctx context.Context, number string) error
	HangUp(ctx context.Context) error
	SetupBearer(ctx context.Context, apn, user, password string) error
	HTTPGet(ctx context.Context, url string, resp []byte) (int, error)
	HTTPPost(ctx context.Context, url, contentType string, body, resp []byte) (int, error)
}

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger *slog.Logger
	Modem  Modem
}

// Routes returns the HTTP API of the server.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/sms", s.handleSMS)
	r.Post("/call", s.handleCall)
	r.Delete("/call", s.handleHangUp)
	r.Post("/bearer", s.handleBearer)
	r.Route("/http", func(r chi.Router) {
		r.Post("/get", s.handleHTTPGet)
		r.Post("/post", s.handleHTTPPost)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	s.sendJSON(w, ErrorResponse{Message: message}, statusCode)
}

// sendModemError maps a failed modem operation to a response.
func (s *Server) sendModemError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, modem.ErrTimeout):
		s.sendError(w, err.Error(), http.StatusGatewayTimeout)
	case errors.Is(err, modem.ErrEmptyNumber), errors.Is(err, modem.ErrBodyTooLarge),
		errors.Is(err, modem.ErrInvalidArgument):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	default:
		s.sendError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// handleSMS processes incoming HTTP POST requests to send SMS messages
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	type SMSRequest struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}

	var req SMSRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.To == "" || req.Message == "" {
		s.sendError(w, "both 'to' and 'message' fields are required", http.StatusBadRequest)
		return
	}

	if err := s.Modem.SendSMS(r.Context(), req.To, req.Message); err != nil {
		s.Logger.Error("Failed to send SMS", "error", err, "to", req.To)
		s.sendModemError(w, err)
		return
	}

	s.Logger.Info("SMS sent successfully", "to", req.To, "message_length", len(req.Message))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	type CallRequest struct {
		To string `json:"to"`
	}

	var req CallRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.To == "" {
		s.sendError(w, "'to' field is required", http.StatusBadRequest)
		return
	}

	if err := s.Modem.Call(r.Context(), req.To); err != nil {
		s.Logger.Error("Failed to dial", "error", err, "to", req.To)
		s.sendModemError(w, err)
		return
	}

	s.Logger.Info("Call dialed", "to", req.To)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHangUp(w http.ResponseWriter, r *http.Request) {
	if err := s.Modem.HangUp(r.Context()); err != nil {
		s.Logger.Error("Failed to hang up", "error", err)
		s.sendModemError(w, err)
		return
	}

	s.Logger.Info("Call ended")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBearer(w http.ResponseWriter, r *http.Request) {
	type BearerRequest struct {
		APN      string `json:"apn"`
		User     string `json:"user"`
		Password string `json:"password"`
	}

	var req BearerRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.APN == "" {
		s.sendError(w, "'apn' field is required", http.StatusBadRequest)
		return
	}

	if err := s.Modem.SetupBearer(r.Context(), req.APN, req.User, req.Password); err != nil {
		s.Logger.Error("Failed to open bearer", "error", err, "apn", req.APN)
		s.sendModemError(w, err)
		return
	}

	s.Logger.Info("Bearer opened", "apn", req.APN)
	w.WriteHeader(http.StatusOK)
}

type httpResponse struct {
	Body string `json:"body"`
}

// responseBuffer sizes the buffer for a response of up to maxBytes bytes.
// The extra byte holds the terminator.
func responseBuffer(maxBytes int) ([]byte, bool) {
	switch {
	case maxBytes < 0:
		return nil, false
	case maxBytes == 0:
		maxBytes = defaultMaxBytes
	case maxBytes > maxMaxBytes:
		maxBytes = maxMaxBytes
	}
	return make([]byte, maxBytes+1), true
}

func (s *Server) handleHTTPGet(w http.ResponseWriter, r *http.Request) {
	type GetRequest struct {
		URL      string `json:"url"`
		MaxBytes int    `json:"max_bytes"`
	}

	var req GetRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.URL == "" {
		s.sendError(w, "'url' field is required", http.StatusBadRequest)
		return
	}
	resp, ok := responseBuffer(req.MaxBytes)
	if !ok {
		s.sendError(w, "'max_bytes' must not be negative", http.StatusBadRequest)
		return
	}

	n, err := s.Modem.HTTPGet(r.Context(), req.URL, resp)
	if err != nil {
		s.Logger.Error("HTTP GET failed", "error", err, "url", req.URL)
		s.sendModemError(w, err)
		return
	}

	s.Logger.Info("HTTP GET done", "url", req.URL, "bytes", n)
	s.sendJSON(w, httpResponse{Body: string(resp[:n])}, http.StatusOK)
}

func (s *Server) handleHTTPPost(w http.ResponseWriter, r *http.Request) {
	type PostRequest struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
		Body        string `json:"body"`
		MaxBytes    int    `json:"max_bytes"`
	}

	var req PostRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.URL == "" {
		s.sendError(w, "'url' field is required", http.StatusBadRequest)
		return
	}
	if req.ContentType == "" {
		req.ContentType = "application/json"
	}
	resp, ok := responseBuffer(req.MaxBytes)
	if !ok {
		s.sendError(w, "'max_bytes' must not be negative", http.StatusBadRequest)
		return
	}

	n, err := s.Modem.HTTPPost(r.Context(), req.URL, req.ContentType, []byte(req.Body), resp)
	if err != nil {
		s.Logger.Error("HTTP POST failed", "error", err, "url", req.URL)
		s.sendModemError(w, err)
		return
	}

	s.Logger.Info("HTTP POST done", "url", req.URL, "request_bytes", len(req.Body), "bytes", n)
	s.sendJSON(w, httpResponse{Body: string(resp[:n])}, http.StatusOK)
}
