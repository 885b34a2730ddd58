// Package api provides HTTP handlers for the ConnectWise AI API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/connectwise-ai/internal/catalog"
	"github.com/ashureev/connectwise-ai/internal/chat"
	"github.com/ashureev/connectwise-ai/internal/identity"
	"github.com/ashureev/connectwise-ai/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const (
	defaultMaxBodyBytes      = 1 << 20
	defaultKeepaliveInterval = 10 * time.Second
	defaultRetryDelay        = 5 * time.Second
)

// Options tunes handler behavior.
type Options struct {
	AIEnabled         bool
	Model             string
	MaxBodyBytes      int64
	KeepaliveInterval time.Duration
	RetryDelay        time.Duration
	Logger            *slog.Logger
}

// Handler serves the company directory, consent and chat endpoints.
type Handler struct {
	repo     store.Repository
	catalog  *catalog.Catalog
	chats    *chat.Manager
	validate *validator.Validate
	logger   *slog.Logger
	opts     Options
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, cat *catalog.Catalog, chats *chat.Manager, opts Options) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = defaultKeepaliveInterval
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		repo:     repo,
		catalog:  cat,
		chats:    chats,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   opts.Logger,
		opts:     opts,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/config", h.GetConfig)

		r.Get("/companies", h.ListCompanies)
		r.Get("/companies/{id}", h.GetCompany)
		r.Post("/search", h.Search)

		r.Get("/consent", h.GetConsent)
		r.Post("/consent", h.AcceptConsent)

		r.Route("/chat", func(r chi.Router) {
			r.Get("/", h.GetChat)
			r.Post("/selection", h.SelectCompany)
			r.Delete("/selection", h.ClearSelection)
			r.Post("/messages", h.PostMessage)
			r.Get("/stream", h.Stream)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body into dst and validates it. On
// failure it writes the error response and returns false.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			Error(w, http.StatusBadRequest, fmt.Sprintf("invalid field %s", verrs[0].Field()))
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func visitorKey(r *http.Request) chat.Key {
	return chat.Key{
		UserID:    identity.UserIDFromContext(r.Context()),
		SessionID: identity.SessionIDFromContext(r.Context()),
	}
}
