// Package handler serves the small HTTP surface that keeps the bot's host
// awake and lets an operator peek at the running poll.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/maaaruch/tg-pod-poll-bot/internal/render"
	"github.com/maaaruch/tg-pod-poll-bot/internal/service"
	"github.com/maaaruch/tg-pod-poll-bot/internal/storage"
)

// Current is the read side of the poll service.
type Current interface {
	Current(ctx context.Context) (storage.Record, error)
}

// PollResponse is the body of GET /poll.
type PollResponse struct {
	Key       string            `json:"key"`
	PollID    string            `json:"poll_id"`
	Capacity  int               `json:"capacity"`
	Slots     []render.SlotView `json:"slots"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	polls  Current
	logger *slog.Logger
}

func New(polls Current, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{polls: polls, logger: logger}
}

// Router builds the chi router with the middleware stack.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(h.accessLog)

	r.Get("/", h.Index)
	r.Get("/health", h.Health)
	r.Get("/poll", h.Poll)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// Index handles GET /
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("poll bot is running"))
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Poll handles GET /poll
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	rec, err := h.polls.Current(r.Context())
	if errors.Is(err, service.ErrNoPoll) {
		writeError(w, http.StatusNotFound, "no active poll")
		return
	}
	if err != nil {
		h.logger.Error("load current poll", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load poll")
		return
	}

	writeJSON(w, http.StatusOK, PollResponse{
		Key:       rec.Key,
		PollID:    rec.Poll.ID,
		Capacity:  rec.Poll.Capacity,
		Slots:     render.Views(rec.Poll),
		UpdatedAt: rec.UpdatedAt,
	})
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}
