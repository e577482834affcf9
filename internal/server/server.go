// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/bryan-buckman/onosendai/internal/broadcast"
	"github.com/bryan-buckman/onosendai/internal/database"
	"github.com/bryan-buckman/onosendai/internal/model"
	"github.com/bryan-buckman/onosendai/internal/update"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultTweetLimit = 50
	maxTweetLimit     = 500
)

// Server is the main HTTP server.
type Server struct {
	db     database.Store
	poller *update.Poller
	hub    *broadcast.Hub
	router chi.Router
	http   *http.Server
}

// New creates a new server. hub may be nil, in which case /api/events is
// not served.
func New(db database.Store, poller *update.Poller, hub *broadcast.Hub) *Server {
	s := &Server{
		db:     db,
		poller: poller,
		hub:    hub,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/columns", s.handleColumns)
		r.Route("/columns/{columnID}", func(r chi.Router) {
			r.Get("/tweets", s.handleTweets)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/dismiss", s.handleDismiss)
		})
		if s.hub != nil {
			r.Get("/events", s.handleEvents)
		}
	})

	s.router = r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the poller and serves until Shutdown.
func (s *Server) Start(addr string) error {
	s.poller.Start()
	s.http = &http.Server{Addr: addr, Handler: s.router}
	log.Printf("Server starting on %s", addr)
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then stops the poller.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.poller.Stop()
	return err
}

// --- API Handlers ---

type columnView struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Account     string `json:"account,omitempty"`
	Resource    string `json:"resource"`
	RefreshMins int    `json:"refresh_mins"`
	LastError   string `json:"last_error,omitempty"`
	Running     bool   `json:"running"`
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	columns := s.poller.Columns()
	views := make([]columnView, 0, len(columns))
	for _, c := range columns {
		lastErr, _, err := s.db.GetValue(model.LastRefreshErrorKey(c.ID))
		if err != nil {
			log.Printf("Error reading last error for column %d: %v", c.ID, err)
		}
		views = append(views, columnView{
			ID:          c.ID,
			Title:       c.UITitle(),
			Account:     c.AccountID,
			Resource:    c.Resource,
			RefreshMins: c.RefreshIntervalMins,
			LastError:   lastErr,
			Running:     s.running(c.ID),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type tweetView struct {
	Sid            string `json:"sid"`
	Time           int64  `json:"time"`
	Username       string `json:"username"`
	Fullname       string `json:"fullname,omitempty"`
	Body           string `json:"body"`
	AvatarURL      string `json:"avatar_url,omitempty"`
	InlineMediaURL string `json:"inline_media_url,omitempty"`
}

func (s *Server) handleTweets(w http.ResponseWriter, r *http.Request) {
	col, ok := s.column(w, r)
	if !ok {
		return
	}
	limit := defaultTweetLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxTweetLimit)
	}
	tweets, err := s.db.GetTweets(col.ID, limit)
	if err != nil {
		log.Printf("Error reading tweets for column %d: %v", col.ID, err)
		http.Error(w, "Failed to get tweets", http.StatusInternalServerError)
		return
	}
	views := make([]tweetView, 0, len(tweets))
	for _, t := range tweets {
		views = append(views, tweetView{
			Sid:            t.Sid,
			Time:           t.Time,
			Username:       t.Username,
			Fullname:       t.Fullname,
			Body:           t.Body,
			AvatarURL:      t.AvatarURL,
			InlineMediaURL: t.InlineMediaURL,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	col, ok := s.column(w, r)
	if !ok {
		return
	}
	switch err := s.poller.TryRefresh(col.ID); {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
	case errors.Is(err, update.ErrRunning):
		http.Error(w, "Refresh already running", http.StatusConflict)
	case errors.Is(err, update.ErrNoAccount):
		http.Error(w, "Column has no account", http.StatusBadRequest)
	default:
		http.Error(w, fmt.Sprintf("Refresh failed: %v", err), http.StatusInternalServerError)
	}
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	col, ok := s.column(w, r)
	if !ok {
		return
	}
	if err := update.DismissError(s.db, col); err != nil {
		http.Error(w, "Failed to dismiss", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvents streams column state changes as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	events, cancel := s.hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			data, _ := json.Marshal(map[string]interface{}{
				"column_id": ev.ColumnID,
				"state":     ev.State.String(),
				"at":        ev.At.Format(time.RFC3339),
			})
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// --- Helpers ---

func (s *Server) column(w http.ResponseWriter, r *http.Request) (model.Column, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "columnID"))
	if err != nil {
		http.Error(w, "Invalid column id", http.StatusBadRequest)
		return model.Column{}, false
	}
	for _, c := range s.poller.Columns() {
		if c.ID == id {
			return c, true
		}
	}
	http.Error(w, "Column not found", http.StatusNotFound)
	return model.Column{}, false
}

// running reports a run in this process, or one announced through the hub
// by any process sharing the state channel.
func (s *Server) running(columnID int) bool {
	if s.poller.Running(columnID) {
		return true
	}
	return s.hub != nil && s.hub.Running(columnID)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
