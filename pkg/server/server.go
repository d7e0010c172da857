// Package server exposes the cache over HTTP: statistics, message search, rescans and a
// websocket stream of scan progress.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/reactcache/pkg/collate"
	"github.com/go-go-golems/reactcache/pkg/query"
	"github.com/go-go-golems/reactcache/pkg/render"
	"github.com/go-go-golems/reactcache/pkg/scan"
)

// RescanFunc runs one full rescan batch.
type RescanFunc func(ctx context.Context) (*scan.Outcome, error)

type Server struct {
	addr     string
	engine   *query.Engine
	rescan   RescanFunc
	events   message.Subscriber
	topic    string
	upgrader websocket.Upgrader
	hub      *hub
	router   chi.Router
	server   *http.Server

	baseCtx context.Context

	mu      sync.Mutex
	running bool
	last    *rescanStatus
	wg      sync.WaitGroup
}

type Option func(*Server)

func WithRescan(fn RescanFunc) Option {
	return func(s *Server) { s.rescan = fn }
}

// WithEvents streams the progress events of topic to /ws/progress clients.
func WithEvents(sub message.Subscriber, topic string) Option {
	return func(s *Server) {
		s.events = sub
		s.topic = topic
	}
}

func NewServer(addr string, engine *query.Engine, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		engine:   engine,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		hub:      newHub(),
		baseCtx:  context.Background(),
	}
	for _, o := range opts {
		o(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/messages", s.handleMessages)
	r.Get("/api/rescan", s.handleRescanStatus)
	r.Post("/api/rescan", s.handleRescan)
	r.Get("/ws/progress", s.handleProgress)
	s.router = r

	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ForwardEvents relays progress events to websocket clients until ctx is done.
func (s *Server) ForwardEvents(ctx context.Context) error {
	if s.events == nil {
		<-ctx.Done()
		return nil
	}
	defer s.hub.closeAll()
	return s.hub.forward(ctx, s.events, s.topic)
}

// Run serves HTTP until ctx is cancelled or the process is interrupted, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	eg := errgroup.Group{}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()
	s.baseCtx = srvCtx

	eg.Go(func() error { return s.ForwardEvents(srvCtx) })

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		srvCancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		s.wg.Wait()
		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.addr).Msg("starting reactcache server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server listen error")
			srvCancel()
			return err
		}
		return nil
	})

	return eg.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	mode, err := collate.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	top := 0
	if v := r.URL.Query().Get("top"); v != "" {
		if top, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, errors.Errorf("invalid top %q", v))
			return
		}
	}
	msgs, err := s.engine.Search(r.Context(), r.URL.Query()["d"])
	if err != nil {
		writeSearchError(w, err)
		return
	}
	st := collate.CollateBy(mode, msgs)
	st.Entries = st.Top(top)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.engine.Search(r.Context(), r.URL.Query()["d"])
	if err != nil {
		writeSearchError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := render.Messages(w, msgs, render.FormatJSON); err != nil {
		log.Debug().Err(err).Msg("write messages")
	}
}

func writeSearchError(w http.ResponseWriter, err error) {
	var le *query.LookupError
	if errors.As(err, &le) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	log.Error().Err(err).Msg("search failed")
	writeError(w, http.StatusInternalServerError, err)
}

type rescanStatus struct {
	BatchID   string    `json:"batch_id,omitempty"`
	Succeeded int       `json:"succeeded"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
	Finished  time.Time `json:"finished"`
}

func (s *Server) handleRescan(w http.ResponseWriter, _ *http.Request) {
	if s.rescan == nil {
		writeError(w, http.StatusNotImplemented, errors.New("rescan is not configured"))
		return
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, errors.New("a rescan is already running"))
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		out, err := s.rescan(s.baseCtx)
		st := &rescanStatus{Finished: time.Now().UTC()}
		if out != nil {
			st.BatchID = out.BatchID
			st.Succeeded = len(out.Succeeded)
			st.Skipped = len(out.Skipped)
			st.Failed = len(out.Failed)
		}
		if err != nil {
			st.Error = err.Error()
			log.Error().Err(err).Msg("rescan failed")
		}
		s.mu.Lock()
		s.running = false
		s.last = st
		s.mu.Unlock()
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleRescanStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	resp := map[string]any{"running": s.running}
	if s.last != nil {
		resp["last"] = s.last
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	events := s.hub.add()
	defer s.hub.remove(events)

	// reader detects client close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case payload, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
