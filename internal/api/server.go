// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the read-only HTTP surface over the sequence log.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/phaselog/internal/codec"
	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/health"
	"github.com/ManuGH/phaselog/internal/log"
	"github.com/ManuGH/phaselog/internal/seqlog"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
)

// SequenceKey is the wire field holding a record's sequence id.
const SequenceKey = "sequence"

// Config controls the HTTP server.
type Config struct {
	// Version is reported by the liveness probe.
	Version    string
	Listen     string
	RateLimit  int
	RateWindow time.Duration
	// MaxConns caps concurrent connections. Zero is unlimited.
	MaxConns int
}

type Server struct {
	cfg    Config
	store  seqlog.Store
	health *health.Manager
	logger zerolog.Logger
}

func New(store seqlog.Store, cfg Config) *Server {
	hm := health.NewManager(cfg.Version)
	hm.RegisterChecker(health.NewStoreChecker(store))
	return &Server{
		cfg:    cfg,
		store:  store,
		health: hm,
		logger: log.WithComponent("api"),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(tracing)
	r.Use(requestID)
	r.Use(observe)

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimit > 0 && s.cfg.RateWindow > 0 {
			r.Use(rateLimit(s.cfg.RateLimit, s.cfg.RateWindow))
		}
		r.Get("/groups", s.handleGroups)
		r.Get("/groups/{group}/events", s.handleEvents)
	})
	return r
}

// ListenAndServe listens on the configured address and serves until ctx is
// done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("API server (HTTP): %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Int("max_conns", s.cfg.MaxConns).Msg("API server listening (HTTP)")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("API server (HTTP): %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown API server: %w", err)
	}
	return <-errCh
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.Groups(r.Context())
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	if groups == nil {
		groups = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// handleEvents replays a group. Optional query parameters: from (first
// sequence id, inclusive) and limit.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	from, err := queryInt(r, "from", 0)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", -1)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	ctx := log.ContextWithGroupID(r.Context(), group)
	out := []json.RawMessage{}
	found := false
	for e, err := range seqlog.NewReader(s.store, group).Entries(ctx) {
		if err != nil {
			writeInternal(w, r, err)
			return
		}
		found = true
		if limit >= 0 && int64(len(out)) >= limit {
			break
		}
		if e.SequenceID < from {
			continue
		}
		b, err := WireJSON(e.SequenceID, e.Event)
		if err != nil {
			writeInternal(w, r, err)
			return
		}
		out = append(out, b)
		if limit >= 0 && int64(len(out)) >= limit {
			break
		}
	}
	if !found {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func queryInt(r *http.Request, key string, def int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return n, nil
}

// WireJSON renders ev as its wire document plus the sequence field.
// Values JSON cannot carry are replaced by an "unrepresentable" marker.
func WireJSON(seq int64, ev event.Event) ([]byte, error) {
	doc := ev.Document()
	doc[SequenceKey] = seq
	b, err := codec.Marshal(codec.Default, doc)
	if err == nil {
		return b, nil
	}
	if !codec.IsUnrepresentable(err) {
		return nil, err
	}
	return json.Marshal(map[string]any{
		SequenceKey:       seq,
		"type":            ev.Type,
		"phase":           ev.Phase,
		"unrepresentable": true,
	})
}
