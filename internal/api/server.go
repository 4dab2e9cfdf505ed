// Package api provides the HTTP surface of the game.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token when an admin key is configured.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/allannapier/gangsofclaude-sub000/internal/config"
	"github.com/allannapier/gangsofclaude-sub000/internal/engine"
	"github.com/allannapier/gangsofclaude-sub000/internal/observer"
	"github.com/allannapier/gangsofclaude-sub000/internal/oracle"
	"github.com/allannapier/gangsofclaude-sub000/internal/persistence"
	"github.com/allannapier/gangsofclaude-sub000/internal/social"
	"github.com/allannapier/gangsofclaude-sub000/internal/world"
)

const (
	maxStreamConns = 8
	maxBodyBytes   = 64 << 10
)

// Server serves the game over HTTP.
type Server struct {
	Runner   *engine.Runner
	Hub      *observer.Hub
	Journal  *persistence.Journal // optional
	Rules    config.Rules
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = open.

	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration

	streamConns atomic.Int32
	upgrader    websocket.Upgrader
	turnLimiter *RateLimiter
	gameLimiter *RateLimiter
	httpServer  *http.Server
}

// New creates a server from the runtime configuration.
func New(runner *engine.Runner, hub *observer.Hub, journal *persistence.Journal, cfg config.Config) *Server {
	return &Server{
		Runner:    runner,
		Hub:       hub,
		Journal:   journal,
		Rules:     cfg.Rules,
		Port:      cfg.Server.Port,
		AdminKey:  cfg.Server.AdminKey,
		Heartbeat: 15 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		turnLimiter: NewRateLimiter(30, time.Minute, 3),
		gameLimiter: NewRateLimiter(10, time.Hour, 2),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/state", s.handleState)
	mux.HandleFunc("GET /api/v1/families", s.handleFamilies)
	mux.HandleFunc("GET /api/v1/territories", s.handleTerritories)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/context/{family}", s.handleContext)

	// Observer streams.
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)
	mux.HandleFunc("GET /api/v1/ws", s.handleWS)

	// Control plane.
	mux.HandleFunc("POST /api/v1/game/new", s.adminOnly(RateLimitMiddleware(s.gameLimiter, s.handleNewGame)))
	mux.HandleFunc("POST /api/v1/action", s.adminOnly(s.handleAction))
	mux.HandleFunc("POST /api/v1/turn", s.adminOnly(RateLimitMiddleware(s.turnLimiter, s.handleTurn)))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	go func() {
		for range time.Tick(time.Hour) {
			s.turnLimiter.Cleanup()
			s.gameLimiter.Cleanup()
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// CORS_ORIGINS holds a comma-separated list; localhost dev servers are
// always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly requires the bearer token when an admin key is set.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey != "" && !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// snapshot writes 404 and returns nil when no game exists.
func (s *Server) snapshot(w http.ResponseWriter) *engine.SaveState {
	state := s.Runner.Snapshot()
	if state == nil {
		http.Error(w, engine.ErrNoGame.Error(), http.StatusNotFound)
	}
	return state
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Runner.Status()
	writeJSON(w, map[string]any{
		"name":       "Gangs of the City",
		"has_game":   st.HasGame,
		"processing": st.Processing,
		"turn":       st.Turn,
		"phase":      st.Phase,
		"winner":     st.Winner,
		"unsaved":    st.Unsaved,
		"last_error": st.LastError,
		"observers":  s.Hub.Subscribers(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if state := s.snapshot(w); state != nil {
		writeJSON(w, state)
	}
}

func (s *Server) handleFamilies(w http.ResponseWriter, r *http.Request) {
	state := s.snapshot(w)
	if state == nil {
		return
	}
	type familySummary struct {
		ID          social.FamilyID    `json:"id"`
		Name        string             `json:"name"`
		Personality social.Personality `json:"personality"`
		Player      bool               `json:"player,omitempty"`
		Eliminated  bool               `json:"eliminated,omitempty"`
		Wealth      int                `json:"wealth"`
		Muscle      int                `json:"muscle"`
		Territories []string           `json:"territories"`
		Allies      []social.FamilyID  `json:"allies"`
	}
	var out []familySummary
	for _, id := range social.IDs() {
		f := state.Families[id]
		if f == nil {
			continue
		}
		owned := world.OwnedBy(state.Territories, id)
		fs := familySummary{
			ID:          f.ID,
			Name:        f.Name,
			Personality: f.Personality,
			Player:      f.Player,
			Eliminated:  f.Eliminated,
			Wealth:      f.Wealth,
			Muscle:      world.TotalMuscle(owned),
			Territories: []string{},
			Allies:      social.Allies(state.Messages, id, social.IDs()),
		}
		for _, t := range owned {
			fs.Territories = append(fs.Territories, t.ID)
		}
		out = append(out, fs)
	}
	writeJSON(w, out)
}

func (s *Server) handleTerritories(w http.ResponseWriter, r *http.Request) {
	if state := s.snapshot(w); state != nil {
		writeJSON(w, state.Territories)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	state := s.snapshot(w)
	if state == nil {
		return
	}
	events := state.Events

	// Optional family filter.
	if fam := r.URL.Query().Get("family"); fam != "" {
		id, ok := social.ParseFamilyID(fam)
		if !ok {
			http.Error(w, "unknown family", http.StatusBadRequest)
			return
		}
		var filtered []engine.GameEvent
		for _, e := range events {
			if e.Actor == id || e.Target == string(id) {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	start := 0
	if len(events) > limit {
		start = len(events) - limit
	}
	writeJSON(w, events[start:])
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		http.Error(w, "history disabled (no journal)", http.StatusServiceUnavailable)
		return
	}
	hist, err := s.Journal.TurnHistory()
	if err != nil {
		slog.Error("history query failed", "err", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, hist)
}

// handleContext shows the decision context a family would be asked with.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	id, ok := social.ParseFamilyID(r.PathValue("family"))
	if !ok {
		http.Error(w, "unknown family", http.StatusBadRequest)
		return
	}
	state := s.snapshot(w)
	if state == nil {
		return
	}
	g := engine.Resume(state.Clone(), s.Rules)
	writeJSON(w, g.BuildDecisionContext(id))
}

func (s *Server) handleNewGame(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seed int64 `json:"seed"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	state, err := s.Runner.NewGame(r.Context(), req.Seed)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	slog.Info("new game via api", "seed", state.Seed)
	writeJSONStatus(w, http.StatusCreated, state)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}
	d, err := oracle.ParseStrict(body)
	if err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid action", "reason": err.Error()})
		return
	}
	state, err := s.Runner.SubmitPlayer(r.Context(), d)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, state)
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	// A client that disconnects mid-turn does not abort the turn.
	ctx := context.WithoutCancel(r.Context())
	rep, err := s.Runner.AdvanceTurn(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, rep)
}

// writeEngineError maps engine errors to status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	var rej *engine.RejectError
	switch {
	case errors.As(err, &rej):
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "action rejected", "reason": rej.Reason})
	case errors.Is(err, engine.ErrTurnInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrNoGame), errors.Is(err, engine.ErrGameOver):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
	default:
		slog.Error("request failed", "err", err)
		http.Error(w, "internal error: "+err.Error(), http.StatusInternalServerError)
	}
}

// handleStream provides an SSE endpoint for observers. It opens with the
// current state and then relays every hub message.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.acquireStream(w) {
		return
	}
	defer s.streamConns.Add(-1)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := s.Hub.Subscribe()
	defer sub.Close()

	if state := s.Runner.Snapshot(); state != nil {
		if b, err := json.Marshal(observer.Message{Kind: observer.KindState, Turn: state.Turn, Data: state}); err == nil {
			writeSSE(w, observer.KindState, b)
		}
	}
	flusher.Flush()
	slog.Info("SSE client connected", "remote", clientIP(r))

	heartbeat := time.NewTicker(s.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case b, ok := <-sub.C:
			if !ok {
				return
			}
			writeSSE(w, kindOf(b), b)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "remote", clientIP(r))
			return
		}
	}
}

// handleWS relays hub messages over a WebSocket. Anything the client sends
// is ignored; a read error ends the session.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.acquireStream(w) {
		return
	}
	defer s.streamConns.Add(-1)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.Hub.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(b []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, b)
	}
	if state := s.Runner.Snapshot(); state != nil {
		if b, err := json.Marshal(observer.Message{Kind: observer.KindState, Turn: state.Turn, Data: state}); err == nil {
			if err := send(b); err != nil {
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			return
		case b, ok := <-sub.C:
			if !ok {
				return
			}
			if err := send(b); err != nil {
				return
			}
		}
	}
}

func (s *Server) acquireStream(w http.ResponseWriter) bool {
	if s.streamConns.Add(1) > maxStreamConns {
		s.streamConns.Add(-1)
		http.Error(w, "too many observer connections", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func kindOf(b []byte) observer.Kind {
	var head struct {
		Kind observer.Kind `json:"kind"`
	}
	_ = json.Unmarshal(b, &head)
	return head.Kind
}

// writeSSE writes one message in SSE format.
func writeSSE(w http.ResponseWriter, kind observer.Kind, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
