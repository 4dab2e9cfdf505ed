package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/allannapier/gangsofclaude-sub000/internal/config"
	"github.com/allannapier/gangsofclaude-sub000/internal/engine"
	"github.com/allannapier/gangsofclaude-sub000/internal/observer"
	"github.com/allannapier/gangsofclaude-sub000/internal/oracle"
)

// waitEveryone answers every oracle request with wait.
type waitEveryone struct{}

func (waitEveryone) Request(ctx context.Context, req *oracle.Request) oracle.Result {
	return oracle.Result{Raw: `{"action":"wait"}`, Attempts: 1}
}

func newTestServer(t *testing.T, adminKey string) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Server.AdminKey = adminKey
	hub := observer.NewHub(16)
	runner := engine.NewRunner(cfg.Rules, &engine.Orchestrator{Requests: waitEveryone{}}, nil, nil)
	runner.OnCommit(hub.CommitHook())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return New(runner, hub, nil, cfg)
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGameLifecycle(t *testing.T) {
	s := newTestServer(t, "")
	h := s.Handler()

	if rec := do(t, h, "GET", "/api/v1/state", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("state before game = %d", rec.Code)
	}
	if rec := do(t, h, "POST", "/api/v1/turn", ""); rec.Code != http.StatusConflict {
		t.Fatalf("turn before game = %d", rec.Code)
	}

	rec := do(t, h, "POST", "/api/v1/game/new", `{"seed": 42}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("new game = %d %s", rec.Code, rec.Body)
	}
	var state engine.SaveState
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Turn != 1 || state.Phase != engine.PhasePlaying || state.Seed != 42 {
		t.Errorf("new game = turn %d phase %s seed %d", state.Turn, state.Phase, state.Seed)
	}

	tests := []struct {
		name   string
		body   string
		status int
		reason string
	}{
		{"malformed", `{"action":`, http.StatusBadRequest, ""},
		{"unknown territory", `{"action":"attack","target":"atlantis"}`, http.StatusBadRequest, "atlantis"},
		{"hire", `{"action":"hire","count":1}`, http.StatusOK, ""},
		{"second action", `{"action":"wait"}`, http.StatusBadRequest, "already acted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, "POST", "/api/v1/action", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
			if tt.reason != "" {
				var body map[string]string
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if !strings.Contains(body["reason"], tt.reason) {
					t.Errorf("reason = %q, want it to mention %q", body["reason"], tt.reason)
				}
			}
		})
	}

	rec = do(t, h, "POST", "/api/v1/turn", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("turn = %d %s", rec.Code, rec.Body)
	}
	var rep engine.TurnReport
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Turn != 1 || len(rep.Actions) != 4 {
		t.Errorf("report = %+v", rep)
	}
	if st := s.Runner.Status(); st.Turn != 2 || st.Processing {
		t.Errorf("status after turn = %+v", st)
	}
}

func TestReadEndpoints(t *testing.T) {
	s := newTestServer(t, "")
	h := s.Handler()
	if rec := do(t, h, "POST", "/api/v1/game/new", `{"seed": 7}`); rec.Code != http.StatusCreated {
		t.Fatalf("new game = %d", rec.Code)
	}

	rec := do(t, h, "GET", "/api/v1/families", "")
	var fams []struct {
		ID          string   `json:"id"`
		Muscle      int      `json:"muscle"`
		Territories []string `json:"territories"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&fams); err != nil {
		t.Fatalf("decode families: %v", err)
	}
	if len(fams) != 5 || fams[0].ID != "player" || len(fams[0].Territories) != 2 || fams[0].Muscle != 6 {
		t.Errorf("families = %+v", fams)
	}

	rec = do(t, h, "GET", "/api/v1/events?limit=1", "")
	var events []engine.GameEvent
	if err := json.NewDecoder(rec.Body).Decode(&events); err != nil || len(events) != 1 {
		t.Errorf("events = %v, %v", events, err)
	}
	if rec := do(t, h, "GET", "/api/v1/events?family=nobody", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown family filter = %d", rec.Code)
	}

	rec = do(t, h, "GET", "/api/v1/context/falcone", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("context = %d %s", rec.Code, rec.Body)
	}
	var dc map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&dc); err != nil {
		t.Fatalf("decode context: %v", err)
	}
	if dc["family"] != "falcone" {
		t.Errorf("context family = %v", dc["family"])
	}
	for _, key := range []string{"territories", "rivals", "legal", "costs"} {
		if _, ok := dc[key]; !ok {
			t.Errorf("context is missing %q: %v", key, dc)
		}
	}
	if costs, _ := dc["costs"].(map[string]any); costs["max_hire"] == nil {
		t.Errorf("costs = %v, want snake_case keys", dc["costs"])
	}
	if rec := do(t, h, "GET", "/api/v1/context/nobody", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown context family = %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/api/v1/history", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("history without journal = %d", rec.Code)
	}

	var status map[string]any
	rec = do(t, h, "GET", "/api/v1/status", "")
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status["has_game"] != true || status["phase"] != "playing" {
		t.Errorf("status = %v", status)
	}
}

func TestAdminAuth(t *testing.T) {
	h := newTestServer(t, "secret").Handler()

	if rec := do(t, h, "POST", "/api/v1/game/new", `{}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d", rec.Code)
	}
	if rec := do(t, h, "POST", "/api/v1/game/new", `{}`, "Authorization", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d", rec.Code)
	}
	if rec := do(t, h, "POST", "/api/v1/game/new", `{}`, "Authorization", "Bearer secret"); rec.Code != http.StatusCreated {
		t.Errorf("valid token = %d", rec.Code)
	}
	// Reads stay public.
	if rec := do(t, h, "GET", "/api/v1/state", ""); rec.Code != http.StatusOK {
		t.Errorf("public read = %d", rec.Code)
	}
}

func TestNewGameRateLimited(t *testing.T) {
	h := newTestServer(t, "").Handler()
	for i := 0; i < 2; i++ {
		if rec := do(t, h, "POST", "/api/v1/game/new", `{}`); rec.Code != http.StatusCreated {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
	rec := do(t, h, "POST", "/api/v1/game/new", `{}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	// Another client has its own bucket.
	if rec := do(t, h, "POST", "/api/v1/game/new", `{}`, "X-Forwarded-For", "10.0.0.9"); rec.Code != http.StatusCreated {
		t.Errorf("other client = %d", rec.Code)
	}
}

func TestStreamSendsStateThenCommits(t *testing.T) {
	s := newTestServer(t, "")
	s.Heartbeat = time.Hour
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	if _, err := s.Runner.NewGame(context.Background(), 3); err != nil {
		t.Fatalf("NewGame: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 1<<20), 1<<20)
		for sc.Scan() {
			if strings.HasPrefix(sc.Text(), "event: ") {
				lines <- strings.TrimPrefix(sc.Text(), "event: ")
			}
		}
		close(lines)
	}()

	next := func() string {
		select {
		case l := <-lines:
			return l
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for stream event")
			return ""
		}
	}
	if got := next(); got != string(observer.KindState) {
		t.Fatalf("first event = %q", got)
	}

	// Wait until the handler has subscribed before committing.
	for i := 0; s.Hub.Subscribers() == 0 && i < 100; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := s.Runner.SubmitPlayer(context.Background(), oracle.Decision{Action: oracle.ActionWait}); err != nil {
		t.Fatalf("SubmitPlayer: %v", err)
	}
	if got := next(); got != string(observer.KindEvents) {
		t.Errorf("after commit = %q, want events", got)
	}
	if got := next(); got != string(observer.KindState) {
		t.Errorf("then = %q, want state", got)
	}
}
