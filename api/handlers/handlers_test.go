package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"github.com/eCy-coding/eCyOs/internal/db"
	"github.com/eCy-coding/eCyOs/internal/event"
	"github.com/eCy-coding/eCyOs/internal/hub"
	"github.com/eCy-coding/eCyOs/internal/ingress"
	"github.com/eCy-coding/eCyOs/internal/repository"
	"github.com/eCy-coding/eCyOs/internal/session"
)

type testEnv struct {
	server   *httptest.Server
	registry *hub.Registry
	tracker  *ingress.AgentTracker
	sessions *session.Manager
}

func quietLogger() pslog.Logger {
	return pslog.NewWithOptions(io.Discard, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
}

func setupTestServer(t *testing.T, cfg session.Config, journal bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := quietLogger()

	var repo *repository.SessionRepository
	if journal {
		database, err := db.OpenMemory()
		if err != nil {
			t.Fatalf("Failed to create database: %v", err)
		}
		t.Cleanup(func() { database.Close() })
		repo = repository.NewSessionRepository(database)
	}

	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	registry := hub.NewRegistry(logger)
	tracker := ingress.NewAgentTracker(time.Minute)
	manager := session.NewManager(cfg, repo, logger)

	router := NewRouter(RouterConfig{
		Hub:      hub.NewHandler(registry, hub.DefaultQueueSize),
		Sessions: manager,
		Ingress:  ingress.NewService(registry, tracker),
		Logger:   logger,
	})
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		registry.Close()
		manager.Shutdown(ctx)
		server.Close()
	})

	return &testEnv{server: server, registry: registry, tracker: tracker, sessions: manager}
}

func (e *testEnv) post(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (e *testEnv) dial(t *testing.T, path string, subprotocols ...string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second, Subprotocols: subprotocols}
	conn, _, err := dialer.Dial("ws"+strings.TrimPrefix(e.server.URL, "http")+path, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) event.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	e, err := event.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return e
}

func waitClients(t *testing.T, registry *hub.Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for registry.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", registry.Count(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func decodeError(t *testing.T, data []byte) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("error body %s: %v", data, err)
	}
	return resp.Error
}

func TestHealth(t *testing.T) {
	env := setupTestServer(t, session.Config{}, false)
	resp, body := env.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if strings.TrimSpace(string(body)) != `{"status":"ok"}` {
		t.Errorf("body = %s", body)
	}
}

func TestInjectThoughtBroadcastsInOrder(t *testing.T) {
	env := setupTestServer(t, session.Config{}, false)
	conn := env.dial(t, "/ws/brain")
	greeting, ok := readEvent(t, conn).(event.Log)
	if !ok || greeting.Content != hub.Greeting {
		t.Fatalf("first event = %#v, want greeting", greeting)
	}
	waitClients(t, env.registry, 1)

	body, _ := json.Marshal(map[string]string{
		"agent":   "Executor",
		"content": "Result: ok\n```go\nfmt.Println(1)\n```",
	})
	resp, data := env.post(t, "/api/inject_thought", string(body))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %s", resp.StatusCode, data)
	}
	if strings.TrimSpace(string(data)) != `{"status":"broadcasted"}` {
		t.Errorf("body = %s", data)
	}

	thought, ok := readEvent(t, conn).(event.Thought)
	if !ok {
		t.Fatal("expected thought first")
	}
	if thought.Agent != "Executor" || thought.Role != ingress.DefaultRole {
		t.Errorf("thought = %+v", thought)
	}
	line, ok := readEvent(t, conn).(event.Terminal)
	if !ok || !strings.HasPrefix(line.Line, "ok") {
		t.Errorf("second event = %#v, want terminal line", line)
	}
	if _, ok := readEvent(t, conn).(event.Code); !ok {
		t.Error("expected code event third")
	}

	if got := env.tracker.ActiveAgents(); got != 1 {
		t.Errorf("active agents = %d, want 1", got)
	}
}

func TestInjectThoughtValidation(t *testing.T) {
	env := setupTestServer(t, session.Config{}, false)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing agent", `{"content":"hi"}`, http.StatusBadRequest},
		{"missing content", `{"agent":"Planner"}`, http.StatusBadRequest},
		{"blank agent", `{"agent":"  ","content":"hi"}`, http.StatusBadRequest},
		{"not json", `agent=Planner`, http.StatusBadRequest},
		{"empty content", `{"agent":"Planner","content":""}`, http.StatusOK},
		{"explicit role", `{"agent":"Planner","content":"plan","role":"system"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := env.post(t, "/api/inject_thought", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tt.status, data)
			}
			if tt.status == http.StatusBadRequest {
				if detail := decodeError(t, data); detail.Code != "VALIDATION_ERROR" {
					t.Errorf("code = %q", detail.Code)
				}
			}
		})
	}
}

func TestInjectLog(t *testing.T) {
	env := setupTestServer(t, session.Config{}, false)
	conn := env.dial(t, "/ws/brain")
	readEvent(t, conn)
	waitClients(t, env.registry, 1)

	resp, data := env.post(t, "/api/log", `{"content":"[SYSTEM] booted"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %s", resp.StatusCode, data)
	}
	logEvent, ok := readEvent(t, conn).(event.Log)
	if !ok || logEvent.Content != "[SYSTEM] booted" {
		t.Errorf("event = %#v", logEvent)
	}

	resp, data = env.post(t, "/api/log", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing content status = %d body = %s", resp.StatusCode, data)
	}
}

func TestInjectWithoutClients(t *testing.T) {
	env := setupTestServer(t, session.Config{}, false)
	resp, data := env.post(t, "/api/inject_thought", `{"agent":"Critic","content":"looks fine"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %s", resp.StatusCode, data)
	}
}

func TestSessionsEmpty(t *testing.T) {
	env := setupTestServer(t, session.Config{}, true)

	resp, data := env.get(t, "/api/sessions")
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("list = %d %s", resp.StatusCode, data)
	}
	resp, data = env.get(t, "/api/sessions/history")
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("history = %d %s", resp.StatusCode, data)
	}
	resp, data = env.get(t, "/api/sessions/history?limit=0")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d %s", resp.StatusCode, data)
	}

	req, _ := http.NewRequest(http.MethodDelete, env.server.URL+"/api/sessions/missing", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNotFound {
		t.Errorf("delete missing status = %d", delResp.StatusCode)
	}
}

func TestHistoryJournalDisabled(t *testing.T) {
	env := setupTestServer(t, session.Config{}, false)
	resp, data := env.get(t, "/api/sessions/history")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if detail := decodeError(t, data); detail.Code != "JOURNAL_DISABLED" {
		t.Errorf("code = %q", detail.Code)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{1400 * time.Millisecond, "1s"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 5*time.Second, "2h0m5s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
