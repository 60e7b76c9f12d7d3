package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/agent"
	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/events"
	"github.com/nextlevelbuilder/agentd/internal/memory"
	"github.com/nextlevelbuilder/agentd/internal/providers"
	"github.com/nextlevelbuilder/agentd/internal/todo"
	"github.com/nextlevelbuilder/agentd/internal/tools"
	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

type scriptedProvider struct {
	mu        sync.Mutex
	responses []*providers.ChatResponse
}

func (p *scriptedProvider) next() *providers.ChatResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.responses) == 0 {
		return &providers.ChatResponse{Content: "ok", FinishReason: "stop"}
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp
}

func (p *scriptedProvider) Chat(_ context.Context, _ providers.ChatRequest) (*providers.ChatResponse, error) {
	return p.next(), nil
}

func (p *scriptedProvider) ChatStream(_ context.Context, _ providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	resp := p.next()
	if onChunk != nil && resp.Content != "" {
		onChunk(providers.StreamChunk{Content: resp.Content})
		onChunk(providers.StreamChunk{Done: true})
	}
	return resp, nil
}

func (p *scriptedProvider) DefaultModel() string { return "fake-model" }
func (p *scriptedProvider) Name() string         { return "fake" }

type memTodoStore struct {
	mu    sync.Mutex
	lists map[uuid.UUID]*protocol.TodoList
}

func (m *memTodoStore) SaveTodoList(_ context.Context, id uuid.UUID, list *protocol.TodoList) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lists == nil {
		m.lists = make(map[uuid.UUID]*protocol.TodoList)
	}
	cp := *list
	m.lists[id] = &cp
	return nil
}

func (m *memTodoStore) GetTodoList(_ context.Context, id uuid.UUID) (*protocol.TodoList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, ok := m.lists[id]
	if !ok {
		return nil, nil
	}
	cp := *list
	return &cp, nil
}

func (m *memTodoStore) DeleteTodoList(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lists, id)
	return nil
}

func (m *memTodoStore) LoadTodoLists(_ context.Context) (map[uuid.UUID]*protocol.TodoList, error) {
	return nil, nil
}

func newTestServer(t *testing.T, provider providers.Provider, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.Agent.SystemPrompt = "You are a test assistant."
	if mutate != nil {
		mutate(cfg)
	}

	mem := memory.NewManager(provider, cfg.Memory, "gpt-4o-mini")
	registry := tools.NewRegistry()
	todos := todo.NewService(&memTodoStore{})
	if err := registry.Register(tools.NewManageTodoTool(todos)); err != nil {
		t.Fatalf("register todo tool: %v", err)
	}
	executor := tools.NewExecutor(registry, 2, 0)
	chatAgent := agent.New(provider, mem, registry, executor, todos, cfg)

	srv := NewServer(cfg, chatAgent, events.NewHub())
	t.Cleanup(srv.Close)
	ts := httptest.NewServer(srv.BuildMux())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, &scriptedProvider{}, nil)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	var body map[string]interface{}
	decodeBody(t, resp, &body)

	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	if int(body["protocol"].(float64)) != protocol.ProtocolVersion {
		t.Errorf("protocol = %v", body["protocol"])
	}
}

func TestChat(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "hello from the agent", FinishReason: "stop"},
	}}
	_, ts := newTestServer(t, provider, nil)

	resp := postJSON(t, ts.URL+"/chat", map[string]string{"message": "hi"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var result agent.RunResult
	decodeBody(t, resp, &result)

	if result.Content != "hello from the agent" {
		t.Errorf("content = %q", result.Content)
	}
	if result.SessionID == uuid.Nil {
		t.Error("no session id in response")
	}
}

func TestChatValidation(t *testing.T) {
	_, ts := newTestServer(t, &scriptedProvider{}, func(cfg *config.Config) {
		cfg.Server.MaxMessageChars = 10
	})

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"empty message", map[string]string{"message": "  "}, http.StatusBadRequest},
		{"too long", map[string]string{"message": strings.Repeat("x", 11)}, http.StatusBadRequest},
		{"bad session id", map[string]string{"message": "hi", "session_id": "nope"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/chat", tc.body, nil)
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestBearerAuth(t *testing.T) {
	_, ts := newTestServer(t, &scriptedProvider{}, func(cfg *config.Config) {
		cfg.Server.Token = "secret"
	})

	resp := postJSON(t, ts.URL+"/chat", map[string]string{"message": "hi"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/chat", map[string]string{"message": "hi"},
		map[string]string{"Authorization": "Bearer wrong"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/chat", map[string]string{"message": "hi"},
		map[string]string{"Authorization": "Bearer secret"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("good token: status = %d, want 200", resp.StatusCode)
	}

	// Health stays open.
	hr, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	hr.Body.Close()
	if hr.StatusCode != http.StatusOK {
		t.Errorf("health: status = %d, want 200", hr.StatusCode)
	}
}

func TestChatStreamSSE(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "streamed reply", FinishReason: "stop"},
	}}
	_, ts := newTestServer(t, provider, nil)

	resp := postJSON(t, ts.URL+"/chat/stream", map[string]string{"message": "hi"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	var chunks []protocol.StreamChunk
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var chunk protocol.StreamChunk
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
			t.Fatalf("unmarshal chunk: %v", err)
		}
		chunks = append(chunks, chunk)
	}

	if len(chunks) < 3 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	if chunks[0].Type != protocol.ChunkSession {
		t.Errorf("first chunk = %q, want session", chunks[0].Type)
	}
	if last := chunks[len(chunks)-1]; last.Type != protocol.ChunkDone {
		t.Errorf("last chunk = %q, want done", last.Type)
	}
	var content string
	for _, c := range chunks {
		if c.Type == protocol.ChunkContent {
			content += c.Delta
		}
	}
	if content != "streamed reply" {
		t.Errorf("content = %q", content)
	}
}

func TestSessionLifecycle(t *testing.T) {
	_, ts := newTestServer(t, &scriptedProvider{}, nil)

	resp := postJSON(t, ts.URL+"/chat", map[string]string{"message": "hi"}, nil)
	var result agent.RunResult
	decodeBody(t, resp, &result)
	sid := result.SessionID.String()

	var listing struct {
		Sessions []sessionSummary `json:"sessions"`
		Total    int              `json:"total"`
	}
	lr, err := http.Get(ts.URL + "/sessions")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	decodeBody(t, lr, &listing)
	if listing.Total != 1 || len(listing.Sessions) != 1 {
		t.Fatalf("listing = %+v", listing)
	}

	gr, err := http.Get(ts.URL + "/sessions/" + sid)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	var session memory.Session
	decodeBody(t, gr, &session)
	if session.ID != result.SessionID {
		t.Errorf("session id = %s", session.ID)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/"+sid, nil)
	dr, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete session: %v", err)
	}
	dr.Body.Close()
	if dr.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", dr.StatusCode)
	}

	gr2, err := http.Get(ts.URL + "/sessions/" + sid)
	if err != nil {
		t.Fatalf("get deleted session: %v", err)
	}
	gr2.Body.Close()
	if gr2.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", gr2.StatusCode)
	}
}

func TestTodoNotFound(t *testing.T) {
	_, ts := newTestServer(t, &scriptedProvider{}, nil)

	resp := postJSON(t, ts.URL+"/chat", map[string]string{"message": "hi"}, nil)
	var result agent.RunResult
	decodeBody(t, resp, &result)

	tr, err := http.Get(fmt.Sprintf("%s/sessions/%s/todo", ts.URL, result.SessionID))
	if err != nil {
		t.Fatalf("get todo: %v", err)
	}
	tr.Body.Close()
	if tr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", tr.StatusCode)
	}
}

func TestInterruptNoActiveRun(t *testing.T) {
	_, ts := newTestServer(t, &scriptedProvider{}, nil)

	resp := postJSON(t, ts.URL+"/chat/interrupt/"+uuid.NewString(), nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, &scriptedProvider{}, nil)

	postJSON(t, ts.URL+"/chat", map[string]string{"message": "hi"}, nil).Body.Close()

	resp, err := http.Get(ts.URL + "/chat/stats")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	var body struct {
		Agent  agent.Stats        `json:"agent"`
		Memory memory.GlobalStats `json:"memory"`
	}
	decodeBody(t, resp, &body)
	if body.Agent.TotalRuns != 1 {
		t.Errorf("total runs = %d", body.Agent.TotalRuns)
	}
	if body.Memory.SessionCount != 1 {
		t.Errorf("session count = %d", body.Memory.SessionCount)
	}
}

func TestRateLimit(t *testing.T) {
	_, ts := newTestServer(t, &scriptedProvider{}, func(cfg *config.Config) {
		cfg.Server.RateLimitRPM = 60 // 1 rps, burst 5
	})

	limited := false
	for i := 0; i < 10; i++ {
		resp, err := http.Get(ts.URL + "/chat/stats")
		if err != nil {
			t.Fatalf("get stats: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("burst of 10 requests was never rate limited")
	}
}
