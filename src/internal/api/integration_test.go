package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"nudge/src/internal/config"
	"nudge/src/internal/contacts"
	"nudge/src/internal/engine"
	"nudge/src/internal/gateway"
	"nudge/src/internal/llm"
	"nudge/src/internal/reminders"
	"nudge/src/internal/storage"
)

// replyFunc decides the model's next message from the transcript so far.
type replyFunc func(msgs []*schema.Message) (*schema.Message, error)

type funcBackend struct {
	mu    sync.Mutex
	reply replyFunc
}

func (b *funcBackend) Name() string { return "test" }

func (b *funcBackend) Generate(_ context.Context, msgs []*schema.Message, _ []*schema.ToolInfo) (*schema.Message, *llm.Usage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg, err := b.reply(msgs)
	if err != nil {
		return nil, nil, err
	}
	return msg, &llm.Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6}, nil
}

func (b *funcBackend) set(r replyFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reply = r
}

func echo(msgs []*schema.Message) (*schema.Message, error) {
	return schema.AssistantMessage("echo: "+msgs[len(msgs)-1].Content, nil), nil
}

// remindOnce asks for create_reminder on the first round and confirms after
// the tool result comes back.
func remindOnce(msgs []*schema.Message) (*schema.Message, error) {
	last := msgs[len(msgs)-1]
	if last.Role == schema.Tool {
		return schema.AssistantMessage("Done. "+last.Content, nil), nil
	}
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       "call_1",
		Type:     "function",
		Function: schema.FunctionCall{Name: "create_reminder", Arguments: `{"title":"Buy milk","due_date":"2030-01-02T09:00:00Z"}`},
	}}), nil
}

func setupTestServer(t *testing.T) (*Server, *funcBackend) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tmpDir := t.TempDir()

	cfg := &config.Config{
		StorageDir: tmpDir,
		Server: config.ServerConfig{
			Addr:      ":8080",
			Key:       "test-server-key",
			AdminUser: "admin",
			AdminPass: "admin-password",
		},
		Agents: config.AgentsConfig{
			Defaults: config.AgentDefaults{
				Model: config.ModelSelection{Primary: "mock/test-model"},
			},
			MaxIterations: 3,
			HistoryWindow: 10,
			ModelTimeout:  5 * time.Second,
			ToolTimeout:   5 * time.Second,
		},
		Reminders: config.RemindersConfig{Driver: config.DriverMemory, Timezone: "UTC"},
	}

	st, err := storage.New(tmpDir)
	if err != nil {
		t.Fatal(err)
	}

	backend := &funcBackend{reply: echo}
	gw, err := gateway.New(context.Background(), cfg, st,
		gateway.WithBackend(backend),
		gateway.WithStore(reminders.NewMemoryStore()),
		gateway.WithContacts(contacts.NewStatic(nil)),
		gateway.WithoutChannels())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { gw.Close() })
	return NewServer(gw), backend
}

func adminAuth(user, pass string) string {
	auth := user + ":" + pass
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(auth))
}

func do(s *Server, method, path, user string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Server-Key", "test-server-key")
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(ownerHeader, user)
	}
	resp := httptest.NewRecorder()
	s.Handler().ServeHTTP(resp, req)
	return resp
}

func TestAPI_Prompt(t *testing.T) {
	s, _ := setupTestServer(t)

	resp := do(s, "POST", "/api/v1/prompt", "alice", promptRequest{Prompt: "hello"})
	if resp.Code != http.StatusOK {
		t.Fatalf("POST prompt: expected 200, got %d. Body: %s", resp.Code, resp.Body.String())
	}
	var out promptResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Response != "echo: hello" || out.Iterations != 1 || out.IterationCap {
		t.Errorf("unexpected response: %+v", out)
	}
	if out.Usage.TotalTokens != 6 {
		t.Errorf("expected 6 tokens, got %d", out.Usage.TotalTokens)
	}

	resp = do(s, "POST", "/api/v1/prompt", "alice", map[string]string{})
	if resp.Code != http.StatusBadRequest {
		t.Errorf("POST empty prompt: expected 400, got %d", resp.Code)
	}
}

func TestAPI_PromptCreatesReminder(t *testing.T) {
	s, backend := setupTestServer(t)
	backend.set(remindOnce)

	resp := do(s, "POST", "/api/v1/prompt", "alice", promptRequest{Prompt: "remind me to buy milk"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d. Body: %s", resp.Code, resp.Body.String())
	}
	var out promptResponse
	json.Unmarshal(resp.Body.Bytes(), &out)
	if out.ToolCalls != 1 || out.Iterations != 2 {
		t.Errorf("unexpected counters: %+v", out)
	}
	if !strings.Contains(out.Response, `Reminder created: "Buy milk"`) {
		t.Errorf("unexpected answer: %s", out.Response)
	}

	resp = do(s, "GET", "/api/v1/reminders", "alice", nil)
	var active []reminders.Task
	json.Unmarshal(resp.Body.Bytes(), &active)
	if len(active) != 1 || active[0].Title != "Buy milk" || active[0].Source != "assistant" {
		t.Fatalf("unexpected reminders: %+v", active)
	}
	if !active[0].Due.Equal(time.Date(2030, 1, 2, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected due: %v", active[0].Due)
	}

	resp = do(s, "GET", "/api/v1/reminders", "bob", nil)
	if strings.Contains(resp.Body.String(), "Buy milk") {
		t.Error("reminder leaked to another user")
	}
}

func TestAPI_PromptFallbacks(t *testing.T) {
	s, backend := setupTestServer(t)

	backend.set(func([]*schema.Message) (*schema.Message, error) {
		return nil, errors.New("upstream exploded")
	})
	resp := do(s, "POST", "/api/v1/prompt", "alice", promptRequest{Prompt: "hi"})
	if resp.Code != http.StatusBadGateway {
		t.Errorf("backend failure: expected 502, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "trouble thinking") {
		t.Errorf("expected fallback text, got %s", resp.Body.String())
	}

	backend.set(func([]*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("", []schema.ToolCall{{
			ID:       "loop",
			Type:     "function",
			Function: schema.FunctionCall{Name: "get_contacts", Arguments: `{}`},
		}}), nil
	})
	resp = do(s, "POST", "/api/v1/prompt", "alice", promptRequest{Prompt: "loop forever"})
	if resp.Code != http.StatusOK {
		t.Fatalf("iteration cap: expected 200, got %d", resp.Code)
	}
	var out promptResponse
	json.Unmarshal(resp.Body.Bytes(), &out)
	if !out.IterationCap || out.Response != engine.FallbackApology || out.Iterations != 3 {
		t.Errorf("unexpected cap response: %+v", out)
	}
}

func TestAPI_ReminderLifecycle(t *testing.T) {
	s, _ := setupTestServer(t)

	resp := do(s, "POST", "/api/v1/reminders", "alice", map[string]any{
		"title":    "Dentist",
		"due":      "2030-05-01T10:00:00Z",
		"priority": "high",
		"category": "health",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d. Body: %s", resp.Code, resp.Body.String())
	}
	var created reminders.Task
	json.Unmarshal(resp.Body.Bytes(), &created)
	if created.ID == "" || created.Priority != reminders.PriorityHigh || created.Source != "api" {
		t.Fatalf("unexpected task: %+v", created)
	}
	path := "/api/v1/reminders/" + created.ID

	if resp := do(s, "GET", path, "bob", nil); resp.Code != http.StatusNotFound {
		t.Errorf("foreign get: expected 404, got %d", resp.Code)
	}

	resp = do(s, "PATCH", path, "alice", map[string]any{"title": "Dentist (cleaning)"})
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "Dentist (cleaning)") {
		t.Errorf("update: got %d %s", resp.Code, resp.Body.String())
	}

	if resp := do(s, "POST", path+"/complete", "alice", nil); resp.Code != http.StatusOK {
		t.Errorf("complete: expected 200, got %d", resp.Code)
	}
	resp = do(s, "GET", "/api/v1/reminders?view=completed", "alice", nil)
	if !strings.Contains(resp.Body.String(), created.ID) {
		t.Errorf("completed view missing task: %s", resp.Body.String())
	}

	if resp := do(s, "POST", path+"/uncomplete", "alice", nil); resp.Code != http.StatusOK {
		t.Errorf("uncomplete: expected 200, got %d", resp.Code)
	}
	if resp := do(s, "POST", path+"/archive", "alice", nil); resp.Code != http.StatusOK {
		t.Errorf("archive: expected 200, got %d", resp.Code)
	}
	resp = do(s, "GET", "/api/v1/reminders?view=active", "alice", nil)
	if strings.Contains(resp.Body.String(), created.ID) {
		t.Error("archived task still active")
	}
	if resp := do(s, "POST", path+"/unarchive", "alice", nil); resp.Code != http.StatusOK {
		t.Errorf("unarchive: expected 200, got %d", resp.Code)
	}

	resp = do(s, "GET", "/api/v1/reminders?view=grouped", "alice", nil)
	if !strings.Contains(resp.Body.String(), `"category":"health"`) {
		t.Errorf("grouped view: %s", resp.Body.String())
	}

	if resp := do(s, "DELETE", path, "alice", nil); resp.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", resp.Code)
	}
	if resp := do(s, "DELETE", path, "alice", nil); resp.Code != http.StatusNoContent {
		t.Errorf("second delete: expected 204, got %d", resp.Code)
	}
	if resp := do(s, "GET", path, "alice", nil); resp.Code != http.StatusNotFound {
		t.Errorf("get deleted: expected 404, got %d", resp.Code)
	}
}

func TestAPI_ReminderValidation(t *testing.T) {
	s, _ := setupTestServer(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing title", map[string]any{"notes": "x"}},
		{"bad priority", map[string]any{"title": "x", "priority": "urgent"}},
		{"bad due", map[string]any{"title": "x", "due": "next tuesday"}},
		{"bad interval", map[string]any{"title": "x", "due": "2030-01-01", "recurrence": map[string]any{"enabled": true, "interval": "hourly"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(s, "POST", "/api/v1/reminders", "alice", tc.body)
			if resp.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d. Body: %s", resp.Code, resp.Body.String())
			}
		})
	}

	if resp := do(s, "GET", "/api/v1/reminders?view=someday", "alice", nil); resp.Code != http.StatusBadRequest {
		t.Errorf("unknown view: expected 400, got %d", resp.Code)
	}
}

func TestAPI_Tools(t *testing.T) {
	s, _ := setupTestServer(t)
	resp := do(s, "GET", "/api/v1/tools", "", nil)
	var specs []map[string]any
	json.Unmarshal(resp.Body.Bytes(), &specs)
	if resp.Code != http.StatusOK || len(specs) != 9 {
		t.Errorf("expected 9 tools, got %d (%d)", len(specs), resp.Code)
	}
}

func TestAPI_AdminHealth(t *testing.T) {
	s, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/api/admin/v1/health", nil)
	req.Header.Set("Authorization", adminAuth("admin", "admin-password"))
	resp := httptest.NewRecorder()
	s.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.Code)
	}
	var health adminHealthResponse
	json.Unmarshal(resp.Body.Bytes(), &health)
	if health.Model != "mock/test-model" {
		t.Errorf("unexpected model %q", health.Model)
	}
}

func TestAPI_AdminConfigHidesSecrets(t *testing.T) {
	s, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/api/admin/v1/config", nil)
	req.Header.Set("Authorization", adminAuth("admin", "admin-password"))
	resp := httptest.NewRecorder()
	s.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "admin-password") {
		t.Error("config response leaks the admin password")
	}
}

func TestAPI_AdminSessions(t *testing.T) {
	s, _ := setupTestServer(t)
	do(s, "POST", "/api/v1/prompt", "alice", promptRequest{Prompt: "hello"})

	admin := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", adminAuth("admin", "admin-password"))
		resp := httptest.NewRecorder()
		s.Handler().ServeHTTP(resp, req)
		return resp
	}

	resp := admin("GET", "/api/admin/v1/sessions")
	if !strings.Contains(resp.Body.String(), `"id":"alice"`) {
		t.Errorf("sessions list: %s", resp.Body.String())
	}
	if resp := admin("GET", "/api/admin/v1/sessions/alice"); resp.Code != http.StatusOK {
		t.Errorf("get session: expected 200, got %d", resp.Code)
	}
	if resp := admin("POST", "/api/admin/v1/sessions/alice/reset"); resp.Code != http.StatusOK {
		t.Errorf("reset: expected 200, got %d", resp.Code)
	}
	if resp := admin("POST", "/api/admin/v1/sessions/nobody/reset"); resp.Code != http.StatusNotFound {
		t.Errorf("reset unknown: expected 404, got %d", resp.Code)
	}
	if resp := admin("GET", "/api/admin/v1/channels/whatsapp"); !strings.Contains(resp.Body.String(), "not found") {
		t.Errorf("disabled channel status: %s", resp.Body.String())
	}
}

func TestAPI_AuthFailures(t *testing.T) {
	s, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/reminders", nil)
	resp := httptest.NewRecorder()
	s.Handler().ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for missing server key, got %d", resp.Code)
	}

	req = httptest.NewRequest("GET", "/api/admin/v1/health", nil)
	req.Header.Set("Authorization", adminAuth("admin", "wrong-password"))
	resp = httptest.NewRecorder()
	s.Handler().ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for wrong admin password, got %d", resp.Code)
	}
}

func TestAPI_WebSocket(t *testing.T) {
	s, _ := setupTestServer(t)

	server := httptest.NewServer(s.Handler())
	defer server.Close()

	u, _ := url.Parse(server.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	q := u.Query()
	q.Set("token", "test-server-key")
	q.Set("user", "carol")
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("WebSocket expected 101, got %d", resp.StatusCode)
	}

	// next reads frames until one of the wanted type arrives
	next := func(want string) map[string]any {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("failed to read %s frame: %v", want, err)
			}
			if msg["type"] == want {
				return msg
			}
		}
	}

	next("views")

	if resp := do(s, "POST", "/api/v1/reminders", "carol", map[string]any{"title": "Call the bank"}); resp.Code != http.StatusCreated {
		t.Fatalf("create: %d", resp.Code)
	}
	views := next("views")
	raw, _ := json.Marshal(views["views"])
	if !strings.Contains(string(raw), "Call the bank") {
		t.Errorf("views frame missing new reminder: %s", raw)
	}

	if err := conn.WriteJSON(map[string]string{"prompt": "ping"}); err != nil {
		t.Fatal(err)
	}
	answer := next("response")
	if answer["response"] != "echo: ping" {
		t.Errorf("unexpected response frame: %v", answer)
	}
}

func TestAPI_WebSocketRequiresKey(t *testing.T) {
	s, _ := setupTestServer(t)
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("expected dial to fail without key")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 handshake response, got %v", resp)
	}
}
