package directorium

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/temirov/directorium/internal/config"
	"github.com/temirov/directorium/internal/llm"
)

type answeringServer struct {
	mutex    sync.Mutex
	answer   string
	requests []llm.ChatCompletionRequest
}

func (s *answeringServer) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var decoded llm.ChatCompletionRequest
	if err := json.NewDecoder(request.Body).Decode(&decoded); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	s.requests = append(s.requests, decoded)
	writer.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(writer).Encode(map[string]any{
		"choices": []any{map[string]any{
			"message":       map[string]any{"role": "assistant", "content": s.answer},
			"finish_reason": "stop",
		}},
	})
}

func newChatHarness(t *testing.T, answer string) (*testHarness, *answeringServer) {
	t.Helper()
	server := &answeringServer{answer: answer}
	httpServer := httptest.NewServer(server)
	t.Cleanup(httpServer.Close)

	harness := newTestHarness(t)
	harness.env[testAPIKeyVariable] = "test-key"
	harness.env[config.BaseURLEnvironmentVariable] = httpServer.URL
	return harness, server
}

func TestChatSingleQuery(t *testing.T) {
	harness, server := newChatHarness(t, "Your inbox is empty.")

	out, err := harness.execute(t, "", "chat", "--query", "What is in my inbox?", "--model", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("chat: %v\n%s", err, out)
	}
	if strings.TrimSpace(out) != "Your inbox is empty." {
		t.Fatalf("unexpected output %q", out)
	}
	if len(server.requests) != 1 {
		t.Fatalf("expected one model call, got %d", len(server.requests))
	}
	request := server.requests[0]
	if request.Model != "gpt-4o-mini" || len(request.Tools) != 6 {
		t.Fatalf("unexpected request model %q with %d tools", request.Model, len(request.Tools))
	}
	if request.Messages[0].Role != llm.RoleSystem || request.Messages[0].Content != "You organise files." {
		t.Fatalf("expected configured system prompt first, got %+v", request.Messages[0])
	}
}

func TestChatRequiresAPIKey(t *testing.T) {
	harness, _ := newChatHarness(t, "unused")
	delete(harness.env, testAPIKeyVariable)
	t.Setenv(testAPIKeyVariable, "")

	_, err := harness.execute(t, "", "chat", "--query", "hello")
	if err == nil || !strings.Contains(err.Error(), testAPIKeyVariable) {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestChatInteractiveCommands(t *testing.T) {
	harness, server := newChatHarness(t, "Hello there.")

	input := strings.Join([]string{"/session", "/bogus", "hi", "/new", "/quit", "never read"}, "\n") + "\n"
	out, err := harness.execute(t, input, "chat", "--thread-id", "thread42")
	if err != nil {
		t.Fatalf("chat: %v\n%s", err, out)
	}
	for _, want := range []string{"Thread: thread42", `Unknown command "/bogus"`, "Agent: Hello there.", "Started thread ", "Goodbye!"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if len(server.requests) != 1 {
		t.Fatalf("expected one model call, got %d", len(server.requests))
	}
}

func TestChatListsStoredThreads(t *testing.T) {
	harness, _ := newChatHarness(t, "Noted.")

	if _, err := harness.execute(t, "", "chat", "--query", "remember this", "--thread-id", "older01"); err != nil {
		t.Fatalf("seed thread: %v", err)
	}
	input := strings.Join([]string{"/threads", "hello", "/threads", "/quit"}, "\n") + "\n"
	out, err := harness.execute(t, input, "chat", "--thread-id", "newer01")
	if err != nil {
		t.Fatalf("chat: %v\n%s", err, out)
	}
	first, rest, found := strings.Cut(out, "Agent: Noted.")
	if !found {
		t.Fatalf("expected an answer between listings:\n%s", out)
	}
	if !strings.Contains(first, "  older01  3 messages") || strings.Contains(first, "newer01  ") {
		t.Fatalf("expected only the seeded thread before answering:\n%s", first)
	}
	if !strings.Contains(rest, "* newer01  3 messages") || !strings.Contains(rest, "  older01  3 messages") {
		t.Fatalf("expected both threads with the current one marked:\n%s", rest)
	}
}

func TestChatThreadsWithEmptyStore(t *testing.T) {
	harness, _ := newChatHarness(t, "unused")

	out, err := harness.execute(t, "/threads\n/quit\n", "chat")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, noThreadsStored) {
		t.Fatalf("expected empty listing message:\n%s", out)
	}
}

func TestChatEndOfInputExits(t *testing.T) {
	harness, server := newChatHarness(t, "unused")

	out, err := harness.execute(t, "", "chat")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "Goodbye!") {
		t.Fatalf("expected goodbye on end of input, got:\n%s", out)
	}
	if len(server.requests) != 0 {
		t.Fatalf("expected no model calls, got %d", len(server.requests))
	}
}

func TestResolveModel(t *testing.T) {
	rootConfiguration := config.Root{Models: []config.Model{
		{Name: "mini", ModelID: "gpt-4o-mini", Default: true, MaxCompletionTokens: 512},
		{Name: "large", ModelID: "gpt-4o", SupportsTemperature: true},
	}}
	testCases := []struct {
		name        string
		flagValue   string
		envValue    string
		wantModelID string
	}{
		{name: "default", wantModelID: "gpt-4o-mini"},
		{name: "flag by name", flagValue: "large", envValue: "gpt-4.1", wantModelID: "gpt-4o"},
		{name: "environment raw id", envValue: "gpt-4.1", wantModelID: "gpt-4.1"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got := resolveModel(rootConfiguration, testCase.flagValue, testCase.envValue)
			if got.ModelID != testCase.wantModelID {
				t.Fatalf("resolveModel() = %q, want %q", got.ModelID, testCase.wantModelID)
			}
		})
	}
}

func TestPreviewTruncatesLongResults(t *testing.T) {
	long := strings.Repeat("é", toolResultPreview+5)
	got := preview(long, toolResultPreview)
	if !strings.HasSuffix(got, "...") || len([]rune(got)) != toolResultPreview+3 {
		t.Fatalf("unexpected preview %q", got)
	}
	if preview("short", toolResultPreview) != "short" {
		t.Fatalf("short results must be unchanged")
	}
}

func TestChatExpandsHomeInDatabasePath(t *testing.T) {
	harness, _ := newChatHarness(t, "Stored.")
	homeDirectory := t.TempDir()
	t.Setenv("HOME", homeDirectory)

	if _, err := harness.execute(t, "", "chat", "--query", "hello", "--db-path", "~/sessions/memory.db"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if _, err := os.Stat(filepath.Join(homeDirectory, "sessions", "memory.db")); err != nil {
		t.Fatalf("expected database under home: %v", err)
	}
	if _, err := os.Stat(filepath.Join(harness.workDir, "~")); !os.IsNotExist(err) {
		t.Fatalf("a literal ~ directory must not be created, stat error %v", err)
	}
}
