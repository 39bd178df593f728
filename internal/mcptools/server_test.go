package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	ctxengine "github.com/flemzord/chatmem/internal/context"
	"github.com/flemzord/chatmem/internal/conversation"
	"github.com/flemzord/chatmem/internal/memory"
)

func newTestServer(t *testing.T, sum ctxengine.Summarizer) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := conversation.New(memory.NewInMemoryBackend(), sum, conversation.Config{Logger: logger})
	t.Cleanup(func() { _ = store.Close() })
	return New(store, "test", logger)
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want TextContent", res.Content[0])
	}
	return text.Text
}

func decodeResult[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}
	var v T
	if err := json.Unmarshal([]byte(resultText(t, res)), &v); err != nil {
		t.Fatalf("decode %T: %v", v, err)
	}
	return v
}

func TestServer_ListsTools(t *testing.T) {
	s := newTestServer(t, nil)

	raw := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	resp := s.MCPServer().HandleMessage(context.Background(), raw)
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		ToolAddMessage, ToolGetContext, ToolSearchHistory,
		ToolListSummaries, ToolListSessions, ToolCreateSession, ToolCompact,
	} {
		if !strings.Contains(string(data), `"`+name+`"`) {
			t.Errorf("tools/list missing %s: %s", name, data)
		}
	}
}

func TestAddMessageAndContext(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	res, err := s.addMessage(ctx, call(map[string]any{"role": "user", "content": "hello"}))
	if err != nil {
		t.Fatal(err)
	}
	msg := decodeResult[memory.Message](t, res)
	if msg.ID != 1 || msg.Content != "hello" {
		t.Errorf("message = %+v", msg)
	}

	res, _ = s.addMessage(ctx, call(map[string]any{"role": "assistant", "content": "x"}))
	if !res.IsError || !strings.Contains(resultText(t, res), "invalid role") {
		t.Errorf("invalid role result = %+v", res)
	}
	res, _ = s.addMessage(ctx, call(map[string]any{"role": "user"}))
	if !res.IsError {
		t.Error("missing content should be a tool error")
	}

	res, _ = s.getContext(ctx, call(nil))
	entries := decodeResult[[]memory.ContextEntry](t, res)
	if len(entries) != 1 || entries[0].Role != memory.RoleUser {
		t.Errorf("context = %+v", entries)
	}

	res, _ = s.getContext(ctx, call(map[string]any{"limit": -2}))
	if !res.IsError {
		t.Error("negative limit should be a tool error")
	}
}

func TestGetContextLimitAndSummary(t *testing.T) {
	sum := ctxengine.SummarizerFunc(func(context.Context, []memory.Message) (string, error) {
		return "earlier talk", nil
	})
	s := newTestServer(t, sum)
	ctx := context.Background()

	for i := 1; i <= 31; i++ {
		if _, err := s.store.AddMessage(ctx, memory.RoleUser, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	// JSON numbers arrive as float64.
	res, _ := s.getContext(ctx, call(map[string]any{"limit": float64(5)}))
	entries := decodeResult[[]memory.ContextEntry](t, res)
	if len(entries) != 6 || !entries[0].IsSummary || entries[1].Content != "m27" {
		t.Errorf("limited context = %+v", entries)
	}

	res, _ = s.listSummaries(ctx, call(nil))
	summaries := decodeResult[[]memory.Summary](t, res)
	if len(summaries) != 1 || summaries[0].EndMessageID != 11 {
		t.Errorf("summaries = %+v", summaries)
	}
}

func TestSearchHistory(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	for _, c := range []string{"50% off", "nothing", "save 50%"} {
		if _, err := s.store.AddMessage(ctx, memory.RoleUser, c); err != nil {
			t.Fatal(err)
		}
	}

	res, _ := s.searchHistory(ctx, call(map[string]any{"query": "50%"}))
	hits := decodeResult[[]memory.SearchHit](t, res)
	if len(hits) != 2 || hits[0].ID != 3 || hits[1].ID != 1 {
		t.Errorf("hits = %+v", hits)
	}

	res, _ = s.searchHistory(ctx, call(map[string]any{"query": "zzz"}))
	if got := resultText(t, res); got != "[]" {
		t.Errorf("no-match result = %q, want []", got)
	}

	res, _ = s.searchHistory(ctx, call(nil))
	if !res.IsError {
		t.Error("missing query should be a tool error")
	}
}

func TestSessions(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	res, _ := s.listSessions(ctx, call(nil))
	list := decodeResult[[]memory.ChatSession](t, res)
	if len(list) != 1 || list[0].ID != memory.PlaceholderSessionID {
		t.Errorf("placeholder = %+v", list)
	}

	res, _ = s.createSession(ctx, call(map[string]any{"title": "Groceries"}))
	sess := decodeResult[memory.ChatSession](t, res)
	if sess.Title != "Groceries" {
		t.Errorf("session = %+v", sess)
	}
	res, _ = s.createSession(ctx, call(nil))
	if sess := decodeResult[memory.ChatSession](t, res); sess.Title != memory.DefaultSessionTitle {
		t.Errorf("untitled = %+v", sess)
	}

	res, _ = s.listSessions(ctx, call(nil))
	if list := decodeResult[[]memory.ChatSession](t, res); len(list) != 2 {
		t.Errorf("sessions = %+v", list)
	}
}

func TestCompact(t *testing.T) {
	fail := true
	sum := ctxengine.SummarizerFunc(func(context.Context, []memory.Message) (string, error) {
		if fail {
			return "", errors.New("upstream 503")
		}
		return "recap", nil
	})
	s := newTestServer(t, sum)
	ctx := context.Background()

	res, _ := s.compact(ctx, call(nil))
	if res.IsError || resultText(t, res) != "nothing to compress" {
		t.Errorf("empty compact = %q", resultText(t, res))
	}

	for i := 1; i <= 31; i++ {
		if _, err := s.store.AddMessage(ctx, memory.RoleUser, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	res, _ = s.compact(ctx, call(nil))
	if !res.IsError || !strings.Contains(resultText(t, res), "upstream 503") {
		t.Errorf("failing compact = %+v", res)
	}

	fail = false
	res, _ = s.compact(ctx, call(nil))
	summary := decodeResult[memory.Summary](t, res)
	if summary.StartMessageID != 1 || summary.EndMessageID != 11 || summary.Content != "recap" {
		t.Errorf("summary = %+v", summary)
	}
}

func TestClosedStoreIsToolError(t *testing.T) {
	s := newTestServer(t, nil)
	_ = s.store.Close()

	res, err := s.getContext(context.Background(), call(nil))
	if err != nil {
		t.Fatalf("handler error = %v, want tool-level error", err)
	}
	if !res.IsError {
		t.Error("closed store should yield a tool error")
	}
}
