package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	ctxengine "github.com/flemzord/chatmem/internal/context"
	"github.com/flemzord/chatmem/internal/conversation"
	"github.com/flemzord/chatmem/internal/core"
	"github.com/flemzord/chatmem/internal/memory"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()

	b, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// stepClock advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func appendAll(t *testing.T, b *Backend, contents ...string) {
	t.Helper()
	for _, c := range contents {
		if _, err := b.AppendMessage(context.Background(), memory.RoleUser, c); err != nil {
			t.Fatalf("AppendMessage(%q): %v", c, err)
		}
	}
}

func TestModuleLifecycle(t *testing.T) {
	dir := t.TempDir()
	m := &Module{config: Config{Path: filepath.Join(dir, "nested", "mem.db")}}

	app := core.NewAppContext(slog.New(slog.NewTextHandler(io.Discard, nil)), dir)
	if err := m.Provision(app); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	svc, ok := app.Service(memory.ServiceName)
	if !ok {
		t.Fatal("memory.backend service not registered")
	}
	if _, ok := svc.(memory.Backend); !ok {
		t.Fatalf("service is %T, want memory.Backend", svc)
	}

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestModuleDefaultPath(t *testing.T) {
	dir := t.TempDir()
	m := &Module{}
	app := core.NewAppContext(slog.New(slog.NewTextHandler(io.Discard, nil)), dir)
	if err := m.Provision(app); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	if want := filepath.Join(dir, "chatmem.db"); m.config.Path != want {
		t.Errorf("path = %q, want %q", m.config.Path, want)
	}
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	b, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	appendAll(t, b, "persisted")
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	b, err = Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = b.Close() }()

	if err := b.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	msgs, err := b.RecentMessages(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "persisted" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestOpen_RejectsBadConfig(t *testing.T) {
	_, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "x.db"), BusyTimeout: -1})
	if err == nil {
		t.Fatal("expected error for negative busy_timeout")
	}
}

func TestCheckpoint(t *testing.T) {
	b := newTestBackend(t)
	appendAll(t, b, "a", "b")
	if err := b.Checkpoint(context.Background()); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
}

func TestClosedBackendIsUnavailable(t *testing.T) {
	b := newTestBackend(t)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	_, err := b.CountMessages(context.Background())
	if !errors.Is(err, memory.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestAppendMessage(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	first, err := b.AppendMessage(ctx, memory.RoleUser, "hello")
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.AppendMessage(ctx, memory.RoleModel, "hi there")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != 1 || second.ID != 2 {
		t.Errorf("ids = %d,%d, want 1,2", first.ID, second.ID)
	}

	if _, err := b.AppendMessage(ctx, "robot", "x"); !errors.Is(err, memory.ErrInvalidRole) {
		t.Errorf("invalid role err = %v", err)
	}

	n, err := b.CountMessages(ctx)
	if err != nil || n != 2 {
		t.Errorf("count = %d, %v", n, err)
	}

	msgs, err := b.RangeMessages(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Content != "hello" || msgs[1].Role != memory.RoleModel {
		t.Errorf("range = %+v", msgs)
	}
	if !msgs[0].Timestamp.Equal(first.Timestamp) {
		t.Errorf("timestamp round trip = %v, want %v", msgs[0].Timestamp, first.Timestamp)
	}
}

func TestAppendMessage_TimestampClamped(t *testing.T) {
	b := newTestBackend(t)
	times := []time.Time{time.Unix(200, 0), time.Unix(100, 0)}
	i := 0
	b.now = func() time.Time {
		tm := times[i]
		i++
		return tm
	}

	appendAll(t, b, "a", "b")
	msgs, err := b.RangeMessages(context.Background(), 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !msgs[1].Timestamp.Equal(msgs[0].Timestamp) {
		t.Errorf("second timestamp %v, want clamped to %v", msgs[1].Timestamp, msgs[0].Timestamp)
	}
}

func TestRecentMessagesAndDelete(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	appendAll(t, b, "m1", "m2", "m3", "m4", "m5")

	recent, err := b.RecentMessages(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Content != "m4" || recent[1].Content != "m5" {
		t.Errorf("recent = %+v", recent)
	}

	none, err := b.RecentMessages(ctx, 0)
	if err != nil || len(none) != 0 {
		t.Errorf("recent(0) = %+v, %v", none, err)
	}

	n, err := b.DeleteMessages(ctx, 1, 3)
	if err != nil || n != 3 {
		t.Fatalf("delete = %d, %v", n, err)
	}

	// AUTOINCREMENT never reuses pruned ids.
	msg, err := b.AppendMessage(ctx, memory.RoleUser, "m6")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != 6 {
		t.Errorf("id after prune = %d, want 6", msg.ID)
	}
}

func TestAppendSummary(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	appendAll(t, b, "m1", "m2", "m3")

	tests := []struct {
		name       string
		start, end int64
		wantErr    error
	}{
		{"valid", 1, 2, nil},
		{"reversed", 3, 1, memory.ErrInvalidRange},
		{"missing end", 1, 42, memory.ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := b.AppendSummary(ctx, "sum", tt.start, tt.end)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if s.ID == 0 || s.StartMessageID != tt.start || s.EndMessageID != tt.end {
				t.Errorf("summary = %+v", s)
			}
		})
	}

	list, err := b.ListSummaries(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("ListSummaries = %+v, %v", list, err)
	}
}

func TestLatestSummary(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if _, ok, err := b.LatestSummary(ctx); ok || err != nil {
		t.Fatalf("empty latest = %v, %v", ok, err)
	}

	appendAll(t, b, "m1", "m2", "m3", "m4")
	for _, r := range [][2]int64{{1, 4}, {1, 2}, {3, 4}} {
		if _, err := b.AppendSummary(ctx, fmt.Sprintf("%d-%d", r[0], r[1]), r[0], r[1]); err != nil {
			t.Fatal(err)
		}
	}

	s, ok, err := b.LatestSummary(ctx)
	if err != nil || !ok {
		t.Fatalf("latest = %v, %v", ok, err)
	}
	// Greatest end id, ties broken by greatest summary id.
	if s.Content != "3-4" {
		t.Errorf("latest = %q, want 3-4", s.Content)
	}
}

func TestSnapshot(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	appendAll(t, b, "m1", "m2", "m3")
	if _, err := b.AppendSummary(ctx, "first", 1, 1); err != nil {
		t.Fatal(err)
	}

	snap, err := b.Snapshot(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Messages) != 2 || snap.Messages[0].ID != 2 {
		t.Errorf("messages = %+v", snap.Messages)
	}
	if !snap.HasSummary || snap.Latest.Content != "first" {
		t.Errorf("latest = %+v", snap.Latest)
	}
}

func TestSearch(t *testing.T) {
	b := newTestBackend(t)
	b.now = stepClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	appendAll(t, b, "I like Pizza", "100% sure", "snake_case name", `back\slash`, "plain")
	if _, err := b.AppendSummary(ctx, "All about PIZZA", 1, 5); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"pizza", []string{"All about PIZZA", "I like Pizza"}},
		{"%", []string{"100% sure"}},
		{"_", []string{"snake_case name"}},
		{`\`, []string{`back\slash`}},
		{"e_c", []string{"snake_case name"}},
		{"nothing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			hits, err := b.Search(ctx, tt.query)
			if err != nil {
				t.Fatal(err)
			}
			if len(hits) != len(tt.want) {
				t.Fatalf("hits = %+v, want %v", hits, tt.want)
			}
			for i, w := range tt.want {
				if hits[i].Content != w {
					t.Errorf("hit %d = %q, want %q", i, hits[i].Content, w)
				}
			}
		})
	}

	all, err := b.Search(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 6 {
		t.Errorf("empty query = %d hits, want 6", len(all))
	}
	if all[0].Origin != memory.OriginSummary || all[0].StartMessageID != 1 || all[0].EndMessageID != 5 {
		t.Errorf("first hit = %+v", all[0])
	}
}

// The in-memory backend is held to the same table.
func TestSearch_FoldsASCIIOnly(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	appendAll(t, b, "Café CRÈME")

	tests := []struct {
		query string
		hits  int
	}{
		{"café", 1},
		{"CAFÉ", 0},
		{"crÈme", 1},
		{"crème", 0},
	}
	for _, tt := range tests {
		hits, err := b.Search(ctx, tt.query)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != tt.hits {
			t.Errorf("Search(%q) = %d hits, want %d", tt.query, len(hits), tt.hits)
		}
	}
}

func TestSearch_TieOrder(t *testing.T) {
	b := newTestBackend(t)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }
	ctx := context.Background()

	appendAll(t, b, "tie a", "tie b")
	if _, err := b.AppendSummary(ctx, "tie summary", 1, 2); err != nil {
		t.Fatal(err)
	}

	hits, err := b.Search(ctx, "tie")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"tie summary", "tie b", "tie a"}
	for i, w := range want {
		if hits[i].Content != w {
			t.Errorf("hit %d = %q, want %q", i, hits[i].Content, w)
		}
	}
}

func TestSessions(t *testing.T) {
	b := newTestBackend(t)
	b.now = stepClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	list, err := b.ListSessions(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("empty list = %+v, %v", list, err)
	}

	a, err := b.CreateSession(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if a.Title != memory.DefaultSessionTitle {
		t.Errorf("title = %q", a.Title)
	}
	c, err := b.CreateSession(ctx, "Work")
	if err != nil {
		t.Fatal(err)
	}

	list, _ = b.ListSessions(ctx)
	if len(list) != 2 || list[0].ID != c.ID {
		t.Fatalf("list = %+v, want newest first", list)
	}

	if err := b.RenameSession(ctx, a.ID, "Home"); err != nil {
		t.Fatal(err)
	}
	list, _ = b.ListSessions(ctx)
	if list[0].ID != a.ID || list[0].Title != "Home" {
		t.Errorf("after rename list[0] = %+v", list[0])
	}
	if !list[0].CreatedAt.Equal(a.CreatedAt) {
		t.Errorf("created_at changed: %v vs %v", list[0].CreatedAt, a.CreatedAt)
	}

	if err := b.TouchSession(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	list, _ = b.ListSessions(ctx)
	if list[0].ID != c.ID {
		t.Errorf("touch did not bump %s", c.ID)
	}

	if err := b.DeleteSession(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	for name, err := range map[string]error{
		"delete": b.DeleteSession(ctx, c.ID),
		"touch":  b.TouchSession(ctx, "nope"),
		"rename": b.RenameSession(ctx, "nope", "x"),
	} {
		if !errors.Is(err, memory.ErrNotFound) {
			t.Errorf("%s err = %v, want ErrNotFound", name, err)
		}
	}
}

type fixedSummarizer string

func (f fixedSummarizer) Summarize(context.Context, []memory.Message) (string, error) {
	return string(f), nil
}

func TestConversationOverSQLite(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	st := conversation.New(b, fixedSummarizer("S1"), conversation.Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer func() { _ = st.Close() }()

	for i := 1; i <= 31; i++ {
		if _, err := st.AddMessage(ctx, memory.RoleUser, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	sums, err := st.Summaries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 || sums[0].StartMessageID != 1 || sums[0].EndMessageID != 11 {
		t.Fatalf("summaries = %+v, want [1,11]", sums)
	}

	entries, err := st.GetContext(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 21 || !entries[0].IsSummary || entries[1].Content != "m12" || entries[20].Content != "m31" {
		t.Errorf("context = %d entries, first raw %q", len(entries), entries[1].Content)
	}
}

func TestConversationOverSQLite_Prune(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	st := conversation.New(b, fixedSummarizer("S"), conversation.Config{
		Context: ctxengine.ContextConfig{DeleteSummarized: true},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer func() { _ = st.Close() }()

	for i := 1; i <= 31; i++ {
		if _, err := st.AddMessage(ctx, memory.RoleUser, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	n, err := b.CountMessages(ctx)
	if err != nil || n != 20 {
		t.Errorf("count after prune = %d, %v", n, err)
	}
	hits, _ := b.Search(ctx, "m1")
	for _, h := range hits {
		if h.Origin == memory.OriginMessage && h.ID <= 11 {
			t.Errorf("pruned message %d still searchable", h.ID)
		}
	}
}
