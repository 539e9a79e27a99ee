package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/sangmemo/internal/models"
	"github.com/starford/sangmemo/internal/noteservice"
	"github.com/starford/sangmemo/internal/notify"
	"github.com/starford/sangmemo/internal/search"
	"github.com/starford/sangmemo/internal/testutil"
)

type stubAssistant struct{}

func (stubAssistant) Organize(_ context.Context, content string) (string, error) {
	return "# Organized\n\n" + content, nil
}

func (stubAssistant) SuggestTags(context.Context, string) ([]string, error) {
	return []string{"home", "food"}, nil
}

func testServer(t *testing.T) (*Server, *noteservice.Service, *notify.Scheduler) {
	t.Helper()
	svc := testutil.TestService(t,
		noteservice.WithSearcher(search.New(search.DefaultConfig(), nil, testutil.Logger())),
		noteservice.WithAssistant(stubAssistant{}),
	)
	sched := notify.New(svc, notify.WithLogger(testutil.Logger()))
	return New(svc, sched, nil), svc, sched
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so handlers are invoked
	// directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "search_notes":
		result, err = srv.searchNotes(ctx, req)
	case "read_note":
		result, err = srv.readNote(ctx, req)
	case "create_note":
		result, err = srv.createNote(ctx, req)
	case "list_notes":
		result, err = srv.listNotes(ctx, req)
	case "organize_note":
		result, err = srv.organizeNote(ctx, req)
	case "suggest_tags":
		result, err = srv.suggestTags(ctx, req)
	case "list_notifications":
		result, err = srv.listNotifications(ctx, req)
	case "attach_image":
		result, err = srv.attachImage(ctx, req)
	case "get_note_contract":
		result, err = srv.getNoteContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// createID creates a note through the tool and returns its id.
func createID(t *testing.T, srv *Server, args map[string]any) string {
	t.Helper()
	r := callTool(t, srv, "create_note", args)
	if r.IsError {
		t.Fatalf("create_note failed: %s", resultText(r))
	}
	id, ok := strings.CutPrefix(resultText(r), "created: ")
	if !ok {
		t.Fatalf("create result = %q", resultText(r))
	}
	return id
}

func TestCreateAndReadNote(t *testing.T) {
	srv, _, _ := testServer(t)

	id := createID(t, srv, map[string]any{
		"title":      "Groceries",
		"content":    "buy milk",
		"tags":       "home, food,home",
		"importance": "high",
	})

	r := callTool(t, srv, "read_note", map[string]any{"id": id})
	text := resultText(r)
	for _, want := range []string{"title: Groceries", "importance: high", "- home", "- food", "# Groceries\n\nbuy milk"} {
		if !strings.Contains(text, want) {
			t.Errorf("read result missing %q:\n%s", want, text)
		}
	}
}

func TestCreateNoteInvalidLeavesNothing(t *testing.T) {
	srv, svc, _ := testServer(t)

	r := callTool(t, srv, "create_note", map[string]any{"content": "x", "importance": "urgent"})
	if !r.IsError {
		t.Error("expected error for unknown importance")
	}
	r = callTool(t, srv, "create_note", map[string]any{"content": "x", "reminder": "tomorrow"})
	if !r.IsError {
		t.Error("expected error for bad reminder")
	}
	if n := len(svc.Snapshot()); n != 0 {
		t.Errorf("notes after failed creates = %d, want 0", n)
	}
}

func TestListNotes(t *testing.T) {
	srv, _, _ := testServer(t)
	createID(t, srv, map[string]any{"title": "b", "content": "x", "category": "work"})
	createID(t, srv, map[string]any{"title": "a", "content": "y"})

	r := callTool(t, srv, "list_notes", map[string]any{"sort": "title"})
	var all []noteSummary
	if err := json.Unmarshal([]byte(resultText(r)), &all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Title != "a" {
		t.Errorf("list = %+v", all)
	}

	r = callTool(t, srv, "list_notes", map[string]any{"category": "work"})
	var work []noteSummary
	_ = json.Unmarshal([]byte(resultText(r)), &work)
	if len(work) != 1 || work[0].Title != "b" {
		t.Errorf("category list = %+v", work)
	}

	if r := callTool(t, srv, "list_notes", map[string]any{"sort": "color"}); !r.IsError {
		t.Error("expected error for unknown sort")
	}
}

func TestSearchNotes(t *testing.T) {
	srv, _, _ := testServer(t)
	id := createID(t, srv, map[string]any{"content": "buy milk\nbuy eggs"})
	createID(t, srv, map[string]any{"content": "walk the dog"})

	r := callTool(t, srv, "search_notes", map[string]any{"query": "milk"})
	var hits []searchHit
	if err := json.Unmarshal([]byte(resultText(r)), &hits); err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != id || hits[0].SearchType != models.SearchExact {
		t.Errorf("hits = %+v", hits)
	}
	if hits[0].Title != "buy milk" {
		t.Errorf("derived title = %q", hits[0].Title)
	}
}

func TestReadNoteMissing(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "read_note", map[string]any{"id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestReadLockedNote(t *testing.T) {
	srv, svc, _ := testServer(t)
	id := createID(t, srv, map[string]any{"title": "Diary", "content": "secret"})
	if _, err := svc.Lock(context.Background(), id, "pw"); err != nil {
		t.Fatal(err)
	}

	if r := callTool(t, srv, "read_note", map[string]any{"id": id}); !r.IsError {
		t.Error("expected locked error")
	}
	if r := callTool(t, srv, "read_note", map[string]any{"id": id, "password": "bad"}); !r.IsError {
		t.Error("expected wrong password error")
	}
	r := callTool(t, srv, "read_note", map[string]any{"id": id, "password": "pw"})
	if !strings.Contains(resultText(r), "secret") {
		t.Errorf("unlocked read = %q", resultText(r))
	}
}

func TestOrganizeAndSuggestTags(t *testing.T) {
	srv, _, _ := testServer(t)
	id := createID(t, srv, map[string]any{"content": "milk eggs"})

	r := callTool(t, srv, "organize_note", map[string]any{"id": id})
	if got := resultText(r); got != "# Organized\n\nmilk eggs" {
		t.Errorf("organize = %q", got)
	}
	r = callTool(t, srv, "suggest_tags", map[string]any{"id": id})
	if got := resultText(r); got != "home, food" {
		t.Errorf("tags = %q", got)
	}
}

func TestListNotifications(t *testing.T) {
	srv, _, sched := testServer(t)
	id := createID(t, srv, map[string]any{
		"title":    "call mom",
		"content":  "x",
		"reminder": time.Now().Add(-time.Minute).Format(time.RFC3339),
	})
	sched.Tick(time.Now())

	r := callTool(t, srv, "list_notifications", map[string]any{"unread_only": true})
	var items []models.NotificationItem
	if err := json.Unmarshal([]byte(resultText(r)), &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].MemoID != id {
		t.Fatalf("items = %+v", items)
	}

	if err := sched.MarkAsRead(items[0].ID); err != nil {
		t.Fatal(err)
	}
	r = callTool(t, srv, "list_notifications", map[string]any{"unread_only": true})
	if got := resultText(r); got != "[]" {
		t.Errorf("unread after mark = %q", got)
	}
}

func TestListNotificationsDisabled(t *testing.T) {
	svc := testutil.TestService(t)
	srv := New(svc, nil, nil)
	if r := callTool(t, srv, "list_notifications", map[string]any{}); !r.IsError {
		t.Error("expected error without scheduler")
	}
}

func TestAttachImage(t *testing.T) {
	srv, svc, _ := testServer(t)
	id := createID(t, srv, map[string]any{"content": "receipt"})

	png := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	r := callTool(t, srv, "attach_image", map[string]any{"id": id, "data_uri": "data:image/png;base64," + png, "alt": "scan"})
	if r.IsError {
		t.Fatalf("attach failed: %s", resultText(r))
	}
	content := svc.Snapshot()[0].Content
	if !strings.HasPrefix(content, "receipt\n![scan](data:image/png;base64,") {
		t.Errorf("content = %q", content)
	}

	if r := callTool(t, srv, "attach_image", map[string]any{"id": id}); !r.IsError {
		t.Error("expected error without a source")
	}
	text := "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("hi"))
	if r := callTool(t, srv, "attach_image", map[string]any{"id": id, "data_uri": text}); !r.IsError {
		t.Error("expected error for non-image")
	}
}

func TestNoteContract(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "get_note_contract", map[string]any{})
	if !strings.Contains(resultText(r), "attach_image") {
		t.Error("contract should mention attach_image")
	}
}
