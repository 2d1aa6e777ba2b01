package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/gitnote/internal/noteservice"
	"github.com/starford/gitnote/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	env := testutil.CreateRepo(t)
	return New(noteservice.NewService(env.Coordinator, env.DB, nil), "test")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so the handlers are
	// called directly.
	var (
		result *mcp.CallToolResult
		err    error
	)
	switch name {
	case "search_notes":
		result, err = srv.searchNotes(ctx, req)
	case "read_note":
		result, err = srv.readNote(ctx, req)
	case "create_note":
		result, err = srv.createNote(ctx, req)
	case "update_note":
		result, err = srv.updateNote(ctx, req)
	case "delete_note":
		result, err = srv.deleteNote(ctx, req)
	case "list_notes":
		result, err = srv.listNotes(ctx, req)
	case "list_folders":
		result, err = srv.listFolders(ctx, req)
	case "sync_repository":
		result, err = srv.syncRepository(ctx, req)
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

func TestCreateAndReadNote(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "create_note", map[string]any{
		"path":    "test",
		"content": "# Test\nHello",
	})
	if text := resultText(r); text != "created: test.md" {
		t.Errorf("create result = %q", text)
	}

	r = callTool(t, srv, "read_note", map[string]any{"path": "test.md"})
	if text := resultText(r); text != "# Test\nHello" {
		t.Errorf("read result = %q", text)
	}
}

func TestCreateDuplicateIsToolError(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "create_note", map[string]any{"path": "a.md", "content": "a"})
	r := callTool(t, srv, "create_note", map[string]any{"path": "a.md", "content": "b"})
	if !r.IsError {
		t.Error("expected error for duplicate note")
	}
}

func TestUpdateAndDeleteNote(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "create_note", map[string]any{"path": "a.md", "content": "one"})

	r := callTool(t, srv, "update_note", map[string]any{"path": "a.md", "content": "two", "new_path": "b.md"})
	if text := resultText(r); text != "updated: b.md" {
		t.Fatalf("update result = %q", text)
	}
	if r := callTool(t, srv, "read_note", map[string]any{"path": "b.md"}); resultText(r) != "two" {
		t.Errorf("read after update = %q", resultText(r))
	}

	callTool(t, srv, "delete_note", map[string]any{"path": "b.md"})
	if r := callTool(t, srv, "read_note", map[string]any{"path": "b.md"}); !r.IsError {
		t.Error("note still readable after delete")
	}
}

func TestListNotesAndFolders(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "create_note", map[string]any{"path": "a.md", "content": "a"})
	callTool(t, srv, "create_note", map[string]any{"path": "work/b.md", "content": "b"})

	r := callTool(t, srv, "list_notes", map[string]any{"recursive": true})
	var page struct {
		Notes []noteservice.NoteListItem `json:"notes"`
		Total int                        `json:"total"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &page); err != nil {
		t.Fatalf("decode %q: %v", resultText(r), err)
	}
	if page.Total != 2 {
		t.Errorf("total = %d, want 2", page.Total)
	}

	r = callTool(t, srv, "list_folders", map[string]any{})
	if !strings.Contains(resultText(r), `"relative_path": "work"`) {
		t.Errorf("folders = %s", resultText(r))
	}
}

func TestSearchNotes(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "create_note", map[string]any{"path": "fruit.md", "content": "apples and pears"})

	r := callTool(t, srv, "search_notes", map[string]any{"query": "pears"})
	if !strings.Contains(resultText(r), "fruit.md") {
		t.Errorf("search result = %q", resultText(r))
	}
}

func TestSyncRepository(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "sync_repository", map[string]any{})
	if r.IsError || !strings.HasPrefix(resultText(r), "sync state: ok") {
		t.Errorf("sync result = %q", resultText(r))
	}
}

func TestReadNoteMissing(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "read_note", map[string]any{"path": "nope.md"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}
