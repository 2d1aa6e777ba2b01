// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the notes repository to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/gitnote/internal/models"
	"github.com/starford/gitnote/internal/noteservice"
)

const defaultListLimit = 100

// Server wraps the MCP server with note tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *noteservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"gitnote",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search through note names and content."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note (e.g. folder/note.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a note, commit it and push it to the remote. "+
			"Read the format via the get_note_contract tool or the "+NoteFormatURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path for the new note")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Note content")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Replace the content of a note, optionally moving it to a new path."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Current path of the note")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New content")),
		mcp.WithString("new_path", mcp.Description("Optional new path")),
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note and commit the removal."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the note to delete")),
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List the notes of a folder."),
		mcp.WithString("folder", mcp.Description("Folder to list (empty for the root)")),
		mcp.WithBoolean("recursive", mcp.Description("Include notes of subfolders")),
		mcp.WithString("sort", mcp.Description("az, za, most_recent or oldest")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("list_folders",
		mcp.WithDescription("List the direct subfolders of a folder with their note counts."),
		mcp.WithString("parent", mcp.Description("Parent folder (empty for the root)")),
	), s.listFolders)

	s.mcp.AddTool(mcp.NewTool("sync_repository",
		mcp.WithDescription("Commit pending changes, pull from and push to the remote, and refresh the cache."),
	), s.syncRepository)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the note format. Call this before creating or updating notes."),
	), s.getNoteContract)

	s.mcp.AddResource(
		mcp.NewResource(NoteFormatURI, "Note Format",
			mcp.WithResourceDescription("Format of the notes stored in the repository."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.GetNote(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(note.Content), nil
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.CreateNote(ctx, path, content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", note.Path)), nil
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.UpdateNote(ctx, noteservice.UpdateRequest{
		Path:    path,
		NewPath: req.GetString("new_path", ""),
		Content: content,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated: %s", note.Path)), nil
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteNote(ctx, path); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", path)), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, total, err := s.svc.ListNotes(ctx, noteservice.ListQuery{
		Folder:            req.GetString("folder", ""),
		IncludeSubfolders: req.GetBool("recursive", false),
		Sort:              models.ParseSortOrder(req.GetString("sort", "")),
		Limit:             defaultListLimit,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"notes": items, "total": total}), nil
}

func (s *Server) listFolders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folders, err := s.svc.ListFolders(ctx, req.GetString("parent", ""), models.SortAZ)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(folders), nil
}

func (s *Server) syncRepository(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.svc.Sync(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("sync state: %s", s.svc.SyncState())), nil
}

func (s *Server) getNoteContract(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      NoteFormatURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}
