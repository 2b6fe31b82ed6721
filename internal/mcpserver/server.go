// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Blink notes and windows as tools for LLM integration.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/blink/internal/noteservice"
	"github.com/starford/blink/internal/windows"
)

const noteFormatURI = "blink://note-format"

// Server wraps the MCP server with Blink tools.
type Server struct {
	mcp     *server.MCPServer
	svc     *noteservice.Service
	windows *windows.Manager
}

// New creates a new MCP server with all Blink tools registered. The window
// tools are only offered when mgr is non-nil.
func New(svc *noteservice.Service, mgr *windows.Manager) *Server {
	s := &Server{svc: svc, windows: mgr}

	s.mcp = server.NewMCPServer(
		"Blink",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List notes in display order with id, title, tags and checksum."),
		mcp.WithString("tag", mcp.Description("Only list notes carrying this tag")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note by id, including its body and checksum."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a new note. Read the contract first via "+
			"the get_note_contract tool or the blink://note-format resource."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Note title")),
		mcp.WithString("content", mcp.Description("Markdown body")),
		mcp.WithArray("tags", mcp.Description("Tags"), mcp.Items(map[string]any{"type": "string"})),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Change the title, body or tags of a note. Omitted fields are kept."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("content", mcp.Description("New Markdown body")),
		mcp.WithArray("tags", mcp.Description("Replacement tag list"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("if_match", mcp.Description("Checksum from read_note; the update fails if the note changed since")),
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note and close its window."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("reorder_notes",
		mcp.WithDescription("Set the display order. Listed notes take positions 0..n-1."),
		mcp.WithArray("ids", mcp.Required(), mcp.Description("Note ids in display order"), mcp.Items(map[string]any{"type": "string"})),
	), s.reorderNotes)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the Blink note format contract. "+
			"Call this before creating or updating notes."),
	), s.getNoteContract)

	if mgr != nil {
		s.mcp.AddTool(mcp.NewTool("list_windows",
			mcp.WithDescription("List the detached note windows with their geometry."),
		), s.listWindows)

		s.mcp.AddTool(mcp.NewTool("reconcile_windows",
			mcp.WithDescription("Align window records with the windows the desktop actually has open."),
			mcp.WithBoolean("recreate_missing", mcp.Description("Reopen recorded windows that are gone instead of dropping them")),
		), s.reconcileWindows)
	}

	// Resource: note format contract.
	s.mcp.AddResource(
		mcp.NewResource(noteFormatURI, "Note Format Contract",
			mcp.WithResourceDescription("On-disk note format and editing rules."),
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

// Handler serves the MCP server over streamable HTTP.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
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

// stringArg returns an optional string argument and whether it was given.
func stringArg(req mcp.CallToolRequest, key string) (string, bool) {
	v, ok := req.GetArguments()[key].(string)
	return v, ok
}

// stringsArg returns an optional string array argument.
func stringsArg(req mcp.CallToolRequest, key string) ([]string, bool, error) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil, false, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, true, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, false, fmt.Errorf("%s must be an array of strings", key)
			}
			out = append(out, str)
		}
		return out, true, nil
	default:
		return nil, false, fmt.Errorf("%s must be an array of strings", key)
	}
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag, _ := stringArg(req, "tag")
	items, err := s.svc.ListNotes(ctx, tag)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(items), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.GetNote(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(note), nil
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, _ := stringArg(req, "content")
	tags, _, err := stringsArg(req, "tags")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.CreateNote(ctx, noteservice.CreateInput{Title: title, Content: content, Tags: tags})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", note.ID)), nil
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var in noteservice.UpdateInput
	if title, ok := stringArg(req, "title"); ok {
		in.Title = &title
	}
	if content, ok := stringArg(req, "content"); ok {
		in.Content = &content
	}
	if in.Tags, in.SetTags, err = stringsArg(req, "tags"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if in.Title == nil && in.Content == nil && !in.SetTags {
		return mcp.NewToolResultError("nothing to update: pass title, content or tags"), nil
	}
	ifMatch, _ := stringArg(req, "if_match")

	note, err := s.svc.UpdateNote(ctx, id, in, ifMatch)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(note), nil
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteNote(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) reorderNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, ok, err := stringsArg(req, "ids")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !ok || len(ids) == 0 {
		return mcp.NewToolResultError("ids is required"), nil
	}
	if err := s.svc.ReorderNotes(ctx, ids); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("reordered %d notes", len(ids))), nil
}

func (s *Server) listWindows(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.windows.List()), nil
}

func (s *Server) reconcileWindows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recreate, _ := req.GetArguments()["recreate_missing"].(bool)
	report, err := s.windows.Reconcile(ctx, windows.ReconcileOptions{RecreateMissing: recreate})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(report), nil
}

func (s *Server) getNoteContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      noteFormatURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}
