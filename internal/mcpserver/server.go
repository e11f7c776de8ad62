// Package mcpserver exposes marks to MCP clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pbaille/marks/internal/app"
	"github.com/pbaille/marks/internal/domain"
	"github.com/pbaille/marks/internal/store"
)

const name = "marks"

// Server wraps an MCP server whose tools work through the application state
type Server struct {
	app *app.App
	mcp *server.MCPServer
}

// New builds the server and registers every tool
func New(a *app.App, version string) *Server {
	s := &Server{
		app: a,
		mcp: server.NewMCPServer(name, version,
			server.WithLogging(),
			server.WithRecovery(),
		),
	}
	s.register()
	return s
}

// Start runs the stdio event loop until stdin closes
func (s *Server) Start() error {
	return server.ServeStdio(s.mcp)
}

// Raw exposes the underlying mcp-go server
func (s *Server) Raw() *server.MCPServer {
	return s.mcp
}

func (s *Server) register() {
	s.mcp.AddTool(mcp.NewTool("list_tags",
		mcp.WithDescription("Lists every tag with its count of live marks."),
	), s.listTags)

	s.mcp.AddTool(mcp.NewTool("list_marks",
		mcp.WithDescription("Lists the marks of a tag, newest first."),
		mcp.WithString("tag", mcp.Description("Tag name. Defaults to the active tag.")),
	), s.listMarks)

	s.mcp.AddTool(mcp.NewTool("search_marks",
		mcp.WithDescription("Searches mark content and descriptions."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Text to look for.")),
	), s.searchMarks)

	s.mcp.AddTool(mcp.NewTool("get_mark",
		mcp.WithDescription("Returns one mark by id."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Mark id.")),
	), s.getMark)

	s.mcp.AddTool(mcp.NewTool("add_text_mark",
		mcp.WithDescription("Captures a text note."),
		mcp.WithString("content", mcp.Required(), mcp.Description("The note text.")),
		mcp.WithString("tag", mcp.Description("Tag name. Created when missing; defaults to the active tag.")),
	), s.addText)

	s.mcp.AddTool(mcp.NewTool("add_link_mark",
		mcp.WithDescription("Fetches a web page and captures it as a link mark."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Page address. A missing scheme means https.")),
		mcp.WithString("tag", mcp.Description("Tag name. Created when missing; defaults to the active tag.")),
	), s.addLink)

	s.mcp.AddTool(mcp.NewTool("trash_mark",
		mcp.WithDescription("Moves a mark to the trash."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Mark id.")),
	), s.trashMark)
}

func (s *Server) listTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.app.Tags.List())
}

func (s *Server) listMarks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tagID := s.app.Tags.Active()
	if tag := stringArg(req, "tag"); tag != "" {
		t, err := s.app.Store.GetTagByName(ctx, tag)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Tag '%s': %v", tag, err)), nil
		}
		tagID = t.ID
	}
	marks, err := s.app.Store.ListMarks(ctx, tagID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list marks: %v", err)), nil
	}
	return jsonResult(nonNil(marks))
}

func (s *Server) searchMarks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := stringArg(req, "query")
	if query == "" {
		return mcp.NewToolResultError("'query' parameter is required and must be a non-empty string."), nil
	}
	marks, err := s.app.Store.SearchMarks(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Search failed: %v", err)), nil
	}
	return jsonResult(nonNil(marks))
}

func (s *Server) getMark(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := idArg(req)
	if !ok {
		return mcp.NewToolResultError("'id' parameter is required and must be a positive number."), nil
	}
	m, err := s.app.Store.GetMark(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Mark %d: %v", id, err)), nil
	}
	return jsonResult(m)
}

func (s *Server) addText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := stringArg(req, "content")
	if strings.TrimSpace(content) == "" {
		return mcp.NewToolResultError("'content' parameter is required and must be a non-empty string."), nil
	}
	tagID, err := s.tagArg(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := s.app.CaptureText(ctx, tagID, content)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to add mark: %v", err)), nil
	}
	return jsonResult(m)
}

func (s *Server) addLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	u := stringArg(req, "url")
	if strings.TrimSpace(u) == "" {
		return mcp.NewToolResultError("'url' parameter is required and must be a non-empty string."), nil
	}
	tagID, err := s.tagArg(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := s.app.CaptureLink(ctx, tagID, u)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to add link: %v", err)), nil
	}
	return jsonResult(m)
}

func (s *Server) trashMark(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := idArg(req)
	if !ok {
		return mcp.NewToolResultError("'id' parameter is required and must be a positive number."), nil
	}
	m, err := s.app.Marks.Trash(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to trash mark %d: %v", id, err)), nil
	}
	return jsonResult(m)
}

// tagArg resolves the optional tag name, creating the tag on first use.
// An absent name means the active tag.
func (s *Server) tagArg(ctx context.Context, req mcp.CallToolRequest) (int64, error) {
	tag := strings.TrimSpace(stringArg(req, "tag"))
	if tag == "" {
		return 0, nil
	}
	t, err := s.app.Store.GetTagByName(ctx, tag)
	if errors.Is(err, store.ErrTagNotFound) {
		t, err = s.app.Tags.Add(ctx, tag)
	}
	if err != nil {
		return 0, fmt.Errorf("tag '%s': %w", tag, err)
	}
	return t.ID, nil
}

func stringArg(req mcp.CallToolRequest, key string) string {
	v, _ := req.Params.Arguments[key].(string)
	return v
}

func idArg(req mcp.CallToolRequest) (int64, bool) {
	v, ok := req.Params.Arguments["id"].(float64)
	if !ok || v < 1 {
		return 0, false
	}
	return int64(v), true
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to serialize result to JSON: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func nonNil(marks []domain.Mark) []domain.Mark {
	if marks == nil {
		return []domain.Mark{}
	}
	return marks
}
