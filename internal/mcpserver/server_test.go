package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pbaille/marks/internal/app"
	"github.com/pbaille/marks/internal/capture"
	"github.com/pbaille/marks/internal/config"
	"github.com/pbaille/marks/internal/domain"
	"github.com/pbaille/marks/internal/enrich"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, rawURL string) (*capture.Page, error) {
	u, err := capture.NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	page, err := capture.ParsePage(strings.NewReader("<title>Go</title><body>gophers</body>"), 0)
	if err != nil {
		return nil, err
	}
	page.URL = u
	return page, nil
}

func setup(t *testing.T) (*Server, *app.App) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	e, err := enrich.New(enrich.ModeOCR, nil)
	if err != nil {
		t.Fatal(err)
	}
	a, err := app.New(context.Background(), cfg, nil, app.WithEnricher(e), app.WithFetcher(stubFetcher{}))
	if err != nil {
		t.Fatalf("app.New failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return New(a, "test"), a
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	}
	t.Fatalf("unexpected content %T", res.Content[0])
	return ""
}

func TestAddTextMarkCreatesTag(t *testing.T) {
	s, a := setup(t)
	ctx := context.Background()

	res, err := s.addText(ctx, call(map[string]any{"content": "from an agent", "tag": "agents"}))
	if err != nil || res.IsError {
		t.Fatalf("add_text_mark failed: %v %s", err, text(t, res))
	}
	var m domain.Mark
	if err := json.Unmarshal([]byte(text(t, res)), &m); err != nil {
		t.Fatal(err)
	}
	tag, err := a.Store.GetTagByName(ctx, "agents")
	if err != nil {
		t.Fatalf("tag not created: %v", err)
	}
	if m.TagID != tag.ID || m.Content != "from an agent" {
		t.Errorf("unexpected mark: %+v", m)
	}
	if cached, ok := a.Tags.Get(tag.ID); !ok || cached.Total != 1 {
		t.Errorf("tag cache not updated: %+v", cached)
	}

	res, _ = s.addText(ctx, call(map[string]any{}))
	if !res.IsError {
		t.Error("missing content should be a tool error")
	}
}

func TestListAndSearchMarks(t *testing.T) {
	s, a := setup(t)
	ctx := context.Background()
	a.CaptureText(ctx, 0, "alpha note")
	a.CaptureText(ctx, 0, "beta note")

	res, _ := s.listMarks(ctx, call(nil))
	var marks []domain.Mark
	json.Unmarshal([]byte(text(t, res)), &marks)
	if len(marks) != 2 {
		t.Errorf("expected 2 marks in the active tag, got %d", len(marks))
	}

	res, _ = s.searchMarks(ctx, call(map[string]any{"query": "beta"}))
	marks = nil
	json.Unmarshal([]byte(text(t, res)), &marks)
	if len(marks) != 1 || marks[0].Content != "beta note" {
		t.Errorf("unexpected search result: %+v", marks)
	}

	res, _ = s.listMarks(ctx, call(map[string]any{"tag": "nope"}))
	if !res.IsError {
		t.Error("unknown tag should be a tool error")
	}

	res, _ = s.listTags(ctx, call(nil))
	if !strings.Contains(text(t, res), `"name":"inbox"`) {
		t.Errorf("list_tags missing default tag: %s", text(t, res))
	}
}

func TestAddLinkAndTrash(t *testing.T) {
	s, a := setup(t)
	ctx := context.Background()

	res, err := s.addLink(ctx, call(map[string]any{"url": "go.dev"}))
	if err != nil || res.IsError {
		t.Fatalf("add_link_mark failed: %v %s", err, text(t, res))
	}
	var m domain.Mark
	json.Unmarshal([]byte(text(t, res)), &m)
	if m.Type != domain.MarkLink || m.URL != "https://go.dev" {
		t.Errorf("unexpected link mark: %+v", m)
	}

	res, _ = s.getMark(ctx, call(map[string]any{"id": float64(m.ID)}))
	if res.IsError {
		t.Fatalf("get_mark failed: %s", text(t, res))
	}

	res, _ = s.trashMark(ctx, call(map[string]any{"id": float64(m.ID)}))
	if res.IsError {
		t.Fatalf("trash_mark failed: %s", text(t, res))
	}
	if len(a.Marks.List()) != 0 {
		t.Error("trashed mark still in the active view")
	}

	res, _ = s.getMark(ctx, call(map[string]any{"id": "x"}))
	if !res.IsError {
		t.Error("non-numeric id should be a tool error")
	}
}
