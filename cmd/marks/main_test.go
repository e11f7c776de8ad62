package main

import (
	"context"
	"errors"
	"image"
	"strconv"
	"testing"

	"github.com/pbaille/marks/internal/app"
	"github.com/pbaille/marks/internal/config"
	"github.com/pbaille/marks/internal/enrich"
	"github.com/pbaille/marks/internal/store"
)

func TestParseRect(t *testing.T) {
	tests := []struct {
		in      string
		want    image.Rectangle
		wantErr bool
	}{
		{in: "", want: image.Rectangle{}},
		{in: "10,20,110,220", want: image.Rect(10, 20, 110, 220)},
		{in: " 0, 0, 5, 5", want: image.Rect(0, 0, 5, 5)},
		{in: "1,2,3", wantErr: true},
		{in: "a,b,c,d", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseRect(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseRect(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseRect(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate("line one\nline two", 11); got != "line one..." {
		t.Errorf("got %q", got)
	}
	if got := truncate("ééééééé", 6); got != "ééé..." {
		t.Errorf("truncate must cut on runes, got %q", got)
	}
}

func TestResolveTag(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	e, _ := enrich.New(enrich.ModeOCR, nil)
	ctx := context.Background()
	a, err := app.New(ctx, cfg, nil, app.WithEnricher(e))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	work, _ := a.Tags.Add(ctx, "work")

	if id, _ := resolveTag(ctx, a, ""); id != a.Tags.Active() {
		t.Errorf("empty ref should resolve to the active tag")
	}
	if id, _ := resolveTag(ctx, a, "work"); id != work.ID {
		t.Errorf("name lookup: got %d, want %d", id, work.ID)
	}
	if id, _ := resolveTag(ctx, a, strconv.FormatInt(work.ID, 10)); id != work.ID {
		t.Errorf("id lookup: got %d, want %d", id, work.ID)
	}
	if _, err := resolveTag(ctx, a, "missing"); !errors.Is(err, store.ErrTagNotFound) {
		t.Errorf("expected ErrTagNotFound, got %v", err)
	}
}
