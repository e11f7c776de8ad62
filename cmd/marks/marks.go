package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pbaille/marks/internal/app"
	"github.com/pbaille/marks/internal/domain"
	"github.com/pbaille/marks/internal/store"
)

func markCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mark",
		Short: "Capture and manage marks",
	}
	cmd.AddCommand(
		markTextCmd(), markLinkCmd(), markFileCmd(), markImageCmd(), markScanCmd(), markClipboardCmd(),
		markListCmd(), markTrashCmd(), markShowCmd(), markSearchCmd(), markEditCmd(), markMoveCmd(),
		markRmCmd(), markRestoreCmd(), markPurgeCmd(), markClearTrashCmd(),
	)
	return cmd
}

// captureCmd builds a capture subcommand writing into --tag
func captureCmd(use, short string, args cobra.PositionalArgs, run func(ctx context.Context, a *app.App, tagID int64, args []string) (domain.Mark, error)) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			tagID, err := resolveTag(ctx, a, tag)
			if err != nil {
				return err
			}
			m, err := run(ctx, a, tagID, args)
			if err != nil {
				return err
			}
			printCaptured(m)
			return nil
		},
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "tag id or name (default: the active tag)")
	return cmd
}

func printCaptured(m domain.Mark) {
	fmt.Printf("Added %s mark %d\n", m.Type, m.ID)
	if m.Desc != "" {
		fmt.Printf("Desc: %s\n", truncate(m.Desc, 80))
	}
	if m.URL != "" {
		fmt.Printf("URL:  %s\n", m.URL)
	}
}

func markTextCmd() *cobra.Command {
	return captureCmd("text [content]", "Capture a text note", cobra.MinimumNArgs(1),
		func(ctx context.Context, a *app.App, tagID int64, args []string) (domain.Mark, error) {
			return a.CaptureText(ctx, tagID, strings.Join(args, " "))
		})
}

func markLinkCmd() *cobra.Command {
	return captureCmd("link [url]", "Fetch a web page and capture it", cobra.ExactArgs(1),
		func(ctx context.Context, a *app.App, tagID int64, args []string) (domain.Mark, error) {
			return a.CaptureLink(ctx, tagID, args[0])
		})
}

func markFileCmd() *cobra.Command {
	return captureCmd("file [path]", "Capture a text or image file", cobra.ExactArgs(1),
		func(ctx context.Context, a *app.App, tagID int64, args []string) (domain.Mark, error) {
			return a.CaptureFile(ctx, tagID, args[0])
		})
}

func markImageCmd() *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "image [paths...]",
		Short: "Capture one or more image files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			tagID, err := resolveTag(ctx, a, tag)
			if err != nil {
				return err
			}
			marks, err := a.CaptureImages(ctx, tagID, args)
			for _, m := range marks {
				printCaptured(m)
			}
			if err != nil {
				fmt.Printf("%d of %d images failed\n", len(args)-len(marks), len(args))
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "tag id or name (default: the active tag)")
	return cmd
}

func markScanCmd() *cobra.Command {
	var (
		tag   string
		frame int
		rect  string
	)
	cmd := &cobra.Command{
		Use:   "scan [frames...]",
		Short: "Crop a region of a captured screen into a scan mark",
		Long:  "Crop a region of one of the given screen frame images. An empty --rect keeps the whole frame.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRect(rect)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			tagID, err := resolveTag(ctx, a, tag)
			if err != nil {
				return err
			}
			m, err := a.CaptureScreenshot(ctx, tagID, args, frame, r)
			if err != nil {
				return err
			}
			printCaptured(m)
			return nil
		},
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "tag id or name (default: the active tag)")
	cmd.Flags().IntVar(&frame, "frame", 0, "index of the frame to crop")
	cmd.Flags().StringVar(&rect, "rect", "", "crop rectangle as x0,y0,x1,y1")
	return cmd
}

func parseRect(s string) (image.Rectangle, error) {
	if s == "" {
		return image.Rectangle{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("invalid rect %q: want x0,y0,x1,y1", s)
	}
	var n [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("invalid rect %q: %w", s, err)
		}
		n[i] = v
	}
	return image.Rect(n[0], n[1], n[2], n[3]), nil
}

func markClipboardCmd() *cobra.Command {
	var (
		tag string
		yes bool
	)
	cmd := &cobra.Command{
		Use:   "clipboard",
		Short: "Capture the clipboard after confirmation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			tagID, err := resolveTag(ctx, a, tag)
			if err != nil {
				return err
			}
			cb, err := a.Clipboard()
			if err != nil {
				return err
			}
			item, err := cb.Snapshot()
			if err != nil {
				return err
			}
			if item == nil {
				fmt.Println("Clipboard unchanged.")
				return nil
			}
			if item.IsImage() {
				fmt.Printf("Clipboard holds an image (%s)\n", item.ImagePath)
			} else {
				fmt.Printf("Clipboard: %s\n", truncate(item.Text, 80))
			}

			if !yes && !confirm("Save it?") {
				cb.Cancel()
				fmt.Println("Cancelled.")
				return nil
			}
			item, err = cb.Confirm()
			if err != nil {
				return err
			}
			m, err := a.CaptureClipboard(ctx, tagID, item)
			if err != nil {
				return err
			}
			printCaptured(m)
			return nil
		},
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "tag id or name (default: the active tag)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "save without asking")
	return cmd
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func printMarks(marks []domain.Mark) {
	if len(marks) == 0 {
		fmt.Println("No marks.")
		return
	}
	for _, m := range marks {
		fmt.Printf("%5d  %-5s  %s\n", m.ID, m.Type, truncate(m.Desc, 60))
	}
}

func markListCmd() *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the marks of a tag, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			tagID, err := resolveTag(ctx, a, tag)
			if err != nil {
				return err
			}
			marks, err := a.Store.ListMarks(ctx, tagID)
			if err != nil {
				return err
			}
			printMarks(marks)
			return nil
		},
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "tag id or name (default: the active tag)")
	return cmd
}

func markTrashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trash",
		Short: "List trashed marks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			marks, err := a.Store.ListTrash(ctx)
			if err != nil {
				return err
			}
			printMarks(marks)
			return nil
		},
	}
}

func markShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show mark details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			m, err := a.Store.GetMark(ctx, id)
			if err != nil {
				return err
			}
			tagName := strconv.FormatInt(m.TagID, 10)
			if t, ok := a.Tags.Get(m.TagID); ok {
				tagName = t.Name
			}

			fmt.Printf("ID:      %d\n", m.ID)
			fmt.Printf("Type:    %s\n", m.Type)
			fmt.Printf("Tag:     %s\n", tagName)
			fmt.Printf("Created: %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"))
			if m.Deleted {
				fmt.Println("Trashed: yes")
			}
			if m.Type.HasAsset() {
				if asset, err := a.Pipeline.ResolveAsset(m); err == nil {
					fmt.Printf("Asset:   %s\n", asset.Path)
				} else {
					fmt.Printf("Asset:   missing (%v)\n", err)
				}
			} else if m.URL != "" {
				fmt.Printf("URL:     %s\n", m.URL)
			}
			fmt.Printf("Desc:    %s\n", m.Desc)
			fmt.Printf("Content:\n%s\n", m.Content)
			return nil
		},
	}
}

func markSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Search mark content and descriptions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			marks, err := a.Store.SearchMarks(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			printMarks(marks)
			return nil
		},
	}
}

func markEditCmd() *cobra.Command {
	var content, desc, url string
	cmd := &cobra.Command{
		Use:   "edit [id]",
		Short: "Edit a mark's content, description or url",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var u store.MarkUpdate
			if cmd.Flags().Changed("content") {
				u.Content = &content
			}
			if cmd.Flags().Changed("desc") {
				u.Desc = &desc
			}
			if cmd.Flags().Changed("url") {
				u.URL = &url
			}
			if u.Content == nil && u.Desc == nil && u.URL == nil {
				return errors.New("nothing to edit: pass --content, --desc or --url")
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			m, err := a.Marks.Update(ctx, id, u)
			if err != nil {
				return err
			}
			fmt.Printf("Updated mark %d\n", m.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "new content")
	cmd.Flags().StringVar(&desc, "desc", "", "new description")
	cmd.Flags().StringVar(&url, "url", "", "new url")
	return cmd
}

func markMoveCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "move [ids...]",
		Short: "Move marks to another tag",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			tagID, err := resolveTag(ctx, a, to)
			if err != nil {
				return err
			}
			moved, err := a.Store.MoveMarks(ctx, ids, tagID)
			if err != nil {
				return err
			}
			fmt.Printf("Moved %d marks\n", len(moved))
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target tag id or name")
	cmd.MarkFlagRequired("to")
	return cmd
}

// eachMark runs fn for every id argument, reporting each outcome
func eachMark(verb string, fn func(ctx context.Context, a *app.App, id int64) (domain.Mark, error)) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer closeApp(a)

		var errs []error
		for _, id := range ids {
			if _, err := fn(ctx, a, id); err != nil {
				errs = append(errs, fmt.Errorf("mark %d: %w", id, err))
				continue
			}
			fmt.Printf("%s mark %d\n", verb, id)
		}
		return errors.Join(errs...)
	}
}

func markRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm [ids...]",
		Short: "Move marks to the trash",
		Args:  cobra.MinimumNArgs(1),
		RunE: eachMark("Trashed", func(ctx context.Context, a *app.App, id int64) (domain.Mark, error) {
			return a.Marks.Trash(ctx, id)
		}),
	}
}

func markRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore [ids...]",
		Short: "Restore trashed marks",
		Args:  cobra.MinimumNArgs(1),
		RunE: eachMark("Restored", func(ctx context.Context, a *app.App, id int64) (domain.Mark, error) {
			return a.Marks.Restore(ctx, id)
		}),
	}
}

func markPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge [ids...]",
		Short: "Delete marks and their images for good",
		Args:  cobra.MinimumNArgs(1),
		RunE: eachMark("Deleted", func(ctx context.Context, a *app.App, id int64) (domain.Mark, error) {
			return a.Marks.DeleteForever(ctx, id)
		}),
	}
}

func markClearTrashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-trash",
		Short: "Delete every trashed mark for good",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			removed, err := a.Marks.ClearTrash(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d marks\n", len(removed))
			return nil
		},
	}
}
