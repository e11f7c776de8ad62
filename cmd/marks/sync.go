package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pbaille/marks/internal/app"
	"github.com/pbaille/marks/internal/domain"
	"github.com/pbaille/marks/internal/remote"
)

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Record and list chat messages of a tag",
	}
	cmd.AddCommand(chatAddCmd(), chatListCmd())
	return cmd
}

func chatAddCmd() *cobra.Command {
	var tag, typ string
	cmd := &cobra.Command{
		Use:   "add [role] [content]",
		Short: "Record a chat message",
		Args:  cobra.MinimumNArgs(2),
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
			c, err := a.Store.InsertChat(ctx, tagID, args[0], typ, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Printf("Added chat message %d\n", c.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "tag id or name (default: the active tag)")
	cmd.Flags().StringVar(&typ, "type", "chat", "message type")
	return cmd
}

func chatListCmd() *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the chat messages of a tag",
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
			chats, err := a.Store.ListChats(ctx, tagID)
			if err != nil {
				return err
			}
			if len(chats) == 0 {
				fmt.Println("No messages.")
				return nil
			}
			for _, c := range chats {
				printChat(c)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "tag id or name (default: the active tag)")
	return cmd
}

func printChat(c domain.Chat) {
	fmt.Printf("%s  %-9s %s\n", c.CreatedAt.Format("2006-01-02 15:04"), c.Role, truncate(c.Content, 60))
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync tags, marks and chats with a git hosting backend",
	}
	cmd.AddCommand(
		syncRunCmd("upload", "Push local data to the backend", (*app.App).Upload),
		syncRunCmd("download", "Replace local data with the backend copy", (*app.App).Download),
		syncStatusCmd(),
	)
	return cmd
}

func syncRunCmd(use, short string, run func(*app.App, context.Context, string) (remote.Report, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [backend]",
		Short: short,
		Long:  short + ". The backend is github, gitee or gitlab and defaults to sync.backend in the config.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			var backend string
			if len(args) > 0 {
				backend = args[0]
			}
			report, err := run(a, ctx, backend)
			if err != nil {
				return err
			}
			printReport(report)
			if !report.OK() {
				return errors.New(report.Message())
			}
			return nil
		},
	}
}

func printReport(r remote.Report) {
	for _, res := range r.Results {
		status := "ok"
		if !res.OK {
			status = "failed: " + res.Error
		}
		fmt.Printf("  %-6s %s\n", res.Category, status)
	}
	fmt.Printf("%s sync %s\n", r.Backend, r.Message())
}

func syncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [backend]",
		Short: "Check the backend account and repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			var backend string
			if len(args) > 0 {
				backend = args[0]
			}
			c, err := a.CheckSync(ctx, backend)
			if err != nil {
				return err
			}
			fmt.Printf("Backend: %s\n", c.Backend)
			fmt.Printf("Status:  %s\n", c.Status)
			if c.User != nil {
				fmt.Printf("User:    %s\n", c.User.Login)
			}
			fmt.Printf("Repo:    %s (exists: %t)\n", c.Repo, c.RepoExists)
			if c.Error != "" {
				fmt.Printf("Error:   %s\n", c.Error)
			}
			return nil
		},
	}
}
