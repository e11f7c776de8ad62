package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func tagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage tags",
	}
	cmd.AddCommand(tagAddCmd(), tagListCmd(), tagRenameCmd(), tagPinCmd(), tagLockCmd(), tagRmCmd())
	return cmd
}

func tagAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add [name]",
		Short: "Create a tag",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			tag, err := a.Tags.Add(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Printf("Added tag %d: %s\n", tag.ID, tag.Name)
			return nil
		},
	}
}

func tagListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tags, pinned first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			active := a.Tags.Active()
			for _, t := range a.Tags.List() {
				flags := ""
				if t.IsPin {
					flags += "P"
				}
				if t.IsLocked {
					flags += "L"
				}
				marker := " "
				if t.ID == active {
					marker = "*"
				}
				fmt.Printf("%s %4d  %-2s %-24s %d\n", marker, t.ID, flags, t.Name, t.Total)
			}
			return nil
		},
	}
}

func tagRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename [tag] [name]",
		Short: "Rename a tag",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			id, err := resolveTag(ctx, a, args[0])
			if err != nil {
				return err
			}
			tag, err := a.Tags.Rename(ctx, id, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Printf("Renamed tag %d to %s\n", tag.ID, tag.Name)
			return nil
		},
	}
}

func tagPinCmd() *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "pin [tag]",
		Short: "Pin a tag to the top of the list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			id, err := resolveTag(ctx, a, args[0])
			if err != nil {
				return err
			}
			tag, err := a.Tags.SetPin(ctx, id, !off)
			if err != nil {
				return err
			}
			fmt.Printf("%s pinned: %t\n", tag.Name, tag.IsPin)
			return nil
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "unpin instead")
	return cmd
}

func tagLockCmd() *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "lock [tag]",
		Short: "Lock a tag against rename and deletion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			id, err := resolveTag(ctx, a, args[0])
			if err != nil {
				return err
			}
			tag, err := a.Tags.SetLock(ctx, id, !off)
			if err != nil {
				return err
			}
			fmt.Printf("%s locked: %t\n", tag.Name, tag.IsLocked)
			return nil
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "unlock instead")
	return cmd
}

func tagRmCmd() *cobra.Command {
	var moveTo string
	cmd := &cobra.Command{
		Use:   "rm [tag]",
		Short: "Delete a tag",
		Long:  "Delete a tag. A tag that still owns marks needs --move-to.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			id, err := resolveTag(ctx, a, args[0])
			if err != nil {
				return err
			}
			var target int64
			if moveTo != "" {
				if target, err = resolveTag(ctx, a, moveTo); err != nil {
					return err
				}
			}
			if err := a.Tags.Delete(ctx, id, target); err != nil {
				return err
			}
			fmt.Printf("Deleted tag %d\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&moveTo, "move-to", "", "tag receiving the deleted tag's marks")
	return cmd
}
