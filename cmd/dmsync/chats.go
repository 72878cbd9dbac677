package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/adi-253/dmsync/internal/chatlist"
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List conversations with presence and lock markers",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		if err := a.restore(ctx); err != nil {
			return err
		}
		list := chatlist.New(a.api, a.sync)
		defer list.Close()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return list.Refresh(gctx) })
		g.Go(func() error { return a.waitPresence(gctx, 2*time.Second) })
		if err := g.Wait(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		entries := list.Entries()
		if len(entries) == 0 {
			fmt.Fprintln(out, "No chats yet. Use `dmsync users` and `dmsync start <userId>`.")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintln(out, formatChatRow(e, a.presence.IsOnline))
		}
		return nil
	}),
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users you can start a chat with",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		if err := a.restore(ctx); err != nil {
			return err
		}
		list := chatlist.New(a.api, a.sync)
		defer list.Close()

		users, err := list.Users(ctx)
		if err != nil {
			return err
		}
		if err := a.waitPresence(ctx, 2*time.Second); err != nil {
			return err
		}
		for _, u := range users {
			marker := " "
			if a.presence.IsOnline(u.ID) {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s  %s <%s>\n", marker, u.ID, displayName(u), u.Email)
		}
		return nil
	}),
}

var startCmd = &cobra.Command{
	Use:   "start <userId>",
	Short: "Start (or find) the chat with a user",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		if err := a.restore(ctx); err != nil {
			return err
		}
		list := chatlist.New(a.api, a.sync)
		defer list.Close()

		chatID, err := list.StartChat(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Chat %s ready. Open it with `dmsync open %s`.\n", chatID, chatID)
		return nil
	}),
}
