package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"chatsync/module/chat/ephemeral"
	"chatsync/module/chat/model"
	"chatsync/module/chat/reconcile"
	"chatsync/service/transport"

	"github.com/spf13/cobra"
)

var tailCmd = &cobra.Command{
	Use:   "tail <conversation>",
	Short: "Open a conversation and print its messages as they change",
	Args:  cobra.ExactArgs(1),
	RunE:  runTail,
}

func init() {
	tailCmd.Flags().Int("older", 0, "older pages to load after the newest one")
}

func runTail(cmd *cobra.Command, args []string) error {
	ref, err := parseRef(args[0])
	if err != nil {
		return err
	}
	older, _ := cmd.Flags().GetInt("older")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	a.sess.OnStateChange(func(s transport.Status) { fmt.Fprintf(out, "-- %s\n", s) })
	a.sess.OnTeardown(func(id int64) {
		fmt.Fprintf(out, "-- removed from conversation %d\n", id)
		stop()
	})
	if err := a.sess.Start(ctx); err != nil {
		return err
	}

	c, err := a.sess.OpenConversation(ctx, ref)
	if err != nil {
		return err
	}
	for i := 0; i < older; i++ {
		res, err := c.LoadOlder(ctx)
		if err != nil {
			return err
		}
		if res.Exhausted {
			break
		}
	}
	for _, m := range c.Messages() {
		fmt.Fprintln(out, formatMessage(m))
	}

	c.Subscribe(func(d reconcile.Delta) {
		switch d.Kind {
		case reconcile.Inserted, reconcile.Replaced, reconcile.Updated:
			fmt.Fprintf(out, "%s %s\n", d.Kind, formatMessage(d.Message))
		case reconcile.Reset:
			fmt.Fprintf(out, "-- history reloaded, %d messages\n", len(c.Messages()))
		}
	})
	c.OnTyping(func(ts []ephemeral.Typer) {
		if len(ts) == 0 {
			return
		}
		names := make([]string, 0, len(ts))
		for _, t := range ts {
			names = append(names, t.Username)
		}
		fmt.Fprintf(out, "-- %s typing\n", strings.Join(names, ", "))
	})
	if err := c.MarkRead(ctx); err != nil {
		a.log.Sugar().Warnf("mark read: %v", err)
	}

	<-ctx.Done()
	return nil
}

func formatMessage(m model.Message) string {
	var flags []string
	if m.Pending {
		flags = append(flags, "pending")
	}
	if m.Flags.Edited {
		flags = append(flags, "edited")
	}
	if m.ReadByRecipient {
		flags = append(flags, "read")
	}
	suffix := ""
	if len(flags) > 0 {
		suffix = " (" + strings.Join(flags, ",") + ")"
	}
	return fmt.Sprintf("[%d %s] %s: %s%s", m.ID, m.SentAt.Local().Format("15:04:05"), m.AuthorName, m.Text, suffix)
}
