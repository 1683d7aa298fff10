package main

import (
	"fmt"
	"strings"
	"time"

	"chatsync/module/chat/reconcile"
	"chatsync/tools/ids"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <conversation> <text...>",
	Short: "Send one message and wait for the server to confirm it",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().Duration("wait", 10*time.Second, "how long to wait for the confirmation")
}

func runSend(cmd *cobra.Command, args []string) error {
	ref, err := parseRef(args[0])
	if err != nil {
		return err
	}
	text := strings.Join(args[1:], " ")
	wait, _ := cmd.Flags().GetDuration("wait")
	ctx := cmd.Context()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.sess.Start(ctx); err != nil {
		return err
	}
	c, err := a.sess.OpenConversation(ctx, ref)
	if err != nil {
		return err
	}

	// the confirmed copy replaces our provisional entry in place
	confirmed := make(chan int64, 1)
	c.Subscribe(func(d reconcile.Delta) {
		if d.Kind == reconcile.Replaced && ids.IsProvisional(d.OldID) && d.Message.Text == text {
			select {
			case confirmed <- d.Message.ID:
			default:
			}
		}
	})
	if _, err := c.Send(ctx, text, nil); err != nil {
		return err
	}

	select {
	case id := <-confirmed:
		fmt.Fprintf(cmd.OutOrStdout(), "sent as message %d\n", id)
		return nil
	case <-time.After(wait):
		return fmt.Errorf("no confirmation within %s (state %s)", wait, a.sess.State())
	case <-ctx.Done():
		return ctx.Err()
	}
}
