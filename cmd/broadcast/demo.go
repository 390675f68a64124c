package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/casualjim/broadcast"
	"github.com/casualjim/broadcast/stream"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const demoObservers = 2

var labels = []*color.Color{
	color.New(color.FgCyan, color.Bold),
	color.New(color.FgMagenta, color.Bold),
}

func newDemoCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Publish to a channel observed by two in-process subscribers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("channel")
			messages, _ := cmd.Flags().GetInt("messages")
			interval, _ := cmd.Flags().GetDuration("interval")
			if messages <= 0 {
				return fmt.Errorf("invalid --messages %d; must be positive", messages)
			}

			ctx := cmd.Context()
			b, err := a.broker(ctx)
			if err != nil {
				return err
			}
			defer shutdown(b)

			ch, err := b.Channel(ctx, broadcast.Name(name))
			if err != nil {
				return err
			}

			var mu sync.Mutex
			out := cmd.OutOrStdout()
			printf := func(format string, args ...any) {
				mu.Lock()
				defer mu.Unlock()
				_, _ = fmt.Fprintf(out, format, args...)
			}

			var remaining atomic.Int64
			remaining.Store(int64(demoObservers * messages))
			done := make(chan struct{})

			subs := make([]stream.Subscription, 0, demoObservers)
			defer func() {
				for _, sub := range subs {
					sub.Unsubscribe()
				}
			}()
			for i := range demoObservers {
				observer := labels[i%len(labels)].Sprintf("observer-%d", i+1)
				sub, err := ch.Subscribe(ctx, func(_ context.Context, data any) {
					printf("%s received %v on %s\n", observer, data, ch)
					if remaining.Add(-1) == 0 {
						close(done)
					}
				})
				if err != nil {
					return err
				}
				subs = append(subs, sub)
			}

			for i := range messages {
				if err := ch.Publish(ctx, fmt.Sprintf("message %d", i+1)); err != nil {
					return err
				}
				if interval > 0 && i < messages-1 {
					select {
					case <-time.After(interval):
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}

			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			stats := b.Stats()
			printf("channels=%d subscriptions=%d upstreams=%d\n", stats.Channels, stats.Subscriptions, stats.Upstreams)
			return nil
		},
	}
	cmd.Flags().String("channel", "demo", "Channel name")
	cmd.Flags().Int("messages", 5, "Number of messages to publish")
	cmd.Flags().Duration("interval", 100*time.Millisecond, "Delay between messages")
	return cmd
}
