package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/casualjim/broadcast"
	"github.com/casualjim/broadcast/pkg/slogx"
	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/k0kubun/pp/v3"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

type event struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

func newSubscribeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe <channel>...",
		Short: "Print the events of one or more channels as JSON lines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt64("count")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			path, _ := cmd.Flags().GetString("path")
			pretty, _ := cmd.Flags().GetBool("pretty")

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			ctx, stop := context.WithCancel(ctx)
			defer stop()

			b, err := a.broker(ctx)
			if err != nil {
				return err
			}
			defer shutdown(b)

			var (
				mu   sync.Mutex
				errs []error
				seen atomic.Int64
				wg   conc.WaitGroup
			)
			write := jsonLines(cmd.OutOrStdout())
			if pretty {
				write = prettyPrint(cmd.OutOrStdout())
			}
			for _, name := range args {
				wg.Go(func() {
					log := slog.Default().With(slogx.Channel(name))
					log.Info("subscribed")
					for data, err := range b.All(ctx, broadcast.Name(name)) {
						if err != nil {
							if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
								log.Error("subscription failed", slogx.Error(err))
								mu.Lock()
								errs = append(errs, err)
								mu.Unlock()
							}
							return
						}
						if path != "" {
							var found bool
							if data, found = project(data, path); !found {
								continue
							}
						}
						mu.Lock()
						write(event{Channel: name, Data: data})
						mu.Unlock()
						if count > 0 && seen.Add(1) >= count {
							stop()
							return
						}
					}
				})
			}
			wg.Wait()
			return errors.Join(errs...)
		},
	}
	cmd.Flags().Int64("count", 0, "Stop after N events across all channels (0 = unlimited)")
	cmd.Flags().Duration("timeout", 0, "Stop after this long (0 = until interrupted)")
	cmd.Flags().String("path", "", "Print only this gjson path of every event and skip events without it")
	cmd.Flags().Bool("pretty", false, "Pretty print events instead of JSON lines")
	return cmd
}

func jsonLines(w io.Writer) func(event) {
	enc := json.NewEncoder(w)
	return func(e event) { _ = enc.Encode(e) }
}

func prettyPrint(w io.Writer) func(event) {
	p := pp.New()
	p.SetOutput(w)
	p.SetColoringEnabled(!color.NoColor)
	return func(e event) { _, _ = p.Println(e) }
}

// project extracts path from the JSON form of data.
func project(data any, path string) (any, bool) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}
