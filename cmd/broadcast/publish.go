package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/casualjim/broadcast"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var errNothingToPublish = errors.New("nothing to publish, pass messages or --set")

func newPublishCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <channel> [message]...",
		Short: "Publish messages to a channel",
		Long: `Publish every message argument to the channel. With --json each
message is decoded as JSON first. Every --set path=value pair is collected
into one JSON object that is published after the other messages.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			sets, _ := cmd.Flags().GetStringArray("set")
			if len(args) < 2 && len(sets) == 0 {
				return errNothingToPublish
			}

			messages := make([]any, 0, len(args))
			for _, msg := range args[1:] {
				if !asJSON {
					messages = append(messages, msg)
					continue
				}
				var v any
				if err := json.Unmarshal([]byte(msg), &v); err != nil {
					return fmt.Errorf("invalid json message %q: %w", msg, err)
				}
				messages = append(messages, v)
			}
			if len(sets) > 0 {
				obj, err := buildObject(sets)
				if err != nil {
					return err
				}
				messages = append(messages, obj)
			}

			ctx := cmd.Context()
			b, err := a.broker(ctx)
			if err != nil {
				return err
			}
			defer shutdown(b)

			ch, err := b.Channel(ctx, broadcast.Name(args[0]))
			if err != nil {
				return err
			}
			for _, msg := range messages {
				if err := ch.Publish(ctx, msg); err != nil {
					return fmt.Errorf("publish to %s: %w", ch, err)
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "published %d message(s) to %s\n", len(messages), ch)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Decode every message as JSON before publishing")
	cmd.Flags().StringArray("set", nil, "Set path=value on a JSON object message; valid JSON values are kept raw")
	return cmd
}

// buildObject folds path=value pairs into one decoded JSON object.
func buildObject(sets []string) (any, error) {
	doc := []byte("{}")
	for _, kv := range sets {
		path, value, ok := strings.Cut(kv, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("invalid --set %q, expected path=value", kv)
		}
		var err error
		if gjson.Valid(value) {
			doc, err = sjson.SetRawBytes(doc, path, []byte(value))
		} else {
			doc, err = sjson.SetBytes(doc, path, value)
		}
		if err != nil {
			return nil, fmt.Errorf("set %s: %w", path, err)
		}
	}

	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, err
	}
	return v, nil
}
