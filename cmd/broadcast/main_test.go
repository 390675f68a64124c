package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/casualjim/broadcast/internal/config"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe to read while a command writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func run(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var out, errOut syncBuffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestDemo(t *testing.T) {
	t.Chdir(t.TempDir())
	noColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = noColor })

	out, err := run(t, context.Background(), "demo", "--transport", "local", "--messages", "3", "--interval", "1ms")
	require.NoError(t, err)
	for _, observer := range []string{"observer-1", "observer-2"} {
		for _, msg := range []string{"message 1", "message 2", "message 3"} {
			assert.Contains(t, out, observer+" received "+msg+" on demo")
		}
	}
	assert.Contains(t, out, "channels=1 subscriptions=2 upstreams=1")

	_, err = run(t, context.Background(), "demo", "--transport", "local", "--messages", "0")
	require.Error(t, err)
}

func TestUnknownTransport(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := run(t, context.Background(), "demo", "--transport", "carrier-pigeon")
	require.ErrorIs(t, err, config.ErrUnknownTransport)
}

func TestPublish(t *testing.T) {
	t.Chdir(t.TempDir())
	ctx := context.Background()

	t.Run("requires a message", func(t *testing.T) {
		_, err := run(t, ctx, "publish", "--transport", "local", "news")
		require.ErrorIs(t, err, errNothingToPublish)
		_, err = run(t, ctx, "publish")
		require.Error(t, err)
	})

	t.Run("set builds an object message", func(t *testing.T) {
		out, err := run(t, ctx, "publish", "--transport", "local", "news", "--set", "user.name=bob", "--set", "n=1")
		require.NoError(t, err)
		assert.Equal(t, "published 1 message(s) to news\n", out)
	})

	t.Run("local", func(t *testing.T) {
		out, err := run(t, ctx, "publish", "--transport", "local", "news", "a", "b")
		require.NoError(t, err)
		assert.Equal(t, "published 2 message(s) to news\n", out)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := run(t, ctx, "publish", "--transport", "local", "--json", "news", "{nope")
		require.Error(t, err)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		t.Setenv("BROADCAST_REDIS_ADDR", mr.Addr())

		out, err := run(t, ctx, "publish", "--transport", "redis", "--json", "news", `{"n":1}`)
		require.NoError(t, err)
		assert.Contains(t, out, "published 1 message(s)")
	})
}

func TestSubscribe(t *testing.T) {
	t.Chdir(t.TempDir())
	ctx := context.Background()

	t.Run("times out quietly", func(t *testing.T) {
		out, err := run(t, ctx, "subscribe", "--transport", "local", "--timeout", "20ms", "quiet")
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("prints events from redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		t.Setenv("BROADCAST_REDIS_ADDR", mr.Addr())

		type result struct {
			out string
			err error
		}
		done := make(chan result, 1)
		go func() {
			out, err := run(t, ctx, "subscribe", "--transport", "redis", "--count", "2", "--timeout", "10s", "news")
			done <- result{out, err}
		}()

		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.After(10 * time.Second)
		for {
			select {
			case r := <-done:
				require.NoError(t, r.err)
				lines := strings.Split(strings.TrimSpace(r.out), "\n")
				require.Len(t, lines, 2)
				for _, line := range lines {
					assert.JSONEq(t, `{"channel":"news","data":"hello"}`, line)
				}
				return
			case <-ticker.C:
				mr.Publish("news", `"hello"`)
			case <-deadline:
				t.Fatal("subscribe did not finish")
			}
		}
	})
}

func TestBuildObject(t *testing.T) {
	got, err := buildObject([]string{"user.name=bob", "n=1", `tags=["a"]`, "ok=true"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"user": map[string]any{"name": "bob"},
		"n":    float64(1),
		"tags": []any{"a"},
		"ok":   true,
	}, got)

	_, err = buildObject([]string{"novalue"})
	require.Error(t, err)
	_, err = buildObject([]string{"=1"})
	require.Error(t, err)
}

func TestProject(t *testing.T) {
	data := map[string]any{"order": map[string]any{"id": "42", "lines": []any{1, 2}}}

	v, ok := project(data, "order.id")
	require.True(t, ok)
	assert.Equal(t, "42", v)

	v, ok = project(data, "order.lines.#")
	require.True(t, ok)
	assert.Equal(t, float64(2), v)

	_, ok = project(data, "order.missing")
	assert.False(t, ok)
	_, ok = project("plain", "order")
	assert.False(t, ok)
}

func TestPrettyPrint(t *testing.T) {
	var buf bytes.Buffer
	prettyPrint(&buf)(event{Channel: "news", Data: "hello"})
	assert.Contains(t, buf.String(), "news")
	assert.Contains(t, buf.String(), "hello")
}
