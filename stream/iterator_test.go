package stream

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterator(t *testing.T) {
	ctx := context.Background()

	t.Run("buffers events until pulled", func(t *testing.T) {
		var m manual[int]
		it, err := Iterate(ctx, m.stream())
		require.NoError(t, err)
		defer it.Close()

		for i := range 3 {
			m.emit(ctx, i)
		}
		for i := range 3 {
			v, err := it.Next(ctx)
			require.NoError(t, err)
			assert.Equal(t, i, v)
		}
	})

	t.Run("blocks until an event arrives", func(t *testing.T) {
		var m manual[int]
		it, err := Iterate(ctx, m.stream())
		require.NoError(t, err)
		defer it.Close()

		go func() {
			time.Sleep(20 * time.Millisecond)
			m.emit(ctx, 9)
		}()
		v, err := it.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, 9, v)
	})

	t.Run("completion drains then reports completed", func(t *testing.T) {
		var m manual[int]
		it, err := Iterate(ctx, m.stream())
		require.NoError(t, err)

		m.emit(ctx, 1)
		m.complete(ctx)

		v, err := it.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, v)
		_, err = it.Next(ctx)
		assert.ErrorIs(t, err, ErrCompleted)
	})

	t.Run("stream error is returned", func(t *testing.T) {
		boom := errors.New("boom")
		it, err := Iterate(ctx, Fail[int](boom))
		require.NoError(t, err)
		_, err = it.Next(ctx)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("context cancellation abandons a pending next", func(t *testing.T) {
		var m manual[int]
		it, err := Iterate(ctx, m.stream())
		require.NoError(t, err)
		defer it.Close()

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = it.Next(cctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		m.emit(ctx, 5)
		v, err := it.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, v)
	})

	t.Run("close releases the subscription", func(t *testing.T) {
		var m manual[int]
		it, err := Iterate(ctx, m.stream())
		require.NoError(t, err)

		m.emit(ctx, 1)
		it.Close()
		it.Close()

		assert.Equal(t, int32(1), m.teardown.Load())
		_, err = it.Next(ctx)
		assert.ErrorIs(t, err, ErrCompleted)
	})

	t.Run("unreachable iterator is released", func(t *testing.T) {
		var m manual[int]
		func() {
			_, err := Iterate(ctx, m.stream())
			require.NoError(t, err)
		}()

		require.Eventually(t, func() bool {
			runtime.GC()
			return m.teardown.Load() == 1
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestAll(t *testing.T) {
	ctx := context.Background()

	t.Run("ranges until completion", func(t *testing.T) {
		src := Create(func(ctx context.Context, out Observer[int]) (func(), error) {
			for i := range 4 {
				out.OnNext(ctx, i)
			}
			out.OnComplete(ctx)
			return nil, nil
		})

		var got []int
		for v, err := range All(ctx, src) {
			require.NoError(t, err)
			got = append(got, v)
		}
		assert.Equal(t, []int{0, 1, 2, 3}, got)
	})

	t.Run("break releases the subscription", func(t *testing.T) {
		var m manual[int]
		go func() {
			for i := 0; m.teardown.Load() == 0 && i < 1000; i++ {
				m.emit(ctx, i)
				time.Sleep(time.Millisecond)
			}
		}()

		for v, err := range All(ctx, m.stream()) {
			require.NoError(t, err)
			if v >= 2 {
				break
			}
		}
		assert.Equal(t, int32(1), m.teardown.Load())
	})

	t.Run("yields the stream error last", func(t *testing.T) {
		boom := errors.New("boom")
		var errs []error
		for _, err := range All(ctx, Fail[int](boom)) {
			errs = append(errs, err)
		}
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], boom)
	})
}
