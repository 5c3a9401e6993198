package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAwaitSign(t *testing.T) {
	expired := func() context.Context {
		ctx, cancel := context.WithTimeout(context.Background(), 0)
		cancel()
		return ctx
	}

	t.Run("result ready at the deadline wins", func(t *testing.T) {
		// Both channels are ready; run enough times that select would pick ctx.Done.
		for i := 0; i < 200; i++ {
			done := make(chan error, 1)
			done <- nil
			assert.NoError(t, awaitSign(expired(), done))
		}
	})

	t.Run("failure ready at the deadline is kept", func(t *testing.T) {
		rejected := errors.New("403 Forbidden")
		done := make(chan error, 1)
		done <- rejected
		assert.ErrorIs(t, awaitSign(expired(), done), rejected)
	})

	t.Run("no result returns ctx error", func(t *testing.T) {
		done := make(chan error, 1)
		err := awaitSign(expired(), done)
		assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled))
	})

	t.Run("result before deadline", func(t *testing.T) {
		done := make(chan error, 1)
		done <- nil
		assert.NoError(t, awaitSign(context.Background(), done))
	})
}
