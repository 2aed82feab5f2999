package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gotd/td/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNetworkError(t *testing.T) {
	t.Parallel()

	assert.False(t, IsNetworkError(nil))
	assert.False(t, IsNetworkError(context.Canceled))
	assert.False(t, IsNetworkError(errors.New("FLOOD_WAIT")))
	assert.True(t, IsNetworkError(io.EOF))
	assert.True(t, IsNetworkError(fmt.Errorf("send: %w", pool.ErrConnDead)))
	assert.True(t, IsNetworkError(context.DeadlineExceeded))
}

func TestMonitorRecoversAfterPing(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	m := New(func(context.Context) error {
		if calls.Add(1) < 3 {
			return io.EOF
		}
		return nil
	}, Options{PingInterval: 5 * time.Millisecond, PingTimeout: time.Second})
	m.Start(context.Background())
	t.Cleanup(m.Stop)

	assert.False(t, m.HandleError(errors.New("bad request")))
	assert.True(t, m.Online())

	require.True(t, m.HandleError(io.EOF))
	assert.False(t, m.Online())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.WaitOnline(ctx)

	require.NoError(t, ctx.Err())
	assert.True(t, m.Online())
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitOnlineHonoursContext(t *testing.T) {
	t.Parallel()

	m := New(func(context.Context) error { return io.EOF }, Options{PingInterval: time.Hour})
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	m.MarkDisconnected()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	m.WaitOnline(ctx)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, m.Online())
}
