package requests_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"telegram-smsbot/internal/domain/requests"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRegistry(t *testing.T) (*requests.SMSRegistry, *manualClock) {
	t.Helper()
	clk := &manualClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return requests.NewSMSRegistry(nil, 10*time.Minute, clk.Now), clk
}

func TestSMSRegistryOpen(t *testing.T) {
	t.Parallel()

	reg, clk := newRegistry(t)

	first, created, err := reg.Open(1, "+8801712345678", "main")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, requests.StatusPending, first.Status)
	assert.Equal(t, clk.Now().Add(10*time.Minute), first.ExpiresAt)
	assert.NotEmpty(t, first.ID)

	again, created, err := reg.Open(1, "+8801712345678", "main")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	_, _, err = reg.Open(2, "+8801712345678", "main")
	assert.ErrorIs(t, err, requests.ErrInFlight)

	other, created, err := reg.Open(2, "+8801712345678", "backup")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestSMSRegistryOpenReplacesExpired(t *testing.T) {
	t.Parallel()

	reg, clk := newRegistry(t)

	first, _, err := reg.Open(1, "+8801712345678", "main")
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)

	got, ok := reg.Get("+8801712345678", "main")
	require.True(t, ok)
	assert.Equal(t, requests.StatusExpired, got.Status)

	second, created, err := reg.Open(2, "+8801712345678", "main")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, int64(2), second.UserID)
}

func TestSMSRegistryOpenConcurrent(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)

	var (
		wg      sync.WaitGroup
		created atomic.Int32
		busy    atomic.Int32
	)
	for uid := int64(1); uid <= 32; uid++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := reg.Open(uid, "+919876543210", "main")
			switch {
			case err != nil:
				busy.Add(1)
			case ok:
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(31), busy.Load())
}

func TestSMSRegistryMarkReceived(t *testing.T) {
	t.Parallel()

	reg, clk := newRegistry(t)
	_, _, err := reg.Open(1, "+447912345678", "main")
	require.NoError(t, err)

	clk.Advance(time.Minute)
	got, err := reg.MarkReceived("+447912345678", "main", 2)
	require.NoError(t, err)
	assert.Equal(t, requests.StatusReceived, got.Status)
	assert.Equal(t, 2, got.Received)
	assert.Equal(t, clk.Now(), got.ReceivedAt)

	_, err = reg.MarkReceived("+440000000000", "main", 1)
	assert.ErrorIs(t, err, requests.ErrNotFound)

	// Received-запрос не блокирует новый запрос другого пользователя.
	_, created, err := reg.Open(2, "+447912345678", "main")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestSMSRegistryMarkReceivedAfterExpiry(t *testing.T) {
	t.Parallel()

	reg, clk := newRegistry(t)
	_, _, err := reg.Open(1, "+447912345678", "main")
	require.NoError(t, err)

	clk.Advance(11 * time.Minute)
	got, err := reg.MarkReceived("+447912345678", "main", 1)
	require.NoError(t, err)
	assert.Equal(t, requests.StatusExpired, got.Status)
}

func TestSMSRegistryCancel(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	_, _, err := reg.Open(1, "+12025550123", "main")
	require.NoError(t, err)

	_, err = reg.Cancel(2, "+12025550123", "main")
	assert.ErrorIs(t, err, requests.ErrNotOwner)

	_, err = reg.Cancel(1, "+10000000000", "main")
	assert.ErrorIs(t, err, requests.ErrNotFound)

	got, err := reg.Cancel(1, "+12025550123", "main")
	require.NoError(t, err)
	assert.Equal(t, requests.StatusCancelled, got.Status)
}

func TestSMSRegistryRecordCheck(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	_, _, err := reg.Open(1, "+12025550123", "main")
	require.NoError(t, err)

	for range 3 {
		_, err = reg.RecordCheck("+12025550123", "main")
		require.NoError(t, err)
	}
	got, ok := reg.Get("+12025550123", "main")
	require.True(t, ok)
	assert.Equal(t, 3, got.Checks)

	_, err = reg.RecordCheck("+10000000000", "main")
	assert.ErrorIs(t, err, requests.ErrNotFound)
}

func TestSMSRegistryByUserOrder(t *testing.T) {
	t.Parallel()

	reg, clk := newRegistry(t)
	for _, phone := range []string{"+111111111111", "+222222222222", "+333333333333"} {
		_, _, err := reg.Open(7, phone, "main")
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}
	_, _, err := reg.Open(8, "+444444444444", "main")
	require.NoError(t, err)

	got := reg.ByUser(7)
	require.Len(t, got, 3)
	assert.Equal(t, "+333333333333", got[0].Phone)
	assert.Equal(t, "+111111111111", got[2].Phone)
	assert.Empty(t, reg.ByUser(99))
}

func TestSMSRegistryExpireAndPrune(t *testing.T) {
	t.Parallel()

	reg, clk := newRegistry(t)
	_, _, err := reg.Open(1, "+111111111111", "main")
	require.NoError(t, err)
	_, _, err = reg.Open(1, "+222222222222", "main")
	require.NoError(t, err)
	_, err = reg.MarkReceived("+222222222222", "main", 1)
	require.NoError(t, err)

	clk.Advance(5 * time.Minute)
	_, _, err = reg.Open(1, "+333333333333", "main")
	require.NoError(t, err)

	clk.Advance(6 * time.Minute)
	assert.Equal(t, 1, reg.ExpireStale())
	assert.Equal(t, 0, reg.ExpireStale())

	stats := reg.Stats()
	assert.Equal(t, 1, stats[requests.StatusExpired])
	assert.Equal(t, 1, stats[requests.StatusReceived])
	assert.Equal(t, 1, stats[requests.StatusPending])

	assert.Equal(t, 2, reg.Prune(10*time.Minute))
	_, ok := reg.Get("+111111111111", "main")
	assert.False(t, ok)
	_, ok = reg.Get("+333333333333", "main")
	assert.True(t, ok)
}

func TestSMSRegistryStartStop(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.Start(ctx)
	reg.Start(ctx)
	reg.Stop()
	reg.Stop()
}

func TestNumberRegistry(t *testing.T) {
	t.Parallel()

	reg := requests.NewNumberRegistry(nil, nil)

	_, err := reg.AddNumbers(1, "bd", "+8801700000000")
	assert.ErrorIs(t, err, requests.ErrNotFound)

	reg.Begin(1, "main", "bd", "Bangladesh")
	reg.SelectRange(1, "main", "bd", "r-17", "Grameenphone")
	got, err := reg.AddNumbers(1, "bd", "+8801700000000", "+8801700000001", "+8801700000000")
	require.NoError(t, err)
	assert.Equal(t, []string{"+8801700000000", "+8801700000001"}, got.Numbers)
	assert.Equal(t, "Grameenphone", got.RangeName)
	assert.Equal(t, "Bangladesh", got.CountryName)

	// Выбор другой страны не трогает текущий.
	reg.SelectRange(1, "main", "in", "r-91", "Jio")
	assert.Equal(t, 2, reg.Len())

	reg.Begin(1, "main", "bd", "Bangladesh")
	fresh, ok := reg.Get(1, "bd")
	require.True(t, ok)
	assert.Empty(t, fresh.Numbers)

	reg.Drop(1, "bd")
	_, ok = reg.Get(1, "bd")
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	s := requests.NewMemoryStore[string, int]()
	v, inserted := s.PutIfAbsent("a", 1)
	assert.True(t, inserted)
	assert.Equal(t, 1, v)
	v, inserted = s.PutIfAbsent("a", 2)
	assert.False(t, inserted)
	assert.Equal(t, 1, v)

	next, kept := s.Update("a", func(cur int, ok bool) (int, bool) { return cur + 10, ok })
	assert.True(t, kept)
	assert.Equal(t, 11, next)

	_, kept = s.Update("a", func(int, bool) (int, bool) { return 0, false })
	assert.False(t, kept)
	assert.Equal(t, 0, s.Len())

	s.Put("x", 1)
	s.Put("y", 2)
	visited := 0
	s.Range(func(string, int) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}
