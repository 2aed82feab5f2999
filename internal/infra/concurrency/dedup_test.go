package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDeduplicatorWindow(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	)
	clk := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	d := NewDeduplicator(5*time.Second, clk)
	if d.Seen("sms:1:+8801712345678") {
		t.Fatal("first Seen must be false")
	}
	if !d.Seen("sms:1:+8801712345678") {
		t.Fatal("second Seen within window must be true")
	}
	if d.Seen("sms:2:+8801712345678") {
		t.Fatal("other key must not be suppressed")
	}

	advance(5 * time.Second)
	if d.Seen("sms:1:+8801712345678") {
		t.Fatal("Seen after window must be false")
	}

	d.Forget("sms:1:+8801712345678")
	if d.Seen("sms:1:+8801712345678") {
		t.Fatal("Seen after Forget must be false")
	}

	advance(time.Minute)
	d.Cleanup()
	if got := d.Len(); got != 0 {
		t.Fatalf("Len after Cleanup = %d, want 0", got)
	}
}

func TestDeduplicatorStartStop(t *testing.T) {
	t.Parallel()

	d := NewDeduplicator(time.Second, nil)
	d.Start(context.Background())
	d.Start(context.Background())
	d.Stop()
	d.Stop()
	d.Start(nil) //nolint:staticcheck // nil-контекст игнорируется
}
