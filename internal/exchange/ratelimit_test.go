package exchange

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 5)

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow() {
			allowed++
		}
	}

	if allowed != 5 {
		t.Errorf("allowed %d calls from a burst of 5", allowed)
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(100, 1)

	if !rl.Allow() {
		t.Fatal("first call should pass with a full bucket")
	}
	if rl.Allow() {
		t.Fatal("bucket should be empty right after the burst")
	}

	time.Sleep(30 * time.Millisecond)

	if !rl.Allow() {
		t.Error("bucket should refill after waiting")
	}
}

func TestRateLimiterWaitHonorsContext(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err == nil {
		t.Error("Wait should fail once the context expires")
	}
}

func TestRateLimiterWaitEventuallyAllows(t *testing.T) {
	rl := NewRateLimiter(200, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rl.Wait(ctx); err != nil {
		t.Errorf("Wait returned error before the deadline: %v", err)
	}
}
