package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait(t *testing.T) {
	// 10 RPS = one token every 100ms, burst 1.
	l := New(Config{
		DefaultRPS:   10,
		DefaultBurst: 1,
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://reestr.nostroy.ru/api/sro/all/member/list"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://reestr.nostroy.ru/api/member/1/info"))
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentHosts(t *testing.T) {
	l := New(Config{
		DefaultRPS:   1,
		DefaultBurst: 1,
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://reestr.nostroy.ru/api"))

	// The second registry must not be blocked by the first.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://reestr.nopriz.ru/api"))
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("second host blocked unexpectedly")
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	l := New(Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for range 100 {
		require.NoError(t, l.Wait(ctx, "https://reestr.nopriz.ru/api"))
	}
}

func TestLimiter_CanceledContext(t *testing.T) {
	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Wait(ctx, "https://reestr.nopriz.ru/api"))
	cancel()
	require.Error(t, l.Wait(ctx, "https://reestr.nopriz.ru/api"))
}
