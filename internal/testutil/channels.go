// Package testutil holds channel helpers and fixture encoders shared by the
// package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	// DefaultTimeout bounds waits for work that should finish promptly.
	DefaultTimeout = 2 * time.Second

	// QuietPeriod is how long a channel must stay silent to count as empty.
	QuietPeriod = 100 * time.Millisecond
)

// WaitForChannel fails the test unless ch fires or closes within timeout.
func WaitForChannel(t testing.TB, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.FailNow(t, msg)
	}
}

// Receive returns the next value from ch, failing the test after timeout.
func Receive[T any](t testing.TB, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(timeout):
		require.FailNow(t, "timed out waiting for value")
		var zero T
		return zero
	}
}

// RequireNoReceive fails the test if ch yields a value within QuietPeriod.
func RequireNoReceive[T any](t testing.TB, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		require.Failf(t, "unexpected value", "%+v", v)
	case <-time.After(QuietPeriod):
	}
}
