package testutil

import "time"

// TestingT is the subset of *testing.T used by the helpers
type TestingT interface {
	Errorf(format string, args ...any)
	Helper()
}

// WaitFor polls condition until it holds or the timeout expires
func WaitFor(t TestingT, condition func() bool, timeout time.Duration, msgAndArgs ...any) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}
		if time.Now().After(deadline) {
			t.Errorf("timeout waiting for condition: %v", msgAndArgs)
			return false
		}
		<-ticker.C
	}
}
