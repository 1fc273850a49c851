package testutil

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// MockClock implements the Clock interfaces used by the pool and scheduler
// with controllable time.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a new MockClock starting at the given time.
// If zero time is provided, uses current time.
func NewMockClock(start time.Time) *MockClock {
	if start.IsZero() {
		start = time.Now()
	}
	return &MockClock{now: start}
}

// Now returns the current mock time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock clock forward by the given duration.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock clock to a specific time.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// CallbackTracker counts invocations of a callback from any goroutine.
type CallbackTracker struct {
	count atomic.Int64
}

// NewCallbackTracker creates a tracker with a zero count.
func NewCallbackTracker() *CallbackTracker {
	return &CallbackTracker{}
}

// Mark records one call.
func (c *CallbackTracker) Mark() {
	c.count.Add(1)
}

// Called reports whether Mark was called at least once.
func (c *CallbackTracker) Called() bool {
	return c.count.Load() > 0
}

// CallCount returns the number of recorded calls.
func (c *CallbackTracker) CallCount() int {
	return int(c.count.Load())
}

// AssertCalled fails the test if Mark was never called.
func (c *CallbackTracker) AssertCalled(t *testing.T) {
	t.Helper()
	if !c.Called() {
		t.Fatal("callback was not called")
	}
}

// AssertNotCalled fails the test if Mark was called.
func (c *CallbackTracker) AssertNotCalled(t *testing.T) {
	t.Helper()
	if c.Called() {
		t.Fatalf("callback was called %d times, want 0", c.CallCount())
	}
}

// AssertCallCount fails the test unless Mark was called exactly want times.
func (c *CallbackTracker) AssertCallCount(t *testing.T, want int) {
	t.Helper()
	if got := c.CallCount(); got != want {
		t.Fatalf("call count = %d, want %d", got, want)
	}
}
