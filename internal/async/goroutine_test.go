package async

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Info(string, ...any)  {}
func (l *capturingLogger) Warn(string, ...any)  {}

func (l *capturingLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
}

func (l *capturingLogger) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.errors))
	copy(out, l.errors)
	return out
}

func TestGoRunsFunction(t *testing.T) {
	done := make(chan struct{})
	Go(nil, "worker", func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("function never ran")
	}
}

func TestGoReportsPanicWithName(t *testing.T) {
	logger := &capturingLogger{}
	Go(logger, "exploder", func() { panic("boom") })

	require.Eventually(t, func() bool { return len(logger.all()) == 1 }, time.Second, time.Millisecond)
	got := logger.all()[0]
	assert.Contains(t, got, "exploder")
	assert.Contains(t, got, "boom")
	assert.Contains(t, got, "goroutine_test.go", "report carries a stack trace")
}

func TestRecoverToleratesNilLogger(t *testing.T) {
	done := make(chan struct{})
	Go(nil, "", func() {
		defer close(done)
		panic("swallowed")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panic escaped the boundary")
	}
}
