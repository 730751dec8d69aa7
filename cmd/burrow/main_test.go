package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"burrow/internal/channel"
	"burrow/internal/logging"
)

type fakeUserSession struct {
	mu        sync.Mutex
	messages  []string
	clears    int
	handleErr error
	clearErr  error
}

func (f *fakeUserSession) HandleUserMessage(_ context.Context, _, text string, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return f.handleErr
}

func (f *fakeUserSession) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return f.clearErr
}

func (f *fakeUserSession) snapshot() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	copy(out, f.messages)
	return out, f.clears
}

func runConsoleLoop(t *testing.T, input string, sess *fakeUserSession) (*bytes.Buffer, func()) {
	t.Helper()
	var out bytes.Buffer
	console := channel.NewConsole(strings.NewReader(input), &out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- consoleLoop(ctx, console, sess, logging.Nop())
	}()
	return &out, func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("console loop did not stop")
		}
	}
}

func TestConsoleLoopDispatchesMessagesAndClear(t *testing.T) {
	sess := &fakeUserSession{}
	_, stop := runConsoleLoop(t, "hello\n/clear\nworld\n", sess)
	defer stop()

	require.Eventually(t, func() bool {
		msgs, clears := sess.snapshot()
		return len(msgs) == 2 && clears == 1
	}, time.Second, time.Millisecond)

	msgs, _ := sess.snapshot()
	assert.Equal(t, []string{"hello", "world"}, msgs)
}

func TestConsoleLoopSurvivesFailedTurns(t *testing.T) {
	sess := &fakeUserSession{handleErr: fmt.Errorf("container queue rejected orchestrator run")}
	out, stop := runConsoleLoop(t, "first\nsecond\n", sess)
	defer stop()

	// Both turns are attempted; each failure surfaces as a notice instead of
	// stopping the loop.
	require.Eventually(t, func() bool {
		msgs, _ := sess.snapshot()
		return len(msgs) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, strings.Count(out.String(), turnFailureNotice))
}

func TestConsoleLoopSurvivesFailedClear(t *testing.T) {
	sess := &fakeUserSession{clearErr: fmt.Errorf("open fresh conversation: disk full")}
	out, stop := runConsoleLoop(t, "/clear\nstill here\n", sess)
	defer stop()

	require.Eventually(t, func() bool {
		msgs, clears := sess.snapshot()
		return clears == 1 && len(msgs) == 1
	}, time.Second, time.Millisecond)
	assert.Contains(t, out.String(), turnFailureNotice)
}
