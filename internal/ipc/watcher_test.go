package ipc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"burrow/internal/logging"
)

func TestWatcherDeliversFromBothDirs(t *testing.T) {
	mb := NewMailbox(t.TempDir(), logging.Nop())
	require.NoError(t, mb.EnsureDirs())

	var mu sync.Mutex
	var got []Command
	w := NewWatcher(mb, 5*time.Millisecond, func(cmd Command) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, cmd)
		return nil
	}, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.NoError(t, mb.Write(DirMessages, &Message{Text: "hello"}))
	require.NoError(t, mb.Write(DirTasks, &ScheduleTask{Prompt: "digest", ScheduleType: "once"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, time.Millisecond)

	kinds := map[string]bool{}
	mu.Lock()
	for _, cmd := range got {
		kinds[string(cmd.Kind())] = true
	}
	mu.Unlock()
	assert.True(t, kinds["message"])
	assert.True(t, kinds["schedule_task"])
}

func TestWatcherSurvivesHandlerErrors(t *testing.T) {
	mb := NewMailbox(t.TempDir(), logging.Nop())
	require.NoError(t, mb.EnsureDirs())

	var mu sync.Mutex
	var texts []string
	w := NewWatcher(mb, 5*time.Millisecond, func(cmd Command) error {
		msg, ok := cmd.(*Message)
		if !ok {
			return assert.AnError
		}
		if msg.Text == "bad" {
			return assert.AnError
		}
		mu.Lock()
		defer mu.Unlock()
		texts = append(texts, msg.Text)
		return nil
	}, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.NoError(t, mb.Write(DirMessages, &Message{Text: "bad"}))
	require.NoError(t, mb.Write(DirMessages, &Message{Text: "good"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(texts) == 1 && texts[0] == "good"
	}, time.Second, time.Millisecond)
}

func TestWatcherStopsOnContextCancel(t *testing.T) {
	mb := NewMailbox(t.TempDir(), logging.Nop())
	require.NoError(t, mb.EnsureDirs())

	delivered := make(chan struct{}, 8)
	w := NewWatcher(mb, 5*time.Millisecond, func(Command) error {
		delivered <- struct{}{}
		return nil
	}, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, mb.Write(DirMessages, &Message{Text: "late"}))
	select {
	case <-delivered:
		t.Fatal("watcher kept polling after cancel")
	case <-time.After(50 * time.Millisecond):
	}
}
