package ipc

import (
	"context"
	"time"

	"burrow/internal/async"
	"burrow/internal/logging"
)

// Watcher polls a mailbox's outbound directories (messages and tasks) and
// feeds decoded envelopes to a handler. One watcher exists per running
// agent; it survives handler errors and malformed files.
type Watcher struct {
	mailbox  *Mailbox
	interval time.Duration
	handler  Handler
	logger   logging.Logger
	stop     chan struct{}
}

// NewWatcher builds a watcher over mb. The handler runs on the watcher
// goroutine, so envelopes from one mailbox are always processed in order.
func NewWatcher(mb *Mailbox, interval time.Duration, handler Handler, logger logging.Logger) *Watcher {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Watcher{
		mailbox:  mb,
		interval: interval,
		handler:  handler,
		logger:   logging.OrNop(logger),
		stop:     make(chan struct{}),
	}
}

// Start begins polling until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	async.Go(w.logger, "ipc.watcher", func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case <-ticker.C:
				w.poll()
			}
		}
	})
}

// Stop halts polling. Safe to call more than once only via sync in caller;
// watchers are stopped exactly once when their container exits.
func (w *Watcher) Stop() {
	close(w.stop)
}

func (w *Watcher) poll() {
	for _, dir := range []string{DirMessages, DirTasks} {
		if _, err := w.mailbox.Consume(dir, w.handler); err != nil {
			w.logger.Error("poll %s: %v", dir, err)
		}
	}
}
