package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Console is a line-oriented Messenger and Listener on a terminal. Sends to
// the same chat are serialized so interleaved container outputs stay
// readable.
type Console struct {
	out   io.Writer
	in    *bufio.Scanner
	chats sync.Map // chatID -> *sync.Mutex
}

// NewConsole builds a console channel over the given streams.
func NewConsole(in io.Reader, out io.Writer) *Console {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	return &Console{out: out, in: scanner}
}

func (c *Console) chatLock(chatID string) *sync.Mutex {
	mu, _ := c.chats.LoadOrStore(chatID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (c *Console) SendMessage(_ context.Context, chatID, text string) error {
	mu := c.chatLock(chatID)
	mu.Lock()
	defer mu.Unlock()
	_, err := fmt.Fprintf(c.out, "[%s] %s\n", chatID, text)
	return err
}

func (c *Console) SendPhoto(_ context.Context, chatID, path, caption string) error {
	mu := c.chatLock(chatID)
	mu.Lock()
	defer mu.Unlock()
	if caption != "" {
		_, err := fmt.Fprintf(c.out, "[%s] (photo: %s) %s\n", chatID, path, caption)
		return err
	}
	_, err := fmt.Fprintf(c.out, "[%s] (photo: %s)\n", chatID, path)
	return err
}

func (c *Console) SetTyping(_ context.Context, _ string) error {
	// A terminal has no typing indicator.
	return nil
}

// Receive reads the next non-empty line from stdin. All console input maps
// to the single "console" chat.
func (c *Console) Receive(ctx context.Context) (*Incoming, error) {
	type lineResult struct {
		text string
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		for c.in.Scan() {
			text := strings.TrimSpace(c.in.Text())
			if text == "" {
				continue
			}
			ch <- lineResult{text: text}
			return
		}
		err := c.in.Err()
		if err == nil {
			err = io.EOF
		}
		ch <- lineResult{err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return &Incoming{ChatID: "console", Text: res.text}, nil
	}
}
