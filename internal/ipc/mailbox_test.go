package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"burrow/internal/logging"
)

func newTestMailbox(t *testing.T) *Mailbox {
	t.Helper()
	mb := NewMailbox(t.TempDir(), logging.Nop())
	require.NoError(t, mb.EnsureDirs())
	return mb
}

func TestConsumeProcessesInFilenameOrder(t *testing.T) {
	mb := newTestMailbox(t)

	// Drop files with explicit names so ordering does not depend on clock
	// resolution between writes.
	for i, text := range []string{"first", "second", "third"} {
		data, err := Encode(&Message{Text: text})
		require.NoError(t, err)
		name := fmt.Sprintf("%013d-aaaa.json", 1000+i)
		require.NoError(t, mb.writeAtomic(DirMessages, name, data))
	}

	var got []string
	handled, err := mb.Consume(DirMessages, func(cmd Command) error {
		got = append(got, cmd.(*Message).Text)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, handled)
	assert.Equal(t, []string{"first", "second", "third"}, got)

	// Handled files are deleted.
	entries, err := os.ReadDir(filepath.Join(mb.Root(), DirMessages))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConsumeQuarantinesMalformedFiles(t *testing.T) {
	mb := newTestMailbox(t)

	require.NoError(t, mb.writeAtomic(DirMessages, "0000000000001-bad.json", []byte("{not json")))
	data, err := Encode(&Message{Text: "ok"})
	require.NoError(t, err)
	require.NoError(t, mb.writeAtomic(DirMessages, "0000000000002-good.json", data))

	var got []string
	handled, err := mb.Consume(DirMessages, func(cmd Command) error {
		got = append(got, cmd.(*Message).Text)
		return nil
	})
	require.NoError(t, err)

	// The bad file never stops the batch.
	assert.Equal(t, 1, handled)
	assert.Equal(t, []string{"ok"}, got)

	quarantined, err := os.ReadDir(filepath.Join(mb.Root(), DirErrors))
	require.NoError(t, err)
	require.Len(t, quarantined, 1)
	assert.Contains(t, quarantined[0].Name(), "bad.json")
}

func TestConsumeQuarantinesOnHandlerError(t *testing.T) {
	mb := newTestMailbox(t)
	require.NoError(t, mb.Write(DirTasks, &Delegate{AgentName: "x", Task: "y"}))

	handled, err := mb.Consume(DirTasks, func(Command) error {
		return fmt.Errorf("downstream unavailable")
	})
	require.NoError(t, err)
	assert.Equal(t, 0, handled)

	quarantined, err := os.ReadDir(filepath.Join(mb.Root(), DirErrors))
	require.NoError(t, err)
	assert.Len(t, quarantined, 1)
}

func TestConsumeSkipsTempAndSentinelFiles(t *testing.T) {
	mb := newTestMailbox(t)
	require.NoError(t, os.WriteFile(filepath.Join(mb.Root(), DirInput, SentinelClose), nil, 0o666))
	require.NoError(t, os.WriteFile(filepath.Join(mb.Root(), DirInput, tmpPrefix+"pending.json"), []byte("partial"), 0o666))

	handled, err := mb.Consume(DirInput, func(Command) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, handled)

	// Neither file was quarantined or deleted.
	assert.True(t, mb.TakeClose())
}

func TestCloseSentinel(t *testing.T) {
	mb := newTestMailbox(t)
	assert.False(t, mb.TakeClose())

	mb.WriteClose()
	assert.True(t, mb.TakeClose(), "sentinel observed once")
	assert.False(t, mb.TakeClose(), "sentinel removed after observation")
}

func TestWriteProducesOrderedUniqueNames(t *testing.T) {
	mb := newTestMailbox(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, mb.Write(DirInput, &Message{Text: fmt.Sprintf("m%d", i)}))
	}

	entries, err := os.ReadDir(filepath.Join(mb.Root(), DirInput))
	require.NoError(t, err)
	require.Len(t, entries, 5)

	seen := map[string]bool{}
	for _, entry := range entries {
		assert.False(t, seen[entry.Name()])
		seen[entry.Name()] = true
		assert.Regexp(t, `^\d{13}-[0-9a-f]{8}\.json$`, entry.Name())
	}
}

func TestWriteMedia(t *testing.T) {
	mb := newTestMailbox(t)
	rel, err := mb.WriteMedia("photo.png", []byte{0x89, 0x50})
	require.NoError(t, err)

	data, err := os.ReadFile(mb.MediaPath(rel))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 0x50}, data)
}
