package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"burrow/internal/logging"
)

// Mailbox subdirectories. input carries host→container follow-up turns,
// messages and tasks carry container→host envelopes, media holds binary
// attachments referenced by path, errors quarantines files whose handling
// failed.
const (
	DirInput    = "input"
	DirMessages = "messages"
	DirTasks    = "tasks"
	DirMedia    = "media"
	DirErrors   = "errors"

	// SentinelClose is a zero-byte file whose presence asks the agent loop
	// to wind down at its next follow-up poll.
	SentinelClose = "_close"

	tmpPrefix = ".tmp-"
)

var subdirs = []string{DirInput, DirMessages, DirTasks, DirMedia, DirErrors}

// Mailbox is the file-drop channel for one agent. Exactly one host watcher
// and at most one container share it at a time, so atomic rename is the only
// coordination needed.
type Mailbox struct {
	root   string
	logger logging.Logger
}

// NewMailbox returns a mailbox rooted at dir. Call EnsureDirs before use.
func NewMailbox(dir string, logger logging.Logger) *Mailbox {
	return &Mailbox{root: dir, logger: logging.OrNop(logger)}
}

// Root returns the mailbox root directory.
func (m *Mailbox) Root() string { return m.root }

// EnsureDirs creates the mailbox tree. Permissions are deliberately wide:
// the container process may run under a different uid than the host.
func (m *Mailbox) EnsureDirs() error {
	for _, sub := range subdirs {
		path := filepath.Join(m.root, sub)
		if err := os.MkdirAll(path, 0o777); err != nil {
			return fmt.Errorf("create mailbox dir %s: %w", path, err)
		}
		// MkdirAll applies umask; force the mode so the container side can write.
		if err := os.Chmod(path, 0o777); err != nil {
			return fmt.Errorf("chmod mailbox dir %s: %w", path, err)
		}
	}
	return nil
}

// Write encodes cmd and drops it into the given subdirectory. The file is
// written to a temp name and renamed into place so readers never observe
// partial content. Filenames are epoch-ms prefixed, so lexicographic order
// is arrival order.
func (m *Mailbox) Write(dir string, cmd Command) error {
	data, err := Encode(cmd)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%013d-%s.json", time.Now().UnixMilli(), uuid.NewString()[:8])
	return m.writeAtomic(dir, name, data)
}

func (m *Mailbox) writeAtomic(dir, name string, data []byte) error {
	target := filepath.Join(m.root, dir, name)
	tmp := filepath.Join(m.root, dir, tmpPrefix+name)
	if err := os.WriteFile(tmp, data, 0o666); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish %s: %w", target, err)
	}
	return nil
}

// WriteMedia stores an attachment and returns its mailbox-relative path.
func (m *Mailbox) WriteMedia(name string, data []byte) (string, error) {
	name = filepath.Base(name)
	unique := fmt.Sprintf("%013d-%s-%s", time.Now().UnixMilli(), uuid.NewString()[:8], name)
	if err := m.writeAtomic(DirMedia, unique, data); err != nil {
		return "", err
	}
	return filepath.Join(DirMedia, unique), nil
}

// MediaPath resolves a mailbox-relative media reference to an absolute path.
func (m *Mailbox) MediaPath(rel string) string {
	return filepath.Join(m.root, rel)
}

// WriteClose drops the close sentinel into the input directory. Best effort:
// errors are logged, never returned.
func (m *Mailbox) WriteClose() {
	if err := m.writeAtomic(DirInput, SentinelClose, nil); err != nil {
		m.logger.Warn("write close sentinel: %v", err)
	}
}

// TakeClose reports whether the close sentinel is present, removing it.
func (m *Mailbox) TakeClose() bool {
	path := filepath.Join(m.root, DirInput, SentinelClose)
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("remove close sentinel: %v", err)
	}
	return true
}

// Handler processes one decoded envelope. A non-nil error quarantines the
// backing file instead of deleting it.
type Handler func(cmd Command) error

// Consume processes every envelope currently in dir in filename order.
// Each file is deleted after successful handling; decode and handler
// failures move it to the errors directory so one bad file never wedges the
// channel. Returns the number of successfully handled envelopes.
func (m *Mailbox) Consume(dir string, handle Handler) (int, error) {
	dirPath := filepath.Join(m.root, dir)
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("list %s: %w", dirPath, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == SentinelClose || strings.HasPrefix(name, tmpPrefix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	handled := 0
	for _, name := range names {
		path := filepath.Join(dirPath, name)
		data, err := os.ReadFile(path)
		if err != nil {
			m.logger.Error("read %s: %v", path, err)
			continue
		}
		cmd, err := Decode(data)
		if err != nil {
			m.logger.Warn("quarantining %s: %v", name, err)
			m.quarantine(dir, name)
			continue
		}
		if err := handle(cmd); err != nil {
			m.logger.Warn("handler failed for %s: %v, quarantining", name, err)
			m.quarantine(dir, name)
			continue
		}
		if err := os.Remove(path); err != nil {
			m.logger.Error("remove handled %s: %v", path, err)
		}
		handled++
	}
	return handled, nil
}

func (m *Mailbox) quarantine(dir, name string) {
	src := filepath.Join(m.root, dir, name)
	dst := filepath.Join(m.root, DirErrors, dir+"-"+name)
	if err := os.Rename(src, dst); err != nil {
		m.logger.Error("quarantine %s: %v", src, err)
		_ = os.Remove(src)
	}
}

// ValidateEnvelopeJSON is a convenience used by tests and tooling to check
// a raw payload decodes to a known envelope.
func ValidateEnvelopeJSON(data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON")
	}
	_, err := Decode(data)
	return err
}
