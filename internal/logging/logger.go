// Package logging provides the component logger used across the host daemon
// and the in-container agent runtime. Log lines pass through a redaction
// filter so resolved secrets never reach disk.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level represents the severity of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger { return nopLogger{} }

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

var (
	rootOnce sync.Once
	root     *componentLogger
)

// componentLogger writes timestamped, component-tagged lines to a shared
// sink. All component loggers share the root's file handle and level.
type componentLogger struct {
	mu        *sync.Mutex
	sink      io.Writer
	level     *Level
	component string
}

// NewComponentLogger returns the process-wide logger scoped to a component.
func NewComponentLogger(component string) Logger {
	rootOnce.Do(func() {
		level := InfoLevel
		if os.Getenv("BURROW_DEBUG") != "" {
			level = DebugLevel
		}
		root = &componentLogger{
			mu:    &sync.Mutex{},
			sink:  openSink(),
			level: &level,
		}
	})
	return &componentLogger{mu: root.mu, sink: root.sink, level: root.level, component: component}
}

// openSink prefers a log file under the data dir, falling back to stderr.
func openSink() io.Writer {
	dir := os.Getenv("BURROW_LOG_DIR")
	if dir == "" {
		return os.Stderr
	}
	path := filepath.Join(dir, "burrow.log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("logging: open %s: %v, falling back to stderr", path, err)
		return os.Stderr
	}
	return io.MultiWriter(file, os.Stderr)
}

func (l *componentLogger) log(level Level, format string, args ...any) {
	if level < *l.level {
		return
	}
	component := l.component
	if component == "" {
		component = "burrow"
	}
	message := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("%s [%s] [%s] %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"), level, component, message)
	line = Redact(line)

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.sink, line)
}

func (l *componentLogger) Debug(format string, args ...any) { l.log(DebugLevel, format, args...) }
func (l *componentLogger) Info(format string, args ...any)  { l.log(InfoLevel, format, args...) }
func (l *componentLogger) Warn(format string, args ...any)  { l.log(WarnLevel, format, args...) }
func (l *componentLogger) Error(format string, args ...any) { l.log(ErrorLevel, format, args...) }

const placeholder = "[REDACTED]"

var (
	bearerPattern = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-\._~+/]+=*)`)
	keyValuePattern = regexp.MustCompile(
		`(?i)((?:"|')?(?:api[_-]?key|access[_-]?token|refresh[_-]?token|token|secret|password|credential)(?:"|')?\s*(?:=|:)\s*)(?:"|')?([^"'\s,;}]+)((?:"|')?)`,
	)
	standaloneSecretPattern = regexp.MustCompile(
		`(?i)(sk-[A-Za-z0-9]{16,}|ghp_[A-Za-z0-9]{16,}|xox[a-z]-[A-Za-z0-9\-]{10,})`,
	)
)

// Redact masks credential-shaped substrings in a log line.
func Redact(line string) string {
	line = keyValuePattern.ReplaceAllStringFunc(line, func(match string) string {
		sub := keyValuePattern.FindStringSubmatch(match)
		if len(sub) != 4 {
			return match
		}
		return sub[1] + placeholder + sub[3]
	})
	line = bearerPattern.ReplaceAllStringFunc(line, func(match string) string {
		sub := bearerPattern.FindStringSubmatch(match)
		if len(sub) != 3 {
			return match
		}
		return sub[1] + placeholder
	})
	return standaloneSecretPattern.ReplaceAllString(line, placeholder)
}
