package container

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"burrow/internal/logging"
	"burrow/pkg/types"
)

// cappedBuffer retains up to max bytes and drops the rest, so runaway
// container output cannot exhaust host memory. Truncation is recorded, not
// fatal.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.max - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.truncated = true
		p = p[:remaining]
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// tail returns at most n trailing bytes of the buffer.
func (b *cappedBuffer) tail(n int) string {
	s := b.String()
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// markerStream is an io.Writer fed with the container's demultiplexed
// stdout. It extracts marker-delimited JSON payloads as they complete and
// hands each parsed ContainerOutput to the callback in arrival order: all
// writes come from the single demux goroutine, so delivery is serialized by
// construction. Malformed payloads are logged and skipped.
type markerStream struct {
	onOutput func(types.ContainerOutput)
	logger   logging.Logger
	max      int

	raw     *cappedBuffer // full stdout, for one-shot re-parse at exit
	pending []byte        // bytes not yet split into lines, capped at max
	payload []string      // lines collected between markers, capped at max
	inBlock bool

	payloadLen       int
	payloadOverflow  bool
	pendingTruncated bool
}

func newMarkerStream(cap int, onOutput func(types.ContainerOutput), logger logging.Logger) *markerStream {
	return &markerStream{
		onOutput: onOutput,
		logger:   logging.OrNop(logger),
		max:      cap,
		raw:      newCappedBuffer(cap),
	}
}

func (s *markerStream) Write(p []byte) (int, error) {
	_, _ = s.raw.Write(p)

	data := p
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			s.appendPending(data)
			return len(p), nil
		}
		s.appendPending(data[:idx])
		data = data[idx+1:]

		line := strings.TrimRight(string(s.pending), "\r")
		s.pending = s.pending[:0]
		s.pendingTruncated = false
		s.consumeLine(line)
	}
}

// appendPending buffers partial-line bytes, keeping at most max of them. A
// line that long cannot be a marker, so dropping its tail loses nothing the
// parser needs.
func (s *markerStream) appendPending(b []byte) {
	room := s.max - len(s.pending)
	if len(b) > room {
		if !s.pendingTruncated {
			s.pendingTruncated = true
			s.logger.Warn("stdout line exceeds %d bytes, truncating", s.max)
		}
		if room <= 0 {
			return
		}
		b = b[:room]
	}
	s.pending = append(s.pending, b...)
}

func (s *markerStream) consumeLine(line string) {
	switch strings.TrimSpace(line) {
	case types.OutputStartMarker:
		s.inBlock = true
		s.payload = s.payload[:0]
		s.payloadLen = 0
		s.payloadOverflow = false
	case types.OutputEndMarker:
		if !s.inBlock {
			return
		}
		s.inBlock = false
		if s.payloadOverflow {
			s.logger.Warn("skipping output payload over %d bytes", s.max)
			return
		}
		s.emit(strings.Join(s.payload, "\n"))
	default:
		if !s.inBlock || s.payloadOverflow {
			return
		}
		if s.payloadLen+len(line) > s.max {
			s.payloadOverflow = true
			s.payload = s.payload[:0]
			s.payloadLen = 0
			return
		}
		s.payload = append(s.payload, line)
		s.payloadLen += len(line)
	}
}

func (s *markerStream) emit(payload string) {
	var out types.ContainerOutput
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		s.logger.Warn("skipping malformed output payload: %v", err)
		return
	}
	if s.onOutput != nil {
		s.onOutput(out)
	}
}

// Raw returns the retained stdout text.
func (s *markerStream) Raw() string { return s.raw.String() }

// parseLastPayload re-parses buffered stdout for the final marker-delimited
// payload. When no complete marker pair exists it falls back to the last
// non-empty line as a plain-text result.
func parseLastPayload(stdout string) *types.ContainerOutput {
	start := strings.LastIndex(stdout, types.OutputStartMarker)
	if start >= 0 {
		rest := stdout[start+len(types.OutputStartMarker):]
		if end := strings.Index(rest, types.OutputEndMarker); end >= 0 {
			payload := strings.TrimSpace(rest[:end])
			var out types.ContainerOutput
			if err := json.Unmarshal([]byte(payload), &out); err == nil {
				return &out
			}
		}
	}

	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			return types.SuccessOutput(line, "")
		}
	}
	return nil
}
