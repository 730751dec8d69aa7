// Package container spawns and supervises agent containers: it feeds each
// one its input payload over stdin, demultiplexes the attached output
// stream, parses marker-delimited result payloads, enforces role-dependent
// timeouts, and reports a terminal status for every run.
package container

import (
	"context"
	"io"
	"time"
)

// Spec describes one container to create.
type Spec struct {
	Name       string
	Image      string
	Cmd        []string
	Env        []string
	Labels     map[string]string
	Binds      []string // host:container[:mode]
	WorkingDir string
}

// AttachedStreams is the stdio surface of a created container. Output is
// the runtime's multiplexed stdout/stderr stream; the manager splits it
// with the stdcopy frame protocol.
type AttachedStreams struct {
	Stdin  io.WriteCloser
	Output io.Reader
	Close  func()
}

// Runtime is the behavioral contract this package needs from a container
// engine. The production implementation talks to the Docker Engine API; the
// tests use an in-process fake.
type Runtime interface {
	Create(ctx context.Context, spec Spec) (string, error)
	Attach(ctx context.Context, id string) (*AttachedStreams, error)
	Start(ctx context.Context, id string) error
	// Stop requests a graceful stop with the given grace period.
	Stop(ctx context.Context, id string, grace time.Duration) error
	Kill(ctx context.Context, id string) error
	// Wait blocks until the container exits and returns its exit code.
	Wait(ctx context.Context, id string) (int64, error)
	Remove(ctx context.Context, id string) error
	// ListByLabel returns ids of running or created containers carrying the
	// given label.
	ListByLabel(ctx context.Context, key, value string) ([]string, error)
}
