package container

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"burrow/internal/async"
	"burrow/internal/ipc"
	"burrow/internal/logging"
	"burrow/internal/secrets"
	"burrow/pkg/types"
)

const stderrTailBytes = 2000

// Config tunes the lifecycle manager.
type Config struct {
	Image              string
	DataDir            string
	AgentCommand       []string
	IdleTimeout        time.Duration
	IdleMargin         time.Duration
	OrchestratorTTL    time.Duration
	SpecialistTTL      time.Duration
	StopGrace          time.Duration
	OutputByteCap      int
	IPCMountPath       string
	WorkspaceMountPath string
}

func (c *Config) applyDefaults() {
	if len(c.AgentCommand) == 0 {
		c.AgentCommand = []string{"burrow-agent"}
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.IdleMargin <= 0 {
		c.IdleMargin = 5 * time.Minute
	}
	if c.OrchestratorTTL <= 0 {
		c.OrchestratorTTL = 8 * time.Hour
	}
	if c.SpecialistTTL <= 0 {
		c.SpecialistTTL = 30 * time.Minute
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 10 * time.Second
	}
	if c.OutputByteCap <= 0 {
		c.OutputByteCap = 4 << 20
	}
	if c.IPCMountPath == "" {
		c.IPCMountPath = "/ipc"
	}
	if c.WorkspaceMountPath == "" {
		c.WorkspaceMountPath = "/workspace"
	}
}

// OutputFunc receives streamed ContainerOutput payloads in strict arrival
// order.
type OutputFunc func(out types.ContainerOutput)

// Manager owns the full lifetime of agent containers.
type Manager struct {
	runtime  Runtime
	resolver secrets.Resolver
	cfg      Config
	logger   logging.Logger
}

// NewManager builds a lifecycle manager on top of a Runtime.
func NewManager(rt Runtime, resolver secrets.Resolver, cfg Config, logger logging.Logger) *Manager {
	cfg.applyDefaults()
	return &Manager{
		runtime:  rt,
		resolver: resolver,
		cfg:      cfg,
		logger:   logging.OrNop(logger),
	}
}

// Mailbox returns the IPC mailbox for an agent id.
func (m *Manager) Mailbox(agentID string) *ipc.Mailbox {
	return ipc.NewMailbox(filepath.Join(m.cfg.DataDir, "ipc", agentID), m.logger)
}

func (m *Manager) workspaceDir(agentID string) string {
	return filepath.Join(m.cfg.DataDir, "workspace", agentID)
}

// Run spawns one container for input and supervises it to completion.
// secretNames are resolved immediately before spawn; the plaintext values
// exist only in the serialized stdin payload and are stripped from input
// before Run touches anything that might log it.
//
// A non-nil onOutput enables streaming mode: each marker-delimited payload
// is delivered in arrival order as it appears. With a nil onOutput the run
// is one-shot and the result is re-parsed from buffered stdout at exit.
//
// The returned error is non-nil only for spawn-level failures; everything
// after a successful start is classified into the returned ContainerOutput.
func (m *Manager) Run(ctx context.Context, input *types.ContainerInput, secretNames []string, onOutput OutputFunc) (*types.ContainerOutput, error) {
	mb := m.Mailbox(input.AgentID)
	if err := mb.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("prepare ipc dirs: %w", err)
	}
	workspace := m.workspaceDir(input.AgentID)
	if err := os.MkdirAll(workspace, 0o777); err != nil {
		return nil, fmt.Errorf("prepare workspace: %w", err)
	}
	_ = os.Chmod(workspace, 0o777)

	payload, err := m.sealedPayload(input, secretNames)
	if err != nil {
		return nil, err
	}

	role := "specialist"
	if input.IsOrchestrator {
		role = "orchestrator"
	}
	spec := Spec{
		Name:  fmt.Sprintf("burrow-%s-%s", sanitizeName(input.AgentName), uuid.NewString()[:8]),
		Image: m.cfg.Image,
		Cmd:   m.cfg.AgentCommand,
		Env: []string{
			"BURROW_AGENT_ID=" + input.AgentID,
			"BURROW_AGENT_NAME=" + input.AgentName,
			"BURROW_AGENT_ROLE=" + role,
			"BURROW_IPC_DIR=" + m.cfg.IPCMountPath,
		},
		Labels: map[string]string{
			types.ManagedLabel: types.ManagedLabelValue,
			types.AgentIDLabel: input.AgentID,
		},
		Binds: []string{
			mb.Root() + ":" + m.cfg.IPCMountPath,
			workspace + ":" + m.cfg.WorkspaceMountPath,
		},
		WorkingDir: m.cfg.WorkspaceMountPath,
	}

	id, err := m.runtime.Create(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("create container for agent %s: %w", input.AgentName, err)
	}
	defer func() {
		if err := m.runtime.Remove(context.Background(), id); err != nil {
			m.logger.Warn("remove container %s: %v", shortID(id), err)
		}
	}()

	streams, err := m.runtime.Attach(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("attach container %s: %w", shortID(id), err)
	}
	defer streams.Close()

	if err := m.runtime.Start(ctx, id); err != nil {
		return nil, fmt.Errorf("start container %s: %w", shortID(id), err)
	}
	m.logger.Info("container %s started for agent %s (%s)", shortID(id), input.AgentName, role)

	// One-shot stdin payload, then half-close so the agent sees EOF.
	async.Go(m.logger, "container.stdin", func() {
		if _, err := streams.Stdin.Write(payload); err != nil {
			m.logger.Error("write stdin payload to %s: %v", shortID(id), err)
		}
		if err := streams.Stdin.Close(); err != nil {
			m.logger.Warn("close stdin of %s: %v", shortID(id), err)
		}
	})

	state := &runState{}
	stdout := newMarkerStream(m.cfg.OutputByteCap, func(out types.ContainerOutput) {
		state.record(out)
		if onOutput != nil {
			onOutput(out)
		}
	}, m.logger)
	stderr := newCappedBuffer(m.cfg.OutputByteCap)

	demuxDone := make(chan struct{})
	async.Go(m.logger, "container.demux", func() {
		defer close(demuxDone)
		// The runtime multiplexes both streams over one channel with frame
		// headers; split them back apart. Stderr is diagnostics only.
		if _, err := stdcopy.StdCopy(stdout, stderr, streams.Output); err != nil {
			m.logger.Debug("demux for %s ended: %v", shortID(id), err)
		}
	})

	exitCh := make(chan waitResult, 1)
	async.Go(m.logger, "container.wait", func() {
		code, err := m.runtime.Wait(context.Background(), id)
		exitCh <- waitResult{code: code, err: err}
	})

	timeout := m.effectiveTimeout(input.IsOrchestrator)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var exit waitResult
	var timedOut bool
	select {
	case exit = <-exitCh:
	case <-timer.C:
		timedOut = true
		m.logger.Warn("container %s hit %v timeout, stopping", shortID(id), timeout)
		m.stopThenKill(id)
		exit = <-exitCh
	case <-ctx.Done():
		timedOut = true
		m.logger.Warn("run cancelled, stopping container %s", shortID(id))
		m.stopThenKill(id)
		exit = <-exitCh
	}

	// Let the demux goroutine flush trailing frames.
	select {
	case <-demuxDone:
	case <-time.After(2 * time.Second):
	}

	if stdout.raw.Truncated() || stderr.Truncated() {
		m.logger.Warn("container %s output exceeded %d bytes and was truncated", shortID(id), m.cfg.OutputByteCap)
	}

	return m.classify(state, stdout, stderr, exit, timedOut, onOutput != nil), nil
}

// sealedPayload resolves secrets into the serialized payload and strips
// them from the host-side struct right away.
func (m *Manager) sealedPayload(input *types.ContainerInput, secretNames []string) ([]byte, error) {
	resolved, err := secrets.ResolveAll(m.resolver, secretNames)
	if err != nil {
		return nil, err
	}
	input.Secrets = resolved
	payload, err := json.Marshal(input)
	input.Secrets = nil
	if err != nil {
		return nil, fmt.Errorf("serialize container input: %w", err)
	}
	return append(payload, '\n'), nil
}

// effectiveTimeout picks the hard TTL for a role. The orchestrator gets a
// much longer ceiling since one container carries a whole conversation; in
// all cases the TTL is at least the idle window plus a margin so the idle
// close always wins the race.
func (m *Manager) effectiveTimeout(isOrchestrator bool) time.Duration {
	ttl := m.cfg.SpecialistTTL
	if isOrchestrator {
		ttl = m.cfg.OrchestratorTTL
	}
	if floor := m.cfg.IdleTimeout + m.cfg.IdleMargin; ttl < floor {
		ttl = floor
	}
	return ttl
}

func (m *Manager) stopThenKill(id string) {
	stopCtx, cancel := context.WithTimeout(context.Background(), m.cfg.StopGrace+5*time.Second)
	defer cancel()
	if err := m.runtime.Stop(stopCtx, id, m.cfg.StopGrace); err != nil {
		m.logger.Warn("graceful stop of %s failed: %v, killing", shortID(id), err)
		if err := m.runtime.Kill(context.Background(), id); err != nil {
			m.logger.Error("kill %s: %v", shortID(id), err)
		}
	}
}

func (m *Manager) classify(state *runState, stdout *markerStream, stderr *cappedBuffer, exit waitResult, timedOut, streaming bool) *types.ContainerOutput {
	outputs, lastConv := state.snapshot()

	if timedOut {
		// A container that already produced output and then went quiet was
		// idle, not broken.
		if outputs > 0 {
			return &types.ContainerOutput{Status: types.StatusSuccess, Result: nil, ConversationID: lastConv}
		}
		return types.ErrorOutput("container timed out before producing any output")
	}

	if exit.err != nil {
		return types.ErrorOutput(fmt.Sprintf("wait failed: %v", exit.err))
	}
	if exit.code != 0 {
		msg := fmt.Sprintf("container exited with code %d", exit.code)
		if tail := strings.TrimSpace(stderr.tail(stderrTailBytes)); tail != "" {
			msg += ": " + tail
		}
		out := types.ErrorOutput(msg)
		out.ConversationID = lastConv
		return out
	}

	if streaming {
		if outputs == 0 {
			return types.ErrorOutput("container exited cleanly without emitting output")
		}
		return &types.ContainerOutput{Status: types.StatusSuccess, Result: nil, ConversationID: lastConv}
	}

	if parsed := parseLastPayload(stdout.Raw()); parsed != nil {
		return parsed
	}
	return types.ErrorOutput("container produced no parsable output")
}

// SendFollowUp writes a follow-up turn into a (presumably running) agent's
// input mailbox. Returns false on any filesystem error so the caller can
// fall back to spawning a fresh container.
func (m *Manager) SendFollowUp(agentID, text string, media []string) bool {
	mb := m.Mailbox(agentID)
	if err := mb.Write(ipc.DirInput, &ipc.Message{Text: text, Media: media}); err != nil {
		m.logger.Warn("send follow-up to %s: %v", agentID, err)
		return false
	}
	return true
}

// RequestClose asks an agent's container to wind down cooperatively by
// dropping the close sentinel. Best effort.
func (m *Manager) RequestClose(agentID string) {
	m.Mailbox(agentID).WriteClose()
}

// CleanupOrphans force-stops and removes containers left behind by a prior
// crash of this process. Runs once at startup; it is not a reconciliation
// loop.
func (m *Manager) CleanupOrphans(ctx context.Context) int {
	ids, err := m.runtime.ListByLabel(ctx, types.ManagedLabel, types.ManagedLabelValue)
	if err != nil {
		m.logger.Error("list orphaned containers: %v", err)
		return 0
	}
	removed := 0
	for _, id := range ids {
		m.logger.Warn("removing orphaned container %s", shortID(id))
		if err := m.runtime.Kill(ctx, id); err != nil {
			m.logger.Debug("kill orphan %s: %v", shortID(id), err)
		}
		if err := m.runtime.Remove(ctx, id); err != nil {
			m.logger.Error("remove orphan %s: %v", shortID(id), err)
			continue
		}
		removed++
	}
	return removed
}

type waitResult struct {
	code int64
	err  error
}

// runState tracks streamed outputs for terminal classification. record runs
// on the demux goroutine while snapshot runs on the supervising one.
type runState struct {
	mu       sync.Mutex
	outputs  int
	lastConv string
}

func (s *runState) record(out types.ContainerOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs++
	if out.ConversationID != "" {
		s.lastConv = out.ConversationID
	}
}

func (s *runState) snapshot() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs, s.lastConv
}

func sanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "agent"
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
