package container

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"burrow/internal/ipc"
	"burrow/internal/logging"
	"burrow/internal/secrets"
	"burrow/pkg/types"
)

// containerBehavior plays the role of the process inside a fake container.
// stdout and stderr already carry the multiplexing frames a real engine
// would add.
type containerBehavior func(stdin []byte, stdout, stderr io.Writer, stopped <-chan struct{}) int64

type fakeContainer struct {
	spec    Spec
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	outR    *io.PipeReader
	outW    *io.PipeWriter
	exit    chan int64
	stopped chan struct{}
	once    sync.Once
}

type fakeRuntime struct {
	mu         sync.Mutex
	behavior   containerBehavior
	containers map[string]*fakeContainer
	orphans    []string
	killed     []string
	removed    []string
	seq        int
}

func newFakeRuntime(behavior containerBehavior) *fakeRuntime {
	return &fakeRuntime{behavior: behavior, containers: map[string]*fakeContainer{}}
}

func (f *fakeRuntime) Create(_ context.Context, spec Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("fake-%d", f.seq)
	stdinR, stdinW := io.Pipe()
	outR, outW := io.Pipe()
	f.containers[id] = &fakeContainer{
		spec:    spec,
		stdinR:  stdinR,
		stdinW:  stdinW,
		outR:    outR,
		outW:    outW,
		exit:    make(chan int64, 1),
		stopped: make(chan struct{}),
	}
	return id, nil
}

func (f *fakeRuntime) get(id string) *fakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.containers[id]
}

func (f *fakeRuntime) Attach(_ context.Context, id string) (*AttachedStreams, error) {
	c := f.get(id)
	return &AttachedStreams{
		Stdin:  c.stdinW,
		Output: c.outR,
		Close:  func() {},
	}, nil
}

func (f *fakeRuntime) Start(_ context.Context, id string) error {
	c := f.get(id)
	go func() {
		stdin, _ := io.ReadAll(c.stdinR)
		stdout := stdcopy.NewStdWriter(c.outW, stdcopy.Stdout)
		stderr := stdcopy.NewStdWriter(c.outW, stdcopy.Stderr)
		code := f.behavior(stdin, stdout, stderr, c.stopped)
		_ = c.outW.Close()
		c.exit <- code
	}()
	return nil
}

func (f *fakeRuntime) Stop(_ context.Context, id string, _ time.Duration) error {
	c := f.get(id)
	c.once.Do(func() { close(c.stopped) })
	return nil
}

func (f *fakeRuntime) Kill(_ context.Context, id string) error {
	f.mu.Lock()
	f.killed = append(f.killed, id)
	c := f.containers[id]
	f.mu.Unlock()
	if c != nil {
		c.once.Do(func() { close(c.stopped) })
	}
	return nil
}

func (f *fakeRuntime) Wait(_ context.Context, id string) (int64, error) {
	return <-f.get(id).exit, nil
}

func (f *fakeRuntime) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeRuntime) ListByLabel(_ context.Context, _, _ string) ([]string, error) {
	return f.orphans, nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Image:           "burrow-agent:test",
		DataDir:         t.TempDir(),
		IdleTimeout:     20 * time.Millisecond,
		IdleMargin:      20 * time.Millisecond,
		OrchestratorTTL: 150 * time.Millisecond,
		SpecialistTTL:   150 * time.Millisecond,
		StopGrace:       10 * time.Millisecond,
	}
}

func emit(w io.Writer, out types.ContainerOutput) {
	data, _ := json.Marshal(out)
	fmt.Fprintf(w, "%s\n%s\n%s\n", types.OutputStartMarker, data, types.OutputEndMarker)
}

func specialistInput() *types.ContainerInput {
	return &types.ContainerInput{
		Prompt:    "do the thing",
		AgentID:   "agent-1",
		AgentName: "researcher",
		Model:     "gpt-4o",
	}
}

func TestRunStreamsOutputsInOrder(t *testing.T) {
	rt := newFakeRuntime(func(_ []byte, stdout, _ io.Writer, _ <-chan struct{}) int64 {
		emit(stdout, *types.SuccessOutput("partial", "conv-1"))
		emit(stdout, *types.SuccessOutput("final", "conv-2"))
		return 0
	})
	mgr := NewManager(rt, secrets.Static{}, testConfig(t), logging.Nop())

	var got []string
	out, err := mgr.Run(context.Background(), specialistInput(), nil, func(o types.ContainerOutput) {
		got = append(got, *o.Result)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"partial", "final"}, got)
	assert.Equal(t, types.StatusSuccess, out.Status)
	assert.Nil(t, out.Result)
	assert.Equal(t, "conv-2", out.ConversationID, "last conversation id wins")
}

func TestRunTimeoutWithOutputIsIdleSuccess(t *testing.T) {
	rt := newFakeRuntime(func(_ []byte, stdout, _ io.Writer, stopped <-chan struct{}) int64 {
		emit(stdout, *types.SuccessOutput("got something", "conv-9"))
		<-stopped
		return 137
	})
	mgr := NewManager(rt, secrets.Static{}, testConfig(t), logging.Nop())

	out, err := mgr.Run(context.Background(), specialistInput(), nil, func(types.ContainerOutput) {})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, out.Status)
	assert.Nil(t, out.Result)
	assert.Equal(t, "conv-9", out.ConversationID)
}

func TestRunTimeoutWithoutOutputIsError(t *testing.T) {
	rt := newFakeRuntime(func(_ []byte, _, _ io.Writer, stopped <-chan struct{}) int64 {
		<-stopped
		return 137
	})
	mgr := NewManager(rt, secrets.Static{}, testConfig(t), logging.Nop())

	out, err := mgr.Run(context.Background(), specialistInput(), nil, func(types.ContainerOutput) {})
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, out.Status)
	assert.Contains(t, out.Error, "timed out")
}

func TestRunNonZeroExitCarriesStderrTail(t *testing.T) {
	rt := newFakeRuntime(func(_ []byte, _, stderr io.Writer, _ <-chan struct{}) int64 {
		fmt.Fprintln(stderr, "panic: something broke")
		return 3
	})
	mgr := NewManager(rt, secrets.Static{}, testConfig(t), logging.Nop())

	out, err := mgr.Run(context.Background(), specialistInput(), nil, func(types.ContainerOutput) {})
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, out.Status)
	assert.Contains(t, out.Error, "code 3")
	assert.Contains(t, out.Error, "panic: something broke")
}

func TestRunOneShotParsesBufferedMarkers(t *testing.T) {
	rt := newFakeRuntime(func(_ []byte, stdout, _ io.Writer, _ <-chan struct{}) int64 {
		fmt.Fprintln(stdout, "working...")
		emit(stdout, *types.SuccessOutput("the answer", "conv-5"))
		return 0
	})
	mgr := NewManager(rt, secrets.Static{}, testConfig(t), logging.Nop())

	out, err := mgr.Run(context.Background(), specialistInput(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, out.Status)
	require.NotNil(t, out.Result)
	assert.Equal(t, "the answer", *out.Result)
	assert.Equal(t, "conv-5", out.ConversationID)
}

func TestRunOneShotFallsBackToLastLine(t *testing.T) {
	rt := newFakeRuntime(func(_ []byte, stdout, _ io.Writer, _ <-chan struct{}) int64 {
		fmt.Fprintln(stdout, "no markers here")
		fmt.Fprintln(stdout, "plain text result")
		return 0
	})
	mgr := NewManager(rt, secrets.Static{}, testConfig(t), logging.Nop())

	out, err := mgr.Run(context.Background(), specialistInput(), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, "plain text result", *out.Result)
}

func TestRunSealsSecretsIntoStdinOnly(t *testing.T) {
	received := make(chan types.ContainerInput, 1)
	rt := newFakeRuntime(func(stdin []byte, stdout, _ io.Writer, _ <-chan struct{}) int64 {
		var in types.ContainerInput
		if err := json.Unmarshal(stdin, &in); err != nil {
			return 1
		}
		received <- in
		emit(stdout, *types.SuccessOutput("ok", ""))
		return 0
	})
	mgr := NewManager(rt, secrets.Static{"api-key": "sk-verysecret"}, testConfig(t), logging.Nop())

	input := specialistInput()
	out, err := mgr.Run(context.Background(), input, []string{"api-key"}, func(types.ContainerOutput) {})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, out.Status)

	in := <-received
	assert.Equal(t, "sk-verysecret", in.Secrets["api-key"], "secrets travel via stdin payload")
	assert.Nil(t, input.Secrets, "secrets are stripped from the host-side struct")
}

func TestRunSpawnEnvCarriesIdentityNotSecrets(t *testing.T) {
	rt := newFakeRuntime(func(_ []byte, stdout, _ io.Writer, _ <-chan struct{}) int64 {
		emit(stdout, *types.SuccessOutput("ok", ""))
		return 0
	})
	mgr := NewManager(rt, secrets.Static{"api-key": "sk-verysecret"}, testConfig(t), logging.Nop())

	_, err := mgr.Run(context.Background(), specialistInput(), []string{"api-key"}, func(types.ContainerOutput) {})
	require.NoError(t, err)

	spec := rt.get("fake-1").spec
	assert.Contains(t, spec.Env, "BURROW_AGENT_ID=agent-1")
	assert.Contains(t, spec.Env, "BURROW_AGENT_NAME=researcher")
	assert.Contains(t, spec.Env, "BURROW_AGENT_ROLE=specialist")
	for _, kv := range spec.Env {
		assert.NotContains(t, kv, "sk-verysecret")
	}
	assert.Equal(t, types.ManagedLabelValue, spec.Labels[types.ManagedLabel])
	assert.Equal(t, "agent-1", spec.Labels[types.AgentIDLabel])
}

func TestRunRemovesContainerAfterExit(t *testing.T) {
	rt := newFakeRuntime(func(_ []byte, stdout, _ io.Writer, _ <-chan struct{}) int64 {
		emit(stdout, *types.SuccessOutput("ok", ""))
		return 0
	})
	mgr := NewManager(rt, secrets.Static{}, testConfig(t), logging.Nop())

	_, err := mgr.Run(context.Background(), specialistInput(), nil, func(types.ContainerOutput) {})
	require.NoError(t, err)
	assert.Equal(t, []string{"fake-1"}, rt.removed)
}

func TestSendFollowUpWritesInputEnvelope(t *testing.T) {
	rt := newFakeRuntime(nil)
	mgr := NewManager(rt, secrets.Static{}, testConfig(t), logging.Nop())
	require.NoError(t, mgr.Mailbox("agent-1").EnsureDirs())

	assert.True(t, mgr.SendFollowUp("agent-1", "and another thing", nil))

	var got []string
	_, err := mgr.Mailbox("agent-1").Consume(ipc.DirInput, func(cmd ipc.Command) error {
		got = append(got, cmd.(*ipc.Message).Text)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"and another thing"}, got)
}

func TestSendFollowUpFailsWhenMailboxMissing(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataDir = filepath.Join(cfg.DataDir, "does", "not", "exist")
	mgr := NewManager(newFakeRuntime(nil), secrets.Static{}, cfg, logging.Nop())
	assert.False(t, mgr.SendFollowUp("agent-1", "hello", nil))
}

func TestRequestCloseDropsSentinel(t *testing.T) {
	mgr := NewManager(newFakeRuntime(nil), secrets.Static{}, testConfig(t), logging.Nop())
	require.NoError(t, mgr.Mailbox("agent-1").EnsureDirs())

	mgr.RequestClose("agent-1")
	_, err := os.Stat(filepath.Join(mgr.Mailbox("agent-1").Root(), ipc.DirInput, ipc.SentinelClose))
	assert.NoError(t, err)
}

func TestCleanupOrphans(t *testing.T) {
	rt := newFakeRuntime(nil)
	rt.orphans = []string{"dead-1", "dead-2"}
	mgr := NewManager(rt, secrets.Static{}, testConfig(t), logging.Nop())

	removed := mgr.CleanupOrphans(context.Background())
	assert.Equal(t, 2, removed)
	assert.ElementsMatch(t, []string{"dead-1", "dead-2"}, rt.removed)
}

func TestRunSpawnFailureIsError(t *testing.T) {
	mgr := NewManager(newFakeRuntime(nil), secrets.Static{}, testConfig(t), logging.Nop())
	input := specialistInput()

	// Unresolvable secret fails before any container is created.
	_, err := mgr.Run(context.Background(), input, []string{"missing"}, nil)
	assert.Error(t, err)
}
