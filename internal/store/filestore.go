package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"burrow/internal/logging"
	"burrow/pkg/types"
)

const readCacheSize = 256

// FileStore is the JSON file-backed implementation of all store interfaces.
// Records live under baseDir/{agents,conversations,tasks}/<id>.json; the KV
// bucket is a single state.json.
type FileStore struct {
	baseDir       string
	agents        *collection[types.Agent]
	conversations *collection[types.Conversation]
	tasks         *collection[types.ScheduledTask]
	state         *stateFile
}

// NewFileStore prepares the directory layout under baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if strings.HasPrefix(baseDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		baseDir = filepath.Join(home, baseDir[2:])
	}

	logger := logging.NewComponentLogger("FileStore")
	agents, err := newCollection[types.Agent](filepath.Join(baseDir, "agents"), logger)
	if err != nil {
		return nil, err
	}
	conversations, err := newCollection[types.Conversation](filepath.Join(baseDir, "conversations"), logger)
	if err != nil {
		return nil, err
	}
	tasks, err := newCollection[types.ScheduledTask](filepath.Join(baseDir, "tasks"), logger)
	if err != nil {
		return nil, err
	}

	return &FileStore{
		baseDir:       baseDir,
		agents:        agents,
		conversations: conversations,
		tasks:         tasks,
		state:         &stateFile{path: filepath.Join(baseDir, "state.json")},
	}, nil
}

// BaseDir returns the resolved data directory.
func (s *FileStore) BaseDir() string { return s.baseDir }

func (s *FileStore) Agents() AgentStore               { return (*agentStore)(s) }
func (s *FileStore) Conversations() ConversationStore { return (*conversationStore)(s) }
func (s *FileStore) Tasks() TaskStore                 { return (*taskStore)(s) }
func (s *FileStore) State() StateStore                { return s.state }

// collection is one record type's directory: <id>.json per record, writes
// serialized by a mutex, reads served from an LRU of marshaled bytes.
type collection[T any] struct {
	dir    string
	mu     sync.Mutex
	cache  *lru.Cache[string, []byte]
	logger logging.Logger
}

func newCollection[T any](dir string, logger logging.Logger) (*collection[T], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", dir, err)
	}
	cache, err := lru.New[string, []byte](readCacheSize)
	if err != nil {
		return nil, err
	}
	return &collection[T]{dir: dir, cache: cache, logger: logger}, nil
}

func (c *collection[T]) path(id string) string {
	return filepath.Join(c.dir, id+".json")
}

func (c *collection[T]) create(id string, record *T) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(c.path(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create record %s: %w", id, err)
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("write record %s: %w", id, werr)
	}
	if cerr != nil {
		return fmt.Errorf("close record %s: %w", id, cerr)
	}
	c.cache.Add(id, data)
	return nil
}

func (c *collection[T]) get(id string) (*T, error) {
	data, ok := c.cache.Get(id)
	if !ok {
		var err error
		data, err = os.ReadFile(c.path(id))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return nil, err
		}
		c.cache.Add(id, data)
	}

	var record T
	if err := json.Unmarshal(data, &record); err != nil {
		c.logger.Error("corrupt record %s: %v", c.path(id), err)
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &record, nil
}

// save atomically replaces the record via temp file + rename.
func (c *collection[T]) save(id string, record *T) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := os.Stat(c.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}

	tmp := filepath.Join(c.dir, ".tmp-"+id+".json")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write record %s: %w", id, err)
	}
	if err := os.Rename(tmp, c.path(id)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace record %s: %w", id, err)
	}
	c.cache.Add(id, data)
	return nil
}

func (c *collection[T]) delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Remove(id)
	if err := os.Remove(c.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	return nil
}

func (c *collection[T]) list() ([]*T, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}

	var out []*T
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		record, err := c.get(strings.TrimSuffix(name, ".json"))
		if err != nil {
			c.logger.Warn("skipping unreadable record %s: %v", name, err)
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

// agentStore implements AgentStore on the shared FileStore.
type agentStore FileStore

func (s *agentStore) Create(_ context.Context, agent *types.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	now := time.Now()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	return s.agents.create(agent.ID, agent)
}

func (s *agentStore) Get(_ context.Context, id string) (*types.Agent, error) {
	return s.agents.get(id)
}

func (s *agentStore) GetByName(ctx context.Context, name string) (*types.Agent, error) {
	want := types.NormalizeAgentName(name)
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, agent := range all {
		if types.NormalizeAgentName(agent.Name) == want {
			return agent, nil
		}
	}
	return nil, fmt.Errorf("%w: agent %q", ErrNotFound, name)
}

func (s *agentStore) List(_ context.Context) ([]*types.Agent, error) {
	return s.agents.list()
}

func (s *agentStore) Update(_ context.Context, agent *types.Agent) error {
	agent.UpdatedAt = time.Now()
	return s.agents.save(agent.ID, agent)
}

func (s *agentStore) Delete(_ context.Context, id string) error {
	return s.agents.delete(id)
}

func (s *agentStore) Orchestrator(ctx context.Context) (*types.Agent, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, agent := range all {
		if agent.IsOrchestrator {
			return agent, nil
		}
	}
	return nil, fmt.Errorf("%w: orchestrator agent", ErrNotFound)
}

// conversationStore implements ConversationStore on the shared FileStore.
type conversationStore FileStore

func (s *conversationStore) OpenActive(ctx context.Context, agentID string) (*types.Conversation, error) {
	all, err := s.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	for _, conv := range all {
		if conv.Status == types.ConversationActive {
			return conv, nil
		}
	}

	now := time.Now()
	conv := &types.Conversation{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Turns:     []types.Turn{},
		Status:    types.ConversationActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.conversations.create(conv.ID, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *conversationStore) Get(_ context.Context, id string) (*types.Conversation, error) {
	return s.conversations.get(id)
}

func (s *conversationStore) AppendTurn(_ context.Context, id string, turn types.Turn) error {
	conv, err := s.conversations.get(id)
	if err != nil {
		return err
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	conv.Turns = append(conv.Turns, turn)
	conv.UpdatedAt = time.Now()
	return s.conversations.save(id, conv)
}

func (s *conversationStore) Summarize(_ context.Context, id string, summary string) error {
	conv, err := s.conversations.get(id)
	if err != nil {
		return err
	}
	conv.Status = types.ConversationSummarized
	conv.Summary = summary
	conv.UpdatedAt = time.Now()
	return s.conversations.save(id, conv)
}

func (s *conversationStore) Archive(_ context.Context, id string) error {
	conv, err := s.conversations.get(id)
	if err != nil {
		return err
	}
	conv.Status = types.ConversationArchived
	conv.UpdatedAt = time.Now()
	return s.conversations.save(id, conv)
}

func (s *conversationStore) ListByAgent(_ context.Context, agentID string) ([]*types.Conversation, error) {
	all, err := s.conversations.list()
	if err != nil {
		return nil, err
	}
	var out []*types.Conversation
	for _, conv := range all {
		if conv.AgentID == agentID {
			out = append(out, conv)
		}
	}
	return out, nil
}

// taskStore implements TaskStore on the shared FileStore.
type taskStore FileStore

func (s *taskStore) Create(_ context.Context, task *types.ScheduledTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = types.TaskActive
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	return s.tasks.create(task.ID, task)
}

func (s *taskStore) Get(_ context.Context, id string) (*types.ScheduledTask, error) {
	return s.tasks.get(id)
}

func (s *taskStore) List(_ context.Context) ([]*types.ScheduledTask, error) {
	return s.tasks.list()
}

func (s *taskStore) Update(_ context.Context, task *types.ScheduledTask) error {
	task.UpdatedAt = time.Now()
	return s.tasks.save(task.ID, task)
}

func (s *taskStore) Delete(_ context.Context, id string) error {
	return s.tasks.delete(id)
}

func (s *taskStore) Due(ctx context.Context, now time.Time) ([]*types.ScheduledTask, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var due []*types.ScheduledTask
	for _, task := range all {
		if task.Due(now) {
			due = append(due, task)
		}
	}
	return due, nil
}

// stateFile is the KV bucket, one JSON object rewritten on every change.
type stateFile struct {
	mu   sync.Mutex
	path string
}

func (s *stateFile) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	kv := map[string]string{}
	if err := json.Unmarshal(data, &kv); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}
	return kv, nil
}

func (s *stateFile) flush(kv map[string]string) error {
	data, err := json.MarshalIndent(kv, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *stateFile) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kv, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := kv[key]
	return v, ok, nil
}

func (s *stateFile) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kv, err := s.load()
	if err != nil {
		return err
	}
	kv[key] = value
	return s.flush(kv)
}

func (s *stateFile) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kv, err := s.load()
	if err != nil {
		return err
	}
	delete(kv, key)
	return s.flush(kv)
}
