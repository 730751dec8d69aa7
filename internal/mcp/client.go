// Package mcp implements a Model Context Protocol client over stdio. Each
// tool server an agent declares is spawned as a child process and spoken to
// with newline-delimited JSON-RPC.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"burrow/internal/async"
	"burrow/internal/logging"
	"burrow/pkg/types"
)

const protocolVersion = "2024-11-05"

const callTimeout = 30 * time.Second

// transport is the wire the client talks over. serverProcess implements it;
// tests substitute in-memory pipes.
type transport interface {
	write(data []byte) error
	reader() io.Reader
}

// ToolSchema is one tool as advertised by a server.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolResult is the outcome of a tools/call invocation.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one piece of tool result content.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Text flattens the textual content blocks of a result.
func (r *ToolResult) Text() string {
	var out string
	for _, block := range r.Content {
		if block.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += block.Text
		}
	}
	return out
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      serverInfo `json:"serverInfo"`
}

// Client is an MCP client bound to one tool server.
type Client struct {
	serverName string
	process    *serverProcess
	wire       transport
	ids        idGenerator

	mu          sync.RWMutex
	pending     map[any]chan *response
	initialized bool

	logger logging.Logger
}

// NewClient builds a client for the given tool server config. Start must be
// called before any tool operations.
func NewClient(cfg types.ToolServerConfig) *Client {
	proc := newServerProcess(cfg.Command, cfg.Args, cfg.Env)
	return &Client{
		serverName: cfg.Name,
		process:    proc,
		wire:       proc,
		pending:    make(map[any]chan *response),
		logger:     logging.NewComponentLogger(fmt.Sprintf("MCP[%s]", cfg.Name)),
	}
}

// Start spawns the server process and performs the initialize handshake.
func (c *Client) Start(ctx context.Context) error {
	if err := c.process.start(ctx); err != nil {
		return fmt.Errorf("start tool server %s: %w", c.serverName, err)
	}

	async.Go(c.logger, "mcp.readLoop", c.readLoop)

	if err := c.initialize(ctx); err != nil {
		_ = c.process.stop(5 * time.Second)
		return fmt.Errorf("initialize %s: %w", c.serverName, err)
	}
	return nil
}

// Stop shuts the server process down.
func (c *Client) Stop() error {
	return c.process.stop(5 * time.Second)
}

// ServerName returns the configured server name.
func (c *Client) ServerName() string { return c.serverName }

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo": map[string]any{
			"name":    "burrow",
			"version": "0.1.0",
		},
		"capabilities": map[string]any{},
	}

	result, err := c.call(ctx, "initialize", params)
	if err != nil {
		return err
	}

	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}
	if init.ProtocolVersion != protocolVersion {
		c.logger.Warn("protocol version mismatch: client=%s server=%s", protocolVersion, init.ProtocolVersion)
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	c.logger.Info("connected to %s v%s", init.ServerInfo.Name, init.ServerInfo.Version)

	if err := c.notify("notifications/initialized", nil); err != nil {
		c.logger.Warn("initialized notification failed: %v", err)
	}
	return nil
}

// ListTools fetches the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]ToolSchema, error) {
	if !c.isInitialized() {
		return nil, fmt.Errorf("client not initialized")
	}

	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var parsed struct {
		Tools []ToolSchema `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	c.logger.Debug("server %s exposes %d tools", c.serverName, len(parsed.Tools))
	return parsed.Tools, nil
}

// CallTool invokes one tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolResult, error) {
	if !c.isInitialized() {
		return nil, fmt.Errorf("client not initialized")
	}

	result, err := c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}

	var parsed ToolResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("parse tool result: %w", err)
	}
	return &parsed, nil
}

func (c *Client) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	id := c.ids.next()

	data, err := json.Marshal(newRequest(id, method, params))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	respChan := make(chan *response, 1)
	c.mu.Lock()
	c.pending[id] = respChan
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.logger.Debug("-> %s id=%v", method, id)
	if err := c.wire.write(data); err != nil {
		return nil, err
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s cancelled: %w", method, ctx.Err())
	case <-time.After(callTimeout):
		return nil, fmt.Errorf("%s timed out after %v", method, callTimeout)
	}
}

func (c *Client) notify(method string, params map[string]any) error {
	data, err := json.Marshal(newNotification(method, params))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return c.wire.write(append(data, '\n'))
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.wire.reader())
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp, err := decodeResponse(line)
		if err != nil {
			c.logger.Error("bad response from %s: %v", c.serverName, err)
			continue
		}
		if resp.ID == nil {
			// Server-initiated notification; nothing to route.
			continue
		}

		c.mu.RLock()
		ch, ok := c.pending[resp.ID]
		c.mu.RUnlock()
		if !ok {
			c.logger.Warn("no pending call for response id=%v", resp.ID)
			continue
		}
		select {
		case ch <- resp:
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Debug("read loop ended: %v", err)
	}
}

func (c *Client) isInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}
