package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"burrow/internal/logging"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures the OpenAI-compatible client. Most self-hosted
// gateways (vLLM, Ollama, LiteLLM) speak the same dialect, so BaseURL is
// the only knob that usually changes.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type openaiClient struct {
	model      string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logging.Logger
}

// NewOpenAIClient builds a chat-completions client for the given model.
func NewOpenAIClient(model string, cfg OpenAIConfig) Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &openaiClient{
		model:      model,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger("LLM[" + model + "]"),
	}
}

func (c *openaiClient) Model() string { return c.model }

// wire types for the chat completions endpoint

type wireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *openaiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	body, err := json.Marshal(c.buildWireRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read completion response: %w", err)
	}

	var wire wireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, fmt.Errorf("parse completion response (status %d): %w", resp.StatusCode, err)
	}
	if wire.Error != nil {
		return nil, fmt.Errorf("provider error (%s): %s", wire.Error.Type, wire.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("completion request returned status %d", resp.StatusCode)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("completion response has no choices")
	}

	choice := wire.Choices[0]
	out := &CompletionResponse{
		StopReason: choice.FinishReason,
		Usage: TokenUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		},
	}
	if text, ok := choice.Message.Content.(string); ok {
		out.Content = text
	}
	for _, call := range choice.Message.ToolCalls {
		args := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				c.logger.Warn("tool call %s has unparsable arguments: %v", call.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

func (c *openaiClient) buildWireRequest(req CompletionRequest) wireRequest {
	wire := wireRequest{
		Model:       c.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, msg := range req.Messages {
		wire.Messages = append(wire.Messages, c.toWireMessage(msg))
	}
	for _, tool := range req.Tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = tool.Name
		wt.Function.Description = tool.Description
		wt.Function.Parameters = tool.Parameters
		wire.Tools = append(wire.Tools, wt)
	}
	return wire
}

func (c *openaiClient) toWireMessage(msg Message) wireMessage {
	out := wireMessage{Role: msg.Role, ToolCallID: msg.ToolCallID}

	// Multimodal turns become a structured content list; plain turns stay a
	// string so text-only backends are unaffected.
	if len(msg.Parts) > 0 {
		parts := make([]map[string]any, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			switch part.Type {
			case PartImage:
				url := part.ImageURL
				if !strings.Contains(url, "://") && !strings.HasPrefix(url, "data:") {
					if encoded, err := encodeImageFile(url); err == nil {
						url = encoded
					} else {
						c.logger.Warn("skipping unreadable image %s: %v", part.ImageURL, err)
						continue
					}
				}
				parts = append(parts, map[string]any{
					"type":      "image_url",
					"image_url": map[string]any{"url": url},
				})
			default:
				parts = append(parts, map[string]any{"type": "text", "text": part.Text})
			}
		}
		out.Content = parts
	} else {
		out.Content = msg.Content
	}

	for _, call := range msg.ToolCalls {
		args, _ := json.Marshal(call.Arguments)
		var wc wireToolCall
		wc.ID = call.ID
		wc.Type = "function"
		wc.Function.Name = call.Name
		wc.Function.Arguments = string(args)
		out.ToolCalls = append(out.ToolCalls, wc)
	}
	return out
}

// encodeImageFile turns a local media file into a base64 data URL.
func encodeImageFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
