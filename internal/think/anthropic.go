// Package think provides the Anthropic-backed reasoning step for agents.
// Everything SDK-specific lives here; the rest of the system sees only the
// agentloop.Thinker interface.
package think

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ShayCichocki/hive/internal/agentloop"
)

// Config contains configuration for creating a Client.
type Config struct {
	// Model is the Claude model to use. Empty selects a default.
	Model anthropic.Model
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// MaxTokens caps the response size per step (0 = 8192).
	MaxTokens int64
}

// Client wraps the Anthropic SDK client with token tracking and implements
// agentloop.Thinker.
type Client struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64
	tools     []anthropic.ToolUnionParam
	tracker   *TokenTracker
}

// NewClient creates a new Anthropic-backed thinker.
func NewClient(cfg Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	return &Client{
		inner:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
		tools:     TeamworkTools(),
		tracker:   NewTokenTracker(),
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() anthropic.Model {
	return c.model
}

// Tracker returns the token tracker for this client.
func (c *Client) Tracker() *TokenTracker {
	return c.tracker
}

// SetTools replaces the action definitions offered to the model.
func (c *Client) SetTools(tools []anthropic.ToolUnionParam) {
	c.tools = tools
}

// Step makes one API call with the accumulated context. A response that ends
// the turn is a final answer; a tool-use response becomes the requested
// actions.
func (c *Client) Step(ctx context.Context, system string, turns []agentloop.Turn) (*agentloop.StepResult, error) {
	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: buildMessages(turns),
		Tools:    c.tools,
	})
	if err != nil {
		return nil, fmt.Errorf("API call failed: %w", err)
	}
	c.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	result := &agentloop.StepResult{}
	var textOutput string
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			textOutput += variant.Text
		case anthropic.ToolUseBlock:
			var args map[string]any
			if err := json.Unmarshal(variant.Input, &args); err != nil {
				args = map[string]any{}
			}
			result.Actions = append(result.Actions, agentloop.Action{
				ID:   variant.ID,
				Name: variant.Name,
				Args: args,
			})
		}
	}

	if resp.StopReason == anthropic.StopReasonEndTurn {
		result.Done = true
		result.Answer = textOutput
	}
	return result, nil
}

// buildMessages converts accumulated turns into SDK message params. Text
// turns become plain blocks; action rounds become tool_use and tool_result
// block pairs.
func buildMessages(turns []agentloop.Turn) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		var blocks []anthropic.ContentBlockParamUnion
		if turn.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(turn.Text))
		}
		for _, action := range turn.Actions {
			input, err := json.Marshal(action.Args)
			if err != nil {
				input = []byte("{}")
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(action.ID, input, action.Name))
		}
		for _, outcome := range turn.Outcomes {
			blocks = append(blocks, anthropic.NewToolResultBlock(outcome.ActionID, outcome.Content, outcome.IsError))
		}
		if len(blocks) == 0 {
			continue
		}
		if turn.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}
	return messages
}

// TeamworkTools returns the action definitions for teammate coordination:
// asking a teammate, replying to a request, and one-way notification.
func TeamworkTools() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{
		{
			OfTool: &anthropic.ToolParam{
				Name:        "ask_teammate",
				Description: anthropic.String("Send a request to a teammate and await their response. The response arrives later as a message."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]any{
						"to":      map[string]any{"type": "string", "description": "Teammate agent id"},
						"subject": map[string]any{"type": "string", "description": "Short subject line"},
						"body":    map[string]any{"type": "string", "description": "The question or request"},
					},
					Required: []string{"to", "body"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "reply",
				Description: anthropic.String("Answer a teammate's request, using the correlation id from their message."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]any{
						"correlation_id": map[string]any{"type": "string", "description": "Correlation id of the request being answered"},
						"ok":             map[string]any{"type": "boolean", "description": "Whether the request was fulfilled"},
						"body":           map[string]any{"type": "string", "description": "The answer"},
					},
					Required: []string{"correlation_id", "body"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "notify",
				Description: anthropic.String("Send one-way information to a teammate. No response is expected."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]any{
						"to":   map[string]any{"type": "string", "description": "Teammate agent id, or * for everyone"},
						"note": map[string]any{"type": "string", "description": "The information"},
					},
					Required: []string{"to", "note"},
				},
			},
		},
	}
}

// TokenTracker tracks token usage across API calls.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker creates a new token tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records token usage from an API call.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
}

// Total returns the total input and output tokens tracked.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of API calls made.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
