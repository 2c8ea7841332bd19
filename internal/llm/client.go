// Package llm talks to an OpenAI-compatible chat completions endpoint.
package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"

	"github.com/ctagard/lldb-agent/internal/agent"
	"github.com/ctagard/lldb-agent/internal/config"
	"github.com/ctagard/lldb-agent/pkg/types"
)

// Client implements agent.ModelCaller on top of openai-go
type Client struct {
	client openai.Client
	model  string
	log    *logrus.Entry
}

var _ agent.ModelCaller = (*Client)(nil)

// NewClient creates a client from the model configuration. Extra request
// options are appended after the configured ones.
func NewClient(cfg config.ModelConfig, logger *logrus.Entry, opts ...option.RequestOption) *Client {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	base := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		client: openai.NewClient(append(base, opts...)...),
		model:  cfg.Model,
		log:    logger.WithField("model", cfg.Model),
	}
}

// CallModel sends the history and the tool catalog and returns the first choice
func (c *Client) CallModel(ctx context.Context, history []types.ChatMessage, catalog []types.ToolDescriptor) (agent.ModelResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: toMessages(history),
	}
	if len(catalog) > 0 {
		params.Tools = toTools(catalog)
	}

	c.log.WithField("messages", len(params.Messages)).Debug("calling model")
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return agent.ModelResponse{}, err
	}
	if len(completion.Choices) == 0 {
		return agent.ModelResponse{}, fmt.Errorf("model returned no choices")
	}

	msg := completion.Choices[0].Message
	resp := agent.ModelResponse{Text: msg.Content}
	for _, call := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, types.ToolCallRequest{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	c.log.WithFields(logrus.Fields{
		"toolCalls": len(resp.ToolCalls),
		"finish":    completion.Choices[0].FinishReason,
	}).Debug("model replied")
	return resp, nil
}

// toMessages converts the history. A tool_result message expands into one
// tool message per result, keyed by the call ID.
func toMessages(history []types.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text))
		case types.RoleUser:
			out = append(out, openai.UserMessage(m.Text))
		case types.RoleAssistant:
			out = append(out, assistantMessage(m))
		case types.RoleToolResult:
			for _, r := range m.ToolResults {
				out = append(out, openai.ToolMessage(r.Content(), r.ID))
			}
		}
	}
	return out
}

func assistantMessage(m types.ChatMessage) openai.ChatCompletionMessageParamUnion {
	if len(m.ToolCalls) == 0 {
		return openai.AssistantMessage(m.Text)
	}
	param := openai.ChatCompletionAssistantMessageParam{}
	if m.Text != "" {
		param.Content.OfString = openai.String(m.Text)
	}
	for _, call := range m.ToolCalls {
		param.ToolCalls = append(param.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: call.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &param}
}

func toTools(catalog []types.ToolDescriptor) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(catalog))
	for _, d := range catalog {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  openai.FunctionParameters(d.Parameters),
			},
		})
	}
	return out
}
