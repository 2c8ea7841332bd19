package agent

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ctagard/lldb-agent/internal/errors"
	"github.com/ctagard/lldb-agent/pkg/types"
)

// ModelResponse is one reply of the language model
type ModelResponse struct {
	Text      string
	ToolCalls []types.ToolCallRequest
}

// ModelCaller sends the history and the tool catalog to a language model
type ModelCaller interface {
	CallModel(ctx context.Context, history []types.ChatMessage, tools []types.ToolDescriptor) (ModelResponse, error)
}

// ToolExecutor runs tool calls. *tools.Dispatcher implements it.
type ToolExecutor interface {
	Catalog() []types.ToolDescriptor
	Execute(ctx context.Context, req types.ToolCallRequest) types.ToolCallResult
}

// Orchestrator drives one model turn at a time
type Orchestrator struct {
	model ModelCaller
	tools ToolExecutor
	log   *logrus.Entry
}

// NewOrchestrator creates an orchestrator. A nil logger uses the standard logger.
func NewOrchestrator(model ModelCaller, tools ToolExecutor, logger *logrus.Entry) *Orchestrator {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{model: model, tools: tools, log: logger}
}

// HandleTurn appends userText to conv, asks the model for a reply, runs the
// requested tool calls in order and records their results. It returns the
// model's text. If the model call fails the user message stays in the
// history and no assistant message is added.
func (o *Orchestrator) HandleTurn(ctx context.Context, userText string, conv *Conversation) (string, error) {
	resp, _, err := o.turn(ctx, userText, conv)
	return resp.Text, err
}

func (o *Orchestrator) turn(ctx context.Context, userText string, conv *Conversation) (ModelResponse, []types.ToolCallResult, error) {
	conv.Append(types.UserMessage(userText))

	resp, err := o.model.CallModel(ctx, conv.Messages(), o.tools.Catalog())
	if err != nil {
		if ctx.Err() != nil {
			return ModelResponse{}, nil, errors.Cancelled("model call", ctx.Err())
		}
		return ModelResponse{}, nil, errors.ModelCallFailed(err)
	}

	conv.Append(types.AssistantMessage(resp.Text, resp.ToolCalls))
	if len(resp.ToolCalls) == 0 {
		return resp, nil, nil
	}

	results := make([]types.ToolCallResult, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		result := o.tools.Execute(ctx, call)
		o.log.WithFields(logrus.Fields{
			"tool":  call.Name,
			"error": result.IsError(),
		}).Info("tool call executed")
		results = append(results, result)
	}
	conv.Append(types.ToolResultMessage(results))

	return resp, results, nil
}
