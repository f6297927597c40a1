package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"laneassist/internal/config"
	"laneassist/internal/models"
)

const (
	FallbackReply = "I'm not sure how to respond to that. Could you rephrase your question?"
	Apology       = "I'm sorry, I'm having trouble processing your request right now. Please try again later."

	DefaultMaxRounds = 5
)

// State is a step of one conversation loop run.
type State string

const (
	StateAssemblingPrompt State = "assembling_prompt"
	StateAwaitingModel    State = "awaiting_model"
	StateToolCallsPending State = "tool_calls_pending"
	StateExecutingTools   State = "executing_tools"
	StateFinalized        State = "finalized"
)

var ErrMaxRounds = errors.New("tool round limit reached")

// Request is the input of one loop run.
type Request struct {
	Message models.InboundMessage
	Bundle  models.ContextBundle
}

// Result is the outcome of one loop run. Reply is always safe to send.
type Result struct {
	Reply     string
	Trace     []State
	ToolCalls []models.ToolInvocation
	Rounds    int
	Err       error
}

type LoopConfig struct {
	MaxRounds   int
	Timeout     time.Duration
	Temperature float32
	TopP        float32
}

func LoopConfigFrom(cfg *config.Config) LoopConfig {
	return LoopConfig{
		MaxRounds:   cfg.Model.MaxToolRounds,
		Timeout:     cfg.ModelTimeout(),
		Temperature: cfg.Model.Temperature,
		TopP:        cfg.Model.TopP,
	}
}

// Loop drives the model through tool calls until it produces a final answer.
type Loop struct {
	model    model.ToolCallingChatModel
	registry *Registry
	personas Personas
	cfg      LoopConfig
}

func NewLoop(chatModel model.ToolCallingChatModel, registry *Registry, personas Personas, cfg LoopConfig) *Loop {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultModelTimeout
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.1
	}
	if cfg.TopP <= 0 {
		cfg.TopP = 0.95
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Loop{model: chatModel, registry: registry, personas: personas, cfg: cfg}
}

type run struct {
	res    Result
	userID string
}

func (r *run) enter(s State) {
	r.res.Trace = append(r.res.Trace, s)
	slog.Debug("conversation state", "user_id", r.userID, "state", s, "round", r.res.Rounds)
}

func (r *run) fail(err error) Result {
	r.enter(StateFinalized)
	r.res.Reply = Apology
	r.res.Err = err
	return r.res
}

func (r *run) finish(content string) Result {
	r.enter(StateFinalized)
	content = strings.TrimSpace(content)
	if content == "" {
		content = FallbackReply
	}
	r.res.Reply = content
	return r.res
}

// Run produces a reply for req. It never returns an error; failures are reported
// in Result.Err and replaced by a generic apology.
func (l *Loop) Run(ctx context.Context, req Request) Result {
	r := &run{userID: req.Message.UserID}
	r.enter(StateAssemblingPrompt)

	if l.model == nil {
		return r.fail(errors.New("chat model not configured"))
	}
	segment := SegmentFor(req.Message.Channel, req.Bundle.Customer)
	msgs := []*schema.Message{
		schema.SystemMessage(l.personas.SystemPrompt(segment)),
		schema.UserMessage(BuildUserTurn(req.Message, req.Bundle)),
	}

	infos, err := l.registry.Infos(ctx)
	if err != nil {
		return r.fail(fmt.Errorf("tool catalog: %w", err))
	}
	var chat model.BaseChatModel = l.model
	if len(infos) > 0 {
		bound, err := l.model.WithTools(infos)
		if err != nil {
			return r.fail(fmt.Errorf("bind tools: %w", err))
		}
		chat = bound
	}

	for {
		r.enter(StateAwaitingModel)
		resp, err := l.generate(ctx, chat, msgs)
		if err != nil {
			return r.fail(err)
		}
		if len(resp.ToolCalls) == 0 {
			return r.finish(resp.Content)
		}

		r.enter(StateToolCallsPending)
		if r.res.Rounds >= l.cfg.MaxRounds {
			slog.Warn("tool round limit reached", "user_id", r.userID, "rounds", r.res.Rounds)
			r.res.Err = ErrMaxRounds
			return r.finish("")
		}
		r.res.Rounds++
		msgs = append(msgs, resp)

		r.enter(StateExecutingTools)
		for _, call := range resp.ToolCalls {
			msgs = append(msgs, l.execute(ctx, r, call))
		}
	}
}

func (l *Loop) generate(ctx context.Context, chat model.BaseChatModel, msgs []*schema.Message) (*schema.Message, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()
	resp, err := chat.Generate(callCtx, msgs,
		model.WithTemperature(l.cfg.Temperature),
		model.WithTopP(l.cfg.TopP),
	)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if resp == nil {
		return nil, errors.New("generate: empty response")
	}
	return resp, nil
}

// execute runs one tool call and returns the tool message answering it.
func (l *Loop) execute(ctx context.Context, r *run, call schema.ToolCall) *schema.Message {
	name := call.Function.Name
	inv := models.ToolInvocation{ID: call.ID, Name: name}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &inv.Arguments); err != nil {
			slog.Debug("tool arguments are not a json object", "user_id", r.userID, "tool", name, "error", err)
		}
	}
	r.res.ToolCalls = append(r.res.ToolCalls, inv)

	reply := func(content string) *schema.Message {
		return &schema.Message{Role: schema.Tool, Content: content, ToolCallID: call.ID, ToolName: name}
	}

	t, ok := l.registry.Lookup(name)
	if !ok {
		slog.Warn("model requested unknown tool", "user_id", r.userID, "tool", name)
		return reply(fmt.Sprintf("error: unknown tool %q", name))
	}
	args := call.Function.Arguments
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	out, err := t.InvokableRun(ctx, args)
	if err != nil {
		slog.Warn("tool failed", "user_id", r.userID, "tool", name, "error", err)
		return reply(fmt.Sprintf("error: %s: %v", name, err))
	}
	slog.Debug("tool finished", "user_id", r.userID, "tool", name)
	return reply(out)
}
