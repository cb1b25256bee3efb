package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/SalesPipe/internal/genai"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
)

// DefaultMaxTurns bounds the model calls of one run.
const DefaultMaxTurns = 10

// ErrMaxTurnsExceeded is returned when a run does not settle within the turn limit.
var ErrMaxTurnsExceeded = errors.New("agent run exceeded maximum turns")

// Generator is the part of the GenAI client the runner needs.
type Generator interface {
	GenerateWithTools(ctx context.Context, model string, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*genai.ToolCallResponse, error)
}

// RunResult is the outcome of a run.
type RunResult struct {
	FinalOutput string
	// LastAgent is the agent that produced FinalOutput.
	LastAgent string
	Turns     int
}

// Runner drives the tool loop of an agent, following handoffs.
type Runner struct {
	gen      Generator
	model    string
	maxTurns int
}

func NewRunner(gen Generator, model string) *Runner {
	if model == "" {
		model = genai.DefaultModel
	}
	return &Runner{gen: gen, model: model, maxTurns: DefaultMaxTurns}
}

// Run sends input to agent and loops until a turn ends without tool calls.
// A handoff swaps the system instructions and tools for the target agent's
// and keeps the conversation accumulated so far.
func (r *Runner) Run(ctx context.Context, agent *Agent, input string) (*RunResult, error) {
	if agent == nil {
		return nil, fmt.Errorf("nil agent")
	}
	current := agent
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(current.Instructions),
		openai.UserMessage(input),
	}

	for turn := 1; turn <= r.maxTurns; turn++ {
		model := current.Model
		if model == "" {
			model = r.model
		}
		slog.Debug("Runner.Run: turn start", "agent", current.Name, "turn", turn, "messageCount", len(messages))

		resp, err := r.gen.GenerateWithTools(ctx, model, messages, current.toolDefinitions())
		if err != nil {
			return nil, fmt.Errorf("%s: generate: %w", current.Name, err)
		}
		if len(resp.ToolCalls) == 0 {
			slog.Info("Runner.Run: final output", "agent", current.Name, "turn", turn, "outputLength", len(resp.Content))
			return &RunResult{FinalOutput: resp.Content, LastAgent: current.Name, Turns: turn}, nil
		}

		messages = append(messages, assistantWithToolCalls(resp))
		var next *Agent
		for _, call := range resp.ToolCalls {
			if target := current.findHandoff(call.Function.Name); target != nil {
				slog.Info("Runner.Run: handoff", "from", current.Name, "to", target.Name)
				out, _ := json.Marshal(map[string]string{"assistant": target.Name})
				messages = append(messages, openai.ToolMessage(string(out), call.ID))
				if next == nil {
					next = target
				}
				continue
			}
			messages = append(messages, openai.ToolMessage(r.execute(ctx, current, call), call.ID))
		}
		if next != nil {
			current = next
			messages[0] = openai.SystemMessage(current.Instructions)
		}
	}

	slog.Warn("Runner.Run: hit maximum turns", "agent", current.Name, "maxTurns", r.maxTurns)
	return nil, ErrMaxTurnsExceeded
}

// execute runs one function tool. Failures are reported to the model as a JSON error.
func (r *Runner) execute(ctx context.Context, agent *Agent, call genai.ToolCall) string {
	tool := agent.findTool(call.Function.Name)
	if tool == nil {
		slog.Warn("Runner.execute: unknown tool", "agent", agent.Name, "tool", call.Function.Name)
		return errorJSON(fmt.Sprintf("ferramenta desconhecida: %s", call.Function.Name))
	}
	slog.Info("Runner.execute: executing tool", "agent", agent.Name, "tool", call.Function.Name, "toolCallID", call.ID)
	out, err := tool.Execute(ctx, call.Function.Arguments)
	if err != nil {
		slog.Error("Runner.execute: tool failed", "agent", agent.Name, "tool", call.Function.Name, "error", err)
		return errorJSON(err.Error())
	}
	return out
}

func assistantWithToolCalls(resp *genai.ToolCallResponse) openai.ChatCompletionMessageParamUnion {
	toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: string(tc.Function.Arguments),
			},
		})
	}
	msg := openai.ChatCompletionAssistantMessageParam{
		Content: openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: param.NewOpt(resp.Content),
		},
		ToolCalls: toolCalls,
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &msg}
}

func errorJSON(msg string) string {
	out, _ := json.Marshal(map[string]string{"error": msg})
	return string(out)
}
