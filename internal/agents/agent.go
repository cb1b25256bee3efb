// Package agents runs the LLM-backed conversational agents of SalesPipe:
// a triage agent that hands off to a product or a support specialist.
package agents

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
)

// Tool is a function the model can call during a run.
type Tool interface {
	Name() string
	Definition() openai.ChatCompletionToolParam
	// Execute runs the tool and returns the content fed back to the model.
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Agent is an instruction set with optional tools and handoff targets.
type Agent struct {
	Name               string
	Instructions       string
	HandoffDescription string
	// Model overrides the runner's default model when set.
	Model    string
	Tools    []Tool
	Handoffs []*Agent
}

// HandoffToolName is the function name that transfers control to a.
func (a *Agent) HandoffToolName() string {
	return "transfer_to_" + snakeCase(a.Name)
}

func (a *Agent) handoffDefinition() openai.ChatCompletionToolParam {
	desc := "Transfere a conversa para " + a.Name + "."
	if a.HandoffDescription != "" {
		desc += " " + a.HandoffDescription
	}
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        a.HandoffToolName(),
			Description: openai.String(desc),
			Parameters: shared.FunctionParameters{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// toolDefinitions lists the function tools and handoffs exposed to the model.
func (a *Agent) toolDefinitions() []openai.ChatCompletionToolParam {
	defs := make([]openai.ChatCompletionToolParam, 0, len(a.Tools)+len(a.Handoffs))
	for _, t := range a.Tools {
		defs = append(defs, t.Definition())
	}
	for _, h := range a.Handoffs {
		defs = append(defs, h.handoffDefinition())
	}
	return defs
}

func (a *Agent) findTool(name string) Tool {
	for _, t := range a.Tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

func (a *Agent) findHandoff(name string) *Agent {
	for _, h := range a.Handoffs {
		if h.HandoffToolName() == name {
			return h
		}
	}
	return nil
}

func snakeCase(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
