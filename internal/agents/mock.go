package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/BTreeMap/SalesPipe/internal/genai"
	"github.com/openai/openai-go"
)

// GeneratorCall records one GenerateWithTools invocation.
type GeneratorCall struct {
	Model     string
	Messages  []openai.ChatCompletionMessageParamUnion
	ToolNames []string
}

// ScriptedGenerator replays canned model turns in order. Once the script is
// exhausted it returns Fallback, or an error when Fallback is nil.
type ScriptedGenerator struct {
	mu       sync.Mutex
	Script   []*genai.ToolCallResponse
	Fallback *genai.ToolCallResponse
	Err      error
	Calls    []GeneratorCall
}

// Compile-time check that ScriptedGenerator implements Generator.
var _ Generator = (*ScriptedGenerator)(nil)

func NewScriptedGenerator(script ...*genai.ToolCallResponse) *ScriptedGenerator {
	return &ScriptedGenerator{Script: script}
}

func (g *ScriptedGenerator) GenerateWithTools(ctx context.Context, model string, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*genai.ToolCallResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Function.Name)
	}
	snapshot := append([]openai.ChatCompletionMessageParamUnion(nil), messages...)
	g.Calls = append(g.Calls, GeneratorCall{Model: model, Messages: snapshot, ToolNames: names})
	if g.Err != nil {
		return nil, g.Err
	}
	idx := len(g.Calls) - 1
	if idx < len(g.Script) {
		return g.Script[idx], nil
	}
	if g.Fallback != nil {
		return g.Fallback, nil
	}
	return nil, fmt.Errorf("script exhausted after %d calls", len(g.Script))
}

// CallCount returns the number of model calls made.
func (g *ScriptedGenerator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}

// Final is a model turn that ends the run with content.
func Final(content string) *genai.ToolCallResponse {
	return &genai.ToolCallResponse{Content: content}
}

// CallTool is a model turn that calls one tool with args marshaled to JSON.
func CallTool(id, name string, args interface{}) *genai.ToolCallResponse {
	raw, _ := json.Marshal(args)
	if args == nil {
		raw = []byte("{}")
	}
	return &genai.ToolCallResponse{ToolCalls: []genai.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: genai.FunctionCall{Name: name, Arguments: raw},
	}}}
}
