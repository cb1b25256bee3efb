package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/reply"
	"github.com/BTreeMap/SalesPipe/internal/store"
)

// ProcessingErrorText replaces the reply when routing fails.
const ProcessingErrorText = "Desculpe, houve um problema ao processar sua mensagem. Como posso ajudar?"

// imageIntentKeywords send a text straight to the product agent.
var imageIntentKeywords = []string{"imagem", "foto"}

// RunObserver receives one observation per agent run.
type RunObserver interface {
	ObserveAgentRun(agent, status string)
}

// Request is one canonical inbound message to route.
type Request struct {
	RemoteJID string
	ThreadID  string
	Modality  models.Modality
	Text      string
	History   string
}

// Router picks the entry agent for a message and returns its parsed reply.
type Router struct {
	runner   *Runner
	agents   *Set
	threads  store.ThreadRepo
	observer RunObserver
}

// NewRouter creates a Router. observer may be nil.
func NewRouter(runner *Runner, agents *Set, threads store.ThreadRepo, observer RunObserver) *Router {
	return &Router{runner: runner, agents: agents, threads: threads, observer: observer}
}

// Route records the user turn, runs the entry agent and parses its output.
// Images and image requests go to the product agent, everything else to
// triage. Failures become a ProcessingErrorText reply.
func (r *Router) Route(ctx context.Context, req Request) models.Reply {
	agent, input := r.selectAgent(req)

	if err := r.threads.AppendMessage(ctx, req.ThreadID, models.RoleUser, req.Text); err != nil {
		slog.Error("Router.Route: failed to record user turn", "remoteJID", req.RemoteJID, "threadID", req.ThreadID, "error", err)
		r.observe(agent.Name, "error")
		return models.TextReply{Text: ProcessingErrorText}
	}

	res, err := r.runner.Run(WithRecipient(ctx, req.RemoteJID), agent, input)
	if err != nil {
		slog.Error("Router.Route: agent run failed", "remoteJID", req.RemoteJID, "agent", agent.Name, "error", err)
		r.observe(agent.Name, "error")
		return models.TextReply{Text: ProcessingErrorText}
	}
	r.observe(agent.Name, "ok")
	slog.Debug("Router.Route: agent output", "remoteJID", req.RemoteJID, "agent", agent.Name, "lastAgent", res.LastAgent, "output", res.FinalOutput)
	return reply.Parse(res.FinalOutput)
}

func (r *Router) selectAgent(req Request) (*Agent, string) {
	if req.Modality == models.ModalityImage {
		return r.agents.Product, req.Text
	}
	input := fmt.Sprintf("Histórico da conversa:\n%s\n\nNova mensagem: %s", req.History, req.Text)
	lower := strings.ToLower(req.Text)
	for _, kw := range imageIntentKeywords {
		if strings.Contains(lower, kw) {
			return r.agents.Product, input
		}
	}
	return r.agents.Triage, input
}

func (r *Router) observe(agent, status string) {
	if r.observer != nil {
		r.observer.ObserveAgentRun(agent, status)
	}
}
