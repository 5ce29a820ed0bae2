package a2a

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/logging"
	"leadignite/api/internal/metrics"
)

// Router is an in-process Transport that delivers each message to the
// registered agent named by its recipient id.
type Router struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{agents: make(map[string]*Agent), logger: logging.OrNop(logger)}
}

// Register attaches a to the router. Agent ids are unique.
func (r *Router) Register(a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[a.ID()]; ok {
		return apperr.Conflict("AGENT_EXISTS", fmt.Sprintf("Agent %q is already registered", a.ID()))
	}
	r.agents[a.ID()] = a
	a.attach(r)
	return nil
}

func (r *Router) Agent(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, apperr.NotFound("Agent")
	}
	return a, nil
}

// Cards lists every registered agent's card, ordered by agent id.
func (r *Router) Cards() []AgentCard {
	r.mu.RLock()
	agents := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.RUnlock()
	cards := make([]AgentCard, 0, len(agents))
	for _, a := range agents {
		cards = append(cards, a.Card())
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].AgentID < cards[j].AgentID })
	return cards
}

func (r *Router) Send(ctx context.Context, msg Message) error {
	a, err := r.Agent(msg.RecipientID)
	if err != nil {
		metrics.A2AMessages.WithLabelValues(string(msg.Type), "undeliverable").Inc()
		r.logger.Warn("no agent for message", zap.String("recipient", msg.RecipientID), zap.String("type", string(msg.Type)))
		return err
	}
	if err := a.Receive(ctx, msg); err != nil {
		metrics.A2AMessages.WithLabelValues(string(msg.Type), "rejected").Inc()
		return err
	}
	metrics.A2AMessages.WithLabelValues(string(msg.Type), "delivered").Inc()
	return nil
}
