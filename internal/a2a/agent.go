package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/logging"
	"leadignite/api/internal/validate"
)

const (
	cardVersion        = "1.0.0"
	defaultTaskTimeout = 60 * time.Second
)

// TaskHandler runs a task for one capability and returns its result.
type TaskHandler func(ctx context.Context, task Task) (map[string]any, error)

// MessageHandler observes received messages of one type.
type MessageHandler func(ctx context.Context, msg Message) error

// Transport delivers a message to its recipient.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

var errDetached = errors.New("agent is not attached to a transport")

// Agent is one participant: it owns its capabilities, the tasks it has
// sent or received, and the conversations it has seen.
type Agent struct {
	id          string
	name        string
	description string
	logger      *zap.Logger
	now         func() time.Time
	timeout     time.Duration

	mu            sync.Mutex
	transport     Transport
	capabilities  map[string]Capability
	taskHandlers  map[string]TaskHandler
	msgHandlers   map[MessageType][]MessageHandler
	tasks         map[string]Task
	conversations map[string][]Message
	known         map[string]AgentCard
	taskWaiters   map[string]chan Task
	cardWaiters   map[string]chan AgentCard
}

func NewAgent(id, name, description string, logger *zap.Logger) *Agent {
	return &Agent{
		id:            id,
		name:          name,
		description:   description,
		logger:        logging.OrNop(logger).With(zap.String("agent_id", id)),
		now:           func() time.Time { return time.Now().UTC() },
		timeout:       defaultTaskTimeout,
		capabilities:  make(map[string]Capability),
		taskHandlers:  make(map[string]TaskHandler),
		msgHandlers:   make(map[MessageType][]MessageHandler),
		tasks:         make(map[string]Task),
		conversations: make(map[string][]Message),
		known:         make(map[string]AgentCard),
		taskWaiters:   make(map[string]chan Task),
		cardWaiters:   make(map[string]chan AgentCard),
	}
}

func (a *Agent) WithClock(now func() time.Time) *Agent {
	a.now = now
	return a
}

// WithTimeout bounds ExecuteTask and Discover; zero leaves only the
// caller's context.
func (a *Agent) WithTimeout(d time.Duration) *Agent {
	a.timeout = d
	return a
}

func (a *Agent) ID() string { return a.id }

func (a *Agent) attach(t Transport) {
	a.mu.Lock()
	a.transport = t
	a.mu.Unlock()
}

// RegisterCapability advertises c on the card and routes tasks for it to h.
func (a *Agent) RegisterCapability(c Capability, h TaskHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.capabilities[c.Name] = c
	if h != nil {
		a.taskHandlers[c.Name] = h
	}
}

func (a *Agent) OnMessage(t MessageType, h MessageHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgHandlers[t] = append(a.msgHandlers[t], h)
}

func (a *Agent) Card() AgentCard {
	a.mu.Lock()
	defer a.mu.Unlock()
	caps := make([]Capability, 0, len(a.capabilities))
	for _, c := range a.capabilities {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i].Name < caps[j].Name })
	return AgentCard{
		AgentID:      a.id,
		Name:         a.name,
		Description:  a.description,
		Capabilities: caps,
		Version:      cardVersion,
	}
}

func (a *Agent) Task(id string) (Task, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[id]
	return t, ok
}

// Conversation returns the messages seen in a conversation, oldest first.
func (a *Agent) Conversation(id string) []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Message(nil), a.conversations[id]...)
}

func (a *Agent) KnownAgent(id string) (AgentCard, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.known[id]
	return c, ok
}

// Receive processes one inbound message.
func (a *Agent) Receive(ctx context.Context, msg Message) error {
	if err := validate.Struct(msg); err != nil {
		return err
	}
	if !msg.Type.Valid() {
		return apperr.Invalid(fmt.Sprintf("Unknown message type %q", msg.Type), nil)
	}
	if msg.RecipientID != a.id {
		return apperr.Invalid("Message is addressed to another agent", nil)
	}
	if (msg.Type == MessageTask || msg.Type == MessageStatusUpdate) && msg.Task == nil {
		return apperr.Invalid(fmt.Sprintf("A %s message must include a task", msg.Type), nil)
	}

	a.mu.Lock()
	a.conversations[msg.ConversationID] = append(a.conversations[msg.ConversationID], msg)
	handlers := append([]MessageHandler(nil), a.msgHandlers[msg.Type]...)
	a.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			a.logger.Error("message handler failed", zap.String("type", string(msg.Type)), zap.Error(err))
		}
	}

	switch msg.Type {
	case MessageCapabilityDiscovery:
		return a.handleDiscovery(ctx, msg)
	case MessageStatusUpdate:
		a.handleStatusUpdate(*msg.Task)
	case MessageTask:
		a.handleTask(ctx, msg)
	}
	return nil
}

func (a *Agent) handleDiscovery(ctx context.Context, msg Message) error {
	replyTo, isReply := msg.Metadata[metaInReplyTo].(string)
	if !isReply {
		_, err := a.send(ctx, msg.SenderID, MessageCapabilityDiscovery,
			[]MessagePart{{ContentType: ContentJSON, Content: a.Card()}},
			msg.ConversationID, nil, map[string]any{metaInReplyTo: msg.MessageID})
		return err
	}
	if len(msg.Parts) == 0 {
		return apperr.Invalid("Discovery reply carries no agent card", nil)
	}
	card, err := decodeCard(msg.Parts[0].Content)
	if err != nil {
		return apperr.Invalid("Discovery reply carries a malformed agent card", nil)
	}
	a.mu.Lock()
	a.known[card.AgentID] = card
	ch, waiting := a.cardWaiters[replyTo]
	delete(a.cardWaiters, replyTo)
	a.mu.Unlock()
	if waiting {
		ch <- card
	}
	return nil
}

// decodeCard accepts either an in-process AgentCard or its JSON form.
func decodeCard(content any) (AgentCard, error) {
	if card, ok := content.(AgentCard); ok {
		return card, nil
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return AgentCard{}, err
	}
	var card AgentCard
	if err := json.Unmarshal(raw, &card); err != nil {
		return AgentCard{}, err
	}
	if card.AgentID == "" {
		return AgentCard{}, errors.New("missing agent_id")
	}
	return card, nil
}

func (a *Agent) handleStatusUpdate(update Task) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[update.TaskID]
	if !ok {
		a.logger.Debug("status update for unknown task", zap.String("task_id", update.TaskID))
		return
	}
	t.Status = update.Status
	t.UpdatedAt = a.now()
	if update.Result != nil {
		t.Result = update.Result
	}
	if update.Error != nil {
		t.Error = update.Error
	}
	a.tasks[t.TaskID] = t
	if t.Status.Terminal() {
		if ch, waiting := a.taskWaiters[t.TaskID]; waiting {
			delete(a.taskWaiters, t.TaskID)
			ch <- t
		}
	}
}

// handlerFor prefers the capability the sender asked for, then the first
// capability, by name, that appears as a parameter key.
func (a *Agent) handlerFor(task Task) TaskHandler {
	a.mu.Lock()
	defer a.mu.Unlock()
	if name, ok := task.Metadata[metaRequestedCapability].(string); ok {
		if h, ok := a.taskHandlers[name]; ok {
			return h
		}
	}
	names := make([]string, 0, len(a.taskHandlers))
	for name := range a.taskHandlers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := task.Parameters[name]; ok {
			return a.taskHandlers[name]
		}
	}
	return nil
}

func (a *Agent) handleTask(ctx context.Context, msg Message) {
	task := *msg.Task
	if task.Parameters == nil {
		task.Parameters = map[string]any{}
	}
	reply := func(t Task) {
		a.mu.Lock()
		a.tasks[t.TaskID] = t
		a.mu.Unlock()
		if err := a.sendStatus(ctx, t, msg.SenderID, msg.ConversationID); err != nil {
			a.logger.Warn("status update not delivered", zap.String("task_id", t.TaskID), zap.Error(err))
		}
	}

	h := a.handlerFor(task)
	if h == nil {
		task.Status = TaskFailed
		task.Error = map[string]any{"error": "No suitable handler found for this task"}
		task.UpdatedAt = a.now()
		reply(task)
		return
	}

	task.Status = TaskInProgress
	task.UpdatedAt = a.now()
	reply(task)

	result, err := h(ctx, task)
	task.UpdatedAt = a.now()
	if err != nil {
		task.Status = TaskFailed
		detail := map[string]any{"error": err.Error()}
		if ae, ok := apperr.As(err); ok {
			detail["type"] = ae.Code
		}
		task.Error = detail
		a.logger.Error("task failed", zap.String("task_id", task.TaskID), zap.Error(err))
	} else {
		task.Status = TaskCompleted
		task.Result = result
	}
	reply(task)
}

func (a *Agent) sendStatus(ctx context.Context, t Task, recipient, conversationID string) error {
	_, err := a.send(ctx, recipient, MessageStatusUpdate, []MessagePart{{
		ContentType: ContentJSON,
		Content: map[string]any{
			"task_id": t.TaskID,
			"status":  string(t.Status),
			"result":  t.Result,
			"error":   t.Error,
		},
	}}, conversationID, &t, nil)
	return err
}

// Send delivers a message from this agent. An empty conversation id starts
// a new conversation.
func (a *Agent) Send(ctx context.Context, recipient string, typ MessageType, parts []MessagePart, conversationID string) (Message, error) {
	return a.send(ctx, recipient, typ, parts, conversationID, nil, nil)
}

func (a *Agent) send(ctx context.Context, recipient string, typ MessageType, parts []MessagePart, conversationID string, task *Task, meta map[string]any) (Message, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	if parts == nil {
		parts = []MessagePart{}
	}
	msg := Message{
		MessageID:      uuid.NewString(),
		ConversationID: conversationID,
		Type:           typ,
		SenderID:       a.id,
		RecipientID:    recipient,
		Timestamp:      a.now(),
		Parts:          parts,
		Task:           task,
		Metadata:       meta,
	}
	return msg, a.deliver(ctx, msg)
}

func (a *Agent) deliver(ctx context.Context, msg Message) error {
	a.mu.Lock()
	t := a.transport
	a.conversations[msg.ConversationID] = append(a.conversations[msg.ConversationID], msg)
	a.mu.Unlock()
	if t == nil {
		return errDetached
	}
	a.logger.Debug("sending message", zap.String("to", msg.RecipientID), zap.String("type", string(msg.Type)))
	return t.Send(ctx, msg)
}

func (a *Agent) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout > 0 {
		return context.WithTimeout(ctx, a.timeout)
	}
	return context.WithCancel(ctx)
}

// Discover asks peer for its card and remembers it.
func (a *Agent) Discover(ctx context.Context, peer string) (AgentCard, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	msg := Message{
		MessageID:      uuid.NewString(),
		ConversationID: uuid.NewString(),
		Type:           MessageCapabilityDiscovery,
		SenderID:       a.id,
		RecipientID:    peer,
		Timestamp:      a.now(),
		Parts:          []MessagePart{},
	}
	ch := make(chan AgentCard, 1)
	a.mu.Lock()
	a.cardWaiters[msg.MessageID] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.cardWaiters, msg.MessageID)
		a.mu.Unlock()
	}()

	if err := a.deliver(ctx, msg); err != nil {
		return AgentCard{}, err
	}
	select {
	case card := <-ch:
		return card, nil
	case <-ctx.Done():
		return AgentCard{}, apperr.New(http.StatusGatewayTimeout, "DISCOVERY_TIMEOUT", "Agent did not answer discovery", nil)
	}
}

// ExecuteTask sends a task for capability to a discovered peer and waits
// for a terminal status. On timeout the task is marked failed locally.
func (a *Agent) ExecuteTask(ctx context.Context, peer, capability string, params map[string]any) (Task, error) {
	if _, ok := a.KnownAgent(peer); !ok {
		return Task{}, apperr.NotFound("Agent")
	}
	if params == nil {
		params = map[string]any{}
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	now := a.now()
	task := Task{
		TaskID:     uuid.NewString(),
		Status:     TaskPending,
		CreatedAt:  now,
		Parameters: params,
		Metadata:   map[string]any{metaRequestedCapability: capability},
	}
	ch := make(chan Task, 1)
	a.mu.Lock()
	a.tasks[task.TaskID] = task
	a.taskWaiters[task.TaskID] = ch
	a.mu.Unlock()

	parts := []MessagePart{{ContentType: ContentJSON, Content: map[string]any{"capability": capability}}}
	if _, err := a.send(ctx, peer, MessageTask, parts, "", &task, nil); err != nil {
		a.fail(task.TaskID, err.Error())
		return Task{}, err
	}

	select {
	case done := <-ch:
		return done, nil
	case <-ctx.Done():
		failed := a.fail(task.TaskID, "Task timed out")
		return failed, apperr.New(http.StatusGatewayTimeout, "TASK_TIMEOUT", fmt.Sprintf("Task %s timed out", task.TaskID), nil)
	}
}

func (a *Agent) fail(taskID, reason string) Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.taskWaiters, taskID)
	t := a.tasks[taskID]
	t.Status = TaskFailed
	t.Error = map[string]any{"error": reason}
	t.UpdatedAt = a.now()
	a.tasks[taskID] = t
	return t
}
