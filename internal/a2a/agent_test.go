package a2a

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadignite/api/internal/apperr"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type pair struct {
	router *Router
	client *Agent
	worker *Agent
}

func newPair(t *testing.T) pair {
	t.Helper()
	clock := func() time.Time { return testNow }
	router := NewRouter(nil)
	client := NewAgent("client", "Client", "asks for work", nil).WithClock(clock)
	worker := NewAgent("worker", "Worker", "does work", nil).WithClock(clock)
	worker.RegisterCapability(Capability{Name: "sum", Description: "adds numbers"},
		func(_ context.Context, task Task) (map[string]any, error) {
			total := 0.0
			for _, v := range task.Parameters["values"].([]any) {
				total += v.(float64)
			}
			return map[string]any{"total": total}, nil
		})
	worker.RegisterCapability(Capability{Name: "explode"},
		func(context.Context, Task) (map[string]any, error) {
			return nil, apperr.Invalid("cannot do that", nil)
		})
	require.NoError(t, router.Register(client))
	require.NoError(t, router.Register(worker))
	return pair{router: router, client: client, worker: worker}
}

func TestRouterRejectsDuplicateAgent(t *testing.T) {
	p := newPair(t)
	err := p.router.Register(NewAgent("worker", "Again", "", nil))
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err))

	cards := p.router.Cards()
	require.Len(t, cards, 2)
	assert.Equal(t, "client", cards[0].AgentID)
	assert.Equal(t, "1.0.0", cards[1].Version)
	assert.Equal(t, "explode", cards[1].Capabilities[0].Name)
}

func TestDiscoverStoresPeerCard(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	card, err := p.client.Discover(ctx, "worker")
	require.NoError(t, err)
	assert.Equal(t, "Worker", card.Name)
	require.Len(t, card.Capabilities, 2)

	known, ok := p.client.KnownAgent("worker")
	require.True(t, ok)
	assert.Equal(t, card, known)

	_, err = p.client.Discover(ctx, "ghost")
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}

func TestExecuteTaskCompletes(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	_, err := p.client.ExecuteTask(ctx, "worker", "sum", map[string]any{"values": []any{1.0, 2.0}})
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err), "peer must be discovered first")

	_, err = p.client.Discover(ctx, "worker")
	require.NoError(t, err)

	task, err := p.client.ExecuteTask(ctx, "worker", "sum", map[string]any{"values": []any{1.0, 2.0, 3.5}})
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, task.Status)
	assert.Equal(t, 6.5, task.Result["total"])

	remote, ok := p.worker.Task(task.TaskID)
	require.True(t, ok)
	assert.Equal(t, TaskCompleted, remote.Status)

	statuses := []TaskStatus{}
	for _, msg := range p.worker.Conversation(conversationOf(t, p.worker, task.TaskID)) {
		if msg.Type == MessageStatusUpdate {
			statuses = append(statuses, msg.Task.Status)
		}
	}
	assert.Equal(t, []TaskStatus{TaskInProgress, TaskCompleted}, statuses)
}

// conversationOf finds the conversation that carried taskID.
func conversationOf(t *testing.T, a *Agent, taskID string) string {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, msgs := range a.conversations {
		for _, m := range msgs {
			if m.Task != nil && m.Task.TaskID == taskID {
				return id
			}
		}
	}
	t.Fatalf("no conversation for task %s", taskID)
	return ""
}

func TestExecuteTaskReportsHandlerFailure(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	_, err := p.client.Discover(ctx, "worker")
	require.NoError(t, err)

	task, err := p.client.ExecuteTask(ctx, "worker", "explode", nil)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, task.Status)
	assert.Equal(t, "cannot do that", task.Error["error"])
	assert.Equal(t, "VALIDATION_FAILED", task.Error["type"])

	task, err = p.client.ExecuteTask(ctx, "worker", "translate", nil)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, task.Status)
	assert.Equal(t, "No suitable handler found for this task", task.Error["error"])
}

func TestTaskHandlerChosenByParameterKey(t *testing.T) {
	p := newPair(t)
	_, err := p.client.Discover(context.Background(), "worker")
	require.NoError(t, err)

	msg := Message{
		MessageID:      "m1",
		ConversationID: "c1",
		Type:           MessageTask,
		SenderID:       "client",
		RecipientID:    "worker",
		Task:           &Task{TaskID: "t1", Status: TaskPending, Parameters: map[string]any{"sum": true, "values": []any{4.0}}},
	}
	require.NoError(t, p.router.Send(context.Background(), msg))

	got, ok := p.worker.Task("t1")
	require.True(t, ok)
	assert.Equal(t, TaskCompleted, got.Status)
	assert.Equal(t, 4.0, got.Result["total"])
}

func TestExecuteTaskTimesOut(t *testing.T) {
	router := NewRouter(nil)
	client := NewAgent("client", "Client", "", nil).WithTimeout(20 * time.Millisecond)
	silent := NewAgent("silent", "Silent", "", nil)
	require.NoError(t, router.Register(client))
	require.NoError(t, router.Register(silent))
	_, err := client.Discover(context.Background(), "silent")
	require.NoError(t, err)

	// Tasks are swallowed: the worker never answers with a status update.
	silent.attach(transportFunc(func(context.Context, Message) error { return nil }))

	task, err := client.ExecuteTask(context.Background(), "silent", "anything", nil)
	assert.Equal(t, http.StatusGatewayTimeout, apperr.StatusOf(err))
	assert.Equal(t, TaskFailed, task.Status)
	assert.Equal(t, "Task timed out", task.Error["error"])
}

type transportFunc func(ctx context.Context, msg Message) error

func (f transportFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

func TestReceiveValidatesMessages(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	err := p.router.Send(ctx, Message{MessageID: "m", Type: "gossip", SenderID: "client", RecipientID: "worker"})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	err = p.router.Send(ctx, Message{MessageID: "m", Type: MessageStatusUpdate, SenderID: "client", RecipientID: "worker"})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	err = p.router.Send(ctx, Message{MessageID: "m", Type: MessageText, SenderID: "client", RecipientID: "worker",
		Parts: []MessagePart{{ContentType: "application/x-unknown", Content: "?"}}})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))
}

func TestMessageHandlersObserveTraffic(t *testing.T) {
	p := newPair(t)
	var seen []string
	p.worker.OnMessage(MessageText, func(_ context.Context, msg Message) error {
		seen = append(seen, msg.Parts[0].Content.(string))
		return errors.New("logged, not returned")
	})

	msg, err := p.client.Send(context.Background(), "worker", MessageText,
		[]MessagePart{{ContentType: ContentText, Content: "hello"}}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, seen)
	assert.Len(t, p.worker.Conversation(msg.ConversationID), 1)
	assert.Len(t, p.client.Conversation(msg.ConversationID), 1)

	detached := NewAgent("loner", "Loner", "", nil)
	_, err = detached.Send(context.Background(), "worker", MessageText, nil, "")
	assert.ErrorIs(t, err, errDetached)
}
