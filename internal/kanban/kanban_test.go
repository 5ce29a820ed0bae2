package kanban

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadignite/api/internal/apperr"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newBoard(t *testing.T) (*Registry, Board) {
	t.Helper()
	r := NewRegistry(nil, nil).WithClock(func() time.Time { return testNow })
	b, err := r.CreateBoard(context.Background(), CreateBoardRequest{
		Name:           "Sales pipeline",
		OrganizationID: "org_1",
		CreatedBy:      "usr_owner",
		DefaultColumns: true,
	})
	require.NoError(t, err)
	return r, b
}

func stateNamed(t *testing.T, b Board, name string) State {
	t.Helper()
	for _, s := range b.States {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no column %q", name)
	return State{}
}

func TestAddStateValidation(t *testing.T) {
	b := Board{ID: "board_1"}

	s, err := b.AddState(State{Name: "  Review  ", Order: 2}, testNow)
	require.NoError(t, err)
	assert.Equal(t, "Review", s.Name)
	assert.Equal(t, "#e0e0e0", s.Color)
	assert.Equal(t, ColumnDefault, s.Type)
	assert.Equal(t, "board_1", s.BoardID)

	_, err = b.AddState(State{Name: "   "}, testNow)
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	_, err = b.AddState(State{Name: "Neg", Order: -1}, testNow)
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	zero := 0
	_, err = b.AddState(State{Name: "Auto", AutoArchiveDays: &zero}, testNow)
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	_, err = b.AddState(State{Name: "Bad color", Color: "red"}, testNow)
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	first, err := b.AddState(State{Name: "First", Order: 0}, testNow)
	require.NoError(t, err)
	assert.Equal(t, first.ID, b.States[0].ID, "columns stay ordered")
}

func TestTasksInStateOrdering(t *testing.T) {
	_, b := newBoard(t)
	todo := stateNamed(t, b, "To Do")

	add := func(title string, p Priority, at time.Time) Task {
		task, err := b.AddTask(Task{Title: title, StateID: todo.ID, Priority: p, ReporterID: "usr_owner"}, at)
		require.NoError(t, err)
		return task
	}
	add("later low", PriorityLow, testNow)
	add("old medium", PriorityMedium, testNow.Add(-time.Hour))
	add("new medium", PriorityMedium, testNow)
	add("critical", PriorityCritical, testNow.Add(time.Hour))

	got := b.TasksInState(todo.ID)
	titles := make([]string, 0, len(got))
	for _, task := range got {
		titles = append(titles, task.Title)
	}
	assert.Equal(t, []string{"critical", "old medium", "new medium", "later low"}, titles)

	_, err := b.AddTask(Task{Title: "", StateID: todo.ID}, testNow)
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))
	_, err = b.AddTask(Task{Title: "orphan", StateID: "col_missing"}, testNow)
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))
}

func TestAIActionable(t *testing.T) {
	conf := 0.8
	task := Task{
		Type:         TaskAISuggested,
		AIActionType: ActionFollowUpEmail,
		Status:       StatusPendingAIExecution,
		AIMetadata:   TaskMetadata{AIConfidence: &conf},
	}
	assert.True(t, task.IsAIActionable())

	manual := task
	manual.Type = TaskManual
	assert.False(t, manual.IsAIActionable())

	noAction := task
	noAction.AIActionType = ""
	assert.False(t, noAction.IsAIActionable())

	task.MarkCompleted(testNow)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.False(t, task.IsAIActionable())
}

func TestAIConfidenceRange(t *testing.T) {
	_, b := newBoard(t)
	intake := stateNamed(t, b, "Intake")
	bad := 1.5
	_, err := b.AddTask(Task{Title: "x", StateID: intake.ID, AIMetadata: TaskMetadata{AIConfidence: &bad}}, testNow)
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	ok := 0.4
	task, err := b.AddTask(Task{Title: "x", StateID: intake.ID, Type: TaskAIAutomated, AIMetadata: TaskMetadata{AIConfidence: &ok}}, testNow)
	require.NoError(t, err)
	assert.True(t, task.IsAIGenerated)
	assert.Len(t, b.AISuggestedTasks(), 1)
}

func TestMoveAndTasksForUser(t *testing.T) {
	_, b := newBoard(t)
	todo := stateNamed(t, b, "To Do")
	doing := stateNamed(t, b, "In Progress")
	task, err := b.AddTask(Task{Title: "Call lead", StateID: todo.ID, AssigneeID: "usr_a"}, testNow)
	require.NoError(t, err)

	require.NoError(t, b.MoveTask(task.ID, doing.ID, testNow))
	assert.Len(t, b.TasksInState(doing.ID), 1)
	assert.Empty(t, b.TasksInState(todo.ID))

	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(b.MoveTask(task.ID, "col_missing", testNow)))
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(b.MoveTask("task_missing", doing.ID, testNow)))

	assert.Len(t, b.TasksForUser("usr_a"), 1)
	assert.Empty(t, b.TasksForUser("usr_b"))
}

func TestArchiveStale(t *testing.T) {
	_, b := newBoard(t)
	done := stateNamed(t, b, "Done")
	archive := stateNamed(t, b, "Archive")

	old, err := b.AddTask(Task{Title: "old", StateID: done.ID}, testNow.AddDate(0, 0, -40))
	require.NoError(t, err)
	require.NoError(t, b.CompleteTask(old.ID, testNow.AddDate(0, 0, -31)))
	recent, err := b.AddTask(Task{Title: "recent", StateID: done.ID}, testNow)
	require.NoError(t, err)
	require.NoError(t, b.CompleteTask(recent.ID, testNow.AddDate(0, 0, -2)))

	seven := 7
	b.States[0].AutoArchiveDays = &seven // Intake
	_, err = b.AddTask(Task{Title: "idle intake", StateID: b.States[0].ID}, testNow.AddDate(0, 0, -8))
	require.NoError(t, err)

	assert.Equal(t, 2, b.ArchiveStale(testNow))
	names := make([]string, 0)
	for _, task := range b.TasksInState(archive.ID) {
		names = append(names, task.Title)
	}
	assert.ElementsMatch(t, []string{"old", "idle intake"}, names)
	assert.Equal(t, 0, b.ArchiveStale(testNow))
}

func TestRegistryAddBoardRejectsDuplicate(t *testing.T) {
	r, b := newBoard(t)
	err := r.AddBoard(context.Background(), b)
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err))
}

func TestNewMemberPermissions(t *testing.T) {
	admin := NewMember("u", MemberAdmin, testNow)
	assert.True(t, admin.CanEdit && admin.CanInvite && admin.CanConfigure)
	editor := NewMember("u", MemberEditor, testNow)
	assert.True(t, editor.CanEdit)
	assert.False(t, editor.CanInvite)
	other := NewMember("u", "owner", testNow)
	assert.Equal(t, MemberViewer, other.Role)
	assert.False(t, other.CanEdit)
}

func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, time.Minute), s
}

func TestUserBoardsUsesRedisCache(t *testing.T) {
	ctx := context.Background()
	cache, s := setupRedisCache(t)
	r := NewRegistry(cache, nil).WithClock(func() time.Time { return testNow })

	alpha, err := r.CreateBoard(ctx, CreateBoardRequest{Name: "Alpha", OrganizationID: "org", CreatedBy: "usr_a"})
	require.NoError(t, err)

	boards, err := r.UserBoards(ctx, "usr_a")
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.True(t, s.Exists(redisCachePrefix+"usr_a"), "lookup populates the cache")
	assert.Equal(t, time.Minute, s.TTL(redisCachePrefix+"usr_a"))

	// A new board for the same user clears the cached list.
	_, err = r.CreateBoard(ctx, CreateBoardRequest{Name: "Beta", OrganizationID: "org", CreatedBy: "usr_a"})
	require.NoError(t, err)
	assert.False(t, s.Exists(redisCachePrefix+"usr_a"))

	boards, err = r.UserBoards(ctx, "usr_a")
	require.NoError(t, err)
	require.Len(t, boards, 2)
	assert.Equal(t, "Alpha", boards[0].Name)

	_, err = r.UserBoards(ctx, "usr_b")
	require.NoError(t, err)
	assert.True(t, s.Exists(redisCachePrefix+"usr_b"), "empty results are cached too")

	_, err = r.AddMember(ctx, alpha.ID, "usr_b", MemberEditor)
	require.NoError(t, err)
	assert.False(t, s.Exists(redisCachePrefix+"usr_b"))
	boards, err = r.UserBoards(ctx, "usr_b")
	require.NoError(t, err)
	assert.Len(t, boards, 1)

	_, err = r.RemoveMember(ctx, alpha.ID, "usr_b")
	require.NoError(t, err)
	boards, err = r.UserBoards(ctx, "usr_b")
	require.NoError(t, err)
	assert.Empty(t, boards)
}

// racingCache runs beforeSet once, between the registry's scan and the
// cache write.
type racingCache struct {
	*memoryCache
	beforeSet func()
}

func (c *racingCache) Set(ctx context.Context, userID string, boardIDs []string) error {
	if fn := c.beforeSet; fn != nil {
		c.beforeSet = nil
		fn()
	}
	return c.memoryCache.Set(ctx, userID, boardIDs)
}

func TestUserBoardsDropsFillThatRacedMembershipChange(t *testing.T) {
	ctx := context.Background()
	cache := &racingCache{memoryCache: newMemoryCache()}
	r := NewRegistry(cache, nil).WithClock(func() time.Time { return testNow })
	alpha, err := r.CreateBoard(ctx, CreateBoardRequest{Name: "Alpha", OrganizationID: "org", CreatedBy: "usr_a"})
	require.NoError(t, err)

	cache.beforeSet = func() {
		_, err := r.AddMember(ctx, alpha.ID, "usr_b", MemberEditor)
		require.NoError(t, err)
	}
	boards, err := r.UserBoards(ctx, "usr_b")
	require.NoError(t, err)
	assert.Empty(t, boards, "scan ran before the member was added")

	_, cached, err := cache.Get(ctx, "usr_b")
	require.NoError(t, err)
	assert.False(t, cached, "stale fill is dropped")

	boards, err = r.UserBoards(ctx, "usr_b")
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.Equal(t, alpha.ID, boards[0].ID)
}

func TestUserBoardsFallsBackWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	cache, s := setupRedisCache(t)
	r := NewRegistry(cache, nil)
	_, err := r.CreateBoard(ctx, CreateBoardRequest{Name: "Alpha", OrganizationID: "org", CreatedBy: "usr_a"})
	require.NoError(t, err)

	s.Close()
	boards, err := r.UserBoards(ctx, "usr_a")
	require.NoError(t, err)
	assert.Len(t, boards, 1)
}

func TestRegistryArchiveStale(t *testing.T) {
	ctx := context.Background()
	r, b := newBoard(t)
	done := stateNamed(t, b, "Done")
	_, err := r.Update(ctx, b.ID, func(b *Board, now time.Time) error {
		task, err := b.AddTask(Task{Title: "shipped", StateID: done.ID}, now.AddDate(0, 0, -60))
		if err != nil {
			return err
		}
		return b.CompleteTask(task.ID, now.AddDate(0, 0, -45))
	})
	require.NoError(t, err)

	moved, err := r.ArchiveStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
}
