package kanban

import (
	"sort"
	"strings"
	"time"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/util"
	"leadignite/api/internal/validate"
)

func (b *Board) State(id string) (*State, bool) {
	for i := range b.States {
		if b.States[i].ID == id {
			return &b.States[i], true
		}
	}
	return nil, false
}

func (b *Board) Task(id string) (*Task, bool) {
	for i := range b.Tasks {
		if b.Tasks[i].ID == id {
			return &b.Tasks[i], true
		}
	}
	return nil, false
}

func (b *Board) Member(userID string) (Member, bool) {
	for _, m := range b.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

// archiveState returns the first active archive column.
func (b *Board) archiveState() (*State, bool) {
	for i := range b.States {
		if b.States[i].Type == ColumnArchive && b.States[i].IsActive {
			return &b.States[i], true
		}
	}
	return nil, false
}

// AddState validates and appends a column, filling id, color and type
// defaults.
func (b *Board) AddState(s State, now time.Time) (State, error) {
	s.Name = strings.TrimSpace(s.Name)
	if err := validate.Struct(s); err != nil {
		return State{}, err
	}
	if s.ID == "" {
		s.ID = util.NewID("col")
	}
	if _, exists := b.State(s.ID); exists {
		return State{}, apperr.Conflict("STATE_EXISTS", "A column with this id already exists")
	}
	if s.Color == "" {
		s.Color = defaultColor
	}
	if s.Type == "" {
		s.Type = ColumnDefault
	}
	s.BoardID = b.ID
	s.IsActive = true
	s.CreatedAt = now
	s.UpdatedAt = now
	b.States = append(b.States, s)
	sort.SliceStable(b.States, func(i, j int) bool { return b.States[i].Order < b.States[j].Order })
	b.UpdatedAt = now
	return s, nil
}

// AddTask validates and places a task in its column. Status defaults to
// pending_user_action and type to manual; priority is taken as given.
func (b *Board) AddTask(t Task, now time.Time) (Task, error) {
	t.Title = strings.TrimSpace(t.Title)
	if err := validate.Struct(t); err != nil {
		return Task{}, err
	}
	if _, ok := b.State(t.StateID); !ok {
		return Task{}, apperr.Invalid("state_id does not belong to this board", nil)
	}
	if t.ID == "" {
		t.ID = util.NewID("task")
	}
	if _, exists := b.Task(t.ID); exists {
		return Task{}, apperr.Conflict("TASK_EXISTS", "A task with this id already exists")
	}
	if t.Type == "" {
		t.Type = TaskManual
	}
	if t.Status == "" {
		t.Status = StatusPendingUserAction
	}
	if t.Type == TaskAISuggested || t.Type == TaskAIAutomated {
		t.IsAIGenerated = true
	}
	t.BoardID = b.ID
	t.CreatedAt = now
	t.UpdatedAt = now
	b.Tasks = append(b.Tasks, t)
	b.UpdatedAt = now
	return t, nil
}

func (b *Board) MoveTask(taskID, stateID string, now time.Time) error {
	t, ok := b.Task(taskID)
	if !ok {
		return apperr.NotFound("Task")
	}
	st, ok := b.State(stateID)
	if !ok {
		return apperr.NotFound("Column")
	}
	if !st.IsActive {
		return apperr.Conflict("STATE_INACTIVE", "Column is not active")
	}
	t.StateID = stateID
	t.UpdatedAt = now
	b.UpdatedAt = now
	return nil
}

// CompleteTask marks a task completed without moving it.
func (b *Board) CompleteTask(taskID string, now time.Time) error {
	t, ok := b.Task(taskID)
	if !ok {
		return apperr.NotFound("Task")
	}
	t.MarkCompleted(now)
	b.UpdatedAt = now
	return nil
}

// TasksInState returns tasks of a column ordered by priority, then age.
func (b *Board) TasksInState(stateID string) []Task {
	out := make([]Task, 0)
	for _, t := range b.Tasks {
		if t.StateID == stateID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (b *Board) AISuggestedTasks() []Task {
	out := make([]Task, 0)
	for _, t := range b.Tasks {
		if t.IsAIGenerated {
			out = append(out, t)
		}
	}
	return out
}

// AIActionableTasks returns the tasks an AI worker may pick up now.
func (b *Board) AIActionableTasks() []Task {
	out := make([]Task, 0)
	for _, t := range b.Tasks {
		if t.IsAIActionable() {
			out = append(out, t)
		}
	}
	return out
}

func (b *Board) TasksForUser(userID string) []Task {
	out := make([]Task, 0)
	for _, t := range b.Tasks {
		if t.AssigneeID == userID {
			out = append(out, t)
		}
	}
	return out
}

// ArchiveStale moves tasks into the archive column and returns how many
// moved. Completed tasks go once they are older than the board's
// archive_after_days; any task goes once it has sat in a column longer than
// that column's auto_archive_days.
func (b *Board) ArchiveStale(now time.Time) int {
	archive, ok := b.archiveState()
	if !ok {
		return 0
	}
	boardCutoff := now.AddDate(0, 0, -b.Settings.ArchiveAfterDays)
	moved := 0
	for i := range b.Tasks {
		t := &b.Tasks[i]
		if t.StateID == archive.ID {
			continue
		}
		stale := false
		if b.Settings.AutoArchiveCompleted && t.Status == StatusCompleted && t.CompletedAt != nil && t.CompletedAt.Before(boardCutoff) {
			stale = true
		}
		if st, ok := b.State(t.StateID); ok && st.AutoArchiveDays != nil {
			if t.UpdatedAt.Before(now.AddDate(0, 0, -*st.AutoArchiveDays)) {
				stale = true
			}
		}
		if stale {
			t.StateID = archive.ID
			t.UpdatedAt = now
			moved++
		}
	}
	if moved > 0 {
		b.UpdatedAt = now
	}
	return moved
}

func (b Board) clone() Board {
	cp := b
	cp.States = append([]State(nil), b.States...)
	cp.Tasks = append([]Task(nil), b.Tasks...)
	cp.Members = append([]Member(nil), b.Members...)
	return cp
}
