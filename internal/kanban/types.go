// Package kanban models task boards whose columns and cards can be driven
// by AI suggestions.
package kanban

import (
	"time"
)

type ColumnType string

const (
	ColumnDefault     ColumnType = "default"
	ColumnAISuggested ColumnType = "ai_suggested"
	ColumnIntake      ColumnType = "intake"
	ColumnArchive     ColumnType = "archive"
)

type TaskStatus string

const (
	StatusPendingApproval    TaskStatus = "pending_approval"
	StatusPendingUserAction  TaskStatus = "pending_user_action"
	StatusPendingAIExecution TaskStatus = "pending_ai_execution"
	StatusInProgress         TaskStatus = "in_progress"
	StatusCompleted          TaskStatus = "completed"
	StatusBlocked            TaskStatus = "blocked"
	StatusCancelled          TaskStatus = "cancelled"
)

// Priority sorts ascending: critical work comes first.
type Priority int

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityMedium   Priority = 2
	PriorityLow      Priority = 3
)

type TaskType string

const (
	TaskManual       TaskType = "manual"
	TaskAISuggested  TaskType = "ai_suggested"
	TaskAIAutomated  TaskType = "ai_automated"
	TaskFollowUp     TaskType = "follow_up"
	TaskEnrichment   TaskType = "enrichment"
	TaskNotification TaskType = "notification"
)

type AIActionType string

const (
	ActionFollowUpSMS     AIActionType = "send_follow_up_sms"
	ActionFollowUpEmail   AIActionType = "send_follow_up_email"
	ActionEnrichLead      AIActionType = "enrich_lead"
	ActionScheduleMeeting AIActionType = "schedule_meeting"
	ActionCreateTask      AIActionType = "create_task"
	ActionUpdateCRM       AIActionType = "update_crm"
)

const defaultColor = "#e0e0e0"

type State struct {
	ID              string     `json:"id"`
	BoardID         string     `json:"board_id"`
	Name            string     `json:"name" validate:"required,max=100"`
	Description     string     `json:"description,omitempty" validate:"max=500"`
	Order           int        `json:"order" validate:"gte=0"`
	Color           string     `json:"color" validate:"omitempty,hexcolor"`
	Type            ColumnType `json:"type" validate:"omitempty,oneof=default ai_suggested intake archive"`
	IsDefault       bool       `json:"is_default"`
	IsActive        bool       `json:"is_active"`
	AutoArchiveDays *int       `json:"auto_archive_days,omitempty" validate:"omitempty,gte=1"`
	CreatedBy       string     `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type TaskMetadata struct {
	AIConfidence       *float64          `json:"ai_confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	AIReasoning        string            `json:"ai_reasoning,omitempty"`
	Source             string            `json:"source,omitempty"`
	ExternalReferences map[string]string `json:"external_references,omitempty"`
	CustomFields       map[string]any    `json:"custom_fields,omitempty"`
}

type Task struct {
	ID            string       `json:"id"`
	Title         string       `json:"title" validate:"required,max=200"`
	Description   string       `json:"description,omitempty"`
	StateID       string       `json:"state_id"`
	BoardID       string       `json:"board_id"`
	AssigneeID    string       `json:"assignee_id,omitempty"`
	ReporterID    string       `json:"reporter_id"`
	LeadID        string       `json:"lead_id,omitempty"`
	ParentTaskID  string       `json:"parent_task_id,omitempty"`
	Type          TaskType     `json:"type"`
	Status        TaskStatus   `json:"status"`
	Priority      Priority     `json:"priority" validate:"gte=0,lte=3"`
	IsAIGenerated bool         `json:"is_ai_generated"`
	AIActionType  AIActionType `json:"ai_action_type,omitempty"`
	AIMetadata    TaskMetadata `json:"ai_metadata"`
	DueDate       *time.Time   `json:"due_date,omitempty"`
	StartDate     *time.Time   `json:"start_date,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
	ExternalID    string       `json:"external_id,omitempty"`
	ExternalURL   string       `json:"external_url,omitempty" validate:"omitempty,url"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// MarkCompleted closes the task at now.
func (t *Task) MarkCompleted(now time.Time) {
	t.Status = StatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
}

// IsAIActionable reports whether an AI worker may execute the task.
func (t Task) IsAIActionable() bool {
	if t.Type != TaskAISuggested && t.Type != TaskAIAutomated {
		return false
	}
	return t.AIActionType != "" && t.Status == StatusPendingAIExecution && t.CompletedAt == nil
}

type BoardSettings struct {
	AllowAISuggestions    bool           `json:"allow_ai_suggestions"`
	AutoArchiveCompleted  bool           `json:"auto_archive_completed"`
	ArchiveAfterDays      int            `json:"archive_after_days" validate:"gte=1"`
	AllowPublicComments   bool           `json:"allow_public_comments"`
	AllowTaskCreation     bool           `json:"allow_task_creation"`
	AllowTaskReassignment bool           `json:"allow_task_reassignment"`
	DefaultView           string         `json:"default_view" validate:"omitempty,oneof=board list calendar"`
	ExternalSyncEnabled   bool           `json:"external_sync_enabled"`
	ExternalSyncSettings  map[string]any `json:"external_sync_settings,omitempty"`
}

func DefaultBoardSettings() BoardSettings {
	return BoardSettings{
		AllowAISuggestions:    true,
		AutoArchiveCompleted:  true,
		ArchiveAfterDays:      30,
		AllowTaskCreation:     true,
		AllowTaskReassignment: true,
		DefaultView:           "board",
	}
}

type MemberRole string

const (
	MemberAdmin  MemberRole = "admin"
	MemberEditor MemberRole = "editor"
	MemberViewer MemberRole = "viewer"
)

type Member struct {
	UserID       string     `json:"user_id"`
	Role         MemberRole `json:"role"`
	JoinedAt     time.Time  `json:"joined_at"`
	CanEdit      bool       `json:"can_edit"`
	CanInvite    bool       `json:"can_invite"`
	CanConfigure bool       `json:"can_configure"`
}

// NewMember derives default permissions from role; unknown roles are
// treated as viewers.
func NewMember(userID string, role MemberRole, now time.Time) Member {
	m := Member{UserID: userID, Role: role, JoinedAt: now}
	switch role {
	case MemberAdmin:
		m.CanEdit, m.CanInvite, m.CanConfigure = true, true, true
	case MemberEditor:
		m.CanEdit = true
	default:
		m.Role = MemberViewer
	}
	return m
}

type Board struct {
	ID             string        `json:"id"`
	Name           string        `json:"name" validate:"required,max=100"`
	Description    string        `json:"description,omitempty"`
	OrganizationID string        `json:"organization_id"`
	States         []State       `json:"states"`
	Tasks          []Task        `json:"tasks"`
	Members        []Member      `json:"members"`
	Settings       BoardSettings `json:"settings"`
	IsPublic       bool          `json:"is_public"`
	IsTemplate     bool          `json:"is_template"`
	CreatedBy      string        `json:"created_by"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
