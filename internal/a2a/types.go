// Package a2a routes agent-to-agent messages: task requests, status
// updates and capability discovery between registered agents.
package a2a

import (
	"time"
)

type MessageType string

const (
	MessageTask                MessageType = "task"
	MessageText                MessageType = "message"
	MessageArtifact            MessageType = "artifact"
	MessageStatusUpdate        MessageType = "status_update"
	MessageCapabilityDiscovery MessageType = "capability_discovery"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTask, MessageText, MessageArtifact, MessageStatusUpdate, MessageCapabilityDiscovery:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no further updates are expected.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// MIME types carried by message parts.
const (
	ContentText     = "text/plain"
	ContentJSON     = "application/json"
	ContentMarkdown = "text/markdown"
	ContentHTML     = "text/html"
	ContentPNG      = "image/png"
	ContentJPEG     = "image/jpeg"
	ContentMP3      = "audio/mp3"
	ContentMP4      = "video/mp4"
	ContentPDF      = "application/pdf"
)

type MessagePart struct {
	ContentType string         `json:"content_type" validate:"required,oneof=text/plain application/json text/markdown text/html image/png image/jpeg audio/mp3 video/mp4 application/pdf"`
	Content     any            `json:"content"`
	Name        string         `json:"name,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type Capability struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type AgentCard struct {
	AgentID      string         `json:"agent_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Capabilities []Capability   `json:"capabilities"`
	Version      string         `json:"version"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type Task struct {
	TaskID       string         `json:"task_id"`
	ParentTaskID string         `json:"parent_task_id,omitempty"`
	Status       TaskStatus     `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Parameters   map[string]any `json:"parameters"`
	Result       map[string]any `json:"result,omitempty"`
	Error        map[string]any `json:"error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type Message struct {
	MessageID      string         `json:"message_id"`
	ConversationID string         `json:"conversation_id"`
	Type           MessageType    `json:"message_type" validate:"required"`
	SenderID       string         `json:"sender_id" validate:"required"`
	RecipientID    string         `json:"recipient_id" validate:"required"`
	Timestamp      time.Time      `json:"timestamp"`
	Parts          []MessagePart  `json:"parts" validate:"dive"`
	Task           *Task          `json:"task,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// metaRequestedCapability names the capability a task was sent for.
const metaRequestedCapability = "requested_capability"

// metaInReplyTo marks a discovery reply so it is not answered again.
const metaInReplyTo = "in_reply_to"
