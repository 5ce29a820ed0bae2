// Package chat holds AI chat threads: participants, AI profiles, messages,
// reactions and attachments.
package chat

import (
	"strings"
	"time"
	"unicode/utf8"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageVoice  MessageType = "voice"
	MessageImage  MessageType = "image"
	MessageVideo  MessageType = "video"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
	MessageAI     MessageType = "ai"
)

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

type ParticipantRole string

const (
	RoleUser      ParticipantRole = "user"
	RoleAI        ParticipantRole = "ai"
	RoleSystem    ParticipantRole = "system"
	RoleAdmin     ParticipantRole = "admin"
	RoleBot       ParticipantRole = "bot"
	RoleModerator ParticipantRole = "moderator"
)

// canModerate reports whether the role may edit or delete other people's
// messages.
func (r ParticipantRole) canModerate() bool {
	return r == RoleAdmin || r == RoleModerator
}

type SenderType string

const (
	SenderUser   SenderType = "user"
	SenderAI     SenderType = "ai"
	SenderSystem SenderType = "system"
	SenderBot    SenderType = "bot"
)

type ThreadSettings struct {
	AllowReactions    bool     `json:"allow_reactions"`
	AllowEdits        bool     `json:"allow_edits"`
	AllowDeletes      bool     `json:"allow_deletes"`
	RequireApproval   bool     `json:"require_approval"`
	SlowMode          bool     `json:"slow_mode"`
	SlowModeDelay     int      `json:"slow_mode_delay" validate:"gte=0"`
	MaxMessageLength  int      `json:"max_message_length" validate:"gt=0"`
	MaxAttachments    int      `json:"max_attachments" validate:"gte=0"`
	MaxAttachmentSize int64    `json:"max_attachment_size" validate:"gt=0"`
	AllowedFileTypes  []string `json:"allowed_file_types"`
}

func DefaultThreadSettings() ThreadSettings {
	return ThreadSettings{
		AllowReactions:    true,
		AllowEdits:        true,
		AllowDeletes:      true,
		SlowModeDelay:     5,
		MaxMessageLength:  5000,
		MaxAttachments:    10,
		MaxAttachmentSize: 25 * 1024 * 1024,
		AllowedFileTypes:  []string{"image/*", "audio/*", "video/*", "application/pdf"},
	}
}

// allows matches contentType against the allowed list, where "image/*"
// admits every image subtype.
func (s ThreadSettings) allows(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	for _, pattern := range s.AllowedFileTypes {
		pattern = strings.ToLower(pattern)
		if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
			if strings.HasPrefix(contentType, prefix+"/") {
				return true
			}
			continue
		}
		if pattern == contentType {
			return true
		}
	}
	return false
}

type Thread struct {
	ID          string         `json:"id"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	CreatorID   string         `json:"creator_id"`
	IsGroup     bool           `json:"is_group"`
	IsPublic    bool           `json:"is_public"`
	IsArchived  bool           `json:"is_archived"`
	Settings    ThreadSettings `json:"settings"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (t Thread) entityID() string { return t.ID }

type Participant struct {
	ID          string          `json:"id"`
	ThreadID    string          `json:"thread_id"`
	UserID      string          `json:"user_id"`
	Role        ParticipantRole `json:"role"`
	DisplayName string          `json:"display_name,omitempty"`
	IsActive    bool            `json:"is_active"`
	LastReadAt  *time.Time      `json:"last_read_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (p Participant) entityID() string { return p.ID }
func (p Participant) threadID() string { return p.ThreadID }

type AIConfig struct {
	Name           string         `json:"name" validate:"required"`
	Description    string         `json:"description"`
	BehaviorPreset string         `json:"behavior_preset" validate:"omitempty,oneof=assistant chatbot tutor support sales custom"`
	Role           string         `json:"role" validate:"omitempty,oneof=assistant expert moderator translator summarizer custom"`
	TextModel      string         `json:"text_model"`
	Temperature    float64        `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens      int            `json:"max_tokens" validate:"gt=0"`
	VoiceEnabled   bool           `json:"voice_enabled"`
	AvatarEnabled  bool           `json:"avatar_enabled"`
	SystemPrompt   string         `json:"system_prompt"`
	AllowedActions []string       `json:"allowed_actions"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func defaultAIConfig(name string) AIConfig {
	return AIConfig{
		Name:           name,
		BehaviorPreset: "assistant",
		Role:           "assistant",
		TextModel:      "gpt-4",
		Temperature:    0.7,
		MaxTokens:      2048,
		SystemPrompt:   "You are a helpful AI assistant.",
		AllowedActions: []string{"text", "image", "search"},
	}
}

type AIProfile struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsPublic    bool      `json:"is_public"`
	Config      AIConfig  `json:"config"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (p AIProfile) entityID() string { return p.ID }

// AIParticipant places an AI profile in a thread, with per-thread overrides.
type AIParticipant struct {
	ID              string         `json:"id"`
	ThreadID        string         `json:"thread_id"`
	AIProfileID     string         `json:"ai_profile_id"`
	ConfigOverrides map[string]any `json:"config_overrides,omitempty"`
	IsActive        bool           `json:"is_active"`
	LastActiveAt    *time.Time     `json:"last_active_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (p AIParticipant) entityID() string { return p.ID }
func (p AIParticipant) threadID() string { return p.ThreadID }

type Attachment struct {
	Key          string         `json:"key"`
	URL          string         `json:"url,omitempty"`
	Name         string         `json:"name"`
	MimeType     string         `json:"mime_type"`
	Size         int64          `json:"size"`
	ThumbnailURL string         `json:"thumbnail_url,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type Content struct {
	Text     string `json:"text,omitempty"`
	HTML     string `json:"html,omitempty"`
	Markdown string `json:"markdown,omitempty"`
}

// length is the longest of the three renderings; each must fit the
// thread's limit.
func (c Content) length() int {
	n := utf8.RuneCountInString(c.Text)
	if h := utf8.RuneCountInString(c.HTML); h > n {
		n = h
	}
	if md := utf8.RuneCountInString(c.Markdown); md > n {
		n = md
	}
	return n
}

type Message struct {
	ID          string              `json:"id"`
	ThreadID    string              `json:"thread_id"`
	SenderID    string              `json:"sender_id"`
	SenderType  SenderType          `json:"sender_type"`
	Content     Content             `json:"content"`
	Type        MessageType         `json:"message_type"`
	Status      MessageStatus       `json:"status"`
	ReplyTo     string              `json:"reply_to,omitempty"`
	Attachments []Attachment        `json:"attachments,omitempty"`
	Reactions   map[string][]string `json:"reactions,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func (m Message) entityID() string { return m.ID }
func (m Message) threadID() string { return m.ThreadID }

// matches is the case-insensitive scan used when no search engine is wired.
func (m Message) matches(needle string) bool {
	if strings.Contains(strings.ToLower(m.Content.Text), needle) {
		return true
	}
	for _, a := range m.Attachments {
		if strings.Contains(strings.ToLower(a.Name), needle) {
			return true
		}
	}
	for _, v := range m.Metadata {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}
