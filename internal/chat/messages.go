package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/blob"
	"leadignite/api/internal/logging"
	"leadignite/api/internal/search"
	"leadignite/api/internal/util"
)

const defaultPageSize = 50

// Indexer is the slice of search.Service used for message search.
type Indexer interface {
	Index(ctx context.Context, indexUID string, docs ...search.Document)
	Delete(ctx context.Context, indexUID, id string)
	Search(ctx context.Context, q search.Query) search.Response
}

type MessageService struct {
	threads  *ThreadService
	messages ThreadScoped[Message]
	indexer  Indexer
	blobs    blob.Store
	logger   *zap.Logger
	now      func() time.Time
}

// NewMessageService wires messages to their threads. indexer and blobs are
// optional: without an indexer search scans the thread, without blobs
// uploads are rejected.
func NewMessageService(threads *ThreadService, indexer Indexer, blobs blob.Store, logger *zap.Logger) *MessageService {
	return &MessageService{
		threads:  threads,
		messages: NewThreadScoped[Message](),
		indexer:  indexer,
		blobs:    blobs,
		logger:   logging.OrNop(logger),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MessageService) WithClock(now func() time.Time) *MessageService {
	s.now = now
	return s
}

type CreateMessageRequest struct {
	ThreadID    string
	SenderID    string
	SenderType  SenderType
	Content     Content
	Type        MessageType
	ReplyTo     string
	Attachments []Attachment
	Metadata    map[string]any
}

func (s *MessageService) Create(ctx context.Context, req CreateMessageRequest) (Message, error) {
	t, err := s.threads.Get(ctx, req.ThreadID)
	if err != nil {
		return Message{}, err
	}
	if req.SenderType == "" {
		req.SenderType = SenderUser
	}
	switch req.SenderType {
	case SenderUser, SenderAI, SenderSystem, SenderBot:
	default:
		return Message{}, apperr.Invalid(fmt.Sprintf("Unknown sender type %q", req.SenderType), nil)
	}
	if req.SenderType == SenderUser {
		if _, ok, err := s.threads.Participant(ctx, t.ID, req.SenderID); err != nil {
			return Message{}, err
		} else if !ok {
			return Message{}, apperr.Forbidden("Sender is not a participant in this thread")
		}
	}
	if t.IsArchived {
		return Message{}, apperr.Conflict("THREAD_ARCHIVED", "Thread is archived")
	}
	if n := req.Content.length(); n > t.Settings.MaxMessageLength {
		return Message{}, apperr.Invalid(
			fmt.Sprintf("Message exceeds the maximum length of %d characters", t.Settings.MaxMessageLength),
			map[string]int{"length": n, "max": t.Settings.MaxMessageLength})
	}
	if len(req.Attachments) > t.Settings.MaxAttachments {
		return Message{}, apperr.Invalid(
			fmt.Sprintf("A message may carry at most %d attachments", t.Settings.MaxAttachments), nil)
	}
	if req.Content.Text == "" && req.Content.HTML == "" && req.Content.Markdown == "" && len(req.Attachments) == 0 {
		return Message{}, apperr.Invalid("Message is empty", nil)
	}
	if req.ReplyTo != "" {
		parent, err := s.messages.Get(ctx, req.ReplyTo)
		if err != nil || parent.ThreadID != t.ID {
			return Message{}, apperr.Invalid("reply_to must reference a message in the same thread", nil)
		}
	}
	if req.Type == "" {
		req.Type = MessageText
		if req.SenderType == SenderAI {
			req.Type = MessageAI
		}
	}

	now := s.now()
	m := Message{
		ID:          util.NewID("msg"),
		ThreadID:    t.ID,
		SenderID:    req.SenderID,
		SenderType:  req.SenderType,
		Content:     req.Content,
		Type:        req.Type,
		Status:      StatusSent,
		ReplyTo:     req.ReplyTo,
		Attachments: req.Attachments,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.messages.Create(ctx, m); err != nil {
		return Message{}, fmt.Errorf("create message: %w", err)
	}
	if err := s.threads.touch(ctx, t); err != nil {
		return Message{}, fmt.Errorf("touch thread: %w", err)
	}
	s.index(ctx, m)
	return m, nil
}

func (s *MessageService) Get(ctx context.Context, id string) (Message, error) {
	m, err := s.messages.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Message{}, apperr.NotFound("Message")
	}
	return m, err
}

// authorize lets the sender through, then thread admins and moderators.
func (s *MessageService) authorize(ctx context.Context, m Message, userID string) error {
	if m.SenderID == userID && m.SenderType == SenderUser {
		return nil
	}
	p, ok, err := s.threads.Participant(ctx, m.ThreadID, userID)
	if err != nil {
		return err
	}
	if !ok || !p.Role.canModerate() {
		return apperr.Forbidden("Only the sender or a thread moderator may change this message")
	}
	return nil
}

type UpdateMessageRequest struct {
	Content  *Content
	Status   *MessageStatus
	Metadata map[string]any
}

func (s *MessageService) Update(ctx context.Context, id, userID string, req UpdateMessageRequest) (Message, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return Message{}, err
	}
	if err := s.authorize(ctx, m, userID); err != nil {
		return Message{}, err
	}
	t, err := s.threads.Get(ctx, m.ThreadID)
	if err != nil {
		return Message{}, err
	}
	if req.Content != nil {
		if !t.Settings.AllowEdits {
			return Message{}, apperr.Forbidden("Editing is disabled in this thread")
		}
		if req.Content.length() > t.Settings.MaxMessageLength {
			return Message{}, apperr.Invalid(
				fmt.Sprintf("Message exceeds the maximum length of %d characters", t.Settings.MaxMessageLength), nil)
		}
		m.Content = *req.Content
	}
	if req.Status != nil {
		m.Status = *req.Status
	}
	if req.Metadata != nil {
		m.Metadata = req.Metadata
	}
	m.UpdatedAt = s.now()
	if _, err := s.messages.Update(ctx, m); err != nil {
		return Message{}, fmt.Errorf("update message: %w", err)
	}
	s.index(ctx, m)
	return m, nil
}

func (s *MessageService) Delete(ctx context.Context, id, userID string) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, m, userID); err != nil {
		return err
	}
	if err := s.messages.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if s.indexer != nil {
		s.indexer.Delete(ctx, search.IndexMessages, id)
	}
	return nil
}

// DeleteThread removes a thread together with its messages.
func (s *MessageService) DeleteThread(ctx context.Context, threadID string) error {
	msgs, err := s.messages.ListByThread(ctx, threadID, nil)
	if err != nil {
		return err
	}
	if err := s.threads.Delete(ctx, threadID); err != nil {
		return err
	}
	for _, m := range msgs {
		if err := s.messages.Delete(ctx, m.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if s.indexer != nil {
			s.indexer.Delete(ctx, search.IndexMessages, m.ID)
		}
	}
	return nil
}

type Page struct {
	Before *time.Time
	After  *time.Time
	Limit  int
}

// ListByThread returns messages newest first within the page window.
func (s *MessageService) ListByThread(ctx context.Context, threadID string, page Page) ([]Message, error) {
	if page.Limit <= 0 {
		page.Limit = defaultPageSize
	}
	items, err := s.messages.ListByThread(ctx, threadID, func(m Message) bool {
		if page.Before != nil && !m.CreatedAt.Before(*page.Before) {
			return false
		}
		if page.After != nil && !m.CreatedAt.After(*page.After) {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(items)
	if len(items) > page.Limit {
		items = items[:page.Limit]
	}
	return items, nil
}

func (s *MessageService) CountByThread(ctx context.Context, threadID string) (int, error) {
	return s.messages.CountByThread(ctx, threadID, nil)
}

// AddReaction records userID under emoji once.
func (s *MessageService) AddReaction(ctx context.Context, id, userID, emoji string) (Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return Message{}, apperr.Invalid("emoji is required", nil)
	}
	m, err := s.Get(ctx, id)
	if err != nil {
		return Message{}, err
	}
	t, err := s.threads.Get(ctx, m.ThreadID)
	if err != nil {
		return Message{}, err
	}
	if !t.Settings.AllowReactions {
		return Message{}, apperr.Forbidden("Reactions are disabled in this thread")
	}
	for _, u := range m.Reactions[emoji] {
		if u == userID {
			return m, nil
		}
	}
	reactions := copyReactions(m.Reactions)
	reactions[emoji] = append(reactions[emoji], userID)
	m.Reactions = reactions
	return s.messages.Update(ctx, m)
}

// RemoveReaction drops userID from emoji and forgets emojis nobody uses.
func (s *MessageService) RemoveReaction(ctx context.Context, id, userID, emoji string) (Message, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return Message{}, err
	}
	users, ok := m.Reactions[emoji]
	if !ok {
		return m, nil
	}
	reactions := copyReactions(m.Reactions)
	kept := make([]string, 0, len(users))
	for _, u := range users {
		if u != userID {
			kept = append(kept, u)
		}
	}
	if len(kept) == 0 {
		delete(reactions, emoji)
	} else {
		reactions[emoji] = kept
	}
	m.Reactions = reactions
	return s.messages.Update(ctx, m)
}

func copyReactions(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in)+1)
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// UploadAttachment checks the file against the thread settings and stores
// it. The returned Attachment is ready to pass to Create.
func (s *MessageService) UploadAttachment(ctx context.Context, threadID, name, contentType string, size int64, r io.Reader) (Attachment, error) {
	if s.blobs == nil {
		return Attachment{}, apperr.New(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Attachment storage is not configured", nil)
	}
	t, err := s.threads.Get(ctx, threadID)
	if err != nil {
		return Attachment{}, err
	}
	name = path.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == "/" {
		return Attachment{}, apperr.Invalid("File name is required", nil)
	}
	if size <= 0 {
		return Attachment{}, apperr.Invalid("File is empty", nil)
	}
	if size > t.Settings.MaxAttachmentSize {
		return Attachment{}, apperr.Invalid(
			fmt.Sprintf("File exceeds the maximum size of %d bytes", t.Settings.MaxAttachmentSize),
			map[string]int64{"size": size, "max": t.Settings.MaxAttachmentSize})
	}
	if !t.Settings.allows(contentType) {
		return Attachment{}, apperr.Invalid(fmt.Sprintf("File type %q is not allowed", contentType), nil)
	}

	key := fmt.Sprintf("threads/%s/%s/%s", t.ID, util.NewID("att"), name)
	obj, err := s.blobs.Put(ctx, key, contentType, size, r)
	if err != nil {
		return Attachment{}, fmt.Errorf("store attachment: %w", err)
	}
	s.logger.Info("attachment stored",
		zap.String("thread_id", t.ID),
		zap.String("key", obj.Key),
		zap.Int64("size", obj.Size),
	)
	return Attachment{
		Key:      obj.Key,
		Name:     name,
		MimeType: obj.ContentType,
		Size:     obj.Size,
		Metadata: map[string]any{"etag": obj.ETag},
	}, nil
}

// OpenAttachment streams a stored attachment; the caller closes it.
func (s *MessageService) OpenAttachment(ctx context.Context, key string) (io.ReadCloser, blob.Object, error) {
	if s.blobs == nil {
		return nil, blob.Object{}, apperr.NotFound("Attachment")
	}
	rc, obj, err := s.blobs.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, blob.Object{}, apperr.NotFound("Attachment")
	}
	return rc, obj, err
}

// SearchMessages finds messages in a thread whose text, attachment names or
// string metadata contain query.
func (s *MessageService) SearchMessages(ctx context.Context, threadID, query string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []Message{}, nil
	}
	if s.indexer == nil {
		return s.scan(ctx, threadID, query, limit)
	}
	filters := map[string]string{}
	if threadID != "" {
		filters["threadId"] = threadID
	}
	resp := s.indexer.Search(ctx, search.Query{
		Index:   search.IndexMessages,
		Text:    query,
		Filters: filters,
		Sort:    []string{"createdAt:desc"},
		Limit:   limit,
	})
	items := make([]Message, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		m, err := s.messages.Get(ctx, hit.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	sortNewestFirst(items)
	return items, nil
}

func (s *MessageService) scan(ctx context.Context, threadID, query string, limit int) ([]Message, error) {
	needle := strings.ToLower(query)
	items, err := s.messages.List(ctx, func(m Message) bool {
		return (threadID == "" || m.ThreadID == threadID) && m.matches(needle)
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MessageService) index(ctx context.Context, m Message) {
	if s.indexer == nil {
		return
	}
	s.indexer.Index(ctx, search.IndexMessages, Document(m))
}

// Document is the search representation of a message.
func Document(m Message) search.Document {
	names := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		names = append(names, a.Name)
	}
	meta := make([]string, 0, len(m.Metadata))
	for _, v := range m.Metadata {
		if s, ok := v.(string); ok {
			meta = append(meta, s)
		}
	}
	return search.Document{
		"id":              m.ID,
		"threadId":        m.ThreadID,
		"senderId":        m.SenderID,
		"senderType":      string(m.SenderType),
		"text":            m.Content.Text,
		"attachmentNames": names,
		"metadata":        meta,
		"createdAt":       m.CreatedAt.UnixMilli(),
	}
}
