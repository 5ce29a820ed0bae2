package chat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/blob"
	"leadignite/api/internal/search"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	profiles *ProfileService
	threads  *ThreadService
	messages *MessageService
	blobs    *blob.MemoryStore
	now      time.Time
}

func newFixture(t *testing.T, indexer Indexer) *fixture {
	t.Helper()
	f := &fixture{now: testNow, blobs: blob.NewMemoryStore()}
	clock := func() time.Time { return f.now }
	f.profiles = NewProfileService(nil)
	f.threads = NewThreadService(f.profiles, nil).WithClock(clock)
	f.messages = NewMessageService(f.threads, indexer, f.blobs, nil).WithClock(clock)
	return f
}

func (f *fixture) tick() { f.now = f.now.Add(time.Minute) }

func (f *fixture) thread(t *testing.T) Thread {
	t.Helper()
	th, err := f.threads.Create(context.Background(), CreateThreadRequest{
		Title:          "Launch plan",
		CreatorID:      "usr_admin",
		ParticipantIDs: []string{"usr_admin", "usr_a", "usr_b"},
	})
	require.NoError(t, err)
	return th
}

func (f *fixture) send(t *testing.T, threadID, sender, text string) Message {
	t.Helper()
	f.tick()
	m, err := f.messages.Create(context.Background(), CreateMessageRequest{
		ThreadID: threadID,
		SenderID: sender,
		Content:  Content{Text: text},
	})
	require.NoError(t, err)
	return m
}

func TestRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewThreadScoped[Participant]()

	_, err := repo.Create(ctx, Participant{ID: "p1", ThreadID: "t1", UserID: "u1"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, Participant{ID: "p2", ThreadID: "t1", UserID: "u2"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, Participant{ID: "p3", ThreadID: "t2", UserID: "u1"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, Participant{ID: "p1"})
	assert.ErrorIs(t, err, ErrExists)

	n, err := repo.CountByThread(ctx, "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, repo.Exists(ctx, "p3"))

	_, err = repo.Update(ctx, Participant{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err := repo.DeleteByThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	n, err = repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreateThreadParticipants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	profile, err := f.profiles.Create(ctx, CreateProfileRequest{UserID: "usr_admin", Name: " Closer ", IsPublic: true})
	require.NoError(t, err)
	assert.Equal(t, "Closer", profile.Config.Name)
	assert.Equal(t, 2048, profile.Config.MaxTokens)

	th, err := f.threads.Create(ctx, CreateThreadRequest{
		CreatorID:      "usr_admin",
		ParticipantIDs: []string{"usr_a"},
		AIProfileIDs:   []string{profile.ID, "aip_missing"},
	})
	require.NoError(t, err)
	assert.Equal(t, 5000, th.Settings.MaxMessageLength)

	parts, err := f.threads.Participants(ctx, th.ID)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, RoleAdmin, parts[0].Role)
	assert.Equal(t, RoleUser, parts[1].Role)

	ais, err := f.threads.AIParticipants(ctx, th.ID)
	require.NoError(t, err)
	require.Len(t, ais, 1, "unknown profiles are skipped")

	again, err := f.threads.AddParticipant(ctx, th.ID, "usr_a", RoleModerator)
	require.NoError(t, err)
	assert.Equal(t, parts[1].ID, again.ID, "adding twice returns the existing participant")
	assert.Equal(t, RoleUser, again.Role)

	public, err := f.profiles.PublicProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, public, 1)
	mine, err := f.profiles.GetByUser(ctx, "usr_admin")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestAIConfigOverrides(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	profile, err := f.profiles.Create(ctx, CreateProfileRequest{UserID: "usr_admin", Name: "Closer"})
	require.NoError(t, err)
	th := f.thread(t)
	_, err = f.threads.AddAIParticipant(ctx, th.ID, profile.ID, map[string]any{"temperature": 0.2})
	require.NoError(t, err)

	_, err = f.threads.UpdateAIConfig(ctx, th.ID, profile.ID, map[string]any{"max_tokens": 512, "unknown": true})
	require.NoError(t, err)

	cfg, err := f.threads.EffectiveConfig(ctx, th.ID, profile.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, cfg.Temperature, 1e-9)
	assert.Equal(t, 512, cfg.MaxTokens)
	assert.Equal(t, "gpt-4", cfg.TextModel)

	_, err = f.threads.UpdateAIConfig(ctx, th.ID, profile.ID, map[string]any{"temperature": 3.5})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	_, err = f.threads.AddAIParticipant(ctx, th.ID, "aip_missing", nil)
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}

func TestCreateMessageRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	th := f.thread(t)

	m := f.send(t, th.ID, "usr_a", "hello")
	assert.Equal(t, StatusSent, m.Status)
	assert.Equal(t, MessageText, m.Type)

	got, err := f.threads.Get(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, f.now, got.UpdatedAt, "new messages bump the thread")

	_, err = f.messages.Create(ctx, CreateMessageRequest{ThreadID: th.ID, SenderID: "usr_stranger", Content: Content{Text: "hi"}})
	assert.Equal(t, http.StatusForbidden, apperr.StatusOf(err))

	ai, err := f.messages.Create(ctx, CreateMessageRequest{ThreadID: th.ID, SenderID: "bot_1", SenderType: SenderAI, Content: Content{Text: "hi"}})
	require.NoError(t, err, "non-user senders skip the participant check")
	assert.Equal(t, MessageAI, ai.Type)

	_, err = f.messages.Create(ctx, CreateMessageRequest{ThreadID: th.ID, SenderID: "usr_a", Content: Content{Text: strings.Repeat("x", 5001)}})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	_, err = f.messages.Create(ctx, CreateMessageRequest{ThreadID: th.ID, SenderID: "usr_a", Content: Content{Text: "x"}, Attachments: make([]Attachment, 11)})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	_, err = f.messages.Create(ctx, CreateMessageRequest{ThreadID: "thr_missing", SenderID: "usr_a", Content: Content{Text: "x"}})
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}

func TestMessageLengthCoversEveryRendering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	th := f.thread(t)
	long := strings.Repeat("x", 5001)

	_, err := f.messages.Create(ctx, CreateMessageRequest{ThreadID: th.ID, SenderID: "usr_a", Content: Content{Text: "hi", HTML: "<p>" + long + "</p>"}})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	_, err = f.messages.Create(ctx, CreateMessageRequest{ThreadID: th.ID, SenderID: "usr_a", Content: Content{Text: "hi", Markdown: long}})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	_, err = f.messages.Create(ctx, CreateMessageRequest{ThreadID: th.ID, SenderID: "usr_a", Content: Content{Text: strings.Repeat("é", 5000)}})
	assert.NoError(t, err, "length counts characters, not bytes")

	m := f.send(t, th.ID, "usr_a", "draft")
	_, err = f.messages.Update(ctx, m.ID, "usr_a", UpdateMessageRequest{Content: &Content{Text: "draft", Markdown: long}})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))
}

func TestUpdateDeletePermissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	th := f.thread(t)
	m := f.send(t, th.ID, "usr_a", "draft")

	_, err := f.messages.Update(ctx, m.ID, "usr_b", UpdateMessageRequest{Content: &Content{Text: "hijack"}})
	assert.Equal(t, http.StatusForbidden, apperr.StatusOf(err))

	edited, err := f.messages.Update(ctx, m.ID, "usr_a", UpdateMessageRequest{Content: &Content{Text: "final"}})
	require.NoError(t, err)
	assert.Equal(t, "final", edited.Content.Text)

	_, err = f.threads.UpdateParticipantRole(ctx, th.ID, "usr_b", RoleModerator)
	require.NoError(t, err)
	require.NoError(t, f.messages.Delete(ctx, m.ID, "usr_b"))

	_, err = f.messages.Get(ctx, m.ID)
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))

	m2 := f.send(t, th.ID, "usr_b", "mine")
	assert.Equal(t, http.StatusForbidden, apperr.StatusOf(f.messages.Delete(ctx, m2.ID, "usr_a")))
	require.NoError(t, f.messages.Delete(ctx, m2.ID, "usr_admin"))
}

func TestListByThreadPaging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	th := f.thread(t)
	first := f.send(t, th.ID, "usr_a", "one")
	second := f.send(t, th.ID, "usr_a", "two")
	third := f.send(t, th.ID, "usr_a", "three")

	items, err := f.messages.ListByThread(ctx, th.ID, Page{})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, third.ID, items[0].ID)

	items, err = f.messages.ListByThread(ctx, th.ID, Page{Before: &third.CreatedAt, Limit: 1})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, second.ID, items[0].ID)

	items, err = f.messages.ListByThread(ctx, th.ID, Page{After: &first.CreatedAt})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	n, err := f.messages.CountByThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestReactions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	th := f.thread(t)
	m := f.send(t, th.ID, "usr_a", "ship it")

	_, err := f.messages.AddReaction(ctx, m.ID, "usr_b", "👍")
	require.NoError(t, err)
	m, err = f.messages.AddReaction(ctx, m.ID, "usr_b", "👍")
	require.NoError(t, err)
	assert.Equal(t, []string{"usr_b"}, m.Reactions["👍"])

	m, err = f.messages.AddReaction(ctx, m.ID, "usr_admin", "👍")
	require.NoError(t, err)
	assert.Len(t, m.Reactions["👍"], 2)

	m, err = f.messages.RemoveReaction(ctx, m.ID, "usr_b", "👍")
	require.NoError(t, err)
	m, err = f.messages.RemoveReaction(ctx, m.ID, "usr_admin", "👍")
	require.NoError(t, err)
	assert.NotContains(t, m.Reactions, "👍")
}

func TestUploadAttachment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	th := f.thread(t)

	body := "%PDF-1.7 fake"
	att, err := f.messages.UploadAttachment(ctx, th.ID, "../proposal.pdf", "application/pdf", int64(len(body)), strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "proposal.pdf", att.Name)
	assert.True(t, strings.HasPrefix(att.Key, "threads/"+th.ID+"/"))

	rc, obj, err := f.messages.OpenAttachment(ctx, att.Key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
	assert.Equal(t, "application/pdf", obj.ContentType)

	_, err = f.messages.UploadAttachment(ctx, th.ID, "run.exe", "application/x-msdownload", 10, strings.NewReader("0123456789"))
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	_, err = f.messages.UploadAttachment(ctx, th.ID, "huge.png", "image/png", 26*1024*1024, strings.NewReader(""))
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	img, err := f.messages.UploadAttachment(ctx, th.ID, "shot.png", "image/png; charset=binary", 3, strings.NewReader("png"))
	require.NoError(t, err)
	assert.Equal(t, "shot.png", img.Name)
}

func TestSearchMessagesScanFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	th := f.thread(t)
	f.send(t, th.ID, "usr_a", "Quarterly PIPELINE review")
	f.send(t, th.ID, "usr_a", "lunch?")
	f.tick()
	_, err := f.messages.Create(ctx, CreateMessageRequest{
		ThreadID:    th.ID,
		SenderID:    "usr_b",
		Content:     Content{Text: "see file"},
		Attachments: []Attachment{{Name: "pipeline.xlsx"}},
	})
	require.NoError(t, err)
	f.tick()
	_, err = f.messages.Create(ctx, CreateMessageRequest{
		ThreadID: th.ID,
		SenderID: "usr_b",
		Content:  Content{Text: "tagged"},
		Metadata: map[string]any{"topic": "pipeline hygiene"},
	})
	require.NoError(t, err)

	found, err := f.messages.SearchMessages(ctx, th.ID, "pipeline", 10)
	require.NoError(t, err)
	assert.Len(t, found, 3)

	found, err = f.messages.SearchMessages(ctx, th.ID, "pipeline", 1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "tagged", found[0].Content.Text, "newest first")
}

func TestSearchMessagesThroughIndex(t *testing.T) {
	ctx := context.Background()
	idx := search.NewService(nil, nil)
	f := newFixture(t, idx)
	th := f.thread(t)
	other, err := f.threads.Create(ctx, CreateThreadRequest{CreatorID: "usr_a"})
	require.NoError(t, err)

	hit := f.send(t, th.ID, "usr_a", "Renewal forecast")
	f.send(t, other.ID, "usr_a", "renewal elsewhere")

	found, err := f.messages.SearchMessages(ctx, th.ID, "renewal", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, hit.ID, found[0].ID)

	require.NoError(t, f.messages.DeleteThread(ctx, th.ID))
	found, err = f.messages.SearchMessages(ctx, th.ID, "renewal", 10)
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = f.threads.Get(ctx, th.ID)
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}

func TestSearchMessagesIndexMatchesContentNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, search.NewService(nil, nil))
	th := f.thread(t)
	for i := 0; i < 30; i++ {
		f.send(t, th.ID, "usr_a", fmt.Sprintf("report %02d", i))
	}

	for _, q := range []string{"usr_", "user", th.ID} {
		found, err := f.messages.SearchMessages(ctx, th.ID, q, 10)
		require.NoError(t, err)
		assert.Empty(t, found, "sender and thread fields are not searchable: %q", q)
	}

	found, err := f.messages.SearchMessages(ctx, th.ID, "report", 5)
	require.NoError(t, err)
	require.Len(t, found, 5)
	assert.Equal(t, "report 29", found[0].Content.Text)
	assert.Equal(t, "report 25", found[4].Content.Text)
}

func TestListForUserAndArchive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	first := f.thread(t)
	f.tick()
	second := f.thread(t)

	items, err := f.threads.ListForUser(ctx, "usr_a", false)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].ID)

	f.send(t, first.ID, "usr_a", "bump")
	items, err = f.threads.ListForUser(ctx, "usr_a", false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, items[0].ID)

	_, err = f.threads.Archive(ctx, first.ID)
	require.NoError(t, err)
	items, err = f.threads.ListForUser(ctx, "usr_a", false)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = f.messages.Create(ctx, CreateMessageRequest{ThreadID: first.ID, SenderID: "usr_a", Content: Content{Text: "late"}})
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err))

	require.NoError(t, f.threads.RemoveParticipant(ctx, second.ID, "usr_a"))
	items, err = f.threads.ListForUser(ctx, "usr_a", true)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
