package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/logging"
	"leadignite/api/internal/util"
	"leadignite/api/internal/validate"
)

type ProfileService struct {
	repo   *Repository[AIProfile]
	logger *zap.Logger
	now    func() time.Time
}

func NewProfileService(logger *zap.Logger) *ProfileService {
	return &ProfileService{
		repo:   NewRepository[AIProfile](),
		logger: logging.OrNop(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type CreateProfileRequest struct {
	UserID      string    `json:"user_id" validate:"required"`
	Name        string    `json:"name" validate:"required,max=100"`
	Description string    `json:"description" validate:"max=1000"`
	IsPublic    bool      `json:"is_public"`
	Config      *AIConfig `json:"config" validate:"-"`
	Tags        []string  `json:"tags"`
}

func (s *ProfileService) Create(ctx context.Context, req CreateProfileRequest) (AIProfile, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return AIProfile{}, err
	}
	cfg := defaultAIConfig(req.Name)
	if req.Config != nil {
		cfg = *req.Config
		cfg.Name = strings.TrimSpace(cfg.Name)
		if cfg.Name == "" {
			cfg.Name = req.Name
		}
		if err := validate.Struct(cfg); err != nil {
			return AIProfile{}, err
		}
	}
	now := s.now()
	p := AIProfile{
		ID:          util.NewID("aip"),
		UserID:      req.UserID,
		Name:        req.Name,
		Description: req.Description,
		IsPublic:    req.IsPublic,
		Config:      cfg,
		Tags:        req.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.repo.Create(ctx, p); err != nil {
		return AIProfile{}, fmt.Errorf("create ai profile: %w", err)
	}
	return p, nil
}

func (s *ProfileService) Get(ctx context.Context, id string) (AIProfile, error) {
	p, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return AIProfile{}, apperr.NotFound("AI profile")
	}
	return p, err
}

func (s *ProfileService) GetByUser(ctx context.Context, userID string) ([]AIProfile, error) {
	return s.repo.List(ctx, func(p AIProfile) bool { return p.UserID == userID })
}

func (s *ProfileService) PublicProfiles(ctx context.Context) ([]AIProfile, error) {
	return s.repo.List(ctx, func(p AIProfile) bool { return p.IsPublic })
}

type ThreadService struct {
	threads        *Repository[Thread]
	participants   ThreadScoped[Participant]
	aiParticipants ThreadScoped[AIParticipant]
	profiles       *ProfileService
	logger         *zap.Logger
	now            func() time.Time
}

func NewThreadService(profiles *ProfileService, logger *zap.Logger) *ThreadService {
	return &ThreadService{
		threads:        NewRepository[Thread](),
		participants:   NewThreadScoped[Participant](),
		aiParticipants: NewThreadScoped[AIParticipant](),
		profiles:       profiles,
		logger:         logging.OrNop(logger),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *ThreadService) WithClock(now func() time.Time) *ThreadService {
	s.now = now
	if s.profiles != nil {
		s.profiles.now = now
	}
	return s
}

type CreateThreadRequest struct {
	Title          string          `json:"title" validate:"max=200"`
	Description    string          `json:"description" validate:"max=2000"`
	CreatorID      string          `json:"creator_id" validate:"required"`
	IsGroup        bool            `json:"is_group"`
	IsPublic       bool            `json:"is_public"`
	ParticipantIDs []string        `json:"participant_ids"`
	AIProfileIDs   []string        `json:"ai_profile_ids"`
	Settings       *ThreadSettings `json:"settings"`
	Metadata       map[string]any  `json:"metadata"`
}

// Create opens a thread with the creator as admin. Unknown AI profiles are
// skipped.
func (s *ThreadService) Create(ctx context.Context, req CreateThreadRequest) (Thread, error) {
	if err := validate.Struct(req); err != nil {
		return Thread{}, err
	}
	settings := DefaultThreadSettings()
	if req.Settings != nil {
		if err := validate.Struct(*req.Settings); err != nil {
			return Thread{}, err
		}
		settings = *req.Settings
	}
	now := s.now()
	t := Thread{
		ID:          util.NewID("thr"),
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		CreatorID:   req.CreatorID,
		IsGroup:     req.IsGroup || len(req.ParticipantIDs) > 1,
		IsPublic:    req.IsPublic,
		Settings:    settings,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.threads.Create(ctx, t); err != nil {
		return Thread{}, fmt.Errorf("create thread: %w", err)
	}
	if _, err := s.AddParticipant(ctx, t.ID, req.CreatorID, RoleAdmin); err != nil {
		return Thread{}, err
	}
	for _, userID := range req.ParticipantIDs {
		if userID == req.CreatorID || userID == "" {
			continue
		}
		if _, err := s.AddParticipant(ctx, t.ID, userID, RoleUser); err != nil {
			return Thread{}, err
		}
	}
	for _, profileID := range req.AIProfileIDs {
		_, err := s.AddAIParticipant(ctx, t.ID, profileID, nil)
		if apperr.StatusOf(err) == http.StatusNotFound {
			s.logger.Debug("skipping unknown ai profile", zap.String("thread_id", t.ID), zap.String("ai_profile_id", profileID))
			continue
		}
		if err != nil {
			return Thread{}, err
		}
	}
	s.logger.Info("thread created", zap.String("thread_id", t.ID), zap.String("creator_id", t.CreatorID))
	return t, nil
}

func (s *ThreadService) Get(ctx context.Context, id string) (Thread, error) {
	t, err := s.threads.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Thread{}, apperr.NotFound("Thread")
	}
	return t, err
}

// ListForUser returns threads userID participates in, most recently active
// first. Archived threads are included only when asked for.
func (s *ThreadService) ListForUser(ctx context.Context, userID string, includeArchived bool) ([]Thread, error) {
	memberships, err := s.participants.List(ctx, func(p Participant) bool { return p.UserID == userID })
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(memberships))
	for _, p := range memberships {
		ids[p.ThreadID] = true
	}
	items, err := s.threads.List(ctx, func(t Thread) bool {
		return ids[t.ID] && (includeArchived || !t.IsArchived)
	})
	if err != nil {
		return nil, err
	}
	sortThreads(items)
	return items, nil
}

func (s *ThreadService) Archive(ctx context.Context, id string) (Thread, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return Thread{}, err
	}
	t.IsArchived = true
	t.UpdatedAt = s.now()
	return s.threads.Update(ctx, t)
}

// touch bumps UpdatedAt after a new message.
func (s *ThreadService) touch(ctx context.Context, t Thread) error {
	t.UpdatedAt = s.now()
	_, err := s.threads.Update(ctx, t)
	return err
}

// Delete removes the thread with its participants.
func (s *ThreadService) Delete(ctx context.Context, id string) error {
	if err := s.threads.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("Thread")
		}
		return err
	}
	if _, err := s.participants.DeleteByThread(ctx, id); err != nil {
		return fmt.Errorf("delete participants: %w", err)
	}
	if _, err := s.aiParticipants.DeleteByThread(ctx, id); err != nil {
		return fmt.Errorf("delete ai participants: %w", err)
	}
	return nil
}

// Participant returns the membership of userID in a thread.
func (s *ThreadService) Participant(ctx context.Context, threadID, userID string) (Participant, bool, error) {
	items, err := s.participants.ListByThread(ctx, threadID, func(p Participant) bool { return p.UserID == userID })
	if err != nil || len(items) == 0 {
		return Participant{}, false, err
	}
	return items[0], true, nil
}

func (s *ThreadService) Participants(ctx context.Context, threadID string) ([]Participant, error) {
	return s.participants.ListByThread(ctx, threadID, nil)
}

// AddParticipant returns the existing membership when userID already
// belongs to the thread.
func (s *ThreadService) AddParticipant(ctx context.Context, threadID, userID string, role ParticipantRole) (Participant, error) {
	if userID == "" {
		return Participant{}, apperr.Invalid("user_id is required", nil)
	}
	if !s.threads.Exists(ctx, threadID) {
		return Participant{}, apperr.NotFound("Thread")
	}
	if existing, ok, err := s.Participant(ctx, threadID, userID); err != nil || ok {
		return existing, err
	}
	now := s.now()
	p := Participant{
		ID:        util.NewID("par"),
		ThreadID:  threadID,
		UserID:    userID,
		Role:      role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.participants.Create(ctx, p)
}

func (s *ThreadService) RemoveParticipant(ctx context.Context, threadID, userID string) error {
	p, ok, err := s.Participant(ctx, threadID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("Participant")
	}
	return s.participants.Delete(ctx, p.ID)
}

func (s *ThreadService) UpdateParticipantRole(ctx context.Context, threadID, userID string, role ParticipantRole) (Participant, error) {
	p, ok, err := s.Participant(ctx, threadID, userID)
	if err != nil {
		return Participant{}, err
	}
	if !ok {
		return Participant{}, apperr.NotFound("Participant")
	}
	p.Role = role
	p.UpdatedAt = s.now()
	return s.participants.Update(ctx, p)
}

func (s *ThreadService) aiParticipant(ctx context.Context, threadID, profileID string) (AIParticipant, bool, error) {
	items, err := s.aiParticipants.ListByThread(ctx, threadID, func(p AIParticipant) bool { return p.AIProfileID == profileID })
	if err != nil || len(items) == 0 {
		return AIParticipant{}, false, err
	}
	return items[0], true, nil
}

func (s *ThreadService) AIParticipants(ctx context.Context, threadID string) ([]AIParticipant, error) {
	return s.aiParticipants.ListByThread(ctx, threadID, nil)
}

// AddAIParticipant places an existing AI profile in the thread. Adding the
// same profile twice returns the first placement.
func (s *ThreadService) AddAIParticipant(ctx context.Context, threadID, profileID string, overrides map[string]any) (AIParticipant, error) {
	if !s.threads.Exists(ctx, threadID) {
		return AIParticipant{}, apperr.NotFound("Thread")
	}
	if _, err := s.profiles.Get(ctx, profileID); err != nil {
		return AIParticipant{}, err
	}
	if existing, ok, err := s.aiParticipant(ctx, threadID, profileID); err != nil || ok {
		return existing, err
	}
	now := s.now()
	p := AIParticipant{
		ID:              util.NewID("aipar"),
		ThreadID:        threadID,
		AIProfileID:     profileID,
		ConfigOverrides: overrides,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return s.aiParticipants.Create(ctx, p)
}

func (s *ThreadService) RemoveAIParticipant(ctx context.Context, threadID, profileID string) error {
	p, ok, err := s.aiParticipant(ctx, threadID, profileID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("AI participant")
	}
	return s.aiParticipants.Delete(ctx, p.ID)
}

// UpdateAIConfig merges overrides into the thread-level overrides of an AI
// participant.
func (s *ThreadService) UpdateAIConfig(ctx context.Context, threadID, profileID string, overrides map[string]any) (AIParticipant, error) {
	p, ok, err := s.aiParticipant(ctx, threadID, profileID)
	if err != nil {
		return AIParticipant{}, err
	}
	if !ok {
		return AIParticipant{}, apperr.NotFound("AI participant")
	}
	merged := make(map[string]any, len(p.ConfigOverrides)+len(overrides))
	for k, v := range p.ConfigOverrides {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	if _, err := applyOverrides(defaultAIConfig("check"), merged); err != nil {
		return AIParticipant{}, err
	}
	p.ConfigOverrides = merged
	p.UpdatedAt = s.now()
	return s.aiParticipants.Update(ctx, p)
}

// EffectiveConfig is the profile config with the thread overrides applied.
func (s *ThreadService) EffectiveConfig(ctx context.Context, threadID, profileID string) (AIConfig, error) {
	p, ok, err := s.aiParticipant(ctx, threadID, profileID)
	if err != nil {
		return AIConfig{}, err
	}
	if !ok {
		return AIConfig{}, apperr.NotFound("AI participant")
	}
	profile, err := s.profiles.Get(ctx, profileID)
	if err != nil {
		return AIConfig{}, err
	}
	return applyOverrides(profile.Config, p.ConfigOverrides)
}

// applyOverrides sets the known config keys named in overrides. Nested
// objects are merged one level deep; unknown keys are ignored.
func applyOverrides(base AIConfig, overrides map[string]any) (AIConfig, error) {
	if len(overrides) == 0 {
		return base, nil
	}
	raw, err := json.Marshal(base)
	if err != nil {
		return AIConfig{}, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return AIConfig{}, err
	}
	for k, v := range overrides {
		current, known := fields[k]
		if !known {
			if k != "metadata" {
				continue
			}
			current = map[string]any{}
		}
		if cm, ok := current.(map[string]any); ok {
			if vm, ok := v.(map[string]any); ok {
				for nk, nv := range vm {
					cm[nk] = nv
				}
				fields[k] = cm
				continue
			}
		}
		fields[k] = v
	}
	raw, err = json.Marshal(fields)
	if err != nil {
		return AIConfig{}, err
	}
	var out AIConfig
	if err := json.Unmarshal(raw, &out); err != nil {
		return AIConfig{}, apperr.Invalid("Invalid AI config override", err.Error())
	}
	if err := validate.Struct(out); err != nil {
		return AIConfig{}, err
	}
	return out, nil
}

func sortThreads(items []Thread) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
}
