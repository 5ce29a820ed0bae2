package kanban

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/logging"
	"leadignite/api/internal/util"
	"leadignite/api/internal/validate"
)

// BoardCache remembers which boards each user can open.
type BoardCache interface {
	Get(ctx context.Context, userID string) ([]string, bool, error)
	Set(ctx context.Context, userID string, boardIDs []string) error
	Invalidate(ctx context.Context, userIDs ...string) error
}

type memoryCache struct {
	mu    sync.RWMutex
	users map[string][]string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{users: make(map[string][]string)}
}

func (c *memoryCache) Get(_ context.Context, userID string) ([]string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids, ok := c.users[userID]
	return append([]string(nil), ids...), ok, nil
}

func (c *memoryCache) Set(_ context.Context, userID string, boardIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[userID] = append([]string(nil), boardIDs...)
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, userIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		delete(c.users, id)
	}
	return nil
}

const redisCachePrefix = "kanban:user-boards:"

// RedisCache stores each user's board ids as a JSON list with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, userID string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, redisCachePrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false, fmt.Errorf("decode cached boards: %w", err)
	}
	return ids, true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID string, boardIDs []string) error {
	if boardIDs == nil {
		boardIDs = []string{}
	}
	raw, err := json.Marshal(boardIDs)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisCachePrefix+userID, raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, redisCachePrefix+id)
	}
	return c.client.Del(ctx, keys...).Err()
}

// Registry owns every board. Board mutations go through Update so the
// user-board cache stays in step with membership.
type Registry struct {
	mu     sync.RWMutex
	boards map[string]Board
	cache  BoardCache
	logger *zap.Logger
	now    func() time.Time

	// membership counts membership changes; a cache fill that raced one is
	// dropped again.
	membership uint64
}

// NewRegistry uses cache for user-board lookups, or an in-process map when
// cache is nil.
func NewRegistry(cache BoardCache, logger *zap.Logger) *Registry {
	if cache == nil {
		cache = newMemoryCache()
	}
	return &Registry{
		boards: make(map[string]Board),
		cache:  cache,
		logger: logging.OrNop(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

type CreateBoardRequest struct {
	Name           string         `json:"name" validate:"required,max=100"`
	Description    string         `json:"description"`
	OrganizationID string         `json:"organization_id" validate:"required"`
	CreatedBy      string         `json:"created_by" validate:"required"`
	IsPublic       bool           `json:"is_public"`
	Settings       *BoardSettings `json:"settings"`
	// DefaultColumns seeds intake, to do, in progress, done and archive.
	DefaultColumns bool `json:"default_columns"`
}

// CreateBoard builds a board with its creator as admin and registers it.
func (r *Registry) CreateBoard(ctx context.Context, req CreateBoardRequest) (Board, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return Board{}, err
	}
	settings := DefaultBoardSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}
	now := r.now()
	b := Board{
		ID:             util.NewID("board"),
		Name:           req.Name,
		Description:    req.Description,
		OrganizationID: req.OrganizationID,
		Settings:       settings,
		IsPublic:       req.IsPublic,
		CreatedBy:      req.CreatedBy,
		Members:        []Member{NewMember(req.CreatedBy, MemberAdmin, now)},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.DefaultColumns {
		for i, col := range []struct {
			name string
			typ  ColumnType
		}{
			{"Intake", ColumnIntake},
			{"To Do", ColumnDefault},
			{"In Progress", ColumnDefault},
			{"Done", ColumnDefault},
			{"Archive", ColumnArchive},
		} {
			if _, err := b.AddState(State{Name: col.name, Type: col.typ, Order: i, IsDefault: true, CreatedBy: req.CreatedBy}, now); err != nil {
				return Board{}, err
			}
		}
	}
	if err := r.AddBoard(ctx, b); err != nil {
		return Board{}, err
	}
	return b, nil
}

// AddBoard registers a fully built board. Duplicate ids are rejected.
func (r *Registry) AddBoard(ctx context.Context, b Board) error {
	b.Name = strings.TrimSpace(b.Name)
	if b.ID == "" {
		b.ID = util.NewID("board")
	}
	if b.Settings.ArchiveAfterDays == 0 {
		b.Settings.ArchiveAfterDays = DefaultBoardSettings().ArchiveAfterDays
	}
	if err := validate.Struct(b.Settings); err != nil {
		return err
	}
	if b.Name == "" {
		return apperr.Invalid("Board name is required", nil)
	}
	r.mu.Lock()
	if _, exists := r.boards[b.ID]; exists {
		r.mu.Unlock()
		return apperr.Conflict("BOARD_EXISTS", fmt.Sprintf("Board %s already exists", b.ID))
	}
	r.boards[b.ID] = b.clone()
	r.membership++
	r.mu.Unlock()

	r.invalidate(ctx, memberIDs(b)...)
	return nil
}

func (r *Registry) Get(_ context.Context, id string) (Board, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.boards[id]
	if !ok {
		return Board{}, apperr.NotFound("Board")
	}
	return b.clone(), nil
}

// Update applies fn to a copy of the board and stores it when fn succeeds.
// Users whose membership changed lose their cached board list.
func (r *Registry) Update(ctx context.Context, id string, fn func(b *Board, now time.Time) error) (Board, error) {
	r.mu.Lock()
	b, ok := r.boards[id]
	if !ok {
		r.mu.Unlock()
		return Board{}, apperr.NotFound("Board")
	}
	before := memberIDs(b)
	b = b.clone()
	if err := fn(&b, r.now()); err != nil {
		r.mu.Unlock()
		return Board{}, err
	}
	r.boards[id] = b.clone()
	changed := symmetricDiff(before, memberIDs(b))
	if len(changed) > 0 {
		r.membership++
	}
	r.mu.Unlock()

	if len(changed) > 0 {
		r.invalidate(ctx, changed...)
	}
	return b, nil
}

func (r *Registry) AddMember(ctx context.Context, boardID, userID string, role MemberRole) (Board, error) {
	return r.Update(ctx, boardID, func(b *Board, now time.Time) error {
		if _, ok := b.Member(userID); ok {
			return apperr.Conflict("ALREADY_MEMBER", "User is already a board member")
		}
		b.Members = append(b.Members, NewMember(userID, role, now))
		b.UpdatedAt = now
		return nil
	})
}

func (r *Registry) RemoveMember(ctx context.Context, boardID, userID string) (Board, error) {
	return r.Update(ctx, boardID, func(b *Board, now time.Time) error {
		for i, m := range b.Members {
			if m.UserID == userID {
				b.Members = append(b.Members[:i], b.Members[i+1:]...)
				b.UpdatedAt = now
				return nil
			}
		}
		return apperr.NotFound("Board member")
	})
}

// UserBoards returns the boards userID belongs to, ordered by name. The id
// list comes from the cache when present; cache failures fall back to a
// scan.
func (r *Registry) UserBoards(ctx context.Context, userID string) ([]Board, error) {
	ids, ok, err := r.cache.Get(ctx, userID)
	if err != nil {
		r.logger.Warn("board cache read failed", zap.String("user_id", userID), zap.Error(err))
		ok = false
	}
	if !ok {
		var seen uint64
		ids, seen = r.scan(userID)
		if err := r.cache.Set(ctx, userID, ids); err != nil {
			r.logger.Warn("board cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
		r.mu.RLock()
		raced := r.membership != seen
		r.mu.RUnlock()
		if raced {
			r.invalidate(ctx, userID)
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Board, 0, len(ids))
	for _, id := range ids {
		if b, exists := r.boards[id]; exists {
			out = append(out, b.clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ArchiveStale runs ArchiveStale on every board and returns the total moved.
func (r *Registry) ArchiveStale(ctx context.Context) (int, error) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.boards))
	for id := range r.boards {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	total := 0
	for _, id := range ids {
		_, err := r.Update(ctx, id, func(b *Board, now time.Time) error {
			total += b.ArchiveStale(now)
			return nil
		})
		if err != nil && apperr.StatusOf(err) != http.StatusNotFound {
			return total, err
		}
	}
	return total, nil
}

func (r *Registry) scan(userID string) ([]string, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0)
	for id, b := range r.boards {
		if _, ok := b.Member(userID); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, r.membership
}

func (r *Registry) invalidate(ctx context.Context, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	if err := r.cache.Invalidate(ctx, userIDs...); err != nil {
		r.logger.Warn("board cache invalidation failed", zap.Strings("user_ids", userIDs), zap.Error(err))
	}
}

func memberIDs(b Board) []string {
	ids := make([]string, 0, len(b.Members))
	for _, m := range b.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

func symmetricDiff(a, b []string) []string {
	seen := make(map[string]int, len(a)+len(b))
	for _, id := range a {
		seen[id] |= 1
	}
	for _, id := range b {
		seen[id] |= 2
	}
	out := make([]string, 0)
	for id, mask := range seen {
		if mask != 3 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
