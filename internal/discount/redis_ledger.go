package discount

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// recordScript stores the usage document and bumps both counters in one
// step. KEYS: usage doc, total counter, per-user hash.
// ARGV: usage JSON, user id, max uses, max uses per user.
var recordScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 1
end
local maxUses = tonumber(ARGV[3])
if maxUses > 0 and tonumber(redis.call('GET', KEYS[2]) or '0') >= maxUses then
	return 2
end
local perUser = tonumber(ARGV[4])
if perUser > 0 and ARGV[2] ~= '' and tonumber(redis.call('HGET', KEYS[3], ARGV[2]) or '0') >= perUser then
	return 3
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('INCR', KEYS[2])
if ARGV[2] ~= '' then
	redis.call('HINCRBY', KEYS[3], ARGV[2], 1)
end
return 0
`)

// releaseScript deletes the usage document and hands its slot back.
// KEYS: usage doc, total counter, per-user hash. Returns 0 when the order
// was never recorded.
var releaseScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return 0
end
redis.call('DEL', KEYS[1])
if tonumber(redis.call('GET', KEYS[2]) or '0') > 0 then
	redis.call('DECR', KEYS[2])
end
local user = cjson.decode(raw)['user_id']
if user and user ~= '' and tonumber(redis.call('HGET', KEYS[3], user) or '0') > 0 then
	redis.call('HINCRBY', KEYS[3], user, -1)
end
return 1
`)

// RedisLedger keeps redemptions in Redis. Keys of one code share a hash
// tag so the script stays valid on a cluster.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

func NewRedisLedgerWithClient(client *redis.Client) *RedisLedger {
	return &RedisLedger{
		client: client,
		prefix: "discount:",
	}
}

func (l *RedisLedger) usageKey(code, orderID string) string {
	return l.prefix + "{" + code + "}:usage:" + orderID
}

func (l *RedisLedger) countKey(code string) string {
	return l.prefix + "{" + code + "}:count"
}

func (l *RedisLedger) usersKey(code string) string {
	return l.prefix + "{" + code + "}:users"
}

func (l *RedisLedger) Record(ctx context.Context, usage Usage, limits Limits) (RecordStatus, error) {
	payload, err := json.Marshal(usage)
	if err != nil {
		return 0, fmt.Errorf("marshal usage: %w", err)
	}
	keys := []string{
		l.usageKey(usage.Code, usage.OrderID),
		l.countKey(usage.Code),
		l.usersKey(usage.Code),
	}
	result, err := recordScript.Run(ctx, l.client, keys,
		string(payload),
		usage.UserID,
		strconv.Itoa(limits.MaxUses),
		strconv.Itoa(limits.MaxUsesPerUser),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("record usage %s/%s: %w", usage.Code, usage.OrderID, err)
	}
	return RecordStatus(result), nil
}

func (l *RedisLedger) Release(ctx context.Context, code, orderID string) (bool, error) {
	keys := []string{l.usageKey(code, orderID), l.countKey(code), l.usersKey(code)}
	released, err := releaseScript.Run(ctx, l.client, keys).Int()
	if err != nil {
		return false, fmt.Errorf("release usage %s/%s: %w", code, orderID, err)
	}
	return released == 1, nil
}

func (l *RedisLedger) Count(ctx context.Context, code string) (int, error) {
	count, err := l.client.Get(ctx, l.countKey(code)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("usage count %s: %w", code, err)
	}
	return count, nil
}

func (l *RedisLedger) UserCount(ctx context.Context, code, userID string) (int, error) {
	count, err := l.client.HGet(ctx, l.usersKey(code), userID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("user usage count %s: %w", code, err)
	}
	return count, nil
}

func (l *RedisLedger) Usage(ctx context.Context, code, orderID string) (Usage, bool, error) {
	raw, err := l.client.Get(ctx, l.usageKey(code, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Usage{}, false, nil
	}
	if err != nil {
		return Usage{}, false, fmt.Errorf("lookup usage %s/%s: %w", code, orderID, err)
	}
	var usage Usage
	if err := json.Unmarshal(raw, &usage); err != nil {
		return Usage{}, false, fmt.Errorf("unmarshal usage: %w", err)
	}
	return usage, true, nil
}

// Close closes the Redis connection
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

// Ping checks if Redis is reachable
func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
