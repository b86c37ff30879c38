package convlock

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquire: grant the lease when the key is free or the stored lease is
// older than max hold. Value format: "<holder>|<acquired-unix-ms>".
var acquireScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current then
  local sep = string.find(current, "|")
  local acquired = tonumber(string.sub(current, sep + 1))
  if acquired and (tonumber(ARGV[2]) - acquired) < tonumber(ARGV[3]) then
    return 0
  end
end
redis.call("SET", KEYS[1], ARGV[1] .. "|" .. ARGV[2], "PX", ARGV[4])
return 1
`)

// release: delete the lease only when the stored holder matches.
var releaseScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
local sep = string.find(current, "|")
if string.sub(current, 1, sep - 1) == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`)

// RedisLocker keeps leases in Redis so serialization holds across processes.
// Acquire and release are both single Lua scripts, making the check-and-set
// explicit compare-and-swap operations.
type RedisLocker struct {
	client  *redis.Client
	prefix  string
	maxHold time.Duration
}

// NewRedisLocker builds a Redis-backed locker.
func NewRedisLocker(addr, password, prefix string, maxHold time.Duration) *RedisLocker {
	if prefix == "" {
		prefix = "studypal:convlock"
	}
	if maxHold <= 0 {
		maxHold = DefaultMaxHold
	}
	return &RedisLocker{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix:  prefix,
		maxHold: maxHold,
	}
}

// TryAcquire grants the lease when free or stale.
func (l *RedisLocker) TryAcquire(ctx context.Context, conversationID, holder string) (bool, error) {
	nowMs := time.Now().UnixMilli()
	maxHoldMs := l.maxHold.Milliseconds()
	// Key TTL is twice the hold time; the staleness check above is what
	// actually governs steals, the TTL just stops leaks.
	res, err := acquireScript.Run(ctx, l.client,
		[]string{l.key(conversationID)},
		holder,
		strconv.FormatInt(nowMs, 10),
		strconv.FormatInt(maxHoldMs, 10),
		strconv.FormatInt(2*maxHoldMs, 10),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("lease acquire: %w", err)
	}
	return res == 1, nil
}

// Release drops the lease when holder still owns it.
func (l *RedisLocker) Release(ctx context.Context, conversationID, holder string) error {
	if strings.TrimSpace(holder) == "" {
		return nil
	}
	if _, err := releaseScript.Run(ctx, l.client,
		[]string{l.key(conversationID)}, holder).Int64(); err != nil {
		return fmt.Errorf("lease release: %w", err)
	}
	return nil
}

func (l *RedisLocker) key(conversationID string) string {
	return l.prefix + ":" + conversationID
}
