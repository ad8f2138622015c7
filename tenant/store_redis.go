package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// quotaScript atomically increments a tenant's window counter and checks
// it against the budget in one round trip, setting the key's TTL only on
// first creation — the same create-then-expire idiom this codebase's
// Redis-backed rate limiter uses, adapted from sorted-set rate accounting
// to a simple counter since quota tracks a budget, not a request rate.
var quotaScript = redis.NewScript(`
local key = KEYS[1]
local tokens = tonumber(ARGV[1])
local maxTokens = tonumber(ARGV[2])
local windowSeconds = tonumber(ARGV[3])

local used = tonumber(redis.call("GET", key) or "0")
if used + tokens > maxTokens then
  return {0, maxTokens - used}
end

local newUsed = redis.call("INCRBY", key, tokens)
if newUsed == tokens then
  redis.call("EXPIRE", key, windowSeconds)
end
return {1, maxTokens - newUsed}
`)

// RedisStore backs Store with a Redis counter per (tenant, window),
// surviving gateway restarts and shared across replicas — the
// distributed counterpart to InMemoryStore. It is a cache/counter, not a
// coordination primitive: concurrent Consume calls racing past the TTL
// boundary may over-admit by a bounded amount, which this package
// accepts the same way the rate limiter accepts sliding-window
// approximation error.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore builds a RedisStore using client, namespacing keys under
// prefix (e.g. "gateway:quota").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "gateway:quota"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Consume implements Store. A Redis error fails open (allows the
// request) rather than blocking every tenant on a transient Redis outage
// — consistent with the teacher's own Redis rate limiter's fail-open
// behavior.
func (s *RedisStore) Consume(tenant string, tokens int, budget Budget) (bool, int) {
	key := fmt.Sprintf("%s:%s", s.prefix, tenant)
	windowSeconds := int(budget.Window / time.Second)
	if windowSeconds <= 0 {
		windowSeconds = 1
	}

	res, err := quotaScript.Run(context.Background(), s.client, []string{key}, tokens, budget.MaxTokens, windowSeconds).Result()
	if err != nil {
		return true, budget.MaxTokens
	}

	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return true, budget.MaxTokens
	}
	allowed, _ := pair[0].(int64)
	remaining, _ := pair[1].(int64)
	return allowed == 1, int(remaining)
}
