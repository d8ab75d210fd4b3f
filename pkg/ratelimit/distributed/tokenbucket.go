package distributed

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/flowgate/pkg/common/errors"
	"github.com/vnykmshr/flowgate/pkg/metrics"
)

// redisTokenBucket implements Limiter on a shared Redis bucket.
//
// Refill follows the same policy as the local bucket: the refill
// timestamp only advances when at least one whole token has accrued, so
// fractional accrual keeps accumulating across instances instead of
// being rounded away on every probe.
type redisTokenBucket struct {
	config   Config
	keys     bucketKeys
	registry *metrics.Registry

	tryConsume *redis.Script
}

func newRedisTokenBucket(config Config) (Limiter, error) {
	rtb := &redisTokenBucket{
		config:     config,
		keys:       keysFor(config.Key),
		registry:   config.Metrics.Resolve(),
		tryConsume: redis.NewScript(luaTryConsume),
	}

	if err := rtb.initialize(context.Background()); err != nil {
		return nil, err
	}

	return rtb, nil
}

// initialize seeds the shared state and registers this instance.
func (rtb *redisTokenBucket) initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, rtb.config.RedisTimeout)
	defer cancel()

	pipe := rtb.config.Redis.Pipeline()

	pipe.SetNX(ctx, rtb.keys.tokens, float64(rtb.config.Burst), rtb.config.KeyTTL)
	pipe.SetNX(ctx, rtb.keys.last, timeToFloat(time.Now()), rtb.config.KeyTTL)

	pipe.HSet(ctx, rtb.keys.config, map[string]interface{}{
		"rate":  rtb.config.Rate,
		"burst": rtb.config.Burst,
	})
	pipe.Expire(ctx, rtb.keys.config, rtb.config.KeyTTL)

	pipe.SAdd(ctx, rtb.keys.instances, rtb.config.InstanceID)
	pipe.Expire(ctx, rtb.keys.instances, rtb.config.KeyTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewOperationError("distributed", "initialize", err)
	}

	return nil
}

// Allow implements Limiter.Allow.
func (rtb *redisTokenBucket) Allow(ctx context.Context) bool {
	return rtb.AllowN(ctx, 1)
}

// AllowN implements Limiter.AllowN.
func (rtb *redisTokenBucket) AllowN(ctx context.Context, n int) bool {
	if n <= 0 {
		return true
	}

	res, err := rtb.Reserve(ctx, n)
	if err != nil {
		if rtb.config.FallbackToLocal {
			return rtb.config.Local.AllowN(n)
		}
		return false
	}

	allowed := res.OK && res.Delay <= 0
	if rtb.registry != nil {
		rtb.registry.RateLimitRequests.WithLabelValues("distributed", rtb.config.Key).Inc()
		if allowed {
			rtb.registry.RateLimitAllowed.WithLabelValues("distributed", rtb.config.Key).Inc()
		} else {
			rtb.registry.RateLimitDenied.WithLabelValues("distributed", rtb.config.Key).Inc()
		}
	}

	return allowed
}

// Wait implements Limiter.Wait.
func (rtb *redisTokenBucket) Wait(ctx context.Context) error {
	return rtb.WaitN(ctx, 1)
}

// WaitN implements Limiter.WaitN.
func (rtb *redisTokenBucket) WaitN(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	res, err := rtb.Reserve(ctx, n)
	if err != nil {
		if rtb.config.FallbackToLocal {
			return rtb.config.Local.WaitN(ctx, n)
		}
		return err
	}

	if !res.OK {
		return errors.ErrRateLimited
	}

	if res.Delay > 0 {
		timer := time.NewTimer(res.Delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Reserve implements Limiter.Reserve.
func (rtb *redisTokenBucket) Reserve(ctx context.Context, n int) (*Reservation, error) {
	if n <= 0 {
		return &Reservation{OK: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, rtb.config.RedisTimeout)
	defer cancel()

	now := time.Now()
	result, err := rtb.tryConsume.Run(ctx, rtb.config.Redis, []string{
		rtb.keys.tokens,
		rtb.keys.last,
		rtb.keys.config,
		rtb.keys.stats,
	},
		n,
		timeToFloat(now),
		rtb.config.Rate,
		rtb.config.Burst,
	).Result()
	if err != nil {
		return nil, errors.NewOperationError("distributed", "reserve", err)
	}

	slice, ok := result.([]interface{})
	if !ok || len(slice) != 3 {
		return nil, errors.NewOperationError("distributed", "reserve", errors.ErrInvalidConfiguration).
			WithContext("unexpected script result shape")
	}

	allowed, _ := slice[0].(int64)
	delayStr, _ := slice[2].(string)
	delaySeconds, _ := strconv.ParseFloat(delayStr, 64)
	delay := time.Duration(delaySeconds * float64(time.Second))

	return &Reservation{
		OK:         allowed == 1,
		Delay:      delay,
		Tokens:     n,
		AllowedAt:  now.Add(delay),
		InstanceID: rtb.config.InstanceID,
	}, nil
}

// SetRate implements Limiter.SetRate.
func (rtb *redisTokenBucket) SetRate(ctx context.Context, rate float64) error {
	if rate <= 0 {
		return errors.NewValidationError("distributed", "rate", rate, "rate must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, rtb.config.RedisTimeout)
	defer cancel()

	if err := rtb.config.Redis.HSet(ctx, rtb.keys.config, "rate", rate).Err(); err != nil {
		return errors.NewOperationError("distributed", "SetRate", err)
	}

	rtb.config.Rate = rate
	return nil
}

// SetBurst implements Limiter.SetBurst.
func (rtb *redisTokenBucket) SetBurst(ctx context.Context, burst int) error {
	if burst <= 0 {
		return errors.NewValidationError("distributed", "burst", burst, "burst must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, rtb.config.RedisTimeout)
	defer cancel()

	if err := rtb.config.Redis.HSet(ctx, rtb.keys.config, "burst", burst).Err(); err != nil {
		return errors.NewOperationError("distributed", "SetBurst", err)
	}

	rtb.config.Burst = burst
	return nil
}

// Stats implements Limiter.Stats.
func (rtb *redisTokenBucket) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, rtb.config.RedisTimeout)
	defer cancel()

	pipe := rtb.config.Redis.Pipeline()

	tokensCmd := pipe.Get(ctx, rtb.keys.tokens)
	lastCmd := pipe.Get(ctx, rtb.keys.last)
	configCmd := pipe.HGetAll(ctx, rtb.keys.config)
	instancesCmd := pipe.SMembers(ctx, rtb.keys.instances)
	statsCmd := pipe.HGetAll(ctx, rtb.keys.stats)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, errors.NewOperationError("distributed", "Stats", err)
	}

	tokens, _ := strconv.ParseFloat(tokensCmd.Val(), 64)
	lastSeconds, _ := strconv.ParseFloat(lastCmd.Val(), 64)

	configMap := configCmd.Val()
	rate, _ := strconv.ParseFloat(configMap["rate"], 64)
	burst, _ := strconv.Atoi(configMap["burst"])

	statsMap := statsCmd.Val()
	total, _ := strconv.ParseInt(statsMap["total"], 10, 64)
	allowed, _ := strconv.ParseInt(statsMap["allowed"], 10, 64)
	denied, _ := strconv.ParseInt(statsMap["denied"], 10, 64)

	return &Stats{
		Rate:            rate,
		Burst:           burst,
		Tokens:          tokens,
		LastRefill:      floatToTime(lastSeconds),
		TotalRequests:   total,
		AllowedRequests: allowed,
		DeniedRequests:  denied,
		ActiveInstances: instancesCmd.Val(),
	}, nil
}

// Reset implements Limiter.Reset.
func (rtb *redisTokenBucket) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, rtb.config.RedisTimeout)
	defer cancel()

	if err := rtb.config.Redis.Del(ctx, rtb.keys.all()...).Err(); err != nil {
		return errors.NewOperationError("distributed", "Reset", err)
	}

	return rtb.initialize(ctx)
}

// Close implements Limiter.Close.
func (rtb *redisTokenBucket) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), rtb.config.RedisTimeout)
	defer cancel()

	return rtb.config.Redis.SRem(ctx, rtb.keys.instances, rtb.config.InstanceID).Err()
}

// luaTryConsume refills and consumes atomically.
//
// KEYS[1] tokens, KEYS[2] last_refill, KEYS[3] config, KEYS[4] stats
// ARGV[1] tokens requested, ARGV[2] now (float seconds),
// ARGV[3] refill rate, ARGV[4] burst capacity
//
// Returns {allowed, tokens_after, delay_seconds}.
const luaTryConsume = `
local tokens_key = KEYS[1]
local last_key = KEYS[2]
local stats_key = KEYS[4]

local requested = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local capacity = tonumber(ARGV[4])

local tokens = tonumber(redis.call('GET', tokens_key) or capacity)
local last = tonumber(redis.call('GET', last_key) or now)

-- Only advance the refill timestamp once a whole token has accrued, so
-- fractional accrual is never discarded by frequent probes.
local elapsed = math.max(0, now - last)
local accrued = elapsed * rate
if accrued >= 1 then
    tokens = math.min(capacity, tokens + accrued)
    last = now
end

redis.call('HINCRBY', stats_key, 'total', 1)

if tokens >= requested then
    tokens = tokens - requested
    redis.call('SET', tokens_key, tostring(tokens))
    redis.call('SET', last_key, tostring(last))
    redis.call('HINCRBY', stats_key, 'allowed', 1)
    return {1, tostring(tokens), '0'}
end

redis.call('SET', tokens_key, tostring(tokens))
redis.call('SET', last_key, tostring(last))
redis.call('HINCRBY', stats_key, 'denied', 1)

local needed = requested - tokens
return {0, tostring(tokens), tostring(needed / rate)}
`
