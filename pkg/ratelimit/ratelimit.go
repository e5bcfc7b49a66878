package ratelimit

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/coscribe/coscribe/pkg/cache"
	"github.com/coscribe/coscribe/pkg/config"
	"github.com/coscribe/coscribe/pkg/log"
	"github.com/coscribe/coscribe/pkg/metrics"
	"github.com/coscribe/coscribe/pkg/types"
)

// gcHorizonMs is how far back window members are kept before GC removes
// them. Well beyond any configured window.
const gcHorizonMs = int64(60 * 60 * 1000)

// Decision is the outcome of an admission check.
type Decision struct {
	Admitted     bool
	Remaining    int
	ResetAt      int64 // epoch ms when the current window rolls over
	BlockedUntil int64 // epoch ms, zero when not blocked
}

// Limiter admits or rejects messages per (principal, type) using a sliding
// window of request timestamps in the cache store. Types without a rule are
// unlimited. When the store is unreachable the limiter fails open: refusing
// collaboration over a cache outage is the wrong trade.
type Limiter struct {
	store  *cache.Store
	rules  map[types.MessageType]config.RateRule
	logger zerolog.Logger
}

// New creates a limiter with the configured rules.
func New(store *cache.Store, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		store: store,
		rules: map[types.MessageType]config.RateRule{
			types.MessageCRDTUpdate:      cfg.CRDT,
			types.MessageAwarenessUpdate: cfg.Awareness,
		},
		logger: log.WithComponent("ratelimit"),
	}
}

// Check admits or rejects one message. Admission appends the current
// timestamp to the window; rejection on the blocked path has no side
// effect beyond setting the block marker when the window first overflows.
func (l *Limiter) Check(ctx context.Context, principalID string, msgType types.MessageType) Decision {
	rule, limited := l.rules[msgType]
	if !limited {
		return Decision{Admitted: true, Remaining: -1}
	}

	now := types.NowMs()
	windowKey := cache.RateLimitKey(principalID, string(msgType))
	blockKey := cache.RateLimitBlockKey(principalID, string(msgType))

	cctx, cancel := l.store.Context(ctx)
	defer cancel()
	client := l.store.Client()

	// Step 1: an active block rejects immediately.
	blockedUntil, err := client.Get(cctx, blockKey).Int64()
	if err != nil && err != redis.Nil {
		l.failOpen(err)
		return Decision{Admitted: true, Remaining: rule.MaxMessages}
	}
	if err == nil && blockedUntil > now {
		metrics.RateLimitRejections.WithLabelValues(string(msgType)).Inc()
		return Decision{BlockedUntil: blockedUntil, ResetAt: blockedUntil}
	}

	// Step 2: count the window and block on overflow.
	windowStart := now - rule.WindowMs
	count, err := client.ZCount(cctx, windowKey,
		strconv.FormatInt(windowStart, 10), strconv.FormatInt(now, 10)).Result()
	if err != nil {
		l.failOpen(err)
		return Decision{Admitted: true, Remaining: rule.MaxMessages}
	}
	if int(count) >= rule.MaxMessages {
		until := now + rule.BlockMs
		if err := client.Set(cctx, blockKey, until, rule.Block()).Err(); err != nil {
			l.failOpen(err)
			return Decision{Admitted: true, Remaining: 0}
		}
		metrics.RateLimitRejections.WithLabelValues(string(msgType)).Inc()
		return Decision{BlockedUntil: until, ResetAt: until}
	}

	// Step 3: admit and record. The random suffix keeps members from two
	// gateway instances distinct even in the same millisecond; a collision
	// would dedupe the ZADD and undercount the window.
	member := strconv.FormatInt(now, 10) + ":" + principalID + ":" + uuid.NewString()[:8]
	if err := client.ZAdd(cctx, windowKey, redis.Z{Score: float64(now), Member: member}).Err(); err != nil {
		l.failOpen(err)
	}

	return Decision{
		Admitted:  true,
		Remaining: rule.MaxMessages - int(count) - 1,
		ResetAt:   now + rule.WindowMs,
	}
}

func (l *Limiter) failOpen(err error) {
	l.logger.Warn().Err(err).Msg("cache store unavailable, admitting without limit")
}

// GC removes window members older than an hour and drops empty windows.
// Returns the number of windows dropped. Triggered periodically by the
// gateway process.
func (l *Limiter) GC(ctx context.Context) (int, error) {
	cctx, cancel := l.store.Context(ctx)
	defer cancel()
	client := l.store.Client()

	horizon := strconv.FormatInt(types.NowMs()-gcHorizonMs, 10)
	dropped := 0

	iter := client.Scan(cctx, 0, cache.RateLimitPrefix+"*", 100).Iterator()
	for iter.Next(cctx) {
		key := iter.Val()
		if err := client.ZRemRangeByScore(cctx, key, "-inf", horizon).Err(); err != nil {
			return dropped, err
		}
		n, err := client.ZCard(cctx, key).Result()
		if err != nil {
			return dropped, err
		}
		if n == 0 {
			if err := client.Del(cctx, key).Err(); err != nil {
				return dropped, err
			}
			dropped++
		}
	}
	if err := iter.Err(); err != nil {
		return dropped, err
	}

	l.logger.Debug().Int("dropped", dropped).Msg("rate limit GC complete")
	return dropped, nil
}
