package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelmondragon/cartreserve-backend/api/responses"
	pkgerrors "github.com/angelmondragon/cartreserve-backend/pkg/errors"
	"github.com/angelmondragon/cartreserve-backend/pkg/logger"
)

type windowStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimitPolicy throttles one client. PerSecond and Burst drive the in-process token
// bucket; WindowLimit per Window is enforced across instances through redis.
type RateLimitPolicy struct {
	Name        string
	PerSecond   float64
	Burst       int
	WindowLimit int64
	Window      time.Duration
	// IdleTTL evicts buckets for clients that have gone quiet.
	IdleTTL     time.Duration
}

func (p RateLimitPolicy) localEnabled() bool  { return p.PerSecond > 0 && p.Burst > 0 }
func (p RateLimitPolicy) sharedEnabled() bool { return p.WindowLimit > 0 && p.Window > 0 }

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type bucketSet struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	policy  RateLimitPolicy
	sweptAt time.Time
	now     func() time.Time
}

func (b *bucketSet) allow(client string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.policy.IdleTTL > 0 && now.Sub(b.sweptAt) > b.policy.IdleTTL {
		for key, bucket := range b.buckets {
			if now.Sub(bucket.lastSeen) > b.policy.IdleTTL {
				delete(b.buckets, key)
			}
		}
		b.sweptAt = now
	}

	bucket, ok := b.buckets[client]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(rate.Limit(b.policy.PerSecond), b.policy.Burst)}
		b.buckets[client] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.AllowN(now, 1)
}

// RateLimit rejects clients over the policy with RATE_LIMITED. Clients are keyed by owner
// when authenticated and by IP otherwise. A failing redis store does not block traffic.
func RateLimit(policy RateLimitPolicy, store windowStore, logg *logger.Logger) func(http.Handler) http.Handler {
	buckets := &bucketSet{
		buckets: make(map[string]*clientBucket),
		policy:  policy,
		now:     time.Now,
	}
	name := strings.ToLower(strings.TrimSpace(policy.Name))
	if name == "" {
		name = "api"
	}

	return func(next http.Handler) http.Handler {
		if !policy.localEnabled() && (!policy.sharedEnabled() || store == nil) {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			client := clientKey(r)

			if policy.localEnabled() && !buckets.allow(client) {
				respondRateLimited(ctx, logg, w, name, "local", client)
				return
			}

			if policy.sharedEnabled() && store != nil {
				allowed, _, err := store.FixedWindowAllow(ctx, name+":"+client, policy.WindowLimit, policy.Window)
				switch {
				case err != nil && logg != nil:
					// Fail open: the local bucket still applies.
					logg.Error(ctx, "rate_limit.store_failed", err)
				case err == nil && !allowed:
					respondRateLimited(ctx, logg, w, name, "shared", client)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func respondRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy, scope, client string) {
	if logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{
			"policy": policy,
			"scope":  scope,
			"client": client,
		})
		logg.Warn(logCtx, "rate_limit.blocked")
	}
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
}

func clientKey(r *http.Request) string {
	if owner := OwnerIDFromContext(r.Context()); owner != "" {
		return "owner:" + owner
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
