package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const visitorIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is an in-process token bucket per client IP. Idle visitors are
// forgotten after ten minutes.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	var (
		mu        sync.Mutex
		visitors  = make(map[string]*visitor)
		lastSweep = time.Now()
	)

	allow := func(ip string) bool {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		if now.Sub(lastSweep) > visitorIdleTTL {
			for key, v := range visitors {
				if now.Sub(v.lastSeen) > visitorIdleTTL {
					delete(visitors, key)
				}
			}
			lastSweep = now
		}

		v, ok := visitors[ip]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(r, b)}
			visitors[ip] = v
		}
		v.lastSeen = now
		return v.limiter.Allow()
	}

	return func(c *gin.Context) {
		if !allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// RateLimit is a sliding-window allowance of Rate requests per Window.
type RateLimit struct {
	Rate    int
	Window  time.Duration
	KeyFunc func(*gin.Context) string
	OnLimit func(*gin.Context)
}

// DistributedRateLimiter shares sliding windows between instances through
// Redis sorted sets. It fails open when Redis is unreachable.
type DistributedRateLimiter struct {
	redis  *redis.Client
	limits map[string]*RateLimit
	seq    atomic.Uint64
}

func NewDistributedRateLimiter(redisClient *redis.Client) *DistributedRateLimiter {
	return &DistributedRateLimiter{
		redis:  redisClient,
		limits: make(map[string]*RateLimit),
	}
}

func (rl *DistributedRateLimiter) CreateMiddleware(name string, limit *RateLimit) gin.HandlerFunc {
	rl.limits[name] = limit
	if limit.KeyFunc == nil {
		limit.KeyFunc = IPKeyFunc
	}

	return func(c *gin.Context) {
		key := fmt.Sprintf("ratelimit:%s:%s", name, limit.KeyFunc(c))

		count, err := rl.hit(c.Request.Context(), key, limit.Window)
		if err != nil {
			c.Header("X-RateLimit-Error", "true")
			c.Next()
			return
		}

		remaining := int64(limit.Rate) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Rate))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(limit.Rate) {
			if limit.OnLimit != nil {
				limit.OnLimit(c)
				c.Abort()
				return
			}
			c.Header("Retry-After", strconv.Itoa(int(limit.Window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": limit.Window.Seconds(),
			})
			return
		}

		c.Next()
	}
}

// hit records one request and returns how many fall inside the window,
// this one included.
func (rl *DistributedRateLimiter) hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	member := fmt.Sprintf("%d-%d", now.UnixNano(), rl.seq.Add(1))

	pipe := rl.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-window).UnixNano(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limit pipeline failed: %w", err)
	}
	return count.Val(), nil
}

func IPKeyFunc(c *gin.Context) string {
	return c.ClientIP()
}

// SubjectKeyFunc keys on the authenticated subject, falling back to the IP.
func SubjectKeyFunc(c *gin.Context) string {
	subject := c.GetString(SubjectKey)
	if subject == "" {
		return c.ClientIP()
	}
	return "sub:" + subject
}
