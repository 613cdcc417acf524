package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter decides whether key may make another request now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// LocalLimiter is a per-process token bucket per client. Once maxClients
// keys are tracked the least recently seen one is forgotten.
type LocalLimiter struct {
	perMin int

	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
}

// DefaultLocalClients is how many client buckets the server keeps.
const DefaultLocalClients = 10000

func NewLocalLimiter(perMin, maxClients int) *LocalLimiter {
	if perMin <= 0 {
		perMin = 10
	}
	if maxClients <= 0 {
		maxClients = DefaultLocalClients
	}
	// only fails for a non-positive size
	cache, _ := lru.New[string, *rate.Limiter](maxClients)
	return &LocalLimiter{perMin: perMin, limiters: cache}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)
		l.limiters.Add(key, lim)
	}
	return lim.Allow(), nil
}

// RedisLimiter is a fixed-window limiter shared by every server instance.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
}

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration, prefix string) *RedisLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "villasync:rl"
	}
	return &RedisLimiter{rdb: rdb, limit: limit, window: window, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := fixedWindowScript.Run(ctx, l.rdb, []string{l.prefix + ":" + key}, l.window.Milliseconds()).Result()
	if err != nil {
		return false, err
	}
	var count int64
	switch v := res.(type) {
	case int64:
		count = v
	case string:
		count, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("unexpected redis script result type %T", res)
	}
	return count <= int64(l.limit), nil
}

// WithRateLimit rejects over-limit clients with 429. Each scope has its own
// budget per client. Limiter failures let the request through.
func WithRateLimit(l Limiter, scope string, key func(*http.Request) string, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), scope+":"+key(r))
			if err != nil {
				logger.Warn("rate limiter error", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "Too many requests. Please try again in a minute."})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
