package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"roster-api/pkg/appenv"
	"roster-api/types"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterEntry holds a rate limiter and the last time it was seen.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore maps keys (user id or client IP) to token buckets. A janitor
// goroutine evicts stale entries to bound memory.
type limiterStore struct {
	mu         sync.Mutex
	entries    map[string]*limiterEntry
	staleAfter time.Duration
}

func newLimiterStore(staleAfter time.Duration) *limiterStore {
	s := &limiterStore{
		entries:    make(map[string]*limiterEntry),
		staleAfter: staleAfter,
	}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			s.cleanup()
		}
	}()
	return s
}

func (s *limiterStore) getOrCreate(key string, r rate.Limit, burst int) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.lastSeen = time.Now()
		return e.limiter
	}
	lim := rate.NewLimiter(r, burst)
	s.entries[key] = &limiterEntry{limiter: lim, lastSeen: time.Now()}
	return lim
}

func (s *limiterStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-s.staleAfter)
	for k, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

func tooManyRequests(c *gin.Context) {
	c.Header("Retry-After", "1")
	c.JSON(http.StatusTooManyRequests, types.NewErrorResponse("RATE_LIMIT_EXCEEDED", "Too many requests"))
	c.Abort()
}

// RateLimitMiddleware performs per-user (when authenticated) or per-IP token
// bucket limiting. Preflight and /health are exempt. Disabled under APP_ENV=test.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if appenv.IsTest() {
		return func(c *gin.Context) { c.Next() }
	}
	limit := rate.Limit(rps)
	store := newLimiterStore(10 * time.Minute)

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions || c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		key := "ip:" + c.ClientIP()
		if userID := c.GetInt("userId"); userID != 0 {
			key = "uid:" + strconv.Itoa(userID)
		}
		if !store.getOrCreate(key, limit, burst).Allow() {
			tooManyRequests(c)
			return
		}
		c.Next()
	}
}

// RateLimitAuthMiddleware applies a stricter per-IP limit for /login and
// /register, independent of the global limiter, to slow brute forcing.
func RateLimitAuthMiddleware() gin.HandlerFunc {
	if appenv.IsTest() {
		return func(c *gin.Context) { c.Next() }
	}
	store := newLimiterStore(10 * time.Minute)
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		if !store.getOrCreate("auth:"+c.ClientIP(), rate.Limit(1), 5).Allow() {
			tooManyRequests(c)
			return
		}
		c.Next()
	}
}
