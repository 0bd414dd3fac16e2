package middleware

import (
	"sync"

	"newsrank/internal/apperrors"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const maxTrackedClients = 10000

// IPRateLimiter 每个客户端 IP 一个令牌桶，最近最少使用的 IP 被淘汰
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

func NewIPRateLimiter(perSecond float64, burst int) *IPRateLimiter {
	cache, _ := lru.New[string, *rate.Limiter](maxTrackedClients)
	return &IPRateLimiter{
		limiters: cache,
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters.Add(ip, limiter)
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// RateLimit 超出速率时返回 429
func RateLimit(l *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			e := apperrors.RateLimited("too many requests")
			c.AbortWithStatusJSON(e.HTTPStatus(), e.ToResponse())
			return
		}
		c.Next()
	}
}
