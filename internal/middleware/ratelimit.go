package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// IPRateLimiter 每个 IP 一个令牌桶，LRU 淘汰长期不活跃的 IP
type IPRateLimiter struct {
	ips *lru.Cache[string, *rate.Limiter]
	mu  sync.Mutex
	r   rate.Limit
	b   int
}

// NewIPRateLimiter r: 每秒允许的请求数，b: 桶大小
func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	cache, err := lru.New[string, *rate.Limiter](10000)
	if err != nil {
		panic(err)
	}
	return &IPRateLimiter{ips: cache, r: r, b: b}
}

func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	limiter, ok := i.ips.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(i.r, i.b)
		i.ips.Add(ip, limiter)
	}
	return limiter
}

// RateLimit 只限制写操作，GET/HEAD/OPTIONS 直接放行
func RateLimit(l *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if !l.GetLimiter(c.ClientIP()).Allow() {
			abort(c, http.StatusTooManyRequests, "Too many requests")
			return
		}
		c.Next()
	}
}
