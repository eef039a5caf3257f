package router

import (
	"net/http"
	"time"

	"holodomination/internal/config"
	"holodomination/internal/middleware"
	"holodomination/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	SessionCookieName = ".HololiveDominationSession"
	sessionMaxAge     = 90 * 24 * time.Hour
)

// New 组装 gin 引擎：中间件顺序为 recovery、日志、指标、CORS、session、限流
func New(cfg config.ServerConfig, deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger())
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
	}
	r.Use(middleware.CORS(cfg.CORSOrigins))

	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(SessionCookieName, store))
	r.Use(middleware.LoadUser(services.NewAccountService(), cfg.SessionRevalidate))

	if cfg.RateLimit > 0 {
		r.Use(middleware.RateLimit(middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)))
	}

	RegisterRoutes(r, deps)
	return r
}
