package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"holodomination/internal/db"
	"holodomination/internal/logger"
	"holodomination/internal/models"
	"holodomination/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const ClaimsKey = "claims"

const (
	sessionUserID   = "user_id"
	sessionUsername = "username"
	sessionEmail    = "email"
	sessionRoles    = "roles"
	sessionStamp    = "security_stamp"
	sessionIssuedAt = "issued_at"
)

// ClaimsValidator 按数据库重新验证 session 中的 claims
type ClaimsValidator interface {
	Revalidate(ctx context.Context, claims services.Claims) (*services.Claims, error)
}

// SaveClaims 登录成功后把 claims 写入 session cookie
func SaveClaims(c *gin.Context, claims services.Claims) error {
	session := sessions.Default(c)
	session.Set(sessionUserID, claims.UserID)
	session.Set(sessionUsername, claims.Username)
	session.Set(sessionEmail, claims.Email)
	session.Set(sessionRoles, strings.Join(claims.Roles, ","))
	session.Set(sessionStamp, claims.SecurityStamp)
	session.Set(sessionIssuedAt, claims.IssuedAt.Unix())
	return session.Save()
}

// ClearClaims 退出登录
func ClearClaims(c *gin.Context) error {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	return session.Save()
}

// LoadUser retrieves claims from session and sets to context.
// 签发时间超过 interval 的 claims 交给 validator 重新验证，用户被删除时按未登录处理
func LoadUser(validator ClaimsValidator, interval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID, _ := session.Get(sessionUserID).(string)
		if userID == "" {
			c.Next()
			return
		}

		claims := claimsFromSession(session, userID)
		if validator != nil && time.Since(claims.IssuedAt) >= interval {
			fresh, err := validator.Revalidate(c.Request.Context(), claims)
			switch {
			case err == nil:
				claims = *fresh
				if err := SaveClaims(c, claims); err != nil {
					logger.Log.Warn("save revalidated session failed", zap.String("user_id", userID), zap.Error(err))
				}
			case errors.Is(err, services.ErrNotFound):
				dropClaims(session)
				c.Next()
				return
			default:
				// 数据库暂不可用时保留原 claims，下个请求再验证
				logger.Log.Warn("revalidate session failed", zap.String("user_id", userID), zap.Error(err))
			}
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func claimsFromSession(session sessions.Session, userID string) services.Claims {
	username, _ := session.Get(sessionUsername).(string)
	email, _ := session.Get(sessionEmail).(string)
	rawRoles, _ := session.Get(sessionRoles).(string)
	stamp, _ := session.Get(sessionStamp).(string)
	issuedAt, _ := session.Get(sessionIssuedAt).(int64)

	var roles []string
	if rawRoles != "" {
		roles = strings.Split(rawRoles, ",")
	}
	return services.Claims{
		UserID:        userID,
		Username:      username,
		Email:         email,
		Roles:         roles,
		SecurityStamp: stamp,
		IssuedAt:      time.Unix(issuedAt, 0),
	}
}

// dropClaims 只移除登录信息，保留 session 里的其他键
func dropClaims(session sessions.Session) {
	for _, key := range []string{sessionUserID, sessionUsername, sessionEmail, sessionRoles, sessionStamp, sessionIssuedAt} {
		session.Delete(key)
	}
	if err := session.Save(); err != nil {
		logger.Log.Warn("drop stale session failed", zap.Error(err))
	}
}

// CurrentClaims 未登录时 ok 为 false
func CurrentClaims(c *gin.Context) (services.Claims, bool) {
	v, exists := c.Get(ClaimsKey)
	if !exists {
		return services.Claims{}, false
	}
	claims, ok := v.(services.Claims)
	return claims, ok
}

func abort(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}

// AuthRequired ensures a user is logged in
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentClaims(c); !ok {
			abort(c, http.StatusUnauthorized, "Unauthorized")
			return
		}
		c.Next()
	}
}

// NotBanned 只读取 session 中的角色，不查数据库
// 封禁对已有 session 的生效依赖 LoadUser 的重新验证
func NotBanned() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := CurrentClaims(c); ok && claims.IsBanned() {
			abort(c, http.StatusForbidden, "You are banned")
			return
		}
		c.Next()
	}
}

// RequireRoles 至少拥有其中一个角色
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if !claims.HasAnyRole(roles...) {
			abort(c, http.StatusForbidden, "Forbidden")
			return
		}
		c.Next()
	}
}

// CanComment 评论权限存在用户表上，需要查库
func CanComment() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "Unauthorized")
			return
		}
		var user models.User
		if err := db.DB.WithContext(c.Request.Context()).
			Select("id", "can_comment").
			First(&user, "id = ?", claims.UserID).Error; err != nil || !user.CanComment {
			abort(c, http.StatusForbidden, "You are not allowed to comment")
			return
		}
		c.Next()
	}
}
