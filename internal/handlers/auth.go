package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"

	"holodomination/internal/logger"
	"holodomination/internal/middleware"
	"holodomination/internal/oauth"
	"holodomination/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	sessionOAuthState    = "oauth_state"
	sessionOAuthVerifier = "oauth_verifier"
	sessionOAuthProvider = "oauth_provider"
)

type AuthHandler struct {
	providers *oauth.Registry
	accounts  *services.AccountService
}

func NewAuthHandler(providers *oauth.Registry, accounts *services.AccountService) *AuthHandler {
	return &AuthHandler{providers: providers, accounts: accounts}
}

// generateStateToken 生成随机 state token
func generateStateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Providers 已配置的登录方式
func (h *AuthHandler) Providers(c *gin.Context) {
	c.JSON(http.StatusOK, h.providers.Names())
}

// Challenge 发起 OAuth 登录，state 和 PKCE verifier 存在 session 里
func (h *AuthHandler) Challenge(c *gin.Context) {
	name := c.Query("provider")
	if name == "" {
		badRequest(c, "No provider specified")
		return
	}
	provider, ok := h.providers.Get(name)
	if !ok {
		badRequest(c, "Unknown provider "+name)
		return
	}

	state, err := generateStateToken()
	if err != nil {
		RespondError(c, err)
		return
	}
	verifier := oauth2.GenerateVerifier()

	session := sessions.Default(c)
	session.Set(sessionOAuthState, state)
	session.Set(sessionOAuthVerifier, verifier)
	session.Set(sessionOAuthProvider, provider.Name())
	if err := session.Save(); err != nil {
		RespondError(c, err)
		return
	}

	c.Redirect(http.StatusFound, provider.AuthCodeURL(state, verifier))
}

// Callback 处理提供方回调，成功后写入登录态并跳回首页
func (h *AuthHandler) Callback(c *gin.Context) {
	session := sessions.Default(c)
	savedState, _ := session.Get(sessionOAuthState).(string)
	verifier, _ := session.Get(sessionOAuthVerifier).(string)
	providerName, _ := session.Get(sessionOAuthProvider).(string)

	// state 只能使用一次
	session.Delete(sessionOAuthState)
	session.Delete(sessionOAuthVerifier)
	session.Delete(sessionOAuthProvider)
	fail := func(message string) {
		_ = session.Save()
		badRequest(c, message)
	}

	if savedState == "" || c.Query("state") != savedState {
		fail("Invalid state")
		return
	}
	if errMsg := c.Query("error"); errMsg != "" {
		fail("Provider error: " + errMsg)
		return
	}
	code := c.Query("code")
	if code == "" {
		fail("No authorization code provided")
		return
	}
	provider, ok := h.providers.Get(providerName)
	if !ok {
		fail("Unknown provider " + providerName)
		return
	}

	ident, err := provider.Exchange(c.Request.Context(), code, verifier)
	if err != nil {
		logger.Log.Warn("oauth exchange failed", zap.String("provider", providerName), zap.Error(err))
		fail("Could not retrieve login information")
		return
	}

	claims, err := h.accounts.SignInExternal(c.Request.Context(), *ident)
	if err != nil {
		_ = session.Save()
		RespondError(c, err)
		return
	}
	if err := middleware.SaveClaims(c, *claims); err != nil {
		RespondError(c, err)
		return
	}

	logger.Log.Info("user signed in",
		zap.String("user_id", claims.UserID), zap.String("provider", ident.Provider))
	c.Redirect(http.StatusFound, "/")
}

func (h *AuthHandler) SignOut(c *gin.Context) {
	if err := middleware.ClearClaims(c); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
