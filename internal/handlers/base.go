package handlers

import (
	"errors"
	"net/http"

	"holodomination/internal/logger"
	"holodomination/internal/middleware"
	"holodomination/internal/services"
	"holodomination/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RespondError 按错误类别映射状态码，未分类的错误记录日志后返回 500
func RespondError(c *gin.Context, err error) {
	message := err.Error()
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		message = svcErr.Message
	}

	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrBadRequest):
		code = http.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, services.ErrInternal):
		logger.Log.Error("operator attention required", zap.Error(err), zap.String("path", c.Request.URL.Path))
	default:
		message = "Internal server error"
		logger.Log.Error("unhandled error", zap.Error(err), zap.String("path", c.Request.URL.Path))
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": message})
}

// actor 路由上已经挂了 AuthRequired，这里只做类型转换
func actor(c *gin.Context) services.Claims {
	claims, _ := middleware.CurrentClaims(c)
	return claims
}

func pageParam(c *gin.Context) int {
	return utils.PageIndex(c.Query("page"))
}
