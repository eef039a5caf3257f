package handlers

import (
	"net/http"

	"holodomination/internal/services"

	"github.com/gin-gonic/gin"
)

type LogHandler struct{}

func NewLogHandler() *LogHandler {
	return &LogHandler{}
}

// List GET /logs?by=&towards=&page=
func (h *LogHandler) List(c *gin.Context) {
	resp, err := services.ListLogs(c.Request.Context(), services.LogQuery{
		By:      c.Query("by"),
		Towards: c.Query("towards"),
		Page:    pageParam(c),
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
