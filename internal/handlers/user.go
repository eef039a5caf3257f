package handlers

import (
	"net/http"

	"holodomination/internal/middleware"
	"holodomination/internal/services"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	users    *services.UserService
	accounts *services.AccountService
}

func NewUserHandler(users *services.UserService, accounts *services.AccountService) *UserHandler {
	return &UserHandler{users: users, accounts: accounts}
}

// List GET /users?search=&page=
func (h *UserHandler) List(c *gin.Context) {
	resp, err := h.users.ListUsers(c.Request.Context(), c.Query("search"), pageParam(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *UserHandler) Current(c *gin.Context) {
	resp, err := h.users.CurrentUser(c.Request.Context(), actor(c).UserID)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type editCurrentUserRequest struct {
	Username *string `json:"username"`
}

// EditCurrent 修改自己的用户名，成功后刷新 session 里的 claims
func (h *UserHandler) EditCurrent(c *gin.Context) {
	var req editCurrentUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	userID := actor(c).UserID
	resp, err := h.users.EditCurrentUser(c.Request.Context(), userID, req.Username)
	if err != nil {
		RespondError(c, err)
		return
	}

	claims, err := h.accounts.Refresh(c.Request.Context(), userID)
	if err != nil {
		RespondError(c, err)
		return
	}
	if err := middleware.SaveClaims(c, *claims); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *UserHandler) Get(c *gin.Context) {
	resp, err := h.users.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Edit PATCH /users/:id，权限规则见 UserService.EditUser
func (h *UserHandler) Edit(c *gin.Context) {
	var req services.EditUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	resp, err := h.users.EditUser(c.Request.Context(), actor(c).UserID, c.Param("id"), req)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
