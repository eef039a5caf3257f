package handlers

import (
	"bufio"
	"net/http"
	"strconv"

	"holodomination/internal/services"

	"github.com/gin-gonic/gin"
)

// MaxUploadSize 单张图片上限
const MaxUploadSize = 32 << 20

type PostHandler struct {
	posts    *services.PostService
	comments *services.CommentService
}

func NewPostHandler(posts *services.PostService, comments *services.CommentService) *PostHandler {
	return &PostHandler{posts: posts, comments: comments}
}

// List GET /posts?tags=&page=&keepLewd=
func (h *PostHandler) List(c *gin.Context) {
	keepLewd, err := strconv.ParseBool(c.DefaultQuery("keepLewd", "true"))
	if err != nil {
		badRequest(c, "Invalid keepLewd")
		return
	}
	resp, err := h.posts.ListPosts(c.Request.Context(), services.PostQuery{
		Tags:     c.Query("tags"),
		Page:     pageParam(c),
		KeepLewd: keepLewd,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Create POST /posts，multipart 表单
func (h *PostHandler) Create(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)

	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "File is required")
		return
	}
	isLewd := false
	if raw := c.PostForm("isLewd"); raw != "" {
		if isLewd, err = strconv.ParseBool(raw); err != nil {
			badRequest(c, "Invalid isLewd")
			return
		}
	}

	file, err := header.Open()
	if err != nil {
		RespondError(c, err)
		return
	}
	defer file.Close()

	// 读取文件头用于嗅探类型，Peek 不消耗数据
	body := bufio.NewReaderSize(file, 512)
	head, _ := body.Peek(512)
	contentType := services.ImageContentType(header.Filename, header.Header.Get("Content-Type"), head)

	resp, err := h.posts.CreatePost(c.Request.Context(), actor(c), services.CreatePostInput{
		ID:          c.PostForm("id"),
		Author:      c.PostForm("author"),
		Service:     c.PostForm("service"),
		IsLewd:      isLewd,
		Tags:        c.PostForm("tags"),
		File:        body,
		Size:        header.Size,
		ContentType: contentType,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *PostHandler) Get(c *gin.Context) {
	resp, err := h.posts.GetPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Image 图片内容，允许客户端缓存一小时
func (h *PostHandler) Image(c *gin.Context) {
	rc, info, err := h.posts.Image(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, info.Size, info.ContentType, rc, map[string]string{
		"Cache-Control": "public, max-age=3600",
	})
}

func (h *PostHandler) Edit(c *gin.Context) {
	var req services.EditPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	resp, err := h.posts.EditPost(c.Request.Context(), actor(c), c.Param("id"), req)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *PostHandler) Delete(c *gin.Context) {
	if err := h.posts.DeletePost(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// SearchTags GET /posts/tags?query=
func (h *PostHandler) SearchTags(c *gin.Context) {
	tags, err := h.posts.SearchTags(c.Request.Context(), c.Query("query"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tags)
}

func (h *PostHandler) Comments(c *gin.Context) {
	resp, err := h.comments.ListComments(c.Request.Context(), c.Param("id"), pageParam(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *PostHandler) CreateComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	resp, err := h.comments.CreateComment(c.Request.Context(), actor(c), c.Param("id"), req.Content)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}
