package router

import (
	"net/http"

	"holodomination/internal/db"
	"holodomination/internal/handlers"
	"holodomination/internal/middleware"
	"holodomination/internal/oauth"
	"holodomination/internal/services"
	"holodomination/internal/storage"
	"holodomination/internal/utils"

	"github.com/gin-gonic/gin"
)

// Deps 路由依赖的外部组件
type Deps struct {
	Providers *oauth.Registry
	Store     storage.ObjectStore
	Cache     *utils.GlobalCache
	Metrics   *middleware.Metrics
}

const (
	roleUploader = "Uploader"
	roleStaff    = "Staff"
	roleAdmin    = "Admin"
)

func RegisterRoutes(r *gin.Engine, deps Deps) {
	// Services
	accounts := services.NewAccountService()
	users := services.NewUserService()
	posts := services.NewPostService(deps.Store, deps.Cache)
	comments := services.NewCommentService()

	// Handlers
	authHandler := handlers.NewAuthHandler(deps.Providers, accounts)
	postHandler := handlers.NewPostHandler(posts, comments)
	commentHandler := handlers.NewCommentHandler(comments)
	userHandler := handlers.NewUserHandler(users, accounts)
	logHandler := handlers.NewLogHandler()

	// 运维接口 (Operational Routes)
	r.GET("/healthz", healthz)
	if deps.Metrics != nil {
		r.GET("/metrics", deps.Metrics.Handler())
	}

	api := r.Group("/api")

	// 认证 (Authentication)
	auth := api.Group("/authentication")
	{
		auth.GET("/providers", authHandler.Providers)                           // 可用登录方式
		auth.GET("/challenge", authHandler.Challenge)                           // 跳转到第三方登录
		auth.GET("/callback", authHandler.Callback)                             // 第三方登录回调
		auth.DELETE("/signout", middleware.AuthRequired(), authHandler.SignOut) // 退出登录
	}

	// 公共路由 (Public Routes)
	api.GET("/posts", postHandler.List)                  // 帖子列表
	api.GET("/posts/tags", postHandler.SearchTags)       // 标签搜索
	api.GET("/posts/:id", postHandler.Get)               // 帖子详情
	api.GET("/posts/:id/image", postHandler.Image)       // 帖子图片
	api.GET("/posts/:id/comments", postHandler.Comments) // 帖子评论

	// 受保护路由 (Protected Routes)，默认策略：未被封禁
	authorized := api.Group("/")
	authorized.Use(middleware.AuthRequired(), middleware.NotBanned())
	{
		uploaders := middleware.RequireRoles(roleUploader, roleStaff, roleAdmin)
		staff := middleware.RequireRoles(roleStaff, roleAdmin)

		authorized.POST("/posts", uploaders, postHandler.Create)                                   // 上传帖子
		authorized.PATCH("/posts/:id", uploaders, postHandler.Edit)                                // 编辑帖子
		authorized.DELETE("/posts/:id", staff, postHandler.Delete)                                 // 删除帖子
		authorized.POST("/posts/:id/comments", middleware.CanComment(), postHandler.CreateComment) // 发表评论

		authorized.PUT("/comments/:id", middleware.CanComment(), commentHandler.Edit)      // 编辑评论
		authorized.DELETE("/comments/:id", middleware.CanComment(), commentHandler.Delete) // 删除评论

		authorized.GET("/users/current", userHandler.Current)       // 当前用户
		authorized.PATCH("/users/current", userHandler.EditCurrent) // 修改用户名
		authorized.GET("/users", staff, userHandler.List)           // 用户列表
		authorized.GET("/users/:id", staff, userHandler.Get)        // 用户详情
		authorized.PATCH("/users/:id", staff, userHandler.Edit)     // 修改用户角色/权限

		authorized.GET("/logs", staff, logHandler.List) // 审计日志
	}
}

// healthz 检查数据库连接
func healthz(c *gin.Context) {
	sqlDB, err := db.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
