package router

import (
	"log/slog"
	"net/http"

	"newsrank/internal/handlers"
	"newsrank/internal/logging"
	"newsrank/internal/metrics"
	"newsrank/internal/middleware"
	"newsrank/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

const sessionName = "newsrank_session"

type Deps struct {
	Engine        *services.Engine
	DB            *gorm.DB
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer
	Logger        *slog.Logger
	SessionSecret string
	SecureCookie  bool
	RateLimiter   *middleware.IPRateLimiter // nil 时不限流
}

// New 组装 gin 引擎：中间件顺序为 recovery → request id → 日志 → 指标 → 限流 → session → 当前用户
func New(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(logging.OrDiscard(d.Logger)))
	r.Use(middleware.Metrics(d.Metrics))

	// 健康检查和指标不经过限流与 session
	healthHandler := handlers.NewHealthHandler(d.DB)
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	store := cookie.NewStore([]byte(d.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
		Secure:   d.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	api := r.Group("/api")
	if d.RateLimiter != nil {
		api.Use(middleware.RateLimit(d.RateLimiter))
	}
	api.Use(sessions.Sessions(sessionName, store))
	api.Use(middleware.LoadUser(d.Engine))

	RegisterRoutes(api, d.Engine)
	return r
}

func RegisterRoutes(api *gin.RouterGroup, engine *services.Engine) {
	// Handlers
	authHandler := handlers.NewAuthHandler(engine)
	storyHandler := handlers.NewStoryHandler(engine)
	voteHandler := handlers.NewVoteHandler(engine)
	nodeHandler := handlers.NewNodeHandler(engine)
	notificationHandler := handlers.NewNotificationHandler(engine)

	// 公共路由 (Public Routes)
	api.GET("/top", storyHandler.Top)       // 热门
	api.GET("/latest", storyHandler.Latest) // 最新
	api.GET("/news/:id", storyHandler.News) // 新闻详情 + 评论
	api.GET("/nodes", nodeHandler.ListNodes)

	api.POST("/create_account", authHandler.CreateAccount)
	api.POST("/login", authHandler.Login)
	api.POST("/logout", authHandler.Logout)

	// 受保护路由 (Protected Routes)
	authorized := api.Group("")
	authorized.Use(middleware.AuthRequired())
	{
		authorized.GET("/me", authHandler.Me)
		authorized.POST("/submit", storyHandler.Submit)           // 发布或编辑
		authorized.POST("/delnews", storyHandler.DeleteNews)      // 删除新闻
		authorized.POST("/votenews", voteHandler.VoteNews)        // 新闻投票
		authorized.POST("/votecomment", voteHandler.VoteComment)  // 评论投票
		authorized.POST("/postcomment", storyHandler.PostComment) // 评论新建/修改/删除

		authorized.GET("/notifications", notificationHandler.List)
		authorized.POST("/notifications/read_all", notificationHandler.ReadAll)
		authorized.POST("/notifications/:id/read", notificationHandler.Read)
	}
}
