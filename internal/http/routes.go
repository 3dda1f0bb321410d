package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/sujalbistaa/murmur/internal/config"
	"github.com/sujalbistaa/murmur/internal/ws"
)

// SetupRoutes configures all application routes and middleware. Background helpers stop when
// ctx ends.
func SetupRoutes(ctx context.Context, router *gin.Engine, env *Env, cfg *config.Config) {
	router.Use(RequestLogger(gin.DefaultWriter))
	router.Use(gin.Recovery())
	router.Use(SecurityHeadersMiddleware())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.CORSOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: cfg.CORSOrigin != "*",
	}))

	limiter := NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	go limiter.RunPruner(ctx, 10*time.Minute)
	writes := RateLimitMiddleware(limiter)

	api := router.Group("/api")
	{
		users := api.Group("/users")
		users.POST("/register", writes, env.Register)
		users.POST("/token", writes, env.ObtainToken)

		authed := api.Group("", AuthMiddleware(env.Identity))

		authed.GET("/users/me", env.GetMe)
		authed.PATCH("/users/me", writes, env.UpdateMe)

		authed.GET("/profiles", env.ListProfiles)
		authed.GET("/profiles/user-follows", env.UserFollows)
		authed.GET("/profiles/user-followed-by", env.UserFollowedBy)
		authed.GET("/profiles/:id", env.GetProfile)
		authed.PATCH("/profiles/:id", writes, env.UpdateProfile)
		authed.PUT("/profiles/:id/picture", writes, env.UploadProfilePicture)
		authed.POST("/profiles/:id/follow-unfollow", writes, env.FollowUnfollow)

		authed.GET("/posts", env.GetPosts)
		authed.POST("/posts", writes, env.CreatePost)
		authed.POST("/posts/images", writes, env.UploadPostImage)
		authed.GET("/posts/scheduled/:id", env.GetScheduledPost)
		authed.GET("/posts/:id", env.GetPost)
		authed.PATCH("/posts/:id", writes, env.UpdatePost)
		authed.DELETE("/posts/:id", writes, env.DeletePost)
		authed.POST("/posts/:id/like-unlike", writes, env.LikeUnlike)

		authed.GET("/comments", env.ListComments)
		authed.POST("/comments", writes, env.CreateComment)
		authed.GET("/comments/:id", env.GetComment)
		authed.PATCH("/comments/:id", writes, env.UpdateComment)
		authed.DELETE("/comments/:id", writes, env.DeleteComment)

		authed.GET("/likes", env.ListLikes)
		authed.POST("/likes", writes, env.CreateLike)
		authed.GET("/likes/:id", env.GetLike)
		authed.DELETE("/likes/:id", writes, env.DeleteLike)

		authed.GET("/hashtags", env.ListHashTags)

		admin := api.Group("/admin", AdminAuthMiddleware(cfg.AdminToken))
		admin.GET("/scheduled", env.ListScheduled)
		admin.POST("/scheduled/:id/retry", env.RetryScheduled)
	}

	// Browsers cannot set headers on websocket upgrades, so the token rides in the query.
	router.GET("/ws", func(c *gin.Context) {
		profile, err := env.Identity.Authenticate(c.Request.Context(), c.Query("token"))
		if err != nil {
			respondError(c, err)
			return
		}
		slog.Debug("Websocket connect", "profile_id", profile.ID, "remote", c.ClientIP())
		ws.ServeWs(env.Hub, c.Writer, c.Request, profile.ID)
	})

	router.Static("/media", env.Media.Root())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
