package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sujalbistaa/murmur/internal/apperr"
	"github.com/sujalbistaa/murmur/internal/feed"
	"github.com/sujalbistaa/murmur/internal/identity"
	"github.com/sujalbistaa/murmur/internal/media"
	"github.com/sujalbistaa/murmur/internal/models"
	"github.com/sujalbistaa/murmur/internal/schedule"
	"github.com/sujalbistaa/murmur/internal/store"
	"github.com/sujalbistaa/murmur/internal/ws"
)

// Env carries the handler dependencies.
type Env struct {
	Identity     *identity.Service
	Profiles     *store.ProfileStore
	Posts        *store.PostStore
	Interactions *store.InteractionStore
	Feed         *feed.Resolver
	Scheduler    *schedule.Scheduler
	Media        *media.Store
	Hub          *ws.Hub
}

const profileKey = "murmur.profile"

// AuthMiddleware resolves the bearer token to the caller's profile and rejects the request
// without one.
func AuthMiddleware(svc *identity.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication credentials were not provided"})
			return
		}
		profile, err := svc.Authenticate(c.Request.Context(), token)
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}
		c.Set(profileKey, profile)
		c.Next()
	}
}

func currentProfile(c *gin.Context) *models.Profile {
	return c.MustGet(profileKey).(*models.Profile)
}

// respondError maps error kinds to status codes. Anything unclassified is logged and hidden.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled):
		// Client went away.
		c.Status(499)
		return
	}
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
}

// pathID parses an id route parameter, answering 400 itself when it is malformed.
func pathID(c *gin.Context, what string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + what + " ID"})
		return 0, false
	}
	return uint(id), true
}

func (e *Env) notify(profileIDs []uint, kind string, data any) {
	if e.Hub == nil {
		return
	}
	e.Hub.Notify(profileIDs, ws.Message{Type: kind, Data: data})
}

// notifyPostAuthor tells the author of postID about an interaction by someone else.
func (e *Env) notifyPostAuthor(ctx context.Context, actorID, postID uint, kind string, data any) {
	post, err := e.Posts.Get(ctx, postID)
	if err != nil {
		slog.Warn("Cannot resolve post for notification", "post_id", postID, "error", err)
		return
	}
	if post.AuthorID != actorID {
		e.notify([]uint{post.AuthorID}, kind, data)
	}
}

// AnnouncePost pushes a new_post notification to everyone whose feed now shows post.
func (e *Env) AnnouncePost(ctx context.Context, post *models.Post) error {
	audience, err := e.Feed.Audience(ctx, post.AuthorID)
	if err != nil {
		return err
	}
	e.notify(audience, "new_post", gin.H{"id": post.ID, "author_id": post.AuthorID})
	return nil
}
