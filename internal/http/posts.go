package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sujalbistaa/murmur/internal/store"
)

// GetPosts returns the caller's feed, optionally filtered with ?hashtags=a,b.
func (e *Env) GetPosts(c *gin.Context) {
	var tags []string
	if raw := c.Query("hashtags"); raw != "" {
		tags = strings.Split(raw, ",")
	}
	items, err := e.Feed.List(c.Request.Context(), currentProfile(c).ID, tags)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, feedPayloads(items))
}

// CreatePost publishes immediately, or with schedule_create defers publication and answers
// 202 Accepted.
func (e *Env) CreatePost(c *gin.Context) {
	var input CreatePostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	me := currentProfile(c)
	draft := store.Draft{Content: input.Content, Image: input.Image, HashTags: hashTagNames(input.HashTags)}

	if input.ScheduleCreate != nil {
		row, err := e.Scheduler.Schedule(c.Request.Context(), me.ID, draft, *input.ScheduleCreate)
		if err != nil {
			respondError(c, err)
			return
		}
		payload := scheduledPostPayload(row)
		payload.Detail = "Post scheduled for creation"
		c.JSON(http.StatusAccepted, payload)
		return
	}

	post, err := e.Posts.Create(c.Request.Context(), me.ID, draft)
	if err != nil {
		respondError(c, err)
		return
	}
	post.Author = *me
	if err := e.AnnouncePost(c.Request.Context(), post); err != nil {
		slog.Warn("Failed to announce post", "post_id", post.ID, "error", err)
	}
	c.JSON(http.StatusCreated, postPayload(*post, 0, 0))
}

func (e *Env) GetPost(c *gin.Context) {
	id, ok := pathID(c, "post")
	if !ok {
		return
	}
	detail, err := e.Feed.Get(c.Request.Context(), currentProfile(c).ID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, postDetailPayload(detail))
}

func (e *Env) UpdatePost(c *gin.Context) {
	id, ok := pathID(c, "post")
	if !ok {
		return
	}
	var input UpdatePostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	patch := store.PostPatch{Content: input.Content, Image: input.Image}
	if input.HashTags != nil {
		names := hashTagNames(*input.HashTags)
		patch.HashTags = &names
	}
	me := currentProfile(c)
	if _, err := e.Posts.Update(c.Request.Context(), id, me.ID, patch); err != nil {
		respondError(c, err)
		return
	}
	detail, err := e.Feed.Get(c.Request.Context(), me.ID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, postDetailPayload(detail))
}

func (e *Env) DeletePost(c *gin.Context) {
	id, ok := pathID(c, "post")
	if !ok {
		return
	}
	if err := e.Posts.Delete(c.Request.Context(), id, currentProfile(c).ID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// LikeUnlike toggles the caller's like: 201 when liked, 204 when unliked.
func (e *Env) LikeUnlike(c *gin.Context) {
	id, ok := pathID(c, "post")
	if !ok {
		return
	}
	me := currentProfile(c)
	post, err := e.Posts.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	created, err := e.Feed.ToggleLike(c.Request.Context(), me.ID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	owner := post.Author.FullName()
	if owner == "" {
		owner = post.Author.User.Username
	}

	if created {
		if post.AuthorID != me.ID {
			e.notify([]uint{post.AuthorID}, "like", gin.H{"post_id": id, "profile_id": me.ID})
		}
		c.JSON(http.StatusCreated, gin.H{"message": fmt.Sprintf("You liked %s's post", owner)})
		return
	}
	c.JSON(http.StatusNoContent, gin.H{"message": fmt.Sprintf("You unliked %s's post", owner)})
}

// UploadPostImage stores the multipart "image" field and returns its reference for use in a
// post payload.
func (e *Env) UploadPostImage(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		bindError(c, err)
		return
	}
	rel, err := e.Media.SavePostImage(currentProfile(c).UserID, fh)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"image": rel})
}

func (e *Env) GetScheduledPost(c *gin.Context) {
	id, ok := pathID(c, "scheduled post")
	if !ok {
		return
	}
	row, err := e.Scheduler.Get(c.Request.Context(), currentProfile(c).ID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, scheduledPostPayload(row))
}

// ListHashTags lists hashtags with their usage, ?name= filters by substring.
func (e *Env) ListHashTags(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	tags, err := e.Posts.HashTags(c.Request.Context(), c.Query("name"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]HashTagUsagePayload, len(tags))
	for i, t := range tags {
		out[i] = HashTagUsagePayload{HashTagPayload: HashTagPayload{ID: t.ID, Name: t.Name}, NumPosts: t.NumPosts}
	}
	c.JSON(http.StatusOK, out)
}
