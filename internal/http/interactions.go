package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (e *Env) ListComments(c *gin.Context) {
	comments, err := e.Interactions.Comments(c.Request.Context(), currentProfile(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]CommentPayload, len(comments))
	for i, cm := range comments {
		out[i] = commentPayload(cm)
	}
	c.JSON(http.StatusOK, out)
}

func (e *Env) CreateComment(c *gin.Context) {
	var input CreateCommentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	me := currentProfile(c)
	comment, err := e.Feed.CreateComment(c.Request.Context(), me.ID, input.PostID, input.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	e.notifyPostAuthor(c.Request.Context(), me.ID, input.PostID, "comment",
		gin.H{"post_id": input.PostID, "comment_id": comment.ID, "profile_id": me.ID})
	c.JSON(http.StatusCreated, commentPayload(*comment))
}

func (e *Env) GetComment(c *gin.Context) {
	id, ok := pathID(c, "comment")
	if !ok {
		return
	}
	comment, err := e.Interactions.Comment(c.Request.Context(), currentProfile(c).ID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, commentPayload(*comment))
}

func (e *Env) UpdateComment(c *gin.Context) {
	id, ok := pathID(c, "comment")
	if !ok {
		return
	}
	var input UpdateCommentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	comment, err := e.Interactions.UpdateComment(c.Request.Context(), currentProfile(c).ID, id, input.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, commentPayload(*comment))
}

func (e *Env) DeleteComment(c *gin.Context) {
	id, ok := pathID(c, "comment")
	if !ok {
		return
	}
	if err := e.Interactions.DeleteComment(c.Request.Context(), currentProfile(c).ID, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (e *Env) ListLikes(c *gin.Context) {
	likes, err := e.Interactions.Likes(c.Request.Context(), currentProfile(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]LikePayload, len(likes))
	for i, l := range likes {
		out[i] = likePayload(l)
	}
	c.JSON(http.StatusOK, out)
}

// CreateLike likes a post directly; liking twice is a 409.
func (e *Env) CreateLike(c *gin.Context) {
	var input CreateLikeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	me := currentProfile(c)
	like, err := e.Feed.CreateLike(c.Request.Context(), me.ID, input.PostID)
	if err != nil {
		respondError(c, err)
		return
	}
	like.Profile = *me
	e.notifyPostAuthor(c.Request.Context(), me.ID, input.PostID, "like",
		gin.H{"post_id": input.PostID, "profile_id": me.ID})
	c.JSON(http.StatusCreated, likePayload(*like))
}

func (e *Env) GetLike(c *gin.Context) {
	id, ok := pathID(c, "like")
	if !ok {
		return
	}
	like, err := e.Interactions.Like(c.Request.Context(), currentProfile(c).ID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, likePayload(*like))
}

func (e *Env) DeleteLike(c *gin.Context) {
	id, ok := pathID(c, "like")
	if !ok {
		return
	}
	if err := e.Interactions.DeleteLike(c.Request.Context(), currentProfile(c).ID, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
