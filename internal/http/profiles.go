package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sujalbistaa/murmur/internal/apperr"
	"github.com/sujalbistaa/murmur/internal/store"
)

// ListProfiles filters by username, first_name and last_name. The caller is never listed.
func (e *Env) ListProfiles(c *gin.Context) {
	filter := store.ProfileFilter{
		Username:  c.Query("username"),
		FirstName: c.Query("first_name"),
		LastName:  c.Query("last_name"),
	}
	profiles, err := e.Profiles.List(c.Request.Context(), filter, currentProfile(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileListPayloads(profiles))
}

func (e *Env) GetProfile(c *gin.Context) {
	id, ok := pathID(c, "profile")
	if !ok {
		return
	}
	profile, err := e.Profiles.GetWithCounts(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profilePayload(*profile))
}

func (e *Env) UpdateProfile(c *gin.Context) {
	id, ok := pathID(c, "profile")
	if !ok {
		return
	}
	var input UpdateProfileInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	if err := e.ownProfile(c, id); err != nil {
		respondError(c, err)
		return
	}
	if _, err := e.Profiles.Update(c.Request.Context(), id, store.ProfilePatch{
		Bio:       input.Bio,
		Location:  input.Location,
		FirstName: input.FirstName,
		LastName:  input.LastName,
	}); err != nil {
		respondError(c, err)
		return
	}
	e.respondProfile(c, id)
}

// UploadProfilePicture replaces the picture from the multipart "image" field.
func (e *Env) UploadProfilePicture(c *gin.Context) {
	id, ok := pathID(c, "profile")
	if !ok {
		return
	}
	if err := e.ownProfile(c, id); err != nil {
		respondError(c, err)
		return
	}
	fh, err := c.FormFile("image")
	if err != nil {
		bindError(c, err)
		return
	}

	me := currentProfile(c)
	rel, err := e.Media.SaveProfilePhoto(me.UserID, me.User.FirstName, me.User.LastName, fh)
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := e.Profiles.Update(c.Request.Context(), id, store.ProfilePatch{ProfilePicture: &rel}); err != nil {
		e.Media.Delete(rel)
		respondError(c, err)
		return
	}
	e.Media.Delete(me.ProfilePicture)
	e.respondProfile(c, id)
}

func (e *Env) ownProfile(c *gin.Context, id uint) error {
	if _, err := e.Profiles.Get(c.Request.Context(), id); err != nil {
		return err
	}
	if currentProfile(c).ID != id {
		return apperr.Forbidden("you may only change your own profile")
	}
	return nil
}

func (e *Env) respondProfile(c *gin.Context, id uint) {
	profile, err := e.Profiles.GetWithCounts(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profilePayload(*profile))
}

// UserFollows lists the profiles the caller follows.
func (e *Env) UserFollows(c *gin.Context) {
	profiles, err := e.Profiles.Following(c.Request.Context(), currentProfile(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileListPayloads(profiles))
}

// UserFollowedBy lists the profiles following the caller.
func (e *Env) UserFollowedBy(c *gin.Context) {
	profiles, err := e.Profiles.Followers(c.Request.Context(), currentProfile(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileListPayloads(profiles))
}

// FollowUnfollow toggles the caller's follow of the profile: 201 when now following, 204 when
// no longer following.
func (e *Env) FollowUnfollow(c *gin.Context) {
	id, ok := pathID(c, "profile")
	if !ok {
		return
	}
	me := currentProfile(c)
	target, err := e.Profiles.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	created, err := e.Feed.ToggleFollow(c.Request.Context(), me.ID, id)
	if err != nil {
		respondError(c, err)
		return
	}

	if created {
		e.notify([]uint{id}, "follow", gin.H{"profile_id": me.ID, "username": me.User.Username})
		c.JSON(http.StatusCreated, gin.H{"message": fmt.Sprintf("Now you are following %s", target.User.Username)})
		return
	}
	c.JSON(http.StatusNoContent, gin.H{"message": fmt.Sprintf("You are no longer following %s", target.User.Username)})
}
