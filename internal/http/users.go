package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sujalbistaa/murmur/internal/identity"
	"github.com/sujalbistaa/murmur/internal/store"
)

func (e *Env) Register(c *gin.Context) {
	var input RegisterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	profile, err := e.Identity.Register(c.Request.Context(), identity.RegisterCmd{
		Username:  input.Username,
		Email:     input.Email,
		Password:  input.Password,
		FirstName: input.FirstName,
		LastName:  input.LastName,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, userPayload(profile.User))
}

func (e *Env) ObtainToken(c *gin.Context) {
	var input TokenInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	token, err := e.Identity.Login(c.Request.Context(), input.Email, input.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access": token.Access, "expires_at": token.ExpiresAt})
}

func (e *Env) GetMe(c *gin.Context) {
	c.JSON(http.StatusOK, userPayload(currentProfile(c).User))
}

// UpdateMe changes the caller's names. Username and email are immutable.
func (e *Env) UpdateMe(c *gin.Context) {
	var input UpdateUserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	profile, err := e.Profiles.Update(c.Request.Context(), currentProfile(c).ID, store.ProfilePatch{
		FirstName: input.FirstName,
		LastName:  input.LastName,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, userPayload(profile.User))
}
