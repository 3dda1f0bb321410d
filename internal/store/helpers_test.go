package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sujalbistaa/murmur/internal/db/dbtest"
	"github.com/sujalbistaa/murmur/internal/models"
	"github.com/sujalbistaa/murmur/internal/store"
)

type fixture struct {
	db           *gorm.DB
	profiles     *store.ProfileStore
	posts        *store.PostStore
	interactions *store.InteractionStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database := dbtest.Open(t)
	return &fixture{
		db:           database,
		profiles:     store.NewProfileStore(database),
		posts:        store.NewPostStore(database),
		interactions: store.NewInteractionStore(database),
	}
}

func (f *fixture) profile(t *testing.T, username, first, last string) models.Profile {
	t.Helper()
	user := models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
		FirstName:    first,
		LastName:     last,
	}
	require.NoError(t, f.db.Create(&user).Error)
	profile, err := f.profiles.Create(context.Background(), user.ID)
	require.NoError(t, err)
	return *profile
}

func (f *fixture) follow(t *testing.T, actor, target models.Profile) {
	t.Helper()
	created, err := f.profiles.ToggleFollow(context.Background(), actor.ID, target.ID)
	require.NoError(t, err)
	require.True(t, created)
}

func (f *fixture) post(t *testing.T, author models.Profile, content string, tags ...string) models.Post {
	t.Helper()
	post, err := f.posts.Create(context.Background(), author.ID, store.Draft{Content: content, HashTags: tags})
	require.NoError(t, err)
	return *post
}
