package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sujalbistaa/murmur/internal/apperr"
	"github.com/sujalbistaa/murmur/internal/models"
	"github.com/sujalbistaa/murmur/internal/store"
)

func TestCreateProfileAddsSelfEdgeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.profile(t, "alice", "Alice", "Liddell")

	again, err := f.profiles.Create(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, again.ID)

	var n int64
	require.NoError(t, f.db.Model(&models.Profile{}).Where("user_id = ?", alice.UserID).Count(&n).Error)
	assert.EqualValues(t, 1, n)

	ids, err := f.profiles.FolloweeIDs(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{alice.ID}, ids)

	withCounts, err := f.profiles.GetWithCounts(ctx, alice.ID)
	require.NoError(t, err)
	assert.Zero(t, withCounts.NumFollows)
	assert.Zero(t, withCounts.NumFollowedBy)
	assert.Equal(t, models.DefaultProfilePicture, withCounts.ProfilePicture)
}

func TestToggleFollowIsAnInvolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.profile(t, "alice", "Alice", "A")
	bob := f.profile(t, "bob", "Bob", "B")

	created, err := f.profiles.ToggleFollow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, created)

	following, err := f.profiles.IsFollowing(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, following)

	reverse, err := f.profiles.IsFollowing(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, reverse, "follow edges are directed")

	created, err = f.profiles.ToggleFollow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, created)

	following, err = f.profiles.IsFollowing(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, following)
}

func TestToggleFollowRejectsSelfAndUnknownTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.profile(t, "alice", "Alice", "A")

	_, err := f.profiles.ToggleFollow(ctx, alice.ID, alice.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.profiles.ToggleFollow(ctx, alice.ID, 9999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	ids, err := f.profiles.FolloweeIDs(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{alice.ID}, ids, "self edge survives")
}

func TestFollowCountsDiscountSelfEdge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.profile(t, "alice", "Alice", "A")
	bob := f.profile(t, "bob", "Bob", "B")
	carol := f.profile(t, "carol", "Carol", "C")

	f.follow(t, alice, bob)
	f.follow(t, alice, carol)
	f.follow(t, carol, bob)

	for _, tc := range []struct {
		profile             models.Profile
		follows, followedBy int64
	}{
		{alice, 2, 0},
		{bob, 0, 2},
		{carol, 1, 1},
	} {
		got, err := f.profiles.GetWithCounts(ctx, tc.profile.ID)
		require.NoError(t, err)
		assert.Equal(t, tc.follows, got.NumFollows, "follows of %d", tc.profile.ID)
		assert.Equal(t, tc.followedBy, got.NumFollowedBy, "followed by of %d", tc.profile.ID)
	}
}

func TestFollowersAndFollowingExcludeSelf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.profile(t, "alice", "Alice", "A")
	bob := f.profile(t, "bob", "Bob", "B")
	carol := f.profile(t, "carol", "Carol", "C")

	f.follow(t, alice, bob)
	f.follow(t, carol, alice)

	following, err := f.profiles.Following(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, following, 1)
	assert.Equal(t, bob.ID, following[0].ID)
	assert.Equal(t, "bob", following[0].User.Username)
	assert.EqualValues(t, 1, following[0].NumFollowedBy)

	followers, err := f.profiles.Followers(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, carol.ID, followers[0].ID)
	assert.EqualValues(t, 1, followers[0].NumFollows)
}

func TestListProfilesFiltersCaseInsensitively(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.profile(t, "alice", "Alice", "Maksimov")
	f.profile(t, "albert", "Albert", "Stone")
	f.profile(t, "bob", "Bob", "Maksimenko")

	got, err := f.profiles.List(ctx, store.ProfileFilter{Username: "AL"}, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = f.profiles.List(ctx, store.ProfileFilter{LastName: "maks"}, alice.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].User.Username)

	got, err = f.profiles.List(ctx, store.ProfileFilter{FirstName: "al", LastName: "stone"}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "albert", got[0].User.Username)
}

func TestListProfilesMatchesWildcardsLiterally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.profile(t, "a_b", "Percy", "100%")
	f.profile(t, "axb", "Percival", "1000")

	got, err := f.profiles.List(ctx, store.ProfileFilter{Username: "a_b"}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a_b", got[0].User.Username)

	got, err = f.profiles.List(ctx, store.ProfileFilter{LastName: "0%"}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a_b", got[0].User.Username)
}

func TestConcurrentToggleFollowKeepsOneEdge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.profile(t, "alice", "Alice", "A")
	bob := f.profile(t, "bob", "Bob", "B")

	const toggles = 7
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.profiles.ToggleFollow(ctx, alice.ID, bob.ID)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	var n int64
	require.NoError(t, f.db.Model(&models.Follow{}).
		Where("follower_id = ? AND followee_id = ?", alice.ID, bob.ID).Count(&n).Error)
	assert.LessOrEqual(t, n, int64(1))
	removed := toggles - created
	assert.EqualValues(t, n, created-removed, "each created report is matched by the final edge or a removal")

	following, err := f.profiles.IsFollowing(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, n == 1, following)
}

func TestUpdateProfileTouchesUserNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.profile(t, "alice", "Alice", "A")

	bio, first := "hello", "Alicia"
	updated, err := f.profiles.Update(ctx, alice.ID, store.ProfilePatch{Bio: &bio, FirstName: &first})
	require.NoError(t, err)

	assert.Equal(t, "hello", updated.Bio)
	assert.Equal(t, "Alicia", updated.User.FirstName)
	assert.Equal(t, "alice", updated.User.Username)
	assert.Equal(t, "Alicia A", updated.FullName())
}
