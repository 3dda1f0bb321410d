// Package feed decides which posts a profile may see: its own and those of the profiles it
// follows. Every read of a post and every interaction with one goes through the Resolver.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"gorm.io/gorm"

	"github.com/sujalbistaa/murmur/internal/apperr"
	"github.com/sujalbistaa/murmur/internal/cache"
	"github.com/sujalbistaa/murmur/internal/models"
	"github.com/sujalbistaa/murmur/internal/store"
)

type Item struct {
	models.Post
	NumLikes    int64
	NumComments int64
}

type Detail struct {
	Item
	Likes    []models.Like
	Comments []models.Comment
}

type Resolver struct {
	profiles     *store.ProfileStore
	posts        *store.PostStore
	interactions *store.InteractionStore
	follows      cache.FollowCache

	// Profiles whose cache invalidation failed. Their cached set is not trusted until a retried
	// invalidation goes through.
	stale sync.Map
}

func NewResolver(db *gorm.DB, follows cache.FollowCache) *Resolver {
	if follows == nil {
		follows = cache.Noop{}
	}
	return &Resolver{
		profiles:     store.NewProfileStore(db),
		posts:        store.NewPostStore(db),
		interactions: store.NewInteractionStore(db),
		follows:      follows,
	}
}

// List returns the requester's feed, newest first, optionally narrowed to posts carrying any
// of hashtags.
func (r *Resolver) List(ctx context.Context, requesterID uint, hashtags []string) ([]Item, error) {
	authors, err := r.followees(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	posts, err := r.posts.ListByAuthors(ctx, authors, hashtags)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	counts, err := r.posts.Counts(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]Item, len(posts))
	for i, p := range posts {
		c := counts[p.ID]
		items[i] = Item{Post: p, NumLikes: c.Likes, NumComments: c.Comments}
	}
	return items, nil
}

// Get returns one visible post with its likes and comments. An invisible post is NotFound.
func (r *Resolver) Get(ctx context.Context, requesterID, postID uint) (*Detail, error) {
	post, err := r.visiblePost(ctx, requesterID, postID)
	if err != nil {
		return nil, err
	}
	likes, err := r.interactions.LikesOf(ctx, postID)
	if err != nil {
		return nil, err
	}
	comments, err := r.interactions.CommentsOf(ctx, postID)
	if err != nil {
		return nil, err
	}
	return &Detail{
		Item: Item{
			Post:        *post,
			NumLikes:    int64(len(likes)),
			NumComments: int64(len(comments)),
		},
		Likes:    likes,
		Comments: comments,
	}, nil
}

// CanSee reports NotFound when postID does not exist or is outside requesterID's feed.
func (r *Resolver) CanSee(ctx context.Context, requesterID, postID uint) error {
	_, err := r.visiblePost(ctx, requesterID, postID)
	return err
}

func (r *Resolver) visiblePost(ctx context.Context, requesterID, postID uint) (*models.Post, error) {
	post, err := r.posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	authors, err := r.followees(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(authors, post.AuthorID) {
		return nil, apperr.NotFound(fmt.Sprintf("post %d", postID))
	}
	return post, nil
}

func (r *Resolver) ToggleLike(ctx context.Context, actorID, postID uint) (bool, error) {
	if err := r.CanSee(ctx, actorID, postID); err != nil {
		return false, err
	}
	return r.interactions.ToggleLike(ctx, actorID, postID)
}

func (r *Resolver) CreateLike(ctx context.Context, actorID, postID uint) (*models.Like, error) {
	if err := r.CanSee(ctx, actorID, postID); err != nil {
		return nil, err
	}
	return r.interactions.CreateLike(ctx, actorID, postID)
}

func (r *Resolver) CreateComment(ctx context.Context, actorID, postID uint, content string) (*models.Comment, error) {
	if err := r.CanSee(ctx, actorID, postID); err != nil {
		return nil, err
	}
	return r.interactions.CreateComment(ctx, actorID, postID, content)
}

// ToggleFollow flips the follow edge and drops the actor's cached followee set.
func (r *Resolver) ToggleFollow(ctx context.Context, actorID, targetID uint) (bool, error) {
	created, err := r.profiles.ToggleFollow(ctx, actorID, targetID)
	if err != nil {
		return false, err
	}
	if err := r.follows.Invalidate(ctx, actorID); err != nil {
		slog.Warn("Failed to invalidate follow cache, bypassing it", "profile_id", actorID, "error", err)
		r.stale.Store(actorID, struct{}{})
	}
	return created, nil
}

// Audience returns the profiles whose feed includes posts by authorID, the author included.
func (r *Resolver) Audience(ctx context.Context, authorID uint) ([]uint, error) {
	return r.profiles.FollowerIDs(ctx, authorID)
}

func (r *Resolver) followees(ctx context.Context, profileID uint) ([]uint, error) {
	if _, stale := r.stale.Load(profileID); stale {
		if err := r.follows.Invalidate(ctx, profileID); err != nil {
			return r.profiles.FolloweeIDs(ctx, profileID)
		}
		r.stale.Delete(profileID)
	}

	ids, ok, err := r.follows.Followees(ctx, profileID)
	if err != nil {
		slog.Warn("Follow cache read failed, using database", "profile_id", profileID, "error", err)
	}
	if err == nil && ok {
		return ids, nil
	}

	// The version is taken before the database read so a concurrent toggle rejects this fill.
	version, verr := r.follows.Version(ctx, profileID)
	ids, err = r.profiles.FolloweeIDs(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if verr == nil {
		if _, err := r.follows.StoreFollowees(ctx, profileID, version, ids); err != nil {
			slog.Warn("Failed to fill follow cache", "profile_id", profileID, "error", err)
		}
	}
	return ids, nil
}
