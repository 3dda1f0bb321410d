package http

import (
	"time"

	"github.com/sujalbistaa/murmur/internal/feed"
	"github.com/sujalbistaa/murmur/internal/models"
	"github.com/sujalbistaa/murmur/internal/store"
)

// --- Structs for request binding ---

type RegisterInput struct {
	Username  string `json:"username" binding:"required,min=3,max=150"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name" binding:"max=150"`
	LastName  string `json:"last_name" binding:"max=150"`
}

type TokenInput struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type UpdateUserInput struct {
	FirstName *string `json:"first_name" binding:"omitempty,max=150"`
	LastName  *string `json:"last_name" binding:"omitempty,max=150"`
}

type UpdateProfileInput struct {
	FirstName *string `json:"first_name" binding:"omitempty,max=150"`
	LastName  *string `json:"last_name" binding:"omitempty,max=150"`
	Bio       *string `json:"bio" binding:"omitempty,max=255"`
	Location  *string `json:"location" binding:"omitempty,max=65"`
}

type HashTagInput struct {
	Name string `json:"name" binding:"required"`
}

type CreatePostInput struct {
	Content        string         `json:"content" binding:"required"`
	Image          string         `json:"image"`
	HashTags       []HashTagInput `json:"hashtags" binding:"dive"`
	ScheduleCreate *time.Time     `json:"schedule_create"`
}

type UpdatePostInput struct {
	Content  *string         `json:"content"`
	Image    *string         `json:"image"`
	HashTags *[]HashTagInput `json:"hashtags"`
}

type CreateCommentInput struct {
	PostID  uint   `json:"post_id" binding:"required"`
	Content string `json:"content" binding:"required"`
}

type UpdateCommentInput struct {
	Content string `json:"content" binding:"required"`
}

type CreateLikeInput struct {
	PostID uint `json:"post_id" binding:"required"`
}

func hashTagNames(in []HashTagInput) []string {
	names := make([]string, len(in))
	for i, h := range in {
		names[i] = h.Name
	}
	return names
}

// --- Response payloads ---

type UserPayload struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func userPayload(u models.User) UserPayload {
	return UserPayload{ID: u.ID, Username: u.Username, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName}
}

type ProfileListPayload struct {
	ID             uint   `json:"id"`
	Username       string `json:"username"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	FullName       string `json:"full_name"`
	ProfilePicture string `json:"profile_picture"`
	NumFollows     int64  `json:"num_follows"`
	NumFollowedBy  int64  `json:"num_followed_by"`
}

type ProfilePayload struct {
	ProfileListPayload
	Bio      string `json:"bio"`
	Location string `json:"location"`
}

func profileListPayload(p store.ProfileWithCounts) ProfileListPayload {
	return ProfileListPayload{
		ID:             p.ID,
		Username:       p.User.Username,
		FirstName:      p.User.FirstName,
		LastName:       p.User.LastName,
		FullName:       p.FullName(),
		ProfilePicture: p.ProfilePicture,
		NumFollows:     p.NumFollows,
		NumFollowedBy:  p.NumFollowedBy,
	}
}

func profileListPayloads(in []store.ProfileWithCounts) []ProfileListPayload {
	out := make([]ProfileListPayload, len(in))
	for i, p := range in {
		out[i] = profileListPayload(p)
	}
	return out
}

func profilePayload(p store.ProfileWithCounts) ProfilePayload {
	return ProfilePayload{ProfileListPayload: profileListPayload(p), Bio: p.Bio, Location: p.Location}
}

type HashTagPayload struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type HashTagUsagePayload struct {
	HashTagPayload
	NumPosts int64 `json:"num_posts"`
}

func hashTagPayloads(tags []models.HashTag) []HashTagPayload {
	out := make([]HashTagPayload, len(tags))
	for i, t := range tags {
		out[i] = HashTagPayload{ID: t.ID, Name: t.Name}
	}
	return out
}

type PostPayload struct {
	ID             uint             `json:"id"`
	AuthorID       uint             `json:"author_id"`
	AuthorUsername string           `json:"author_username"`
	AuthorFullName string           `json:"author_full_name"`
	Content        string           `json:"content"`
	Image          string           `json:"image"`
	HashTags       []HashTagPayload `json:"hashtags"`
	NumLikes       int64            `json:"num_likes"`
	NumComments    int64            `json:"num_comments"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

type LikePayload struct {
	ID        uint      `json:"id"`
	PostID    uint      `json:"post_id"`
	ProfileID uint      `json:"profile_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type CommentPayload struct {
	ID        uint      `json:"id"`
	PostID    uint      `json:"post_id"`
	ProfileID uint      `json:"profile_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PostDetailPayload struct {
	PostPayload
	Likes    []LikePayload    `json:"likes"`
	Comments []CommentPayload `json:"comments"`
}

func postPayload(p models.Post, likes, comments int64) PostPayload {
	return PostPayload{
		ID:             p.ID,
		AuthorID:       p.AuthorID,
		AuthorUsername: p.Author.User.Username,
		AuthorFullName: p.Author.FullName(),
		Content:        p.Content,
		Image:          p.Image,
		HashTags:       hashTagPayloads(p.HashTags),
		NumLikes:       likes,
		NumComments:    comments,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func feedPayloads(items []feed.Item) []PostPayload {
	out := make([]PostPayload, len(items))
	for i, it := range items {
		out[i] = postPayload(it.Post, it.NumLikes, it.NumComments)
	}
	return out
}

func likePayload(l models.Like) LikePayload {
	return LikePayload{ID: l.ID, PostID: l.PostID, ProfileID: l.ProfileID, Username: l.Profile.User.Username, CreatedAt: l.CreatedAt}
}

func commentPayload(c models.Comment) CommentPayload {
	return CommentPayload{
		ID:        c.ID,
		PostID:    c.PostID,
		ProfileID: c.ProfileID,
		Username:  c.Profile.User.Username,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func postDetailPayload(d *feed.Detail) PostDetailPayload {
	likes := make([]LikePayload, len(d.Likes))
	for i, l := range d.Likes {
		likes[i] = likePayload(l)
	}
	comments := make([]CommentPayload, len(d.Comments))
	for i, c := range d.Comments {
		comments[i] = commentPayload(c)
	}
	return PostDetailPayload{
		PostPayload: postPayload(d.Post, d.NumLikes, d.NumComments),
		Likes:       likes,
		Comments:    comments,
	}
}

type ScheduledPostPayload struct {
	Detail          string                `json:"detail,omitempty"`
	ScheduledPostID uint                  `json:"scheduled_post_id"`
	PublishAt       time.Time             `json:"publish_at"`
	Status          models.ScheduleStatus `json:"status"`
	PostID          *uint                 `json:"post_id,omitempty"`
	Attempts        int                   `json:"attempts"`
	LastError       string                `json:"last_error,omitempty"`
}

func scheduledPostPayload(row *models.ScheduledPost) ScheduledPostPayload {
	return ScheduledPostPayload{
		ScheduledPostID: row.ID,
		PublishAt:       row.PublishAt,
		Status:          row.Status,
		PostID:          row.PostID,
		Attempts:        row.Attempts,
		LastError:       row.LastError,
	}
}
