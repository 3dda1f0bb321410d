package models

import (
	"strings"
	"time"
)

const DefaultProfilePicture = "default_profile_picture.png"

// User is the authentication identity. Username and email are immutable once registered.
type User struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	Username     string    `gorm:"size:150;not null;uniqueIndex" json:"username"`
	Email        string    `gorm:"size:254;not null;uniqueIndex" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	FirstName    string    `gorm:"size:150" json:"first_name"`
	LastName     string    `gorm:"size:150" json:"last_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile is the social identity of a User, created once together with it.
type Profile struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	UserID         uint      `gorm:"not null;uniqueIndex" json:"-"`
	User           User      `gorm:"foreignKey:UserID" json:"-"`
	ProfilePicture string    `gorm:"not null;default:default_profile_picture.png" json:"profile_picture"`
	Bio            string    `gorm:"size:255" json:"bio"`
	Location       string    `gorm:"size:65" json:"location"`
	CreatedAt      time.Time `json:"-"`
	UpdatedAt      time.Time `json:"-"`
}

func (p Profile) FullName() string {
	return strings.TrimSpace(p.User.FirstName + " " + p.User.LastName)
}

// Follow is one directed edge of the follow graph: FollowerID follows FolloweeID.
// Every profile carries a self edge from creation.
type Follow struct {
	FollowerID uint `gorm:"primaryKey;autoIncrement:false"`
	FolloweeID uint `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt  time.Time
}

type HashTag struct {
	ID   uint   `gorm:"primarykey" json:"id"`
	Name string `gorm:"size:63;not null;uniqueIndex" json:"name"`
}

func (HashTag) TableName() string {
	return "hashtags"
}

type Post struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	AuthorID  uint      `gorm:"not null;index" json:"author_id"`
	Author    Profile   `gorm:"foreignKey:AuthorID" json:"-"`
	Content   string    `gorm:"not null" json:"content"`
	Image     string    `json:"image,omitempty"`
	HashTags  []HashTag `gorm:"many2many:post_hashtags;joinForeignKey:PostID;joinReferences:HashtagID" json:"hashtags"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Like is unique per (profile, post).
type Like struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	ProfileID uint      `gorm:"not null;uniqueIndex:idx_like_profile_post" json:"profile_id"`
	Profile   Profile   `gorm:"foreignKey:ProfileID" json:"-"`
	PostID    uint      `gorm:"not null;uniqueIndex:idx_like_profile_post;index" json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Comment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	ProfileID uint      `gorm:"not null;index" json:"profile_id"`
	Profile   Profile   `gorm:"foreignKey:ProfileID" json:"-"`
	PostID    uint      `gorm:"not null;index" json:"post_id"`
	Content   string    `gorm:"size:255;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ScheduleStatus string

const (
	StatusPending    ScheduleStatus = "pending"
	StatusPublishing ScheduleStatus = "publishing"
	StatusPublished  ScheduleStatus = "published"
	StatusFailed     ScheduleStatus = "failed"
)

// ScheduledPost holds a validated post draft until its publish time. The worker claims it by
// moving it out of StatusPending, so a draft turns into at most one Post.
type ScheduledPost struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	AuthorID  uint           `gorm:"not null;index" json:"author_id"`
	Content   string         `gorm:"not null" json:"content"`
	Image     string         `json:"image,omitempty"`
	HashTags  []string       `gorm:"serializer:json" json:"hashtags"`
	PublishAt time.Time      `gorm:"not null;index" json:"publish_at"`
	Status    ScheduleStatus `gorm:"size:16;not null;index;default:pending" json:"status"`
	PostID    *uint          `json:"post_id,omitempty"`
	Attempts  int            `gorm:"not null;default:0" json:"attempts"`
	LastError string         `json:"last_error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// All lists the models in migration order.
func All() []any {
	return []any{
		&User{},
		&Profile{},
		&Follow{},
		&HashTag{},
		&Post{},
		&Like{},
		&Comment{},
		&ScheduledPost{},
	}
}
