package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sujalbistaa/murmur/internal/apperr"
	"github.com/sujalbistaa/murmur/internal/models"
)

const MaxCommentLength = 255

// InteractionStore owns likes and comments. Every operation is scoped to the acting profile:
// reading someone else's row is NotFound, changing it is Forbidden.
type InteractionStore struct {
	db *gorm.DB
}

func NewInteractionStore(db *gorm.DB) *InteractionStore {
	return &InteractionStore{db: db}
}

// ToggleLike likes the post if actorID has not, unlikes it otherwise, and reports whether the
// like now exists. The (profile, post) unique index decides which branch runs.
func (s *InteractionStore) ToggleLike(ctx context.Context, actorID, postID uint) (created bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := postExists(tx, postID); err != nil {
			return err
		}
		like := models.Like{ProfileID: actorID, PostID: postID}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&like)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			created = true
			return nil
		}
		return tx.Where("profile_id = ? AND post_id = ?", actorID, postID).Delete(&models.Like{}).Error
	})
	return created, err
}

// CreateLike inserts a like and reports a duplicate as Conflict.
func (s *InteractionStore) CreateLike(ctx context.Context, actorID, postID uint) (*models.Like, error) {
	var like models.Like
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := postExists(tx, postID); err != nil {
			return err
		}
		like = models.Like{ProfileID: actorID, PostID: postID}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&like)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("post already liked")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &like, nil
}

func (s *InteractionStore) Likes(ctx context.Context, actorID uint) ([]models.Like, error) {
	var likes []models.Like
	err := s.db.WithContext(ctx).
		Where("profile_id = ?", actorID).
		Preload("Profile.User").
		Order("created_at DESC, id DESC").
		Find(&likes).Error
	return likes, err
}

func (s *InteractionStore) Like(ctx context.Context, actorID, id uint) (*models.Like, error) {
	var like models.Like
	err := s.db.WithContext(ctx).
		Where("id = ? AND profile_id = ?", id, actorID).
		Preload("Profile.User").
		First(&like).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(fmt.Sprintf("like %d", id))
	}
	if err != nil {
		return nil, err
	}
	return &like, nil
}

func (s *InteractionStore) DeleteLike(ctx context.Context, actorID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var like models.Like
		if err := findByID(tx, &like, id, "like"); err != nil {
			return err
		}
		if like.ProfileID != actorID {
			return apperr.Forbidden("only the owner may remove this like")
		}
		return tx.Delete(&like).Error
	})
}

// LikesOf returns every like on a post, oldest first.
func (s *InteractionStore) LikesOf(ctx context.Context, postID uint) ([]models.Like, error) {
	var likes []models.Like
	err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Preload("Profile.User").
		Order("created_at, id").
		Find(&likes).Error
	return likes, err
}

func validateComment(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.Validation("comment may not be blank")
	}
	if utf8.RuneCountInString(content) > MaxCommentLength {
		return apperr.Validation("comment is longer than %d characters", MaxCommentLength)
	}
	return nil
}

func (s *InteractionStore) CreateComment(ctx context.Context, actorID, postID uint, content string) (*models.Comment, error) {
	if err := validateComment(content); err != nil {
		return nil, err
	}
	var comment models.Comment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := postExists(tx, postID); err != nil {
			return err
		}
		comment = models.Comment{ProfileID: actorID, PostID: postID, Content: content}
		return tx.Create(&comment).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Comment(ctx, actorID, comment.ID)
}

func (s *InteractionStore) Comments(ctx context.Context, actorID uint) ([]models.Comment, error) {
	var comments []models.Comment
	err := s.db.WithContext(ctx).
		Where("profile_id = ?", actorID).
		Preload("Profile.User").
		Order("created_at DESC, id DESC").
		Find(&comments).Error
	return comments, err
}

func (s *InteractionStore) Comment(ctx context.Context, actorID, id uint) (*models.Comment, error) {
	var comment models.Comment
	err := s.db.WithContext(ctx).
		Where("id = ? AND profile_id = ?", id, actorID).
		Preload("Profile.User").
		First(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(fmt.Sprintf("comment %d", id))
	}
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

func (s *InteractionStore) UpdateComment(ctx context.Context, actorID, id uint, content string) (*models.Comment, error) {
	if err := validateComment(content); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var comment models.Comment
		if err := findByID(tx, &comment, id, "comment"); err != nil {
			return err
		}
		if comment.ProfileID != actorID {
			return apperr.Forbidden("only the author may edit this comment")
		}
		return tx.Model(&comment).Update("content", content).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Comment(ctx, actorID, id)
}

func (s *InteractionStore) DeleteComment(ctx context.Context, actorID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var comment models.Comment
		if err := findByID(tx, &comment, id, "comment"); err != nil {
			return err
		}
		if comment.ProfileID != actorID {
			return apperr.Forbidden("only the author may delete this comment")
		}
		return tx.Delete(&comment).Error
	})
}

// CommentsOf returns every comment on a post, oldest first.
func (s *InteractionStore) CommentsOf(ctx context.Context, postID uint) ([]models.Comment, error) {
	var comments []models.Comment
	err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Preload("Profile.User").
		Order("created_at, id").
		Find(&comments).Error
	return comments, err
}

func postExists(tx *gorm.DB, postID uint) error {
	var n int64
	if err := tx.Model(&models.Post{}).Where("id = ?", postID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(fmt.Sprintf("post %d", postID))
	}
	return nil
}

func findByID(tx *gorm.DB, dest any, id uint, what string) error {
	err := tx.First(dest, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(fmt.Sprintf("%s %d", what, id))
	}
	return err
}
