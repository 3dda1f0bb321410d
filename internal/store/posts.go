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

const (
	MaxHashTagLength = 63
	MaxPostLength    = 2000
)

type PostStore struct {
	db *gorm.DB
}

func NewPostStore(db *gorm.DB) *PostStore {
	return &PostStore{db: db}
}

// Draft is a validated-on-write post payload.
type Draft struct {
	Content  string
	Image    string
	HashTags []string
}

type PostPatch struct {
	Content  *string
	Image    *string
	HashTags *[]string // nil keeps the current set, non-nil replaces it wholesale
}

type PostCounts struct {
	Likes    int64
	Comments int64
}

type HashTagUsage struct {
	models.HashTag
	NumPosts int64
}

// NormalizeHashTag trims whitespace and a leading '#' and lower-cases the name.
func NormalizeHashTag(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "#")
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeHashTags normalizes and de-duplicates names, keeping first-seen order.
func NormalizeHashTags(names []string) ([]string, error) {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, raw := range names {
		name := NormalizeHashTag(raw)
		if name == "" {
			return nil, apperr.Validation("hashtag name may not be blank")
		}
		if utf8.RuneCountInString(name) > MaxHashTagLength {
			return nil, apperr.Validation("hashtag %q is longer than %d characters", name, MaxHashTagLength)
		}
		if strings.ContainsAny(name, " ,#") {
			return nil, apperr.Validation("hashtag %q may not contain spaces, commas or '#'", name)
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out, nil
}

// Validate checks a draft and normalizes its hashtags in place.
func (d *Draft) Validate() error {
	if err := validateContent(d.Content); err != nil {
		return err
	}
	tags, err := NormalizeHashTags(d.HashTags)
	if err != nil {
		return err
	}
	d.HashTags = tags
	return nil
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.Validation("content may not be blank")
	}
	if utf8.RuneCountInString(content) > MaxPostLength {
		return apperr.Validation("content is longer than %d characters", MaxPostLength)
	}
	return nil
}

// ResolveHashTags looks up or creates one hashtag per name. Calling it twice with the same
// names yields the same rows.
func (s *PostStore) ResolveHashTags(ctx context.Context, names []string) ([]models.HashTag, error) {
	names, err := NormalizeHashTags(names)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []models.HashTag{}, nil
	}

	db := s.db.WithContext(ctx)
	candidates := make([]models.HashTag, len(names))
	for i, name := range names {
		candidates[i] = models.HashTag{Name: name}
	}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("insert hashtags: %w", err)
	}

	var found []models.HashTag
	if err := db.Where("name IN ?", names).Find(&found).Error; err != nil {
		return nil, err
	}
	byName := make(map[string]models.HashTag, len(found))
	for _, tag := range found {
		byName[tag.Name] = tag
	}
	tags := make([]models.HashTag, 0, len(names))
	for _, name := range names {
		tags = append(tags, byName[name])
	}
	return tags, nil
}

// Create stores a post by authorID with its hashtags in one transaction.
func (s *PostStore) Create(ctx context.Context, authorID uint, draft Draft) (*models.Post, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	var post models.Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := NewPostStore(tx).create(ctx, authorID, draft)
		if err != nil {
			return err
		}
		post = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// CreatePostTx is PostStore.Create for callers that already hold a transaction.
func CreatePostTx(ctx context.Context, tx *gorm.DB, authorID uint, draft Draft) (*models.Post, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	return NewPostStore(tx).create(ctx, authorID, draft)
}

func (s *PostStore) create(ctx context.Context, authorID uint, draft Draft) (*models.Post, error) {
	tags, err := s.ResolveHashTags(ctx, draft.HashTags)
	if err != nil {
		return nil, err
	}
	post := models.Post{
		AuthorID: authorID,
		Content:  draft.Content,
		Image:    draft.Image,
		HashTags: tags,
	}
	if err := s.db.WithContext(ctx).Omit("HashTags.*").Create(&post).Error; err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return &post, nil
}

// Get loads a post with its hashtags regardless of visibility.
func (s *PostStore) Get(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).Preload("HashTags").Preload("Author.User").First(&post, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(fmt.Sprintf("post %d", id))
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// Update applies the patch when actorID owns the post.
func (s *PostStore) Update(ctx context.Context, id, actorID uint, patch PostPatch) (*models.Post, error) {
	if patch.Content != nil {
		if err := validateContent(*patch.Content); err != nil {
			return nil, err
		}
	}
	var names []string
	if patch.HashTags != nil {
		var err error
		if names, err = NormalizeHashTags(*patch.HashTags); err != nil {
			return nil, err
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := ownedPost(tx, id, actorID)
		if err != nil {
			return err
		}

		fields := map[string]any{}
		if patch.Content != nil {
			fields["content"] = *patch.Content
		}
		if patch.Image != nil {
			fields["image"] = *patch.Image
		}
		if len(fields) > 0 {
			if err := tx.Model(post).Updates(fields).Error; err != nil {
				return err
			}
		}

		if patch.HashTags != nil {
			tags, err := NewPostStore(tx).ResolveHashTags(ctx, names)
			if err != nil {
				return err
			}
			if err := tx.Model(post).Association("HashTags").Replace(tags); err != nil {
				return fmt.Errorf("replace hashtags: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes the post and everything hanging off it when actorID owns it.
func (s *PostStore) Delete(ctx context.Context, id, actorID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := ownedPost(tx, id, actorID)
		if err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Like{}).Error; err != nil {
			return fmt.Errorf("delete likes: %w", err)
		}
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Comment{}).Error; err != nil {
			return fmt.Errorf("delete comments: %w", err)
		}
		if err := tx.Model(post).Association("HashTags").Clear(); err != nil {
			return fmt.Errorf("clear hashtags: %w", err)
		}
		return tx.Delete(post).Error
	})
}

func ownedPost(tx *gorm.DB, id, actorID uint) (*models.Post, error) {
	var post models.Post
	if err := tx.First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("post %d", id))
		}
		return nil, err
	}
	if post.AuthorID != actorID {
		return nil, apperr.Forbidden("only the author may change this post")
	}
	return &post, nil
}

// ListByAuthors returns posts written by any of authorIDs, newest first. A non-empty tags list
// keeps only posts carrying at least one of those hashtag names.
func (s *PostStore) ListByAuthors(ctx context.Context, authorIDs []uint, tags []string) ([]models.Post, error) {
	if len(authorIDs) == 0 {
		return []models.Post{}, nil
	}
	db := s.db.WithContext(ctx)
	q := db.Where("posts.author_id IN ?", authorIDs)

	normalized := make([]string, 0, len(tags))
	for _, t := range tags {
		if n := NormalizeHashTag(t); n != "" {
			normalized = append(normalized, n)
		}
	}
	if len(normalized) > 0 {
		tagged := db.Table("post_hashtags").
			Select("post_hashtags.post_id").
			Joins("JOIN hashtags ON hashtags.id = post_hashtags.hashtag_id").
			Where("hashtags.name IN ?", normalized)
		q = q.Where("posts.id IN (?)", tagged)
	}

	var posts []models.Post
	err := q.Preload("HashTags").
		Preload("Author.User").
		Order("posts.created_at DESC, posts.id DESC").
		Find(&posts).Error
	return posts, err
}

// Counts returns like and comment counts for each post id.
func (s *PostStore) Counts(ctx context.Context, postIDs []uint) (map[uint]PostCounts, error) {
	counts := make(map[uint]PostCounts, len(postIDs))
	if len(postIDs) == 0 {
		return counts, nil
	}

	likes, err := s.countBy(ctx, &models.Like{}, postIDs)
	if err != nil {
		return nil, err
	}
	comments, err := s.countBy(ctx, &models.Comment{}, postIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range postIDs {
		counts[id] = PostCounts{Likes: likes[id], Comments: comments[id]}
	}
	return counts, nil
}

func (s *PostStore) countBy(ctx context.Context, model any, postIDs []uint) (map[uint]int64, error) {
	var rows []edgeCount
	err := s.db.WithContext(ctx).Model(model).
		Select("post_id AS id, COUNT(*) AS n").
		Where("post_id IN ?", postIDs).
		Group("post_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint]int64, len(rows))
	for _, r := range rows {
		out[r.ID] = r.N
	}
	return out, nil
}

// HashTags lists hashtags whose name contains nameFilter, most used first.
func (s *PostStore) HashTags(ctx context.Context, nameFilter string, limit int) ([]HashTagUsage, error) {
	q := s.db.WithContext(ctx).Table("hashtags").
		Select("hashtags.id, hashtags.name, COUNT(post_hashtags.post_id) AS num_posts").
		Joins("LEFT JOIN post_hashtags ON post_hashtags.hashtag_id = hashtags.id").
		Group("hashtags.id, hashtags.name").
		Order("num_posts DESC, hashtags.name")
	if n := NormalizeHashTag(nameFilter); n != "" {
		q = q.Where("hashtags.name LIKE ? ESCAPE '\\'", containsPattern(n))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []struct {
		ID       uint
		Name     string
		NumPosts int64
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]HashTagUsage, len(rows))
	for i, r := range rows {
		out[i] = HashTagUsage{HashTag: models.HashTag{ID: r.ID, Name: r.Name}, NumPosts: r.NumPosts}
	}
	return out, nil
}
