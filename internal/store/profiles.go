package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sujalbistaa/murmur/internal/apperr"
	"github.com/sujalbistaa/murmur/internal/models"
)

// ProfileStore owns profiles and the follow graph. The follows table is the only record of an
// edge; "followed by" is always derived from it by query.
type ProfileStore struct {
	db *gorm.DB
}

func NewProfileStore(db *gorm.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// ProfileWithCounts is a profile plus its follow counts, self edge discounted.
type ProfileWithCounts struct {
	models.Profile
	NumFollows    int64
	NumFollowedBy int64
}

type ProfileFilter struct {
	Username  string
	FirstName string
	LastName  string
}

type ProfilePatch struct {
	Bio            *string
	Location       *string
	ProfilePicture *string
	FirstName      *string
	LastName       *string
}

// Create makes the profile for userID together with its self edge.
// It returns the existing profile if the user already has one.
func (s *ProfileStore) Create(ctx context.Context, userID uint) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ?", userID).First(&profile).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		profile = models.Profile{UserID: userID, ProfilePicture: models.DefaultProfilePicture}
		if err := tx.Create(&profile).Error; err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
		self := models.Follow{FollowerID: profile.ID, FolloweeID: profile.ID}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&self).Error
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *ProfileStore) Get(ctx context.Context, id uint) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).Preload("User").First(&profile, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(fmt.Sprintf("profile %d", id))
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *ProfileStore) ByUserID(ctx context.Context, userID uint) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).Preload("User").Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(fmt.Sprintf("profile for user %d", userID))
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetWithCounts loads one profile with its follow counts.
func (s *ProfileStore) GetWithCounts(ctx context.Context, id uint) (*ProfileWithCounts, error) {
	profile, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	withCounts, err := s.withCounts(ctx, []models.Profile{*profile})
	if err != nil {
		return nil, err
	}
	return &withCounts[0], nil
}

// List matches the filter fields case-insensitively as substrings. excludeID, when non-zero,
// drops the requester from the result.
func (s *ProfileStore) List(ctx context.Context, filter ProfileFilter, excludeID uint) ([]ProfileWithCounts, error) {
	q := s.db.WithContext(ctx).
		Model(&models.Profile{}).
		Joins("JOIN users ON users.id = profiles.user_id").
		Preload("User")

	for column, value := range map[string]string{
		"users.username":   filter.Username,
		"users.first_name": filter.FirstName,
		"users.last_name":  filter.LastName,
	} {
		if value = strings.TrimSpace(value); value != "" {
			q = q.Where("LOWER("+column+") LIKE ? ESCAPE '\\'", containsPattern(strings.ToLower(value)))
		}
	}
	if excludeID != 0 {
		q = q.Where("profiles.id <> ?", excludeID)
	}

	var profiles []models.Profile
	if err := q.Order("profiles.id").Find(&profiles).Error; err != nil {
		return nil, err
	}
	return s.withCounts(ctx, profiles)
}

// Followers returns the profiles following id, without id itself.
func (s *ProfileStore) Followers(ctx context.Context, id uint) ([]ProfileWithCounts, error) {
	return s.neighbours(ctx, "follows.followee_id = ?", "follows.follower_id", id)
}

// Following returns the profiles id follows, without id itself.
func (s *ProfileStore) Following(ctx context.Context, id uint) ([]ProfileWithCounts, error) {
	return s.neighbours(ctx, "follows.follower_id = ?", "follows.followee_id", id)
}

func (s *ProfileStore) neighbours(ctx context.Context, where, joinColumn string, id uint) ([]ProfileWithCounts, error) {
	var profiles []models.Profile
	err := s.db.WithContext(ctx).
		Joins("JOIN follows ON profiles.id = "+joinColumn).
		Where(where, id).
		Where("profiles.id <> ?", id).
		Preload("User").
		Order("follows.created_at DESC").
		Find(&profiles).Error
	if err != nil {
		return nil, err
	}
	return s.withCounts(ctx, profiles)
}

// FolloweeIDs returns every profile id that id follows, itself included.
func (s *ProfileStore) FolloweeIDs(ctx context.Context, id uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Follow{}).
		Where("follower_id = ?", id).
		Pluck("followee_id", &ids).Error
	return ids, err
}

// FollowerIDs returns every profile id following id, itself included.
func (s *ProfileStore) FollowerIDs(ctx context.Context, id uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Follow{}).
		Where("followee_id = ?", id).
		Pluck("follower_id", &ids).Error
	return ids, err
}

func (s *ProfileStore) IsFollowing(ctx context.Context, followerID, followeeID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Follow{}).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Count(&n).Error
	return n > 0, err
}

// ToggleFollow flips the edge actor -> target and reports whether it now exists.
// The insert is the presence test: a conflicting insert means the edge was there, so it is
// removed instead. Concurrent toggles on the same pair therefore serialize on the primary key.
func (s *ProfileStore) ToggleFollow(ctx context.Context, actorID, targetID uint) (created bool, err error) {
	if actorID == targetID {
		return false, apperr.Validation("a profile cannot follow or unfollow itself")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Profile{}).Where("id = ?", targetID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return apperr.NotFound(fmt.Sprintf("profile %d", targetID))
		}

		edge := models.Follow{FollowerID: actorID, FolloweeID: targetID}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edge)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			created = true
			return nil
		}
		return tx.Where("follower_id = ? AND followee_id = ?", actorID, targetID).
			Delete(&models.Follow{}).Error
	})
	return created, err
}

// Update applies the patch to the profile and, for name fields, to its user.
func (s *ProfileStore) Update(ctx context.Context, id uint, patch ProfilePatch) (*models.Profile, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var profile models.Profile
		if err := tx.First(&profile, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound(fmt.Sprintf("profile %d", id))
			}
			return err
		}

		profileFields := map[string]any{}
		if patch.Bio != nil {
			profileFields["bio"] = *patch.Bio
		}
		if patch.Location != nil {
			profileFields["location"] = *patch.Location
		}
		if patch.ProfilePicture != nil {
			profileFields["profile_picture"] = *patch.ProfilePicture
		}
		if len(profileFields) > 0 {
			if err := tx.Model(&profile).Updates(profileFields).Error; err != nil {
				return err
			}
		}

		userFields := map[string]any{}
		if patch.FirstName != nil {
			userFields["first_name"] = *patch.FirstName
		}
		if patch.LastName != nil {
			userFields["last_name"] = *patch.LastName
		}
		if len(userFields) > 0 {
			if err := tx.Model(&models.User{}).Where("id = ?", profile.UserID).Updates(userFields).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern matches value literally anywhere in a LIKE ... ESCAPE '\' comparison.
func containsPattern(value string) string {
	return "%" + likeEscaper.Replace(value) + "%"
}

type edgeCount struct {
	ID uint
	N  int64
}

func (s *ProfileStore) withCounts(ctx context.Context, profiles []models.Profile) ([]ProfileWithCounts, error) {
	out := make([]ProfileWithCounts, len(profiles))
	if len(profiles) == 0 {
		return out, nil
	}

	ids := make([]uint, len(profiles))
	for i, p := range profiles {
		ids[i] = p.ID
	}

	follows, err := s.countEdges(ctx, "follower_id", ids)
	if err != nil {
		return nil, err
	}
	followedBy, err := s.countEdges(ctx, "followee_id", ids)
	if err != nil {
		return nil, err
	}

	for i, p := range profiles {
		out[i] = ProfileWithCounts{
			Profile:       p,
			NumFollows:    discountSelf(follows[p.ID]),
			NumFollowedBy: discountSelf(followedBy[p.ID]),
		}
	}
	return out, nil
}

func (s *ProfileStore) countEdges(ctx context.Context, column string, ids []uint) (map[uint]int64, error) {
	var rows []edgeCount
	err := s.db.WithContext(ctx).Model(&models.Follow{}).
		Select(column+" AS id, COUNT(*) AS n").
		Where(column+" IN ?", ids).
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[uint]int64, len(rows))
	for _, r := range rows {
		counts[r.ID] = r.N
	}
	return counts, nil
}

func discountSelf(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return n - 1
}
