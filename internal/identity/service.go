// Package identity registers users, checks their credentials and issues access tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/sujalbistaa/murmur/internal/apperr"
	"github.com/sujalbistaa/murmur/internal/models"
	"github.com/sujalbistaa/murmur/internal/store"
)

const minPasswordLength = 8

var ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", apperr.ErrUnauthenticated)

type RegisterCmd struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type Token struct {
	Access    string
	ExpiresAt time.Time
}

type Service struct {
	db     *gorm.DB
	hasher *Argon2Hasher
	tokens *TokenProvider
}

func NewService(db *gorm.DB, hasher *Argon2Hasher, tokens *TokenProvider) *Service {
	return &Service{db: db, hasher: hasher, tokens: tokens}
}

// Register creates the user and its profile in one transaction, so a user never exists
// without a profile.
func (s *Service) Register(ctx context.Context, cmd RegisterCmd) (*models.Profile, error) {
	cmd.Username = strings.TrimSpace(cmd.Username)
	cmd.Email = strings.ToLower(strings.TrimSpace(cmd.Email))
	if err := validateRegistration(cmd); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(cmd.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var profileID uint
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&models.User{}).
			Where("email = ? OR username = ?", cmd.Email, cmd.Username).
			Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return apperr.Conflict("username or email already registered")
		}

		user := models.User{
			Username:     cmd.Username,
			Email:        cmd.Email,
			PasswordHash: hash,
			FirstName:    strings.TrimSpace(cmd.FirstName),
			LastName:     strings.TrimSpace(cmd.LastName),
		}
		if err := tx.Create(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Conflict("username or email already registered")
			}
			return fmt.Errorf("create user: %w", err)
		}

		profile, err := store.NewProfileStore(tx).Create(ctx, user.ID)
		if err != nil {
			return err
		}
		profileID = profile.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return store.NewProfileStore(s.db).Get(ctx, profileID)
}

// Login checks the credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (*Token, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, &user, password)
	}

	access, expires, err := s.tokens.Generate(user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	return &Token{Access: access, ExpiresAt: expires}, nil
}

// Authenticate resolves a bearer token to the caller's profile.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.Profile, error) {
	userID, err := s.tokens.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
	}
	profile, err := store.NewProfileStore(s.db).ByUserID(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user", apperr.ErrUnauthenticated)
	}
	return profile, err
}

func validateRegistration(cmd RegisterCmd) error {
	if n := utf8.RuneCountInString(cmd.Username); n < 3 || n > 150 {
		return apperr.Validation("username must be between 3 and 150 characters")
	}
	if strings.ContainsAny(cmd.Username, " /@") {
		return apperr.Validation("username may not contain spaces, '/' or '@'")
	}
	if _, err := mail.ParseAddress(cmd.Email); err != nil {
		return apperr.Validation("invalid email address")
	}
	if utf8.RuneCountInString(cmd.Password) < minPasswordLength {
		return apperr.Validation("password must be at least %d characters", minPasswordLength)
	}
	return nil
}

// rehash upgrades a password hash made with an older cost. Login succeeds either way.
func (s *Service) rehash(ctx context.Context, user *models.User, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.db.WithContext(ctx).Model(user).Update("password_hash", hash).Error
	}
	if err != nil {
		slog.Warn("Failed to upgrade password hash", "user_id", user.ID, "error", err)
	}
}
