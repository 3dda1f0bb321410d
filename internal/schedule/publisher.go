package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/sujalbistaa/murmur/internal/apperr"
	"github.com/sujalbistaa/murmur/internal/models"
	"github.com/sujalbistaa/murmur/internal/store"
)

var (
	ErrNotDue = errors.New("scheduled post is not due yet")
	// ErrHandled means another delivery already claimed the row.
	ErrHandled = errors.New("scheduled post already handled")
)

// Announcer is told about every post a worker materializes.
type Announcer interface {
	Announce(ctx context.Context, post *models.Post) error
}

type AnnouncerFunc func(ctx context.Context, post *models.Post) error

func (f AnnouncerFunc) Announce(ctx context.Context, post *models.Post) error { return f(ctx, post) }

type Publisher struct {
	db        *gorm.DB
	announcer Announcer
	now       func() time.Time
}

func NewPublisher(db *gorm.DB, announcer Announcer) *Publisher {
	return &Publisher{db: db, announcer: announcer, now: time.Now}
}

// Materialize creates the post for a due scheduled post. The row is claimed by moving it out of
// pending inside the same transaction that creates the post, so concurrent or repeated
// deliveries produce exactly one post; the losers get ErrHandled.
func (p *Publisher) Materialize(ctx context.Context, id uint) (*models.Post, error) {
	var row models.ScheduledPost
	if err := p.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("scheduled post %d", id))
		}
		return nil, err
	}
	if row.Status != models.StatusPending {
		return nil, ErrHandled
	}
	if p.now().Before(row.PublishAt) {
		return nil, ErrNotDue
	}

	var post *models.Post
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := tx.Model(&models.ScheduledPost{}).
			Where("id = ? AND status = ?", id, models.StatusPending).
			Update("status", models.StatusPublishing)
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return ErrHandled
		}

		created, err := store.CreatePostTx(ctx, tx, row.AuthorID, store.Draft{
			Content:  row.Content,
			Image:    row.Image,
			HashTags: row.HashTags,
		})
		if err != nil {
			return err
		}
		post = created
		return tx.Model(&models.ScheduledPost{}).Where("id = ?", id).Updates(map[string]any{
			"status":     models.StatusPublished,
			"post_id":    created.ID,
			"last_error": "",
		}).Error
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Scheduled post published", "scheduled_post_id", id, "post_id", post.ID)
	if p.announcer != nil {
		if err := p.announcer.Announce(ctx, post); err != nil {
			slog.Warn("Failed to announce published post", "post_id", post.ID, "error", err)
		}
	}
	return post, nil
}

// RecordFailure counts a failed attempt and marks the row failed once the budget is spent or
// when permanent is set. It reports whether the row is now failed.
func (p *Publisher) RecordFailure(ctx context.Context, id uint, cause error, permanent bool) (bool, error) {
	var failed bool
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.ScheduledPost
		err := tx.First(&row, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			failed = true
			return nil
		}
		if err != nil {
			return err
		}
		if row.Status != models.StatusPending {
			return nil
		}
		attempts := row.Attempts + 1
		fields := map[string]any{"attempts": attempts, "last_error": cause.Error()}
		if permanent || attempts >= MaxAttempts {
			fields["status"] = models.StatusFailed
			failed = true
		}
		return tx.Model(&row).Where("status = ?", models.StatusPending).Updates(fields).Error
	})
	if failed {
		slog.Error("Scheduled post failed", "scheduled_post_id", id, "error", cause)
	}
	return failed, err
}

// Permanent reports whether retrying cannot fix err. A missing row is not permanent: a job may
// be delivered before the row it points at is visible to the worker.
func Permanent(err error) bool {
	return errors.Is(err, apperr.ErrValidation)
}

// Backoff is the delay before retry number attempt.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(1<<min(attempt-1, 6)) * 5 * time.Second
	return min(d, 5*time.Minute)
}
