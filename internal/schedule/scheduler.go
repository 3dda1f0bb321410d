// Package schedule turns validated post drafts into posts once their publish time is reached.
//
// A ScheduledPost row is the durable record of every job. Queues only carry wake-up calls for
// rows; the conditional claim in Publisher.Materialize guarantees one post per row no matter how
// many times a job is delivered.
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

// MaxAttempts bounds how often a failing job is retried before it is marked failed.
const MaxAttempts = 5

// Job wakes a worker for one scheduled post.
type Job struct {
	ScheduledPostID uint      `json:"scheduled_post_id"`
	NotBefore       time.Time `json:"not_before"`
	Generation      int64     `json:"generation"`
}

// Key identifies this enqueue of the job. A retry bumps Generation so it is not deduplicated
// against the first enqueue.
func (j Job) Key() string {
	return fmt.Sprintf("scheduled-post-%d-%d", j.ScheduledPostID, j.Generation)
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// StoreQueue relies on the scheduled_posts table itself; a Poller drains it.
type StoreQueue struct{}

func (StoreQueue) Enqueue(context.Context, Job) error { return nil }

type Scheduler struct {
	db    *gorm.DB
	queue Queue
	now   func() time.Time
}

func NewScheduler(db *gorm.DB, queue Queue) *Scheduler {
	if queue == nil {
		queue = StoreQueue{}
	}
	return &Scheduler{db: db, queue: queue, now: time.Now}
}

// Schedule validates the draft exactly like an immediate post and stores it for publication at
// publishAt. The job is enqueued only once the row is committed, so a worker never sees a job
// for a row it cannot read. A failed enqueue leaves the row pending for a Poller to sweep up.
func (s *Scheduler) Schedule(ctx context.Context, authorID uint, draft store.Draft, publishAt time.Time) (*models.ScheduledPost, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if !publishAt.After(s.now()) {
		return nil, apperr.Validation("publish time must be in the future")
	}

	row := models.ScheduledPost{
		AuthorID:  authorID,
		Content:   draft.Content,
		Image:     draft.Image,
		HashTags:  draft.HashTags,
		PublishAt: publishAt.UTC(),
		Status:    models.StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("store scheduled post: %w", err)
	}
	s.enqueue(ctx, &row)
	return &row, nil
}

func (s *Scheduler) enqueue(ctx context.Context, row *models.ScheduledPost) {
	if err := s.queue.Enqueue(ctx, jobFor(row)); err != nil {
		slog.Warn("Failed to enqueue scheduled post, leaving it to the poller",
			"scheduled_post_id", row.ID, "error", err)
	}
}

// Get returns a scheduled post owned by authorID.
func (s *Scheduler) Get(ctx context.Context, authorID, id uint) (*models.ScheduledPost, error) {
	var row models.ScheduledPost
	err := s.db.WithContext(ctx).Where("id = ? AND author_id = ?", id, authorID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(fmt.Sprintf("scheduled post %d", id))
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// List returns scheduled posts in the given status, all of them when status is empty.
func (s *Scheduler) List(ctx context.Context, status models.ScheduleStatus) ([]models.ScheduledPost, error) {
	q := s.db.WithContext(ctx).Order("publish_at, id")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []models.ScheduledPost
	return rows, q.Find(&rows).Error
}

// Retry puts a failed scheduled post back in the queue with a fresh attempt budget.
func (s *Scheduler) Retry(ctx context.Context, id uint) (*models.ScheduledPost, error) {
	var row models.ScheduledPost
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ScheduledPost{}).
			Where("id = ? AND status = ?", id, models.StatusFailed).
			Updates(map[string]any{"status": models.StatusPending, "attempts": 0, "last_error": ""})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.First(&row, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound(fmt.Sprintf("scheduled post %d", id))
			}
			return err
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict(fmt.Sprintf("scheduled post %d is %s, not failed", id, row.Status))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.enqueue(ctx, &row)
	return &row, nil
}

func jobFor(row *models.ScheduledPost) Job {
	return Job{ScheduledPostID: row.ID, NotBefore: row.PublishAt, Generation: row.UpdatedAt.UnixNano()}
}
