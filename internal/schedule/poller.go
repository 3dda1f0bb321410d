package schedule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/sujalbistaa/murmur/internal/models"
)

// Poller drains due rows straight from the database. It backs StoreQueue, and is safe to run
// next to a queue consumer since Materialize tolerates duplicate work.
type Poller struct {
	db        *gorm.DB
	publisher *Publisher
	interval  time.Duration
	batch     int
}

func NewPoller(db *gorm.DB, publisher *Publisher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{db: db, publisher: publisher, interval: interval, batch: 50}
}

func (p *Poller) Run(ctx context.Context) {
	slog.Info("Scheduled post poller started", "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Scheduled post poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("Scheduled post poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// PollOnce materializes every due pending row and returns how many posts it created.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	var due []models.ScheduledPost
	err := p.db.WithContext(ctx).
		Where("status = ? AND publish_at <= ?", models.StatusPending, p.publisher.now().UTC()).
		Order("publish_at, id").
		Limit(p.batch).
		Find(&due).Error
	if err != nil {
		return 0, err
	}

	published := 0
	for _, row := range due {
		_, err := p.publisher.Materialize(ctx, row.ID)
		switch {
		case err == nil:
			published++
		case errors.Is(err, ErrHandled), errors.Is(err, ErrNotDue):
		default:
			slog.Warn("Scheduled post attempt failed", "scheduled_post_id", row.ID, "error", err)
			if _, ferr := p.publisher.RecordFailure(ctx, row.ID, err, Permanent(err)); ferr != nil {
				slog.Error("Failed to record scheduled post failure", "scheduled_post_id", row.ID, "error", ferr)
			}
		}
	}
	return published, nil
}
