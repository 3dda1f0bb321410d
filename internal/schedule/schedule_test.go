package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sujalbistaa/murmur/internal/apperr"
	"github.com/sujalbistaa/murmur/internal/db/dbtest"
	"github.com/sujalbistaa/murmur/internal/models"
	"github.com/sujalbistaa/murmur/internal/store"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []Job
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type fixture struct {
	db        *gorm.DB
	clock     *clock
	queue     *recordingQueue
	scheduler *Scheduler
	publisher *Publisher
	author    models.Profile
	announced []uint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database := dbtest.Open(t)
	f := &fixture{
		db:    database,
		clock: &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		queue: &recordingQueue{},
	}
	f.scheduler = NewScheduler(database, f.queue)
	f.scheduler.now = f.clock.now
	f.publisher = NewPublisher(database, AnnouncerFunc(func(_ context.Context, post *models.Post) error {
		f.announced = append(f.announced, post.ID)
		return nil
	}))
	f.publisher.now = f.clock.now

	user := models.User{Username: "author", Email: "author@example.com", PasswordHash: "x"}
	require.NoError(t, database.Create(&user).Error)
	profile, err := store.NewProfileStore(database).Create(context.Background(), user.ID)
	require.NoError(t, err)
	f.author = *profile
	return f
}

func (f *fixture) schedule(t *testing.T, in time.Duration, tags ...string) *models.ScheduledPost {
	t.Helper()
	row, err := f.scheduler.Schedule(context.Background(), f.author.ID,
		store.Draft{Content: "later", HashTags: tags}, f.clock.t.Add(in))
	require.NoError(t, err)
	return row
}

func (f *fixture) postCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Post{}).Count(&n).Error)
	return n
}

func TestScheduleValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.scheduler.Schedule(ctx, f.author.ID, store.Draft{Content: "x"}, f.clock.t)
	assert.ErrorIs(t, err, apperr.ErrValidation, "publish time must be in the future")
	_, err = f.scheduler.Schedule(ctx, f.author.ID, store.Draft{Content: "  "}, f.clock.t.Add(time.Hour))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.scheduler.Schedule(ctx, f.author.ID, store.Draft{Content: "x", HashTags: []string{"a b"}}, f.clock.t.Add(time.Hour))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, f.queue.jobs)
}

func TestScheduleEnqueuesAndPersists(t *testing.T) {
	f := newFixture(t)
	row := f.schedule(t, time.Hour, "#Go", "go")

	assert.Equal(t, models.StatusPending, row.Status)
	assert.Equal(t, []string{"go"}, row.HashTags)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, row.ID, f.queue.jobs[0].ScheduledPostID)
	assert.True(t, f.queue.jobs[0].NotBefore.Equal(f.clock.t.Add(time.Hour)))

	got, err := f.scheduler.Get(context.Background(), f.author.ID, row.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, got.HashTags)
	_, err = f.scheduler.Get(context.Background(), f.author.ID+1, row.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestScheduleKeepsRowWhenEnqueueFails(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("broker down")

	row, err := f.scheduler.Schedule(context.Background(), f.author.ID, store.Draft{Content: "x"}, f.clock.t.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, row.Status)

	f.clock.t = f.clock.t.Add(time.Hour)
	n, err := NewPoller(f.db, f.publisher, time.Second).PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the poller sweeps up rows that never reached the queue")
}

// deliveringQueue hands every job to the consumer as soon as it is enqueued, the way a bound
// JetStream consumer receives a fresh message.
type deliveringQueue struct {
	consumer  *Consumer
	delivered []*fakeMsg
}

func (q *deliveringQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	msg := &fakeMsg{data: data}
	q.consumer.handle(ctx, msg)
	q.delivered = append(q.delivered, msg)
	return nil
}

func TestScheduleEnqueuesAfterCommit(t *testing.T) {
	f := newFixture(t)
	queue := &deliveringQueue{consumer: NewConsumer(nil, f.publisher)}
	f.scheduler.queue = queue

	row := f.schedule(t, time.Minute)

	require.Len(t, queue.delivered, 1)
	msg := queue.delivered[0]
	assert.False(t, msg.termed, "an immediate delivery must not drop the job")
	assert.False(t, msg.acked)
	assert.Greater(t, msg.nakDelay, time.Duration(0))

	stored, err := f.scheduler.Get(context.Background(), f.author.ID, row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Zero(t, stored.Attempts)
}

func TestMaterializeWaitsUntilDue(t *testing.T) {
	f := newFixture(t)
	row := f.schedule(t, time.Hour, "later")

	_, err := f.publisher.Materialize(context.Background(), row.ID)
	assert.ErrorIs(t, err, ErrNotDue)
	assert.Zero(t, f.postCount(t), "not visible before publish time")

	f.clock.t = f.clock.t.Add(time.Hour)
	post, err := f.publisher.Materialize(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, f.author.ID, post.AuthorID)
	require.Len(t, post.HashTags, 1)
	assert.Equal(t, "later", post.HashTags[0].Name)
	assert.Equal(t, []uint{post.ID}, f.announced)

	var stored models.ScheduledPost
	require.NoError(t, f.db.First(&stored, row.ID).Error)
	assert.Equal(t, models.StatusPublished, stored.Status)
	require.NotNil(t, stored.PostID)
	assert.Equal(t, post.ID, *stored.PostID)
}

func TestMaterializeExactlyOnce(t *testing.T) {
	f := newFixture(t)
	row := f.schedule(t, time.Minute)
	f.clock.t = f.clock.t.Add(time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.publisher.Materialize(context.Background(), row.ID)
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrHandled)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.EqualValues(t, 1, f.postCount(t))

	_, err := f.publisher.Materialize(context.Background(), row.ID)
	assert.ErrorIs(t, err, ErrHandled)
}

func TestPollerPublishesDueRows(t *testing.T) {
	f := newFixture(t)
	soon := f.schedule(t, time.Minute)
	later := f.schedule(t, time.Hour)
	poller := NewPoller(f.db, f.publisher, time.Second)

	n, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.t = f.clock.t.Add(2 * time.Minute)
	n, err = poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "published rows are not picked up again")

	rows, err := f.scheduler.List(context.Background(), models.StatusPending)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, later.ID, rows[0].ID)
	assert.NotEqual(t, soon.ID, rows[0].ID)
}

func TestRecordFailureAndRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.schedule(t, time.Minute)
	cause := errors.New("database hiccup")

	for i := 1; i < MaxAttempts; i++ {
		failed, err := f.publisher.RecordFailure(ctx, row.ID, cause, false)
		require.NoError(t, err)
		assert.False(t, failed)
	}
	_, err := f.scheduler.Retry(ctx, row.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict, "pending rows cannot be retried")

	failed, err := f.publisher.RecordFailure(ctx, row.ID, cause, false)
	require.NoError(t, err)
	assert.True(t, failed)

	rows, err := f.scheduler.List(ctx, models.StatusFailed)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, MaxAttempts, rows[0].Attempts)
	assert.Equal(t, "database hiccup", rows[0].LastError)

	retried, err := f.scheduler.Retry(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, retried.Status)
	assert.Zero(t, retried.Attempts)
	require.Len(t, f.queue.jobs, 2)

	_, err = f.scheduler.Retry(ctx, 9999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, Backoff(0))
	assert.Equal(t, 5*time.Second, Backoff(1))
	assert.Equal(t, 10*time.Second, Backoff(2))
	assert.Equal(t, 5*time.Minute, Backoff(10))
}

type fakeMsg struct {
	jetstream.Msg
	data      []byte
	delivered uint64
	acked     bool
	termed    bool
	nakDelay  time.Duration
}

func (m *fakeMsg) Data() []byte         { return m.data }
func (m *fakeMsg) Headers() nats.Header { return nats.Header{} }
func (m *fakeMsg) Ack() error           { m.acked = true; return nil }
func (m *fakeMsg) Term() error          { m.termed = true; return nil }
func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.nakDelay = d
	return nil
}
func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: max(m.delivered, 1)}, nil
}

func TestConsumerHandle(t *testing.T) {
	f := newFixture(t)
	c := NewConsumer(nil, f.publisher)
	ctx := context.Background()
	row := f.schedule(t, time.Minute)
	job := []byte(`{"scheduled_post_id":` + fmt.Sprint(row.ID) + `,"not_before":"2999-01-01T00:00:00Z"}`)

	early := &fakeMsg{data: job}
	c.handle(ctx, early)
	assert.False(t, early.acked)
	assert.Greater(t, early.nakDelay, time.Duration(0), "not due yet is redelivered later")

	f.clock.t = f.clock.t.Add(time.Minute)
	due := &fakeMsg{data: job}
	c.handle(ctx, due)
	assert.True(t, due.acked)
	assert.EqualValues(t, 1, f.postCount(t))

	again := &fakeMsg{data: job}
	c.handle(ctx, again)
	assert.True(t, again.acked, "duplicate delivery is acknowledged")
	assert.EqualValues(t, 1, f.postCount(t))

	garbage := &fakeMsg{data: []byte("{")}
	c.handle(ctx, garbage)
	assert.True(t, garbage.termed)

	missing := &fakeMsg{data: []byte(`{"scheduled_post_id":4242}`)}
	c.handle(ctx, missing)
	assert.False(t, missing.termed, "a missing row may not be visible yet")
	assert.Equal(t, Backoff(1), missing.nakDelay)

	exhausted := &fakeMsg{data: []byte(`{"scheduled_post_id":4242}`), delivered: MaxAttempts}
	c.handle(ctx, exhausted)
	assert.True(t, exhausted.termed)
}
