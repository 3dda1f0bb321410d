package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/sujalbistaa/murmur/internal/apperr"
	"github.com/sujalbistaa/murmur/internal/models"
)

const (
	StreamName     = "SCHEDULE"
	JobSubject     = "schedule.post"
	ConsumerName   = "schedule-worker"
	PublishedTopic = "posts.published"
)

// NatsQueue enqueues jobs on a JetStream stream. The message id deduplicates repeated enqueues
// of the same job inside the stream's duplicate window.
type NatsQueue struct {
	js jetstream.JetStream
}

// NewNatsQueue makes sure the stream exists.
func NewNatsQueue(ctx context.Context, js jetstream.JetStream) (*NatsQueue, error) {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{JobSubject},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.WorkQueuePolicy,
		Replicas:   1,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}
	return &NatsQueue{js: js}, nil
}

func (q *NatsQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	msg := &nats.Msg{Subject: JobSubject, Data: data, Header: nats.Header{}}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	ack, err := q.js.PublishMsg(ctx, msg, jetstream.WithMsgID(job.Key()))
	if err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	slog.Debug("Scheduled post enqueued", "scheduled_post_id", job.ScheduledPostID, "seq", ack.Sequence, "duplicate", ack.Duplicate)
	return nil
}

// Consumer materializes jobs delivered by JetStream.
type Consumer struct {
	js        jetstream.JetStream
	publisher *Publisher
	tracer    trace.Tracer
}

func NewConsumer(js jetstream.JetStream, publisher *Publisher) *Consumer {
	return &Consumer{js: js, publisher: publisher, tracer: otel.Tracer("murmur/schedule")}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		FilterSubject: JobSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) { c.handle(ctx, msg) })
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	defer cc.Stop()

	slog.Info("Listening for scheduled posts", "stream", StreamName, "consumer", ConsumerName)
	<-ctx.Done()
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Headers()))
	ctx, span := c.tracer.Start(ctx, "materialize_scheduled_post", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	var job Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		span.RecordError(err)
		slog.Error("Invalid scheduled post job", "error", err)
		_ = msg.Term()
		return
	}
	span.SetAttributes(attribute.Int64("scheduled_post.id", int64(job.ScheduledPostID)))

	_, err := c.publisher.Materialize(ctx, job.ScheduledPostID)
	switch {
	case err == nil, errors.Is(err, ErrHandled):
		_ = msg.Ack()
	case errors.Is(err, ErrNotDue):
		_ = msg.NakWithDelay(max(time.Until(job.NotBefore), time.Second))
	case errors.Is(err, apperr.ErrNotFound):
		delivered := deliveries(msg)
		if delivered >= MaxAttempts {
			slog.Error("Dropping job for missing scheduled post", "scheduled_post_id", job.ScheduledPostID, "deliveries", delivered)
			_ = msg.Term()
			return
		}
		_ = msg.NakWithDelay(Backoff(delivered))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		failed, ferr := c.publisher.RecordFailure(ctx, job.ScheduledPostID, err, Permanent(err))
		if ferr != nil {
			slog.Error("Failed to record scheduled post failure", "scheduled_post_id", job.ScheduledPostID, "error", ferr)
		}
		if failed {
			_ = msg.Term()
			return
		}
		_ = msg.NakWithDelay(Backoff(deliveries(msg)))
	}
}

func deliveries(msg jetstream.Msg) int {
	if meta, err := msg.Metadata(); err == nil {
		return int(meta.NumDelivered)
	}
	return 1
}

// PublishedEvent is broadcast on PublishedTopic after a scheduled post goes live.
type PublishedEvent struct {
	PostID   uint `json:"post_id"`
	AuthorID uint `json:"author_id"`
}

// NatsAnnouncer broadcasts published posts over core NATS so API processes can notify followers.
type NatsAnnouncer struct {
	nc *nats.Conn
}

func NewNatsAnnouncer(nc *nats.Conn) *NatsAnnouncer {
	return &NatsAnnouncer{nc: nc}
}

func (a *NatsAnnouncer) Announce(ctx context.Context, post *models.Post) error {
	data, err := json.Marshal(PublishedEvent{PostID: post.ID, AuthorID: post.AuthorID})
	if err != nil {
		return err
	}
	msg := &nats.Msg{Subject: PublishedTopic, Data: data, Header: nats.Header{}}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))
	return a.nc.PublishMsg(msg)
}

// SubscribePublished calls fn for every PublishedEvent.
func SubscribePublished(nc *nats.Conn, fn func(ctx context.Context, ev PublishedEvent)) (*nats.Subscription, error) {
	return nc.Subscribe(PublishedTopic, func(msg *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))
		var ev PublishedEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Error("Invalid published post event", "error", err)
			return
		}
		fn(ctx, ev)
	})
}
