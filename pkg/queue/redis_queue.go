package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event is one entry of the stream.
type Event struct {
	ID       string
	Kind     string
	Payload  []byte
	Attempts int
}

// Handler processes an event. A returned error schedules a retry until the
// attempt budget is spent.
type Handler func(context.Context, Event) error

// RedisEventQueue is an at-least-once event stream on Redis Streams with a
// consumer group.
type RedisEventQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	logger       *slog.Logger
	once         sync.Once
	groupErr     error
}

type RedisQueueConfig struct {
	Stream     string
	Group      string
	Consumer   string
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
	Logger     *slog.Logger
}

func NewRedisEventQueue(client *redis.Client, cfg RedisQueueConfig) (*RedisEventQueue, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = uuid.NewString()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay < 0 {
		retryDelay = 0
	} else if retryDelay == 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisEventQueue{
		client:       client,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
		logger:       logger,
	}, nil
}

// Publish appends an event and returns its id.
func (q *RedisEventQueue) Publish(ctx context.Context, kind string, payload []byte) (string, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return "", errors.New("event kind required")
	}
	if err := q.EnsureGroup(ctx); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: eventValues(Event{ID: id, Kind: kind, Payload: payload}),
	}).Err(); err != nil {
		return "", fmt.Errorf("publish event: %w", err)
	}
	return id, nil
}

// EnsureGroup creates the stream and its consumer group once. The group reads
// from the start of the stream so events published before the first consumer
// are delivered.
func (q *RedisEventQueue) EnsureGroup(ctx context.Context) error {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.groupErr = fmt.Errorf("create consumer group: %w", err)
		}
	})
	return q.groupErr
}

// Start launches concurrency consumers that run until ctx is done.
func (q *RedisEventQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := q.EnsureGroup(ctx); err != nil {
		q.logger.Error("queue group setup failed", "stream", q.stream, "err", err)
	}
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *RedisEventQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				q.logger.Warn("queue read failed", "stream", q.stream, "err", err)
				q.sleep(ctx, time.Second)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisEventQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisEventQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	ev, ok := decodeEvent(msg)
	if !ok {
		q.logger.Warn("queue dropped malformed event", "stream", q.stream, "messageId", msg.ID)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	ev.Attempts++
	err := handler(ctx, ev)
	if err == nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if ev.Attempts >= q.maxRetries {
		q.logger.Error("queue dropped event after retries", "stream", q.stream, "eventId", ev.ID, "kind", ev.Kind, "attempts", ev.Attempts, "err", err)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if !q.sleep(ctx, q.retryDelay) {
		return
	}
	if err := q.requeueAndAck(ctx, msg.ID, ev); err != nil {
		q.logger.Warn("queue requeue failed", "stream", q.stream, "eventId", ev.ID, "err", err)
	}
}

func (q *RedisEventQueue) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (q *RedisEventQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck re-publishes ev with its attempt count and acks the original
// in one transaction, so a failure leaves the original pending for reclaim.
func (q *RedisEventQueue) requeueAndAck(ctx context.Context, msgID string, ev Event) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: eventValues(ev),
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func eventValues(ev Event) map[string]any {
	return map[string]any{
		"event_id": ev.ID,
		"kind":     ev.Kind,
		"payload":  string(ev.Payload),
		"attempts": strconv.Itoa(ev.Attempts),
	}
}

func decodeEvent(msg redis.XMessage) (Event, bool) {
	id, _ := msg.Values["event_id"].(string)
	kind, _ := msg.Values["kind"].(string)
	payload, _ := msg.Values["payload"].(string)
	if id == "" || kind == "" {
		return Event{}, false
	}
	ev := Event{ID: id, Kind: kind, Payload: []byte(payload)}
	if v, _ := msg.Values["attempts"].(string); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			ev.Attempts = n
		}
	}
	return ev, true
}
