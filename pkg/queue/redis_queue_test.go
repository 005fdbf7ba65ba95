package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) *RedisEventQueue {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q, err := NewRedisEventQueue(client, RedisQueueConfig{
		Stream:     "test:events",
		Group:      "test-group",
		Consumer:   "consumer",
		Block:      20 * time.Millisecond,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func TestRedisEventQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, ev := newPendingQueueMessage(t)

	ev.Attempts = 1
	if err := q.requeueAndAck(ctx, msgID, ev); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got, ok := decodeEvent(streams[0].Messages[0])
	if !ok || got.ID != ev.ID || got.Kind != "usage" || string(got.Payload) != `{"n":1}` || got.Attempts != 1 {
		t.Fatalf("unexpected requeued event: %+v", got)
	}
}

func TestRedisEventQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, ev := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, ev); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}

	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func TestRedisEventQueueRetriesFailedHandler(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := q.Publish(ctx, "usage", []byte("payload")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	seen := make(chan Event, 4)
	q.Start(ctx, 1, func(_ context.Context, ev Event) error {
		seen <- ev
		if ev.Attempts == 1 {
			return errors.New("transient")
		}
		return nil
	})

	var last Event
	for i := 0; i < 2; i++ {
		select {
		case last = <-seen:
		case <-time.After(3 * time.Second):
			t.Fatalf("handler not called (call %d)", i+1)
		}
	}
	if last.Attempts != 2 || string(last.Payload) != "payload" {
		t.Fatalf("unexpected retry delivery: %+v", last)
	}
}

func TestRedisEventQueuePublishValidatesKind(t *testing.T) {
	q := newTestQueue(t)
	if _, err := q.Publish(context.Background(), " ", nil); err == nil {
		t.Fatalf("expected error for empty kind")
	}
}

func newPendingQueueMessage(t *testing.T) (*RedisEventQueue, context.Context, string, Event) {
	t.Helper()

	q := newTestQueue(t)
	ctx := context.Background()
	id, err := q.Publish(ctx, "usage", []byte(`{"n":1}`))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}

	msg := streams[0].Messages[0]
	ev, ok := decodeEvent(msg)
	if !ok || ev.ID != id {
		t.Fatalf("unexpected event: %+v", ev)
	}
	return q, ctx, msg.ID, ev
}
