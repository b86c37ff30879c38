package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"studypal/internal/util"
)

// RedisStreamNotifier publishes reply events to a capped Redis stream and
// can fan them out to handlers through a consumer group.
type RedisStreamNotifier struct {
	client       redis.UniversalClient
	stream       string
	group        string
	consumerBase string
	block        time.Duration
	claimIdle    time.Duration
	maxLen       int64
	readCount    int64
	once         sync.Once
}

type RedisStreamConfig struct {
	Stream    string
	Group     string
	Consumer  string
	Block     time.Duration
	ClaimIdle time.Duration
	MaxLen    int64
	ReadCount int64
}

func NewRedisStreamNotifier(client redis.UniversalClient, cfg RedisStreamConfig) (*RedisStreamNotifier, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "studypal:replies"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	return &RedisStreamNotifier{
		client:       client,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		block:        block,
		claimIdle:    claimIdle,
		maxLen:       maxLen,
		readCount:    readCount,
	}, nil
}

func (n *RedisStreamNotifier) Notify(ctx context.Context, event ReplyEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: map[string]any{
			"user_id": event.UserID,
			"event":   string(payload),
		},
	}).Err()
}

// Start consumes delivered events with handler. Messages are acked after
// the handler returns regardless of its error; delivery is at most once
// per consumer group, not guaranteed.
func (n *RedisStreamNotifier) Start(ctx context.Context, concurrency int, handler func(context.Context, ReplyEvent)) {
	if concurrency <= 0 {
		concurrency = 1
	}
	n.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", n.consumerBase, i)
		go n.consumeLoop(ctx, consumer, handler)
	}
}

func (n *RedisStreamNotifier) ensureGroup(ctx context.Context) {
	n.once.Do(func() {
		err := n.client.XGroupCreateMkStream(ctx, n.stream, n.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("create consumer group failed", "stream", n.stream, "group", n.group, "error", err)
		}
	})
}

func (n *RedisStreamNotifier) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, ReplyEvent)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := n.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				n.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := n.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    n.group,
			Consumer: consumer,
			Streams:  []string{n.stream, ">"},
			Count:    n.readCount,
			Block:    n.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				n.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (n *RedisStreamNotifier) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := n.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   n.stream,
		Group:    n.group,
		Consumer: consumer,
		MinIdle:  n.claimIdle,
		Start:    "0-0",
		Count:    n.readCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (n *RedisStreamNotifier) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, ReplyEvent)) {
	defer n.ackAndDel(ctx, msg.ID)
	raw, _ := msg.Values["event"].(string)
	if raw == "" {
		return
	}
	var event ReplyEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return
	}
	handler(ctx, event)
}

func (n *RedisStreamNotifier) ackAndDel(ctx context.Context, msgID string) {
	_, _ = n.client.XAck(ctx, n.stream, n.group, msgID).Result()
	_, _ = n.client.XDel(ctx, n.stream, msgID).Result()
}
