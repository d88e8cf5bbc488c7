// Package redisqueue implements the shared task broker on Redis Streams.
//
// Each priority has its own stream (<prefix>:urgent, <prefix>:high, ...) read
// through one consumer group, so the autoscraper, beat and worker processes can
// share a queue. Tasks with a future NotBefore wait in a sorted set
// (<prefix>:delayed) scored by due time and are moved onto their stream when due.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

// ErrQueueFull mirrors the in-memory queue's capacity error.
var ErrQueueFull = errors.New("queue is full")

const (
	fieldJobID    = "job_id"
	fieldTask     = "task"
	defaultPrefix = "remotehive:tasks"
)

// Config controls stream naming and read behavior.
type Config struct {
	Prefix   string
	Group    string
	Consumer string
	Block    time.Duration
	MaxSize  int
}

// Queue is a Redis Streams backed scraper.Queue.
type Queue struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time
}

// Dial parses a redis:// URL and verifies the connection.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// New prepares the consumer group on every priority stream.
func New(ctx context.Context, client *redis.Client, cfg Config) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.Group == "" {
		cfg.Group = "autoscraper"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-" + uuid.NewString()[:8]
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	q := &Queue{client: client, cfg: cfg, now: time.Now}
	for _, stream := range q.streams() {
		err := client.XGroupCreateMkStream(ctx, stream, cfg.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
		}
	}
	return q, nil
}

// Enqueue appends the task to its priority stream, or parks it in the delayed
// set when NotBefore is in the future.
func (q *Queue) Enqueue(ctx context.Context, task scraper.Task) error {
	if q.cfg.MaxSize > 0 {
		n, err := q.Len(ctx)
		if err != nil {
			return err
		}
		if n >= q.cfg.MaxSize {
			return ErrQueueFull
		}
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if task.NotBefore.After(q.now()) {
		err := q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
			Score:  float64(task.NotBefore.UnixMilli()),
			Member: string(payload),
		}).Err()
		if err != nil {
			return fmt.Errorf("enqueue delayed task: %w", err)
		}
		return nil
	}
	return q.add(ctx, task.JobID, task.Priority, string(payload))
}

func (q *Queue) add(ctx context.Context, jobID string, priority scraper.Priority, payload string) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream(priority),
		Values: map[string]any{fieldJobID: jobID, fieldTask: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Dequeue returns the highest-priority available task. Messages are
// acknowledged and deleted on receipt; retries are driven by the worker.
func (q *Queue) Dequeue(ctx context.Context) (scraper.Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return scraper.Task{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		wait, err := q.promoteDue(ctx)
		if err != nil {
			return scraper.Task{}, err
		}
		for _, stream := range q.streams() {
			task, ok, err := q.read(ctx, []string{stream, ">"}, -1)
			if err != nil {
				return scraper.Task{}, err
			}
			if ok {
				return task, nil
			}
		}

		block := q.cfg.Block
		if wait > 0 && wait < block {
			block = wait
		}
		args := append(q.streams(), ">", ">", ">", ">")
		task, ok, err := q.read(ctx, args, block)
		if err != nil {
			return scraper.Task{}, err
		}
		if ok {
			return task, nil
		}
	}
}

func (q *Queue) read(ctx context.Context, streams []string, block time.Duration) (scraper.Task, bool, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		Streams:  streams,
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return scraper.Task{}, false, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return scraper.Task{}, false, fmt.Errorf("dequeue canceled: %w", ctxErr)
		}
		return scraper.Task{}, false, fmt.Errorf("failed to read from streams: %w", err)
	}
	for _, stream := range res {
		for _, msg := range stream.Messages {
			if err := q.ack(ctx, stream.Stream, msg.ID); err != nil {
				return scraper.Task{}, false, err
			}
			task, err := parseMessage(msg)
			if err != nil {
				return scraper.Task{}, false, err
			}
			return task, true, nil
		}
	}
	return scraper.Task{}, false, nil
}

func (q *Queue) ack(ctx context.Context, stream, id string) error {
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, stream, q.cfg.Group, id)
	pipe.XDel(ctx, stream, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack task %s: %w", id, err)
	}
	return nil
}

// promoteDue moves due delayed tasks onto their streams and returns the wait
// until the next delayed task, or zero when none is pending.
func (q *Queue) promoteDue(ctx context.Context) (time.Duration, error) {
	nowMs := q.now().UnixMilli()
	members, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(nowMs, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("read delayed tasks: %w", err)
	}
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.delayedKey(), member).Result()
		if err != nil {
			return 0, fmt.Errorf("claim delayed task: %w", err)
		}
		if removed == 0 {
			continue // another consumer promoted it
		}
		var task scraper.Task
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			return 0, fmt.Errorf("decode delayed task: %w", err)
		}
		if err := q.add(ctx, task.JobID, task.Priority, member); err != nil {
			return 0, err
		}
	}

	next, err := q.client.ZRangeWithScores(ctx, q.delayedKey(), 0, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("peek delayed tasks: %w", err)
	}
	if len(next) == 0 {
		return 0, nil
	}
	wait := time.Duration(int64(next[0].Score)-nowMs) * time.Millisecond
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait, nil
}

// Len counts undelivered and delayed tasks.
func (q *Queue) Len(ctx context.Context) (int, error) {
	pipe := q.client.Pipeline()
	lens := make([]*redis.IntCmd, 0, 4)
	for _, stream := range q.streams() {
		lens = append(lens, pipe.XLen(ctx, stream))
	}
	delayed := pipe.ZCard(ctx, q.delayedKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	total := delayed.Val()
	for _, cmd := range lens {
		total += cmd.Val()
	}
	return int(total), nil
}

// Remove deletes any queued or delayed task for jobID.
func (q *Queue) Remove(ctx context.Context, jobID string) (bool, error) {
	removed := false
	for _, stream := range q.streams() {
		msgs, err := q.client.XRange(ctx, stream, "-", "+").Result()
		if err != nil {
			return removed, fmt.Errorf("scan %s: %w", stream, err)
		}
		for _, msg := range msgs {
			if id, _ := msg.Values[fieldJobID].(string); id != jobID {
				continue
			}
			if err := q.client.XDel(ctx, stream, msg.ID).Err(); err != nil {
				return removed, fmt.Errorf("remove task: %w", err)
			}
			removed = true
		}
	}
	members, err := q.client.ZRange(ctx, q.delayedKey(), 0, -1).Result()
	if err != nil {
		return removed, fmt.Errorf("scan delayed tasks: %w", err)
	}
	for _, member := range members {
		var task scraper.Task
		if json.Unmarshal([]byte(member), &task) != nil || task.JobID != jobID {
			continue
		}
		if err := q.client.ZRem(ctx, q.delayedKey(), member).Err(); err != nil {
			return removed, fmt.Errorf("remove delayed task: %w", err)
		}
		removed = true
	}
	return removed, nil
}

func parseMessage(msg redis.XMessage) (scraper.Task, error) {
	raw, ok := msg.Values[fieldTask].(string)
	if !ok {
		return scraper.Task{}, fmt.Errorf("message %s has no task payload", msg.ID)
	}
	var task scraper.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return scraper.Task{}, fmt.Errorf("failed to parse task payload: %w", err)
	}
	return task, nil
}

func (q *Queue) streams() []string {
	priorities := scraper.Priorities()
	out := make([]string, len(priorities))
	for i, p := range priorities {
		out[i] = q.stream(p)
	}
	return out
}

func (q *Queue) stream(p scraper.Priority) string {
	return q.cfg.Prefix + ":" + p.String()
}

func (q *Queue) delayedKey() string {
	return q.cfg.Prefix + ":delayed"
}
