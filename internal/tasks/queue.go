// Package tasks implements the delayed dose-verification pipeline: a
// Redis-sorted-set delay queue scored by due time, and a polling dispatcher
// that POSTs due tasks to the verification callback endpoint.
//
// Delivery is at-least-once. A task survives process restarts (it lives in
// Redis until claimed), and a failed dispatch is requeued with backoff up
// to a bounded attempt count. The verification handler itself is idempotent,
// so duplicate deliveries are harmless.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Payload 延迟校验任务负载
type Payload struct {
	DeviceID    string `json:"device_id"`
	PatientID   string `json:"patient_id"`
	ScheduledAt int64  `json:"scheduled_at"` // unix seconds the task becomes due
	Attempts    int    `json:"attempts"`
}

// Queue 基于 Redis ZSET 的延迟任务队列
// Members are JSON payloads, scores are due times in unix seconds.
type Queue struct {
	client      *redis.Client
	key         string
	verifyDelay time.Duration
	logger      *zap.Logger
}

func NewQueue(client *redis.Client, key string, verifyDelay time.Duration, logger *zap.Logger) *Queue {
	return &Queue{
		client:      client,
		key:         key,
		verifyDelay: verifyDelay,
		logger:      logger,
	}
}

// EnqueueDoseVerification schedules one verification task due after the
// configured delay.
func (q *Queue) EnqueueDoseVerification(ctx context.Context, deviceID, patientID string) error {
	if deviceID == "" || patientID == "" {
		return fmt.Errorf("deviceID and patientID are required")
	}

	dueAt := time.Now().Add(q.verifyDelay)
	payload := Payload{
		DeviceID:    deviceID,
		PatientID:   patientID,
		ScheduledAt: dueAt.Unix(),
	}
	return q.push(ctx, payload, dueAt)
}

// Requeue puts a failed task back with an incremented attempt counter and a
// linear backoff per attempt.
func (q *Queue) Requeue(ctx context.Context, p Payload, backoff time.Duration) error {
	p.Attempts++
	dueAt := time.Now().Add(backoff * time.Duration(p.Attempts))
	return q.push(ctx, p, dueAt)
}

func (q *Queue) push(ctx context.Context, p Payload, dueAt time.Time) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	if err := q.client.ZAdd(ctx, q.key, &redis.Z{
		Score:  float64(dueAt.Unix()),
		Member: string(data),
	}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.logger.Debug("Task enqueued",
		zap.String("device_id", p.DeviceID),
		zap.String("patient_id", p.PatientID),
		zap.Time("due_at", dueAt),
		zap.Int("attempts", p.Attempts),
	)
	return nil
}

// PopDue claims all tasks due at or before now. ZRem is the claim: only the
// caller whose removal succeeded owns the task, so concurrent dispatchers
// never deliver the same member twice.
func (q *Queue) PopDue(ctx context.Context, now time.Time) ([]Payload, error) {
	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due tasks: %w", err)
	}

	var due []Payload
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.key, member).Result()
		if err != nil {
			return due, fmt.Errorf("failed to claim task: %w", err)
		}
		if removed == 0 {
			continue // another dispatcher claimed it
		}

		var p Payload
		if err := json.Unmarshal([]byte(member), &p); err != nil {
			q.logger.Warn("Malformed task payload, dropping",
				zap.String("member", member),
				zap.Error(err),
			)
			continue
		}
		due = append(due, p)
	}
	return due, nil
}
