package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// verifyRequest 校验回调请求体
type verifyRequest struct {
	DeviceID string `json:"deviceId"`
	UserID   string `json:"userID"`
}

// Dispatcher polls the delay queue and POSTs due tasks to the verification
// endpoint. A failed delivery is requeued with backoff; after MaxAttempts
// the task is dropped and logged (the miss stays detectable through the
// adherence export, so a dropped verification is a gap, not silent
// corruption).
type Dispatcher struct {
	queue        *Queue
	httpClient   *resty.Client
	verifyURL    string
	sharedSecret string
	pollInterval time.Duration
	maxAttempts  int
	logger       *zap.Logger
}

func NewDispatcher(
	queue *Queue,
	verifyURL, sharedSecret string,
	pollInterval time.Duration,
	maxAttempts int,
	logger *zap.Logger,
) *Dispatcher {
	httpClient := resty.New().
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &Dispatcher{
		queue:        queue,
		httpClient:   httpClient,
		verifyURL:    verifyURL,
		sharedSecret: sharedSecret,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		logger:       logger,
	}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("Task dispatcher started",
		zap.Duration("poll_interval", d.pollInterval),
		zap.String("verify_url", d.verifyURL),
	)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Task dispatcher stopped")
			return
		case <-ticker.C:
			if err := d.DispatchDue(ctx); err != nil {
				d.logger.Error("Dispatch cycle failed", zap.Error(err))
			}
		}
	}
}

// DispatchDue claims and delivers every currently due task.
func (d *Dispatcher) DispatchDue(ctx context.Context) error {
	due, err := d.queue.PopDue(ctx, time.Now())
	if err != nil {
		return err
	}

	for _, task := range due {
		if err := d.deliver(ctx, task); err != nil {
			d.handleFailure(ctx, task, err)
		}
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, task Payload) error {
	resp, err := d.httpClient.R().
		SetContext(ctx).
		SetHeader("X-Task-Secret", d.sharedSecret).
		SetBody(verifyRequest{DeviceID: task.DeviceID, UserID: task.PatientID}).
		Post(d.verifyURL)

	if err != nil {
		return fmt.Errorf("failed to call verification endpoint: %w", err)
	}
	// 4xx means the endpoint rejected the task itself (bad payload, bad
	// secret); retrying will not change the outcome.
	if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
		d.logger.Error("Verification endpoint rejected task, dropping",
			zap.String("device_id", task.DeviceID),
			zap.String("patient_id", task.PatientID),
			zap.Int("status", resp.StatusCode()),
		)
		return nil
	}
	if resp.IsError() {
		return fmt.Errorf("verification endpoint returned status %d", resp.StatusCode())
	}

	d.logger.Info("Verification task delivered",
		zap.String("device_id", task.DeviceID),
		zap.String("patient_id", task.PatientID),
		zap.Int("attempts", task.Attempts),
	)
	return nil
}

func (d *Dispatcher) handleFailure(ctx context.Context, task Payload, cause error) {
	if task.Attempts+1 >= d.maxAttempts {
		d.logger.Error("Verification task exhausted retries, dropping",
			zap.String("device_id", task.DeviceID),
			zap.String("patient_id", task.PatientID),
			zap.Int("attempts", task.Attempts+1),
			zap.Error(cause),
		)
		return
	}

	d.logger.Warn("Verification delivery failed, requeueing",
		zap.String("device_id", task.DeviceID),
		zap.Int("attempts", task.Attempts+1),
		zap.Error(cause),
	)
	if err := d.queue.Requeue(ctx, task, d.pollInterval); err != nil {
		d.logger.Error("Failed to requeue verification task",
			zap.String("device_id", task.DeviceID),
			zap.Error(err),
		)
	}
}
