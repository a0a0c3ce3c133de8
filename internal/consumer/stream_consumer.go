// Package consumer contains the two event ingress surfaces of the service:
// the Redis Streams change-feed consumer and the MQTT device ingress.
package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pildhora-sync/internal/config"
	"pildhora-sync/internal/models"
	"pildhora-sync/internal/notify"
	"pildhora-sync/internal/streams"
	syncpkg "pildhora-sync/internal/sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamConsumer reads the change-feed streams with one consumer group and
// dispatches each message to its handler. A message is acked after the
// handler returns; a handler error leaves the message pending for redelivery,
// which is why every handler is idempotent.
type StreamConsumer struct {
	client *redis.Client
	cfg    *config.Config
	logger *zap.Logger

	links     *syncpkg.LinkSynchronizer
	mirror    *syncpkg.ConfigMirror
	dispenses *syncpkg.DispenseRecorder
	scheduler *syncpkg.MissedDoseScheduler
	notifier  *notify.CriticalEventNotifier

	wg sync.WaitGroup
}

func NewStreamConsumer(
	client *redis.Client,
	cfg *config.Config,
	links *syncpkg.LinkSynchronizer,
	mirror *syncpkg.ConfigMirror,
	dispenses *syncpkg.DispenseRecorder,
	scheduler *syncpkg.MissedDoseScheduler,
	notifier *notify.CriticalEventNotifier,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		client:    client,
		cfg:       cfg,
		logger:    logger,
		links:     links,
		mirror:    mirror,
		dispenses: dispenses,
		scheduler: scheduler,
		notifier:  notifier,
	}
}

// Start creates the consumer groups and launches one read loop per stream.
func (c *StreamConsumer) Start(ctx context.Context) error {
	s := c.cfg.Sync.Streams
	allStreams := []string{
		s.RealtimeLinks, s.DocLinks, s.DeviceDoc, s.DeviceState, s.Dispense, s.Critical,
	}

	for _, stream := range allStreams {
		if err := streams.CreateConsumerGroup(ctx, c.client, stream, c.cfg.Sync.ConsumerGroup); err != nil {
			return fmt.Errorf("failed to initialize stream %s: %w", stream, err)
		}
	}

	for _, stream := range allStreams {
		c.wg.Add(1)
		go c.consumeLoop(ctx, stream)
	}

	c.logger.Info("Stream consumer started",
		zap.Strings("streams", allStreams),
		zap.String("group", c.cfg.Sync.ConsumerGroup),
		zap.String("consumer", c.cfg.Sync.ConsumerName),
	)
	return nil
}

// Wait blocks until every read loop has exited.
func (c *StreamConsumer) Wait() {
	c.wg.Wait()
}

func (c *StreamConsumer) consumeLoop(ctx context.Context, stream string) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Stream read loop stopped", zap.String("stream", stream))
			return
		default:
		}

		messages, err := streams.ReadGroup(ctx, c.client,
			stream, c.cfg.Sync.ConsumerGroup, c.cfg.Sync.ConsumerName, c.cfg.Sync.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Failed to read stream",
				zap.String("stream", stream),
				zap.Error(err),
			)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			if err := c.processMessage(ctx, msg); err != nil {
				// Left unacked: the group redelivers it to a consumer later.
				c.logger.Error("Failed to process message",
					zap.String("stream", msg.Stream),
					zap.String("id", msg.ID),
					zap.Error(err),
				)
				continue
			}
			if err := streams.Ack(ctx, c.client, msg.Stream, c.cfg.Sync.ConsumerGroup, msg.ID); err != nil {
				c.logger.Warn("Failed to ack message",
					zap.String("stream", msg.Stream),
					zap.String("id", msg.ID),
					zap.Error(err),
				)
			}
		}
	}
}

func (c *StreamConsumer) processMessage(ctx context.Context, msg streams.Message) error {
	s := c.cfg.Sync.Streams

	switch msg.Stream {
	case s.RealtimeLinks:
		var ev models.LinkPresenceEvent
		if err := models.DecodeEvent(msg.Values, &ev); err != nil {
			c.logMalformed(msg, err)
			return nil
		}
		if ev.Op == models.LinkOpDeleted {
			return c.links.HandleRealtimeLinkDeleted(ctx, ev)
		}
		return c.links.HandleRealtimeLinkCreated(ctx, ev)

	case s.DocLinks:
		var ev models.LinkDocEvent
		if err := models.DecodeEvent(msg.Values, &ev); err != nil {
			c.logMalformed(msg, err)
			return nil
		}
		if ev.BeforeStatus == "" {
			return c.links.HandleLinkDocCreated(ctx, ev)
		}
		return c.links.HandleLinkDocUpdated(ctx, ev)

	case s.DeviceDoc:
		var ev models.DeviceDocEvent
		if err := models.DecodeEvent(msg.Values, &ev); err != nil {
			c.logMalformed(msg, err)
			return nil
		}
		return c.mirror.HandleDeviceDocUpdated(ctx, ev)

	case s.DeviceState:
		var ev models.DeviceStateEvent
		if err := models.DecodeEvent(msg.Values, &ev); err != nil {
			c.logMalformed(msg, err)
			return nil
		}
		if err := c.mirror.HandleDeviceStateUpdated(ctx, ev); err != nil {
			return err
		}
		return c.scheduler.HandleDeviceStateUpdated(ctx, ev)

	case s.Dispense:
		var ev models.DispenseEvent
		if err := models.DecodeEvent(msg.Values, &ev); err != nil {
			c.logMalformed(msg, err)
			return nil
		}
		return c.dispenses.HandleDispense(ctx, ev)

	case s.Critical:
		var ev models.CriticalEventCreated
		if err := models.DecodeEvent(msg.Values, &ev); err != nil {
			c.logMalformed(msg, err)
			return nil
		}
		return c.notifier.HandleCriticalEventCreated(ctx, ev.EventID)

	default:
		c.logger.Warn("Message from unknown stream, acking",
			zap.String("stream", msg.Stream),
		)
		return nil
	}
}

// logMalformed acks-and-drops a message that cannot be decoded; redelivering
// it would fail the same way forever.
func (c *StreamConsumer) logMalformed(msg streams.Message, err error) {
	c.logger.Warn("Malformed stream message, dropping",
		zap.String("stream", msg.Stream),
		zap.String("id", msg.ID),
		zap.Error(err),
	)
}
