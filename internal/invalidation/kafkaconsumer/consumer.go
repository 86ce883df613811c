// Package kafkaconsumer consumes service-invalidation events and applies
// them to the capability cache and the active-layer set.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/metatierrascol/wms-compositor/internal/invalidation"
	"github.com/metatierrascol/wms-compositor/internal/observability"
)

// CapabilityCache is the slice of the capability cache the consumer drops
// entries from.
type CapabilityCache interface {
	Invalidate(baseURL string)
	Purge()
}

// LayerClearer removes active layers for a service that no longer exists.
type LayerClearer interface {
	ClearForServiceID(ctx context.Context, serviceID int64)
	ClearForService(ctx context.Context, serviceURL string)
}

// Resyncer re-runs reconciliation for a changed service. Optional.
type Resyncer interface {
	ResyncService(ctx context.Context, serviceID int64) error
}

type Consumer struct {
	cfg     Config
	logger  *slog.Logger
	cache   CapabilityCache
	clearer LayerClearer
	resync  Resyncer
}

func New(cfg Config, logger *slog.Logger, cache CapabilityCache, clearer LayerClearer, resync Resyncer) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		cache:   cache,
		clearer: clearer,
		resync:  resync,
	}
}

// Start joins the consumer group and processes events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil || c.clearer == nil {
		return errors.New("kafkaconsumer: missing dependencies (cache/clearer)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne applies a single event.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.IncInvalidation("decode_error")
		return fmt.Errorf("json decode (topic=%s, off=%d): %w", msg.Topic, msg.Offset, err)
	}
	if err := ev.Validate(); err != nil {
		observability.IncInvalidation("invalid")
		c.logger.Warn("dropping invalid invalidation event",
			"op", ev.Op, "service_id", ev.ServiceID, "err", err)
		// Not worth crashing the claim over; the producer owns the fix.
		return nil
	}

	if ev.BaseURL != "" {
		c.cache.Invalidate(ev.BaseURL)
	} else {
		c.cache.Purge()
	}

	switch ev.Op {
	case invalidation.OpServiceDeleted:
		if ev.ServiceID > 0 {
			c.clearer.ClearForServiceID(ctx, ev.ServiceID)
		} else {
			c.clearer.ClearForService(ctx, ev.BaseURL)
		}
	case invalidation.OpServiceUpdated, invalidation.OpLayersChanged:
		if c.resync != nil && ev.ServiceID > 0 {
			if err := c.resync.ResyncService(ctx, ev.ServiceID); err != nil {
				observability.IncInvalidation("resync_error")
				c.logger.Error("resync after invalidation failed",
					"service_id", ev.ServiceID, "err", err)
				return nil
			}
		}
	}

	observability.IncInvalidation("ok")
	c.logger.Debug("invalidation applied",
		"op", ev.Op, "service_id", ev.ServiceID, "base_url", ev.BaseURL)
	return nil
}
