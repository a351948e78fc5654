package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// LockConfirmer is the slice of the savings engine the consumer drives.
type LockConfirmer interface {
	ConfirmLock(ctx context.Context, lockedSavingID uuid.UUID) error
}

// Consumer applies provider capture confirmations delivered on the
// provider-confirmations topic. Settlement of ordinary sends is synchronous
// and never goes through here; only the provider leg of locked savings is
// asynchronous.
type Consumer struct {
	reader    *kafka.Reader
	confirmer LockConfirmer
}

func NewConsumer(brokers []string, topic, groupID string, confirmer LockConfirmer) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		confirmer: confirmer,
	}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		var event struct {
			LockedSavingID string `json:"locked_saving_id"`
			OrderRef       string `json:"order_ref"`
			Status         string `json:"status"`
		}
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("failed to unmarshal confirmation event", "error", err)
			continue
		}
		if event.Status != "confirmed" {
			slog.Info("ignoring non-confirmed provider event", "order_ref", event.OrderRef, "status", event.Status)
			continue
		}

		savingID, err := uuid.Parse(event.LockedSavingID)
		if err != nil {
			slog.Error("invalid locked_saving_id in confirmation event", "value", event.LockedSavingID, "error", err)
			continue
		}

		if err := c.confirmer.ConfirmLock(ctx, savingID); err != nil {
			slog.Error("failed to apply provider confirmation", "locked_saving_id", savingID, "order_ref", event.OrderRef, "error", err)
			continue
		}

		slog.Info("provider confirmation applied", "locked_saving_id", savingID, "order_ref", event.OrderRef)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
