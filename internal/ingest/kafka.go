package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"log/slog"

	"github.com/segmentio/kafka-go"
)

// HousePointsEvent is the message shape other services publish when they
// change a house's points.
type HousePointsEvent struct {
	House      string `json:"house"`
	Points     int    `json:"points"`
	NewTotal   int    `json:"newTotal"`
	Reason     string `json:"reason,omitempty"`
	Criteria   string `json:"criteria,omitempty"`
	Level      string `json:"level,omitempty"`
	SkipAdmins bool   `json:"skipAdmins"`
}

// Broadcaster is the slice of the dispatcher the consumer needs.
type Broadcaster interface {
	BroadcastHousePoints(house string, points, newTotal int, reason string, skipAdmins bool, criteria, level string) (bool, error)
}

// HousePointsConsumer reads point-change events from Kafka and feeds them to
// the realtime dispatcher. Malformed messages are logged and skipped; the
// dispatcher's dedup window additionally absorbs redeliveries after a
// rebalance.
type HousePointsConsumer struct {
	reader     *kafka.Reader
	dispatcher Broadcaster
}

// NewHousePointsConsumer creates a consumer with its own group so multiple
// topics can share brokers.
func NewHousePointsConsumer(brokers []string, topic, groupID string, dispatcher Broadcaster) *HousePointsConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: time.Second,
	})
	return &HousePointsConsumer{reader: reader, dispatcher: dispatcher}
}

// Run consumes until the context is canceled.
func (c *HousePointsConsumer) Run(ctx context.Context) error {
	slog.Info("house points consumer started", "topic", c.reader.Config().Topic)
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			slog.Error("kafka read failed", "error", err)
			return err
		}

		c.handle(msg)
	}
}

// handle decodes one message and hands it to the dispatcher. Never returns an
// error: a bad message must not stall the partition.
func (c *HousePointsConsumer) handle(msg kafka.Message) {
	var ev HousePointsEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		slog.Warn("skipping malformed house points event", "offset", msg.Offset, "error", err)
		return
	}

	if _, err := c.dispatcher.BroadcastHousePoints(ev.House, ev.Points, ev.NewTotal, ev.Reason, ev.SkipAdmins, ev.Criteria, ev.Level); err != nil {
		slog.Warn("house points event rejected", "house", ev.House, "error", err)
	}
}

// Close releases the underlying reader.
func (c *HousePointsConsumer) Close() error {
	return c.reader.Close()
}
