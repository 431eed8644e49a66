// Package feed consumes the external regulatory event stream and applies it
// to the compliance engine. One consumer group per gateway deployment; offset
// commits happen only after an event has been applied, so a crash replays
// events and the engine's timestamp check keeps redelivery harmless.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/finkor/brokergate/internal/compliance"
	gwerrors "github.com/finkor/brokergate/pkg/errors"
)

// messageSource is the slice of kafka.Reader the consumer needs.
type messageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config locates the regulatory topic.
type Config struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers" validate:"required,min=1"`
	Topic   string   `mapstructure:"topic" yaml:"topic" validate:"required"`
	GroupID string   `mapstructure:"group_id" yaml:"group_id" validate:"required"`
}

// Consumer pumps regulatory updates into the compliance engine.
type Consumer struct {
	source messageSource
	engine *compliance.Engine
	logger *zap.Logger
}

func NewConsumer(cfg Config, engine *compliance.Engine, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: 0, // synchronous commits, one per applied event
		MaxWait:        500 * time.Millisecond,
	})
	return &Consumer{source: reader, engine: engine, logger: logger}
}

// newConsumerWithSource exists for tests.
func newConsumerWithSource(source messageSource, engine *compliance.Engine, logger *zap.Logger) *Consumer {
	return &Consumer{source: source, engine: engine, logger: logger}
}

// Run blocks until ctx is cancelled, applying one event at a time in topic
// order.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.source.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return gwerrors.Wrap(gwerrors.KindNetwork, "RegulatoryFeedFetch", err)
		}

		if err := c.apply(msg.Value); err != nil {
			// Malformed or unknown events cannot succeed on redelivery;
			// log and move past them rather than wedge the partition.
			c.logger.Warn("regulatory event discarded",
				zap.Int64("offset", msg.Offset), zap.Error(err))
		}

		if err := c.source.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return gwerrors.Wrap(gwerrors.KindNetwork, "RegulatoryFeedCommit", err)
		}
	}
}

func (c *Consumer) apply(payload []byte) error {
	var update compliance.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return gwerrors.Wrap(gwerrors.KindValidation, "BadRegulatoryUpdate", err)
	}
	if err := c.engine.ApplyUpdate(update); err != nil {
		return err
	}
	c.logger.Info("regulatory event applied",
		zap.String("type", string(update.Type)),
		zap.String("symbol", update.Symbol),
		zap.Time("effective", update.EffectiveDate))
	return nil
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.source.Close()
}
