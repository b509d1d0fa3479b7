// Package poller consumes checkout-completed events and empties the buyer's
// cart.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopcart/cart-service/internal/service"
	"go.uber.org/zap"
)

const (
	DefaultTopic   = "checkout-outbox"
	DefaultGroupID = "cart-service-consumer"

	readErrorBackoff = time.Second
)

type CartClearer interface {
	ClearCart(ctx context.Context, userID string) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type checkoutEvent struct {
	CheckoutID string `json:"checkout_id"`
	UserID     string `json:"user_id"`
}

type Poller struct {
	carts  CartClearer
	reader messageReader
	log    *zap.Logger
}

func NewPoller(carts CartClearer, log *zap.Logger, topic, groupID string, brokers ...string) *Poller {
	if topic == "" {
		topic = DefaultTopic
	}
	if groupID == "" {
		groupID = DefaultGroupID
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return newPoller(carts, reader, log)
}

func newPoller(carts CartClearer, reader messageReader, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{carts: carts, reader: reader, log: log.Named("poller")}
}

// Run reads until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error("error reading message", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(readErrorBackoff):
			}
			continue
		}

		if err := p.handleMessage(ctx, m); err != nil {
			p.log.Error("failed to process checkout event",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
		}
	}
}

func (p *Poller) Close() error {
	if err := p.reader.Close(); err != nil {
		return fmt.Errorf("error closing reader: %w", err)
	}
	return nil
}

func (p *Poller) handleMessage(ctx context.Context, m kafka.Message) error {
	var event checkoutEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("error parsing message: %w", err)
	}
	if event.UserID == "" {
		return errors.New("missing or invalid user_id")
	}

	err := p.carts.ClearCart(ctx, event.UserID)
	if errors.Is(err, service.ErrNotFound) {
		p.log.Debug("no cart to clear", zap.String("user_id", event.UserID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to clear cart of user %s: %w", event.UserID, err)
	}

	p.log.Info("cart cleared after checkout",
		zap.String("user_id", event.UserID),
		zap.String("checkout_id", event.CheckoutID),
	)
	return nil
}
