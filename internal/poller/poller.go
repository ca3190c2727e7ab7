package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	c "github.com/Bartolojed11/enm-api/internal/cache"
	r "github.com/Bartolojed11/enm-api/internal/repository"
	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Poller consumes checkout events and garbage-collects the purchased cart:
// the line items, the cart record and the cached view. This is the only
// cascade path in the system; the cart engine itself never deletes a cart.
type Poller struct {
	repo   r.CartRepository
	reader *kafka.Reader
	cache  c.ViewCache
}

func NewPoller(repo r.CartRepository, cache c.ViewCache, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    "checkout-outbox",
		GroupID:  "cart-aggregator-consumer",
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{repo: repo, reader: reader, cache: cache}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("error reading message: %v", err)
			}
			continue
		}

		if err := p.handleMessage(ctx, m.Value); err != nil {
			log.Printf("error handling checkout event: %v", err)
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		log.Printf("error closing reader: %v", err)
	}
}

func (p *Poller) handleMessage(ctx context.Context, value []byte) error {
	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(value, &payload); err != nil {
		return fmt.Errorf("parse checkout event: %w", err)
	}

	userID, err := primitive.ObjectIDFromHex(payload.UserID)
	if err != nil {
		return fmt.Errorf("invalid user_id in checkout event: %w", err)
	}

	cart, err := p.repo.FindCartByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, r.ErrCartNotFound) {
			return nil // nothing to clear
		}
		return fmt.Errorf("find cart: %w", err)
	}

	// Items first: a failure between the two deletes leaves an empty cart,
	// not orphaned items.
	if _, err := p.repo.DeleteItemsByCart(ctx, cart.ID); err != nil {
		return fmt.Errorf("delete line items: %w", err)
	}
	if err := p.repo.DeleteCart(ctx, userID); err != nil && !errors.Is(err, r.ErrCartNotFound) {
		return fmt.Errorf("delete cart: %w", err)
	}

	if err := p.cache.Delete(ctx, userID.Hex()); err != nil {
		log.Printf("failed to delete cached view: %v", err)
	}

	return nil
}
