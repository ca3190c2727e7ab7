package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Bartolojed11/enm-api/internal/cache"
	"github.com/Bartolojed11/enm-api/internal/domain"
	"github.com/Bartolojed11/enm-api/internal/repository"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/singleflight"
)

// upsertAttempts bounds the duplicate-key retry on line-item creation. One
// retry is enough: after the first conflict the slot is known to exist.
const upsertAttempts = 2

type CartService struct {
	repo  repository.CartRepository
	cache cache.ViewCache
	sfg   singleflight.Group // Prevents cache stampede
}

func NewCartService(repo repository.CartRepository, cache cache.ViewCache) *CartService {
	return &CartService{
		repo:  repo,
		cache: cache,
	}
}

type AddItemInput struct {
	UserID      string
	Email       string
	ProductID   string
	Quantity    int64
	Amount      float64
	TotalAmount float64
	Image       string
}

// RemovalResult is the per-item outcome of a batch removal. Deleted is
// false when the id did not resolve to an item in the caller's cart.
type RemovalResult struct {
	ID      string `json:"_id"`
	Deleted bool   `json:"deleted"`
}

// AddItem finds or lazily creates the user's cart, then merges the incoming
// item into it: a first-time product becomes a new line item, a repeated one
// accumulates quantity and total_amount. Unit amount and image keep their
// first-write values on merge. Uniqueness races on either record are
// recovered by re-reading what the concurrent winner wrote.
func (s *CartService) AddItem(ctx context.Context, in AddItemInput) (*domain.LineItem, error) {
	userID, err := parseID("user_id", in.UserID)
	if err != nil {
		return nil, err
	}
	productID, err := parseID("product_id", in.ProductID)
	if err != nil {
		return nil, err
	}
	if in.Quantity <= 0 {
		return nil, invalidField("quantity", "must be a positive integer")
	}
	if in.Amount < 0 {
		return nil, invalidField("amount", "must not be negative")
	}
	if in.TotalAmount < 0 {
		return nil, invalidField("total_amount", "must not be negative")
	}

	cart, err := s.findOrCreateCart(ctx, userID, in.Email)
	if err != nil {
		return nil, err
	}

	item := domain.LineItem{
		CartID:      cart.ID,
		ProductID:   productID,
		Quantity:    in.Quantity,
		Amount:      in.Amount,
		TotalAmount: in.TotalAmount,
		Image:       in.Image,
	}

	var saved *domain.LineItem
	for attempt := 0; attempt < upsertAttempts; attempt++ {
		saved, err = s.repo.UpsertLineItem(ctx, item)
		if !errors.Is(err, repository.ErrDuplicateKey) {
			break
		}
	}
	if err != nil {
		// The cart may already have been created by this call; there is no
		// compensating rollback, the next AddItem simply finds it.
		return nil, fmt.Errorf("persist line item: %w", err)
	}

	s.invalidate(userID.Hex())
	return saved, nil
}

// findOrCreateCart is the only path that creates a cart. The storage-layer
// unique index on user_id turns the lookup/insert race into a retry: a
// duplicate-key rejection means a concurrent request won, so re-read.
func (s *CartService) findOrCreateCart(ctx context.Context, userID primitive.ObjectID, email string) (*domain.Cart, error) {
	cart, err := s.repo.FindCartByUser(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, repository.ErrCartNotFound) {
		return nil, fmt.Errorf("find cart: %w", err)
	}

	created, err := s.repo.CreateCart(ctx, &domain.Cart{UserID: userID, Email: email})
	if err == nil {
		return created, nil
	}
	if errors.Is(err, repository.ErrDuplicateKey) {
		cart, err = s.repo.FindCartByUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("re-read cart after create race: %w", err)
		}
		return cart, nil
	}
	return nil, fmt.Errorf("create cart: %w", err)
}

// GetCart returns the user's cart joined with all of its line items. It is a
// pure read: a user with no cart gets ErrCartNotFound, never a new cart.
func (s *CartService) GetCart(ctx context.Context, userIDHex string) (*domain.CartView, error) {
	userID, err := parseID("user_id", userIDHex)
	if err != nil {
		return nil, err
	}

	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(userID.Hex(), func() (interface{}, error) {
		view, errGet := s.cache.Get(ctx, userID.Hex())
		if errGet == nil {
			return view, nil
		}
		if !errors.Is(errGet, cache.ErrCacheMiss) {
			log.Printf("cache get error: %v", errGet) // log cache error but continue
		}

		view, errGet = s.repo.GetCartView(ctx, userID)
		if errGet != nil {
			if errors.Is(errGet, repository.ErrCartNotFound) {
				return nil, ErrCartNotFound
			}
			return nil, fmt.Errorf("read cart view: %w", errGet)
		}

		go func() {
			if errSet := s.cache.Set(context.Background(), userID.Hex(), view); errSet != nil {
				log.Printf("cache set error: %v", errSet)
			}
		}()

		return view, nil
	})

	if err != nil {
		return nil, err
	}

	return v.(*domain.CartView), nil
}

// RemoveItems deletes the referenced line items from the caller's own cart.
// Every deletion is scoped by the resolved cart id, so ids belonging to
// another user's cart report Deleted=false instead of touching that cart.
// A missing id never aborts the rest of the batch.
func (s *CartService) RemoveItems(ctx context.Context, userIDHex string, itemIDs []string) ([]RemovalResult, error) {
	userID, err := parseID("user_id", userIDHex)
	if err != nil {
		return nil, err
	}
	if len(itemIDs) == 0 {
		return nil, invalidField("cart_items", "must not be empty")
	}

	cart, err := s.repo.FindCartByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrCartNotFound) {
			return nil, ErrEmptyCart
		}
		return nil, fmt.Errorf("find cart: %w", err)
	}

	count, err := s.repo.CountItems(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("count line items: %w", err)
	}
	if count == 0 {
		return nil, ErrEmptyCart
	}

	results := make([]RemovalResult, 0, len(itemIDs))
	for _, raw := range itemIDs {
		itemID, errParse := primitive.ObjectIDFromHex(raw)
		if errParse != nil {
			results = append(results, RemovalResult{ID: raw, Deleted: false})
			continue
		}

		deleted, errDel := s.repo.DeleteLineItem(ctx, cart.ID, itemID)
		if errDel != nil {
			return nil, fmt.Errorf("delete line item: %w", errDel)
		}
		results = append(results, RemovalResult{ID: raw, Deleted: deleted})
	}

	s.invalidate(userID.Hex())
	return results, nil
}

func (s *CartService) invalidate(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		log.Printf("cache invalidate error: %v", err)
	}
}

func parseID(field, raw string) (primitive.ObjectID, error) {
	if raw == "" {
		return primitive.NilObjectID, invalidField(field, "is required")
	}
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, invalidField(field, "must be a valid object id")
	}
	return id, nil
}
