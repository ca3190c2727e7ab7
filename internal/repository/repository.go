package repository

import (
	"context"
	"errors"

	"github.com/Bartolojed11/enm-api/internal/domain"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	// ErrDuplicateKey reports a uniqueness-constraint rejection: a second
	// cart for the same user, or a second item for the same (cart, product)
	// pair. Callers recover by re-reading what the winner wrote.
	ErrDuplicateKey = errors.New("duplicate key")
)

// CartRepository defines the interface for cart data operations
// Consumers define this interface, not the MongoDB implementation
type CartRepository interface {
	EnsureIndexes(ctx context.Context) error
	FindCartByUser(ctx context.Context, userID primitive.ObjectID) (*domain.Cart, error)
	CreateCart(ctx context.Context, cart *domain.Cart) (*domain.Cart, error)
	UpsertLineItem(ctx context.Context, item domain.LineItem) (*domain.LineItem, error)
	GetCartView(ctx context.Context, userID primitive.ObjectID) (*domain.CartView, error)
	CountItems(ctx context.Context, cartID primitive.ObjectID) (int64, error)
	DeleteLineItem(ctx context.Context, cartID, itemID primitive.ObjectID) (bool, error)
	DeleteItemsByCart(ctx context.Context, cartID primitive.ObjectID) (int64, error)
	DeleteCart(ctx context.Context, userID primitive.ObjectID) error
}
