package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Cart is the per-user container record. At most one cart exists per user,
// enforced by a unique index on user_id.
type Cart struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	UserID    primitive.ObjectID `bson:"user_id" json:"user_id"`
	Email     string             `bson:"email" json:"email"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// LineItem is one product entry in a cart. Items reference their cart by id
// rather than being embedded, so they can be joined, counted and deleted
// independently. At most one item exists per (cart_id, product_id) pair.
type LineItem struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	CartID      primitive.ObjectID `bson:"cart_id" json:"cart_id"`
	ProductID   primitive.ObjectID `bson:"product_id" json:"product_id"`
	Quantity    int64              `bson:"quantity" json:"quantity"`
	Amount      float64            `bson:"amount" json:"amount"`
	TotalAmount float64            `bson:"total_amount" json:"total_amount"`
	Image       string             `bson:"image" json:"image,omitempty"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updated_at"`
}

// CartView is the joined aggregate produced by the cart/$lookup read:
// the cart fields plus every line item referencing it.
type CartView struct {
	Cart  `bson:",inline"`
	Items []LineItem `bson:"items" json:"items"`
}
