package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Bartolojed11/enm-api/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoRepository struct {
	carts *mongo.Collection
	items *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) CartRepository {
	return &mongoRepository{
		carts: db.Collection("carts"),
		items: db.Collection("cart_items"),
	}
}

// EnsureIndexes installs the uniqueness constraints the merge engine relies
// on: one cart per user, one line item per (cart, product) pair. Without
// them the find-or-create paths degrade to an unguarded check-then-act.
func (m *mongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := m.carts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create carts index: %w", err)
	}

	_, err = m.items.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "cart_id", Value: 1},
			{Key: "product_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create cart_items index: %w", err)
	}

	return nil
}

func (m *mongoRepository) FindCartByUser(ctx context.Context, userID primitive.ObjectID) (*domain.Cart, error) {
	var cart domain.Cart

	filter := bson.M{"user_id": userID}
	err := m.carts.FindOne(ctx, filter).Decode(&cart)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to find cart: %w", err)
	}

	return &cart, nil
}

func (m *mongoRepository) CreateCart(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	now := time.Now()
	cart.CreatedAt = now
	cart.UpdatedAt = now

	res, err := m.carts.InsertOne(ctx, cart)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		cart.ID = id
	}
	return cart, nil
}

// UpsertLineItem merges an incoming item into the (cart, product) slot in a
// single atomic write: quantity and total_amount accumulate, while the unit
// amount and image keep their first-write values. Insert and merge go
// through the same operation, so concurrent adds for the same product
// cannot lose an increment.
func (m *mongoRepository) UpsertLineItem(ctx context.Context, item domain.LineItem) (*domain.LineItem, error) {
	now := time.Now()

	filter := bson.M{
		"cart_id":    item.CartID,
		"product_id": item.ProductID,
	}
	update := bson.M{
		"$inc": bson.M{
			"quantity":     item.Quantity,
			"total_amount": item.TotalAmount,
		},
		"$set": bson.M{"updated_at": now},
		// cart_id and product_id are copied from the equality filter on
		// insert; repeating them here would conflict with that copy.
		"$setOnInsert": bson.M{
			"amount":     item.Amount,
			"image":      item.Image,
			"created_at": now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var saved domain.LineItem
	err := m.items.FindOneAndUpdate(ctx, filter, update, opts).Decode(&saved)
	if err != nil {
		// Two concurrent upserts for a brand-new slot can both take the
		// insert path; the loser hits the unique index and retries as a
		// plain merge.
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("failed to upsert line item: %w", err)
	}

	return &saved, nil
}

func (m *mongoRepository) GetCartView(ctx context.Context, userID primitive.ObjectID) (*domain.CartView, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "user_id", Value: userID}}}},
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "cart_items"},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "cart_id"},
			{Key: "as", Value: "items"},
		}}},
	}

	cur, err := m.carts.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate cart: %w", err)
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return nil, fmt.Errorf("failed to read cart aggregate: %w", err)
		}
		return nil, ErrCartNotFound
	}

	var view domain.CartView
	if err := cur.Decode(&view); err != nil {
		return nil, fmt.Errorf("failed to decode cart aggregate: %w", err)
	}

	return &view, nil
}

func (m *mongoRepository) CountItems(ctx context.Context, cartID primitive.ObjectID) (int64, error) {
	n, err := m.items.CountDocuments(ctx, bson.M{"cart_id": cartID})
	if err != nil {
		return 0, fmt.Errorf("failed to count line items: %w", err)
	}
	return n, nil
}

// DeleteLineItem filters by both item id and cart id, so a caller can only
// remove items from its own cart no matter which ids it supplies.
func (m *mongoRepository) DeleteLineItem(ctx context.Context, cartID, itemID primitive.ObjectID) (bool, error) {
	filter := bson.M{"_id": itemID, "cart_id": cartID}

	res, err := m.items.DeleteOne(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("failed to delete line item: %w", err)
	}

	return res.DeletedCount == 1, nil
}

func (m *mongoRepository) DeleteItemsByCart(ctx context.Context, cartID primitive.ObjectID) (int64, error) {
	res, err := m.items.DeleteMany(ctx, bson.M{"cart_id": cartID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete line items: %w", err)
	}
	return res.DeletedCount, nil
}

func (m *mongoRepository) DeleteCart(ctx context.Context, userID primitive.ObjectID) error {
	res, err := m.carts.DeleteOne(ctx, bson.M{"user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}

	if res.DeletedCount == 0 {
		return ErrCartNotFound
	}

	return nil
}
