package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopcart/cart-service/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetAppName("cart-service").
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

// cartDocument embeds the items so a cart and its lines are always read and
// written in one document operation.
type cartDocument struct {
	ID        string               `bson:"_id"`
	UserID    string               `bson:"user_id"`
	Items     []itemDocument       `bson:"items"`
	Subtotal  primitive.Decimal128 `bson:"subtotal"`
	Total     primitive.Decimal128 `bson:"total"`
	CreatedAt time.Time            `bson:"created_at"`
	UpdatedAt time.Time            `bson:"updated_at"`
	Version   int64                `bson:"version"`
}

type itemDocument struct {
	ID          string               `bson:"id"`
	ProductID   int64                `bson:"product_id"`
	ProductName string               `bson:"product_name"`
	SKU         string               `bson:"sku"`
	Quantity    int                  `bson:"quantity"`
	UnitPrice   primitive.Decimal128 `bson:"unit_price"`
	Subtotal    primitive.Decimal128 `bson:"subtotal"`
	Size        *string              `bson:"size,omitempty"`
	Color       *string              `bson:"color,omitempty"`
	Image       string               `bson:"image"`
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var doc cartDocument

	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	cart, err := fromCartDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cart %s: %w", doc.ID, err)
	}
	return cart, nil
}

func (m *MongoRepository) CreateCart(ctx context.Context, cart *domain.Cart) error {
	cart.Touch(time.Now().UTC())

	doc, err := toCartDocument(cart)
	if err != nil {
		return fmt.Errorf("failed to encode cart: %w", err)
	}

	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrCartExists
		}
		return fmt.Errorf("failed to create cart: %w", err)
	}
	return nil
}

func (m *MongoRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	cart.Touch(time.Now().UTC())

	doc, err := toCartDocument(cart)
	if err != nil {
		return fmt.Errorf("failed to encode cart: %w", err)
	}

	filter := bson.M{"_id": cart.ID, "version": cart.Version}
	update := bson.M{
		"$set": bson.M{
			"items":      doc.Items,
			"subtotal":   doc.Subtotal,
			"total":      doc.Total,
			"updated_at": doc.UpdatedAt,
			"version":    cart.Version + 1,
		},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrVersionConflict
	}

	cart.Version++
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *MongoRepository) Close(ctx context.Context) error {
	return m.collection.Database().Client().Disconnect(ctx)
}

func toCartDocument(c *domain.Cart) (cartDocument, error) {
	subtotal, err := toDecimal128(c.Subtotal)
	if err != nil {
		return cartDocument{}, err
	}
	total, err := toDecimal128(c.Total)
	if err != nil {
		return cartDocument{}, err
	}

	items := make([]itemDocument, len(c.Items))
	for i, item := range c.Items {
		unitPrice, err := toDecimal128(item.UnitPrice)
		if err != nil {
			return cartDocument{}, err
		}
		itemSubtotal, err := toDecimal128(item.Subtotal)
		if err != nil {
			return cartDocument{}, err
		}
		items[i] = itemDocument{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			SKU:         item.SKU,
			Quantity:    item.Quantity,
			UnitPrice:   unitPrice,
			Subtotal:    itemSubtotal,
			Size:        item.Variant.Size,
			Color:       item.Variant.Color,
			Image:       item.Image,
		}
	}

	return cartDocument{
		ID:        c.ID,
		UserID:    c.UserID,
		Items:     items,
		Subtotal:  subtotal,
		Total:     total,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Version:   c.Version,
	}, nil
}

func fromCartDocument(doc cartDocument) (*domain.Cart, error) {
	cart := &domain.Cart{
		ID:        doc.ID,
		UserID:    doc.UserID,
		Items:     make([]*domain.Item, 0, len(doc.Items)),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
		Version:   doc.Version,
	}
	for _, d := range doc.Items {
		unitPrice, err := fromDecimal128(d.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("item %s unit price: %w", d.ID, err)
		}
		cart.Items = append(cart.Items, &domain.Item{
			ID:          d.ID,
			ProductID:   d.ProductID,
			ProductName: d.ProductName,
			SKU:         d.SKU,
			Quantity:    d.Quantity,
			UnitPrice:   unitPrice,
			Variant:     domain.Variant{Size: d.Size, Color: d.Color},
			Image:       d.Image,
		})
	}
	// subtotals are derived, recomputed from unit price and quantity
	cart.Relink()
	return cart, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(d.String())
}
