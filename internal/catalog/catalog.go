package catalog

import (
	"context"
	"errors"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrShopNotFound           = errors.New("shop not found")
	ErrProductNotFound        = errors.New("product not found")
	ErrDeliveryPersonNotFound = errors.New("delivery person not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
)

type Shop struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	AcceptsOrders bool      `json:"accepts_orders"`
}

type Product struct {
	ID       uuid.UUID `json:"id"`
	ShopID   uuid.UUID `json:"shop_id"`
	Name     string    `json:"name"`
	Price    float64   `json:"price"`
	Currency string    `json:"currency"`
	Stock    int       `json:"stock"`
}

type DeliveryPerson struct {
	ID     uuid.UUID `json:"id"`
	ShopID uuid.UUID `json:"shop_id"`
	Name   string    `json:"name"`
	Phone  string    `json:"phone"`
}

// Store is the slice of the catalog the order engine consumes. The catalog's
// own CRUD lives elsewhere; the engine only reads it and decrements stock.
type Store interface {
	ShopByID(ctx context.Context, id uuid.UUID) (*Shop, error)
	ProductByID(ctx context.Context, id uuid.UUID) (*Product, error)
	DeliveryPersonByID(ctx context.Context, id uuid.UUID) (*DeliveryPerson, error)
	// DecrementStock runs inside the caller's transaction so the decrement is
	// atomic with order creation. It compare-and-decrements: the update only
	// applies when enough stock remains.
	DecrementStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, qty int) error
}
