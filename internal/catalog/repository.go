package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) ShopByID(ctx context.Context, id uuid.UUID) (*Shop, error) {
	query := `
		SELECT id, name, accepts_orders
		FROM shops
		WHERE id = $1
	`

	var shop Shop
	err := s.db.QueryRow(ctx, query, id).Scan(&shop.ID, &shop.Name, &shop.AcceptsOrders)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShopNotFound
		}
		return nil, fmt.Errorf("catalog: failed to select shop %s: %w", id, err)
	}

	return &shop, nil
}

func (s *postgresStore) ProductByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `
		SELECT id, shop_id, name, price, currency, stock
		FROM products
		WHERE id = $1
	`

	var p Product
	err := s.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.ShopID, &p.Name, &p.Price, &p.Currency, &p.Stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("catalog: failed to select product %s: %w", id, err)
	}

	return &p, nil
}

func (s *postgresStore) DeliveryPersonByID(ctx context.Context, id uuid.UUID) (*DeliveryPerson, error) {
	query := `
		SELECT id, shop_id, name, phone
		FROM delivery_persons
		WHERE id = $1
	`

	var dp DeliveryPerson
	err := s.db.QueryRow(ctx, query, id).Scan(&dp.ID, &dp.ShopID, &dp.Name, &dp.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeliveryPersonNotFound
		}
		return nil, fmt.Errorf("catalog: failed to select delivery person %s: %w", id, err)
	}

	return &dp, nil
}

func (s *postgresStore) DecrementStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, qty int) error {
	// Compare-and-decrement: concurrent order creation for the same product
	// cannot oversell because the WHERE clause rejects the update once stock
	// runs out.
	query := `
		UPDATE products
		SET stock = stock - $1
		WHERE id = $2 AND stock >= $1
	`

	cmdTag, err := tx.Exec(ctx, query, qty, productID)
	if err != nil {
		return fmt.Errorf("catalog: failed to decrement stock for product %s: %w", productID, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("product %s: %w", productID, ErrInsufficientStock)
	}

	return nil
}
