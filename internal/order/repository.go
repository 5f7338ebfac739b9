package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrTrackingRequired  = errors.New("tracking number required before shipping")
	ErrValidation        = errors.New("invalid order input")
)

// StockDecrementer reserves stock inside the order-creation transaction.
// Implemented by the catalog store.
type StockDecrementer interface {
	DecrementStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, qty int) error
}

type Repository interface {
	Create(ctx context.Context, o *Order, dec StockDecrementer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByShop(ctx context.Context, shopID uuid.UUID, limit, offset int) ([]Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Order, error)
	Transition(ctx context.Context, orderID uuid.UUID, target Status, note string) (*Order, error)
	UpdateFulfilment(ctx context.Context, orderID uuid.UUID, f FulfilmentUpdate) (*Order, error)
	History(ctx context.Context, orderID uuid.UUID) ([]StatusHistory, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `
	id, shop_id, user_id, customer_name, customer_email, customer_phone,
	street, city, postal_code, country, region,
	subtotal, shipping_cost, total, currency, status,
	tracking_number, carrier, tracking_url, estimated_delivery, shipped_at, delivered_at,
	assigned_user_id, assigned_delivery_person_id,
	notes, meta, created_at, updated_at
`

func scanOrder(row pgx.Row, o *Order) error {
	return row.Scan(
		&o.ID, &o.ShopID, &o.UserID, &o.CustomerName, &o.CustomerEmail, &o.CustomerPhone,
		&o.ShippingAddress.Street, &o.ShippingAddress.City, &o.ShippingAddress.PostalCode,
		&o.ShippingAddress.Country, &o.ShippingAddress.Region,
		&o.Subtotal, &o.ShippingCost, &o.Total, &o.Currency, &o.Status,
		&o.TrackingNumber, &o.Carrier, &o.TrackingURL, &o.EstimatedDelivery, &o.ShippedAt, &o.DeliveredAt,
		&o.AssignedUserID, &o.AssignedDeliveryPersonID,
		&o.Notes, &o.Meta, &o.CreatedAt, &o.UpdatedAt,
	)
}

// Create inserts the order, its line items, the initial history row and the
// stock decrements in a single transaction, so a stock failure rolls the whole
// order back.
func (r *postgresRepository) Create(ctx context.Context, o *Order, dec StockDecrementer) (err error) {
	if o.ID == uuid.Nil {
		genID, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", genErr)
		}
		o.ID = genID
	}

	tx, beginErr := r.db.Begin(ctx)
	if beginErr != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", o.ID).Msg("failed to rollback after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", o.ID).Msg("failed to rollback transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
			}
		}
	}()

	for _, item := range o.Items {
		if err = dec.DecrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	o.Status = StatusPending

	queryOrder := `
		INSERT INTO orders (
			id, shop_id, user_id, customer_name, customer_email, customer_phone,
			street, city, postal_code, country, region,
			subtotal, shipping_cost, total, currency, status,
			notes, meta, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err = tx.Exec(ctx, queryOrder,
		o.ID, o.ShopID, o.UserID, o.CustomerName, o.CustomerEmail, o.CustomerPhone,
		o.ShippingAddress.Street, o.ShippingAddress.City, o.ShippingAddress.PostalCode,
		o.ShippingAddress.Country, o.ShippingAddress.Region,
		o.Subtotal, o.ShippingCost, o.Total, o.Currency, string(o.Status),
		o.Notes, o.Meta, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (id, order_id, product_id, name, unit_price, quantity, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for i := range o.Items {
		item := &o.Items[i]

		itemID, genErr := uuid.NewV4()
		if genErr != nil {
			err = fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
			return err
		}
		item.ID = itemID
		item.OrderID = o.ID

		_, err = tx.Exec(ctx, queryItem,
			item.ID, o.ID, item.ProductID, item.Name, item.UnitPrice, item.Quantity, item.Currency,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", o.ID, err)
		}
	}

	if err = insertHistory(ctx, tx, o.ID, StatusPending, "Order created", now); err != nil {
		return err
	}

	return nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, status Status, note string, at time.Time) error {
	historyID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("repository: failed to generate history ID: %w", err)
	}

	query := `
		INSERT INTO order_status_history (id, order_id, status, note, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, query, historyID, orderID, string(status), note, at); err != nil {
		return fmt.Errorf("repository: failed to insert status history for order %s: %w", orderID, err)
	}

	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	var o Order
	if err := scanOrder(r.db.QueryRow(ctx, query, orderID), &o); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order %s: %w", orderID, err)
	}

	items, err := r.itemsForOrders(ctx, []uuid.UUID{orderID})
	if err != nil {
		return nil, err
	}
	o.Items = items[orderID]
	if o.Items == nil {
		o.Items = []Item{}
	}

	return &o, nil
}

func (r *postgresRepository) ListByShop(ctx context.Context, shopID uuid.UUID, limit, offset int) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE shop_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, shopID, limit, offset)
}

func (r *postgresRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, userID, limit, offset)
}

func (r *postgresRepository) list(ctx context.Context, query string, key uuid.UUID, limit, offset int) ([]Order, error) {
	args := []any{key}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, limit, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID

	for rows.Next() {
		var o Order
		if err := scanOrder(rows, &o); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		o.Items = []Item{}
		ordersMap[o.ID] = &o
		orderIDs = append(orderIDs, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders: %w", err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	items, err := r.itemsForOrders(ctx, orderIDs)
	if err != nil {
		return nil, err
	}
	for orderID, orderItems := range items {
		if o, ok := ordersMap[orderID]; ok {
			o.Items = orderItems
		}
	}

	result := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		result = append(result, *ordersMap[id])
	}

	return result, nil
}

func (r *postgresRepository) itemsForOrders(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]Item, error) {
	query := `
		SELECT id, order_id, product_id, name, unit_price, quantity, currency
		FROM order_items
		WHERE order_id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	items := make(map[uuid.UUID][]Item)
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Name, &item.UnitPrice, &item.Quantity, &item.Currency); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items: %w", err)
	}

	return items, nil
}

// Transition is the single mutation path for order status. The order row is
// locked for the duration of the transaction, the legality check runs against
// the locked status, and the history append and cached status update commit
// together.
func (r *postgresRepository) Transition(ctx context.Context, orderID uuid.UUID, target Status, note string) (o *Order, err error) {
	tx, beginErr := r.db.Begin(ctx)
	if beginErr != nil {
		return nil, fmt.Errorf("repository: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("failed to rollback transition")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				o = nil
				err = fmt.Errorf("repository: failed to commit transition: %w", commitErr)
			}
		}
	}()

	var current Status
	var trackingNumber string
	err = tx.QueryRow(ctx, `SELECT status, tracking_number FROM orders WHERE id = $1 FOR UPDATE`, orderID).
		Scan(&current, &trackingNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to lock order %s: %w", orderID, err)
	}

	if !CanTransition(current, target) {
		return nil, fmt.Errorf("cannot move order %s from %s to %s: %w", orderID, current, target, ErrIllegalTransition)
	}
	if target == StatusShipped && trackingNumber == "" {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrTrackingRequired)
	}

	now := time.Now().UTC()

	query := `UPDATE orders SET status = $1, updated_at = $2`
	args := []any{string(target), now}
	switch target {
	case StatusShipped:
		query += `, shipped_at = $3 WHERE id = $4`
		args = append(args, now, orderID)
	case StatusDelivered:
		query += `, delivered_at = $3 WHERE id = $4`
		args = append(args, now, orderID)
	default:
		query += ` WHERE id = $3`
		args = append(args, orderID)
	}

	if _, err = tx.Exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("repository: failed to update order status %s: %w", orderID, err)
	}

	if note == "" {
		note = fmt.Sprintf("Status changed from %s to %s", current, target)
	}
	if err = insertHistory(ctx, tx, orderID, target, note, now); err != nil {
		return nil, err
	}

	query = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	var updated Order
	if err = scanOrder(tx.QueryRow(ctx, query, orderID), &updated); err != nil {
		return nil, fmt.Errorf("repository: failed to reload order %s: %w", orderID, err)
	}

	return &updated, nil
}

func (r *postgresRepository) UpdateFulfilment(ctx context.Context, orderID uuid.UUID, f FulfilmentUpdate) (*Order, error) {
	set := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}

	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if f.TrackingNumber != nil {
		add("tracking_number", *f.TrackingNumber)
	}
	if f.Carrier != nil {
		add("carrier", *f.Carrier)
	}
	if f.TrackingURL != nil {
		add("tracking_url", *f.TrackingURL)
	}
	if f.EstimatedDelivery != nil {
		add("estimated_delivery", *f.EstimatedDelivery)
	}
	if f.AssignedUserID != nil {
		add("assigned_user_id", nullableUUID(*f.AssignedUserID))
	}
	if f.AssignedDeliveryPersonID != nil {
		add("assigned_delivery_person_id", nullableUUID(*f.AssignedDeliveryPersonID))
	}
	if f.Notes != nil {
		add("notes", *f.Notes)
	}
	if f.Meta != nil {
		// New keys are merged over the stored metadata.
		add("meta", f.Meta)
		set[len(set)-1] = fmt.Sprintf("meta = COALESCE(meta, '{}'::jsonb) || $%d", len(args))
	}

	query := "UPDATE orders SET " + joinSet(set) + fmt.Sprintf(" WHERE id = $%d", len(args)+1)
	args = append(args, orderID)

	cmdTag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to update fulfilment for order %s: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	return r.GetByID(ctx, orderID)
}

// nullableUUID maps the nil uuid to a SQL NULL so assignments can be cleared.
func nullableUUID(id uuid.UUID) any {
	if id.IsNil() {
		return nil
	}
	return id
}

func joinSet(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}

func (r *postgresRepository) History(ctx context.Context, orderID uuid.UUID) ([]StatusHistory, error) {
	query := `
		SELECT id, order_id, status, note, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query status history for order %s: %w", orderID, err)
	}
	defer rows.Close()

	history := make([]StatusHistory, 0)
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.Status, &h.Note, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan status history for order %s: %w", orderID, err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating status history for order %s: %w", orderID, err)
	}

	return history, nil
}
