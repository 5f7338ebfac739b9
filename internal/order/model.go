package order

import (
	"time"

	"github.com/gofrs/uuid"
)

// ShippingAddress is snapshotted onto the order at creation time.
type ShippingAddress struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Region     string `json:"region,omitempty"`
}

// Item is a line item with product data snapshotted at order time, so later
// catalog price changes do not retroactively alter historical orders.
type Item struct {
	ID        uuid.UUID `json:"id"`
	OrderID   uuid.UUID `json:"order_id"`
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name"`
	UnitPrice float64   `json:"unit_price"`
	Quantity  int       `json:"quantity"`
	Currency  string    `json:"currency"`
}

type Order struct {
	ID     uuid.UUID  `json:"id"`
	ShopID uuid.UUID  `json:"shop_id"`
	UserID *uuid.UUID `json:"user_id,omitempty"` // nil for guest orders

	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone,omitempty"`

	ShippingAddress ShippingAddress `json:"shipping_address"`
	Items           []Item          `json:"items"`

	Subtotal     float64 `json:"subtotal"`
	ShippingCost float64 `json:"shipping_cost"`
	Total        float64 `json:"total"`
	Currency     string  `json:"currency"`

	Status Status `json:"status"`

	TrackingNumber    string     `json:"tracking_number,omitempty"`
	Carrier           string     `json:"carrier,omitempty"`
	TrackingURL       string     `json:"tracking_url,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	ShippedAt         *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`

	// At most one of the two assignment fields may be set.
	AssignedUserID           *uuid.UUID `json:"assigned_user_id,omitempty"`
	AssignedDeliveryPersonID *uuid.UUID `json:"assigned_delivery_person_id,omitempty"`

	Notes string         `json:"notes,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusHistory is an append-only record of a status the order entered. The
// cached Order.Status field is a derived view; history is the audit source of
// truth.
type StatusHistory struct {
	ID        uuid.UUID `json:"id"`
	OrderID   uuid.UUID `json:"order_id"`
	Status    Status    `json:"status"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateForm is the order-creation request. Client-sent prices are ignored:
// the service recomputes totals from the catalog.
type CreateForm struct {
	ShopID uuid.UUID  `json:"shop_id"`
	UserID *uuid.UUID `json:"user_id,omitempty"`

	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone,omitempty"`

	ShippingAddress ShippingAddress `json:"shipping_address"`
	Items           []FormItem      `json:"items"`
	ShippingCost    float64         `json:"shipping_cost"`

	Notes string         `json:"notes,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
}

type FormItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// FulfilmentUpdate patches tracking and assignment fields without touching the
// order status. Nil pointers leave the current value as is; for the assignment
// fields a pointer to the nil uuid clears the stored assignment.
type FulfilmentUpdate struct {
	TrackingNumber           *string        `json:"tracking_number,omitempty"`
	Carrier                  *string        `json:"carrier,omitempty"`
	TrackingURL              *string        `json:"tracking_url,omitempty"`
	EstimatedDelivery        *time.Time     `json:"estimated_delivery,omitempty"`
	AssignedUserID           *uuid.UUID     `json:"assigned_user_id,omitempty"`
	AssignedDeliveryPersonID *uuid.UUID     `json:"assigned_delivery_person_id,omitempty"`
	Notes                    *string        `json:"notes,omitempty"`
	Meta                     map[string]any `json:"meta,omitempty"`
}
