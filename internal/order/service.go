package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shopflow/shopflow/internal/catalog"
)

// PageSize is the fixed page length for order listings.
const PageSize = 60

// TransitionNotifier is told about every successful status transition. Its
// failures must never surface back into the ledger.
type TransitionNotifier interface {
	NotifyTransition(ctx context.Context, o *Order, status Status)
}

type Service interface {
	Create(ctx context.Context, form CreateForm) (*Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByShop(ctx context.Context, shopID uuid.UUID, page int) ([]Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, page int) ([]Order, error)
	Transition(ctx context.Context, orderID uuid.UUID, target Status, note string) (*Order, error)
	UpdateFulfilment(ctx context.Context, orderID uuid.UUID, f FulfilmentUpdate) (*Order, error)
	History(ctx context.Context, orderID uuid.UUID) ([]StatusHistory, error)
}

type service struct {
	repo     Repository
	catalog  catalog.Store
	notifier TransitionNotifier
}

func NewService(repo Repository, cat catalog.Store, notifier TransitionNotifier) Service {
	return &service{
		repo:     repo,
		catalog:  cat,
		notifier: notifier,
	}
}

// Create validates the form against the catalog, recomputes all money fields
// server-side and writes the order in status pending. Client-sent prices are
// never trusted.
func (s *service) Create(ctx context.Context, form CreateForm) (*Order, error) {
	if len(form.Items) == 0 {
		return nil, fmt.Errorf("order must contain at least one item: %w", ErrValidation)
	}
	if form.CustomerName == "" || form.CustomerEmail == "" {
		return nil, fmt.Errorf("customer name and email are required: %w", ErrValidation)
	}
	if form.ShippingCost < 0 {
		return nil, fmt.Errorf("shipping cost cannot be negative: %w", ErrValidation)
	}

	shop, err := s.catalog.ShopByID(ctx, form.ShopID)
	if err != nil {
		return nil, err
	}
	if !shop.AcceptsOrders {
		return nil, fmt.Errorf("shop %s does not accept orders: %w", shop.ID, ErrValidation)
	}

	var (
		subtotal float64
		currency string
		items    = make([]Item, 0, len(form.Items))
	)
	for _, fi := range form.Items {
		if fi.Quantity <= 0 {
			return nil, fmt.Errorf("quantity for product %s must be positive: %w", fi.ProductID, ErrValidation)
		}

		product, err := s.catalog.ProductByID(ctx, fi.ProductID)
		if err != nil {
			return nil, err
		}
		if product.ShopID != form.ShopID {
			return nil, fmt.Errorf("product %s does not belong to shop %s: %w", product.ID, form.ShopID, ErrValidation)
		}
		if currency == "" {
			currency = product.Currency
		} else if product.Currency != currency {
			return nil, fmt.Errorf("currency mismatch across items (%s vs %s): %w", currency, product.Currency, ErrValidation)
		}

		subtotal += product.Price * float64(fi.Quantity)
		items = append(items, Item{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  fi.Quantity,
			Currency:  product.Currency,
		})
	}

	o := &Order{
		ShopID:          form.ShopID,
		UserID:          form.UserID,
		CustomerName:    form.CustomerName,
		CustomerEmail:   form.CustomerEmail,
		CustomerPhone:   form.CustomerPhone,
		ShippingAddress: form.ShippingAddress,
		Items:           items,
		Subtotal:        subtotal,
		ShippingCost:    form.ShippingCost,
		Total:           subtotal + form.ShippingCost,
		Currency:        currency,
		Notes:           form.Notes,
		Meta:            form.Meta,
	}

	if err := s.repo.Create(ctx, o, s.catalog); err != nil {
		if errors.Is(err, catalog.ErrInsufficientStock) {
			log.Warn().Err(err).Stringer("shop_id", form.ShopID).Msg("order rejected for insufficient stock")
			return nil, err
		}
		log.Error().Err(err).Msg("failed to create order")
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	log.Info().Stringer("order_id", o.ID).Stringer("shop_id", o.ShopID).Float64("total", o.Total).Msg("order created")
	return o, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch order: %w", err)
	}
	return o, nil
}

func (s *service) ListByShop(ctx context.Context, shopID uuid.UUID, page int) ([]Order, error) {
	limit, offset := pageWindow(page)
	orders, err := s.repo.ListByShop(ctx, shopID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shop orders: %w", err)
	}
	return orders, nil
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID, page int) ([]Order, error) {
	limit, offset := pageWindow(page)
	orders, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user orders: %w", err)
	}
	return orders, nil
}

func pageWindow(page int) (limit, offset int) {
	if page <= 0 {
		return 0, 0
	}
	return PageSize, (page - 1) * PageSize
}

func (s *service) Transition(ctx context.Context, orderID uuid.UUID, target Status, note string) (*Order, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", target, ErrValidation)
	}

	o, err := s.repo.Transition(ctx, orderID, target, note)
	if err != nil {
		return nil, err
	}

	log.Info().Stringer("order_id", orderID).Str("status", string(target)).Msg("order status updated")

	if s.notifier != nil {
		s.notifier.NotifyTransition(ctx, o, target)
	}

	return o, nil
}

func (s *service) UpdateFulfilment(ctx context.Context, orderID uuid.UUID, f FulfilmentUpdate) (*Order, error) {
	current, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// The assignment check runs against the patched state, not the request
	// alone, so a staff assignment in one patch and a courier in the next is
	// still rejected. A nil uuid clears the stored assignment.
	staff := effectiveAssignment(current.AssignedUserID, f.AssignedUserID)
	courier := effectiveAssignment(current.AssignedDeliveryPersonID, f.AssignedDeliveryPersonID)
	if staff && courier {
		return nil, fmt.Errorf("order may be assigned to a staff user or a delivery person, not both: %w", ErrValidation)
	}

	o, err := s.repo.UpdateFulfilment(ctx, orderID, f)
	if err != nil {
		return nil, err
	}

	log.Info().Stringer("order_id", orderID).Msg("order fulfilment updated")
	return o, nil
}

func effectiveAssignment(stored, patch *uuid.UUID) bool {
	if patch != nil {
		return !patch.IsNil()
	}
	return stored != nil
}

func (s *service) History(ctx context.Context, orderID uuid.UUID) ([]StatusHistory, error) {
	if _, err := s.repo.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, orderID)
}
