package order_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopflow/shopflow/internal/catalog"
	"github.com/shopflow/shopflow/internal/order"
)

type mockRepository struct {
	createFunc           func(ctx context.Context, o *order.Order, dec order.StockDecrementer) error
	getByIDFunc          func(ctx context.Context, id uuid.UUID) (*order.Order, error)
	listByShopFunc       func(ctx context.Context, shopID uuid.UUID, limit, offset int) ([]order.Order, error)
	listByUserFunc       func(ctx context.Context, userID uuid.UUID, limit, offset int) ([]order.Order, error)
	transitionFunc       func(ctx context.Context, orderID uuid.UUID, target order.Status, note string) (*order.Order, error)
	updateFulfilmentFunc func(ctx context.Context, orderID uuid.UUID, f order.FulfilmentUpdate) (*order.Order, error)
	historyFunc          func(ctx context.Context, orderID uuid.UUID) ([]order.StatusHistory, error)
}

func (m *mockRepository) Create(ctx context.Context, o *order.Order, dec order.StockDecrementer) error {
	return m.createFunc(ctx, o, dec)
}

func (m *mockRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockRepository) ListByShop(ctx context.Context, shopID uuid.UUID, limit, offset int) ([]order.Order, error) {
	return m.listByShopFunc(ctx, shopID, limit, offset)
}

func (m *mockRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]order.Order, error) {
	return m.listByUserFunc(ctx, userID, limit, offset)
}

func (m *mockRepository) Transition(ctx context.Context, orderID uuid.UUID, target order.Status, note string) (*order.Order, error) {
	return m.transitionFunc(ctx, orderID, target, note)
}

func (m *mockRepository) UpdateFulfilment(ctx context.Context, orderID uuid.UUID, f order.FulfilmentUpdate) (*order.Order, error) {
	return m.updateFulfilmentFunc(ctx, orderID, f)
}

func (m *mockRepository) History(ctx context.Context, orderID uuid.UUID) ([]order.StatusHistory, error) {
	return m.historyFunc(ctx, orderID)
}

type mockCatalog struct {
	shops    map[uuid.UUID]*catalog.Shop
	products map[uuid.UUID]*catalog.Product
	persons  map[uuid.UUID]*catalog.DeliveryPerson
}

func (m *mockCatalog) ShopByID(_ context.Context, id uuid.UUID) (*catalog.Shop, error) {
	if s, ok := m.shops[id]; ok {
		return s, nil
	}
	return nil, catalog.ErrShopNotFound
}

func (m *mockCatalog) ProductByID(_ context.Context, id uuid.UUID) (*catalog.Product, error) {
	if p, ok := m.products[id]; ok {
		return p, nil
	}
	return nil, catalog.ErrProductNotFound
}

func (m *mockCatalog) DeliveryPersonByID(_ context.Context, id uuid.UUID) (*catalog.DeliveryPerson, error) {
	if p, ok := m.persons[id]; ok {
		return p, nil
	}
	return nil, catalog.ErrDeliveryPersonNotFound
}

func (m *mockCatalog) DecrementStock(_ context.Context, _ pgx.Tx, _ uuid.UUID, _ int) error {
	return nil
}

type mockNotifier struct {
	calls []order.Status
}

func (m *mockNotifier) NotifyTransition(_ context.Context, _ *order.Order, status order.Status) {
	m.calls = append(m.calls, status)
}

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.FromString(s)
	require.NoError(t, err)
	return id
}

func testCatalog(t *testing.T) (*mockCatalog, uuid.UUID, uuid.UUID, uuid.UUID) {
	t.Helper()
	shopID := mustUUID(t, "550e8400-e29b-41d4-a716-446655440000")
	bookID := mustUUID(t, "123e4567-e89b-12d3-a456-426614174001")
	penID := mustUUID(t, "123e4567-e89b-12d3-a456-426614174002")

	cat := &mockCatalog{
		shops: map[uuid.UUID]*catalog.Shop{
			shopID: {ID: shopID, Name: "Corner Books", AcceptsOrders: true},
		},
		products: map[uuid.UUID]*catalog.Product{
			bookID: {ID: bookID, ShopID: shopID, Name: "Novel", Price: 12.50, Currency: "EUR", Stock: 10},
			penID:  {ID: penID, ShopID: shopID, Name: "Pen", Price: 2.25, Currency: "EUR", Stock: 100},
		},
	}
	return cat, shopID, bookID, penID
}

func TestService_Create(t *testing.T) {
	cat, shopID, bookID, penID := testCatalog(t)

	repo := &mockRepository{
		createFunc: func(_ context.Context, o *order.Order, _ order.StockDecrementer) error {
			id, err := uuid.NewV4()
			if err != nil {
				return err
			}
			o.ID = id
			o.Status = order.StatusPending
			return nil
		},
	}
	svc := order.NewService(repo, cat, nil)

	form := order.CreateForm{
		ShopID:        shopID,
		CustomerName:  "Ada Lovelace",
		CustomerEmail: "ada@example.com",
		Items: []order.FormItem{
			{ProductID: bookID, Quantity: 2},
			{ProductID: penID, Quantity: 4},
		},
		ShippingCost: 5.00,
	}

	o, err := svc.Create(context.Background(), form)
	require.NoError(t, err)

	// 2*12.50 + 4*2.25 = 34.00, plus shipping.
	assert.InDelta(t, 34.00, o.Subtotal, 0.001)
	assert.InDelta(t, 39.00, o.Total, 0.001)
	assert.Equal(t, "EUR", o.Currency)
	assert.Equal(t, order.StatusPending, o.Status)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "Novel", o.Items[0].Name)
	assert.InDelta(t, 12.50, o.Items[0].UnitPrice, 0.001)
}

func TestService_Create_Validation(t *testing.T) {
	cat, shopID, bookID, _ := testCatalog(t)

	closedShopID := mustUUID(t, "550e8400-e29b-41d4-a716-446655440099")
	cat.shops[closedShopID] = &catalog.Shop{ID: closedShopID, Name: "Closed", AcceptsOrders: false}

	foreignProductID := mustUUID(t, "123e4567-e89b-12d3-a456-426614174099")
	cat.products[foreignProductID] = &catalog.Product{
		ID: foreignProductID, ShopID: closedShopID, Name: "Elsewhere", Price: 1, Currency: "EUR", Stock: 1,
	}

	usdProductID := mustUUID(t, "123e4567-e89b-12d3-a456-426614174098")
	cat.products[usdProductID] = &catalog.Product{
		ID: usdProductID, ShopID: shopID, Name: "Import", Price: 9.99, Currency: "USD", Stock: 5,
	}

	tests := []struct {
		name      string
		form      order.CreateForm
		wantErrIs error
	}{
		{
			name: "no_items",
			form: order.CreateForm{
				ShopID: shopID, CustomerName: "Ada", CustomerEmail: "ada@example.com",
			},
			wantErrIs: order.ErrValidation,
		},
		{
			name: "missing_customer",
			form: order.CreateForm{
				ShopID: shopID,
				Items:  []order.FormItem{{ProductID: bookID, Quantity: 1}},
			},
			wantErrIs: order.ErrValidation,
		},
		{
			name: "negative_shipping",
			form: order.CreateForm{
				ShopID: shopID, CustomerName: "Ada", CustomerEmail: "ada@example.com",
				Items:        []order.FormItem{{ProductID: bookID, Quantity: 1}},
				ShippingCost: -1,
			},
			wantErrIs: order.ErrValidation,
		},
		{
			name: "zero_quantity",
			form: order.CreateForm{
				ShopID: shopID, CustomerName: "Ada", CustomerEmail: "ada@example.com",
				Items: []order.FormItem{{ProductID: bookID, Quantity: 0}},
			},
			wantErrIs: order.ErrValidation,
		},
		{
			name: "shop_not_accepting",
			form: order.CreateForm{
				ShopID: closedShopID, CustomerName: "Ada", CustomerEmail: "ada@example.com",
				Items: []order.FormItem{{ProductID: foreignProductID, Quantity: 1}},
			},
			wantErrIs: order.ErrValidation,
		},
		{
			name: "product_from_other_shop",
			form: order.CreateForm{
				ShopID: shopID, CustomerName: "Ada", CustomerEmail: "ada@example.com",
				Items: []order.FormItem{{ProductID: foreignProductID, Quantity: 1}},
			},
			wantErrIs: order.ErrValidation,
		},
		{
			name: "currency_mismatch",
			form: order.CreateForm{
				ShopID: shopID, CustomerName: "Ada", CustomerEmail: "ada@example.com",
				Items: []order.FormItem{
					{ProductID: bookID, Quantity: 1},
					{ProductID: usdProductID, Quantity: 1},
				},
			},
			wantErrIs: order.ErrValidation,
		},
		{
			name: "unknown_product",
			form: order.CreateForm{
				ShopID: shopID, CustomerName: "Ada", CustomerEmail: "ada@example.com",
				Items: []order.FormItem{{ProductID: mustUUID(t, "00000000-0000-0000-0000-000000000001"), Quantity: 1}},
			},
			wantErrIs: catalog.ErrProductNotFound,
		},
	}

	repo := &mockRepository{
		createFunc: func(_ context.Context, _ *order.Order, _ order.StockDecrementer) error { return nil },
	}
	svc := order.NewService(repo, cat, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.form)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErrIs)
		})
	}
}

func TestService_Create_InsufficientStock(t *testing.T) {
	cat, shopID, bookID, _ := testCatalog(t)

	repo := &mockRepository{
		createFunc: func(_ context.Context, _ *order.Order, _ order.StockDecrementer) error {
			return catalog.ErrInsufficientStock
		},
	}
	svc := order.NewService(repo, cat, nil)

	_, err := svc.Create(context.Background(), order.CreateForm{
		ShopID: shopID, CustomerName: "Ada", CustomerEmail: "ada@example.com",
		Items: []order.FormItem{{ProductID: bookID, Quantity: 99}},
	})
	assert.ErrorIs(t, err, catalog.ErrInsufficientStock)
}

func TestService_Transition(t *testing.T) {
	cat, _, _, _ := testCatalog(t)
	orderID := mustUUID(t, "00000000-0000-0000-0000-000000000042")

	notifier := &mockNotifier{}
	repo := &mockRepository{
		transitionFunc: func(_ context.Context, id uuid.UUID, target order.Status, _ string) (*order.Order, error) {
			return &order.Order{ID: id, Status: target}, nil
		},
	}
	svc := order.NewService(repo, cat, notifier)

	o, err := svc.Transition(context.Background(), orderID, order.StatusConfirmed, "")
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, o.Status)
	assert.Equal(t, []order.Status{order.StatusConfirmed}, notifier.calls)
}

func TestService_Transition_UnknownStatus(t *testing.T) {
	cat, _, _, _ := testCatalog(t)
	svc := order.NewService(&mockRepository{}, cat, nil)

	_, err := svc.Transition(context.Background(), mustUUID(t, "00000000-0000-0000-0000-000000000042"), order.Status("mailed"), "")
	assert.ErrorIs(t, err, order.ErrValidation)
}

func TestService_Transition_RepoErrorSkipsNotify(t *testing.T) {
	cat, _, _, _ := testCatalog(t)
	notifier := &mockNotifier{}
	repo := &mockRepository{
		transitionFunc: func(_ context.Context, _ uuid.UUID, _ order.Status, _ string) (*order.Order, error) {
			return nil, order.ErrIllegalTransition
		},
	}
	svc := order.NewService(repo, cat, notifier)

	_, err := svc.Transition(context.Background(), mustUUID(t, "00000000-0000-0000-0000-000000000042"), order.StatusDelivered, "")
	assert.ErrorIs(t, err, order.ErrIllegalTransition)
	assert.Empty(t, notifier.calls)
}

func TestService_UpdateFulfilment_RejectsDoubleAssignment(t *testing.T) {
	cat, _, _, _ := testCatalog(t)
	repo := &mockRepository{
		getByIDFunc: func(_ context.Context, _ uuid.UUID) (*order.Order, error) {
			return &order.Order{Status: order.StatusConfirmed}, nil
		},
	}
	svc := order.NewService(repo, cat, nil)

	staffID := mustUUID(t, "00000000-0000-0000-0000-000000000007")
	courierID := mustUUID(t, "00000000-0000-0000-0000-000000000008")

	_, err := svc.UpdateFulfilment(context.Background(), mustUUID(t, "00000000-0000-0000-0000-000000000042"), order.FulfilmentUpdate{
		AssignedUserID:           &staffID,
		AssignedDeliveryPersonID: &courierID,
	})
	assert.ErrorIs(t, err, order.ErrValidation)
}

func TestService_UpdateFulfilment_RejectsAssignmentConflictWithStored(t *testing.T) {
	cat, _, _, _ := testCatalog(t)
	staffID := mustUUID(t, "00000000-0000-0000-0000-000000000007")
	courierID := mustUUID(t, "00000000-0000-0000-0000-000000000008")

	repo := &mockRepository{
		getByIDFunc: func(_ context.Context, _ uuid.UUID) (*order.Order, error) {
			return &order.Order{Status: order.StatusConfirmed, AssignedUserID: &staffID}, nil
		},
		updateFulfilmentFunc: func(_ context.Context, _ uuid.UUID, _ order.FulfilmentUpdate) (*order.Order, error) {
			t.Fatal("conflicting assignment must not reach the repository")
			return nil, nil
		},
	}
	svc := order.NewService(repo, cat, nil)

	// The order already has a staff assignment; adding a courier in a
	// separate patch is the same conflict as sending both at once.
	_, err := svc.UpdateFulfilment(context.Background(), mustUUID(t, "00000000-0000-0000-0000-000000000042"), order.FulfilmentUpdate{
		AssignedDeliveryPersonID: &courierID,
	})
	assert.ErrorIs(t, err, order.ErrValidation)
}

func TestService_UpdateFulfilment_SwitchAssignmentByClearing(t *testing.T) {
	cat, _, _, _ := testCatalog(t)
	staffID := mustUUID(t, "00000000-0000-0000-0000-000000000007")
	courierID := mustUUID(t, "00000000-0000-0000-0000-000000000008")

	var patched order.FulfilmentUpdate
	repo := &mockRepository{
		getByIDFunc: func(_ context.Context, _ uuid.UUID) (*order.Order, error) {
			return &order.Order{Status: order.StatusConfirmed, AssignedUserID: &staffID}, nil
		},
		updateFulfilmentFunc: func(_ context.Context, _ uuid.UUID, f order.FulfilmentUpdate) (*order.Order, error) {
			patched = f
			return &order.Order{Status: order.StatusConfirmed, AssignedDeliveryPersonID: &courierID}, nil
		},
	}
	svc := order.NewService(repo, cat, nil)

	clear := uuid.Nil
	o, err := svc.UpdateFulfilment(context.Background(), mustUUID(t, "00000000-0000-0000-0000-000000000042"), order.FulfilmentUpdate{
		AssignedUserID:           &clear,
		AssignedDeliveryPersonID: &courierID,
	})
	require.NoError(t, err)
	require.NotNil(t, patched.AssignedUserID)
	assert.True(t, patched.AssignedUserID.IsNil())
	assert.Equal(t, &courierID, o.AssignedDeliveryPersonID)
}

func TestService_History_UnknownOrder(t *testing.T) {
	cat, _, _, _ := testCatalog(t)
	repo := &mockRepository{
		getByIDFunc: func(_ context.Context, _ uuid.UUID) (*order.Order, error) {
			return nil, order.ErrNotFound
		},
	}
	svc := order.NewService(repo, cat, nil)

	_, err := svc.History(context.Background(), mustUUID(t, "00000000-0000-0000-0000-000000000042"))
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestService_ListByShop_PageWindow(t *testing.T) {
	cat, shopID, _, _ := testCatalog(t)

	var gotLimit, gotOffset int
	repo := &mockRepository{
		listByShopFunc: func(_ context.Context, _ uuid.UUID, limit, offset int) ([]order.Order, error) {
			gotLimit, gotOffset = limit, offset
			return nil, nil
		},
	}
	svc := order.NewService(repo, cat, nil)

	_, err := svc.ListByShop(context.Background(), shopID, 3)
	require.NoError(t, err)
	assert.Equal(t, order.PageSize, gotLimit)
	assert.Equal(t, 2*order.PageSize, gotOffset)

	_, err = svc.ListByShop(context.Background(), shopID, 0)
	require.NoError(t, err)
	assert.Zero(t, gotLimit)
	assert.Zero(t, gotOffset)
}

func TestService_Create_GuestOrder(t *testing.T) {
	cat, shopID, bookID, _ := testCatalog(t)

	repo := &mockRepository{
		createFunc: func(_ context.Context, o *order.Order, _ order.StockDecrementer) error {
			o.Status = order.StatusPending
			return nil
		},
	}
	svc := order.NewService(repo, cat, nil)

	o, err := svc.Create(context.Background(), order.CreateForm{
		ShopID: shopID, CustomerName: "Walk-in", CustomerEmail: "guest@example.com",
		Items: []order.FormItem{{ProductID: bookID, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Nil(t, o.UserID)
}

func TestService_GetByID_WrapsRepoError(t *testing.T) {
	cat, _, _, _ := testCatalog(t)
	repoErr := errors.New("connection reset")
	repo := &mockRepository{
		getByIDFunc: func(_ context.Context, _ uuid.UUID) (*order.Order, error) {
			return nil, repoErr
		},
	}
	svc := order.NewService(repo, cat, nil)

	_, err := svc.GetByID(context.Background(), mustUUID(t, "00000000-0000-0000-0000-000000000042"))
	assert.ErrorIs(t, err, repoErr)
}
