package order_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopflow/shopflow/internal/catalog"
	"github.com/shopflow/shopflow/internal/order"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn != "" {
		var err error
		testDB, err = pgxpool.New(context.Background(), dsn)
		if err != nil {
			panic("failed to connect to test database: " + err.Error())
		}
		if migration, err := os.ReadFile("../../migrations/000001_init.up.sql"); err == nil {
			_, _ = testDB.Exec(context.Background(), string(migration))
		}
	}

	exitCode := m.Run()

	if testDB != nil {
		testDB.Close()
	}
	os.Exit(exitCode)
}

// setupPostgres truncates everything and seeds one shop selling one product
// with the given stock.
func setupPostgres(t *testing.T, stock int) (order.Repository, catalog.Store, uuid.UUID, uuid.UUID) {
	t.Helper()
	if testDB == nil {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	_, err := testDB.Exec(ctx, "TRUNCATE TABLE notification_attempts, payment_attempts, order_status_history, order_items, orders, delivery_persons, products, shops CASCADE")
	require.NoError(t, err)

	shopID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())

	_, err = testDB.Exec(ctx, "INSERT INTO shops (id, name, accepts_orders) VALUES ($1, 'Corner Books', TRUE)", shopID)
	require.NoError(t, err)
	_, err = testDB.Exec(ctx, "INSERT INTO products (id, shop_id, name, price, currency, stock) VALUES ($1, $2, 'Novel', 12.50, 'EUR', $3)", productID, shopID, stock)
	require.NoError(t, err)

	return order.NewRepository(testDB), catalog.NewStore(testDB), shopID, productID
}

func draftOrder(shopID, productID uuid.UUID, qty int) *order.Order {
	price := 12.50
	subtotal := price * float64(qty)
	return &order.Order{
		ShopID:        shopID,
		CustomerName:  "Ada Lovelace",
		CustomerEmail: "ada@example.com",
		CustomerPhone: "+358401234567",
		ShippingAddress: order.ShippingAddress{
			Street: "Aleksanterinkatu 1", City: "Helsinki", PostalCode: "00100", Country: "FI",
		},
		Items: []order.Item{
			{ProductID: productID, Name: "Novel", UnitPrice: price, Quantity: qty, Currency: "EUR"},
		},
		Subtotal:     subtotal,
		ShippingCost: 5.00,
		Total:        subtotal + 5.00,
		Currency:     "EUR",
	}
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo, cat, shopID, productID := setupPostgres(t, 10)
	ctx := context.Background()

	o := draftOrder(shopID, productID, 2)
	require.NoError(t, repo.Create(ctx, o, cat))
	require.NotEqual(t, uuid.Nil, o.ID)
	assert.Equal(t, order.StatusPending, o.Status)

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, "Ada Lovelace", got.CustomerName)
	assert.InDelta(t, 30.00, got.Total, 0.001)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)

	// Stock was decremented inside the same transaction.
	product, err := cat.ProductByID(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 8, product.Stock)

	// Creation appends the initial history entry.
	history, err := repo.History(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, order.StatusPending, history[0].Status)
	assert.Equal(t, "Order created", history[0].Note)
}

func TestRepository_Create_InsufficientStock(t *testing.T) {
	repo, cat, shopID, productID := setupPostgres(t, 1)
	ctx := context.Background()

	err := repo.Create(ctx, draftOrder(shopID, productID, 2), cat)
	require.ErrorIs(t, err, catalog.ErrInsufficientStock)

	// Nothing may be left behind by the rolled-back transaction.
	orders, err := repo.ListByShop(ctx, shopID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, orders)

	product, err := cat.ProductByID(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 1, product.Stock)
}

func TestRepository_Create_ConcurrentOversell(t *testing.T) {
	repo, cat, shopID, productID := setupPostgres(t, 5)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Create(ctx, draftOrder(shopID, productID, 3), cat)
		}(i)
	}
	wg.Wait()

	var failures int
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, catalog.ErrInsufficientStock)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one of two competing orders must be rejected")

	product, err := cat.ProductByID(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 2, product.Stock)
}

func TestRepository_Transition(t *testing.T) {
	repo, cat, shopID, productID := setupPostgres(t, 10)
	ctx := context.Background()

	o := draftOrder(shopID, productID, 1)
	require.NoError(t, repo.Create(ctx, o, cat))

	got, err := repo.Transition(ctx, o.ID, order.StatusConfirmed, "Payment confirmed via stripe (ref: pi_123)")
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, got.Status)

	// Illegal jump.
	_, err = repo.Transition(ctx, o.ID, order.StatusDelivered, "")
	assert.ErrorIs(t, err, order.ErrIllegalTransition)

	_, err = repo.Transition(ctx, o.ID, order.StatusProcessing, "")
	require.NoError(t, err)

	// Shipping without a tracking number is refused.
	_, err = repo.Transition(ctx, o.ID, order.StatusShipped, "")
	assert.ErrorIs(t, err, order.ErrTrackingRequired)

	trk := "TRK-9"
	_, err = repo.UpdateFulfilment(ctx, o.ID, order.FulfilmentUpdate{TrackingNumber: &trk})
	require.NoError(t, err)

	got, err = repo.Transition(ctx, o.ID, order.StatusShipped, "")
	require.NoError(t, err)
	require.NotNil(t, got.ShippedAt)

	got, err = repo.Transition(ctx, o.ID, order.StatusDelivered, "")
	require.NoError(t, err)
	require.NotNil(t, got.DeliveredAt)

	// Terminal.
	_, err = repo.Transition(ctx, o.ID, order.StatusCancelled, "")
	assert.ErrorIs(t, err, order.ErrIllegalTransition)

	history, err := repo.History(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, "Payment confirmed via stripe (ref: pi_123)", history[1].Note)
	assert.Equal(t, "Status changed from confirmed to processing", history[2].Note)
}

func TestRepository_Transition_UnknownOrder(t *testing.T) {
	repo, _, _, _ := setupPostgres(t, 1)

	_, err := repo.Transition(context.Background(), uuid.Must(uuid.NewV4()), order.StatusConfirmed, "")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestRepository_UpdateFulfilment_MetaMerge(t *testing.T) {
	repo, cat, shopID, productID := setupPostgres(t, 10)
	ctx := context.Background()

	o := draftOrder(shopID, productID, 1)
	o.Meta = map[string]any{"gift": true}
	require.NoError(t, repo.Create(ctx, o, cat))

	_, err := repo.UpdateFulfilment(ctx, o.ID, order.FulfilmentUpdate{
		Meta: map[string]any{"wrap": "paper"},
	})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, true, got.Meta["gift"])
	assert.Equal(t, "paper", got.Meta["wrap"])
}

func TestRepository_UpdateFulfilment_ClearAssignment(t *testing.T) {
	repo, cat, shopID, productID := setupPostgres(t, 10)
	ctx := context.Background()

	o := draftOrder(shopID, productID, 1)
	require.NoError(t, repo.Create(ctx, o, cat))

	staffID := uuid.Must(uuid.NewV4())
	got, err := repo.UpdateFulfilment(ctx, o.ID, order.FulfilmentUpdate{AssignedUserID: &staffID})
	require.NoError(t, err)
	require.NotNil(t, got.AssignedUserID)
	assert.Equal(t, staffID, *got.AssignedUserID)

	clear := uuid.Nil
	got, err = repo.UpdateFulfilment(ctx, o.ID, order.FulfilmentUpdate{AssignedUserID: &clear})
	require.NoError(t, err)
	assert.Nil(t, got.AssignedUserID)
}

func TestRepository_ListByShop_Pagination(t *testing.T) {
	repo, cat, shopID, productID := setupPostgres(t, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, draftOrder(shopID, productID, 1), cat))
	}

	page, err := repo.ListByShop(ctx, shopID, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := repo.ListByShop(ctx, shopID, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	all, err := repo.ListByShop(ctx, shopID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
