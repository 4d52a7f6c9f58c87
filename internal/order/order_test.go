package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellora/escrowd/internal/txn"
)

var monday = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testOrder() *Order {
	return &Order{
		ID:            "ord_1",
		CustomerName:  "Ada",
		CustomerEmail: "ada@example.com",
		PlacedAt:      monday,
		SubOrders: []*SubOrder{
			{
				ID:             "sub_1",
				OrderID:        "ord_1",
				StoreID:        "st_1",
				StoreName:      "Ada's Antiques",
				SellerEmail:    "seller@example.com",
				TotalAmount:    10000,
				ShippingPrice:  500,
				DeliveryStatus: StatusOrderPlaced,
				Escrow:         EscrowState{Held: true},
			},
		},
	}
}

func TestSetDeliveryStatus_Delivered(t *testing.T) {
	so := testOrder().SubOrders[0]

	so.SetDeliveryStatus(StatusShipped, "left warehouse", monday, 7)
	require.Nil(t, so.DeliveryDate)
	require.Nil(t, so.ReturnWindow)

	delivered := monday.AddDate(0, 0, 3)
	so.SetDeliveryStatus(StatusDelivered, "", delivered, 7)

	require.NotNil(t, so.DeliveryDate)
	assert.Equal(t, delivered, *so.DeliveryDate)
	require.NotNil(t, so.ReturnWindow)
	assert.Equal(t, delivered.AddDate(0, 0, 7), *so.ReturnWindow)

	require.Len(t, so.StatusHistory, 2)
	assert.Equal(t, StatusShipped, so.StatusHistory[0].Status)
	assert.Equal(t, "left warehouse", so.StatusHistory[0].Notes)
	assert.Equal(t, StatusDelivered, so.StatusHistory[1].Status)
}

func TestReturnWindowPassed(t *testing.T) {
	so := testOrder().SubOrders[0]
	assert.False(t, so.ReturnWindowPassed(monday), "no window before delivery")

	so.SetDeliveryStatus(StatusDelivered, "", monday, 7)
	assert.False(t, so.ReturnWindowPassed(monday.AddDate(0, 0, 7)), "window boundary is inclusive")
	assert.True(t, so.ReturnWindowPassed(monday.AddDate(0, 0, 8)))
}

func TestDeliveryStatus_ValidAndTerminal(t *testing.T) {
	assert.True(t, StatusDelivered.Valid())
	assert.True(t, StatusFailedDelivery.Valid())
	assert.False(t, DeliveryStatus("teleported").Valid())

	assert.True(t, StatusCanceled.IsTerminal())
	assert.True(t, StatusReturned.IsTerminal())
	assert.True(t, StatusRefunded.IsTerminal())
	assert.False(t, StatusDelivered.IsTerminal())
}

func TestMemoryStore_FindOrderContainingSubOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, testOrder()))

	o, err := store.FindOrderContainingSubOrder(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "ord_1", o.ID)

	_, err = store.FindOrderContainingSubOrder(ctx, "sub_missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMemoryStore_FindReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, testOrder()))

	o, err := store.FindOrderContainingSubOrder(ctx, "sub_1")
	require.NoError(t, err)
	o.SubOrders[0].Escrow.Released = true

	again, err := store.FindOrderContainingSubOrder(ctx, "sub_1")
	require.NoError(t, err)
	assert.False(t, again.SubOrders[0].Escrow.Released, "mutating a returned order must not touch the store")
}

func TestMemoryStore_ReleaseEscrow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, testOrder()))

	st := &Settlement{Amount: 9700, ShippingPrice: 500, Commission: 300}
	require.NoError(t, store.ReleaseEscrow(ctx, nil, "sub_1", st, monday))

	o, err := store.FindOrderContainingSubOrder(ctx, "sub_1")
	require.NoError(t, err)
	so := o.SubOrder("sub_1")
	assert.False(t, so.Escrow.Held)
	assert.True(t, so.Escrow.Released)
	require.NotNil(t, so.Escrow.ReleasedAt)
	require.NotNil(t, so.Settlement)
	assert.Equal(t, st.Amount, so.Settlement.Amount)

	// Already released
	err = store.ReleaseEscrow(ctx, nil, "sub_1", st, monday)
	assert.ErrorIs(t, err, ErrEscrowNotReleasable)
}

func TestMemoryStore_ReleaseEscrow_NotHeld(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	o := testOrder()
	o.SubOrders[0].Escrow.Held = false
	require.NoError(t, store.Create(ctx, o))

	err := store.ReleaseEscrow(ctx, nil, "sub_1", &Settlement{Amount: 1}, monday)
	assert.ErrorIs(t, err, ErrEscrowNotReleasable)
}

func TestMemoryStore_ReleaseEscrow_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, testOrder()))

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.ReleaseEscrow(ctx, nil, "sub_1", &Settlement{Amount: 9700}, monday)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, ErrEscrowNotReleasable)
		}
	}
	assert.Equal(t, 1, won, "exactly one concurrent release may succeed")
}

func TestMemoryStore_ReleaseEscrow_Rollback(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, testOrder()))

	provider := txn.NewMemoryProvider()
	sess, err := provider.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, store.ReleaseEscrow(ctx, sess, "sub_1", &Settlement{Amount: 9700}, monday))
	require.NoError(t, sess.Abort())
	sess.End()

	o, err := store.FindOrderContainingSubOrder(ctx, "sub_1")
	require.NoError(t, err)
	so := o.SubOrder("sub_1")
	assert.True(t, so.Escrow.Held, "abort must restore the held state")
	assert.False(t, so.Escrow.Released)
	assert.Nil(t, so.Settlement)

	// Releasable again after the rollback.
	require.NoError(t, store.ReleaseEscrow(ctx, nil, "sub_1", &Settlement{Amount: 9700}, monday))
}

func TestMemoryStore_Save_Rollback(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, testOrder()))

	provider := txn.NewMemoryProvider()
	sess, err := provider.Begin(ctx)
	require.NoError(t, err)

	o, err := store.FindOrderContainingSubOrder(ctx, "sub_1")
	require.NoError(t, err)
	o.SubOrders[0].DeliveryStatus = StatusShipped
	require.NoError(t, store.Save(ctx, sess, o))
	require.NoError(t, sess.Abort())
	sess.End()

	again, err := store.FindOrderContainingSubOrder(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, StatusOrderPlaced, again.SubOrders[0].DeliveryStatus)
}
