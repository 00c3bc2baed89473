package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fill(pid, symbol, balance, quantity string) *domain.LedgerUpdate {
	return &domain.LedgerUpdate{
		Symbol: symbol,
		Cash:   &domain.CashLedger{PortfolioID: pid, Currency: "USD", Balance: d(balance)},
		Position: &domain.Position{
			PortfolioID: pid, Symbol: symbol, Quantity: d(quantity),
			AvgCost: d("100"), CurrentPrice: d("100"), Currency: "USD",
		},
	}
}

func TestBook_EmptyReads(t *testing.T) {
	b := NewBook()
	ctx := context.Background()

	pos, err := b.Position(ctx, "p1", "AAPL")
	require.NoError(t, err)
	assert.Nil(t, pos)

	cash, err := b.Cash(ctx, "p1", "USD")
	require.NoError(t, err)
	assert.Nil(t, cash)
	assert.Empty(t, b.Positions("p1"))
}

func TestBook_ApplyFillAndDelete(t *testing.T) {
	b := NewBook()
	ctx := context.Background()
	b.Deposit("p1", "USD", d("1000"))

	require.NoError(t, b.ApplyFill(ctx, fill("p1", "AAPL", "500", "5")))

	pos, err := b.Position(ctx, "p1", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.Equal(d("5")))

	// Reads are copies.
	pos.Quantity = d("999")
	again, _ := b.Position(ctx, "p1", "AAPL")
	assert.True(t, again.Quantity.Equal(d("5")))

	cash, err := b.Cash(ctx, "p1", "USD")
	require.NoError(t, err)
	assert.Equal(t, "500.00", cash.Balance.StringFixed(2))

	require.NoError(t, b.ApplyFill(ctx, &domain.LedgerUpdate{
		Symbol:         "AAPL",
		DeletePosition: true,
		Cash:           &domain.CashLedger{PortfolioID: "p1", Currency: "USD", Balance: d("1000")},
	}))
	pos, err = b.Position(ctx, "p1", "AAPL")
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.Equal(t, "1000.00", b.Equity("p1", "USD").StringFixed(2))
}

func TestBook_ApplyFillRejectsBadUpdates(t *testing.T) {
	b := NewBook()
	ctx := context.Background()
	b.Deposit("p1", "USD", d("1000"))

	negative := fill("p1", "AAPL", "500", "-1")
	assert.ErrorIs(t, b.ApplyFill(ctx, negative), ports.ErrContractViolation)

	noPosition := fill("p1", "AAPL", "500", "1")
	noPosition.Position = nil
	assert.ErrorIs(t, b.ApplyFill(ctx, noPosition), ports.ErrInvalidRequest)

	noCash := fill("p1", "AAPL", "500", "1")
	noCash.Cash = nil
	assert.ErrorIs(t, b.ApplyFill(ctx, noCash), ports.ErrInvalidRequest)

	assert.ErrorIs(t, b.ApplyFill(ctx, nil), ports.ErrInvalidRequest)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, b.ApplyFill(canceled, fill("p1", "AAPL", "500", "1")), ports.ErrContextCanceled)

	// Nothing was written.
	cash, _ := b.Cash(ctx, "p1", "USD")
	assert.Equal(t, "1000.00", cash.Balance.StringFixed(2))
	assert.Empty(t, b.Positions("p1"))
}

func TestBook_ValuationAndSnapshot(t *testing.T) {
	b := NewBook()
	ctx := context.Background()
	require.NoError(t, b.ApplyFill(ctx, fill("p1", "MSFT", "100", "2")))
	require.NoError(t, b.ApplyFill(ctx, fill("p1", "AAPL", "100", "3")))
	b.Deposit("p1", "EUR", d("50"))

	b.MarkToMarket(map[string]decimal.Decimal{"AAPL": d("110")})
	// 100 cash + 3 x 110 + 2 x 100
	assert.Equal(t, "630.00", b.Equity("p1", "USD").StringFixed(2))

	snap := b.Snapshot("p1")
	require.Len(t, snap.Positions, 2)
	assert.Equal(t, "AAPL", snap.Positions[0].Symbol)
	assert.Equal(t, "MSFT", snap.Positions[1].Symbol)
	require.Len(t, snap.Balances, 2)
	assert.Equal(t, "EUR", snap.Balances[0].Currency)
	assert.Equal(t, "USD", snap.Balances[1].Currency)
}

type failingOrders struct {
	*Orders
	err error
}

func (f *failingOrders) SaveOrder(ctx context.Context, order *domain.Order) error {
	if f.err != nil {
		return f.err
	}
	return f.Orders.SaveOrder(ctx, order)
}

func TestBook_ApplyFillSavesOrder(t *testing.T) {
	ctx := context.Background()
	store := &failingOrders{Orders: NewOrders()}
	b := NewBook(WithOrderStore(store))
	b.Deposit("p1", "USD", d("1000"))

	order := domain.NewOrder("p1", "AAPL", domain.Buy, domain.OrderTypeMarket, d("1"), "USD", time.Now())
	require.NoError(t, store.Orders.SaveOrder(ctx, order))

	filled := *order
	filled.Status = domain.StatusExecuted
	update := fill("p1", "AAPL", "900", "1")
	update.Order = &filled

	store.err = assert.AnError
	err := b.ApplyFill(ctx, update)
	assert.ErrorIs(t, err, ports.ErrUpdateFailed)
	assert.ErrorIs(t, err, assert.AnError)

	// The order is still PENDING in the store, so the rows must not move either.
	cash, _ := b.Cash(ctx, "p1", "USD")
	assert.Equal(t, "1000.00", cash.Balance.StringFixed(2))
	assert.Empty(t, b.Positions("p1"))
	pending, err := store.PendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	store.err = nil
	require.NoError(t, b.ApplyFill(ctx, update))
	cash, _ = b.Cash(ctx, "p1", "USD")
	assert.Equal(t, "900.00", cash.Balance.StringFixed(2))
	stored, err := store.FindOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExecuted, stored.Status)
	pending, err = store.PendingOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBook_DepositAccumulates(t *testing.T) {
	b := NewBook()
	assert.Equal(t, "100.00", b.Deposit("p1", "USD", d("100")).StringFixed(2))
	assert.Equal(t, "75.50", b.Deposit("p1", "USD", d("-24.50")).StringFixed(2))
}

func TestKeyedLocker_SerializesPerKey(t *testing.T) {
	var k KeyedLocker
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("p1")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)

	// Different keys do not block each other.
	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("b")
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked by a")
	}
	unlockA()
}
