package exchange

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/nodalmarket/xchange/internal/types"
)

type ExchangeTestSuite struct {
	suite.Suite
	ex *Exchange
}

func (s *ExchangeTestSuite) SetupTest() {
	logger := zap.NewNop()
	metrics := NewMetrics(prometheus.NewRegistry())
	s.ex = New(NoopSink{}, logger, metrics)
	s.ex.AddInstrument("BTC-USD", nil)
}

func (s *ExchangeTestSuite) openAccount(cash float64, inventory uint64) *types.Account {
	acct := types.NewAccount(uuid.New(), "tester", cash, false)
	acct.Inventory["BTC-USD"] = inventory
	require.NoError(s.T(), s.ex.RegisterAccount(acct))
	return acct
}

func (s *ExchangeTestSuite) bid(acct *types.Account, price float64, qty uint64, tif types.TimeInForce) (*types.Order, []types.Trade, types.OrderStatus, error) {
	order := &types.Order{AccountID: acct.ID, Price: price, Remaining: qty, TIF: tif}
	trades, status, err := s.ex.PlaceOrder("BTC-USD", order, types.Bid)
	return order, trades, status, err
}

func (s *ExchangeTestSuite) ask(acct *types.Account, price float64, qty uint64, tif types.TimeInForce) (*types.Order, []types.Trade, types.OrderStatus, error) {
	order := &types.Order{AccountID: acct.ID, Price: price, Remaining: qty, TIF: tif}
	trades, status, err := s.ex.PlaceOrder("BTC-USD", order, types.Ask)
	return order, trades, status, err
}

func (s *ExchangeTestSuite) TestRestingDayOrderWithNoCross() {
	buyer := s.openAccount(10000, 0)
	_, trades, status, err := s.bid(buyer, 100, 5, types.DAY)

	require.NoError(s.T(), err)
	assert.Empty(s.T(), trades)
	assert.Equal(s.T(), types.Open, status)
	assert.Equal(s.T(), 10000-500.0, buyer.Cash)
}

func (s *ExchangeTestSuite) TestFullCrossSettlesBothSides() {
	seller := s.openAccount(0, 10)
	buyer := s.openAccount(1000, 0)

	s.ask(seller, 100, 5, types.DAY)
	_, trades, status, err := s.bid(buyer, 100, 5, types.DAY)

	require.NoError(s.T(), err)
	require.Len(s.T(), trades, 1)
	assert.Equal(s.T(), types.Filled, status)
	assert.Equal(s.T(), uint64(5), buyer.Inventory["BTC-USD"])
	assert.Equal(s.T(), 500.0, seller.Cash)
	assert.Equal(s.T(), uint64(5), uint64(10)-seller.Inventory["BTC-USD"])
	assert.Equal(s.T(), 500.0, buyer.Cash)
}

func (s *ExchangeTestSuite) TestPriceImprovementIsRefundedToBuyer() {
	seller := s.openAccount(0, 5)
	buyer := s.openAccount(1000, 0)

	s.ask(seller, 90, 5, types.DAY)
	_, _, status, err := s.bid(buyer, 100, 5, types.DAY)

	require.NoError(s.T(), err)
	assert.Equal(s.T(), types.Filled, status)
	assert.Equal(s.T(), 1000-450.0, buyer.Cash)
}

func (s *ExchangeTestSuite) TestInsufficientFundsRejectsBidWithNoStateChange() {
	buyer := s.openAccount(10, 0)
	_, trades, status, err := s.bid(buyer, 100, 5, types.DAY)

	require.Error(s.T(), err)
	assert.True(s.T(), errors.Is(err, ErrInsufficientFunds))
	assert.Empty(s.T(), trades)
	assert.Equal(s.T(), types.Cancelled, status)
	assert.Equal(s.T(), 10.0, buyer.Cash)
}

func (s *ExchangeTestSuite) TestInsufficientInventoryRejectsAsk() {
	seller := s.openAccount(0, 1)
	_, trades, status, err := s.ask(seller, 100, 5, types.DAY)

	require.Error(s.T(), err)
	assert.True(s.T(), errors.Is(err, ErrInsufficientInventory))
	assert.Empty(s.T(), trades)
	assert.Equal(s.T(), types.Cancelled, status)
	assert.Equal(s.T(), uint64(1), seller.Inventory["BTC-USD"])
}

func (s *ExchangeTestSuite) TestIOCRestsNothingOnPartialFill() {
	seller := s.openAccount(0, 2)
	buyer := s.openAccount(1000, 0)

	s.ask(seller, 100, 2, types.DAY)
	_, trades, status, err := s.bid(buyer, 100, 5, types.IOC)

	require.NoError(s.T(), err)
	require.Len(s.T(), trades, 1)
	assert.Equal(s.T(), types.Filled, status)

	bids, _, err := s.ex.SnapshotBook("BTC-USD")
	require.NoError(s.T(), err)
	assert.Empty(s.T(), bids)
	assert.Equal(s.T(), 1000-200.0, buyer.Cash)
}

func (s *ExchangeTestSuite) TestIOCWithNoFillIsCancelled() {
	buyer := s.openAccount(1000, 0)
	_, trades, status, err := s.bid(buyer, 100, 5, types.IOC)

	require.NoError(s.T(), err)
	assert.Empty(s.T(), trades)
	assert.Equal(s.T(), types.Cancelled, status)
	assert.Equal(s.T(), 1000.0, buyer.Cash)
}

func (s *ExchangeTestSuite) TestFOKRejectsWithNoStateChangeWhenUnfillable() {
	seller := s.openAccount(0, 2)
	buyer := s.openAccount(1000, 0)

	s.ask(seller, 100, 2, types.DAY)
	_, trades, status, err := s.bid(buyer, 100, 5, types.FOK)

	require.Error(s.T(), err)
	assert.True(s.T(), errors.Is(err, ErrFOKUnfillable))
	assert.Empty(s.T(), trades)
	assert.Equal(s.T(), types.Cancelled, status)
	assert.Equal(s.T(), 1000.0, buyer.Cash)

	_, asks, err := s.ex.SnapshotBook("BTC-USD")
	require.NoError(s.T(), err)
	require.Len(s.T(), asks, 1)
	assert.Equal(s.T(), uint64(2), asks[0].Quantity)
}

func (s *ExchangeTestSuite) TestFOKFillsCompletelyWhenCrossable() {
	seller := s.openAccount(0, 5)
	buyer := s.openAccount(1000, 0)

	s.ask(seller, 100, 5, types.DAY)
	_, trades, status, err := s.bid(buyer, 100, 5, types.FOK)

	require.NoError(s.T(), err)
	require.Len(s.T(), trades, 1)
	assert.Equal(s.T(), types.Filled, status)
}

func (s *ExchangeTestSuite) TestLiquidityProviderAccountIsLedgerNeutral() {
	lp := types.NewAccount(uuid.New(), "maker", 0, true)
	require.NoError(s.T(), s.ex.RegisterAccount(lp))
	buyer := s.openAccount(1000, 0)

	s.ask(lp, 100, 5, types.DAY)
	_, trades, status, err := s.bid(buyer, 100, 5, types.DAY)

	require.NoError(s.T(), err)
	require.Len(s.T(), trades, 1)
	assert.Equal(s.T(), types.Filled, status)
	assert.Equal(s.T(), 0.0, lp.Cash)
	assert.Equal(s.T(), uint64(0), lp.Inventory["BTC-USD"])
}

func (s *ExchangeTestSuite) TestCancelOrderRefundsEscrow() {
	buyer := s.openAccount(1000, 0)
	order, _, _, err := s.bid(buyer, 100, 5, types.DAY)
	require.NoError(s.T(), err)

	refunded, err := s.ex.CancelOrder("BTC-USD", order.ID, types.Bid, buyer.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), uint64(5), refunded)
	assert.Equal(s.T(), 1000.0, buyer.Cash)
}

func (s *ExchangeTestSuite) TestCancelOrderRejectsNonOwnerWithNoRefund() {
	owner := s.openAccount(1000, 0)
	intruder := s.openAccount(1000, 0)
	order, _, _, err := s.bid(owner, 100, 5, types.DAY)
	require.NoError(s.T(), err)

	_, err = s.ex.CancelOrder("BTC-USD", order.ID, types.Bid, intruder.ID)
	require.Error(s.T(), err)
	assert.True(s.T(), errors.Is(err, ErrOrderNotFound))

	// The order must still be resting, still owned by its true owner, and
	// the intruder must not have been credited the owner's escrow.
	bids, _, snapErr := s.ex.SnapshotBook("BTC-USD")
	require.NoError(s.T(), snapErr)
	require.Len(s.T(), bids, 1)
	assert.Equal(s.T(), 1000-500.0, owner.Cash)
	assert.Equal(s.T(), 1000.0, intruder.Cash)

	refunded, err := s.ex.CancelOrder("BTC-USD", order.ID, types.Bid, owner.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), uint64(5), refunded)
	assert.Equal(s.T(), 1000.0, owner.Cash)
}

func (s *ExchangeTestSuite) TestCancelOrderNotFound() {
	buyer := s.openAccount(1000, 0)
	_, err := s.ex.CancelOrder("BTC-USD", uuid.New(), types.Bid, buyer.ID)
	require.Error(s.T(), err)
	assert.True(s.T(), errors.Is(err, ErrOrderNotFound))
}

func (s *ExchangeTestSuite) TestCancelAllForAccountRefundsEverything() {
	buyer := s.openAccount(1000, 0)
	s.bid(buyer, 100, 2, types.DAY)
	s.bid(buyer, 90, 2, types.DAY)

	removed, err := s.ex.CancelAllForAccount("BTC-USD", buyer.ID)
	require.NoError(s.T(), err)
	assert.Len(s.T(), removed, 2)
	assert.Equal(s.T(), 1000.0, buyer.Cash)
}

func (s *ExchangeTestSuite) TestUnknownInstrumentIsRejected() {
	buyer := s.openAccount(1000, 0)
	order := &types.Order{AccountID: buyer.ID, Price: 100, Remaining: 1}
	_, status, err := s.ex.PlaceOrder("ETH-USD", order, types.Bid)

	require.Error(s.T(), err)
	assert.True(s.T(), errors.Is(err, ErrUnknownInstrument))
	assert.Equal(s.T(), types.Cancelled, status)
}

func (s *ExchangeTestSuite) TestBadInputIsRejected() {
	buyer := s.openAccount(1000, 0)
	order := &types.Order{AccountID: buyer.ID, Price: 0, Remaining: 1}
	_, status, err := s.ex.PlaceOrder("BTC-USD", order, types.Bid)

	require.Error(s.T(), err)
	assert.True(s.T(), errors.Is(err, ErrBadInput))
	assert.Equal(s.T(), types.Cancelled, status)
}

func TestExchangeSuite(t *testing.T) {
	suite.Run(t, new(ExchangeTestSuite))
}

// TestCrossInstrumentPlacementIsParallel exercises the per-instrument lock
// model directly: placing orders on two different instruments concurrently
// must not deadlock or race (run with -race), demonstrating that the two
// instrument locks are genuinely independent.
func TestCrossInstrumentPlacementIsParallel(t *testing.T) {
	logger := zap.NewNop()
	metrics := NewMetrics(prometheus.NewRegistry())
	ex := New(NoopSink{}, logger, metrics)
	ex.AddInstrument("BTC-USD", nil)
	ex.AddInstrument("ETH-USD", nil)

	var wg sync.WaitGroup
	for _, symbol := range []string{"BTC-USD", "ETH-USD"} {
		// One account per instrument: Account.Cash is not guarded by any
		// single instrument lock, so sharing one account across both
		// goroutines would race on Cash by design.
		buyer := types.NewAccount(uuid.New(), "buyer-"+symbol, 1_000_000, false)
		require.NoError(t, ex.RegisterAccount(buyer))

		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				order := &types.Order{AccountID: buyer.ID, Price: 100, Remaining: 1, TIF: types.DAY}
				_, _, _ = ex.PlaceOrder(symbol, order, types.Bid)
				_, _ = ex.CancelOrder(symbol, order.ID, types.Bid, buyer.ID)
			}
		}(symbol)
	}
	wg.Wait()
}
