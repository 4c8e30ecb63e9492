package disposition

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/marketmaker/internal/balance"
	"github.com/aristath/marketmaker/internal/domain"
	"github.com/aristath/marketmaker/internal/exchange"
	"github.com/aristath/marketmaker/internal/orderpool"
	"github.com/aristath/marketmaker/internal/timeout"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is a minimal in-memory exchange.Client used to drive the
// executor end-to-end without a real venue.
type fakeClient struct {
	createResult exchange.CreateOrderResult
	cancelResult exchange.CancelOrderResult
	creates      int
	cancels      int

	onFilled func(domain.FillEvent)
}

func (f *fakeClient) CreateOrder(ctx context.Context, order *domain.Order) exchange.CreateOrderResult {
	f.creates++
	return f.createResult
}
func (f *fakeClient) CancelOrder(ctx context.Context, cmd exchange.CancelOrderCmd) exchange.CancelOrderResult {
	f.cancels++
	return f.cancelResult
}
func (f *fakeClient) CancelAll(ctx context.Context, pair domain.CurrencyPair) *exchange.Error {
	return nil
}
func (f *fakeClient) GetOpenOrders(ctx context.Context) ([]domain.OrderInfo, *exchange.Error) {
	return nil, nil
}
func (f *fakeClient) GetOpenOrdersByCurrencyPair(ctx context.Context, pair domain.CurrencyPair) ([]domain.OrderInfo, *exchange.Error) {
	return nil, nil
}
func (f *fakeClient) GetOrderInfo(ctx context.Context, cmd exchange.CancelOrderCmd) (domain.OrderInfo, *exchange.Error) {
	return domain.OrderInfo{}, nil
}
func (f *fakeClient) GetBalance(ctx context.Context) (exchange.ExchangeBalancesAndPositions, *exchange.Error) {
	return exchange.ExchangeBalancesAndPositions{}, nil
}
func (f *fakeClient) GetBalanceAndPositions(ctx context.Context) (exchange.ExchangeBalancesAndPositions, *exchange.Error) {
	return exchange.ExchangeBalancesAndPositions{}, nil
}
func (f *fakeClient) GetActivePositions(ctx context.Context) ([]exchange.Position, *exchange.Error) {
	return nil, nil
}
func (f *fakeClient) ClosePosition(ctx context.Context, pos exchange.Position, price *float64) *exchange.Error {
	return nil
}
func (f *fakeClient) GetMyTrades(ctx context.Context, pair domain.CurrencyPair, since *int64) ([]domain.OrderTrade, *exchange.Error) {
	return nil, nil
}
func (f *fakeClient) BuildAllSymbols(ctx context.Context) ([]domain.Symbol, *exchange.Error) {
	return nil, nil
}
func (f *fakeClient) CreateWsUrl(role exchange.WebSocketRole) (string, bool) { return "", false }
func (f *fakeClient) Connect(ctx context.Context) error                     { return nil }
func (f *fakeClient) Disconnect()                                           {}

func (f *fakeClient) SetOnOrderCreated(fn func(clientId, exchangeId string, source domain.EventSourceType)) {
}
func (f *fakeClient) SetOnOrderCancelled(fn func(clientId, exchangeId string, source domain.EventSourceType)) {
}
func (f *fakeClient) SetOnOrderFilled(fn func(domain.FillEvent))    { f.onFilled = fn }
func (f *fakeClient) SetOnTrades(fn func(domain.TradesEvent))       {}
func (f *fakeClient) SetOnOrderBook(fn func(domain.OrderBookEvent)) {}

// fakeStrategy always targets the same single buy slot with whatever
// TradeCycle the test configures, and never reacts to fills itself (the
// executor clears the slot on terminal status).
type fakeStrategy struct {
	target *TradeCycle
}

func (s *fakeStrategy) Name() string { return "fake" }
func (s *fakeStrategy) ComputeTradingContext(market domain.MarketAccountId) TradingContext {
	return TradingContext{
		MaxAmount: map[domain.Side]float64{domain.Buy: 1000, domain.Sell: 1000},
		Targets: map[domain.Side][]Explained[*TradeCycle]{
			domain.Buy:  {{Value: s.target, Explanation: "test target"}},
			domain.Sell: {{Value: nil, Explanation: "no sell target"}},
		},
	}
}
func (s *fakeStrategy) HandleOrderFill(slot *PriceSlot, fill domain.FillEvent) {}

func testExecutor(t *testing.T, client *fakeClient, strategy Strategy) *Executor {
	t.Helper()
	pool := orderpool.New()
	buffered := orderpool.NewBufferedFills()
	timeouts := timeout.New(timeout.Config{RequestsPerPeriod: 100, Period: time.Second})
	account := domain.ExchangeAccountId{Exchange: domain.InternExchange("demoex"), AccountIndex: 0}
	driver := exchange.New(zerolog.Nop(), account, client, exchange.FeatureDescriptor{}, pool, buffered, timeouts)

	holder := balance.NewHolder()
	pair, err := domain.InternCurrencyPair("BTC/USDT")
	require.NoError(t, err)
	manager := balance.NewManager(holder)
	manager.UpdateExchangeBalance(account, map[domain.CurrencyId]float64{pair.Quote(): 1_000_000, pair.Base(): 1_000_000})

	market := domain.MarketAccountId{Account: account, Pair: pair}
	symbol := domain.Symbol{Pair: pair, PriceTick: 0.01, AmountStep: 0.0001}

	var seq int
	return NewExecutor(zerolog.Nop(), market, symbol, strategy, 2, manager, driver, timeouts, func() string {
		seq++
		return "c" + string(rune('0'+seq))
	})
}

func TestRunCycleCreatesOrderForEmptySlotWithTarget(t *testing.T) {
	client := &fakeClient{createResult: exchange.CreateOrderResult{ExchangeOrderId: "ex1", Role: domain.Maker}}
	strategy := &fakeStrategy{target: &TradeCycle{Side: domain.Buy, Price: 100, Amount: 1, StrategyName: "fake"}}
	e := testExecutor(t, client, strategy)

	e.RunCycle(context.Background())

	slot := e.state.BySide[domain.Buy].Slots[0]
	assert.False(t, slot.Current.IsEmpty())
	assert.Equal(t, 1, client.creates)
}

func TestRunCycleIsIdempotentWhenTargetMatchesCurrent(t *testing.T) {
	client := &fakeClient{createResult: exchange.CreateOrderResult{ExchangeOrderId: "ex1", Role: domain.Maker}}
	strategy := &fakeStrategy{target: &TradeCycle{Side: domain.Buy, Price: 100, Amount: 1, StrategyName: "fake"}}
	e := testExecutor(t, client, strategy)

	e.RunCycle(context.Background())
	e.RunCycle(context.Background())

	assert.Equal(t, 1, client.creates, "second cycle should not recreate a matching order")
	assert.Equal(t, 0, client.cancels)
}

func TestRunCycleCancelsWhenPriceDiffers(t *testing.T) {
	client := &fakeClient{createResult: exchange.CreateOrderResult{ExchangeOrderId: "ex1", Role: domain.Maker}}
	strategy := &fakeStrategy{target: &TradeCycle{Side: domain.Buy, Price: 100, Amount: 1, StrategyName: "fake"}}
	e := testExecutor(t, client, strategy)
	e.RunCycle(context.Background())

	strategy.target = &TradeCycle{Side: domain.Buy, Price: 105, Amount: 1, StrategyName: "fake"}
	e.RunCycle(context.Background())

	assert.Equal(t, 1, client.cancels)
}

func TestRunCycleCancelsWhenTargetRemoved(t *testing.T) {
	client := &fakeClient{createResult: exchange.CreateOrderResult{ExchangeOrderId: "ex1", Role: domain.Maker}}
	strategy := &fakeStrategy{target: &TradeCycle{Side: domain.Buy, Price: 100, Amount: 1, StrategyName: "fake"}}
	e := testExecutor(t, client, strategy)
	e.RunCycle(context.Background())

	strategy.target = nil
	e.RunCycle(context.Background())

	assert.Equal(t, 1, client.cancels)
	assert.True(t, e.state.BySide[domain.Buy].Slots[0].Current.IsEmpty())
}

func TestHandleFillClearsSlotOnTerminalOrder(t *testing.T) {
	client := &fakeClient{createResult: exchange.CreateOrderResult{ExchangeOrderId: "ex1", Role: domain.Maker}}
	strategy := &fakeStrategy{target: &TradeCycle{Side: domain.Buy, Price: 100, Amount: 1, StrategyName: "fake"}}
	e := testExecutor(t, client, strategy)
	e.RunCycle(context.Background())

	slot := e.state.BySide[domain.Buy].Slots[0]
	var order *domain.Order
	for _, rec := range slot.Current.Orders {
		order = rec.Order
	}
	require.NotNil(t, order)

	fill := domain.FillEvent{TradeId: "t1", ExchangeOrderId: "ex1", ClientOrderId: order.Header.ClientOrderId, Amount: 1, AmountKind: domain.FillIncremental}
	order.ApplyFill(domain.OrderFill{TradeId: fill.TradeId, Amount: fill.Amount})

	e.HandleFill(fill, order)
	assert.True(t, slot.Current.IsEmpty())
}
