package orderpool

import (
	"testing"
	"time"

	"github.com/aristath/marketmaker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader(clientId string) domain.OrderHeader {
	return domain.OrderHeader{
		ClientOrderId: clientId,
		CreationTime:  time.Now(),
		Type:          domain.Limit,
		Side:          domain.Buy,
		Amount:        1,
		SourcePrice:   100,
	}
}

func TestAddSnapshotInitialIsIdempotent(t *testing.T) {
	p := New()
	o1 := domain.NewOrder(testHeader("c1"))
	got1 := p.AddSnapshotInitial(o1)
	assert.Same(t, o1, got1)

	o2 := domain.NewOrder(testHeader("c1"))
	got2 := p.AddSnapshotInitial(o2)
	assert.Same(t, o1, got2, "duplicate client id must return the existing reference")
}

func TestBindExchangeIdAndLookup(t *testing.T) {
	p := New()
	o := domain.NewOrder(testHeader("c1"))
	p.AddSnapshotInitial(o)
	p.BindExchangeId(o, "ex1")

	found, ok := p.ByExchangeId("ex1")
	require.True(t, ok)
	assert.Same(t, o, found)
}

func TestNotFinishedPrunedOnTerminal(t *testing.T) {
	p := New()
	o := domain.NewOrder(testHeader("c1"))
	p.AddSnapshotInitial(o)
	assert.Len(t, p.NotFinished(), 1)

	o.MarkCreated("ex1", domain.Maker)
	o.MarkCanceling()
	o.MarkCanceled()
	p.MarkFinishedIfTerminal(o)

	assert.Len(t, p.NotFinished(), 0)
	assert.Len(t, p.All(), 1)
}

func TestBufferedFillsReplay(t *testing.T) {
	b := NewBufferedFills()
	fill := domain.FillEvent{TradeId: "t1", ExchangeOrderId: "ex1"}
	b.Buffer("ex1", fill)
	b.Buffer("ex1", domain.FillEvent{TradeId: "t2", ExchangeOrderId: "ex1"})

	fills := b.TakeAll("ex1")
	require.Len(t, fills, 2)
	assert.Empty(t, b.TakeAll("ex1"))
}
