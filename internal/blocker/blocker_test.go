package blocker

import (
	"testing"

	"github.com/aristath/marketmaker/internal/domain"
	"github.com/stretchr/testify/assert"
)

func testAccount() domain.ExchangeAccountId {
	return domain.ExchangeAccountId{Exchange: domain.InternExchange("demoex"), AccountIndex: 0}
}

func TestBlockAndUnblock(t *testing.T) {
	b := New()
	account := testAccount()

	assert.False(t, b.IsBlocked(account))
	b.Block(account, ProfitLossStopper)
	assert.True(t, b.IsBlocked(account))
	b.Unblock(account, ProfitLossStopper)
	assert.False(t, b.IsBlocked(account))
}

func TestMultipleReasonsRequireAllCleared(t *testing.T) {
	b := New()
	account := testAccount()

	b.Block(account, ProfitLossStopper)
	b.Block(account, GracefulShutdown)
	b.Unblock(account, ProfitLossStopper)
	assert.True(t, b.IsBlocked(account))
	b.Unblock(account, GracefulShutdown)
	assert.False(t, b.IsBlocked(account))
}

func TestBlockAllBlocksEveryAccount(t *testing.T) {
	b := New()
	a1 := testAccount()
	a2 := domain.ExchangeAccountId{Exchange: domain.InternExchange("demoex2"), AccountIndex: 0}

	b.BlockAll([]domain.ExchangeAccountId{a1, a2}, GracefulShutdown)
	assert.True(t, b.IsBlocked(a1))
	assert.True(t, b.IsBlocked(a2))
}
