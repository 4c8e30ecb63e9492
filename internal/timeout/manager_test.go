package timeout

import (
	"testing"
	"time"

	"github.com/aristath/marketmaker/internal/cancel"
	"github.com/aristath/marketmaker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAccount() domain.ExchangeAccountId {
	return domain.ExchangeAccountId{Exchange: domain.InternExchange("demoex"), AccountIndex: 0}
}

func TestTryReserveInstantRespectsWindow(t *testing.T) {
	m := New(Config{RequestsPerPeriod: 2, Period: time.Minute})
	acct := testAccount()

	assert.True(t, m.TryReserveInstant(acct, "create"))
	assert.True(t, m.TryReserveInstant(acct, "create"))
	assert.False(t, m.TryReserveInstant(acct, "create"))
}

func TestTryReserveInstantZeroAdmitsNothing(t *testing.T) {
	m := New(Config{RequestsPerPeriod: 0, Period: time.Minute})
	assert.False(t, m.TryReserveInstant(testAccount(), "create"))
}

func TestReserveWhenAvailableAlreadyCancelled(t *testing.T) {
	m := New(Config{RequestsPerPeriod: 0, Period: time.Minute})
	tok := cancel.New()
	tok.Cancel()

	err := m.ReserveWhenAvailable(testAccount(), "create", tok)
	require.Error(t, err)
	assert.True(t, ErrCancelled(err))
}

func TestReserveWhenAvailableWaitsThenCancelled(t *testing.T) {
	m := New(Config{RequestsPerPeriod: 0, Period: time.Minute})
	tok := cancel.New()

	done := make(chan error, 1)
	go func() { done <- m.ReserveWhenAvailable(testAccount(), "create", tok) }()

	time.Sleep(20 * time.Millisecond)
	tok.Cancel()

	select {
	case err := <-done:
		assert.True(t, ErrCancelled(err))
	case <-time.After(time.Second):
		t.Fatal("ReserveWhenAvailable did not return after cancellation")
	}
}

func TestReserveWhenAvailableAdmitsOnceSlotFrees(t *testing.T) {
	m := New(Config{RequestsPerPeriod: 1, Period: 50 * time.Millisecond})
	acct := testAccount()
	require.True(t, m.TryReserveInstant(acct, "create"))

	tok := cancel.New()
	start := time.Now()
	err := m.ReserveWhenAvailable(acct, "create", tok)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestTryReserveGroupAllOrNothing(t *testing.T) {
	m := New(Config{RequestsPerPeriod: 3, Period: time.Minute})
	acct := testAccount()

	_, ok := m.TryReserveGroup(acct, "cancel_and_create", 4)
	assert.False(t, ok)

	id, ok := m.TryReserveGroup(acct, "cancel_and_create", 2)
	require.True(t, ok)
	assert.NotEmpty(t, id)

	assert.True(t, m.TryReserveInstant(acct, "create"))
	assert.False(t, m.TryReserveInstant(acct, "create"))
}
