package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/marketmaker/internal/database"
	"github.com/aristath/marketmaker/internal/domain"
	"github.com/aristath/marketmaker/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := database.New(database.Config{Path: path, Profile: database.ProfileLedger, Name: "ledger"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSaveThenFlushPersistsOrderEvent(t *testing.T) {
	db := testDB(t)
	bus := events.New(zerolog.Nop(), 10)
	r := New(zerolog.Nop(), db, bus)

	header := domain.OrderHeader{ClientOrderId: "c1", CreationTime: time.Now(), Amount: 1, SourcePrice: 1, Type: domain.Market}
	order := domain.NewOrder(header)
	r.Save(domain.OrderEvent{Kind: domain.OrderCreatedEvent, ClientOrderId: "c1", Order: order})

	require.NoError(t, r.FlushAndStop(context.Background()))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM order_events WHERE client_order_id = ?`, "c1").Scan(&count))
	require.Equal(t, 1, count)
}

func TestFlushAndStopCompletesWithinBound(t *testing.T) {
	db := testDB(t)
	bus := events.New(zerolog.Nop(), 10)
	r := New(zerolog.Nop(), db, bus)

	start := time.Now()
	require.NoError(t, r.FlushAndStop(context.Background()))
	require.Less(t, time.Since(start), 5*time.Second)
}
