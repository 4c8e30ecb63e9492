package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quiescentService struct{ name string }

func (s quiescentService) Name() string                      { return s.name }
func (s quiescentService) GracefulShutdown() <-chan struct{}  { return nil }

type hangingService struct{ name string }

func (s hangingService) Name() string { return s.name }
func (s hangingService) GracefulShutdown() <-chan struct{} {
	return make(chan struct{}) // never closes
}

func TestGracefulShutdownLogsHungServiceAndCompletes(t *testing.T) {
	m := New(zerolog.Nop())
	m.Register(quiescentService{name: "already-done"})
	m.Register(hangingService{name: "never-quiesces"})

	start := time.Now()
	m.SpawnGracefulShutdown(Nothing, "test shutdown", Steps{})

	select {
	case outcome := <-m.Done():
		assert.Equal(t, Nothing, outcome.Action)
		assert.Contains(t, outcome.HungServices, "never-quiesces")
		assert.True(t, outcome.TimedOut)
		assert.GreaterOrEqual(t, time.Since(start), perStepTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	assert.True(t, m.StopToken().Cancelled())
}

func TestSpawnGracefulShutdownIsOneShot(t *testing.T) {
	m := New(zerolog.Nop())
	var coreCalls int
	m.SpawnGracefulShutdown(Restart, "first", Steps{
		CoreShutdown: func(ctx context.Context) { coreCalls++ },
	})
	m.SpawnGracefulShutdown(Nothing, "second", Steps{
		CoreShutdown: func(ctx context.Context) { coreCalls++ },
	})

	outcome := <-m.Done()
	require.Equal(t, Restart, outcome.Action, "first call wins")
	assert.Equal(t, 1, coreCalls)
}
