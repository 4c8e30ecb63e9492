// Package lifecycle implements the ordered graceful-shutdown sequence
// (§4.7): a stop token every background task observes, a registry of
// shutdown-aware services released in registration order, and a bounded
// wait at each step so one hanging service cannot block the others
// indefinitely.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/marketmaker/internal/blocker"
	"github.com/aristath/marketmaker/internal/cancel"
	"github.com/rs/zerolog"
)

// Action is what happens once shutdown completes.
type Action int

const (
	Nothing Action = iota
	Restart
)

// Service is the common shutdown contract (§4.7): a name for logging and a
// GracefulShutdown call returning a channel that closes once the service
// has quiesced, or nil if it is already quiesced.
type Service interface {
	Name() string
	GracefulShutdown() <-chan struct{}
}

// perStepTimeout bounds how long any single registered service may take
// before its name is logged and teardown proceeds regardless; it is also
// the budget of the core-level shutdown step. The order-cancel,
// position-close and recorder-flush steps are each given 5 seconds.
const perStepTimeout = 3 * time.Second

// Manager owns the stop token and drives the ordered teardown sequence.
// The engine holds a strong reference to Manager; Manager itself holds no
// reference back to the engine context, avoiding the cycle called out in
// §9 — callers instead pass the teardown steps as closures to
// SpawnGracefulShutdown.
type Manager struct {
	log  zerolog.Logger
	stop cancel.Token

	mu       sync.Mutex
	services []Service

	once sync.Once
	done chan Outcome
}

// Outcome is the terminal result of graceful shutdown, delivered once to
// whatever caller is waiting on Manager.Done().
type Outcome struct {
	Action         Action
	HungServices   []string
	TimedOut       bool
}

// New constructs a Manager with a fresh stop token.
func New(log zerolog.Logger) *Manager {
	return &Manager{
		log:  log.With().Str("component", "lifecycle").Logger(),
		stop: cancel.New(),
		done: make(chan Outcome, 1),
	}
}

// StopToken is observed by every background task; it is cancelled at the
// start of graceful shutdown so loops exit promptly (§5).
func (m *Manager) StopToken() cancel.Token { return m.stop }

// Register adds a user-level shutdown service, released in registration
// order during step 3 of teardown.
func (m *Manager) Register(s Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, s)
}

// Done resolves once SpawnGracefulShutdown's teardown sequence has
// completed.
func (m *Manager) Done() <-chan Outcome { return m.done }

// Steps bundles the domain-specific teardown actions a caller supplies
// because Manager itself has no knowledge of orders, positions, or the
// recorder (only of Service and the stop token).
type Steps struct {
	BlockAllExchanges func(reason blocker.Reason)
	CancelOpenOrders  func(ctx context.Context)
	CloseDerivativePositions func(ctx context.Context)
	CoreShutdown      func(ctx context.Context)
	FlushRecorder     func(ctx context.Context)
	DisconnectWebsockets func()
}

// SpawnGracefulShutdown runs the 9-step ordered teardown (§4.7) once. Later
// calls are no-ops; the first call's action and reason win.
func (m *Manager) SpawnGracefulShutdown(action Action, reason string, steps Steps) {
	m.once.Do(func() {
		go m.runShutdown(action, reason, steps)
	})
}

func (m *Manager) runShutdown(action Action, reason string, steps Steps) {
	m.log.Warn().Str("reason", reason).Int("action", int(action)).Msg("graceful shutdown starting")

	// 1. Block all exchanges.
	if steps.BlockAllExchanges != nil {
		steps.BlockAllExchanges(blocker.GracefulShutdown)
	}

	// 2. Cancel the stop token.
	m.stop.Cancel()

	// 3. User-level services release in registration order, each capped.
	hung := m.drainServices()

	// 4. Cancel open orders.
	m.runStep(steps.CancelOpenOrders, 5*time.Second)

	// 5. Close derivative positions.
	m.runStep(steps.CloseDerivativePositions, 5*time.Second)

	// 6. Core-level shutdown.
	m.runStep(steps.CoreShutdown, perStepTimeout)

	// 7. Flush the event recorder.
	m.runStep(steps.FlushRecorder, 5*time.Second)

	// 8. Disconnect websockets.
	if steps.DisconnectWebsockets != nil {
		steps.DisconnectWebsockets()
	}

	// 9. Signal completion.
	m.done <- Outcome{Action: action, HungServices: hung, TimedOut: len(hung) > 0}
	m.log.Info().Strs("hung_services", hung).Msg("graceful shutdown complete")
}

func (m *Manager) drainServices() []string {
	m.mu.Lock()
	services := append([]Service(nil), m.services...)
	m.mu.Unlock()

	var hung []string
	for _, svc := range services {
		ch := svc.GracefulShutdown()
		if ch == nil {
			continue // already quiesced
		}
		select {
		case <-ch:
		case <-time.After(perStepTimeout):
			m.log.Warn().Str("service", svc.Name()).Msg("service did not quiesce within timeout")
			hung = append(hung, svc.Name())
		}
	}
	return hung
}

func (m *Manager) runStep(fn func(ctx context.Context), timeout time.Duration) {
	if fn == nil {
		return
	}
	ctx, cancelFn := context.WithTimeout(context.Background(), timeout)
	defer cancelFn()
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		fn(ctx)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		m.log.Warn().Dur("timeout", timeout).Msg("shutdown step did not finish within timeout, proceeding")
	}
}
