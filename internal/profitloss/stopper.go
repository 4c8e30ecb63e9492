package profitloss

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/aristath/marketmaker/internal/blocker"
	"github.com/aristath/marketmaker/internal/domain"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// PeriodConfig is one configured (name, window, USD loss limit) condition
// the stopper evaluates for every market-account.
type PeriodConfig struct {
	Name   string
	Period time.Duration
	Limit  float64
}

// Stopper runs on a timer (default every 5s per §4.5) and on every fill,
// comparing each configured period's USD change against its limit and
// signaling the exchange blocker when tripped.
type Stopper struct {
	log          zerolog.Logger
	blocker      *blocker.Blocker
	tickInterval time.Duration

	mu          sync.Mutex
	calculators map[domain.MarketAccountId][]*UsdPeriodicCalculator

	cronSched *cron.Cron
	cronId    cron.EntryID
}

// New constructs a Stopper. conditions must be non-empty — the
// specification requires validating this at construction.
func New(log zerolog.Logger, b *blocker.Blocker, tickInterval time.Duration, conditions []PeriodConfig) (*Stopper, error) {
	if len(conditions) == 0 {
		return nil, fmt.Errorf("profit/loss stopper requires at least one configured period condition")
	}
	if tickInterval <= 0 {
		tickInterval = 5 * time.Second
	}
	return &Stopper{
		log:          log.With().Str("component", "profitloss.stopper").Logger(),
		blocker:      b,
		tickInterval: tickInterval,
		calculators:  map[domain.MarketAccountId][]*UsdPeriodicCalculator{},
	}, nil
}

// Register attaches the configured calculators for a market-account. Call
// once per market-account before fills/ticks reference it.
func (s *Stopper) Register(market domain.MarketAccountId, calculators []*UsdPeriodicCalculator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculators[market] = calculators
}

// OnFill evaluates market immediately after a balance-changing fill.
func (s *Stopper) OnFill(account domain.ExchangeAccountId, market domain.MarketAccountId) {
	s.evaluate(account, market)
}

// Start begins the periodic tick using a cron schedule expressed as an
// interval (e.g. "@every 5s"), re-evaluating every registered
// market-account each tick. Returns a stop function.
func (s *Stopper) Start(accountsOf func(domain.MarketAccountId) domain.ExchangeAccountId) func() {
	s.cronSched = cron.New()
	id, err := s.cronSched.AddFunc(fmt.Sprintf("@every %s", s.tickInterval), func() {
		s.mu.Lock()
		markets := make([]domain.MarketAccountId, 0, len(s.calculators))
		for m := range s.calculators {
			markets = append(markets, m)
		}
		s.mu.Unlock()

		for _, m := range markets {
			s.evaluate(accountsOf(m), m)
		}
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to schedule profit/loss tick, stopper will not run periodically")
		return func() {}
	}
	s.cronId = id
	s.cronSched.Start()
	return func() { s.cronSched.Stop() }
}

// evaluate checks every configured period for market and blocks/unblocks
// account accordingly: blocked iff at least one period's absolute USD
// change meets or exceeds its limit.
func (s *Stopper) evaluate(account domain.ExchangeAccountId, market domain.MarketAccountId) {
	s.mu.Lock()
	calculators := s.calculators[market]
	s.mu.Unlock()

	tripped := false
	for _, c := range calculators {
		change, err := c.OverMarketUsdChange(market)
		if err != nil {
			s.log.Warn().Err(err).Str("period", c.Name).Stringer("market", market).
				Msg("failed to compute over-market USD change, skipping period this tick")
			continue
		}
		if math.Abs(change) >= c.Limit {
			tripped = true
			s.log.Warn().Str("period", c.Name).Stringer("market", market).
				Float64("usd_change", change).Float64("limit", c.Limit).
				Msg("profit/loss limit breached, blocking exchange account")
		}
	}

	if tripped {
		s.blocker.Block(account, blocker.ProfitLossStopper)
	} else {
		s.blocker.Unblock(account, blocker.ProfitLossStopper)
	}
}

// WindowStats returns the mean and standard deviation of the raw
// (fill-time) USD changes currently retained for market under the named
// period, for operational diagnostics.
func (s *Stopper) WindowStats(market domain.MarketAccountId, periodName string) (mean, stddev float64, ok bool) {
	s.mu.Lock()
	calculators := s.calculators[market]
	s.mu.Unlock()

	for _, c := range calculators {
		if c.Name != periodName {
			continue
		}
		window := c.selector.Window(market)
		if len(window) == 0 {
			return 0, 0, true
		}
		values := make([]float64, len(window))
		for i, ch := range window {
			values[i] = ch.UsdAmount
		}
		mean = stat.Mean(values, nil)
		stddev = stat.StdDev(values, nil)
		return mean, stddev, true
	}
	return 0, 0, false
}
