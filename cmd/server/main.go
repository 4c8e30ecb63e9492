// Command server boots the market-making trading engine: it loads the
// two-file configuration, wires one exchange driver per configured exchange
// account and one disposition executor per configured currency pair of that
// account against the demoex adapter,
// starts the local RPC control surface, and runs until a stop/restart
// signal or OS interrupt triggers the ordered graceful-shutdown sequence.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/marketmaker/internal/balance"
	"github.com/aristath/marketmaker/internal/blocker"
	"github.com/aristath/marketmaker/internal/config"
	"github.com/aristath/marketmaker/internal/database"
	"github.com/aristath/marketmaker/internal/disposition"
	"github.com/aristath/marketmaker/internal/domain"
	"github.com/aristath/marketmaker/internal/events"
	"github.com/aristath/marketmaker/internal/exchange"
	"github.com/aristath/marketmaker/internal/exchange/demoex"
	"github.com/aristath/marketmaker/internal/lifecycle"
	"github.com/aristath/marketmaker/internal/orderbook"
	"github.com/aristath/marketmaker/internal/orderpool"
	"github.com/aristath/marketmaker/internal/profitloss"
	"github.com/aristath/marketmaker/internal/recorder"
	"github.com/aristath/marketmaker/internal/server"
	"github.com/aristath/marketmaker/internal/timeout"
	"github.com/rs/zerolog"

	pkglogger "github.com/aristath/marketmaker/pkg/logger"
)

// getEnv retrieves an environment variable, falling back to a default when
// unset or empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// account bundles everything wired for one configured exchange account: the
// venue client, the driver sitting above it, and one disposition executor
// per market account it quotes.
type account struct {
	id        string
	client    exchange.Client
	driver    *exchange.Driver
	executors []*disposition.Executor
	symbols   map[domain.CurrencyPair]domain.Symbol
}

// identityUsdConverter treats every currency as already USD-denominated —
// a reasonable default for a venue whose configured pairs are USDT-quoted,
// and the simplest conversion the profit/loss stopper's UsdConverter
// interface can be satisfied with absent a dedicated price-feed component.
type identityUsdConverter struct{}

func (identityUsdConverter) ConvertToUsd(currency domain.CurrencyId, amount float64) (float64, error) {
	return amount, nil
}

func main() {
	mainConfigPath := getEnv("MARKETMAKER_CONFIG", "config.ini")
	credentialsPath := getEnv("MARKETMAKER_CREDENTIALS", "credentials.ini")

	cfg, err := config.Load(mainConfigPath, credentialsPath)
	if err != nil {
		fallback := pkglogger.New(pkglogger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := pkglogger.New(pkglogger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting market-making engine")

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			log.Fatal().Err(err).Msg("failed to create data directory")
		}
	}

	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger database")
	}
	defer ledgerDB.Close()
	if err := ledgerDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate ledger database")
	}

	bus := events.New(log, events.DefaultCapacity)
	rec := recorder.New(log, ledgerDB, bus)
	book := orderbook.New(log)
	exchangeBlocker := blocker.New()
	holder := balance.NewHolder()
	balances := balance.NewManager(holder)

	lc := lifecycle.New(log)

	accounts := make([]*account, 0, len(cfg.Exchanges))
	var plStopper *profitloss.Stopper
	plMarketAccounts := map[domain.MarketAccountId]domain.ExchangeAccountId{}

	for _, exCfg := range cfg.Exchanges {
		exchangeId := domain.InternExchange(exCfg.ExchangeAccountId)
		acctId := domain.ExchangeAccountId{Exchange: exchangeId, AccountIndex: 0}

		client := demoex.New(demoex.Config{
			Account:   acctId,
			BaseURL:   getEnv("DEMOEX_BASE_URL", "https://api.demoex.example/v1"),
			WsURL:     getEnv("DEMOEX_WS_URL", "wss://ws.demoex.example/v1"),
			ApiKey:    exCfg.ApiKey,
			SecretKey: exCfg.SecretKey,
		}, log)

		pool := orderpool.New()
		buffered := orderpool.NewBufferedFills()
		timeouts := timeout.New(timeout.Config{RequestsPerPeriod: 1200, Period: time.Minute})
		driver := exchange.New(log, acctId, client, demoex.FeatureDescriptor(), pool, buffered, timeouts)

		acct := &account{id: exCfg.ExchangeAccountId, client: client, driver: driver, symbols: map[domain.CurrencyPair]domain.Symbol{}}

		symbols, symErr := client.BuildAllSymbols(context.Background())
		if symErr != nil {
			log.Warn().Str("exchange_account", exCfg.ExchangeAccountId).Err(symErr).Msg("failed to fetch symbols, continuing with defaults")
		}
		for _, sym := range symbols {
			acct.symbols[sym.Pair] = sym
		}

		var seq int
		nextClientOrderId := func() string {
			seq++
			return fmt.Sprintf("%s-%d-%d", exCfg.ExchangeAccountId, time.Now().UnixNano(), seq)
		}

		calculators := make([]*profitloss.UsdPeriodicCalculator, 0, len(exCfg.CurrencyPairs))
		for _, pairStr := range exCfg.CurrencyPairs {
			pair, perr := domain.InternCurrencyPair(pairStr)
			if perr != nil {
				log.Warn().Str("pair", pairStr).Err(perr).Msg("skipping malformed configured currency pair")
				continue
			}
			symbol, ok := acct.symbols[pair]
			if !ok {
				symbol = domain.Symbol{Pair: pair, PriceTick: 0.01, AmountStep: 0.0001}
			}
			market := domain.MarketAccountId{Account: acctId, Pair: pair}

			strategy := disposition.NewSpreadStrategy(book, market, symbol, 0.001, 0.01, 0.7, 1.0)
			executor := disposition.NewExecutor(log, market, symbol, strategy, 5, balances, driver, timeouts, nextClientOrderId)
			acct.executors = append(acct.executors, executor)

			selector := profitloss.NewPeriodSelector(time.Hour, balances)
			calculators = append(calculators, profitloss.NewUsdPeriodicCalculator("hourly", time.Hour, 100, selector, identityUsdConverter{}))
			plMarketAccounts[market] = acctId
		}

		if len(calculators) > 0 {
			if plStopper == nil {
				plStopper, err = profitloss.New(log, exchangeBlocker, 5*time.Second, []profitloss.PeriodConfig{{Name: "hourly", Period: time.Hour, Limit: 100}})
				if err != nil {
					log.Fatal().Err(err).Msg("failed to construct profit/loss stopper")
				}
			}
			for market := range plMarketAccounts {
				if plMarketAccounts[market] == acctId {
					plStopper.Register(market, calculators)
				}
			}
		}

		driver.OnOrderEvent(func(ev domain.OrderEvent) {
			bus.Publish(domain.ExchangeEvent{Kind: domain.EventOrder, Order: &ev})
		})
		driver.OnFill(func(fill domain.FillEvent, order *domain.Order) {
			rec.SaveFill(fill)
			for _, executor := range acct.executors {
				executor.HandleFill(fill, order)
			}
			if plStopper != nil {
				if market, ok := marketOf(order); ok {
					plStopper.OnFill(acctId, market)
				}
			}
		})
		client.SetOnOrderBook(func(ev domain.OrderBookEvent) {
			book.Apply(ev)
			bus.Publish(domain.ExchangeEvent{Kind: domain.EventOrderBook, OrderBook: &ev})
			for _, executor := range acct.executors {
				executor.RunCycle(context.Background())
			}
		})
		client.SetOnTrades(func(ev domain.TradesEvent) {
			bus.Publish(domain.ExchangeEvent{Kind: domain.EventTrades, Trades: &ev})
		})

		if connErr := client.Connect(context.Background()); connErr != nil {
			log.Error().Str("exchange_account", exCfg.ExchangeAccountId).Err(connErr).Msg("initial websocket connect failed, adapter will retry in background")
		}
		if recErr := driver.ReconcileOnStartup(context.Background()); recErr != nil {
			log.Warn().Str("exchange_account", exCfg.ExchangeAccountId).Err(recErr).Msg("startup reconciliation failed")
		}

		accounts = append(accounts, acct)
	}

	if plStopper != nil {
		stopTicker := plStopper.Start(func(m domain.MarketAccountId) domain.ExchangeAccountId { return plMarketAccounts[m] })
		lc.Register(tickerService{name: "profitloss.stopper", stop: stopTicker})
	}

	srv := server.New(server.Config{
		Log:             log,
		Port:            cfg.Port,
		DevMode:         cfg.DevMode,
		MainConfigPath:  mainConfigPath,
		CredentialsPath: credentialsPath,
		StartedAt:       time.Now(),
		GetConfig:       func() *config.Config { return cfg },
		Stats: func() map[string]any {
			stats := map[string]any{"exchange_accounts": len(accounts)}
			return stats
		},
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("server stopped with error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		lc.SpawnGracefulShutdown(lifecycle.Nothing, fmt.Sprintf("signal %s", sig), shutdownSteps(log, srv, accounts, exchangeBlocker, rec))
	case req := <-srv.Shutdown:
		action := lifecycle.Nothing
		if req.Action == server.Restart {
			action = lifecycle.Restart
		}
		lc.SpawnGracefulShutdown(action, req.Reason, shutdownSteps(log, srv, accounts, exchangeBlocker, rec))
	}

	outcome := <-lc.Done()
	if len(outcome.HungServices) > 0 {
		log.Warn().Strs("hung_services", outcome.HungServices).Msg("some services did not quiesce before shutdown completed")
	}
	log.Info().Int("action", int(outcome.Action)).Msg("engine stopped")
}

func marketOf(order *domain.Order) (domain.MarketAccountId, bool) {
	if order == nil {
		return domain.MarketAccountId{}, false
	}
	return domain.MarketAccountId{Account: order.Header.Account, Pair: order.Header.Pair}, true
}

func shutdownSteps(log zerolog.Logger, srv *server.Server, accounts []*account, b *blocker.Blocker, rec *recorder.Recorder) lifecycle.Steps {
	return lifecycle.Steps{
		BlockAllExchanges: func(reason blocker.Reason) {
			for _, acct := range accounts {
				b.Block(domain.ExchangeAccountId{Exchange: domain.InternExchange(acct.id)}, reason)
			}
		},
		CancelOpenOrders: func(ctx context.Context) {
			for _, acct := range accounts {
				for pair := range acct.symbols {
					if err := acct.client.CancelAll(ctx, pair); err != nil {
						log.Warn().Str("exchange_account", acct.id).Err(err).Msg("failed to cancel open orders during shutdown")
					}
				}
			}
		},
		CoreShutdown: func(ctx context.Context) {
			_ = srv.Close(ctx)
		},
		FlushRecorder: func(ctx context.Context) {
			if err := rec.FlushAndStop(ctx); err != nil {
				log.Warn().Err(err).Msg("recorder flush did not complete cleanly")
			}
		},
		DisconnectWebsockets: func() {
			for _, acct := range accounts {
				acct.client.Disconnect()
			}
		},
	}
}

// tickerService adapts a bare stop function into a lifecycle.Service so the
// profit/loss stopper's periodic tick is released in registration order
// alongside every other user-level service.
type tickerService struct {
	name string
	stop func()
}

func (t tickerService) Name() string { return t.name }
func (t tickerService) GracefulShutdown() <-chan struct{} {
	t.stop()
	return nil
}
