package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"ecotrader/src/backtest"
	"ecotrader/src/bot"
	"ecotrader/src/broker"
	"ecotrader/src/config"
	"ecotrader/src/dataflow"
	"ecotrader/src/portfolio"
	"ecotrader/src/risk"
	"ecotrader/src/server"
	"ecotrader/src/storage"
	"ecotrader/src/strategy"
)

// ==================== CLI ====================

type cliArgs struct {
	configPath string
	paper      bool
	live       bool
	strategy   string
	riskMode   string
	backtest   bool
	days       int
	capital    float64
	symbols    string
	stats      bool
}

func parseArgs() cliArgs {
	var a cliArgs
	flag.StringVar(&a.configPath, "config", "", "path to YAML config (default search: ./configs/ecotrader.yaml)")
	flag.BoolVar(&a.paper, "paper", false, "force paper trading mode")
	flag.BoolVar(&a.live, "live", false, "force live trading mode")
	flag.StringVar(&a.strategy, "strategy", "", "strategy: moving_average|enhanced_ma|volatility|mean_reversion|ensemble")
	flag.StringVar(&a.riskMode, "risk", "", "risk management: basic|advanced")
	flag.BoolVar(&a.backtest, "backtest", false, "run backtests instead of trading")
	flag.IntVar(&a.days, "days", 0, "trading days to backtest")
	flag.Float64Var(&a.capital, "capital", 0, "initial capital")
	flag.StringVar(&a.symbols, "symbols", "", "comma-separated symbol subset")
	flag.BoolVar(&a.stats, "stats", false, "print journal stats and exit")
	flag.Parse()
	return a
}

// applyArgs folds CLI overrides into the loaded config.
func applyArgs(cfg *config.Config, a cliArgs) error {
	if a.paper {
		cfg.Trading.Paper = true
	}
	if a.live {
		cfg.Trading.Paper = false
	}
	if a.strategy != "" {
		cfg.Strategy.Active = a.strategy
	}
	if a.riskMode != "" {
		cfg.Risk.Mode = a.riskMode
	}
	if a.days > 0 {
		cfg.Backtest.Days = a.days
	}
	if a.capital > 0 {
		cfg.Trading.Capital = a.capital
		cfg.Backtest.Capital = a.capital
	}
	if a.symbols != "" {
		keep := make(map[string]bool)
		for _, s := range strings.Split(a.symbols, ",") {
			if s = strings.TrimSpace(s); s != "" {
				keep[strings.ToUpper(s)] = true
			}
		}
		var subset []config.Instrument
		for _, inst := range cfg.Universe {
			if keep[inst.Symbol] {
				subset = append(subset, inst)
			}
		}
		if len(subset) == 0 {
			return fmt.Errorf("no configured instruments match -symbols %q", a.symbols)
		}
		cfg.Universe = subset
	}
	return cfg.Validate()
}

// ==================== strategy wiring ====================

func buildStrategy(cfg *config.Config, provider strategy.DataProvider) (strategy.Strategy, error) {
	sc := cfg.Strategy
	switch sc.Active {
	case "moving_average":
		return strategy.NewMovingAverageCrossover(provider, sc.SMAShort, sc.SMALong), nil
	case "enhanced_ma":
		return strategy.NewEnhancedMovingAverage(provider, sc.SMAShort, sc.SMALong), nil
	case "volatility":
		return strategy.NewVolatilityBreakout(provider, sc.Lookback), nil
	case "mean_reversion":
		return strategy.NewMeanReversion(provider), nil
	case "ensemble":
		members := []strategy.Strategy{
			strategy.NewMovingAverageCrossover(provider, sc.SMAShort, sc.SMALong),
			strategy.NewEnhancedMovingAverage(provider, sc.SMAShort, sc.SMALong),
			strategy.NewVolatilityBreakout(provider, sc.Lookback),
			strategy.NewMeanReversion(provider),
		}
		return strategy.NewEnsemble(members, sc.Weights), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", sc.Active)
	}
}

// ==================== modes ====================

func runStats(cfg *config.Config) error {
	journal, err := storage.OpenJournal(cfg.Storage.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	stats, err := journal.Stats()
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Println("no trades recorded yet")
		return nil
	}

	fmt.Printf("%-8s %8s %8s %6s %10s %12s\n", "SYMBOL", "TRADES", "CLOSED", "WINS", "WIN%", "REALIZED")
	for _, s := range stats {
		winRate := 0.0
		if s.Closed > 0 {
			winRate = float64(s.Wins) / float64(s.Closed) * 100
		}
		fmt.Printf("%-8s %8d %8d %6d %9.1f%% %12.2f\n",
			s.Symbol, s.Trades, s.Closed, s.Wins, winRate, s.Realized)
	}

	path, err := journal.WriteStats(cfg.Storage.StatsDir)
	if err != nil {
		return err
	}
	fmt.Printf("\nstats written to %s\n", path)
	return nil
}

func runBacktest(cfg *config.Config) error {
	store := dataflow.NewStore(cfg.Data.CacheDir)
	if err := store.Ensure(cfg.Instruments(), cfg.Data.HistoryDays, cfg.Data.RefreshOnRun); err != nil {
		return fmt.Errorf("load market data: %w", err)
	}

	engine := backtest.NewEngine(store.Data(), backtest.Config{
		Days:           cfg.Backtest.Days,
		InitialCapital: cfg.Backtest.Capital,
	})
	strategies := backtest.StandardStrategies(engine.Provider(),
		cfg.Strategy.SMAShort, cfg.Strategy.SMALong, cfg.Strategy.Lookback)

	results, err := engine.RunAll(strategies)
	if err != nil {
		return err
	}
	printResults(results)

	jsonPath, csvPath, err := storage.SaveBacktest(cfg.Storage.StatsDir, results)
	if err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	log.Printf("results saved to %s", jsonPath)
	log.Printf("summary saved to %s", csvPath)
	return nil
}

func printResults(results map[string]*backtest.Result) {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("\n%-16s %9s %9s %8s %8s %8s %7s %7s %8s\n",
		"STRATEGY", "RETURN%", "ANNUAL%", "VOL%", "SHARPE", "MAXDD%", "TRADES", "WIN%", "PFACTOR")
	for _, name := range names {
		m := results[name].Metrics
		pf := fmt.Sprintf("%.2f", m.ProfitFactor)
		if math.IsInf(m.ProfitFactor, 0) {
			pf = "inf"
		}
		fmt.Printf("%-16s %9.2f %9.2f %8.2f %8.2f %8.2f %7d %6.1f%% %8s\n",
			name, m.TotalReturnPct, m.AnnualReturnPct, m.VolatilityPct,
			m.SharpeRatio, m.MaxDrawdownPct, m.TradeCount, m.WinRatePct, pf)
	}
	fmt.Println()
}

func runTrading(cfg *config.Config) error {
	mode := "live"
	if cfg.Trading.Paper {
		mode = "paper"
	}
	log.Printf("starting eco ETF trading bot (%s mode, %s strategy, %s risk)",
		mode, cfg.Strategy.Active, cfg.Risk.Mode)

	store := dataflow.NewStore(cfg.Data.CacheDir)
	if err := store.Ensure(cfg.Instruments(), cfg.Data.HistoryDays, cfg.Data.RefreshOnRun); err != nil {
		return fmt.Errorf("load market data: %w", err)
	}

	strat, err := buildStrategy(cfg, store)
	if err != nil {
		return err
	}

	riskMgr := risk.NewManager(store, risk.Config{
		MaxPortfolioRisk: cfg.Risk.MaxPortfolioRisk,
		MaxDrawdown:      cfg.Risk.MaxDrawdown,
		MaxCorrelation:   cfg.Risk.MaxCorrelation,
		MaxPositions:     cfg.Risk.MaxPositions,
		SizingMethod:     cfg.Risk.SizingMethod,
	})

	book := portfolio.NewBook(cfg.Trading.Capital, cfg.Trading.StopLossPct, cfg.Trading.TakeProfitPct)
	gateway := broker.NewGateway(store, broker.NewHoursChecker(), broker.Config{}, cfg.Trading.Paper)

	if !cfg.Trading.Paper {
		if cfg.Broker.WSURL == "" {
			return fmt.Errorf("live mode requires broker.wsURL")
		}
		stream := broker.NewStream(cfg.Broker.WSURL, cfg.Broker.APIKey)
		if err := stream.Connect(); err != nil {
			return fmt.Errorf("broker stream: %w", err)
		}
		defer stream.Close()
		if err := stream.Subscribe(cfg.Symbols()); err != nil {
			return fmt.Errorf("broker subscribe: %w", err)
		}
		gateway.AttachStream(stream)
	}

	journal, err := storage.OpenJournal(cfg.Storage.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	trader := bot.New(cfg, store, strat, book, riskMgr, gateway, journal)
	if cfg.Data.RefreshOnRun {
		trader.SetRefresh(func() error {
			return store.Ensure(cfg.Instruments(), cfg.Data.HistoryDays, true)
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server.Enable {
		srv := server.NewServer(trader, cfg.Server.Listen)
		go func() {
			if err := srv.Start(); err != nil {
				log.Printf("status server: %v", err)
			}
		}()
		defer srv.Shutdown()
	}

	err = trader.Run(ctx)
	if err == context.Canceled {
		err = nil
	}

	// Dump final stats on the way out, the way a stopped session reports.
	if path, werr := journal.WriteStats(cfg.Storage.StatsDir); werr == nil {
		log.Printf("session stats written to %s", path)
	}
	return err
}

// setupLogging mirrors console output to the configured log file when one is
// set.
func setupLogging(cfg *config.Config) {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	if cfg.Logging.File == "" {
		return
	}
	f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("log file %s: %v", cfg.Logging.File, err)
		return
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
}

// ==================== main ====================

func main() {
	args := parseArgs()

	var cfg *config.Config
	var err error
	if args.configPath != "" {
		cfg, err = config.Load(args.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := applyArgs(cfg, args); err != nil {
		log.Fatalf("config: %v", err)
	}
	setupLogging(cfg)

	switch {
	case args.stats:
		err = runStats(cfg)
	case args.backtest:
		err = runBacktest(cfg)
	default:
		err = runTrading(cfg)
	}
	if err != nil {
		log.Fatal(err)
	}
}
