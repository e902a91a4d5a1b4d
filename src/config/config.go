package config

// Configuration layer for the ETF trading bot.
//
// Sources, in override order: built-in defaults, a YAML file, then
// environment variables (a local .env file is honored if present).
// Validate runs at load time so a bad value stops the process at startup
// instead of mid-cycle.
//
// Common environment variables (prefix ECOTRADER_):
//   ECOTRADER_APP_ENV=dev                 # dev|staging|prod
//   ECOTRADER_APP_DATA_DIR=./data
//   ECOTRADER_TRADING_PAPER=true
//   ECOTRADER_TRADING_INTERVAL_SEC=3600
//   ECOTRADER_TRADING_CAPITAL=100000
//   ECOTRADER_STRATEGY_ACTIVE=ensemble    # moving_average|enhanced_ma|volatility|mean_reversion|ensemble
//   ECOTRADER_RISK_MODE=advanced          # basic|advanced
//   ECOTRADER_BROKER_WS_URL=wss://...
//   ECOTRADER_BROKER_HTTP_URL=https://...
//   ECOTRADER_BROKER_API_KEY=xxx
//   ECOTRADER_SERVER_LISTEN=:8080
//   ECOTRADER_LOG_LEVEL=info

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ecotrader/src/market"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Trading  TradingConfig  `yaml:"trading"`
	Strategy StrategyConfig `yaml:"strategy"`
	Risk     RiskConfig     `yaml:"risk"`
	Backtest BacktestConfig `yaml:"backtest"`
	Data     DataConfig     `yaml:"data"`
	Broker   BrokerConfig   `yaml:"broker"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Universe []Instrument   `yaml:"universe"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	Env      string `yaml:"env"` // dev|staging|prod
	DataDir  string `yaml:"dataDir"`
	Timezone string `yaml:"timezone"`
}

// Instrument is the YAML-facing form of a basket entry.
type Instrument struct {
	Symbol   string `yaml:"symbol"`
	Exchange string `yaml:"exchange"`
	Currency string `yaml:"currency"`
}

type TradingConfig struct {
	Paper         bool    `yaml:"paper"`
	IntervalSec   int     `yaml:"intervalSec"`
	Capital       float64 `yaml:"capital"`
	StopLossPct   float64 `yaml:"stopLossPct"`
	TakeProfitPct float64 `yaml:"takeProfitPct"`
}

type StrategyConfig struct {
	Active    string    `yaml:"active"` // moving_average|enhanced_ma|volatility|mean_reversion|ensemble
	SMAShort  int       `yaml:"smaShort"`
	SMALong   int       `yaml:"smaLong"`
	Lookback  int       `yaml:"lookback"`
	VolFactor float64   `yaml:"volFactor"`
	Weights   []float64 `yaml:"weights"`
}

type RiskConfig struct {
	Mode             string  `yaml:"mode"` // basic|advanced
	MaxPortfolioRisk float64 `yaml:"maxPortfolioRisk"`
	MaxDrawdown      float64 `yaml:"maxDrawdown"`
	MaxCorrelation   float64 `yaml:"maxCorrelation"`
	MaxPositions     int     `yaml:"maxPositions"`
	SizingMethod     string  `yaml:"sizingMethod"` // volatility|equal|kelly
}

type BacktestConfig struct {
	Days    int     `yaml:"days"`
	Capital float64 `yaml:"capital"`
}

type DataConfig struct {
	CacheDir     string `yaml:"cacheDir"`
	HistoryDays  int    `yaml:"historyDays"`
	RefreshOnRun bool   `yaml:"refreshOnRun"`
}

type BrokerConfig struct {
	WSURL     string `yaml:"wsURL"`
	HTTPURL   string `yaml:"httpURL"`
	APIKey    string `yaml:"apiKey"`
	APISecret string `yaml:"apiSecret"`
	Account   string `yaml:"account"`
}

type ServerConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type StorageConfig struct {
	JournalPath string `yaml:"journalPath"`
	StatsDir    string `yaml:"statsDir"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error
	File  string `yaml:"file"`
}

// ===================== Public API =====================

// Default returns a runnable configuration: paper trading over the eco ETF
// basket with the ensemble strategy and advanced risk checks.
func Default() Config {
	return Config{
		App: AppConfig{
			Name:     "ecotrader",
			Env:      "dev",
			DataDir:  "./data",
			Timezone: "Europe/London",
		},
		Trading: TradingConfig{
			Paper:         true,
			IntervalSec:   3600,
			Capital:       100000,
			StopLossPct:   0.05,
			TakeProfitPct: 0.10,
		},
		Strategy: StrategyConfig{
			Active:    "ensemble",
			SMAShort:  5,
			SMALong:   20,
			Lookback:  20,
			VolFactor: 2.0,
			Weights:   []float64{0.1, 0.3, 0.3, 0.3},
		},
		Risk: RiskConfig{
			Mode:             "advanced",
			MaxPortfolioRisk: 0.02,
			MaxDrawdown:      0.15,
			MaxCorrelation:   0.7,
			MaxPositions:     3,
			SizingMethod:     "volatility",
		},
		Backtest: BacktestConfig{
			Days:    252,
			Capital: 100000,
		},
		Data: DataConfig{
			CacheDir:    "./data/history",
			HistoryDays: 300,
		},
		Server: ServerConfig{
			Enable: false,
			Listen: ":8080",
		},
		Storage: StorageConfig{
			JournalPath: "./data/journal.db",
			StatsDir:    "./stats",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Universe: DefaultUniverse(),
	}
}

// DefaultUniverse is the non-US eco ETF basket the bot trades out of the
// box.
func DefaultUniverse() []Instrument {
	return []Instrument{
		{Symbol: "INRG", Exchange: "LSE", Currency: "GBP"},   // iShares Global Clean Energy
		{Symbol: "RENW", Exchange: "LSE", Currency: "GBP"},   // L&G Clean Energy
		{Symbol: "LCEU", Exchange: "XETRA", Currency: "EUR"}, // Amundi MSCI Europe Climate Action
		{Symbol: "VEAT", Exchange: "BIT", Currency: "EUR"},   // VanEck Sustainable Future of Food
		{Symbol: "FOOD", Exchange: "LSE", Currency: "GBP"},   // Rize Sustainable Future of Food
		{Symbol: "WATL", Exchange: "LSE", Currency: "GBP"},   // L&G Clean Water
		{Symbol: "CLWD", Exchange: "SIX", Currency: "CHF"},   // iShares Global Clean Water
		{Symbol: "RCIR", Exchange: "LSE", Currency: "GBP"},   // BNP Paribas Circular Economy Leaders
		{Symbol: "RECY", Exchange: "XETRA", Currency: "EUR"}, // Lyxor Circular Economy ESG Filtered
		{Symbol: "WNTR", Exchange: "LSE", Currency: "GBP"},   // HANetf Circularity Economy
		{Symbol: "BIOT", Exchange: "XETRA", Currency: "EUR"}, // BNP Paribas Global ESG Biodiversity
		{Symbol: "KLMT", Exchange: "SIX", Currency: "CHF"},   // UBS Climate Action
		{Symbol: "ESGL", Exchange: "LSE", Currency: "GBP"},   // iShares MSCI Global Climate Action
		{Symbol: "GEND", Exchange: "XETRA", Currency: "EUR"}, // Lyxor Gender Equality
		{Symbol: "WELL", Exchange: "LSE", Currency: "GBP"},   // L&G Healthcare Breakthrough
		{Symbol: "HEAL", Exchange: "XETRA", Currency: "EUR"}, // iShares Healthcare Innovation
	}
}

// Instruments converts the configured universe to market instruments.
func (c *Config) Instruments() []market.Instrument {
	out := make([]market.Instrument, len(c.Universe))
	for i, u := range c.Universe {
		out[i] = market.Instrument{Symbol: u.Symbol, Exchange: u.Exchange, Currency: u.Currency}
	}
	return out
}

// Symbols lists the basket's ticker symbols in universe order.
func (c *Config) Symbols() []string {
	out := make([]string, len(c.Universe))
	for i, u := range c.Universe {
		out[i] = u.Symbol
	}
	return out
}

// Load reads the first config file found, applies env overrides and
// validates. With no paths given it tries ./configs/ecotrader.yaml,
// ./config.yaml and ./ecotrader.yaml; absence of all of them is fine and
// leaves defaults plus environment in effect.
func Load(paths ...string) (*Config, error) {
	// .env is optional, ignore a missing file.
	_ = godotenv.Load()

	c := Default()
	if len(paths) == 0 {
		paths = []string{
			"./configs/ecotrader.yaml",
			"./config.yaml",
			"./ecotrader.yaml",
		}
	}

	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(p) {
			abs, _ = filepath.Abs(p)
		}
		fi, err := os.Stat(abs)
		if err != nil || fi.IsDir() {
			continue
		}
		raw, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", abs, err)
		}
		break
	}

	c.applyEnv("ECOTRADER_")

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks ranges and enumerations, filling blanks with defaults
// where that is safe.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		c.App.Name = "ecotrader"
	}
	switch strings.ToLower(c.App.Env) {
	case "":
		c.App.Env = "dev"
	case "dev", "staging", "prod":
	default:
		return fmt.Errorf("app.env invalid: %s (want dev|staging|prod)", c.App.Env)
	}
	if c.App.Timezone == "" {
		c.App.Timezone = "Europe/London"
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("app.timezone invalid: %w", err)
	}
	if c.App.DataDir == "" {
		c.App.DataDir = "./data"
	}

	if c.Trading.IntervalSec <= 0 {
		c.Trading.IntervalSec = 3600
	}
	if c.Trading.Capital <= 0 {
		return errors.New("trading.capital must be > 0")
	}
	if c.Trading.StopLossPct <= 0 || c.Trading.StopLossPct >= 1 {
		return errors.New("trading.stopLossPct must be in (0,1)")
	}
	if c.Trading.TakeProfitPct <= 0 || c.Trading.TakeProfitPct >= 1 {
		return errors.New("trading.takeProfitPct must be in (0,1)")
	}

	switch c.Strategy.Active {
	case "":
		c.Strategy.Active = "ensemble"
	case "moving_average", "enhanced_ma", "volatility", "mean_reversion", "ensemble":
	default:
		return fmt.Errorf("strategy.active invalid: %s", c.Strategy.Active)
	}
	if c.Strategy.SMAShort <= 0 {
		c.Strategy.SMAShort = 5
	}
	if c.Strategy.SMALong <= c.Strategy.SMAShort {
		return fmt.Errorf("strategy.smaLong (%d) must exceed smaShort (%d)", c.Strategy.SMALong, c.Strategy.SMAShort)
	}
	if c.Strategy.Lookback <= 1 {
		c.Strategy.Lookback = 20
	}
	if c.Strategy.VolFactor <= 0 {
		c.Strategy.VolFactor = 2.0
	}
	if len(c.Strategy.Weights) != 0 && len(c.Strategy.Weights) != 4 {
		return fmt.Errorf("strategy.weights needs 4 entries, got %d", len(c.Strategy.Weights))
	}

	switch c.Risk.Mode {
	case "":
		c.Risk.Mode = "advanced"
	case "basic", "advanced":
	default:
		return fmt.Errorf("risk.mode invalid: %s (want basic|advanced)", c.Risk.Mode)
	}
	if c.Risk.MaxDrawdown < 0 || c.Risk.MaxDrawdown > 1 {
		return errors.New("risk.maxDrawdown must be in [0,1]")
	}
	if c.Risk.MaxCorrelation < 0 || c.Risk.MaxCorrelation > 1 {
		return errors.New("risk.maxCorrelation must be in [0,1]")
	}
	if c.Risk.MaxPositions < 0 {
		return errors.New("risk.maxPositions cannot be negative")
	}

	if c.Backtest.Days <= 0 {
		c.Backtest.Days = 252
	}
	if c.Backtest.Capital <= 0 {
		c.Backtest.Capital = c.Trading.Capital
	}

	if c.Data.CacheDir == "" {
		c.Data.CacheDir = filepath.Join(c.App.DataDir, "history")
	}
	if c.Data.HistoryDays <= 0 {
		c.Data.HistoryDays = 300
	}

	if c.Server.Enable && c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}

	if c.Storage.JournalPath == "" {
		c.Storage.JournalPath = filepath.Join(c.App.DataDir, "journal.db")
	}
	if c.Storage.StatsDir == "" {
		c.Storage.StatsDir = "./stats"
	}

	switch strings.ToLower(c.Logging.Level) {
	case "":
		c.Logging.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level invalid: %s", c.Logging.Level)
	}

	if len(c.Universe) == 0 {
		return errors.New("universe needs at least one instrument")
	}
	for i, u := range c.Universe {
		if u.Symbol == "" {
			return fmt.Errorf("universe[%d]: symbol is required", i)
		}
	}
	return nil
}

// ===================== Environment overrides =====================

func (c *Config) applyEnv(prefix string) {
	c.App.Name = pickStr(os.Getenv(prefix+"APP_NAME"), c.App.Name)
	c.App.Env = pickStr(os.Getenv(prefix+"APP_ENV"), c.App.Env)
	c.App.DataDir = pickStr(os.Getenv(prefix+"APP_DATA_DIR"), c.App.DataDir)
	c.App.Timezone = pickStr(os.Getenv(prefix+"APP_TIMEZONE"), c.App.Timezone)

	c.Trading.Paper = pickBool(os.Getenv(prefix+"TRADING_PAPER"), c.Trading.Paper)
	c.Trading.IntervalSec = pickInt(os.Getenv(prefix+"TRADING_INTERVAL_SEC"), c.Trading.IntervalSec)
	c.Trading.Capital = pickFloat(os.Getenv(prefix+"TRADING_CAPITAL"), c.Trading.Capital)
	c.Trading.StopLossPct = pickFloat(os.Getenv(prefix+"TRADING_STOP_LOSS_PCT"), c.Trading.StopLossPct)
	c.Trading.TakeProfitPct = pickFloat(os.Getenv(prefix+"TRADING_TAKE_PROFIT_PCT"), c.Trading.TakeProfitPct)

	c.Strategy.Active = pickStr(os.Getenv(prefix+"STRATEGY_ACTIVE"), c.Strategy.Active)
	c.Strategy.SMAShort = pickInt(os.Getenv(prefix+"STRATEGY_SMA_SHORT"), c.Strategy.SMAShort)
	c.Strategy.SMALong = pickInt(os.Getenv(prefix+"STRATEGY_SMA_LONG"), c.Strategy.SMALong)
	c.Strategy.Lookback = pickInt(os.Getenv(prefix+"STRATEGY_LOOKBACK"), c.Strategy.Lookback)

	c.Risk.Mode = pickStr(os.Getenv(prefix+"RISK_MODE"), c.Risk.Mode)
	c.Risk.MaxPortfolioRisk = pickFloat(os.Getenv(prefix+"RISK_MAX_PORTFOLIO_RISK"), c.Risk.MaxPortfolioRisk)
	c.Risk.MaxDrawdown = pickFloat(os.Getenv(prefix+"RISK_MAX_DRAWDOWN"), c.Risk.MaxDrawdown)
	c.Risk.MaxCorrelation = pickFloat(os.Getenv(prefix+"RISK_MAX_CORRELATION"), c.Risk.MaxCorrelation)
	c.Risk.MaxPositions = pickInt(os.Getenv(prefix+"RISK_MAX_POSITIONS"), c.Risk.MaxPositions)
	c.Risk.SizingMethod = pickStr(os.Getenv(prefix+"RISK_SIZING_METHOD"), c.Risk.SizingMethod)

	c.Backtest.Days = pickInt(os.Getenv(prefix+"BACKTEST_DAYS"), c.Backtest.Days)
	c.Backtest.Capital = pickFloat(os.Getenv(prefix+"BACKTEST_CAPITAL"), c.Backtest.Capital)

	c.Data.CacheDir = pickStr(os.Getenv(prefix+"DATA_CACHE_DIR"), c.Data.CacheDir)
	c.Data.HistoryDays = pickInt(os.Getenv(prefix+"DATA_HISTORY_DAYS"), c.Data.HistoryDays)
	c.Data.RefreshOnRun = pickBool(os.Getenv(prefix+"DATA_REFRESH_ON_RUN"), c.Data.RefreshOnRun)

	c.Broker.WSURL = pickStr(os.Getenv(prefix+"BROKER_WS_URL"), c.Broker.WSURL)
	c.Broker.HTTPURL = pickStr(os.Getenv(prefix+"BROKER_HTTP_URL"), c.Broker.HTTPURL)
	c.Broker.APIKey = pickStr(os.Getenv(prefix+"BROKER_API_KEY"), c.Broker.APIKey)
	c.Broker.APISecret = pickStr(os.Getenv(prefix+"BROKER_API_SECRET"), c.Broker.APISecret)
	c.Broker.Account = pickStr(os.Getenv(prefix+"BROKER_ACCOUNT"), c.Broker.Account)

	c.Server.Enable = pickBool(os.Getenv(prefix+"SERVER_ENABLE"), c.Server.Enable)
	c.Server.Listen = pickStr(os.Getenv(prefix+"SERVER_LISTEN"), c.Server.Listen)

	c.Storage.JournalPath = pickStr(os.Getenv(prefix+"STORAGE_JOURNAL_PATH"), c.Storage.JournalPath)
	c.Storage.StatsDir = pickStr(os.Getenv(prefix+"STORAGE_STATS_DIR"), c.Storage.StatsDir)

	c.Logging.Level = pickStr(os.Getenv(prefix+"LOG_LEVEL"), c.Logging.Level)
	c.Logging.File = pickStr(os.Getenv(prefix+"LOG_FILE"), c.Logging.File)

	if v := os.Getenv(prefix + "UNIVERSE_SYMBOLS"); v != "" {
		symbols := splitCSV(v)
		universe := make([]Instrument, len(symbols))
		for i, s := range symbols {
			universe[i] = Instrument{Symbol: s}
		}
		c.Universe = universe
	}
}

// ===================== Small helpers =====================

func pickStr(env, cur string) string {
	if strings.TrimSpace(env) != "" {
		return strings.TrimSpace(env)
	}
	return cur
}

func pickInt(env string, cur int) int {
	if strings.TrimSpace(env) == "" {
		return cur
	}
	if v, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
		return v
	}
	return cur
}

func pickFloat(env string, cur float64) float64 {
	if strings.TrimSpace(env) == "" {
		return cur
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
		return v
	}
	return cur
}

func pickBool(env string, cur bool) bool {
	if strings.TrimSpace(env) == "" {
		return cur
	}
	s := strings.ToLower(strings.TrimSpace(env))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
