// Package config loads the service configuration from a YAML file or CLI
// flags.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the service-level configuration.
type Config struct {
	ListenAddr      string
	FeedURL         string
	PostgresDSN     string
	WalDir          string
	MinBankroll     decimal.Decimal
	StartingBalance decimal.Decimal
}

type configTmp struct {
	ListenAddr      string `yaml:"listen_addr"`
	FeedURL         string `yaml:"feed_url"`
	PostgresDSN     string `yaml:"postgres_dsn"`
	WalDir          string `yaml:"wal_dir"`
	MinBankroll     string `yaml:"min_bankroll,omitempty"`
	StartingBalance string `yaml:"starting_balance,omitempty"`
}

const (
	defaultListenAddr      = ":8080"
	defaultWalDir          = "./wal"
	defaultMinBankroll     = "10"
	defaultStartingBalance = "10000"
)

// Get reads the configuration from --config yaml, falling back to flags.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	listen := flag.String("listen", defaultListenAddr, "control surface listen address")
	feedURL := flag.String("feed", "", "websocket tick feed URL")
	dsn := flag.String("postgres", os.Getenv("DATABASE_URL"), "postgres DSN")
	walDir := flag.String("waldir", defaultWalDir, "position journal directory")
	flag.Parse()

	if *configPath != "" {
		return getYaml(*configPath)
	}

	cfg := Config{
		ListenAddr:      *listen,
		FeedURL:         *feedURL,
		PostgresDSN:     *dsn,
		WalDir:          *walDir,
		MinBankroll:     decimal.RequireFromString(defaultMinBankroll),
		StartingBalance: decimal.RequireFromString(defaultStartingBalance),
	}
	return cfg, cfg.validate()
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp configTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:  tmp.ListenAddr,
		FeedURL:     tmp.FeedURL,
		PostgresDSN: tmp.PostgresDSN,
		WalDir:      tmp.WalDir,
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.WalDir == "" {
		cfg.WalDir = defaultWalDir
	}

	cfg.MinBankroll, err = parseMoney(tmp.MinBankroll, defaultMinBankroll, "min_bankroll")
	if err != nil {
		return Config{}, err
	}
	cfg.StartingBalance, err = parseMoney(tmp.StartingBalance, defaultStartingBalance, "starting_balance")
	if err != nil {
		return Config{}, err
	}

	return cfg, cfg.validate()
}

func parseMoney(raw, def, name string) (decimal.Decimal, error) {
	if raw == "" {
		raw = def
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("incorrect '%s' param in yaml config: %w", name, err)
	}
	return d, nil
}

func (c Config) validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres DSN is required (flag --postgres or DATABASE_URL)")
	}
	if c.MinBankroll.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("min_bankroll must be positive, got %s", c.MinBankroll)
	}
	if c.StartingBalance.LessThan(c.MinBankroll) {
		return fmt.Errorf("starting_balance %s below min_bankroll %s", c.StartingBalance, c.MinBankroll)
	}
	return nil
}
