// Package config loads the exchange configuration from a YAML file and
// applies environment variable overrides. Defaults describe a small
// self-contained market so the server runs with no config file at all.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration of the exchange.
type Config struct {
	Server      Server       `yaml:"server"`
	Storage     Storage      `yaml:"storage"`
	Auth        Auth         `yaml:"auth"`
	Clock       Clock        `yaml:"clock"`
	Instruments []Instrument `yaml:"instruments"`
	Actors      []Actor      `yaml:"actors"`
	Bots        Bots         `yaml:"bots"`
}

// Server holds the HTTP listener configuration.
type Server struct {
	Port int `yaml:"port"`
}

// Storage holds the sqlite database location.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Auth holds JWT signing configuration.
type Auth struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Clock holds the cadence of each periodic pass, in milliseconds.
type Clock struct {
	SettleMS   int `yaml:"settle_ms"`
	PricingMS  int `yaml:"pricing_ms"`
	TradersMS  int `yaml:"traders_ms"`
	PolicyMS   int `yaml:"policy_ms"`
	SnapshotMS int `yaml:"snapshot_ms"`
}

// Instrument seeds one listed security.
type Instrument struct {
	Symbol            string  `yaml:"symbol"`
	Price             float64 `yaml:"price"`
	SharesOutstanding float64 `yaml:"shares_outstanding"`
	Revenue           float64 `yaml:"revenue"`
	Profit            float64 `yaml:"profit"`
	RndSpend          float64 `yaml:"rnd_spend"`
	BaseVolatility    float64 `yaml:"base_volatility"`
}

// Actor seeds one human participant's ledger account.
type Actor struct {
	ID       string             `yaml:"id"`
	Cash     float64            `yaml:"cash"`
	Holdings map[string]float64 `yaml:"holdings"`
}

// Bots configures the autonomous trader fleet.
type Bots struct {
	Short    int                `yaml:"short"`
	Long     int                `yaml:"long"`
	Trend    int                `yaml:"trend"`
	Cash     float64            `yaml:"cash"`
	Holdings map[string]float64 `yaml:"holdings"`
	Seed     int64              `yaml:"seed"`
}

// Settle returns the settle pass interval.
func (c Clock) Settle() time.Duration { return time.Duration(c.SettleMS) * time.Millisecond }

// Pricing returns the pricing pass interval.
func (c Clock) Pricing() time.Duration { return time.Duration(c.PricingMS) * time.Millisecond }

// Traders returns the trader pass interval.
func (c Clock) Traders() time.Duration { return time.Duration(c.TradersMS) * time.Millisecond }

// Policy returns the macro policy interval.
func (c Clock) Policy() time.Duration { return time.Duration(c.PolicyMS) * time.Millisecond }

// Snapshot returns the snapshot publication interval.
func (c Clock) Snapshot() time.Duration { return time.Duration(c.SnapshotMS) * time.Millisecond }

// Default returns the built-in configuration: three instruments, two human
// accounts, and a small mixed bot fleet.
func Default() *Config {
	return &Config{
		Server:  Server{Port: 8080},
		Storage: Storage{SQLitePath: "bourse.db"},
		Auth:    Auth{JWTSecret: "bourse-dev-secret"},
		Clock: Clock{
			SettleMS:   500,
			PricingMS:  1000,
			TradersMS:  750,
			PolicyMS:   15000,
			SnapshotMS: 250,
		},
		Instruments: []Instrument{
			{Symbol: "ACME", Price: 100, SharesOutstanding: 5000, Revenue: 800, Profit: 120, RndSpend: 60, BaseVolatility: 0.02},
			{Symbol: "GLOBO", Price: 45, SharesOutstanding: 12000, Revenue: 2400, Profit: 300, RndSpend: 150, BaseVolatility: 0.015},
			{Symbol: "INITECH", Price: 210, SharesOutstanding: 2000, Revenue: 500, Profit: 40, RndSpend: 220, BaseVolatility: 0.03},
		},
		Actors: []Actor{
			{ID: "alice", Cash: 100000, Holdings: map[string]float64{"ACME": 100, "GLOBO": 200}},
			{ID: "bob", Cash: 100000, Holdings: map[string]float64{"INITECH": 50}},
		},
		Bots: Bots{
			Short:    4,
			Long:     2,
			Trend:    2,
			Cash:     50000,
			Holdings: map[string]float64{"ACME": 200, "GLOBO": 400, "INITECH": 100},
			Seed:     1,
		},
	}
}

// Load reads the YAML file at path when it exists, falls back to Default
// otherwise, and applies environment overrides either way.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding fields when set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
}
