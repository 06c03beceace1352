// Package config содержит логику чтения конфигурации сервиса книговыдачи.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/circulation-system/internal/circulation"
)

// Config содержит параметры конфигурации сервиса книговыдачи.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	AuthSecret  string `env:"AUTH_SECRET"`

	LoanPeriod         time.Duration `env:"LOAN_PERIOD"`
	MaxRenewals        int           `env:"MAX_RENEWALS"`
	DailyFineCents     int64         `env:"DAILY_FINE_CENTS"`
	DefaultBorrowLimit int           `env:"DEFAULT_BORROW_LIMIT"`
	MembershipPeriod   time.Duration `env:"MEMBERSHIP_PERIOD"`

	OverdueSweepInterval time.Duration `env:"OVERDUE_SWEEP_INTERVAL"`
}

const defaultOverdueSweepInterval = time.Hour

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI; in-memory storage when empty")
	flag.StringVar(&cfg.AuthSecret, "s", "", "library card signing secret")
	flag.DurationVar(&cfg.LoanPeriod, "loan-period", circulation.DefaultLoanPeriod, "loan period")
	flag.IntVar(&cfg.MaxRenewals, "max-renewals", circulation.DefaultMaxRenewals, "maximum renewals per loan")
	flag.Int64Var(&cfg.DailyFineCents, "daily-fine", circulation.DefaultDailyFineCents, "fine per overdue day in cents")
	flag.IntVar(&cfg.DefaultBorrowLimit, "borrow-limit", circulation.DefaultBorrowLimit, "default borrowing limit for new patrons")
	flag.DurationVar(&cfg.MembershipPeriod, "membership-period", circulation.DefaultMembershipPeriod, "membership period")
	flag.DurationVar(&cfg.OverdueSweepInterval, "sweep-interval", defaultOverdueSweepInterval, "overdue sweep interval, 0 disables")

	flag.Parse()

	overrides := map[string]func(){
		"RUN_ADDRESS":            func() { cfg.RunAddress = envCfg.RunAddress },
		"DATABASE_URI":           func() { cfg.DatabaseURI = envCfg.DatabaseURI },
		"AUTH_SECRET":            func() { cfg.AuthSecret = envCfg.AuthSecret },
		"LOAN_PERIOD":            func() { cfg.LoanPeriod = envCfg.LoanPeriod },
		"MAX_RENEWALS":           func() { cfg.MaxRenewals = envCfg.MaxRenewals },
		"DAILY_FINE_CENTS":       func() { cfg.DailyFineCents = envCfg.DailyFineCents },
		"DEFAULT_BORROW_LIMIT":   func() { cfg.DefaultBorrowLimit = envCfg.DefaultBorrowLimit },
		"MEMBERSHIP_PERIOD":      func() { cfg.MembershipPeriod = envCfg.MembershipPeriod },
		"OVERDUE_SWEEP_INTERVAL": func() { cfg.OverdueSweepInterval = envCfg.OverdueSweepInterval },
	}
	for key, apply := range overrides {
		if _, ok := os.LookupEnv(key); ok {
			apply()
		}
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Policy возвращает параметры правил книговыдачи.
func (c *Config) Policy() circulation.Policy {
	return circulation.Policy{
		LoanPeriod:       c.LoanPeriod,
		MaxRenewals:      c.MaxRenewals,
		DailyFineCents:   c.DailyFineCents,
		BorrowLimit:      c.DefaultBorrowLimit,
		MembershipPeriod: c.MembershipPeriod,
	}
}

// Validate проверяет согласованность параметров.
func (c *Config) Validate() error {
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	if c.OverdueSweepInterval < 0 {
		return errors.New("overdue sweep interval must not be negative")
	}
	return nil
}
