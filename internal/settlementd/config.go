package settlementd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/MarkoPoloResearchLab/settlement/internal/dedupe"
	"github.com/MarkoPoloResearchLab/settlement/internal/gateway/phonepe"
	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
)

// Store drivers.
const (
	StoreDriverGORM   = "gorm"
	StoreDriverPGX    = "pgx"
	StoreDriverMemory = "memory"
)

// Reconciliation schedulers.
const (
	SchedulerTicker = "ticker"
	SchedulerRiver  = "river"
	SchedulerNone   = "none"
)

const (
	defaultListenAddr     = ":8080"
	defaultGRPCListenAddr = ":7000"
	defaultDatabaseURL    = "sqlite:///tmp/settlement.db"
	defaultLockTimeout    = 5 * time.Second
	defaultHealthInterval = 30 * time.Second
)

// Config aggregates runtime settings for the settlement daemon.
type Config struct {
	ListenAddr     string        `validate:"required"`
	GRPCListenAddr string        `validate:"required"`
	DatabaseURL    string        `validate:"required"`
	StoreDriver    string        `validate:"oneof=gorm pgx memory"`
	Scheduler      string        `validate:"oneof=ticker river none"`
	Currency       string        `validate:"len=3,alpha"`
	AllowedOrigins []string      `validate:"dive,required"`
	RedisURL       string        `validate:"omitempty,url"`
	DedupeTTL      time.Duration `validate:"gt=0s"`
	LockTimeout    time.Duration `validate:"gte=0s"`
	HealthInterval time.Duration `validate:"gt=0s"`
	Sweep          settlement.SweepConfig
	PhonePe        phonepe.Config
}

var configValidator = validator.New()

// Validate fills defaults and checks the configuration.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.StoreDriver = strings.ToLower(defaultIfEmpty(cfg.StoreDriver, StoreDriverGORM))
	cfg.Scheduler = strings.ToLower(defaultIfEmpty(cfg.Scheduler, SchedulerTicker))
	cfg.Currency = strings.ToUpper(defaultIfEmpty(cfg.Currency, ledger.DefaultCurrency))
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = dedupe.DefaultTTL
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaultHealthInterval
	}
	defaults := settlement.DefaultSweepConfig()
	if cfg.Sweep.Interval <= 0 {
		cfg.Sweep.Interval = defaults.Interval
	}
	if cfg.Sweep.Staleness <= 0 {
		cfg.Sweep.Staleness = defaults.Staleness
	}
	if cfg.Sweep.BatchSize <= 0 {
		cfg.Sweep.BatchSize = defaults.BatchSize
	}
	if cfg.Sweep.GatewayTimeout <= 0 {
		cfg.Sweep.GatewayTimeout = defaults.GatewayTimeout
	}

	if err := configValidator.Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			first := validationErrors[0]
			return fmt.Errorf("invalid %s: failed %q check", first.Namespace(), first.Tag())
		}
		return err
	}
	if err := cfg.PhonePe.Validate(); err != nil {
		return err
	}
	if cfg.StoreDriver == StoreDriverPGX && !isPostgresURL(cfg.DatabaseURL) {
		return fmt.Errorf("store driver %s requires a postgres database url", StoreDriverPGX)
	}
	if cfg.Scheduler == SchedulerRiver && !isPostgresURL(cfg.DatabaseURL) {
		return fmt.Errorf("scheduler %s requires a postgres database url", SchedulerRiver)
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
