package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MarkoPoloResearchLab/settlement/internal/settlementd"
)

const (
	flagListenAddr         = "listen-addr"
	flagGRPCListenAddr     = "grpc-listen-addr"
	flagDatabaseURL        = "database-url"
	flagStoreDriver        = "store-driver"
	flagScheduler          = "scheduler"
	flagCurrency           = "currency"
	flagAllowedOrigins     = "allowed-origins"
	flagRedisURL           = "redis-url"
	flagDedupeTTL          = "dedupe-ttl"
	flagLockTimeout        = "lock-timeout"
	flagHealthInterval     = "health-interval"
	flagSweepInterval      = "sweep-interval"
	flagSweepStaleness     = "sweep-staleness"
	flagSweepBatchSize     = "sweep-batch-size"
	flagGatewayTimeout     = "gateway-timeout"
	flagPhonePeMerchantID  = "phonepe-merchant-id"
	flagPhonePeSaltKey     = "phonepe-salt-key"
	flagPhonePeSaltIndex   = "phonepe-salt-index"
	flagPhonePeAPIURL      = "phonepe-api-url"
	flagPhonePeRedirectURL = "phonepe-redirect-url"
	flagPhonePeCallbackURL = "phonepe-callback-url"
	envPrefix              = "SETTLEMENTD"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "settlementd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := settlementd.Config{}
	cmd := &cobra.Command{
		Use:           "settlementd",
		Short:         "Wallet ledger and payment settlement server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return settlementd.Run(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address (default :8080)")
	cmd.Flags().String(flagGRPCListenAddr, "", "gRPC listen address (default :7000)")
	cmd.Flags().String(flagDatabaseURL, "", "postgres:// or sqlite:// database url")
	cmd.Flags().String(flagStoreDriver, "", "store backend: gorm, pgx or memory")
	cmd.Flags().String(flagScheduler, "", "reconciliation scheduler: ticker, river or none")
	cmd.Flags().String(flagCurrency, "", "ledger currency code (default INR)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagRedisURL, "", "redis url for webhook dedupe (optional)")
	cmd.Flags().Duration(flagDedupeTTL, 0, "how long processed webhooks are remembered")
	cmd.Flags().Duration(flagLockTimeout, 0, "database lock wait limit")
	cmd.Flags().Duration(flagHealthInterval, 0, "store health check interval")
	cmd.Flags().Duration(flagSweepInterval, 0, "reconciliation interval")
	cmd.Flags().Duration(flagSweepStaleness, 0, "minimum order age before reconciliation")
	cmd.Flags().Int(flagSweepBatchSize, 0, "orders examined per reconciliation pass")
	cmd.Flags().Duration(flagGatewayTimeout, 0, "per-call gateway timeout")
	cmd.Flags().String(flagPhonePeMerchantID, "", "PhonePe merchant id (required)")
	cmd.Flags().String(flagPhonePeSaltKey, "", "PhonePe salt key (required)")
	cmd.Flags().String(flagPhonePeSaltIndex, "", "PhonePe salt index (default 1)")
	cmd.Flags().String(flagPhonePeAPIURL, "", "PhonePe API base url")
	cmd.Flags().String(flagPhonePeRedirectURL, "", "where PhonePe sends the user after paying")
	cmd.Flags().String(flagPhonePeCallbackURL, "", "webhook url PhonePe calls")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *settlementd.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{
		flagListenAddr, flagGRPCListenAddr, flagDatabaseURL, flagStoreDriver, flagScheduler, flagCurrency,
		flagAllowedOrigins, flagRedisURL, flagDedupeTTL, flagLockTimeout, flagHealthInterval,
		flagSweepInterval, flagSweepStaleness, flagSweepBatchSize, flagGatewayTimeout,
		flagPhonePeMerchantID, flagPhonePeSaltKey, flagPhonePeSaltIndex, flagPhonePeAPIURL,
		flagPhonePeRedirectURL, flagPhonePeCallbackURL,
	} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.StoreDriver = strings.TrimSpace(v.GetString(flagStoreDriver))
	cfg.Scheduler = strings.TrimSpace(v.GetString(flagScheduler))
	cfg.Currency = strings.TrimSpace(v.GetString(flagCurrency))
	cfg.AllowedOrigins = settlementd.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.RedisURL = strings.TrimSpace(v.GetString(flagRedisURL))
	cfg.DedupeTTL = v.GetDuration(flagDedupeTTL)
	cfg.LockTimeout = v.GetDuration(flagLockTimeout)
	cfg.HealthInterval = v.GetDuration(flagHealthInterval)
	cfg.Sweep.Interval = v.GetDuration(flagSweepInterval)
	cfg.Sweep.Staleness = v.GetDuration(flagSweepStaleness)
	cfg.Sweep.BatchSize = v.GetInt(flagSweepBatchSize)
	cfg.Sweep.GatewayTimeout = v.GetDuration(flagGatewayTimeout)
	cfg.PhonePe.MerchantID = strings.TrimSpace(v.GetString(flagPhonePeMerchantID))
	cfg.PhonePe.SaltKey = v.GetString(flagPhonePeSaltKey)
	cfg.PhonePe.SaltIndex = strings.TrimSpace(v.GetString(flagPhonePeSaltIndex))
	cfg.PhonePe.APIURL = strings.TrimSpace(v.GetString(flagPhonePeAPIURL))
	cfg.PhonePe.RedirectURL = strings.TrimSpace(v.GetString(flagPhonePeRedirectURL))
	cfg.PhonePe.CallbackURL = strings.TrimSpace(v.GetString(flagPhonePeCallbackURL))

	return cfg.Validate()
}
