package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/n0obHere/lago-api/internal/httpserver"
	"github.com/n0obHere/lago-api/internal/notifier/amqpnotifier"
	"github.com/n0obHere/lago-api/internal/refresher"
	"github.com/n0obHere/lago-api/internal/store/gormstore"
	"github.com/n0obHere/lago-api/pkg/wallet"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL     = "database-url"
	flagListenAddr      = "listen-addr"
	flagAMQPURL         = "amqp-url"
	flagRefreshInterval = "refresh-interval"
	flagRefreshBatch    = "refresh-batch-size"

	configKeyDatabaseURL     = "database_url"
	configKeyListenAddr      = "listen_addr"
	configKeyAMQPURL         = "amqp_url"
	configKeyRefreshInterval = "refresh_interval"
	configKeyRefreshBatch    = "refresh_batch_size"

	defaultDatabaseURL     = "sqlite:///tmp/wallets.db"
	defaultHTTPListenAddr  = ":3000"
	defaultRefreshInterval = time.Minute
	defaultRefreshBatch    = 100
)

type runtimeConfig struct {
	DatabaseURL     string
	ListenAddr      string
	AMQPURL         string
	RefreshInterval time.Duration
	RefreshBatch    int
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "walletd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "walletd",
		Short:         "Prepaid wallet ledger HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or SQLite connection string")
	cmd.Flags().String(flagListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAMQPURL, "", "RabbitMQ URL for webhooks and billing triggers (empty disables publishing)")
	cmd.Flags().Duration(flagRefreshInterval, defaultRefreshInterval, "Ongoing balance refresh interval")
	cmd.Flags().Int(flagRefreshBatch, defaultRefreshBatch, "Wallets refreshed per cycle")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:     "DATABASE_URL",
		configKeyListenAddr:      "HTTP_LISTEN_ADDR",
		configKeyAMQPURL:         "AMQP_URL",
		configKeyRefreshInterval: "REFRESH_INTERVAL",
		configKeyRefreshBatch:    "REFRESH_BATCH_SIZE",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}
	flags := map[string]string{
		configKeyDatabaseURL:     flagDatabaseURL,
		configKeyListenAddr:      flagListenAddr,
		configKeyAMQPURL:         flagAMQPURL,
		configKeyRefreshInterval: flagRefreshInterval,
		configKeyRefreshBatch:    flagRefreshBatch,
	}
	for key, flag := range flags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultHTTPListenAddr
	}
	cfg.AMQPURL = viper.GetString(configKeyAMQPURL)
	cfg.RefreshInterval = viper.GetDuration(configKeyRefreshInterval)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	cfg.RefreshBatch = viper.GetInt(configKeyRefreshBatch)
	if cfg.RefreshBatch <= 0 {
		cfg.RefreshBatch = defaultRefreshBatch
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if driver == "sqlite" {
		if err := gormstore.Migrate(gormDB); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }

	var notifier wallet.Notifier = noopNotifier{}
	var billing wallet.BillingScheduler = noopBilling{logger: logger}
	if cfg.AMQPURL != "" {
		publisher, err := amqpnotifier.New(cfg.AMQPURL, logger)
		if err != nil {
			return fmt.Errorf("amqp init: %w", err)
		}
		defer publisher.Close()
		notifier = publisher
		billing = publisher
	}

	walletService, err := wallet.NewService(
		store,
		billing,
		notifier,
		zeroInvoiceQuery{},
		clock,
		wallet.WithOperationLogger(zapOperationLogger{logger: logger}),
	)
	if err != nil {
		return fmt.Errorf("wallet service init: %w", err)
	}

	go refresher.New(walletService, zeroUsageSource{}, cfg.RefreshInterval, cfg.RefreshBatch, logger).Run(ctx)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpserver.NewServer(walletService, logger).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", zap.String("listen_addr", cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if serveErr := <-errCh; serveErr != nil && serveErr != http.ErrServerClosed {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if serveErr == http.ErrServerClosed {
			return nil
		}
		return serveErr
	}
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "wallets.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

// zapOperationLogger forwards domain operation logs to zap.
type zapOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger zapOperationLogger) LogOperation(_ context.Context, entry wallet.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("wallet_id", entry.WalletID.String()),
		zap.String("transaction_id", entry.TransactionID.String()),
		zap.Int64("amount_cents", entry.AmountCents),
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("wallet operation failed", fields...)
		return
	}
	operationLogger.logger.Info("wallet operation", fields...)
}

// noopNotifier drops events when no broker is configured.
type noopNotifier struct{}

func (noopNotifier) NotifyTransactionCreated(context.Context, wallet.Transaction) error { return nil }
func (noopNotifier) NotifyWalletDepleted(context.Context, wallet.Wallet) error          { return nil }

// noopBilling logs the trigger it would have enqueued. Purchased entries stay
// pending until something calls Settle.
type noopBilling struct {
	logger *zap.Logger
}

func (billing noopBilling) ScheduleBillPaidCredit(_ context.Context, transaction wallet.Transaction, referenceUnixUTC int64) error {
	billing.logger.Info("billing trigger skipped, no broker configured",
		zap.String("transaction_id", transaction.TransactionID.String()),
		zap.Int64("reference_unix_utc", referenceUnixUTC))
	return nil
}

// zeroInvoiceQuery stands in until an invoicing backend is attached.
type zeroInvoiceQuery struct{}

func (zeroInvoiceQuery) OpenInvoicesAmountCents(context.Context, wallet.CustomerID) (int64, error) {
	return 0, nil
}

// zeroUsageSource reports no metered usage; refresh cycles then fold in open
// invoices only.
type zeroUsageSource struct{}

func (zeroUsageSource) CurrentUsage(context.Context, wallet.Wallet) (wallet.UsageTotals, error) {
	return wallet.UsageTotals{}, nil
}
