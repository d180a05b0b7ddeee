package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mrlokans/bookshop/internal/access"
	"github.com/mrlokans/bookshop/internal/audit"
	"github.com/mrlokans/bookshop/internal/circuitbreaker"
	"github.com/mrlokans/bookshop/internal/config"
	"github.com/mrlokans/bookshop/internal/database"
	dbaudit "github.com/mrlokans/bookshop/internal/database/audit"
	"github.com/mrlokans/bookshop/internal/database/books"
	dbpayments "github.com/mrlokans/bookshop/internal/database/payments"
	"github.com/mrlokans/bookshop/internal/entrypoint"
	"github.com/mrlokans/bookshop/internal/logging"
	"github.com/mrlokans/bookshop/internal/notify"
	"github.com/mrlokans/bookshop/internal/payments"
)

// SweepPaymentsCommand runs one payment sweep outside the server, using the
// provider and publisher from the environment.
type SweepPaymentsCommand struct {
	DatabasePath string
	Age          time.Duration
	Limit        int
	Timeout      time.Duration
	Verbose      bool

	cfg *config.Config
}

func NewSweepPaymentsCommand() *SweepPaymentsCommand {
	return &SweepPaymentsCommand{cfg: config.NewConfig()}
}

func (cmd *SweepPaymentsCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("sweep-payments", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", cmd.cfg.Database.Path, "Path to the database file")
	fs.DurationVar(&cmd.Age, "age", cmd.cfg.Payments.SweepAge, "Only poll payments initiated longer ago than this")
	fs.IntVar(&cmd.Limit, "limit", cmd.cfg.Payments.SweepBatch, "Maximum number of payments to poll")
	fs.DurationVar(&cmd.Timeout, "timeout", 5*time.Minute, "Give up after this long")
	fs.BoolVar(&cmd.Verbose, "verbose", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s sweep-payments [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Ask the payment provider about payments still awaiting confirmation\n")
		fmt.Fprintf(os.Stderr, "and apply whatever it reports. Safe to run while the server is up.\n\n")
		fmt.Fprintf(os.Stderr, "Provider settings are read from PAYMENT_* environment variables.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s sweep-payments\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s sweep-payments -age 1h -limit 500 -verbose\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if cmd.Limit <= 0 {
		return fmt.Errorf("-limit must be positive")
	}
	return nil
}

func (cmd *SweepPaymentsCommand) Run() error {
	level := "info"
	if cmd.Verbose {
		level = "debug"
	}
	logger, err := logging.New(level, "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cmd.cfg.Payments.Provider == config.ProviderSandbox {
		logger.Warn("sandbox sessions live in the server process; every payment will report as failed to poll")
	}

	db, err := database.Open(cmd.DatabasePath, database.Options{})
	if err != nil {
		return err
	}
	defer db.Close()

	publisher, err := entrypoint.NewPublisher(cmd.cfg.Events, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	auditService := audit.NewService(dbaudit.NewRepository(db.DB), logger)
	defer auditService.Wait()
	dispatcher := notify.NewDispatcher(auditService, notify.Inline{Publisher: publisher}, logger)

	breaker := circuitbreaker.NewCircuitBreaker(cmd.cfg.Payments.BreakerMaxFailures, cmd.cfg.Payments.BreakerResetAfter)
	provider, err := entrypoint.NewProvider(cmd.cfg.Payments, breaker, logger)
	if err != nil {
		return err
	}

	svc := payments.NewService(
		books.NewRepository(db.DB),
		dbpayments.NewRepository(db.DB),
		provider,
		access.NewPolicy(),
		dispatcher,
		logger,
		payments.Config{ReturnURL: cmd.cfg.Payments.ReturnURL, ProviderTimeout: cmd.cfg.Payments.ProviderTimeout},
	)

	ctx, cancel := context.WithTimeout(context.Background(), cmd.Timeout)
	defer cancel()

	report, err := svc.SweepStale(ctx, cmd.Age, cmd.Limit)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	logger.Info("sweep finished",
		zap.Int("checked", report.Checked),
		zap.Int("applied", report.Applied),
		zap.Int("pending", report.Pending),
		zap.Int("failed", report.Failed))

	return json.NewEncoder(os.Stdout).Encode(report)
}
