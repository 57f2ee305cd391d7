package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"gamerent/internal/config"
	"gamerent/internal/logging"
	"gamerent/pkg/bus"
	"gamerent/pkg/db"
	gs3 "gamerent/pkg/s3"
	"gamerent/services/ledger"
	"gamerent/services/rentals"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gamerentctl",
		Short:         "Operator tooling for the game rental store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newDurationsCommand())
	cmd.AddCommand(newPaymentsCommand())
	cmd.AddCommand(newRentalsCommand())
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func loadConfig(ctx context.Context) (config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logging.Setup(cfg.LogFormat, cfg.LogLevel)
	return cfg, nil
}

// openService connects the ORM and, when NATS_URL is set, the event bus, and returns the
// rentals service plus a close func.
func openService(ctx context.Context, cfg config.Config) (*rentals.Service, func(), error) {
	events, err := connectEvents(cfg)
	if err != nil {
		return nil, nil, err
	}

	var opts []rentals.Option
	if events != nil {
		opts = append(opts, rentals.WithPublisher(events))
	}

	orm, err := db.OpenORM(ctx, cfg.DBDSN)
	if err != nil {
		events.Close()
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	svc, err := rentals.NewService(orm, opts...)
	if err != nil {
		_ = db.CloseORM(orm)
		events.Close()
		return nil, nil, err
	}
	return svc, func() {
		_ = db.CloseORM(orm)
		events.Close()
	}, nil
}

// connectEvents returns nil when no NATS URL is configured.
func connectEvents(cfg config.Config) (*bus.Bus, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	events, err := bus.New(cfg.NATSURL, nats.Timeout(5*time.Second), nats.MaxReconnects(0))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	if err := events.EnsureStream(rentals.StreamName, rentals.Subjects, cfg.EventMaxAge); err != nil {
		events.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return events, nil
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			pool, err := db.Open(ctx, cfg.DBDSN)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newDurationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "durations",
		Short: "Rental duration price options",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newDurationsImportCommand())
	return cmd
}

func newDurationsImportCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert the price options listed in a YAML price table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			table, err := rentals.LoadPriceTable(f)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			svc, closeDB, err := openService(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			n, err := svc.ImportPriceTable(ctx, table)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d price options for %d games\n", n, len(table.Games))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to the YAML price table")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newPaymentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "Payment ledger operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newPaymentsExportCommand())
	return cmd
}

func newPaymentsExportCommand() *cobra.Command {
	var local string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the payment ledger as CSV, to S3 or a local file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			svc, closeDB, err := openService(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			if local != "" {
				return exportLocal(ctx, svc, local)
			}

			if cfg.S3.Endpoint == "" {
				return errors.New("S3_ENDPOINT is not set; use --output to write a local file")
			}
			client, err := gs3.NewClient(ctx, gs3.Config{
				Endpoint:       cfg.S3.Endpoint,
				AccessKey:      cfg.S3.AccessKey,
				SecretKey:      cfg.S3.SecretKey,
				Region:         cfg.S3.Region,
				DisableTLS:     cfg.S3.DisableTLS,
				ForcePathStyle: cfg.S3.ForcePathStyle,
			})
			if err != nil {
				return fmt.Errorf("s3 client: %w", err)
			}
			exporter, err := ledger.NewExporter(svc, client, cfg.S3.Bucket, cfg.ExportURLTTL)
			if err != nil {
				return err
			}
			res, err := exporter.Export(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "uploaded %d payments (%s) to s3://%s/%s\n", res.Count, res.TotalAmount.StringFixed(2), cfg.S3.Bucket, res.Key)
			fmt.Fprintf(out, "sha256: %s\n", res.SHA256)
			fmt.Fprintf(out, "download: %s\n", res.URL)
			return nil
		},
	}

	cmd.Flags().StringVar(&local, "output", "", "Write plain CSV to this path instead of uploading")
	return cmd
}

func exportLocal(ctx context.Context, svc *rentals.Service, path string) error {
	list, err := svc.ListPayments(ctx)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := ledger.WriteCSV(f, list.Payments); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func newRentalsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rentals",
		Short: "Rental maintenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "expire",
		Short: "Run one expiry sweep over active rentals",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			svc, closeDB, err := openService(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			n, err := rentals.NewSweeper(svc, cfg.SweepInterval, nil).Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d rentals\n", n)
			return nil
		},
	})
	return cmd
}
