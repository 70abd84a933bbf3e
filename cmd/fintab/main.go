package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/log"
	"github.com/k0kubun/pp/v3"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/fintab/fintab/pkg/config"
	"github.com/fintab/fintab/pkg/link"
	"github.com/fintab/fintab/pkg/plaid"
	"github.com/fintab/fintab/pkg/service"
	"github.com/fintab/fintab/pkg/sink"
	"github.com/fintab/fintab/pkg/store"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "fintab",
	Short: "Sync bank accounts and transactions from Plaid into a spreadsheet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch transactions for every linked account and export them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}

		startFlag, _ := cmd.Flags().GetString("start")
		endFlag, _ := cmd.Flags().GetString("end")
		start, end, err := window(cfg, startFlag, endFlag)
		if err != nil {
			return err
		}

		dump, _ := cmd.Flags().GetBool("dump")
		return runSync(ctx, cfg, logger, start, end, dump)
	},
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link a new bank account via the provider's Link widget",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}

		st, err := store.Load(cfg.StorePath)
		if err != nil {
			return err
		}

		srv, err := link.Start(link.Options{
			Port:        cfg.LinkPort,
			Environment: cfg.PlaidEnvironment,
			PublicKey:   cfg.PlaidPublicKey,
		}, newClient(cfg), st, logger)
		if err != nil {
			return err
		}
		defer srv.Stop()

		fmt.Printf("Open %s in a browser to link an account.\n", srv.URL())

		result, err := srv.Wait(ctx)
		if errors.Is(err, link.ErrCancelled) {
			logger.Warn("link flow cancelled")
			return nil
		}
		if err != nil {
			return err
		}

		logger.Info("account linked", "item", result.ItemID, "store", cfg.StorePath)
		return nil
	},
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List linked accounts and their display names",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}

		st, err := store.Load(cfg.StorePath)
		if err != nil {
			return err
		}

		client := newClient(cfg)
		for _, account := range st.All() {
			name := "Error fetching account name"
			raws, err := client.GetAccounts(ctx, account.Token)
			if err != nil {
				logger.Warn("name lookup failed", "account", account.ID, "error", err)
			} else if len(raws) > 0 {
				name = raws[0].Name
			}
			fmt.Printf("%s\t%s\t%s\n", account.ID, account.Integration, name)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled fetch-and-export cycles",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}

		c := cron.New()
		_, err = c.AddFunc(cfg.CronSchedule, func() {
			start, end, err := window(cfg, "", "")
			if err != nil {
				logger.Error("bad fetch window", "error", err)
				return
			}
			if err := runSync(ctx, cfg, logger, start, end, false); err != nil {
				logger.Error("scheduled sync failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid cron schedule %q: %w", cfg.CronSchedule, err)
		}

		logger.Info("scheduler started", "schedule", cfg.CronSchedule)
		c.Start()
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	},
}

func setup(cmd *cobra.Command) (*config.Config, *log.Logger, error) {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "fintab",
		Level:           level,
	})

	cfg, err := config.Build(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.RequirePlaid(); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newClient(cfg *config.Config) *plaid.Client {
	return plaid.New(cfg.PlaidClientID, cfg.PlaidSecret,
		plaid.WithBaseURL(plaid.EnvironmentURL(cfg.PlaidEnvironment)))
}

// window resolves the fetch date range: explicit flags win, otherwise the
// configured number of days back from today.
func window(cfg *config.Config, startFlag, endFlag string) (time.Time, time.Time, error) {
	end := time.Now()
	if endFlag != "" {
		var err error
		if end, err = time.Parse(time.DateOnly, endFlag); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing --end: %w", err)
		}
	}

	start := end.AddDate(0, 0, -cfg.WindowDays)
	if startFlag != "" {
		var err error
		if start, err = time.Parse(time.DateOnly, startFlag); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing --start: %w", err)
		}
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start date %s is after end date %s",
			start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	return start, end, nil
}

func runSync(ctx context.Context, cfg *config.Config, logger *log.Logger, start, end time.Time, dump bool) error {
	st, err := store.Load(cfg.StorePath)
	if err != nil {
		return err
	}
	if len(st.All()) == 0 {
		return fmt.Errorf("no linked accounts in %s, run `fintab link` first", cfg.StorePath)
	}

	syncer := service.New(newClient(cfg), logger)
	result := syncer.FetchAll(ctx, st.All(), start, end)

	if dump {
		pp.Println(result.Accounts)
	}

	target, err := buildSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return target.Write(ctx, sink.Update{
		RunID:     result.RunID,
		FetchedAt: result.FetchedAt,
		Accounts:  result.Accounts,
	})
}

func buildSink(ctx context.Context, cfg *config.Config, logger *log.Logger) (sink.Sink, error) {
	switch cfg.Sink {
	case "csv":
		return sink.NewCSV(cfg.OutputDir, nil, logger), nil
	case "sheets":
		if cfg.SpreadsheetID == "" {
			return nil, errors.New("SPREADSHEET_ID must be set for the sheets sink")
		}
		return sink.NewSheets(ctx, cfg.SheetsCredentials, cfg.SpreadsheetID, nil, logger)
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default is fintab.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	fetchCmd.Flags().String("start", "", "Fetch window start (YYYY-MM-DD)")
	fetchCmd.Flags().String("end", "", "Fetch window end (YYYY-MM-DD)")
	fetchCmd.Flags().Bool("dump", false, "Pretty-print fetched accounts to stdout")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
