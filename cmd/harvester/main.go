package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/runwatch/log-harvester/internal/config"
	"github.com/runwatch/log-harvester/internal/extract"
	"github.com/runwatch/log-harvester/internal/journal"
	"github.com/runwatch/log-harvester/internal/observability"
	"github.com/runwatch/log-harvester/internal/service"
	"github.com/runwatch/log-harvester/internal/store"
	"github.com/runwatch/log-harvester/internal/syncer"
	"github.com/runwatch/log-harvester/internal/traverse"
	"github.com/runwatch/log-harvester/internal/view"
)

const version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "harvester",
		Short:         "Walks a live log dashboard and syncs matching lines into a tabular store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(newRunCommand(&configPath))
	cmd.AddCommand(newCheckCommand(&configPath))
	cmd.AddCommand(newTailCommand(&configPath))

	return cmd
}

// setup loads the configuration and brings the logger up.
func setup(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogFile)
	return cfg, nil
}

// newStore opens the configured tabular store backend.
func newStore(ctx context.Context, cfg *config.Config) (store.TabularStore, func() error, error) {
	switch cfg.Store.Backend {
	case "clickhouse":
		s, err := store.NewClickHouseStore(ctx, cfg.Store.ClickHouse)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := store.NewSheetsStore(ctx, cfg.Store.Sheets)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	}
}

func newRunCommand(configPath *string) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start scheduled harvesting passes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(*configPath)
			if err != nil {
				return err
			}

			log.Info().
				Str("version", version).
				Str("dashboard", cfg.Dashboard.URL).
				Str("backend", cfg.Store.Backend).
				Msg("Starting log harvester")

			shutdownTracer, err := observability.InitTracer(observability.TracerConfig{
				ServiceName:    "log-harvester",
				ServiceVersion: version,
				Endpoint:       cfg.Tracing.Endpoint,
				Protocol:       cfg.Tracing.Protocol,
				Enabled:        cfg.Tracing.Enabled,
			})
			if err != nil {
				log.Error().Err(err).Msg("Failed to initialize tracer")
			} else {
				defer shutdownTracer(context.Background())
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			go func() {
				select {
				case sig := <-sigChan:
					log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
					cancel()
				case <-ctx.Done():
				}
			}()

			driver, err := view.NewDriver(view.Config{
				URL:           cfg.Dashboard.URL,
				Marker:        cfg.Dashboard.Marker,
				Headless:      cfg.Dashboard.Headless,
				UserAgent:     cfg.Dashboard.UserAgent,
				SettleDelay:   cfg.Dashboard.SettleDelay(),
				PageLoadWait:  cfg.Dashboard.PageLoadWait(),
				ActionTimeout: cfg.Dashboard.ActionTimeout(),
			})
			if err != nil {
				return fmt.Errorf("start browser driver: %w", err)
			}
			defer driver.Close()

			st, closeStore, err := newStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer closeStore()

			j, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer j.Close()

			traversal := traverse.NewEngine(
				driver,
				extract.NewExtractor(cfg.Dashboard.Marker),
				cfg.Dashboard.SearchQuery,
				cfg.Dashboard.MaxMatches,
			)
			syncEngine := syncer.NewEngine(st, syncer.Policy(cfg.Sync.Policy), cfg.Sync.Denylist, cfg.Sync.BatchSize)

			h := service.NewHarvester(cfg, traversal, syncEngine, j)

			if once {
				_, _, err := h.RunOnce(ctx)
				return err
			}

			if err := h.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")

	return cmd
}

func newCheckCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and store connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(*configPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			st, closeStore, err := newStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer closeStore()

			rows, err := st.ReadAllRows(ctx)
			if err != nil {
				return fmt.Errorf("read store: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Store backend %q reachable, %d rows present\n", cfg.Store.Backend, len(rows))

			if sheetsStore, ok := st.(*store.SheetsStore); ok {
				titles, err := sheetsStore.Worksheets(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Worksheets: %v\n", titles)
			}

			return nil
		},
	}
}

func newTailCommand(configPath *string) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent pass summaries from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(*configPath)
			if err != nil {
				return err
			}

			j, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			summaries, err := j.Recent(cmd.Context(), count)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No passes journaled yet")
				return nil
			}

			for _, s := range summaries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s matches=%-4d records=%-4d committed=%-4d skipped=%-4d %5dms  %s\n",
					s.StartedAt.Format("2006-01-02 15:04:05"),
					s.Status, s.Matches, s.Records, s.Committed, s.Skipped, s.DurationMS, s.PassID)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of passes to show")

	return cmd
}
