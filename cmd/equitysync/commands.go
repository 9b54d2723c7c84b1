package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"EquitySync/internal/attributes"
	"EquitySync/internal/collector"
	"EquitySync/internal/export"
	"EquitySync/internal/metrics"
	"EquitySync/internal/model"
	"EquitySync/internal/scheduler"
	"EquitySync/internal/storage"
)

func newRootCmd() *cobra.Command {
	var cfgPath, logLevel string
	root := &cobra.Command{
		Use:           "equitysync",
		Short:         "Incremental daily price, attribute and financials sync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "configs/config.yaml", "config file (YAML)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (trace|debug|info|warn|error)")

	// withApp wires the engine for a subcommand and closes it afterwards.
	withApp := func(run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgPath, logLevel)
			if err != nil {
				return err
			}
			defer a.Close()
			return run(cmd.Context(), a, args)
		}
	}

	root.AddCommand(
		syncCmd(withApp),
		daemonCmd(withApp),
		addCmd(withApp),
		removeCmd(withApp),
		reconcileCmd(withApp),
		statusCmd(withApp),
		exportCmd(withApp),
	)
	return root
}

type runner func(run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error

func syncCmd(withApp runner) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization pass over the registry",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			report, err := a.coord.RunPass(ctx)
			if err != nil {
				return err
			}
			printReport(report)
			return nil
		}),
	}
}

func daemonCmd(withApp runner) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run passes on the configured schedule",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			if err := a.coord.Reconcile(); err != nil {
				return err
			}

			sched := scheduler.NewScheduler(ctx, a.coord)
			if err := sched.Register(a.cfg.Schedule.SyncCron); err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			var wg sync.WaitGroup
			if a.cfg.Metrics.Listen != "" {
				wg.Add(1)
				go func() {
					defer wg.Done()
					health := func() error {
						_, err := a.registry.List()
						return err
					}
					if err := metrics.Serve(ctx, a.cfg.Metrics.Listen, health); err != nil {
						log.Error().Err(err).Msg("metrics server")
					}
				}()
			}
			if a.telegram != nil && a.cfg.Telegram.Polling {
				wg.Add(1)
				go func() {
					defer wg.Done()
					a.telegram.StartPolling(ctx, sched.CommandHandler(a.statusText))
				}()
				log.Info().Msg("telegram polling started")
			}
			if a.cfg.Schedule.RunOnStart {
				log.Info().Msg("run_on_start enabled, executing a pass now")
				go func() { _, _ = sched.RunNow() }()
			}

			log.Info().Str("cron", a.cfg.Schedule.SyncCron).Msg("equitysync daemon running")
			<-ctx.Done()
			log.Info().Msg("shutdown signal received, stopping")
			wg.Wait()
			return nil
		}),
	}
}

func addCmd(withApp runner) *cobra.Command {
	var syncAfter bool
	cmd := &cobra.Command{
		Use:   "add TICKER...",
		Short: "Add entities to the registry after checking the provider knows them",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			exists := func(ctx context.Context, e model.Entity) (bool, error) {
				return collector.Exists(ctx, a.fetcher, e, time.Now())
			}
			res, err := a.registry.Add(ctx, args, exists)
			for _, e := range res.Added {
				fmt.Printf("added     %s\n", e)
			}
			for _, e := range res.Existing {
				fmt.Printf("present   %s\n", e)
			}
			for _, e := range res.Rejected {
				fmt.Printf("rejected  %s\n", e)
			}
			if err != nil {
				return err
			}
			if syncAfter && len(res.Added) > 0 {
				report, err := a.coord.RunPass(ctx)
				if err != nil {
					return err
				}
				printReport(report)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&syncAfter, "sync", false, "run a pass after adding")
	return cmd
}

func removeCmd(withApp runner) *cobra.Command {
	return &cobra.Command{
		Use:   "remove TICKER...",
		Short: "Remove entities from the registry and delete all their data",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			removed, err := a.registry.Remove(args)
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				fmt.Println("none of the entities were registered; cleaning up leftovers")
			}
			// Cascade every requested name so leftovers of unregistered
			// entities are cleaned as well.
			var failed int
			entities, invalid := model.SplitEntities(strings.Join(args, " "))
			for _, name := range invalid {
				fmt.Printf("skipped   %s: not a valid ticker symbol\n", name)
			}
			for _, res := range a.coord.RemoveEntities(ctx, entities) {
				if res.Outcome == model.OutcomeFailed {
					failed++
					fmt.Printf("partial   %s: %s\n", res.Entity, res.Err)
					continue
				}
				fmt.Printf("removed   %s\n", res.Entity)
			}
			if failed > 0 {
				return fmt.Errorf("%d removals incomplete", failed)
			}
			return nil
		}),
	}
}

func reconcileCmd(withApp runner) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair the freshness index against storage",
		Args:  cobra.NoArgs,
		RunE: withApp(func(_ context.Context, a *app, _ []string) error {
			if err := a.coord.Reconcile(); err != nil {
				return err
			}
			entries, err := a.coord.Status()
			if err != nil {
				return err
			}
			fmt.Printf("index holds %d entries\n", len(entries))
			return nil
		}),
	}
}

func statusCmd(withApp runner) *cobra.Command {
	var passes int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show last confirmed dates and recent passes",
		Args:  cobra.NoArgs,
		RunE: withApp(func(_ context.Context, a *app, _ []string) error {
			fmt.Print(a.statusText())
			rows, err := a.recorder.RecentPasses(passes)
			if err != nil {
				return err
			}
			if len(rows) > 0 {
				fmt.Println("\nrecent passes:")
			}
			for _, p := range rows {
				fmt.Printf("%s  %s  entities=%d updated=%d failed=%d (%s)\n",
					p.StartedAt.Local().Format("2006-01-02 15:04"), shortID(p.ID),
					p.Entities, p.Updated, p.Failed, p.FinishedAt.Sub(p.StartedAt))
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&passes, "passes", 5, "number of recent passes to show")
	return cmd
}

func exportCmd(withApp runner) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write attributes and freshness to an Excel workbook",
		Args:  cobra.NoArgs,
		RunE: withApp(func(_ context.Context, a *app, _ []string) error {
			attrs, err := a.store.LoadAttributes()
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			entries, err := a.coord.Status()
			if err != nil {
				return err
			}
			if out == "" {
				out = filepath.Join(a.cfg.DataDir, "equitysync.xlsx")
			}
			if err := export.Workbook(out, attributes.Sorted(attrs), entries); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", out)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (default <data_dir>/equitysync.xlsx)")
	return cmd
}

func printReport(r *model.PassReport) {
	fmt.Printf("pass %s: %d entities in %s\n", r.ID, r.Entities, r.Duration().Round(time.Millisecond))
	for _, stage := range []model.Stage{model.StagePrices, model.StageAttributes, model.StageDerived} {
		fmt.Printf("  %-10s updated=%d current=%d empty=%d failed=%d\n", stage,
			r.Count(stage, model.OutcomeUpdated), r.Count(stage, model.OutcomeCurrent),
			r.Count(stage, model.OutcomeEmpty), r.Count(stage, model.OutcomeFailed))
	}
	for _, f := range r.Failed() {
		fmt.Printf("  failed %s (%s): %s\n", f.Entity, f.Stage, f.Err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
