package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/42zz/CaleNote-sub001/internal/archive"
	"github.com/42zz/CaleNote-sub001/internal/config"
	"github.com/42zz/CaleNote-sub001/internal/daemon"
	"github.com/42zz/CaleNote-sub001/internal/lifecycle"
	"github.com/42zz/CaleNote-sub001/internal/logger"
	"github.com/42zz/CaleNote-sub001/internal/model"
	"github.com/42zz/CaleNote-sub001/internal/remote"
	"github.com/42zz/CaleNote-sub001/internal/store/factory"
	"github.com/42zz/CaleNote-sub001/internal/sync"
)

// withEngine opens the configured store, wires the engine, runs fn, and
// closes the store. Ctrl-C cancels the context; long operations observe it.
func withEngine(fn func(ctx context.Context, eng *daemon.Engine) error) error {
	log := logger.New("calenote")

	cfg, err := config.New()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := factory.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	eng := daemon.NewEngine(st, remote.TokenProvider(tokenFromEnv), cfg, log)
	return fn(ctx, eng)
}

func printCycle(res *sync.CycleResult) {
	fmt.Printf("upserted=%d deleted=%d skipped=%d conflicted=%d failed=%d retries=%d\n",
		res.Push.Upserted+res.Pull.Upserted,
		res.Push.Deleted+res.Pull.Deleted,
		res.Push.Skipped+res.Pull.Skipped,
		res.Push.Conflicted+res.Pull.Conflicted,
		res.Push.Failed+res.Pull.Failed,
		res.Push.Stats.Retries+res.Pull.Stats.Retries)
	for _, err := range res.Errors {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Run one full push-then-pull cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, eng *daemon.Engine) error {
				res, err := eng.Sync().RunFullSyncCycle(ctx)
				if err != nil {
					return err
				}
				printCycle(res)
				return nil
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "push",
		Short: "Push local pending changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, eng *daemon.Engine) error {
				res, err := eng.Sync().PushLocalChanges(ctx)
				if err != nil {
					return err
				}
				printCycle(res)
				return nil
			})
		},
	})

	var pastDays, futureDays int
	pullCmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull remote changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, eng *daemon.Engine) error {
				res, err := eng.Sync().PullRemoteChanges(ctx, pastDays, futureDays)
				if err != nil {
					return err
				}
				printCycle(res)
				return nil
			})
		},
	}
	pullCmd.Flags().IntVar(&pastDays, "past-days", 0, "Past window in days (0 = configured default)")
	pullCmd.Flags().IntVar(&futureDays, "future-days", 0, "Future window in days (0 = configured default)")
	rootCmd.AddCommand(pullCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "retry-failed",
		Short: "Re-send records stuck in the failed state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, eng *daemon.Engine) error {
				res, err := eng.Sync().RetryFailedPushes(ctx)
				if err != nil {
					return err
				}
				printCycle(res)
				return nil
			})
		},
	})

	var useRemote bool
	resolveCmd := &cobra.Command{
		Use:   "resolve RECORD_ID",
		Short: "Resolve a flagged conflict (defaults to keeping the local side)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, eng *daemon.Engine) error {
				choice := model.ResolveUseLocal
				if useRemote {
					choice = model.ResolveUseRemote
				}
				return eng.Sync().ResolveConflict(ctx, args[0], choice)
			})
		},
	}
	resolveCmd.Flags().BoolVar(&useRemote, "use-remote", false, "Keep the remote side instead of the local one")
	rootCmd.AddCommand(resolveCmd)

	importCmd := &cobra.Command{
		Use:   "import [COLLECTION_ID...]",
		Short: "Import the full remote history into the archive (resumable)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, eng *daemon.Engine) error {
				return eng.Importer().Run(ctx, args, func(p archive.Progress) {
					fmt.Printf("%s: %d/%d sub-ranges, %d upserted, %d deleted\n",
						p.CollectionID, p.SubRangesDone, p.SubRangeTotal, p.Upserted, p.Deleted)
				})
			})
		},
	}
	rootCmd.AddCommand(importCmd)

	var preserve bool
	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "Rebuild all local state from the remote source",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, eng *daemon.Engine) error {
				return eng.Lifecycle().Recover(ctx, preserve, func(p lifecycle.Phase) {
					fmt.Println("phase:", p)
				})
			})
		},
	}
	recoverCmd.Flags().BoolVar(&preserve, "preserve-records", true, "Keep records unlinked instead of deleting them")
	rootCmd.AddCommand(recoverCmd)

	agendaCmd := &cobra.Command{
		Use:   "agenda",
		Short: "Show the buffered display window around today",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, eng *daemon.Engine) error {
				p := eng.Agenda()
				if err := p.Load(ctx); err != nil {
					return err
				}
				for _, e := range p.Entries() {
					fmt.Printf("%d  %s  %s\n", e.DayKey, e.StartAt.Format("15:04"), e.Title)
				}
				return nil
			})
		},
	}
	rootCmd.AddCommand(agendaCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "evict",
		Short: "Trim hot cache entries outside the active window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, eng *daemon.Engine) error {
				n, err := eng.Lifecycle().Evict(ctx, eng.HotWindow())
				if err != nil {
					return err
				}
				fmt.Printf("evicted %d entries\n", n)
				return nil
			})
		},
	})
}
