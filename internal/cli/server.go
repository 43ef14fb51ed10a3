package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibeckermayer/modsync/internal/scheduler"
	"github.com/ibeckermayer/modsync/internal/types"
)

func printStats(w io.Writer, s *types.Stats) error {
	if s == nil {
		_, err := fmt.Fprintln(w, "No stats")
		return err
	}
	tw := newTable(w)
	fmt.Fprintf(tw, "Total\t%s\n", humanize.Comma(int64(s.TotalPosts)))
	fmt.Fprintf(tw, "Pending\t%s\n", humanize.Comma(int64(s.PendingPosts)))
	fmt.Fprintf(tw, "Posted\t%s\t%.1f%%\n", humanize.Comma(int64(s.PostedCount)), s.PostRate)
	fmt.Fprintf(tw, "Deleted\t%s\t%.1f%%\n", humanize.Comma(int64(s.DeletedCount)), s.DeleteRate)
	fmt.Fprintf(tw, "Archived\t%s\n", humanize.Comma(int64(s.ArchivedCount)))
	return tw.Flush()
}

func printCounts(tw io.Writer, title string, counts map[string]int) {
	fmt.Fprintf(tw, "%s\n", title)
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(tw, "  %s\t%s\n", k, humanize.Comma(int64(counts[k])))
	}
}

func printAnalytics(w io.Writer, an *types.Analytics) error {
	if an == nil {
		_, err := fmt.Fprintln(w, "No analytics")
		return err
	}
	tw := newTable(w)
	printCounts(tw, "By status", an.PostsByStatus)
	printCounts(tw, "By channel", an.PostsByChannel)
	printCounts(tw, "Per day", an.DailyPosts)
	printCounts(tw, "Moderator actions", an.UserActions)
	q := an.QualityMetrics
	fmt.Fprintf(tw, "Quality\n  average\t%.2f\n  bias\t%.2f\n  posts\t%s\n", q.AvgQuality, q.AvgBias, humanize.Comma(int64(q.TotalPosts)))
	return tw.Flush()
}

func newStatsCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.core.FetchStats(cmd.Context()); err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), a.core.Store().Snapshot().Stats)
		},
	}
}

func newAnalyticsCmd(a *App) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show the reporting summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.core.FetchAnalytics(cmd.Context(), days); err != nil {
				return err
			}
			return printAnalytics(cmd.OutOrStdout(), a.core.Store().Snapshot().Analytics)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Window in days, 1 to 30 (default from config)")
	return cmd
}

func newRefreshCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch posts, stats and analytics and update the offline snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.core.RefreshData(cmd.Context())
			printSummary(cmd.OutOrStdout(), a)
			return err
		},
	}
}

func printSummary(w io.Writer, a *App) {
	st := a.core.Store().Snapshot()
	pending := 0
	for _, p := range st.Posts {
		if p.Status == types.StatusPending {
			pending++
		}
	}
	updated := "never"
	if !st.UpdatedAt.IsZero() {
		updated = humanize.Time(st.UpdatedAt)
	}
	fmt.Fprintf(w, "%d posts loaded, %d pending, updated %s\n", len(st.Posts), pending, updated)
}

func newWatchCmd(a *App) *cobra.Command {
	var interval int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh on a schedule until interrupted",
		Long:  "Uses the autoRefresh and refreshInterval settings unless --interval is given.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s := scheduler.New(a.logger.Named("scheduler"), 0)
			if interval > 0 {
				if err := s.AddRefreshJob(interval, a.core.RefreshData); err != nil {
					return err
				}
			} else {
				ok, err := a.core.ScheduleRefresh(s)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("auto refresh is disabled; enable it with `settings set autoRefresh true` or pass --interval")
				}
			}

			out := cmd.OutOrStdout()
			if err := s.RunNow(scheduler.RefreshJobName, a.core.RefreshData); err != nil {
				a.logger.Warn("initial refresh failed", zap.Error(err))
			}
			printSummary(out, a)

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

			s.Start()
			fmt.Fprintln(out, "Watching; press Ctrl+C to stop, send SIGHUP to reload the config")
			for {
				select {
				case <-ctx.Done():
					<-s.Stop().Done()
					return nil
				case <-hup:
					cfg, err := a.loadConfig()
					if err != nil {
						a.logger.Warn("config reload failed", zap.Error(err))
						continue
					}
					a.core.ReloadConfig(cfg)
					if interval == 0 {
						if _, err := a.core.ScheduleRefresh(s); err != nil {
							a.logger.Warn("reschedule failed", zap.Error(err))
						}
					}
				}
			}
		},
	}
	cmd.Flags().IntVar(&interval, "interval", 0, "Minutes between refreshes")
	return cmd
}

func newHealthCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the server is reachable and the token is accepted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.core.TestConnection(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (version %s)\n", a.core.Store().BaseURL(), h.Status, h.Version)
			return nil
		},
	}
}

func newCleanupCmd(a *App) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Archive pending posts older than --days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.core.Cleanup(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived %s posts\n", humanize.Comma(int64(res.ArchivedCount)))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Age threshold in days (minimum 7)")
	return cmd
}
