package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/modsync/internal/config"
	"github.com/ibeckermayer/modsync/internal/report"
	"github.com/ibeckermayer/modsync/internal/types"
	"github.com/ibeckermayer/modsync/internal/view"
)

func newReportCmd(a *App) *cobra.Command {
	var (
		lf       listFlags
		statuses []string
		maxPosts int
		output   string
		plain    bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the queue as an HTML or plain text report",
		Long:  "Without --output the HTML report is saved in the cache directory and opened.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := view.Query{}
			for _, s := range statuses {
				st, err := types.ParseStatus(s)
				if err != nil {
					return err
				}
				q.Statuses = append(q.Statuses, st)
			}
			q, err := lf.apply(q)
			if err != nil {
				return err
			}
			b, err := report.New(maxPosts)
			if err != nil {
				return err
			}

			if !lf.offline {
				if err := a.core.FetchStatuses(cmd.Context(), q.Statuses...); err != nil {
					return err
				}
				if err := a.core.FetchStats(cmd.Context()); err != nil {
					return err
				}
			}
			st := a.core.Store().Snapshot()
			r, err := b.Build(report.Input{
				Title:  reportTitle(q.Statuses),
				Server: st.BaseURL,
				Posts:  a.core.Project(q),
				Stats:  st.Stats,
			})
			if err != nil {
				return err
			}

			if plain && output == "" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), r.Plain)
				return err
			}
			body := r.HTML
			if plain {
				body = r.Plain
			}
			open := output == ""
			if open {
				if output, err = a.reportPath(r.CreatedAt); err != nil {
					return err
				}
			}
			if _, err := writeFile(output, strings.NewReader(body)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d posts to %s\n", len(r.PostIDs), output)
			if open {
				return a.OpenFile(output)
			}
			return nil
		},
	}

	lf.bind(cmd, view.SortQuality)
	cmd.Flags().StringSliceVar(&statuses, "status", []string{string(types.StatusPending)}, "Statuses to include (repeatable)")
	cmd.Flags().IntVar(&maxPosts, "max", report.DefaultMaxPosts, "Most posts to include")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the report to this file")
	cmd.Flags().BoolVar(&plain, "plain", false, "Plain text instead of HTML")
	return cmd
}

func reportTitle(statuses []types.Status) string {
	if len(statuses) == 0 {
		return "All posts"
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	title := strings.Join(names, ", ") + " posts"
	return strings.ToUpper(title[:1]) + title[1:]
}

func (a *App) reportPath(at time.Time) (string, error) {
	dir := a.CacheDir
	if dir == "" {
		var err error
		if dir, err = config.CacheDir(); err != nil {
			return "", err
		}
	}
	dir = filepath.Join(dir, "reports")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}
	return filepath.Join(dir, "report-"+at.Format("20060102-150405")+".html"), nil
}
