// Package cli is the modsync command line front end.
package cli

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibeckermayer/modsync/internal/apiclient"
	"github.com/ibeckermayer/modsync/internal/app"
	"github.com/ibeckermayer/modsync/internal/config"
	"github.com/ibeckermayer/modsync/internal/logging"
	"github.com/ibeckermayer/modsync/internal/notifier"
	"github.com/ibeckermayer/modsync/internal/prefs"
	"github.com/ibeckermayer/modsync/internal/share"
	"github.com/ibeckermayer/modsync/internal/types"
)

// App holds global flags and the session built for the running command.
type App struct {
	ConfigPath string
	Verbose    bool
	NoRetry    bool

	// Overrides, nil or empty means the production default.
	Logger   *zap.Logger
	Prefs    prefs.Adapter
	CacheDir string
	OpenURL  share.Opener
	OpenFile func(path string) error

	logger *zap.Logger
	core   *app.App
	close  func() error
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&App{})
}

func newRootCmd(a *App) *cobra.Command {
	if a.OpenURL == nil {
		a.OpenURL = browser.OpenURL
	}
	if a.OpenFile == nil {
		a.OpenFile = browser.OpenFile
	}

	cmd := &cobra.Command{
		Use:          "modsync",
		Short:        "Moderate the post pipeline from the terminal",
		SilenceUsage: true,
		Example: "  modsync login --username moderator\n" +
			"  modsync posts --status pending --sort quality\n" +
			"  modsync action 42 reject --notes \"off topic\"\n" +
			"  modsync batch archive 3 4 5\n" +
			"  modsync watch",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.shutdown()
		},
	}

	cmd.PersistentFlags().StringVar(&a.ConfigPath, "config", "", "Path to config file (default: $"+config.EnvConfigPath+" or the user config dir)")
	cmd.PersistentFlags().BoolVarP(&a.Verbose, "verbose", "v", false, "Debug logging")
	cmd.PersistentFlags().BoolVar(&a.NoRetry, "no-retry", false, "Fail on the first timeout or network error")

	cmd.AddCommand(newLoginCmd(a))
	cmd.AddCommand(newLogoutCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newSettingsCmd(a))
	cmd.AddCommand(newCacheCmd(a))
	cmd.AddCommand(newOpenCmd(a))
	cmd.AddCommand(newPostsCmd(a))
	cmd.AddCommand(newPresetCmd(a, "confirmed", "List posted posts"))
	cmd.AddCommand(newPresetCmd(a, "rejected", "List rejected, deleted and archived posts"))
	cmd.AddCommand(newActionCmd(a))
	cmd.AddCommand(newBatchCmd(a))
	cmd.AddCommand(newMediaCmd(a))
	cmd.AddCommand(newReportCmd(a))
	cmd.AddCommand(newStatsCmd(a))
	cmd.AddCommand(newAnalyticsCmd(a))
	cmd.AddCommand(newRefreshCmd(a))
	cmd.AddCommand(newWatchCmd(a))
	cmd.AddCommand(newHealthCmd(a))
	cmd.AddCommand(newCleanupCmd(a))

	return cmd
}

func (a *App) loadConfig() (*config.Config, error) {
	if a.ConfigPath != "" {
		return config.LoadFrom(a.ConfigPath)
	}
	return config.LoadOrCreate()
}

func (a *App) configPath() (string, error) {
	if a.ConfigPath != "" {
		return a.ConfigPath, nil
	}
	return config.ConfigPath()
}

// open builds the session every subcommand works against
func (a *App) open(cmd *cobra.Command) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	a.logger = a.Logger
	if a.logger == nil {
		level := cfg.Log.Level
		if a.Verbose {
			level = "debug"
		}
		if a.logger, err = logging.New(level, cfg.Log.Development); err != nil {
			return err
		}
	}

	opts := app.Options{
		Prefs:    a.Prefs,
		CacheDir: a.CacheDir,
		Sinks:    []notifier.Sink{notifier.NewWriterSink(cmd.ErrOrStderr())},
	}
	if a.NoRetry {
		p := apiclient.NoRetry()
		opts.Retry = &p
	}
	core, closer, err := app.Build(cfg, a.logger, opts)
	if err != nil {
		return err
	}
	a.core, a.close = core, closer

	restored, err := core.LoadSession()
	if err != nil {
		return err
	}
	a.logger.Debug("session ready",
		zap.String("command", cmd.CommandPath()),
		zap.String("base_url", core.Store().BaseURL()),
		zap.Bool("restored", restored))
	return nil
}

func (a *App) shutdown() error {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.close == nil {
		return nil
	}
	err := a.close()
	a.close = nil
	return err
}

// ensureLoaded makes sure every id is in the session, fetching all statuses
// when one is missing
func (a *App) ensureLoaded(ctx context.Context, ids ...int64) error {
	st := a.core.Store().Snapshot()
	missing := slices.ContainsFunc(ids, func(id int64) bool {
		_, ok := st.Post(id)
		return !ok
	})
	if !missing {
		return nil
	}
	return a.core.FetchStatuses(ctx, types.Statuses...)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid post id %q", s)
	}
	return id, nil
}
