package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/ibeckermayer/modsync/internal/config"
	"github.com/ibeckermayer/modsync/internal/prefs"
)

func newLoginCmd(a *App) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if err := a.core.Login(cmd.Context(), username, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s\n", a.core.Store().BaseURL())
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newLogoutCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.core.Logout()
		},
	}
}

func newConfigCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n", path)
			fmt.Fprintf(out, "# active server: %s\n", a.core.Store().BaseURL())
			return toml.NewEncoder(out).Encode(a.core.Config())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-url <url>",
		Short: "Switch to another API server and remember it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.core.SetAPIURL(args[0])
		},
	})
	return cmd
}

func newSettingsCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "User preferences",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.core.Preferences()
			if err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintf(w, "%s\t%s\n", prefs.KeyTheme, p.Theme)
			fmt.Fprintf(w, "%s\t%t\n", prefs.KeyNotifications, p.Notifications)
			fmt.Fprintf(w, "%s\t%t\n", prefs.KeyAutoRefresh, p.AutoRefresh)
			fmt.Fprintf(w, "%s\t%d\n", prefs.KeyRefreshInterval, p.RefreshIntervalMinutes)
			fmt.Fprintf(w, "%s\t%g\n", prefs.KeyQualityThreshold, p.QualityThreshold)
			return w.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one preference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parsePreference(args[0], args[1])
			if err != nil {
				return err
			}
			return a.core.SetPreference(args[0], v)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget the saved server URL and toggles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.core.ResetSettings()
		},
	})
	return cmd
}

func parsePreference(key, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch key {
	case prefs.KeyTheme:
		switch t := prefs.Theme(strings.ToLower(raw)); t {
		case prefs.ThemeLight, prefs.ThemeDark, prefs.ThemeAuto:
			return t, nil
		}
		return nil, fmt.Errorf("theme must be light, dark or auto")
	case prefs.KeyNotifications, prefs.KeyAutoRefresh:
		return strconv.ParseBool(raw)
	case prefs.KeyRefreshInterval:
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%s must be a positive number of minutes", key)
		}
		return n, nil
	case prefs.KeyQualityThreshold:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0 || f > 1 {
			return nil, fmt.Errorf("%s must be between 0 and 1", key)
		}
		return f, nil
	}
	return nil, fmt.Errorf("unknown setting %q", key)
}

func newCacheCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Local cache commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop cached snapshots and aggregates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.core.ClearCache()
		},
	})
	return cmd
}

func newOpenCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:       "open <config|cache>",
		Short:     "Open the config file or the cache directory",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"config", "cache"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			var err error
			switch args[0] {
			case "config":
				path, err = a.configPath()
			case "cache":
				path = a.CacheDir
				if path == "" {
					path, err = config.CacheDir()
				}
			default:
				return errors.New("unknown target " + strconv.Quote(args[0]))
			}
			if err != nil {
				return fmt.Errorf("failed to get path: %w", err)
			}
			if err := a.OpenFile(path); err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			return nil
		},
	}
}
