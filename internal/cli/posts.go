package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ibeckermayer/modsync/internal/apiclient"
	"github.com/ibeckermayer/modsync/internal/config"
	"github.com/ibeckermayer/modsync/internal/relay"
	"github.com/ibeckermayer/modsync/internal/share"
	"github.com/ibeckermayer/modsync/internal/types"
	"github.com/ibeckermayer/modsync/internal/view"
)

const textWidth = 60

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func printPosts(w io.Writer, posts []types.Post) error {
	if len(posts) == 0 {
		_, err := fmt.Fprintln(w, "No posts")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tSTATUS\tCHANNEL\tQUALITY\tPRIORITY\tCREATED\tMEDIA\tTEXT")
	for _, p := range posts {
		quality := "-"
		if p.QualityScore != nil {
			quality = fmt.Sprintf("%.2f", *p.QualityScore)
		}
		created := "-"
		if !p.CreatedAt.IsZero() {
			created = humanize.Time(p.CreatedAt.Time)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			p.ID, p.Status, p.ChannelName, quality, p.Priority, created, p.Media().Kind, truncate(share.Text(p), textWidth))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

type listFlags struct {
	search  string
	sortBy  string
	order   string
	offline bool
}

func (f *listFlags) bind(cmd *cobra.Command, sortBy view.SortKey) {
	cmd.Flags().StringVarP(&f.search, "search", "s", "", "Case-insensitive text or channel filter")
	cmd.Flags().StringVar(&f.sortBy, "sort", string(sortBy), "Sort by date, quality or priority")
	cmd.Flags().StringVar(&f.order, "order", string(view.Desc), "Sort order, asc or desc")
	cmd.Flags().BoolVar(&f.offline, "offline", false, "Show the cached snapshot without contacting the server")
}

func (f *listFlags) apply(q view.Query) (view.Query, error) {
	key, err := view.ParseSortKey(f.sortBy)
	if err != nil {
		return q, err
	}
	order, err := view.ParseSortOrder(f.order)
	if err != nil {
		return q, err
	}
	q.Search, q.SortBy, q.Order = f.search, key, order
	return q, nil
}

func newPostsCmd(a *App) *cobra.Command {
	var (
		lf       listFlags
		statuses []string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "posts",
		Short: "Fetch and list posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var q view.Query
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

			if !lf.offline {
				switch len(q.Statuses) {
				case 1:
					err = a.core.FetchPosts(cmd.Context(), apiclient.PostsQuery{Status: q.Statuses[0], Limit: limit, Offset: offset})
				case 0:
					err = a.core.FetchPosts(cmd.Context(), apiclient.PostsQuery{Limit: limit, Offset: offset})
				default:
					err = a.core.FetchStatuses(cmd.Context(), q.Statuses...)
				}
				if err != nil {
					return err
				}
			}
			return printPosts(cmd.OutOrStdout(), a.core.Project(q))
		},
	}

	lf.bind(cmd, view.SortDate)
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only these statuses (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size (default from config)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")
	return cmd
}

// newPresetCmd lists one of the fixed views, fetching each of its statuses
func newPresetCmd(a *App, name, short string) *cobra.Command {
	var lf listFlags

	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			preset := view.Confirmed()
			if name == "rejected" {
				preset = view.Rejected()
			}
			q, err := lf.apply(preset)
			if err != nil {
				return err
			}
			if !lf.offline {
				if err := a.core.FetchStatuses(cmd.Context(), q.Statuses...); err != nil {
					return err
				}
			}
			return printPosts(cmd.OutOrStdout(), a.core.Project(q))
		},
	}
	lf.bind(cmd, view.SortDate)
	return cmd
}

func newActionCmd(a *App) *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "action <id> [action]",
		Short: "Apply a moderation decision to one post",
		Long: "Actions: post_twitter, reject, delete, archive, approve.\n" +
			"post_twitter opens the share intent in the browser and records the post as posted.\n" +
			"Without an action the ones allowed for the post are listed.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var action types.Action
			if len(args) == 2 {
				if action, err = types.ParseAction(args[1]); err != nil {
					return err
				}
			}
			if err := a.ensureLoaded(cmd.Context(), id); err != nil {
				return err
			}
			if action == "" {
				return printAllowed(cmd.OutOrStdout(), a, id)
			}

			var res types.ActionResult
			if action == types.ActionPostTwitter {
				res, err = a.core.PublishPost(cmd.Context(), id, a.OpenURL)
			} else {
				res, err = a.core.PerformAction(cmd.Context(), id, action, relay.SingleOptions{Notes: notes})
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Post %d is now %s\n", id, res.NewStatus)
			return nil
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Moderator notes sent with the decision")
	return cmd
}

func printAllowed(w io.Writer, a *App, id int64) error {
	post, ok := a.core.Store().Snapshot().Post(id)
	if !ok {
		return fmt.Errorf("post %d not found", id)
	}
	names := make([]string, 0, 4)
	for _, act := range relay.Allowed(post.Status) {
		names = append(names, string(act))
	}
	_, err := fmt.Fprintf(w, "Post %d (%s): %s\n", id, post.Status, strings.Join(names, ", "))
	return err
}

func newBatchCmd(a *App) *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "batch <action> <id>...",
		Short: "Apply one decision to several posts",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := types.ParseAction(args[0])
			if err != nil {
				return err
			}
			ids := make([]int64, 0, len(args)-1)
			for _, s := range args[1:] {
				id, err := parseID(s)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			if err := a.ensureLoaded(cmd.Context(), ids...); err != nil {
				return err
			}
			res, err := a.core.BatchAction(cmd.Context(), ids, action, notes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Moderator notes sent with the decision")
	return cmd
}

func newMediaCmd(a *App) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "media <id>",
		Short: "Download a post's attachment",
		Long:  "Without --output the file is saved in the cache directory and opened.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.ensureLoaded(cmd.Context(), id); err != nil {
				return err
			}
			rc, contentType, m, err := a.core.OpenMedia(cmd.Context(), id)
			if err != nil {
				return err
			}
			defer rc.Close()

			open := output == ""
			if open {
				dir, err := a.mediaDir()
				if err != nil {
					return err
				}
				output = filepath.Join(dir, filepath.Base(m.Path))
			}
			n, err := writeFile(output, rc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s %s (%s, %s)\n", m.Kind, output, contentType, humanize.Bytes(uint64(n)))
			if open {
				return a.OpenFile(output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the attachment to this file")
	return cmd
}

func (a *App) mediaDir() (string, error) {
	dir := a.CacheDir
	if dir == "" {
		var err error
		if dir, err = config.CacheDir(); err != nil {
			return "", err
		}
	}
	dir = filepath.Join(dir, "media")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create media dir: %w", err)
	}
	return dir, nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return n, nil
}
