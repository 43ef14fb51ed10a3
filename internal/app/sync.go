package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/modsync/internal/apiclient"
	"github.com/ibeckermayer/modsync/internal/state"
	"github.com/ibeckermayer/modsync/internal/types"
)

// Analytics window bounds the server enforces
const (
	minAnalyticsDays = 1
	maxAnalyticsDays = 30
)

// retryPolicy returns the read policy with retry logging attached
func (a *App) retryPolicy(op string) apiclient.RetryPolicy {
	p := a.retry
	p.OnRetry = func(n int, delay time.Duration, err error) {
		a.logger.Warn("retrying request",
			zap.String("op", op),
			zap.Int("retry", n),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	return p
}

// ErrSuperseded marks a failed fetch whose result a newer fetch already replaced
var ErrSuperseded = errors.New("superseded by a newer fetch")

// fail records a terminal fetch failure in the session and tells the moderator.
// seq is the failed fetch's sequence number, zero for unsequenced reads.
func (a *App) fail(op string, seq uint64, err error) error {
	st := a.store.Apply(state.SetError{Err: err, Seq: seq})
	if seq != 0 && seq < st.ItemsSeq {
		a.logger.Debug(op+" failed after a newer fetch landed", zap.Uint64("seq", seq), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrSuperseded, err)
	}
	a.logger.Warn(op+" failed", zap.Stringer("kind", apiclient.KindOf(err)), zap.Error(err))
	a.notify.Error(apiclient.KindOf(err).Title(), errorMessage(err))
	return err
}

func (a *App) pageQuery(q apiclient.PostsQuery) apiclient.PostsQuery {
	if q.Limit <= 0 {
		q.Limit = a.getSnapshot().config.Sync.PageLimit
	}
	if q.Limit <= 0 {
		q.Limit = apiclient.DefaultPageLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// FetchPosts loads one page of posts and replaces the collection with it
func (a *App) FetchPosts(ctx context.Context, q apiclient.PostsQuery) error {
	q = a.pageQuery(q)
	a.store.Apply(state.SetLoading{Loading: true})
	seq := a.store.NextSeq()

	posts, err := apiclient.Retry(ctx, a.retryPolicy("fetch posts"), func(ctx context.Context) ([]types.Post, error) {
		return a.api.ListPosts(ctx, q)
	})
	if err != nil {
		return a.fail("fetch posts", seq, err)
	}

	posts = a.normalize(posts)
	a.store.Apply(state.ReplaceItems{Posts: posts, Limit: q.Limit, Offset: q.Offset, Seq: seq})
	a.logger.Info("fetched posts",
		zap.Int("count", len(posts)),
		zap.String("status", string(q.Status)),
		zap.Int("offset", q.Offset))
	return nil
}

// FetchStatuses loads each status separately and replaces the collection
// with all of them. Any failure leaves the collection as it was.
func (a *App) FetchStatuses(ctx context.Context, statuses ...types.Status) error {
	if len(statuses) == 0 {
		return a.FetchPosts(ctx, apiclient.PostsQuery{})
	}
	q := a.pageQuery(apiclient.PostsQuery{})
	a.store.Apply(state.SetLoading{Loading: true})
	seq := a.store.NextSeq()

	pages := make([][]types.Post, len(statuses))
	g, gctx := errgroup.WithContext(ctx)
	for i, st := range statuses {
		i, st := i, st
		g.Go(func() error {
			page, err := apiclient.Retry(gctx, a.retryPolicy("fetch "+string(st)), func(ctx context.Context) ([]types.Post, error) {
				return a.api.ListPosts(ctx, apiclient.PostsQuery{Status: st, Limit: q.Limit})
			})
			if err != nil {
				return err
			}
			pages[i] = page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return a.fail("fetch posts", seq, err)
	}

	var posts []types.Post
	for _, page := range pages {
		posts = append(posts, page...)
	}
	posts = a.normalize(posts)
	a.store.Apply(state.ReplaceItems{Posts: posts, Limit: q.Limit, Seq: seq})
	a.logger.Info("fetched posts", zap.Int("count", len(posts)), zap.Int("statuses", len(statuses)))
	return nil
}

// normalize maps server statuses onto the enum, dropping posts it cannot place
func (a *App) normalize(posts []types.Post) []types.Post {
	out := posts[:0:0]
	for _, p := range posts {
		st, ok := types.NormalizeStatus(string(p.Status))
		if !ok {
			a.logger.Warn("dropping post with unknown status", zap.Int64("post_id", p.ID), zap.String("status", string(p.Status)))
			continue
		}
		p.Status = st
		out = append(out, p)
	}
	return out
}

// FetchStats refreshes the dashboard totals
func (a *App) FetchStats(ctx context.Context) error {
	stats, err := apiclient.Retry(ctx, a.retryPolicy("fetch stats"), a.api.Stats)
	if err != nil {
		return a.fail("fetch stats", 0, err)
	}
	a.store.Apply(state.SetStats{Stats: stats})
	a.logger.Debug("fetched stats", zap.Int("total", stats.TotalPosts))
	return nil
}

// FetchAnalytics refreshes the reporting summary. days outside 1..30 is
// clamped; zero means the configured default.
func (a *App) FetchAnalytics(ctx context.Context, days int) error {
	if days == 0 {
		days = a.getSnapshot().config.Sync.AnalyticsDays
	}
	days = max(minAnalyticsDays, min(days, maxAnalyticsDays))

	analytics, err := apiclient.Retry(ctx, a.retryPolicy("fetch analytics"), func(ctx context.Context) (*types.Analytics, error) {
		return a.api.Analytics(ctx, days)
	})
	if err != nil {
		return a.fail("fetch analytics", 0, err)
	}
	a.store.Apply(state.SetAnalytics{Analytics: analytics})
	a.logger.Debug("fetched analytics", zap.Int("days", days))
	return nil
}

// RefreshData fetches posts, stats and analytics concurrently. Each branch
// lands in the store as soon as it settles and one failing branch does not
// stop the others. The returned error joins every branch failure.
func (a *App) RefreshData(ctx context.Context) error {
	var postsErr, statsErr, analyticsErr error

	var g errgroup.Group
	g.Go(func() error {
		postsErr = a.FetchPosts(ctx, apiclient.PostsQuery{})
		return nil
	})
	g.Go(func() error {
		statsErr = a.FetchStats(ctx)
		return nil
	})
	g.Go(func() error {
		analyticsErr = a.FetchAnalytics(ctx, 0)
		return nil
	})
	_ = g.Wait()

	if postsErr == nil {
		a.saveSnapshot()
	}

	// A superseded posts failure is returned but the newer fetch owns the session.
	shown := postsErr
	if errors.Is(shown, ErrSuperseded) {
		shown = nil
	}
	// A later successful branch may have cleared the session error.
	if serr := errors.Join(
		wrapBranch("posts", shown),
		wrapBranch("stats", statsErr),
		wrapBranch("analytics", analyticsErr),
	); serr != nil {
		a.store.Apply(state.SetError{Err: serr})
	}

	if err := errors.Join(
		wrapBranch("posts", postsErr),
		wrapBranch("stats", statsErr),
		wrapBranch("analytics", analyticsErr),
	); err != nil {
		return err
	}
	a.logger.Info("refresh complete")
	return nil
}

func wrapBranch(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}
