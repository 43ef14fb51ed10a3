package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/modsync/internal/apiclient"
	"github.com/ibeckermayer/modsync/internal/auth"
	"github.com/ibeckermayer/modsync/internal/cache"
	"github.com/ibeckermayer/modsync/internal/config"
	"github.com/ibeckermayer/modsync/internal/notifier"
	"github.com/ibeckermayer/modsync/internal/prefs"
	"github.com/ibeckermayer/modsync/internal/relay"
	"github.com/ibeckermayer/modsync/internal/scheduler"
	"github.com/ibeckermayer/modsync/internal/state"
	"github.com/ibeckermayer/modsync/internal/testserver"
	"github.com/ibeckermayer/modsync/internal/types"
	"github.com/ibeckermayer/modsync/internal/view"
)

type harness struct {
	srv      *testserver.Server
	app      *App
	store    *state.Store
	kv       *prefs.Memory
	cacheDir string
	notices  *notifier.Recorder

	mu          sync.Mutex
	transitions []state.Transition
	waits       []time.Duration
}

func (h *harness) sleep(_ context.Context, d time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.waits = append(h.waits, d)
	return nil
}

func (h *harness) count(match func(state.Transition) bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, t := range h.transitions {
		if match(t) {
			n++
		}
	}
	return n
}

func isReplace(t state.Transition) bool {
	_, ok := t.(state.ReplaceItems)
	return ok
}

func newHarness(t *testing.T, posts ...types.Post) *harness {
	t.Helper()
	h := &harness{
		srv:      testserver.New(posts...),
		kv:       prefs.NewMemory(),
		cacheDir: t.TempDir(),
		notices:  &notifier.Recorder{},
	}
	t.Cleanup(h.srv.Close)
	require.NoError(t, h.kv.Set(prefs.KeyToken, testserver.Token))

	cfg := config.Default()
	cfg.Server.BaseURL = h.srv.URL
	h.app = h.build(t, cfg)
	return h
}

// build creates a fresh session sharing the harness server, prefs and cache
func (h *harness) build(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	h.store = state.New(
		state.WithBaseURL(cfg.Server.BaseURL),
		state.WithObserver(func(tr state.Transition, _ state.State) {
			h.mu.Lock()
			h.transitions = append(h.transitions, tr)
			h.mu.Unlock()
		}))
	client := apiclient.New(h.store, h.kv, apiclient.WithTimeout(200*time.Millisecond))
	notify := notifier.New(nil, h.notices)
	retry := apiclient.DefaultRetryPolicy()
	retry.Sleep = h.sleep

	return New(Deps{
		Config:   cfg,
		Store:    h.store,
		Prefs:    h.kv,
		API:      client,
		Relay:    relay.New(h.store, client, relay.WithNotifier(notify)),
		Auth:     auth.NewManager(client, h.kv, nil),
		Notifier: notify,
		Cache:    cache.New(h.cacheDir),
		Retry:    &retry,
	})
}

func day(d int) types.Timestamp {
	return types.NewTimestamp(time.Now().UTC().Truncate(time.Second).AddDate(0, 0, -d))
}

func seed() []types.Post {
	q := 0.8
	return []types.Post{
		{ID: 1, ChannelName: "news", OriginalText: "one", TranslatedText: "Election results announced", Status: types.StatusPending, CreatedAt: day(1), QualityScore: &q, MediaType: "photo", MediaPath: "media/1.jpg"},
		{ID: 2, ChannelName: "daily", OriginalText: "two", Status: types.StatusPosted, CreatedAt: day(2)},
		{ID: 3, ChannelName: "news", OriginalText: "three", Status: types.StatusRejected, CreatedAt: day(3)},
		{ID: 4, ChannelName: "misc", OriginalText: "four", Status: types.StatusArchived, CreatedAt: day(4)},
		{ID: 5, ChannelName: "misc", OriginalText: "five", Status: types.StatusDeleted, CreatedAt: day(5)},
	}
}

func TestFetchPostsRetriesTimeoutsThenSucceeds(t *testing.T) {
	h := newHarness(t, seed()...)
	h.srv.StallNext(testserver.RoutePosts, 2)

	require.NoError(t, h.app.FetchPosts(context.Background(), apiclient.PostsQuery{}))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.waits)
	assert.Equal(t, 3, h.srv.Hits(testserver.RoutePosts))
	assert.Equal(t, 1, h.count(isReplace))

	st := h.store.Snapshot()
	assert.Len(t, st.Posts, 5)
	assert.False(t, st.Loading)
	assert.Nil(t, st.Err)
	assert.Equal(t, 50, st.Limit)
}

func TestFetchPostsTerminalFailure(t *testing.T) {
	h := newHarness(t, seed()...)
	h.srv.FailNext(testserver.RoutePosts, 1, 500)

	err := h.app.FetchPosts(context.Background(), apiclient.PostsQuery{})
	assert.Equal(t, apiclient.KindServerError, apiclient.KindOf(err))
	assert.Equal(t, 1, h.srv.Hits(testserver.RoutePosts))
	assert.Empty(t, h.waits)
	assert.Zero(t, h.count(isReplace))

	st := h.store.Snapshot()
	assert.False(t, st.Loading)
	assert.ErrorIs(t, st.Err, err)

	last, ok := h.notices.Last()
	require.True(t, ok)
	assert.Equal(t, notifier.LevelError, last.Level)
	assert.Equal(t, "Server Error", last.Title)
}

// gatedAPI holds pending-post listings until release is closed, then fails them
type gatedAPI struct {
	API
	entered chan struct{}
	release chan struct{}
}

func (g *gatedAPI) ListPosts(ctx context.Context, q apiclient.PostsQuery) ([]types.Post, error) {
	if q.Status != types.StatusPending {
		return g.API.ListPosts(ctx, q)
	}
	close(g.entered)
	<-g.release
	return nil, &apiclient.Error{Kind: apiclient.KindServerError, StatusCode: 500, Message: "old fetch failed"}
}

func TestFetchPostsLateFailureKeepsNewerResult(t *testing.T) {
	h := newHarness(t, seed()...)
	gate := &gatedAPI{API: h.app.api, entered: make(chan struct{}), release: make(chan struct{})}
	h.app.api = gate
	ctx := context.Background()

	olderErr := make(chan error, 1)
	go func() {
		olderErr <- h.app.FetchPosts(ctx, apiclient.PostsQuery{Status: types.StatusPending})
	}()
	<-gate.entered

	require.NoError(t, h.app.FetchPosts(ctx, apiclient.PostsQuery{Status: types.StatusPosted}))
	close(gate.release)

	err := <-olderErr
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, apiclient.KindServerError, apiclient.KindOf(err))

	st := h.store.Snapshot()
	assert.Nil(t, st.Err)
	assert.False(t, st.Loading)
	require.Len(t, st.Posts, 1)
	assert.Equal(t, int64(2), st.Posts[0].ID)
	assert.Empty(t, h.notices.Notices())
}

func TestFetchPostsNormalizesStatuses(t *testing.T) {
	h := newHarness(t,
		types.Post{ID: 1, Status: "approved", CreatedAt: day(1)},
		types.Post{ID: 2, Status: "processed", CreatedAt: day(2)},
		types.Post{ID: 3, Status: types.StatusPosted, CreatedAt: day(3)},
	)

	require.NoError(t, h.app.FetchPosts(context.Background(), apiclient.PostsQuery{}))
	st := h.store.Snapshot()
	require.Len(t, st.Posts, 2)
	p, ok := st.Post(1)
	require.True(t, ok)
	assert.Equal(t, types.StatusPending, p.Status)
	_, ok = st.Post(2)
	assert.False(t, ok)
}

func TestRefreshDataIsolatesBranchFailures(t *testing.T) {
	h := newHarness(t, seed()...)
	h.srv.FailNext(testserver.RouteStats, 1, 404)

	err := h.app.RefreshData(context.Background())
	require.Error(t, err)
	assert.Equal(t, apiclient.KindNotFound, apiclient.KindOf(err))
	assert.Contains(t, err.Error(), "stats")

	st := h.store.Snapshot()
	assert.Len(t, st.Posts, 5)
	require.NotNil(t, st.Analytics)
	assert.Equal(t, 2, st.Analytics.PostsByChannel["news"])
	assert.Nil(t, st.Stats)
	assert.NotNil(t, st.Err)

	_, _, cerr := cache.LoadLatest[Snapshot](cache.New(h.cacheDir), snapshotName)
	assert.NoError(t, cerr, "posts succeeded so the snapshot is cached")
}

func TestRefreshDataSuccess(t *testing.T) {
	h := newHarness(t, seed()...)
	require.NoError(t, h.app.RefreshData(context.Background()))

	st := h.store.Snapshot()
	assert.Nil(t, st.Err)
	require.NotNil(t, st.Stats)
	assert.Equal(t, 5, st.Stats.TotalPosts)
	assert.Equal(t, 20.0, st.Stats.PostRate)
}

func TestLoadSessionRestoresCachedSnapshot(t *testing.T) {
	h := newHarness(t, seed()...)
	require.NoError(t, h.app.RefreshData(context.Background()))

	fresh := h.build(t, h.app.Config())
	restored, err := fresh.LoadSession()
	require.NoError(t, err)
	assert.True(t, restored)
	st := fresh.Store().Snapshot()
	assert.Len(t, st.Posts, 5)
	assert.NotNil(t, st.Stats)
	assert.Equal(t, h.srv.URL, st.BaseURL)
}

func TestLoadSessionPrefersSavedURL(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.kv.Set(prefs.KeyAPIURL, "http://saved.example:5000"))

	restored, err := h.app.LoadSession()
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Equal(t, "http://saved.example:5000", h.store.BaseURL())
}

func TestFetchStatusesCombinesPages(t *testing.T) {
	h := newHarness(t, seed()...)

	require.NoError(t, h.app.FetchStatuses(context.Background(), types.StatusRejected, types.StatusDeleted, types.StatusArchived))
	assert.Equal(t, 3, h.srv.Hits(testserver.RoutePosts))
	assert.Equal(t, 1, h.count(isReplace))

	got := h.app.Project(view.Rejected())
	ids := make([]int64, len(got))
	for i, p := range got {
		ids[i] = p.ID
	}
	assert.Equal(t, []int64{3, 4, 5}, ids)
	assert.Len(t, h.store.Snapshot().Posts, 3)
}

func TestFetchStatusesFailureKeepsCollection(t *testing.T) {
	h := newHarness(t, seed()...)
	require.NoError(t, h.app.FetchPosts(context.Background(), apiclient.PostsQuery{}))
	h.srv.FailNext(testserver.RoutePosts, 1, 403)

	err := h.app.FetchStatuses(context.Background(), types.StatusRejected, types.StatusDeleted)
	assert.Equal(t, apiclient.KindForbidden, apiclient.KindOf(err))
	assert.Len(t, h.store.Snapshot().Posts, 5)
}

func TestPerformActionUpdatesServerAndStore(t *testing.T) {
	h := newHarness(t, seed()...)
	ctx := context.Background()
	require.NoError(t, h.app.FetchPosts(ctx, apiclient.PostsQuery{}))

	res, err := h.app.PerformAction(ctx, 1, types.ActionDelete, relay.SingleOptions{Notes: "spam"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusDeleted, res.NewStatus)

	local, _ := h.store.Snapshot().Post(1)
	assert.Equal(t, types.StatusDeleted, local.Status)
	remote, _ := h.srv.Post(1)
	assert.Equal(t, types.StatusDeleted, remote.Status)

	res, err = h.app.PerformAction(ctx, 1, types.ActionApprove, relay.SingleOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, res.NewStatus)
}

func TestBatchActionThroughServer(t *testing.T) {
	h := newHarness(t, seed()...)
	ctx := context.Background()
	require.NoError(t, h.app.FetchPosts(ctx, apiclient.PostsQuery{}))

	res, err := h.app.BatchAction(ctx, []int64{1, 2}, types.ActionArchive, "")
	require.NoError(t, err)
	assert.Equal(t, "Batch action completed: 2/2 successful", res.Message)

	st := h.store.Snapshot()
	for _, id := range []int64{1, 2} {
		p, _ := st.Post(id)
		assert.Equal(t, types.StatusArchived, p.Status)
	}
}

func TestPublishPostOpensIntentAndMarksPosted(t *testing.T) {
	h := newHarness(t, seed()...)
	ctx := context.Background()
	require.NoError(t, h.app.FetchPosts(ctx, apiclient.PostsQuery{}))

	var opened string
	res, err := h.app.PublishPost(ctx, 1, func(u string) error {
		opened = u
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPosted, res.NewStatus)
	assert.Contains(t, opened, "https://x.com/intent/tweet?text=Election+results+announced")

	remote, _ := h.srv.Post(1)
	assert.Equal(t, opened, remote.TwitterURL)

	_, err = h.app.PublishPost(ctx, 2, func(string) error { return nil })
	assert.Equal(t, apiclient.KindValidation, apiclient.KindOf(err), "already posted")
}

func TestSetAPIURL(t *testing.T) {
	h := newHarness(t)

	err := h.app.SetAPIURL("not a url")
	assert.Equal(t, apiclient.KindValidation, apiclient.KindOf(err))

	require.NoError(t, h.app.SetAPIURL(" https://mod.example.com/ "))
	assert.Equal(t, "https://mod.example.com", h.store.BaseURL())
	v, ok, err := h.kv.Get(prefs.KeyAPIURL)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://mod.example.com", v)
}

func TestResetSettingsAndClearCache(t *testing.T) {
	h := newHarness(t, seed()...)
	require.NoError(t, h.app.RefreshData(context.Background()))
	require.NoError(t, h.app.SetAPIURL("https://elsewhere.example"))
	require.NoError(t, h.app.SetPreference(prefs.KeyAutoRefresh, false))
	require.NoError(t, h.kv.Set(prefs.KeyStats, "{}"))

	require.NoError(t, h.app.ResetSettings())
	assert.Equal(t, h.srv.URL, h.store.BaseURL())
	p, err := h.app.Preferences()
	require.NoError(t, err)
	assert.True(t, p.AutoRefresh)

	require.NoError(t, h.app.ClearCache())
	_, ok, _ := h.kv.Get(prefs.KeyStats)
	assert.False(t, ok)
	_, tokOK, _ := h.kv.Get(prefs.KeyToken)
	assert.True(t, tokOK, "token survives")
	_, _, err = cache.LoadLatest[Snapshot](cache.New(h.cacheDir), snapshotName)
	assert.True(t, errors.Is(err, cache.ErrEmpty))
}

func TestTestConnectionAndCleanup(t *testing.T) {
	old := types.NewTimestamp(time.Now().AddDate(0, 0, -20))
	h := newHarness(t, types.Post{ID: 1, Status: types.StatusPending, CreatedAt: old})
	ctx := context.Background()

	health, err := h.app.TestConnection(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)

	res, err := h.app.Cleanup(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ArchivedCount)
	remote, _ := h.srv.Post(1)
	assert.Equal(t, types.StatusArchived, remote.Status)
}

func TestUnauthenticatedSessionFailsFast(t *testing.T) {
	h := newHarness(t, seed()...)
	require.NoError(t, h.app.Logout())
	assert.False(t, h.app.IsAuthenticated())

	err := h.app.FetchPosts(context.Background(), apiclient.PostsQuery{})
	assert.Equal(t, apiclient.KindUnauthorized, apiclient.KindOf(err))
	assert.Zero(t, h.srv.Hits(testserver.RoutePosts))

	require.NoError(t, h.app.Login(context.Background(), testserver.Username, testserver.Password))
	assert.True(t, h.app.IsAuthenticated())
	require.NoError(t, h.app.FetchPosts(context.Background(), apiclient.PostsQuery{}))
}

func TestOpenMedia(t *testing.T) {
	h := newHarness(t, seed()...)
	ctx := context.Background()
	h.srv.AddMedia("media/1.jpg", "image/jpeg", []byte("jpeg"))
	require.NoError(t, h.app.FetchPosts(ctx, apiclient.PostsQuery{}))

	rc, ct, m, err := h.app.OpenMedia(ctx, 1)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))
	assert.Equal(t, "image/jpeg", ct)
	assert.Equal(t, types.MediaPhoto, m.Kind)

	_, _, _, err = h.app.OpenMedia(ctx, 2)
	assert.Equal(t, apiclient.KindValidation, apiclient.KindOf(err))
}

func TestScheduleRefreshFollowsPreferences(t *testing.T) {
	h := newHarness(t)
	s := scheduler.New(nil, 0)

	added, err := h.app.ScheduleRefresh(s)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Len(t, s.ListJobs(), 1)

	require.NoError(t, h.app.SetPreference(prefs.KeyAutoRefresh, false))
	added, err = h.app.ScheduleRefresh(s)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, s.ListJobs())
}
