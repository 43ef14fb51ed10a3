package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ibeckermayer/modsync/internal/config"
	"github.com/ibeckermayer/modsync/internal/prefs"
	"github.com/ibeckermayer/modsync/internal/testserver"
	"github.com/ibeckermayer/modsync/internal/types"
)

type fixture struct {
	srv    *testserver.Server
	kv     *prefs.Memory
	cfg    string
	cache  string
	urls   []string
	opened []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv(config.EnvBaseURL, "")

	q1, q2 := 0.9, 0.4
	now := time.Now().UTC().Truncate(time.Second)
	f := &fixture{
		srv: testserver.New(
			types.Post{ID: 1, ChannelName: "news", OriginalText: "first", TranslatedText: "Breaking story", Status: types.StatusPending, CreatedAt: types.NewTimestamp(now.Add(-time.Hour)), QualityScore: &q1, MediaType: "photo", MediaPath: "media/1.jpg"},
			types.Post{ID: 2, ChannelName: "sport", OriginalText: "second", Status: types.StatusPending, CreatedAt: types.NewTimestamp(now.Add(-2 * time.Hour)), QualityScore: &q2},
			types.Post{ID: 3, ChannelName: "news", OriginalText: "third", Status: types.StatusPosted, CreatedAt: types.NewTimestamp(now.Add(-3 * time.Hour))},
			types.Post{ID: 4, ChannelName: "misc", OriginalText: "fourth", Status: types.StatusRejected, CreatedAt: types.NewTimestamp(now.Add(-4 * time.Hour))},
		),
		kv:    prefs.NewMemory(),
		cache: t.TempDir(),
	}
	t.Cleanup(f.srv.Close)
	require.NoError(t, f.kv.Set(prefs.KeyToken, testserver.Token))

	cfg := config.Default()
	cfg.Server.BaseURL = f.srv.URL
	cfg.Server.TimeoutSeconds = 2
	f.cfg = filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, cfg.SaveTo(f.cfg))
	return f
}

// run executes one command line in a fresh process-like App
func (f *fixture) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return f.runContext(t, context.Background(), args...)
}

func (f *fixture) runContext(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	a := &App{
		ConfigPath: f.cfg,
		Logger:     zap.NewNop(),
		Prefs:      f.kv,
		CacheDir:   f.cache,
		OpenURL: func(url string) error {
			f.urls = append(f.urls, url)
			return nil
		},
		OpenFile: func(path string) error {
			f.opened = append(f.opened, path)
			return nil
		},
	}
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func idColumn(out string) []string {
	var ids []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n")[1:] {
		ids = append(ids, strings.Fields(line)[0])
	}
	return ids
}

func TestPostsFiltersAndSorts(t *testing.T) {
	f := newFixture(t)

	out, _, err := f.run(t, "posts", "--status", "pending", "--sort", "quality", "--order", "asc")
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "1"}, idColumn(out))
	assert.Contains(t, out, "Breaking story")
	assert.Contains(t, out, "photo")

	out, _, err = f.run(t, "posts", "--search", "NEWS")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, idColumn(out))
}

func TestPostsRejectsBadSortKey(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.run(t, "posts", "--sort", "length")
	require.Error(t, err)
	assert.Zero(t, f.srv.Hits(testserver.RoutePosts))
}

func TestPresetViews(t *testing.T) {
	f := newFixture(t)

	out, _, err := f.run(t, "confirmed")
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, idColumn(out))

	out, _, err = f.run(t, "rejected")
	require.NoError(t, err)
	assert.Equal(t, []string{"4"}, idColumn(out))
}

func TestOfflineUsesCachedSnapshot(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.run(t, "refresh")
	require.NoError(t, err)
	hits := f.srv.Hits(testserver.RoutePosts)

	out, _, err := f.run(t, "posts", "--offline")
	require.NoError(t, err)
	assert.Len(t, idColumn(out), 4)
	assert.Equal(t, hits, f.srv.Hits(testserver.RoutePosts))
}

func TestActionRelaysDecision(t *testing.T) {
	f := newFixture(t)

	out, stderr, err := f.run(t, "action", "2", "reject", "--notes", "off topic")
	require.NoError(t, err)
	assert.Contains(t, out, "Post 2 is now rejected")
	assert.Contains(t, stderr, "[success]")

	p, ok := f.srv.Post(2)
	require.True(t, ok)
	assert.Equal(t, types.StatusRejected, p.Status)
}

func TestActionInvalidTransitionNeverReachesServer(t *testing.T) {
	f := newFixture(t)

	_, stderr, err := f.run(t, "action", "4", "archive")
	require.Error(t, err)
	assert.Contains(t, stderr, "[error]")
	assert.Zero(t, f.srv.Hits(testserver.RouteAction))
}

func TestActionPostTwitterOpensIntent(t *testing.T) {
	f := newFixture(t)

	out, _, err := f.run(t, "action", "1", "post_twitter")
	require.NoError(t, err)
	assert.Contains(t, out, "posted")
	require.Len(t, f.urls, 1)
	assert.Contains(t, f.urls[0], "intent/tweet?text=Breaking+story")

	p, ok := f.srv.Post(1)
	require.True(t, ok)
	assert.Equal(t, types.StatusPosted, p.Status)
	assert.Equal(t, f.urls[0], p.TwitterURL)
}

func TestBatchArchives(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.run(t, "batch", "archive", "1", "2")
	require.NoError(t, err)
	for _, id := range []int64{1, 2} {
		p, ok := f.srv.Post(id)
		require.True(t, ok)
		assert.Equal(t, types.StatusArchived, p.Status)
	}
}

func TestBatchRejectsBadID(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.run(t, "batch", "archive", "1", "x")
	require.Error(t, err)
	assert.Zero(t, f.srv.Hits(testserver.RouteBatch))
}

func TestLoginStoresToken(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.kv.Remove(prefs.KeyToken))

	_, stderr, err := f.run(t, "stats")
	require.Error(t, err)
	assert.Contains(t, stderr, "[error]")
	assert.Zero(t, f.srv.Hits(testserver.RouteStats))

	out, _, err := f.run(t, "login", "-u", testserver.Username, "-p", testserver.Password)
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in")
	token, ok, err := f.kv.Get(prefs.KeyToken)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testserver.Token, token)

	out, _, err = f.run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Pending")

	_, _, err = f.run(t, "logout")
	require.NoError(t, err)
	_, ok, err = f.kv.Get(prefs.KeyToken)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoginReadsPasswordFromStdin(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.kv.Remove(prefs.KeyToken))

	a := &App{ConfigPath: f.cfg, Logger: zap.NewNop(), Prefs: f.kv, CacheDir: f.cache}
	cmd := newRootCmd(a)
	cmd.SetArgs([]string{"login", "-u", testserver.Username})
	cmd.SetIn(strings.NewReader(testserver.Password + "\n"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, cmd.Execute())

	token, _, err := f.kv.Get(prefs.KeyToken)
	require.NoError(t, err)
	assert.Equal(t, testserver.Token, token)
}

func TestConfigSetURLAndShow(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.run(t, "config", "set-url", "not a url")
	require.Error(t, err)

	_, _, err = f.run(t, "config", "set-url", "http://example.test:8080/")
	require.NoError(t, err)
	saved, _, err := f.kv.Get(prefs.KeyAPIURL)
	require.NoError(t, err)
	assert.Equal(t, "http://example.test:8080", saved)

	out, _, err := f.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# active server: http://example.test:8080")
	assert.Contains(t, out, f.srv.URL)

	_, _, err = f.run(t, "settings", "reset")
	require.NoError(t, err)
	out, _, err = f.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# active server: "+f.srv.URL)
}

func TestSettingsSetAndShow(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.run(t, "settings", "set", prefs.KeyRefreshInterval, "15")
	require.NoError(t, err)
	_, _, err = f.run(t, "settings", "set", prefs.KeyAutoRefresh, "false")
	require.NoError(t, err)
	_, _, err = f.run(t, "settings", "set", prefs.KeyTheme, "purple")
	require.Error(t, err)
	_, _, err = f.run(t, "settings", "set", "fontSize", "12")
	require.Error(t, err)

	out, _, err := f.run(t, "settings", "show")
	require.NoError(t, err)
	assert.Regexp(t, `refreshInterval\s+15`, out)
	assert.Regexp(t, `autoRefresh\s+false`, out)
}

func TestWatchRequiresAutoRefresh(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.run(t, "settings", "set", prefs.KeyAutoRefresh, "false")
	require.NoError(t, err)

	_, _, err = f.run(t, "watch")
	require.Error(t, err)
	assert.Zero(t, f.srv.Hits(testserver.RoutePosts))
}

func TestWatchRefreshesUntilCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, _, err := f.runContext(t, ctx, "watch", "--interval", "60")
	require.NoError(t, err)
	assert.Contains(t, out, "4 posts loaded, 2 pending")
	assert.Equal(t, 1, f.srv.Hits(testserver.RoutePosts))
}

func TestMediaDownload(t *testing.T) {
	f := newFixture(t)
	f.srv.AddMedia("media/1.jpg", "image/jpeg", []byte("jpegdata"))

	target := filepath.Join(t.TempDir(), "out.jpg")
	out, _, err := f.run(t, "media", "1", "-o", target)
	require.NoError(t, err)
	assert.Contains(t, out, "image/jpeg")
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "jpegdata", string(data))
	assert.Empty(t, f.opened)

	_, _, err = f.run(t, "media", "1")
	require.NoError(t, err)
	require.Len(t, f.opened, 1)
	assert.Equal(t, filepath.Join(f.cache, "media", "1.jpg"), f.opened[0])

	_, _, err = f.run(t, "media", "2")
	require.Error(t, err)
}

func TestOpenTargets(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.run(t, "open", "config")
	require.NoError(t, err)
	_, _, err = f.run(t, "open", "cache")
	require.NoError(t, err)
	assert.Equal(t, []string{f.cfg, f.cache}, f.opened)

	_, _, err = f.run(t, "open", "logs")
	require.Error(t, err)
}

func TestStatsAnalyticsHealthCleanup(t *testing.T) {
	f := newFixture(t)

	out, _, err := f.run(t, "stats")
	require.NoError(t, err)
	assert.Regexp(t, `Total\s+4`, out)

	out, _, err = f.run(t, "analytics", "--days", "90")
	require.NoError(t, err)
	assert.Contains(t, out, "By channel")
	assert.Contains(t, out, "news")

	out, _, err = f.run(t, "health")
	require.NoError(t, err)
	assert.Contains(t, out, f.srv.URL)

	out, _, err = f.run(t, "cleanup", "--days", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Archived 0 posts")
}

func TestCacheClear(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.run(t, "refresh")
	require.NoError(t, err)
	entries, err := os.ReadDir(f.cache)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	_, stderr, err := f.run(t, "cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Cache cleared")

	out, _, err := f.run(t, "posts", "--offline")
	require.NoError(t, err)
	assert.Contains(t, out, "No posts")
}

func TestReport(t *testing.T) {
	f := newFixture(t)

	out, _, err := f.run(t, "report", "--plain")
	require.NoError(t, err)
	assert.Contains(t, out, "Pending posts")
	assert.Less(t, strings.Index(out, "#1 [pending]"), strings.Index(out, "#2 [pending]"))
	assert.NotContains(t, out, "#3")
	assert.Equal(t, 1, f.srv.Hits(testserver.RouteStats))

	_, _, err = f.run(t, "report", "--status", "posted", "--status", "rejected")
	require.NoError(t, err)
	require.Len(t, f.opened, 1)
	assert.Equal(t, filepath.Join(f.cache, "reports"), filepath.Dir(f.opened[0]))
	html, err := os.ReadFile(f.opened[0])
	require.NoError(t, err)
	assert.Contains(t, string(html), "Posted, rejected posts")
	assert.Contains(t, string(html), "#3")
	assert.Contains(t, string(html), "#4")
}

func TestActionWithoutVerbListsAllowed(t *testing.T) {
	f := newFixture(t)

	out, _, err := f.run(t, "action", "3")
	require.NoError(t, err)
	assert.Equal(t, "Post 3 (posted): reject, archive\n", out)
	assert.Zero(t, f.srv.Hits(testserver.RouteAction))
}

func TestNoRetryFailsOnFirstError(t *testing.T) {
	f := newFixture(t)
	f.srv.StallNext(testserver.RouteStats, 1)

	_, stderr, err := f.run(t, "--no-retry", "stats")
	require.Error(t, err)
	assert.Contains(t, stderr, "[error]")
	assert.Equal(t, 1, f.srv.Hits(testserver.RouteStats))
}
