package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ibeckermayer/modsync/internal/apiclient"
	"github.com/ibeckermayer/modsync/internal/auth"
	"github.com/ibeckermayer/modsync/internal/cache"
	"github.com/ibeckermayer/modsync/internal/config"
	"github.com/ibeckermayer/modsync/internal/notifier"
	"github.com/ibeckermayer/modsync/internal/prefs"
	"github.com/ibeckermayer/modsync/internal/relay"
	"github.com/ibeckermayer/modsync/internal/scheduler"
	"github.com/ibeckermayer/modsync/internal/share"
	"github.com/ibeckermayer/modsync/internal/state"
	"github.com/ibeckermayer/modsync/internal/types"
	"github.com/ibeckermayer/modsync/internal/view"
)

// API is the part of the server the app reads from
type API interface {
	ListPosts(ctx context.Context, q apiclient.PostsQuery) ([]types.Post, error)
	Stats(ctx context.Context) (*types.Stats, error)
	Analytics(ctx context.Context, days int) (*types.Analytics, error)
	Health(ctx context.Context) (apiclient.Health, error)
	Cleanup(ctx context.Context, days int) (apiclient.CleanupResult, error)
	Media(ctx context.Context, path string) (io.ReadCloser, string, error)
}

// Deps are the collaborators an App is built from. Store, Prefs, API and
// Relay are required.
type Deps struct {
	Config   *config.Config
	Store    *state.Store
	Prefs    prefs.Adapter
	API      API
	Relay    *relay.Relay
	Auth     *auth.Manager
	Notifier *notifier.Notifier
	Cache    *cache.Cache
	Logger   *zap.Logger
	// Retry applies to reads. Zero value means DefaultRetryPolicy.
	Retry *apiclient.RetryPolicy
}

// App holds the session and wires the sync engine together.
type App struct {
	mu sync.RWMutex
	// Mutable fields - use getSnapshot() for concurrent access.
	config *config.Config

	// Immutable after creation.
	store  *state.Store
	prefs  prefs.Adapter
	api    API
	relay  *relay.Relay
	auth   *auth.Manager
	notify *notifier.Notifier
	cache  *cache.Cache
	logger *zap.Logger
	retry  apiclient.RetryPolicy
}

// snapshot holds fields that may be replaced by ReloadConfig.
type snapshot struct {
	config *config.Config
}

// getSnapshot returns a snapshot of mutable fields under read lock.
func (a *App) getSnapshot() snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return snapshot{config: a.config}
}

// New creates a new App instance.
func New(d Deps) *App {
	a := &App{
		config: d.Config,
		store:  d.Store,
		prefs:  d.Prefs,
		api:    d.API,
		relay:  d.Relay,
		auth:   d.Auth,
		notify: d.Notifier,
		cache:  d.Cache,
		logger: d.Logger,
		retry:  apiclient.DefaultRetryPolicy(),
	}
	if a.config == nil {
		a.config = config.Default()
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if d.Retry != nil {
		a.retry = *d.Retry
	}
	return a
}

// Store exposes the session store for read-only consumers
func (a *App) Store() *state.Store {
	return a.store
}

// Config returns the current configuration
func (a *App) Config() *config.Config {
	return a.getSnapshot().config
}

// ReloadConfig swaps in a new configuration. The session base URL is not touched.
func (a *App) ReloadConfig(cfg *config.Config) {
	a.mu.Lock()
	a.config = cfg
	a.mu.Unlock()
	a.logger.Info("configuration reloaded")
}

// snapshotName is the cache entry holding the last good refresh
const snapshotName = "snapshot"

// Snapshot is the persisted form of the last good refresh
type Snapshot struct {
	BaseURL   string           `json:"base_url"`
	Posts     []types.Post     `json:"posts"`
	Analytics *types.Analytics `json:"analytics,omitempty"`
	Stats     *types.Stats     `json:"stats,omitempty"`
	SavedAt   time.Time        `json:"saved_at"`
}

// LoadSession restores the saved server URL and, if one exists for that
// server, the last cached snapshot. It reports whether a snapshot was restored.
func (a *App) LoadSession() (bool, error) {
	base := a.getSnapshot().config.Server.BaseURL
	saved, ok, err := a.prefs.Get(prefs.KeyAPIURL)
	if err != nil {
		return false, fmt.Errorf("failed to read saved API URL: %w", err)
	}
	if ok && strings.TrimSpace(saved) != "" {
		base = saved
	}
	a.store.Apply(state.SetBaseURL{URL: base})

	if a.cache == nil {
		return false, nil
	}
	snap, path, err := cache.LoadLatest[Snapshot](a.cache, snapshotName)
	if err != nil {
		if !errors.Is(err, cache.ErrEmpty) {
			a.logger.Warn("cached snapshot unreadable", zap.Error(err))
		}
		return false, nil
	}
	if snap.BaseURL != base {
		a.logger.Debug("cached snapshot is for another server", zap.String("cached", snap.BaseURL))
		return false, nil
	}

	a.store.Apply(state.ReplaceItems{Posts: snap.Posts, Limit: len(snap.Posts)})
	if snap.Stats != nil {
		a.store.Apply(state.SetStats{Stats: snap.Stats})
	}
	if snap.Analytics != nil {
		a.store.Apply(state.SetAnalytics{Analytics: snap.Analytics})
	}
	a.logger.Info("restored cached snapshot",
		zap.String("path", path),
		zap.Int("posts", len(snap.Posts)),
		zap.Time("saved_at", snap.SavedAt))
	return true, nil
}

// saveSnapshot persists the current state for the next offline start
func (a *App) saveSnapshot() {
	if a.cache == nil {
		return
	}
	st := a.store.Snapshot()
	path, err := cache.Save(a.cache, snapshotName, Snapshot{
		BaseURL:   st.BaseURL,
		Posts:     st.Posts,
		Analytics: st.Analytics,
		Stats:     st.Stats,
		SavedAt:   st.UpdatedAt,
	})
	if err != nil {
		a.logger.Warn("failed to cache snapshot", zap.Error(err))
		return
	}
	keep := a.getSnapshot().config.Sync.SnapshotKeep
	if _, err := a.cache.Prune(snapshotName, keep); err != nil {
		a.logger.Warn("failed to prune snapshots", zap.Error(err))
	}
	a.logger.Debug("cached snapshot", zap.String("path", path))
}

// SetAPIURL validates, persists and switches to a new server URL
func (a *App) SetAPIURL(raw string) error {
	url := strings.TrimRight(strings.TrimSpace(raw), "/")
	if err := config.ValidateBaseURL(url); err != nil {
		verr := apiclient.Validation("Please enter a valid API URL: %v", err)
		a.notify.Error(verr.Kind.Title(), verr.Message)
		return verr
	}
	if err := a.prefs.Set(prefs.KeyAPIURL, url); err != nil {
		a.notify.Error("Error", "Failed to save API URL")
		return fmt.Errorf("failed to save API URL: %w", err)
	}
	a.store.Apply(state.SetBaseURL{URL: url})
	a.logger.Info("api url updated", zap.String("url", url))
	a.notify.Success("Success", "API URL updated successfully")
	return nil
}

// Login authenticates and stores the token
func (a *App) Login(ctx context.Context, username, password string) error {
	if a.auth == nil {
		return errors.New("authentication is not configured")
	}
	if err := a.auth.Login(ctx, username, password); err != nil {
		a.notify.Error(apiclient.KindOf(err).Title(), errorMessage(err))
		return err
	}
	a.notify.Success("Success", "Logged in")
	return nil
}

// Logout forgets the token
func (a *App) Logout() error {
	if a.auth == nil {
		return errors.New("authentication is not configured")
	}
	return a.auth.Logout()
}

// IsAuthenticated reports whether a token is stored
func (a *App) IsAuthenticated() bool {
	return a.auth != nil && a.auth.IsAuthenticated()
}

// PerformAction relays a single decision
func (a *App) PerformAction(ctx context.Context, id int64, action types.Action, opts relay.SingleOptions) (types.ActionResult, error) {
	return a.relay.PerformSingle(ctx, id, action, opts)
}

// BatchAction relays one decision for many posts
func (a *App) BatchAction(ctx context.Context, ids []int64, action types.Action, notes string) (types.ActionResult, error) {
	return a.relay.PerformBatch(ctx, ids, action, notes)
}

// PublishPost opens the share intent for a pending post and, once the intent
// opened, records it as posted with the URL that was used.
func (a *App) PublishPost(ctx context.Context, id int64, open share.Opener) (types.ActionResult, error) {
	post, ok := a.store.Snapshot().Post(id)
	if !ok {
		err := apiclient.Validation("Post %d is not loaded; refresh and try again", id)
		a.notify.Error(err.Kind.Title(), err.Message)
		return types.ActionResult{}, err
	}
	if _, err := relay.Target(post.Status, types.ActionPostTwitter); err != nil {
		a.notify.Error(apiclient.KindOf(err).Title(), errorMessage(err))
		return types.ActionResult{}, err
	}
	url, err := share.Open(open, share.Text(post))
	if err != nil {
		a.notify.Error("Error", "Failed to open X")
		return types.ActionResult{}, err
	}
	return a.relay.PerformSingle(ctx, id, types.ActionPostTwitter, relay.SingleOptions{ShareURL: url})
}

// Project applies q to the current collection
func (a *App) Project(q view.Query) []types.Post {
	return view.Project(a.store.Snapshot().Posts, q)
}

// Preferences returns the typed user settings
func (a *App) Preferences() (prefs.Preferences, error) {
	return prefs.LoadPreferences(a.prefs)
}

// SetPreference stores one user setting
func (a *App) SetPreference(key string, value any) error {
	if err := prefs.SavePreference(a.prefs, key, value); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// ClearCache drops cached aggregates and snapshots
func (a *App) ClearCache() error {
	var errs []error
	if err := a.prefs.RemoveMany(prefs.KeyPosts, prefs.KeyAnalytics, prefs.KeyStats); err != nil {
		errs = append(errs, err)
	}
	if a.cache != nil {
		if err := a.cache.Clear(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.notify.Error("Error", "Failed to clear cache")
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	a.notify.Success("Success", "Cache cleared successfully")
	return nil
}

// ResetSettings forgets the saved server URL and toggles and returns to the configured server
func (a *App) ResetSettings() error {
	if err := a.prefs.RemoveMany(prefs.KeyAPIURL, prefs.KeyNotifications, prefs.KeyAutoRefresh); err != nil {
		a.notify.Error("Error", "Failed to reset settings")
		return fmt.Errorf("failed to reset settings: %w", err)
	}
	a.store.Apply(state.SetBaseURL{URL: a.getSnapshot().config.Server.BaseURL})
	a.notify.Success("Success", "Settings reset to defaults")
	return nil
}

// TestConnection checks the server is reachable and accepts the token
func (a *App) TestConnection(ctx context.Context) (apiclient.Health, error) {
	h, err := a.api.Health(ctx)
	if err != nil {
		a.notify.Error("Connection Failed", errorMessage(err))
		return h, err
	}
	a.notify.Success("Connection Successful", "API server is reachable")
	return h, nil
}

// Cleanup asks the server to archive old pending posts
func (a *App) Cleanup(ctx context.Context, days int) (apiclient.CleanupResult, error) {
	if days < apiclient.MinCleanupDays {
		days = apiclient.MinCleanupDays
	}
	res, err := a.api.Cleanup(ctx, days)
	if err != nil {
		a.store.Apply(state.SetError{Err: err})
		a.notify.Error(apiclient.KindOf(err).Title(), errorMessage(err))
		return res, err
	}
	a.logger.Info("cleanup finished", zap.Int("days", days), zap.Int("archived", res.ArchivedCount))
	a.notify.Success("Success", res.Message)
	return res, nil
}

// OpenMedia streams the attachment of a loaded post
func (a *App) OpenMedia(ctx context.Context, id int64) (io.ReadCloser, string, types.Media, error) {
	post, ok := a.store.Snapshot().Post(id)
	if !ok {
		return nil, "", types.Media{}, apiclient.Validation("Post %d is not loaded; refresh and try again", id)
	}
	m := post.Media()
	if m.Path == "" {
		return nil, "", m, apiclient.Validation("Post %d has no media", id)
	}
	rc, contentType, err := a.api.Media(ctx, m.Path)
	if err != nil {
		return nil, "", m, err
	}
	return rc, contentType, m, nil
}

// ScheduleRefresh registers periodic RefreshData on s according to the
// autoRefresh and refreshInterval preferences. It reports whether a job was added.
func (a *App) ScheduleRefresh(s *scheduler.Scheduler) (bool, error) {
	p, err := a.Preferences()
	if err != nil {
		return false, err
	}
	if !p.AutoRefresh {
		s.RemoveJob(scheduler.RefreshJobName)
		return false, nil
	}
	interval := p.RefreshIntervalMinutes
	if interval <= 0 {
		interval = a.getSnapshot().config.Sync.RefreshIntervalMinutes
	}
	if err := s.AddRefreshJob(interval, a.RefreshData); err != nil {
		return false, err
	}
	return true, nil
}

func errorMessage(err error) string {
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
