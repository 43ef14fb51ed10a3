package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ibeckermayer/modsync/internal/apiclient"
	"github.com/ibeckermayer/modsync/internal/auth"
	"github.com/ibeckermayer/modsync/internal/cache"
	"github.com/ibeckermayer/modsync/internal/config"
	"github.com/ibeckermayer/modsync/internal/notifier"
	"github.com/ibeckermayer/modsync/internal/prefs"
	"github.com/ibeckermayer/modsync/internal/relay"
	"github.com/ibeckermayer/modsync/internal/state"
)

// Options tune Build
type Options struct {
	// Prefs overrides the SQLite preferences database.
	Prefs prefs.Adapter
	// CacheDir overrides config.CacheDir().
	CacheDir string
	// Sinks receive notices in addition to the log.
	Sinks []notifier.Sink
	// Retry overrides the read retry policy.
	Retry *apiclient.RetryPolicy
}

// Build wires a production App from cfg. The returned close func releases the
// preferences database.
func Build(cfg *config.Config, logger *zap.Logger, opts Options) (*App, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	closer := func() error { return nil }

	kv := opts.Prefs
	if kv == nil {
		path, err := cfg.PrefsPath()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve prefs path: %w", err)
		}
		db, err := prefs.OpenSQLite(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open prefs %s: %w", path, err)
		}
		kv, closer = db, db.Close
	}

	cacheDir := opts.CacheDir
	if cacheDir == "" {
		dir, err := config.CacheDir()
		if err != nil {
			_ = closer()
			return nil, nil, fmt.Errorf("failed to resolve cache dir: %w", err)
		}
		cacheDir = dir
	}

	sinks := append([]notifier.Sink{notifier.LogSink{Logger: logger.Named("notice")}}, opts.Sinks...)
	notify := notifier.New(logger, sinks...)

	session := state.New(state.WithBaseURL(cfg.Server.BaseURL))
	client := apiclient.New(session, kv,
		apiclient.WithTimeout(cfg.Timeout()),
		apiclient.WithLogger(logger.Named("api")))

	a := New(Deps{
		Config: cfg,
		Store:  session,
		Prefs:  kv,
		API:    client,
		Relay: relay.New(session, client,
			relay.WithLogger(logger.Named("relay")),
			relay.WithNotifier(notify)),
		Auth:     auth.NewManager(client, kv, logger.Named("auth")),
		Notifier: notify,
		Cache:    cache.New(cacheDir),
		Logger:   logger,
		Retry:    opts.Retry,
	})
	return a, closer, nil
}
