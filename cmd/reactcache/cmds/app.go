package cmds

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/reactcache/pkg/cache"
	"github.com/go-go-golems/reactcache/pkg/config"
	"github.com/go-go-golems/reactcache/pkg/docstore"
	"github.com/go-go-golems/reactcache/pkg/history/archive"
	"github.com/go-go-golems/reactcache/pkg/progress"
	"github.com/go-go-golems/reactcache/pkg/query"
	"github.com/go-go-golems/reactcache/pkg/redisstream"
	"github.com/go-go-golems/reactcache/pkg/scan"
)

// AddStoreFlags registers the persistent flags shared by every command and binds them
// to their viper keys.
func AddStoreFlags(root *cobra.Command) error {
	flags := root.PersistentFlags()
	flags.String("store-backend", docstore.BackendSQLite, "Store backend: sqlite, json or memory")
	flags.String("store-path", "reactcache.db", "Database or JSON file path")
	flags.String("store-driver", docstore.DriverMattn, "SQLite driver: sqlite3 (cgo) or sqlite (pure Go)")
	flags.String("archive", "", "Workspace export (YAML/JSON) used as history source")
	flags.Int64("guild-id", 0, "Workspace id used to scope member lookups and rescans")

	for key, flag := range map[string]string{
		"store.backend":  "store-backend",
		"store.path":     "store-path",
		"store.driver":   "store-driver",
		"source.archive": "archive",
		"guild-id":       "guild-id",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return errors.Wrapf(err, "bind flag %s", flag)
		}
	}
	return nil
}

// App holds what a command needs; Close releases it.
type App struct {
	Settings *config.Settings
	Cache    *cache.Cache
	Archive  *archive.Source
	PubSub   *redisstream.PubSub
}

func loadSettings() (*config.Settings, error) {
	return config.Load(viper.GetViper())
}

// OpenApp opens the cache. The archive is loaded only when withSource is set.
func OpenApp(ctx context.Context, withSource bool) (*App, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	store, err := docstore.Open(ctx, settings.StoreOptions())
	if err != nil {
		return nil, err
	}
	app := &App{Settings: settings, Cache: cache.New(store)}
	if withSource {
		if settings.Source.Archive == "" {
			_ = app.Close()
			return nil, errors.New("no history source: set --archive or source.archive")
		}
		src, err := archive.Load(settings.Source.Archive)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.Archive = src
	}
	return app, nil
}

// Events builds the progress transport lazily.
func (a *App) Events(ctx context.Context) (*redisstream.PubSub, error) {
	if a.PubSub != nil {
		return a.PubSub, nil
	}
	ps, err := redisstream.Build(ctx, a.Settings.Events)
	if err != nil {
		return nil, err
	}
	a.PubSub = ps
	return ps, nil
}

func (a *App) Engine() *query.Engine {
	return query.NewEngine(a.Cache, a.Settings.GuildID)
}

// Coordinator wires the archive, the cache and the given reporter.
func (a *App) Coordinator(reporter progress.Reporter, scanOpts ...scan.Option) *scan.Coordinator {
	scanOpts = append([]scan.Option{scan.WithTracker(a.Settings.Tracker())}, scanOpts...)
	scanner := scan.NewScanner(a.Cache, a.Archive, scanOpts...)
	return scan.NewCoordinator(scanner, a.Cache,
		scan.WithMembershipSource(a.Archive),
		scan.WithChannelLister(a.Archive),
		scan.WithReporter(reporter),
		scan.WithConcurrency(a.Settings.Scan.Concurrency),
		scan.WithHeartbeat(a.Settings.Scan.Heartbeat),
	)
}

func (a *App) Close() error {
	var firstErr error
	if a.PubSub != nil {
		if err := a.PubSub.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.Cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
