// Package config loads reactcache settings from viper (flags, REACTCACHE_* env, config file).
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/go-go-golems/reactcache/pkg/docstore"
	"github.com/go-go-golems/reactcache/pkg/redisstream"
	"github.com/go-go-golems/reactcache/pkg/sentinel"
)

type StoreSettings struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	Driver  string `mapstructure:"driver"`
}

type ScanSettings struct {
	LookbackCount    int           `mapstructure:"lookback-count"`
	LookbackDuration time.Duration `mapstructure:"lookback-duration"`
	Concurrency      int           `mapstructure:"concurrency"`
	Heartbeat        time.Duration `mapstructure:"heartbeat"`
}

type SourceSettings struct {
	Archive string `mapstructure:"archive"`
}

type ServerSettings struct {
	Addr string `mapstructure:"addr"`
}

type Settings struct {
	Store   StoreSettings        `mapstructure:"store"`
	Scan    ScanSettings         `mapstructure:"scan"`
	Source  SourceSettings       `mapstructure:"source"`
	GuildID int64                `mapstructure:"guild-id"`
	Events  redisstream.Settings `mapstructure:"events"`
	Server  ServerSettings       `mapstructure:"server"`
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", docstore.BackendSQLite)
	v.SetDefault("store.path", "reactcache.db")
	v.SetDefault("store.driver", docstore.DriverMattn)
	v.SetDefault("scan.lookback-count", sentinel.DefaultLookbackCount)
	v.SetDefault("scan.lookback-duration", sentinel.DefaultLookbackDuration)
	v.SetDefault("scan.concurrency", 0)
	v.SetDefault("scan.heartbeat", 2*time.Second)
	v.SetDefault("source.archive", "")
	v.SetDefault("guild-id", 0)
	v.SetDefault("events.redis-enabled", false)
	v.SetDefault("events.redis-addr", redisstream.DefaultAddr)
	v.SetDefault("events.redis-group", redisstream.DefaultGroup)
	v.SetDefault("events.redis-consumer", redisstream.DefaultConsumer)
	v.SetDefault("events.topic", redisstream.DefaultTopic)
	v.SetDefault("server.addr", ":8080")
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "config: decode settings")
	}
	s.Store.Backend = strings.ToLower(strings.TrimSpace(s.Store.Backend))
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) Validate() error {
	switch s.Store.Backend {
	case docstore.BackendSQLite:
		switch s.Store.Driver {
		case docstore.DriverMattn, docstore.DriverModernc:
		default:
			return errors.Errorf("config: unknown store.driver %q", s.Store.Driver)
		}
		if s.Store.Path == "" {
			return errors.New("config: store.path is empty")
		}
	case docstore.BackendJSON:
		if s.Store.Path == "" {
			return errors.New("config: store.path is empty")
		}
	case docstore.BackendMemory:
	default:
		return errors.Errorf("config: unknown store.backend %q", s.Store.Backend)
	}
	if s.Scan.LookbackCount <= 0 {
		return errors.Errorf("config: scan.lookback-count must be positive, got %d", s.Scan.LookbackCount)
	}
	if s.Scan.LookbackDuration < 0 {
		return errors.New("config: scan.lookback-duration is negative")
	}
	if s.Scan.Concurrency < 0 {
		return errors.New("config: scan.concurrency is negative")
	}
	if s.Events.Enabled && s.Events.Addr == "" {
		return errors.New("config: events.redis-addr is empty")
	}
	return nil
}

func (s *Settings) StoreOptions() docstore.Options {
	return docstore.Options{Backend: s.Store.Backend, Path: s.Store.Path, Driver: s.Store.Driver}
}

func (s *Settings) Tracker() sentinel.Tracker {
	return sentinel.NewTracker(s.Scan.LookbackCount, s.Scan.LookbackDuration)
}
