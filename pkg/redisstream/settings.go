package redisstream

// Settings holds the transport configuration for progress events.
type Settings struct {
	Enabled  bool   `mapstructure:"redis-enabled"`
	Addr     string `mapstructure:"redis-addr"`
	Group    string `mapstructure:"redis-group"`
	Consumer string `mapstructure:"redis-consumer"`
	Topic    string `mapstructure:"topic"`
}

const (
	DefaultAddr     = "localhost:6379"
	DefaultGroup    = "reactcache"
	DefaultConsumer = "reactcache-1"
	DefaultTopic    = "reactcache.progress"
)

// WithDefaults fills empty fields.
func (s Settings) WithDefaults() Settings {
	if s.Addr == "" {
		s.Addr = DefaultAddr
	}
	if s.Group == "" {
		s.Group = DefaultGroup
	}
	if s.Consumer == "" {
		s.Consumer = DefaultConsumer
	}
	if s.Topic == "" {
		s.Topic = DefaultTopic
	}
	return s
}
