package hub

import "time"

// Config carries the hub settings that are commonly driven by environment
// variables. Parse it with core/config and pass Options() to New:
//
//	var cfg hub.Config
//	config.MustLoad(&cfg)
//	h := hub.New(cfg.Options()...)
type Config struct {
	BusChannel        string        `env:"SSEKIT_BUS_CHANNEL" envDefault:"ssekit:bus"`
	HeartbeatInterval time.Duration `env:"SSEKIT_HEARTBEAT_INTERVAL" envDefault:"15s"`
	RetryMs           int           `env:"SSEKIT_RETRY_MS" envDefault:"2000"`
	MaxQueueItems     int           `env:"SSEKIT_MAX_QUEUE_ITEMS" envDefault:"100"`
	MaxQueueBytes     int           `env:"SSEKIT_MAX_QUEUE_BYTES" envDefault:"262144"`
	MaxPayloadSize    int           `env:"SSEKIT_MAX_PAYLOAD_SIZE" envDefault:"0"`
	RecentBufferSize  int           `env:"SSEKIT_RECENT_BUFFER_SIZE" envDefault:"20"`
	RecentBufferTTL   time.Duration `env:"SSEKIT_RECENT_BUFFER_TTL" envDefault:"30m"`
	MaxTrackedUsers   int           `env:"SSEKIT_MAX_TRACKED_USERS" envDefault:"10000"`
}

// Options translates the config into hub options.
func (c Config) Options() []Option {
	return []Option{
		WithBusChannel(c.BusChannel),
		WithHeartbeatInterval(c.HeartbeatInterval),
		WithRetry(c.RetryMs),
		WithQueueLimits(c.MaxQueueItems, c.MaxQueueBytes),
		WithMaxPayloadSize(c.MaxPayloadSize),
		WithRecentBufferSize(c.RecentBufferSize),
		WithRecentBufferTTL(c.RecentBufferTTL),
		WithMaxTrackedUsers(c.MaxTrackedUsers),
	}
}
