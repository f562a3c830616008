// Package redisstream republishes realtime events onto a Watermill bus,
// backed by Redis Streams when enabled and by an in-process channel otherwise.
package redisstream

// Settings holds Redis Streams transport configuration for Watermill.
type Settings struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Stream   string `yaml:"stream"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		Addr:     "localhost:6379",
		Stream:   "docchat.events",
		Group:    "docchat",
		Consumer: "docchat-1",
	}
}
