package redisstream

// Settings selects the transport used for config fan-out. With Enabled
// false an in-process gochannel is used.
type Settings struct {
	Enabled bool   `mapstructure:"redis-enabled"`
	Addr    string `mapstructure:"redis-addr"`
}

const DefaultAddr = "localhost:6379"

func DefaultSettings() Settings {
	return Settings{Addr: DefaultAddr}
}
