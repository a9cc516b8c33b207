package config

import (
	"fmt"

	"github.com/spf13/viper"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("local_db.path", "clinic.db")
	v.SetDefault("remote.timeout", "30s")
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "@every 30m")
	v.SetDefault("network.probe_url", "https://www.google.com")
	v.SetDefault("network.check_interval", "30s")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
