package config

import (
	"time"
)

type Config struct {
	LocalDB   LocalDBConfig   `mapstructure:"local_db"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Network   NetworkConfig   `mapstructure:"network"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type LocalDBConfig struct {
	Path string `mapstructure:"path"`
}

type RemoteConfig struct {
	URL     string `mapstructure:"url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout string `mapstructure:"timeout"`
}

func (r RemoteConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(r.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type SyncConfig struct {
	Tables    []TableConfig `mapstructure:"tables"`
	BatchSize int           `mapstructure:"batch_size"`
}

type TableConfig struct {
	Name          string            `mapstructure:"name"`
	ConflictRules map[string]string `mapstructure:"conflict_rules"`
}

// TableNames returns the configured table names in declaration order. Pull
// sync relies on this ordering (parents before children).
func (s SyncConfig) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	return names
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type NetworkConfig struct {
	ProbeURL      string `mapstructure:"probe_url"`
	CheckInterval string `mapstructure:"check_interval"`
}

func (n NetworkConfig) GetCheckInterval() time.Duration {
	d, err := time.ParseDuration(n.CheckInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
