package config

import "time"

// Config is the root configuration for DateFlow.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Plugins   PluginsConfig   `yaml:"plugins"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type SchedulerConfig struct {
	// Horizon is the rolling look-ahead window within which pending
	// reminder firings are tracked.
	Horizon time.Duration `yaml:"horizon"`

	// MaxWait bounds a single armed sleep; the scheduler rescans at
	// least this often even with no known firing.
	MaxWait time.Duration `yaml:"max_wait"`

	// DefaultLeadMinutes is applied to tasks created through the tool
	// surface without an explicit reminder lead.
	DefaultLeadMinutes int `yaml:"default_lead_minutes"`
}

type PluginsConfig struct {
	// Enabled lists the plugin IDs loaded and enabled at startup.
	Enabled []string `yaml:"enabled"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8430,
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			Path: "~/.config/dateflow/dateflow.db",
		},
		Scheduler: SchedulerConfig{
			Horizon:            48 * time.Hour,
			MaxWait:            5 * time.Minute,
			DefaultLeadMinutes: 15,
		},
	}
}
