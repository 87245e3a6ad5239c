// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the monitor daemon's YAML configuration
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Redis    RedisConfig    `yaml:"redis"`
	Defaults PollConfig     `yaml:"defaults"`
	Devices  []DeviceConfig `yaml:"devices"`
}

// ---- LOG ----

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"` // text | json
	Output   string `yaml:"output"` // stderr | stdout | file
	FilePath string `yaml:"file_path"`
}

// ---- METRICS ----

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// ---- REDIS ----

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Channel  string `yaml:"channel"`
	// History keeps the last samples per device in a list; 0 disables it
	History int    `yaml:"history"`
	Codec   string `yaml:"codec"` // json | cbor
}

// ---- POLL ----

// PollConfig holds per-device cycle settings. Zero values in a device
// inherit from the defaults section.
type PollConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Timeout   time.Duration `yaml:"timeout"`
	Retries   int           `yaml:"retries"`
	KeepAlive *bool         `yaml:"keep_alive"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	Name   string `yaml:"name"`
	Vendor string `yaml:"vendor"`

	// Transport is ble, serial or websocket
	Transport string `yaml:"transport"`

	Address string `yaml:"address"` // ble
	Port    string `yaml:"port"`    // serial
	Baud    int    `yaml:"baud"`    // serial

	URL           string `yaml:"url"` // websocket
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SkipSSLVerify bool   `yaml:"no_ssl_verify"`

	Poll PollConfig `yaml:"poll"`
}

// Transport names
const (
	TransportBLE       = "ble"
	TransportSerial    = "serial"
	TransportWebSocket = "websocket"
)

// Load reads, normalizes and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a configuration document and applies defaults
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	Normalize(cfg)
	return cfg, nil
}

// Default returns the configuration used for keys a file leaves out
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Listen: ":9090",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			Channel:  "bms_samples",
			History:  1000,
			Codec:    "json",
		},
		Defaults: PollConfig{
			Interval: 30 * time.Second,
			Timeout:  5 * time.Second,
			Retries:  2,
		},
	}
}
