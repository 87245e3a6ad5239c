// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil configuration")
	}

	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unsupported format %q (use text or json)", cfg.Log.Format)
	}
	if cfg.Log.Output == "file" && cfg.Log.FilePath == "" {
		return errors.New("log.file_path is required when log.output is file")
	}

	if cfg.Redis.Enabled {
		if cfg.Redis.Addr == "" {
			return errors.New("redis.addr is required when redis is enabled")
		}
		if cfg.Redis.Channel == "" {
			return errors.New("redis.channel is required when redis is enabled")
		}
		switch cfg.Redis.Codec {
		case "json", "cbor":
		default:
			return fmt.Errorf("redis.codec: unsupported codec %q (use json or cbor)", cfg.Redis.Codec)
		}
		if cfg.Redis.History < 0 {
			return errors.New("redis.history must be >= 0")
		}
	}

	if err := validatePoll("defaults", cfg.Defaults); err != nil {
		return err
	}
	if cfg.Defaults.Interval <= 0 {
		return errors.New("defaults.interval must be > 0")
	}

	if len(cfg.Devices) == 0 {
		return errors.New("at least one device is required")
	}

	names := make(map[string]int)
	for i, d := range cfg.Devices {
		where := fmt.Sprintf("devices[%d]", i)
		if d.Name != "" {
			where = fmt.Sprintf("device %q", d.Name)
			if prev, exists := names[d.Name]; exists {
				return fmt.Errorf("device name %q used by devices[%d] and devices[%d]", d.Name, prev, i)
			}
			names[d.Name] = i
		}

		if d.Vendor == "" {
			return fmt.Errorf("%s: vendor is required", where)
		}

		switch strings.ToLower(d.Transport) {
		case "", TransportBLE:
			if d.Address == "" {
				return fmt.Errorf("%s: address is required for ble", where)
			}
		case TransportSerial:
			if d.Port == "" {
				return fmt.Errorf("%s: port is required for serial", where)
			}
			if d.Baud < 0 {
				return fmt.Errorf("%s: baud must be > 0", where)
			}
		case TransportWebSocket:
			if !strings.HasPrefix(d.URL, "ws://") && !strings.HasPrefix(d.URL, "wss://") {
				return fmt.Errorf("%s: url must start with ws:// or wss://", where)
			}
		default:
			return fmt.Errorf("%s: unsupported transport %q", where, d.Transport)
		}

		if err := validatePoll(where, d.Poll); err != nil {
			return err
		}
	}
	return nil
}

func validatePoll(where string, p PollConfig) error {
	if p.Interval < 0 {
		return fmt.Errorf("%s: interval must be >= 0", where)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("%s: timeout must be >= 0", where)
	}
	if p.Retries < 0 {
		return fmt.Errorf("%s: retries must be >= 0", where)
	}
	return nil
}
