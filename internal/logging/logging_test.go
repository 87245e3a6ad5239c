// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/bmsstat/internal/config"
)

func TestSetupLevel(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"bogus", logrus.InfoLevel},
		{"", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log, closer, err := Setup(config.LogConfig{Level: tt.level})
			if err != nil {
				t.Fatalf("Setup failed: %v", err)
			}
			defer closer.Close()
			if log.GetLevel() != tt.want {
				t.Errorf("level = %v, want %v", log.GetLevel(), tt.want)
			}
		})
	}
}

func TestSetupJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bmsstat.log")
	log, closer, err := Setup(config.LogConfig{Level: "info", Format: "json", Output: "file", FilePath: path})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	log.WithField("vendor", "jbd").Info("refresh ok")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, data)
	}
	if entry["vendor"] != "jbd" || entry["msg"] != "refresh ok" {
		t.Errorf("entry = %v", entry)
	}
}

func TestSetupBadFile(t *testing.T) {
	_, _, err := Setup(config.LogConfig{Output: "file", FilePath: filepath.Join(t.TempDir(), "missing", "x.log")})
	if err == nil {
		t.Fatal("expected error for unwritable path")
	}
}
