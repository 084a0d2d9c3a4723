package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestInit_Levels(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}

	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Level = tt.level
			Init(cfg)

			if got := zerolog.GlobalLevel(); got != tt.expected {
				t.Errorf("Init(level=%q) global level = %v, want %v", tt.level, got, tt.expected)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %s", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("expected default format 'json', got %s", cfg.Format)
	}
}
