// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

func TestNewProgressConfig(t *testing.T) {
	tests := []struct {
		name            string
		globals         GlobalFlags
		expectedEnabled bool
		expectedNoColor bool
	}{
		{
			name:            "default flags - progress disabled in test (not a TTY)",
			globals:         GlobalFlags{},
			expectedEnabled: false, // stderr is not a TTY in test environment
			expectedNoColor: false,
		},
		{
			name:            "quiet mode - progress disabled",
			globals:         GlobalFlags{Quiet: true},
			expectedEnabled: false,
			expectedNoColor: false,
		},
		{
			name:            "JSON mode - progress disabled (quiet auto-set)",
			globals:         GlobalFlags{JSON: true, Quiet: true},
			expectedEnabled: false,
			expectedNoColor: false,
		},
		{
			name:            "debug mode - progress not affected by log level",
			globals:         GlobalFlags{Debug: true},
			expectedEnabled: false, // stderr not a TTY in test
			expectedNoColor: false,
		},
		{
			name:            "noColor flag propagates to config",
			globals:         GlobalFlags{NoColor: true},
			expectedEnabled: false,
			expectedNoColor: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewProgressConfig(tt.globals)
			if cfg.Enabled != tt.expectedEnabled {
				t.Errorf("NewProgressConfig().Enabled = %v, want %v", cfg.Enabled, tt.expectedEnabled)
			}
			if cfg.NoColor != tt.expectedNoColor {
				t.Errorf("NewProgressConfig().NoColor = %v, want %v", cfg.NoColor, tt.expectedNoColor)
			}
			if cfg.Writer != os.Stderr {
				t.Error("NewProgressConfig().Writer should be os.Stderr")
			}
		})
	}
}

func TestNewProgressBar(t *testing.T) {
	t.Run("disabled config returns nil", func(t *testing.T) {
		cfg := ProgressConfig{Enabled: false}
		if bar := NewProgressBar(cfg, 100, "Test"); bar != nil {
			t.Error("NewProgressBar() should return nil when disabled")
		}
	})

	t.Run("enabled config returns usable bar", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := ProgressConfig{Enabled: true, Writer: &buf, NoColor: true}
		bar := NewProgressBar(cfg, 100, "Test")
		if bar == nil {
			t.Fatal("NewProgressBar() should return non-nil when enabled")
		}
		_ = bar.Set(50)
		_ = bar.Finish()
	})

	t.Run("zero total creates valid bar", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := ProgressConfig{Enabled: true, Writer: &buf}
		bar := NewProgressBar(cfg, 0, "Empty")
		if bar == nil {
			t.Fatal("NewProgressBar() should handle zero total")
		}
		_ = bar.Finish()
	})
}

func TestNewSpinner(t *testing.T) {
	if spinner := NewSpinner(ProgressConfig{Enabled: false}, "Test"); spinner != nil {
		t.Error("NewSpinner() should return nil when disabled")
	}

	var buf bytes.Buffer
	spinner := NewSpinner(ProgressConfig{Enabled: true, Writer: &buf}, "Test")
	if spinner == nil {
		t.Fatal("NewSpinner() should return non-nil when enabled")
	}
	_ = spinner.Add(1)
	_ = spinner.Finish()
}

func TestInputProgress_Hook(t *testing.T) {
	const content = "a,b\n1,2\n3,4\n"

	tests := []struct {
		name    string
		enabled bool
		size    int64
	}{
		{"disabled passes reader through", false, int64(len(content))},
		{"known size uses a bar", true, int64(len(content))},
		{"unknown size uses a spinner", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			p := newInputProgress(ProgressConfig{Enabled: tt.enabled, Writer: &buf, NoColor: true})

			src := strings.NewReader(content)
			r := p.Hook(src, tt.size)
			if !tt.enabled && r != io.Reader(src) {
				t.Error("Hook() should return the reader unchanged when disabled")
			}

			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if string(got) != content {
				t.Errorf("Hook() altered the stream: %q", got)
			}

			p.Finish()
			p.Finish()
			if p.bar != nil {
				t.Error("Finish() should drop the bar")
			}
		})
	}
}

// TestProgressConfigQuietDisablesProgress verifies that quiet mode disables progress
// regardless of TTY status.
func TestProgressConfigQuietDisablesProgress(t *testing.T) {
	if cfg := NewProgressConfig(GlobalFlags{Quiet: true}); cfg.Enabled {
		t.Error("Progress should be disabled when Quiet=true")
	}

	opts, err := parseArgs([]string{"--json"}, io.Discard)
	if err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	if cfg := NewProgressConfig(opts.GlobalFlags); cfg.Enabled {
		t.Error("Progress should be disabled in JSON mode")
	}
}
