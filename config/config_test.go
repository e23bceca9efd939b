package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	t.Setenv("REVERIE_CONFIG_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VAD.StartThresholdDB != -35 {
		t.Errorf("StartThresholdDB = %v, want -35", cfg.VAD.StartThresholdDB)
	}
	if cfg.VAD.LongSilenceMs != 2500 {
		t.Errorf("LongSilenceMs = %v, want 2500", cfg.VAD.LongSilenceMs)
	}
	if cfg.ChatProvider != "openai" {
		t.Errorf("ChatProvider = %q, want openai", cfg.ChatProvider)
	}
	if !cfg.AutoDetect {
		t.Error("AutoDetect should default on")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	t.Setenv("REVERIE_CONFIG_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.ChatProvider = "claude"
	cfg.ContinueMode = true
	cfg.VAD.ShortPauseMs = 1000
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.ChatProvider != "claude" || !got.ContinueMode {
		t.Errorf("reloaded config = %+v", got)
	}
	if got.VAD.ShortPauseMs != 1000 {
		t.Errorf("ShortPauseMs = %d, want 1000", got.VAD.ShortPauseMs)
	}
	// Untouched fields keep their defaults through the round trip.
	if got.VAD.ConfidenceFrames != 3 {
		t.Errorf("ConfidenceFrames = %d, want 3", got.VAD.ConfidenceFrames)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REVERIE_CONFIG_DIR", dir)

	partial := []byte(`{"chat_provider": "claude"}`)
	if err := os.WriteFile(filepath.Join(dir, configFileName), partial, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChatProvider != "claude" {
		t.Errorf("ChatProvider = %q", cfg.ChatProvider)
	}
	if cfg.VAD.MinSpeechMs != 500 {
		t.Errorf("MinSpeechMs = %d, want default 500", cfg.VAD.MinSpeechMs)
	}
}
