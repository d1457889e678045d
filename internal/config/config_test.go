package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Segmentation.IdleGap() != 10*time.Minute {
		t.Errorf("idle gap = %v, want 10m", cfg.Segmentation.IdleGap())
	}
	if cfg.Graph.HalfLife() != 7*24*time.Hour {
		t.Errorf("half life = %v, want 168h", cfg.Graph.HalfLife())
	}
	if cfg.Graph.WeightCap <= 0 {
		t.Error("weight cap must be positive")
	}
	if cfg.ListenAddr() != "127.0.0.1:38800" {
		t.Errorf("listen addr = %s", cfg.ListenAddr())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 38800 {
		t.Errorf("port = %d, want default", cfg.Server.Port)
	}
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 40000
segmentation:
  idle_gap_minutes: 25
prediction:
  weights:
    similarity: 0.5
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 40000 {
		t.Errorf("port = %d, want 40000", cfg.Server.Port)
	}
	if cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("bind = %q, default lost on overlay", cfg.Server.Bind)
	}
	if cfg.Segmentation.IdleGap() != 25*time.Minute {
		t.Errorf("idle gap = %v, want 25m", cfg.Segmentation.IdleGap())
	}
	if cfg.Prediction.Weights.Similarity != 0.5 {
		t.Errorf("similarity weight = %v, want 0.5", cfg.Prediction.Weights.Similarity)
	}
	if cfg.Prediction.Weights.Proximity != 0.30 {
		t.Errorf("proximity weight = %v, default lost", cfg.Prediction.Weights.Proximity)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: ["), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
