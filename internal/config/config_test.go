package config

import (
	"path/filepath"
	"testing"
)

func TestLoadDefaultsToMainNet(t *testing.T) {
	cfg, err := Load([]string{"--appdir", t.TempDir()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Params.Name != "mainnet" {
		t.Fatalf("Params.Name = %q, want mainnet", cfg.Params.Name)
	}
	if cfg.Listen != "0.0.0.0:8333" {
		t.Fatalf("Listen = %q, want 0.0.0.0:8333", cfg.Listen)
	}
}

func TestLoadRegTest(t *testing.T) {
	cfg, err := Load([]string{"--appdir", t.TempDir(), "--regtest"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Params.Name != "regtest" {
		t.Fatalf("Params.Name = %q, want regtest", cfg.Params.Name)
	}
	if cfg.Listen != "0.0.0.0:18444" {
		t.Fatalf("Listen = %q, want 0.0.0.0:18444", cfg.Listen)
	}
}

func TestLoadRejectsConflictingNetworkFlags(t *testing.T) {
	_, err := Load([]string{"--appdir", t.TempDir(), "--testnet", "--regtest"})
	if err == nil {
		t.Fatal("expected an error for mutually exclusive network flags")
	}
}

func TestDataDirAndLogFileNamespacedUnderAppDir(t *testing.T) {
	appDir := t.TempDir()
	cfg, err := Load([]string{"--appdir", appDir})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := filepath.Join(appDir, "data"); cfg.DataDir() != want {
		t.Fatalf("DataDir() = %q, want %q", cfg.DataDir(), want)
	}
	if want := filepath.Join(appDir, "logs", "ncnode.log"); cfg.LogFile() != want {
		t.Fatalf("LogFile() = %q, want %q", cfg.LogFile(), want)
	}
}
