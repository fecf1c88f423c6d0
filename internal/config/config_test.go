package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/micromayhem/mayhem/internal/protocol"
)

func TestDefaultConfigIsValid(t *testing.T) {
	result := Validate(DefaultConfig())
	if !result.IsValid() {
		t.Fatalf("default config invalid: %+v", result.Errors)
	}
}

func TestLoadCreatesAndOverlays(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GetNetwork().ListenPort != DefaultListenPort {
		t.Fatalf("listen port = %d", cfg.GetNetwork().ListenPort)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	partial := `{"network": {"listen_port": 31000, "tick_rate": 30}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	n := cfg.GetNetwork()
	if n.ListenPort != 31000 || n.TickRate != 30 {
		t.Fatalf("overlay not applied: %+v", n)
	}
	if n.MaxRemotes != DefaultMaxRemotes || n.ProtocolID != DefaultProtocolID {
		t.Fatalf("defaults lost under overlay: %+v", n)
	}
	if n.TickInterval() != time.Second/30 {
		t.Fatalf("TickInterval = %v", n.TickInterval())
	}

	saved, _ := os.ReadFile(filepath.Join(dir, DefaultConfigFile))
	if !strings.Contains(string(saved), `"max_remotes"`) {
		t.Fatal("re-save did not persist new defaults")
	}
}

func TestValidateCatchesErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero remotes", func(c *Config) { c.Network.MaxRemotes = 0 }, "network.max_remotes"},
		{"too many remotes", func(c *Config) { c.Network.MaxRemotes = 300 }, "network.max_remotes"},
		{"remotes over one state", func(c *Config) { c.Network.MaxRemotes = protocol.MaxStatePlayers + 1 }, "network.max_remotes"},
		{"bad port", func(c *Config) { c.Network.ListenPort = 70000 }, "network.listen_port"},
		{"bad tick", func(c *Config) { c.Network.TickRate = 0 }, "network.tick_rate"},
		{"bad address", func(c *Config) { c.Client.ServerAddress = "nope" }, "client.server_address"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"rate below tick", func(c *Config) { c.Network.MaxPacketsPerSec = 10 }, "network.max_packets_per_sec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			result := Validate(cfg)
			for _, e := range result.Errors {
				if e.Field == tt.field {
					return
				}
			}
			t.Fatalf("no error for %s: %+v", tt.field, result.Errors)
		})
	}
}

func TestValidateWarnsOnForeignProtocolID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network.ProtocolID = 1
	result := Validate(cfg)
	if !result.IsValid() {
		t.Fatalf("want a warning only, got %+v", result.Errors)
	}
	for _, w := range result.Warnings {
		if w.Field == "network.protocol_id" {
			return
		}
	}
	t.Fatalf("no protocol id warning in %+v", result.Warnings)
}

func TestUpdateNetworkField(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.UpdateNetworkField("max_remotes", 4); err != nil {
		t.Fatalf("UpdateNetworkField: %v", err)
	}
	if cfg.GetNetwork().MaxRemotes != 4 {
		t.Fatalf("max_remotes = %d", cfg.GetNetwork().MaxRemotes)
	}
	if err := cfg.UpdateNetworkField("no_such_field", 1); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestSetupWizard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), DefaultConfigFile))

	in := strings.NewReader("Alice\n10.0.0.5:30000\n\n")
	var out bytes.Buffer
	if err := RunSetupWizard(cfg, in, &out); err != nil {
		t.Fatalf("RunSetupWizard: %v", err)
	}

	c := cfg.GetClient()
	if c.PlayerName != "Alice" || c.ServerAddress != "10.0.0.5:30000" || c.LocalPort != 0 {
		t.Fatalf("client config = %+v", c)
	}
	if cfg.NeedsSetup() {
		t.Fatal("NeedsSetup still true")
	}
	if _, err := os.Stat(cfg.Path()); err != nil {
		t.Fatalf("config not saved: %v", err)
	}
}

func TestSetupWizardGivesUpOnInvalidInput(t *testing.T) {
	cfg := DefaultConfig()
	in := strings.NewReader("Bob\nnot-an-address\n\nno\n")
	var out bytes.Buffer
	if err := RunSetupWizard(cfg, in, &out); err == nil {
		t.Fatal("invalid address accepted")
	}
}
