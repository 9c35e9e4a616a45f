package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Namespace != "discbot" {
		t.Errorf("expected namespace 'discbot', got %s", cfg.Namespace)
	}
	if !cfg.API.Enabled {
		t.Error("expected API.Enabled true by default")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("expected API port 8080, got %d", cfg.API.Port)
	}
	if cfg.API.Host != "0.0.0.0" {
		t.Errorf("expected API host 0.0.0.0, got %s", cfg.API.Host)
	}
	if cfg.Device.MediaWait != 30*time.Second {
		t.Errorf("expected 30s media wait, got %v", cfg.Device.MediaWait)
	}
	if len(cfg.MQTT) != 0 {
		t.Error("expected empty MQTT slice")
	}
}

func TestDeviceTimeouts(t *testing.T) {
	t.Run("zero fields keep defaults", func(t *testing.T) {
		d := DeviceConfig{}
		timeouts := d.Timeouts()
		if timeouts.Move != 3*time.Minute {
			t.Errorf("expected default 3m move timeout, got %v", timeouts.Move)
		}
		if timeouts.Settle != 5*time.Second {
			t.Errorf("expected default 5s settle, got %v", timeouts.Settle)
		}
	})

	t.Run("set fields override", func(t *testing.T) {
		d := DeviceConfig{
			MoveTimeout: time.Minute,
			Settle:      time.Second,
		}
		timeouts := d.Timeouts()
		if timeouts.Move != time.Minute {
			t.Errorf("expected 1m move timeout, got %v", timeouts.Move)
		}
		if timeouts.Settle != time.Second {
			t.Errorf("expected 1s settle, got %v", timeouts.Settle)
		}
		// Untouched fields stay at defaults
		if timeouts.Status != 10*time.Second {
			t.Errorf("expected default 10s status timeout, got %v", timeouts.Status)
		}
	})
}

func TestLoadAndSave(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("returns default for nonexistent file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(tmpDir, "nonexistent.yaml"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Namespace != "discbot" {
			t.Error("expected default config")
		}
	})

	t.Run("save and load roundtrip", func(t *testing.T) {
		path := filepath.Join(tmpDir, "test.yaml")

		cfg := &Config{
			Namespace: "vault",
			Device: DeviceConfig{
				Changer:   "/dev/sg3",
				Drive:     "/dev/sr0",
				Chunk:     4,
				MediaWait: 45 * time.Second,
			},
			Imaging: ImagingConfig{OutputDir: "/srv/images"},
			API:     APIConfig{Enabled: true, Host: "127.0.0.1", Port: 9090},
			MQTT: []MQTTConfig{
				{Name: "Home", Broker: "mqtt.local", Port: 1883},
			},
		}

		if err := cfg.Save(path); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if loaded.Namespace != "vault" {
			t.Errorf("expected namespace 'vault', got %s", loaded.Namespace)
		}
		if loaded.Device.Changer != "/dev/sg3" || loaded.Device.Chunk != 4 {
			t.Errorf("device config not preserved: %+v", loaded.Device)
		}
		if loaded.Device.MediaWait != 45*time.Second {
			t.Errorf("expected 45s media wait, got %v", loaded.Device.MediaWait)
		}
		if loaded.Imaging.OutputDir != "/srv/images" {
			t.Error("imaging config not preserved")
		}
		if loaded.API.Port != 9090 {
			t.Errorf("expected API port 9090, got %d", loaded.API.Port)
		}
		if len(loaded.MQTT) != 1 || loaded.MQTT[0].Broker != "mqtt.local" {
			t.Error("MQTT config not preserved")
		}
	})

	t.Run("creates directory if needed", func(t *testing.T) {
		path := filepath.Join(tmpDir, "subdir", "nested", "config.yaml")
		cfg := DefaultConfig()

		if err := cfg.Save(path); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Error("config file was not created")
		}
	})

	t.Run("returns error for invalid yaml", func(t *testing.T) {
		path := filepath.Join(tmpDir, "invalid.yaml")
		os.WriteFile(path, []byte("invalid: yaml: content: ["), 0644)

		_, err := Load(path)
		if err == nil {
			t.Error("expected error for invalid YAML")
		}
	})

	t.Run("rejects bad namespace", func(t *testing.T) {
		path := filepath.Join(tmpDir, "badns.yaml")
		os.WriteFile(path, []byte("namespace: \"no spaces allowed\"\n"), 0644)

		_, err := Load(path)
		if err == nil {
			t.Error("expected error for invalid namespace")
		}
	})
}

func TestMQTTOperations(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("AddMQTT and FindMQTT", func(t *testing.T) {
		mqtt := MQTTConfig{Name: "Broker1", Broker: "mqtt.local"}
		cfg.AddMQTT(mqtt)

		found := cfg.FindMQTT("Broker1")
		if found == nil {
			t.Fatal("FindMQTT returned nil")
		}
		if found.Broker != "mqtt.local" {
			t.Errorf("expected broker 'mqtt.local', got %s", found.Broker)
		}
	})

	t.Run("FindMQTT returns nil for nonexistent", func(t *testing.T) {
		if cfg.FindMQTT("nonexistent") != nil {
			t.Error("expected nil for nonexistent broker")
		}
	})

	t.Run("UpdateMQTT", func(t *testing.T) {
		updated := MQTTConfig{Name: "Broker1", Broker: "mqtt2.local", Port: 8883}
		if !cfg.UpdateMQTT("Broker1", updated) {
			t.Error("UpdateMQTT returned false")
		}

		found := cfg.FindMQTT("Broker1")
		if found.Port != 8883 {
			t.Error("MQTT not updated")
		}
	})

	t.Run("RemoveMQTT", func(t *testing.T) {
		if !cfg.RemoveMQTT("Broker1") {
			t.Error("RemoveMQTT returned false")
		}
		if cfg.FindMQTT("Broker1") != nil {
			t.Error("MQTT not removed")
		}
	})
}

func TestAPIToken(t *testing.T) {
	t.Run("empty hash accepts anything", func(t *testing.T) {
		a := APIConfig{}
		if !a.CheckToken("whatever") {
			t.Error("expected open access with no token configured")
		}
	})

	t.Run("set and check", func(t *testing.T) {
		a := APIConfig{}
		if err := a.SetToken("secret-token"); err != nil {
			t.Fatalf("SetToken failed: %v", err)
		}
		if a.TokenHash == "" || a.TokenHash == "secret-token" {
			t.Fatal("token was not hashed")
		}
		if !a.CheckToken("secret-token") {
			t.Error("correct token rejected")
		}
		if a.CheckToken("wrong-token") {
			t.Error("wrong token accepted")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"bad namespace", &Config{Namespace: "has space", API: APIConfig{Enabled: true, Port: 8080}}, true},
		{"negative chunk", &Config{Device: DeviceConfig{Chunk: -1}}, true},
		{"bad api port", &Config{API: APIConfig{Enabled: true, Port: 0}}, true},
		{"api disabled ignores port", &Config{API: APIConfig{Enabled: false, Port: 0}}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestIsValidNamespace(t *testing.T) {
	tests := []struct {
		ns       string
		expected bool
	}{
		{"discbot", true},
		{"media-vault_1", true},
		{"a.b", true},
		{"", false},
		{"has space", false},
		{"slash/bad", false},
	}

	for _, tc := range tests {
		if IsValidNamespace(tc.ns) != tc.expected {
			t.Errorf("IsValidNamespace(%q) = %v, want %v", tc.ns, !tc.expected, tc.expected)
		}
	}
}

func TestDefaultPath(t *testing.T) {
	path := DefaultPath()
	if path == "" {
		t.Error("DefaultPath returned empty string")
	}
	if !filepath.IsAbs(path) && path != "config.yaml" {
		t.Error("expected absolute path or 'config.yaml'")
	}
}
