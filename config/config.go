// Package config handles configuration persistence for the discbot
// application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"discbot/changer"
)

// ConfigListenerID is a unique identifier for a config change listener.
type ConfigListenerID string

// Config holds the complete application configuration.
type Config struct {
	Namespace string        `yaml:"namespace"` // Instance namespace for topic isolation
	Device    DeviceConfig  `yaml:"device"`
	Imaging   ImagingConfig `yaml:"imaging"`
	API       APIConfig     `yaml:"api"`
	MQTT      []MQTTConfig  `yaml:"mqtt,omitempty"`
	StatePath string        `yaml:"state_path,omitempty"` // Database path, empty = default
	Simulate  SimConfig     `yaml:"simulate,omitempty"`

	// Data mutex protects all config fields against concurrent access.
	// Callers that modify config should Lock(), modify, then call UnlockAndSave().
	// Save() acquires the lock internally for callers that don't hold it.
	dataMu sync.Mutex `yaml:"-"`

	// Change listeners (not serialized)
	changeListeners map[ConfigListenerID]func() `yaml:"-"`
	listenersMu     sync.RWMutex                `yaml:"-"`
	listenerCounter uint64                      `yaml:"-"`
}

// DeviceConfig holds the changer and drive device settings.
type DeviceConfig struct {
	Changer string `yaml:"changer,omitempty"`  // Pass-through node, empty = scan
	BusNode string `yaml:"bus_node,omitempty"` // Raw bus node for the fallback backend
	Drive   string `yaml:"drive,omitempty"`    // Optical drive block device

	Chunk int `yaml:"status_chunk,omitempty"` // Storage elements per status query

	StatusTimeout time.Duration `yaml:"status_timeout,omitempty"`
	MoveTimeout   time.Duration `yaml:"move_timeout,omitempty"`
	RescanTimeout time.Duration `yaml:"rescan_timeout,omitempty"`
	Settle        time.Duration `yaml:"settle,omitempty"`     // Wait after a quirk rescan
	MediaWait     time.Duration `yaml:"media_wait,omitempty"` // Wait for a readable disc after load
}

// Timeouts maps the configured deadlines onto the changer's, keeping
// the defaults for zero fields.
func (d DeviceConfig) Timeouts() changer.Timeouts {
	t := changer.DefaultTimeouts()
	if d.StatusTimeout > 0 {
		t.Status = d.StatusTimeout
	}
	if d.MoveTimeout > 0 {
		t.Move = d.MoveTimeout
	}
	if d.RescanTimeout > 0 {
		t.Rescan = d.RescanTimeout
	}
	if d.Settle > 0 {
		t.Settle = d.Settle
	}
	return t
}

// ImagingConfig holds disc imaging settings.
type ImagingConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// APIConfig holds HTTP API server configuration.
type APIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	TokenHash string `yaml:"token_hash,omitempty"` // bcrypt hash, empty = no auth
}

// SetToken stores the bcrypt hash of an API token.
func (a *APIConfig) SetToken(token string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a.TokenHash = string(hash)
	return nil
}

// CheckToken verifies a presented token against the stored hash.
// Returns true when no token is configured.
func (a *APIConfig) CheckToken(token string) bool {
	if a.TokenHash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(a.TokenHash), []byte(token)) == nil
}

// MQTTConfig holds MQTT broker configuration.
type MQTTConfig struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID string `yaml:"client_id"`
	UseTLS   bool   `yaml:"use_tls,omitempty"`
}

// SimConfig enables the simulated changer in place of real hardware.
type SimConfig struct {
	Enabled  bool `yaml:"enabled,omitempty"`
	Slots    int  `yaml:"slots,omitempty"`    // Default 16
	Occupied int  `yaml:"occupied,omitempty"` // Slots pre-loaded with discs, default 8
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Namespace: "discbot",
		Device: DeviceConfig{
			MediaWait: 30 * time.Second,
		},
		Imaging: ImagingConfig{
			OutputDir: "images",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		MQTT: []MQTTConfig{},
	}
}

// FindMQTT returns the MQTT config with the given name, or nil if not found.
func (c *Config) FindMQTT(name string) *MQTTConfig {
	for i := range c.MQTT {
		if c.MQTT[i].Name == name {
			return &c.MQTT[i]
		}
	}
	return nil
}

// AddMQTT adds a new MQTT configuration.
func (c *Config) AddMQTT(mqtt MQTTConfig) {
	c.MQTT = append(c.MQTT, mqtt)
}

// RemoveMQTT removes an MQTT config by name.
func (c *Config) RemoveMQTT(name string) bool {
	for i, m := range c.MQTT {
		if m.Name == name {
			c.MQTT = append(c.MQTT[:i], c.MQTT[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateMQTT updates an existing MQTT configuration.
func (c *Config) UpdateMQTT(name string, updated MQTTConfig) bool {
	for i, m := range c.MQTT {
		if m.Name == name {
			c.MQTT[i] = updated
			return true
		}
	}
	return false
}

// DefaultPath returns the default configuration file path (~/.discbot/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".discbot", "config.yaml")
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	dirty := false

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// File doesn't exist — use defaults and write them out
		dirty = true
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "discbot"
		dirty = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if dirty {
		cfg.Save(path) // Best-effort save
	}

	return cfg, nil
}

// AddOnChangeListener registers a callback to be called when the config is saved.
// Returns an ID that can be used to remove the listener later.
func (c *Config) AddOnChangeListener(cb func()) ConfigListenerID {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	if c.changeListeners == nil {
		c.changeListeners = make(map[ConfigListenerID]func())
	}

	id := ConfigListenerID(fmt.Sprintf("listener-%d", atomic.AddUint64(&c.listenerCounter, 1)))
	c.changeListeners[id] = cb
	return id
}

// RemoveOnChangeListener removes a previously registered listener.
func (c *Config) RemoveOnChangeListener(id ConfigListenerID) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	delete(c.changeListeners, id)
}

// notifyChangeListeners calls all registered change listeners.
func (c *Config) notifyChangeListeners() {
	c.listenersMu.RLock()
	listeners := make([]func(), 0, len(c.changeListeners))
	for _, cb := range c.changeListeners {
		listeners = append(listeners, cb)
	}
	c.listenersMu.RUnlock()

	// Call listeners outside the lock to avoid deadlocks
	for _, cb := range listeners {
		go cb() // Run in goroutine to avoid blocking
	}
}

// Lock acquires the config data mutex for exclusive access.
// Use this before modifying config fields, then call UnlockAndSave.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the config data mutex without saving.
// Prefer UnlockAndSave when modifications were made.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save acquires the lock, marshals, writes, and notifies.
// Use this when the caller does not already hold the lock.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.saveLocked(path)
}

// UnlockAndSave marshals, releases the lock, writes, and notifies.
// The caller must already hold the lock via Lock().
func (c *Config) UnlockAndSave(path string) error {
	return c.saveLocked(path)
}

// saveLocked marshals config (lock must be held), unlocks, then writes and notifies.
func (c *Config) saveLocked(path string) error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock() // Release lock after marshal, before I/O

	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}

	// Notify listeners after successful save
	c.notifyChangeListeners()
	return nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Namespace != "" && !IsValidNamespace(c.Namespace) {
		return fmt.Errorf("invalid namespace: must contain only alphanumeric characters, hyphens, and underscores")
	}
	if c.Device.Chunk < 0 {
		return fmt.Errorf("invalid status_chunk: must not be negative")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		return fmt.Errorf("invalid api port: %d", c.API.Port)
	}
	return nil
}

// IsValidNamespace returns true if the namespace is valid.
// Valid namespaces contain only alphanumeric characters, hyphens, underscores, and dots.
func IsValidNamespace(ns string) bool {
	if ns == "" {
		return false
	}
	for _, r := range ns {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return false
		}
	}
	return true
}
