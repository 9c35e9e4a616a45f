package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"discbot/config"
)

func TestNewPublisher(t *testing.T) {
	cfg := &config.MQTTConfig{
		Name:    "test",
		Broker:  "localhost",
		Port:    1883,
		Enabled: true,
	}
	pub := NewPublisher(cfg, "discbot")

	if pub == nil {
		t.Fatal("expected non-nil publisher")
	}
	if pub.Name() != "test" {
		t.Errorf("expected name 'test', got %q", pub.Name())
	}
	if pub.IsRunning() {
		t.Error("new publisher should not be running")
	}
}

func TestPublisher_Address(t *testing.T) {
	t.Run("tcp address", func(t *testing.T) {
		cfg := &config.MQTTConfig{
			Broker: "localhost",
			Port:   1883,
			UseTLS: false,
		}
		pub := NewPublisher(cfg, "test")
		addr := pub.Address()

		if addr != "tcp://localhost:1883" {
			t.Errorf("expected 'tcp://localhost:1883', got %q", addr)
		}
	})

	t.Run("ssl address", func(t *testing.T) {
		cfg := &config.MQTTConfig{
			Broker: "localhost",
			Port:   8883,
			UseTLS: true,
		}
		pub := NewPublisher(cfg, "test")
		addr := pub.Address()

		if addr != "ssl://localhost:8883" {
			t.Errorf("expected 'ssl://localhost:8883', got %q", addr)
		}
	})
}

func TestPublisher_Topics(t *testing.T) {
	pub := NewPublisher(&config.MQTTConfig{Name: "home"}, "vault")

	if got := pub.StatusTopic(); got != "vault/changer/status" {
		t.Errorf("status topic = %q", got)
	}
	if got := pub.EventTopic("loaded"); got != "vault/changer/events/loaded" {
		t.Errorf("event topic = %q", got)
	}
	if got := pub.CommandTopic(); got != "vault/changer/command" {
		t.Errorf("command topic = %q", got)
	}
}

func TestPublisher_NotRunningRejectsPublish(t *testing.T) {
	pub := NewPublisher(&config.MQTTConfig{Name: "x"}, "test")

	if pub.PublishStatus([]byte(`{"connected":false}`)) {
		t.Error("PublishStatus should fail when not connected")
	}
	if pub.PublishEvent("loaded", []byte(`{}`)) {
		t.Error("PublishEvent should fail when not connected")
	}
}

func TestCommandRequestParsing(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		action   string
		slot     int
		parseErr bool
	}{
		{"load with slot", `{"action":"load","slot":5}`, "load", 5, false},
		{"refresh no slot", `{"action":"refresh"}`, "refresh", 0, false},
		{"garbage", `not json`, "", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var req CommandRequest
			err := json.Unmarshal([]byte(tc.payload), &req)
			if tc.parseErr {
				if err == nil {
					t.Error("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse error: %v", err)
			}
			if req.Action != tc.action || req.Slot != tc.slot {
				t.Errorf("got %+v, want action=%q slot=%d", req, tc.action, tc.slot)
			}
		})
	}
}

func TestCommandResponsePayload(t *testing.T) {
	resp := CommandResponse{
		Action:    "load",
		Slot:      3,
		Success:   false,
		Error:     "drive not empty",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	for _, field := range []string{"action", "slot", "success", "error", "timestamp"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("missing field: %s", field)
		}
	}

	// Success responses omit the error field
	ok := CommandResponse{Action: "load", Success: true}
	data, _ = json.Marshal(ok)
	decoded = nil
	json.Unmarshal(data, &decoded)
	if _, present := decoded["error"]; present {
		t.Error("error field should be omitted on success")
	}
}

func TestManagerOperations(t *testing.T) {
	m := NewManager()

	if m.AnyRunning() {
		t.Error("empty manager reports running publishers")
	}

	m.LoadFromConfig([]config.MQTTConfig{
		{Name: "a", Broker: "mqtt-a.local", Port: 1883},
		{Name: "b", Broker: "mqtt-b.local", Port: 1883},
	}, "vault")

	if len(m.List()) != 2 {
		t.Fatalf("got %d publishers, want 2", len(m.List()))
	}
	if m.Get("a") == nil || m.Get("b") == nil {
		t.Fatal("publishers not retrievable by name")
	}
	if m.Get("a").StatusTopic() != "vault/changer/status" {
		t.Errorf("namespace not propagated: %q", m.Get("a").StatusTopic())
	}

	m.Remove("a")
	if m.Get("a") != nil {
		t.Error("publisher not removed")
	}
	if len(m.List()) != 1 {
		t.Errorf("got %d publishers after remove, want 1", len(m.List()))
	}
}

func TestManagerAddAppliesCommandHandler(t *testing.T) {
	m := NewManager()
	called := false
	m.SetCommandHandler(func(action string, slot int) error {
		called = true
		return nil
	})

	pub := NewPublisher(&config.MQTTConfig{Name: "late"}, "test")
	m.Add(pub)

	pub.mu.RLock()
	handler := pub.cmdHandler
	pub.mu.RUnlock()
	if handler == nil {
		t.Fatal("handler not applied to publisher added after SetCommandHandler")
	}
	handler("load", 1)
	if !called {
		t.Error("applied handler does not delegate")
	}
}
