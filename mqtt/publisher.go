// Package mqtt publishes changer status and events to MQTT brokers and
// accepts remote commands.
package mqtt

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"discbot/config"
)

// DebugLogger is an interface for debug logging.
type DebugLogger interface {
	LogMQTT(format string, args ...interface{})
}

var debugLog DebugLogger

// SetDebugLogger sets the debug logger for MQTT.
func SetDebugLogger(logger DebugLogger) {
	debugLog = logger
}

func logMQTT(format string, args ...interface{}) {
	if debugLog != nil {
		debugLog.LogMQTT(format, args...)
	}
}

// CommandHandler is a callback for handling remote commands.
// Returns an error if the command fails.
type CommandHandler func(action string, slot int) error

// CommandRequest is the JSON structure for incoming commands.
type CommandRequest struct {
	Action string `json:"action"`
	Slot   int    `json:"slot,omitempty"`
}

// CommandResponse is the JSON structure for command responses.
type CommandResponse struct {
	Action    string `json:"action"`
	Slot      int    `json:"slot,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// commandJob represents a pending command.
type commandJob struct {
	client  pahomqtt.Client
	root    string
	action  string
	slot    int
	err     error // pre-resolved failure, skips the handler
	handler CommandHandler
}

// MaxCommandWorkers is the maximum number of concurrent command goroutines per publisher.
const MaxCommandWorkers = 2

// MaxCommandQueueSize is the maximum number of pending commands per publisher.
const MaxCommandQueueSize = 32

// Publisher handles the MQTT connection to a single broker.
type Publisher struct {
	config    *config.MQTTConfig
	namespace string
	client    pahomqtt.Client
	running   bool
	mu        sync.RWMutex

	// Last retained status payload, to suppress duplicate publishes
	lastStatus []byte
	lastMu     sync.Mutex

	cmdHandler CommandHandler

	// Worker pool for bounded command goroutines
	cmdQueue chan commandJob
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewPublisher creates a new MQTT publisher for a single broker.
func NewPublisher(cfg *config.MQTTConfig, namespace string) *Publisher {
	return &Publisher{
		config:    cfg,
		namespace: namespace,
		cmdQueue:  make(chan commandJob, MaxCommandQueueSize),
		stopChan:  make(chan struct{}),
	}
}

// Name returns the publisher's name.
func (p *Publisher) Name() string {
	return p.config.Name
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Start connects to the MQTT broker.
func (p *Publisher) Start() error {
	// Quick check if already running
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	// Build options WITHOUT holding the lock
	opts := pahomqtt.NewClientOptions()

	// Configure broker URL based on TLS setting
	if p.config.UseTLS {
		opts.AddBroker(fmt.Sprintf("ssl://%s:%d", p.config.Broker, p.config.Port))
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		opts.SetTLSConfig(tlsConfig)
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port))
	}

	opts.SetClientID(p.config.ClientID)

	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	// Create client and connect WITHOUT holding the lock
	client := pahomqtt.NewClient(opts)
	logMQTT("Attempting to connect to MQTT broker %s:%d", p.config.Broker, p.config.Port)

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		logMQTT("MQTT connection timeout")
		return fmt.Errorf("connection timeout")
	}
	if token.Error() != nil {
		logMQTT("MQTT connection error: %v", token.Error())
		return token.Error()
	}

	logMQTT("Successfully connected to MQTT broker %s:%d", p.config.Broker, p.config.Port)

	// Now acquire lock to update state
	p.mu.Lock()

	// Double-check we're not already running (race condition check)
	if p.running {
		p.mu.Unlock()
		client.Disconnect(100)
		return nil
	}

	p.client = client
	p.running = true
	p.mu.Unlock()

	// Clear the cached status to force a republish
	p.lastMu.Lock()
	p.lastStatus = nil
	p.lastMu.Unlock()

	p.startCommandWorkers()

	// Subscribe to the command topic (outside p.mu to avoid deadlock)
	p.subscribeCommandTopic()

	return nil
}

// startCommandWorkers starts the command worker goroutines.
func (p *Publisher) startCommandWorkers() {
	for i := 0; i < MaxCommandWorkers; i++ {
		p.wg.Add(1)
		go p.commandWorker()
	}
}

// commandWorker processes command jobs from the queue.
func (p *Publisher) commandWorker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case job, ok := <-p.cmdQueue:
			if !ok {
				return
			}
			err := job.err
			if err == nil {
				if job.handler == nil {
					err = fmt.Errorf("no command handler configured")
				} else {
					logMQTT("Executing command: %s slot=%d", job.action, job.slot)
					err = job.handler(job.action, job.slot)
					if err != nil {
						logMQTT("Command error: %v", err)
					}
				}
			}
			p.publishCommandResponse(job.client, job.root, job.action, job.slot, err)
		}
	}
}

// Stop disconnects from the MQTT broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running || p.client == nil {
		p.mu.Unlock()
		return
	}

	p.running = false
	client := p.client
	p.client = nil

	// Save old channels and create new ones while holding lock
	oldStopChan := p.stopChan
	p.stopChan = make(chan struct{})
	p.cmdQueue = make(chan commandJob, MaxCommandQueueSize)
	p.mu.Unlock()

	// Stop command workers by closing old channel
	close(oldStopChan)

	// Wait for workers to finish (with timeout)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		logMQTT("Timeout waiting for command workers to stop")
	}

	// Disconnect OUTSIDE the lock to prevent blocking
	if client != nil {
		client.Disconnect(500)
	}
}

// StatusTopic returns the retained status topic.
func (p *Publisher) StatusTopic() string {
	return fmt.Sprintf("%s/changer/status", p.namespace)
}

// EventTopic returns the topic for the named event kind.
func (p *Publisher) EventTopic(kind string) string {
	return fmt.Sprintf("%s/changer/events/%s", p.namespace, kind)
}

// CommandTopic returns the topic remote commands arrive on.
func (p *Publisher) CommandTopic() string {
	return fmt.Sprintf("%s/changer/command", p.namespace)
}

// PublishStatus publishes the full status document, retained, if it
// differs from the last published one.
func (p *Publisher) PublishStatus(payload []byte) bool {
	p.mu.RLock()
	running := p.running
	client := p.client
	p.mu.RUnlock()

	if !running || client == nil {
		return false
	}

	p.lastMu.Lock()
	if bytes.Equal(p.lastStatus, payload) {
		p.lastMu.Unlock()
		return false
	}
	p.lastMu.Unlock()

	token := client.Publish(p.StatusTopic(), 1, true, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return false
	}
	if token.Error() != nil {
		return false
	}

	p.lastMu.Lock()
	p.lastStatus = append([]byte(nil), payload...)
	p.lastMu.Unlock()

	return true
}

// PublishEvent publishes an event payload, not retained.
func (p *Publisher) PublishEvent(kind string, payload []byte) bool {
	p.mu.RLock()
	running := p.running
	client := p.client
	p.mu.RUnlock()

	if !running || client == nil {
		return false
	}

	token := client.Publish(p.EventTopic(kind), 1, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return false
	}
	return token.Error() == nil
}

// Address returns the broker address string.
func (p *Publisher) Address() string {
	if p.config.UseTLS {
		return fmt.Sprintf("ssl://%s:%d", p.config.Broker, p.config.Port)
	}
	return fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port)
}

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.MQTTConfig {
	return p.config
}

// SetCommandHandler sets the callback for handling remote commands.
func (p *Publisher) SetCommandHandler(handler CommandHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cmdHandler = handler
}

// subscribeCommandTopic subscribes to the command topic.
func (p *Publisher) subscribeCommandTopic() {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()

	if client == nil {
		logMQTT("subscribeCommandTopic: client is nil")
		return
	}

	topic := p.CommandTopic()
	logMQTT("Subscribing to command topic: %s", topic)
	token := client.Subscribe(topic, 1, p.handleCommandMessage)
	if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
		if token.Error() != nil {
			logMQTT("Subscribe error for %s: %v", topic, token.Error())
		} else {
			logMQTT("Subscribe timeout for %s", topic)
		}
		return
	}
	logMQTT("Subscribed to: %s", topic)
}

// handleCommandMessage processes incoming commands.
func (p *Publisher) handleCommandMessage(client pahomqtt.Client, msg pahomqtt.Message) {
	logMQTT("Received command on topic: %s", msg.Topic())
	logMQTT("Payload: %s", string(msg.Payload()))

	p.mu.RLock()
	handler := p.cmdHandler
	p.mu.RUnlock()

	root := p.namespace

	var req CommandRequest
	job := commandJob{client: client, root: root, handler: handler}
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		logMQTT("JSON parse error: %v", err)
		job.err = fmt.Errorf("invalid JSON: %v", err)
	} else if req.Action == "" {
		job.err = fmt.Errorf("missing action")
	} else {
		job.action = req.Action
		job.slot = req.Slot
	}

	// Queue the command (non-blocking with reject on overflow)
	select {
	case p.cmdQueue <- job:
	default:
		logMQTT("Command queue full, rejecting %q", req.Action)
		go p.publishCommandResponse(client, root, req.Action, req.Slot,
			fmt.Errorf("command queue full, try again later"))
	}
}

// publishCommandResponse publishes a command response to MQTT.
func (p *Publisher) publishCommandResponse(client pahomqtt.Client, root, action string, slot int, err error) {
	resp := CommandResponse{
		Action:    action,
		Slot:      slot,
		Success:   err == nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		resp.Error = err.Error()
	}

	payload, _ := json.Marshal(resp)

	responseTopic := fmt.Sprintf("%s/changer/command/response", root)
	token := client.Publish(responseTopic, 1, false, payload)
	token.WaitTimeout(2 * time.Second)
}

// Manager manages multiple MQTT publishers.
type Manager struct {
	publishers map[string]*Publisher
	mu         sync.RWMutex
	cmdHandler CommandHandler
}

// NewManager creates a new MQTT manager.
func NewManager() *Manager {
	return &Manager{
		publishers: make(map[string]*Publisher),
	}
}

// Add adds a publisher to the manager.
func (m *Manager) Add(pub *Publisher) {
	m.mu.Lock()
	m.publishers[pub.Name()] = pub
	handler := m.cmdHandler
	m.mu.Unlock()

	// Apply current settings to new publisher
	if handler != nil {
		pub.SetCommandHandler(handler)
	}
}

// Remove removes a publisher by name.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	pub, exists := m.publishers[name]
	if exists {
		delete(m.publishers, name)
	}
	m.mu.Unlock()

	if exists {
		pub.Stop()
	}
}

// Get returns a publisher by name.
func (m *Manager) Get(name string) *Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.publishers[name]
}

// List returns all publishers.
func (m *Manager) List() []*Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Publisher, 0, len(m.publishers))
	for _, pub := range m.publishers {
		result = append(result, pub)
	}
	return result
}

// StartAll starts all publishers that are configured as enabled.
// Returns the number of publishers successfully started.
func (m *Manager) StartAll() int {
	started := 0
	for _, pub := range m.List() {
		if pub.config.Enabled && !pub.IsRunning() {
			logMQTT("Auto-starting MQTT publisher: %s", pub.Name())
			if err := pub.Start(); err != nil {
				logMQTT("Failed to auto-start %s: %v", pub.Name(), err)
			} else {
				logMQTT("Successfully started %s (%s)", pub.Name(), pub.Address())
				started++
			}
		}
	}
	return started
}

// StopAll stops all publishers.
func (m *Manager) StopAll() {
	for _, pub := range m.List() {
		pub.Stop()
	}
}

// PublishStatus publishes the status document to all running publishers.
func (m *Manager) PublishStatus(payload []byte) {
	for _, pub := range m.List() {
		if pub.IsRunning() {
			pub.PublishStatus(payload)
		}
	}
}

// PublishEvent publishes an event to all running publishers.
func (m *Manager) PublishEvent(kind string, payload []byte) {
	for _, pub := range m.List() {
		if pub.IsRunning() {
			pub.PublishEvent(kind, payload)
		}
	}
}

// AnyRunning returns true if any publisher is running.
func (m *Manager) AnyRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, pub := range m.publishers {
		if pub.IsRunning() {
			return true
		}
	}
	return false
}

// LoadFromConfig creates publishers from configuration.
func (m *Manager) LoadFromConfig(cfgs []config.MQTTConfig, namespace string) {
	for i := range cfgs {
		pub := NewPublisher(&cfgs[i], namespace)
		m.Add(pub)
	}
}

// SetCommandHandler sets the command handler for all publishers.
func (m *Manager) SetCommandHandler(handler CommandHandler) {
	m.mu.Lock()
	m.cmdHandler = handler
	pubs := make([]*Publisher, 0, len(m.publishers))
	for _, pub := range m.publishers {
		pubs = append(pubs, pub)
	}
	m.mu.Unlock()

	for _, pub := range pubs {
		pub.SetCommandHandler(handler)
	}
}
