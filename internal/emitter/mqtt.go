package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// MQTTEmitter publishes events as JSON to <prefix>/<videoId>/<kind>.
type MQTTEmitter struct {
	cfg       MQTTConfig
	client    mqtt.Client
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

func NewMQTTEmitter(cfg MQTTConfig) *MQTTEmitter {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "focuswarden"
	}
	return &MQTTEmitter{
		cfg:       cfg,
		newClient: mqtt.NewClient,
		published: make(map[string]uint64),
	}
}

// Connect dials the broker. The client reconnects on its own after a lost
// connection; events emitted while disconnected are counted as errors.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.Broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		log.Printf("Connected to MQTT broker %s as %s", e.cfg.Broker, e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		log.Printf("MQTT connection to %s lost, reconnecting: %v", e.cfg.Broker, err)
	}

	e.client = e.newClient(opts)

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	token := e.client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

func (e *MQTTEmitter) Topic(ev Event) string {
	return fmt.Sprintf("%s/%s/%s", e.cfg.TopicPrefix, ev.VideoID, ev.Kind)
}

func (e *MQTTEmitter) Emit(ev Event) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := e.Topic(ev)
	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()
	return nil
}

// Close disconnects with a short grace period.
func (e *MQTTEmitter) Close() error {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		log.Println("MQTT disconnected")
	}
	e.setConnected(false)
	return nil
}

type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Connected: e.connected, Published: published, Errors: e.errors}
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
