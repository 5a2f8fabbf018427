package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/skaldbot/skald/internal/config"
)

// StatsSource provides runtime data for sensor state publishing. The
// concrete adapter is wired in main.go to avoid coupling the MQTT
// package to the API server or agent runtime.
type StatsSource interface {
	// Uptime returns the process uptime.
	Uptime() time.Duration
	// Version returns the software version string.
	Version() string
	// SessionState returns the agent session state name.
	SessionState() string
	// QueueDepth returns the number of messages waiting to be processed.
	QueueDepth() int
	// PromptsCompleted returns the count of successfully completed prompts.
	PromptsCompleted() uint64
	// PromptsFailed returns the count of failed prompts.
	PromptsFailed() uint64
}

// ContextHandler receives a context note pushed over MQTT. Wired to the
// bridge's durable context queue in main.go.
type ContextHandler func(source, text string)

// Publisher manages the MQTT connection, publishes HA discovery config
// messages on (re-)connect, runs a periodic loop that pushes sensor
// state updates to the broker, and listens on the context topic for
// inbound notes.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	stats      StatsSource
	onContext  ContextHandler
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop.
func New(cfg config.MQTTConfig, instanceID string, stats StatsSource, logger *slog.Logger) *Publisher {
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		stats:      stats,
		logger:     logger,
	}
}

// Device returns the HA device block shared by all published entities.
func (p *Publisher) Device() DeviceInfo {
	return p.device
}

// SetContextHandler installs the handler for notes arriving on the
// context topic. Must be called before Start.
func (p *Publisher) SetContextHandler(h ContextHandler) {
	p.onContext = h
}

// Start connects to the MQTT broker and begins the periodic publish
// loop. It blocks until ctx is cancelled. On every (re-)connect it
// publishes discovery configs and a birth message.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
			p.subscribeContext(ctx, cm)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "skald-" + p.cfg.DeviceName,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					p.handleInbound(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	// Wait for the initial connection before starting the publish loop.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// Log but don't fail; autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	// Run the periodic state publish loop until ctx is cancelled.
	p.runLoop(ctx)
	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection. The provided context
// controls how long to wait for the publish and disconnect to complete.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the MQTT broker connection is
// established or ctx expires.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	if p.cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	return p.cm.AwaitConnection(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return "skald/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) contextTopic() string {
	return p.baseTopic() + "/context/set"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// --- Discovery ---

type sensorDef struct {
	entitySuffix string
	config       SensorConfig
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	avail := p.availabilityTopic()
	base := SensorConfig{
		HasEntityName:     true,
		AvailabilityTopic: avail,
		Device:            p.device,
	}
	sensor := func(suffix, name, icon string) sensorDef {
		c := base
		c.Name = name
		c.ObjectID = suffix
		c.UniqueID = p.instanceID + "_" + suffix
		c.StateTopic = p.stateTopic(suffix)
		c.Icon = icon
		return sensorDef{entitySuffix: suffix, config: c}
	}

	defs := []sensorDef{
		sensor("session_state", "Session State", "mdi:robot"),
		sensor("queue_depth", "Queue Depth", "mdi:tray-full"),
		sensor("prompts_completed", "Prompts Completed", "mdi:check-circle-outline"),
		sensor("prompts_failed", "Prompts Failed", "mdi:alert-circle-outline"),
		sensor("uptime", "Uptime", "mdi:clock-outline"),
		sensor("version", "Version", "mdi:tag"),
	}

	for i := range defs {
		switch defs[i].entitySuffix {
		case "queue_depth":
			defs[i].config.StateClass = "measurement"
		case "prompts_completed", "prompts_failed":
			defs[i].config.StateClass = "total_increasing"
		case "uptime", "version":
			defs[i].config.EntityCategory = "diagnostic"
		}
	}
	return defs
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic("sensor", s.entitySuffix)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload",
				"entity", s.entitySuffix, "error", err)
			continue
		}

		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed",
				"entity", s.entitySuffix, "topic", topic, "error", err)
		} else {
			p.logger.Debug("mqtt discovery published",
				"entity", s.entitySuffix, "topic", topic)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Inbound context topic ---

func (p *Publisher) subscribeContext(ctx context.Context, cm *autopaho.ConnectionManager) {
	if p.onContext == nil {
		return
	}
	topic := p.contextTopic()
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
	}); err != nil {
		p.logger.Warn("mqtt context topic subscribe failed", "topic", topic, "error", err)
	} else {
		p.logger.Info("mqtt context topic subscribed", "topic", topic)
	}
}

// handleInbound routes a received publish. Context notes may be plain
// text or a JSON object {"source": "...", "text": "..."}.
func (p *Publisher) handleInbound(topic string, payload []byte) {
	if p.onContext == nil || topic != p.contextTopic() {
		return
	}

	source := "mqtt"
	text := string(payload)
	var note struct {
		Source string `json:"source"`
		Text   string `json:"text"`
	}
	if err := json.Unmarshal(payload, &note); err == nil && note.Text != "" {
		text = note.Text
		if note.Source != "" {
			source = note.Source
		}
	}
	if text == "" {
		return
	}

	p.logger.Info("mqtt context note received", "source", source, "len", len(text))
	p.onContext(source, text)
}

// --- Periodic state loop ---

func (p *Publisher) runLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Publish immediately on start.
	p.publishStates(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil || p.stats == nil {
		return
	}

	states := map[string]string{
		"session_state":     p.stats.SessionState(),
		"queue_depth":       strconv.Itoa(p.stats.QueueDepth()),
		"prompts_completed": strconv.FormatUint(p.stats.PromptsCompleted(), 10),
		"prompts_failed":    strconv.FormatUint(p.stats.PromptsFailed(), 10),
		"uptime":            p.stats.Uptime().Truncate(time.Second).String(),
		"version":           p.stats.Version(),
	}

	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed",
				"entity", entity, "error", err)
		}
	}

	p.logger.Debug("mqtt sensor states published",
		"entities", len(states))
}
