package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/rokoter/LinuxCNC/internal/config"
	"github.com/rokoter/LinuxCNC/internal/telemetry"
	"github.com/rokoter/LinuxCNC/internal/vibration"
)

const mqttPublishTimeout = 2 * time.Second

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTTopics are the topics the monitor publishes to.
type MQTTTopics struct {
	Data   string
	Event  string
	Status string
}

// TelemetryPublisher mirrors the hub onto MQTT: the latest record at a fixed
// rate, every transition with QoS 1 and a retained status.
type TelemetryPublisher struct {
	client      mqttPublisher
	hub         *telemetry.Hub
	topics      MQTTTopics
	thresholds  func() vibration.ThresholdSet
	version     string
	dataEvery   time.Duration
	statusEvery time.Duration
}

func NewTelemetryPublisher(client mqttPublisher, hub *telemetry.Hub, topics MQTTTopics, thresholds func() vibration.ThresholdSet, version string) *TelemetryPublisher {
	return &TelemetryPublisher{
		client:      client,
		hub:         hub,
		topics:      topics,
		thresholds:  thresholds,
		version:     version,
		dataEvery:   100 * time.Millisecond,
		statusEvery: time.Second,
	}
}

// connectMQTT connects with a per-process client ID so several tools can
// share one broker.
func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID + "-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", broker, token.Error())
	}
	log.Printf("mqtt: connected to broker at %s", broker)
	return client, nil
}

// RunMQTTPublisher connects to the configured broker and publishes until ctx
// is done.
func RunMQTTPublisher(ctx context.Context, cfg *config.Config, hub *telemetry.Hub, thresholds func() vibration.ThresholdSet) error {
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientID)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	topics := MQTTTopics{Data: cfg.TopicData, Event: cfg.TopicEvent, Status: cfg.TopicStatus}
	return NewTelemetryPublisher(client, hub, topics, thresholds, config.FirmwareVersion).Run(ctx)
}

func (p *TelemetryPublisher) Run(ctx context.Context) error {
	events, unsubscribe := p.hub.SubscribeEvents(32)
	defer unsubscribe()

	dataTicker := time.NewTicker(p.dataEvery)
	defer dataTicker.Stop()
	statusTicker := time.NewTicker(p.statusEvery)
	defer statusTicker.Stop()

	var (
		lastSeq uint64
		sent    bool
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			p.publish(p.topics.Event, 1, false, newEventMessage(ev))
		case <-dataTicker.C:
			snap := p.hub.Snapshot()
			if !snap.HaveData || (sent && snap.Latest.Seq == lastSeq) {
				continue
			}
			p.publish(p.topics.Data, 0, false, newDataMessage(snap.Latest))
			lastSeq, sent = snap.Latest.Seq, true
		case <-statusTicker.C:
			p.publish(p.topics.Status, 0, true, newStatusMessage(p.hub.Snapshot(), p.version, p.thresholds()))
		}
	}
}

// publish logs failures; telemetry loss never stops the monitor.
func (p *TelemetryPublisher) publish(topic string, qos byte, retained bool, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("mqtt: json marshal error (%s): %v", topic, err)
		return
	}
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		log.Printf("mqtt: publish to %s timed out", topic)
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("mqtt: publish error (%s): %v", topic, err)
	}
}
