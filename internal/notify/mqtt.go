package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttConnectTimeout = 10 * time.Second

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes each change to <prefix>/<kind> at QoS 0.
type MQTTSink struct {
	client mqttPublisher
	prefix string
}

func NewMQTTSink(brokerURL, clientID, prefix string) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", brokerURL, err)
	}
	return &MQTTSink{client: client, prefix: strings.TrimSuffix(prefix, "/")}, nil
}

func (m *MQTTSink) Name() string { return "mqtt" }

func (m *MQTTSink) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev.Change)
	if err != nil {
		return fmt.Errorf("serialize alert change: %w", err)
	}

	token := m.client.Publish(m.topic(ev), 0, false, data)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MQTTSink) topic(ev Event) string {
	return m.prefix + "/" + string(ev.Change.Alert.Kind)
}

func (m *MQTTSink) Close() error {
	m.client.Disconnect(250)
	return nil
}
