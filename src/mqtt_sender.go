package main

import (
	"context"
	"encoding/json"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTMessage represents an outgoing MQTT message
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// FilterState is the JSON state published for each filter
type FilterState struct {
	Value    float64 `json:"value"`
	Raw      float64 `json:"raw"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
	Width    float64 `json:"width"`
	RawMin1h float64 `json:"raw_min_1h"`
	RawMax1h float64 `json:"raw_max_1h"`
}

// MQTTSender wraps a channel for sending MQTT messages with helper methods
type MQTTSender struct {
	ch chan<- MQTTMessage
}

// NewMQTTSender creates a new MQTTSender wrapping the given channel
func NewMQTTSender(ch chan<- MQTTMessage) *MQTTSender {
	return &MQTTSender{ch: ch}
}

// Send sends a raw MQTTMessage
func (s *MQTTSender) Send(msg MQTTMessage) {
	s.ch <- msg
}

// PublishFilterState publishes the current filter state
func (s *MQTTSender) PublishFilterState(config FilterConfig, state FilterState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}

	s.Send(MQTTMessage{
		Topic:   config.StateTopic(),
		Payload: payload,
		QoS:     0,
		Retain:  false,
	})
	return nil
}

// CreateFilterEntity creates a Home Assistant sensor for a filter via MQTT discovery.
// The whole FilterState is exposed as attributes, value is the entity state.
func (s *MQTTSender) CreateFilterEntity(config FilterConfig) error {
	type haDeviceConfig struct {
		Identifiers  []string `json:"identifiers"`
		Name         string   `json:"name"`
		Manufacturer string   `json:"manufacturer,omitempty"`
		Model        string   `json:"model,omitempty"`
	}

	type haEntityConfig struct {
		Name                string         `json:"name,omitempty"`
		StateTopic          string         `json:"state_topic"`
		JsonAttributesTopic string         `json:"json_attributes_topic,omitempty"`
		ValueTemplate       string         `json:"value_template"`
		UniqueId            string         `json:"unique_id"`
		ExpireAfter         uint           `json:"expire_after,omitempty"`
		StateClass          string         `json:"state_class,omitempty"`
		Icon                string         `json:"icon,omitempty"`
		Device              haDeviceConfig `json:"device"`
	}

	deviceId := config.DeviceID()

	entity := haEntityConfig{
		Name:                config.Name,
		StateTopic:          config.StateTopic(),
		JsonAttributesTopic: config.StateTopic(),
		ValueTemplate:       "{{ value_json.value }}",
		UniqueId:            deviceId + "_backlash",
		ExpireAfter:         60 * 60 * 6, // Quiet inputs legitimately go hours without a change
		StateClass:          "measurement",
		Icon:                "mdi:sine-wave",
		Device: haDeviceConfig{
			Identifiers:  []string{"backlashctl_" + deviceId},
			Name:         config.Name + " Backlash",
			Manufacturer: "Custom",
			Model:        "backlashctl",
		},
	}

	payload, err := json.Marshal(entity)
	if err != nil {
		return err
	}

	s.Send(MQTTMessage{
		Topic:   config.ConfigTopic(),
		Payload: payload,
		QoS:     2,
		Retain:  true,
	})
	return nil
}

// mqttSenderWorker publishes outgoing messages, queuing them until a client is connected
func mqttSenderWorker(
	ctx context.Context,
	outgoingChan <-chan MQTTMessage,
	clientChan <-chan mqtt.Client,
) {
	log.Println("MQTT sender worker started")

	var client mqtt.Client
	var messageQueue []MQTTMessage

	publish := func(msg MQTTMessage) {
		token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
		token.Wait()
		if token.Error() != nil {
			log.Printf("Failed to publish to %s: %v\n", msg.Topic, token.Error())
		}
	}

	for {
		select {
		case newClient := <-clientChan:
			log.Println("MQTT sender worker received new client")
			client = newClient

			if client != nil && client.IsConnected() {
				queuedCount := len(messageQueue)
				for _, msg := range messageQueue {
					publish(msg)
				}
				messageQueue = nil
				if queuedCount > 0 {
					log.Printf("MQTT sender worker processed %d queued messages\n", queuedCount)
				}
			}

		case msg := <-outgoingChan:
			if client != nil && client.IsConnected() {
				publish(msg)
			} else {
				messageQueue = append(messageQueue, msg)
				log.Printf("MQTT sender worker queued message (total queued: %d)\n", len(messageQueue))
			}

		case <-ctx.Done():
			log.Println("MQTT sender worker stopped")
			return
		}
	}
}
