package main

import (
	"context"
	"log"
	"net"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultMQTTPort    = "1883"
	disconnectQuiesce  = 250 // ms
	reconnectInterval  = 5 * time.Second
	sampleSubscribeQoS = 0
)

// SensorMessage is one raw sample payload received on an input topic
type SensorMessage struct {
	Topic string
	Value string
}

// isUnavailable reports payloads Home Assistant sends when a sensor drops out
func isUnavailable(value string) bool {
	switch value {
	case "", "Undefined", "unavailable", "unknown":
		return true
	}
	return false
}

// brokerURL turns MQTT_BROKER into a paho server URL. A bare host gets the
// default port, and anything with a scheme is used as is.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	if _, _, err := net.SplitHostPort(broker); err == nil {
		return "tcp://" + broker
	}
	return "tcp://" + net.JoinHostPort(broker, defaultMQTTPort)
}

// sampleHandler forwards sensor payloads to the router, skipping dropouts
func sampleHandler(ctx context.Context, msgChan chan<- SensorMessage) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		value := strings.TrimSpace(string(msg.Payload()))
		if isUnavailable(value) {
			return
		}

		select {
		case msgChan <- SensorMessage{Topic: msg.Topic(), Value: value}:
		case <-ctx.Done():
		}
	}
}

// subscribeInputs subscribes to every filter input topic in a single request
func subscribeInputs(client mqtt.Client, topics []string, handler mqtt.MessageHandler) error {
	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = sampleSubscribeQoS
	}

	token := client.SubscribeMultiple(filters, handler)
	token.Wait()
	return token.Error()
}

// newClientOptions builds the paho options for the input connection. onConnect
// runs after every (re)connect.
func newClientOptions(cfg Config, onConnect mqtt.OnConnectHandler) *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetryInterval(reconnectInterval).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("MQTT connection lost: %v\n", err)
		}).
		SetOnConnectHandler(onConnect)
}

// mqttWorker owns the broker connection. It hands the connected client to the
// sender worker and streams samples from every filter input topic into msgChan.
func mqttWorker(
	ctx context.Context,
	cfg Config,
	msgChan chan<- SensorMessage,
	clientChan chan<- mqtt.Client,
) {
	topics := cfg.Topics()
	handler := sampleHandler(ctx, msgChan)

	opts := newClientOptions(cfg, func(client mqtt.Client) {
		log.Printf("Connected to MQTT broker at %s\n", cfg.Broker)

		select {
		case clientChan <- client:
		case <-ctx.Done():
			return
		}

		// Subscriptions are not persisted across reconnects
		if err := subscribeInputs(client, topics, handler); err != nil {
			log.Printf("Failed to subscribe to %d input topics: %v\n", len(topics), err)
			return
		}
		log.Printf("Subscribed to input topics: %s\n", strings.Join(topics, ", "))
	})

	client := mqtt.NewClient(opts)

	log.Printf("Connecting to MQTT broker at %s...\n", cfg.Broker)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("Failed to connect to MQTT broker: %v\n", token.Error())
		return
	}

	<-ctx.Done()

	if client.IsConnected() {
		client.Disconnect(disconnectQuiesce)
		log.Println("Disconnected from MQTT broker")
	}
}
