package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RobertoIHH/MQ7ServerWifi/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MQTTSink publishes each record as JSON to one MQTT topic, with the gas type
// appended as a sub-topic (e.g. mq7/readings/CO).
type MQTTSink struct {
	client mqtt.Client
	topic  string
	logger *zap.Logger
}

func NewMQTTSink(broker, user, pass, topic string, logger *zap.Logger) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", broker))
	opts.SetClientID(fmt.Sprintf("mq7-relay-%s", uuid.NewString()[:8]))
	opts.SetUsername(user)
	opts.SetPassword(pass)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", broker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return &MQTTSink{client: client, topic: topic, logger: logger}, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Publish(ctx context.Context, rec *models.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	token := s.client.Publish(s.topic+"/"+string(rec.GasType), 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish: %w", ctx.Err())
	}
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	s.logger.Info("MQTT sink closed")
	return nil
}
