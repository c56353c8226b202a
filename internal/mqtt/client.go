package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ponytojas/go-plant-monitor/config"
	"github.com/ponytojas/go-plant-monitor/internal/models"
)

// Sink receives decoded telemetry.
type Sink interface {
	Ingest(ctx context.Context, source string, samples []models.SensorData) []models.SensorData
}

// Client handles MQTT connection and message processing
type Client struct {
	client        mqtt.Client
	sink          Sink
	brokerURL     string
	topic         string
	defaultDevice string
	logger        zerolog.Logger
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewClient creates a new MQTT client
func NewClient(cfg *config.Config, sink Sink, logger zerolog.Logger) (*Client, error) {
	if sink == nil {
		return nil, errors.New("mqtt: sink is required")
	}
	logger = logger.With().Str("component", "mqtt").Logger()

	opts := mqtt.NewClientOptions()
	brokerURL := cfg.GetMQTTBrokerURL()
	opts.AddBroker(brokerURL)

	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "plant-monitor-" + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)

	// Configure TLS if using SSL or secure websockets
	if strings.HasPrefix(brokerURL, "ssl://") || strings.HasPrefix(brokerURL, "wss://") {
		logger.Info().Str("broker", brokerURL).Msg("Configuring TLS for secure connection")
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("Connection lost")
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		logger.Info().Msg("Attempting to reconnect to MQTT broker...")
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		sink:          sink,
		brokerURL:     brokerURL,
		topic:         cfg.MQTT.Topic,
		defaultDevice: cfg.Firebase.DeviceID,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
	// Resubscribe on every (re)connect; a clean session drops subscriptions.
	opts.SetOnConnectHandler(func(mqtt.Client) {
		if err := c.Subscribe(); err != nil {
			logger.Error().Err(err).Msg("Subscribe after connect failed")
		}
	})
	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect connects to the MQTT broker
func (c *Client) Connect() error {
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	c.logger.Info().Str("broker", c.brokerURL).Msg("Connected to MQTT broker")
	return nil
}

// Subscribe subscribes to the configured topic
func (c *Client) Subscribe() error {
	handler := func(client mqtt.Client, msg mqtt.Message) {
		c.logger.Debug().Str("topic", msg.Topic()).Bytes("payload", msg.Payload()).Msg("Received message")
		c.processMessage(msg.Topic(), msg.Payload())
	}

	token := c.client.Subscribe(c.topic, 0, handler)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.topic, token.Error())
	}
	c.logger.Info().Str("topic", c.topic).Msg("Subscribed to topic")
	return nil
}

// Disconnect disconnects from the MQTT broker
func (c *Client) Disconnect() {
	c.cancel()
	c.client.Disconnect(250)
	c.logger.Info().Msg("Disconnected from MQTT broker")
}

// processMessage decodes an MQTT message and hands it to the sink
func (c *Client) processMessage(topic string, payload []byte) {
	data, err := decodePayload(topic, payload, c.defaultDevice, time.Now())
	if err != nil {
		c.logger.Warn().Err(err).Str("topic", topic).Msg("Dropping message")
		return
	}
	if accepted := c.sink.Ingest(c.ctx, "mqtt", []models.SensorData{data}); len(accepted) > 0 {
		c.logger.Debug().Stringer("sample", data).Msg("Processed live sample")
	}
}

// decodePayload reads a JSON telemetry message. The device id comes from the
// payload, else from a plants/{device}/... topic, else the default device.
// A missing or unparsable timestamp falls back to now.
func decodePayload(topic string, payload []byte, defaultDevice string, now time.Time) (models.SensorData, error) {
	var rawData map[string]interface{}
	if err := json.Unmarshal(payload, &rawData); err != nil {
		return models.SensorData{}, fmt.Errorf("error unmarshaling message: %w", err)
	}

	timestamp := now.UTC()
	switch ts := rawData["timestamp"].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			timestamp = t.UTC()
		}
	case float64:
		if ts > 1e11 {
			timestamp = time.UnixMilli(int64(ts)).UTC()
		} else if ts > 0 {
			timestamp = time.Unix(int64(ts), 0).UTC()
		}
	}

	moisture, ok := getFloat64Value(rawData, "moisture")
	if !ok {
		moisture, ok = getFloat64Value(rawData, "soil_moisture")
	}
	if !ok {
		return models.SensorData{}, errors.New("moisture is missing or not numeric")
	}
	temperature, _ := getFloat64Value(rawData, "temperature")
	humidity, _ := getFloat64Value(rawData, "humidity")

	deviceID, _ := rawData["device_id"].(string)
	if deviceID == "" {
		deviceID = deviceFromTopic(topic)
	}
	if deviceID == "" {
		deviceID = defaultDevice
	}

	return models.SensorData{
		Timestamp:   timestamp,
		Moisture:    moisture,
		Temperature: temperature,
		Humidity:    humidity,
		DeviceID:    deviceID,
	}, nil
}

func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 && parts[0] == "plants" {
		return parts[1]
	}
	return ""
}

// getFloat64Value safely extracts a finite float64 value from the map
func getFloat64Value(data map[string]interface{}, key string) (float64, bool) {
	val, ok := data[key]
	if !ok {
		return 0, false
	}
	var f float64
	switch v := val.(type) {
	case float64:
		f = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
