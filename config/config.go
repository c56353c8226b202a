package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ponytojas/go-plant-monitor/internal/dashboard"
	"github.com/ponytojas/go-plant-monitor/internal/models"
	"github.com/ponytojas/go-plant-monitor/internal/status"
)

// Config holds all configuration for the application
type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Firebase  FirebaseConfig  `mapstructure:"firebase"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Timescale TimescaleConfig `mapstructure:"timescale"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
}

// HTTPConfig holds the API listener configuration
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// FirebaseConfig locates the realtime database and the device node in it
type FirebaseConfig struct {
	URL                 string        `mapstructure:"url"`
	DeviceID            string        `mapstructure:"device_id"`
	AuthToken           string        `mapstructure:"auth_token"`
	Timeout             time.Duration `mapstructure:"timeout"`
	BreakerMaxFailures  int           `mapstructure:"breaker_max_failures"`
	BreakerResetTimeout time.Duration `mapstructure:"breaker_reset_timeout"`
}

// DashboardConfig holds buffer sizes, chart windows and the refresh period
type DashboardConfig struct {
	RefreshInterval    time.Duration    `mapstructure:"refresh_interval"`
	RecentLimit        int              `mapstructure:"recent_limit"`
	PastLimit          int              `mapstructure:"past_limit"`
	HistoryRetention   time.Duration    `mapstructure:"history_retention"`
	ChartRanges        ChartRangeConfig `mapstructure:"chart_ranges"`
	MoistureThresholds []float64        `mapstructure:"moisture_thresholds"`
}

// ChartRangeConfig holds each chart's lookback window in minutes
type ChartRangeConfig struct {
	Moisture    int `mapstructure:"moisture"`
	Temperature int `mapstructure:"temperature"`
	Humidity    int `mapstructure:"humidity"`
}

// MQTTConfig holds MQTT connection configuration
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// DatabaseConfig holds Postgres connection configuration
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// TimescaleConfig holds Timescale specific configuration
type TimescaleConfig struct {
	TableName string `mapstructure:"table_name"`
}

// KafkaConfig holds the watering reminder publisher configuration
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// envBindings maps every key to its environment variable.
var envBindings = map[string]string{
	"log_level":                          "LOG_LEVEL",
	"http.addr":                          "HTTP_ADDR",
	"http.shutdown_timeout":              "HTTP_SHUTDOWN_TIMEOUT",
	"firebase.url":                       "FIREBASE_URL",
	"firebase.device_id":                 "FIREBASE_DEVICE_ID",
	"firebase.auth_token":                "FIREBASE_AUTH_TOKEN",
	"firebase.timeout":                   "FIREBASE_TIMEOUT",
	"firebase.breaker_max_failures":      "FIREBASE_BREAKER_MAX_FAILURES",
	"firebase.breaker_reset_timeout":     "FIREBASE_BREAKER_RESET_TIMEOUT",
	"dashboard.refresh_interval":         "DASHBOARD_REFRESH_INTERVAL",
	"dashboard.recent_limit":             "DASHBOARD_RECENT_LIMIT",
	"dashboard.past_limit":               "DASHBOARD_PAST_LIMIT",
	"dashboard.history_retention":        "DASHBOARD_HISTORY_RETENTION",
	"dashboard.chart_ranges.moisture":    "DASHBOARD_CHART_RANGES_MOISTURE",
	"dashboard.chart_ranges.temperature": "DASHBOARD_CHART_RANGES_TEMPERATURE",
	"dashboard.chart_ranges.humidity":    "DASHBOARD_CHART_RANGES_HUMIDITY",
	"mqtt.enabled":                       "MQTT_ENABLED",
	"mqtt.broker":                        "MQTT_BROKER",
	"mqtt.port":                          "MQTT_PORT",
	"mqtt.client_id":                     "MQTT_CLIENT_ID",
	"mqtt.topic":                         "MQTT_TOPIC",
	"mqtt.username":                      "MQTT_USERNAME",
	"mqtt.password":                      "MQTT_PASSWORD",
	"database.enabled":                   "DATABASE_ENABLED",
	"database.host":                      "DATABASE_HOST",
	"database.port":                      "DATABASE_PORT",
	"database.user":                      "DATABASE_USER",
	"database.password":                  "DATABASE_PASSWORD",
	"database.dbname":                    "DATABASE_DBNAME",
	"database.sslmode":                   "DATABASE_SSLMODE",
	"timescale.table_name":               "TIMESCALE_TABLE_NAME",
	"kafka.enabled":                      "KAFKA_ENABLED",
	"kafka.brokers":                      "KAFKA_BROKERS",
	"kafka.topic":                        "KAFKA_TOPIC",
}

// LoadConfig loads configuration from defaults, a config.yaml in path,
// environment variables and, when given, command-line flags (highest
// precedence). Recognized flags: --config, --log-level, --http-addr,
// --device-id.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, GetDefaultConfig())

	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
		}
	}
	if v.ConfigFileUsed() == "" {
		v.AddConfigPath(path)
		v.SetConfigName("config")
	}
	v.SetConfigType("yaml")

	// Keep backward compatibility with MQTT_BROKER_URL
	_ = v.BindEnv("mqtt.broker", "MQTT_BROKER", "MQTT_BROKER_URL")
	for key, env := range envBindings {
		if key == "mqtt.broker" {
			continue
		}
		_ = v.BindEnv(key, env)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range map[string]string{
			"log_level":          "log-level",
			"http.addr":          "http-addr",
			"firebase.device_id": "device-id",
		} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	// A missing config file is fine; env and defaults carry the rest.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// RegisterFlags adds the supported command-line overrides to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to config file (defaults to ./config.yaml)")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("http-addr", ":8080", "HTTP listen address")
	fs.String("device-id", "smart-plant-reminder", "Device key in the realtime database")
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)

	v.SetDefault("firebase.url", d.Firebase.URL)
	v.SetDefault("firebase.device_id", d.Firebase.DeviceID)
	v.SetDefault("firebase.auth_token", d.Firebase.AuthToken)
	v.SetDefault("firebase.timeout", d.Firebase.Timeout)
	v.SetDefault("firebase.breaker_max_failures", d.Firebase.BreakerMaxFailures)
	v.SetDefault("firebase.breaker_reset_timeout", d.Firebase.BreakerResetTimeout)

	v.SetDefault("dashboard.refresh_interval", d.Dashboard.RefreshInterval)
	v.SetDefault("dashboard.recent_limit", d.Dashboard.RecentLimit)
	v.SetDefault("dashboard.past_limit", d.Dashboard.PastLimit)
	v.SetDefault("dashboard.history_retention", d.Dashboard.HistoryRetention)
	v.SetDefault("dashboard.chart_ranges.moisture", d.Dashboard.ChartRanges.Moisture)
	v.SetDefault("dashboard.chart_ranges.temperature", d.Dashboard.ChartRanges.Temperature)
	v.SetDefault("dashboard.chart_ranges.humidity", d.Dashboard.ChartRanges.Humidity)
	v.SetDefault("dashboard.moisture_thresholds", d.Dashboard.MoistureThresholds)

	v.SetDefault("mqtt.enabled", d.MQTT.Enabled)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.port", d.MQTT.Port)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.topic", d.MQTT.Topic)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)

	v.SetDefault("database.enabled", d.Database.Enabled)
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.dbname", d.Database.DBName)
	v.SetDefault("database.sslmode", d.Database.SSLMode)

	v.SetDefault("timescale.table_name", d.Timescale.TableName)

	v.SetDefault("kafka.enabled", d.Kafka.Enabled)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
}

// GetDefaultConfig returns default configuration
func GetDefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Firebase: FirebaseConfig{
			URL:                 "https://smart-plant-watering-e2811-default-rtdb.firebaseio.com",
			DeviceID:            "smart-plant-reminder",
			Timeout:             15 * time.Second,
			BreakerMaxFailures:  5,
			BreakerResetTimeout: 30 * time.Second,
		},
		Dashboard: DashboardConfig{
			RefreshInterval: 60 * time.Second,
			RecentLimit:     10,
			PastLimit:       50,
			ChartRanges: ChartRangeConfig{
				Moisture:    10,
				Temperature: 10,
				Humidity:    10,
			},
			MoistureThresholds: []float64{30, 50, 70},
		},
		MQTT: MQTTConfig{
			Broker: "tcp://localhost",
			Port:   1883,
			Topic:  "plants/+/telemetry",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			DBName:   "iot_data",
			SSLMode:  "disable",
		},
		Timescale: TimescaleConfig{
			TableName: "plant_samples",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "plant-reminders",
		},
	}
}

// Validate checks the settings that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if c.Firebase.DeviceID == "" {
		return errors.New("firebase.device_id must not be empty")
	}
	if c.Dashboard.RefreshInterval < time.Second {
		return fmt.Errorf("dashboard.refresh_interval must be at least 1s, got %s", c.Dashboard.RefreshInterval)
	}
	if c.Dashboard.RecentLimit < 1 || c.Dashboard.PastLimit < 1 {
		return errors.New("dashboard.recent_limit and dashboard.past_limit must be positive")
	}
	if _, err := c.Thresholds(); err != nil {
		return err
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	return nil
}

// Thresholds returns the configured moisture band breakpoints.
func (c *Config) Thresholds() (status.Thresholds, error) {
	raw := c.Dashboard.MoistureThresholds
	if len(raw) == 0 {
		return status.DefaultThresholds, nil
	}
	if len(raw) != 3 {
		return status.Thresholds{}, fmt.Errorf("dashboard.moisture_thresholds needs 3 values, got %d", len(raw))
	}
	t := status.Thresholds{raw[0], raw[1], raw[2]}
	return t, t.Validate()
}

// DashboardState converts the dashboard section into the state's config.
func (c *Config) DashboardState() (dashboard.Config, error) {
	t, err := c.Thresholds()
	if err != nil {
		return dashboard.Config{}, err
	}
	return dashboard.Config{
		DeviceID:    c.Firebase.DeviceID,
		RecentLimit: c.Dashboard.RecentLimit,
		PastLimit:   c.Dashboard.PastLimit,
		ChartRanges: map[models.Metric]int{
			models.MetricMoisture:    c.Dashboard.ChartRanges.Moisture,
			models.MetricTemperature: c.Dashboard.ChartRanges.Temperature,
			models.MetricHumidity:    c.Dashboard.ChartRanges.Humidity,
		},
		Thresholds:      t,
		Retention:       c.Dashboard.HistoryRetention,
		RefreshInterval: c.Dashboard.RefreshInterval,
	}, nil
}

// GetDBConnString returns the database connection string
func (c *Config) GetDBConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *Config) GetMQTTBrokerURL() string {
	brokerURL := c.MQTT.Broker

	// If the URL already has a protocol, use it as is
	for _, scheme := range []string{"tcp://", "ssl://", "ws://", "wss://"} {
		if strings.HasPrefix(brokerURL, scheme) {
			if !strings.Contains(strings.TrimPrefix(brokerURL, scheme), ":") {
				brokerURL = fmt.Sprintf("%s:%d", brokerURL, c.MQTT.Port)
			}
			return brokerURL
		}
	}

	// Handle http:// and https:// protocols by converting to mqtt protocols
	if host, ok := strings.CutPrefix(brokerURL, "http://"); ok {
		if !strings.Contains(host, ":") {
			host = fmt.Sprintf("%s:%d", host, c.MQTT.Port)
		}
		return fmt.Sprintf("tcp://%s", host)
	}
	if host, ok := strings.CutPrefix(brokerURL, "https://"); ok {
		if !strings.Contains(host, ":") {
			host = fmt.Sprintf("%s:%d", host, c.MQTT.Port)
		}
		return fmt.Sprintf("ssl://%s", host)
	}

	// If no protocol is specified, use tcp:// with the configured port
	return fmt.Sprintf("tcp://%s:%d", brokerURL, c.MQTT.Port)
}
