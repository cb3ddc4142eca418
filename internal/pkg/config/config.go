package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the service configuration. It is read from a JSON file and then
// overridden field by field from the environment.
type Config struct {
	Server  Server  `json:"Server"`
	Debug   bool    `json:"Debug"`
	Solver  Solver  `json:"Solver"`
	NATS    NATS    `json:"NATS"`
	SQL     SQL     `json:"SQL"`
	Mongo   Mongo   `json:"Mongo"`
	MQTT    MQTT    `json:"MQTT"`
	Webhook Webhook `json:"Webhook"`
}

type Server struct {
	Port           string   `json:"Port"`
	AllowedOrigins []string `json:"AllowedOrigins"`
}

// Solver tunes the simplex backend. MaxConcurrent bounds how many solves the
// webservice runs at once.
type Solver struct {
	Tolerance     float64  `json:"Tolerance"`
	Timeout       Duration `json:"Timeout"`
	MaxConcurrent int      `json:"MaxConcurrent"`
}

type NATS struct {
	Enabled       bool   `json:"Enabled"`
	URL           string `json:"URL"`
	SubjectPrefix string `json:"SubjectPrefix"`
}

type SQL struct {
	Enabled  bool   `json:"Enabled"`
	Driver   string `json:"Driver"`
	Server   string `json:"Server"`
	Port     int    `json:"Port"`
	Username string `json:"Username"`
	Password string `json:"Password"`
	Database string `json:"Database"`
}

type Mongo struct {
	Enabled    bool   `json:"Enabled"`
	URI        string `json:"URI"`
	Database   string `json:"Database"`
	Collection string `json:"Collection"`
}

type MQTT struct {
	Enabled  bool   `json:"Enabled"`
	Broker   string `json:"Broker"`
	ClientID string `json:"ClientID"`
	Topic    string `json:"Topic"`
	QoS      byte   `json:"QoS"`
}

// Webhook posts price summaries to {URL}/networks/{network}/prices.
type Webhook struct {
	Enabled bool     `json:"Enabled"`
	URL     string   `json:"URL"`
	Timeout Duration `json:"Timeout"`
}

// Duration reads "30s" style strings as well as plain nanosecond counts.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server:  Server{Port: "8080", AllowedOrigins: []string{"*"}},
		Solver:  Solver{Tolerance: 1e-9, Timeout: Duration{30 * time.Second}, MaxConcurrent: 4},
		NATS:    NATS{URL: "nats://127.0.0.1:4222", SubjectPrefix: "cgc"},
		SQL:     SQL{Driver: "mysql", Server: "localhost", Port: 3306, Database: "cgc"},
		Mongo:   Mongo{URI: "mongodb://localhost:27017", Database: "cgc", Collection: "solve_runs"},
		MQTT:    MQTT{Broker: "tcp://localhost:1883", ClientID: "cgc_nodal", Topic: "cgc"},
		Webhook: Webhook{Timeout: Duration{5 * time.Second}},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	// .env is optional
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("CGC_PORT", c.Server.Port)
	if origins := getEnv("CGC_ALLOWED_ORIGINS", ""); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}
	c.Debug = getEnvBool("CGC_DEBUG", c.Debug)
	c.Solver.Tolerance = getEnvFloat("CGC_SOLVER_TOLERANCE", c.Solver.Tolerance)
	c.Solver.Timeout.Duration = getEnvDuration("CGC_SOLVER_TIMEOUT", c.Solver.Timeout.Duration)
	c.Solver.MaxConcurrent = getEnvInt("CGC_SOLVER_MAX_CONCURRENT", c.Solver.MaxConcurrent)

	c.NATS.Enabled = getEnvBool("CGC_NATS_ENABLED", c.NATS.Enabled)
	c.NATS.URL = getEnv("CGC_NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnv("CGC_NATS_PREFIX", c.NATS.SubjectPrefix)

	c.SQL.Enabled = getEnvBool("CGC_SQL_ENABLED", c.SQL.Enabled)
	c.SQL.Driver = getEnv("CGC_SQL_DRIVER", c.SQL.Driver)
	c.SQL.Server = getEnv("CGC_SQL_SERVER", c.SQL.Server)
	c.SQL.Port = getEnvInt("CGC_SQL_PORT", c.SQL.Port)
	c.SQL.Username = getEnv("CGC_SQL_USERNAME", c.SQL.Username)
	c.SQL.Password = getEnv("CGC_SQL_PASSWORD", c.SQL.Password)
	c.SQL.Database = getEnv("CGC_SQL_DATABASE", c.SQL.Database)

	c.Mongo.Enabled = getEnvBool("CGC_MONGO_ENABLED", c.Mongo.Enabled)
	c.Mongo.URI = getEnv("CGC_MONGO_URI", c.Mongo.URI)
	c.Mongo.Database = getEnv("CGC_MONGO_DATABASE", c.Mongo.Database)
	c.Mongo.Collection = getEnv("CGC_MONGO_COLLECTION", c.Mongo.Collection)

	c.MQTT.Enabled = getEnvBool("CGC_MQTT_ENABLED", c.MQTT.Enabled)
	c.MQTT.Broker = getEnv("CGC_MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getEnv("CGC_MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Topic = getEnv("CGC_MQTT_TOPIC", c.MQTT.Topic)
	c.MQTT.QoS = byte(getEnvInt("CGC_MQTT_QOS", int(c.MQTT.QoS)))

	c.Webhook.Enabled = getEnvBool("CGC_WEBHOOK_ENABLED", c.Webhook.Enabled)
	c.Webhook.URL = getEnv("CGC_WEBHOOK_URL", c.Webhook.URL)
	c.Webhook.Timeout.Duration = getEnvDuration("CGC_WEBHOOK_TIMEOUT", c.Webhook.Timeout.Duration)
}

// Validate rejects settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Solver.Tolerance <= 0 {
		errs = append(errs, fmt.Errorf("solver tolerance must be positive, got %g", c.Solver.Tolerance))
	}
	if c.Solver.Timeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("solver timeout must not be negative, got %v", c.Solver.Timeout))
	}
	if c.Solver.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("solver max concurrent must be at least 1, got %d", c.Solver.MaxConcurrent))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats is enabled without a URL"))
	}
	if c.SQL.Enabled {
		switch c.SQL.Driver {
		case "mysql", "postgres":
		default:
			errs = append(errs, fmt.Errorf("unknown sql driver %q", c.SQL.Driver))
		}
		if c.SQL.Server == "" {
			errs = append(errs, errors.New("sql is enabled without a server"))
		}
	}
	if c.Mongo.Enabled && c.Mongo.URI == "" {
		errs = append(errs, errors.New("mongo is enabled without a URI"))
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt is enabled without a broker"))
		}
		if c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
		}
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		errs = append(errs, errors.New("webhook is enabled without a URL"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
