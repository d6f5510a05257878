package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type StreamMode string

const (
	StreamModeHTTP      StreamMode = "http"
	StreamModeGRPC      StreamMode = "grpc"
	StreamModeWebSocket StreamMode = "websocket"
	HardcodedVersion    string     = "v0.3.0"
)

const DefaultGRPCMethod = "/tugboat.telemetry.v1.TelemetryService/Post"

type Config struct {
	NodeID       string `yaml:"node_id"`
	Hostname     string `yaml:"-"`
	InstanceID   string `yaml:"-"`
	AgentVersion string `yaml:"-"`

	PhoneHomeURL string     `yaml:"phone_home_url"`
	SecretKey    string     `yaml:"secret_key"`
	StreamMode   StreamMode `yaml:"stream_mode"`
	GRPCAddr     string     `yaml:"grpc_addr"`
	GRPCMethod   string     `yaml:"grpc_method"`
	WSURL        string     `yaml:"ws_url"`

	TelemetryTimeout      time.Duration `yaml:"telemetry_timeout"`
	WebSocketPingInterval time.Duration `yaml:"ws_ping_interval"`
	AliveInterval         time.Duration `yaml:"alive_interval"`
	MetricsInterval       time.Duration `yaml:"metrics_interval"`
	WatcherBackoff        time.Duration `yaml:"watcher_backoff"`
	EventBuffer           int           `yaml:"event_buffer"`
	HealthInterval        time.Duration `yaml:"health_interval"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
	ReconnectInterval     time.Duration `yaml:"reconnect_interval"`
	MaxReconnectJitter    time.Duration `yaml:"reconnect_max_jitter"`

	DockerBinary string `yaml:"docker_binary"`
	DockerHost   string `yaml:"docker_host"`
	AdminAddr    string `yaml:"admin_addr"`
	ProcRoot     string `yaml:"proc_root"`

	TLSEnabled    bool   `yaml:"tls_enabled"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify"`
	TLSCAPath     string `yaml:"tls_ca_path"`
	TLSCertPath   string `yaml:"tls_cert_path"`
	TLSKeyPath    string `yaml:"tls_key_path"`

	LogJSON  bool   `yaml:"log_json"`
	LogLevel string `yaml:"log_level"`
}

// Defaults returns the configuration used when neither a file nor the
// environment says otherwise.
func Defaults() Config {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	return Config{
		NodeID:                hostname,
		Hostname:              hostname,
		InstanceID:            uuid.NewString(),
		AgentVersion:          HardcodedVersion,
		StreamMode:            StreamModeHTTP,
		GRPCMethod:            DefaultGRPCMethod,
		TelemetryTimeout:      5 * time.Second,
		WebSocketPingInterval: 10 * time.Second,
		AliveInterval:         60 * time.Second,
		MetricsInterval:       300 * time.Second,
		WatcherBackoff:        5 * time.Second,
		EventBuffer:           256,
		HealthInterval:        30 * time.Second,
		ShutdownTimeout:       10 * time.Second,
		ReconnectInterval:     4 * time.Second,
		MaxReconnectJitter:    900 * time.Millisecond,
		DockerBinary:          "docker",
		AdminAddr:             "127.0.0.1:7443",
		ProcRoot:              "/proc",
		LogLevel:              "info",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or $TUGBOAT_CONFIG when path is empty), then TUGBOAT_* environment
// variables, and validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		path = env("TUGBOAT_CONFIG", "")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.StreamMode = StreamMode(strings.ToLower(string(cfg.StreamMode)))
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv() {
	c.NodeID = env("TUGBOAT_NODE_ID", c.NodeID)
	c.PhoneHomeURL = env("TUGBOAT_PHONE_HOME_URL", c.PhoneHomeURL)
	c.SecretKey = env("TUGBOAT_SECRET_KEY", c.SecretKey)
	c.StreamMode = StreamMode(env("TUGBOAT_STREAM_MODE", string(c.StreamMode)))
	c.GRPCAddr = env("TUGBOAT_GRPC_ADDR", c.GRPCAddr)
	c.GRPCMethod = env("TUGBOAT_GRPC_METHOD", c.GRPCMethod)
	c.WSURL = env("TUGBOAT_WS_URL", c.WSURL)
	c.TelemetryTimeout = envDuration("TUGBOAT_TELEMETRY_TIMEOUT", c.TelemetryTimeout)
	c.WebSocketPingInterval = envDuration("TUGBOAT_WS_PING_INTERVAL", c.WebSocketPingInterval)
	c.AliveInterval = envDuration("TUGBOAT_ALIVE_INTERVAL", c.AliveInterval)
	c.MetricsInterval = envDuration("TUGBOAT_METRICS_INTERVAL", c.MetricsInterval)
	c.WatcherBackoff = envDuration("TUGBOAT_WATCHER_BACKOFF", c.WatcherBackoff)
	c.EventBuffer = envInt("TUGBOAT_EVENT_BUFFER", c.EventBuffer)
	c.HealthInterval = envDuration("TUGBOAT_HEALTH_INTERVAL", c.HealthInterval)
	c.ShutdownTimeout = envDuration("TUGBOAT_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.ReconnectInterval = envDuration("TUGBOAT_RECONNECT_INTERVAL", c.ReconnectInterval)
	c.MaxReconnectJitter = envDuration("TUGBOAT_RECONNECT_MAX_JITTER", c.MaxReconnectJitter)
	c.DockerBinary = env("TUGBOAT_DOCKER_BINARY", c.DockerBinary)
	c.DockerHost = env("TUGBOAT_DOCKER_HOST", c.DockerHost)
	c.AdminAddr = envRaw("TUGBOAT_ADMIN_ADDR", c.AdminAddr)
	c.ProcRoot = env("TUGBOAT_PROC_ROOT", c.ProcRoot)
	c.TLSEnabled = envBool("TUGBOAT_TLS_ENABLED", c.TLSEnabled)
	c.TLSSkipVerify = envBool("TUGBOAT_TLS_SKIP_VERIFY", c.TLSSkipVerify)
	c.TLSCAPath = env("TUGBOAT_TLS_CA_PATH", c.TLSCAPath)
	c.TLSCertPath = env("TUGBOAT_TLS_CERT_PATH", c.TLSCertPath)
	c.TLSKeyPath = env("TUGBOAT_TLS_KEY_PATH", c.TLSKeyPath)
	c.LogJSON = envBool("TUGBOAT_LOG_JSON", c.LogJSON)
	c.LogLevel = env("TUGBOAT_LOG_LEVEL", c.LogLevel)
}

func (c Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("TUGBOAT_NODE_ID is required")
	}
	if strings.TrimSpace(c.AgentVersion) == "" {
		return errors.New("agent version must not be empty")
	}
	if c.AliveInterval <= 0 || c.MetricsInterval <= 0 {
		return errors.New("heartbeat intervals must be > 0")
	}
	if c.TelemetryTimeout <= 0 {
		return errors.New("TUGBOAT_TELEMETRY_TIMEOUT must be > 0")
	}
	if c.WatcherBackoff <= 0 {
		return errors.New("TUGBOAT_WATCHER_BACKOFF must be > 0")
	}
	if c.EventBuffer <= 0 {
		return errors.New("TUGBOAT_EVENT_BUFFER must be > 0")
	}
	if c.HealthInterval <= 0 || c.ReconnectInterval <= 0 {
		return errors.New("health and reconnect intervals must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("TUGBOAT_SHUTDOWN_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(c.DockerBinary) == "" {
		return errors.New("TUGBOAT_DOCKER_BINARY is required")
	}
	if c.PhoneHomeURL != "" {
		u, err := url.Parse(c.PhoneHomeURL)
		if err != nil {
			return fmt.Errorf("invalid TUGBOAT_PHONE_HOME_URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("TUGBOAT_PHONE_HOME_URL must be http or https, got %q", u.Scheme)
		}
	}
	switch c.StreamMode {
	case StreamModeHTTP, StreamModeGRPC, StreamModeWebSocket:
	default:
		return fmt.Errorf("unsupported stream mode %q", c.StreamMode)
	}
	if c.StreamMode == StreamModeGRPC {
		if c.GRPCAddr == "" {
			return errors.New("TUGBOAT_GRPC_ADDR is required for grpc mode")
		}
		if strings.TrimSpace(c.GRPCMethod) == "" {
			return errors.New("TUGBOAT_GRPC_METHOD is required for grpc mode")
		}
	}
	if c.StreamMode == StreamModeWebSocket && c.WSURL == "" {
		return errors.New("TUGBOAT_WS_URL is required for websocket mode")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.LogLevel)
	}
	return nil
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// envRaw distinguishes an unset variable from an empty one, so that an
// explicitly empty value can disable a feature.
func envRaw(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.TrimSpace(v)
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
