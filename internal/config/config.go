// Package config loads and holds the alarmgen daemon's runtime configuration:
// bus bootstrap endpoints, the aggregate store's replica list, rule-source and
// UVE-server endpoints, and the ambient observability settings.
package config

import (
	"encoding/json"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Exporter    string  `json:"exporter" yaml:"exporter"` // otlp-http (or otlp), stdout
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	ServiceName string  `json:"service_name" yaml:"service_name"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled" yaml:"enabled"`
	Namespace        string    `json:"namespace" yaml:"namespace"`
	HistogramBuckets []float64 `json:"histogram_buckets" yaml:"histogram_buckets"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level          string `json:"level" yaml:"level"`
	Format         string `json:"format" yaml:"format"` // text, json
	IncludeTraceID bool   `json:"include_trace_id" yaml:"include_trace_id"`
}

// ObservabilityConfig holds all observability-related settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// AdminConfig holds the admin/introspection surface settings (§10).
type AdminConfig struct {
	GRPCAddr string `json:"grpc_addr" yaml:"grpc_addr"` // :9090
	HTTPAddr string `json:"http_addr" yaml:"http_addr"` // :9091
}

// StoreTLSConfig holds TLS material for connecting to the aggregate store.
type StoreTLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file" yaml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
	CAFile   string `json:"ca_file" yaml:"ca_file"`
}

// StoreCredentials holds authentication for the aggregate store.
type StoreCredentials struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// Config is the central configuration for the alarmgen daemon.
type Config struct {
	// Instance identity, used as the partition-ownership member ID (host_ip:instance_id).
	HostIP     string `json:"host_ip" yaml:"host_ip"`
	InstanceID string `json:"instance_id" yaml:"instance_id"`
	ClusterID  string `json:"cluster_id" yaml:"cluster_id"`

	// Bus (message-bus collaborator, §14).
	BusBrokers  []string `json:"bus_brokers" yaml:"bus_brokers"`
	TopicPrefix string   `json:"topic_prefix" yaml:"topic_prefix"`

	// Partitioning (§4.5).
	PartitionCount       int      `json:"partition_count" yaml:"partition_count"`
	CoordinatorEndpoints []string `json:"coordinator_endpoints" yaml:"coordinator_endpoints"`

	// Aggregate store (§4.6 / §15).
	StoreReplicas    []string         `json:"store_replicas" yaml:"store_replicas"`
	StoreCredentials StoreCredentials `json:"store_credentials" yaml:"store_credentials"`
	StoreTLS         StoreTLSConfig   `json:"store_tls" yaml:"store_tls"`
	StoreDB          int              `json:"store_db" yaml:"store_db"`

	// Config feed (§4.7).
	RuleSourceEndpoint string `json:"rule_source_endpoint" yaml:"rule_source_endpoint"`

	// UVE server (§4.2 step 1).
	UVEServerEndpoints []string `json:"uve_server_endpoints" yaml:"uve_server_endpoints"`

	MaxOutRows int `json:"max_out_rows" yaml:"max_out_rows"` // default 20

	HealthProbeFirstInterval time.Duration `json:"health_probe_first_interval" yaml:"health_probe_first_interval"` // default 300s
	HealthProbeInterval      time.Duration `json:"health_probe_interval" yaml:"health_probe_interval"`             // default 120s

	Admin         AdminConfig         `json:"admin" yaml:"admin"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`

	mu sync.Mutex
}

// DefaultConfig returns a Config with sensible defaults, mirroring spec.md §6's
// "Environment / config surface" defaults.
func DefaultConfig() *Config {
	return &Config{
		TopicPrefix:              "contrail",
		PartitionCount:           15,
		StoreDB:                  0,
		MaxOutRows:               20,
		HealthProbeFirstInterval: 300 * time.Second,
		HealthProbeInterval:      120 * time.Second,
		Admin: AdminConfig{
			GRPCAddr: ":9090",
			HTTPAddr: ":9091",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "alarmgen",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "alarmgen",
				HistogramBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			Logging: LoggingConfig{
				Level:          "info",
				Format:         "text",
				IncludeTraceID: true,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file, layered over defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MarshalJSON supports serving the effective config over the admin surface.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal((*alias)(c))
}

// LoadFromEnv applies ALARMGEN_* environment variable overrides to the config,
// matching the teacher's env-override-over-defaults pattern.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("ALARMGEN_HOST_IP"); v != "" {
		cfg.HostIP = v
	}
	if v := os.Getenv("ALARMGEN_INSTANCE_ID"); v != "" {
		cfg.InstanceID = v
	}
	if v := os.Getenv("ALARMGEN_CLUSTER_ID"); v != "" {
		cfg.ClusterID = v
	}
	if v := os.Getenv("ALARMGEN_BUS_BROKERS"); v != "" {
		cfg.BusBrokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ALARMGEN_TOPIC_PREFIX"); v != "" {
		cfg.TopicPrefix = v
	}
	if v := os.Getenv("ALARMGEN_PARTITION_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PartitionCount = n
		}
	}
	if v := os.Getenv("ALARMGEN_COORDINATOR_ENDPOINTS"); v != "" {
		cfg.CoordinatorEndpoints = strings.Split(v, ",")
	}
	if v := os.Getenv("ALARMGEN_STORE_REPLICAS"); v != "" {
		cfg.StoreReplicas = strings.Split(v, ",")
	}
	if v := os.Getenv("ALARMGEN_STORE_PASSWORD"); v != "" {
		cfg.StoreCredentials.Password = v
	}
	if v := os.Getenv("ALARMGEN_RULE_SOURCE_ENDPOINT"); v != "" {
		cfg.RuleSourceEndpoint = v
	}
	if v := os.Getenv("ALARMGEN_UVE_SERVER_ENDPOINTS"); v != "" {
		cfg.UVEServerEndpoints = strings.Split(v, ",")
	}
	if v := os.Getenv("ALARMGEN_MAX_OUT_ROWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxOutRows = n
		}
	}
	if v := os.Getenv("ALARMGEN_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("ALARMGEN_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("ALARMGEN_ADMIN_GRPC_ADDR"); v != "" {
		cfg.Admin.GRPCAddr = v
	}
	if v := os.Getenv("ALARMGEN_ADMIN_HTTP_ADDR"); v != "" {
		cfg.Admin.HTTPAddr = v
	}
	if v := os.Getenv("ALARMGEN_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("ALARMGEN_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("ALARMGEN_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
}

// ReloadBootstrap re-reads the bus bootstrap list from the ALARMGEN_BUS_BROKERS
// environment variable and reshuffles it for load balance, per spec.md §6's
// SIGHUP contract. If the env var is unset the existing list is reshuffled
// in place.
func (c *Config) ReloadBootstrap() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("ALARMGEN_BUS_BROKERS"); v != "" {
		c.BusBrokers = strings.Split(v, ",")
	}
	rand.Shuffle(len(c.BusBrokers), func(i, j int) {
		c.BusBrokers[i], c.BusBrokers[j] = c.BusBrokers[j], c.BusBrokers[i]
	})
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
