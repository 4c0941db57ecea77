package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Database    *DBConfig
	Service     *ServiceConfig
	Provisioner *ProvisionerConfig
	Webhook     *WebhookConfig
	Monitor     *MonitorConfig
}

type DBConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"service-orchestrator"`
	User     string `envconfig:"DB_USER"`
	Password string `envconfig:"DB_PASS"`
	File     string `envconfig:"DB_FILE" default:"orchestrator.db"`
}

type ServiceConfig struct {
	Address    string `envconfig:"SVC_ADDRESS" default:":8080"`
	LogLevel   string `envconfig:"SVC_LOG_LEVEL" default:"info"`
	BaseDomain string `envconfig:"SVC_BASE_DOMAIN" default:"meridian.cloud"`
}

type ProvisionerConfig struct {
	// Provider selects the default backend for provisioning requests that
	// do not name one: docker or kubernetes.
	Provider       string        `envconfig:"PROVISIONER_PROVIDER" default:"docker"`
	MaxAttempts    int           `envconfig:"PROVISIONER_MAX_ATTEMPTS" default:"3"`
	RetryBackoff   time.Duration `envconfig:"PROVISIONER_RETRY_BACKOFF" default:"60s"`
	Workers        int           `envconfig:"PROVISIONER_WORKERS" default:"4"`
	QueueSize      int           `envconfig:"PROVISIONER_QUEUE_SIZE" default:"64"`
	VerifyTimeout  time.Duration `envconfig:"PROVISIONER_VERIFY_TIMEOUT" default:"120s"`
	VerifyInterval time.Duration `envconfig:"PROVISIONER_VERIFY_INTERVAL" default:"5s"`

	// Delays before the follow-up jobs scheduled after a successful
	// provisioning run.
	HealthCheckDelay     time.Duration `envconfig:"PROVISIONER_HEALTH_CHECK_DELAY" default:"60s"`
	MonitoringSetupDelay time.Duration `envconfig:"PROVISIONER_MONITORING_DELAY" default:"120s"`
}

type WebhookConfig struct {
	// Endpoint empty means webhook delivery is disabled.
	Endpoint   string        `envconfig:"WEBHOOK_URL"`
	Secret     string        `envconfig:"WEBHOOK_SECRET"`
	Timeout    time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	MaxRetries int           `envconfig:"WEBHOOK_MAX_RETRIES" default:"3"`
}

type MonitorConfig struct {
	HealthInterval  time.Duration `envconfig:"MONITOR_HEALTH_INTERVAL" default:"5m"`
	MetricsInterval time.Duration `envconfig:"MONITOR_METRICS_INTERVAL" default:"1m"`
	ProbeTimeout    time.Duration `envconfig:"MONITOR_PROBE_TIMEOUT" default:"10s"`

	// Threshold alerts: CPU above CPUThreshold raises a warning, memory
	// above MemoryThreshold raises an error.
	CPUThreshold    float64 `envconfig:"MONITOR_CPU_THRESHOLD" default:"80"`
	MemoryThreshold float64 `envconfig:"MONITOR_MEMORY_THRESHOLD" default:"90"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	if cfg.Database.Type != "pgsql" && cfg.Database.Type != "sqlite" {
		log.Printf("WARNING: invalid DB_TYPE %q, defaulting to sqlite", cfg.Database.Type)
		cfg.Database.Type = "sqlite"
	}
	return cfg, nil
}
