package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Pipeline  PipelineConfig
	Providers ProviderConfig
	Artifacts ArtifactConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
	AuthToken   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings (queue + artifact store)
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PipelineConfig holds stage orchestration settings
type PipelineConfig struct {
	QueueType        string // "redis" for production, "memory" for tests
	StageStream      string
	RepairStream     string
	ConsumerGroup    string
	MaxDeliveries    int           // infrastructure-level retries per stage job
	DispatchDelay    time.Duration // settle delay between stages
	WorkspaceRoot    string
	PolicyFile       string
	ContextTimeout   time.Duration
	ImplementTimeout time.Duration
	ChecksTimeout    time.Duration
	ReviewTimeout    time.Duration
}

// ProviderConfig selects capability provider variants
type ProviderConfig struct {
	Planner         string // "anthropic" | "stub"
	Implementer     string
	Reviewer        string
	Tracker         string // "http" | "noop"
	Vcs             string // "http" | "noop"
	Runner          string // "sandbox" | "local"
	Indexer         string // "http" | "memory"
	AnthropicKey    string
	AnthropicModel  string
	TrackerBaseURL  string
	VcsBaseURL      string
	SandboxBaseURL  string
	IndexerBaseURL  string
	ProviderTimeout time.Duration
}

// ArtifactConfig holds artifact store settings
type ArtifactConfig struct {
	Backend string // "disk" | "redis"
	Root    string
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
	MetricsPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
			AuthToken:   getEnv("API_AUTH_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "mend"),
			User:        getEnv("POSTGRES_USER", "mend"),
			Password:    getEnv("POSTGRES_PASSWORD", "mend"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Pipeline: PipelineConfig{
			QueueType:        getEnv("QUEUE_TYPE", "redis"),
			StageStream:      getEnv("STAGE_STREAM", "mend.stages"),
			RepairStream:     getEnv("REPAIR_STREAM", "mend.repairs"),
			ConsumerGroup:    getEnv("CONSUMER_GROUP", "pipeline_workers"),
			MaxDeliveries:    getEnvInt("STAGE_MAX_DELIVERIES", 3),
			DispatchDelay:    getEnvDuration("DISPATCH_DELAY", 2*time.Second),
			WorkspaceRoot:    getEnv("WORKSPACE_ROOT", "/var/lib/mend/workspaces"),
			PolicyFile:       getEnv("POLICY_FILE", "policy.yaml"),
			ContextTimeout:   getEnvDuration("CONTEXT_TIMEOUT", 10*time.Minute),
			ImplementTimeout: getEnvDuration("IMPLEMENT_TIMEOUT", 10*time.Minute),
			ChecksTimeout:    getEnvDuration("CHECKS_TIMEOUT", 15*time.Minute),
			ReviewTimeout:    getEnvDuration("REVIEW_TIMEOUT", 5*time.Minute),
		},
		Providers: ProviderConfig{
			Planner:         getEnv("PROVIDER_PLANNER", "anthropic"),
			Implementer:     getEnv("PROVIDER_IMPLEMENTER", "anthropic"),
			Reviewer:        getEnv("PROVIDER_REVIEWER", "anthropic"),
			Tracker:         getEnv("PROVIDER_TRACKER", "http"),
			Vcs:             getEnv("PROVIDER_VCS", "http"),
			Runner:          getEnv("PROVIDER_RUNNER", "sandbox"),
			Indexer:         getEnv("PROVIDER_INDEXER", "http"),
			AnthropicKey:    getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
			TrackerBaseURL:  getEnv("TRACKER_BASE_URL", "http://localhost:9001"),
			VcsBaseURL:      getEnv("VCS_BASE_URL", "http://localhost:9002"),
			SandboxBaseURL:  getEnv("SANDBOX_BASE_URL", "http://localhost:9003"),
			IndexerBaseURL:  getEnv("INDEXER_BASE_URL", "http://localhost:9004"),
			ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 2*time.Minute),
		},
		Artifacts: ArtifactConfig{
			Backend: getEnv("ARTIFACT_BACKEND", "disk"),
			Root:    getEnv("ARTIFACT_ROOT", "/var/lib/mend/artifacts"),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", true),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   getEnvInt("METRICS_PORT", 9090),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Pipeline.MaxDeliveries < 1 {
		return fmt.Errorf("stage max deliveries must be at least 1")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
