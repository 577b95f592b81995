package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the top-level configuration structure, loaded from a JSON
// file at startup.
type Config struct {
	Service   ServiceConfig   `json:"service"`
	TSDB      TSDBConfig      `json:"tsdb"`
	Registry  RegistryConfig  `json:"registry"`
	Ingestion IngestionConfig `json:"ingestion"`
	API       APIConfig       `json:"api"`
	Alerts    AlertsConfig    `json:"alerts"`
}

// ServiceConfig identifies the service instance and the project whose
// monitoring data it owns.
type ServiceConfig struct {
	Name     string `json:"name"`
	Project  string `json:"project"`
	LogLevel string `json:"logLevel"`
}

// TSDBConfig selects and configures the time-series storage engine.
type TSDBConfig struct {
	DataPath string        `json:"dataPath"`
	Engine   *EngineConfig `json:"engine"`
}

// EngineConfig carries the engine type plus the engine-specific
// settings, unmarshaled from the same JSON object based on type.
type EngineConfig struct {
	Type string `json:"type"`

	BadgerConfig     *BadgerConfig     `json:"-"`
	FrostDBConfig    *FrostDBConfig    `json:"-"`
	PrometheusConfig *PrometheusConfig `json:"-"`
}

// UnmarshalJSON dispatches the engine-specific fields to the matching
// config struct.
func (ec *EngineConfig) UnmarshalJSON(data []byte) error {
	var et struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &et); err != nil {
		return err
	}
	ec.Type = et.Type

	switch ec.Type {
	case "badger":
		var conf BadgerConfig
		if err := json.Unmarshal(data, &conf); err != nil {
			return err
		}
		ec.BadgerConfig = &conf
	case "frostdb":
		var conf FrostDBConfig
		if err := json.Unmarshal(data, &conf); err != nil {
			return err
		}
		ec.FrostDBConfig = &conf
	case "prometheus":
		var conf PrometheusConfig
		if err := json.Unmarshal(data, &conf); err != nil {
			return err
		}
		ec.PrometheusConfig = &conf
	}
	return nil
}

// MarshalJSON flattens the engine-specific fields back next to the
// type field.
func (ec *EngineConfig) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{"type": ec.Type}

	var specific interface{}
	switch ec.Type {
	case "badger":
		specific = ec.BadgerConfig
	case "frostdb":
		specific = ec.FrostDBConfig
	case "prometheus":
		specific = ec.PrometheusConfig
	}
	if specific != nil {
		raw, err := json.Marshal(specific)
		if err != nil {
			return nil, err
		}
		var fields map[string]interface{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		for k, v := range fields {
			if k != "type" {
				m[k] = v
			}
		}
	}

	return json.Marshal(m)
}

// BadgerConfig configures the key-value engine.
type BadgerConfig struct {
	MaxFileSizeMB int    `json:"maxFileSizeMB,omitempty"`
	GCInterval    string `json:"gcInterval,omitempty"`
}

// FrostDBConfig configures the columnar engine.
type FrostDBConfig struct {
	BatchSize      int    `json:"batchSize,omitempty"`
	FlushInterval  string `json:"flushInterval,omitempty"`
	ActiveMemoryMB int    `json:"activeMemoryMB,omitempty"`
	WALEnabled     bool   `json:"walEnabled,omitempty"`
}

// PrometheusConfig configures the Prometheus TSDB engine.
type PrometheusConfig struct {
	RetentionPeriod string `json:"retentionPeriod,omitempty"`
	BlockSize       string `json:"blockSize,omitempty"`
}

// RegistryConfig points at the relational store backing the
// marketplace sources. Driver is "postgres" (DSN is a postgres:// URL)
// or "sqlite" (DSN is a file path).
type RegistryConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// IngestionConfig configures the serving-event ingestion server.
type IngestionConfig struct {
	HTTPEndpoint string `json:"httpEndpoint"`
}

// APIConfig configures the platform API server and the frontend
// configuration snapshot it serves.
type APIConfig struct {
	Port int `json:"port"`

	FeatureFlags FeatureFlagsConfig `json:"featureFlags"`

	JobsDashboardURL       string            `json:"jobsDashboardURL,omitempty"`
	AbortableFunctionKinds []string          `json:"abortableFunctionKinds,omitempty"`
	DefaultArtifactPath    string            `json:"defaultArtifactPath"`
	DefaultImageByKind     map[string]string `json:"defaultImageByKind,omitempty"`
	TargetImageTemplate    string            `json:"targetImageTemplate,omitempty"`
	ImagePrefixTemplate    string            `json:"imagePrefixTemplate,omitempty"`
	EnforcedPrefixRegistries []string        `json:"enforcedPrefixRegistries,omitempty"`
	DefaultPriorityClassName string          `json:"defaultPriorityClassName,omitempty"`
	ValidPriorityClassNames  []string        `json:"validPriorityClassNames,omitempty"`
	AutoMountType            string          `json:"autoMountType,omitempty"`
	AutoMountParams          map[string]string `json:"autoMountParams,omitempty"`

	DefaultPodResources ResourcesConfig `json:"defaultPodResources"`
}

// FeatureFlagsConfig holds the raw feature flag values; the api
// package validates them against the closed enumerations.
type FeatureFlagsConfig struct {
	ProjectMembership string `json:"projectMembership"`
	Authentication    string `json:"authentication"`
}

// ResourcesConfig is a requests/limits pair of resource quantities.
type ResourcesConfig struct {
	Requests ResourceSpecConfig `json:"requests"`
	Limits   ResourceSpecConfig `json:"limits"`
}

// ResourceSpecConfig holds optional string-encoded quantities.
type ResourceSpecConfig struct {
	CPU    string `json:"cpu,omitempty"`
	Memory string `json:"memory,omitempty"`
	GPU    string `json:"gpu,omitempty"`
}

// AlertsConfig configures alert evaluation and email delivery.
type AlertsConfig struct {
	Email EmailConfig `json:"email"`
	Rules []AlertRule `json:"rules"`
}

// EmailConfig is the SMTP delivery configuration for alerts.
type EmailConfig struct {
	Enabled     bool     `json:"enabled"`
	SMTPServer  string   `json:"smtpServer"`
	SMTPPort    int      `json:"smtpPort"`
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	FromAddress string   `json:"fromAddress"`
	ToAddresses []string `json:"toAddresses"`
}

// AlertRule evaluates one table against a threshold on an interval.
type AlertRule struct {
	Name      string  `json:"name"`
	Table     string  `json:"table"`
	Filter    string  `json:"filter,omitempty"`
	Window    string  `json:"window"`
	Threshold float64 `json:"threshold"`
	Condition string  `json:"condition"` // "above" or "below"
	Severity  string  `json:"severity"`
}

// LoadConfig loads, parses and validates the configuration file.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func validateConfig(config *Config) error {
	if config.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if config.Service.Project == "" {
		return fmt.Errorf("service project is required")
	}

	if config.TSDB.DataPath == "" {
		return fmt.Errorf("tsdb data path is required")
	}
	if config.TSDB.Engine == nil {
		return fmt.Errorf("tsdb engine is required")
	}
	switch config.TSDB.Engine.Type {
	case "badger", "frostdb", "prometheus":
	default:
		return fmt.Errorf("unknown tsdb engine type: %q", config.TSDB.Engine.Type)
	}
	if fc := config.TSDB.Engine.FrostDBConfig; fc != nil && fc.FlushInterval != "" {
		if _, err := ParseDuration(fc.FlushInterval); err != nil {
			return fmt.Errorf("invalid frostdb flush interval: %w", err)
		}
	}
	if pc := config.TSDB.Engine.PrometheusConfig; pc != nil && pc.RetentionPeriod != "" {
		if _, err := ParseDuration(pc.RetentionPeriod); err != nil {
			return fmt.Errorf("invalid prometheus retention period: %w", err)
		}
	}

	switch config.Registry.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown registry driver: %q", config.Registry.Driver)
	}
	if config.Registry.Driver != "" && config.Registry.DSN == "" {
		return fmt.Errorf("registry dsn is required when a driver is set")
	}

	if config.API.Port <= 0 || config.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d", config.API.Port)
	}

	if config.Alerts.Email.Enabled {
		if config.Alerts.Email.SMTPServer == "" {
			return fmt.Errorf("SMTP server is required when email alerts are enabled")
		}
		if config.Alerts.Email.SMTPPort <= 0 || config.Alerts.Email.SMTPPort > 65535 {
			return fmt.Errorf("invalid SMTP port: %d", config.Alerts.Email.SMTPPort)
		}
		if config.Alerts.Email.FromAddress == "" {
			return fmt.Errorf("from address is required when email alerts are enabled")
		}
		if len(config.Alerts.Email.ToAddresses) == 0 {
			return fmt.Errorf("at least one recipient address is required when email alerts are enabled")
		}
	}
	for _, rule := range config.Alerts.Rules {
		if rule.Window != "" {
			if _, err := ParseDuration(rule.Window); err != nil {
				return fmt.Errorf("invalid window for rule %s: %w", rule.Name, err)
			}
		}
		switch rule.Condition {
		case "above", "below":
		default:
			return fmt.Errorf("unknown condition %q for rule %s", rule.Condition, rule.Name)
		}
	}

	return nil
}

// ParseDuration parses a duration string, additionally accepting a
// day suffix (e.g. "30d", "2h").
func ParseDuration(s string) (time.Duration, error) {
	if len(s) > 0 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err != nil {
			return 0, err
		}
		return time.Hour * 24 * time.Duration(days), nil
	}
	return time.ParseDuration(s)
}
