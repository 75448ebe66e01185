// Package config loads and validates refresher configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Env       EnvConfig       `mapstructure:"env"`
	CDR       CDRConfig       `mapstructure:"cdr"`
	DB        DBConfig        `mapstructure:"db"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Lock      LockConfig      `mapstructure:"lock"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// EnvConfig names the deployment environment and tier this process runs in.
type EnvConfig struct {
	Name string `mapstructure:"name"`
	Tier string `mapstructure:"tier"`
	// Hosted is the environment name of the organization's hosted infrastructure,
	// where the CDR server is only reachable over TLS.
	Hosted string `mapstructure:"hosted"`
}

// CDRConfig locates the term-generation endpoint on the CDR server.
type CDRConfig struct {
	Host    string            `mapstructure:"host"`
	Hosts   map[string]string `mapstructure:"hosts"`
	CGIPath string            `mapstructure:"cgi_path"`
	Program string            `mapstructure:"program"`
}

// DBConfig controls access to the glossifier database.
type DBConfig struct {
	Target                string `mapstructure:"target"`
	DSN                   string `mapstructure:"dsn"`
	Host                  string `mapstructure:"host"`
	Port                  int    `mapstructure:"port"`
	User                  string `mapstructure:"user"`
	Password              string `mapstructure:"password"`
	Name                  string `mapstructure:"name"`
	SSLMode               string `mapstructure:"sslmode"`
	MaxConns              int32  `mapstructure:"max_conns"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// LoggingConfig selects the log file and zap flavour.
type LoggingConfig struct {
	File        string `mapstructure:"file"`
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Stderr      bool   `mapstructure:"stderr"`
}

// LockConfig toggles the advisory lock that serialises overlapping runs.
type LockConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ScheduleConfig holds the cron spec used by the schedule command.
type ScheduleConfig struct {
	Spec string `mapstructure:"spec"`
}

// AdminConfig configures the admin HTTP API served in scheduled mode.
type AdminConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`

	// TriggerRPS throttles POST /v1/refresh. Zero disables the limit.
	TriggerRPS   float64 `mapstructure:"trigger_rps"`
	TriggerBurst int     `mapstructure:"trigger_burst"`
}

// MetricsConfig points one-shot runs at a Prometheus Pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// ArchiveConfig selects where fetched payloads are archived.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// NotifyConfig identifies the Pub/Sub topic announcing refreshed terms.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	ProjectID   string `mapstructure:"project_id"`
}

// Archive providers.
const (
	ArchiveNone   = "none"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveMemory = "memory"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GLOSSIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env.name", "OCE")
	v.SetDefault("env.tier", "DEV")
	v.SetDefault("env.hosted", "CBIIT")
	v.SetDefault("cdr.host", "")
	v.SetDefault("cdr.cgi_path", "cgi-bin/cdr")
	v.SetDefault("cdr.program", "GetGlossifierTerms.py")
	v.SetDefault("db.target", "glossifier")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "glossifier")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 2)
	v.SetDefault("db.connect_timeout_seconds", 30)
	v.SetDefault("http.timeout_seconds", 300)
	v.SetDefault("http.user_agent", "glossifier-terms/1.0")
	v.SetDefault("logging.file", "/weblogs/glossifier/glossifier.log")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.stderr", true)
	v.SetDefault("lock.enabled", true)
	v.SetDefault("schedule.spec", "@hourly")
	v.SetDefault("admin.addr", ":8080")
	v.SetDefault("admin.api_key", "")
	v.SetDefault("admin.trigger_rps", 0.1)
	v.SetDefault("admin.trigger_burst", 1)
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "glossifier_terms")
	v.SetDefault("archive.provider", ArchiveNone)
	v.SetDefault("archive.prefix", "glossifier-terms")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic_id", "")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "glossifier-terms")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.project_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Env.Name) == "" {
		return fmt.Errorf("env.name must be set")
	}
	if strings.TrimSpace(c.Env.Tier) == "" {
		return fmt.Errorf("env.tier must be set")
	}
	if strings.TrimSpace(c.CDR.Program) == "" {
		return fmt.Errorf("cdr.program must be set")
	}
	if strings.TrimSpace(c.DB.Target) == "" {
		return fmt.Errorf("db.target must be set")
	}
	if c.DB.DSN == "" && c.DB.Port <= 0 {
		return fmt.Errorf("db.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds < 0 {
		return fmt.Errorf("http.timeout_seconds must be >= 0")
	}
	if strings.TrimSpace(c.Logging.File) == "" {
		return fmt.Errorf("logging.file must be set")
	}
	switch c.Archive.Provider {
	case "", ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if strings.TrimSpace(c.Archive.BaseDir) == "" {
			return fmt.Errorf("archive.base_dir must be set when archive.provider is local")
		}
	case ArchiveGCS:
		if strings.TrimSpace(c.Archive.GCSBucket) == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown archive.provider %q", c.Archive.Provider)
	}
	if c.Admin.TriggerRPS < 0 {
		return fmt.Errorf("admin.trigger_rps must be >= 0")
	}
	if (c.Notify.ProjectID == "") != (c.Notify.TopicID == "") {
		return fmt.Errorf("notify.project_id and notify.topic_id must be set together")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout into a duration. Zero disables it.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ConnectTimeout converts the database connect timeout into a duration.
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.DB.ConnectTimeoutSeconds) * time.Second
}
