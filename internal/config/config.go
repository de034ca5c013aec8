// Package config loads the router configuration from a YAML file, a .env
// file and SEMAROUTE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/semantrix/semaroute-router/internal/observability"
	"github.com/semantrix/semaroute-router/internal/providers"
	"github.com/semantrix/semaroute-router/internal/router"
)

// EnvPrefix prefixes every environment override, e.g.
// SEMAROUTE_ROUTER_MAX_RETRIES.
const EnvPrefix = "SEMAROUTE"

// Config is the complete service configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`

	Router router.Config `mapstructure:"router"`

	Providers map[string]providers.ProviderConfig `mapstructure:"providers" validate:"dive"`

	HealthCheck HealthCheckConfig `mapstructure:"health_check"`

	Budget BudgetConfig `mapstructure:"budget"`

	Billing BillingConfig `mapstructure:"billing"`

	Observability struct {
		Logging observability.LoggerConfig  `mapstructure:"logging"`
		Metrics observability.MetricsConfig `mapstructure:"metrics"`
		Tracing observability.TracingConfig `mapstructure:"tracing"`
	} `mapstructure:"observability"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// HealthCheckConfig schedules the active provider probes. An interval of
// zero disables them.
type HealthCheckConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// BudgetConfig configures the optional shared spend ledger.
type BudgetConfig struct {
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db" validate:"gte=0"`
		Key      string `mapstructure:"key"`
	} `mapstructure:"redis"`
}

// BillingConfig configures the optional usage log.
type BillingConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
}

// apiKeyEnv lists the conventional key variables per provider type.
var apiKeyEnv = map[string][]string{
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"grok":      {"GROK_API_KEY", "XAI_API_KEY"},
	"xai":       {"XAI_API_KEY", "GROK_API_KEY"},
}

var validate = validator.New()

// Load reads configFile (optional) on top of the defaults. Each env file is
// loaded first when present; ".env" is used when none is given. Variables
// already set in the environment win over env files.
func Load(configFile string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for name, pc := range cfg.Providers {
		if pc.Name == "" {
			pc.Name = name
		}
		if pc.Type == "" {
			pc.Type = name
		}
		if pc.APIKey == "" {
			pc.APIKey = lookupAPIKey(pc.Type)
		}
		cfg.Providers[name] = pc
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the decoded configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if d := c.Router.DefaultProvider; d != "" && !c.hasProvider(d) {
		return fmt.Errorf("invalid configuration: default provider %q is not configured", d)
	}
	return nil
}

func (c *Config) hasProvider(name string) bool {
	for key, pc := range c.Providers {
		if key == name || pc.Name == name {
			return true
		}
	}
	return false
}

// EnabledProviders returns the enabled provider configurations sorted by
// name, which is also their registration order.
func (c *Config) EnabledProviders() []providers.ProviderConfig {
	names := make([]string, 0, len(c.Providers))
	for name, pc := range c.Providers {
		if pc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]providers.ProviderConfig, 0, len(names))
	for _, name := range names {
		out = append(out, c.Providers[name])
	}
	return out
}

func lookupAPIKey(providerType string) string {
	for _, env := range apiKeyEnv[strings.ToLower(providerType)] {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return ""
}

// setDefaults sets sensible default values for configuration.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 150*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Router defaults
	rc := router.DefaultConfig()
	v.SetDefault("router.enable_fallback", rc.EnableFallback)
	v.SetDefault("router.max_retries", rc.MaxRetries)
	v.SetDefault("router.retry_delay", rc.RetryDelay)
	v.SetDefault("router.cost_limit", rc.CostLimit)
	v.SetDefault("router.default_provider", "")
	v.SetDefault("router.request_timeout", 2*time.Minute)
	v.SetDefault("router.routing_policy", rc.RoutingPolicy)
	v.SetDefault("router.failover_order", []string{})
	v.SetDefault("router.error_threshold", rc.ErrorThreshold)

	// Health check defaults
	v.SetDefault("health_check.interval", time.Minute)
	v.SetDefault("health_check.timeout", 15*time.Second)

	// Budget and billing defaults
	v.SetDefault("budget.redis.addr", "")
	v.SetDefault("budget.redis.password", "")
	v.SetDefault("budget.redis.db", 0)
	v.SetDefault("budget.redis.key", "semaroute:spend:total")
	v.SetDefault("billing.database_url", "")

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.output_path", "")
	v.SetDefault("observability.logging.error_path", "")
	v.SetDefault("observability.logging.development", false)

	v.SetDefault("observability.metrics.enabled", false)
	v.SetDefault("observability.metrics.port", 9090)
	v.SetDefault("observability.metrics.path", "/metrics")

	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "semaroute")
	v.SetDefault("observability.tracing.environment", "development")
	v.SetDefault("observability.tracing.exporter", "stdout")

	// Provider defaults
	for name, timeout := range map[string]time.Duration{
		"openai":    30 * time.Second,
		"anthropic": 30 * time.Second,
		"grok":      120 * time.Second,
	} {
		v.SetDefault("providers."+name+".type", name)
		v.SetDefault("providers."+name+".enabled", true)
		v.SetDefault("providers."+name+".timeout", timeout)
		v.SetDefault("providers."+name+".api_key", "")
		v.SetDefault("providers."+name+".base_url", "")
		v.SetDefault("providers."+name+".default_model", "")
	}
}
