package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	AuthMode       string   `mapstructure:"AUTH_MODE"`
	StoreDriver    string   `mapstructure:"STORE_DRIVER"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	SQLitePath     string   `mapstructure:"SQLITE_PATH"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir  string   `mapstructure:"MIGRATIONS_DIR"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	TLSEnabled     bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile    string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile     string   `mapstructure:"TLS_KEY_FILE"`

	DBStatementTimeout time.Duration `mapstructure:"DB_STATEMENT_TIMEOUT"`

	MessagePrefix             string   `mapstructure:"MESSAGE_PREFIX"`
	ParserMode                string   `mapstructure:"PARSER_MODE"`
	MaxDigits                 int      `mapstructure:"MAX_DIGITS"`
	NullTokens                []string `mapstructure:"NULL_TOKENS"`
	TrueTokens                []string `mapstructure:"TRUE_TOKENS"`
	FalseTokens               []string `mapstructure:"FALSE_TOKENS"`
	RequireRegisteredReporter bool     `mapstructure:"REQUIRE_REGISTERED_REPORTER"`

	RegistryURL      string        `mapstructure:"REGISTRY_URL"`
	RegistrySource   string        `mapstructure:"REGISTRY_SOURCE"`
	RegistryTimeout  time.Duration `mapstructure:"REGISTRY_TIMEOUT"`
	RegistrySeedFile string        `mapstructure:"REGISTRY_SEED_FILE"`
	GrowthTablesDir  string        `mapstructure:"GROWTH_TABLES_DIR"`

	MQTTBroker       string `mapstructure:"MQTT_BROKER"`
	MQTTClientID     string `mapstructure:"MQTT_CLIENT_ID"`
	MQTTUsername     string `mapstructure:"MQTT_USERNAME"`
	MQTTPassword     string `mapstructure:"MQTT_PASSWORD"`
	MQTTInboundTopic string `mapstructure:"MQTT_INBOUND_TOPIC"`
	MQTTReplyTopic   string `mapstructure:"MQTT_REPLY_TOPIC"`
	MLLPAddr         string `mapstructure:"MLLP_ADDR"`

	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "STORE_DRIVER", "DATABASE_URL", "SQLITE_PATH",
	"DB_MAX_CONNS", "DB_MIN_CONNS", "DB_STATEMENT_TIMEOUT", "MIGRATIONS_DIR",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
	"MESSAGE_PREFIX", "PARSER_MODE", "MAX_DIGITS", "NULL_TOKENS", "TRUE_TOKENS", "FALSE_TOKENS",
	"REQUIRE_REGISTERED_REPORTER",
	"REGISTRY_URL", "REGISTRY_SOURCE", "REGISTRY_TIMEOUT", "REGISTRY_SEED_FILE", "GROWTH_TABLES_DIR",
	"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_INBOUND_TOPIC", "MQTT_REPLY_TOPIC",
	"MLLP_ADDR", "METRICS_ENABLED",
}

// listKeys are comma separated in the environment.
var listKeys = []string{"CORS_ORIGINS", "NULL_TOKENS", "TRUE_TOKENS", "FALSE_TOKENS"}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // inferred from ENV
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("SQLITE_PATH", "nutrition.db")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_STATEMENT_TIMEOUT", "30s")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("MESSAGE_PREFIX", "nutrition")
	v.SetDefault("PARSER_MODE", "tagged")
	v.SetDefault("MAX_DIGITS", 4)
	v.SetDefault("REQUIRE_REGISTERED_REPORTER", false)
	v.SetDefault("REGISTRY_SOURCE", "nutrition")
	v.SetDefault("REGISTRY_TIMEOUT", "10s")
	v.SetDefault("MQTT_CLIENT_ID", "nutrition-server")
	v.SetDefault("MQTT_INBOUND_TOPIC", "nutrition/messages/in")
	v.SetDefault("MQTT_REPLY_TOPIC", "nutrition/messages/out")
	v.SetDefault("METRICS_ENABLED", true)

	for _, k := range keys {
		v.BindEnv(k)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	for _, k := range listKeys {
		setList(cfg, k, splitList(v.GetString(k)))
	}

	if cfg.StoreDriver == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setList(cfg *Config, key string, vals []string) {
	switch key {
	case "CORS_ORIGINS":
		cfg.CORSOrigins = vals
	case "NULL_TOKENS":
		cfg.NullTokens = vals
	case "TRUE_TOKENS":
		cfg.TrueTokens = vals
	case "FALSE_TOKENS":
		cfg.FalseTokens = vals
	}
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development runs
// without authentication and every other environment requires bearer
// tokens.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// Validate checks the combinations Load cannot.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("STORE_DRIVER must be \"postgres\" or \"sqlite\", got %q", c.StoreDriver)
	}
	if c.StoreDriver == "sqlite" && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is sqlite")
	}

	switch c.ParserMode {
	case "tagged", "positional":
	default:
		return fmt.Errorf("PARSER_MODE must be \"tagged\" or \"positional\", got %q", c.ParserMode)
	}
	if c.MaxDigits < 2 {
		return fmt.Errorf("MAX_DIGITS must be at least 2, got %d", c.MaxDigits)
	}

	if c.RegistryURL != "" && c.RegistrySeedFile != "" {
		return fmt.Errorf("set only one of REGISTRY_URL and REGISTRY_SEED_FILE")
	}
	if c.RegistryURL == "" && c.RegistrySeedFile == "" && !c.IsDev() {
		return fmt.Errorf("REGISTRY_URL or REGISTRY_SEED_FILE is required outside development")
	}
	if c.DBStatementTimeout < 0 {
		return fmt.Errorf("DB_STATEMENT_TIMEOUT must not be negative")
	}
	if c.RegistryTimeout <= 0 {
		return fmt.Errorf("REGISTRY_TIMEOUT must be positive")
	}

	mode := c.ResolvedAuthMode()
	switch mode {
	case "development":
	case "external":
		if c.AuthIssuer == "" && c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when AUTH_MODE is \"external\" (current ENV=%q)", c.Env)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", mode)
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}
	return nil
}
