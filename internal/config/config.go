// Package config loads process configuration from defaults, an optional
// YAML file named by CONFIG_FILE, and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BigKAA/svcpulse/probe"
)

// Dependency names.
const (
	DepDatabase = "database"
	DepCache    = "cache"
	DepBroker   = "broker"
	DepStream   = "stream"
)

// knownDependencies lists every name accepted in REQUIRED_DEPENDENCIES.
var knownDependencies = []string{DepDatabase, DepCache, DepBroker, DepStream}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// ConfigurationError reports an invalid or missing setting. Dependency is
// empty for process-wide keys.
type ConfigurationError struct {
	Key        string
	Dependency string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	if e.Dependency != "" {
		return fmt.Sprintf("dependency %q: %s: %s", e.Dependency, e.Key, e.Reason)
	}
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// DatabaseConfig holds the relational store settings.
type DatabaseConfig struct {
	Driver   string
	URL      string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
}

// CacheConfig holds the cache store settings.
type CacheConfig struct {
	URL      string
	Host     string
	Port     string
	Password string
	DB       int
}

// Config is the process configuration.
type Config struct {
	Port           string
	GRPCPort       string
	ServiceName    string
	ServiceVersion string
	LogLevel       slog.Level
	LogFormat      string

	Database     DatabaseConfig
	Cache        CacheConfig
	AMQPURL      string
	KafkaBrokers []string

	Required map[string]bool
	// DependencyErrors holds configuration errors of optional dependencies.
	// Such a dependency is registered but never connects.
	DependencyErrors map[string]*ConfigurationError

	CheckInterval          time.Duration
	CheckTimeout           time.Duration
	ReconnectInitialDelay  time.Duration
	StartupConnectAttempts int
	ShutdownGrace          time.Duration

	TaskWorkers   int
	TaskQueueSize int
	TaskResultTTL time.Duration

	ClientSetCapacity int

	ExternalCheckAddr    string
	ExternalCheckTimeout time.Duration

	HealthDegradedStatus int
}

// IsRequired reports whether name is a mandatory dependency.
func (c *Config) IsRequired(name string) bool { return c.Required[name] }

// DependencyError returns the configuration error recorded for name, or nil.
func (c *Config) DependencyError(name string) error {
	if e, ok := c.DependencyErrors[name]; ok {
		return e
	}
	return nil
}

// Monitored reports whether dependency name is configured.
// The database and cache are always monitored.
func (c *Config) Monitored(name string) bool {
	switch name {
	case DepDatabase, DepCache:
		return true
	case DepBroker:
		return c.AMQPURL != "" || c.DependencyErrors[DepBroker] != nil
	case DepStream:
		return len(c.KafkaBrokers) > 0 || c.DependencyErrors[DepStream] != nil
	}
	return false
}

// RedactedDatabaseURL returns DATABASE_URL with the password hidden.
func (c *Config) RedactedDatabaseURL() string { return redactURL(c.Database.URL) }

// Lookup returns the value of a key and whether it is set. os.LookupEnv
// satisfies it.
type Lookup func(key string) (string, bool)

// FromEnv loads configuration from the process environment.
func FromEnv() (*Config, error) {
	return Load(os.LookupEnv)
}

// Load builds a Config. Invalid process-wide settings and invalid settings
// of mandatory dependencies fail; invalid settings of optional dependencies
// are recorded in DependencyErrors.
func Load(lookup Lookup) (*Config, error) {
	src := source{env: lookup}
	if path := getEnv(lookup, "CONFIG_FILE", ""); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, &ConfigurationError{Key: "CONFIG_FILE", Reason: err.Error()}
		}
		src.file = file
	}

	cfg := &Config{
		Port:             src.get("PORT", "5000"),
		GRPCPort:         src.get("GRPC_PORT", ""),
		ServiceName:      src.get("SERVICE_NAME", "svcpulse"),
		ServiceVersion:   src.get("SERVICE_VERSION", "1.0.0"),
		LogFormat:        strings.ToLower(src.get("LOG_FORMAT", "json")),
		AMQPURL:          src.get("AMQP_URL", ""),
		DependencyErrors: make(map[string]*ConfigurationError),
	}

	var errs []error
	global := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	global(validatePortKey("PORT", cfg.Port))
	if cfg.GRPCPort != "" {
		global(validatePortKey("GRPC_PORT", cfg.GRPCPort))
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(src.get("LOG_LEVEL", "info"))); err != nil {
		global(&ConfigurationError{Key: "LOG_LEVEL", Reason: "expected debug, info, warn or error"})
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		global(&ConfigurationError{Key: "LOG_FORMAT", Reason: fmt.Sprintf("expected json or text, got %q", cfg.LogFormat)})
	}

	cfg.CheckInterval, errs = src.duration("CHECK_INTERVAL", "10s", errs)
	cfg.CheckTimeout, errs = src.duration("CHECK_TIMEOUT", "5s", errs)
	cfg.ReconnectInitialDelay, errs = src.duration("RECONNECT_INITIAL_DELAY", "500ms", errs)
	cfg.ShutdownGrace, errs = src.duration("SHUTDOWN_GRACE", "10s", errs)
	cfg.TaskResultTTL, errs = src.duration("TASK_RESULT_TTL", "300s", errs)
	cfg.ExternalCheckTimeout, errs = src.duration("EXTERNAL_CHECK_TIMEOUT", "3s", errs)
	cfg.StartupConnectAttempts, errs = src.positiveInt("STARTUP_CONNECT_ATTEMPTS", 3, errs)
	cfg.TaskWorkers, errs = src.positiveInt("TASK_WORKERS", 4, errs)
	cfg.TaskQueueSize, errs = src.positiveInt("TASK_QUEUE_SIZE", 64, errs)
	cfg.ClientSetCapacity, errs = src.positiveInt("CLIENT_SET_CAPACITY", 10000, errs)
	cfg.HealthDegradedStatus, errs = src.positiveInt("HEALTH_DEGRADED_STATUS", 200, errs)
	cfg.ExternalCheckAddr = src.get("EXTERNAL_CHECK_ADDR", "8.8.8.8:53")

	if cfg.CheckTimeout < probe.MinTimeout || cfg.CheckTimeout > probe.MaxTimeout {
		global(&ConfigurationError{Key: "CHECK_TIMEOUT", Reason: fmt.Sprintf("must be within [%s, %s]", probe.MinTimeout, probe.MaxTimeout)})
	}
	if cfg.CheckInterval > 0 && cfg.CheckTimeout >= cfg.CheckInterval {
		global(&ConfigurationError{Key: "CHECK_TIMEOUT", Reason: fmt.Sprintf("%s must be less than CHECK_INTERVAL %s", cfg.CheckTimeout, cfg.CheckInterval)})
	}
	if s := cfg.HealthDegradedStatus; s < 200 || s > 599 {
		global(&ConfigurationError{Key: "HEALTH_DEGRADED_STATUS", Reason: fmt.Sprintf("%d is not an HTTP status", s)})
	}
	if _, _, err := extractHostPort(cfg.ExternalCheckAddr, ""); err != nil {
		global(&ConfigurationError{Key: "EXTERNAL_CHECK_ADDR", Reason: err.Error()})
	}

	required, err := parseRequired(src.get("REQUIRED_DEPENDENCIES", ""))
	global(err)
	cfg.Required = required

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	deps := []struct {
		name  string
		parse func(*Config, source) *ConfigurationError
	}{
		{DepDatabase, parseDatabase},
		{DepCache, parseCache},
		{DepBroker, parseBroker},
		{DepStream, parseStream},
	}
	for _, d := range deps {
		cerr := d.parse(cfg, src)
		if cerr == nil {
			continue
		}
		cerr.Dependency = d.name
		if cfg.IsRequired(d.name) {
			errs = append(errs, cerr)
			continue
		}
		cfg.DependencyErrors[d.name] = cerr
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func parseDatabase(cfg *Config, src source) *ConfigurationError {
	db := &cfg.Database
	db.Driver = strings.ToLower(src.get("DATABASE_DRIVER", DriverPostgres))
	defaultPort := "5432"
	switch db.Driver {
	case DriverPostgres:
	case DriverMySQL:
		defaultPort = "3306"
	default:
		return &ConfigurationError{Key: "DATABASE_DRIVER", Reason: fmt.Sprintf("expected postgres or mysql, got %q", db.Driver)}
	}

	db.URL = src.get("DATABASE_URL", "")
	db.Host = src.get("POSTGRES_HOST", "localhost")
	db.Port = src.get("POSTGRES_PORT", defaultPort)
	db.Name = src.get("POSTGRES_DB", "appdb")
	db.User = src.get("POSTGRES_USER", "user")
	db.Password = src.get("POSTGRES_PASSWORD", "password")

	if db.URL != "" {
		schemes := []string{"postgres", "postgresql"}
		if db.Driver == DriverMySQL {
			schemes = []string{"mysql"}
		}
		if _, err := parseURL(db.URL, schemes...); err != nil {
			return &ConfigurationError{Key: "DATABASE_URL", Reason: err.Error()}
		}
		return nil
	}
	if db.Host == "" {
		return &ConfigurationError{Key: "POSTGRES_HOST", Reason: "empty host"}
	}
	if err := validatePort(db.Port); err != nil {
		return &ConfigurationError{Key: "POSTGRES_PORT", Reason: err.Error()}
	}
	return nil
}

func parseCache(cfg *Config, src source) *ConfigurationError {
	c := &cfg.Cache
	c.URL = src.get("REDIS_URL", "")
	c.Host = src.get("REDIS_HOST", "localhost")
	c.Port = src.get("REDIS_PORT", "6379")
	c.Password = src.get("REDIS_PASSWORD", "")

	if c.URL != "" {
		if _, err := parseURL(c.URL, "redis", "rediss"); err != nil {
			return &ConfigurationError{Key: "REDIS_URL", Reason: err.Error()}
		}
		return nil
	}
	if c.Host == "" {
		return &ConfigurationError{Key: "REDIS_HOST", Reason: "empty host"}
	}
	if err := validatePort(c.Port); err != nil {
		return &ConfigurationError{Key: "REDIS_PORT", Reason: err.Error()}
	}
	raw := src.get("REDIS_DB", "0")
	db, err := strconv.Atoi(raw)
	if err != nil || db < 0 {
		return &ConfigurationError{Key: "REDIS_DB", Reason: fmt.Sprintf("expected a non-negative number, got %q", raw)}
	}
	c.DB = db
	return nil
}

func parseBroker(cfg *Config, _ source) *ConfigurationError {
	if cfg.AMQPURL == "" {
		if cfg.IsRequired(DepBroker) {
			return &ConfigurationError{Key: "AMQP_URL", Reason: "required but not set"}
		}
		return nil
	}
	if _, err := parseURL(cfg.AMQPURL, "amqp", "amqps"); err != nil {
		return &ConfigurationError{Key: "AMQP_URL", Reason: err.Error()}
	}
	return nil
}

func parseStream(cfg *Config, src source) *ConfigurationError {
	raw := src.get("KAFKA_BROKERS", "")
	if raw == "" {
		if cfg.IsRequired(DepStream) {
			return &ConfigurationError{Key: "KAFKA_BROKERS", Reason: "required but not set"}
		}
		return nil
	}

	var (
		eps []Endpoint
		err error
	)
	if strings.Contains(raw, "://") {
		eps, err = parseURL(raw, "kafka")
	} else {
		eps, err = parseHostList(raw, defaultPorts["kafka"])
	}
	if err != nil {
		return &ConfigurationError{Key: "KAFKA_BROKERS", Reason: err.Error()}
	}
	for _, ep := range eps {
		cfg.KafkaBrokers = append(cfg.KafkaBrokers, ep.Addr())
	}
	return nil
}

func parseRequired(raw string) (map[string]bool, error) {
	required := make(map[string]bool)
	var unknown []string
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		if !isKnownDependency(name) {
			unknown = append(unknown, name)
			continue
		}
		required[name] = true
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &ConfigurationError{
			Key:    "REQUIRED_DEPENDENCIES",
			Reason: fmt.Sprintf("unknown dependencies %s, expected any of %s", strings.Join(unknown, ", "), strings.Join(knownDependencies, ", ")),
		}
	}
	return required, nil
}

func isKnownDependency(name string) bool {
	for _, k := range knownDependencies {
		if k == name {
			return true
		}
	}
	return false
}

func validatePortKey(key, port string) error {
	if err := validatePort(port); err != nil {
		return &ConfigurationError{Key: key, Reason: err.Error()}
	}
	return nil
}

// source resolves a key from the environment first, then the file.
type source struct {
	env  Lookup
	file map[string]string
}

func (s source) get(key, fallback string) string {
	if v := getEnv(s.env, key, ""); v != "" {
		return v
	}
	if v, ok := s.file[key]; ok && v != "" {
		return v
	}
	return fallback
}

func (s source) duration(key, fallback string, errs []error) (time.Duration, []error) {
	raw := s.get(key, fallback)
	d, err := parseDuration(raw)
	if err == nil && d <= 0 {
		err = fmt.Errorf("must be positive, got %q", raw)
	}
	if err != nil {
		return 0, append(errs, &ConfigurationError{Key: key, Reason: err.Error()})
	}
	return d, errs
}

func (s source) positiveInt(key string, fallback int, errs []error) (int, []error) {
	raw := s.get(key, strconv.Itoa(fallback))
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, append(errs, &ConfigurationError{Key: key, Reason: fmt.Sprintf("expected a positive number, got %q", raw)})
	}
	return n, errs
}

func getEnv(lookup Lookup, key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

// parseDuration accepts a Go duration ("10s", "1m") or a number of
// seconds ("10", "15.5").
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("expected seconds or a Go duration, got %q", s)
	}
	return time.Duration(sec * float64(time.Second)), nil
}

// readFile reads a flat YAML mapping of configuration keys. Keys are
// matched case-insensitively against the environment names.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(v))
			for _, p := range v {
				parts = append(parts, fmt.Sprint(p))
			}
			out[strings.ToUpper(k)] = strings.Join(parts, ",")
		case map[string]any:
			return nil, fmt.Errorf("parse %s: key %q: nested mappings are not supported", path, k)
		default:
			out[strings.ToUpper(k)] = fmt.Sprint(v)
		}
	}
	return out, nil
}
