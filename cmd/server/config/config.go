package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Bus drivers accepted by BUS_DRIVER.
const (
	BusLocal = "local"
	BusRedis = "redis"
	BusKafka = "kafka"
)

// RedisConfig holds Redis connection and stream settings.
type RedisConfig struct {
	URL                string
	Group              string
	Consumer           string
	DialTimeout        *time.Duration
	ReadTimeout        *time.Duration
	WriteTimeout       *time.Duration
	PoolSize           *int
	MinIdleConns       *int
	MaxRetries         *int
	HealthcheckTimeout time.Duration
	RequestTTL         time.Duration
	StreamMaxLen       int64
	EnableOTel         bool
	TLSConfig          *tls.Config
}

// KafkaConfig holds broker and consumer group settings.
type KafkaConfig struct {
	Brokers []string
	GroupID string
}

// BusConfig selects the transport carrying saga messages.
type BusConfig struct {
	Driver string
	// LocalBudget seeds every org's balance in the local simulator.
	LocalBudget decimal.Decimal
}

// HTTPConfig holds the REST listener address.
type HTTPConfig struct {
	Addr string
}

// GRPCConfig holds the gRPC listener and ingress rate limiting settings.
type GRPCConfig struct {
	Addr              string
	RateLimitInterval time.Duration
	RateLimitBurst    int
}

// ObservabilityConfig holds the optional standalone metrics listener. An
// empty Addr serves /metrics on the HTTP listener only.
type ObservabilityConfig struct {
	Addr     string
	LogLevel string
}

// WatchdogConfig enables the stalled-saga sweep when Schedule is set.
type WatchdogConfig struct {
	Schedule   string
	StallAfter time.Duration
	BatchSize  int
}

// Enabled reports whether a schedule was configured.
func (c WatchdogConfig) Enabled() bool {
	return c.Schedule != ""
}

// LoadBus reads BUS_DRIVER, defaulting to the in-process bus.
func LoadBus() (BusConfig, error) {
	driver := strings.ToLower(stringOr("BUS_DRIVER", BusLocal))
	switch driver {
	case BusLocal, BusRedis, BusKafka:
	default:
		return BusConfig{}, fmt.Errorf("BUS_DRIVER: unsupported driver %q", driver)
	}
	cfg := BusConfig{Driver: driver, LocalBudget: decimal.NewFromInt(100_000_000)}
	if raw := strings.TrimSpace(os.Getenv("LOCAL_BUS_BUDGET")); raw != "" {
		budget, err := decimal.NewFromString(raw)
		if err != nil {
			return cfg, fmt.Errorf("LOCAL_BUS_BUDGET: %w", err)
		}
		cfg.LocalBudget = budget
	}
	return cfg, nil
}

// LoadRedis reads Redis config from env.
func LoadRedis() (RedisConfig, error) {
	cfg := RedisConfig{
		Group:    stringOr("REDIS_GROUP", "transfer-saga"),
		Consumer: stringOr("REDIS_CONSUMER", hostnameOr("transfer-saga-1")),
	}

	url, err := requiredString("REDIS_URL")
	if err != nil {
		return cfg, err
	}
	cfg.URL = url

	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}

	if cfg.HealthcheckTimeout, err = requiredDuration("REDIS_HEALTHCHECK_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.RequestTTL, err = durationOr("REDIS_REQUEST_TTL", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.StreamMaxLen, err = requiredInt64("REDIS_STREAM_MAXLEN"); err != nil {
		return cfg, err
	}

	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}

	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadKafka reads KAFKA_BROKERS (comma separated) and KAFKA_GROUP_ID.
func LoadKafka() (KafkaConfig, error) {
	raw, err := requiredString("KAFKA_BROKERS")
	if err != nil {
		return KafkaConfig{}, err
	}
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return KafkaConfig{}, errors.New("KAFKA_BROKERS is required")
	}
	return KafkaConfig{
		Brokers: brokers,
		GroupID: stringOr("KAFKA_GROUP_ID", "transfer-saga"),
	}, nil
}

// LoadHTTP reads the REST listener address.
func LoadHTTP() (HTTPConfig, error) {
	return HTTPConfig{Addr: stringOr("HTTP_ADDR", ":8080")}, nil
}

// LoadGRPC reads the gRPC listener and optional ingress rate limit.
func LoadGRPC() (GRPCConfig, error) {
	cfg := GRPCConfig{Addr: stringOr("GRPC_ADDR", ":50051")}
	interval, err := optionalDuration("GRPC_RATE_LIMIT_INTERVAL")
	if err != nil {
		return cfg, err
	}
	burst, err := optionalInt("GRPC_RATE_LIMIT_BURST")
	if err != nil {
		return cfg, err
	}
	if (interval == nil) != (burst == nil) {
		return cfg, errors.New("GRPC_RATE_LIMIT_INTERVAL and GRPC_RATE_LIMIT_BURST must be set together")
	}
	if interval != nil {
		cfg.RateLimitInterval = *interval
		cfg.RateLimitBurst = *burst
	}
	return cfg, nil
}

// LoadObservability reads the metrics listener address and log level.
func LoadObservability() (ObservabilityConfig, error) {
	return ObservabilityConfig{
		Addr:     strings.TrimSpace(os.Getenv("OBS_ADDR")),
		LogLevel: stringOr("LOG_LEVEL", "info"),
	}, nil
}

// LoadWatchdog reads the opt-in stalled-saga sweep settings.
func LoadWatchdog() (WatchdogConfig, error) {
	cfg := WatchdogConfig{Schedule: strings.TrimSpace(os.Getenv("WATCHDOG_SCHEDULE"))}
	if !cfg.Enabled() {
		return cfg, nil
	}
	var err error
	if cfg.StallAfter, err = requiredDuration("WATCHDOG_STALL_AFTER"); err != nil {
		return cfg, err
	}
	if cfg.StallAfter == 0 {
		return cfg, errors.New("WATCHDOG_STALL_AFTER must be > 0")
	}
	batch, err := optionalInt("WATCHDOG_BATCH_SIZE")
	if err != nil {
		return cfg, err
	}
	cfg.BatchSize = 100
	if batch != nil && *batch > 0 {
		cfg.BatchSize = *batch
	}
	return cfg, nil
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}

func stringOr(name, fallback string) string {
	if raw := strings.TrimSpace(os.Getenv(name)); raw != "" {
		return raw
	}
	return fallback
}

func durationOr(name string, fallback time.Duration) (time.Duration, error) {
	val, err := optionalDuration(name)
	if err != nil || val == nil {
		return fallback, err
	}
	return *val, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}

func requiredString(name string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return raw, nil
}

func requiredDuration(name string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func requiredInt64(name string) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}
