package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadBus_DefaultsToLocal(t *testing.T) {
	t.Setenv("BUS_DRIVER", "")
	t.Setenv("LOCAL_BUS_BUDGET", "")

	cfg, err := LoadBus()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Driver != BusLocal {
		t.Fatalf("unexpected driver: %s", cfg.Driver)
	}
	if !cfg.LocalBudget.Equal(decimal.NewFromInt(100_000_000)) {
		t.Fatalf("unexpected budget: %s", cfg.LocalBudget)
	}
}

func TestLoadBus_Validation(t *testing.T) {
	t.Setenv("BUS_DRIVER", "Kafka")
	cfg, err := LoadBus()
	if err != nil || cfg.Driver != BusKafka {
		t.Fatalf("expected kafka driver, got %+v err %v", cfg, err)
	}

	t.Setenv("BUS_DRIVER", "nats")
	if _, err := LoadBus(); err == nil {
		t.Fatalf("expected unsupported driver error")
	}

	t.Setenv("BUS_DRIVER", "local")
	t.Setenv("LOCAL_BUS_BUDGET", "lots")
	if _, err := LoadBus(); err == nil {
		t.Fatalf("expected budget parse error")
	}
}

func TestLoadGRPC(t *testing.T) {
	t.Setenv("GRPC_ADDR", ":6000")
	t.Setenv("GRPC_RATE_LIMIT_INTERVAL", "5ms")
	t.Setenv("GRPC_RATE_LIMIT_BURST", "10")

	cfg, err := LoadGRPC()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":6000" || cfg.RateLimitInterval != 5*time.Millisecond || cfg.RateLimitBurst != 10 {
		t.Fatalf("unexpected grpc cfg: %+v", cfg)
	}
}

func TestLoadGRPC_RateLimitOptionalButPaired(t *testing.T) {
	t.Setenv("GRPC_ADDR", "")
	t.Setenv("GRPC_RATE_LIMIT_INTERVAL", "")
	t.Setenv("GRPC_RATE_LIMIT_BURST", "")
	cfg, err := LoadGRPC()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":50051" || cfg.RateLimitInterval != 0 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	t.Setenv("GRPC_RATE_LIMIT_INTERVAL", "5ms")
	if _, err := LoadGRPC(); err == nil {
		t.Fatalf("expected error for interval without burst")
	}
}

func TestLoadHTTPAndObservability(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("OBS_ADDR", ":9999")
	t.Setenv("LOG_LEVEL", "debug")

	httpCfg, err := LoadHTTP()
	if err != nil || httpCfg.Addr != ":8080" {
		t.Fatalf("unexpected http cfg: %+v err %v", httpCfg, err)
	}
	obs, err := LoadObservability()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.Addr != ":9999" || obs.LogLevel != "debug" {
		t.Fatalf("unexpected observability cfg: %+v", obs)
	}
}

func TestLoadKafka(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " b1:9092, ,b2:9092 ")
	t.Setenv("KAFKA_GROUP_ID", "")

	cfg, err := LoadKafka()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Brokers) != 2 || cfg.Brokers[0] != "b1:9092" || cfg.Brokers[1] != "b2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Brokers)
	}
	if cfg.GroupID != "transfer-saga" {
		t.Fatalf("unexpected group: %s", cfg.GroupID)
	}

	t.Setenv("KAFKA_BROKERS", " , ")
	if _, err := LoadKafka(); err == nil {
		t.Fatalf("expected error for empty broker list")
	}
}

func TestLoadWatchdog(t *testing.T) {
	t.Setenv("WATCHDOG_SCHEDULE", "")
	cfg, err := LoadWatchdog()
	if err != nil || cfg.Enabled() {
		t.Fatalf("expected disabled watchdog, got %+v err %v", cfg, err)
	}

	t.Setenv("WATCHDOG_SCHEDULE", "@every 1m")
	t.Setenv("WATCHDOG_STALL_AFTER", "")
	if _, err := LoadWatchdog(); err == nil {
		t.Fatalf("expected error when stall threshold missing")
	}

	t.Setenv("WATCHDOG_STALL_AFTER", "0s")
	if _, err := LoadWatchdog(); err == nil {
		t.Fatalf("expected error for zero stall threshold")
	}

	t.Setenv("WATCHDOG_STALL_AFTER", "15m")
	t.Setenv("WATCHDOG_BATCH_SIZE", "")
	cfg, err = LoadWatchdog()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Enabled() || cfg.StallAfter != 15*time.Minute || cfg.BatchSize != 100 {
		t.Fatalf("unexpected watchdog cfg: %+v", cfg)
	}
}

func TestLoadRedis(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_GROUP", "g")
	t.Setenv("REDIS_CONSUMER", "c")
	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "2s")
	t.Setenv("REDIS_REQUEST_TTL", "10m")
	t.Setenv("REDIS_STREAM_MAXLEN", "1000")

	cfg, err := LoadRedis()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.URL != "redis://localhost:6379/0" {
		t.Fatalf("unexpected redis url: %s", cfg.URL)
	}
	if cfg.Group != "g" || cfg.Consumer != "c" {
		t.Fatalf("unexpected group/consumer: %s/%s", cfg.Group, cfg.Consumer)
	}
	if cfg.HealthcheckTimeout != 2*time.Second {
		t.Fatalf("unexpected healthcheck timeout: %v", cfg.HealthcheckTimeout)
	}
	if cfg.RequestTTL != 10*time.Minute {
		t.Fatalf("unexpected request ttl: %v", cfg.RequestTTL)
	}
	if cfg.StreamMaxLen != 1000 {
		t.Fatalf("unexpected stream maxlen: %d", cfg.StreamMaxLen)
	}
}

func TestLoadRedis_Defaults(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_GROUP", "")
	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "1s")
	t.Setenv("REDIS_REQUEST_TTL", "")
	t.Setenv("REDIS_STREAM_MAXLEN", "10")

	cfg, err := LoadRedis()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Group != "transfer-saga" || cfg.RequestTTL != 24*time.Hour || cfg.Consumer == "" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadRedis_WithOptionalFields(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "1s")
	t.Setenv("REDIS_STREAM_MAXLEN", "10")
	t.Setenv("REDIS_DIAL_TIMEOUT", "3s")
	t.Setenv("REDIS_READ_TIMEOUT", "4s")
	t.Setenv("REDIS_WRITE_TIMEOUT", "5s")
	t.Setenv("REDIS_POOL_SIZE", "9")
	t.Setenv("REDIS_MIN_IDLE_CONNS", "2")
	t.Setenv("REDIS_MAX_RETRIES", "3")
	t.Setenv("REDIS_OTEL", "true")

	cfg, err := LoadRedis()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DialTimeout == nil || *cfg.DialTimeout != 3*time.Second {
		t.Fatalf("unexpected dial timeout: %v", cfg.DialTimeout)
	}
	if cfg.ReadTimeout == nil || *cfg.ReadTimeout != 4*time.Second {
		t.Fatalf("unexpected read timeout: %v", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout == nil || *cfg.WriteTimeout != 5*time.Second {
		t.Fatalf("unexpected write timeout: %v", cfg.WriteTimeout)
	}
	if cfg.PoolSize == nil || *cfg.PoolSize != 9 {
		t.Fatalf("unexpected pool size: %v", cfg.PoolSize)
	}
	if cfg.MinIdleConns == nil || *cfg.MinIdleConns != 2 {
		t.Fatalf("unexpected min idle: %v", cfg.MinIdleConns)
	}
	if cfg.MaxRetries == nil || *cfg.MaxRetries != 3 {
		t.Fatalf("unexpected max retries: %v", cfg.MaxRetries)
	}
	if !cfg.EnableOTel {
		t.Fatalf("expected otel enabled")
	}
}

func TestLoadRedis_MissingURL(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	if _, err := LoadRedis(); err == nil {
		t.Fatalf("expected missing url error")
	}
}

func TestLoadRedis_InvalidRequiredFields(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "bad")
	t.Setenv("REDIS_STREAM_MAXLEN", "1000")
	if _, err := LoadRedis(); err == nil {
		t.Fatalf("expected error for bad healthcheck timeout")
	}

	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "1s")
	t.Setenv("REDIS_REQUEST_TTL", "bad")
	if _, err := LoadRedis(); err == nil {
		t.Fatalf("expected error for bad request ttl")
	}

	t.Setenv("REDIS_REQUEST_TTL", "1s")
	t.Setenv("REDIS_STREAM_MAXLEN", "notint")
	if _, err := LoadRedis(); err == nil {
		t.Fatalf("expected error for bad stream maxlen")
	}
}

func TestLoadRedisTLS_NoSettingsReturnsNil(t *testing.T) {
	if cfg, err := loadRedisTLSFromEnv(); err != nil || cfg != nil {
		t.Fatalf("expected nil tls config, got %#v err %v", cfg, err)
	}
}

func TestLoadRedisTLS_MismatchedKeyPair(t *testing.T) {
	t.Setenv("REDIS_TLS_CERT_FILE", "cert")
	if _, err := loadRedisTLSFromEnv(); err == nil {
		t.Fatalf("expected cert/key mismatch error")
	}
}

func TestLoadRedisTLS_InsecureTrue(t *testing.T) {
	t.Setenv("REDIS_TLS_INSECURE_SKIP_VERIFY", "true")
	cfg, err := loadRedisTLSFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil || !cfg.InsecureSkipVerify {
		t.Fatalf("expected insecure tls config, got %#v", cfg)
	}
}

func TestLoadRedisTLS_ReadCAError(t *testing.T) {
	t.Setenv("REDIS_TLS_CA_FILE", "/no/such/file")
	if _, err := loadRedisTLSFromEnv(); err == nil {
		t.Fatalf("expected read error for missing CA file")
	}
}

func TestOptionalAndRequiredHelpers(t *testing.T) {
	t.Setenv("X_OPT_DUR", "-1ms")
	if _, err := optionalDuration("X_OPT_DUR"); err == nil {
		t.Fatalf("expected negative duration error")
	}
	t.Setenv("X_OPT_INT", "-1")
	if _, err := optionalInt("X_OPT_INT"); err == nil {
		t.Fatalf("expected negative int error")
	}
	t.Setenv("X_OPT_BOOL", "notbool")
	if _, err := optionalBool("X_OPT_BOOL"); err == nil {
		t.Fatalf("expected bool parse error")
	}
	t.Setenv("X_REQ_INT64", "-1")
	if _, err := requiredInt64("X_REQ_INT64"); err == nil {
		t.Fatalf("expected negative int64 error")
	}
	t.Setenv("X_REQ_DUR", "bad")
	if _, err := requiredDuration("X_REQ_DUR"); err == nil {
		t.Fatalf("expected bad duration error")
	}
	t.Setenv("X_DUR_OR", "")
	if d, err := durationOr("X_DUR_OR", time.Second); err != nil || d != time.Second {
		t.Fatalf("expected fallback, got %v err %v", d, err)
	}
}
