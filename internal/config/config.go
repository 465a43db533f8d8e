package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the outreach application.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout     time.Duration `json:"-"`
	HTTPShutdownTimeoutStr  string        `json:"http_shutdown_timeout"`
	NotifierDrainTimeout    time.Duration `json:"-"`
	NotifierDrainTimeoutStr string        `json:"notifier_drain_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	// BatchLimit caps the number of due runs processed per tenant per tick.
	BatchLimit        int `json:"batch_limit"`
	MaxTenantsPerTick int `json:"max_tenants_per_tick"`

	// StepDelay applies between sequence steps when the campaign does not
	// override it.
	StepDelay    time.Duration `json:"-"`
	StepDelayStr string        `json:"step_delay"`

	// WithinDays is the sliding scoring window for profile rebuilds.
	WithinDays int `json:"within_days"`

	// RebuildCron is a five-field cron expression for profile rebuild passes.
	RebuildCron string `json:"rebuild_cron"`

	RetentionEnabled     bool          `json:"retention_enabled"`
	RetentionInterval    time.Duration `json:"-"`
	RetentionIntervalStr string        `json:"retention_interval"`
	EventRetention       time.Duration `json:"-"`
	EventRetentionStr    string        `json:"event_retention"`
	AuditRetention       time.Duration `json:"-"`
	AuditRetentionStr    string        `json:"audit_retention"`

	ActionBusBufferSize int `json:"actionbus_buffer_size"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	EmailGatewayURL    string        `json:"email_gateway_url"`
	SMSGatewayURL      string        `json:"sms_gateway_url"`
	WhatsAppGatewayURL string        `json:"whatsapp_gateway_url"`
	GatewaySecret      string        `json:"gateway_secret"`
	GatewayTimeout     time.Duration `json:"-"`
	GatewayTimeoutStr  string        `json:"gateway_timeout"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval: pings the dedicated connection to detect local
	// connection death. Does NOT renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		HTTPAddr:                os.Getenv("HTTP_ADDR"),
		TickIntervalStr:         os.Getenv("TICK_INTERVAL"),
		DBOpTimeoutStr:          os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:    os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:    os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:  os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		NotifierDrainTimeoutStr: os.Getenv("NOTIFIER_DRAIN_TIMEOUT"),
		MetricsEnabled:          os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:             os.Getenv("METRICS_PATH"),
		StepDelayStr:            os.Getenv("STEP_DELAY"),
		RebuildCron:             os.Getenv("REBUILD_CRON"),
		RetentionEnabled:        os.Getenv("RETENTION_ENABLED") == "true",
		RetentionIntervalStr:    os.Getenv("RETENTION_INTERVAL"),
		EventRetentionStr:       os.Getenv("EVENT_RETENTION"),
		AuditRetentionStr:       os.Getenv("AUDIT_RETENTION"),
		EmailGatewayURL:         os.Getenv("EMAIL_GATEWAY_URL"),
		SMSGatewayURL:           os.Getenv("SMS_GATEWAY_URL"),
		WhatsAppGatewayURL:      os.Getenv("WHATSAPP_GATEWAY_URL"),
		GatewaySecret:           os.Getenv("GATEWAY_SECRET"),
		GatewayTimeoutStr:       os.Getenv("GATEWAY_TIMEOUT"),
	}

	if batchStr := os.Getenv("BATCH_LIMIT"); batchStr != "" {
		if batch, err := parseInt(batchStr); err == nil && batch > 0 {
			cfg.BatchLimit = batch
		} else {
			log.Printf("config: invalid BATCH_LIMIT %q (must be a positive integer), using default 100", batchStr)
		}
	}
	if cfg.BatchLimit == 0 {
		cfg.BatchLimit = 100
	}

	if tenantsStr := os.Getenv("MAX_TENANTS_PER_TICK"); tenantsStr != "" {
		if n, err := parseInt(tenantsStr); err == nil && n > 0 {
			cfg.MaxTenantsPerTick = n
		} else {
			log.Printf("config: invalid MAX_TENANTS_PER_TICK %q (must be a positive integer), using default 50", tenantsStr)
		}
	}
	if cfg.MaxTenantsPerTick == 0 {
		cfg.MaxTenantsPerTick = 50
	}

	if daysStr := os.Getenv("WITHIN_DAYS"); daysStr != "" {
		if n, err := parseInt(daysStr); err == nil && n > 0 {
			cfg.WithinDays = n
		} else {
			log.Printf("config: invalid WITHIN_DAYS %q (must be a positive integer), using default 30", daysStr)
		}
	}
	if cfg.WithinDays == 0 {
		cfg.WithinDays = 30
	}

	if bufStr := os.Getenv("ACTIONBUS_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.ActionBusBufferSize = n
		} else {
			log.Printf("config: invalid ACTIONBUS_BUFFER_SIZE %q (must be a positive integer), using default 100", bufStr)
		}
	}
	if cfg.ActionBusBufferSize == 0 {
		cfg.ActionBusBufferSize = 100
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	cfg.CircuitBreakerCooldownStr = os.Getenv("CIRCUIT_BREAKER_COOLDOWN")
	cfg.LeaderRetryIntervalStr = os.Getenv("LEADER_RETRY_INTERVAL")
	cfg.LeaderHeartbeatIntervalStr = os.Getenv("LEADER_HEARTBEAT_INTERVAL")

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 914206", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 914206
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "30s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.NotifierDrainTimeoutStr == "" {
		cfg.NotifierDrainTimeoutStr = "30s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.StepDelayStr == "" {
		cfg.StepDelayStr = "5m"
	}
	if cfg.RebuildCron == "" {
		cfg.RebuildCron = "*/10 * * * *"
	}
	if cfg.RetentionIntervalStr == "" {
		cfg.RetentionIntervalStr = "1h"
	}
	if cfg.EventRetentionStr == "" {
		cfg.EventRetentionStr = "1440h" // 60 days
	}
	if cfg.AuditRetentionStr == "" {
		cfg.AuditRetentionStr = "2160h" // 90 days
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.GatewayTimeoutStr == "" {
		cfg.GatewayTimeoutStr = "10s"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.TickIntervalStr); err == nil {
		cfg.TickInterval = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.NotifierDrainTimeoutStr); err == nil {
		cfg.NotifierDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.StepDelayStr); err == nil {
		cfg.StepDelay = d
	}
	if d, err := time.ParseDuration(cfg.RetentionIntervalStr); err == nil {
		cfg.RetentionInterval = d
	}
	if d, err := time.ParseDuration(cfg.EventRetentionStr); err == nil {
		cfg.EventRetention = d
	}
	if d, err := time.ParseDuration(cfg.AuditRetentionStr); err == nil {
		cfg.AuditRetention = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.GatewayTimeoutStr); err == nil {
		cfg.GatewayTimeout = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}

	return cfg
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		TickInterval            string `json:"tick_interval"`
		DBOpTimeout             string `json:"db_op_timeout"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		NotifierDrainTimeout    string `json:"notifier_drain_timeout"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		BatchLimit              int    `json:"batch_limit"`
		MaxTenantsPerTick       int    `json:"max_tenants_per_tick"`
		StepDelay               string `json:"step_delay"`
		WithinDays              int    `json:"within_days"`
		RebuildCron             string `json:"rebuild_cron"`
		RetentionEnabled        bool   `json:"retention_enabled"`
		RetentionInterval       string `json:"retention_interval"`
		EventRetention          string `json:"event_retention"`
		AuditRetention          string `json:"audit_retention"`
		ActionBusBufferSize     int    `json:"actionbus_buffer_size"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		EmailGatewayURL         string `json:"email_gateway_url"`
		SMSGatewayURL           string `json:"sms_gateway_url"`
		WhatsAppGatewayURL      string `json:"whatsapp_gateway_url"`
		GatewaySecret           string `json:"gateway_secret"`
		GatewayTimeout          string `json:"gateway_timeout"`
		LeaderLockKey           int64  `json:"leader_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		TickInterval:            c.TickIntervalStr,
		DBOpTimeout:             c.DBOpTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:       c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		NotifierDrainTimeout:    c.NotifierDrainTimeoutStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		BatchLimit:              c.BatchLimit,
		MaxTenantsPerTick:       c.MaxTenantsPerTick,
		StepDelay:               c.StepDelayStr,
		WithinDays:              c.WithinDays,
		RebuildCron:             c.RebuildCron,
		RetentionEnabled:        c.RetentionEnabled,
		RetentionInterval:       c.RetentionIntervalStr,
		EventRetention:          c.EventRetentionStr,
		AuditRetention:          c.AuditRetentionStr,
		ActionBusBufferSize:     c.ActionBusBufferSize,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		EmailGatewayURL:         c.EmailGatewayURL,
		SMSGatewayURL:           c.SMSGatewayURL,
		WhatsAppGatewayURL:      c.WhatsAppGatewayURL,
		GatewaySecret:           maskSecret(c.GatewaySecret),
		GatewayTimeout:          c.GatewayTimeoutStr,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
