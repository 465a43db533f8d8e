package main

import (
	"log"

	"github.com/entersite/outreach/internal/config"
)

// logConfigWarnings flags configurations that start fine but lose messages
// or visibility in production. None of these stop the process.
func logConfigWarnings(cfg *config.Config) {
	noGateways := cfg.EmailGatewayURL == "" && cfg.SMSGatewayURL == "" && cfg.WhatsAppGatewayURL == ""
	if noGateways {
		log.Println("WARNING [P0]: no gateway URLs configured. Every due run will fail at its send step. " +
			"Set EMAIL_GATEWAY_URL, SMS_GATEWAY_URL and WHATSAPP_GATEWAY_URL.")
	}

	if !cfg.RetentionEnabled {
		log.Println("WARNING [P1]: RETENTION_ENABLED=false. Weighted events and sender audit records " +
			"will accumulate without bound. Enable the sweeper on at least one instance.")
	}

	if cfg.CircuitBreakerThreshold == 0 && !noGateways {
		log.Println("WARNING [P1]: CIRCUIT_BREAKER_THRESHOLD=0. A dead gateway will be retried on " +
			"every tick with no backoff across runs.")
	}

	if !cfg.MetricsEnabled {
		log.Println("WARNING [P2]: METRICS_ENABLED=false. Pass durations, send outcomes and bus " +
			"saturation will not be observable.")
	}

	if cfg.RedisAddr == "" {
		log.Println("INFO: REDIS_ADDR not set; send analytics counters are disabled.")
	}
}
