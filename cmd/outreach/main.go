package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/entersite/outreach/internal/analytics"
	"github.com/entersite/outreach/internal/api"
	"github.com/entersite/outreach/internal/audience"
	"github.com/entersite/outreach/internal/circuitbreaker"
	"github.com/entersite/outreach/internal/config"
	"github.com/entersite/outreach/internal/cron"
	"github.com/entersite/outreach/internal/domain"
	"github.com/entersite/outreach/internal/gateway"
	"github.com/entersite/outreach/internal/leaderelection"
	"github.com/entersite/outreach/internal/metrics"
	"github.com/entersite/outreach/internal/notifier"
	"github.com/entersite/outreach/internal/poller"
	"github.com/entersite/outreach/internal/retention"
	"github.com/entersite/outreach/internal/sender"
	"github.com/entersite/outreach/internal/store/postgres"
	"github.com/entersite/outreach/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`outreach - multi-channel lead outreach scheduler

Usage:
  outreach <command>

Commands:
  serve      Start the poller, notifier and operator API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for delivery analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  TICK_INTERVAL             Due-run polling interval (default: "30s")
  BATCH_LIMIT               Max due runs per tenant per tick (default: "100")
  MAX_TENANTS_PER_TICK      Max tenants per tick (default: "50")
  STEP_DELAY                Default delay between sequence steps (default: "5m")
  WITHIN_DAYS               Audience scoring window in days (default: "30")
  REBUILD_CRON              Profile rebuild schedule (default: "*/10 * * * *")

  EMAIL_GATEWAY_URL         Email delivery gateway endpoint (optional)
  SMS_GATEWAY_URL           SMS delivery gateway endpoint (optional)
  WHATSAPP_GATEWAY_URL      WhatsApp delivery gateway endpoint (optional)
  GATEWAY_SECRET            HMAC signing secret for gateway requests
  GATEWAY_TIMEOUT           Per-send gateway timeout (default: "10s")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  NOTIFIER_DRAIN_TIMEOUT    Notifier action drain timeout (default: "30s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  RETENTION_ENABLED         Enable the retention sweeper (default: "false")
  RETENTION_INTERVAL        Sweep interval (default: "1h")
  EVENT_RETENTION           Weighted event retention (default: "1440h")
  AUDIT_RETENTION           Sender event retention (default: "2160h")

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before opening (default: "5", 0 disables)
  CIRCUIT_BREAKER_COOLDOWN  Open-circuit cooldown (default: "2m")

  LEADER_LOCK_KEY           Advisory lock key shared by all instances
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection heartbeat (default: "2s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("outreach: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("outreach: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("outreach: METRICS_ENABLED not set; metrics disabled")
	}

	// Action bus feeding the sales notifier
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewActionBus(cfg.ActionBusBufferSize, busOpts...)

	// Audience engine
	engine := audience.New(store).WithEmitter(bus)
	if metricsSink != nil {
		engine = engine.WithMetrics(metricsSink)
	}

	// Sender processor with per-channel delivery gateways
	proc := sender.New(store, store, store, store, store, store).
		WithStepDelay(cfg.StepDelay)
	if metricsSink != nil {
		proc = proc.WithMetrics(metricsSink)
	}

	var breaker *circuitbreaker.Breaker
	if cfg.CircuitBreakerThreshold > 0 {
		breaker = circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}
	for ch, url := range map[domain.Channel]string{
		domain.ChannelEmail:    cfg.EmailGatewayURL,
		domain.ChannelSMS:      cfg.SMSGatewayURL,
		domain.ChannelWhatsApp: cfg.WhatsAppGatewayURL,
	} {
		if url == "" {
			log.Printf("outreach: no gateway configured for channel %s", ch)
			continue
		}
		gw := gateway.NewWebhook(ch, url, cfg.GatewaySecret).
			WithTimeout(cfg.GatewayTimeout)
		if breaker != nil {
			gw = gw.WithBreaker(breaker)
		}
		proc = proc.WithGateway(ch, gw)
		log.Printf("outreach: gateway configured (channel=%s, url=%s)", ch, url)
	}

	// Wire analytics if Redis is configured
	var analyticsSink *analytics.RedisSink
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		analyticsSink = analytics.NewRedisSink(redisClient)
		proc = proc.WithAnalytics(analyticsSink)
		log.Printf("outreach: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("outreach: REDIS_ADDR not set; analytics disabled")
	}

	rebuildSchedule, err := cron.Parse(cfg.RebuildCron)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid REBUILD_CRON: %v\n", err)
		return exitInvalidConfig
	}

	// Operator API on the main listener, metrics on the same mux
	apiHandler := api.NewHandler(store, proc, engine, cfg.WithinDays, cfg.BatchLimit).
		WithHealthChecker(db)
	mux := http.NewServeMux()
	if metricsSink != nil {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("outreach: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("outreach: http server error: %v", err)
		}
	}()

	// The notifier runs on every instance; leader duties (poller,
	// retention) run only while this instance holds the advisory lock.
	notifierCtx, cancelNotifier := context.WithCancel(context.Background())
	var notifierWg sync.WaitGroup

	notif := notifier.New(store).WithDrainTimeout(cfg.NotifierDrainTimeout)
	if analyticsSink != nil {
		notif = notif.WithAnalytics(analyticsSink)
	}
	notifierWg.Add(1)
	go func() {
		defer notifierWg.Done()
		notif.Run(notifierCtx, bus.Channel())
	}()

	pol := poller.New(
		poller.Config{
			TickInterval:      cfg.TickInterval,
			BatchLimit:        cfg.BatchLimit,
			MaxTenantsPerTick: cfg.MaxTenantsPerTick,
			RebuildSchedule:   rebuildSchedule,
			WithinDays:        cfg.WithinDays,
		},
		store,
		proc,
		engine,
	)
	if metricsSink != nil {
		pol = pol.WithMetrics(metricsSink)
	}

	var sweeper *retention.Sweeper
	if cfg.RetentionEnabled {
		sweeper = retention.New(
			retention.Config{
				Interval:       cfg.RetentionInterval,
				EventRetention: cfg.EventRetention,
				AuditRetention: cfg.AuditRetention,
			},
			store,
		)
		if metricsSink != nil {
			sweeper = sweeper.WithMetrics(metricsSink)
		}
		log.Printf("outreach: retention enabled (interval=%s, events=%s, audit=%s)",
			cfg.RetentionInterval, cfg.EventRetention, cfg.AuditRetention)
	} else {
		log.Println("outreach: RETENTION_ENABLED not set; retention disabled")
	}

	var leaderWg sync.WaitGroup
	onElected := func(leaderCtx context.Context) {
		leaderWg.Add(1)
		go func() {
			defer leaderWg.Done()
			pol.Run(leaderCtx)
		}()
		if sweeper != nil {
			leaderWg.Add(1)
			go func() {
				defer leaderWg.Done()
				sweeper.Run(leaderCtx)
			}()
		}
	}
	onDemoted := func() {
		leaderWg.Wait()
	}

	elector := leaderelection.New(db, cfg.LeaderLockKey,
		cfg.LeaderRetryInterval, cfg.LeaderHeartbeatInterval,
		onElected, onDemoted)
	if metricsSink != nil {
		elector = elector.WithMetrics(metricsSink)
	}

	electorCtx, cancelElector := context.WithCancel(context.Background())
	var electorWg sync.WaitGroup
	electorWg.Add(1)
	go func() {
		defer electorWg.Done()
		elector.Run(electorCtx)
	}()

	log.Printf("outreach: started (tick=%s, http=%s)", cfg.TickInterval, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("outreach: received signal %v, shutting down", received)

	// Phase 1: Release leadership (stops poller and retention, no new
	// sends or rebuilds)
	log.Println("outreach: stopping leader duties...")
	cancelElector()
	electorWg.Wait()
	leaderWg.Wait()
	log.Println("outreach: leader duties stopped")

	// Phase 2: Stop notifier (drains buffered actions before returning)
	log.Println("outreach: stopping notifier (draining actions)...")
	cancelNotifier()
	notifierWg.Wait()
	log.Println("outreach: notifier stopped")

	// Phase 3: Stop HTTP server with graceful shutdown
	log.Println("outreach: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("outreach: http server shutdown error: %v", err)
	}
	log.Println("outreach: http server stopped")

	log.Println("outreach: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("outreach version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
