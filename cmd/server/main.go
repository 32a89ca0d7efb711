package main // Entry point package

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/broadcast"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/config"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/database"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/engine"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/handler"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/license"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/middleware"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/pulse"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/queue"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/repository"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/router"
	queue_publisher "github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/service"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/utils"
)

func main() {
	_ = godotenv.Load() // .env is optional; env vars win

	cfg := config.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.Env == "dev" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.EnsureSchema(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("schema bootstrap failed")
	}

	rdb := config.NewRedisClient() // nil when Redis is unreachable
	if rdb == nil {
		log.Warn().Msg("redis unavailable, caching and rate limiting degraded")
	}

	sessionRepo := repository.NewSessionRepo(db)
	rateRepo := repository.NewRateRepo(db)
	deviceRepo := repository.NewDeviceRepo(db)

	locks := engine.NewSlotLockManager(cfg.LockTTL, log)
	registry := engine.NewRegistry(sessionRepo, rateRepo, locks, cfg.FallbackMinutesPerPeso, log)
	if err := registry.Warm(ctx); err != nil {
		log.Fatal().Err(err).Msg("session warm-up failed")
	}

	gate := license.NewGate(
		license.StaticChecker(license.State(cfg.LicenseState), cfg.LicenseTrialDays),
		rdb, cfg.LicenseCacheTTL, log,
	)

	provisioned, err := deviceRepo.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("device load failed")
	}
	devices := pulse.NewDeviceRegistry(provisioned)

	hub := broadcast.NewHub(log)

	var sales pulse.SalesPublisher
	if cfg.AMQPURL != "" {
		sales = &queue_publisher.Publisher{URL: cfg.AMQPURL, Log: log}
		go func() {
			if err := queue.StartSalesConsumer(cfg.AMQPURL, log); err != nil {
				log.Error().Err(err).Msg("sales consumer stopped")
			}
		}()
	}

	pulses := pulse.NewManager(pulse.ManagerConfig{
		Credits:     registry,
		Holders:     locks,
		Gate:        gate,
		Notify:      hub,
		Sales:       sales,
		Devices:     devices,
		Window:      cfg.DebounceWindow,
		MinInterval: cfg.DebounceMinInterval,
		Logger:      log,
	})
	if err := pulses.Start(ctx, boardSource(cfg, log)); err != nil {
		log.Fatal().Err(err).Msg("pulse pipeline failed to start")
	}
	defer func() { _ = pulses.Stop() }()

	if cfg.MQTTBroker != "" {
		opts := MQTT.NewClientOptions().
			AddBroker(cfg.MQTTBroker).
			SetClientID("pisowifi-engine").
			SetAutoReconnect(true).
			SetConnectRetry(true)
		mqttClient := MQTT.NewClient(opts)
		if token := mqttClient.Connect(); token.WaitTimeout(10*time.Second) && token.Error() == nil {
			if err := pulses.Attach(pulse.NewNodeMCUSource(mqttClient, devices, 1, log)); err != nil {
				log.Error().Err(err).Msg("nodemcu source attach failed")
			}
			defer mqttClient.Disconnect(250)
		} else {
			log.Error().Err(token.Error()).Str("broker", cfg.MQTTBroker).Msg("mqtt connect failed, nodemcu slots offline")
		}
	}

	go registry.Run(ctx)
	go locks.RunSweeper(ctx, cfg.SweepInterval)
	go deviceStatsFlusher(ctx, devices, deviceRepo, log)
	go sessionBroadcaster(ctx, registry, hub)

	passHash, err := utils.HashPassword(cfg.AdminPass, bcrypt.DefaultCost)
	if err != nil {
		log.Fatal().Err(err).Msg("admin password hash failed")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))

	router.RegisterRoutes(e, router.Handlers{
		Slots:     handler.NewSlotHandler(locks, gate),
		Pulses:    handler.NewPulseHandler(pulses, devices, gate),
		Sessions:  handler.NewSessionHandler(registry, locks),
		Rates:     handler.NewRatesHandler(rateRepo),
		Admin:     handler.NewAdminHandler(cfg, passHash, registry, devices, pulses, gate, hub),
		Hub:       hub,
		RateCache: middleware.NewRedisCache(config.LoadCacheConfig(), rdb),
	}, cfg.JWTSecret, log)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	addr := ":" + cfg.Port
	log.Info().Str("addr", addr).Str("env", cfg.Env).Str("board", cfg.BoardType).Msg("listening")
	if err := e.Start(addr); err != nil {
		log.Info().Err(err).Msg("server stopped")
	}
}

// boardSource picks the primary pulse source for the configured board.
func boardSource(cfg config.Config, log zerolog.Logger) pulse.Source {
	switch cfg.BoardType {
	case "gpio":
		return pulse.NewDirectSource(cfg.GPIOPin, 1, log)
	case "serial":
		return pulse.NewSerialSource(cfg.SerialPort, cfg.SerialBaud, log)
	default:
		return pulse.NewSimulatedSource("main", 1, cfg.SimInterval, log)
	}
}

// deviceStatsFlusher periodically writes sub-controller revenue counters
// back to the database.  Per-pulse writes are not worth the I/O on an
// SD-card deployment.
func deviceStatsFlusher(ctx context.Context, devices *pulse.DeviceRegistry, repo *repository.DeviceRepo, log zerolog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, d := range devices.List() {
				d := d
				if err := repo.SaveStats(ctx, &d); err != nil {
					log.Error().Err(err).Str("mac", d.MACAddress).Msg("device stats flush failed")
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// sessionBroadcaster pushes a coarse session snapshot to dashboard
// observers every few seconds.  Observers that want finer granularity
// poll the admin API.
func sessionBroadcaster(ctx context.Context, registry *engine.Registry, hub *broadcast.Hub) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if hub.Observers() > 0 {
				hub.BroadcastSessions(registry.List())
			}
		case <-ctx.Done():
			return
		}
	}
}
