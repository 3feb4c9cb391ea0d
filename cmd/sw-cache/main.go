package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	swcache "github.com/always-cache/sw-cache"
	"github.com/always-cache/sw-cache/cache"
	"github.com/always-cache/sw-cache/notification"
	"github.com/always-cache/sw-cache/telemetry"
)

var (
	// CLI flags
	configFlag         string
	portFlag           int
	originFlag         string
	addrFlag           string
	hostFlag           string
	providerFlag       string
	dbFilenameFlag     string
	redisURLFlag       string
	holdWaitingFlag    bool
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "", "YAML config file (environment variables override it)")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides addr and host)")
	flag.StringVar(&addrFlag, "addr", "", "Origin IP address to proxy to")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&providerFlag, "provider", "", "Cache storage: sqlite, memory or redis")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name (use 'memory' for in-memory storage)")
	flag.StringVar(&redisURLFlag, "redis-url", "", "Redis URL for cache storage (implies -provider redis)")
	flag.BoolVar(&holdWaitingFlag, "hold-waiting", false, "Wait for SKIP_WAITING before activating a new version")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("release", version).Logger()

	settings, err := swcache.LoadSettings(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load settings")
	}
	applyFlags(&settings)
	if settings.Origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	if err := settings.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid settings")
	}
	if settings.ControlToken == "" && settings.ControlPrefix != "" {
		log.Warn().Msg("No control token set, control endpoints disabled")
		settings.ControlPrefix = ""
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    "sw-cache",
		ServiceVersion: version,
		Endpoint:       settings.Telemetry.OTLPEndpoint,
		SampleRatio:    settings.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not set up tracing")
	}

	config := swcache.Config{
		Logger:   &log.Logger,
		Settings: &settings,
	}
	switch settings.Storage.Provider {
	case "memory":
		config.Storage = cache.NewMemStorage()
	case "sqlite":
		storage, err := cache.NewSQLiteStorage(settings.Storage.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not open cache DB")
		}
		defer storage.Close()
		config.Storage = storage
	case "redis":
		storage, err := cache.NewRedisStorage(settings.Storage.RedisURL, settings.Storage.RedisNamespace)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not connect to redis")
		}
		defer storage.Close()
		config.Storage = storage
		config.Notifier = notification.NewRedisNotifier(storage.Client(), settings.Notifications.RedisChannel)
	}

	worker, err := swcache.New(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create worker")
	}
	go func() {
		if err := worker.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Version not activated, passing requests through")
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", portFlag),
		Handler:           worker,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", portFlag, settings.Origin, settings.OriginHost)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown")
	}
	worker.Close()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Tracing shutdown")
	}
}

// applyFlags overrides the settings with the flags given on the command line.
func applyFlags(settings *swcache.Settings) {
	if originFlag != "" {
		settings.Origin = originFlag
	} else if addrFlag != "" {
		settings.Origin = "https://" + addrFlag
		settings.OriginHost = hostFlag
	}
	if providerFlag != "" {
		settings.Storage.Provider = providerFlag
	}
	if dbFilenameFlag == "memory" {
		settings.Storage.Provider = "memory"
	} else if dbFilenameFlag != "" {
		settings.Storage.DB = dbFilenameFlag
	}
	if redisURLFlag != "" {
		settings.Storage.Provider = "redis"
		settings.Storage.RedisURL = redisURLFlag
	}
	if holdWaitingFlag {
		settings.HoldWaiting = true
	}
}
