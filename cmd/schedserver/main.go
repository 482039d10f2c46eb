// Package main provides the schedule coordination server entry point.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/viper"

	"github.com/steiner385/MachShop-sub017/pkg/dispatch"
	"github.com/steiner385/MachShop-sub017/pkg/engine"
	"github.com/steiner385/MachShop-sub017/pkg/feasibility"
	"github.com/steiner385/MachShop-sub017/pkg/identity"
)

// fileConfig mirrors the optional YAML config file. Flags and environment
// variables take precedence over file values.
type fileConfig struct {
	Listen           string   `mapstructure:"listen"`
	DSN              string   `mapstructure:"dsn"`
	WorkOrderURL     string   `mapstructure:"workOrderUrl"`
	AvailabilityFile string   `mapstructure:"availabilityFile"`
	CORSOrigins      []string `mapstructure:"corsOrigins"`
	RetentionDays    int      `mapstructure:"retentionDays"`
}

func main() {
	var (
		listenAddr       string
		dsn              string
		configPath       string
		availabilityFile string
		workOrderURL     string
		corsOrigins      string
		logLevel         string
		retentionDays    int
	)

	flag.StringVar(&listenAddr, "listen", ":8080", "Address to listen on")
	flag.StringVar(&dsn, "dsn", "", "Database connection string (postgres://, mysql://, sqlite path, or :memory:)")
	flag.StringVar(&configPath, "config", "", "Optional YAML config file")
	flag.StringVar(&availabilityFile, "availability-file", "", "Path to the resource/material availability calendar")
	flag.StringVar(&workOrderURL, "workorder-url", "", "Base URL of the work order system")
	flag.StringVar(&corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.IntVar(&retentionDays, "retention-days", 0, "Prune transition history older than this many days at startup (0 disables)")
	flag.Parse()

	// Initialize glog for backwards compatibility.
	_ = flag.Set("logtostderr", "true")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	}))
	slog.SetDefault(logger)

	// Merge the optional config file under flags and environment.
	if configPath == "" {
		configPath = os.Getenv("SCHED_CONFIG")
	}
	var fileCfg fileConfig
	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			glog.Fatalf("Failed to read config file %s: %v", configPath, err)
		}
		if err := viper.Unmarshal(&fileCfg); err != nil {
			glog.Fatalf("Failed to parse config file %s: %v", configPath, err)
		}
		logger.Info("loaded config file", "path", configPath)
	}

	listenAddr = firstOf(listenAddr, os.Getenv("SCHED_LISTEN"), fileCfg.Listen, ":8080")
	dsn = firstOf(dsn, os.Getenv("SCHED_DSN"), fileCfg.DSN, "")
	workOrderURL = firstOf(workOrderURL, os.Getenv("SCHED_WORKORDER_URL"), fileCfg.WorkOrderURL, "")
	availabilityFile = firstOf(availabilityFile, os.Getenv("SCHED_AVAILABILITY_FILE"), fileCfg.AvailabilityFile, "")
	if retentionDays == 0 {
		retentionDays = fileCfg.RetentionDays
	}

	if workOrderURL == "" {
		glog.Fatalf("A work order system URL is required (use -workorder-url or SCHED_WORKORDER_URL)")
	}

	var origins []string
	if corsOrigins != "" {
		for _, o := range strings.Split(corsOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	} else {
		origins = fileCfg.CORSOrigins
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Availability source: a watched calendar file when configured,
	// otherwise an empty static source (every target reports zero).
	var source feasibility.AvailabilitySource
	if availabilityFile != "" {
		fileSource, err := feasibility.NewFileSource(availabilityFile, logger)
		if err != nil {
			glog.Fatalf("Failed to load availability calendar: %v", err)
		}
		if err := fileSource.Watch(ctx); err != nil {
			glog.Fatalf("Failed to watch availability calendar: %v", err)
		}
		source = fileSource
		logger.Info("using availability calendar", "path", availabilityFile)
	} else {
		source = feasibility.NewStaticSource()
		logger.Warn("no availability calendar configured, all targets report zero availability")
	}

	serverOpts := []engine.ServerOption{
		engine.WithDSN(dsn),
		engine.WithWorkOrderCreator(dispatch.NewHTTPWorkOrderCreator(workOrderURL, logger)),
		engine.WithAvailabilitySource(source),
		engine.WithEngineConfig(engine.ConfigFromEnv()),
		engine.WithDispatchConfig(dispatch.ConfigFromEnv()),
		engine.WithEvaluatorConfig(feasibility.ConfigFromEnv()),
		engine.WithLogger(logger),
	}
	if len(origins) > 0 {
		serverOpts = append(serverOpts, engine.WithCORSOrigins(origins))
	}

	// Auth mode: verified or trusted-proxy JWTs, or plain identity headers.
	authMode := os.Getenv("SCHED_AUTH_MODE")
	switch authMode {
	case "jwt":
		extractor, err := identity.NewJWTPrincipal(identity.JWTPrincipalConfig{
			SubjectClaim:  envOrDefault("SCHED_JWT_SUBJECT_CLAIM", "sub"),
			PublicKeyPath: os.Getenv("SCHED_JWT_PUBLIC_KEY_PATH"),
			Issuer:        os.Getenv("SCHED_JWT_ISSUER"),
			Audience:      os.Getenv("SCHED_JWT_AUDIENCE"),
			Logger:        logger,
		})
		if err != nil {
			glog.Fatalf("Failed to configure JWT auth: %v", err)
		}
		serverOpts = append(serverOpts, engine.WithPrincipalExtractor(extractor))
		logger.Info("using JWT auth", "hasPublicKey", os.Getenv("SCHED_JWT_PUBLIC_KEY_PATH") != "")
	case "header", "":
		if authMode == "" {
			logger.Info("using default header-based auth (X-Remote-User)")
		}
	default:
		glog.Fatalf("Unknown auth mode: %q (expected jwt, header, or empty)", authMode)
	}

	server := engine.NewServer(serverOpts...)
	if err := server.Init(ctx); err != nil {
		glog.Fatalf("Failed to initialize server: %v", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	if retentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		if _, err := server.Engine().PruneHistory(ctx, cutoff); err != nil {
			logger.Error("history retention sweep failed", "error", err)
		}
	}

	logger.Info("schedule server ready", "listen", listenAddr, "workorder_url", workOrderURL)

	if err := server.ListenAndServe(ctx, listenAddr, 30*time.Second); err != nil {
		glog.Fatalf("HTTP server error: %v", err)
	}
	logger.Info("schedule server stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// firstOf returns the first non-empty value, treating the flag's default as
// unset so file and environment values can fill it.
func firstOf(flagValue, envValue, fileValue, def string) string {
	if flagValue != "" && flagValue != def {
		return flagValue
	}
	if envValue != "" {
		return envValue
	}
	if fileValue != "" {
		return fileValue
	}
	if flagValue != "" {
		return flagValue
	}
	return def
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
