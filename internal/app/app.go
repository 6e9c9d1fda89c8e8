package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"msggrabber/internal/alert"
	"msggrabber/internal/app/server"
	"msggrabber/internal/config"
	"msggrabber/internal/database"
	"msggrabber/internal/fieldgen"
	"msggrabber/internal/jobs/maintenance"
	"msggrabber/internal/support"
)

const defaultPort = 8080

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	portFlag := flag.Int("port", defaultPort, "Port for the HTTP server")
	configFlag := flag.String("config", "", "Path to the YAML configuration file")
	flag.Parse()

	port := resolvePort("PORT", *portFlag)
	configPath := resolveConfigPath(*configFlag)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	generators := fieldgen.Default()
	if err := cfg.Validate(generators); err != nil {
		return fmt.Errorf("config: %s: %w", configPath, err)
	}

	closeAlerts, err := configureLogging(cfg.Logging)
	if err != nil {
		return fmt.Errorf("config: %s: %w", configPath, err)
	}
	defer closeAlerts()

	trustedProxies, err := support.ParseTrustedProxies(support.GetEnv("TRUSTED_PROXIES", ""))
	if err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	if _, err := database.SetupDB(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := connectRedis(ctx)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	purger := maintenance.NewPurger()
	go maintenance.StartPurgeRoutine(ctx, purger, maintenance.ResolveRoutineSettings(), redisClient)

	srv := server.New(cfg, generators, purger, server.Options{
		TrustedProxies: trustedProxies,
	})
	return srv.ListenAndServe(ctx, port)
}

// configureLogging applies the configured level and installs email alerting.
// The returned func flushes pending alerts.
func configureLogging(l config.Logging) (func(), error) {
	if l.Level != "" {
		lvl, err := alert.ParseLevel(l.Level)
		if err != nil {
			// Bad levels are reported but do not stop the service.
			log.Error("Invalid logging level", "level", l.Level, "error", err, "severity", "critical")
		} else {
			log.SetLevel(lvl)
		}
	}

	if len(l.Email) == 0 {
		return func() {}, nil
	}

	mailer, err := alert.NewSMTPMailer(l.SMTP)
	if err != nil {
		return nil, fmt.Errorf("logging.smtp: %w", err)
	}
	notifier, err := alert.NewNotifier(l.Email, mailer)
	if err != nil {
		return nil, fmt.Errorf("logging.email: %w", err)
	}
	log.SetOutput(alert.NewTee(os.Stderr, notifier))
	log.Info("Email alerting enabled", "targets", len(l.Email))

	return notifier.Close, nil
}

func connectRedis(ctx context.Context) *redis.Client {
	url := support.RedisURL()
	if url == "" {
		return nil
	}
	client, err := support.NewRedisClient(ctx, url)
	if err != nil {
		log.Warn("Redis unavailable, purge routine runs without leader election", "error", err)
		return nil
	}
	return client
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return support.GetEnv("CONFIG_FILE", config.DefaultConfigFile)
}

func resolvePort(envKey string, fallback int) int {
	if port := readPort(envKey); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}
