package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/RemindPipe/internal/api"
	"github.com/BTreeMap/RemindPipe/internal/metrics"
	"github.com/BTreeMap/RemindPipe/internal/reminder"
	"github.com/BTreeMap/RemindPipe/internal/scheduler"
	"github.com/BTreeMap/RemindPipe/internal/store"
	"github.com/BTreeMap/RemindPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for RemindPipe state data
	DefaultStateDir = "/var/lib/remindpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "remindpipe.db"
	// DefaultWorkerConcurrency is how many reminder jobs run at once
	DefaultWorkerConcurrency = 4
	// DefaultPollInterval is how often the job runner looks for due jobs
	DefaultPollInterval = 5 * time.Second
)

func main() {
	// .env must be loaded before the logger reads LOG_LEVEL and LOG_FORMAT
	envErr := godotenv.Load()
	initializeLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	if envErr != nil {
		slog.Debug("failed to load .env file", "error", envErr)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(config, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		slog.Error("Failed to parse command line flags", "error", err)
		os.Exit(2)
	}

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping RemindPipe with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "",
		"redis_set", *flags.redisAddr != "", "api_addr", *flags.apiAddr)
	if err := run(ctx, config, flags); err != nil {
		slog.Error("RemindPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("RemindPipe exited successfully")
}

// run wires the components together and blocks until ctx is cancelled or a
// component fails.
func run(ctx context.Context, config Config, flags Flags) error {
	st, err := store.NewStore(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	var (
		locker store.Locker           = st
		marks  store.IdempotencyStore = st
	)
	if *flags.redisAddr != "" {
		rs, err := store.NewRedisStore(ctx, buildRedisOptions(config, flags)...)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rs.Close()
		locker, marks = rs, rs
		slog.Info("Using Redis for locks and idempotency marks", "addr", *flags.redisAddr)
	}

	m := metrics.New()
	dispatchOpts, err := buildDispatcherOptions(flags, m)
	if err != nil {
		return err
	}

	runner := store.NewJobRunner(st, *flags.pollInterval, buildRunnerOptions(flags)...)
	reminder.NewDispatcher(locker, marks, st, dispatchOpts...).Register(runner)
	if err := runner.RecoverStaleJobs(ctx); err != nil {
		slog.Warn("Startup stale job recovery failed", "error", err)
	}

	cron := scheduler.NewScheduler()
	defer cron.Stop()
	if err := scheduler.NewMaintenance(runner, scheduler.WithMarkPurge(st), scheduler.WithLeasePurge(st)).Schedule(ctx, cron, *flags.maintenanceCron); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", *flags.maintenanceCron, err)
	}

	server := api.NewServer(reminder.NewScheduler(st), st, buildAPIOptions(flags, m)...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runner.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx)
	})
	return g.Wait()
}

// Config holds environment configuration
type Config struct {
	DatabaseURL       string
	StateDir          string
	RedisAddr         string
	RedisPassword     string
	APIAddr           string
	Timezone          string
	WorkerConcurrency int
	PollInterval      time.Duration
	MaintenanceCron   string
	QuietHoursEnabled bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	dbDSN           *string
	redisAddr       *string
	apiAddr         *string
	timezone        *string
	concurrency     *int
	pollInterval    *time.Duration
	maintenanceCron *string
	quietHours      *bool
}

// initializeLogger sets up structured logging. Text output at debug level
// unless LOG_FORMAT / LOG_LEVEL say otherwise.
func initializeLogger(level, format string) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// loadEnvironmentConfig loads configuration from environment variables
func loadEnvironmentConfig() Config {
	config := Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StateDir:          os.Getenv("REMINDPIPE_STATE_DIR"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		APIAddr:           os.Getenv("API_ADDR"),
		Timezone:          os.Getenv("REMINDER_TIMEZONE"),
		WorkerConcurrency: util.ParseIntEnv("WORKER_CONCURRENCY", DefaultWorkerConcurrency),
		PollInterval:      util.ParseDurationEnv("JOB_POLL_INTERVAL", DefaultPollInterval),
		MaintenanceCron:   os.Getenv("MAINTENANCE_CRON"),
		QuietHoursEnabled: util.ParseBoolEnv("QUIET_HOURS_ENABLED", true),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No REMINDPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.MaintenanceCron == "" {
		config.MaintenanceCron = scheduler.DefaultMaintenanceSpec
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REMINDPIPE_STATE_DIR", config.StateDir,
		"REDIS_ADDR", config.RedisAddr,
		"REDIS_PASSWORD_SET", config.RedisPassword != "",
		"API_ADDR", config.APIAddr,
		"REMINDER_TIMEZONE", config.Timezone,
		"WORKER_CONCURRENCY", config.WorkerConcurrency,
		"JOB_POLL_INTERVAL", config.PollInterval,
		"MAINTENANCE_CRON", config.MaintenanceCron,
		"QUIET_HOURS_ENABLED", config.QuietHoursEnabled)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config, args []string) (Flags, error) {
	fs := flag.NewFlagSet("RemindPipe", flag.ContinueOnError)
	flags := Flags{
		stateDir:        fs.String("state-dir", config.StateDir, "state directory for RemindPipe data (overrides $REMINDPIPE_STATE_DIR)"),
		dbDSN:           fs.String("db-dsn", config.DatabaseURL, "database DSN, Postgres URL or SQLite path; empty for in-memory (overrides $DATABASE_URL)"),
		redisAddr:       fs.String("redis-addr", config.RedisAddr, "Redis host:port for locks and idempotency marks (overrides $REDIS_ADDR)"),
		apiAddr:         fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		timezone:        fs.String("timezone", config.Timezone, "IANA time zone for quiet hours (overrides $REMINDER_TIMEZONE)"),
		concurrency:     fs.Int("concurrency", config.WorkerConcurrency, "reminder jobs processed at once (overrides $WORKER_CONCURRENCY)"),
		pollInterval:    fs.Duration("poll-interval", config.PollInterval, "how often due jobs are claimed (overrides $JOB_POLL_INTERVAL)"),
		maintenanceCron: fs.String("maintenance-cron", config.MaintenanceCron, "cron spec for purge and stale-job recovery (overrides $MAINTENANCE_CRON)"),
		quietHours:      fs.Bool("quiet-hours", config.QuietHoursEnabled, "suppress reminders between 21:00 and 08:00 (overrides $QUIET_HOURS_ENABLED)"),
	}

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"redisAddr", *flags.redisAddr,
		"apiAddr", *flags.apiAddr,
		"timezone", *flags.timezone,
		"concurrency", *flags.concurrency,
		"pollInterval", *flags.pollInterval,
		"maintenanceCron", *flags.maintenanceCron,
		"quietHours", *flags.quietHours)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags, nil
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if *flags.dbDSN == "" || store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, store.DefaultDirPermissions); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildRedisOptions constructs Redis configuration options
func buildRedisOptions(config Config, flags Flags) []store.RedisOption {
	redisOpts := []store.RedisOption{store.WithRedisAddr(*flags.redisAddr)}
	if config.RedisPassword != "" {
		redisOpts = append(redisOpts, store.WithRedisPassword(config.RedisPassword))
	}
	return redisOpts
}

// buildRunnerOptions constructs job runner options
func buildRunnerOptions(flags Flags) []store.RunnerOption {
	return []store.RunnerOption{
		store.WithConcurrency(*flags.concurrency),
		store.WithClaimLimit(*flags.concurrency * 2),
	}
}

// buildDispatcherOptions constructs reminder dispatcher options
func buildDispatcherOptions(flags Flags, m *metrics.Metrics) ([]reminder.DispatcherOption, error) {
	opts := []reminder.DispatcherOption{
		reminder.WithMetrics(m),
		reminder.WithQuietHoursEnabled(*flags.quietHours),
	}
	if tz := strings.TrimSpace(*flags.timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid time zone %q: %w", tz, err)
		}
		opts = append(opts, reminder.WithLocation(loc))
	}
	return opts, nil
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, m *metrics.Metrics) []api.Option {
	apiOpts := []api.Option{api.WithMetricsHandler(m.Handler())}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
