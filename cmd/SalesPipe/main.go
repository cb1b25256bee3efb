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

	"github.com/BTreeMap/SalesPipe/internal/agents"
	"github.com/BTreeMap/SalesPipe/internal/api"
	"github.com/BTreeMap/SalesPipe/internal/evolution"
	"github.com/BTreeMap/SalesPipe/internal/flow"
	"github.com/BTreeMap/SalesPipe/internal/genai"
	"github.com/BTreeMap/SalesPipe/internal/inbound"
	"github.com/BTreeMap/SalesPipe/internal/leadinfo"
	"github.com/BTreeMap/SalesPipe/internal/lockfile"
	"github.com/BTreeMap/SalesPipe/internal/media"
	"github.com/BTreeMap/SalesPipe/internal/messaging"
	"github.com/BTreeMap/SalesPipe/internal/metrics"
	"github.com/BTreeMap/SalesPipe/internal/reply"
	"github.com/BTreeMap/SalesPipe/internal/store"
	"github.com/BTreeMap/SalesPipe/internal/threads"
	"github.com/BTreeMap/SalesPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/SalesPipe/internal/util"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for SalesPipe state data
	DefaultStateDir = "/var/lib/salespipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "salespipe.db"
	// DefaultLogLevel is used when LOG_LEVEL is unset or invalid
	DefaultLogLevel = "debug"

	GatewayEvolution = "evolution"
	GatewayTwilio    = "twilio"
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Initialize structured logger
	initializeLogger(flags.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping SalesPipe with configured modules")
	if err := run(ctx, config, flags); err != nil {
		slog.Error("SalesPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SalesPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL        string
	StateDir           string
	OpenAIKey          string
	OpenAIModel        string
	APIAddr            string
	LogLevel           string
	Gateway            string
	RedisURL           string
	CatalogFile        string
	ThreadCacheTTL     time.Duration
	ThumbnailMaxSize   int
	HistoryLimit       int
	LeadExtractionSync bool
	MarkerPrecedence   string
	InboundDedup       bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir    string
	dbDSN       string
	openaiKey   string
	openaiModel string
	apiAddr     string
	logLevel    string
	gateway     string
	redisURL    string
	catalogFile string
}

// initializeLogger sets up structured logging on stdout at the given level
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	slog.Debug("logger initialized", "level", lvl.String())
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		StateDir:           os.Getenv("SALESPIPE_STATE_DIR"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        os.Getenv("OPENAI_MODEL"),
		APIAddr:            os.Getenv("API_ADDR"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		Gateway:            os.Getenv("GATEWAY"),
		RedisURL:           os.Getenv("REDIS_URL"),
		CatalogFile:        os.Getenv("PRODUCT_CATALOG_FILE"),
		ThreadCacheTTL:     util.ParseDurationEnv("THREAD_CACHE_TTL", 0),
		ThumbnailMaxSize:   util.ParseIntEnv("THUMBNAIL_MAX_SIZE", media.DefaultThumbnailSize),
		HistoryLimit:       util.ParseIntEnv("HISTORY_LIMIT", threads.DefaultHistoryLimit),
		LeadExtractionSync: util.ParseBoolEnv("LEAD_EXTRACTION_SYNC", false),
		MarkerPrecedence:   os.Getenv("LEAD_MARKER_PRECEDENCE"),
		InboundDedup:       util.ParseBoolEnv("INBOUND_DEDUP", true),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SALESPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.OpenAIModel == "" {
		config.OpenAIModel = genai.DefaultModel
	}
	if config.LogLevel == "" {
		config.LogLevel = DefaultLogLevel
	}
	if config.Gateway == "" {
		config.Gateway = GatewayEvolution
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"SALESPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"API_ADDR", config.APIAddr,
		"GATEWAY", config.Gateway,
		"REDIS_URL_SET", config.RedisURL != "",
		"HISTORY_LIMIT", config.HistoryLimit,
		"LEAD_MARKER_PRECEDENCE", config.MarkerPrecedence,
		"INBOUND_DEDUP", config.InboundDedup)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	var flags Flags
	fs.StringVar(&flags.stateDir, "state-dir", config.StateDir, "state directory for SalesPipe data (overrides $SALESPIPE_STATE_DIR)")
	fs.StringVar(&flags.dbDSN, "db-dsn", config.DatabaseURL, "database DSN, postgres URL or SQLite path (overrides $DATABASE_URL)")
	fs.StringVar(&flags.openaiKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&flags.openaiModel, "openai-model", config.OpenAIModel, "chat model for agents and classifications (overrides $OPENAI_MODEL)")
	fs.StringVar(&flags.apiAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&flags.logLevel, "log-level", config.LogLevel, "log level: debug, info, warn, error (overrides $LOG_LEVEL)")
	fs.StringVar(&flags.gateway, "gateway", config.Gateway, "messaging gateway: evolution or twilio (overrides $GATEWAY)")
	fs.StringVar(&flags.redisURL, "redis-url", config.RedisURL, "redis URL for the shared thread cache (overrides $REDIS_URL)")
	fs.StringVar(&flags.catalogFile, "catalog-file", config.CatalogFile, "JSON product catalogue to seed at startup (overrides $PRODUCT_CATALOG_FILE)")

	if err := fs.Parse(args); err != nil {
		return flags, err
	}

	// Update database DSN if not explicitly set but state directory is provided
	if flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && flags.stateDir != config.StateDir {
		flags.dbDSN = filepath.Join(flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", flags.stateDir)
	}
	return flags, nil
}

// ensureDirectoriesExist creates the directory of a file-based DSN
func ensureDirectoriesExist(flags Flags) error {
	if flags.dbDSN == "" || store.DetectDSNType(flags.dbDSN) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory %s: %w", stateDir, err)
	}
	return nil
}

// buildGateway selects the outbound transport. Missing credentials yield a
// gateway that reports messaging.ErrNotConfigured instead of failing startup.
func buildGateway(name string) (messaging.Gateway, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", GatewayEvolution:
		return evolution.NewClient(), nil
	case GatewayTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			slog.Error("Twilio client not configured, sends will fail", "error", err)
			return messaging.NewTwilioGateway(nil), nil
		}
		return messaging.NewTwilioGateway(client), nil
	default:
		return nil, fmt.Errorf("unknown gateway %q (want %s or %s)", name, GatewayEvolution, GatewayTwilio)
	}
}

// buildGenAI returns a configured client, or the zero client that reports
// genai.ErrNotConfigured from every call.
func buildGenAI(flags Flags) *genai.Client {
	var opts []genai.Option
	if flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(flags.openaiKey))
	}
	if flags.openaiModel != "" {
		opts = append(opts, genai.WithModel(flags.openaiModel))
	}
	client, err := genai.NewClient(opts...)
	if err != nil {
		slog.Warn("GenAI client not configured, LLM calls will fail", "error", err)
		return &genai.Client{}
	}
	return client
}

// buildThreadCache returns a redis-backed cache when a URL is set, else an in-process map.
func buildThreadCache(redisURL string, ttl time.Duration) (threads.Cache, func() error, error) {
	if redisURL == "" {
		return threads.NewMemoryCache(), func() error { return nil }, nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	slog.Info("Using redis thread cache", "addr", opt.Addr, "ttl", ttl)
	return threads.NewRedisCache(client, ttl), client.Close, nil
}

func parsePrecedence(config Config) leadinfo.Precedence {
	p, err := leadinfo.ParsePrecedence(config.MarkerPrecedence)
	if err != nil {
		slog.Warn("Invalid LEAD_MARKER_PRECEDENCE, using override", "error", err)
		return leadinfo.PrecedenceOverride
	}
	return p
}

// run wires the modules and serves until ctx is cancelled.
func run(ctx context.Context, config Config, flags Flags) error {
	if err := ensureDirectoriesExist(flags); err != nil {
		return err
	}
	if flags.dbDSN != "" && store.DetectDSNType(flags.dbDSN) != "postgres" {
		lock, err := lockfile.Acquire(filepath.Dir(flags.dbDSN))
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				slog.Error("failed to release state directory lock", "error", err)
			}
		}()
	}

	st, err := store.Open(flags.dbDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	}()
	if flags.catalogFile != "" {
		if _, err := store.SeedCatalogFile(ctx, st, flags.catalogFile); err != nil {
			return err
		}
	}

	m := metrics.New(nil)
	rawGateway, err := buildGateway(flags.gateway)
	if err != nil {
		return err
	}
	gateway := messaging.NewInstrumentedGateway(rawGateway, m)
	llm := buildGenAI(flags)

	cache, closeCache, err := buildThreadCache(flags.redisURL, config.ThreadCacheTTL)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeCache(); err != nil && !errors.Is(err, redis.ErrClosed) {
			slog.Error("failed to close redis client", "error", err)
		}
	}()

	set := agents.NewSet(flags.openaiModel, st, gateway)
	salesFlow := flow.NewSalesFlow(flow.Deps{
		Leads:      st,
		Threads:    st,
		Dedup:      st,
		Cache:      cache,
		Classifier: inbound.NewClassifier(gateway, llm, llm, config.ThumbnailMaxSize),
		Router:     agents.NewRouter(agents.NewRunner(llm, flags.openaiModel), set, st, m),
		Sequencer:  reply.NewSequencer(gateway, llm, st),
		Extractor:  leadinfo.NewExtractor(llm),
		Metrics:    m,
	},
		flow.WithHistoryLimit(config.HistoryLimit),
		flow.WithLeadExtractionSync(config.LeadExtractionSync),
		flow.WithMarkerPrecedence(parsePrecedence(config)),
		flow.WithDedup(config.InboundDedup),
	)

	var apiOpts []api.Option
	if flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(flags.apiAddr))
	}
	slog.Debug("Final configuration", "state_dir", flags.stateDir, "dsn_set", flags.dbDSN != "", "api_addr", flags.apiAddr, "gateway", flags.gateway)

	err = api.NewServer(salesFlow, apiOpts...).Run(ctx)
	slog.Info("Waiting for background tasks")
	salesFlow.Wait()
	return err
}
