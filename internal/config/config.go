// Package config defines the configuration contract and handles loading and
// validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken         = "TELEGRAM_TOKEN"
	KeyBotOwner              = "BOT_OWNER"
	KeyAdminIDs              = "ADMIN_IDS"
	KeyMongoURI              = "MONGO_URI"
	KeyMongoDB               = "MONGO_DB"
	KeyAppEnv                = "APP_ENV"
	KeyLogLevel              = "LOG_LEVEL"
	KeyHTTPPort              = "HTTP_PORT"
	KeyScheduleSweepInterval = "SCHEDULE_SWEEP_INTERVAL"
	KeyBroadcastSendInterval = "BROADCAST_SEND_INTERVAL"
	KeyBroadcastTimeout      = "BROADCAST_TIMEOUT"
	KeyWalletSessionTTL      = "WALLET_SESSION_TTL"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv                = EnvProduction
	DefaultLogLevel              = "info"
	DefaultHTTPPort              = 8080
	DefaultScheduleSweepInterval = 5 * time.Second
	DefaultBroadcastSendInterval = 50 * time.Millisecond
	DefaultBroadcastTimeout      = 30 * time.Minute
	DefaultWalletSessionTTL      = 10 * time.Minute

	// MinScheduleSweepInterval is the cron scheduler resolution.
	MinScheduleSweepInterval = time.Second

	// Recommended database names by environment.
	DefaultMongoDBProd = "ton_wallet_bot"
	DefaultMongoDBDev  = "ton_wallet_bot_dev"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyBotOwner,
		Example:     "123456789",
		Required:    true,
		Description: "Super admin Telegram user_id with owner privileges.",
	},
	{
		Key:         KeyAdminIDs,
		Example:     "111,222",
		Description: "Comma-separated Telegram user_ids granted the admin role at startup.",
		Notes:       "Admins may also be promoted in the database; this list is additive.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Required:    true,
		Description: "MongoDB connection string.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Required:    true,
		Description: "MongoDB database name.",
		Notes:       "Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/diagnostics port.",
	},
	{
		Key:         KeyScheduleSweepInterval,
		Example:     "10s",
		Default:     DefaultScheduleSweepInterval.String(),
		Description: "How often due broadcast tasks are collected.",
		Notes:       "Minimum " + MinScheduleSweepInterval.String() + ".",
	},
	{
		Key:         KeyBroadcastSendInterval,
		Example:     "100ms",
		Default:     DefaultBroadcastSendInterval.String(),
		Description: "Minimum spacing between two messages of one broadcast.",
	},
	{
		Key:         KeyBroadcastTimeout,
		Example:     "1h",
		Default:     DefaultBroadcastTimeout.String(),
		Description: "Upper bound for a single broadcast dispatch; 0 disables the bound.",
	},
	{
		Key:         KeyWalletSessionTTL,
		Example:     "5m",
		Default:     DefaultWalletSessionTTL.String(),
		Description: "How long a pending wallet connection waits for the address.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken         string
	BotOwnerID            int64
	AdminIDs              []int64
	MongoURI              string
	MongoDB               string
	AppEnv                string
	LogLevel              string
	HTTPPort              int
	ScheduleSweepInterval time.Duration
	BroadcastSendInterval time.Duration
	BroadcastTimeout      time.Duration
	WalletSessionTTL      time.Duration
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:                firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:         strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		MongoURI:              strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:               strings.TrimSpace(os.Getenv(KeyMongoDB)),
		LogLevel:              firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:              DefaultHTTPPort,
		ScheduleSweepInterval: DefaultScheduleSweepInterval,
		BroadcastSendInterval: DefaultBroadcastSendInterval,
		BroadcastTimeout:      DefaultBroadcastTimeout,
		WalletSessionTTL:      DefaultWalletSessionTTL,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	ownerRaw := strings.TrimSpace(os.Getenv(KeyBotOwner))
	if ownerRaw == "" {
		missing = append(missing, KeyBotOwner)
	} else {
		ownerID, parseErr := strconv.ParseInt(ownerRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyBotOwner, parseErr)
		}
		cfg.BotOwnerID = ownerID
	}

	if cfg.MongoURI == "" {
		missing = append(missing, KeyMongoURI)
	}

	if cfg.MongoDB == "" {
		missing = append(missing, KeyMongoDB)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if err := validateMongoURI(cfg.MongoURI); err != nil {
		return Config{}, err
	}

	adminIDs, err := parseIDList(os.Getenv(KeyAdminIDs))
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyAdminIDs, err)
	}
	cfg.AdminIDs = adminIDs

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	if cfg.ScheduleSweepInterval, err = durationFromEnv(KeyScheduleSweepInterval, DefaultScheduleSweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.ScheduleSweepInterval < MinScheduleSweepInterval {
		return Config{}, fmt.Errorf("%s must be at least %s", KeyScheduleSweepInterval, MinScheduleSweepInterval)
	}

	if cfg.BroadcastSendInterval, err = durationFromEnv(KeyBroadcastSendInterval, DefaultBroadcastSendInterval); err != nil {
		return Config{}, err
	}
	if cfg.BroadcastSendInterval < 0 {
		return Config{}, fmt.Errorf("%s must not be negative", KeyBroadcastSendInterval)
	}

	if cfg.BroadcastTimeout, err = durationFromEnv(KeyBroadcastTimeout, DefaultBroadcastTimeout); err != nil {
		return Config{}, err
	}
	if cfg.BroadcastTimeout < 0 {
		return Config{}, fmt.Errorf("%s must not be negative", KeyBroadcastTimeout)
	}

	if cfg.WalletSessionTTL, err = durationFromEnv(KeyWalletSessionTTL, DefaultWalletSessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.WalletSessionTTL <= 0 {
		return Config{}, fmt.Errorf("%s must be greater than 0", KeyWalletSessionTTL)
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the configuration for operators with secrets masked.
func FormatRedacted(cfg Config) string {
	adminIDs := make([]string, 0, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		adminIDs = append(adminIDs, strconv.FormatInt(id, 10))
	}

	lines := []string{
		"telegram_token: " + redactToken(cfg.TelegramToken),
		"bot_owner: " + strconv.FormatInt(cfg.BotOwnerID, 10),
		"admin_ids: " + strings.Join(adminIDs, ","),
		"mongo_uri: " + redactMongoURI(cfg.MongoURI),
		"mongo_db: " + cfg.MongoDB,
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
		"schedule_sweep_interval: " + cfg.ScheduleSweepInterval.String(),
		"broadcast_send_interval: " + cfg.BroadcastSendInterval.String(),
		"broadcast_timeout: " + cfg.BroadcastTimeout.String(),
		"wallet_session_ttl: " + cfg.WalletSessionTTL.String(),
	}

	return strings.Join(lines, "\n")
}

func redactToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "redacted"
	}
	return token[:4] + "...redacted"
}

func redactMongoURI(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "redacted"
	}
	parsed.User = nil
	return parsed.String()
}

func validateMongoURI(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", KeyMongoURI, err)
	}
	if parsed.Scheme != "mongodb" && parsed.Scheme != "mongodb+srv" {
		return fmt.Errorf("invalid %s: scheme must be mongodb or mongodb+srv", KeyMongoURI)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid %s: host is required", KeyMongoURI)
	}
	return nil
}

func parseIDList(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	seen := make(map[int64]struct{})
	ids := make([]int64, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		if id == 0 {
			return nil, errors.New("user id must not be 0")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	return ids, nil
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return value, nil
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
