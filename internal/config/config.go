package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds deployment configuration loaded from environment.
type Config struct {
	Paths struct {
		Resources string
		Settings  string
		Cache     string
		Ownership string
		Contacts  string
		Logo      string
		RunLog    string
		Report    string
	}
	DeviceAPI struct {
		URL           string
		FetchAttempts int
	}
	Email struct {
		SMTPServer string
		SMTPPort   int
		From       string
		OpsAddress string
	}
	API struct {
		Port     string
		BasePath string
	}
	Kafka struct {
		Broker  string
		Topic   string
		GroupID string
	}
	DB struct {
		DSN string
	}
	Telegram struct {
		BotToken string
		ChatID   int64
	}
	Logging struct {
		Dir   string
		Level string
	}
	Dispatch struct {
		MaxWorkers int
	}
	Schedule string
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config

	// Files
	cfg.Paths.Resources = getEnv("RESOURCES_DIR", "resources")
	cfg.Paths.Settings = getEnv("SETTINGS_FILE", filepath.Join(cfg.Paths.Resources, "config.ini"))
	cfg.Paths.Cache = getEnv("DEVICE_CACHE_FILE", filepath.Join(cfg.Paths.Resources, "dados_api.json"))
	cfg.Paths.Ownership = getEnv("OWNERSHIP_FILE", filepath.Join(cfg.Paths.Resources, "TERMOS.xlsx"))
	cfg.Paths.Contacts = getEnv("CONTACTS_FILE", filepath.Join(cfg.Paths.Resources, "CONTATOS.xlsx"))
	cfg.Paths.Logo = getEnv("LOGO_FILE", filepath.Join(cfg.Paths.Resources, "urmobo.png"))
	cfg.Paths.RunLog = getEnv("RUN_LOG_FILE", "log.txt")
	cfg.Paths.Report = getEnv("REPORT_FILE", "aparelhos_inativos.xlsx")

	// Device API
	cfg.DeviceAPI.URL = getEnv("DEVICE_API_URL", "https://integracao.urmobo.com.br/equipamentos")
	if n, err := strconv.Atoi(os.Getenv("FETCH_ATTEMPTS")); err == nil {
		cfg.DeviceAPI.FetchAttempts = n
	}

	// Email settings
	cfg.Email.SMTPServer = os.Getenv("SMTP_HOST")
	if p, err := strconv.Atoi(os.Getenv("SMTP_PORT")); err == nil {
		cfg.Email.SMTPPort = p
	}
	cfg.Email.From = getEnv("MAIL_FROM", "ti@sirtec.com.br")
	cfg.Email.OpsAddress = os.Getenv("OPS_EMAIL")

	// API settings
	cfg.API.Port = os.Getenv("API_PORT")
	cfg.API.BasePath = os.Getenv("API_BASE_PATH")

	// Kafka settings
	cfg.Kafka.Broker = os.Getenv("KAFKA_BROKER")
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", "device_notifier_runs")
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", "device-notifier")

	// Database DSN
	cfg.DB.DSN = os.Getenv("DB_DSN")

	// Telegram ops chat
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, &ConfigError{Key: "TELEGRAM_CHAT_ID", Reason: fmt.Sprintf("not an integer: %q", raw)}
		}
		cfg.Telegram.ChatID = id
	}

	// Logging
	cfg.Logging.Dir = getEnv("LOG_DIR", "logs")
	cfg.Logging.Level = getEnv("LOG_LEVEL", "info")

	if mw, err := strconv.Atoi(os.Getenv("DISPATCH_WORKERS")); err == nil {
		cfg.Dispatch.MaxWorkers = mw
	}

	cfg.Schedule = os.Getenv("RUN_SCHEDULE")

	// Validate
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID == 0 {
		return Config{}, &ConfigError{Key: "TELEGRAM_CHAT_ID", Reason: "required when TELEGRAM_BOT_TOKEN is set"}
	}
	if cfg.DeviceAPI.FetchAttempts < 0 || cfg.Dispatch.MaxWorkers < 0 {
		return Config{}, &ConfigError{Key: "FETCH_ATTEMPTS/DISPATCH_WORKERS", Reason: "must not be negative"}
	}

	// Apply defaults
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = 465
	}
	if cfg.DeviceAPI.FetchAttempts == 0 {
		cfg.DeviceAPI.FetchAttempts = 1
	}
	if cfg.Dispatch.MaxWorkers == 0 {
		cfg.Dispatch.MaxWorkers = 1
	}
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api/v0"
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
