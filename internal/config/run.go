package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// DefaultThresholdDays applies when the settings store has no DATE.data key.
const DefaultThresholdDays = 7

// Credentials is a user/password pair.
type Credentials struct {
	Username string
	Password string
}

// RunConfiguration is the immutable per-run view of the settings store and
// the deployment configuration. It is loaded once at run start.
type RunConfiguration struct {
	API           Credentials
	Report        Credentials
	ThresholdDays int
	DigestEnabled bool

	DeviceAPIURL  string
	FetchAttempts int

	SMTPServer string
	SMTPPort   int
	From       string
	OpsAddress string
	MaxWorkers int

	CachePath     string
	OwnershipPath string
	ContactsPath  string
	LogoPath      string
	RunLogPath    string
	ReportPath    string
}

// ConfigError reports a missing or invalid configuration value.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// LoadRunConfiguration reads the settings store referenced by cfg and
// combines it with the deployment settings. Missing keys fall back to their
// defaults; missing credentials are a ConfigError.
func LoadRunConfiguration(cfg Config) (RunConfiguration, error) {
	file, err := loadSettings(cfg.Paths.Settings)
	if err != nil {
		return RunConfiguration{}, err
	}

	rc := RunConfiguration{
		ThresholdDays: DefaultThresholdDays,
		DeviceAPIURL:  cfg.DeviceAPI.URL,
		FetchAttempts: cfg.DeviceAPI.FetchAttempts,
		SMTPServer:    cfg.Email.SMTPServer,
		SMTPPort:      cfg.Email.SMTPPort,
		From:          cfg.Email.From,
		OpsAddress:    cfg.Email.OpsAddress,
		MaxWorkers:    cfg.Dispatch.MaxWorkers,
		CachePath:     cfg.Paths.Cache,
		OwnershipPath: cfg.Paths.Ownership,
		ContactsPath:  cfg.Paths.Contacts,
		LogoPath:      cfg.Paths.Logo,
		RunLogPath:    cfg.Paths.RunLog,
		ReportPath:    cfg.Paths.Report,
	}

	// Section and key names are case-insensitive: [API] Usuario == [api] usuario.
	api := file.Section("api")
	rc.API = Credentials{
		Username: api.Key("usuario").String(),
		Password: api.Key("senha").String(),
	}
	user := file.Section("user")
	rc.Report = Credentials{
		Username: strings.Trim(user.Key("usuario2").String(), `"`),
		Password: strings.Trim(user.Key("senha2").String(), `"`),
	}

	if raw := strings.TrimSpace(file.Section("date").Key("data").String()); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			return RunConfiguration{}, &ConfigError{Key: "DATE.data", Reason: fmt.Sprintf("not an integer: %q", raw)}
		}
		rc.ThresholdDays = days
	}
	rc.DigestEnabled = strings.TrimSpace(file.Section("desk").Key("escolha").String()) == "Sim"

	if err := rc.Validate(); err != nil {
		return RunConfiguration{}, err
	}
	return rc, nil
}

// Validate checks the values every run relies on.
func (rc RunConfiguration) Validate() error {
	if rc.API.Username == "" || rc.API.Password == "" {
		return &ConfigError{Key: "API.usuario/API.senha", Reason: "credentials not found in settings store"}
	}
	if rc.Report.Username == "" || rc.Report.Password == "" {
		return &ConfigError{Key: "USER.usuario2/USER.senha2", Reason: "credentials not found in settings store"}
	}
	if rc.ThresholdDays < 1 {
		return &ConfigError{Key: "DATE.data", Reason: fmt.Sprintf("must be at least 1, got %d", rc.ThresholdDays)}
	}
	if rc.SMTPServer == "" {
		return &ConfigError{Key: "SMTP_HOST", Reason: "not set"}
	}
	if rc.MaxWorkers < 1 {
		return &ConfigError{Key: "DISPATCH_WORKERS", Reason: "must be at least 1"}
	}
	return nil
}

func loadSettings(path string) (*ini.File, error) {
	opts := ini.LoadOptions{
		Insensitive:         true,
		IgnoreInlineComment: true,
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return ini.Empty(opts), nil
	}
	file, err := ini.LoadSources(opts, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings store %s: %w", path, err)
	}
	return file, nil
}
