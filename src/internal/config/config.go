package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

const (
	EngineEino   = "eino"
	EngineOpenAI = "openai"

	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	CalendarDisabled = "disabled"
	CalendarLocal    = "local"
	CalendarGoogle   = "google"
)

type Config struct {
	Models        ModelsConfig        `mapstructure:"models" json:"models"`
	Agents        AgentsConfig        `mapstructure:"agents" json:"agents"`
	Server        ServerConfig        `mapstructure:"server" json:"server"`
	StorageDir    string              `mapstructure:"storage_dir" json:"storage_dir"`
	Reminders     RemindersConfig     `mapstructure:"reminders" json:"reminders"`
	Tools         ToolsConfig         `mapstructure:"tools" json:"tools"`
	Channels      ChannelsConfig      `mapstructure:"channels" json:"channels"`
	Email         EmailConfig         `mapstructure:"email" json:"email"`
	Notifications NotificationsConfig `mapstructure:"notifications" json:"notifications"`
}

type ModelsConfig struct {
	Mode      string                    `mapstructure:"mode" json:"mode"`
	Providers map[string]ProviderConfig `mapstructure:"providers" json:"providers"`
}

type ProviderConfig struct {
	BaseURL string        `mapstructure:"baseUrl" json:"baseUrl"`
	APIKey  string        `mapstructure:"apiKey" json:"apiKey,omitempty"`
	API     string        `mapstructure:"api" json:"api"`
	Models  []ModelConfig `mapstructure:"models" json:"models"`
}

type ModelConfig struct {
	ID            string `mapstructure:"id" json:"id"`
	Name          string `mapstructure:"name" json:"name"`
	ContextWindow int    `mapstructure:"contextWindow" json:"contextWindow"`
	MaxTokens     int    `mapstructure:"maxTokens" json:"maxTokens"`
}

type AgentsConfig struct {
	Defaults      AgentDefaults `mapstructure:"defaults" json:"defaults"`
	MaxIterations int           `mapstructure:"max_iterations" json:"max_iterations"`
	HistoryWindow int           `mapstructure:"history_window" json:"history_window"`
	ModelTimeout  time.Duration `mapstructure:"model_timeout" json:"model_timeout"`
	ToolTimeout   time.Duration `mapstructure:"tool_timeout" json:"tool_timeout"`
	Debug         bool          `mapstructure:"debug" json:"debug"`
}

type AgentDefaults struct {
	Model  ModelSelection `mapstructure:"model" json:"model"`
	Engine string         `mapstructure:"engine" json:"engine"`
}

type ModelSelection struct {
	Primary   string   `mapstructure:"primary" json:"primary"`
	Fallbacks []string `mapstructure:"fallbacks" json:"fallbacks"`
}

type ServerConfig struct {
	Addr          string `mapstructure:"addr" json:"addr"`
	Key           string `mapstructure:"key" json:"key"`
	AdminUser     string `mapstructure:"admin_user" json:"admin_user"`
	AdminPass     string `mapstructure:"admin_pass" json:"-"`
	EffectiveHost string `mapstructure:"-" json:"effectiveHost"`
	Port          int    `mapstructure:"-" json:"port"`
}

// RemindersConfig selects the task store and the timezone used for
// zone-less dates and recurrence arithmetic.
type RemindersConfig struct {
	Driver   string `mapstructure:"driver" json:"driver"`
	DSN      string `mapstructure:"dsn" json:"dsn,omitempty"`
	Timezone string `mapstructure:"timezone" json:"timezone"`
}

// Location resolves Timezone, falling back to the process local zone.
func (c RemindersConfig) Location() *time.Location {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

type ToolsConfig struct {
	WebSearchEnabled bool           `mapstructure:"web_search_enabled" json:"web_search_enabled"`
	Calendar         CalendarConfig `mapstructure:"calendar" json:"calendar"`
	ContactsFile     string         `mapstructure:"contacts_file" json:"contacts_file"`
}

type CalendarConfig struct {
	Provider        string `mapstructure:"provider" json:"provider"`
	CredentialsFile string `mapstructure:"credentials_file" json:"credentials_file,omitempty"`
	CalendarID      string `mapstructure:"calendar_id" json:"calendar_id,omitempty"`
}

type WhatsappConfig struct {
	Enabled   bool     `mapstructure:"enabled" json:"enabled"`
	Allowlist []string `mapstructure:"allowlist" json:"allowlist"`
	Blocklist []string `mapstructure:"blocklist" json:"blocklist"`
}

type IRCConfig struct {
	Enabled   bool     `mapstructure:"enabled" json:"enabled"`
	Host      string   `mapstructure:"host" json:"host"`
	Port      int      `mapstructure:"port" json:"port"`
	TLS       bool     `mapstructure:"tls" json:"tls"`
	Nick      string   `mapstructure:"nick" json:"nick"`
	User      string   `mapstructure:"user" json:"user"`
	Realname  string   `mapstructure:"realname" json:"realname"`
	Channels  []string `mapstructure:"channels" json:"channels"`
	Password  string   `mapstructure:"password" json:"-"`
	Allowlist []string `mapstructure:"allowlist" json:"allowlist"`
	Blocklist []string `mapstructure:"blocklist" json:"blocklist"`
}

type ChannelsConfig struct {
	Whatsapp WhatsappConfig `mapstructure:"whatsapp" json:"whatsapp"`
	IRC      IRCConfig      `mapstructure:"irc" json:"irc"`
}

type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host" json:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port" json:"smtp_port"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"-"`
	From     string `mapstructure:"from" json:"from"`
}

// Enabled reports whether enough is configured to send mail.
func (c EmailConfig) Enabled() bool {
	return c.SMTPHost != "" && c.From != ""
}

// NotificationsConfig routes fired reminder alerts to a channel in addition
// to connected stream clients. Channel is empty, "whatsapp" or "irc".
type NotificationsConfig struct {
	Channel string `mapstructure:"channel" json:"channel"`
	Target  string `mapstructure:"target" json:"target"`
}

// Validate checks the loaded configuration for values the gateway cannot work with.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Agents,
		validation.Field(&c.Agents.MaxIterations, validation.Required, validation.Min(1)),
		validation.Field(&c.Agents.HistoryWindow, validation.Min(0)),
		validation.Field(&c.Agents.ModelTimeout, validation.Required),
		validation.Field(&c.Agents.ToolTimeout, validation.Required),
	); err != nil {
		return fmt.Errorf("agents: %w", err)
	}
	if err := validation.ValidateStruct(&c.Agents.Defaults,
		validation.Field(&c.Agents.Defaults.Engine, validation.In(EngineEino, EngineOpenAI)),
	); err != nil {
		return fmt.Errorf("agents.defaults: %w", err)
	}
	if err := validation.ValidateStruct(&c.Reminders,
		validation.Field(&c.Reminders.Driver, validation.Required, validation.In(DriverMemory, DriverSQLite, DriverPostgres)),
		validation.Field(&c.Reminders.DSN, validation.When(c.Reminders.Driver == DriverPostgres, validation.Required)),
		validation.Field(&c.Reminders.Timezone, validation.By(validTimezone)),
	); err != nil {
		return fmt.Errorf("reminders: %w", err)
	}
	cal := &c.Tools.Calendar
	if err := validation.ValidateStruct(cal,
		validation.Field(&cal.Provider, validation.In(CalendarDisabled, CalendarLocal, CalendarGoogle)),
		validation.Field(&cal.CredentialsFile, validation.When(cal.Provider == CalendarGoogle, validation.Required)),
		validation.Field(&cal.CalendarID, validation.When(cal.Provider == CalendarGoogle, validation.Required)),
	); err != nil {
		return fmt.Errorf("tools.calendar: %w", err)
	}
	if err := validation.ValidateStruct(&c.Notifications,
		validation.Field(&c.Notifications.Channel, validation.In("whatsapp", "irc")),
		validation.Field(&c.Notifications.Target, validation.When(c.Notifications.Channel != "", validation.Required)),
	); err != nil {
		return fmt.Errorf("notifications: %w", err)
	}
	return nil
}

func validTimezone(value interface{}) error {
	tz, _ := value.(string)
	if tz == "" || strings.EqualFold(tz, "local") {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return errors.New("unknown timezone")
	}
	return nil
}

func setDefaults(appDir string) {
	viper.SetDefault("server.addr", "127.0.0.1:8080")
	viper.SetDefault("agents.defaults.engine", EngineEino)
	viper.SetDefault("agents.max_iterations", 5)
	viper.SetDefault("agents.history_window", 10)
	viper.SetDefault("agents.model_timeout", "60s")
	viper.SetDefault("agents.tool_timeout", "20s")
	viper.SetDefault("reminders.driver", DriverSQLite)
	viper.SetDefault("reminders.timezone", "Local")
	viper.SetDefault("tools.web_search_enabled", true)
	viper.SetDefault("tools.calendar.provider", CalendarLocal)
	viper.SetDefault("tools.contacts_file", filepath.Join(appDir, "contacts.yaml"))
	viper.SetDefault("email.smtp_port", 587)
	viper.SetDefault("channels.irc.port", 6697)
}

func Load(override string) (*Config, error) {
	viper.Reset()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	appDir := filepath.Join(home, ".nudge")

	// Environment overrides
	if envDir := os.Getenv("NUDGE_STORAGE_DIR"); envDir != "" {
		appDir = envDir
	}
	if _, err := os.Stat(appDir); os.IsNotExist(err) {
		_ = os.MkdirAll(appDir, 0755)
	}

	setDefaults(appDir)

	if override != "" {
		viper.SetConfigFile(override)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(appDir)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(override != "" && os.IsNotExist(err)) {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Compute effective host/port from addr
	host, portStr, err := net.SplitHostPort(cfg.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid server.addr %q: %w", cfg.Server.Addr, err)
	}
	cfg.Server.EffectiveHost = host
	if cfg.Server.EffectiveHost == "" {
		cfg.Server.EffectiveHost = "0.0.0.0"
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q in server.addr %q: %w", portStr, cfg.Server.Addr, err)
	}
	cfg.Server.Port = p

	if cfg.StorageDir == "" {
		cfg.StorageDir = appDir
	}
	if strings.HasPrefix(cfg.StorageDir, "~/") {
		cfg.StorageDir = filepath.Join(home, cfg.StorageDir[2:])
	}

	// Override API keys from inline placeholders ($VAR) or default environment variables
	for p, prov := range cfg.Models.Providers {
		prov.APIKey = resolveSecret(prov.APIKey, strings.ToUpper(p)+"_API_KEY")
		cfg.Models.Providers[p] = prov
	}
	cfg.Email.Password = resolveSecret(cfg.Email.Password, "NUDGE_SMTP_PASSWORD")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveSecret(value, fallbackEnv string) string {
	if strings.HasPrefix(value, "$") {
		return os.Getenv(strings.TrimPrefix(value, "$"))
	}
	if value == "" {
		return os.Getenv(fallbackEnv)
	}
	return value
}

// ResolveModel splits a "provider/model" selection and returns the provider
// config for it. A bare model id is looked up across all providers.
func (c *Config) ResolveModel(selection string) (ProviderConfig, string, error) {
	if provider, model, ok := strings.Cut(selection, "/"); ok {
		prov, exists := c.Models.Providers[provider]
		if !exists {
			return ProviderConfig{}, "", fmt.Errorf("unknown provider %q", provider)
		}
		return prov, model, nil
	}
	for _, prov := range c.Models.Providers {
		for _, m := range prov.Models {
			if m.ID == selection {
				return prov, selection, nil
			}
		}
	}
	return ProviderConfig{}, "", fmt.Errorf("model %q not found in any provider", selection)
}

func Save(cfg *Config) error {
	// Ensure storage directory exists
	if _, err := os.Stat(cfg.StorageDir); os.IsNotExist(err) {
		if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
			return err
		}
	}

	viper.Set("models.mode", cfg.Models.Mode)
	for p, prov := range cfg.Models.Providers {
		viper.Set("models.providers."+p+".baseUrl", prov.BaseURL)
		viper.Set("models.providers."+p+".apiKey", prov.APIKey)
		viper.Set("models.providers."+p+".api", prov.API)
		for i, m := range prov.Models {
			key := "models.providers." + p + ".models." + strconv.Itoa(i)
			viper.Set(key+".id", m.ID)
			viper.Set(key+".name", m.Name)
			viper.Set(key+".contextWindow", m.ContextWindow)
			viper.Set(key+".maxTokens", m.MaxTokens)
		}
	}
	viper.Set("agents.defaults.model.primary", cfg.Agents.Defaults.Model.Primary)
	viper.Set("agents.defaults.model.fallbacks", cfg.Agents.Defaults.Model.Fallbacks)
	viper.Set("agents.defaults.engine", cfg.Agents.Defaults.Engine)
	viper.Set("agents.max_iterations", cfg.Agents.MaxIterations)
	viper.Set("agents.history_window", cfg.Agents.HistoryWindow)
	viper.Set("agents.model_timeout", cfg.Agents.ModelTimeout.String())
	viper.Set("agents.tool_timeout", cfg.Agents.ToolTimeout.String())
	viper.Set("server.addr", cfg.Server.Addr)
	viper.Set("server.key", cfg.Server.Key)
	viper.Set("reminders.driver", cfg.Reminders.Driver)
	viper.Set("reminders.timezone", cfg.Reminders.Timezone)
	viper.Set("tools.web_search_enabled", cfg.Tools.WebSearchEnabled)
	viper.Set("tools.calendar.provider", cfg.Tools.Calendar.Provider)
	viper.Set("tools.contacts_file", cfg.Tools.ContactsFile)
	viper.Set("channels.whatsapp.enabled", cfg.Channels.Whatsapp.Enabled)
	viper.Set("channels.irc.enabled", cfg.Channels.IRC.Enabled)
	viper.Set("storage_dir", cfg.StorageDir)

	configPath := filepath.Join(cfg.StorageDir, "config.yaml")
	viper.SetConfigType("yaml")
	return viper.WriteConfigAs(configPath)
}
