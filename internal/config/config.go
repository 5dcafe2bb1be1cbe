package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultDataDir        = "server_data"
	DefaultModel          = "gemini-2.5-flash"
	DefaultStatusMessage  = "Powered by Gemini 2.5"
	DefaultMaxText        = 100000
	DefaultMaxImages      = 5
	DefaultMaxMessages    = 25
	DefaultMaxURLs        = 3
	DefaultMaxUserDescLen = 500
	DefaultSystemPrompt   = "You are a helpful assistant. Today's date is {date} and the current time is {time}."
)

// AvailableModels lists the Gemini models the /model command may switch between.
func AvailableModels() []string {
	return []string{"gemini-2.5-flash", "gemini-2.5-pro"}
}

type Config struct {
	BotToken     string `toml:"bot_token" validate:"required"`
	GeminiAPIKey string `toml:"gemini_api_key" validate:"required"`
	ClientID     string `toml:"client_id"`

	StatusMessage string `toml:"status_message"`
	DataDir       string `toml:"data_dir"`

	AllowDMs            bool   `toml:"allow_dms"`
	DefaultModel        string `toml:"default_model"`
	DefaultSystemPrompt string `toml:"default_system_prompt"`

	MaxText        int `toml:"max_text" validate:"gt=0"`
	MaxImages      int `toml:"max_images" validate:"gte=0"`
	MaxMessages    int `toml:"max_messages" validate:"gt=0"`
	MaxURLs        int `toml:"max_urls" validate:"gte=0"`
	MaxUserDescLen int `toml:"max_user_description_length" validate:"gt=0"`

	UsePlainResponses bool `toml:"use_plain_responses"`

	Log         LogConfig   `toml:"log"`
	Permissions Permissions `toml:"permissions"`

	path string
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Permissions struct {
	Users    UserScope  `toml:"users"`
	Roles    ScopeRules `toml:"roles"`
	Channels ScopeRules `toml:"channels"`
}

type ScopeRules struct {
	AllowedIDs []string `toml:"allowed_ids"`
	BlockedIDs []string `toml:"blocked_ids"`
}

type UserScope struct {
	ScopeRules
	AdminIDs []string `toml:"admin_ids"`
}

func defaults() Config {
	return Config{
		StatusMessage:       DefaultStatusMessage,
		DataDir:             DefaultDataDir,
		AllowDMs:            true,
		DefaultModel:        DefaultModel,
		DefaultSystemPrompt: DefaultSystemPrompt,
		MaxText:             DefaultMaxText,
		MaxImages:           DefaultMaxImages,
		MaxMessages:         DefaultMaxMessages,
		MaxURLs:             DefaultMaxURLs,
		MaxUserDescLen:      DefaultMaxUserDescLen,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultConfigPath
	}
	cfg.path = path

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// ReloadPermissions re-reads the config file and returns the current
// permissions block plus the allow_dms flag, so moderation edits take effect
// without a restart. On read failure the startup snapshot is returned.
func (c Config) ReloadPermissions() (Permissions, bool) {
	fresh := defaults()
	if _, err := toml.DecodeFile(c.path, &fresh); err != nil {
		return c.Permissions, c.AllowDMs
	}
	return fresh.Permissions, fresh.AllowDMs
}

// WriteExample writes a commented starter config, refusing to clobber an
// existing file.
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return os.WriteFile(path, []byte(exampleConfig), 0o600)
}

const exampleConfig = `bot_token = ""
gemini_api_key = ""
# client_id = ""

# status_message = "Powered by Gemini 2.5"
# data_dir = "server_data"

allow_dms = true
default_model = "gemini-2.5-flash"
default_system_prompt = "You are a helpful assistant. Today's date is {date} and the current time is {time}."

max_text = 100000
max_images = 5
max_messages = 25
max_urls = 3
max_user_description_length = 500

use_plain_responses = false

[log]
level = "info"
format = "text"

[permissions.users]
allowed_ids = []
blocked_ids = []
admin_ids = []

[permissions.roles]
allowed_ids = []
blocked_ids = []

[permissions.channels]
allowed_ids = []
blocked_ids = []
`
