// Package config loads gateway configuration via viper, the way
// api/integration-api/config/config.go does for the teacher's integration
// service: environment-overridable defaults plus struct-tag validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds every operationally-tunable value for the gateway process.
// Non-goal fields (SMS, webhook signature secrets, migrations) are
// deliberately absent; see SPEC_FULL.md §1.
type Config struct {
	HTTPPort   int    `mapstructure:"http_port" validate:"required"`
	PublicHost string `mapstructure:"public_host"`

	AIWebSocketBaseURL string `mapstructure:"ai_ws_base_url" validate:"required,url"`
	VoicePromptDefault string `mapstructure:"voice_prompt_default"`
	TextPromptDefault  string `mapstructure:"text_prompt_default"`
	MemoryProbeK       int    `mapstructure:"memory_probe_k"`

	PostgresDSN string `mapstructure:"postgres_dsn" validate:"required"`
	RedisAddr   string `mapstructure:"redis_addr"`

	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	EmbeddingModel  string `mapstructure:"embedding_model"`
	ChatModel       string `mapstructure:"chat_model"`

	TwilioAccountSID string `mapstructure:"twilio_account_sid"`
	TwilioAuthToken  string `mapstructure:"twilio_auth_token"`

	LogLevel   string `mapstructure:"log_level"`
	LogFile    string `mapstructure:"log_file"`
}

// Load reads configuration from (in increasing priority order): built-in
// defaults, a .env file at envPath (if non-empty and present), and
// environment variables using "__" as the nesting delimiter, matching the
// teacher's viper setup.
func Load(envPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	setDefaults(v)

	if envPath != "" {
		v.SetConfigFile(envPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config file %s: %w", envPath, err)
			}
		}
	}

	cfg := &Config{}
	bindAll(v, cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 8080)
	v.SetDefault("voice_prompt_default", "default")
	v.SetDefault("text_prompt_default", "You are a helpful, friendly AI assistant having a voice conversation. Be natural and conversational.")
	v.SetDefault("memory_probe_k", 10)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("embedding_model", "text-embedding-3-small")
	v.SetDefault("chat_model", "gpt-4o-mini")
	v.SetDefault("log_level", "info")
}

// bindAll copies every recognized key from viper into cfg. Written by hand
// (rather than v.Unmarshal) because the retrieved mapstructure tag
// conventions in this codebase key off explicit GetString/GetInt calls per
// field, matching api/integration-api/config/config.go's InitConfig.
func bindAll(v *viper.Viper, cfg *Config) {
	cfg.HTTPPort = v.GetInt("http_port")
	cfg.PublicHost = v.GetString("public_host")
	cfg.AIWebSocketBaseURL = v.GetString("ai_ws_base_url")
	cfg.VoicePromptDefault = v.GetString("voice_prompt_default")
	cfg.TextPromptDefault = v.GetString("text_prompt_default")
	cfg.MemoryProbeK = v.GetInt("memory_probe_k")
	cfg.PostgresDSN = v.GetString("postgres_dsn")
	cfg.RedisAddr = v.GetString("redis_addr")
	cfg.OpenAIAPIKey = v.GetString("openai_api_key")
	cfg.AnthropicAPIKey = v.GetString("anthropic_api_key")
	cfg.EmbeddingModel = v.GetString("embedding_model")
	cfg.ChatModel = v.GetString("chat_model")
	cfg.TwilioAccountSID = v.GetString("twilio_account_sid")
	cfg.TwilioAuthToken = v.GetString("twilio_auth_token")
	cfg.LogLevel = v.GetString("log_level")
	cfg.LogFile = v.GetString("log_file")
}
