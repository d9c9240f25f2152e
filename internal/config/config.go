package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. SPEAKLOOP_AWS_REGION.
const EnvPrefix = "SPEAKLOOP"

const (
	RecognitionDeepgram = "deepgram"
	RecognitionLoopback = "loopback"
)

// Config is the resolved process configuration.
type Config struct {
	AWSRegion      string
	SourceLanguage string
	TargetLanguage string
	Recognition    RecognitionConfig
	Deepgram       DeepgramConfig
	Polly          PollyConfig
	Translate      TranslateConfig
	PlayerCommand  string
	Log            LogConfig
	Telemetry      TelemetryConfig
	ReportPath     string
}

type RecognitionConfig struct {
	Provider    string
	MaxDuration time.Duration
	Script      string
}

type DeepgramConfig struct {
	APIKey    string
	APIKeyRef string
	Endpoint  string
	Model     string
}

type PollyConfig struct {
	Engine   string
	AudioDir string
	Timeout  time.Duration
}

type TranslateConfig struct {
	Timeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type TelemetryConfig struct {
	Enabled       bool
	QueueCapacity int
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("aws.region", "us-west-2")
	v.SetDefault("source_language", "")
	v.SetDefault("target_language", "")
	v.SetDefault("recognition.provider", RecognitionDeepgram)
	v.SetDefault("recognition.max_duration", time.Minute)
	v.SetDefault("recognition.script", "")
	v.SetDefault("deepgram.api_key", "")
	v.SetDefault("deepgram.api_key_ref", "")
	v.SetDefault("deepgram.endpoint", "wss://api.deepgram.com/v1/listen")
	v.SetDefault("deepgram.model", "nova-2")
	v.SetDefault("polly.engine", "standard")
	v.SetDefault("polly.audio_dir", "")
	v.SetDefault("polly.timeout", 15*time.Second)
	v.SetDefault("translate.timeout", 10*time.Second)
	v.SetDefault("player.command", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.queue_capacity", 256)
	v.SetDefault("report.path", "")
}

// Load reads configFile (or ./speakloop.yaml when present), applies env
// overrides and defaults, and validates the result.
func Load(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("speakloop")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromViper copies values out of v without validation.
func FromViper(v *viper.Viper) Config {
	return Config{
		AWSRegion:      strings.TrimSpace(v.GetString("aws.region")),
		SourceLanguage: strings.TrimSpace(v.GetString("source_language")),
		TargetLanguage: strings.TrimSpace(v.GetString("target_language")),
		Recognition: RecognitionConfig{
			Provider:    strings.ToLower(strings.TrimSpace(v.GetString("recognition.provider"))),
			MaxDuration: v.GetDuration("recognition.max_duration"),
			Script:      v.GetString("recognition.script"),
		},
		Deepgram: DeepgramConfig{
			APIKey:    v.GetString("deepgram.api_key"),
			APIKeyRef: v.GetString("deepgram.api_key_ref"),
			Endpoint:  strings.TrimSpace(v.GetString("deepgram.endpoint")),
			Model:     strings.TrimSpace(v.GetString("deepgram.model")),
		},
		Polly: PollyConfig{
			Engine:   strings.ToLower(strings.TrimSpace(v.GetString("polly.engine"))),
			AudioDir: strings.TrimSpace(v.GetString("polly.audio_dir")),
			Timeout:  v.GetDuration("polly.timeout"),
		},
		Translate: TranslateConfig{
			Timeout: v.GetDuration("translate.timeout"),
		},
		PlayerCommand: strings.TrimSpace(v.GetString("player.command")),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Telemetry: TelemetryConfig{
			Enabled:       v.GetBool("telemetry.enabled"),
			QueueCapacity: v.GetInt("telemetry.queue_capacity"),
		},
		ReportPath: strings.TrimSpace(v.GetString("report.path")),
	}
}

// Validate enforces configuration invariants that do not depend on secrets.
func (c Config) Validate() error {
	if c.AWSRegion == "" {
		return fmt.Errorf("aws.region is required")
	}
	switch c.Recognition.Provider {
	case RecognitionDeepgram, RecognitionLoopback:
	default:
		return fmt.Errorf("unsupported recognition.provider: %q", c.Recognition.Provider)
	}
	if c.Recognition.MaxDuration <= 0 {
		return fmt.Errorf("recognition.max_duration must be >0")
	}
	if c.Recognition.Provider == RecognitionDeepgram && c.Deepgram.Endpoint == "" {
		return fmt.Errorf("deepgram.endpoint is required")
	}
	switch c.Polly.Engine {
	case "standard", "neural":
	default:
		return fmt.Errorf("unsupported polly.engine: %q", c.Polly.Engine)
	}
	if c.Polly.Timeout <= 0 || c.Translate.Timeout <= 0 {
		return fmt.Errorf("polly.timeout and translate.timeout must be >0")
	}
	if c.Telemetry.QueueCapacity < 1 {
		return fmt.Errorf("telemetry.queue_capacity must be >=1")
	}
	return nil
}

// DeepgramAPIKey resolves the recognition credential, preferring the secret ref.
func (c Config) DeepgramAPIKey() (string, error) {
	key, err := ResolveLiteralOrSecret(c.Deepgram.APIKey, c.Deepgram.APIKeyRef)
	if err != nil {
		return "", fmt.Errorf("deepgram api key: %w", err)
	}
	if key == "" {
		return "", fmt.Errorf("deepgram.api_key or deepgram.api_key_ref is required")
	}
	return key, nil
}

// Redacted returns loggable key/value pairs with secrets masked.
func (c Config) Redacted() map[string]string {
	return map[string]string{
		"aws.region":           c.AWSRegion,
		"source_language":      c.SourceLanguage,
		"target_language":      c.TargetLanguage,
		"recognition.provider": c.Recognition.Provider,
		"deepgram.api_key":     RedactSecret(c.Deepgram.APIKey),
		"deepgram.api_key_ref": c.Deepgram.APIKeyRef,
		"deepgram.model":       c.Deepgram.Model,
		"polly.engine":         c.Polly.Engine,
	}
}
