package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.AWSRegion != "us-west-2" {
		t.Fatalf("expected us-west-2 default region, got %s", cfg.AWSRegion)
	}
	if cfg.Recognition.Provider != RecognitionDeepgram || cfg.Recognition.MaxDuration != time.Minute {
		t.Fatalf("unexpected recognition defaults: %+v", cfg.Recognition)
	}
	if cfg.Polly.Engine != "standard" {
		t.Fatalf("expected standard engine default, got %s", cfg.Polly.Engine)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "speakloop.yaml")
	body := []byte("aws:\n  region: eu-west-1\ntarget_language: Dutch\nrecognition:\n  provider: loopback\n  max_duration: 5s\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SPEAKLOOP_TARGET_LANGUAGE", "French")

	cfg, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.AWSRegion != "eu-west-1" {
		t.Fatalf("expected file region, got %s", cfg.AWSRegion)
	}
	if cfg.TargetLanguage != "French" {
		t.Fatalf("expected env override to win, got %s", cfg.TargetLanguage)
	}
	if cfg.Recognition.Provider != RecognitionLoopback || cfg.Recognition.MaxDuration != 5*time.Second {
		t.Fatalf("unexpected recognition config: %+v", cfg.Recognition)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected missing explicit config to fail")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	v := viper.New()
	SetDefaults(v)
	base := FromViper(v)
	if err := base.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "region", mutate: func(c *Config) { c.AWSRegion = "" }},
		{name: "provider", mutate: func(c *Config) { c.Recognition.Provider = "whisper" }},
		{name: "max duration", mutate: func(c *Config) { c.Recognition.MaxDuration = 0 }},
		{name: "endpoint", mutate: func(c *Config) { c.Deepgram.Endpoint = "" }},
		{name: "engine", mutate: func(c *Config) { c.Polly.Engine = "generative" }},
		{name: "timeout", mutate: func(c *Config) { c.Translate.Timeout = 0 }},
		{name: "queue", mutate: func(c *Config) { c.Telemetry.QueueCapacity = 0 }},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			candidate := base
			tc.mutate(&candidate)
			if err := candidate.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestDeepgramAPIKeyPrefersSecretRef(t *testing.T) {
	t.Setenv("SPEAKLOOP_TEST_DEEPGRAM", "from-ref")

	cfg := Config{Deepgram: DeepgramConfig{APIKey: "literal", APIKeyRef: "env://SPEAKLOOP_TEST_DEEPGRAM"}}
	key, err := cfg.DeepgramAPIKey()
	if err != nil || key != "from-ref" {
		t.Fatalf("expected secret ref value, got %q (%v)", key, err)
	}

	if _, err := (Config{}).DeepgramAPIKey(); err == nil {
		t.Fatalf("expected missing key to fail")
	}
	if got := cfg.Redacted()["deepgram.api_key"]; got != "***redacted***" {
		t.Fatalf("expected redacted api key, got %q", got)
	}
}
