// Package config provides configuration helpers for go-ruvo commands.
//
// Values are resolved in order: defaults, optional YAML file, .env file,
// process environment. Later sources override earlier ones.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultQuota          = 3
	DefaultSilence        = 1200 * time.Millisecond
	DefaultGrace          = 500 * time.Millisecond
	DefaultModel          = "gpt-4o-mini"
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 150
	DefaultListenAddr     = ":8080"
	DefaultDataDir        = ".ruvo"
	DefaultVoiceID        = "9BWtsMINqrJLrRacOk9x"
	DefaultSpeechModel    = "eleven_multilingual_v2"
	DefaultRequestTimeout = 30 * time.Second
)

// Config holds all runtime settings.
type Config struct {
	// Keys is the credential pool for the completion service.
	Keys []string `yaml:"keys"`

	// Quota is the per-credential call budget before rotation.
	Quota int `yaml:"quota"`

	// StrictExhaustion fails instead of resetting an exhausted pool.
	StrictExhaustion bool `yaml:"strict_exhaustion"`

	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	BaseURL     string  `yaml:"base_url"`

	ElevenLabsKey string `yaml:"elevenlabs_key"`
	VoiceID       string `yaml:"voice_id"`
	SpeechModel   string `yaml:"speech_model"`

	// GoogleCredentials is a path to a service account JSON file.
	GoogleCredentials string `yaml:"google_credentials"`

	// Espeak enables the local synthesis fallback.
	Espeak bool `yaml:"espeak"`

	Silence        time.Duration `yaml:"silence"`
	Grace          time.Duration `yaml:"grace"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// DataDir is the Badger directory, or a single JSON file when it ends in
	// ".json". Empty with RedisAddr unset means in-memory.
	DataDir   string `yaml:"data_dir"`
	RedisAddr string `yaml:"redis_addr"`

	ListenAddr string `yaml:"listen"`
	Proxy      string `yaml:"proxy"`

	// RecognizerURL points at a remote recognition relay. Empty means the
	// browser bridge is used.
	RecognizerURL string `yaml:"recognizer_url"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Quota:          DefaultQuota,
		Model:          DefaultModel,
		Temperature:    DefaultTemperature,
		MaxTokens:      DefaultMaxTokens,
		VoiceID:        DefaultVoiceID,
		SpeechModel:    DefaultSpeechModel,
		Espeak:         true,
		Silence:        DefaultSilence,
		Grace:          DefaultGrace,
		RequestTimeout: DefaultRequestTimeout,
		DataDir:        DefaultDataDir,
		ListenAddr:     DefaultListenAddr,
		LogLevel:       "info",
	}
}

// Load resolves the configuration. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// A missing .env is normal.
	_ = godotenv.Load()

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("RUVO_KEYS"); v != "" {
		c.Keys = SplitKeys(v)
	} else if v := getenv("OPENAI_API_KEY"); v != "" && len(c.Keys) == 0 {
		c.Keys = []string{v}
	}
	if v, ok := envInt(getenv, "RUVO_QUOTA"); ok {
		c.Quota = v
	}
	if v := getenv("RUVO_STRICT_EXHAUSTION"); v != "" {
		c.StrictExhaustion, _ = strconv.ParseBool(v)
	}
	setString(&c.Model, getenv("RUVO_MODEL"))
	if v := getenv("RUVO_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Temperature = f
		}
	}
	if v, ok := envInt(getenv, "RUVO_MAX_TOKENS"); ok {
		c.MaxTokens = v
	}
	setString(&c.BaseURL, getenv("OPENAI_BASE_URL"))
	setString(&c.ElevenLabsKey, getenv("ELEVENLABS_API_KEY"))
	setString(&c.VoiceID, getenv("ELEVENLABS_VOICE_ID"))
	setString(&c.GoogleCredentials, getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	if v := getenv("RUVO_ESPEAK"); v != "" {
		c.Espeak, _ = strconv.ParseBool(v)
	}
	setDuration(&c.Silence, getenv("RUVO_SILENCE"))
	setDuration(&c.Grace, getenv("RUVO_GRACE"))
	setDuration(&c.RequestTimeout, getenv("RUVO_REQUEST_TIMEOUT"))
	setString(&c.DataDir, getenv("RUVO_DATA_DIR"))
	setString(&c.RedisAddr, getenv("REDIS_ADDR"))
	setString(&c.ListenAddr, getenv("RUVO_LISTEN"))
	setString(&c.Proxy, getenv("RUVO_PROXY"))
	setString(&c.RecognizerURL, getenv("RUVO_RECOGNIZER_URL"))
	setString(&c.LogLevel, getenv("LOG_LEVEL"))
	setString(&c.LogFile, getenv("LOG_FILE"))
}

// Validate checks that settings are usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Quota < 1 {
		errs = append(errs, errors.New("config: quota must be at least 1"))
	}
	if c.MaxTokens < 1 {
		errs = append(errs, errors.New("config: max_tokens must be positive"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, errors.New("config: temperature must be within [0, 2]"))
	}
	if c.Silence <= 0 {
		errs = append(errs, errors.New("config: silence must be positive"))
	}
	if c.Grace < 0 {
		errs = append(errs, errors.New("config: grace must not be negative"))
	}
	return errors.Join(errs...)
}

// SplitKeys parses a comma or whitespace separated key list.
func SplitKeys(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			keys = append(keys, f)
		}
	}
	return keys
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

func envInt(getenv func(string) string, name string) (int, bool) {
	v := getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
