package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath          = "config.toml"
	DefaultHTTPAddr            = ":8080"
	DefaultTelegramPollTimeout = 30
	DefaultInstructions        = "Responde solo usando el texto o la imagen proporcionados. Responde en español."
	DefaultTranscriptionModel  = "whisper-1"
	DefaultLanguage            = "es"
	DefaultSpeechModel         = "tts-1"
	DefaultSpeechVoice         = "alloy"
	DefaultVisionModel         = "gpt-4-turbo"
	DefaultStorageRegion       = "us-east-1"
	DefaultStorageKeyPrefix    = "images"
	DefaultURLTTL              = 7 * 24 * time.Hour
	DefaultPollInterval        = time.Second
	DefaultPollTimeout         = 5 * time.Minute
	DefaultRouterWorkers       = 8
	DefaultRouterQueueSize     = 16
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Telegram TelegramConfig `toml:"telegram"`
	OpenAI   OpenAIConfig   `toml:"openai"`
	Storage  StorageConfig  `toml:"storage"`
	Poller   PollerConfig   `toml:"poller"`
	Router   RouterConfig   `toml:"router"`
	Features FeaturesConfig `toml:"features"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type TelegramConfig struct {
	BotToken           string `toml:"bot_token"`
	APIEndpoint        string `toml:"api_endpoint"`
	PollTimeoutSeconds int    `toml:"poll_timeout_seconds"`
}

type OpenAIConfig struct {
	APIKey             string `toml:"api_key"`
	BaseURL            string `toml:"base_url"`
	AssistantID        string `toml:"assistant_id"`
	Instructions       string `toml:"instructions"`
	TranscriptionModel string `toml:"transcription_model"`
	Language           string `toml:"language"`
	SpeechModel        string `toml:"speech_model"`
	SpeechVoice        string `toml:"speech_voice"`
	VisionModel        string `toml:"vision_model"`
}

type StorageConfig struct {
	Endpoint  string        `toml:"endpoint"`
	AccessKey string        `toml:"access_key"`
	SecretKey string        `toml:"secret_key"`
	Bucket    string        `toml:"bucket"`
	Region    string        `toml:"region"`
	UseSSL    bool          `toml:"use_ssl"`
	URLTTL    time.Duration `toml:"url_ttl"`
	KeyPrefix string        `toml:"key_prefix"`
}

type PollerConfig struct {
	Interval time.Duration `toml:"interval"`
	Timeout  time.Duration `toml:"timeout"`
}

type RouterConfig struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

// FeaturesConfig toggles the optional pipelines. Text handling is always on.
type FeaturesConfig struct {
	Voice   bool `toml:"voice"`
	Image   bool `toml:"image"`
	Storage bool `toml:"storage"`
	TTS     bool `toml:"tts"`
}

// Load reads the TOML file at path on top of the defaults, then applies the
// environment overlay. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Telegram: TelegramConfig{
			PollTimeoutSeconds: DefaultTelegramPollTimeout,
		},
		OpenAI: OpenAIConfig{
			Instructions:       DefaultInstructions,
			TranscriptionModel: DefaultTranscriptionModel,
			Language:           DefaultLanguage,
			SpeechModel:        DefaultSpeechModel,
			SpeechVoice:        DefaultSpeechVoice,
			VisionModel:        DefaultVisionModel,
		},
		Storage: StorageConfig{
			Region:    DefaultStorageRegion,
			URLTTL:    DefaultURLTTL,
			KeyPrefix: DefaultStorageKeyPrefix,
		},
		Poller: PollerConfig{
			Interval: DefaultPollInterval,
			Timeout:  DefaultPollTimeout,
		},
		Router: RouterConfig{
			Workers:   DefaultRouterWorkers,
			QueueSize: DefaultRouterQueueSize,
		},
		Features: FeaturesConfig{
			Voice:   true,
			Image:   true,
			Storage: true,
			TTS:     false,
		},
	}
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &cfg.OpenAI.BaseURL)
	str("OPENAI_ASSISTANT_ID", &cfg.OpenAI.AssistantID)
	str("TELEGRAM_BOT_TOKEN", &cfg.Telegram.BotToken)
	str("MINIO_ENDPOINT", &cfg.Storage.Endpoint)
	str("MINIO_ACCESS_KEY", &cfg.Storage.AccessKey)
	str("MINIO_SECRET_KEY", &cfg.Storage.SecretKey)
	str("MINIO_BUCKET", &cfg.Storage.Bucket)
	if v, ok := lookup("MINIO_USE_SSL"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("MINIO_USE_SSL: %w", err)
		}
		cfg.Storage.UseSSL = b
	}
	return nil
}

// StorageEnabled reports whether images are uploaded to the object store.
func (c Config) StorageEnabled() bool {
	return c.Features.Image && c.Features.Storage
}

// Validate reports every missing value required by the enabled capabilities.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.BotToken) == "" {
		errs = append(errs, errors.New("telegram.bot_token is required"))
	}
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		errs = append(errs, errors.New("openai.api_key is required"))
	}
	if strings.TrimSpace(c.OpenAI.AssistantID) == "" {
		errs = append(errs, errors.New("openai.assistant_id is required"))
	}
	if c.StorageEnabled() {
		if strings.TrimSpace(c.Storage.Endpoint) == "" {
			errs = append(errs, errors.New("storage.endpoint is required when image storage is enabled"))
		}
		if strings.TrimSpace(c.Storage.AccessKey) == "" || strings.TrimSpace(c.Storage.SecretKey) == "" {
			errs = append(errs, errors.New("storage credentials are required when image storage is enabled"))
		}
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			errs = append(errs, errors.New("storage.bucket is required when image storage is enabled"))
		}
		if c.Storage.URLTTL <= 0 {
			errs = append(errs, errors.New("storage.url_ttl must be positive"))
		}
	}
	if c.Poller.Interval <= 0 {
		errs = append(errs, errors.New("poller.interval must be positive"))
	}
	return errors.Join(errs...)
}

// MaskSecret keeps the first 10 characters of a secret for display.
func MaskSecret(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) <= 10 {
		return strings.Repeat("*", len(s))
	}
	return s[:10] + "********"
}
