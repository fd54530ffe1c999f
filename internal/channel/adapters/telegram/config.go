package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/assistbot/internal/channel"
)

// Type is the channel type served by this adapter.
const Type channel.ChannelType = "telegram"

const defaultPollTimeout = 30

// Config is the decoded form of ChannelConfig.Credentials.
type Config struct {
	BotToken    string
	APIEndpoint string
	PollTimeout int
}

// Credentials builds the credentials map understood by the adapter.
func Credentials(botToken, apiEndpoint string, pollTimeout int) map[string]any {
	return map[string]any{
		"botToken":    botToken,
		"apiEndpoint": apiEndpoint,
		"pollTimeout": pollTimeout,
	}
}

func parseConfig(raw map[string]any) (Config, error) {
	cfg := Config{
		BotToken:    readString(raw, "botToken", "bot_token"),
		APIEndpoint: readString(raw, "apiEndpoint", "api_endpoint"),
		PollTimeout: defaultPollTimeout,
	}
	if cfg.BotToken == "" {
		return Config{}, errors.New("telegram botToken is required")
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if strings.Count(cfg.APIEndpoint, "%s") != 2 {
		return Config{}, fmt.Errorf("telegram apiEndpoint must contain two %%s verbs: %s", cfg.APIEndpoint)
	}
	switch v := raw["pollTimeout"].(type) {
	case int:
		if v > 0 {
			cfg.PollTimeout = v
		}
	case float64:
		if v > 0 {
			cfg.PollTimeout = int(v)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.PollTimeout = n
		}
	}
	return cfg, nil
}

// FileEndpoint derives the file download endpoint from the API endpoint, so
// self-hosted Bot API servers serve downloads too.
func (c Config) FileEndpoint() string {
	if c.APIEndpoint == "" || c.APIEndpoint == tgbotapi.APIEndpoint {
		return tgbotapi.FileEndpoint
	}
	idx := strings.LastIndex(c.APIEndpoint, "/bot%s/%s")
	if idx < 0 {
		return tgbotapi.FileEndpoint
	}
	return c.APIEndpoint[:idx] + "/file/bot%s/%s"
}

func readString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
