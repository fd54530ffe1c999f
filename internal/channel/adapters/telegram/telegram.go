package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/assistbot/internal/channel"
	"github.com/memohai/assistbot/internal/media"
)

const (
	telegramMaxMessageLength = 4096
	downloadTimeout          = 60 * time.Second
)

// TelegramAdapter implements channel.Receiver, channel.Sender,
// channel.AttachmentResolver and channel.ProcessingStatusNotifier.
type TelegramAdapter struct {
	logger     *slog.Logger
	httpClient *http.Client
	mu         sync.RWMutex
	bots       map[string]*tgbotapi.BotAPI // keyed by bot token
}

// NewTelegramAdapter creates a TelegramAdapter with the given logger.
func NewTelegramAdapter(log *slog.Logger) *TelegramAdapter {
	if log == nil {
		log = slog.Default()
	}
	adapter := &TelegramAdapter{
		logger:     log.With(slog.String("adapter", "telegram")),
		httpClient: &http.Client{Timeout: downloadTimeout},
		bots:       make(map[string]*tgbotapi.BotAPI),
	}
	setBotLogger.Do(func() {
		_ = tgbotapi.SetLogger(&slogBotLogger{log: adapter.logger})
	})
	return adapter
}

// The library logger is package-global; the first adapter installs it.
var setBotLogger sync.Once

func newBot(cfg Config) (*tgbotapi.BotAPI, error) {
	return tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, cfg.APIEndpoint)
}

func (a *TelegramAdapter) getOrCreateBot(cfg Config, configID string) (*tgbotapi.BotAPI, error) {
	a.mu.RLock()
	bot, ok := a.bots[cfg.BotToken]
	a.mu.RUnlock()
	if ok {
		return bot, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[cfg.BotToken]; ok {
		return bot, nil
	}
	bot, err := newBot(cfg)
	if err != nil {
		a.logger.Error("create bot failed", slog.String("config_id", configID), slog.Any("error", err))
		return nil, err
	}
	a.bots[cfg.BotToken] = bot
	return bot, nil
}

func (a *TelegramAdapter) botFor(cfg channel.ChannelConfig) (*tgbotapi.BotAPI, Config, error) {
	telegramCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		a.logger.Error("decode config failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return nil, Config{}, err
	}
	bot, err := a.getOrCreateBot(telegramCfg, cfg.ID)
	if err != nil {
		return nil, Config{}, err
	}
	return bot, telegramCfg, nil
}

// Type returns the Telegram channel type.
func (a *TelegramAdapter) Type() channel.ChannelType {
	return Type
}

// Verify checks the bot token against the Bot API.
func (a *TelegramAdapter) Verify(ctx context.Context, cfg channel.ChannelConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bot, _, err := a.botFor(cfg)
	if err != nil {
		return "", err
	}
	return bot.Self.UserName, nil
}

// Connect starts long-polling for Telegram updates and forwards messages to
// the handler in arrival order.
func (a *TelegramAdapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start", slog.String("config_id", cfg.ID))
	telegramCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		a.logger.Error("decode config failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return nil, err
	}
	// Long polling gets its own BotAPI: StopReceivingUpdates closes the bot's
	// shutdown channel, which must not affect the cached sender.
	bot, err := newBot(telegramCfg)
	if err != nil {
		a.logger.Error("create bot failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return nil, err
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = telegramCfg.PollTimeout
	updateConfig.AllowedUpdates = []string{"message"}
	updates := bot.GetUpdatesChan(updateConfig)
	connCtx, cancel := context.WithCancel(ctx)

	done := make(chan struct{})
	stop := func(_ context.Context) error {
		a.logger.Info("stop", slog.String("config_id", cfg.ID))
		bot.StopReceivingUpdates()
		cancel()
		<-done
		// Drain remaining updates so the library's polling goroutine can
		// finish writing and exit. Otherwise the in-flight getUpdates session
		// stays alive and a new connection with the same token gets a conflict.
		for range updates {
		}
		return nil
	}
	conn := channel.NewConnection(cfg, stop)

	go func() {
		defer close(done)
		for {
			select {
			case <-connCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					a.logger.Info("updates channel closed", slog.String("config_id", cfg.ID))
					conn.MarkStopped()
					return
				}
				msg, ok := buildInboundMessage(update.Message)
				if !ok {
					continue
				}
				a.logger.Info(
					"inbound received",
					slog.String("config_id", cfg.ID),
					slog.String("chat_id", msg.ChatID),
					slog.String("user_id", msg.Sender.SubjectID),
					slog.String("command", msg.Command),
					slog.Int("attachments", len(msg.Attachments)),
				)
				if err := handler(connCtx, cfg, msg); err != nil {
					a.logger.Error("handle inbound failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
				}
			}
		}
	}()

	return conn, nil
}

func buildInboundMessage(msg *tgbotapi.Message) (channel.InboundMessage, bool) {
	if msg == nil {
		return channel.InboundMessage{}, false
	}
	subjectID, displayName, attrs := resolveTelegramSender(msg)
	inbound := channel.InboundMessage{
		Channel: Type,
		ID:      strconv.Itoa(msg.MessageID),
		Sender: channel.Identity{
			SubjectID:   subjectID,
			DisplayName: displayName,
			Attributes:  attrs,
		},
		Attachments: collectTelegramAttachments(msg),
		ReceivedAt:  time.Unix(int64(msg.Date), 0).UTC(),
	}
	if msg.Chat != nil {
		inbound.ChatID = strconv.FormatInt(msg.Chat.ID, 10)
		inbound.ChatType = strings.TrimSpace(msg.Chat.Type)
	}
	if msg.IsCommand() {
		inbound.Command = strings.ToLower(msg.Command())
		inbound.CommandArgs = strings.TrimSpace(msg.CommandArguments())
	} else {
		inbound.Text = strings.TrimSpace(msg.Text)
	}
	if inbound.Text == "" && inbound.Command == "" && len(inbound.Attachments) == 0 {
		return channel.InboundMessage{}, false
	}
	return inbound, true
}

func resolveTelegramSender(msg *tgbotapi.Message) (string, string, map[string]string) {
	attrs := map[string]string{}
	if msg == nil {
		return "", "", attrs
	}
	if msg.Chat != nil {
		attrs["chat_id"] = strconv.FormatInt(msg.Chat.ID, 10)
	}
	if msg.From != nil {
		userID := strconv.FormatInt(msg.From.ID, 10)
		username := strings.TrimSpace(msg.From.UserName)
		attrs["user_id"] = userID
		if username != "" {
			attrs["username"] = username
		}
		displayName := username
		if displayName == "" {
			displayName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		}
		return userID, displayName, attrs
	}
	if msg.SenderChat != nil {
		senderChatID := strconv.FormatInt(msg.SenderChat.ID, 10)
		attrs["sender_chat_id"] = senderChatID
		displayName := strings.TrimSpace(msg.SenderChat.Title)
		if displayName == "" {
			displayName = strings.TrimSpace(msg.SenderChat.UserName)
		}
		return senderChatID, displayName, attrs
	}
	return "", "", attrs
}

func collectTelegramAttachments(msg *tgbotapi.Message) []channel.Attachment {
	if msg == nil {
		return nil
	}
	attachments := make([]channel.Attachment, 0, 1)
	if len(msg.Photo) > 0 {
		photo := pickTelegramPhoto(msg.Photo)
		attachments = append(attachments, channel.Attachment{
			Type:        channel.AttachmentImage,
			PlatformKey: photo.FileID,
			UniqueID:    photo.FileUniqueID,
			Mime:        "image/jpeg",
			Size:        int64(photo.FileSize),
			Width:       photo.Width,
			Height:      photo.Height,
		})
	}
	if msg.Voice != nil {
		attachments = append(attachments, channel.Attachment{
			Type:        channel.AttachmentVoice,
			PlatformKey: msg.Voice.FileID,
			UniqueID:    msg.Voice.FileUniqueID,
			Mime:        msg.Voice.MimeType,
			Size:        int64(msg.Voice.FileSize),
			DurationMs:  int64(msg.Voice.Duration) * 1000,
		})
	}
	if msg.Audio != nil {
		attachments = append(attachments, channel.Attachment{
			Type:        channel.AttachmentAudio,
			PlatformKey: msg.Audio.FileID,
			UniqueID:    msg.Audio.FileUniqueID,
			Name:        msg.Audio.FileName,
			Mime:        msg.Audio.MimeType,
			Size:        int64(msg.Audio.FileSize),
			DurationMs:  int64(msg.Audio.Duration) * 1000,
		})
	}
	if msg.Document != nil {
		attachments = append(attachments, channel.Attachment{
			Type:        channel.AttachmentFile,
			PlatformKey: msg.Document.FileID,
			UniqueID:    msg.Document.FileUniqueID,
			Name:        msg.Document.FileName,
			Mime:        msg.Document.MimeType,
			Size:        int64(msg.Document.FileSize),
		})
	}
	caption := strings.TrimSpace(msg.Caption)
	if caption != "" {
		for i := range attachments {
			attachments[i].Caption = caption
		}
	}
	return attachments
}

// pickTelegramPhoto returns the largest rendition of a photo.
func pickTelegramPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	if len(items) == 0 {
		return tgbotapi.PhotoSize{}
	}
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

// Send delivers an outbound text or voice message to Telegram.
func (a *TelegramAdapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := parseChatID(msg.Target)
	if err != nil {
		return err
	}
	if msg.IsEmpty() {
		return fmt.Errorf("message is required")
	}
	bot, _, err := a.botFor(cfg)
	if err != nil {
		return err
	}
	replyTo, _ := strconv.Atoi(strings.TrimSpace(msg.ReplyTo))
	if msg.Voice != nil && len(msg.Voice.Data) > 0 {
		if err := sendTelegramVoice(bot, chatID, *msg.Voice, replyTo); err != nil {
			a.logger.Error("send voice failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
			return err
		}
		return nil
	}
	return sendTelegramText(bot, chatID, msg.Text, replyTo)
}

func parseChatID(target string) (int64, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return 0, fmt.Errorf("telegram target is required")
	}
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram target must be a chat_id: %s", target)
	}
	return chatID, nil
}

// sendTelegramText sends text as one message, or as several in order when it
// exceeds the Telegram length limit. Only the first part replies to replyTo.
func sendTelegramText(bot *tgbotapi.BotAPI, chatID int64, text string, replyTo int) error {
	parts := splitTelegramText(sanitizeTelegramText(strings.TrimSpace(text)))
	if len(parts) == 0 {
		return fmt.Errorf("message is required")
	}
	for i, part := range parts {
		message := tgbotapi.NewMessage(chatID, part)
		if replyTo > 0 && i == 0 {
			message.ReplyToMessageID = replyTo
		}
		if _, err := bot.Send(message); err != nil {
			return fmt.Errorf("send part %d/%d: %w", i+1, len(parts), err)
		}
	}
	return nil
}

func sendTelegramVoice(bot *tgbotapi.BotAPI, chatID int64, note channel.VoiceNote, replyTo int) error {
	name := strings.TrimSpace(note.Name)
	if name == "" {
		name = "voice.ogg"
	}
	voice := tgbotapi.NewVoice(chatID, tgbotapi.FileBytes{Name: name, Bytes: note.Data})
	voice.Caption = strings.TrimSpace(note.Caption)
	if replyTo > 0 {
		voice.ReplyToMessageID = replyTo
	}
	_, err := bot.Send(voice)
	return err
}

// ResolveAttachment downloads a Telegram attachment. The body is capped at
// media.MaxAssetBytes.
func (a *TelegramAdapter) ResolveAttachment(ctx context.Context, cfg channel.ChannelConfig, attachment channel.Attachment) (channel.AttachmentPayload, error) {
	fileID := strings.TrimSpace(attachment.PlatformKey)
	downloadURL := strings.TrimSpace(attachment.URL)
	if fileID == "" && downloadURL == "" {
		return channel.AttachmentPayload{}, fmt.Errorf("telegram attachment requires platform_key or url")
	}
	if downloadURL == "" {
		bot, telegramCfg, err := a.botFor(cfg)
		if err != nil {
			return channel.AttachmentPayload{}, err
		}
		file, err := bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
		if err != nil {
			return channel.AttachmentPayload{}, fmt.Errorf("resolve telegram file url: %w", err)
		}
		if strings.TrimSpace(file.FilePath) == "" {
			return channel.AttachmentPayload{}, fmt.Errorf("telegram file %s has no path", fileID)
		}
		downloadURL = fmt.Sprintf(telegramCfg.FileEndpoint(), bot.Token, file.FilePath)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return channel.AttachmentPayload{}, fmt.Errorf("build download request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return channel.AttachmentPayload{}, fmt.Errorf("download attachment: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() {
			_ = resp.Body.Close()
		}()
		_, _ = io.Copy(io.Discard, resp.Body)
		return channel.AttachmentPayload{}, fmt.Errorf("download attachment status: %d", resp.StatusCode)
	}
	maxBytes := media.MaxAssetBytes
	if resp.ContentLength > maxBytes {
		defer func() {
			_ = resp.Body.Close()
		}()
		_, _ = io.Copy(io.Discard, resp.Body)
		return channel.AttachmentPayload{}, fmt.Errorf("%w: max %d bytes", media.ErrAssetTooLarge, maxBytes)
	}
	mime := strings.TrimSpace(attachment.Mime)
	if mime == "" {
		mime = strings.TrimSpace(resp.Header.Get("Content-Type"))
		if idx := strings.Index(mime, ";"); idx >= 0 {
			mime = strings.TrimSpace(mime[:idx])
		}
	}
	size := attachment.Size
	if size <= 0 && resp.ContentLength > 0 {
		size = resp.ContentLength
	}
	return channel.AttachmentPayload{
		Reader: resp.Body,
		Mime:   mime,
		Name:   strings.TrimSpace(attachment.Name),
		Size:   size,
	}, nil
}

// ProcessingStarted sends a "typing" chat action to indicate processing.
func (a *TelegramAdapter) ProcessingStarted(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return nil
	}
	bot, _, err := a.botFor(cfg)
	if err != nil {
		return err
	}
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := bot.Request(action); err != nil {
		a.logger.Warn("send typing action failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return err
	}
	return nil
}

// sanitizeTelegramText ensures text is valid UTF-8 for the Telegram API.
func sanitizeTelegramText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// splitTelegramText cuts text into parts of at most telegramMaxMessageLength
// UTF-16 code units, which is how Telegram measures message length. A cut
// prefers the last newline, then the last space, in the second half of a part.
func splitTelegramText(text string) []string {
	var parts []string
	for text != "" {
		units, end, lastNewline, lastSpace := 0, len(text), -1, -1
		for i, r := range text {
			w := 1
			if r >= 0x10000 {
				w = 2
			}
			if units+w > telegramMaxMessageLength {
				end = i
				break
			}
			units += w
			switch r {
			case '\n':
				lastNewline = i
			case ' ':
				lastSpace = i
			}
		}
		if end < len(text) {
			switch {
			case lastNewline > end/2:
				end = lastNewline
			case lastSpace > end/2:
				end = lastSpace
			}
		}
		if part := strings.TrimSpace(text[:end]); part != "" {
			parts = append(parts, part)
		}
		text = strings.TrimSpace(text[end:])
	}
	return parts
}
