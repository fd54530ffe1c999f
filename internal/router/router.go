// Package router turns inbound channel messages into assistant turns. Each
// message is classified as text, voice or image, run through the matching
// pipeline, and answered with the assistant's latest reply or exactly one
// apology.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/assistbot/internal/assistant"
	"github.com/memohai/assistbot/internal/channel"
	"github.com/memohai/assistbot/internal/media"
)

const apologyTimeout = 10 * time.Second

// Assistant submits content and reads back the conversation.
type Assistant interface {
	assistant.StatusGetter
	Submit(ctx context.Context, conversationID string, content assistant.Content) (assistant.Run, error)
	ListMessages(ctx context.Context, conversationID string) ([]assistant.Message, error)
}

// Waiter blocks until a run is terminal.
type Waiter interface {
	AwaitCompletion(ctx context.Context, getter assistant.StatusGetter, run assistant.Run) (assistant.Run, error)
}

// Sessions maps end users to conversations.
type Sessions interface {
	GetOrCreate(ctx context.Context, userID string) (string, error)
}

// Transcriber converts an audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Speaker synthesizes text into an OGG/Opus stream.
type Speaker interface {
	Speak(ctx context.Context, text string) (io.ReadCloser, error)
}

// ImageStore persists an image and returns a signed retrieval URL.
type ImageStore interface {
	StoreImage(ctx context.Context, localPath, attachmentID, contentType string) (media.StoredObject, string, error)
}

// Features toggles the optional pipelines. Text is always handled.
type Features struct {
	Voice   bool
	Image   bool
	Storage bool
	TTS     bool
}

// Deps are the collaborators of a Router. Transcriber, Speaker and Images
// may be nil when the matching feature is off.
type Deps struct {
	Sessions    Sessions
	Assistant   Assistant
	Waiter      Waiter
	Resolver    channel.AttachmentResolver
	Transcriber Transcriber
	Speaker     Speaker
	Images      ImageStore
	Features    Features
	// TempDir holds downloaded attachments; empty means os.TempDir.
	TempDir string
}

// Router implements channel.InboundProcessor.
type Router struct {
	logger *slog.Logger
	deps   Deps
}

// New creates a Router.
func New(log *slog.Logger, deps Deps) *Router {
	if log == nil {
		log = slog.Default()
	}
	if deps.Transcriber == nil {
		deps.Features.Voice = false
	}
	if deps.Speaker == nil {
		deps.Features.TTS = false
	}
	if deps.Images == nil {
		deps.Features.Storage = false
	}
	return &Router{
		logger: log.With(slog.String("component", "router")),
		deps:   deps,
	}
}

type route int

const (
	routeIgnore route = iota
	routeCommand
	routeText
	routeVoice
	routeImage
	routeUnsupported
)

func (r route) String() string {
	switch r {
	case routeCommand:
		return "command"
	case routeText:
		return "text"
	case routeVoice:
		return "voice"
	case routeImage:
		return "image"
	case routeUnsupported:
		return "unsupported"
	default:
		return "ignore"
	}
}

// classify picks the pipeline for msg. Attachments win over text.
func classify(msg channel.InboundMessage) (route, channel.Attachment) {
	if msg.IsCommand() {
		return routeCommand, channel.Attachment{}
	}
	for _, att := range msg.Attachments {
		switch {
		case att.Type == channel.AttachmentVoice, att.Type == channel.AttachmentAudio:
			return routeVoice, att
		case att.IsImage():
			return routeImage, att
		}
	}
	if len(msg.Attachments) > 0 {
		return routeUnsupported, msg.Attachments[0]
	}
	if strings.TrimSpace(msg.Text) != "" {
		return routeText, channel.Attachment{}
	}
	return routeIgnore, channel.Attachment{}
}

// HandleInbound runs the pipeline for msg. On failure it sends one apology and
// returns the tagged error.
func (r *Router) HandleInbound(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage, sender channel.ReplySender) error {
	kind, att := classify(msg)
	log := r.logger.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("user_id", msg.UserKey()),
		slog.String("chat_id", msg.ChatID),
		slog.String("route", kind.String()),
	)
	log.Debug("inbound classified")

	var err error
	switch kind {
	case routeCommand:
		err = r.handleCommand(ctx, msg, sender)
	case routeText:
		err = r.converse(ctx, log, msg, assistant.TextContent(msg.Text), sender)
	case routeVoice:
		if !r.deps.Features.Voice {
			return r.reply(ctx, sender, MsgUnsupported)
		}
		err = r.handleVoice(ctx, log, cfg, msg, att, sender)
	case routeImage:
		if !r.deps.Features.Image {
			return r.reply(ctx, sender, MsgUnsupported)
		}
		err = r.handleImage(ctx, log, cfg, msg, att, sender)
	case routeUnsupported:
		return r.reply(ctx, sender, MsgUnsupported)
	default:
		return nil
	}
	if err == nil {
		return nil
	}
	var tagged *Error
	if !errors.As(err, &tagged) {
		// Delivery failures carry no kind; apologising through the same
		// broken sender would not reach the user.
		return err
	}
	r.apologize(ctx, log, sender, err)
	return err
}

func (r *Router) handleCommand(ctx context.Context, msg channel.InboundMessage, sender channel.ReplySender) error {
	switch msg.Command {
	case "start":
		return r.reply(ctx, sender, MsgWelcome)
	default:
		return nil
	}
}

func (r *Router) handleVoice(ctx context.Context, log *slog.Logger, cfg channel.ChannelConfig, msg channel.InboundMessage, att channel.Attachment, sender channel.ReplySender) error {
	path, err := r.fetch(ctx, cfg, att, media.MediaTypeAudio)
	if err != nil {
		return err
	}
	defer r.removeTemp(log, path)

	text, err := r.deps.Transcriber.Transcribe(ctx, path)
	if err != nil {
		return wrap(ErrTranscription, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return wrap(ErrTranscription, errors.New("empty transcription"))
	}
	if err := r.reply(ctx, sender, fmt.Sprintf(MsgTranscribedFormat, text)); err != nil {
		return err
	}
	return r.converse(ctx, log, msg, assistant.TextContent(text), sender)
}

func (r *Router) handleImage(ctx context.Context, log *slog.Logger, cfg channel.ChannelConfig, msg channel.InboundMessage, att channel.Attachment, sender channel.ReplySender) error {
	caption := strings.TrimSpace(att.Caption)
	if caption == "" {
		caption = msg.Caption()
	}
	if !r.deps.Features.Storage {
		if caption != "" {
			return r.converse(ctx, log, msg, assistant.TextContent(caption), sender)
		}
		return r.reply(ctx, sender, MsgUnsupported)
	}

	path, err := r.fetch(ctx, cfg, att, media.MediaTypeImage)
	if err != nil {
		return err
	}
	defer r.removeTemp(log, path)

	obj, url, err := r.deps.Images.StoreImage(ctx, path, att.StableID(), imageContentType(att))
	if err != nil {
		if caption != "" {
			log.Warn("image storage failed, sending caption only", slog.Any("error", err))
			return r.converse(ctx, log, msg, assistant.TextContent(caption), sender)
		}
		return wrap(ErrStorage, err)
	}
	log.Debug("image shared", slog.String("key", obj.Key))
	return r.converse(ctx, log, msg, assistant.ImageContent(url, caption), sender)
}

func imageContentType(att channel.Attachment) string {
	mime := strings.ToLower(strings.TrimSpace(att.Mime))
	if strings.HasPrefix(mime, "image/") {
		return mime
	}
	return "image/jpeg"
}

// fetch downloads att into a unique temp file. The caller removes it.
func (r *Router) fetch(ctx context.Context, cfg channel.ChannelConfig, att channel.Attachment, kind media.MediaType) (string, error) {
	if r.deps.Resolver == nil {
		return "", wrap(ErrAttachmentFetch, errors.New("no attachment resolver"))
	}
	payload, err := r.deps.Resolver.ResolveAttachment(ctx, cfg, att)
	if err != nil {
		return "", wrap(ErrAttachmentFetch, err)
	}
	defer func() {
		_ = payload.Reader.Close()
	}()
	path, _, err := media.SpoolToTemp(r.deps.TempDir, payload.Reader, tempExt(att, kind), media.MaxAssetBytes)
	if err != nil {
		return "", wrap(ErrAttachmentFetch, err)
	}
	return path, nil
}

// tempExt keeps the provider-recognisable extension: voice notes are
// OGG/Opus and photos are JPEG.
func tempExt(att channel.Attachment, kind media.MediaType) string {
	if ext := strings.ToLower(filepath.Ext(strings.TrimSpace(att.Name))); ext != "" {
		return ext
	}
	if kind == media.MediaTypeImage {
		switch strings.ToLower(strings.TrimSpace(att.Mime)) {
		case "image/png":
			return ".png"
		case "image/webp":
			return ".webp"
		case "image/gif":
			return ".gif"
		}
		return ".jpg"
	}
	switch strings.ToLower(strings.TrimSpace(att.Mime)) {
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4", "audio/x-m4a":
		return ".m4a"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	}
	return ".ogg"
}

func (r *Router) removeTemp(log *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("remove temp file failed", slog.String("path", path), slog.Any("error", err))
	}
}

// converse submits content to the user's conversation, waits for the run and
// relays the reply. No reply is sent unless every step succeeded.
func (r *Router) converse(ctx context.Context, log *slog.Logger, msg channel.InboundMessage, content assistant.Content, sender channel.ReplySender) error {
	conversationID, err := r.deps.Sessions.GetOrCreate(ctx, msg.UserKey())
	if err != nil {
		return wrap(ErrSessionInit, err)
	}
	run, err := r.deps.Assistant.Submit(ctx, conversationID, content)
	if err != nil {
		return wrap(ErrProvider, err)
	}
	if _, err := r.deps.Waiter.AwaitCompletion(ctx, r.deps.Assistant, run); err != nil {
		return wrap(ErrProvider, err)
	}
	history, err := r.deps.Assistant.ListMessages(ctx, conversationID)
	if err != nil {
		return wrap(ErrProvider, err)
	}
	segments, found := assistant.LatestReply(history)
	if !found {
		segments = []string{assistant.NoReplyText}
	}
	log.Info("assistant replied",
		slog.String("conversation_id", conversationID),
		slog.String("run_id", run.ID),
		slog.Int("segments", len(segments)),
	)
	for _, segment := range segments {
		if err := r.reply(ctx, sender, segment); err != nil {
			return err
		}
	}
	if found && r.deps.Features.TTS {
		r.speak(ctx, log, strings.Join(segments, "\n"), sender)
	}
	return nil
}

// speak sends the reply as a voice note. The text reply is already out, so
// failures are only logged.
func (r *Router) speak(ctx context.Context, log *slog.Logger, text string, sender channel.ReplySender) {
	stream, err := r.deps.Speaker.Speak(ctx, text)
	if err != nil {
		log.Warn("speech synthesis failed", slog.Any("error", err))
		return
	}
	defer func() {
		_ = stream.Close()
	}()
	audio, err := media.ReadAllWithLimit(stream, media.MaxSpeechBytes)
	if err != nil {
		log.Warn("read synthesized speech failed", slog.Any("error", err))
		return
	}
	if err := sender.Send(ctx, channel.OutboundMessage{
		Voice: &channel.VoiceNote{Data: audio, Name: "respuesta.ogg", Caption: MsgVoiceCaption},
	}); err != nil {
		log.Warn("send voice reply failed", slog.Any("error", err))
	}
}

func (r *Router) reply(ctx context.Context, sender channel.ReplySender, text string) error {
	if err := sender.Send(ctx, channel.OutboundMessage{Text: text}); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// apologize sends the single apology for err. It survives cancellation of
// ctx so users hear back even when shutdown interrupted their request.
func (r *Router) apologize(ctx context.Context, log *slog.Logger, sender channel.ReplySender, err error) {
	log.Error("pipeline failed", slog.Any("error", err))
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), apologyTimeout)
	defer cancel()
	if sendErr := r.reply(sendCtx, sender, Apology(err)); sendErr != nil {
		log.Warn("send apology failed", slog.Any("error", sendErr))
	}
}
