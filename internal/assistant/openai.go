package assistant

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	historyPageSize       = 20
	defaultDescribePrompt = "Describe esta imagen."
)

// Options configures the OpenAI client.
type Options struct {
	APIKey             string
	BaseURL            string
	AssistantID        string
	Instructions       string
	TranscriptionModel string
	Language           string
	SpeechModel        string
	SpeechVoice        string
	VisionModel        string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// OpenAIClient implements the conversation, run, transcription and speech
// operations on top of the OpenAI Assistants API.
type OpenAIClient struct {
	logger *slog.Logger
	client openai.Client
	opts   Options
}

// NewOpenAIClient creates a client. Automatic SDK retries are disabled; a
// failed call surfaces to the user who can resend.
func NewOpenAIClient(log *slog.Logger, opts Options) *OpenAIClient {
	if log == nil {
		log = slog.Default()
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(opts.BaseURL) != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	if strings.TrimSpace(opts.TranscriptionModel) == "" {
		opts.TranscriptionModel = openai.AudioModelWhisper1
	}
	if strings.TrimSpace(opts.SpeechModel) == "" {
		opts.SpeechModel = openai.SpeechModelTTS1
	}
	if strings.TrimSpace(opts.SpeechVoice) == "" {
		opts.SpeechVoice = string(openai.AudioSpeechNewParamsVoiceAlloy)
	}
	return &OpenAIClient{
		logger: log.With(slog.String("component", "openai")),
		client: openai.NewClient(reqOpts...),
		opts:   opts,
	}
}

// CreateConversation starts a new thread.
func (c *OpenAIClient) CreateConversation(ctx context.Context) (string, error) {
	thread, err := c.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

// Submit appends content as a user message and starts a run with the
// configured assistant and instructions.
func (c *OpenAIClient) Submit(ctx context.Context, conversationID string, content Content) (Run, error) {
	if content.IsEmpty() {
		return Run{}, ErrEmptyContent
	}
	if _, err := c.client.Beta.Threads.Messages.New(ctx, conversationID, openai.BetaThreadMessageNewParams{
		Role:    openai.BetaThreadMessageNewParamsRoleUser,
		Content: buildMessageContent(content),
	}); err != nil {
		return Run{}, fmt.Errorf("append message: %w", err)
	}

	params := openai.BetaThreadRunNewParams{AssistantID: c.opts.AssistantID}
	if strings.TrimSpace(c.opts.Instructions) != "" {
		params.Instructions = openai.String(c.opts.Instructions)
	}
	run, err := c.client.Beta.Threads.Runs.New(ctx, conversationID, params)
	if err != nil {
		return Run{}, fmt.Errorf("start run: %w", err)
	}
	c.logger.Debug("run started", slog.String("thread_id", conversationID), slog.String("run_id", run.ID))
	return convertRun(run, conversationID), nil
}

func buildMessageContent(content Content) openai.BetaThreadMessageNewParamsContentUnion {
	text := strings.TrimSpace(content.Text)
	imageURL := strings.TrimSpace(content.ImageURL)
	if imageURL == "" {
		return openai.BetaThreadMessageNewParamsContentUnion{OfString: openai.String(text)}
	}
	parts := make([]openai.MessageContentPartParamUnion, 0, 2)
	if text != "" {
		parts = append(parts, openai.MessageContentPartParamOfText(text))
	}
	parts = append(parts, openai.MessageContentPartParamOfImageURL(openai.ImageURLParam{URL: imageURL}))
	return openai.BetaThreadMessageNewParamsContentUnion{OfArrayOfContentParts: parts}
}

// RunStatus implements StatusGetter.
func (c *OpenAIClient) RunStatus(ctx context.Context, conversationID, runID string) (Run, error) {
	run, err := c.client.Beta.Threads.Runs.Get(ctx, conversationID, runID)
	if err != nil {
		return Run{}, fmt.Errorf("retrieve run: %w", err)
	}
	return convertRun(run, conversationID), nil
}

// CancelRun implements RunCanceler.
func (c *OpenAIClient) CancelRun(ctx context.Context, conversationID, runID string) error {
	if _, err := c.client.Beta.Threads.Runs.Cancel(ctx, conversationID, runID); err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	return nil
}

func convertRun(run *openai.Run, conversationID string) Run {
	if run == nil {
		return Run{ConversationID: conversationID}
	}
	threadID := run.ThreadID
	if threadID == "" {
		threadID = conversationID
	}
	return Run{
		ID:             run.ID,
		ConversationID: threadID,
		Status:         RunStatus(run.Status),
		ErrorCode:      string(run.LastError.Code),
		ErrorMessage:   run.LastError.Message,
	}
}

// ListMessages returns the most recent page of the thread history in
// chronological order.
func (c *OpenAIClient) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	page, err := c.client.Beta.Threads.Messages.List(ctx, conversationID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
		Limit: openai.Int(historyPageSize),
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]Message, 0, len(page.Data))
	for i := len(page.Data) - 1; i >= 0; i-- {
		out = append(out, convertMessage(page.Data[i]))
	}
	return out, nil
}

func convertMessage(msg openai.Message) Message {
	segments := make([]string, 0, len(msg.Content))
	for _, block := range msg.Content {
		if block.Type != "text" {
			continue
		}
		segments = append(segments, block.Text.Value)
	}
	return Message{
		ID:        msg.ID,
		Role:      Role(msg.Role),
		CreatedAt: msg.CreatedAt,
		Segments:  segments,
	}
}

// Transcribe converts the audio file at path to text.
func (c *OpenAIClient) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(f, filepath.Base(path), audioContentType(path)),
		Model: c.opts.TranscriptionModel,
	}
	if strings.TrimSpace(c.opts.Language) != "" {
		params.Language = openai.String(c.opts.Language)
	}
	res, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

func audioContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// Speak synthesizes text as OGG/Opus, the format Telegram plays as a voice note.
// The caller closes the returned reader.
func (c *OpenAIClient) Speak(ctx context.Context, text string) (io.ReadCloser, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyContent
	}
	resp, err := c.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          c.opts.SpeechModel,
		Voice:          openai.AudioSpeechNewParamsVoice(c.opts.SpeechVoice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatOpus,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}
	return resp.Body, nil
}

// DescribeImage asks the vision model to describe the image at url.
func (c *OpenAIClient) DescribeImage(ctx context.Context, url, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultDescribePrompt
	}
	model := c.opts.VisionModel
	if strings.TrimSpace(model) == "" {
		model = openai.ChatModelGPT4Turbo
	}
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}),
			}),
		},
		MaxTokens: openai.Int(300),
	})
	if err != nil {
		return "", fmt.Errorf("describe image: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("describe image: empty completion")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}
