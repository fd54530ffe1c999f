package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/assistbot/internal/assistant"
	"github.com/memohai/assistbot/internal/channel"
	"github.com/memohai/assistbot/internal/channel/adapters/telegram"
	"github.com/memohai/assistbot/internal/config"
	"github.com/memohai/assistbot/internal/handlers"
	channelchecker "github.com/memohai/assistbot/internal/healthcheck/checkers/channel"
	storagechecker "github.com/memohai/assistbot/internal/healthcheck/checkers/storage"
	"github.com/memohai/assistbot/internal/logger"
	"github.com/memohai/assistbot/internal/media"
	"github.com/memohai/assistbot/internal/media/providers/s3"
	"github.com/memohai/assistbot/internal/router"
	"github.com/memohai/assistbot/internal/server"
	"github.com/memohai/assistbot/internal/session"
	"github.com/memohai/assistbot/internal/version"
)

const channelConfigID = "telegram"

type configPath string

func runServe(path string) {
	fx.New(
		fx.Supply(configPath(path)),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideStorageProvider,
			provideMediaService,
			provideOpenAIClient,
			providePoller,
			provideSessionStore,
			telegram.NewTelegramAdapter,
			provideRouter,
			provideChannelManager,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideHealthHandler),
			provideServer,
		),
		fx.Invoke(
			startMediaService,
			startChannelManager,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(path configPath) (config.Config, error) {
	cfg, err := config.Load(string(path))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

// provideStorageProvider returns nil when image storage is disabled.
func provideStorageProvider(log *slog.Logger, cfg config.Config) (media.StorageProvider, error) {
	if !cfg.StorageEnabled() {
		return nil, nil
	}
	provider, err := s3.New(log, s3.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return provider, nil
}

func provideMediaService(log *slog.Logger, cfg config.Config, provider media.StorageProvider) *media.Service {
	return media.NewService(log, provider, cfg.Storage.KeyPrefix, cfg.Storage.URLTTL)
}

func provideOpenAIClient(log *slog.Logger, cfg config.Config) *assistant.OpenAIClient {
	return assistant.NewOpenAIClient(log, openAIOptions(cfg))
}

func openAIOptions(cfg config.Config) assistant.Options {
	return assistant.Options{
		APIKey:             cfg.OpenAI.APIKey,
		BaseURL:            cfg.OpenAI.BaseURL,
		AssistantID:        cfg.OpenAI.AssistantID,
		Instructions:       cfg.OpenAI.Instructions,
		TranscriptionModel: cfg.OpenAI.TranscriptionModel,
		Language:           cfg.OpenAI.Language,
		SpeechModel:        cfg.OpenAI.SpeechModel,
		SpeechVoice:        cfg.OpenAI.SpeechVoice,
		VisionModel:        cfg.OpenAI.VisionModel,
	}
}

func providePoller(log *slog.Logger, cfg config.Config) *assistant.Poller {
	return assistant.NewPoller(log, cfg.Poller.Interval, cfg.Poller.Timeout)
}

func provideSessionStore(log *slog.Logger, client *assistant.OpenAIClient) *session.Store {
	return session.NewStore(log, client)
}

func provideRouter(log *slog.Logger, cfg config.Config, sessions *session.Store, client *assistant.OpenAIClient, poller *assistant.Poller, adapter *telegram.TelegramAdapter, mediaService *media.Service) *router.Router {
	deps := router.Deps{
		Sessions:    sessions,
		Assistant:   client,
		Waiter:      poller,
		Resolver:    adapter,
		Transcriber: client,
		Speaker:     client,
		Features: router.Features{
			Voice:   cfg.Features.Voice,
			Image:   cfg.Features.Image,
			Storage: cfg.StorageEnabled(),
			TTS:     cfg.Features.TTS,
		},
		TempDir: os.TempDir(),
	}
	if cfg.StorageEnabled() {
		deps.Images = mediaService
	}
	return router.New(log, deps)
}

func provideChannelManager(log *slog.Logger, cfg config.Config, adapter *telegram.TelegramAdapter, processor *router.Router) *channel.Manager {
	return channel.NewManager(log, adapter, channel.ChannelConfig{
		ID:          channelConfigID,
		ChannelType: telegram.Type,
		Credentials: telegram.Credentials(cfg.Telegram.BotToken, cfg.Telegram.APIEndpoint, cfg.Telegram.PollTimeoutSeconds),
	}, processor, channel.ManagerOptions{
		Workers:   cfg.Router.Workers,
		QueueSize: cfg.Router.QueueSize,
	})
}

func provideHealthHandler(log *slog.Logger, cfg config.Config, manager *channel.Manager, mediaService *media.Service) *handlers.HealthHandler {
	var pinger storagechecker.Pinger
	if cfg.StorageEnabled() {
		pinger = mediaService
	}
	return handlers.NewHealthHandler(log,
		channelchecker.NewChecker(log, manager),
		storagechecker.NewChecker(log, pinger),
	)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func startMediaService(lc fx.Lifecycle, cfg config.Config, mediaService *media.Service) {
	if !cfg.StorageEnabled() {
		return
	}
	lc.Append(fx.Hook{OnStart: func(ctx context.Context) error { return mediaService.EnsureBucket(ctx) }})
}

func startChannelManager(lc fx.Lifecycle, manager *channel.Manager) {
	// The OnStart context ends once startup completes; polling outlives it.
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { return manager.Start(ctx) },
		OnStop: func(stopCtx context.Context) error {
			defer cancel()
			return manager.Shutdown(stopCtx)
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting assistbot %s\n", version.GetInfo())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			logger.Info("http server listening", slog.String("addr", srv.Addr()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
