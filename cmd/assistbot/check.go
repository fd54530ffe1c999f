package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/memohai/assistbot/internal/channel"
	"github.com/memohai/assistbot/internal/channel/adapters/telegram"
	"github.com/memohai/assistbot/internal/config"
	"github.com/memohai/assistbot/internal/media"
	"github.com/memohai/assistbot/internal/media/providers/s3"
)

const checkTimeout = 15 * time.Second

func newCheckCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and probe Telegram and the bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(*cfgPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "openai api key: %s\n", config.MaskSecret(cfg.OpenAI.APIKey))
			_, _ = fmt.Fprintf(out, "assistant id: %s\n", cfg.OpenAI.AssistantID)

			ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
			defer cancel()
			return runProbes(ctx, out, cfg)
		},
	}
}

// runProbes checks every external dependency concurrently and reports each
// result before returning the first failure.
func runProbes(ctx context.Context, out io.Writer, cfg config.Config) error {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	var (
		username  string
		bucketErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		adapter := telegram.NewTelegramAdapter(log)
		name, err := adapter.Verify(gctx, channel.ChannelConfig{
			ID:          channelConfigID,
			ChannelType: telegram.Type,
			Credentials: telegram.Credentials(cfg.Telegram.BotToken, cfg.Telegram.APIEndpoint, cfg.Telegram.PollTimeoutSeconds),
		})
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		username = name
		return nil
	})
	if cfg.StorageEnabled() {
		g.Go(func() error {
			provider, err := s3.New(log, s3.Config{
				Endpoint:  cfg.Storage.Endpoint,
				AccessKey: cfg.Storage.AccessKey,
				SecretKey: cfg.Storage.SecretKey,
				Bucket:    cfg.Storage.Bucket,
				Region:    cfg.Storage.Region,
				UseSSL:    cfg.Storage.UseSSL,
			})
			if err == nil {
				err = media.NewService(log, provider, cfg.Storage.KeyPrefix, cfg.Storage.URLTTL).Ping(gctx)
			}
			if err != nil {
				bucketErr = fmt.Errorf("storage: %w", err)
				return bucketErr
			}
			return nil
		})
	}
	err := g.Wait()

	if username != "" {
		_, _ = fmt.Fprintf(out, "telegram bot: @%s\n", username)
	}
	switch {
	case !cfg.StorageEnabled():
		_, _ = fmt.Fprintln(out, "storage: disabled")
	case bucketErr == nil && err == nil:
		_, _ = fmt.Fprintf(out, "storage: bucket %s reachable\n", cfg.Storage.Bucket)
	}
	return err
}
