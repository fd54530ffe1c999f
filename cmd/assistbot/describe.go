package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memohai/assistbot/internal/assistant"
	"github.com/memohai/assistbot/internal/config"
	"github.com/memohai/assistbot/internal/logger"
)

func newDescribeCmd(cfgPath *string) *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "describe <image-url>",
		Short: "Ask the vision model to describe an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(*cfgPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
				return fmt.Errorf("openai.api_key is required")
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)
			client := assistant.NewOpenAIClient(logger.L, openAIOptions(cfg))
			answer, err := client.DescribeImage(cmd.Context(), strings.TrimSpace(args[0]), prompt)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "System prompt for the vision model.")
	return cmd
}
