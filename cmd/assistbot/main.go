package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memohai/assistbot/internal/config"
	"github.com/memohai/assistbot/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:          "assistbot",
		Short:        "Telegram bot backed by an OpenAI assistant",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe(resolveConfigPath(cfgPath))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file path (defaults to $CONFIG_PATH or config.toml).")

	cmd.AddCommand(newServeCmd(&cfgPath))
	cmd.AddCommand(newCheckCmd(&cfgPath))
	cmd.AddCommand(newDescribeCmd(&cfgPath))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and its health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe(resolveConfigPath(*cfgPath))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "assistbot %s\n", version.GetInfo())
			return nil
		},
	}
}

// resolveConfigPath prefers the flag, then CONFIG_PATH.
func resolveConfigPath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("CONFIG_PATH")); p != "" {
		return p
	}
	return config.DefaultConfigPath
}
