package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/koscakluka/ema-bridge/internal/config"
)

type rootFlags struct {
	configPath string
	envFiles   []string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:          "bidiserver",
		Short:        "Bridge WebSocket clients to realtime voice models",
		SilenceUsage: true,
		Version:      version,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", nil, "env files to load (default .env when present)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "json", "log format: json or text")

	cmd.AddCommand(newServeCommand(flags), newToolsCommand(flags))
	return cmd
}

// loadConfig reads env files and the config file.
func (f *rootFlags) loadConfig() (config.Config, error) {
	if err := config.LoadDotEnv(f.envFiles...); err != nil {
		return config.Config{}, err
	}
	return config.Load(f.configPath)
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	options := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, options)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, options)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", format)
}
