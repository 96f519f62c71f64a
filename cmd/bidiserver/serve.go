package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	bridge "github.com/koscakluka/ema-bridge/core"
	"github.com/koscakluka/ema-bridge/core/audio"
	"github.com/koscakluka/ema-bridge/core/model"
	"github.com/koscakluka/ema-bridge/core/model/deepgram"
	"github.com/koscakluka/ema-bridge/core/model/gemini"
	"github.com/koscakluka/ema-bridge/core/tools"
	"github.com/koscakluka/ema-bridge/internal/config"
	"github.com/koscakluka/ema-bridge/internal/server"
	"github.com/koscakluka/ema-bridge/internal/telemetry"
)

type serveFlags struct {
	listenAddr string
	provider   string
	modelID    string
	voice      string
	tools      []string
}

func newServeCommand(root *rootFlags) *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, &cfg); err != nil {
				return err
			}

			logger, err := newLogger(os.Stderr, root.logLevel, root.logFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&flags.listenAddr, "listen", "", "listen address (overrides server.listen_addr)")
	cmd.Flags().StringVar(&flags.provider, "provider", "", "model provider: gemini or deepgram")
	cmd.Flags().StringVar(&flags.modelID, "model", "", "model id")
	cmd.Flags().StringVar(&flags.voice, "voice", "", "voice name")
	cmd.Flags().StringSliceVar(&flags.tools, "tools", nil, "builtin tools to enable")
	return cmd
}

// apply overrides cfg with the flags that were set explicitly.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("listen") {
		cfg.Server.ListenAddr = f.listenAddr
	}
	if changed("provider") {
		cfg.Model.Provider = f.provider
	}
	if changed("model") {
		cfg.Model.ID = f.modelID
	}
	if changed("voice") {
		cfg.Model.Voice = f.voice
	}
	if changed("tools") {
		cfg.Tools.Enabled = f.tools
	}
	return cfg.Validate()
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) (err error) {
	provider, err := telemetry.NewProvider(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		if shutdownErr := provider.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to flush telemetry: %w", shutdownErr))
		}
	}()

	registry, err := newRegistry(cfg.Tools.Enabled, logger)
	if err != nil {
		return err
	}
	connector, modelCfg := newConnector(cfg.Model)

	sessionOptions := append(server.SessionOptions(cfg.Session), bridge.WithToolRegistry(registry))
	supervisor := bridge.NewSupervisor(connector, modelCfg,
		bridge.WithSupervisorLogger(logger),
		bridge.WithSessionOptions(sessionOptions...),
	)

	logger.Info("starting bridge server",
		"version", version,
		"provider", cfg.Model.Provider,
		"model", modelCfg.ModelID,
		"tools", cfg.Tools.Enabled,
	)
	return server.New(cfg, supervisor, server.WithLogger(logger)).ListenAndServe(ctx)
}

func newRegistry(names []string, logger *slog.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry(tools.WithLogger(logger))
	for _, name := range names {
		tool, ok := tools.Builtin(name)
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
		registry.RegisterTool(tool)
	}
	return registry, nil
}

func newConnector(cfg config.ModelConfig) (model.Connector, model.Config) {
	modelCfg := model.Config{
		ModelID:        cfg.ID,
		Voice:          cfg.Voice,
		SystemPrompt:   cfg.SystemPrompt,
		InputAudio:     audio.GetDefaultEncodingInfo(),
		ProviderConfig: cfg.ProviderConfig,
	}

	switch cfg.Provider {
	case config.ProviderDeepgram:
		if modelCfg.ModelID == "" {
			modelCfg.ModelID = deepgram.DefaultThinkModel
		}
		return deepgram.NewConnector(deepgram.WithAPIKey(cfg.APIKey())), modelCfg
	default:
		if modelCfg.ModelID == "" {
			modelCfg.ModelID = gemini.DefaultModel
		}
		opts := []gemini.ConnectorOption{}
		if cfg.VertexProject != "" {
			opts = append(opts, gemini.WithVertexAI(cfg.VertexProject, cfg.VertexLocation))
		} else if key := cfg.APIKey(); key != "" {
			opts = append(opts, gemini.WithAPIKey(key))
		}
		return gemini.NewConnector(opts...), modelCfg
	}
}
