package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/koscakluka/ema-bridge/core/audio"
	"github.com/koscakluka/ema-bridge/core/audio/miniaudio"
	"github.com/koscakluka/ema-bridge/core/audio/portaudio"
	"github.com/koscakluka/ema-bridge/internal/client"
)

const (
	backendMiniaudio = "miniaudio"
	backendPortaudio = "portaudio"
)

type flags struct {
	url          string
	audio        bool
	audioBackend string
	logFile      string
}

func newRootCommand() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:          "bidiclient",
		Short:        "Talk to a bridge server by text or voice",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVarP(&f.url, "url", "u", "ws://localhost:8080/ws", "bridge WebSocket URL")
	cmd.Flags().BoolVarP(&f.audio, "audio", "a", false, "stream the microphone and play model speech")
	cmd.Flags().StringVar(&f.audioBackend, "audio-backend", backendMiniaudio, "audio backend: miniaudio or portaudio")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "write client logs to this file")
	return cmd
}

func run(ctx context.Context, f *flags) error {
	logger, closeLog, err := openLog(f.logFile)
	if err != nil {
		return err
	}
	defer closeLog()

	var device audio.Device
	if f.audio {
		if device, err = openDevice(f.audioBackend); err != nil {
			return err
		}
		defer func() {
			if err := device.Close(); err != nil {
				logger.Warn("failed to close audio device", "error", err)
			}
		}()
	}

	c, err := client.Dial(ctx, f.url, client.WithLogger(logger))
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(newModel(ctx, c, device, f.url), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run terminal UI: %w", err)
	}
	return nil
}

func openDevice(backend string) (audio.Device, error) {
	switch backend {
	case backendMiniaudio:
		device, err := miniaudio.NewClient()
		if err != nil {
			return nil, err
		}
		return device, nil
	case backendPortaudio:
		device, err := portaudio.NewClient(audio.DefaultFrameSize)
		if err != nil {
			return nil, err
		}
		return device, nil
	}
	return nil, fmt.Errorf("unknown audio backend %q", backend)
}

// openLog returns a logger that stays off the terminal the UI draws on.
func openLog(path string) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() { _ = file.Close() }, nil
}
