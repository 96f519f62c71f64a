// Package miniaudio implements audio.Device on top of miniaudio.
package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/koscakluka/ema-bridge/core/audio"
)

type Client struct {
	// audioContext is kept to be uninitialized on Close, devices borrow it
	audioContext *malgo.AllocatedContext
	playback     playbackClient
	capture      captureClient

	// playbackMu guards switching the playback device to a new encoding
	playbackMu sync.Mutex
	encoding   audio.EncodingInfo
}

var _ audio.Device = (*Client)(nil)

func NewClient() (*Client, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := &Client{audioContext: audioCtx}
	if err := client.capture.Init(audioCtx, audio.GetDefaultEncodingInfo()); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}
	return client, nil
}

func (c *Client) StartCapture(_ context.Context, onAudio func(chunk []byte)) error {
	return c.capture.Start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.capture.Stop()
}

// Play queues chunk for playback, reopening the playback device when the
// encoding differs from the one it was opened with.
func (c *Client) Play(chunk []byte, encoding audio.EncodingInfo) error {
	encoding = encoding.WithDefaults(audio.GetDefaultOutputEncodingInfo())

	c.playbackMu.Lock()
	defer c.playbackMu.Unlock()
	if encoding != c.encoding {
		c.encoding = audio.EncodingInfo{}
		if err := c.playback.Uninit(); err != nil && !errors.Is(err, errNotInitialized) {
			return err
		}
		if err := c.playback.Init(c.audioContext, encoding); err != nil {
			return fmt.Errorf("failed to initialize playback client: %w", err)
		}
		if err := c.playback.Start(); err != nil {
			return err
		}
		c.encoding = encoding
	}
	return c.playback.Enqueue(chunk)
}

func (c *Client) ClearBuffer() {
	c.playback.ClearBuffer()
}

func (c *Client) Close() error {
	errs := []error{c.capture.Uninit()}
	c.playbackMu.Lock()
	if err := c.playback.Uninit(); err != nil && !errors.Is(err, errNotInitialized) {
		errs = append(errs, err)
	}
	c.playbackMu.Unlock()
	if err := c.audioContext.Uninit(); err != nil {
		errs = append(errs, fmt.Errorf("failed to uninitialize audio context: %w", err))
	}
	c.audioContext.Free()
	return errors.Join(errs...)
}

func deviceFormat(format audio.Format) (malgo.FormatType, error) {
	switch format {
	case audio.FormatPCM, audio.FormatLinear16:
		return malgo.FormatS16, nil
	}
	return malgo.FormatUnknown, fmt.Errorf("unsupported audio format %q", format)
}
