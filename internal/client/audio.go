package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/koscakluka/ema-bridge/core/audio"
)

const captureQueueSize = 32

// StreamMicrophone captures audio from device and sends it until ctx is
// done or a send fails. Chunks that arrive while the queue is full are
// dropped.
func (c *Client) StreamMicrophone(ctx context.Context, device audio.Device) error {
	chunks := make(chan []byte, captureQueueSize)
	if err := device.StartCapture(ctx, func(chunk []byte) {
		select {
		case chunks <- chunk:
		default:
			c.logger.Debug("dropping captured audio, send queue full")
		}
	}); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	var err error
	for err == nil {
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case chunk := <-chunks:
			err = c.SendAudio(ctx, chunk)
		}
	}

	if stopErr := device.StopCapture(); stopErr != nil {
		c.logger.Warn("failed to stop capture", "error", stopErr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
