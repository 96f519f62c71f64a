package miniaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/koscakluka/ema-bridge/core/audio"
)

var errNotInitialized = errors.New("device not initialized")

type captureClient struct {
	device *malgo.Device
	chunks *chunker

	onAudio func(chunk []byte)

	mu sync.Mutex
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext, encoding audio.EncodingInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	format, err := deviceFormat(encoding.Format)
	if err != nil {
		return err
	}
	bytesPerFrame := encoding.FrameBytes()
	c.chunks = newChunker(audio.DefaultFrameSize * bytesPerFrame)

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = uint32(encoding.SampleRate)
	config.Capture.Format = format
	config.Capture.Channels = uint32(encoding.Channels)
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency
	config.PeriodSizeInFrames = audio.DefaultFrameSize
	config.Periods = 3

	c.device, err = malgo.InitDevice(audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(input) < n || n == 0 {
				return
			}

			c.mu.Lock()
			onAudio := c.onAudio
			c.mu.Unlock()
			if onAudio != nil {
				c.chunks.write(input[:n], onAudio)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	return nil
}

func (c *captureClient) Start(onAudio func(chunk []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return errNotInitialized
	} else if c.device.IsStarted() {
		return nil
	}

	c.onAudio = onAudio
	if err := c.device.Start(); err != nil {
		c.onAudio = nil
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

func (c *captureClient) Stop() error {
	c.mu.Lock()
	if c.device == nil {
		c.mu.Unlock()
		return errNotInitialized
	} else if !c.device.IsStarted() {
		c.mu.Unlock()
		return nil
	}
	c.onAudio = nil
	device := c.device
	c.mu.Unlock()

	// Stop waits for the data callback, which takes mu.
	if err := device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	c.chunks.reset()
	return nil
}

func (c *captureClient) Uninit() error {
	c.mu.Lock()
	device := c.device
	c.device = nil
	c.onAudio = nil
	c.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
	return nil
}

// chunker regroups device periods into chunks of a fixed byte size.
type chunker struct {
	size    int
	pending []byte
}

func newChunker(size int) *chunker {
	return &chunker{size: size, pending: make([]byte, 0, size)}
}

func (c *chunker) write(data []byte, emit func(chunk []byte)) {
	for len(data) > 0 {
		n := min(c.size-len(c.pending), len(data))
		c.pending = append(c.pending, data[:n]...)
		data = data[n:]
		if len(c.pending) == c.size {
			chunk := make([]byte, c.size)
			copy(chunk, c.pending)
			c.pending = c.pending[:0]
			emit(chunk)
		}
	}
}

func (c *chunker) reset() {
	c.pending = c.pending[:0]
}
