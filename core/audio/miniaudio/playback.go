package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/koscakluka/ema-bridge/core/audio"
)

type playbackClient struct {
	device *malgo.Device

	queue playbackQueue

	mu sync.Mutex
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext, encoding audio.EncodingInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	format, err := deviceFormat(encoding.Format)
	if err != nil {
		return err
	}
	c.queue.clear()

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = uint32(encoding.SampleRate)
	config.Playback.Format = format
	config.Playback.Channels = uint32(encoding.Channels)
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = uint32(encoding.SampleRate / 10) // ~100ms of audio
	config.Periods = 4

	bytesPerFrame := encoding.FrameBytes()
	if c.device, err = malgo.InitDevice(audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			c.queue.fill(output[:int(frameCount)*bytesPerFrame], encoding.SilenceValue())
		},
	}); err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	return nil
}

func (c *playbackClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return errNotInitialized
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

func (c *playbackClient) Enqueue(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return errNotInitialized
	} else if !c.device.IsStarted() {
		return fmt.Errorf("playback device not started")
	}

	c.queue.push(chunk)
	return nil
}

func (c *playbackClient) ClearBuffer() {
	c.queue.clear()
}

func (c *playbackClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return errNotInitialized
	}

	c.device.Uninit()
	c.device = nil
	c.queue.clear()
	return nil
}

// playbackQueue holds audio waiting for the device callback.
type playbackQueue struct {
	mu      sync.Mutex
	pending []byte
}

func (q *playbackQueue) push(chunk []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, chunk...)
}

// fill copies queued audio into out and pads the rest with silence.
func (q *playbackQueue) fill(out []byte, silence byte) int {
	q.mu.Lock()
	n := copy(out, q.pending)
	q.pending = q.pending[n:]
	if len(q.pending) == 0 {
		q.pending = nil
	}
	q.mu.Unlock()

	for i := n; i < len(out); i++ {
		out[i] = silence
	}
	return n
}

func (q *playbackQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
}
