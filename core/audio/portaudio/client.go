// Package portaudio implements audio.Device on top of PortAudio.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/koscakluka/ema-bridge/core/audio"
)

type Client struct {
	bufferSize int

	captureStream *portaudio.Stream
	in            []int16
	captureMu     sync.Mutex
	stopCapture   context.CancelFunc
	captureDone   chan struct{}

	playbackMu     sync.Mutex
	playbackStream *portaudio.Stream
	out            []int16
	encoding       audio.EncodingInfo
	pending        []byte
	wake           chan struct{}
	playbackDone   chan struct{}
	closing        chan struct{}
	closeOnce      sync.Once
}

var _ audio.Device = (*Client)(nil)

// NewClient opens the default input device. bufferSize is the number of
// frames per captured chunk; zero selects audio.DefaultFrameSize.
func NewClient(bufferSize int) (*Client, error) {
	if bufferSize <= 0 {
		bufferSize = audio.DefaultFrameSize
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize*audio.DefaultChannels)
	stream, err := portaudio.OpenDefaultStream(audio.DefaultChannels, 0, audio.DefaultSampleRate, bufferSize, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open capture stream: %w", err)
	}

	return &Client{
		bufferSize:    bufferSize,
		captureStream: stream,
		in:            in,
		wake:          make(chan struct{}, 1),
		closing:       make(chan struct{}),
	}, nil
}

func (c *Client) StartCapture(ctx context.Context, onAudio func(chunk []byte)) error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	if c.stopCapture != nil {
		return nil
	}
	if err := c.captureStream.Start(); err != nil {
		return fmt.Errorf("failed to start capture stream: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.stopCapture = cancel
	c.captureDone = make(chan struct{})
	go c.capture(ctx, onAudio, c.captureDone)
	return nil
}

func (c *Client) capture(ctx context.Context, onAudio func(chunk []byte), done chan struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		if err := c.captureStream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			logger.Warn("failed to read from capture stream", "error", err)
			return
		}
		chunk, err := binary.Append(nil, binary.LittleEndian, c.in)
		if err != nil {
			logger.Warn("failed to encode captured audio", "error", err)
			return
		}
		onAudio(chunk)
	}
}

func (c *Client) StopCapture() error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	if c.stopCapture == nil {
		return nil
	}

	c.stopCapture()
	<-c.captureDone
	c.stopCapture = nil
	if err := c.captureStream.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture stream: %w", err)
	}
	return nil
}

// Play queues chunk and opens a matching output stream if needed. Audio is
// written to the device from a background goroutine.
func (c *Client) Play(chunk []byte, encoding audio.EncodingInfo) error {
	encoding = encoding.WithDefaults(audio.GetDefaultOutputEncodingInfo())
	if encoding.Format.ByteSize() != 2 {
		return fmt.Errorf("unsupported audio format %q", encoding.Format)
	}

	c.playbackMu.Lock()
	if encoding != c.encoding {
		if err := c.reopenPlayback(encoding); err != nil {
			c.playbackMu.Unlock()
			return err
		}
	}
	c.pending = append(c.pending, chunk...)
	c.playbackMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// reopenPlayback must be called with playbackMu held.
func (c *Client) reopenPlayback(encoding audio.EncodingInfo) error {
	if err := c.closePlayback(); err != nil {
		return err
	}

	out := make([]int16, c.bufferSize*encoding.Channels)
	stream, err := portaudio.OpenDefaultStream(0, encoding.Channels, float64(encoding.SampleRate), c.bufferSize, out)
	if err != nil {
		return fmt.Errorf("failed to open playback stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to start playback stream: %w", err)
	}

	c.playbackStream, c.out, c.encoding, c.pending = stream, out, encoding, nil
	c.playbackDone = make(chan struct{})
	go c.playback(stream, out, c.playbackDone)
	return nil
}

// closePlayback must be called with playbackMu held.
func (c *Client) closePlayback() error {
	if c.playbackStream == nil {
		return nil
	}

	stream, done := c.playbackStream, c.playbackDone
	c.playbackStream, c.encoding = nil, audio.EncodingInfo{}
	c.playbackMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	<-done
	c.playbackMu.Lock()
	return errors.Join(stream.Stop(), stream.Close())
}

func (c *Client) playback(stream *portaudio.Stream, out []int16, done chan struct{}) {
	defer close(done)
	frameBytes := len(out) * 2
	for {
		c.playbackMu.Lock()
		if c.playbackStream != stream {
			c.playbackMu.Unlock()
			return
		}
		if len(c.pending) < frameBytes {
			c.playbackMu.Unlock()
			select {
			case <-c.wake:
				continue
			case <-c.closing:
				return
			}
		}
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(c.pending[i*2:]))
		}
		c.pending = c.pending[frameBytes:]
		c.playbackMu.Unlock()

		if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			logger.Warn("failed to write to playback stream", "error", err)
		}
	}
}

func (c *Client) ClearBuffer() {
	c.playbackMu.Lock()
	defer c.playbackMu.Unlock()
	c.pending = nil
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		errs := []error{c.StopCapture()}
		close(c.closing)

		c.playbackMu.Lock()
		errs = append(errs, c.closePlayback())
		c.playbackMu.Unlock()

		errs = append(errs, c.captureStream.Close(), portaudio.Terminate())
		err = errors.Join(errs...)
	})
	return err
}
