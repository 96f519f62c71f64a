package audio

import "context"

// Device captures microphone audio and plays model speech.
//
// StartCapture delivers chunks of DefaultFrameSize frames in the default
// input encoding until StopCapture or Close. Play may switch the output
// stream to a new encoding between chunks. ClearBuffer drops audio that has
// been queued but not played yet.
type Device interface {
	StartCapture(ctx context.Context, onAudio func(chunk []byte)) error
	StopCapture() error
	Play(chunk []byte, encoding EncodingInfo) error
	ClearBuffer()
	Close() error
}
