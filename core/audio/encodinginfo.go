package audio

const (
	DefaultSampleRate       = 16000
	DefaultOutputSampleRate = 24000
	DefaultChannels         = 1
	DefaultFormat           = FormatPCM

	// DefaultFrameSize is the number of frames per captured chunk.
	DefaultFrameSize = 512
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{Format: DefaultFormat, SampleRate: DefaultSampleRate, Channels: DefaultChannels}
}

func GetDefaultOutputEncodingInfo() EncodingInfo {
	return EncodingInfo{Format: DefaultFormat, SampleRate: DefaultOutputSampleRate, Channels: DefaultChannels}
}

// EncodingInfo describes raw audio carried on the wire.
type EncodingInfo struct {
	Format     Format `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// WithDefaults fills zero fields from fallback.
func (e EncodingInfo) WithDefaults(fallback EncodingInfo) EncodingInfo {
	if e.Format == "" {
		e.Format = fallback.Format
	}
	if e.SampleRate == 0 {
		e.SampleRate = fallback.SampleRate
	}
	if e.Channels == 0 {
		e.Channels = fallback.Channels
	}
	return e
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case FormatALaw:
		return 0x55
	case FormatMulaw:
		return 0xFF
	case FormatPCM:
		return 0
	}

	return 0
}

// FrameBytes is the byte length of one frame across all channels, -1 if
// the format is unknown.
func (e EncodingInfo) FrameBytes() int {
	size := e.Format.ByteSize()
	if size < 0 {
		return -1
	}
	channels := e.Channels
	if channels == 0 {
		channels = 1
	}
	return size * channels
}

type Format string

func (f Format) Name() string {
	return string(f)
}

func (f Format) ByteSize() int {
	switch f {
	case FormatMulaw, FormatALaw:
		return 1
	case FormatPCM, FormatLinear16:
		return 2
	}
	return -1
}

const (
	FormatPCM Format = "pcm"
	// FormatLinear16 is the name some providers use for 16-bit PCM.
	FormatLinear16 Format = "linear16"
	FormatMulaw    Format = "mulaw"
	FormatALaw     Format = "alaw"
)
