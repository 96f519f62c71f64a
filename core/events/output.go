package events

import "github.com/koscakluka/ema-bridge/core/audio"

const (
	// KindAudioOutput identifies a synthesized speech chunk.
	KindAudioOutput Kind = "bidi_audio_stream"
	// KindTranscriptOutput identifies a transcript update.
	KindTranscriptOutput Kind = "bidi_transcript_stream"
)

// AudioOutput carries one chunk of model speech.
type AudioOutput struct {
	Audio []byte `json:"audio"`
	audio.EncodingInfo
}

// NewAudioOutput creates an audio output event.
func NewAudioOutput(data []byte, encoding audio.EncodingInfo) AudioOutput {
	return AudioOutput{Audio: data, EncodingInfo: encoding}
}

func (AudioOutput) Kind() Kind { return KindAudioOutput }

// TranscriptOutput is a transcript of either the user or the assistant.
// Interim updates have IsFinal unset and may be superseded.
type TranscriptOutput struct {
	Text    string `json:"text"`
	Role    Role   `json:"role"`
	IsFinal bool   `json:"is_final"`
}

// NewTranscriptOutput creates a transcript event.
func NewTranscriptOutput(role Role, text string, isFinal bool) TranscriptOutput {
	return TranscriptOutput{Text: text, Role: role, IsFinal: isFinal}
}

func (TranscriptOutput) Kind() Kind { return KindTranscriptOutput }
