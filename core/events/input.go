package events

import "github.com/koscakluka/ema-bridge/core/audio"

const (
	// KindAudioInput identifies a raw client audio chunk.
	KindAudioInput Kind = "bidi_audio_input"
	// KindTextInput identifies client text input.
	KindTextInput Kind = "bidi_text_input"
)

// AudioInput carries one chunk of client audio.
type AudioInput struct {
	Audio []byte `json:"audio"`
	audio.EncodingInfo
}

// NewAudioInput creates an audio input event.
func NewAudioInput(data []byte, encoding audio.EncodingInfo) AudioInput {
	return AudioInput{Audio: data, EncodingInfo: encoding}
}

func (AudioInput) Kind() Kind { return KindAudioInput }

// TextInput carries text typed by the client.
type TextInput struct {
	Text string `json:"text"`
	Role Role   `json:"role,omitempty"`
}

// NewTextInput creates a text input event.
func NewTextInput(text string, role Role) TextInput {
	return TextInput{Text: text, Role: role}
}

func (TextInput) Kind() Kind { return KindTextInput }
