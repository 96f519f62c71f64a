package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestPeakAmplitude(t *testing.T) {
	loud, _ := binary.Append(nil, binary.LittleEndian, []int16{0, -1200, 300})
	quiet, _ := binary.Append(nil, binary.LittleEndian, []int16{12, -40, 7})

	testCases := []struct {
		name     string
		chunk    []byte
		info     EncodingInfo
		expected int
	}{
		{name: "pcm zeros", chunk: make([]byte, 1024), info: GetDefaultEncodingInfo(), expected: 0},
		{name: "pcm speech", chunk: loud, info: GetDefaultEncodingInfo(), expected: 1200},
		{name: "linear16 alias", chunk: quiet, info: EncodingInfo{Format: FormatLinear16}, expected: 40},
		{name: "mulaw silence", chunk: bytes.Repeat([]byte{0xFF}, 160), info: EncodingInfo{Format: FormatMulaw}, expected: 0},
		{name: "mulaw full scale", chunk: []byte{0xFF, 0x00}, info: EncodingInfo{Format: FormatMulaw}, expected: 32124},
		{name: "alaw silence", chunk: bytes.Repeat([]byte{0xD5}, 160), info: EncodingInfo{Format: FormatALaw}, expected: 8},
		{name: "unknown format", chunk: loud, info: EncodingInfo{Format: "opus"}, expected: -1},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if peak := PeakAmplitude(testCase.chunk, testCase.info); peak != testCase.expected {
				t.Fatalf("expected peak %d, got %d", testCase.expected, peak)
			}
		})
	}
}

func TestIsSilent(t *testing.T) {
	info := GetDefaultEncodingInfo()
	speech, _ := binary.Append(nil, binary.LittleEndian, []int16{0, 4000, -3500})

	if !IsSilent(make([]byte, 1024), info, DefaultSpeechThreshold) {
		t.Fatalf("expected zeroed pcm to be silent")
	}
	if IsSilent(speech, info, DefaultSpeechThreshold) {
		t.Fatalf("expected loud pcm not to be silent")
	}
	if !IsSilent(bytes.Repeat([]byte{info.SilenceValue()}, info.FrameBytes()*DefaultFrameSize), info, 0) {
		t.Fatalf("expected a chunk of silence values to be silent at threshold zero")
	}
	if IsSilent(make([]byte, 8), EncodingInfo{Format: "opus"}, DefaultSpeechThreshold) {
		t.Fatalf("expected unknown formats never to count as silent")
	}
}
