package audio

import "encoding/binary"

// DefaultSpeechThreshold is the 16-bit peak amplitude above which a chunk
// counts as speech.
const DefaultSpeechThreshold = 500

// PeakAmplitude returns the largest absolute sample in chunk on the 16-bit
// linear scale. Companded formats are expanded first. Unknown formats
// report -1.
func PeakAmplitude(chunk []byte, info EncodingInfo) int {
	peak := 0
	switch info.Format {
	case FormatPCM, FormatLinear16:
		for i := 0; i+1 < len(chunk); i += 2 {
			peak = max(peak, abs(int(int16(binary.LittleEndian.Uint16(chunk[i:])))))
		}
	case FormatMulaw:
		for _, b := range chunk {
			peak = max(peak, abs(mulawToLinear(b)))
		}
	case FormatALaw:
		for _, b := range chunk {
			peak = max(peak, abs(alawToLinear(b)))
		}
	default:
		return -1
	}
	return peak
}

// IsSilent reports whether no sample in chunk exceeds threshold. Chunks in
// an unknown format are never silent.
func IsSilent(chunk []byte, info EncodingInfo, threshold int) bool {
	peak := PeakAmplitude(chunk, info)
	return peak >= 0 && peak <= threshold
}

func mulawToLinear(b byte) int {
	b = ^b
	magnitude := ((int(b&0x0F) << 3) + 0x84) << ((b & 0x70) >> 4)
	if b&0x80 != 0 {
		return 0x84 - magnitude
	}
	return magnitude - 0x84
}

func alawToLinear(b byte) int {
	b ^= 0x55
	magnitude := int(b&0x0F) << 4
	switch segment := (b & 0x70) >> 4; segment {
	case 0:
		magnitude += 8
	case 1:
		magnitude += 0x108
	default:
		magnitude = (magnitude + 0x108) << (segment - 1)
	}
	if b&0x80 != 0 {
		return magnitude
	}
	return -magnitude
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
