package audio

import (
	"encoding/binary"
	"fmt"
)

// DecodeError reports audio that could not be decoded. It is per-chunk and
// never fatal to a call.
type DecodeError struct {
	Encoding string
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("audio decode (%s): %s", e.Encoding, e.Reason)
}

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// DecodeMulaw expands one G.711 mu-law byte to 16-bit linear PCM.
func DecodeMulaw(b byte) int16 {
	u := ^b
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F

	sample := ((int(mantissa) << 3) + mulawBias) << exponent
	sample -= mulawBias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

// EncodeMulaw compresses one 16-bit linear PCM sample to G.711 mu-law.
func EncodeMulaw(s int16) byte {
	sample := int(s)
	var sign byte
	if sample < 0 {
		sign = 0x80
		sample = -sample
	}
	if sample > mulawClip {
		sample = mulawClip
	}
	sample += mulawBias

	exponent := 7
	for mask := 0x4000; sample&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (sample >> (exponent + 3)) & 0x0F

	return ^(sign | byte(exponent<<4) | byte(mantissa))
}

// DecodeAlaw expands one G.711 A-law byte to 16-bit linear PCM.
func DecodeAlaw(b byte) int16 {
	a := b ^ 0x55
	sign := a & 0x80
	exponent := (a >> 4) & 0x07
	mantissa := int(a & 0x0F)

	var sample int
	if exponent == 0 {
		sample = (mantissa << 4) + 8
	} else {
		sample = ((mantissa << 4) + 0x108) << (exponent - 1)
	}
	// A-law sets the sign bit for positive samples.
	if sign == 0 {
		sample = -sample
	}
	return int16(sample)
}

var alawSegmentEnd = [8]int{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}

// EncodeAlaw compresses one 16-bit linear PCM sample to G.711 A-law.
func EncodeAlaw(s int16) byte {
	pcm := int(s) >> 3
	var mask byte
	if pcm >= 0 {
		mask = 0xD5
	} else {
		mask = 0x55
		pcm = -pcm - 1
	}

	seg := 0
	for seg < len(alawSegmentEnd) && pcm > alawSegmentEnd[seg] {
		seg++
	}
	if seg >= len(alawSegmentEnd) {
		return 0x7F ^ mask
	}

	aval := byte(seg << 4)
	if seg < 2 {
		aval |= byte((pcm >> 1) & 0x0F)
	} else {
		aval |= byte((pcm >> seg) & 0x0F)
	}
	return aval ^ mask
}

// Decode converts encoded bytes to 16-bit linear samples.
func Decode(data []byte, enc Encoding) ([]int16, error) {
	switch enc {
	case EncodingMulaw:
		out := make([]int16, len(data))
		for i, b := range data {
			out[i] = DecodeMulaw(b)
		}
		return out, nil
	case EncodingAlaw:
		out := make([]int16, len(data))
		for i, b := range data {
			out[i] = DecodeAlaw(b)
		}
		return out, nil
	case EncodingLinear16:
		if len(data)%2 != 0 {
			return nil, &DecodeError{Encoding: string(enc), Reason: fmt.Sprintf("odd byte count %d", len(data))}
		}
		out := make([]int16, len(data)/2)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
		}
		return out, nil
	case EncodingLinear8:
		out := make([]int16, len(data))
		for i, b := range data {
			out[i] = int16(int(b)-128) << 8
		}
		return out, nil
	default:
		return nil, &DecodeError{Encoding: string(enc), Reason: "unsupported encoding"}
	}
}

// Encode converts 16-bit linear samples to the given wire encoding.
func Encode(samples []int16, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingMulaw:
		out := make([]byte, len(samples))
		for i, s := range samples {
			out[i] = EncodeMulaw(s)
		}
		return out, nil
	case EncodingAlaw:
		out := make([]byte, len(samples))
		for i, s := range samples {
			out[i] = EncodeAlaw(s)
		}
		return out, nil
	case EncodingLinear16:
		return samplesToBytes(samples, 2), nil
	case EncodingLinear8:
		return samplesToBytes(samples, 1), nil
	default:
		return nil, &DecodeError{Encoding: string(enc), Reason: "unsupported encoding"}
	}
}

// samplesToBytes packs samples as s16le (width 2) or unsigned 8-bit (width 1).
func samplesToBytes(samples []int16, width int) []byte {
	if width == 1 {
		out := make([]byte, len(samples))
		for i, s := range samples {
			out[i] = byte((int(s) >> 8) + 128)
		}
		return out
	}
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// bytesToSamples is the inverse of samplesToBytes.
func bytesToSamples(data []byte, width int) []int16 {
	if width == 1 {
		out := make([]int16, len(data))
		for i, b := range data {
			out[i] = int16(int(b)-128) << 8
		}
		return out
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
