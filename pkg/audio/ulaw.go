package audio

import "errors"

// ErrInvalidAudioFrame is returned for malformed audio buffers, such as a
// PCM byte slice with an odd length.
var ErrInvalidAudioFrame = errors.New("audio: invalid audio frame")

// TelephonyRate is the sample rate of the μ-law telephony leg.
const TelephonyRate = 8000

const ulawBias = 0x84
const ulawClip = 32635

// EncodeULaw compresses linear 16-bit PCM samples to G.711 μ-law bytes.
func EncodeULaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = encodeULawSample(s)
	}
	return out
}

// DecodeULaw expands G.711 μ-law bytes to linear 16-bit PCM samples.
func DecodeULaw(b []byte) []int16 {
	out := make([]int16, len(b))
	for i, u := range b {
		out[i] = decodeULawSample(u)
	}
	return out
}

func encodeULawSample(s int16) byte {
	x := int32(s)
	var sign byte
	if x < 0 {
		x = -x
		sign = 0x80
	}
	if x > ulawClip {
		x = ulawClip
	}
	x += ulawBias

	exp := 7
	for mask := int32(0x4000); exp > 0 && x&mask == 0; mask >>= 1 {
		exp--
	}
	mant := byte((x >> uint(exp+3)) & 0x0F)
	return ^(sign | byte(exp)<<4 | mant)
}

func decodeULawSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	x := ((int32(mant)<<3 + ulawBias) << exp) - ulawBias
	if sign != 0 {
		x = -x
	}
	return int16(x)
}

// BytesToPCM reinterprets little-endian 16-bit sample bytes as PCM samples.
// Odd-length input is rejected with ErrInvalidAudioFrame.
func BytesToPCM(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, ErrInvalidAudioFrame
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return out, nil
}

// PCMToBytes serializes PCM samples as little-endian 16-bit bytes.
func PCMToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
