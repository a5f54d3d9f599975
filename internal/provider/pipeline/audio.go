package pipeline

import (
	"bytes"
	"encoding/binary"
)

// G.711 mu-law codec plus the small amount of audio plumbing the turn loop
// needs. The telephony leg carries 8kHz mu-law; the STT wants WAV and the
// TTS returns 24kHz 16-bit PCM.

const (
	telephonyRate = 8000
	ttsRate       = 24000
	frameBytes    = 160 // 20ms of 8kHz mu-law
	ulawBias      = 0x84
	ulawClip      = 32635
)

var ulawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		u := ^uint8(i)
		sign := u & 0x80
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F
		sample := int16((int(mantissa)<<3 + ulawBias) << exponent)
		sample -= ulawBias
		if sign != 0 {
			sample = -sample
		}
		ulawDecodeTable[i] = sample
	}
}

func ulawToPCM(in []byte) []int16 {
	out := make([]int16, len(in))
	for i, b := range in {
		out[i] = ulawDecodeTable[b]
	}
	return out
}

func linearToUlaw(sample int16) byte {
	sign := byte(0)
	s := int(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > ulawClip {
		s = ulawClip
	}
	s += ulawBias

	exponent := 7
	for mask := 0x4000; exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> uint(exponent+3)) & 0x0F
	return ^(sign | byte(exponent<<4) | byte(mantissa))
}

// meanAbs is the crude frame energy used for endpointing.
func meanAbs(pcm []int16) int {
	if len(pcm) == 0 {
		return 0
	}
	var sum int
	for _, s := range pcm {
		if s < 0 {
			sum -= int(s)
		} else {
			sum += int(s)
		}
	}
	return sum / len(pcm)
}

// pcmToWAV wraps 8kHz mono 16-bit samples in a RIFF header for the STT API.
func pcmToWAV(pcm []int16) []byte {
	dataLen := len(pcm) * 2
	var buf bytes.Buffer
	buf.Grow(44 + dataLen)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(telephonyRate))
	binary.Write(&buf, binary.LittleEndian, uint32(telephonyRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	for _, s := range pcm {
		binary.Write(&buf, binary.LittleEndian, s)
	}
	return buf.Bytes()
}

// ttsToUlaw downsamples 24kHz 16-bit PCM to the telephony leg's 8kHz mu-law.
// Decimation by 3 is adequate for speech on a phone line.
func ttsToUlaw(pcm []byte) []byte {
	samples := len(pcm) / 2
	out := make([]byte, 0, samples/3)
	step := ttsRate / telephonyRate
	for i := 0; i < samples; i += step {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		out = append(out, linearToUlaw(s))
	}
	return out
}
