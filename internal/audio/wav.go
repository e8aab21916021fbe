package audio

import (
	"encoding/binary"
)

const wavHeaderSize = 44

// WAVHeader builds a 44-byte RIFF/WAVE header for 16-bit linear PCM with
// the given data length. Clients that feed the frames straight into an
// <audio> element or AudioContext need the header on every chunk.
func WAVHeader(dataLen, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // audio format: PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}

// PrependWAVHeader returns pcm with a WAV header for its exact length
func PrependWAVHeader(pcm []byte, sampleRate, channels int) []byte {
	out := make([]byte, 0, wavHeaderSize+len(pcm))
	out = append(out, WAVHeader(len(pcm), sampleRate, channels)...)
	return append(out, pcm...)
}
