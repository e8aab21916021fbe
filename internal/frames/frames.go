// Package frames implements the wire protocol spoken with browser clients:
// length-delimited protobuf Frame messages carrying text, raw audio, or
// transcriptions. The schema lives in frames.proto; encoding is done
// directly with protowire so the whole protocol stays in one reviewable
// file.
package frames

import (
	"fmt"
	"sync/atomic"
)

// TextFrame carries a chunk of text (LLM output or client text input)
type TextFrame struct {
	ID   uint64
	Name string
	Text string
}

// AudioFrame carries raw 16-bit linear PCM audio
type AudioFrame struct {
	ID          uint64
	Name        string
	Audio       []byte
	SampleRate  uint32
	NumChannels uint32
}

// TranscriptionFrame carries a finalized user utterance
type TranscriptionFrame struct {
	ID        uint64
	Name      string
	Text      string
	UserID    string
	Timestamp string
}

// Frame is one of TextFrame, AudioFrame, or TranscriptionFrame
type Frame interface {
	frameName() string
}

func (f *TextFrame) frameName() string          { return f.Name }
func (f *AudioFrame) frameName() string         { return f.Name }
func (f *TranscriptionFrame) frameName() string { return f.Name }

var frameCounter atomic.Uint64

// NextID returns a process-unique frame ID
func NextID() uint64 {
	return frameCounter.Add(1)
}

// NewAudioFrame builds an outbound audio frame with a fresh ID
func NewAudioFrame(audio []byte, sampleRate, channels uint32) *AudioFrame {
	id := NextID()
	return &AudioFrame{
		ID:          id,
		Name:        fmt.Sprintf("AudioRawFrame#%d", id),
		Audio:       audio,
		SampleRate:  sampleRate,
		NumChannels: channels,
	}
}

// NewTextFrame builds an outbound text frame with a fresh ID
func NewTextFrame(text string) *TextFrame {
	id := NextID()
	return &TextFrame{
		ID:   id,
		Name: fmt.Sprintf("TextFrame#%d", id),
		Text: text,
	}
}

// NewTranscriptionFrame builds an outbound transcription frame with a fresh ID
func NewTranscriptionFrame(text, userID, timestamp string) *TranscriptionFrame {
	id := NextID()
	return &TranscriptionFrame{
		ID:        id,
		Name:      fmt.Sprintf("TranscriptionFrame#%d", id),
		Text:      text,
		UserID:    userID,
		Timestamp: timestamp,
	}
}
