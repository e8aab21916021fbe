package tts

// AudioChunk represents a chunk of synthesized audio ready for streaming
type AudioChunk struct {
	Data       []byte // Raw 16-bit linear PCM, little-endian
	SampleRate int    // Sample rate in Hz
	Channels   int    // Number of channels (1 for mono)
}

// TTSClient defines the interface for a text-to-speech client
type TTSClient interface {
	// Synthesize converts text to audio and streams it
	Synthesize(text string) (<-chan *AudioChunk, error)

	// Stop stops any ongoing synthesis
	Stop() error

	// Close closes the client and cleans up resources
	Close() error

	// IsActive returns whether the client is currently synthesizing
	IsActive() bool
}
