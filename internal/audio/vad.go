package audio

// VADConfig holds configuration for voice activity detection. Durations
// are expressed in seconds and converted to frame counts against
// SampleRate/FrameSamples.
type VADConfig struct {
	MinVolume    float64 // Normalized volume floor (0.0-1.0) for a frame to count as voiced
	StartSecs    float64 // Sustained speech required before speech-start fires
	StopSecs     float64 // Sustained silence required before speech-end fires
	Confidence   float64 // Fraction of voiced frames inside the start window
	FrameSamples int     // Samples per frame (320 = 20ms at 16kHz)
	SampleRate   int     // Input sample rate in Hz
}

// DefaultVADConfig returns the tuning used by the conversational pipeline
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		MinVolume:    0.6,
		StartSecs:    0.2,
		StopSecs:     1.2,
		Confidence:   0.7,
		FrameSamples: 320,
		SampleRate:   16000,
	}
}

// VADDetector performs energy-based voice activity detection with
// hysteresis: speech must persist for the start window to begin and
// silence must persist for the stop window to end.
type VADDetector struct {
	config *VADConfig

	startFrames int
	stopFrames  int

	window         []bool // voiced flags for the most recent start-window frames
	windowPos      int
	windowFilled   int
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}

	frameSecs := float64(config.FrameSamples) / float64(config.SampleRate)
	startFrames := int(config.StartSecs / frameSecs)
	if startFrames < 1 {
		startFrames = 1
	}
	stopFrames := int(config.StopSecs / frameSecs)
	if stopFrames < 1 {
		stopFrames = 1
	}

	return &VADDetector{
		config:      config,
		startFrames: startFrames,
		stopFrames:  stopFrames,
		window:      make([]bool, startFrames),
	}
}

// ProcessFrame processes one audio frame.
// Returns (isSpeaking, speechStarted, speechEnded).
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	voiced := NormalizedVolume(samples) >= v.config.MinVolume

	v.window[v.windowPos] = voiced
	v.windowPos = (v.windowPos + 1) % len(v.window)
	if v.windowFilled < len(v.window) {
		v.windowFilled++
	}

	var speechStarted, speechEnded bool

	if voiced {
		v.silenceCounter = 0
		if !v.isSpeaking && v.windowFilled >= v.startFrames && v.voicedRatio() >= v.config.Confidence {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.stopFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

func (v *VADDetector) voicedRatio() float64 {
	voiced := 0
	for _, ok := range v.window {
		if ok {
			voiced++
		}
	}
	return float64(voiced) / float64(len(v.window))
}

// Reset clears the detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
	v.windowPos = 0
	v.windowFilled = 0
	for i := range v.window {
		v.window[i] = false
	}
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}
