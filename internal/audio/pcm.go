package audio

import (
	"fmt"
	"math"
)

// BytesToSamples converts little-endian 16-bit PCM bytes to samples
func BytesToSamples(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples, nil
}

// SamplesToBytes converts samples to little-endian 16-bit PCM bytes
func SamplesToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm
}

// Resample converts samples from inputRate to outputRate using linear
// interpolation. Adequate for speech; a sinc resampler would be better for
// music.
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}
		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}
	return output
}

// ResamplePCM resamples raw 16-bit PCM bytes between sample rates
func ResamplePCM(pcm []byte, inputRate, outputRate int) ([]byte, error) {
	if inputRate == outputRate {
		return pcm, nil
	}
	samples, err := BytesToSamples(pcm)
	if err != nil {
		return nil, err
	}
	return SamplesToBytes(Resample(samples, inputRate, outputRate)), nil
}

// CalculateRMS calculates the root mean square energy of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// NormalizedVolume maps RMS energy onto a 0.0-1.0 scale against the 16-bit
// full-scale amplitude.
func NormalizedVolume(samples []int16) float64 {
	return CalculateRMS(samples) / float64(math.MaxInt16)
}
