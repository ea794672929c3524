package audio

import (
	"encoding/binary"
	"math"
)

// levelGain maps RMS amplitude onto the 0-100 meter; half scale reads 100.
const levelGain = 200

// Level returns the loudness of PCM16 samples on a 0-100 scale.
func Level(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		v := float64(s) / 32768
		sum += v * v
	}
	return clampLevel(math.Sqrt(sum/float64(len(pcm))) * levelGain)
}

// levelOf meters a stereo float buffer as produced by beep streamers.
func levelOf(samples [][2]float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := (s[0] + s[1]) / 2
		sum += v * v
	}
	return clampLevel(math.Sqrt(sum/float64(len(samples))) * levelGain)
}

func clampLevel(l float64) float64 {
	if l < 0 || math.IsNaN(l) {
		return 0
	}
	if l > 100 {
		return 100
	}
	return l
}

// ConvertPCM16ToInt16 converts byte slice to int16 samples.
func ConvertPCM16ToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// ConvertInt16ToPCM16 converts int16 samples to byte slice.
func ConvertInt16ToPCM16(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}
