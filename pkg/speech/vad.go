package speech

import (
	"math"
	"sync"
)

// Detector tuning. Levels are dBFS of a 20ms frame evaluated every 10ms.
const (
	DetectorSampleRate = 16000
	FrameMS            = 20
	HopMS              = 10
	FrameSize          = DetectorSampleRate * FrameMS / 1000
	HopSize            = DetectorSampleRate * HopMS / 1000

	// Voice activity thresholds with hysteresis (dBFS)
	VADOnThreshold  = -35.0
	VADOffThreshold = -45.0
	VADAttackMS     = 40
	VADReleaseMS    = 250

	// Loudness mapping for the level meter
	LevelDBLow    = -46.0
	LevelDBHigh   = -18.0
	LoudnessGamma = 0.9
	EnvFollowGain = 0.65

	// levelEveryHops throttles level callbacks to one per 50ms.
	levelEveryHops = 5
)

var (
	vadAttackHops  = max(1, VADAttackMS/HopMS)
	vadReleaseHops = max(1, VADReleaseMS/HopMS)
)

// Detector finds speech in raw microphone PCM. It drives the speech start
// and end events of engines that receive audio rather than recognizer
// lifecycle events, and meters loudness for visualization.
type Detector struct {
	mu sync.Mutex

	OnSpeechStart func()
	OnSpeechEnd   func()
	OnLevel       func(level float64)

	samples []float64
	vadOn   bool
	above   int
	below   int
	env     float64
	hops    int
}

// NewDetector creates a detector with no callbacks.
func NewDetector() *Detector {
	return &Detector{samples: make([]float64, 0, FrameSize*2)}
}

// Reset clears all state between sessions.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.samples = d.samples[:0]
	d.vadOn = false
	d.above = 0
	d.below = 0
	d.env = 0
	d.hops = 0
}

// Speaking reports the current voice activity decision.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vadOn
}

// Feed processes PCM16 samples recorded at sampleRate.
// Callbacks run synchronously on the calling goroutine.
func (d *Detector) Feed(samples []int16, sampleRate int) {
	if len(samples) == 0 {
		return
	}
	floats := make([]float64, len(samples))
	for i, s := range samples {
		floats[i] = float64(s) / 32768.0
	}
	if sampleRate > 0 && sampleRate != DetectorSampleRate {
		floats = resampleLinear(floats, sampleRate, DetectorSampleRate)
	}

	var fire []func()
	d.mu.Lock()
	d.samples = append(d.samples, floats...)
	for len(d.samples) >= FrameSize {
		fire = append(fire, d.processHop()...)
	}
	d.mu.Unlock()

	for _, f := range fire {
		f()
	}
}

// processHop evaluates one frame and advances by a hop (must hold mu).
func (d *Detector) processHop() []func() {
	frame := d.samples[:FrameSize]
	db := rmsDBFS(frame)
	d.samples = d.samples[HopSize:]
	d.hops++

	var fire []func()
	if db >= VADOnThreshold {
		d.above++
		d.below = 0
		if !d.vadOn && d.above >= vadAttackHops {
			d.vadOn = true
			if d.OnSpeechStart != nil {
				fire = append(fire, d.OnSpeechStart)
			}
		}
	} else if db <= VADOffThreshold {
		d.below++
		d.above = 0
		if d.vadOn && d.below >= vadReleaseHops {
			d.vadOn = false
			if d.OnSpeechEnd != nil {
				fire = append(fire, d.OnSpeechEnd)
			}
		}
	}

	d.env += EnvFollowGain * (loudnessGain(db) - d.env)
	d.env = clamp(d.env, 0, 1)

	if d.OnLevel != nil && d.hops%levelEveryHops == 0 {
		level := d.env * 100
		onLevel := d.OnLevel
		fire = append(fire, func() { onLevel(level) })
	}
	return fire
}

func rmsDBFS(samples []float64) float64 {
	if len(samples) == 0 {
		return -100.0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	rms := math.Sqrt(sum/float64(len(samples)) + 1e-12)
	return 20.0 * math.Log10(rms+1e-12)
}

func loudnessGain(db float64) float64 {
	t := clamp((db-LevelDBLow)/(LevelDBHigh-LevelDBLow), 0, 1)
	return math.Pow(t, LoudnessGamma)
}

func resampleLinear(samples []float64, srIn, srOut int) []float64 {
	if srIn == srOut || len(samples) == 0 {
		return samples
	}
	nOut := int(math.Round(float64(len(samples)) * float64(srOut) / float64(srIn)))
	if nOut <= 1 {
		return nil
	}
	out := make([]float64, nOut)
	for i := range out {
		t := float64(i) / float64(nOut-1) * float64(len(samples)-1)
		idx := int(t)
		frac := t - float64(idx)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
		} else {
			out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
