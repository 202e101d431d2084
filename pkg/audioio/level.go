package audioio

import "math"

// SilenceFloor is the level reported for digital silence, in dBFS.
const SilenceFloor = -96.0

// Level is a signal measurement in dBFS (0 is full scale).
type Level struct {
	Peak float64 `json:"peak_dbfs"`
	RMS  float64 `json:"rms_dbfs"`
}

// MeasureLevel computes peak and RMS levels of PCM16 samples.
func MeasureLevel(samples []int16) Level {
	if len(samples) == 0 {
		return Level{Peak: SilenceFloor, RMS: SilenceFloor}
	}

	var peak int32
	var sumSq float64
	for _, s := range samples {
		a := int32(s)
		if a < 0 {
			a = -a
		}
		peak = max(peak, a)
		sumSq += float64(s) * float64(s)
	}

	rms := math.Sqrt(sumSq / float64(len(samples)))
	return Level{Peak: toDBFS(float64(peak)), RMS: toDBFS(rms)}
}

// IsSilent reports whether the RMS level is below threshold dBFS.
func (l Level) IsSilent(threshold float64) bool {
	return l.RMS < threshold
}

func toDBFS(v float64) float64 {
	if v <= 0 {
		return SilenceFloor
	}
	return math.Max(SilenceFloor, 20*math.Log10(v/math.MaxInt16))
}

// LevelMeter accumulates a running level across many chunks.
type LevelMeter struct {
	peak  int32
	sumSq float64
	n     int64
}

// Add folds samples into the meter.
func (m *LevelMeter) Add(samples []int16) {
	for _, s := range samples {
		a := int32(s)
		if a < 0 {
			a = -a
		}
		m.peak = max(m.peak, a)
		m.sumSq += float64(s) * float64(s)
	}
	m.n += int64(len(samples))
}

// Level returns the accumulated measurement.
func (m *LevelMeter) Level() Level {
	if m.n == 0 {
		return Level{Peak: SilenceFloor, RMS: SilenceFloor}
	}
	return Level{
		Peak: toDBFS(float64(m.peak)),
		RMS:  toDBFS(math.Sqrt(m.sumSq / float64(m.n))),
	}
}
