// Package speech implements the robot's speech handler.
//
// The handler listens for requests on rt/speech/request, runs them one at a
// time (speak through TTS and the speaker, listen through the microphone and
// ASR), and reports results and state changes on rt/speech/result and
// rt/speech/state.
package speech

import (
	"time"

	"github.com/teslashibe/go-robospeech/pkg/audioio"
)

// Tunable parameters for end-pointing.
const (
	// HopMS is the analysis step.
	HopMS = 10

	// VADHysteresisDB separates the on and off thresholds.
	VADHysteresisDB = 6.0

	// VADAttackMS is how long the level must stay above the on threshold
	// before speech is considered started.
	VADAttackMS = 40
)

// VADEvent is reported by Endpointer.Feed.
type VADEvent int

const (
	VADNone VADEvent = iota
	VADSpeechStart
	VADSpeechEnd
)

func (e VADEvent) String() string {
	switch e {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechEnd:
		return "speech_end"
	}
	return "none"
}

// Endpointer is an energy VAD with hysteresis. It reports the start of
// speech and its end once the level has stayed below the off threshold for
// the quiet time.
type Endpointer struct {
	onDB  float64
	offDB float64

	hopSize        int
	attackFrames   int
	releaseFrames  int
	pending        []int16
	above, below   int
	vadOn          bool
	heard          bool
	speechDuration time.Duration
}

// NewEndpointer creates an endpointer for mono audio at sampleRate.
// threshold is the speech-on level in dBFS.
func NewEndpointer(sampleRate int, threshold float64, quiet time.Duration) *Endpointer {
	return &Endpointer{
		onDB:          threshold,
		offDB:         threshold - VADHysteresisDB,
		hopSize:       max(1, sampleRate*HopMS/1000),
		attackFrames:  max(1, VADAttackMS/HopMS),
		releaseFrames: max(1, int(quiet/(HopMS*time.Millisecond))),
	}
}

// Reset clears the endpointer state.
func (e *Endpointer) Reset() {
	e.pending = e.pending[:0]
	e.above, e.below = 0, 0
	e.vadOn, e.heard = false, false
	e.speechDuration = 0
}

// Feed processes samples and returns the most significant event seen:
// VADSpeechEnd beats VADSpeechStart.
func (e *Endpointer) Feed(samples []int16) VADEvent {
	e.pending = append(e.pending, samples...)

	event := VADNone
	for len(e.pending) >= e.hopSize {
		hop := e.pending[:e.hopSize]
		if ev := e.processHop(hop); ev > event {
			event = ev
		}
		e.pending = e.pending[e.hopSize:]
	}
	// Keep the backing array from growing without bound.
	if len(e.pending) == 0 {
		e.pending = e.pending[:0:0]
	}
	return event
}

func (e *Endpointer) processHop(hop []int16) VADEvent {
	db := audioio.MeasureLevel(hop).RMS

	if e.vadOn {
		e.speechDuration += HopMS * time.Millisecond
	}

	if db >= e.onDB {
		e.above++
		e.below = 0
		if !e.vadOn && e.above >= e.attackFrames {
			e.vadOn = true
			e.heard = true
			return VADSpeechStart
		}
	} else if db <= e.offDB {
		e.below++
		e.above = 0
		if e.vadOn && e.below >= e.releaseFrames {
			e.vadOn = false
			return VADSpeechEnd
		}
	}
	return VADNone
}

// Speaking reports whether speech is in progress.
func (e *Endpointer) Speaking() bool {
	return e.vadOn
}

// Heard reports whether any speech has started since the last Reset.
func (e *Endpointer) Heard() bool {
	return e.heard
}

// SpeechDuration is the total time spent in speech.
func (e *Endpointer) SpeechDuration() time.Duration {
	return e.speechDuration
}
