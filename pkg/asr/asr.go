// Package asr provides streaming speech recognition.
//
// The XFyun recognizer speaks the iFlytek IAT websocket protocol: PCM16
// audio at 16 kHz is sent in fixed 40 ms frames and the service returns
// incremental transcripts, optionally rewriting earlier segments when
// dynamic correction is enabled.
//
// Example usage:
//
//	rec, _ := asr.NewXFyun(
//	    asr.WithCredentials(creds),
//	    asr.WithOnPartial(func(text string) { fmt.Println(text) }),
//	)
//	res, err := rec.RecognizeFile(ctx, samples, 16000)
package asr

import (
	"context"
	"time"
)

// Recognizer turns audio into text.
type Recognizer interface {
	// Recognize consumes little-endian PCM16 mono audio at 16 kHz from audio
	// until it is closed or the service ends the session, and returns the
	// final transcript. Producers must not block on audio once ctx is done.
	Recognize(ctx context.Context, audio <-chan []byte) (*Result, error)

	// RecognizeFile recognizes a complete buffer, resampling it to 16 kHz
	// when rate differs.
	RecognizeFile(ctx context.Context, samples []int16, rate int) (*Result, error)
}

// LanguageSelector is implemented by recognizers that can switch language
// per session.
type LanguageSelector interface {
	WithLanguage(lang string) Recognizer
}

// Result is the outcome of one recognition session.
type Result struct {
	// Text is the final transcript.
	Text string `json:"text"`

	// SID is the service session id, useful when reporting problems.
	SID string `json:"sid,omitempty"`

	// Segments holds the transcript pieces in order.
	Segments []Segment `json:"segments,omitempty"`

	// Duration is how much audio was sent.
	Duration time.Duration `json:"duration"`

	// Latency is the time from the last audio frame to the final result.
	Latency time.Duration `json:"latency"`
}

// Segment is one numbered piece of a transcript.
type Segment struct {
	SN   int    `json:"sn"`
	Text string `json:"text"`
}
