package speech

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the type of a speech request.
type Kind string

// Request kinds.
const (
	KindSpeak  Kind = "speak"
	KindListen Kind = "listen"
	KindStop   Kind = "stop"
)

// StateName is the handler's activity.
type StateName string

// Handler states.
const (
	StateIdle      StateName = "idle"
	StateSpeaking  StateName = "speaking"
	StateListening StateName = "listening"
)

// MaxListenDuration caps Request.MaxDuration.
const MaxListenDuration = 60 * time.Second

// Sentinel errors. Their messages are carried in Result.Error.
var (
	ErrInvalidRequest = errors.New("speech: invalid request")
	ErrQueueFull      = errors.New("speech: queue full")
	ErrCancelled      = errors.New("speech: cancelled")
	ErrNoSpeech       = errors.New("speech: no speech detected")
	ErrUnsupported    = errors.New("speech: not configured")
	ErrClosed         = errors.New("speech: handler closed")
)

// Duration is a time.Duration that travels as "1.5s" in JSON.
// Bare numbers are read as milliseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = 0
		return nil
	}
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(time.Duration(ms * float64(time.Millisecond)))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Request is a message on rt/speech/request.
type Request struct {
	ID          string   `json:"id"`
	Kind        Kind     `json:"kind"`
	Text        string   `json:"text,omitempty"`
	MaxDuration Duration `json:"max_duration,omitempty"`
	Language    string   `json:"language,omitempty"`
}

// Validate checks the request fields for its kind.
func (r *Request) Validate() error {
	switch r.Kind {
	case KindSpeak:
		if strings.TrimSpace(r.Text) == "" {
			return fmt.Errorf("%w: speak needs text", ErrInvalidRequest)
		}
	case KindListen:
		if r.MaxDuration < 0 || time.Duration(r.MaxDuration) > MaxListenDuration {
			return fmt.Errorf("%w: max_duration must be between 0 and %s", ErrInvalidRequest, MaxListenDuration)
		}
	case KindStop:
	case "":
		return fmt.Errorf("%w: kind is required", ErrInvalidRequest)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, r.Kind)
	}
	return nil
}

// Result is a message on rt/speech/result.
// Text is the spoken text for speak and the transcript for listen.
type Result struct {
	RequestID  string    `json:"request_id"`
	Kind       Kind      `json:"kind"`
	Text       string    `json:"text,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// OK reports whether the job succeeded.
func (r Result) OK() bool {
	return r.Error == ""
}

// Duration is how long the job ran.
func (r Result) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// State is a message on rt/speech/state.
type State struct {
	State     StateName `json:"state"`
	RequestID string    `json:"request_id,omitempty"`
	Queued    int       `json:"queued"`
	Time      time.Time `json:"time"`
}
