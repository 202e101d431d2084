package speech

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_JSON(t *testing.T) {
	data, err := json.Marshal(Request{ID: "a", Kind: KindListen, MaxDuration: Duration(1500 * time.Millisecond)})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"max_duration":"1.5s"`)

	tests := []struct {
		in   string
		want time.Duration
	}{
		{`{"max_duration":"2s"}`, 2 * time.Second},
		{`{"max_duration":250}`, 250 * time.Millisecond},
		{`{"max_duration":"750"}`, 750 * time.Millisecond},
		{`{"max_duration":null}`, 0},
		{`{}`, 0},
	}
	for _, tt := range tests {
		var r Request
		require.NoError(t, json.Unmarshal([]byte(tt.in), &r), tt.in)
		assert.Equal(t, tt.want, time.Duration(r.MaxDuration), tt.in)
	}

	var r Request
	assert.Error(t, json.Unmarshal([]byte(`{"max_duration":"soon"}`), &r))
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"speak", Request{Kind: KindSpeak, Text: "hi"}, true},
		{"speak_blank", Request{Kind: KindSpeak, Text: "  "}, false},
		{"listen", Request{Kind: KindListen}, true},
		{"listen_max", Request{Kind: KindListen, MaxDuration: Duration(MaxListenDuration)}, true},
		{"listen_too_long", Request{Kind: KindListen, MaxDuration: Duration(MaxListenDuration + time.Second)}, false},
		{"listen_negative", Request{Kind: KindListen, MaxDuration: -1}, false},
		{"stop", Request{Kind: KindStop}, true},
		{"no_kind", Request{}, false},
		{"unknown_kind", Request{Kind: "dance"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRequest))
		})
	}
}

func TestResult_Duration(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := Result{StartedAt: start, FinishedAt: start.Add(1200 * time.Millisecond)}
	assert.Equal(t, 1200*time.Millisecond, r.Duration())
	assert.True(t, r.OK())

	assert.Zero(t, Result{FinishedAt: start}.Duration())
	assert.False(t, Result{Error: ErrCancelled.Error()}.OK())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name string
		opt  Option
	}{
		{"queue", WithQueueSize(0)},
		{"listen_timeout", WithListenTimeout(0)},
		{"listen_timeout_cap", WithListenTimeout(2 * MaxListenDuration)},
		{"quiet", WithEndpointing(-40, 0)},
		{"threshold", WithEndpointing(3, time.Second)},
		{"chunk", WithChunkDuration(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Apply(tt.opt)
			assert.Error(t, cfg.Validate())
		})
	}
}
