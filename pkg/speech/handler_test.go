package speech

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/teslashibe/go-robospeech/pkg/asr"
	"github.com/teslashibe/go-robospeech/pkg/audioio"
	"github.com/teslashibe/go-robospeech/pkg/bus"
	"github.com/teslashibe/go-robospeech/pkg/store"
	"github.com/teslashibe/go-robospeech/pkg/tts"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

const waitTimeout = 5 * time.Second

type harness struct {
	client  *bus.Client
	handler *Handler
	results chan Result
	states  chan State
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	client := bus.NewWithTransport(bus.NewMemory(), "", nil)
	h := &harness{
		client:  client,
		results: make(chan Result, 64),
		states:  make(chan State, 64),
	}

	_, err := client.Subscribe(client.Topics().SpeechResult(), func(_ string, p []byte) {
		var r Result
		if json.Unmarshal(p, &r) == nil {
			h.results <- r
		}
	})
	require.NoError(t, err)
	_, err = client.Subscribe(client.Topics().SpeechState(), func(_ string, p []byte) {
		var s State
		if json.Unmarshal(p, &s) == nil {
			h.states <- s
		}
	})
	require.NoError(t, err)

	handler, err := New(client, opts...)
	require.NoError(t, err)
	require.NoError(t, handler.Start(context.Background()))
	h.handler = handler

	t.Cleanup(func() {
		assert.NoError(t, handler.Close())
		assert.NoError(t, client.Close())
	})
	return h
}

func (h *harness) send(t *testing.T, req Request) {
	t.Helper()
	require.NoError(t, h.client.PublishJSON(context.Background(), h.client.Topics().SpeechRequest(), req))
}

func (h *harness) result(t *testing.T, id string) Result {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case r := <-h.results:
			if r.RequestID == id {
				return r
			}
		case <-deadline:
			t.Fatalf("no result for %q", id)
		}
	}
}

func (h *harness) waitState(t *testing.T, state StateName, id string) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case s := <-h.states:
			if s.State == state && s.RequestID == id {
				return
			}
		case <-deadline:
			t.Fatalf("state %s/%q never published", state, id)
		}
	}
}

func testAudioConfig() audioio.Config {
	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendMock
	cfg.SampleRate = 16000
	cfg.Channels = 1
	cfg.BufferDuration = 20 * time.Millisecond
	return cfg
}

// blockingSynth never finishes until its context is cancelled.
func blockingSynth() *tts.Mock {
	m := tts.NewMock()
	m.SynthesizeFunc = func(ctx context.Context, text string) (*tts.AudioResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m
}

func TestHandler_Speak(t *testing.T) {
	sink := audioio.NewMockSink(testAudioConfig(), nil)
	hist, err := store.Open(store.MemoryPath, nil)
	require.NoError(t, err)
	defer hist.Close()

	h := newHarness(t,
		WithSynthesizer(tts.NewMock()),
		WithSink(sink),
		WithHistory(hist),
	)

	speaker, err := bus.NewAudioSubscriber(h.client, h.client.Topics().AudioSpeaker(), 256, nil)
	require.NoError(t, err)
	defer speaker.Close()

	h.send(t, Request{ID: "s1", Kind: KindSpeak, Text: "hello robot"})
	h.waitState(t, StateSpeaking, "s1")

	r := h.result(t, "s1")
	assert.True(t, r.OK(), r.Error)
	assert.Equal(t, KindSpeak, r.Kind)
	assert.Equal(t, "hello robot", r.Text)
	assert.False(t, r.StartedAt.IsZero())

	h.waitState(t, StateIdle, "")

	// 11 characters at 20ms each, played in 20ms pieces.
	assert.Len(t, sink.Written(), 11)
	assert.EqualValues(t, 11, speaker.Stats().ChunksReceived)

	n, err := hist.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stats := h.handler.Stats()
	assert.EqualValues(t, 1, stats.Processed)
	assert.Equal(t, StateIdle, stats.State)
}

func TestHandler_SpeakStereoSink(t *testing.T) {
	cfg := testAudioConfig()
	cfg.SampleRate = 48000
	cfg.Channels = 2
	sink := audioio.NewMockSink(cfg, nil)

	h := newHarness(t, WithSynthesizer(tts.NewMock()), WithSink(sink))

	require.NoError(t, h.handler.Submit(Request{ID: "st", Kind: KindSpeak, Text: "hello"}))
	r := h.result(t, "st")
	require.True(t, r.OK(), r.Error)

	written := sink.Written()
	require.Len(t, written, 5)

	frames := 0
	for _, c := range written {
		assert.Equal(t, 48000, c.SampleRate)
		assert.Equal(t, 2, c.Channels)
		frames += c.Frames()
	}
	// Five characters at 20ms each is 100ms, or 4800 frames at 48kHz.
	assert.Equal(t, 4800, frames)
}

func TestHandler_SpeakWithoutSink(t *testing.T) {
	h := newHarness(t, WithSynthesizer(tts.NewMock()))

	require.NoError(t, h.handler.Submit(Request{ID: "s2", Kind: KindSpeak, Text: "hi"}))
	r := h.result(t, "s2")
	assert.True(t, r.OK(), r.Error)
}

func TestHandler_SpeakSynthesisError(t *testing.T) {
	synth := tts.NewMock()
	synth.SynthesizeFunc = func(ctx context.Context, text string) (*tts.AudioResult, error) {
		return nil, tts.ErrNoCredentials
	}
	h := newHarness(t, WithSynthesizer(synth))

	h.send(t, Request{ID: "bad", Kind: KindSpeak, Text: "hi"})
	r := h.result(t, "bad")
	assert.False(t, r.OK())
	assert.Contains(t, r.Error, "synthesize")
	assert.EqualValues(t, 1, h.handler.Stats().Failed)
}

func TestHandler_Listen(t *testing.T) {
	cfg := testAudioConfig()
	loud := make([]audioio.AudioChunk, 5)
	gen := audioio.NewToneGenerator(300, 0.5, cfg.SampleRate)
	for i := range loud {
		loud[i] = gen.Chunk(cfg.BufferDuration, 1)
	}
	src := audioio.NewMockSource(cfg, nil, audioio.WithScript(loud...))
	rec := asr.NewMock("turn left")

	h := newHarness(t,
		WithSource(src),
		WithRecognizer(rec),
		WithEndpointing(-30, 100*time.Millisecond),
	)

	h.send(t, Request{ID: "l1", Kind: KindListen})
	h.waitState(t, StateListening, "l1")

	r := h.result(t, "l1")
	require.True(t, r.OK(), r.Error)
	assert.Equal(t, "turn left", r.Text)

	received := rec.Received()
	require.Len(t, received, 1)
	// At least the spoken part reached the recognizer.
	assert.GreaterOrEqual(t, len(received[0]), 5*320*2)
	assert.False(t, src.Stats().Running, "microphone is released after listening")
}

func TestHandler_ListenNoSpeech(t *testing.T) {
	src := audioio.NewMockSource(testAudioConfig(), nil)
	rec := asr.NewMock("ghost")
	h := newHarness(t, WithSource(src), WithRecognizer(rec))

	h.send(t, Request{ID: "quiet", Kind: KindListen, MaxDuration: Duration(150 * time.Millisecond)})
	r := h.result(t, "quiet")
	assert.Equal(t, ErrNoSpeech.Error(), r.Error)
	assert.Empty(t, r.Text)
}

type langRecognizer struct {
	*asr.Mock
	mu   sync.Mutex
	lang string
}

func (l *langRecognizer) WithLanguage(lang string) asr.Recognizer {
	l.mu.Lock()
	l.lang = lang
	l.mu.Unlock()
	return l.Mock
}

func TestHandler_ListenLanguage(t *testing.T) {
	cfg := testAudioConfig()
	gen := audioio.NewToneGenerator(300, 0.5, cfg.SampleRate)
	src := audioio.NewMockSource(cfg, nil, audioio.WithScript(
		gen.Chunk(cfg.BufferDuration, 1),
		gen.Chunk(cfg.BufferDuration, 1),
		gen.Chunk(cfg.BufferDuration, 1),
	))
	rec := &langRecognizer{Mock: asr.NewMock("hello")}

	h := newHarness(t, WithSource(src), WithRecognizer(rec), WithEndpointing(-30, 60*time.Millisecond))

	h.send(t, Request{ID: "en", Kind: KindListen, Language: "en_us"})
	r := h.result(t, "en")
	require.True(t, r.OK(), r.Error)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "en_us", rec.lang)
}

func TestHandler_Unsupported(t *testing.T) {
	h := newHarness(t)

	h.send(t, Request{ID: "a", Kind: KindSpeak, Text: "hi"})
	h.send(t, Request{ID: "b", Kind: KindListen})

	assert.Contains(t, h.result(t, "a").Error, "not configured")
	assert.Contains(t, h.result(t, "b").Error, "not configured")
}

func TestHandler_InvalidRequests(t *testing.T) {
	h := newHarness(t, WithSynthesizer(tts.NewMock()))

	require.NoError(t, h.client.Publish(context.Background(), h.client.Topics().SpeechRequest(), []byte("{nope")))
	h.send(t, Request{ID: "d", Kind: "dance"})

	r := h.result(t, "")
	assert.Contains(t, r.Error, "invalid request")
	r = h.result(t, "d")
	assert.Contains(t, r.Error, "unknown kind")
	assert.EqualValues(t, 2, h.handler.Stats().Rejected)
}

func TestHandler_AssignsMissingID(t *testing.T) {
	h := newHarness(t, WithSynthesizer(tts.NewMock()))
	h.send(t, Request{Kind: KindSpeak, Text: "x"})

	select {
	case r := <-h.results:
		assert.NotEmpty(t, r.RequestID)
		assert.True(t, r.OK(), r.Error)
	case <-time.After(waitTimeout):
		t.Fatal("no result")
	}
}

func TestHandler_QueueFullAndStop(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	h := newHarness(t, WithSynthesizer(blockingSynth()), WithQueueSize(2), WithMetrics(m))

	h.send(t, Request{ID: "run", Kind: KindSpeak, Text: "one"})
	h.waitState(t, StateSpeaking, "run")

	h.send(t, Request{ID: "q1", Kind: KindSpeak, Text: "two"})
	h.send(t, Request{ID: "q2", Kind: KindSpeak, Text: "three"})
	h.send(t, Request{ID: "over", Kind: KindSpeak, Text: "four"})

	assert.Equal(t, ErrQueueFull.Error(), h.result(t, "over").Error)
	assert.Equal(t, 2, h.handler.Stats().QueueDepth)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Busy))

	h.send(t, Request{ID: "halt", Kind: KindStop})

	ids := map[string]Result{}
	deadline := time.After(waitTimeout)
	for len(ids) < 4 {
		select {
		case r := <-h.results:
			ids[r.RequestID] = r
		case <-deadline:
			t.Fatalf("got results %v", ids)
		}
	}

	assert.True(t, ids["halt"].OK())
	for _, id := range []string{"run", "q1", "q2"} {
		assert.Equal(t, ErrCancelled.Error(), ids[id].Error, id)
	}

	h.waitState(t, StateIdle, "")

	stats := h.handler.Stats()
	assert.EqualValues(t, 3, stats.Cancelled)
	assert.EqualValues(t, 1, stats.Rejected)
	assert.EqualValues(t, 1, stats.Processed)
	assert.Zero(t, stats.QueueDepth)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Requests.WithLabelValues("speak", "cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("stop", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejected.WithLabelValues("queue_full")))
}

func TestHandler_FIFO(t *testing.T) {
	h := newHarness(t, WithSynthesizer(tts.NewMock()))

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, h.handler.Submit(Request{ID: id, Kind: KindSpeak, Text: "word " + id}))
	}

	var order []string
	deadline := time.After(waitTimeout)
	for len(order) < 3 {
		select {
		case r := <-h.results:
			order = append(order, r.RequestID)
		case <-deadline:
			t.Fatalf("got %v", order)
		}
	}
	assert.Equal(t, []string{"1", "2", "3"}, order)
}

func TestHandler_CloseCancelsRunningJob(t *testing.T) {
	client := bus.NewWithTransport(bus.NewMemory(), "", nil)
	defer client.Close()

	results := make(chan Result, 8)
	_, err := client.Subscribe(client.Topics().SpeechResult(), func(_ string, p []byte) {
		var r Result
		if json.Unmarshal(p, &r) == nil {
			results <- r
		}
	})
	require.NoError(t, err)

	handler, err := New(client, WithSynthesizer(blockingSynth()))
	require.NoError(t, err)
	require.NoError(t, handler.Start(context.Background()))

	require.NoError(t, handler.Submit(Request{ID: "long", Kind: KindSpeak, Text: "never ends"}))
	require.NoError(t, handler.Submit(Request{ID: "next", Kind: KindSpeak, Text: "waiting"}))
	require.Eventually(t, func() bool { return handler.Stats().State == StateSpeaking }, waitTimeout, 5*time.Millisecond)

	require.NoError(t, handler.Close())
	assert.NoError(t, handler.Close(), "second close is a no-op")

	got := map[string]string{}
	for len(got) < 2 {
		select {
		case r := <-results:
			got[r.RequestID] = r.Error
		case <-time.After(waitTimeout):
			t.Fatalf("got %v", got)
		}
	}
	assert.Equal(t, ErrCancelled.Error(), got["long"])
	assert.Equal(t, ErrCancelled.Error(), got["next"])

	assert.ErrorIs(t, handler.Submit(Request{Kind: KindSpeak, Text: "late"}), ErrClosed)
	assert.ErrorIs(t, handler.Start(context.Background()), ErrClosed)
}

func TestHandler_Run(t *testing.T) {
	client := bus.NewWithTransport(bus.NewMemory(), "robot1", nil)
	defer client.Close()

	handler, err := New(client, WithSynthesizer(tts.NewMock()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- handler.Run(ctx) }()

	require.Eventually(t, func() bool {
		return client.Transport().(*bus.Memory).Subscribers() == 1
	}, waitTimeout, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}
	assert.Zero(t, client.Transport().(*bus.Memory).Subscribers())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	client := bus.NewWithTransport(bus.NewMemory(), "", nil)
	defer client.Close()
	_, err = New(client, WithQueueSize(0))
	assert.Error(t, err)
}
