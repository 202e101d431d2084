package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-robospeech/pkg/asr"
	"github.com/teslashibe/go-robospeech/pkg/audioio"
	"github.com/teslashibe/go-robospeech/pkg/bus"
	"github.com/teslashibe/go-robospeech/pkg/store"
)

// publishTimeout bounds result and state publishes, which run on a fresh
// context so that cancelled jobs still report.
const publishTimeout = 2 * time.Second

type job struct {
	req    Request
	ctx    context.Context
	cancel context.CancelFunc
}

// Handler serves speech requests from the bus one at a time.
type Handler struct {
	client  *bus.Client
	cfg     *Config
	logger  *slog.Logger
	speaker *bus.AudioPublisher

	mu      sync.Mutex
	queue   []*job
	current *job
	state   StateName
	stateID string
	started bool
	closed  bool
	sub     bus.Subscription

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	cancelled atomic.Int64
}

// New creates a handler on client. Speak needs WithSynthesizer; listen needs
// WithRecognizer and WithSource. Requests for a missing capability fail
// with ErrUnsupported.
func New(client *bus.Client, opts ...Option) (*Handler, error) {
	if client == nil {
		return nil, errors.New("speech: bus client is required")
	}

	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "speech")

	speaker, err := bus.NewAudioPublisher(client, client.Topics().AudioSpeaker(), cfg.SpeakerEncoding, logger)
	if err != nil {
		return nil, fmt.Errorf("speaker publisher: %w", err)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Handler{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		speaker: speaker,
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		baseCtx: baseCtx,
		cancel:  cancel,
	}, nil
}

// Start starts the sink, subscribes to requests and launches the worker.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.started {
		h.mu.Unlock()
		return errors.New("speech: handler already started")
	}
	h.started = true
	h.mu.Unlock()

	go h.worker()

	if h.cfg.Sink != nil {
		if err := h.cfg.Sink.Start(ctx); err != nil {
			return fmt.Errorf("start sink: %w", err)
		}
	}

	topic := h.client.Topics().SpeechRequest()
	sub, err := h.client.Subscribe(topic, h.onRequest)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	h.mu.Lock()
	h.sub = sub
	h.mu.Unlock()

	h.logger.Info("speech handler started",
		"topic", topic,
		"queue_size", h.cfg.QueueSize,
		"speak", h.cfg.Synthesizer != nil,
		"listen", h.cfg.Recognizer != nil && h.cfg.Source != nil,
	)
	return nil
}

// Run starts the handler and blocks until ctx is done, then closes it.
func (h *Handler) Run(ctx context.Context) error {
	if err := h.Start(ctx); err != nil {
		_ = h.Close()
		return err
	}
	<-ctx.Done()
	return h.Close()
}

// Close unsubscribes, cancels the running job and every queued one, and
// waits for the worker to exit. The bus client is left open.
func (h *Handler) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	started := h.started
	sub := h.sub
	cur := h.current
	drained := h.drainLocked()
	h.mu.Unlock()

	var errs []error
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe: %w", err))
		}
	}
	if cur != nil {
		cur.cancel()
	}
	h.cancelJobs(drained)
	h.cancel()

	if started {
		close(h.stopCh)
		<-h.done
		if h.cfg.Sink != nil {
			if err := h.cfg.Sink.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop sink: %w", err))
			}
		}
	}
	if err := h.speaker.Close(); err != nil {
		errs = append(errs, err)
	}

	h.logger.Info("speech handler stopped", "processed", h.processed.Load())
	return errors.Join(errs...)
}

func (h *Handler) onRequest(_ string, payload []byte) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		h.logger.Warn("undecodable speech request", "error", err)
		h.reject(Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err), "invalid")
		return
	}
	if err := h.Submit(req); err != nil && !errors.Is(err, ErrClosed) {
		h.logger.Debug("speech request rejected", "id", req.ID, "error", err)
	}
}

// Submit validates and enqueues a request as if it arrived on the bus.
// A stop request is served immediately. Rejections are also published as
// results.
func (h *Handler) Submit(req Request) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		h.reject(req, err, "invalid")
		return err
	}

	if req.Kind == KindStop {
		return h.stop(req)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if len(h.queue) >= h.cfg.QueueSize {
		h.mu.Unlock()
		h.reject(req, ErrQueueFull, "queue_full")
		return ErrQueueFull
	}
	ctx, cancel := context.WithCancel(h.baseCtx)
	h.queue = append(h.queue, &job{req: req, ctx: ctx, cancel: cancel})
	h.cfg.Metrics.setQueue(len(h.queue), h.current != nil)
	h.mu.Unlock()

	h.logger.Debug("speech request queued", "id", req.ID, "kind", req.Kind)
	select {
	case h.wake <- struct{}{}:
	default:
	}
	return nil
}

// stop cancels the running job and drains the queue.
func (h *Handler) stop(req Request) error {
	started := time.Now()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	cur := h.current
	drained := h.drainLocked()
	h.mu.Unlock()

	if cur != nil {
		cur.cancel()
	}
	h.cancelJobs(drained)

	h.logger.Info("speech stopped", "id", req.ID, "running", cur != nil, "drained", len(drained))
	h.finish(req, "", nil, started)
	return nil
}

// drainLocked empties the queue. h.mu must be held.
func (h *Handler) drainLocked() []*job {
	drained := h.queue
	h.queue = nil
	h.cfg.Metrics.setQueue(0, h.current != nil)
	return drained
}

func (h *Handler) cancelJobs(jobs []*job) {
	for _, j := range jobs {
		j.cancel()
		h.finish(j.req, "", ErrCancelled, time.Time{})
	}
}

func (h *Handler) reject(req Request, err error, reason string) {
	h.rejected.Add(1)
	h.cfg.Metrics.reject(reason)
	h.publishResult(Result{
		RequestID:  req.ID,
		Kind:       req.Kind,
		Error:      err.Error(),
		FinishedAt: time.Now(),
	})
}

func (h *Handler) worker() {
	defer close(h.done)
	for {
		j, ok := h.next()
		if !ok {
			return
		}
		h.process(j)
	}
}

// next blocks until a job is queued or the handler closes.
func (h *Handler) next() (*job, bool) {
	for {
		h.mu.Lock()
		if h.closed {
			h.current = nil
			h.mu.Unlock()
			return nil, false
		}
		if len(h.queue) > 0 {
			j := h.queue[0]
			h.queue[0] = nil
			h.queue = h.queue[1:]
			h.current = j
			h.cfg.Metrics.setQueue(len(h.queue), true)
			h.mu.Unlock()
			return j, true
		}
		h.current = nil
		h.cfg.Metrics.setQueue(0, false)
		h.mu.Unlock()

		h.setState(StateIdle, "")

		select {
		case <-h.wake:
		case <-h.stopCh:
			return nil, false
		}
	}
}

func (h *Handler) process(j *job) {
	defer j.cancel()

	started := time.Now()
	var text string
	var err error

	switch j.req.Kind {
	case KindSpeak:
		h.setState(StateSpeaking, j.req.ID)
		text, err = h.speak(j.ctx, j.req)
	case KindListen:
		h.setState(StateListening, j.req.ID)
		text, err = h.listen(j.ctx, j.req)
	}

	if err != nil && j.ctx.Err() != nil {
		err = ErrCancelled
	}
	h.finish(j.req, text, err, started)
}

func (h *Handler) finish(req Request, text string, err error, started time.Time) {
	res := Result{
		RequestID:  req.ID,
		Kind:       req.Kind,
		Text:       text,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}

	switch {
	case err == nil:
		h.processed.Add(1)
	case errors.Is(err, ErrCancelled):
		h.cancelled.Add(1)
		res.Error = ErrCancelled.Error()
	default:
		h.failed.Add(1)
		res.Error = err.Error()
	}

	if err != nil {
		h.logger.Info("speech job finished", "id", req.ID, "kind", req.Kind, "error", res.Error)
	} else {
		h.logger.Info("speech job finished", "id", req.ID, "kind", req.Kind, "duration", res.Duration())
	}

	h.cfg.Metrics.observe(res)
	h.save(res)
	h.publishResult(res)
}

func (h *Handler) save(res Result) {
	if h.cfg.History == nil {
		return
	}
	u := &store.Utterance{
		RequestID:  res.RequestID,
		Kind:       string(res.Kind),
		Text:       res.Text,
		Error:      res.Error,
		DurationMs: res.Duration().Milliseconds(),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.cfg.History.Save(ctx, u); err != nil {
		h.logger.Warn("failed to save speech history", "id", res.RequestID, "error", err)
	}
}

func (h *Handler) publishResult(res Result) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.client.PublishJSON(ctx, h.client.Topics().SpeechResult(), res); err != nil {
		h.logger.Warn("failed to publish speech result", "id", res.RequestID, "error", err)
	}
}

// setState publishes a state message when the state or request changes.
func (h *Handler) setState(state StateName, requestID string) {
	h.mu.Lock()
	if h.state == state && h.stateID == requestID {
		h.mu.Unlock()
		return
	}
	h.state = state
	h.stateID = requestID
	msg := State{State: state, RequestID: requestID, Queued: len(h.queue), Time: time.Now()}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.client.PublishJSON(ctx, h.client.Topics().SpeechState(), msg); err != nil {
		h.logger.Warn("failed to publish speech state", "state", state, "error", err)
	}
}

// speak synthesizes text and plays it in ChunkDuration pieces, publishing
// each piece on the speaker topic.
func (h *Handler) speak(ctx context.Context, req Request) (string, error) {
	if h.cfg.Synthesizer == nil {
		return "", fmt.Errorf("%w: no synthesizer", ErrUnsupported)
	}

	res, err := h.cfg.Synthesizer.Synthesize(ctx, req.Text)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	audio := res.Chunk()

	step := int(h.cfg.ChunkDuration.Seconds()*float64(audio.SampleRate)) * audio.Channels
	if step <= 0 {
		step = len(audio.Samples)
	}

	sink := h.cfg.Sink
	for off := 0; off < len(audio.Samples); off += step {
		if err := ctx.Err(); err != nil {
			h.clearSink()
			return "", err
		}

		piece := audioio.AudioChunk{
			Samples:    audio.Samples[off:min(off+step, len(audio.Samples))],
			SampleRate: audio.SampleRate,
			Channels:   audio.Channels,
		}

		if sink != nil {
			if err := sink.Write(ctx, audioio.ConvertChunk(piece, sink.Config())); err != nil {
				if ctx.Err() != nil {
					h.clearSink()
					return "", ctx.Err()
				}
				return "", fmt.Errorf("write sink: %w", err)
			}
		}

		if err := h.speaker.Publish(ctx, piece); err != nil {
			h.logger.Debug("speaker publish failed", "error", err)
		}
	}

	if sink != nil {
		if err := sink.Flush(ctx); err != nil {
			h.clearSink()
			return "", err
		}
	}
	return req.Text, nil
}

func (h *Handler) clearSink() {
	if h.cfg.Sink == nil {
		return
	}
	if err := h.cfg.Sink.Clear(); err != nil {
		h.logger.Debug("sink clear failed", "error", err)
	}
}

// listen captures microphone audio until the speaker goes quiet or the time
// limit passes, and returns the transcript.
func (h *Handler) listen(ctx context.Context, req Request) (string, error) {
	if h.cfg.Recognizer == nil || h.cfg.Source == nil {
		return "", fmt.Errorf("%w: no recognizer or microphone", ErrUnsupported)
	}

	rec := h.cfg.Recognizer
	if req.Language != "" {
		if ls, ok := rec.(asr.LanguageSelector); ok {
			rec = ls.WithLanguage(req.Language)
		}
	}

	limit := h.cfg.ListenTimeout
	if req.MaxDuration > 0 {
		limit = time.Duration(req.MaxDuration)
	}

	src := h.cfg.Source
	if err := src.Start(ctx); err != nil {
		return "", fmt.Errorf("start microphone: %w", err)
	}
	defer func() {
		if err := src.Stop(); err != nil {
			h.logger.Debug("microphone stop failed", "error", err)
		}
	}()

	recCtx, recCancel := context.WithCancel(ctx)
	defer recCancel()

	audioCh := make(chan []byte, 64)
	recDone := make(chan struct{})
	var (
		result *asr.Result
		recErr error
	)
	go func() {
		defer close(recDone)
		result, recErr = rec.Recognize(recCtx, audioCh)
	}()

	abort := func(err error) (string, error) {
		recCancel()
		<-recDone
		return "", err
	}

	format := audioio.Config{SampleRate: asr.SampleRate, Channels: 1}
	ep := NewEndpointer(asr.SampleRate, h.cfg.SilenceThreshold, h.cfg.QuietTime)
	timer := time.NewTimer(limit)
	defer timer.Stop()

	stream := src.Stream()
	feeding, finished := true, false
	for feeding {
		select {
		case <-ctx.Done():
			return abort(ctx.Err())
		case <-recDone:
			// The service ended the session on its own.
			feeding, finished = false, true
		case <-timer.C:
			h.logger.Debug("listen time limit reached", "id", req.ID, "limit", limit)
			feeding = false
		case chunk, ok := <-stream:
			if !ok {
				feeding = false
				break
			}
			chunk = audioio.ConvertChunk(chunk, format)
			ev := ep.Feed(chunk.Samples)

			select {
			case audioCh <- chunk.Bytes():
			case <-ctx.Done():
				return abort(ctx.Err())
			case <-recDone:
				feeding, finished = false, true
			}
			if ev == VADSpeechEnd {
				h.logger.Debug("end of speech", "id", req.ID, "speech", ep.SpeechDuration())
				feeding = false
			}
		}
	}

	if !ep.Heard() && !finished {
		return abort(ErrNoSpeech)
	}

	close(audioCh)
	select {
	case <-recDone:
	case <-ctx.Done():
		return abort(ctx.Err())
	}

	if recErr != nil {
		return "", fmt.Errorf("recognize: %w", recErr)
	}
	if result == nil {
		return "", ErrNoSpeech
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

// HandlerStats is a snapshot of handler activity.
type HandlerStats struct {
	State      StateName `json:"state"`
	RequestID  string    `json:"request_id,omitempty"`
	QueueDepth int       `json:"queue_depth"`
	Processed  int64     `json:"processed"`
	Failed     int64     `json:"failed"`
	Rejected   int64     `json:"rejected"`
	Cancelled  int64     `json:"cancelled"`
}

// Stats returns handler statistics.
func (h *Handler) Stats() HandlerStats {
	h.mu.Lock()
	state, id, depth := h.state, h.stateID, len(h.queue)
	h.mu.Unlock()
	if state == "" {
		state = StateIdle
	}

	return HandlerStats{
		State:      state,
		RequestID:  id,
		QueueDepth: depth,
		Processed:  h.processed.Load(),
		Failed:     h.failed.Load(),
		Rejected:   h.rejected.Load(),
		Cancelled:  h.cancelled.Load(),
	}
}
