package asr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-robospeech/pkg/audioio"
	"github.com/teslashibe/go-robospeech/pkg/xfauth"
)

// Frame status values.
const (
	statusFirst    = 0
	statusContinue = 1
	statusLast     = 2
)

const audioFormat = "audio/L16;rate=16000"

type iatFrame struct {
	Common   *iatCommon   `json:"common,omitempty"`
	Business *iatBusiness `json:"business,omitempty"`
	Data     iatData      `json:"data"`
}

type iatCommon struct {
	AppID string `json:"app_id"`
}

type iatBusiness struct {
	Language string `json:"language"`
	Domain   string `json:"domain"`
	Accent   string `json:"accent"`
	VADEOS   int    `json:"vad_eos,omitempty"`
	DWA      string `json:"dwa,omitempty"`
}

type iatData struct {
	Status   int    `json:"status"`
	Format   string `json:"format"`
	Audio    string `json:"audio"`
	Encoding string `json:"encoding"`
}

type iatResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	SID     string `json:"sid"`
	Data    *struct {
		Status int        `json:"status"`
		Result *iatResult `json:"result"`
	} `json:"data"`
}

type iatResult struct {
	SN  int    `json:"sn"`
	LS  bool   `json:"ls"`
	Pgs string `json:"pgs"`
	RG  []int  `json:"rg"`
	WS  []struct {
		CW []struct {
			W string `json:"w"`
		} `json:"cw"`
	} `json:"ws"`
}

func (r *iatResult) text() string {
	var s string
	for _, w := range r.WS {
		if len(w.CW) > 0 {
			s += w.CW[0].W
		}
	}
	return s
}

// XFyun is a Recognizer backed by the iFlytek IAT websocket API.
// Each Recognize call opens its own session, so one XFyun may be shared.
type XFyun struct {
	config *Config
	logger *slog.Logger
	dialer *websocket.Dialer
}

// NewXFyun creates a recognizer.
func NewXFyun(opts ...Option) (*XFyun, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &XFyun{
		config: cfg,
		logger: cfg.Logger.With("component", "asr.xfyun"),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}, nil
}

// WithLanguage returns a recognizer sharing x's settings but recognizing
// lang (e.g. "zh_cn", "en_us"). An empty lang returns x.
func (x *XFyun) WithLanguage(lang string) Recognizer {
	if lang == "" || lang == x.config.Language {
		return x
	}
	cfg := *x.config
	cfg.Language = lang
	return &XFyun{config: &cfg, logger: x.logger, dialer: x.dialer}
}

// RecognizeFile implements Recognizer.
func (x *XFyun) RecognizeFile(ctx context.Context, samples []int16, sampleRate int) (*Result, error) {
	data := audioio.SamplesToBytes(audioio.Resample(samples, sampleRate, SampleRate))

	ch := make(chan []byte, len(data)/FrameBytes+1)
	for len(data) > 0 {
		n := min(FrameBytes, len(data))
		ch <- data[:n]
		data = data[n:]
	}
	close(ch)

	return x.Recognize(ctx, ch)
}

// Recognize implements Recognizer.
func (x *XFyun) Recognize(ctx context.Context, audio <-chan []byte) (*Result, error) {
	signed, err := xfauth.Sign(x.config.URL, x.config.Credentials.APIKey, x.config.Credentials.APISecret, x.config.now())
	if err != nil {
		return nil, err
	}

	conn, resp, err := x.dialer.DialContext(ctx, signed, nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, &APIError{Code: resp.StatusCode, Message: string(body)}
		}
		return nil, fmt.Errorf("asr: dial: %w", err)
	}
	defer conn.Close()

	s := &session{
		x:          x,
		conn:       conn,
		transcript: NewTranscript(),
		lastSent:   make(chan time.Time, 1),
	}

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { conn.Close() })
	defer stop()

	g.Go(func() error { return s.send(gctx, audio) })
	g.Go(func() error { return s.receive() })

	err = g.Wait()
	if !s.done {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	res := s.result()
	x.logger.Debug("recognition finished",
		"sid", res.SID,
		"audio", res.Duration,
		"latency", res.Latency,
		"chars", len([]rune(res.Text)),
	)
	return res, nil
}

// session is the state of one recognition call.
type session struct {
	x    *XFyun
	conn *websocket.Conn

	// written by send
	sentBytes int
	lastSent  chan time.Time

	// written by receive
	transcript *Transcript
	sid        string
	finishedAt time.Time
	latency    time.Duration
	done       bool
}

// errFinished cancels the sender once the final result has arrived. The
// service may end a session on its own through VAD before audio runs out.
var errFinished = errors.New("asr: session finished")

func (s *session) send(ctx context.Context, audio <-chan []byte) error {
	cfg := s.x.config

	limit := rate.Inf
	if cfg.FrameInterval > 0 {
		limit = rate.Every(cfg.FrameInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	// Capacity of one second of audio; a frame always fits.
	rb := ringbuffer.New(SampleRate * 2)
	frame := make([]byte, FrameBytes)
	status := statusFirst

	emit := func(payload []byte, st int) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		msg := iatFrame{Data: iatData{
			Status:   st,
			Format:   audioFormat,
			Audio:    base64.StdEncoding.EncodeToString(payload),
			Encoding: "raw",
		}}
		if st == statusFirst {
			msg.Common = &iatCommon{AppID: cfg.Credentials.AppID}
			msg.Business = &iatBusiness{
				Language: cfg.Language,
				Domain:   cfg.Domain,
				Accent:   cfg.Accent,
				VADEOS:   cfg.VADEOS,
			}
			if cfg.DynamicCorrection {
				msg.Business.DWA = "wpgs"
			}
		}
		if err := s.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("asr: send frame: %w", err)
		}
		s.sentBytes += len(payload)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-audio:
			if !ok {
				rest := make([]byte, rb.Length())
				if len(rest) > 0 {
					if _, err := io.ReadFull(rb, rest); err != nil {
						return err
					}
					if err := emit(rest, status); err != nil {
						return err
					}
					status = statusContinue
				}
				// A session that never started still needs the business
				// header, so the final frame doubles as the first.
				if status == statusFirst {
					if err := emit(nil, statusFirst); err != nil {
						return err
					}
				}
				if err := emit(nil, statusLast); err != nil {
					return err
				}
				s.lastSent <- time.Now()
				if cfg.FinalTimeout > 0 {
					_ = s.conn.SetReadDeadline(time.Now().Add(cfg.FinalTimeout))
				}
				return nil
			}

			for len(data) > 0 {
				n, _ := rb.Write(data)
				data = data[n:]
				for rb.Length() >= FrameBytes {
					if _, err := io.ReadFull(rb, frame); err != nil {
						return err
					}
					if err := emit(frame, status); err != nil {
						return err
					}
					status = statusContinue
				}
			}
		}
	}
}

func (s *session) receive() error {
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return ErrFinalTimeout
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, io.ErrUnexpectedEOF) {
				return ErrSessionClosed
			}
			return fmt.Errorf("asr: read: %w", err)
		}

		var resp iatResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			return fmt.Errorf("asr: decode response: %w", err)
		}
		if resp.SID != "" {
			s.sid = resp.SID
		}
		if resp.Code != 0 {
			return &APIError{Code: resp.Code, Message: resp.Message, SID: resp.SID}
		}
		if resp.Data == nil {
			continue
		}

		if r := resp.Data.Result; r != nil {
			s.transcript.Apply(r.SN, r.Pgs, r.RG, r.text())
			if fn := s.x.config.OnPartial; fn != nil {
				fn(s.transcript.Text())
			}
		}

		if resp.Data.Status == statusLast {
			s.finishedAt = time.Now()
			select {
			case sent := <-s.lastSent:
				s.latency = s.finishedAt.Sub(sent)
			default:
			}
			s.done = true
			return errFinished
		}
	}
}

func (s *session) result() *Result {
	return &Result{
		Text:     s.transcript.Text(),
		SID:      s.sid,
		Segments: s.transcript.Segments(),
		Duration: time.Duration(s.sentBytes/2) * time.Second / SampleRate,
		Latency:  s.latency,
	}
}

var _ Recognizer = (*XFyun)(nil)
