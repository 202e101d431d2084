package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-robospeech/pkg/xfauth"
)

// MaxTextBytes is the service limit on UTF-8 text per request.
const MaxTextBytes = 8000

type ttsRequest struct {
	Common   ttsCommon   `json:"common"`
	Business ttsBusiness `json:"business"`
	Data     ttsData     `json:"data"`
}

type ttsCommon struct {
	AppID string `json:"app_id"`
}

type ttsBusiness struct {
	AUE    string `json:"aue"`
	AUF    string `json:"auf"`
	VCN    string `json:"vcn"`
	Speed  int    `json:"speed"`
	Volume int    `json:"volume"`
	Pitch  int    `json:"pitch"`
	TTE    string `json:"tte"`
}

type ttsData struct {
	Status int    `json:"status"`
	Text   string `json:"text"`
}

type ttsResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	SID     string `json:"sid"`
	Data    *struct {
		Audio  string `json:"audio"`
		Status int    `json:"status"`
		Ced    string `json:"ced"`
	} `json:"data"`
}

// XFyun implements Provider using the iFlytek TTS websocket API.
// Each Synthesize call opens its own session.
type XFyun struct {
	config *Config
	logger *slog.Logger
	dialer *websocket.Dialer
}

// NewXFyun creates a new provider.
func NewXFyun(opts ...Option) (*XFyun, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &XFyun{
		config: cfg,
		logger: cfg.Logger.With("component", "tts.xfyun"),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

// Voice returns the configured speaker.
func (x *XFyun) Voice() string {
	return x.config.Voice
}

func (x *XFyun) dial(ctx context.Context) (*websocket.Conn, error) {
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
		return nil, fmt.Errorf("tts: dial: %w", err)
	}
	return conn, nil
}

// Synthesize converts text to 16 kHz PCM16.
func (x *XFyun) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if len(text) > MaxTextBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTextTooLong, len(text), MaxTextBytes)
	}

	if x.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	conn, err := x.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := ttsRequest{
		Common: ttsCommon{AppID: x.config.Credentials.AppID},
		Business: ttsBusiness{
			AUE:    string(EncodingRaw),
			AUF:    fmt.Sprintf("audio/L16;rate=%d", PCM16.SampleRate),
			VCN:    x.config.Voice,
			Speed:  x.config.Speed,
			Volume: x.config.Volume,
			Pitch:  x.config.Pitch,
			TTE:    "UTF8",
		},
		Data: ttsData{Status: 2, Text: base64.StdEncoding.EncodeToString([]byte(text))},
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("tts: send request: %w", err)
	}

	result := &AudioResult{Format: PCM16, CharCount: len([]rune(text))}
	var audio []byte

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrIncomplete, err)
		}

		var resp ttsResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			return nil, fmt.Errorf("tts: decode response: %w", err)
		}
		if resp.SID != "" {
			result.SID = resp.SID
		}
		if resp.Code != 0 {
			return nil, &APIError{Code: resp.Code, Message: resp.Message, SID: resp.SID}
		}
		if resp.Data == nil {
			continue
		}

		if resp.Data.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Data.Audio)
			if err != nil {
				return nil, fmt.Errorf("tts: decode audio: %w", err)
			}
			if len(audio) == 0 {
				result.LatencyMs = time.Since(start).Milliseconds()
			}
			audio = append(audio, chunk...)
		}

		if resp.Data.Status == 2 {
			break
		}
	}

	result.Audio = audio
	result.Duration = durationOf(len(audio), result.Format)

	x.logger.Debug("synthesized",
		"sid", result.SID,
		"chars", result.CharCount,
		"duration", result.Duration,
		"latency_ms", result.LatencyMs,
	)
	return result, nil
}

// Health verifies that a signed handshake is accepted.
func (x *XFyun) Health(ctx context.Context) error {
	conn, err := x.dial(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close is a no-op; sessions are closed after each call.
func (x *XFyun) Close() error {
	return nil
}

var (
	_ Provider = (*XFyun)(nil)
	_ Voicer   = (*XFyun)(nil)
)
