package asr

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-robospeech/pkg/xfauth"
)

var testCreds = xfauth.Credentials{AppID: "app-1", APIKey: "key", APISecret: "secret"}

// fakeIAT is a minimal recognition server. onFrame is called for every
// decoded client frame and may write responses on conn.
type fakeIAT struct {
	srv *httptest.Server

	mu     sync.Mutex
	frames []iatFrame
	query  map[string]string
}

func newFakeIAT(t *testing.T, onFrame func(conn *websocket.Conn, f iatFrame, n int)) *fakeIAT {
	t.Helper()
	f := &fakeIAT{}
	upgrader := websocket.Upgrader{}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f.mu.Lock()
		f.query = map[string]string{
			"authorization": q.Get("authorization"),
			"date":          q.Get("date"),
			"host":          q.Get("host"),
		}
		f.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for n := 0; ; n++ {
			var frame iatFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			f.mu.Lock()
			f.frames = append(f.frames, frame)
			f.mu.Unlock()
			onFrame(conn, frame, n)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIAT) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v2/iat"
}

func (f *fakeIAT) recorded() []iatFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]iatFrame(nil), f.frames...)
}

func reply(conn *websocket.Conn, sn int, pgs string, rg []int, text string, status int) {
	_ = conn.WriteJSON(map[string]any{
		"code":    0,
		"message": "success",
		"sid":     "iat000001",
		"data": map[string]any{
			"status": status,
			"result": map[string]any{
				"sn":  sn,
				"ls":  status == statusLast,
				"pgs": pgs,
				"rg":  rg,
				"ws":  []any{map[string]any{"cw": []any{map[string]any{"w": text}}}},
			},
		},
	})
}

func newTestRecognizer(t *testing.T, url string, opts ...Option) *XFyun {
	t.Helper()
	base := []Option{WithCredentials(testCreds), WithURL(url), WithFrameInterval(0)}
	rec, err := NewXFyun(append(base, opts...)...)
	require.NoError(t, err)
	return rec
}

func TestXFyun_RecognizeFile(t *testing.T) {
	srv := newFakeIAT(t, func(conn *websocket.Conn, f iatFrame, n int) {
		switch {
		case n == 0:
			reply(conn, 1, "apd", nil, "今天", statusContinue)
		case n == 1:
			reply(conn, 2, "apd", nil, "天器", statusContinue)
		case f.Data.Status == statusLast:
			reply(conn, 3, "rpl", []int{2, 2}, "天气很好", statusLast)
		}
	})

	var partials []string
	rec := newTestRecognizer(t, srv.url(), WithOnPartial(func(text string) {
		partials = append(partials, text)
	}))

	res, err := rec.RecognizeFile(context.Background(), make([]int16, 2000), 16000)
	require.NoError(t, err)

	assert.Equal(t, "今天天气很好", res.Text)
	assert.Equal(t, "iat000001", res.SID)
	assert.Equal(t, 125*time.Millisecond, res.Duration)
	assert.Equal(t, []string{"今天", "今天天器", "今天天气很好"}, partials)

	frames := srv.recorded()
	require.Len(t, frames, 5)

	first := frames[0]
	assert.Equal(t, statusFirst, first.Data.Status)
	require.NotNil(t, first.Common)
	assert.Equal(t, "app-1", first.Common.AppID)
	require.NotNil(t, first.Business)
	assert.Equal(t, "zh_cn", first.Business.Language)
	assert.Equal(t, "iat", first.Business.Domain)
	assert.Equal(t, "mandarin", first.Business.Accent)
	assert.Equal(t, "wpgs", first.Business.DWA)
	assert.Equal(t, 3000, first.Business.VADEOS)
	assert.Equal(t, "audio/L16;rate=16000", first.Data.Format)
	assert.Equal(t, "raw", first.Data.Encoding)

	total := 0
	for i, f := range frames {
		audio, err := base64.StdEncoding.DecodeString(f.Data.Audio)
		require.NoError(t, err)
		total += len(audio)
		if i > 0 {
			assert.Nil(t, f.Common, "only the first frame carries common")
		}
		if i > 0 && i < len(frames)-1 {
			assert.Equal(t, statusContinue, f.Data.Status)
		}
	}
	assert.Equal(t, 4000, total)
	assert.Equal(t, statusLast, frames[len(frames)-1].Data.Status)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.NotEmpty(t, srv.query["authorization"])
	assert.NotEmpty(t, srv.query["date"])
	assert.NotEmpty(t, srv.query["host"])
}

func TestXFyun_ReframesBurstyAudio(t *testing.T) {
	srv := newFakeIAT(t, func(conn *websocket.Conn, f iatFrame, n int) {
		if f.Data.Status == statusLast {
			reply(conn, 1, "", nil, "ok", statusLast)
		}
	})
	rec := newTestRecognizer(t, srv.url(), WithDynamicCorrection(false))

	audio := make(chan []byte, 3)
	audio <- make([]byte, 100)
	audio <- make([]byte, 3000)
	audio <- make([]byte, 500)
	close(audio)

	res, err := rec.Recognize(context.Background(), audio)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)

	var sizes []int
	for _, f := range srv.recorded() {
		b, _ := base64.StdEncoding.DecodeString(f.Data.Audio)
		sizes = append(sizes, len(b))
	}
	assert.Equal(t, []int{1280, 1280, 1040, 0}, sizes)
	assert.Empty(t, srv.recorded()[0].Business.DWA)
}

func TestXFyun_EmptyAudio(t *testing.T) {
	srv := newFakeIAT(t, func(conn *websocket.Conn, f iatFrame, n int) {
		if f.Data.Status == statusLast {
			_ = conn.WriteJSON(map[string]any{"code": 0, "sid": "s1", "data": map[string]any{"status": statusLast}})
		}
	})
	rec := newTestRecognizer(t, srv.url())

	audio := make(chan []byte)
	close(audio)

	res, err := rec.Recognize(context.Background(), audio)
	require.NoError(t, err)
	assert.Empty(t, res.Text)

	frames := srv.recorded()
	require.Len(t, frames, 2)
	assert.Equal(t, statusFirst, frames[0].Data.Status)
	assert.NotNil(t, frames[0].Business)
	assert.Equal(t, statusLast, frames[1].Data.Status)
}

func TestXFyun_APIError(t *testing.T) {
	srv := newFakeIAT(t, func(conn *websocket.Conn, f iatFrame, n int) {
		if n == 0 {
			_ = conn.WriteJSON(map[string]any{"code": 11200, "message": "auth no license", "sid": "iat-err"})
		}
	})
	rec := newTestRecognizer(t, srv.url())

	_, err := rec.RecognizeFile(context.Background(), make([]int16, 640), 16000)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 11200, apiErr.Code)
	assert.Equal(t, "iat-err", apiErr.SID)
	assert.True(t, apiErr.IsUnauthorized())
	assert.False(t, apiErr.IsRetryable())
}

func TestXFyun_HandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"HMAC signature does not match"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	rec := newTestRecognizer(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v2/iat")
	_, err := rec.RecognizeFile(context.Background(), make([]int16, 320), 16000)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Code)
	assert.Contains(t, apiErr.Message, "HMAC")
	assert.True(t, apiErr.IsUnauthorized())
}

func TestXFyun_ServerEndsSessionEarly(t *testing.T) {
	srv := newFakeIAT(t, func(conn *websocket.Conn, f iatFrame, n int) {
		if n == 0 {
			reply(conn, 1, "apd", nil, "停", statusLast)
		}
	})
	rec := newTestRecognizer(t, srv.url())

	audio := make(chan []byte, 1)
	audio <- make([]byte, FrameBytes)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// audio is never closed; the service's end of speech must finish the call.
	res, err := rec.Recognize(ctx, audio)
	require.NoError(t, err)
	assert.Equal(t, "停", res.Text)
}

func TestXFyun_ContextCancelled(t *testing.T) {
	srv := newFakeIAT(t, func(*websocket.Conn, iatFrame, int) {})
	rec := newTestRecognizer(t, srv.url())

	ctx, cancel := context.WithCancel(context.Background())
	audio := make(chan []byte)
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := rec.Recognize(ctx, audio)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestXFyun_FinalTimeout(t *testing.T) {
	srv := newFakeIAT(t, func(*websocket.Conn, iatFrame, int) {})
	rec := newTestRecognizer(t, srv.url(), WithFinalTimeout(100*time.Millisecond))

	_, err := rec.RecognizeFile(context.Background(), make([]int16, 320), 16000)
	assert.True(t, errors.Is(err, ErrFinalTimeout))
}

func TestXFyun_PacesFrames(t *testing.T) {
	srv := newFakeIAT(t, func(conn *websocket.Conn, f iatFrame, n int) {
		if f.Data.Status == statusLast {
			reply(conn, 1, "", nil, "", statusLast)
		}
	})
	rec := newTestRecognizer(t, srv.url(), WithFrameInterval(20*time.Millisecond))

	start := time.Now()
	// Five frames including the final one, four intervals apart.
	_, err := rec.RecognizeFile(context.Background(), make([]int16, 4*FrameBytes/2), 16000)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestNewXFyun_RequiresCredentials(t *testing.T) {
	_, err := NewXFyun(WithCredentials(xfauth.Credentials{AppID: "a"}))
	assert.True(t, errors.Is(err, ErrNoCredentials))
}
