package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/teslashibe/go-robospeech/pkg/asr"
	"github.com/teslashibe/go-robospeech/pkg/audioio"
	"github.com/teslashibe/go-robospeech/pkg/bus"
	"github.com/teslashibe/go-robospeech/pkg/robot"
	"github.com/teslashibe/go-robospeech/pkg/tts"
	"github.com/teslashibe/go-robospeech/pkg/xfauth"
)

func (a *app) audioConfig(device string) audioio.Config {
	s := a.settings.Audio
	return audioio.Config{
		Backend:        audioio.Backend(s.Backend),
		SampleRate:     s.SampleRate,
		Channels:       s.Channels,
		BufferDuration: s.BufferDuration,
		Device:         device,
	}
}

func (a *app) newSource() (audioio.Source, error) {
	return audioio.NewSource(a.audioConfig(a.settings.Audio.InputDevice), a.logger)
}

func (a *app) newSink() (audioio.Sink, error) {
	return audioio.NewSink(a.audioConfig(a.settings.Audio.OutputDevice), a.logger)
}

func (a *app) busConfig() bus.Config {
	s := a.settings.Bus
	return bus.Config{
		Transport:            s.Transport,
		Broker:               s.Broker,
		ClientID:             s.ClientID,
		Prefix:               s.Prefix,
		QoS:                  byte(s.QoS),
		Codec:                s.Codec,
		ReconnectInterval:    s.ReconnectInterval,
		MaxReconnectAttempts: s.MaxReconnectAttempts,
	}
}

// connectBus creates and connects a bus client with a per-command client id.
func (a *app) connectBus(ctx context.Context, role string) (*bus.Client, error) {
	cfg := a.busConfig()
	if role != "" {
		cfg.ClientID = cfg.ClientID + "-" + role
	}

	client, err := bus.New(cfg, a.logger)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect bus: %w", err)
	}
	return client, nil
}

func (a *app) credentials() (xfauth.Credentials, error) {
	if err := a.settings.RequireSpeechCredentials(); err != nil {
		return xfauth.Credentials{}, err
	}
	s := a.settings.Speech
	return xfauth.Credentials{AppID: s.AppID, APIKey: s.APIKey, APISecret: s.APISecret}, nil
}

func (a *app) newRecognizer(opts ...asr.Option) (*asr.XFyun, error) {
	creds, err := a.credentials()
	if err != nil {
		return nil, err
	}
	s := a.settings.Speech
	base := []asr.Option{
		asr.WithCredentials(creds),
		asr.WithURL(s.ASRURL),
		asr.WithLanguage(s.Language),
		asr.WithDomain(s.Domain),
		asr.WithAccent(s.Accent),
		asr.WithVADEOS(s.VADEOS),
		asr.WithLogger(a.logger),
	}
	return asr.NewXFyun(append(base, opts...)...)
}

// newSynthesizer returns the cloud TTS provider, cached when speech.cache_ttl
// is positive.
func (a *app) newSynthesizer() (tts.Provider, error) {
	creds, err := a.credentials()
	if err != nil {
		return nil, err
	}
	s := a.settings.Speech
	p, err := tts.NewXFyun(
		tts.WithCredentials(creds),
		tts.WithURL(s.TTSURL),
		tts.WithVoice(s.Voice),
		tts.WithProsody(s.Speed, s.Volume, s.Pitch),
		tts.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	if s.CacheTTL > 0 {
		return tts.NewCached(p, s.CacheTTL), nil
	}
	return p, nil
}

// newSwitcher returns the robot mode client for robot.transport. The closer
// releases whatever the switcher holds.
func (a *app) newSwitcher(ctx context.Context) (robot.ModeSwitcher, io.Closer, error) {
	if a.settings.Robot.Transport == "http" {
		return robot.NewHTTPSwitcher(a.settings.RobotAPIURL()), closerFunc(func() error { return nil }), nil
	}

	client, err := a.connectBus(ctx, "mode")
	if err != nil {
		return nil, nil, err
	}
	sw, err := robot.NewBusSwitcher(client, a.settings.Robot.RPCTimeout, a.logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return sw, closerFunc(func() error {
		_ = sw.Close()
		return client.Close()
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
