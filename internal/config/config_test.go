package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	s, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, 16000, s.Audio.SampleRate)
	assert.Equal(t, 1, s.Audio.Channels)
	assert.Equal(t, 20*time.Millisecond, s.Audio.BufferDuration)
	assert.Equal(t, "bus", s.Robot.Transport)
	assert.Equal(t, 16, s.Handler.QueueSize)
	assert.Equal(t, "http://192.168.123.161:8000", s.RobotAPIURL())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "robospeech.yaml")
	yaml := `
audio:
  backend: mock
  buffer_duration: 40ms
robot:
  ip: 10.0.0.2
bus:
  transport: memory
handler:
  queue_size: 4
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("ROBOSPEECH_HANDLER_QUEUE_SIZE", "8")
	t.Setenv("XFYUN_APP_ID", "app-1")

	s, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "mock", s.Audio.Backend)
	assert.Equal(t, 40*time.Millisecond, s.Audio.BufferDuration)
	assert.Equal(t, "10.0.0.2", s.Robot.IP)
	assert.Equal(t, "memory", s.Bus.Transport)
	assert.Equal(t, 8, s.Handler.QueueSize, "env overrides file")
	assert.Equal(t, "app-1", s.Speech.AppID, "legacy env is honoured")
}

func TestLoad_PrefixedEnvBeatsLegacy(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ROBOT_IP", "10.0.0.3")
	t.Setenv("ROBOSPEECH_ROBOT_IP", "10.0.0.4")

	s, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.4", s.Robot.IP)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"bad_sample_rate", func(s *Settings) { s.Audio.SampleRate = 0 }},
		{"bad_channels", func(s *Settings) { s.Audio.Channels = -1 }},
		{"bad_robot_transport", func(s *Settings) { s.Robot.Transport = "dds" }},
		{"bad_bus_transport", func(s *Settings) { s.Bus.Transport = "zmq" }},
		{"bad_qos", func(s *Settings) { s.Bus.QoS = 3 }},
		{"bad_queue", func(s *Settings) { s.Handler.QueueSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			s, err := Load(New(), "")
			require.NoError(t, err)

			tt.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestRequireSpeechCredentials(t *testing.T) {
	s := &Settings{}
	err := s.RequireSpeechCredentials()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XFYUN_API_SECRET")

	s.Speech = SpeechSettings{AppID: "a", APIKey: "k", APISecret: "s"}
	assert.NoError(t, s.RequireSpeechCredentials())
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "ROBOSPEECH_SPEECH_API_KEY", envName("speech.api_key"))
}

func TestLoadDotEnv_SkipsMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("ROBOSPEECH_DOTENV_PROBE=yes\n"), 0o644))
	t.Setenv("ROBOSPEECH_DOTENV_PROBE", "")
	require.NoError(t, os.Unsetenv("ROBOSPEECH_DOTENV_PROBE"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "yes", os.Getenv("ROBOSPEECH_DOTENV_PROBE"))
}
