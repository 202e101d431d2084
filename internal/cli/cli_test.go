package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-robospeech/pkg/audioio"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	chdir(t, t.TempDir())

	cmd := RootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestParseOnOff(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"on", true, false},
		{"off", false, false},
		{"true", true, false},
		{"0", false, false},
		{"maybe", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseOnOff(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDevices_ListsMock(t *testing.T) {
	out, err := execute(t, "devices", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "mock:")
	assert.Contains(t, out, "(default)")
}

func TestRecord_MockBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "take.wav")

	out, err := execute(t, "record", "--backend", "mock", "--log-level", "error", "-d", "100ms", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "saved "+path)
	assert.Contains(t, out, "silent")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(44))
}

func TestRecord_WritesSpeechRateWAV(t *testing.T) {
	t.Setenv("ROBOSPEECH_AUDIO_SAMPLE_RATE", "48000")
	t.Setenv("ROBOSPEECH_AUDIO_CHANNELS", "2")
	path := filepath.Join(t.TempDir(), "take48k.wav")

	_, err := execute(t, "record", "--backend", "mock", "--log-level", "error", "-d", "100ms", "-o", path)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	chunk, err := audioio.ReadWAV(f)
	require.NoError(t, err)
	assert.Equal(t, 16000, chunk.SampleRate)
	assert.Equal(t, 1, chunk.Channels)
	assert.Len(t, chunk.Samples, 1600)
}

func TestTone_MockBackend(t *testing.T) {
	_, err := execute(t, "tone", "--backend", "mock", "--log-level", "error", "-d", "60ms")
	assert.NoError(t, err)
}

func TestTTS_RequiresCredentials(t *testing.T) {
	for _, key := range []string{"XFYUN_APP_ID", "XFYUN_API_KEY", "XFYUN_API_SECRET",
		"ROBOSPEECH_SPEECH_APP_ID", "ROBOSPEECH_SPEECH_API_KEY", "ROBOSPEECH_SPEECH_API_SECRET"} {
		t.Setenv(key, "")
	}

	_, err := execute(t, "tts", "--log-level", "error", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XFYUN")
}

func TestBridge_NothingToDo(t *testing.T) {
	_, err := execute(t, "bridge", "--bus", "memory", "--no-mic", "--no-speaker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to bridge")
}
