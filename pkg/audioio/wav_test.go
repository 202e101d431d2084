package audioio

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAV_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()

	f, err := fs.Create("/tone.wav")
	require.NoError(t, err)

	tone := NewToneGenerator(440, 0.3, 16000).Chunk(100*time.Millisecond, 1)
	require.NoError(t, WriteWAV(f, tone))
	require.NoError(t, f.Close())

	r, err := fs.Open("/tone.wav")
	require.NoError(t, err)
	defer r.Close()

	got, err := ReadWAV(r)
	require.NoError(t, err)
	assert.Equal(t, 16000, got.SampleRate)
	assert.Equal(t, 1, got.Channels)
	assert.Equal(t, tone.Samples, got.Samples)
}

func TestWAVWriter_CountsFrames(t *testing.T) {
	fs := afero.NewMemMapFs()
	f, err := fs.Create("/stereo.wav")
	require.NoError(t, err)
	defer f.Close()

	w := NewWAVWriter(f, 16000, 2)
	require.NoError(t, w.Write(make([]int16, 64)))
	require.NoError(t, w.Write(nil))
	require.NoError(t, w.Write(make([]int16, 36)))
	require.NoError(t, w.Close())

	assert.Equal(t, int64(50), w.Frames())
}

func TestReadWAV_Invalid(t *testing.T) {
	_, err := ReadWAV(bytes.NewReader([]byte("definitely not a riff file")))
	assert.True(t, errors.Is(err, ErrInvalidWAV))
}
