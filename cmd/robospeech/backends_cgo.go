//go:build cgo

package main

// Native audio backends and the Opus codec need cgo.
import (
	_ "github.com/teslashibe/go-robospeech/pkg/audioio/malgo"
	_ "github.com/teslashibe/go-robospeech/pkg/audioio/portaudio"
	_ "github.com/teslashibe/go-robospeech/pkg/bus/opuscodec"
)
