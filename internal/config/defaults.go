package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default robot configuration.
const (
	DefaultRobotIP   = "192.168.123.161"
	DefaultRobotPort = "8000"
	DefaultBroker    = "tcp://192.168.123.161:1883"
)

// SetDefaults registers the default value of every setting.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	// The speech cloud expects 16 kHz mono PCM16.
	v.SetDefault("audio.backend", "auto")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.buffer_duration", 20*time.Millisecond)
	v.SetDefault("audio.input_device", "")
	v.SetDefault("audio.output_device", "")

	v.SetDefault("speech.asr_url", "wss://iat-api.xfyun.cn/v2/iat")
	v.SetDefault("speech.language", "zh_cn")
	v.SetDefault("speech.domain", "iat")
	v.SetDefault("speech.accent", "mandarin")
	v.SetDefault("speech.vad_eos", 3000)
	v.SetDefault("speech.tts_url", "wss://tts-api.xfyun.cn/v2/tts")
	v.SetDefault("speech.voice", "xiaoyan")
	v.SetDefault("speech.speed", 50)
	v.SetDefault("speech.volume", 50)
	v.SetDefault("speech.pitch", 50)
	v.SetDefault("speech.cache_ttl", 30*time.Minute)

	v.SetDefault("robot.ip", DefaultRobotIP)
	v.SetDefault("robot.port", DefaultRobotPort)
	v.SetDefault("robot.interface", "eth0")
	v.SetDefault("robot.transport", "bus")
	v.SetDefault("robot.rpc_timeout", 5*time.Second)

	v.SetDefault("bus.transport", "mqtt")
	v.SetDefault("bus.broker", DefaultBroker)
	v.SetDefault("bus.client_id", "robospeech")
	v.SetDefault("bus.prefix", "robot")
	v.SetDefault("bus.qos", 1)
	v.SetDefault("bus.codec", "pcm16")
	v.SetDefault("bus.reconnect_interval", 2*time.Second)
	v.SetDefault("bus.max_reconnect_attempts", 0)

	v.SetDefault("handler.queue_size", 16)
	v.SetDefault("handler.listen_timeout", 10*time.Second)
	v.SetDefault("handler.quiet_time", 800*time.Millisecond)
	v.SetDefault("handler.silence_threshold", -45.0)

	v.SetDefault("web.enabled", true)
	v.SetDefault("web.port", "8080")

	v.SetDefault("store.path", "robospeech.db")
}
