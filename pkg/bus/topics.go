package bus

import "strings"

// Topic names, following the ROS 2 "rt/" convention used by DDS robots.

// TopicMotionSwitcherRequest carries control-mode RPC requests.
const TopicMotionSwitcherRequest = "rt/api/motion_switcher/request"

// TopicMotionSwitcherResponse carries control-mode RPC responses.
const TopicMotionSwitcherResponse = "rt/api/motion_switcher/response"

// TopicAudioMic is the microphone audio stream topic.
// Payload: AudioFrame
const TopicAudioMic = "rt/audio/mic"

// TopicAudioSpeaker is the speaker audio stream topic.
// Payload: AudioFrame
const TopicAudioSpeaker = "rt/audio/speaker"

// TopicSpeechRequest carries speech handler requests.
// Payload: JSON speech.Request
const TopicSpeechRequest = "rt/speech/request"

// TopicSpeechResult carries speech handler results.
// Payload: JSON speech.Result
const TopicSpeechResult = "rt/speech/result"

// TopicSpeechState carries speech handler state changes.
// Payload: JSON speech.State
const TopicSpeechState = "rt/speech/state"

// Topics is a helper to build fully-qualified topic names.
type Topics struct {
	prefix string
}

// NewTopics creates a Topics helper with the given prefix.
func NewTopics(prefix string) *Topics {
	return &Topics{prefix: strings.Trim(prefix, "/")}
}

// Full qualifies a topic with the prefix.
func (t *Topics) Full(topic string) string {
	if t.prefix == "" {
		return topic
	}
	return t.prefix + "/" + topic
}

// MotionSwitcherRequest returns the full RPC request topic path.
func (t *Topics) MotionSwitcherRequest() string {
	return t.Full(TopicMotionSwitcherRequest)
}

// MotionSwitcherResponse returns the full RPC response topic path.
func (t *Topics) MotionSwitcherResponse() string {
	return t.Full(TopicMotionSwitcherResponse)
}

// AudioMic returns the full audio mic topic path.
func (t *Topics) AudioMic() string {
	return t.Full(TopicAudioMic)
}

// AudioSpeaker returns the full audio speaker topic path.
func (t *Topics) AudioSpeaker() string {
	return t.Full(TopicAudioSpeaker)
}

// SpeechRequest returns the full speech request topic path.
func (t *Topics) SpeechRequest() string {
	return t.Full(TopicSpeechRequest)
}

// SpeechResult returns the full speech result topic path.
func (t *Topics) SpeechResult() string {
	return t.Full(TopicSpeechResult)
}

// SpeechState returns the full speech state topic path.
func (t *Topics) SpeechState() string {
	return t.Full(TopicSpeechState)
}

// Match reports whether topic matches an MQTT-style filter, where "+"
// matches one level and a trailing "#" matches any remaining levels.
func Match(filter, topic string) bool {
	if filter == topic {
		return true
	}
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")

	for i, f := range fs {
		if f == "#" {
			return i == len(fs)-1
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
