package tts

// Voices lists the stock speakers with a short description.
var Voices = map[string]string{
	"xiaoyan":   "Mandarin female, standard",
	"aisjiuxu":  "Mandarin male, standard",
	"aisxping":  "Mandarin female, gentle",
	"aisjinger": "Mandarin female, lively",
	"aisbabyxu": "Mandarin child",
	"x4_yezi":   "Mandarin female, news",
	"catherine": "English female",
}

// DefaultVoice is the default speaker.
const DefaultVoice = "xiaoyan"

// IsKnownVoice returns true if the voice is a stock speaker.
// Custom voices enabled on an account are not listed.
func IsKnownVoice(name string) bool {
	_, ok := Voices[name]
	return ok
}
