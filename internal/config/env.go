package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// legacyEnv maps config keys to the env var names used by the robot's
// existing scripts. ROBOSPEECH_* still takes precedence.
var legacyEnv = map[string]string{
	"robot.ip":          "ROBOT_IP",
	"robot.interface":   "ROBOT_IFACE",
	"bus.broker":        "MQTT_BROKER",
	"speech.app_id":     "XFYUN_APP_ID",
	"speech.api_key":    "XFYUN_API_KEY",
	"speech.api_secret": "XFYUN_API_SECRET",
}

func bindLegacyEnv(v *viper.Viper) {
	for key, env := range legacyEnv {
		// BindEnv only fails when called without a key.
		_ = v.BindEnv(key, envName(key), env)
	}
}

// envName returns the ROBOSPEECH_* variable for a config key.
func envName(key string) string {
	out := []byte(EnvPrefix + "_")
	for _, c := range []byte(key) {
		switch {
		case c == '.':
			out = append(out, '_')
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// RequireSpeechCredentials reports which speech credentials are missing.
func (s *Settings) RequireSpeechCredentials() error {
	var missing []string
	if s.Speech.AppID == "" {
		missing = append(missing, "XFYUN_APP_ID")
	}
	if s.Speech.APIKey == "" {
		missing = append(missing, "XFYUN_API_KEY")
	}
	if s.Speech.APISecret == "" {
		missing = append(missing, "XFYUN_API_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing speech credentials: %v (set them in .env or the config file)", missing)
	}
	return nil
}
