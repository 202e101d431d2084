// Package xfauth signs websocket URLs for the xfyun speech cloud.
//
// The handshake is an HMAC-SHA256 over the host, an RFC 1123 GMT date and the
// request line, carried as base64 query parameters:
//
//	wss://iat-api.xfyun.cn/v2/iat?authorization=...&date=...&host=...
package xfauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrMissingCredentials is returned when a key or secret is empty.
var ErrMissingCredentials = errors.New("xfauth: missing credentials")

// Credentials identify an application on the speech cloud.
type Credentials struct {
	AppID     string `json:"app_id" mapstructure:"app_id"`
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	APISecret string `json:"-" mapstructure:"api_secret"`
}

// Validate reports which fields are missing.
func (c Credentials) Validate() error {
	var missing []string
	if c.AppID == "" {
		missing = append(missing, "app_id")
	}
	if c.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if c.APISecret == "" {
		missing = append(missing, "api_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingCredentials, missing)
	}
	return nil
}

// Sign returns rawURL with authorization, date and host query parameters
// for the given key pair. The result is deterministic for a fixed now.
func Sign(rawURL, apiKey, apiSecret string, now time.Time) (string, error) {
	if apiKey == "" || apiSecret == "" {
		return "", ErrMissingCredentials
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("xfauth: parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("xfauth: url %q has no host", rawURL)
	}

	date := now.UTC().Format(http.TimeFormat)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	origin := fmt.Sprintf("host: %s\ndate: %s\nGET %s HTTP/1.1", u.Host, date, path)
	signature := sign(apiSecret, origin)

	auth := fmt.Sprintf(`api_key="%s", algorithm="%s", headers="%s", signature="%s"`,
		apiKey, "hmac-sha256", "host date request-line", signature)

	q := u.Query()
	q.Set("authorization", base64.StdEncoding.EncodeToString([]byte(auth)))
	q.Set("date", date)
	q.Set("host", u.Host)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// SignURL signs rawURL with c at the current time.
func (c Credentials) SignURL(rawURL string) (string, error) {
	return Sign(rawURL, c.APIKey, c.APISecret, time.Now())
}

func sign(secret, origin string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(origin))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
