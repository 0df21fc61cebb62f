package particle

import (
	"fmt"
	"net/url"
	"strings"
)

// Redacted replaces secrets in anything that gets logged.
const Redacted = "REDACTED"

// accessTokenParam is the query parameter carrying the Particle token.
const accessTokenParam = "access_token"

// StreamURL builds the event stream endpoint.
//
// With a device ID the subscription is scoped to that device:
//
//	{apiURL}/v1/devices/{deviceID}/events?access_token=...
//
// Otherwise it covers every device on the account:
//
//	{apiURL}/v1/events?access_token=...
//
// Parameters:
//   - apiURL: Base URL of the Particle Cloud API
//   - deviceID: Optional device ID
//   - token: Access token
//
// Returns:
//   - string: Full stream URL including the token
//   - error: If apiURL is not an absolute http(s) URL
func StreamURL(apiURL, deviceID, token string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("%w: parsing api url: %w", ErrInvalidConfig, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: api url %q must be an absolute http(s) URL", ErrInvalidConfig, apiURL)
	}

	base := strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	if deviceID != "" {
		u.Path = base + "/v1/devices/" + deviceID + "/events"
	} else {
		u.Path = base + "/v1/events"
	}

	q := u.Query()
	q.Set(accessTokenParam, token)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// RedactURL replaces the access token in a stream URL with Redacted.
// Unparseable input is replaced entirely.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return Redacted
	}
	q := u.Query()
	if q.Has(accessTokenParam) {
		q.Set(accessTokenParam, Redacted)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// redactSecret replaces every occurrence of secret in s.
func redactSecret(s, secret string) string {
	if secret == "" {
		return s
	}
	s = strings.ReplaceAll(s, secret, Redacted)
	if escaped := url.QueryEscape(secret); escaped != secret {
		s = strings.ReplaceAll(s, escaped, Redacted)
	}
	return s
}

// redactedError hides a secret from an error message while keeping the
// chain intact for errors.Is.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// redactError returns err with secret removed from its message.
func redactError(err error, secret string) error {
	if err == nil || secret == "" {
		return err
	}
	msg := err.Error()
	redacted := redactSecret(msg, secret)
	if redacted == msg {
		return err
	}
	return &redactedError{msg: redacted, err: err}
}
